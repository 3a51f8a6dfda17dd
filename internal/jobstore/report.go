package jobstore

import (
	"fmt"
	"strings"
	"time"

	"folderpull/internal/model"
)

const reportSchemaVersion = 1

// Report is a read-only summary of a finished job. It is never read back to
// resume a job.
type Report struct {
	SchemaVersion  int            `json:"schema_version"`
	GeneratedAt    string         `json:"generated_at"`
	TotalFiles     int            `json:"total_files"`
	Succeeded      int            `json:"succeeded"`
	OverallPercent int            `json:"overall_percent"`
	Job            model.JobState `json:"job"`
}

func NewReport(state model.JobState) Report {
	return Report{
		SchemaVersion:  reportSchemaVersion,
		GeneratedAt:    time.Now().UTC().Format(time.RFC3339),
		TotalFiles:     state.TotalFiles(),
		Succeeded:      state.Succeeded(),
		OverallPercent: state.OverallPercent(),
		Job:            state.Snapshot(),
	}
}

func SaveReport(path string, state model.JobState) (Report, error) {
	if strings.TrimSpace(path) == "" {
		return Report{}, fmt.Errorf("report path is required")
	}
	rep := NewReport(state)
	if err := WriteJSON(path, rep); err != nil {
		return Report{}, err
	}
	return rep, nil
}

func LoadReport(path string) (Report, error) {
	var rep Report
	if err := ReadJSON(path, &rep); err != nil {
		return Report{}, err
	}
	if rep.SchemaVersion != reportSchemaVersion {
		return Report{}, fmt.Errorf("unsupported report schema version %d in %s", rep.SchemaVersion, path)
	}
	return rep, nil
}
