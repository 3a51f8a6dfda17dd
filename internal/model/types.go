package model

import (
	"math"
	"strings"
	"time"
)

const (
	UnknownFileLabel = "unknown-file"
	CompletedLabel   = "Completed"
	WaitingLabel     = "Waiting..."
)

// ManifestItem is one remote file entry. RelativePath is already stripped of
// leading slashes when produced by the manifest package.
type ManifestItem struct {
	FileID       string `json:"file_id"`
	RelativePath string `json:"relative_path,omitempty"`
	Name         string `json:"name,omitempty"`
	ContentLink  string `json:"web_content_link"`
	SizeHint     int64  `json:"size_hint"`
	MimeType     string `json:"mime_type,omitempty"`
}

func (it ManifestItem) normalizedPath() string {
	p := it.RelativePath
	if strings.TrimSpace(p) == "" {
		p = it.Name
	}
	return strings.TrimLeft(p, "/")
}

func (it ManifestItem) Label() string {
	if p := it.normalizedPath(); p != "" {
		return p
	}
	if it.Name != "" {
		return it.Name
	}
	return UnknownFileLabel
}

// Split returns the directory part and the file name of the item's
// destination. The file name falls back to Name, then FileID.
func (it ManifestItem) Split() (dir string, file string) {
	parts := make([]string, 0, 4)
	for _, seg := range strings.Split(it.normalizedPath(), "/") {
		if seg != "" {
			parts = append(parts, seg)
		}
	}
	if len(parts) > 0 {
		file = parts[len(parts)-1]
		parts = parts[:len(parts)-1]
	}
	if file == "" {
		file = strings.TrimSpace(it.Name)
	}
	if file == "" {
		file = strings.TrimSpace(it.FileID)
	}
	return strings.Join(parts, "/"), file
}

type ItemFailure struct {
	Index int    `json:"index"`
	Label string `json:"label"`
	Error string `json:"error"`
}

// JobState is the orchestrator's run record for a single job.
type JobState struct {
	ID                 string         `json:"id"`
	FolderID           string         `json:"folder_id"`
	FolderName         string         `json:"folder_name"`
	Destination        string         `json:"destination,omitempty"`
	Status             JobStatus      `json:"status"`
	Items              []ManifestItem `json:"items,omitempty"`
	DoneCount          int            `json:"done_count"`
	FailedCount        int            `json:"failed_count"`
	BytesWritten       int64          `json:"bytes_written"`
	CurrentItemLabel   string         `json:"current_item_label"`
	CurrentItemPercent int            `json:"current_item_percent"`
	ErrorMessage       string         `json:"error_message,omitempty"`
	Failures           []ItemFailure  `json:"failures,omitempty"`
	StartedAt          time.Time      `json:"started_at,omitempty"`
	FinishedAt         time.Time      `json:"finished_at,omitempty"`
}

func NewJobState(id, folderID, folderName string) JobState {
	return JobState{
		ID:               id,
		FolderID:         folderID,
		FolderName:       folderName,
		Status:           StatusIdle,
		CurrentItemLabel: WaitingLabel,
	}
}

func (s JobState) TotalFiles() int {
	return len(s.Items)
}

func (s JobState) OverallPercent() int {
	total := s.TotalFiles()
	if total <= 0 {
		return 0
	}
	return int(math.Round(float64(s.DoneCount) / float64(total) * 100))
}

func (s JobState) Succeeded() int {
	return s.DoneCount - s.FailedCount
}

// Snapshot returns a copy that does not share the Failures backing array.
func (s JobState) Snapshot() JobState {
	out := s
	if len(s.Failures) > 0 {
		out.Failures = append([]ItemFailure(nil), s.Failures...)
	}
	return out
}

type EventKind string

const (
	EventStatus       EventKind = "status"
	EventManifest     EventKind = "manifest"
	EventItemStarted  EventKind = "item_started"
	EventItemProgress EventKind = "item_progress"
	EventItemFinished EventKind = "item_finished"
)

// Event is delivered synchronously by the orchestrator after every state
// change. Index is the item position for item events, -1 otherwise.
type Event struct {
	Kind   EventKind
	Index  int
	State  JobState
	Result *ItemResult
}

// ItemResult is the per-item outcome aggregated by the orchestrator.
type ItemResult struct {
	Index int
	Item  ManifestItem
	Bytes int64
	Err   error
}

func (r ItemResult) OK() bool {
	return r.Err == nil
}
