package model

import "fmt"

type JobStatus string

const (
	StatusIdle      JobStatus = "idle"
	StatusRunning   JobStatus = "running"
	StatusDone      JobStatus = "done"
	StatusError     JobStatus = "error"
	StatusCancelled JobStatus = "cancelled"
)

var allowedTransitions = map[JobStatus]map[JobStatus]bool{
	StatusIdle: {
		StatusRunning: true,
		StatusError:   true, // precondition failure before any side effect
	},
	StatusRunning: {
		StatusIdle:      true, // storage capability declined
		StatusDone:      true,
		StatusError:     true,
		StatusCancelled: true,
	},
	StatusDone:      {},
	StatusError:     {},
	StatusCancelled: {},
}

func (s JobStatus) String() string {
	return string(s)
}

func (s JobStatus) IsTerminal() bool {
	return s == StatusDone || s == StatusError || s == StatusCancelled
}

func IsKnownStatus(status JobStatus) bool {
	_, ok := allowedTransitions[status]
	return ok
}

func CanTransition(from, to JobStatus) bool {
	next, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	return next[to]
}

// TransitionJob moves the job to toStatus. errorMessage is kept only for the
// error state and cleared otherwise.
func TransitionJob(job *JobState, toStatus JobStatus, errorMessage string) error {
	from := job.Status
	if from == "" {
		from = StatusIdle
	}
	if !CanTransition(from, toStatus) {
		return fmt.Errorf("invalid job status transition: %q -> %q (job_id=%s folder_id=%s)", from, toStatus, job.ID, job.FolderID)
	}
	job.Status = toStatus
	if toStatus == StatusError {
		job.ErrorMessage = errorMessage
	} else {
		job.ErrorMessage = ""
	}
	return nil
}
