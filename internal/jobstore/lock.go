package jobstore

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	LockDirName   = ".folderpull.lock"
	lockOwnerFile = "owner.json"
)

// DestLock marks a destination directory as owned by one running job.
type DestLock struct {
	lockDir string
}

type lockOwner struct {
	PID       int    `json:"pid"`
	JobID     string `json:"job_id,omitempty"`
	CreatedAt string `json:"created_at"`
	Hostname  string `json:"hostname,omitempty"`
}

func AcquireLock(destDir string, jobID string) (DestLock, error) {
	target := strings.TrimSpace(destDir)
	if target == "" {
		return DestLock{}, fmt.Errorf("destination directory is required")
	}

	lockDir := filepath.Join(target, LockDirName)
	if err := os.Mkdir(lockDir, 0o755); err != nil {
		if os.IsExist(err) {
			ownerPath := filepath.Join(lockDir, lockOwnerFile)
			var owner lockOwner
			if readErr := ReadJSON(ownerPath, &owner); readErr == nil && owner.PID > 0 && owner.CreatedAt != "" {
				return DestLock{}, fmt.Errorf(
					"destination is locked by another job: %s (pid=%d job_id=%s created_at=%s host=%s)",
					target, owner.PID, owner.JobID, owner.CreatedAt, owner.Hostname,
				)
			}
			return DestLock{}, fmt.Errorf("destination is locked by another job: %s", target)
		}
		return DestLock{}, fmt.Errorf("acquire destination lock for %s: %w", target, err)
	}

	owner := lockOwner{
		PID:       os.Getpid(),
		JobID:     jobID,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
		Hostname:  hostnameOrUnknown(),
	}
	ownerPath := filepath.Join(lockDir, lockOwnerFile)
	if err := WriteJSON(ownerPath, owner); err != nil {
		_ = os.RemoveAll(lockDir)
		return DestLock{}, fmt.Errorf("write lock owner for %s: %w", target, err)
	}

	return DestLock{lockDir: lockDir}, nil
}

func (l DestLock) Release() error {
	if strings.TrimSpace(l.lockDir) == "" {
		return nil
	}
	_ = os.Remove(filepath.Join(l.lockDir, lockOwnerFile))
	if err := os.Remove(l.lockDir); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("release destination lock %s: %w", l.lockDir, err)
	}
	return nil
}

func hostnameOrUnknown() string {
	host, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	host = strings.TrimSpace(host)
	if host == "" {
		return "unknown"
	}
	return host
}
