package jobs

import (
	"time"

	"github.com/ishan/user-service/internal/ratelimit"
)

// Status is the lifecycle state of an import job.
type Status string

// Job statuses. COMPLETED and FAILED are terminal.
const (
	StatusPending    Status = "PENDING"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

// Job describes one admitted import job. Created by Submit, mutated only by
// the runner that owns it.
type Job struct {
	ID             string         `json:"jobId"`
	UserID         string         `json:"userId"`
	Tier           ratelimit.Tier `json:"tier"`
	RequestedCount int            `json:"requestedCount"`
	ProcessedCount int            `json:"processedCount"`
	Status         Status         `json:"status"`
	StartedAt      time.Time      `json:"startedAt"`
	FinishedAt     time.Time      `json:"finishedAt,omitempty"`
	Message        string         `json:"message,omitempty"`
}

// Progress returns the job's completion percentage, clamped to [0, 100].
func (j *Job) Progress() int {
	if j.Status == StatusCompleted {
		return 100
	}
	if j.RequestedCount <= 0 {
		return 0
	}
	p := j.ProcessedCount * 100 / j.RequestedCount
	if p > 100 {
		p = 100
	}
	return p
}
