package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// DefaultStatusTTL keeps finished job records around long enough for clients
// to poll them, without accumulating state forever.
const DefaultStatusTTL = 24 * time.Hour

// StatusStore records job status and progress keyed by job id.
// Writes are last-writer-wins; the runner is the only writer for a given job.
type StatusStore interface {
	Save(ctx context.Context, job *Job) error
	Get(ctx context.Context, jobID string) (*Job, bool, error)
}

// statusKV is the slice of the shared-store contract the status store needs.
// Satisfied by *ratelimit.RedisStore.
type statusKV interface {
	SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error
	Get(ctx context.Context, key string) (value string, ok bool, err error)
}

// KVStatusStore keeps job records in the shared key/value store under the
// jobstatus: namespace, so status queries work on any replica and survive
// restarts.
type KVStatusStore struct {
	kv  statusKV
	ttl time.Duration
}

var _ StatusStore = (*KVStatusStore)(nil)

// NewKVStatusStore creates a StatusStore on top of the shared store.
// A non-positive ttl falls back to DefaultStatusTTL.
func NewKVStatusStore(kv statusKV, ttl time.Duration) *KVStatusStore {
	if ttl <= 0 {
		ttl = DefaultStatusTTL
	}
	return &KVStatusStore{kv: kv, ttl: ttl}
}

func statusKey(jobID string) string {
	return "jobstatus:" + jobID
}

// Save implements StatusStore.
func (s *KVStatusStore) Save(ctx context.Context, job *Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job %q: %w", job.ID, err)
	}
	if err := s.kv.SetWithTTL(ctx, statusKey(job.ID), string(data), s.ttl); err != nil {
		return fmt.Errorf("save job %q: %w", job.ID, err)
	}
	return nil
}

// Get implements StatusStore.
func (s *KVStatusStore) Get(ctx context.Context, jobID string) (*Job, bool, error) {
	data, ok, err := s.kv.Get(ctx, statusKey(jobID))
	if err != nil {
		return nil, false, fmt.Errorf("load job %q: %w", jobID, err)
	}
	if !ok {
		return nil, false, nil
	}
	var job Job
	if err := json.Unmarshal([]byte(data), &job); err != nil {
		return nil, false, fmt.Errorf("unmarshal job %q: %w", jobID, err)
	}
	return &job, true, nil
}
