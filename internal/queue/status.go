package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// JobState is the lifecycle stage of an asynchronous job.
type JobState string

const (
	JobQueued    JobState = "queued"
	JobRunning   JobState = "running"
	JobSucceeded JobState = "succeeded"
	JobFailed    JobState = "failed"
)

// ErrJobNotFound is returned for unknown or expired job ids.
var ErrJobNotFound = errors.New("queue: job not found")

// JobStatus is what clients poll after receiving 202 Accepted.
type JobStatus struct {
	ID        string          `json:"id"`
	Kind      string          `json:"kind"`
	State     JobState        `json:"state"`
	Attempt   int             `json:"attempt,omitempty"`
	Error     string          `json:"error,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// StatusStore keeps job status documents in Redis.
type StatusStore struct {
	R      *redis.Client
	Prefix string
	TTL    time.Duration
}

func (s StatusStore) key(id string) string {
	return keyspace(s.Prefix, "").base + ":job:" + id
}

// Set writes st, stamping UpdatedAt.
func (s StatusStore) Set(ctx context.Context, st JobStatus) error {
	if s.R == nil {
		return errors.New("queue: status redis client not configured")
	}
	st.UpdatedAt = time.Now().UTC()
	raw, err := json.Marshal(st)
	if err != nil {
		return err
	}
	ttl := s.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return s.R.Set(ctx, s.key(st.ID), raw, ttl).Err()
}

// Get loads the status of job id.
func (s StatusStore) Get(ctx context.Context, id string) (JobStatus, error) {
	if s.R == nil {
		return JobStatus{}, errors.New("queue: status redis client not configured")
	}
	raw, err := s.R.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return JobStatus{}, ErrJobNotFound
	}
	if err != nil {
		return JobStatus{}, err
	}
	var st JobStatus
	if err := json.Unmarshal(raw, &st); err != nil {
		return JobStatus{}, err
	}
	return st, nil
}
