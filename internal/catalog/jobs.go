package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/noah-isme/esim-admin/internal/cache"
	"github.com/noah-isme/esim-admin/internal/common"
	"github.com/noah-isme/esim-admin/internal/obs"
	"github.com/noah-isme/esim-admin/internal/queue"
)

type jobPayload struct {
	JobID   string      `json:"jobId"`
	Actor   string      `json:"actor,omitempty"`
	Request BulkRequest `json:"request"`
}

// Submit queues a bulk apply and returns its initial status. The request is
// validated up front so the job only fails on upstream errors.
func (s *Service) Submit(ctx context.Context, req BulkRequest) (queue.JobStatus, error) {
	if err := req.adjustment().Validate(); err != nil {
		return queue.JobStatus{}, invalidAdjustment(err)
	}
	if s.queue == nil || s.jobs == nil {
		return queue.JobStatus{}, errors.New("catalog: job queue not configured")
	}
	payload := jobPayload{JobID: s.newID(), Request: req}
	payload.Actor, _ = common.UserID(ctx)
	raw, err := json.Marshal(payload)
	if err != nil {
		return queue.JobStatus{}, fmt.Errorf("catalog: encode job: %w", err)
	}

	st := queue.JobStatus{ID: payload.JobID, Kind: queue.KindBulkPriceApply, State: queue.JobQueued}
	if err := s.jobs.Set(ctx, st); err != nil {
		return queue.JobStatus{}, fmt.Errorf("catalog: store job status: %w", err)
	}
	if err := s.queue.Enqueue(ctx, queue.Task{Kind: queue.KindBulkPriceApply, Payload: raw, IdempotencyKey: payload.JobID}); err != nil {
		return queue.JobStatus{}, fmt.Errorf("catalog: enqueue job: %w", err)
	}
	s.logger.Info().Str("job_id", payload.JobID).Str("actor", payload.Actor).Msg("bulk_price_job_queued")
	return st, nil
}

// Job returns the status of a queued bulk apply.
func (s *Service) Job(ctx context.Context, id string) (queue.JobStatus, error) {
	if s.jobs == nil {
		return queue.JobStatus{}, common.NotFound("job not found", nil)
	}
	st, err := s.jobs.Get(ctx, id)
	if errors.Is(err, queue.ErrJobNotFound) {
		return queue.JobStatus{}, common.NotFound("job not found", err)
	}
	return st, err
}

var (
	errJobSettled     = errors.New("catalog: job already settled")
	errJobInterrupted = errors.New("catalog: earlier delivery stopped mid-apply")
)

// RunJob is the queue handler for queue.KindBulkPriceApply. It waits for
// the bulk price lock and, holding it, checks the job status first: a
// settled job is acknowledged without writing, and a job left running by
// an earlier delivery is failed rather than applied twice. Client errors
// fail the job for good; upstream outages are returned so the queue
// retries them.
func (s *Service) RunJob(ctx context.Context, task queue.Task) error {
	var p jobPayload
	if err := json.Unmarshal(task.Payload, &p); err != nil {
		s.logger.Error().Err(err).Msg("bulk_price_job_malformed")
		return nil
	}
	if p.Actor != "" {
		ctx = common.WithUserID(ctx, p.Actor)
	}
	st := queue.JobStatus{ID: p.JobID, Kind: task.Kind, Attempt: task.Attempt}
	if err := p.Request.adjustment().Validate(); err != nil {
		obs.CountBulkPrice("async", "invalid", 0, 0)
		return s.settle(ctx, st, task, ApplyResult{}, invalidAdjustment(err))
	}
	if s.locker == nil {
		return errors.New("catalog: locker not configured")
	}

	ran := false
	err := s.locker.WithLock(ctx, cache.KeyBulkPriceLock(), s.lockTTL, func(ctx context.Context) error {
		prev, err := s.jobState(ctx, p.JobID)
		switch {
		case err != nil:
			return err
		case prev == queue.JobSucceeded || prev == queue.JobFailed:
			return errJobSettled
		case prev == queue.JobRunning:
			st.State, st.Error = queue.JobFailed, "interrupted while applying; prices may be partly updated, review before resubmitting"
			s.setStatus(ctx, st)
			return errJobInterrupted
		}
		st.State = queue.JobRunning
		s.setStatus(ctx, st)
		ran = true
		res, err := s.applyLocked(ctx, p.Request, "async")
		return s.settle(ctx, st, task, res, err)
	})
	switch {
	case errors.Is(err, errJobSettled), errors.Is(err, errJobInterrupted):
		s.logger.Warn().Str("job_id", p.JobID).Int("attempt", task.Attempt).Err(err).Msg("bulk_price_job_skipped")
		return nil
	case ran || err == nil:
		return err
	}
	// lock wait or status read failed before anything was written
	return s.settle(ctx, st, task, ApplyResult{}, err)
}

// settle records the outcome of one delivery and returns the error the
// queue should see.
func (s *Service) settle(ctx context.Context, st queue.JobStatus, task queue.Task, res ApplyResult, err error) error {
	if err == nil {
		st.State, st.Error = queue.JobSucceeded, ""
		st.Result, _ = json.Marshal(res)
		s.setStatus(ctx, st)
		return nil
	}
	var appErr *common.AppError
	permanent := errors.As(err, &appErr) && appErr.HTTPStatus >= 400 && appErr.HTTPStatus < 500 && appErr.HTTPStatus != http.StatusConflict
	st.State, st.Error = queue.JobQueued, err.Error()
	if permanent || (task.MaxAttempts > 0 && task.Attempt >= task.MaxAttempts) {
		st.State = queue.JobFailed
	}
	s.setStatus(ctx, st)
	if permanent {
		return nil
	}
	return err
}

func (s *Service) jobState(ctx context.Context, id string) (queue.JobState, error) {
	if s.jobs == nil || id == "" {
		return "", nil
	}
	st, err := s.jobs.Get(ctx, id)
	if errors.Is(err, queue.ErrJobNotFound) {
		return "", nil
	}
	return st.State, err
}

func (s *Service) setStatus(ctx context.Context, st queue.JobStatus) {
	if s.jobs == nil || st.ID == "" {
		return
	}
	if err := s.jobs.Set(context.WithoutCancel(ctx), st); err != nil {
		s.logger.Warn().Err(err).Str("job_id", st.ID).Msg("bulk_price_job_status_failed")
	}
}
