package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/caiodcamargo999/rarityleads-engine/pkg/apperr"
)

func (q *Queue) worker(ctx context.Context, cq *channelQueue, idx int) {
	for {
		// Fast-exit check so cancellation wins over queued work.
		select {
		case <-ctx.Done():
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-cq.ready:
			job := cq.pop()
			if job == nil {
				// Raced with another worker for the wake-up token.
				continue
			}
			q.execOne(ctx, cq, job)
		}
	}
}

func (q *Queue) execOne(ctx context.Context, cq *channelQueue, job *Job) {
	defer func() {
		cq.mu.Lock()
		cq.running--
		cq.mu.Unlock()
	}()

	q.mu.Lock()
	handler, ok := q.handlers[job.Kind]
	q.mu.Unlock()
	if !ok {
		q.dead(cq, job, apperr.Newf(apperr.KindInternal, "no handler for job kind %q", job.Kind))
		return
	}

	start := time.Now()
	hctx, cancel := context.WithTimeout(ctx, cq.opt.Timeout)
	err := runAttempt(hctx, handler, job)
	cancel()

	if err == nil {
		job.State = StateSucceeded
		cq.succeeded.Add(1)
		q.release(job)
		q.log.Debug().Str("job", job.ID).Str("channel", cq.name).
			Dur("took", time.Since(start)).Int("attempts", job.Attempts+1).Msg("job succeeded")
		q.listener(JobEvent{Type: EventSucceeded, Job: *job})
		return
	}

	job.Attempts++
	job.LastError = err.Error()

	if !apperr.Retryable(err) || job.Attempts >= job.MaxAttempts {
		q.dead(cq, job, err)
		return
	}

	// delay = base * 2^attempts, so the first retry of a base-2s queue waits 4s.
	delay := cq.opt.BaseDelay << uint(job.Attempts)
	job.State = StateFailedRetryable
	job.NextRunAt = time.Now().Add(delay)
	q.log.Warn().Str("job", job.ID).Str("channel", cq.name).Err(err).
		Int("attempt", job.Attempts).Dur("backoff", delay).Msg("job failed, scheduling retry")
	q.listener(JobEvent{Type: EventRetry, Job: *job, Err: err})
	q.scheduleRetry(cq, job, delay)
}

// runAttempt shields the worker loop from handler panics; a panic is treated
// as an upstream failure for that attempt.
func runAttempt(ctx context.Context, handler Handler, job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = apperr.Newf(apperr.KindUpstream, "handler panic: %v", r)
		}
	}()
	if err := handler(ctx, job); err != nil {
		if ctx.Err() != nil {
			return apperr.Wrap(apperr.KindUpstream, "attempt timed out", err)
		}
		return err
	}
	return nil
}

func (q *Queue) dead(cq *channelQueue, job *Job, err error) {
	job.State = StateDead
	job.LastError = err.Error()
	cq.dead.Add(1)
	q.release(job)
	q.log.Error().Str("job", job.ID).Str("channel", cq.name).Err(err).
		Int("attempts", job.Attempts).Msg("job dead-lettered")
	q.listener(JobEvent{Type: EventDead, Job: *job, Err: err})
}

func (q *Queue) scheduleRetry(cq *channelQueue, job *Job, delay time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped {
		return
	}
	cq.mu.Lock()
	cq.scheduled++
	cq.mu.Unlock()

	id := fmt.Sprintf("%s#%d", job.ID, job.Attempts)
	q.timers[id] = time.AfterFunc(delay, func() {
		q.mu.Lock()
		delete(q.timers, id)
		stopped := q.stopped
		q.mu.Unlock()

		cq.mu.Lock()
		cq.scheduled--
		cq.mu.Unlock()

		if stopped {
			return
		}
		job.State = StateQueued
		cq.push(job)
	})
}
