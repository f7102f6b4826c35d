// Package queue implements the per-channel job queues: three priority tiers
// with FIFO order inside each tier, a bounded worker pool per channel so no
// channel can starve another, exponential-backoff retries and dead-lettering.
package queue

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/caiodcamargo999/rarityleads-engine/pkg/apperr"
)

// Priority tiers. Lower value wins; within a tier jobs run FIFO.
type Priority int

const (
	PriorityHigh   Priority = 1
	PriorityMedium Priority = 2
	PriorityLow    Priority = 3
)

// ParsePriority maps the API's priority strings; empty defaults to medium.
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "high":
		return PriorityHigh, nil
	case "medium", "":
		return PriorityMedium, nil
	case "low":
		return PriorityLow, nil
	default:
		return 0, apperr.Newf(apperr.KindValidation, "invalid priority %q", s)
	}
}

// State is the job lifecycle state.
type State string

const (
	StateQueued          State = "queued"
	StateRunning         State = "running"
	StateSucceeded       State = "succeeded"
	StateFailedRetryable State = "failed_retryable"
	StateDead            State = "failed_dead"
)

// Job is one unit of queued work. Payload is opaque to the queue; handlers
// registered per Kind decode it.
type Job struct {
	ID          string          `json:"id"`
	Kind        string          `json:"kind"`
	Channel     string          `json:"channel"`
	MessageID   string          `json:"messageId,omitempty"`
	Payload     json.RawMessage `json:"payload"`
	Priority    Priority        `json:"priority"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"maxAttempts"`
	NextRunAt   time.Time       `json:"nextRunAt,omitempty"`
	State       State           `json:"state"`
	EnqueuedAt  time.Time       `json:"enqueuedAt"`
	LastError   string          `json:"lastError,omitempty"`
}

// Handler executes one job attempt. A returned error is classified with
// apperr.Retryable to decide between backoff and dead-letter.
type Handler func(ctx context.Context, job *Job) error

// EventType enumerates queue lifecycle notifications.
type EventType string

const (
	EventQueued    EventType = "queued"
	EventSucceeded EventType = "succeeded"
	EventRetry     EventType = "retry"
	EventDead      EventType = "dead"
)

// JobEvent carries a snapshot of the job at the transition. Exactly one
// EventSucceeded or EventDead is emitted per job.
type JobEvent struct {
	Type EventType
	Job  Job
	Err  error
}

// Listener receives job events; it must be safe for concurrent calls.
type Listener func(JobEvent)

// Options configures one channel queue.
type Options struct {
	Workers     int
	MaxAttempts int
	BaseDelay   time.Duration
	Timeout     time.Duration
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = 3
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = 2 * time.Second
	}
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Second
	}
	return o
}

// ChannelStats is a point-in-time view of one channel queue.
type ChannelStats struct {
	Queued    int    `json:"queued"`
	Running   int    `json:"running"`
	Scheduled int    `json:"scheduled"`
	Succeeded uint64 `json:"succeeded"`
	Dead      uint64 `json:"dead"`
}

type channelQueue struct {
	name string
	opt  Options

	mu        sync.Mutex
	tiers     [3][]*Job
	running   int
	scheduled int

	succeeded atomic.Uint64
	dead      atomic.Uint64

	ready chan struct{}
}

func (cq *channelQueue) push(j *Job) {
	idx := int(j.Priority) - 1
	cq.mu.Lock()
	cq.tiers[idx] = append(cq.tiers[idx], j)
	cq.mu.Unlock()
	select {
	case cq.ready <- struct{}{}:
	default:
	}
}

// pop leases the next job: highest tier first, FIFO within the tier. The
// returned job is owned exclusively by the calling worker. push drops its wake
// token when the buffer is full, so when a backlog remains after the lease a
// token is re-armed here to keep workers draining.
func (cq *channelQueue) pop() *Job {
	cq.mu.Lock()
	var leased *Job
	for i := range cq.tiers {
		if len(cq.tiers[i]) == 0 {
			continue
		}
		leased = cq.tiers[i][0]
		cq.tiers[i] = cq.tiers[i][1:]
		leased.State = StateRunning
		cq.running++
		break
	}
	backlog := len(cq.tiers[0]) + len(cq.tiers[1]) + len(cq.tiers[2])
	cq.mu.Unlock()

	if leased != nil && backlog > 0 {
		select {
		case cq.ready <- struct{}{}:
		default:
		}
	}
	return leased
}

func (cq *channelQueue) remove(jobID string) *Job {
	cq.mu.Lock()
	defer cq.mu.Unlock()
	for i := range cq.tiers {
		for n, j := range cq.tiers[i] {
			if j.ID == jobID {
				cq.tiers[i] = append(cq.tiers[i][:n], cq.tiers[i][n+1:]...)
				return j
			}
		}
	}
	return nil
}

func (cq *channelQueue) stats() ChannelStats {
	cq.mu.Lock()
	queued := len(cq.tiers[0]) + len(cq.tiers[1]) + len(cq.tiers[2])
	running := cq.running
	scheduled := cq.scheduled
	cq.mu.Unlock()
	return ChannelStats{
		Queued:    queued,
		Running:   running,
		Scheduled: scheduled,
		Succeeded: cq.succeeded.Load(),
		Dead:      cq.dead.Load(),
	}
}

// Queue owns all channel queues, the idempotency ledger and the worker pools.
type Queue struct {
	mu       sync.Mutex
	channels map[string]*channelQueue
	inflight map[string]string // messageID -> jobID
	handlers map[string]Handler
	timers   map[string]*time.Timer
	stopped  bool

	listener Listener
	log      zerolog.Logger
	wg       sync.WaitGroup
}

func New(listener Listener, log zerolog.Logger) *Queue {
	if listener == nil {
		listener = func(JobEvent) {}
	}
	return &Queue{
		channels: make(map[string]*channelQueue),
		inflight: make(map[string]string),
		handlers: make(map[string]Handler),
		timers:   make(map[string]*time.Timer),
		listener: listener,
		log:      log.With().Str("component", "queue").Logger(),
	}
}

// Configure registers a channel queue. Must be called before Start.
func (q *Queue) Configure(channel string, opt Options) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.channels[channel] = &channelQueue{
		name:  channel,
		opt:   opt.withDefaults(),
		ready: make(chan struct{}, 1024),
	}
}

// RegisterHandler binds the handler for one job kind.
func (q *Queue) RegisterHandler(kind string, h Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[kind] = h
}

// Channels lists configured channel names.
func (q *Queue) Channels() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]string, 0, len(q.channels))
	for name := range q.channels {
		out = append(out, name)
	}
	return out
}

// ErrDuplicate is returned when a job for the same message id is in flight.
var ErrDuplicate = apperr.New(apperr.KindValidation, "a job for this message id is already in flight")

// validateLocked checks admission for one job without mutating any state.
// batch carries the message ids already claimed earlier in the same call so
// intra-batch duplicates are caught too. Caller holds q.mu.
func (q *Queue) validateLocked(job *Job, batch map[string]bool) (*channelQueue, error) {
	cq, ok := q.channels[job.Channel]
	if !ok {
		return nil, apperr.Newf(apperr.KindValidation, "unknown queue channel %q", job.Channel)
	}
	if q.stopped {
		return nil, apperr.New(apperr.KindInternal, "queue is shut down")
	}
	if job.MessageID != "" {
		if _, dup := q.inflight[job.MessageID]; dup {
			return nil, ErrDuplicate
		}
		if batch != nil && batch[job.MessageID] {
			return nil, ErrDuplicate
		}
	}
	return cq, nil
}

// admitLocked fills defaults and registers the idempotency lease. Caller
// holds q.mu and has already validated the job.
func (q *Queue) admitLocked(cq *channelQueue, job *Job) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.Priority < PriorityHigh || job.Priority > PriorityLow {
		job.Priority = PriorityMedium
	}
	if job.MaxAttempts <= 0 {
		job.MaxAttempts = cq.opt.MaxAttempts
	}
	job.State = StateQueued
	job.EnqueuedAt = time.Now()
	if job.MessageID != "" {
		q.inflight[job.MessageID] = job.ID
	}
}

// Enqueue admits a job. When the job carries a MessageID, at most one job per
// id may be in flight; duplicates are rejected.
func (q *Queue) Enqueue(job *Job) (string, error) {
	q.mu.Lock()
	cq, err := q.validateLocked(job, nil)
	if err != nil {
		q.mu.Unlock()
		return "", err
	}
	q.admitLocked(cq, job)
	q.mu.Unlock()

	cq.push(job)
	q.listener(JobEvent{Type: EventQueued, Job: *job})
	return job.ID, nil
}

// EnqueueAll admits a batch atomically: every job is validated before any is
// admitted, so a rejected batch leaves the queues untouched.
func (q *Queue) EnqueueAll(jobs []*Job) error {
	q.mu.Lock()
	cqs := make([]*channelQueue, len(jobs))
	batch := make(map[string]bool, len(jobs))
	for i, job := range jobs {
		cq, err := q.validateLocked(job, batch)
		if err != nil {
			q.mu.Unlock()
			return err
		}
		if job.MessageID != "" {
			batch[job.MessageID] = true
		}
		cqs[i] = cq
	}
	for i, job := range jobs {
		q.admitLocked(cqs[i], job)
	}
	q.mu.Unlock()

	for i, job := range jobs {
		cqs[i].push(job)
		q.listener(JobEvent{Type: EventQueued, Job: *job})
	}
	return nil
}

// Cancel removes a job that is still queued. Running jobs are not preempted.
func (q *Queue) Cancel(jobID string) bool {
	q.mu.Lock()
	cqs := make([]*channelQueue, 0, len(q.channels))
	for _, cq := range q.channels {
		cqs = append(cqs, cq)
	}
	q.mu.Unlock()

	for _, cq := range cqs {
		if j := cq.remove(jobID); j != nil {
			q.release(j)
			return true
		}
	}
	return false
}

// Stats returns per-channel job counts.
func (q *Queue) Stats() map[string]ChannelStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make(map[string]ChannelStats, len(q.channels))
	for name, cq := range q.channels {
		out[name] = cq.stats()
	}
	return out
}

// release drops the idempotency lease after a terminal transition.
func (q *Queue) release(job *Job) {
	if job.MessageID == "" {
		return
	}
	q.mu.Lock()
	if q.inflight[job.MessageID] == job.ID {
		delete(q.inflight, job.MessageID)
	}
	q.mu.Unlock()
}

// Start launches the worker pools and blocks new retry timers from firing
// after ctx is done.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	cqs := make([]*channelQueue, 0, len(q.channels))
	for _, cq := range q.channels {
		cqs = append(cqs, cq)
	}
	q.mu.Unlock()

	for _, cq := range cqs {
		for i := 0; i < cq.opt.Workers; i++ {
			q.wg.Add(1)
			go func(cq *channelQueue, idx int) {
				defer q.wg.Done()
				q.worker(ctx, cq, idx)
			}(cq, i)
		}
	}

	go func() {
		<-ctx.Done()
		q.shutdown()
	}()
}

func (q *Queue) shutdown() {
	q.mu.Lock()
	q.stopped = true
	for id, t := range q.timers {
		t.Stop()
		delete(q.timers, id)
	}
	q.mu.Unlock()
}

// Wait blocks until all workers have exited.
func (q *Queue) Wait() {
	q.wg.Wait()
}
