// Package orchestrator ties the engine together: it validates API requests,
// feeds the job queues, executes send and enrichment jobs, mirrors job status
// into the datastore and fans lifecycle events out to subscribers.
package orchestrator

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/caiodcamargo999/rarityleads-engine/pkg/apperr"
	"github.com/caiodcamargo999/rarityleads-engine/pkg/bus"
	"github.com/caiodcamargo999/rarityleads-engine/pkg/channels"
	"github.com/caiodcamargo999/rarityleads-engine/pkg/config"
	"github.com/caiodcamargo999/rarityleads-engine/pkg/enrich"
	"github.com/caiodcamargo999/rarityleads-engine/pkg/queue"
	"github.com/caiodcamargo999/rarityleads-engine/pkg/store"
)

const (
	// KindMessage and KindEnrichment are the two job kinds the engine runs.
	KindMessage    = "message"
	KindEnrichment = "enrichment"

	// enrichChannel is the queue lane enrichment jobs share.
	enrichChannel = "enrichment"

	maxBulk = 100
)

// Notifier fans events out to WebSocket subscribers and the external relay.
type Notifier interface {
	Broadcast(event string, data any)
}

// JobStore is the slice of the datastore the orchestrator writes through.
// A nil JobStore disables persistence.
type JobStore interface {
	RecordJob(ctx context.Context, r store.JobRecord) error
	SaveInbound(ctx context.Context, channel, from, content, sessionID string, receivedAt time.Time) error
	DeadLetters(ctx context.Context, limit int) ([]store.JobRecord, error)
	Ping(ctx context.Context) error
}

// SendRequest is one outbound message as accepted by the API.
type SendRequest struct {
	Channel   string `json:"channel"`
	Recipient string `json:"recipient"`
	Content   string `json:"content"`
	Type      string `json:"type,omitempty"`
	Priority  string `json:"priority,omitempty"`
	MessageID string `json:"messageId,omitempty"`
}

type messagePayload struct {
	Recipient string `json:"recipient"`
	Content   string `json:"content"`
	Type      string `json:"type,omitempty"`
}

type Orchestrator struct {
	queue    *queue.Queue
	channels *channels.Manager
	enricher *enrich.Aggregator
	store    JobStore
	notifier Notifier
	inbound  *bus.InboundBus
	log      zerolog.Logger
}

// New wires the orchestrator around a fresh queue: one lane per registered
// channel adapter plus the shared enrichment lane.
func New(cfg *config.Config, ch *channels.Manager, enricher *enrich.Aggregator, st JobStore, notifier Notifier, inbound *bus.InboundBus, log zerolog.Logger) *Orchestrator {
	o := &Orchestrator{
		channels: ch,
		enricher: enricher,
		store:    st,
		notifier: notifier,
		inbound:  inbound,
		log:      log.With().Str("component", "orchestrator").Logger(),
	}
	o.queue = queue.New(o.onJobEvent, log)

	for _, name := range ch.Names() {
		o.queue.Configure(name, queue.Options{
			Workers:     cfg.Queue.Workers,
			MaxAttempts: cfg.Queue.MaxAttempts,
			BaseDelay:   cfg.Queue.BaseDelay,
			Timeout:     cfg.Queue.SendTimeout,
		})
	}
	o.queue.Configure(enrichChannel, queue.Options{
		Workers:     cfg.Queue.EnrichWorkers,
		MaxAttempts: cfg.Queue.EnrichAttempts,
		BaseDelay:   cfg.Queue.EnrichDelay,
		Timeout:     cfg.Queue.EnrichTimeout,
	})

	o.queue.RegisterHandler(KindMessage, o.handleMessage)
	o.queue.RegisterHandler(KindEnrichment, o.handleEnrichment)
	return o
}

// Run starts the worker pools and the inbound consumer; both stop with ctx.
func (o *Orchestrator) Run(ctx context.Context) {
	o.queue.Start(ctx)
	go o.consumeInbound(ctx)
}

// Wait blocks until the queue workers have drained after shutdown.
func (o *Orchestrator) Wait() { o.queue.Wait() }

// Submit validates and enqueues a single outbound message.
func (o *Orchestrator) Submit(req SendRequest) (*queue.Job, error) {
	job, err := o.buildJob(req)
	if err != nil {
		return nil, err
	}
	if _, err := o.queue.Enqueue(job); err != nil {
		return nil, err
	}
	return job, nil
}

// SubmitBulk enqueues up to maxBulk messages. The whole batch is validated
// before anything is admitted, so a bad entry rejects the batch untouched.
func (o *Orchestrator) SubmitBulk(reqs []SendRequest) ([]*queue.Job, error) {
	if len(reqs) == 0 {
		return nil, apperr.New(apperr.KindValidation, "empty batch")
	}
	if len(reqs) > maxBulk {
		return nil, apperr.Newf(apperr.KindValidation, "batch of %d exceeds the limit of %d messages", len(reqs), maxBulk)
	}

	jobs := make([]*queue.Job, len(reqs))
	seen := make(map[string]int, len(reqs))
	for i, req := range reqs {
		job, err := o.buildJob(req)
		if err != nil {
			return nil, apperr.Newf(apperr.KindValidation, "message %d: %s", i, err.Error())
		}
		if prev, dup := seen[job.MessageID]; dup {
			return nil, apperr.Newf(apperr.KindValidation, "message %d duplicates message %d", i, prev)
		}
		seen[job.MessageID] = i
		jobs[i] = job
	}

	if err := o.queue.EnqueueAll(jobs); err != nil {
		return nil, err
	}
	return jobs, nil
}

// EnrichLead queues an enrichment job for one lead.
func (o *Orchestrator) EnrichLead(req enrich.Request, priority string) (*queue.Job, error) {
	job, err := o.buildEnrichJob(req, priority)
	if err != nil {
		return nil, err
	}
	if _, err := o.queue.Enqueue(job); err != nil {
		return nil, err
	}
	return job, nil
}

// EnrichBatch queues up to maxBulk enrichment jobs, all-or-nothing.
func (o *Orchestrator) EnrichBatch(reqs []enrich.Request, priority string) ([]*queue.Job, error) {
	if len(reqs) == 0 {
		return nil, apperr.New(apperr.KindValidation, "empty batch")
	}
	if len(reqs) > maxBulk {
		return nil, apperr.Newf(apperr.KindValidation, "batch of %d exceeds the limit of %d leads", len(reqs), maxBulk)
	}

	jobs := make([]*queue.Job, len(reqs))
	for i, req := range reqs {
		job, err := o.buildEnrichJob(req, priority)
		if err != nil {
			return nil, apperr.Newf(apperr.KindValidation, "lead %d: %s", i, err.Error())
		}
		jobs[i] = job
	}
	if err := o.queue.EnqueueAll(jobs); err != nil {
		return nil, err
	}
	return jobs, nil
}

// DeadLetters lists exhausted jobs from the archive, newest first.
func (o *Orchestrator) DeadLetters(ctx context.Context, limit int) ([]store.JobRecord, error) {
	if o.store == nil {
		return []store.JobRecord{}, nil
	}
	return o.store.DeadLetters(ctx, limit)
}

// CancelJob removes a queued job; running jobs are not preempted.
func (o *Orchestrator) CancelJob(jobID string) bool {
	return o.queue.Cancel(jobID)
}

// QueueStatus reports per-channel queue depth and counters.
func (o *Orchestrator) QueueStatus() map[string]queue.ChannelStats {
	return o.queue.Stats()
}

// HealthReport is the /health payload.
type HealthReport struct {
	Status   string                        `json:"status"`
	Channels map[string]bool               `json:"channels"`
	Queues   map[string]queue.ChannelStats `json:"queues"`
}

// Health reports degraded when no channel adapter is connected or the
// datastore stops answering; otherwise healthy.
func (o *Orchestrator) Health(ctx context.Context) HealthReport {
	chs := o.channels.Health()
	status := "healthy"

	anyUp := false
	for _, up := range chs {
		if up {
			anyUp = true
			break
		}
	}
	if !anyUp {
		status = "degraded"
	}
	if o.store != nil {
		pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := o.store.Ping(pctx); err != nil {
			status = "degraded"
		}
		cancel()
	}

	return HealthReport{
		Status:   status,
		Channels: chs,
		Queues:   o.queue.Stats(),
	}
}

func (o *Orchestrator) buildJob(req SendRequest) (*queue.Job, error) {
	if _, err := o.channels.Get(req.Channel); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Recipient) == "" {
		return nil, apperr.New(apperr.KindValidation, "recipient is required")
	}
	if req.Content == "" {
		return nil, apperr.New(apperr.KindValidation, "content is required")
	}
	prio, err := queue.ParsePriority(req.Priority)
	if err != nil {
		return nil, err
	}
	if req.MessageID == "" {
		req.MessageID = uuid.NewString()
	}

	payload, err := json.Marshal(messagePayload{
		Recipient: req.Recipient,
		Content:   req.Content,
		Type:      req.Type,
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "encode payload", err)
	}
	return &queue.Job{
		Kind:      KindMessage,
		Channel:   req.Channel,
		MessageID: req.MessageID,
		Payload:   payload,
		Priority:  prio,
	}, nil
}

func (o *Orchestrator) buildEnrichJob(req enrich.Request, priority string) (*queue.Job, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	prio, err := queue.ParsePriority(priority)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "encode payload", err)
	}
	return &queue.Job{
		Kind:      KindEnrichment,
		Channel:   enrichChannel,
		MessageID: "enrich:" + req.CacheKey(),
		Payload:   payload,
		Priority:  prio,
	}, nil
}

func (o *Orchestrator) handleMessage(ctx context.Context, job *queue.Job) error {
	var p messagePayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return apperr.Wrap(apperr.KindValidation, "decode payload", err)
	}
	adapter, err := o.channels.Get(job.Channel)
	if err != nil {
		return err
	}
	receipt, err := adapter.Send(ctx, bus.OutboundMessage{
		Channel:   job.Channel,
		Recipient: p.Recipient,
		Content:   p.Content,
		Type:      p.Type,
	})
	if err != nil {
		return err
	}
	o.log.Debug().
		Str("job_id", job.ID).
		Str("channel", job.Channel).
		Str("provider_id", receipt.ProviderID).
		Msg("message delivered")
	return nil
}

func (o *Orchestrator) handleEnrichment(ctx context.Context, job *queue.Job) error {
	var req enrich.Request
	if err := json.Unmarshal(job.Payload, &req); err != nil {
		return apperr.Wrap(apperr.KindValidation, "decode payload", err)
	}
	res, err := o.enricher.Enrich(ctx, req)
	if err != nil {
		return err
	}
	o.log.Debug().
		Str("job_id", job.ID).
		Str("lead", req.CacheKey()).
		Int("ai_score", res.AIScore).
		Msg("lead enriched")
	return nil
}

// onJobEvent mirrors every queue transition into the datastore and pushes the
// public lifecycle events. Exactly one terminal event goes out per job.
func (o *Orchestrator) onJobEvent(ev queue.JobEvent) {
	o.persistJob(ev.Job)

	data := map[string]any{
		"jobId":     ev.Job.ID,
		"messageId": ev.Job.MessageID,
		"channel":   ev.Job.Channel,
		"priority":  ev.Job.Priority,
		"attempts":  ev.Job.Attempts,
		"state":     ev.Job.State,
	}
	if ev.Job.LastError != "" {
		data["error"] = ev.Job.LastError
	}

	enrichment := ev.Job.Kind == KindEnrichment

	switch ev.Type {
	case queue.EventQueued:
		if enrichment {
			o.notifier.Broadcast("enrichment_queued", data)
		} else {
			o.notifier.Broadcast("message_queued", data)
		}
	case queue.EventSucceeded:
		if enrichment {
			o.notifier.Broadcast("enrichment_completed", data)
		} else {
			o.notifier.Broadcast("message_sent", data)
		}
	case queue.EventDead:
		if enrichment {
			o.notifier.Broadcast("enrichment_failed", data)
		} else {
			o.notifier.Broadcast("message_failed", data)
		}
	case queue.EventRetry:
		o.log.Info().
			Str("job_id", ev.Job.ID).
			Str("channel", ev.Job.Channel).
			Int("attempts", ev.Job.Attempts).
			Str("error", ev.Job.LastError).
			Time("next_run_at", ev.Job.NextRunAt).
			Msg("job scheduled for retry")
	}
}

func (o *Orchestrator) persistJob(j queue.Job) {
	if o.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := o.store.RecordJob(ctx, store.JobRecord{
		JobID:     j.ID,
		MessageID: j.MessageID,
		Kind:      j.Kind,
		Channel:   j.Channel,
		State:     string(j.State),
		Attempts:  j.Attempts,
		LastError: j.LastError,
	})
	if err != nil {
		o.log.Error().Err(err).Str("job_id", j.ID).Msg("persist job status")
	}
}

// consumeInbound drains the adapter bus: every received message is logged to
// the datastore and pushed to subscribers.
func (o *Orchestrator) consumeInbound(ctx context.Context) {
	for {
		env, ok := o.inbound.ConsumeInbound(ctx)
		if !ok {
			return
		}
		if o.store != nil {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := o.store.SaveInbound(sctx, env.Channel, env.From, env.Content, env.SessionID, env.Timestamp); err != nil {
				o.log.Error().Err(err).Str("channel", env.Channel).Msg("persist inbound message")
			}
			cancel()
		}
		o.notifier.Broadcast("message_received", env)
	}
}
