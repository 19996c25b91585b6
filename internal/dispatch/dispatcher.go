// Package dispatch turns object-created notifications into exactly one
// PENDING to PROCESSING transition per job.
package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"videojobs/internal/domain"
	"videojobs/internal/trigger"
	"videojobs/internal/workflow"
)

// Outcome describes how a single object event was resolved.
type Outcome string

const (
	OutcomeStarted    Outcome = "started"
	OutcomeForeign    Outcome = "foreign_key"
	OutcomeUnknownJob Outcome = "unknown_job"
	OutcomeDuplicate  Outcome = "duplicate"
	OutcomeLostRace   Outcome = "lost_race"
	OutcomeIgnored    Outcome = "ignored_event"
)

// Starter hands jobs to the workflow engine. A run slot is reserved before
// the job moves to PROCESSING, so a started job never queues for capacity
// without a heartbeat.
type Starter interface {
	Reserve(ctx context.Context) (workflow.Reservation, error)
}

// Dispatcher consumes the trigger queue.
type Dispatcher struct {
	store        domain.JobStore
	queue        trigger.Queue
	starter      Starter
	logger       zerolog.Logger
	sem          chan struct{}
	wg           sync.WaitGroup
	now          func() time.Time
	ErrorBackoff time.Duration
}

func New(store domain.JobStore, queue trigger.Queue, starter Starter, concurrency int, logger zerolog.Logger) *Dispatcher {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Dispatcher{
		store:        store,
		queue:        queue,
		starter:      starter,
		logger:       logger.With().Str("component", "dispatcher").Logger(),
		sem:          make(chan struct{}, concurrency),
		now:          time.Now,
		ErrorBackoff: time.Second,
	}
}

// Run receives until ctx is done, then waits for in-flight deliveries.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.Info().Int("concurrency", cap(d.sem)).Msg("dispatcher started")
	defer func() {
		d.wg.Wait()
		d.logger.Info().Msg("dispatcher stopped")
	}()

	for {
		if ctx.Err() != nil {
			return nil
		}
		deliveries, err := d.queue.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			d.logger.Error().Err(err).Msg("receive failed")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(d.ErrorBackoff):
			}
			continue
		}

		for _, delivery := range deliveries {
			select {
			case d.sem <- struct{}{}:
			case <-ctx.Done():
				// unsettled deliveries are redelivered by the queue
				return nil
			}
			d.wg.Add(1)
			go func(delivery *trigger.Delivery) {
				defer d.wg.Done()
				defer func() { <-d.sem }()
				// settle even when Run is shutting down
				d.HandleDelivery(context.WithoutCancel(ctx), delivery)
			}(delivery)
		}
	}
}

// HandleDelivery resolves every record in a message and settles it. The
// message is acked once all records resolved and nacked if any hit a
// transient failure; duplicates are harmless on redelivery.
func (d *Dispatcher) HandleDelivery(ctx context.Context, delivery *trigger.Delivery) {
	log := d.logger.With().Str("message_id", delivery.ID).Int("attempt", delivery.Attempts).Logger()

	events, err := trigger.DecodeS3Event(delivery.Body)
	if err != nil {
		log.Error().Err(err).Msg("dropping malformed message")
		d.settle(ctx, log, delivery, true)
		return
	}

	resolved := true
	for _, ev := range events {
		outcome, err := d.HandleObject(ctx, ev)
		evLog := log.With().Str("object_key", ev.Key).Str("bucket", ev.Bucket).Logger()
		if err != nil {
			resolved = false
			evLog.Warn().Err(err).Str("kind", domain.ErrorKind(err)).Msg("dispatch not resolved, will retry")
			continue
		}
		evLog.Info().Str("outcome", string(outcome)).Msg("dispatch resolved")
	}
	d.settle(ctx, log, delivery, resolved)
}

func (d *Dispatcher) settle(ctx context.Context, log zerolog.Logger, delivery *trigger.Delivery, ack bool) {
	var err error
	if ack {
		err = delivery.Ack(ctx)
	} else {
		err = delivery.Nack(ctx)
	}
	if err != nil {
		log.Error().Err(err).Bool("ack", ack).Msg("settle delivery failed")
	}
}

// HandleObject applies the dispatch algorithm to one object event. A nil
// error means the event is resolved and may be acknowledged.
func (d *Dispatcher) HandleObject(ctx context.Context, ev trigger.ObjectEvent) (Outcome, error) {
	if !ev.ObjectCreated() {
		return OutcomeIgnored, nil
	}
	jobID, ok := domain.JobIDFromObjectKey(ev.Key)
	if !ok {
		return OutcomeForeign, nil
	}

	job, err := d.store.Get(ctx, jobID)
	if errors.Is(err, domain.ErrNotFound) {
		return OutcomeUnknownJob, nil
	}
	if err != nil {
		return "", err
	}
	if job.ObjectKey != ev.Key || (job.Bucket != "" && ev.Bucket != "" && job.Bucket != ev.Bucket) {
		return OutcomeForeign, nil
	}
	if job.Status != domain.JobStatusPending {
		return OutcomeDuplicate, nil
	}

	slot, err := d.starter.Reserve(ctx)
	if err != nil {
		return "", err
	}
	started, err := d.store.Update(ctx, job.ID, domain.StartProcessing(d.now()), job.Version)
	switch {
	case errors.Is(err, domain.ErrVersionConflict):
		slot.Release()
		return OutcomeLostRace, nil
	case errors.Is(err, domain.ErrInvalidTransition):
		slot.Release()
		return OutcomeDuplicate, nil
	case err != nil:
		slot.Release()
		return "", err
	}

	if err := slot.Start(started); err != nil {
		// the job stays PROCESSING without a run; the stall sweeper fails it
		d.logger.Error().Err(err).Str("job_id", started.ID).Msg("start workflow failed")
	}
	return OutcomeStarted, nil
}
