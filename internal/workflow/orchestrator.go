package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"videojobs/internal/domain"
)

// Error codes recorded on failed jobs besides domain.KindStepFailure.
const (
	CodeStepTimeout = "step_timeout"
	CodeStalled     = "stalled"
)

var (
	// ErrClosed is returned by Start after Shutdown began.
	ErrClosed = errors.New("workflow: orchestrator closed")

	errSuperseded = errors.New("workflow: job left PROCESSING under this run")
)

// ExecutionName labels one orchestrator run in logs.
func ExecutionName(jobID string) string {
	return "video-processing-" + jobID
}

// Options tunes an Orchestrator.
type Options struct {
	Concurrency       int
	HeartbeatInterval time.Duration
	// ConflictRetries bounds re-read-and-retry of a progress write that hit a
	// version conflict. Only this run writes a PROCESSING job, so exhausting
	// it is fatal.
	ConflictRetries int
	// CommitBackoff spaces retries of store writes that failed transiently.
	CommitBackoff time.Duration
}

// Orchestrator runs the step pipeline for jobs in PROCESSING. Runs for
// different jobs proceed in parallel up to Options.Concurrency.
type Orchestrator struct {
	store  domain.JobStore
	steps  []Step
	opts   Options
	logger zerolog.Logger
	now    func() time.Time

	sem     chan struct{}
	mu      sync.Mutex
	closed  bool
	wg      sync.WaitGroup
	baseCtx context.Context
	cancel  context.CancelFunc
}

func NewOrchestrator(store domain.JobStore, steps []Step, opts Options, logger zerolog.Logger) (*Orchestrator, error) {
	if err := ValidateSteps(steps); err != nil {
		return nil, err
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.HeartbeatInterval == 0 {
		opts.HeartbeatInterval = 30 * time.Second
	}
	if opts.ConflictRetries <= 0 {
		opts.ConflictRetries = 3
	}
	if opts.CommitBackoff <= 0 {
		opts.CommitBackoff = 200 * time.Millisecond
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		store:   store,
		steps:   append([]Step(nil), steps...),
		opts:    opts,
		logger:  logger.With().Str("component", "workflow").Logger(),
		now:     time.Now,
		sem:     make(chan struct{}, opts.Concurrency),
		baseCtx: ctx,
		cancel:  cancel,
	}, nil
}

// Reservation is a claimed run slot. The first call to Start or Release
// settles it; later calls do nothing.
type Reservation interface {
	Start(job *domain.Job) error
	Release()
}

type reservation struct {
	o    *Orchestrator
	once sync.Once
}

var errReservationSettled = errors.New("workflow: reservation already settled")

// Reserve blocks until a run slot is free and claims it. Shutdown waits for
// outstanding reservations as well as active runs.
func (o *Orchestrator) Reserve(ctx context.Context) (Reservation, error) {
	select {
	case o.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-o.baseCtx.Done():
		return nil, ErrClosed
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		<-o.sem
		return nil, ErrClosed
	}
	o.wg.Add(1)
	return &reservation{o: o}, nil
}

// Start runs the pipeline for job in the background on the reserved slot.
func (r *reservation) Start(job *domain.Job) error {
	err := errReservationSettled
	r.once.Do(func() {
		err = nil
		go func() {
			defer r.o.wg.Done()
			defer func() { <-r.o.sem }()
			if _, err := r.o.Run(r.o.baseCtx, job); err != nil {
				r.o.logger.Error().Err(err).Str("job_id", job.ID).Msg("workflow run ended with error")
			}
		}()
	})
	return err
}

func (r *reservation) Release() {
	r.once.Do(func() {
		<-r.o.sem
		r.o.wg.Done()
	})
}

// Start runs the pipeline for job in the background. It blocks while all
// run slots are busy.
func (o *Orchestrator) Start(ctx context.Context, job *domain.Job) error {
	r, err := o.Reserve(ctx)
	if err != nil {
		return err
	}
	return r.Start(job)
}

// Shutdown stops accepting runs and waits for active ones. When ctx expires
// first, active runs are canceled and their jobs stay PROCESSING for the
// stall sweeper.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		o.cancel()
		return nil
	case <-ctx.Done():
		o.cancel()
		<-done
		return ctx.Err()
	}
}

// Run executes every step for job synchronously and returns the terminal
// record. A canceled ctx leaves the job PROCESSING with its last committed
// progress.
func (o *Orchestrator) Run(ctx context.Context, job *domain.Job) (*domain.Job, error) {
	log := o.logger.With().
		Str("job_id", job.ID).
		Str("execution", ExecutionName(job.ID)).
		Logger()
	if job.Status != domain.JobStatusProcessing {
		return job, fmt.Errorf("%w: run on %s job", domain.ErrInvalidTransition, job.Status)
	}

	runCtx, cancelRun := context.WithCancelCause(ctx)
	defer cancelRun(nil)

	t := &tracker{
		store:   o.store,
		job:     job.Clone(),
		retries: o.opts.ConflictRetries,
		backoff: o.opts.CommitBackoff,
	}
	jc := &JobContext{
		JobID:     job.ID,
		Filename:  job.Filename,
		ObjectKey: job.ObjectKey,
		Bucket:    job.Bucket,
		Result:    domain.Result{},
		Logger:    log,
	}

	stopHeartbeat := o.startHeartbeat(runCtx, cancelRun, t, log)
	log.Info().Int("steps", len(o.steps)).Msg("workflow started")
	started := o.now()

	for i, step := range o.steps {
		stepStart := o.now()
		outcome, err := runStep(runCtx, step, jc)
		if err != nil {
			stopHeartbeat()
			if cause := context.Cause(runCtx); cause != nil {
				return o.interrupted(t, log, step, cause)
			}
			return o.fail(ctx, t, log, step.Name, err)
		}
		for k, v := range outcome.Set {
			jc.Result[k] = v
		}
		log.Info().
			Str("step", step.Name).
			Dur("elapsed", o.now().Sub(stepStart)).
			Msg("step completed")

		if i == len(o.steps)-1 || step.Progress <= t.snapshot().ProgressPercent {
			continue
		}
		if err := t.commit(runCtx, domain.SetProgress(step.Progress, o.now())); err != nil {
			stopHeartbeat()
			if errors.Is(err, errSuperseded) || context.Cause(runCtx) != nil {
				return o.interrupted(t, log, step, err)
			}
			return o.fail(ctx, t, log, step.Name, err)
		}
		log.Debug().Int("progress_percent", step.Progress).Msg("progress committed")
	}

	stopHeartbeat()
	if err := t.commit(ctx, domain.Complete(jc.Result)); err != nil {
		if errors.Is(err, errSuperseded) {
			return o.interrupted(t, log, o.steps[len(o.steps)-1], err)
		}
		return o.fail(ctx, t, log, o.steps[len(o.steps)-1].Name, err)
	}
	log.Info().Dur("elapsed", o.now().Sub(started)).Msg("workflow completed")
	return t.snapshot(), nil
}

func (o *Orchestrator) interrupted(t *tracker, log zerolog.Logger, step Step, cause error) (*domain.Job, error) {
	current := t.snapshot()
	log.Warn().
		Err(cause).
		Str("step", step.Name).
		Str("status", string(current.Status)).
		Msg("workflow interrupted")
	return current, cause
}

// fail records the failing step on the job. Failures to record are returned
// alongside the step error.
func (o *Orchestrator) fail(ctx context.Context, t *tracker, log zerolog.Logger, stepName string, cause error) (*domain.Job, error) {
	detail := domain.JobError{
		Step:    stepName,
		Code:    domain.ErrorKind(cause),
		Message: cause.Error(),
	}
	var stepErr *domain.StepError
	if errors.As(cause, &stepErr) {
		detail.Attempts = stepErr.Attempts
		detail.Code = domain.KindStepFailure
		detail.Message = stepErr.Cause.Error()
	}
	if errors.Is(cause, ErrStepTimeout) {
		detail.Code = CodeStepTimeout
	}

	log.Error().
		Err(cause).
		Str("step", stepName).
		Str("code", detail.Code).
		Int("attempts", detail.Attempts).
		Msg("workflow failed")

	if err := t.commit(ctx, domain.Fail(detail)); err != nil {
		log.Error().Err(err).Msg("record failure")
		return t.snapshot(), errors.Join(cause, err)
	}
	return t.snapshot(), cause
}

func (o *Orchestrator) startHeartbeat(ctx context.Context, cancelRun context.CancelCauseFunc, t *tracker, log zerolog.Logger) (stop func()) {
	if o.opts.HeartbeatInterval < 0 {
		return func() {}
	}
	hbCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(o.opts.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-hbCtx.Done():
				return
			case <-ticker.C:
				err := t.commit(hbCtx, domain.Heartbeat(o.now()))
				switch {
				case err == nil:
				case errors.Is(err, errSuperseded):
					cancelRun(err)
					return
				case hbCtx.Err() != nil:
					return
				default:
					log.Warn().Err(err).Msg("heartbeat failed")
				}
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

// tracker serializes this run's writes and carries the version forward.
type tracker struct {
	mu      sync.Mutex
	store   domain.JobStore
	job     *domain.Job
	retries int
	backoff time.Duration
}

func (t *tracker) snapshot() *domain.Job {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.job.Clone()
}

func (t *tracker) commit(ctx context.Context, mutate domain.Mutator) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	for attempt := 0; ; attempt++ {
		next, err := t.store.Update(ctx, t.job.ID, mutate, t.job.Version)
		switch {
		case err == nil:
			t.job = next
			return nil
		case errors.Is(err, domain.ErrVersionConflict) && next != nil:
			t.job = next
			if next.Status != domain.JobStatusProcessing {
				return fmt.Errorf("%w: now %s", errSuperseded, next.Status)
			}
			if attempt >= t.retries {
				return fmt.Errorf("commit after %d conflict retries: %w", attempt, err)
			}
		case domain.IsTransient(err) && attempt < t.retries:
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(t.backoff * time.Duration(attempt+1)):
			}
		default:
			return err
		}
	}
}
