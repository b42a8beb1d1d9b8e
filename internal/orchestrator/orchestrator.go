// Package orchestrator runs generation requests against remote providers:
// admission, submission, polling with readiness verification, timeouts,
// queue spacing and persistence of resumable state.
//
// One Orchestrator serializes its state behind a mutex. Network calls are
// made without the lock held; every asynchronous result carries the epoch it
// was started under and is dropped if the epoch has moved on (cancel,
// timeout, terminal transition).
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/makeasinger/studio/internal/billing"
	"github.com/makeasinger/studio/internal/client"
	"github.com/makeasinger/studio/internal/config"
	"github.com/makeasinger/studio/internal/model"
)

const storeTimeout = 5 * time.Second

// ErrClosed is returned by operations on a closed orchestrator.
var ErrClosed = errors.New("orchestrator closed")

var validate = validator.New()

// Config holds the timing of one orchestrator.
type Config struct {
	PollInterval     time.Duration
	Timeout          time.Duration
	Cooldown         time.Duration
	FailureSkipDelay time.Duration
	ExpectedDuration time.Duration
}

func ConfigFrom(c *config.OrchestratorConfig) Config {
	return Config{
		PollInterval:     c.PollInterval,
		Timeout:          c.Timeout,
		Cooldown:         c.Cooldown,
		FailureSkipDelay: c.FailureSkipDelay,
		ExpectedDuration: c.ExpectedDuration,
	}
}

// Persistence is the snapshot store bound to one orchestrator id.
type Persistence interface {
	Save(ctx context.Context, snap *model.PersistedSnapshot) error
	Load(ctx context.Context) (*model.PersistedSnapshot, error)
	Clear(ctx context.Context) error
	AcquireLease(ctx context.Context, owner string) (bool, error)
	ReleaseLease(ctx context.Context, owner string) error
}

type Options struct {
	ID        string
	Config    Config
	Providers Providers
	Gate      *billing.Gate
	Credits   client.CreditLedger
	Store     Persistence
	Prober    client.ReadinessProber
	Clock     Clock
	Log       zerolog.Logger
}

type Orchestrator struct {
	id        string
	cfg       Config
	providers Providers
	gate      *billing.Gate
	credits   client.CreditLedger
	store     Persistence
	poller    *Poller
	clock     Clock
	log       zerolog.Logger
	events    bus

	mu           sync.Mutex
	state        model.JobState
	queue        *Queue
	timeout      *TimeoutController
	pollTimer    Timer
	nextTimer    Timer
	nextSubmitAt time.Time
	halted       bool
	submitted    bool
	epoch        uint64
	jobCtx       context.Context
	jobCancel    context.CancelFunc
	owner        string
	leaseHeld    bool
	closed       bool

	outbox      []model.Event
	dispatching bool
}

// New builds an orchestrator and resumes whatever its store holds: a job
// with a handle is polled again without resubmission, a pending cooldown
// continues from where it was.
func New(opts Options) (*Orchestrator, error) {
	if opts.ID == "" {
		return nil, errors.New("orchestrator: id is required")
	}
	if opts.Providers == nil || opts.Gate == nil || opts.Credits == nil || opts.Store == nil || opts.Prober == nil {
		return nil, errors.New("orchestrator: providers, gate, credits, store and prober are required")
	}
	if opts.Config.PollInterval <= 0 || opts.Config.Timeout <= 0 {
		return nil, errors.New("orchestrator: poll interval and timeout must be positive")
	}
	if opts.Clock == nil {
		opts.Clock = RealClock()
	}

	o := &Orchestrator{
		id:        opts.ID,
		cfg:       opts.Config,
		providers: opts.Providers,
		gate:      opts.Gate,
		credits:   opts.Credits,
		store:     opts.Store,
		poller:    NewPoller(opts.Providers, opts.Prober, opts.Log),
		clock:     opts.Clock,
		log:       opts.Log.With().Str("orchestrator", opts.ID).Logger(),
		state:     model.JobState{Status: model.JobStatusIdle},
		queue:     NewQueue(opts.Config.Cooldown, opts.Config.FailureSkipDelay),
		timeout:   NewTimeoutController(opts.Clock, opts.Config.Timeout),
		owner:     uuid.NewString(),
	}

	o.mu.Lock()
	o.resumeLocked()
	o.unlock()
	return o, nil
}

func (o *Orchestrator) ID() string { return o.id }

// Subscribe registers fn for every event until the returned func is called.
// Observers come and go freely; the job keeps running without any.
func (o *Orchestrator) Subscribe(fn Observer) func() {
	return o.events.subscribe(fn)
}

// State returns a copy of the current job state.
func (o *Orchestrator) State() model.JobState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stateLocked()
}

// Queue returns the queue projection.
func (o *Orchestrator) Queue() model.QueueView {
	o.mu.Lock()
	defer o.mu.Unlock()

	v := model.QueueView{
		Length:   o.queue.Len(),
		Cursor:   o.queue.Cursor(),
		Complete: o.queue.IsComplete(),
		Results:  o.queue.Results(),
		Failures: o.queue.Failures(),
		Halted:   o.halted,
	}
	if !o.nextSubmitAt.IsZero() {
		ms := o.nextSubmitAt.UnixMilli()
		v.NextSubmitAt = &ms
	}
	return v
}

// Idle reports whether Start would be accepted.
func (o *Orchestrator) Idle() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return !o.closed && !o.busyLocked()
}

// Start enqueues reqs and submits the first one. It returns once the first
// request has been handed to its provider, or with an
// *model.AdmissionDeniedError if the credits do not cover it. Submission
// failures are not returned; they end up in State().Error.
func (o *Orchestrator) Start(ctx context.Context, reqs []model.GenerationRequest) error {
	if len(reqs) == 0 {
		return fmt.Errorf("%w: no requests", model.ErrInvalidRequest)
	}
	prepared := make([]model.GenerationRequest, 0, len(reqs))
	for _, r := range reqs {
		if err := o.checkRequest(r); err != nil {
			return err
		}
		if r.ID == "" {
			r.ID = uuid.NewString()
		}
		prepared = append(prepared, r)
	}

	o.mu.Lock()
	if o.closed {
		o.unlock()
		return ErrClosed
	}
	if o.busyLocked() {
		o.unlock()
		return model.ErrBusy
	}
	if err := o.acquireLeaseLocked(ctx); err != nil {
		o.unlock()
		return err
	}

	o.halted = false
	o.submitted = false
	o.queue.Reset()
	o.queue.Enqueue(prepared...)
	epoch := o.enterSubmittingLocked()
	o.unlock()

	return o.submit(epoch)
}

// Retry resubmits the request the queue halted on after an admission
// denial. Otherwise, once the queue has run out, it queues again every
// request that failed with a retryable error.
func (o *Orchestrator) Retry(ctx context.Context) error {
	o.mu.Lock()
	if o.closed {
		o.unlock()
		return ErrClosed
	}
	if o.busyLocked() {
		o.unlock()
		return model.ErrBusy
	}

	switch {
	case o.halted && o.queue.Pending():
	case len(o.queue.Retryable()) > 0:
		reqs := o.queue.Retryable()
		o.queue.Reset()
		o.queue.Enqueue(reqs...)
	default:
		o.unlock()
		return model.ErrNothingToRetry
	}

	if err := o.acquireLeaseLocked(ctx); err != nil {
		o.unlock()
		return err
	}
	o.halted = false
	epoch := o.enterSubmittingLocked()
	o.unlock()

	return o.submit(epoch)
}

// Cancel stops observing the current job and drops the rest of the queue.
// The remote job, if already accepted, keeps running at the provider.
func (o *Orchestrator) Cancel(ctx context.Context) error {
	o.mu.Lock()
	defer o.unlock()

	if o.closed {
		return ErrClosed
	}
	if !o.busyLocked() && !o.halted {
		return nil
	}

	active := o.state.Status.IsActive()
	o.stopJobLocked()
	stopTimer(o.nextTimer)
	o.nextTimer = nil
	o.nextSubmitAt = time.Time{}
	o.halted = false
	o.submitted = false
	o.queue.Reset()

	if active {
		o.state.Error = nil
		o.state.Result = nil
		o.state.ProgressHint = nil
		o.transitionLocked(model.JobStatusCancelled)
	} else {
		st := o.stateLocked()
		o.emitLocked(model.Event{Type: model.EventStatusChange, State: &st})
	}

	if err := o.store.Clear(ctx); err != nil {
		o.log.Error().Err(err).Msg("failed to clear snapshot on cancel")
	}
	o.releaseLeaseLocked()
	o.log.Info().Msg("generation cancelled")
	return nil
}

// PollNow runs a poll tick immediately, e.g. when a view reattaches. It
// shares any tick already in flight for the same job.
func (o *Orchestrator) PollNow() {
	o.mu.Lock()
	epoch := o.epoch
	o.mu.Unlock()
	o.tick(epoch)
}

// Close stops all timers without touching the snapshot or lease, so another
// process can resume the job.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	defer o.unlock()

	if o.closed {
		return
	}
	o.closed = true
	o.epoch++
	if o.jobCancel != nil {
		o.jobCancel()
		o.jobCancel = nil
	}
	stopTimer(o.pollTimer)
	stopTimer(o.nextTimer)
	o.pollTimer, o.nextTimer = nil, nil
	o.timeout.Stop()
}

func (o *Orchestrator) checkRequest(r model.GenerationRequest) error {
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("%w: %v", model.ErrInvalidRequest, err)
	}
	if _, err := o.providers.Get(r.ProviderKind); err != nil {
		return fmt.Errorf("%w: %v", model.ErrInvalidRequest, err)
	}
	return nil
}

// submit runs admission and submission for the request under the cursor.
func (o *Orchestrator) submit(epoch uint64) error {
	o.mu.Lock()
	if epoch != o.epoch {
		o.unlock()
		return nil
	}
	req, _ := o.queue.Current()
	ctx := o.jobCtx
	o.unlock()

	admission := o.gate.Check(ctx, req, o.credits)
	if !admission.Allowed {
		return o.deny(epoch, req, admission)
	}

	provider, err := o.providers.Get(req.ProviderKind)
	if err != nil {
		o.mu.Lock()
		defer o.unlock()
		if epoch == o.epoch {
			o.terminateLocked(model.JobStatusFailed, &model.JobError{Code: model.JobErrorSubmission, Message: err.Error()})
		}
		return nil
	}

	handle, err := provider.Submit(ctx, req)

	o.mu.Lock()
	defer o.unlock()
	if epoch != o.epoch {
		// Cancelled or timed out while the provider was answering.
		return nil
	}
	o.submitted = true
	if err != nil {
		msg := err.Error()
		var se *model.SubmissionError
		if errors.As(err, &se) {
			msg = se.Message
		}
		o.log.Warn().Err(err).Str("request_id", req.ID).Msg("submission failed")
		o.terminateLocked(model.JobStatusFailed, &model.JobError{Code: model.JobErrorSubmission, Message: msg, Retryable: true})
		return nil
	}

	o.state.Handle = &handle
	o.state.ProgressHint = intPtr(0)
	o.transitionLocked(model.JobStatusQueuedRemote)
	o.persistLocked()
	o.schedulePollLocked(epoch, o.cfg.PollInterval)
	return nil
}

func (o *Orchestrator) deny(epoch uint64, req model.GenerationRequest, admission model.Admission) error {
	o.mu.Lock()
	defer o.unlock()
	if epoch != o.epoch {
		return nil
	}

	o.log.Info().
		Str("request_id", req.ID).
		Int("cost", admission.Cost).
		Int("balance", admission.Balance).
		Int("shortfall", admission.Shortfall).
		Msg("admission denied")

	if o.jobCancel != nil {
		o.jobCancel()
		o.jobCancel = nil
	}
	o.timeout.Reset()
	o.halted = true
	o.nextSubmitAt = time.Time{}
	o.transitionLocked(model.JobStatusIdle)
	o.emitLocked(model.Event{Type: model.EventAdmissionDenied, Admission: &admission})
	if o.submitted {
		o.persistLocked()
	} else {
		// Nothing reached a provider yet, so there is nothing to resume.
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		defer cancel()
		if err := o.store.Clear(ctx); err != nil {
			o.log.Error().Err(err).Msg("failed to clear snapshot on denial")
		}
	}
	o.releaseLeaseLocked()

	return billing.DeniedError(admission)
}

func (o *Orchestrator) tick(epoch uint64) {
	o.mu.Lock()
	if epoch != o.epoch || !o.state.Status.IsRemote() || o.state.Handle == nil {
		o.mu.Unlock()
		return
	}
	handle := *o.state.Handle
	req, _ := o.queue.Current()
	ctx := o.jobCtx
	o.mu.Unlock()

	o.poller.Tick(ctx, req.ProviderKind, handle, func(obs Observation, err error) {
		o.apply(epoch, handle, obs, err)
	})
}

func (o *Orchestrator) apply(epoch uint64, handle model.JobHandle, obs Observation, err error) {
	o.mu.Lock()
	defer o.unlock()
	if epoch != o.epoch || !o.state.Status.IsRemote() {
		return
	}

	if err != nil {
		o.log.Warn().Err(err).Str("task_id", handle.TaskID).Msg("status poll failed, retrying next tick")
		o.schedulePollLocked(epoch, o.cfg.PollInterval)
		return
	}

	if obs.Status == model.JobStatusQueuedRemote {
		// A provider may report pending again after it started working;
		// the job never moves back in the lifecycle.
		obs.Status = o.state.Status
	}

	switch obs.Status {
	case model.JobStatusCompleted:
		o.completeLocked(handle, obs.Output)
		return
	case model.JobStatusFailed:
		o.terminateLocked(model.JobStatusFailed, &model.JobError{Code: model.JobErrorProvider, Message: obs.Error})
		return
	}

	prev := hintValue(o.state.ProgressHint)
	o.state.ProgressHint = o.progressLocked(obs)
	if obs.Status != o.state.Status {
		o.transitionLocked(obs.Status)
		o.persistLocked()
	} else if hintValue(o.state.ProgressHint) != prev {
		st := o.stateLocked()
		o.emitLocked(model.Event{Type: model.EventStatusChange, State: &st})
	}
	o.schedulePollLocked(epoch, o.cfg.PollInterval)
}

func (o *Orchestrator) onTimeout(epoch uint64) {
	o.mu.Lock()
	defer o.unlock()
	if epoch != o.epoch || !o.state.Status.IsActive() {
		return
	}

	o.log.Warn().Dur("ceiling", o.cfg.Timeout).Msg("job timed out")
	o.terminateLocked(model.JobStatusTimedOut, &model.JobError{
		Code:      model.JobErrorTimeout,
		Message:   fmt.Sprintf("generation did not finish within %s", o.cfg.Timeout),
		Retryable: true,
	})
}

func (o *Orchestrator) completeLocked(handle model.JobHandle, out *model.AssetOutput) {
	req, _ := o.queue.Current()
	o.stopJobLocked()

	res := &model.JobResult{
		RequestID:    req.ID,
		Title:        req.Title,
		ProviderKind: req.ProviderKind,
		TaskID:       handle.TaskID,
		AssetURLs:    append([]string{out.AssetURL}, out.ExtraURLs...),
		ThumbnailURL: out.ThumbnailURL,
		Text:         out.Text,
		CompletedAt:  o.clock.Now(),
	}
	o.state.Result = res
	o.state.Error = nil
	o.state.ProgressHint = intPtr(100)
	o.transitionLocked(model.JobStatusCompleted)

	st := o.stateLocked()
	o.emitLocked(model.Event{Type: model.EventCompleted, State: &st, Result: res})

	o.queue.Record(*res)
	o.refreshCredits()
	o.afterTerminalLocked(model.JobStatusCompleted)
}

func (o *Orchestrator) terminateLocked(status model.JobStatus, jerr *model.JobError) {
	req, _ := o.queue.Current()
	o.stopJobLocked()

	o.state.Result = nil
	o.state.Error = jerr
	o.state.ProgressHint = nil
	o.transitionLocked(status)
	o.log.Warn().Err(jerr).Str("request_id", req.ID).Bool("retryable", jerr.Retryable).Msg("job ended without result")

	st := o.stateLocked()
	o.emitLocked(model.Event{Type: model.EventFailed, State: &st, Error: jerr})

	o.queue.Fail(req, *jerr)
	o.afterTerminalLocked(status)
}

// afterTerminalLocked moves the queue on once the current job is terminal.
func (o *Orchestrator) afterTerminalLocked(last model.JobStatus) {
	delay, err := o.queue.Advance(last)
	if err != nil {
		o.log.Error().Err(err).Msg("queue advance rejected")
		return
	}
	if o.queue.IsComplete() {
		o.finishLocked()
		return
	}

	idx := o.queue.Cursor()
	o.nextSubmitAt = o.clock.Now().Add(delay)
	o.emitLocked(model.Event{Type: model.EventQueueAdvance, QueueIndex: &idx})
	o.persistLocked()
	o.scheduleNextLocked(delay)

	o.log.Info().Int("queue_index", idx).Dur("delay", delay).Msg("next request scheduled")
}

func (o *Orchestrator) finishLocked() {
	o.nextSubmitAt = time.Time{}
	results := o.queue.Results()
	o.emitLocked(model.Event{Type: model.EventQueueFinished, Results: results})

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := o.store.Clear(ctx); err != nil {
		o.log.Error().Err(err).Msg("failed to clear snapshot")
	}
	o.releaseLeaseLocked()
	o.log.Info().Int("results", len(results)).Msg("queue finished")
}

func (o *Orchestrator) scheduleNextLocked(delay time.Duration) {
	epoch := o.epoch
	stopTimer(o.nextTimer)
	o.nextTimer = o.clock.AfterFunc(delay, func() { o.runNext(epoch) })
}

func (o *Orchestrator) runNext(epoch uint64) {
	o.mu.Lock()
	if epoch != o.epoch || o.closed || o.halted || !o.queue.Pending() {
		o.unlock()
		return
	}
	o.nextTimer = nil
	next := o.enterSubmittingLocked()
	o.unlock()

	if err := o.submit(next); err != nil && !errors.Is(err, model.ErrAdmissionDenied) {
		o.log.Error().Err(err).Msg("queued submission failed")
	}
}

func (o *Orchestrator) schedulePollLocked(epoch uint64, d time.Duration) {
	stopTimer(o.pollTimer)
	o.pollTimer = o.clock.AfterFunc(d, func() { o.tick(epoch) })
}

// enterSubmittingLocked starts a new epoch for the request under the cursor.
func (o *Orchestrator) enterSubmittingLocked() uint64 {
	o.epoch++
	if o.jobCancel != nil {
		o.jobCancel()
	}
	o.jobCtx, o.jobCancel = context.WithCancel(context.Background())
	o.nextSubmitAt = time.Time{}
	o.timeout.Reset()
	epoch := o.epoch
	o.timeout.Start(o.clock.Now(), func() { o.onTimeout(epoch) })

	req, _ := o.queue.Current()
	o.state = model.JobState{Status: o.state.Status, RequestID: req.ID}
	o.transitionLocked(model.JobStatusSubmitting)
	o.persistLocked()
	return epoch
}

// stopJobLocked ends observation of the current job. Results still in
// flight for the old epoch are ignored.
func (o *Orchestrator) stopJobLocked() {
	o.epoch++
	if o.jobCancel != nil {
		o.jobCancel()
		o.jobCancel = nil
	}
	stopTimer(o.pollTimer)
	o.pollTimer = nil
	o.timeout.Stop()
}

func (o *Orchestrator) busyLocked() bool {
	return o.state.Status.IsActive() || (o.queue.Pending() && !o.halted)
}

func (o *Orchestrator) transitionLocked(to model.JobStatus) {
	from := o.state.Status
	if from == to {
		return
	}
	o.state.Status = to

	ev := o.log.Info().Str("from", string(from)).Str("to", string(to))
	if o.state.Handle != nil {
		ev = ev.Str("task_id", o.state.Handle.TaskID)
	}
	ev.Msg("job transition")

	st := o.stateLocked()
	o.emitLocked(model.Event{Type: model.EventStatusChange, State: &st})
}

func (o *Orchestrator) stateLocked() model.JobState {
	st := o.state
	st.ElapsedMs = o.timeout.Elapsed().Milliseconds()
	if o.state.Handle != nil {
		h := *o.state.Handle
		st.Handle = &h
	}
	if o.state.ProgressHint != nil {
		st.ProgressHint = intPtr(*o.state.ProgressHint)
	}
	return st
}

func (o *Orchestrator) progressLocked(obs Observation) *int {
	if obs.Status == model.JobStatusVerifying {
		return intPtr(99)
	}
	if obs.Progress != nil {
		p := *obs.Progress
		if p < 0 {
			p = 0
		}
		if p > 99 {
			p = 99
		}
		return &p
	}
	if o.cfg.ExpectedDuration <= 0 {
		return nil
	}
	p := int(o.timeout.Elapsed() * 100 / o.cfg.ExpectedDuration)
	if p > 95 {
		p = 95
	}
	return &p
}

// persistLocked writes the snapshot synchronously and renews the lease.
func (o *Orchestrator) persistLocked() {
	snap := &model.PersistedSnapshot{
		Queue:      o.queue.Items(),
		Cursor:     o.queue.Cursor(),
		Results:    o.queue.Results(),
		Failures:   o.queue.Failures(),
		Status:     o.state.Status,
		Halted:     o.halted,
		LeaseOwner: o.owner,
	}
	if o.state.Handle != nil && o.state.Status.IsRemote() {
		h := *o.state.Handle
		snap.CurrentJobHandle = &h
		snap.SubmittedAtEpochMs = o.timeout.StartedAt().UnixMilli()
	}
	if !o.nextSubmitAt.IsZero() {
		snap.NextSubmitAtEpochMs = o.nextSubmitAt.UnixMilli()
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	if err := o.store.Save(ctx, snap); err != nil {
		o.log.Error().Err(err).Msg("failed to save snapshot")
	}
	if o.leaseHeld {
		if ok, err := o.store.AcquireLease(ctx, o.owner); err != nil || !ok {
			o.log.Warn().Err(err).Bool("held", ok).Msg("lease renewal failed")
		}
	}
}

func (o *Orchestrator) acquireLeaseLocked(ctx context.Context) error {
	ok, err := o.store.AcquireLease(ctx, o.owner)
	if err != nil {
		return fmt.Errorf("acquire lease: %w", err)
	}
	if !ok {
		return model.ErrBusy
	}
	o.leaseHeld = true
	return nil
}

func (o *Orchestrator) releaseLeaseLocked() {
	if !o.leaseHeld {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := o.store.ReleaseLease(ctx, o.owner); err != nil {
		o.log.Warn().Err(err).Msg("failed to release lease")
	}
	o.leaseHeld = false
}

// refreshCredits asks the credits collaborator to re-read the balance after
// a completed job. It never blocks the state machine.
func (o *Orchestrator) refreshCredits() {
	credits := o.credits
	log := o.log
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := credits.Refresh(ctx); err != nil {
			log.Warn().Err(err).Msg("credit refresh failed")
		}
	}()
}

func (o *Orchestrator) resumeLocked() {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	snap, err := o.store.Load(ctx)
	if err != nil {
		o.log.Warn().Err(err).Msg("failed to load snapshot, starting fresh")
		return
	}
	if snap == nil {
		return
	}

	o.queue.restore(snap.Queue, snap.Cursor, snap.Results, snap.Failures)
	if snap.LeaseOwner != "" {
		o.owner = snap.LeaseOwner
	}
	if !o.queue.Pending() {
		_ = o.store.Clear(ctx)
		o.queue.Reset()
		return
	}
	o.submitted = true
	req, _ := o.queue.Current()

	switch {
	case snap.CurrentJobHandle != nil && snap.Status.IsRemote():
		if err := o.acquireLeaseLocked(ctx); err != nil {
			o.log.Warn().Err(err).Msg("snapshot is owned elsewhere, not resuming")
			o.queue.Reset()
			return
		}
		h := *snap.CurrentJobHandle
		o.epoch++
		o.jobCtx, o.jobCancel = context.WithCancel(context.Background())
		o.state = model.JobState{Status: snap.Status, RequestID: req.ID, Handle: &h}

		epoch := o.epoch
		o.timeout.Start(time.UnixMilli(snap.SubmittedAtEpochMs), func() { o.onTimeout(epoch) })
		o.schedulePollLocked(epoch, 0)
		o.log.Info().Str("task_id", h.TaskID).Str("status", string(snap.Status)).Msg("resumed job from snapshot")

	case snap.NextSubmitAtEpochMs != 0 && !snap.Halted:
		if err := o.acquireLeaseLocked(ctx); err != nil {
			o.log.Warn().Err(err).Msg("snapshot is owned elsewhere, not resuming")
			o.queue.Reset()
			return
		}
		if snap.Status.IsTerminal() {
			o.state = model.JobState{Status: snap.Status}
		}
		o.nextSubmitAt = time.UnixMilli(snap.NextSubmitAtEpochMs)
		delay := o.nextSubmitAt.Sub(o.clock.Now())
		if delay < 0 {
			delay = 0
		}
		o.scheduleNextLocked(delay)
		o.log.Info().Int("queue_index", o.queue.Cursor()).Dur("delay", delay).Msg("resumed queue cooldown")

	default:
		// Halted on credits, or interrupted mid-submission when the provider
		// may already hold the job: wait for an explicit Retry.
		o.halted = true
		o.state = model.JobState{Status: model.JobStatusIdle, RequestID: req.ID}
		o.log.Info().Str("request_id", req.ID).Msg("resumed halted queue")
	}
}

// unlock releases mu and delivers queued events in order. Only one goroutine
// dispatches at a time; events raised meanwhile are picked up by it.
func (o *Orchestrator) unlock() {
	if o.dispatching || len(o.outbox) == 0 {
		o.mu.Unlock()
		return
	}
	o.dispatching = true
	for len(o.outbox) > 0 {
		batch := o.outbox
		o.outbox = nil
		o.mu.Unlock()
		for _, ev := range batch {
			o.events.publish(ev)
		}
		o.mu.Lock()
	}
	o.dispatching = false
	o.mu.Unlock()
}

func (o *Orchestrator) emitLocked(ev model.Event) {
	ev.OrchestratorID = o.id
	ev.At = o.clock.Now()
	o.outbox = append(o.outbox, ev)
}

func intPtr(v int) *int { return &v }

func hintValue(p *int) int {
	if p == nil {
		return -1
	}
	return *p
}
