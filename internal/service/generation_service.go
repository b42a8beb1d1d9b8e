package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/makeasinger/studio/internal/billing"
	"github.com/makeasinger/studio/internal/client"
	"github.com/makeasinger/studio/internal/model"
	"github.com/makeasinger/studio/internal/orchestrator"
	"github.com/makeasinger/studio/internal/store"
)

const archiveEnqueueTimeout = 10 * time.Second

// EventPublisher delivers orchestrator events to a session's open views.
type EventPublisher interface {
	Publish(sessionID string, ev model.Event)
}

// Archiver schedules long-term storage of a completed asset.
type Archiver interface {
	Archive(ctx context.Context, payload model.ArchiveJobPayload) error
}

// CreditsSource returns the credit ledger of a user.
type CreditsSource func(userID string) client.CreditLedger

// StaticCreditsSource gives every user the same fixed balance. Used when no
// credits service is configured.
func StaticCreditsSource(amount int) CreditsSource {
	return func(string) client.CreditLedger { return client.StaticCredits{Amount: amount} }
}

// GenerationDeps wires a GenerationService.
type GenerationDeps struct {
	Snapshots *store.SnapshotStore
	Providers *client.Registry
	Gate      *billing.Gate
	Credits   CreditsSource
	Prober    client.ReadinessProber
	Config    orchestrator.Config
	Clock     orchestrator.Clock
	Publisher EventPublisher
	Archiver  Archiver
	Log       zerolog.Logger
}

// GenerationService owns one orchestrator per session. A session is keyed
// by the authenticated user ID.
type GenerationService struct {
	deps GenerationDeps
	log  zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*orchestrator.Orchestrator
	closed   bool
	building singleflight.Group
}

func NewGenerationService(deps GenerationDeps) *GenerationService {
	if deps.Credits == nil {
		deps.Credits = StaticCreditsSource(0)
	}
	if deps.Clock == nil {
		deps.Clock = orchestrator.RealClock()
	}
	return &GenerationService{
		deps:     deps,
		log:      deps.Log.With().Str("component", "generation").Logger(),
		sessions: make(map[string]*orchestrator.Orchestrator),
	}
}

// Session returns the orchestrator of sessionID, building it (and resuming
// its persisted job) on first use. Builds of different sessions run
// concurrently; callers asking for the same one share a single build.
func (s *GenerationService) Session(sessionID string) (*orchestrator.Orchestrator, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("%w: empty session", model.ErrInvalidRequest)
	}
	if o, err := s.lookup(sessionID); o != nil || err != nil {
		return o, err
	}

	v, err, _ := s.building.Do(sessionID, func() (interface{}, error) {
		if o, err := s.lookup(sessionID); o != nil || err != nil {
			return o, err
		}

		o, err := orchestrator.New(orchestrator.Options{
			ID:        sessionID,
			Config:    s.deps.Config,
			Providers: s.deps.Providers,
			Gate:      s.deps.Gate,
			Credits:   s.deps.Credits(sessionID),
			Store:     s.deps.Snapshots.For(sessionID),
			Prober:    s.deps.Prober,
			Clock:     s.deps.Clock,
			Log:       s.deps.Log,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to build orchestrator: %w", err)
		}
		o.Subscribe(s.observer(sessionID))

		s.mu.Lock()
		defer s.mu.Unlock()
		if s.closed {
			o.Close()
			return nil, orchestrator.ErrClosed
		}
		s.sessions[sessionID] = o
		return o, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*orchestrator.Orchestrator), nil
}

func (s *GenerationService) lookup(sessionID string) (*orchestrator.Orchestrator, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, orchestrator.ErrClosed
	}
	return s.sessions[sessionID], nil
}

// ResumeAll builds an orchestrator for every persisted snapshot so jobs keep
// being polled with no client connected. It returns how many were resumed.
func (s *GenerationService) ResumeAll(ctx context.Context) (int, error) {
	ids, err := s.deps.Snapshots.IDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list snapshots: %w", err)
	}

	n := 0
	for _, id := range ids {
		if _, err := s.Session(id); err != nil {
			s.log.Error().Err(err).Str("session", id).Msg("failed to resume session")
			continue
		}
		n++
	}
	return n, nil
}

// Estimate prices req and compares it with the user's balance.
func (s *GenerationService) Estimate(ctx context.Context, userID string, req model.GenerationRequest) model.Admission {
	return s.deps.Gate.Check(ctx, req, s.deps.Credits(userID))
}

// Start enqueues reqs on the user's orchestrator.
func (s *GenerationService) Start(ctx context.Context, userID string, reqs []model.GenerationRequest) (*model.GenerationStateResponse, error) {
	o, err := s.Session(userID)
	if err != nil {
		return nil, err
	}
	if err := o.Start(ctx, reqs); err != nil {
		return nil, err
	}
	return stateOf(o), nil
}

// Status returns the state and queue of the user's orchestrator.
func (s *GenerationService) Status(userID string) (*model.GenerationStateResponse, error) {
	o, err := s.Session(userID)
	if err != nil {
		return nil, err
	}
	return stateOf(o), nil
}

// Cancel stops the user's current job and drops the rest of the queue.
func (s *GenerationService) Cancel(ctx context.Context, userID string) (*model.GenerationStateResponse, error) {
	o, err := s.Session(userID)
	if err != nil {
		return nil, err
	}
	if err := o.Cancel(ctx); err != nil {
		return nil, err
	}
	return stateOf(o), nil
}

// Retry resubmits the halted request or the retryable failures of the user.
func (s *GenerationService) Retry(ctx context.Context, userID string) (*model.GenerationStateResponse, error) {
	o, err := s.Session(userID)
	if err != nil {
		return nil, err
	}
	if err := o.Retry(ctx); err != nil {
		return nil, err
	}
	return stateOf(o), nil
}

// Refresh polls the user's job immediately, sharing any poll in flight.
// Called when a view reattaches.
func (s *GenerationService) Refresh(userID string) {
	s.mu.Lock()
	o, ok := s.sessions[userID]
	s.mu.Unlock()
	if ok && o.State().Status.IsRemote() {
		go o.PollNow()
	}
}

// Close stops every orchestrator. Snapshots and leases are kept so the next
// process resumes the jobs.
func (s *GenerationService) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	for id, o := range s.sessions {
		o.Close()
		delete(s.sessions, id)
	}
}

func (s *GenerationService) observer(sessionID string) orchestrator.Observer {
	return func(ev model.Event) {
		if s.deps.Publisher != nil {
			s.deps.Publisher.Publish(sessionID, ev)
		}
		if ev.Type == model.EventCompleted && ev.Result != nil && s.deps.Archiver != nil {
			go s.archive(sessionID, *ev.Result)
		}
	}
}

func (s *GenerationService) archive(sessionID string, result model.JobResult) {
	if len(result.AssetURLs) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), archiveEnqueueTimeout)
	defer cancel()

	payload := model.ArchiveJobPayload{
		SessionID:    sessionID,
		RequestID:    result.RequestID,
		TaskID:       result.TaskID,
		ProviderKind: result.ProviderKind,
		AssetURL:     result.AssetURLs[0],
		CompletedAt:  result.CompletedAt,
	}
	if err := s.deps.Archiver.Archive(ctx, payload); err != nil {
		s.log.Error().Err(err).Str("session", sessionID).Str("task_id", result.TaskID).Msg("failed to enqueue archive task")
	}
}

func stateOf(o *orchestrator.Orchestrator) *model.GenerationStateResponse {
	return &model.GenerationStateResponse{
		OrchestratorID: o.ID(),
		State:          o.State(),
		Queue:          o.Queue(),
	}
}

