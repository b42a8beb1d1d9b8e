package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/makeasinger/studio/internal/billing"
	"github.com/makeasinger/studio/internal/client"
	"github.com/makeasinger/studio/internal/config"
	"github.com/makeasinger/studio/internal/model"
	"github.com/makeasinger/studio/internal/orchestrator"
	"github.com/makeasinger/studio/internal/store"
)

// stubProvider completes every task on its second status read.
type stubProvider struct {
	mu      sync.Mutex
	submits int
	polls   map[string]int
}

func (p *stubProvider) Kind() model.ProviderKind { return model.ProviderSong }

func (p *stubProvider) IsConfigured() bool { return true }

func (p *stubProvider) Submit(ctx context.Context, req model.GenerationRequest) (model.JobHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.submits++
	return model.JobHandle{TaskID: fmt.Sprintf("task-%d", p.submits), ResourceID: "res"}, nil
}

func (p *stubProvider) Status(ctx context.Context, handle model.JobHandle) (*model.ProviderStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.polls == nil {
		p.polls = make(map[string]int)
	}
	p.polls[handle.TaskID]++
	if p.polls[handle.TaskID] < 2 {
		return &model.ProviderStatus{Status: model.ProviderStatusProcessing}, nil
	}
	return &model.ProviderStatus{
		Status: model.ProviderStatusCompleted,
		Output: &model.AssetOutput{AssetURL: "https://cdn.example.com/" + handle.TaskID + ".mp3"},
	}, nil
}

func (p *stubProvider) submitCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.submits
}

type readyProber struct{}

func (readyProber) Ready(context.Context, string) bool { return true }

type recordingPublisher struct {
	mu     sync.Mutex
	events map[string][]model.Event
}

func (p *recordingPublisher) Publish(sessionID string, ev model.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.events == nil {
		p.events = make(map[string][]model.Event)
	}
	p.events[sessionID] = append(p.events[sessionID], ev)
}

func (p *recordingPublisher) has(sessionID, typ string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, ev := range p.events[sessionID] {
		if ev.Type == typ {
			return true
		}
	}
	return false
}

type recordingArchiver struct {
	mu       sync.Mutex
	payloads []model.ArchiveJobPayload
}

func (a *recordingArchiver) Archive(ctx context.Context, payload model.ArchiveJobPayload) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.payloads = append(a.payloads, payload)
	return nil
}

func (a *recordingArchiver) archived() []model.ArchiveJobPayload {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]model.ArchiveJobPayload(nil), a.payloads...)
}

type fixture struct {
	svc       *GenerationService
	provider  *stubProvider
	snapshots *store.SnapshotStore
	publisher *recordingPublisher
	archiver  *recordingArchiver
}

func newFixture(t *testing.T, balance int) *fixture {
	t.Helper()

	f := &fixture{
		provider:  &stubProvider{},
		snapshots: store.NewSnapshotStore(store.NewMemoryKV(), "test", time.Hour, time.Minute, zerolog.Nop()),
		publisher: &recordingPublisher{},
		archiver:  &recordingArchiver{},
	}
	est := billing.NewEstimatorFromConfig(&config.PricingConfig{
		SongBase: 80, SongWordThreshold: 200, SongWordsPerStep: 10, SongCreditsPerStep: 5,
		ImageFlat: 10, VideoFlat: 100,
	})
	f.svc = NewGenerationService(GenerationDeps{
		Snapshots: f.snapshots,
		Providers: client.NewRegistry(f.provider),
		Gate:      billing.NewGate(est, "/pricing", zerolog.Nop()),
		Credits:   StaticCreditsSource(balance),
		Prober:    readyProber{},
		Config: orchestrator.Config{
			PollInterval:     10 * time.Millisecond,
			Timeout:          5 * time.Second,
			Cooldown:         10 * time.Millisecond,
			FailureSkipDelay: 10 * time.Millisecond,
			ExpectedDuration: time.Second,
		},
		Publisher: f.publisher,
		Archiver:  f.archiver,
		Log:       zerolog.Nop(),
	})
	t.Cleanup(f.svc.Close)
	return f
}

func songRequest(title string) model.GenerationRequest {
	return model.GenerationRequest{Title: title, PromptText: "a song about " + title, ProviderKind: model.ProviderSong}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestGenerationService_StartRunsToCompletion(t *testing.T) {
	f := newFixture(t, 1000)
	ctx := context.Background()

	resp, err := f.svc.Start(ctx, "user-1", []model.GenerationRequest{songRequest("rain")})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if resp.OrchestratorID != "user-1" {
		t.Errorf("expected orchestrator user-1, got %s", resp.OrchestratorID)
	}

	eventually(t, "queue finished", func() bool { return f.publisher.has("user-1", model.EventQueueFinished) })

	status, err := f.svc.Status("user-1")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.State.Status != model.JobStatusCompleted {
		t.Errorf("expected completed, got %s", status.State.Status)
	}
	if len(status.Queue.Results) != 1 {
		t.Errorf("expected 1 result, got %d", len(status.Queue.Results))
	}

	eventually(t, "archive enqueued", func() bool { return len(f.archiver.archived()) == 1 })
	p := f.archiver.archived()[0]
	if p.SessionID != "user-1" || p.TaskID != "task-1" || !strings.HasSuffix(p.AssetURL, "task-1.mp3") {
		t.Errorf("unexpected archive payload %+v", p)
	}

	if f.publisher.has("user-2", model.EventStatusChange) {
		t.Error("events leaked to another session")
	}
}

func TestGenerationService_AdmissionDenied(t *testing.T) {
	f := newFixture(t, 10)

	_, err := f.svc.Start(context.Background(), "user-1", []model.GenerationRequest{songRequest("rain")})
	var denied *model.AdmissionDeniedError
	if !errors.As(err, &denied) {
		t.Fatalf("expected admission denied, got %v", err)
	}
	if denied.Shortfall != 70 {
		t.Errorf("expected shortfall 70, got %d", denied.Shortfall)
	}
	if f.provider.submitCount() != 0 {
		t.Error("denied request was submitted")
	}
}

func TestGenerationService_Estimate(t *testing.T) {
	f := newFixture(t, 50)

	a := f.svc.Estimate(context.Background(), "user-1", songRequest("rain"))
	if a.Allowed || a.Cost != 80 || a.Balance != 50 || a.Shortfall != 30 {
		t.Errorf("unexpected admission %+v", a)
	}
}

func TestGenerationService_SessionsAreIsolated(t *testing.T) {
	f := newFixture(t, 1000)

	a1, _ := f.svc.Session("a")
	a2, _ := f.svc.Session("a")
	b, _ := f.svc.Session("b")
	if a1 != a2 {
		t.Error("expected the same orchestrator for one session")
	}
	if a1 == b {
		t.Error("expected distinct orchestrators per session")
	}

	if _, err := f.svc.Session(""); !errors.Is(err, model.ErrInvalidRequest) {
		t.Errorf("expected invalid request for empty session, got %v", err)
	}
}

// gatedKV holds snapshot reads of the "slow" session until gate closes.
type gatedKV struct {
	*store.MemoryKV
	gate    chan struct{}
	entered chan struct{}

	mu    sync.Mutex
	loads int
}

func (k *gatedKV) Get(ctx context.Context, key string) ([]byte, error) {
	if strings.HasSuffix(key, ":snapshot:slow") {
		k.mu.Lock()
		k.loads++
		k.mu.Unlock()
		select {
		case k.entered <- struct{}{}:
		default:
		}
		<-k.gate
	}
	return k.MemoryKV.Get(ctx, key)
}

func (k *gatedKV) slowLoads() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.loads
}

func TestGenerationService_SlowSessionBuildDoesNotBlockOthers(t *testing.T) {
	f := newFixture(t, 1000)
	kv := &gatedKV{MemoryKV: store.NewMemoryKV(), gate: make(chan struct{}), entered: make(chan struct{}, 1)}
	f.svc.deps.Snapshots = store.NewSnapshotStore(kv, "test", time.Hour, time.Minute, zerolog.Nop())

	const callers = 4
	got := make(chan *orchestrator.Orchestrator, callers)
	for i := 0; i < callers; i++ {
		go func() {
			o, err := f.svc.Session("slow")
			if err != nil {
				t.Errorf("session: %v", err)
			}
			got <- o
		}()
	}
	<-kv.entered

	done := make(chan struct{})
	go func() {
		if _, err := f.svc.Session("fast"); err != nil {
			t.Errorf("session: %v", err)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("building one session blocked another")
	}

	close(kv.gate)
	first := <-got
	if first == nil {
		t.Fatal("expected an orchestrator")
	}
	for i := 1; i < callers; i++ {
		if o := <-got; o != first {
			t.Error("expected every caller to get the same orchestrator")
		}
	}
	if n := kv.slowLoads(); n != 1 {
		t.Errorf("expected one snapshot load for the session, got %d", n)
	}
}

func TestGenerationService_ResumeAll(t *testing.T) {
	f := newFixture(t, 1000)
	ctx := context.Background()

	req := songRequest("persisted")
	req.ID = "req-1"
	err := f.snapshots.Save(ctx, "user-9", &model.PersistedSnapshot{
		Queue:              []model.GenerationRequest{req},
		CurrentJobHandle:   &model.JobHandle{TaskID: "task-remote", ResourceID: "res"},
		SubmittedAtEpochMs: time.Now().UnixMilli(),
		Status:             model.JobStatusProcessing,
		LeaseOwner:         "previous-process",
	})
	if err != nil {
		t.Fatalf("seed snapshot: %v", err)
	}

	n, err := f.svc.ResumeAll(ctx)
	if err != nil || n != 1 {
		t.Fatalf("expected 1 resumed session, got %d (%v)", n, err)
	}

	eventually(t, "resumed job completes", func() bool {
		s, _ := f.svc.Status("user-9")
		return s.State.Status == model.JobStatusCompleted
	})
	if f.provider.submitCount() != 0 {
		t.Error("resumed job was resubmitted")
	}
}

func TestGenerationService_CancelAndRetry(t *testing.T) {
	f := newFixture(t, 1000)
	ctx := context.Background()

	if _, err := f.svc.Retry(ctx, "user-1"); !errors.Is(err, model.ErrNothingToRetry) {
		t.Errorf("expected nothing to retry, got %v", err)
	}

	resp, err := f.svc.Cancel(ctx, "user-1")
	if err != nil {
		t.Fatalf("cancel on idle session: %v", err)
	}
	if resp.State.Status != model.JobStatusIdle {
		t.Errorf("expected idle, got %s", resp.State.Status)
	}
}

func TestGenerationService_Close(t *testing.T) {
	f := newFixture(t, 1000)
	f.svc.Close()

	if _, err := f.svc.Session("user-1"); !errors.Is(err, orchestrator.ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

// --- assistant ---

type stubChat struct {
	configured bool
	replies    []string
	err        error

	mu      sync.Mutex
	history [][]client.ChatMessage
}

func (c *stubChat) IsConfigured() bool { return c.configured }

func (c *stubChat) ChatJSON(ctx context.Context, system string, history []client.ChatMessage, user string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = append(c.history, history)
	if c.err != nil {
		return "", c.err
	}
	r := c.replies[0]
	if len(c.replies) > 1 {
		c.replies = c.replies[1:]
	}
	return r, nil
}

type stubStarter struct {
	reqs []model.GenerationRequest
	err  error
}

func (s *stubStarter) Start(ctx context.Context, userID string, reqs []model.GenerationRequest) (*model.GenerationStateResponse, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.reqs = append(s.reqs, reqs...)
	return &model.GenerationStateResponse{OrchestratorID: userID, State: model.JobState{Status: model.JobStatusSubmitting}}, nil
}

func TestParseEnvelope(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr bool
		action  string
	}{
		{"reply", `{"version":1,"action":"reply","reply":"hi"}`, false, "reply"},
		{"generate", `{"version":1,"action":"generate","reply":"ok","generate":{"provider":"song","title":"Rain","prompt":"soft rain"}}`, false, "generate"},
		{"navigate", `{"version":1,"action":"navigate","reply":"","navigate":{"route":"credits"}}`, false, "navigate"},
		{"unknown field", `{"version":1,"action":"reply","reply":"hi","command":"rm"}`, true, ""},
		{"trailing text", `{"version":1,"action":"reply","reply":"hi"} sure!`, true, ""},
		{"two objects", `{"version":1,"action":"reply","reply":"a"}{"version":1,"action":"reply","reply":"b"}`, true, ""},
		{"prose around json", `Here you go: {"version":1,"action":"reply","reply":"hi"}`, true, ""},
		{"wrong version", `{"version":2,"action":"reply","reply":"hi"}`, true, ""},
		{"unknown action", `{"version":1,"action":"delete","reply":"hi"}`, true, ""},
		{"generate without intent", `{"version":1,"action":"generate","reply":"ok"}`, true, ""},
		{"generate with bad provider", `{"version":1,"action":"generate","generate":{"provider":"podcast","title":"a","prompt":"b"}}`, true, ""},
		{"navigate to unknown route", `{"version":1,"action":"navigate","navigate":{"route":"admin"}}`, true, ""},
		{"reply with intent", `{"version":1,"action":"reply","reply":"hi","navigate":{"route":"home"}}`, true, ""},
		{"empty reply", `{"version":1,"action":"reply","reply":""}`, true, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := ParseEnvelope(tt.raw)
			if tt.wantErr {
				if !errors.Is(err, model.ErrInvalidEnvelope) {
					t.Errorf("expected ErrInvalidEnvelope, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if env.Action != tt.action {
				t.Errorf("expected action %s, got %s", tt.action, env.Action)
			}
		})
	}
}

func TestAssistant_GenerateSubmitsToOrchestrator(t *testing.T) {
	chat := &stubChat{configured: true, replies: []string{
		`{"version":1,"action":"generate","reply":"Making it","generate":{"provider":"song","title":"Rain","prompt":"soft rain","styleTags":["lofi"]}}`,
	}}
	starter := &stubStarter{}
	svc := NewAssistantService(chat, starter, zerolog.Nop())

	resp, err := svc.Message(context.Background(), "user-1", "make me a lofi rain song")
	if err != nil {
		t.Fatalf("message: %v", err)
	}
	if resp.State == nil || resp.State.State.Status != model.JobStatusSubmitting {
		t.Errorf("expected generation state, got %+v", resp.State)
	}
	if len(starter.reqs) != 1 {
		t.Fatalf("expected 1 request started, got %d", len(starter.reqs))
	}
	r := starter.reqs[0]
	if r.ProviderKind != model.ProviderSong || r.Title != "Rain" || r.PromptText != "soft rain" || r.Metadata["source"] != "assistant" {
		t.Errorf("unexpected request %+v", r)
	}
}

func TestAssistant_StartErrorIsReturned(t *testing.T) {
	chat := &stubChat{configured: true, replies: []string{
		`{"version":1,"action":"generate","generate":{"provider":"image","title":"Cat","prompt":"a cat"}}`,
	}}
	svc := NewAssistantService(chat, &stubStarter{err: model.ErrBusy}, zerolog.Nop())

	if _, err := svc.Message(context.Background(), "user-1", "draw a cat"); !errors.Is(err, model.ErrBusy) {
		t.Errorf("expected ErrBusy, got %v", err)
	}
}

func TestAssistant_InvalidEnvelopeStartsNothing(t *testing.T) {
	chat := &stubChat{configured: true, replies: []string{
		"Sure! ```json\n{\"action\":\"generate\"}\n```",
	}}
	starter := &stubStarter{}
	svc := NewAssistantService(chat, starter, zerolog.Nop())

	if _, err := svc.Message(context.Background(), "user-1", "make a song"); !errors.Is(err, model.ErrInvalidEnvelope) {
		t.Errorf("expected ErrInvalidEnvelope, got %v", err)
	}
	if len(starter.reqs) != 0 {
		t.Error("invalid envelope started a generation")
	}
}

func TestAssistant_HistoryIsBounded(t *testing.T) {
	chat := &stubChat{configured: true, replies: []string{`{"version":1,"action":"reply","reply":"ok"}`}}
	svc := NewAssistantService(chat, &stubStarter{}, zerolog.Nop())

	for i := 0; i < 8; i++ {
		if _, err := svc.Message(context.Background(), "user-1", fmt.Sprintf("message %d", i)); err != nil {
			t.Fatalf("message %d: %v", i, err)
		}
	}

	last := chat.history[len(chat.history)-1]
	if len(last) != historyTurns {
		t.Errorf("expected %d history messages, got %d", historyTurns, len(last))
	}
	if len(chat.history[0]) != 0 {
		t.Error("expected the first message to carry no history")
	}
}

func TestAssistant_MockWhenUnconfigured(t *testing.T) {
	svc := NewAssistantService(&stubChat{}, &stubStarter{}, zerolog.Nop())

	resp, err := svc.Message(context.Background(), "user-1", "how many credits do I have?")
	if err != nil {
		t.Fatalf("message: %v", err)
	}
	if resp.Envelope.Action != model.AssistantActionNavigate || resp.Envelope.Navigate.Route != "credits" {
		t.Errorf("unexpected envelope %+v", resp.Envelope)
	}

	resp, err = svc.Message(context.Background(), "user-1", "hello")
	if err != nil {
		t.Fatalf("message: %v", err)
	}
	if resp.Envelope.Action != model.AssistantActionReply {
		t.Errorf("expected reply, got %s", resp.Envelope.Action)
	}
}
