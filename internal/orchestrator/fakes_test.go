package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/makeasinger/studio/internal/billing"
	"github.com/makeasinger/studio/internal/client"
	"github.com/makeasinger/studio/internal/config"
	"github.com/makeasinger/studio/internal/model"
	"github.com/makeasinger/studio/internal/store"
)

var epoch0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// fakeClock fires due callbacks synchronously from Advance, earliest first,
// in scheduling order for equal deadlines.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	seq    int
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	seq     int
	f       func()
	done    bool
	stopped bool
}

func newFakeClock() *fakeClock { return &fakeClock{now: epoch0} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d < 0 {
		d = 0
	}
	t := &fakeTimer{clock: c, at: c.now.Add(d), seq: c.seq, f: f}
	c.seq++
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	active := !t.done && !t.stopped
	t.stopped = true
	return active
}

// Advance moves time forward by d, running every callback that falls due.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	for {
		var next *fakeTimer
		for _, t := range c.timers {
			if t.done || t.stopped || t.at.After(target) {
				continue
			}
			if next == nil || t.at.Before(next.at) || (t.at.Equal(next.at) && t.seq < next.seq) {
				next = t
			}
		}
		if next == nil {
			break
		}
		next.done = true
		if next.at.After(c.now) {
			c.now = next.at
		}
		c.mu.Unlock()
		next.f()
		c.mu.Lock()
	}
	c.now = target
	c.mu.Unlock()
}

func (c *fakeClock) pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.done && !t.stopped {
			n++
		}
	}
	return n
}

type fakeProvider struct {
	kind model.ProviderKind

	mu        sync.Mutex
	submits   int
	polls     int
	submitErr error
	statusFn  func(n int) (*model.ProviderStatus, error)

	block   chan struct{}
	entered chan struct{}
}

func (p *fakeProvider) Kind() model.ProviderKind { return p.kind }

func (p *fakeProvider) IsConfigured() bool { return true }

func (p *fakeProvider) Submit(ctx context.Context, req model.GenerationRequest) (model.JobHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.submits++
	if p.submitErr != nil {
		return model.JobHandle{}, p.submitErr
	}
	return model.JobHandle{TaskID: fmt.Sprintf("task-%d", p.submits), ResourceID: fmt.Sprintf("res-%d", p.submits)}, nil
}

func (p *fakeProvider) Status(ctx context.Context, handle model.JobHandle) (*model.ProviderStatus, error) {
	p.mu.Lock()
	p.polls++
	n := p.polls
	fn := p.statusFn
	block := p.block
	p.mu.Unlock()

	if block != nil {
		select {
		case p.entered <- struct{}{}:
		default:
		}
		<-block
	}
	if fn == nil {
		return &model.ProviderStatus{Status: model.ProviderStatusProcessing}, nil
	}
	return fn(n)
}

func (p *fakeProvider) setStatus(fn func(n int) (*model.ProviderStatus, error)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statusFn = fn
}

func (p *fakeProvider) counts() (submits, polls int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.submits, p.polls
}

func processing(int) (*model.ProviderStatus, error) {
	return &model.ProviderStatus{Status: model.ProviderStatusProcessing}, nil
}

func completedWith(url string) func(int) (*model.ProviderStatus, error) {
	return func(int) (*model.ProviderStatus, error) {
		return &model.ProviderStatus{
			Status: model.ProviderStatusCompleted,
			Output: &model.AssetOutput{AssetURL: url, ThumbnailURL: url + ".jpg", Text: "lyrics"},
		}, nil
	}
}

type fakeProber struct {
	mu       sync.Mutex
	calls    int
	notReady int
}

func (p *fakeProber) Ready(ctx context.Context, url string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return p.calls > p.notReady
}

type fakeCredits struct {
	mu        sync.Mutex
	balance   int
	err       error
	refreshes int32
}

func (c *fakeCredits) Balance(context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.balance, c.err
}

func (c *fakeCredits) Refresh(context.Context) error {
	atomic.AddInt32(&c.refreshes, 1)
	return nil
}

func (c *fakeCredits) set(balance int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.balance = balance
}

type recorder struct {
	t      *testing.T
	mu     sync.Mutex
	events []model.Event
}

func (r *recorder) observe(ev model.Event) {
	if ev.State != nil && !ev.State.Valid() {
		r.t.Errorf("event %s carries invalid state %+v", ev.Type, *ev.State)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) ofType(typ string) []model.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Event
	for _, ev := range r.events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

// statuses lists the distinct consecutive statuses seen in status events.
func (r *recorder) statuses() []model.JobStatus {
	var out []model.JobStatus
	for _, ev := range r.ofType(model.EventStatusChange) {
		if len(out) == 0 || out[len(out)-1] != ev.State.Status {
			out = append(out, ev.State.Status)
		}
	}
	return out
}

type harness struct {
	t        *testing.T
	clock    *fakeClock
	provider *fakeProvider
	prober   *fakeProber
	credits  *fakeCredits
	kv       *store.MemoryKV
	session  *store.Session
	registry *client.Registry
	gate     *billing.Gate
	cfg      Config
	orch     *Orchestrator
	rec      *recorder
}

func testConfig() Config {
	return Config{
		PollInterval:     5 * time.Second,
		Timeout:          10 * time.Minute,
		Cooldown:         5 * time.Minute,
		FailureSkipDelay: 5 * time.Second,
		ExpectedDuration: 3 * time.Minute,
	}
}

func testGate() *billing.Gate {
	est := billing.NewEstimatorFromConfig(&config.PricingConfig{
		SongBase:           80,
		SongWordThreshold:  200,
		SongWordsPerStep:   10,
		SongCreditsPerStep: 5,
		ImageFlat:          10,
		VideoFlat:          100,
	})
	return billing.NewGate(est, "/pricing", zerolog.Nop())
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		t:        t,
		clock:    newFakeClock(),
		provider: &fakeProvider{kind: model.ProviderSong, statusFn: processing},
		prober:   &fakeProber{},
		credits:  &fakeCredits{balance: 1000},
		kv:       store.NewMemoryKV(),
		gate:     testGate(),
		cfg:      testConfig(),
	}
	h.kv.SetNow(h.clock.Now)
	h.session = store.NewSnapshotStore(h.kv, "test", 24*time.Hour, 30*time.Minute, zerolog.Nop()).For("sess-1")
	h.registry = client.NewRegistry(h.provider)
	h.orch = h.build()
	return h
}

// build constructs an orchestrator over the harness state, as a reload would.
func (h *harness) build() *Orchestrator {
	h.t.Helper()
	o, err := New(Options{
		ID:        "sess-1",
		Config:    h.cfg,
		Providers: h.registry,
		Gate:      h.gate,
		Credits:   h.credits,
		Store:     h.session,
		Prober:    h.prober,
		Clock:     h.clock,
		Log:       zerolog.Nop(),
	})
	if err != nil {
		h.t.Fatalf("new orchestrator: %v", err)
	}
	h.rec = &recorder{t: h.t}
	o.Subscribe(h.rec.observe)
	return o
}

func (h *harness) snapshot() *model.PersistedSnapshot {
	h.t.Helper()
	snap, err := h.session.Load(context.Background())
	if err != nil {
		h.t.Fatalf("load snapshot: %v", err)
	}
	return snap
}

func (h *harness) start(reqs ...model.GenerationRequest) error {
	return h.orch.Start(context.Background(), reqs)
}

func (h *harness) mustStart(reqs ...model.GenerationRequest) {
	h.t.Helper()
	if err := h.start(reqs...); err != nil {
		h.t.Fatalf("start: %v", err)
	}
}

func song(title string) model.GenerationRequest {
	return model.GenerationRequest{
		Title:        title,
		PromptText:   "a short song about " + title,
		ProviderKind: model.ProviderSong,
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

var errNetwork = errors.New("connection reset by peer")
