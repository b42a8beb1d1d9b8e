package billing

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/makeasinger/studio/internal/config"
	"github.com/makeasinger/studio/internal/model"
)

func words(n int) string {
	return strings.TrimSpace(strings.Repeat("la ", n))
}

func testPricing() *config.PricingConfig {
	return &config.PricingConfig{
		SongBase:           80,
		SongWordThreshold:  200,
		SongWordsPerStep:   10,
		SongCreditsPerStep: 5,
		ImageFlat:          10,
		VideoFlat:          100,
	}
}

func TestEstimator_Estimate(t *testing.T) {
	est := NewEstimatorFromConfig(testPricing())

	tests := []struct {
		name string
		req  model.GenerationRequest
		want int
	}{
		{"empty song prompt costs base", model.GenerationRequest{ProviderKind: model.ProviderSong}, 80},
		{"song at threshold costs base", model.GenerationRequest{ProviderKind: model.ProviderSong, PromptText: words(200)}, 80},
		{"one word over threshold starts a block", model.GenerationRequest{ProviderKind: model.ProviderSong, PromptText: words(201)}, 85},
		{"full block over threshold", model.GenerationRequest{ProviderKind: model.ProviderSong, PromptText: words(210)}, 85},
		{"two blocks over threshold", model.GenerationRequest{ProviderKind: model.ProviderSong, PromptText: words(211)}, 90},
		{"image is flat", model.GenerationRequest{ProviderKind: model.ProviderImage, PromptText: words(500)}, 10},
		{"video is flat", model.GenerationRequest{ProviderKind: model.ProviderVideo, PromptText: words(1)}, 100},
		{"unknown provider uses fallback", model.GenerationRequest{ProviderKind: "karaoke", PromptText: words(3)}, 80},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := est.Estimate(tt.req); got != tt.want {
				t.Errorf("Estimate() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestEstimator_Deterministic(t *testing.T) {
	est := NewEstimatorFromConfig(testPricing())
	req := model.GenerationRequest{ProviderKind: model.ProviderSong, PromptText: words(377)}

	first := est.Estimate(req)
	for i := 0; i < 10; i++ {
		if got := est.Estimate(req); got != first {
			t.Fatalf("estimate changed between calls: %d then %d", first, got)
		}
	}
}

func TestFlatStrategy_NeverNegative(t *testing.T) {
	if got := (FlatStrategy{Cost: -5}).Estimate(model.GenerationRequest{}); got != 0 {
		t.Errorf("expected 0, got %d", got)
	}
}

type staticBalance struct {
	balance int
	err     error
	calls   int
}

func (s *staticBalance) Balance(context.Context) (int, error) {
	s.calls++
	return s.balance, s.err
}

func TestGate_Admit(t *testing.T) {
	gate := NewGate(NewEstimatorFromConfig(testPricing()), "/pricing", zerolog.Nop())
	song := model.GenerationRequest{ProviderKind: model.ProviderSong, PromptText: "a short song"}

	tests := []struct {
		name          string
		balance       int
		wantAllowed   bool
		wantShortfall int
	}{
		{"balance above cost", 200, true, 0},
		{"balance equal to cost", 80, true, 0},
		{"balance one short", 79, false, 1},
		{"balance 40 against 80", 40, false, 40},
		{"zero balance", 0, false, 80},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := gate.Admit(song, tt.balance)
			if a.Allowed != tt.wantAllowed {
				t.Errorf("Allowed = %v, want %v", a.Allowed, tt.wantAllowed)
			}
			if a.Shortfall != tt.wantShortfall {
				t.Errorf("Shortfall = %d, want %d", a.Shortfall, tt.wantShortfall)
			}
			if !a.Allowed && a.PurchaseURL != "/pricing" {
				t.Errorf("expected purchase URL on denial, got %q", a.PurchaseURL)
			}
		})
	}
}

func TestGate_AdmitMatchesEstimate(t *testing.T) {
	est := NewEstimatorFromConfig(testPricing())
	gate := NewGate(est, "", zerolog.Nop())

	for _, n := range []int{0, 150, 200, 201, 260, 999} {
		req := model.GenerationRequest{ProviderKind: model.ProviderSong, PromptText: words(n)}
		for _, balance := range []int{0, 79, 80, 85, 100, 400} {
			a := gate.Admit(req, balance)
			want := est.Estimate(req) <= balance
			if a.Allowed != want {
				t.Errorf("words=%d balance=%d: allowed=%v, want %v", n, balance, a.Allowed, want)
			}
		}
	}
}

func TestGate_CheckFailsClosed(t *testing.T) {
	gate := NewGate(NewEstimatorFromConfig(testPricing()), "/pricing", zerolog.Nop())
	credits := &staticBalance{balance: 1_000_000, err: errors.New("credits service unavailable")}

	a := gate.Check(context.Background(), model.GenerationRequest{ProviderKind: model.ProviderVideo}, credits)

	if a.Allowed {
		t.Fatal("expected denial when balance cannot be read")
	}
	if a.Shortfall != 100 {
		t.Errorf("expected shortfall of full cost 100, got %d", a.Shortfall)
	}
	if credits.calls != 1 {
		t.Errorf("expected one balance read, got %d", credits.calls)
	}
}

func TestDeniedError(t *testing.T) {
	if err := DeniedError(model.Admission{Allowed: true}); err != nil {
		t.Fatalf("expected nil for allowed admission, got %v", err)
	}

	err := DeniedError(model.Admission{Cost: 80, Balance: 40, Shortfall: 40})
	if !errors.Is(err, model.ErrAdmissionDenied) {
		t.Fatalf("expected ErrAdmissionDenied, got %v", err)
	}
	var denied *model.AdmissionDeniedError
	if !errors.As(err, &denied) || denied.Shortfall != 40 {
		t.Errorf("expected shortfall 40, got %+v", denied)
	}
}
