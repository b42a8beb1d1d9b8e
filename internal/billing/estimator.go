// Package billing prices generation requests and gates them against the
// caller's credit balance.
package billing

import (
	"strings"

	"github.com/makeasinger/studio/internal/config"
	"github.com/makeasinger/studio/internal/model"
)

// Strategy prices one provider's requests. Implementations must be
// deterministic and side-effect free.
type Strategy interface {
	Estimate(req model.GenerationRequest) int
}

// WordCountStrategy charges a base cost plus a surcharge for every started
// block of WordsPerStep words beyond Threshold.
type WordCountStrategy struct {
	Base           int
	Threshold      int
	WordsPerStep   int
	CreditsPerStep int
}

func (s WordCountStrategy) Estimate(req model.GenerationRequest) int {
	cost := s.Base
	words := len(strings.Fields(req.PromptText))
	if s.WordsPerStep > 0 && words > s.Threshold {
		extra := words - s.Threshold
		steps := (extra + s.WordsPerStep - 1) / s.WordsPerStep
		cost += steps * s.CreditsPerStep
	}
	if cost < 0 {
		return 0
	}
	return cost
}

// FlatStrategy charges the same cost for every request.
type FlatStrategy struct {
	Cost int
}

func (s FlatStrategy) Estimate(model.GenerationRequest) int {
	if s.Cost < 0 {
		return 0
	}
	return s.Cost
}

// Estimator dispatches to a Strategy keyed on the request's provider.
type Estimator struct {
	strategies map[model.ProviderKind]Strategy
	fallback   Strategy
}

// NewEstimator builds an estimator. Providers without a strategy use fallback.
func NewEstimator(strategies map[model.ProviderKind]Strategy, fallback Strategy) *Estimator {
	s := make(map[model.ProviderKind]Strategy, len(strategies))
	for k, v := range strategies {
		s[k] = v
	}
	return &Estimator{strategies: s, fallback: fallback}
}

// NewEstimatorFromConfig wires the configured pricing: word-count pricing
// for songs, flat pricing for images and videos.
func NewEstimatorFromConfig(cfg *config.PricingConfig) *Estimator {
	song := WordCountStrategy{
		Base:           cfg.SongBase,
		Threshold:      cfg.SongWordThreshold,
		WordsPerStep:   cfg.SongWordsPerStep,
		CreditsPerStep: cfg.SongCreditsPerStep,
	}
	return NewEstimator(map[model.ProviderKind]Strategy{
		model.ProviderSong:  song,
		model.ProviderImage: FlatStrategy{Cost: cfg.ImageFlat},
		model.ProviderVideo: FlatStrategy{Cost: cfg.VideoFlat},
	}, song)
}

// Estimate returns the credit cost of req, never negative.
func (e *Estimator) Estimate(req model.GenerationRequest) int {
	if s, ok := e.strategies[req.ProviderKind]; ok {
		return s.Estimate(req)
	}
	if e.fallback != nil {
		return e.fallback.Estimate(req)
	}
	return 0
}
