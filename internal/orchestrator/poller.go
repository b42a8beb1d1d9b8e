package orchestrator

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/makeasinger/studio/internal/client"
	"github.com/makeasinger/studio/internal/model"
)

// Providers resolves the provider for a request kind.
type Providers interface {
	Get(kind model.ProviderKind) (client.Provider, error)
}

// Observation is one classified poll result.
type Observation struct {
	Status   model.JobStatus
	Output   *model.AssetOutput
	Error    string
	Progress *int
}

// Poller reads provider status for a handle, verifies that finished assets
// are fetchable, and keeps at most one poll in flight per handle.
type Poller struct {
	providers Providers
	prober    client.ReadinessProber
	flight    singleflight.Group
	log       zerolog.Logger
}

func NewPoller(providers Providers, prober client.ReadinessProber, log zerolog.Logger) *Poller {
	return &Poller{providers: providers, prober: prober, log: log}
}

// Poll runs one status read plus readiness verification. Transport errors
// come back wrapped in model.ErrPoll and carry no observation.
func (p *Poller) Poll(ctx context.Context, kind model.ProviderKind, handle model.JobHandle) (Observation, error) {
	provider, err := p.providers.Get(kind)
	if err != nil {
		return Observation{}, err
	}

	raw, err := provider.Status(ctx, handle)
	if err != nil {
		return Observation{}, fmt.Errorf("%w: %v", model.ErrPoll, err)
	}
	if raw == nil {
		return Observation{}, fmt.Errorf("%w: empty status response", model.ErrPoll)
	}

	obs := Observation{Output: raw.Output, Progress: raw.Progress}
	switch raw.Status {
	case model.ProviderStatusPending:
		obs.Status = model.JobStatusQueuedRemote
	case model.ProviderStatusFailed:
		obs.Status = model.JobStatusFailed
		obs.Error = raw.Error
		if obs.Error == "" {
			obs.Error = "generation failed"
		}
	case model.ProviderStatusCompleted:
		obs.Status = model.JobStatusVerifying
		if raw.Output != nil && raw.Output.AssetURL != "" && p.prober.Ready(ctx, raw.Output.AssetURL) {
			obs.Status = model.JobStatusCompleted
		}
	default:
		obs.Status = model.JobStatusProcessing
	}
	return obs, nil
}

// Tick polls handle and hands the outcome to apply. Ticks that overlap an
// in-flight tick for the same handle join it instead of polling again, so
// apply runs once for them all. It reports whether the tick was shared.
func (p *Poller) Tick(ctx context.Context, kind model.ProviderKind, handle model.JobHandle, apply func(Observation, error)) bool {
	key := string(kind) + ":" + handle.TaskID + ":" + handle.ResourceID
	_, _, shared := p.flight.Do(key, func() (interface{}, error) {
		obs, err := p.Poll(ctx, kind, handle)
		apply(obs, err)
		return nil, nil
	})
	if shared {
		p.log.Debug().Str("task_id", handle.TaskID).Msg("poll tick shared with in-flight poll")
	}
	return shared
}
