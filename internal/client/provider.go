package client

import (
	"context"
	"fmt"

	"github.com/makeasinger/studio/internal/model"
)

// JobClient submits a generation request to a remote provider. It never
// retries: resubmitting a paid job could charge the user twice.
type JobClient interface {
	Submit(ctx context.Context, req model.GenerationRequest) (model.JobHandle, error)
}

// StatusSource reads a provider's status for a submitted job and normalizes
// it to the boundary contract.
type StatusSource interface {
	Status(ctx context.Context, handle model.JobHandle) (*model.ProviderStatus, error)
}

// Provider is a JobClient/StatusSource pair for one remote API.
type Provider interface {
	JobClient
	StatusSource
	Kind() model.ProviderKind
	IsConfigured() bool
}

// Registry maps provider kinds to their implementation.
type Registry struct {
	providers map[model.ProviderKind]Provider
}

func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[model.ProviderKind]Provider, len(providers))}
	for _, p := range providers {
		r.providers[p.Kind()] = p
	}
	return r
}

// Get returns the provider for kind.
func (r *Registry) Get(kind model.ProviderKind) (Provider, error) {
	p, ok := r.providers[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", model.ErrUnknownProvider, kind)
	}
	return p, nil
}

// Configured reports, per kind, whether the provider has credentials.
func (r *Registry) Configured() map[model.ProviderKind]bool {
	out := make(map[model.ProviderKind]bool, len(r.providers))
	for k, p := range r.providers {
		out[k] = p.IsConfigured()
	}
	return out
}
