package billing

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/makeasinger/studio/internal/model"
)

// BalanceReader reads the caller's current credit balance.
type BalanceReader interface {
	Balance(ctx context.Context) (int, error)
}

// Gate admits requests whose estimated cost fits the balance.
type Gate struct {
	estimator   *Estimator
	purchaseURL string
	log         zerolog.Logger
}

func NewGate(estimator *Estimator, purchaseURL string, log zerolog.Logger) *Gate {
	return &Gate{estimator: estimator, purchaseURL: purchaseURL, log: log}
}

// Estimator exposes the pricing used by the gate.
func (g *Gate) Estimator() *Estimator {
	return g.estimator
}

// Admit compares the estimate of req with balance.
// Allowed iff estimate <= balance.
func (g *Gate) Admit(req model.GenerationRequest, balance int) model.Admission {
	cost := g.estimator.Estimate(req)
	a := model.Admission{
		Allowed: cost <= balance,
		Cost:    cost,
		Balance: balance,
	}
	if !a.Allowed {
		a.Shortfall = cost - balance
		a.PurchaseURL = g.purchaseURL
	}
	return a
}

// Check reads the balance and admits req. A failed balance read denies the
// request with the whole cost as shortfall.
func (g *Gate) Check(ctx context.Context, req model.GenerationRequest, credits BalanceReader) model.Admission {
	balance, err := credits.Balance(ctx)
	if err != nil {
		g.log.Warn().Err(err).Str("request_id", req.ID).Msg("balance read failed, denying admission")
		cost := g.estimator.Estimate(req)
		return model.Admission{
			Allowed:     false,
			Cost:        cost,
			Balance:     0,
			Shortfall:   cost,
			PurchaseURL: g.purchaseURL,
		}
	}
	return g.Admit(req, balance)
}

// DeniedError converts a denied admission into an error value.
func DeniedError(a model.Admission) error {
	if a.Allowed {
		return nil
	}
	return &model.AdmissionDeniedError{Cost: a.Cost, Balance: a.Balance, Shortfall: a.Shortfall}
}
