package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/makeasinger/studio/internal/config"
)

// CreditLedger is the per-user view of the credits collaborator: a balance
// read and a post-completion refresh. This code never mutates credits.
type CreditLedger interface {
	Balance(ctx context.Context) (int, error)
	Refresh(ctx context.Context) error
}

// CreditsClient talks to the external credits service.
type CreditsClient struct {
	api    jsonAPI
	apiKey string
}

type balanceResponse struct {
	Balance *int `json:"balance"`
}

func NewCreditsClient(cfg *config.CreditsConfig, log zerolog.Logger) *CreditsClient {
	return &CreditsClient{
		api: jsonAPI{
			service:    "credits",
			httpClient: &http.Client{Timeout: 10 * time.Second},
			baseURL:    strings.TrimRight(cfg.ServiceURL, "/"),
			authHeader: "Bearer " + cfg.APIKey,
			log:        log,
		},
		apiKey: cfg.APIKey,
	}
}

// IsConfigured returns true if a credits service URL is set.
func (c *CreditsClient) IsConfigured() bool {
	return c.api.baseURL != ""
}

// Balance returns the user's current balance.
func (c *CreditsClient) Balance(ctx context.Context, userID string) (int, error) {
	var resp balanceResponse
	if err := c.api.get(ctx, "/v1/users/"+url.PathEscape(userID)+"/credits", &resp); err != nil {
		return 0, err
	}
	if resp.Balance == nil {
		return 0, fmt.Errorf("credits response missing balance")
	}
	return *resp.Balance, nil
}

// Refresh asks the credits service to reconcile the user's balance.
func (c *CreditsClient) Refresh(ctx context.Context, userID string) error {
	return c.api.post(ctx, "/v1/users/"+url.PathEscape(userID)+"/credits/refresh", struct{}{}, nil)
}

// ForUser binds the client to one user.
func (c *CreditsClient) ForUser(userID string) CreditLedger {
	return &userCredits{client: c, userID: userID}
}

type userCredits struct {
	client *CreditsClient
	userID string
}

func (u *userCredits) Balance(ctx context.Context) (int, error) {
	return u.client.Balance(ctx, u.userID)
}

func (u *userCredits) Refresh(ctx context.Context) error {
	return u.client.Refresh(ctx, u.userID)
}

// StaticCredits is a fixed balance used when no credits service is configured.
type StaticCredits struct {
	Amount int
}

func (s StaticCredits) Balance(context.Context) (int, error) { return s.Amount, nil }

func (s StaticCredits) Refresh(context.Context) error { return nil }
