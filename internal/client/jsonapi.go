package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog"
)

// APIError is a non-2xx response from a remote JSON API.
type APIError struct {
	Service    string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s API error (status %d): %s", e.Service, e.StatusCode, e.Body)
}

// jsonAPI is the request plumbing shared by the HTTP clients in this package.
type jsonAPI struct {
	service    string
	httpClient *http.Client
	baseURL    string
	authHeader string
	log        zerolog.Logger
}

func (a *jsonAPI) post(ctx context.Context, endpoint string, body, result interface{}) error {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	return a.do(req, result)
}

func (a *jsonAPI) get(ctx context.Context, endpoint string, result interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	return a.do(req, result)
}

func (a *jsonAPI) do(req *http.Request, result interface{}) error {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if a.authHeader != "" {
		req.Header.Set("Authorization", a.authHeader)
	}

	a.log.Debug().Str("method", req.Method).Str("url", req.URL.String()).Msg("→ request")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		a.log.Debug().Err(err).Str("method", req.Method).Str("url", req.URL.String()).Msg("request failed")
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	a.log.Debug().
		Int("status", resp.StatusCode).
		Str("method", req.Method).
		Str("url", req.URL.String()).
		Bytes("body", truncate(respBody, 2048)).
		Msg("← response")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{Service: a.service, StatusCode: resp.StatusCode, Body: string(truncate(respBody, 512))}
	}

	if result == nil || len(respBody) == 0 {
		return nil
	}

	if err := json.Unmarshal(respBody, result); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return nil
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
