package client

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// ReadinessProber checks that a reportedly finished asset can be fetched.
type ReadinessProber interface {
	Ready(ctx context.Context, assetURL string) bool
}

// HTTPProber probes with HEAD and falls back to a one-byte ranged GET for
// hosts that do not answer HEAD.
type HTTPProber struct {
	httpClient *http.Client
	log        zerolog.Logger
}

func NewHTTPProber(timeout time.Duration, log zerolog.Logger) *HTTPProber {
	return &HTTPProber{
		httpClient: &http.Client{Timeout: timeout},
		log:        log,
	}
}

func (p *HTTPProber) Ready(ctx context.Context, assetURL string) bool {
	if assetURL == "" {
		return false
	}

	status, err := p.probe(ctx, http.MethodHead, assetURL)
	if err == nil && (status == http.StatusMethodNotAllowed || status == http.StatusNotImplemented || status == http.StatusForbidden) {
		status, err = p.probe(ctx, http.MethodGet, assetURL)
	}
	if err != nil {
		p.log.Debug().Err(err).Str("url", assetURL).Msg("readiness probe failed")
		return false
	}

	ready := status >= 200 && status < 300
	if !ready {
		p.log.Debug().Int("status", status).Str("url", assetURL).Msg("asset not ready")
	}
	return ready
}

func (p *HTTPProber) probe(ctx context.Context, method, assetURL string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, method, assetURL, nil)
	if err != nil {
		return 0, err
	}
	if method == http.MethodGet {
		req.Header.Set("Range", "bytes=0-0")
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))

	return resp.StatusCode, nil
}
