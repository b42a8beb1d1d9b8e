package client

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/makeasinger/studio/internal/config"
	"github.com/makeasinger/studio/internal/model"
)

// MediaClient implements Provider for image and video APIs that speak the
// generic submit/status job contract.
type MediaClient struct {
	kind       model.ProviderKind
	api        jsonAPI
	apiKey     string
	submitPath string
	statusPath string
}

type mediaSubmitRequest struct {
	Prompt    string   `json:"prompt"`
	Title     string   `json:"title"`
	StyleTags []string `json:"styleTags,omitempty"`
}

type mediaSubmitResponse struct {
	Success    bool   `json:"success"`
	TaskID     string `json:"taskId"`
	ResourceID string `json:"resourceId"`
	Error      string `json:"error"`
}

type mediaStatusResponse struct {
	Status string `json:"status"`
	Output *struct {
		AssetURL     string `json:"assetUrl"`
		ThumbnailURL string `json:"thumbnailUrl"`
		Text         string `json:"text"`
	} `json:"output"`
	Error    string `json:"error"`
	Progress *int   `json:"progress"`
}

// NewMediaClient creates a client for the image or video provider.
func NewMediaClient(kind model.ProviderKind, cfg *config.MediaProviderConfig, log zerolog.Logger) *MediaClient {
	return &MediaClient{
		kind: kind,
		api: jsonAPI{
			service:    string(kind),
			httpClient: &http.Client{Timeout: 60 * time.Second},
			baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
			authHeader: "Bearer " + cfg.APIKey,
			log:        log,
		},
		apiKey:     cfg.APIKey,
		submitPath: cfg.SubmitPath,
		statusPath: cfg.StatusPath,
	}
}

func (c *MediaClient) Kind() model.ProviderKind { return c.kind }

func (c *MediaClient) IsConfigured() bool {
	return c.apiKey != "" && c.api.baseURL != ""
}

func (c *MediaClient) Submit(ctx context.Context, req model.GenerationRequest) (model.JobHandle, error) {
	if !c.IsConfigured() {
		return model.JobHandle{}, &model.SubmissionError{Provider: c.kind, Message: "provider not configured"}
	}

	body := mediaSubmitRequest{
		Prompt:    req.PromptText,
		Title:     req.Title,
		StyleTags: req.StyleTags,
	}

	var resp mediaSubmitResponse
	if err := c.api.post(ctx, c.submitPath, body, &resp); err != nil {
		return model.JobHandle{}, submissionError(c.kind, err)
	}
	if !resp.Success {
		msg := resp.Error
		if msg == "" {
			msg = "provider rejected the request"
		}
		return model.JobHandle{}, &model.SubmissionError{Provider: c.kind, Message: msg}
	}
	if resp.TaskID == "" {
		return model.JobHandle{}, &model.SubmissionError{Provider: c.kind, Message: "malformed response: missing taskId"}
	}

	return model.JobHandle{TaskID: resp.TaskID, ResourceID: resp.ResourceID}, nil
}

func (c *MediaClient) Status(ctx context.Context, handle model.JobHandle) (*model.ProviderStatus, error) {
	q := url.Values{}
	q.Set("taskId", handle.TaskID)
	if handle.ResourceID != "" {
		q.Set("resourceId", handle.ResourceID)
	}

	var resp mediaStatusResponse
	if err := c.api.get(ctx, c.statusPath+"?"+q.Encode(), &resp); err != nil {
		return nil, err
	}

	status := &model.ProviderStatus{
		Status:   strings.ToLower(resp.Status),
		Error:    resp.Error,
		Progress: resp.Progress,
	}
	if resp.Output != nil {
		status.Output = &model.AssetOutput{
			AssetURL:     resp.Output.AssetURL,
			ThumbnailURL: resp.Output.ThumbnailURL,
			Text:         resp.Output.Text,
		}
	}
	return status, nil
}
