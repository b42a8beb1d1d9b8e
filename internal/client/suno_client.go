package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/makeasinger/studio/internal/config"
	"github.com/makeasinger/studio/internal/model"
)

// SunoClient implements Provider for the Suno song generation API.
type SunoClient struct {
	api    jsonAPI
	apiKey string
	model  string
}

// SunoGenerateRequest is the body of a song generation call.
type SunoGenerateRequest struct {
	Prompt       string `json:"prompt"`
	Style        string `json:"style,omitempty"`
	Title        string `json:"title,omitempty"`
	CustomMode   bool   `json:"customMode"`
	Instrumental bool   `json:"instrumental"`
	Model        string `json:"model,omitempty"`
}

// sunoEnvelope wraps every Suno API response.
type sunoEnvelope[T any] struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data *T     `json:"data"`
}

type sunoGenerateData struct {
	TaskID string `json:"taskId"`
}

// SunoRecord is the status record of one generation task.
type SunoRecord struct {
	TaskID       string `json:"taskId"`
	Status       string `json:"status"`
	ErrorMessage string `json:"errorMessage"`
	Response     struct {
		SunoData []SunoTrack `json:"sunoData"`
	} `json:"response"`
}

// SunoTrack is one generated clip.
type SunoTrack struct {
	ID             string  `json:"id"`
	AudioURL       string  `json:"audioUrl"`
	StreamAudioURL string  `json:"streamAudioUrl"`
	ImageURL       string  `json:"imageUrl"`
	Prompt         string  `json:"prompt"`
	Title          string  `json:"title"`
	Tags           string  `json:"tags"`
	Duration       float64 `json:"duration"`
}

// NewSunoClient creates a new Suno API client
func NewSunoClient(cfg *config.SunoConfig, log zerolog.Logger) *SunoClient {
	return &SunoClient{
		api: jsonAPI{
			service:    "suno",
			httpClient: &http.Client{Timeout: 120 * time.Second},
			baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
			authHeader: "Bearer " + cfg.APIKey,
			log:        log,
		},
		apiKey: cfg.APIKey,
		model:  cfg.Model,
	}
}

func (c *SunoClient) Kind() model.ProviderKind { return model.ProviderSong }

// IsConfigured returns true if the client has valid configuration
func (c *SunoClient) IsConfigured() bool {
	return c.apiKey != ""
}

// Submit starts a song generation. The prompt is sent as lyrics in custom
// mode when a title is present.
func (c *SunoClient) Submit(ctx context.Context, req model.GenerationRequest) (model.JobHandle, error) {
	if !c.IsConfigured() {
		return model.JobHandle{}, &model.SubmissionError{Provider: model.ProviderSong, Message: "provider not configured"}
	}

	body := &SunoGenerateRequest{
		Prompt:       req.PromptText,
		Style:        strings.Join(req.StyleTags, ", "),
		Title:        req.Title,
		CustomMode:   req.Title != "",
		Instrumental: req.Instrumental,
		Model:        c.model,
	}

	var resp sunoEnvelope[sunoGenerateData]
	if err := c.api.post(ctx, "/api/v1/generate", body, &resp); err != nil {
		return model.JobHandle{}, submissionError(model.ProviderSong, err)
	}
	if resp.Code != http.StatusOK || resp.Data == nil || resp.Data.TaskID == "" {
		msg := resp.Msg
		if msg == "" {
			msg = "malformed generate response"
		}
		return model.JobHandle{}, &model.SubmissionError{Provider: model.ProviderSong, StatusCode: resp.Code, Message: msg}
	}

	return model.JobHandle{TaskID: resp.Data.TaskID, ResourceID: resp.Data.TaskID}, nil
}

// Status retrieves the generation record and maps Suno's task states onto
// pending/processing/completed/failed.
func (c *SunoClient) Status(ctx context.Context, handle model.JobHandle) (*model.ProviderStatus, error) {
	endpoint := "/api/v1/generate/record-info?taskId=" + url.QueryEscape(handle.TaskID)

	var resp sunoEnvelope[SunoRecord]
	if err := c.api.get(ctx, endpoint, &resp); err != nil {
		return nil, err
	}
	if resp.Code != http.StatusOK || resp.Data == nil {
		return nil, fmt.Errorf("suno record-info returned code %d: %s", resp.Code, resp.Msg)
	}

	return mapSunoRecord(resp.Data), nil
}

func mapSunoRecord(rec *SunoRecord) *model.ProviderStatus {
	switch strings.ToUpper(rec.Status) {
	case "PENDING":
		return &model.ProviderStatus{Status: model.ProviderStatusPending}
	case "TEXT_SUCCESS", "FIRST_SUCCESS":
		return &model.ProviderStatus{Status: model.ProviderStatusProcessing}
	case "SUCCESS":
		tracks := rec.Response.SunoData
		if len(tracks) == 0 || tracks[0].AudioURL == "" {
			// Reported done without a usable clip yet.
			return &model.ProviderStatus{Status: model.ProviderStatusProcessing}
		}
		out := &model.AssetOutput{
			AssetURL:     tracks[0].AudioURL,
			ThumbnailURL: tracks[0].ImageURL,
			Text:         tracks[0].Prompt,
		}
		for _, t := range tracks[1:] {
			if t.AudioURL != "" {
				out.ExtraURLs = append(out.ExtraURLs, t.AudioURL)
			}
		}
		return &model.ProviderStatus{Status: model.ProviderStatusCompleted, Output: out}
	case "CREATE_TASK_FAILED", "GENERATE_AUDIO_FAILED", "CALLBACK_EXCEPTION", "SENSITIVE_WORD_ERROR":
		msg := rec.ErrorMessage
		if msg == "" {
			msg = rec.Status
		}
		return &model.ProviderStatus{Status: model.ProviderStatusFailed, Error: msg}
	default:
		return &model.ProviderStatus{Status: model.ProviderStatusProcessing}
	}
}

// submissionError converts transport and API failures into a SubmissionError.
func submissionError(kind model.ProviderKind, err error) error {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return &model.SubmissionError{Provider: kind, StatusCode: apiErr.StatusCode, Message: apiErr.Body}
	}
	return &model.SubmissionError{Provider: kind, Message: err.Error()}
}
