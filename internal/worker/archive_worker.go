package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/makeasinger/studio/internal/client"
	"github.com/makeasinger/studio/internal/model"
)

// maxAssetBytes caps a single download.
const maxAssetBytes = 512 << 20

// EventPublisher delivers events to a session's open views.
type EventPublisher interface {
	Publish(sessionID string, ev model.Event)
}

// ArchiveWorker copies verified provider assets into the asset store.
type ArchiveWorker struct {
	store      client.AssetStore
	httpClient *http.Client
	publisher  EventPublisher
	log        zerolog.Logger
}

// NewArchiveWorker creates a new archive worker. A nil store makes every
// task a logged no-op.
func NewArchiveWorker(store client.AssetStore, publisher EventPublisher, log zerolog.Logger) *ArchiveWorker {
	return &ArchiveWorker{
		store:      store,
		httpClient: &http.Client{Timeout: 5 * time.Minute},
		publisher:  publisher,
		log:        log.With().Str("component", "archive").Logger(),
	}
}

// ProcessTask handles asset:archive tasks
func (w *ArchiveWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload model.ArchiveJobPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal archive payload: %v: %w", err, asynq.SkipRetry)
	}
	if payload.AssetURL == "" || payload.TaskID == "" {
		return fmt.Errorf("archive payload missing asset url or task id: %w", asynq.SkipRetry)
	}

	log := w.log.With().Str("session", payload.SessionID).Str("task_id", payload.TaskID).Logger()

	if w.store == nil {
		log.Debug().Msg("no asset store configured, skipping archive")
		return nil
	}

	key := payload.ArchiveKey(assetExt(payload))

	exists, err := w.store.Exists(ctx, key)
	if err != nil {
		return err
	}
	if exists {
		w.publish(payload, w.store.PublicURL(key))
		return nil
	}

	body, contentType, err := w.download(ctx, payload.AssetURL)
	if err != nil {
		return err
	}

	archivedURL, err := w.store.Upload(ctx, key, bytes.NewReader(body), contentType)
	if err != nil {
		return err
	}

	log.Info().Str("key", key).Int("bytes", len(body)).Msg("asset archived")
	w.publish(payload, archivedURL)
	return nil
}

func (w *ArchiveWorker) download(ctx context.Context, assetURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, assetURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("invalid asset url: %v: %w", err, asynq.SkipRetry)
	}

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("failed to download asset: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("asset download returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxAssetBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read asset: %w", err)
	}
	if len(body) > maxAssetBytes {
		return nil, "", fmt.Errorf("asset exceeds %d bytes: %w", maxAssetBytes, asynq.SkipRetry)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(body)
	}
	return body, contentType, nil
}

func (w *ArchiveWorker) publish(payload model.ArchiveJobPayload, archivedURL string) {
	if w.publisher == nil {
		return
	}
	w.publisher.Publish(payload.SessionID, model.Event{
		Type:           model.EventArchived,
		OrchestratorID: payload.SessionID,
		At:             time.Now(),
		ArchivedURL:    archivedURL,
	})
}

func assetExt(p model.ArchiveJobPayload) string {
	if u, err := url.Parse(p.AssetURL); err == nil {
		if ext := path.Ext(u.Path); ext != "" && len(ext) <= 5 {
			return ext
		}
	}
	switch p.ProviderKind {
	case model.ProviderSong:
		return ".mp3"
	case model.ProviderImage:
		return ".png"
	case model.ProviderVideo:
		return ".mp4"
	default:
		return ".bin"
	}
}
