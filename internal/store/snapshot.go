package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/makeasinger/studio/internal/model"
)

// SnapshotStore keeps one PersistedSnapshot per orchestrator under
// "<namespace>:snapshot:<id>" and its lease under "<namespace>:lease:<id>".
type SnapshotStore struct {
	kv        KV
	namespace string
	ttl       time.Duration
	leaseTTL  time.Duration
	log       zerolog.Logger
}

func NewSnapshotStore(kv KV, namespace string, ttl, leaseTTL time.Duration, log zerolog.Logger) *SnapshotStore {
	return &SnapshotStore{
		kv:        kv,
		namespace: namespace,
		ttl:       ttl,
		leaseTTL:  leaseTTL,
		log:       log,
	}
}

func (s *SnapshotStore) snapshotPrefix() string { return s.namespace + ":snapshot:" }

func (s *SnapshotStore) snapshotKey(id string) string { return s.snapshotPrefix() + id }

func (s *SnapshotStore) leaseKey(id string) string { return s.namespace + ":lease:" + id }

// Save overwrites the snapshot for id in a single write.
func (s *SnapshotStore) Save(ctx context.Context, id string, snap *model.PersistedSnapshot) error {
	snap.Version = model.SnapshotVersion
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	if err := s.kv.Set(ctx, s.snapshotKey(id), data, s.ttl); err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

// Load returns nil when there is nothing to resume. A snapshot that cannot be
// decoded, or was written by another version, is discarded.
func (s *SnapshotStore) Load(ctx context.Context, id string) (*model.PersistedSnapshot, error) {
	data, err := s.kv.Get(ctx, s.snapshotKey(id))
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}

	var snap model.PersistedSnapshot
	if err := json.Unmarshal(data, &snap); err != nil || snap.Version != model.SnapshotVersion {
		s.log.Warn().Err(err).Str("orchestrator", id).Int("version", snap.Version).Msg("discarding unreadable snapshot")
		_ = s.Clear(ctx, id)
		return nil, nil
	}
	return &snap, nil
}

func (s *SnapshotStore) Clear(ctx context.Context, id string) error {
	return s.kv.Delete(ctx, s.snapshotKey(id))
}

// IDs lists orchestrators with a live snapshot.
func (s *SnapshotStore) IDs(ctx context.Context) ([]string, error) {
	keys, err := s.kv.Keys(ctx, s.snapshotPrefix())
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(keys))
	for _, k := range keys {
		ids = append(ids, strings.TrimPrefix(k, s.snapshotPrefix()))
	}
	return ids, nil
}

func (s *SnapshotStore) AcquireLease(ctx context.Context, id, owner string) (bool, error) {
	return s.kv.AcquireLease(ctx, s.leaseKey(id), owner, s.leaseTTL)
}

func (s *SnapshotStore) ReleaseLease(ctx context.Context, id, owner string) error {
	return s.kv.ReleaseLease(ctx, s.leaseKey(id), owner)
}

// For binds the store to one orchestrator id.
func (s *SnapshotStore) For(id string) *Session {
	return &Session{store: s, id: id}
}

// Session is the snapshot store as seen by a single orchestrator.
type Session struct {
	store *SnapshotStore
	id    string
}

func (s *Session) ID() string { return s.id }

func (s *Session) Save(ctx context.Context, snap *model.PersistedSnapshot) error {
	return s.store.Save(ctx, s.id, snap)
}

func (s *Session) Load(ctx context.Context) (*model.PersistedSnapshot, error) {
	return s.store.Load(ctx, s.id)
}

func (s *Session) Clear(ctx context.Context) error {
	return s.store.Clear(ctx, s.id)
}

func (s *Session) AcquireLease(ctx context.Context, owner string) (bool, error) {
	return s.store.AcquireLease(ctx, s.id, owner)
}

func (s *Session) ReleaseLease(ctx context.Context, owner string) error {
	return s.store.ReleaseLease(ctx, s.id, owner)
}
