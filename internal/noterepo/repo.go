// Package noterepo maintains the local note cache and its synchronization
// relationship with the authoritative store.
package noterepo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/capture"
	"github.com/starford/ansuz/internal/models"
	"github.com/starford/ansuz/internal/notestore"
)

// Repository owns the local read cache over a Store. The cache is ordered by
// remote-reported recency, most recent first. Every failing operation leaves
// the cache exactly as it was.
type Repository struct {
	store  notestore.Store
	logger *slog.Logger

	mu    sync.Mutex
	order []string
	byID  map[string]models.Note

	// List responses are fenced with a generation counter: a slow response
	// that arrives after a newer one has been applied is dropped instead of
	// overwriting fresher state.
	issuedGen  uint64
	appliedGen uint64
}

// NewRepository creates an empty repository over the given store.
func NewRepository(store notestore.Store, logger *slog.Logger) *Repository {
	if logger == nil {
		logger = slog.Default()
	}
	return &Repository{
		store:  store,
		logger: logger,
		byID:   make(map[string]models.Note),
	}
}

// Notes returns a snapshot of the cache in order.
func (r *Repository) Notes() []models.Note {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.Note, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id])
	}
	return out
}

// Create validates and persists a new note built from a finished capture
// artifact. Tags are required: the comma-delimited string must contain at
// least one non-empty tag after trimming. On success the store-assigned note
// is inserted at the front of the cache.
func (r *Repository) Create(ctx context.Context, artifact *capture.Artifact, tags string, rem *time.Time) (models.Note, error) {
	if artifact == nil || len(artifact.Data) == 0 {
		return models.Note{}, fmt.Errorf("noterepo: %w: audio artifact is required", apperr.ErrValidation)
	}
	parsed := models.SplitTags(tags)
	if len(parsed) == 0 {
		return models.Note{}, fmt.Errorf("noterepo: %w: at least one tag is required", apperr.ErrValidation)
	}

	note, err := r.store.Create(ctx, notestore.CreateRequest{
		Audio:    artifact.Data,
		MIMEType: artifact.MIMEType,
		Tags:     models.JoinTags(parsed),
		Reminder: rem,
	})
	if err != nil {
		return models.Note{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[note.ID]; !ok {
		r.order = append([]string{note.ID}, r.order...)
	}
	r.byID[note.ID] = note

	r.logger.Debug("note created", slog.String("id", note.ID), slog.Int("tags", len(note.Tags)))
	return note, nil
}

// List fetches the complete collection from the store and replaces the cache
// wholesale. The store is the sole source of truth; there is no incremental
// merge. On failure the previous cache is left intact so callers can keep
// showing stale data alongside an error indicator.
func (r *Repository) List(ctx context.Context) ([]models.Note, error) {
	r.mu.Lock()
	r.issuedGen++
	gen := r.issuedGen
	r.mu.Unlock()

	notes, err := r.store.List(ctx)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if gen <= r.appliedGen {
		// A newer list already landed; this response is stale.
		r.logger.Debug("dropped stale list response", slog.Uint64("gen", gen), slog.Uint64("applied", r.appliedGen))
		return r.snapshotLocked(), nil
	}
	r.appliedGen = gen

	r.order = r.order[:0]
	clear(r.byID)
	for _, n := range notes {
		r.order = append(r.order, n.ID)
		r.byID[n.ID] = n
	}
	return r.snapshotLocked(), nil
}

// Delete removes the note from the store and then from the cache. A store
// report of NotFound means the note already vanished server-side and is
// treated as deleted: the cache entry is dropped and no error is returned.
func (r *Repository) Delete(ctx context.Context, id string) error {
	err := r.store.Delete(ctx, id)
	if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[id]; ok {
		delete(r.byID, id)
		for i, oid := range r.order {
			if oid == id {
				r.order = append(r.order[:i], r.order[i+1:]...)
				break
			}
		}
	}
	return nil
}

// Transcribe requests a transcription and on success updates the cached note
// in place. Repeating the call after success simply repeats the request.
func (r *Repository) Transcribe(ctx context.Context, id string) (string, error) {
	text, err := r.store.Transcribe(ctx, id)
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if n, ok := r.byID[id]; ok {
		n.Transcription = text
		r.byID[id] = n
	}
	return text, nil
}

func (r *Repository) snapshotLocked() []models.Note {
	out := make([]models.Note, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id])
	}
	return out
}
