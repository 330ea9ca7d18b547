// Package notestore provides the authoritative note storage collaborators.
//
// Exactly one Store variant is active per deployment: Remote speaks the
// collaborator's REST contract and is the sole source of truth, Local keeps
// notes in SQLite with audio blobs on disk. Both serve the same interface so
// the repository never knows which mode it runs in.
package notestore

import (
	"context"
	"time"

	"github.com/starford/ansuz/internal/models"
)

// Store is the capability interface the note repository depends on.
type Store interface {
	// Create persists a new note and returns it with its assigned id and
	// creation timestamp.
	Create(ctx context.Context, req CreateRequest) (models.Note, error)
	// List returns the complete note collection, most recent first.
	List(ctx context.Context) ([]models.Note, error)
	// Delete removes the note with the given id.
	Delete(ctx context.Context, id string) error
	// Transcribe produces text for the note's audio and returns it.
	Transcribe(ctx context.Context, id string) (string, error)
}

// CreateRequest carries everything needed to persist one recording.
type CreateRequest struct {
	Audio    []byte
	MIMEType string
	Tags     string // comma-delimited, already validated non-empty
	Reminder *time.Time
}

// record is the wire/database representation of a note. Tags travel as a
// single comma-delimited string.
type record struct {
	ID            string     `json:"id"`
	CreatedAt     time.Time  `json:"created_at"`
	Tags          string     `json:"tags"`
	AudioPath     string     `json:"audio_path"`
	Reminder      *time.Time `json:"reminder,omitempty"`
	Transcription string     `json:"transcription,omitempty"`
}

func (r record) toNote() models.Note {
	return models.Note{
		ID:            r.ID,
		CreatedAt:     r.CreatedAt,
		Tags:          models.SplitTags(r.Tags),
		AudioPath:     r.AudioPath,
		Reminder:      r.Reminder,
		Transcription: r.Transcription,
	}
}
