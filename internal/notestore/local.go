package notestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/blob"
	"github.com/starford/ansuz/internal/models"
)

// audioPathPrefix is the public path prefix under which blobs are addressed.
// It is shared with the dev backend's audio file routes.
const audioPathPrefix = "audio/"

const notesSchemaSQL = `
CREATE TABLE IF NOT EXISTS notes (
	id            TEXT PRIMARY KEY,
	owner         TEXT NOT NULL DEFAULT 'local',
	created_at    DATETIME NOT NULL,
	tags          TEXT NOT NULL,
	audio_path    TEXT NOT NULL,
	mime_type     TEXT NOT NULL DEFAULT '',
	reminder      DATETIME,
	transcription TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_notes_owner ON notes(owner);
CREATE INDEX IF NOT EXISTS idx_notes_audio ON notes(audio_path);
`

// Transcriber turns an audio payload into text. The local store treats it as
// an opaque collaborator; when absent, transcription is unavailable.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error)
}

// Local implements Store with SQLite rows and on-disk audio blobs. Note ids
// are client-generated UUIDs. Collections are namespaced by owner so the dev
// backend can reuse the store per authenticated identity.
type Local struct {
	db          *sql.DB
	blobs       blob.Store
	owner       string
	transcriber Transcriber
}

// OpenLocal opens (or creates) the SQLite database and applies the schema.
func OpenLocal(dsn string, blobs blob.Store) (*Local, error) {
	db, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("notestore: open db: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("notestore: ping: %w", err)
	}
	if _, err := db.Exec(notesSchemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("notestore: apply schema: %w", err)
	}
	return &Local{db: db, blobs: blobs, owner: "local"}, nil
}

// Close closes the underlying database connection.
func (l *Local) Close() error {
	return l.db.Close()
}

// Conn exposes the database handle so the dev backend can keep its user
// registry in the same file.
func (l *Local) Conn() *sql.DB {
	return l.db
}

// Blobs returns the underlying audio blob store.
func (l *Local) Blobs() blob.Store {
	return l.blobs
}

// WithOwner returns a view of the store scoped to the given owner namespace.
func (l *Local) WithOwner(owner string) *Local {
	scoped := *l
	scoped.owner = owner
	return &scoped
}

// WithTranscriber returns a view of the store that can produce transcriptions.
func (l *Local) WithTranscriber(t Transcriber) *Local {
	scoped := *l
	scoped.transcriber = t
	return &scoped
}

// Create writes the audio blob and inserts the note row.
func (l *Local) Create(ctx context.Context, cr CreateRequest) (models.Note, error) {
	name, err := l.blobs.Put(cr.Audio, cr.MIMEType)
	if err != nil {
		return models.Note{}, fmt.Errorf("notestore: store audio: %w", err)
	}

	rec := record{
		ID:        uuid.New().String(),
		CreatedAt: time.Now().UTC(),
		Tags:      cr.Tags,
		AudioPath: audioPathPrefix + name,
		Reminder:  cr.Reminder,
	}
	_, err = l.db.ExecContext(ctx, `
		INSERT INTO notes (id, owner, created_at, tags, audio_path, mime_type, reminder, transcription)
		VALUES (?, ?, ?, ?, ?, ?, ?, '')
	`, rec.ID, l.owner, rec.CreatedAt, rec.Tags, rec.AudioPath, cr.MIMEType, rec.Reminder)
	if err != nil {
		return models.Note{}, fmt.Errorf("notestore: insert note: %w", err)
	}
	return rec.toNote(), nil
}

// List returns all notes for the owner, most recent first.
func (l *Local) List(ctx context.Context) ([]models.Note, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, created_at, tags, audio_path, reminder, transcription
		FROM notes WHERE owner = ?
		ORDER BY created_at DESC, id DESC
	`, l.owner)
	if err != nil {
		return nil, fmt.Errorf("notestore: list: %w", err)
	}
	defer rows.Close()

	var out []models.Note
	for rows.Next() {
		var rec record
		var reminder sql.NullTime
		if err := rows.Scan(&rec.ID, &rec.CreatedAt, &rec.Tags, &rec.AudioPath, &reminder, &rec.Transcription); err != nil {
			return nil, fmt.Errorf("notestore: scan note: %w", err)
		}
		if reminder.Valid {
			t := reminder.Time
			rec.Reminder = &t
		}
		out = append(out, rec.toNote())
	}
	return out, rows.Err()
}

// Delete removes the note row and, when no other note references the same
// content-addressed blob, the audio file as well.
func (l *Local) Delete(ctx context.Context, id string) error {
	audioPath, err := l.audioPath(ctx, id)
	if err != nil {
		return err
	}

	if _, err := l.db.ExecContext(ctx, `DELETE FROM notes WHERE id = ? AND owner = ?`, id, l.owner); err != nil {
		return fmt.Errorf("notestore: delete note: %w", err)
	}

	var refs int
	if err := l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM notes WHERE audio_path = ?`, audioPath).Scan(&refs); err == nil && refs == 0 {
		if name, ok := blobName(audioPath); ok {
			_ = l.blobs.Delete(name)
		}
	}
	return nil
}

// Transcribe runs the configured transcriber over the note's audio and
// stores the result. Re-transcribing an already transcribed note repeats the
// request and overwrites with the fresh result.
func (l *Local) Transcribe(ctx context.Context, id string) (string, error) {
	audioPath, err := l.audioPath(ctx, id)
	if err != nil {
		return "", err
	}
	if l.transcriber == nil {
		return "", fmt.Errorf("notestore: transcribe %s: %w: no transcriber configured", id, apperr.ErrTranscriptionFailed)
	}

	name, ok := blobName(audioPath)
	if !ok {
		return "", fmt.Errorf("notestore: transcribe %s: malformed audio path %q", id, audioPath)
	}
	audio, err := l.blobs.Read(name)
	if err != nil {
		return "", fmt.Errorf("notestore: transcribe %s: %w: %v", id, apperr.ErrTranscriptionFailed, err)
	}

	var mimeType string
	_ = l.db.QueryRowContext(ctx, `SELECT mime_type FROM notes WHERE id = ?`, id).Scan(&mimeType)

	text, err := l.transcriber.Transcribe(ctx, audio, mimeType)
	if err != nil {
		if errors.Is(err, apperr.ErrTranscriptionFailed) || errors.Is(err, apperr.ErrUnreachable) {
			return "", err
		}
		return "", fmt.Errorf("notestore: transcribe %s: %w: %v", id, apperr.ErrTranscriptionFailed, err)
	}

	if _, err := l.db.ExecContext(ctx, `UPDATE notes SET transcription = ? WHERE id = ? AND owner = ?`, text, id, l.owner); err != nil {
		return "", fmt.Errorf("notestore: save transcription: %w", err)
	}
	return text, nil
}

// audioPath resolves a note id to its audio path or ErrNotFound.
func (l *Local) audioPath(ctx context.Context, id string) (string, error) {
	var p string
	err := l.db.QueryRowContext(ctx, `SELECT audio_path FROM notes WHERE id = ? AND owner = ?`, id, l.owner).Scan(&p)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("notestore: note %s: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("notestore: lookup note %s: %w", id, err)
	}
	return p, nil
}

// removeByBlob deletes every note (any owner) whose audio file is gone.
func (l *Local) removeByBlob(name string) (int64, error) {
	res, err := l.db.Exec(`DELETE FROM notes WHERE audio_path = ?`, audioPathPrefix+name)
	if err != nil {
		return 0, fmt.Errorf("notestore: remove by blob: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// allBlobRefs returns every referenced blob name across all owners.
func (l *Local) allBlobRefs() (map[string]struct{}, error) {
	rows, err := l.db.Query(`SELECT DISTINCT audio_path FROM notes`)
	if err != nil {
		return nil, fmt.Errorf("notestore: all blob refs: %w", err)
	}
	defer rows.Close()
	out := make(map[string]struct{})
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		if name, ok := blobName(p); ok {
			out[name] = struct{}{}
		}
	}
	return out, rows.Err()
}

func blobName(audioPath string) (string, bool) {
	if len(audioPath) <= len(audioPathPrefix) || audioPath[:len(audioPathPrefix)] != audioPathPrefix {
		return "", false
	}
	return audioPath[len(audioPathPrefix):], true
}
