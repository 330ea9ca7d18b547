// Package session orchestrates capture, auth, and the note repository into a
// render-ready view.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/authsession"
	"github.com/starford/ansuz/internal/capture"
	"github.com/starford/ansuz/internal/models"
	"github.com/starford/ansuz/internal/noterepo"
	"github.com/starford/ansuz/internal/query"
	"github.com/starford/ansuz/internal/reminder"
)

// NoteView is a note annotated with its evaluated reminder status.
type NoteView struct {
	models.Note
	Reminder reminder.Status
}

// ViewModel is the render-ready state of the client.
type ViewModel struct {
	Identity      string
	Authenticated bool
	CaptureState  string
	TagQuery      string
	DateFilter    string
	Notes         []NoteView
}

// Controller routes UI intents to the capture session and repository and
// exposes the resulting view. It exclusively owns the single live capture
// session and the auth session.
type Controller struct {
	capture *capture.Session
	auth    *authsession.Manager
	repo    *noterepo.Repository

	mu         sync.Mutex
	tagQuery   string
	dateFilter string
}

// NewController wires the components together.
func NewController(cap *capture.Session, auth *authsession.Manager, repo *noterepo.Repository) *Controller {
	return &Controller{
		capture:    cap,
		auth:       auth,
		repo:       repo,
		dateFilter: query.DateAll,
	}
}

// StartRecording begins a new capture session.
func (c *Controller) StartRecording() error {
	return c.capture.Start()
}

// StopRecording ends the capture and returns the finished artifact.
func (c *Controller) StopRecording() *capture.Artifact {
	return c.capture.Stop()
}

// DiscardRecording throws away a stopped recording without saving.
func (c *Controller) DiscardRecording() error {
	c.capture.Stop()
	return c.capture.Reset()
}

// Elapsed exposes the capture session's elapsed-time signal.
func (c *Controller) Elapsed() <-chan int {
	return c.capture.Elapsed()
}

// SaveNote persists the stopped recording with the given tags and optional
// reminder, then resets the capture session to idle. The artifact survives a
// failed save so the user can retry.
func (c *Controller) SaveNote(ctx context.Context, tags string, rem *time.Time) (models.Note, error) {
	artifact := c.capture.Artifact()
	if artifact == nil {
		return models.Note{}, fmt.Errorf("session: %w: no finished recording to save", apperr.ErrValidation)
	}

	note, err := c.repo.Create(ctx, artifact, tags, rem)
	if err != nil {
		return models.Note{}, c.onError(err)
	}
	if err := c.capture.Reset(); err != nil {
		return note, err
	}
	return note, nil
}

// Refresh replaces the note cache from the authoritative store.
func (c *Controller) Refresh(ctx context.Context) error {
	if _, err := c.repo.List(ctx); err != nil {
		return c.onError(err)
	}
	return nil
}

// DeleteNote removes a note.
func (c *Controller) DeleteNote(ctx context.Context, id string) error {
	if err := c.repo.Delete(ctx, id); err != nil {
		return c.onError(err)
	}
	return nil
}

// TranscribeNote requests a transcription for a note.
func (c *Controller) TranscribeNote(ctx context.Context, id string) (string, error) {
	text, err := c.repo.Transcribe(ctx, id)
	if err != nil {
		return "", c.onError(err)
	}
	return text, nil
}

// SetFilter updates the active tag query and date filter.
func (c *Controller) SetFilter(tagQuery, dateFilter string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tagQuery = tagQuery
	if dateFilter == "" {
		dateFilter = query.DateAll
	}
	c.dateFilter = dateFilter
}

// ViewModel filters the cached notes through the active query and annotates
// each with its reminder status at now.
func (c *Controller) ViewModel(now time.Time) ViewModel {
	c.mu.Lock()
	tagQuery, dateFilter := c.tagQuery, c.dateFilter
	c.mu.Unlock()

	identity, ok := c.auth.Current()

	filtered := query.Filter(c.repo.Notes(), tagQuery, dateFilter)
	views := make([]NoteView, len(filtered))
	for i, n := range filtered {
		views[i] = NoteView{Note: n, Reminder: reminder.Evaluate(n, now)}
	}

	return ViewModel{
		Identity:      identity.Identity,
		Authenticated: ok,
		CaptureState:  c.capture.State(),
		TagQuery:      tagQuery,
		DateFilter:    dateFilter,
		Notes:         views,
	}
}

// Close tears the client down, force-stopping any in-progress recording so
// the device is never left open.
func (c *Controller) Close() {
	c.capture.Close()
}

// onError destroys the auth session when the store rejected the credential;
// the user must re-authenticate, this core never retries.
func (c *Controller) onError(err error) error {
	if errors.Is(err, apperr.ErrAuthRejected) {
		_ = c.auth.Logout()
	}
	return err
}
