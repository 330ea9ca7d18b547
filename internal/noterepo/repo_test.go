package noterepo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/capture"
	"github.com/starford/ansuz/internal/models"
	"github.com/starford/ansuz/internal/notestore"
)

// fakeStore is an in-memory Store with injectable failures and an optional
// gate that blocks List until released.
type fakeStore struct {
	mu      sync.Mutex
	notes   []models.Note
	nextID  int
	failAll error
	gate    chan struct{}
}

func (f *fakeStore) Create(ctx context.Context, req notestore.CreateRequest) (models.Note, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll != nil {
		return models.Note{}, f.failAll
	}
	f.nextID++
	n := models.Note{
		ID:        fmt.Sprintf("n%d", f.nextID),
		CreatedAt: time.Now(),
		Tags:      models.SplitTags(req.Tags),
		AudioPath: "audio/fake.wav",
		Reminder:  req.Reminder,
	}
	f.notes = append([]models.Note{n}, f.notes...)
	return n, nil
}

func (f *fakeStore) List(ctx context.Context) ([]models.Note, error) {
	f.mu.Lock()
	gate := f.gate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll != nil {
		return nil, f.failAll
	}
	out := make([]models.Note, len(f.notes))
	copy(out, f.notes)
	return out, nil
}

func (f *fakeStore) Delete(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll != nil {
		return f.failAll
	}
	for i, n := range f.notes {
		if n.ID == id {
			f.notes = append(f.notes[:i], f.notes[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("fake: %w", apperr.ErrNotFound)
}

func (f *fakeStore) Transcribe(ctx context.Context, id string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll != nil {
		return "", f.failAll
	}
	for i, n := range f.notes {
		if n.ID == id {
			f.notes[i].Transcription = "transcribed " + id
			return f.notes[i].Transcription, nil
		}
	}
	return "", fmt.Errorf("fake: %w", apperr.ErrNotFound)
}

func newTestRepo(store notestore.Store) *Repository {
	return NewRepository(store, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func artifact(data string) *capture.Artifact {
	return &capture.Artifact{Data: []byte(data), MIMEType: "audio/wav"}
}

func TestRepository_CreateValidation(t *testing.T) {
	repo := newTestRepo(&fakeStore{})
	ctx := context.Background()

	if _, err := repo.Create(ctx, nil, "work", nil); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("nil artifact: got %v, want ErrValidation", err)
	}
	if _, err := repo.Create(ctx, &capture.Artifact{}, "work", nil); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("empty artifact: got %v, want ErrValidation", err)
	}
	if _, err := repo.Create(ctx, artifact("x"), " , ,", nil); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("blank tags: got %v, want ErrValidation", err)
	}
	if len(repo.Notes()) != 0 {
		t.Error("failed creates must not touch the cache")
	}
}

func TestRepository_CreateInsertsAtFront(t *testing.T) {
	repo := newTestRepo(&fakeStore{})
	ctx := context.Background()

	first, err := repo.Create(ctx, artifact("a"), "work", nil)
	if err != nil {
		t.Fatal(err)
	}
	second, err := repo.Create(ctx, artifact("b"), "home", nil)
	if err != nil {
		t.Fatal(err)
	}

	notes := repo.Notes()
	if len(notes) != 2 || notes[0].ID != second.ID || notes[1].ID != first.ID {
		t.Fatalf("cache order = %v, want [%s %s]", noteIDs(notes), second.ID, first.ID)
	}
}

func TestRepository_ListReplacesCacheWholesale(t *testing.T) {
	store := &fakeStore{}
	repo := newTestRepo(store)
	ctx := context.Background()

	if _, err := repo.Create(ctx, artifact("a"), "work", nil); err != nil {
		t.Fatal(err)
	}

	// The store collection changes behind the repository's back.
	store.mu.Lock()
	store.notes = []models.Note{
		{ID: "srv-2", Tags: []string{"x"}},
		{ID: "srv-1", Tags: []string{"y"}},
	}
	store.mu.Unlock()

	notes, err := repo.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(notes) != 2 || notes[0].ID != "srv-2" || notes[1].ID != "srv-1" {
		t.Fatalf("list = %v, want store order", noteIDs(notes))
	}
	if cached := repo.Notes(); len(cached) != 2 || cached[0].ID != "srv-2" {
		t.Fatalf("cache = %v, want wholesale replacement", noteIDs(cached))
	}
}

func TestRepository_ListFailureKeepsCache(t *testing.T) {
	store := &fakeStore{}
	repo := newTestRepo(store)
	ctx := context.Background()

	created, err := repo.Create(ctx, artifact("a"), "work", nil)
	if err != nil {
		t.Fatal(err)
	}

	store.mu.Lock()
	store.failAll = fmt.Errorf("fake: %w", apperr.ErrUnreachable)
	store.mu.Unlock()

	if _, err := repo.List(ctx); !errors.Is(err, apperr.ErrUnreachable) {
		t.Fatalf("got %v, want ErrUnreachable", err)
	}
	notes := repo.Notes()
	if len(notes) != 1 || notes[0].ID != created.ID {
		t.Fatalf("cache after failed list = %v, want [%s]", noteIDs(notes), created.ID)
	}
}

func TestRepository_StaleListResponseDropped(t *testing.T) {
	store := &fakeStore{gate: make(chan struct{})}
	repo := newTestRepo(store)
	ctx := context.Background()

	store.mu.Lock()
	store.notes = []models.Note{{ID: "old"}}
	store.mu.Unlock()

	// Slow request leaves first, blocked at the gate.
	slowDone := make(chan []models.Note, 1)
	go func() {
		notes, err := repo.List(ctx)
		if err != nil {
			t.Error(err)
		}
		slowDone <- notes
	}()

	// The fast request sees the newer state and lands first. Clearing the
	// gate lets it through while the slow request stays blocked on the
	// channel it already picked up.
	time.Sleep(20 * time.Millisecond)
	store.mu.Lock()
	gate := store.gate
	store.gate = nil
	store.notes = []models.Note{{ID: "new"}}
	store.mu.Unlock()

	if _, err := repo.List(ctx); err != nil {
		t.Fatal(err)
	}

	// Release the slow response; it is stale now and must not win.
	close(gate)
	slow := <-slowDone

	cached := repo.Notes()
	if len(cached) != 1 || cached[0].ID != "new" {
		t.Fatalf("cache = %v, want the fresher [new]", noteIDs(cached))
	}
	if len(slow) != 1 || slow[0].ID != "new" {
		t.Fatalf("stale call returned %v, want the applied snapshot", noteIDs(slow))
	}
}

func TestRepository_DeleteRemovesFromCache(t *testing.T) {
	repo := newTestRepo(&fakeStore{})
	ctx := context.Background()

	n, err := repo.Create(ctx, artifact("a"), "work", nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := repo.Delete(ctx, n.ID); err != nil {
		t.Fatal(err)
	}
	if len(repo.Notes()) != 0 {
		t.Error("cache still holds the deleted note")
	}
}

func TestRepository_DeleteNotFoundTreatedAsDeleted(t *testing.T) {
	store := &fakeStore{}
	repo := newTestRepo(store)
	ctx := context.Background()

	n, err := repo.Create(ctx, artifact("a"), "work", nil)
	if err != nil {
		t.Fatal(err)
	}
	// The note vanishes server-side first.
	store.mu.Lock()
	store.notes = nil
	store.mu.Unlock()

	if err := repo.Delete(ctx, n.ID); err != nil {
		t.Fatalf("delete of already-gone note should succeed, got %v", err)
	}
	if len(repo.Notes()) != 0 {
		t.Error("cache entry not dropped")
	}
}

func TestRepository_DeleteFailureKeepsCache(t *testing.T) {
	store := &fakeStore{}
	repo := newTestRepo(store)
	ctx := context.Background()

	n, err := repo.Create(ctx, artifact("a"), "work", nil)
	if err != nil {
		t.Fatal(err)
	}
	store.mu.Lock()
	store.failAll = fmt.Errorf("fake: %w", apperr.ErrUnreachable)
	store.mu.Unlock()

	if err := repo.Delete(ctx, n.ID); !errors.Is(err, apperr.ErrUnreachable) {
		t.Fatalf("got %v, want ErrUnreachable", err)
	}
	if len(repo.Notes()) != 1 {
		t.Error("failed delete must leave the cache intact")
	}
}

func TestRepository_TranscribeUpdatesCachedNote(t *testing.T) {
	repo := newTestRepo(&fakeStore{})
	ctx := context.Background()

	n, err := repo.Create(ctx, artifact("a"), "work", nil)
	if err != nil {
		t.Fatal(err)
	}
	text, err := repo.Transcribe(ctx, n.ID)
	if err != nil {
		t.Fatal(err)
	}
	if text == "" {
		t.Fatal("empty transcription")
	}
	notes := repo.Notes()
	if notes[0].Transcription != text {
		t.Errorf("cached transcription = %q, want %q", notes[0].Transcription, text)
	}
}

func noteIDs(notes []models.Note) []string {
	out := make([]string, 0, len(notes))
	for _, n := range notes {
		out = append(out, n.ID)
	}
	return out
}
