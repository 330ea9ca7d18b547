package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/models"
	"github.com/starford/ansuz/internal/notestore"
	"github.com/starford/ansuz/internal/sse"
)

const maxUploadBytes = 50 << 20 // 50 MB

// noteDTO is the wire form of a note: tags travel comma-delimited.
type noteDTO struct {
	ID            string     `json:"id"`
	CreatedAt     time.Time  `json:"created_at"`
	Tags          string     `json:"tags"`
	AudioPath     string     `json:"audio_path"`
	Reminder      *time.Time `json:"reminder,omitempty"`
	Transcription string     `json:"transcription,omitempty"`
}

func toDTO(n models.Note) noteDTO {
	return noteDTO{
		ID:            n.ID,
		CreatedAt:     n.CreatedAt,
		Tags:          models.JoinTags(n.Tags),
		AudioPath:     n.AudioPath,
		Reminder:      n.Reminder,
		Transcription: n.Transcription,
	}
}

// Handler holds the backend route handlers.
type Handler struct {
	store  *notestore.Local
	users  *Users
	tokens *TokenIssuer
	broker *sse.Broker
}

// NewHandler creates a Handler. broker may be nil to disable events.
func NewHandler(store *notestore.Local, users *Users, tokens *TokenIssuer, broker *sse.Broker) *Handler {
	return &Handler{store: store, users: users, tokens: tokens, broker: broker}
}

func (h *Handler) publish(kind, id string) {
	if h.broker != nil {
		h.broker.PublishNoteEvent(kind, id)
	}
}

// Token handles POST /token (form-encoded credentials → bearer token).
func (h *Handler) Token(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid form body"))
		return
	}
	username := r.PostFormValue("username")
	password := r.PostFormValue("password")

	if err := h.users.Authenticate(r.Context(), username, password); err != nil {
		if errors.Is(err, apperr.ErrAuthRejected) {
			writeJSON(w, http.StatusUnauthorized, errorBody("incorrect username or password"))
		} else {
			slog.Error("authenticate failed", slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}

	token, err := h.tokens.Issue(username)
	if err != nil {
		slog.Error("token issue failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"access_token": token,
		"token_type":   "bearer",
	})
}

// Register handles POST /register (JSON account creation).
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}

	err := h.users.Register(r.Context(), req.Username, req.Email, req.Password)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, apperr.ErrRegistrationRejected):
		writeJSON(w, http.StatusBadRequest, errorBody("email already registered"))
	case errors.Is(err, apperr.ErrValidation):
		writeJSON(w, http.StatusUnprocessableEntity, errorBody("email and password are required"))
	default:
		slog.Error("register failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
	}
}

// ListNotes handles GET /notes/ for the authenticated identity.
func (h *Handler) ListNotes(w http.ResponseWriter, r *http.Request) {
	notes, err := h.store.WithOwner(identityFrom(r.Context())).List(r.Context())
	if err != nil {
		slog.Error("list notes failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	out := make([]noteDTO, len(notes))
	for i, n := range notes {
		out[i] = toDTO(n)
	}
	writeJSON(w, http.StatusOK, out)
}

// CreateNote handles POST /notes/ (multipart: audio file + tags + optional
// reminder). The audio part is named "audio"; "file" is accepted as a
// fallback for the older frontend variant.
func (h *Handler) CreateNote(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("file too large or invalid multipart"))
		return
	}

	file, header, err := r.FormFile("audio")
	if err != nil {
		file, header, err = r.FormFile("file")
	}
	if err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, errorBody("missing 'audio' part in multipart form"))
		return
	}
	defer file.Close()

	tags := r.FormValue("tags")
	if len(models.SplitTags(tags)) == 0 {
		writeJSON(w, http.StatusUnprocessableEntity, errorBody("at least one tag is required"))
		return
	}

	var rem *time.Time
	if raw := r.FormValue("reminder"); raw != "" {
		parsed, perr := parseReminder(raw)
		if perr != nil {
			writeJSON(w, http.StatusUnprocessableEntity, errorBody("invalid reminder timestamp"))
			return
		}
		rem = &parsed
	}

	audio, err := io.ReadAll(file)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("failed to read audio upload"))
		return
	}
	if len(audio) == 0 {
		writeJSON(w, http.StatusUnprocessableEntity, errorBody("audio payload is empty"))
		return
	}

	note, err := h.store.WithOwner(identityFrom(r.Context())).Create(r.Context(), notestore.CreateRequest{
		Audio:    audio,
		MIMEType: header.Header.Get("Content-Type"),
		Tags:     tags,
		Reminder: rem,
	})
	if err != nil {
		slog.Error("create note failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}

	h.publish("created", note.ID)
	writeJSON(w, http.StatusCreated, toDTO(note))
}

// DeleteNote handles DELETE /notes/{id}.
func (h *Handler) DeleteNote(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	err := h.store.WithOwner(identityFrom(r.Context())).Delete(r.Context(), id)
	switch {
	case err == nil:
		h.publish("deleted", id)
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, apperr.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody("note not found"))
	default:
		slog.Error("delete note failed", slog.String("id", id), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
	}
}

// TranscribeNote handles POST /notes/{id}/transcribe.
func (h *Handler) TranscribeNote(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	text, err := h.store.WithOwner(identityFrom(r.Context())).Transcribe(r.Context(), id)
	switch {
	case err == nil:
		h.publish("transcribed", id)
		writeJSON(w, http.StatusOK, map[string]string{"transcription": text})
	case errors.Is(err, apperr.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody("note not found"))
	case errors.Is(err, apperr.ErrTranscriptionFailed), errors.Is(err, apperr.ErrUnreachable):
		writeJSON(w, http.StatusBadGateway, errorBody(err.Error()))
	default:
		slog.Error("transcribe failed", slog.String("id", id), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
	}
}

// ServeAudio handles GET /audio/{name}, serving stored audio blobs.
func (h *Handler) ServeAudio(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	abs, err := h.store.Blobs().Path(name)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	http.ServeFile(w, r, abs)
}

// parseReminder accepts RFC 3339 timestamps and the HTML datetime-local
// format the original frontend submits.
func parseReminder(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	return time.ParseInLocation("2006-01-02T15:04", raw, time.Local)
}
