package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/starford/ansuz/internal/notestore"
	"github.com/starford/ansuz/internal/sse"
)

// NewRouter mounts the full REST contract: unauthenticated token, register,
// health, and audio routes, and bearer-protected note routes plus the SSE
// event stream.
func NewRouter(store *notestore.Local, users *Users, tokens *TokenIssuer, broker *sse.Broker) chi.Router {
	h := NewHandler(store, users, tokens, broker)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Post("/token", h.Token)
	r.Post("/register", h.Register)
	r.Get("/audio/{name}", h.ServeAudio)
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(tokens))

		r.Get("/notes/", h.ListNotes)
		r.Post("/notes/", h.CreateNote)
		r.Delete("/notes/{id}", h.DeleteNote)
		r.Post("/notes/{id}/transcribe", h.TranscribeNote)

		if broker != nil {
			r.Get("/events", broker.ServeHTTP)
		}
	})

	return r
}
