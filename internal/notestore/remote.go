package notestore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/models"
)

// CredentialSource yields the current bearer token, if any. The remote store
// attaches it as "Authorization: Bearer <token>" on every request.
type CredentialSource func() (string, bool)

// Remote implements Store against the remote collaborator's REST contract.
type Remote struct {
	baseURL    string
	client     *http.Client
	credential CredentialSource
}

// NewRemote creates a remote store for the given base URL. credential may be
// nil for unauthenticated endpoints only.
func NewRemote(baseURL string, timeout time.Duration, credential CredentialSource) *Remote {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Remote{
		baseURL:    strings.TrimRight(baseURL, "/"),
		client:     &http.Client{Timeout: timeout},
		credential: credential,
	}
}

func (r *Remote) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, r.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if r.credential != nil {
		if token, ok := r.credential(); ok {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}
	return req, nil
}

// do executes a request and maps transport and auth failures onto the
// application error taxonomy. Callers own the response body on success.
func (r *Remote) do(req *http.Request) (*http.Response, error) {
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("notestore: %s %s: %w: %v", req.Method, req.URL.Path, apperr.ErrUnreachable, err)
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		resp.Body.Close()
		return nil, fmt.Errorf("notestore: %s %s: %w", req.Method, req.URL.Path, apperr.ErrAuthRejected)
	}
	return resp, nil
}

// errorDetail extracts the server-supplied {"detail": ...} message, falling
// back to the raw status.
func errorDetail(resp *http.Response) string {
	var body struct {
		Detail string `json:"detail"`
		Error  string `json:"error"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if json.Unmarshal(raw, &body) == nil {
		if body.Detail != "" {
			return body.Detail
		}
		if body.Error != "" {
			return body.Error
		}
	}
	return resp.Status
}

// Create uploads the audio artifact with its tags and optional reminder as
// multipart form data. The audio part is named "audio".
func (r *Remote) Create(ctx context.Context, cr CreateRequest) (models.Note, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	part, err := audioPart(mw, cr.MIMEType)
	if err != nil {
		return models.Note{}, fmt.Errorf("notestore: build multipart: %w", err)
	}
	if _, err := part.Write(cr.Audio); err != nil {
		return models.Note{}, fmt.Errorf("notestore: write audio part: %w", err)
	}
	if err := mw.WriteField("tags", cr.Tags); err != nil {
		return models.Note{}, fmt.Errorf("notestore: write tags: %w", err)
	}
	if cr.Reminder != nil {
		if err := mw.WriteField("reminder", cr.Reminder.Format(time.RFC3339)); err != nil {
			return models.Note{}, fmt.Errorf("notestore: write reminder: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return models.Note{}, fmt.Errorf("notestore: close multipart: %w", err)
	}

	req, err := r.newRequest(ctx, http.MethodPost, "/notes/", &buf)
	if err != nil {
		return models.Note{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := r.do(req)
	if err != nil {
		return models.Note{}, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity:
		return models.Note{}, fmt.Errorf("notestore: create: %w: %s", apperr.ErrValidation, errorDetail(resp))
	default:
		return models.Note{}, fmt.Errorf("notestore: create: %w: %s", apperr.ErrUnreachable, errorDetail(resp))
	}

	var rec record
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		return models.Note{}, fmt.Errorf("notestore: decode create response: %w", err)
	}
	return rec.toNote(), nil
}

// List fetches the complete remote note collection for the authenticated
// identity.
func (r *Remote) List(ctx context.Context) ([]models.Note, error) {
	req, err := r.newRequest(ctx, http.MethodGet, "/notes/", nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("notestore: list: %w: %s", apperr.ErrUnreachable, errorDetail(resp))
	}

	var recs []record
	if err := json.NewDecoder(resp.Body).Decode(&recs); err != nil {
		return nil, fmt.Errorf("notestore: decode list response: %w", err)
	}
	notes := make([]models.Note, len(recs))
	for i, rec := range recs {
		notes[i] = rec.toNote()
	}
	return notes, nil
}

// Delete removes the remote note with the given id.
func (r *Remote) Delete(ctx context.Context, id string) error {
	req, err := r.newRequest(ctx, http.MethodDelete, "/notes/"+id, nil)
	if err != nil {
		return err
	}
	resp, err := r.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent:
		return nil
	case http.StatusNotFound:
		return fmt.Errorf("notestore: delete %s: %w", id, apperr.ErrNotFound)
	default:
		return fmt.Errorf("notestore: delete %s: %w: %s", id, apperr.ErrUnreachable, errorDetail(resp))
	}
}

// Transcribe requests a transcription for the note and returns the text.
func (r *Remote) Transcribe(ctx context.Context, id string) (string, error) {
	req, err := r.newRequest(ctx, http.MethodPost, "/notes/"+id+"/transcribe", nil)
	if err != nil {
		return "", err
	}
	resp, err := r.do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound:
		return "", fmt.Errorf("notestore: transcribe %s: %w", id, apperr.ErrNotFound)
	default:
		return "", fmt.Errorf("notestore: transcribe %s: %w: %s", id, apperr.ErrTranscriptionFailed, errorDetail(resp))
	}

	var body struct {
		Transcription string `json:"transcription"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("notestore: decode transcription: %w", err)
	}
	if body.Transcription == "" {
		return "", fmt.Errorf("notestore: transcribe %s: %w: empty result", id, apperr.ErrTranscriptionFailed)
	}
	return body.Transcription, nil
}

// audioPart creates the "audio" form file part with the artifact's MIME type.
func audioPart(mw *multipart.Writer, mimeType string) (io.Writer, error) {
	h := textproto.MIMEHeader{}
	h.Set("Content-Disposition", `form-data; name="audio"; filename="recording"`)
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	h.Set("Content-Type", mimeType)
	return mw.CreatePart(h)
}
