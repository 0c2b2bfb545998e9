package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/starford/mimir/internal/apperr"
	"github.com/starford/mimir/internal/contrib"
	"github.com/starford/mimir/internal/kb"
	"github.com/starford/mimir/internal/models"
	"github.com/starford/mimir/internal/sse"
)

// Handler holds the API route handlers.
type Handler struct {
	svc      *kb.Service
	pipeline *contrib.Pipeline
	broker   *sse.Broker
}

// NewHandler creates a Handler.
func NewHandler(svc *kb.Service, pipeline *contrib.Pipeline, broker *sse.Broker) *Handler {
	return &Handler{svc: svc, pipeline: pipeline, broker: broker}
}

// notePath extracts the note path from the URL (everything after /notes/),
// tolerating encoded slashes from generated clients.
func notePath(r *http.Request) string {
	raw := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
	if raw == "" {
		return ""
	}
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return decoded
}

// ListNotes handles GET /notes.
func (h *Handler) ListNotes(w http.ResponseWriter, r *http.Request) {
	notes := h.svc.Notes(r.Context())
	resp := NoteListResponse{Notes: make([]models.Note, 0, len(notes))}
	for _, n := range notes {
		resp.Notes = append(resp.Notes, n)
	}
	sort.Slice(resp.Notes, func(i, j int) bool { return resp.Notes[i].Path < resp.Notes[j].Path })
	writeJSON(w, http.StatusOK, resp)
}

// GetNote handles GET /notes/*.
func (h *Handler) GetNote(w http.ResponseWriter, r *http.Request) {
	path := notePath(r)
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	note, err := h.svc.Get(r.Context(), path)
	if err != nil {
		writeJSON(w, http.StatusNotFound, errorBody("note not found"))
		return
	}
	writeJSON(w, http.StatusOK, note)
}

// RefreshNotes handles POST /notes/refresh: an explicit forced refresh.
// Unlike background refreshes, failure here is surfaced so the operator
// sees it.
func (h *Handler) RefreshNotes(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.Cache().Refresh(r.Context())
	if err != nil {
		slog.Error("forced refresh failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusBadGateway, errorBody("refresh failed: "+err.Error()))
		return
	}
	h.broker.Publish(sse.EventKBRefreshed, map[string]int{"notes": n})
	writeJSON(w, http.StatusOK, map[string]string{
		"message": fmt.Sprintf("Refreshed %d notes", n),
	})
}

// Search handles GET /search.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'q' is required"))
		return
	}
	results := h.svc.Search(r.Context(), q)
	resp := SearchResponse{Results: make([]SearchResultItem, len(results))}
	for i, res := range results {
		resp.Results[i] = SearchResultItem(res)
	}
	writeJSON(w, http.StatusOK, resp)
}

// Contribute handles POST /contribute.
func (h *Handler) Contribute(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 10<<20)
	var req ContributeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if err := req.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}

	id := IdentityFromContext(r.Context())
	pr, err := h.pipeline.Submit(r.Context(), req.Path, req.Title, req.Content, req.IsNew, id)
	if err != nil {
		h.writeSubmissionError(w, err)
		return
	}
	h.broker.Publish(sse.EventPROpened, pr)
	writeJSON(w, http.StatusCreated, pr)
}

// ContributeBatch handles POST /contribute-batch.
func (h *Handler) ContributeBatch(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 10<<20)
	var req ContributeBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if err := req.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	if req.PRTitle == "" {
		req.PRTitle = "Knowledge base updates"
	}

	id := IdentityFromContext(r.Context())
	pr, err := h.pipeline.SubmitBatch(r.Context(), req.Changes, req.PRTitle, id)
	if err != nil {
		h.writeSubmissionError(w, err)
		return
	}
	h.broker.Publish(sse.EventPROpened, pr)
	writeJSON(w, http.StatusCreated, pr)
}

// PRStatus handles GET /pr-status/{number}: a read-through poll that also
// folds terminal states into the ledger.
func (h *Handler) PRStatus(w http.ResponseWriter, r *http.Request) {
	number, err := strconv.Atoi(chi.URLParam(r, "number"))
	if err != nil || number <= 0 {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid PR number"))
		return
	}
	st, err := h.pipeline.Status(r.Context(), number)
	if err != nil {
		switch {
		case errors.Is(err, apperr.ErrNotFound):
			writeJSON(w, http.StatusNotFound, errorBody(fmt.Sprintf("PR #%d not found", number)))
		case errors.Is(err, apperr.ErrNotConfigured):
			writeJSON(w, http.StatusInternalServerError, errorBody(err.Error()))
		default:
			slog.Error("pr status poll failed", slog.Int("pr", number), slog.String("error", err.Error()))
			writeJSON(w, http.StatusBadGateway, errorBody("failed to fetch PR status"))
		}
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// SubmittedPRs handles GET /submitted-prs.
func (h *Handler) SubmittedPRs(w http.ResponseWriter, _ *http.Request) {
	prs, err := h.pipeline.Ledger().List()
	if err != nil {
		slog.Error("ledger list failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, PRListResponse{PRs: prs})
}

// TrackPR handles POST /track-pr: registers a PR created outside this
// service so webhook updates apply to it too.
func (h *Handler) TrackPR(w http.ResponseWriter, r *http.Request) {
	var req TrackPRRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if err := req.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	err := h.pipeline.Ledger().Track(trackedPR(req, time.Now()))
	if err != nil {
		slog.Error("track pr failed", slog.Int("pr", req.Number), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"message": fmt.Sprintf("Tracking PR #%d", req.Number),
	})
}

func trackedPR(req TrackPRRequest, at time.Time) models.PullRequest {
	return models.PullRequest{
		Number:      req.Number,
		URL:         req.URL,
		Branch:      req.Branch,
		UserEmail:   req.UserEmail,
		Files:       req.Files,
		Status:      models.PRStatusOpen,
		SubmittedAt: at,
	}
}

func (h *Handler) writeSubmissionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, apperr.ErrNotConfigured):
		writeJSON(w, http.StatusInternalServerError, errorBody(err.Error()))
	case errors.Is(err, apperr.ErrConflict):
		writeJSON(w, http.StatusConflict, errorBody(err.Error()))
	default:
		slog.Error("contribution failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusBadGateway, errorBody(err.Error()))
	}
}
