// Package webhook receives signed GitHub notifications for the knowledge
// repository and reacts by invalidating the note cache and updating the PR
// ledger. The handler itself is stateless.
package webhook

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/starford/mimir/internal/apperr"
	"github.com/starford/mimir/internal/contrib"
	"github.com/starford/mimir/internal/github"
	"github.com/starford/mimir/internal/kb"
	"github.com/starford/mimir/internal/models"
	"github.com/starford/mimir/internal/sse"
)

// EventHeader is the request header naming the GitHub event type.
const EventHeader = "X-GitHub-Event"

const maxPayloadBytes = 1 << 20

// Options configures a Handler.
type Options struct {
	// Secret verifies inbound signatures. When empty, unsigned payloads
	// are accepted; that is an explicit local-development posture, not an
	// oversight.
	Secret string
	Cache  *kb.Cache
	Ledger *contrib.Ledger
	// DefaultBranch is the branch whose direct pushes trigger a refresh.
	DefaultBranch string
	// Broker, when non-nil, receives pr.merged / pr.closed / kb.refreshed
	// events.
	Broker *sse.Broker
	// Now is the clock for fallback timestamps; nil means time.Now.
	Now func() time.Time
}

// Handler is the /api/github-webhook endpoint.
type Handler struct {
	secret        string
	cache         *kb.Cache
	ledger        *contrib.Ledger
	defaultBranch string
	broker        *sse.Broker
	now           func() time.Time
}

// NewHandler creates a Handler.
func NewHandler(opts Options) *Handler {
	branch := opts.DefaultBranch
	if branch == "" {
		branch = "main"
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Handler{
		secret:        opts.Secret,
		cache:         opts.Cache,
		ledger:        opts.Ledger,
		defaultBranch: branch,
		broker:        opts.Broker,
		now:           now,
	}
}

type pullRequestPayload struct {
	Action      string `json:"action"`
	PullRequest struct {
		Number   int        `json:"number"`
		Merged   bool       `json:"merged"`
		MergedAt *time.Time `json:"merged_at"`
		ClosedAt *time.Time `json:"closed_at"`
	} `json:"pull_request"`
}

type pushPayload struct {
	Ref string `json:"ref"`
}

// ServeHTTP validates the signature, dispatches on the event type, and
// acknowledges everything it does not act on. A bad signature or malformed
// body is terminal for that request only; cached state is untouched.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPayloadBytes))
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "failed to read body")
		return
	}

	if h.secret != "" {
		if !github.VerifySignature(body, r.Header.Get(github.SignatureHeader), h.secret) {
			err := fmt.Errorf("%w: webhook signature mismatch", apperr.ErrUnauthorized)
			slog.Warn("webhook rejected", slog.String("error", err.Error()))
			writeMessage(w, http.StatusUnauthorized, "invalid webhook signature")
			return
		}
	}

	eventType := r.Header.Get(EventHeader)
	slog.Debug("webhook received", slog.String("event", eventType))

	switch eventType {
	case "pull_request":
		h.handlePullRequest(w, r, body)
	case "push":
		h.handlePush(w, r, body)
	default:
		writeMessage(w, http.StatusOK, "Webhook received")
	}
}

func (h *Handler) handlePullRequest(w http.ResponseWriter, r *http.Request, body []byte) {
	var payload pullRequestPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	number := payload.PullRequest.Number

	if payload.Action != "closed" {
		writeMessage(w, http.StatusOK, "Webhook received")
		return
	}

	if payload.PullRequest.Merged {
		slog.Info("pr merged, refreshing knowledge base", slog.Int("pr", number))
		if _, err := h.cache.Refresh(r.Context()); err != nil {
			slog.Warn("refresh after merge failed", slog.String("error", err.Error()))
		} else {
			h.broker.Publish(sse.EventKBRefreshed, map[string]int{"pr_number": number})
		}

		at := h.now()
		if payload.PullRequest.MergedAt != nil {
			at = *payload.PullRequest.MergedAt
		}
		// Untracked PR numbers are accepted and ignored.
		if updated, err := h.ledger.MarkMerged(number, at); err != nil {
			slog.Warn("ledger update failed", slog.Int("pr", number), slog.String("error", err.Error()))
		} else if updated {
			h.broker.Publish(sse.EventPRMerged, map[string]any{"pr_number": number, "status": models.PRStatusMerged})
		}
		writeMessage(w, http.StatusOK, fmt.Sprintf("PR #%d merged, knowledge base refreshed", number))
		return
	}

	at := h.now()
	if payload.PullRequest.ClosedAt != nil {
		at = *payload.PullRequest.ClosedAt
	}
	if updated, err := h.ledger.MarkClosed(number, at); err != nil {
		slog.Warn("ledger update failed", slog.Int("pr", number), slog.String("error", err.Error()))
	} else if updated {
		h.broker.Publish(sse.EventPRClosed, map[string]any{"pr_number": number, "status": models.PRStatusClosed})
	}
	writeMessage(w, http.StatusOK, fmt.Sprintf("PR #%d closed", number))
}

func (h *Handler) handlePush(w http.ResponseWriter, r *http.Request, body []byte) {
	var payload pushPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}

	if payload.Ref != "refs/heads/"+h.defaultBranch {
		writeMessage(w, http.StatusOK, "Webhook received")
		return
	}

	slog.Info("push to default branch, refreshing knowledge base",
		slog.String("branch", h.defaultBranch))
	if _, err := h.cache.Refresh(r.Context()); err != nil {
		slog.Warn("refresh after push failed", slog.String("error", err.Error()))
	} else {
		h.broker.Publish(sse.EventKBRefreshed, map[string]string{"ref": payload.Ref})
	}
	writeMessage(w, http.StatusOK, "Knowledge base refreshed")
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"message": msg})
}
