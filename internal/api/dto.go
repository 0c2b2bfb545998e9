package api

import (
	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/mimir/internal/models"
)

// ContributeRequest is the body for a single-note contribution.
type ContributeRequest struct {
	Path    string `json:"path"`
	Title   string `json:"title"`
	Content string `json:"content"`
	IsNew   bool   `json:"is_new"`
}

// Validate validates the contribution request.
func (r ContributeRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Path, validation.Required),
		validation.Field(&r.Title, validation.Required),
		validation.Field(&r.Content, validation.Required),
	)
}

// ContributeBatchRequest is the body for a multi-file contribution.
type ContributeBatchRequest struct {
	Changes []models.FileChange `json:"changes"`
	PRTitle string              `json:"pr_title"`
}

// Validate validates the batch request and each change in it.
func (r ContributeBatchRequest) Validate() error {
	if err := validation.ValidateStruct(&r,
		validation.Field(&r.Changes, validation.Required, validation.Length(1, 0)),
	); err != nil {
		return err
	}
	for _, ch := range r.Changes {
		if err := validation.ValidateStruct(&ch,
			validation.Field(&ch.Path, validation.Required),
			validation.Field(&ch.Content, validation.Required),
		); err != nil {
			return err
		}
	}
	return nil
}

// TrackPRRequest registers an externally created PR in the ledger.
type TrackPRRequest struct {
	Number    int      `json:"pr_number"`
	URL       string   `json:"pr_url"`
	Branch    string   `json:"branch"`
	UserEmail string   `json:"user_email"`
	Files     []string `json:"files"`
}

// Validate validates the track request.
func (r TrackPRRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Number, validation.Required, validation.Min(1)),
	)
}

// NoteListResponse wraps the full note listing.
type NoteListResponse struct {
	Notes []models.Note `json:"notes"`
}

// SearchResponse wraps search results.
type SearchResponse struct {
	Results []SearchResultItem `json:"results"`
}

// SearchResultItem is one search hit in the API response.
type SearchResultItem struct {
	Path    string `json:"path"`
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
}

// PRListResponse wraps the tracked PR listing.
type PRListResponse struct {
	PRs []models.PullRequest `json:"prs"`
}
