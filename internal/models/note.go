// Package models defines the domain types for Mimir.
package models

import "time"

// Note is a single markdown document in the knowledge base, keyed by its
// repository-relative path.
type Note struct {
	Path    string `json:"path"`
	Title   string `json:"title"`
	Content string `json:"content"`
	Topic   string `json:"topic"`
}

// DefaultTopic is assigned to notes absent from the cluster manifest.
const DefaultTopic = "General"

// Cluster groups notes under a named topic.
type Cluster struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Notes       []string `json:"notes"`
}

// Manifest is the clusters.json document stored in the note repository.
type Manifest struct {
	Clusters []Cluster `json:"clusters"`
}

// TopicFor returns the cluster name for a note filename, or DefaultTopic
// when the note is not listed. A note belongs to at most one cluster; the
// first cluster listing it wins.
func (m *Manifest) TopicFor(filename string) string {
	for _, c := range m.Clusters {
		for _, n := range c.Notes {
			if n == filename {
				if c.Name == "" {
					return DefaultTopic
				}
				return c.Name
			}
		}
	}
	return DefaultTopic
}

// DraftNote is produced by the drafting step for the caller to review before
// submission. It is ephemeral and never persisted.
type DraftNote struct {
	Path    string `json:"path"`
	Title   string `json:"title"`
	Content string `json:"content"`
	IsNew   bool   `json:"is_new"`
}

// FileChange is a single file in a batch contribution.
type FileChange struct {
	Path    string `json:"path"`
	Title   string `json:"title"`
	Content string `json:"content"`
	IsNew   bool   `json:"is_new"`
}

// Pull request statuses. Transitions are forward-only: open to merged or
// open to closed, never back.
const (
	PRStatusOpen   = "open"
	PRStatusMerged = "merged"
	PRStatusClosed = "closed"
)

// PullRequest is a tracked contribution PR. Number is assigned by the remote
// repository and is the unique key.
type PullRequest struct {
	Number      int        `json:"pr_number"`
	URL         string     `json:"pr_url"`
	Branch      string     `json:"branch"`
	UserEmail   string     `json:"user_email"`
	Files       []string   `json:"files"`
	Status      string     `json:"status"`
	SubmittedAt time.Time  `json:"submitted_at"`
	MergedAt    *time.Time `json:"merged_at,omitempty"`
	ClosedAt    *time.Time `json:"closed_at,omitempty"`
}
