package contrib

import (
	"context"
	"log/slog"
	"time"

	"github.com/starford/mimir/internal/github"
	"github.com/starford/mimir/internal/models"
)

// Identity is the already-resolved contributor identity a submission is
// attributed to. Resolution (proxy header, dev override, anonymous fallback)
// happens at the HTTP boundary, not here.
type Identity struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Remote is the write surface of the source adapter.
type Remote interface {
	OpenContribution(ctx context.Context, contrib github.Contribution) (*github.PROpened, error)
	OpenBatchContribution(ctx context.Context, changes []models.FileChange, prTitle string, author github.Author, baseBranch string) (*github.PROpened, error)
	ContributionStatus(ctx context.Context, prNumber int) (*github.PRStatus, error)
}

// PipelineOptions configures a Pipeline.
type PipelineOptions struct {
	Remote Remote
	Ledger *Ledger
	// BaseBranch overrides the repository default branch for PRs.
	BaseBranch string
	// Now is the clock for submission timestamps; nil means time.Now.
	Now func() time.Time
}

// Pipeline turns proposed note changes into remote pull requests and
// records them in the ledger. Submission is not transactional: a failure
// between branch creation and PR open leaves an inert branch behind, which
// is reported rather than rolled back.
type Pipeline struct {
	remote Remote
	ledger *Ledger
	base   string
	now    func() time.Time
}

// NewPipeline creates a Pipeline.
func NewPipeline(opts PipelineOptions) *Pipeline {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Pipeline{
		remote: opts.Remote,
		ledger: opts.Ledger,
		base:   opts.BaseBranch,
		now:    now,
	}
}

// Ledger exposes the PR ledger for listing and webhook updates.
func (p *Pipeline) Ledger() *Ledger { return p.ledger }

// Submit opens a single-file contribution PR and tracks it as open.
func (p *Pipeline) Submit(ctx context.Context, path, title, content string, isNew bool, id Identity) (*models.PullRequest, error) {
	opened, err := p.remote.OpenContribution(ctx, github.Contribution{
		Path:       path,
		Content:    content,
		Title:      title,
		Author:     github.Author{Name: id.Name, Email: id.Email},
		IsNew:      isNew,
		BaseBranch: p.base,
	})
	if err != nil {
		return nil, err
	}
	return p.track(opened, id, []string{path})
}

// SubmitBatch opens one PR covering every change and tracks it as open.
func (p *Pipeline) SubmitBatch(ctx context.Context, changes []models.FileChange, prTitle string, id Identity) (*models.PullRequest, error) {
	opened, err := p.remote.OpenBatchContribution(ctx, changes, prTitle,
		github.Author{Name: id.Name, Email: id.Email}, p.base)
	if err != nil {
		return nil, err
	}
	files := make([]string, len(changes))
	for i, ch := range changes {
		files[i] = ch.Path
	}
	return p.track(opened, id, files)
}

// Status polls the remote PR state and folds a terminal state into the
// ledger (forward-only; a finalized record is left untouched).
func (p *Pipeline) Status(ctx context.Context, prNumber int) (*github.PRStatus, error) {
	st, err := p.remote.ContributionStatus(ctx, prNumber)
	if err != nil {
		return nil, err
	}

	switch st.Status {
	case models.PRStatusMerged:
		at := p.now()
		if st.MergedAt != nil {
			at = *st.MergedAt
		}
		if _, err := p.ledger.MarkMerged(prNumber, at); err != nil {
			slog.Warn("ledger update failed after status poll",
				slog.Int("pr", prNumber), slog.String("error", err.Error()))
		}
	case models.PRStatusClosed:
		at := p.now()
		if st.ClosedAt != nil {
			at = *st.ClosedAt
		}
		if _, err := p.ledger.MarkClosed(prNumber, at); err != nil {
			slog.Warn("ledger update failed after status poll",
				slog.Int("pr", prNumber), slog.String("error", err.Error()))
		}
	}
	return st, nil
}

func (p *Pipeline) track(opened *github.PROpened, id Identity, files []string) (*models.PullRequest, error) {
	pr := models.PullRequest{
		Number:      opened.Number,
		URL:         opened.URL,
		Branch:      opened.Branch,
		UserEmail:   id.Email,
		Files:       files,
		Status:      models.PRStatusOpen,
		SubmittedAt: p.now(),
	}
	if err := p.ledger.Track(pr); err != nil {
		// The PR exists remotely; losing the ledger entry is worth a log
		// but not a failed submission.
		slog.Error("failed to track submitted pr",
			slog.Int("pr", pr.Number), slog.String("error", err.Error()))
	}
	slog.Info("contribution submitted",
		slog.Int("pr", pr.Number),
		slog.String("branch", pr.Branch),
		slog.String("user", id.Email),
		slog.Int("files", len(files)))
	return &pr, nil
}
