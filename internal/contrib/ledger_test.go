package contrib

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/starford/mimir/internal/apperr"
	"github.com/starford/mimir/internal/models"
)

func openTestLedger(t *testing.T) *Ledger {
	t.Helper()
	l, err := OpenLedger(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func openPR(number int, at time.Time) models.PullRequest {
	return models.PullRequest{
		Number:      number,
		URL:         "https://github.com/org/kb/pull/1",
		Branch:      "kb/test-1700000000",
		UserEmail:   "jane@example.com",
		Files:       []string{"a.md", "b.md"},
		Status:      models.PRStatusOpen,
		SubmittedAt: at,
	}
}

func TestLedger_TrackAndGet(t *testing.T) {
	l := openTestLedger(t)
	at := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)

	if err := l.Track(openPR(1, at)); err != nil {
		t.Fatal(err)
	}

	pr, err := l.Get(1)
	if err != nil {
		t.Fatal(err)
	}
	if pr.Status != models.PRStatusOpen || pr.UserEmail != "jane@example.com" {
		t.Errorf("pr = %+v", pr)
	}
	if len(pr.Files) != 2 || pr.Files[0] != "a.md" {
		t.Errorf("Files = %v", pr.Files)
	}
	if !pr.SubmittedAt.Equal(at) {
		t.Errorf("SubmittedAt = %v, want %v", pr.SubmittedAt, at)
	}
	if pr.MergedAt != nil || pr.ClosedAt != nil {
		t.Errorf("open PR should have no terminal timestamps: %+v", pr)
	}
}

func TestLedger_GetUntracked(t *testing.T) {
	l := openTestLedger(t)
	if _, err := l.Get(42); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestLedger_TrackPreservesFinalizedStatus(t *testing.T) {
	l := openTestLedger(t)
	at := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)

	if err := l.Track(openPR(1, at)); err != nil {
		t.Fatal(err)
	}
	if _, err := l.MarkMerged(1, at.Add(time.Hour)); err != nil {
		t.Fatal(err)
	}

	// Re-tracking the same number must not resurrect it as open.
	if err := l.Track(openPR(1, at)); err != nil {
		t.Fatal(err)
	}
	pr, err := l.Get(1)
	if err != nil {
		t.Fatal(err)
	}
	if pr.Status != models.PRStatusMerged {
		t.Errorf("Status = %q, want merged preserved", pr.Status)
	}
}

func TestLedger_MarkMerged(t *testing.T) {
	l := openTestLedger(t)
	at := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	mergedAt := at.Add(2 * time.Hour)

	if err := l.Track(openPR(1, at)); err != nil {
		t.Fatal(err)
	}
	ok, err := l.MarkMerged(1, mergedAt)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected transition from open")
	}

	pr, _ := l.Get(1)
	if pr.Status != models.PRStatusMerged {
		t.Errorf("Status = %q", pr.Status)
	}
	if pr.MergedAt == nil || !pr.MergedAt.Equal(mergedAt) {
		t.Errorf("MergedAt = %v, want %v", pr.MergedAt, mergedAt)
	}
}

func TestLedger_TransitionsAreForwardOnly(t *testing.T) {
	l := openTestLedger(t)
	at := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)

	if err := l.Track(openPR(1, at)); err != nil {
		t.Fatal(err)
	}
	if ok, _ := l.MarkClosed(1, at.Add(time.Hour)); !ok {
		t.Fatal("first transition should apply")
	}
	if ok, _ := l.MarkMerged(1, at.Add(2*time.Hour)); ok {
		t.Error("closed PR must not transition to merged")
	}
	if ok, _ := l.MarkClosed(1, at.Add(3*time.Hour)); ok {
		t.Error("already-closed PR must not transition again")
	}

	pr, _ := l.Get(1)
	if pr.Status != models.PRStatusClosed {
		t.Errorf("Status = %q", pr.Status)
	}
	if pr.MergedAt != nil {
		t.Error("MergedAt should remain unset")
	}
}

func TestLedger_MarkUntrackedIsNoOp(t *testing.T) {
	l := openTestLedger(t)
	ok, err := l.MarkMerged(99, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("untracked PR should not report a transition")
	}
}

func TestLedger_ListNewestFirst(t *testing.T) {
	l := openTestLedger(t)
	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)

	for i := 1; i <= 3; i++ {
		pr := openPR(i, base.Add(time.Duration(i)*time.Hour))
		if err := l.Track(pr); err != nil {
			t.Fatal(err)
		}
	}

	prs, err := l.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(prs) != 3 {
		t.Fatalf("got %d PRs, want 3", len(prs))
	}
	if prs[0].Number != 3 || prs[2].Number != 1 {
		t.Errorf("order = %d, %d, %d; want newest first", prs[0].Number, prs[1].Number, prs[2].Number)
	}
}
