// Package contrib implements the contribution pipeline: turning proposed
// note changes into remote pull requests and tracking those PRs in a local
// ledger.
package contrib

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/starford/mimir/internal/apperr"
	"github.com/starford/mimir/internal/models"
)

const ledgerSchemaSQL = `
CREATE TABLE IF NOT EXISTS prs (
	number       INTEGER PRIMARY KEY,
	url          TEXT NOT NULL DEFAULT '',
	branch       TEXT NOT NULL DEFAULT '',
	user_email   TEXT NOT NULL DEFAULT '',
	files        TEXT NOT NULL DEFAULT '[]',
	status       TEXT NOT NULL DEFAULT 'open',
	submitted_at DATETIME NOT NULL,
	merged_at    DATETIME,
	closed_at    DATETIME
);
`

// Ledger records the pull requests this service has opened. Status
// transitions are forward-only: a merged or closed record is never moved
// back to open.
type Ledger struct {
	conn *sql.DB
}

// OpenLedger opens (or creates) the ledger database. Use ":memory:" for an
// ephemeral ledger.
func OpenLedger(dsn string) (*Ledger, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("ledger: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ledger: ping: %w", err)
	}
	if _, err := conn.Exec(ledgerSchemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ledger: apply schema: %w", err)
	}
	return &Ledger{conn: conn}, nil
}

// Close closes the underlying database connection.
func (l *Ledger) Close() error {
	return l.conn.Close()
}

// Track inserts or replaces a PR record.
func (l *Ledger) Track(pr models.PullRequest) error {
	filesJSON, _ := json.Marshal(pr.Files)
	status := pr.Status
	if status == "" {
		status = models.PRStatusOpen
	}
	_, err := l.conn.Exec(`
		INSERT INTO prs (number, url, branch, user_email, files, status, submitted_at, merged_at, closed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(number) DO UPDATE SET
			url        = excluded.url,
			branch     = excluded.branch,
			user_email = excluded.user_email,
			files      = excluded.files
	`, pr.Number, pr.URL, pr.Branch, pr.UserEmail, string(filesJSON), status,
		pr.SubmittedAt, pr.MergedAt, pr.ClosedAt)
	if err != nil {
		return fmt.Errorf("ledger: track pr #%d: %w", pr.Number, err)
	}
	return nil
}

// Get returns one tracked PR, or apperr.ErrNotFound.
func (l *Ledger) Get(number int) (*models.PullRequest, error) {
	row := l.conn.QueryRow(`
		SELECT number, url, branch, user_email, files, status, submitted_at, merged_at, closed_at
		FROM prs WHERE number = ?
	`, number)
	pr, err := scanPR(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: pr #%d", apperr.ErrNotFound, number)
	}
	if err != nil {
		return nil, fmt.Errorf("ledger: get pr #%d: %w", number, err)
	}
	return pr, nil
}

// List returns every tracked PR, most recently submitted first.
func (l *Ledger) List() ([]models.PullRequest, error) {
	rows, err := l.conn.Query(`
		SELECT number, url, branch, user_email, files, status, submitted_at, merged_at, closed_at
		FROM prs ORDER BY submitted_at DESC, number DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("ledger: list: %w", err)
	}
	defer rows.Close()

	out := []models.PullRequest{}
	for rows.Next() {
		pr, err := scanPR(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *pr)
	}
	return out, rows.Err()
}

// MarkMerged moves an open PR to merged. Returns false when the PR is
// untracked or already finalized; callers treat that as a no-op.
func (l *Ledger) MarkMerged(number int, at time.Time) (bool, error) {
	return l.finalize(number, models.PRStatusMerged, "merged_at", at)
}

// MarkClosed moves an open PR to closed (unmerged).
func (l *Ledger) MarkClosed(number int, at time.Time) (bool, error) {
	return l.finalize(number, models.PRStatusClosed, "closed_at", at)
}

func (l *Ledger) finalize(number int, status, tsColumn string, at time.Time) (bool, error) {
	// tsColumn is one of the two schema constants above, never user input.
	res, err := l.conn.Exec(`
		UPDATE prs SET status = ?, `+tsColumn+` = ?
		WHERE number = ? AND status = 'open'
	`, status, at, number)
	if err != nil {
		return false, fmt.Errorf("ledger: mark pr #%d %s: %w", number, status, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPR(row rowScanner) (*models.PullRequest, error) {
	var (
		pr        models.PullRequest
		filesJSON string
		mergedAt  sql.NullTime
		closedAt  sql.NullTime
	)
	err := row.Scan(&pr.Number, &pr.URL, &pr.Branch, &pr.UserEmail, &filesJSON,
		&pr.Status, &pr.SubmittedAt, &mergedAt, &closedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(filesJSON), &pr.Files); err != nil {
		pr.Files = nil
	}
	if mergedAt.Valid {
		t := mergedAt.Time
		pr.MergedAt = &t
	}
	if closedAt.Valid {
		t := closedAt.Time
		pr.ClosedAt = &t
	}
	return &pr, nil
}
