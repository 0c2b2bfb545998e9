// Package github implements the remote source adapter for the knowledge
// repository: note fetching, manifest read/write, contribution branches and
// pull requests, and webhook signature verification.
package github

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/starford/mimir/internal/apperr"
	"github.com/starford/mimir/internal/models"
	"github.com/starford/mimir/internal/parser"
)

const (
	defaultBaseURL    = "https://api.github.com"
	defaultAPIVersion = "2022-11-28"

	// ManifestPath is the fixed location of the cluster manifest in the
	// note repository.
	ManifestPath = "clusters.json"
)

// Author identifies the person a contribution commit is attributed to.
// Commits carry the contributor's identity, not the service identity.
type Author struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Contribution is a single-file contribution request.
type Contribution struct {
	Path    string
	Content string
	Title   string
	Author  Author
	IsNew   bool
	// BaseBranch overrides the repository default branch when non-empty.
	BaseBranch string
}

// PROpened describes a freshly opened pull request.
type PROpened struct {
	URL          string `json:"pr_url"`
	Number       int    `json:"pr_number"`
	Branch       string `json:"branch"`
	FilesChanged int    `json:"files_changed,omitempty"`
}

// PRStatus is the remote state of a pull request. Status is ternary:
// "merged" takes precedence over "closed"; anything else is "open".
type PRStatus struct {
	Number   int        `json:"pr_number"`
	Status   string     `json:"status"`
	MergedAt *time.Time `json:"merged_at,omitempty"`
	ClosedAt *time.Time `json:"closed_at,omitempty"`
	URL      string     `json:"html_url"`
}

// ClientOptions configures a Client. Zero values fall back to defaults.
type ClientOptions struct {
	// Repo is the full repository name, e.g. "org/knowledge-base".
	Repo string
	// Token is the installation or personal access token.
	Token      string
	BaseURL    string
	HTTPClient *http.Client
	APIVersion string
	UserAgent  string
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	// Now is the clock used for branch naming; nil means time.Now.
	Now func() time.Time
}

// Client talks to the GitHub REST API for one knowledge repository.
type Client struct {
	repo       string
	token      string
	baseURL    string
	httpClient *http.Client
	apiVersion string
	userAgent  string
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
	now        func() time.Time
}

// NewClient creates a Client. The client is usable with empty credentials;
// operations then fail with apperr.ErrNotConfigured.
func NewClient(opts ClientOptions) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 20 * time.Second}
	}
	apiVersion := strings.TrimSpace(opts.APIVersion)
	if apiVersion == "" {
		apiVersion = defaultAPIVersion
	}
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	baseDelay := opts.BaseDelay
	if baseDelay <= 0 {
		baseDelay = 100 * time.Millisecond
	}
	maxDelay := opts.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 2 * time.Second
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Client{
		repo:       strings.TrimSpace(opts.Repo),
		token:      strings.TrimSpace(opts.Token),
		baseURL:    baseURL,
		httpClient: httpClient,
		apiVersion: apiVersion,
		userAgent:  strings.TrimSpace(opts.UserAgent),
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		maxDelay:   maxDelay,
		now:        now,
	}
}

// Repo returns the configured repository name (may be empty).
func (c *Client) Repo() string { return c.repo }

func (c *Client) configured() error {
	if c == nil || c.repo == "" || c.token == "" {
		return fmt.Errorf("%w: repository and token are required", apperr.ErrNotConfigured)
	}
	return nil
}

// FetchNotes lists the top-level markdown files on branch (the repository
// default branch when empty), decodes each, and assigns topics from the
// cluster manifest. Unreadable files are skipped rather than aborting the
// whole fetch; a failed listing is an apperr.ErrFetch.
func (c *Client) FetchNotes(ctx context.Context, branch string) (map[string]models.Note, error) {
	if err := c.configured(); err != nil {
		return nil, err
	}
	ref, err := c.resolveBranch(ctx, branch)
	if err != nil {
		return nil, fmt.Errorf("%w: resolve branch: %v", apperr.ErrFetch, err)
	}

	// Manifest absence or corruption is not fatal; topics default.
	manifest, err := c.FetchManifest(ctx, ref)
	if err != nil {
		slog.Debug("manifest unavailable, topics default to General",
			slog.String("error", err.Error()))
		manifest = &models.Manifest{}
	}

	var entries []contentEntry
	if err := c.do(ctx, http.MethodGet, "/repos/"+c.repo+"/contents/?ref="+ref, nil, &entries); err != nil {
		return nil, fmt.Errorf("%w: list repository contents: %v", apperr.ErrFetch, err)
	}

	notes := make(map[string]models.Note, len(entries))
	for _, e := range entries {
		if e.Type != "file" || !strings.HasSuffix(e.Name, ".md") {
			continue
		}
		content, _, err := c.readFile(ctx, e.Path, ref)
		if err != nil {
			slog.Warn("skipping unreadable note",
				slog.String("path", e.Path), slog.String("error", err.Error()))
			continue
		}
		notes[e.Name] = models.Note{
			Path:    e.Name,
			Title:   parser.TitleOrFilename(content, e.Name),
			Content: content,
			Topic:   manifest.TopicFor(e.Name),
		}
	}
	return notes, nil
}

// FetchManifest reads and decodes clusters.json from branch.
func (c *Client) FetchManifest(ctx context.Context, branch string) (*models.Manifest, error) {
	if err := c.configured(); err != nil {
		return nil, err
	}
	raw, _, err := c.readFile(ctx, ManifestPath, branch)
	if err != nil {
		return nil, err
	}
	var m models.Manifest
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	return &m, nil
}

// PushManifest writes clusters.json to branch as a direct commit, creating
// the file when absent and updating it otherwise. Idempotent with respect to
// the create-vs-update decision.
func (c *Client) PushManifest(ctx context.Context, manifest *models.Manifest, branch string) error {
	if err := c.configured(); err != nil {
		return err
	}
	ref, err := c.resolveBranch(ctx, branch)
	if err != nil {
		return err
	}
	content, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return err
	}

	message := "Update " + ManifestPath
	_, sha, err := c.readFile(ctx, ManifestPath, ref)
	switch {
	case err == nil:
		// Existing file: update with its revision marker.
	case isNotFound(err):
		message = "Add " + ManifestPath
		sha = ""
	default:
		return fmt.Errorf("read manifest: %w", err)
	}
	return c.writeFile(ctx, ManifestPath, string(content), message, ref, sha, Author{})
}

// OpenContribution creates a uniquely named branch off the base branch,
// commits the single file change attributed to the contribution author, and
// opens a pull request documenting the change.
func (c *Client) OpenContribution(ctx context.Context, contrib Contribution) (*PROpened, error) {
	if err := c.configured(); err != nil {
		return nil, err
	}
	base, err := c.resolveBranch(ctx, contrib.BaseBranch)
	if err != nil {
		return nil, fmt.Errorf("%w: resolve base branch: %v", apperr.ErrSubmission, err)
	}
	branch, err := c.createWorkBranch(ctx, contrib.Title, base)
	if err != nil {
		return nil, err
	}

	action, err := c.commitChange(ctx, models.FileChange{
		Path:    contrib.Path,
		Content: contrib.Content,
		Title:   contrib.Title,
		IsNew:   contrib.IsNew,
	}, branch, base, contrib.Author)
	if err != nil {
		return nil, err
	}

	body := fmt.Sprintf(`## Knowledge Base Contribution

**Note:** %s
**File:** `+"`%s`"+`
**Action:** %s
**Contributed by:** %s (%s)

---

Please review the changes and merge if appropriate.
`, contrib.Title, contrib.Path, action, contrib.Author.Name, contrib.Author.Email)

	pr, err := c.createPull(ctx, fmt.Sprintf("%s: %s", action, contrib.Title), body, branch, base)
	if err != nil {
		return nil, err
	}
	pr.FilesChanged = 1
	return pr, nil
}

// OpenBatchContribution applies all changes on one branch and opens a single
// pull request itemizing added and updated files.
func (c *Client) OpenBatchContribution(ctx context.Context, changes []models.FileChange, prTitle string, author Author, baseBranch string) (*PROpened, error) {
	if err := c.configured(); err != nil {
		return nil, err
	}
	base, err := c.resolveBranch(ctx, baseBranch)
	if err != nil {
		return nil, fmt.Errorf("%w: resolve base branch: %v", apperr.ErrSubmission, err)
	}
	branch, err := c.createWorkBranch(ctx, prTitle, base)
	if err != nil {
		return nil, err
	}

	var added, updated []string
	for _, ch := range changes {
		action, err := c.commitChange(ctx, ch, branch, base, author)
		if err != nil {
			return nil, err
		}
		if action == "Add" {
			added = append(added, fmt.Sprintf("- `%s` (new)", ch.Path))
		} else {
			updated = append(updated, fmt.Sprintf("- `%s`", ch.Path))
		}
	}

	var b strings.Builder
	b.WriteString("## Knowledge Base Contribution\n\n")
	fmt.Fprintf(&b, "**Contributed by:** %s (%s)\n\n", author.Name, author.Email)
	if len(added) > 0 {
		b.WriteString("### New Notes\n")
		b.WriteString(strings.Join(added, "\n"))
		b.WriteString("\n\n")
	}
	if len(updated) > 0 {
		b.WriteString("### Updated Notes\n")
		b.WriteString(strings.Join(updated, "\n"))
		b.WriteString("\n\n")
	}
	b.WriteString("---\n\nPlease review the changes and merge if appropriate.\n")

	pr, err := c.createPull(ctx, prTitle, b.String(), branch, base)
	if err != nil {
		return nil, err
	}
	pr.FilesChanged = len(changes)
	return pr, nil
}

// ContributionStatus reads the current remote state of a pull request.
func (c *Client) ContributionStatus(ctx context.Context, prNumber int) (*PRStatus, error) {
	if err := c.configured(); err != nil {
		return nil, err
	}
	var resp struct {
		State    string     `json:"state"`
		Merged   bool       `json:"merged"`
		MergedAt *time.Time `json:"merged_at"`
		ClosedAt *time.Time `json:"closed_at"`
		HTMLURL  string     `json:"html_url"`
	}
	path := "/repos/" + c.repo + "/pulls/" + strconv.Itoa(prNumber)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: pull request #%d", apperr.ErrNotFound, prNumber)
		}
		return nil, err
	}

	status := models.PRStatusOpen
	switch {
	case resp.Merged:
		status = models.PRStatusMerged
	case resp.State == "closed":
		status = models.PRStatusClosed
	}
	return &PRStatus{
		Number:   prNumber,
		Status:   status,
		MergedAt: resp.MergedAt,
		ClosedAt: resp.ClosedAt,
		URL:      resp.HTMLURL,
	}, nil
}

// commitChange resolves create-vs-update for one file and commits it on
// branch. The update path reads the current revision marker from the base
// branch and writes with it; the create fallback is taken only when the read
// reports a true not-found, never on transient failures.
func (c *Client) commitChange(ctx context.Context, ch models.FileChange, branch, base string, author Author) (action string, err error) {
	title := ch.Title
	if title == "" {
		title = ch.Path
	}

	sha := ""
	action = "Add"
	if !ch.IsNew {
		_, existingSHA, readErr := c.readFile(ctx, ch.Path, base)
		switch {
		case readErr == nil:
			sha = existingSHA
			action = "Update"
		case isNotFound(readErr):
			// Declared an update but the file is genuinely gone: create.
		default:
			return "", fmt.Errorf("%w: read %s: %v", apperr.ErrSubmission, ch.Path, readErr)
		}
	}

	message := action + " " + title
	if err := c.writeFile(ctx, ch.Path, ch.Content, message, branch, sha, author); err != nil {
		return "", fmt.Errorf("%w: commit %s: %v", apperr.ErrSubmission, ch.Path, err)
	}
	return action, nil
}

// createWorkBranch creates a uniquely named branch off base. The name embeds
// a slug of the title and the current unix timestamp, avoiding collisions
// without coordination.
func (c *Client) createWorkBranch(ctx context.Context, title, base string) (string, error) {
	slug := parser.Slug(title)
	if len(slug) > 30 {
		slug = strings.Trim(slug[:30], "-")
	}
	if slug == "" {
		slug = "contribution"
	}
	branch := fmt.Sprintf("kb/%s-%d", slug, c.now().Unix())

	var ref struct {
		Commit struct {
			SHA string `json:"sha"`
		} `json:"commit"`
	}
	if err := c.do(ctx, http.MethodGet, "/repos/"+c.repo+"/branches/"+base, nil, &ref); err != nil {
		return "", fmt.Errorf("%w: read base branch %s: %v", apperr.ErrSubmission, base, err)
	}

	payload := map[string]string{
		"ref": "refs/heads/" + branch,
		"sha": ref.Commit.SHA,
	}
	if err := c.do(ctx, http.MethodPost, "/repos/"+c.repo+"/git/refs", payload, nil); err != nil {
		return "", fmt.Errorf("%w: create branch %s: %v", apperr.ErrSubmission, branch, err)
	}
	return branch, nil
}

func (c *Client) createPull(ctx context.Context, title, body, head, base string) (*PROpened, error) {
	payload := map[string]string{
		"title": title,
		"body":  body,
		"head":  head,
		"base":  base,
	}
	var resp struct {
		Number  int    `json:"number"`
		HTMLURL string `json:"html_url"`
	}
	if err := c.do(ctx, http.MethodPost, "/repos/"+c.repo+"/pulls", payload, &resp); err != nil {
		return nil, fmt.Errorf("%w: open pull request: %v", apperr.ErrSubmission, err)
	}
	return &PROpened{URL: resp.HTMLURL, Number: resp.Number, Branch: head}, nil
}

// resolveBranch returns branch unchanged when non-empty, otherwise the
// repository's default branch.
func (c *Client) resolveBranch(ctx context.Context, branch string) (string, error) {
	if branch != "" {
		return branch, nil
	}
	var repo struct {
		DefaultBranch string `json:"default_branch"`
	}
	if err := c.do(ctx, http.MethodGet, "/repos/"+c.repo, nil, &repo); err != nil {
		return "", err
	}
	if repo.DefaultBranch == "" {
		return "main", nil
	}
	return repo.DefaultBranch, nil
}

type contentEntry struct {
	Name string `json:"name"`
	Path string `json:"path"`
	Type string `json:"type"`
}

// readFile fetches a file's decoded content and blob SHA (the revision
// marker used for optimistic-concurrency updates).
func (c *Client) readFile(ctx context.Context, path, ref string) (content, sha string, err error) {
	var resp struct {
		Content  string `json:"content"`
		Encoding string `json:"encoding"`
		SHA      string `json:"sha"`
	}
	url := "/repos/" + c.repo + "/contents/" + path
	if ref != "" {
		url += "?ref=" + ref
	}
	if err := c.do(ctx, http.MethodGet, url, nil, &resp); err != nil {
		return "", "", err
	}
	if resp.Encoding != "base64" {
		return resp.Content, resp.SHA, nil
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(resp.Content, "\n", ""))
	if err != nil {
		return "", "", fmt.Errorf("decode %s: %w", path, err)
	}
	return string(decoded), resp.SHA, nil
}

// writeFile creates or updates a file via the contents API. A non-empty sha
// makes it a compare-and-swap update; GitHub rejects stale shas with 409.
func (c *Client) writeFile(ctx context.Context, path, content, message, branch, sha string, author Author) error {
	payload := map[string]any{
		"message": message,
		"content": base64.StdEncoding.EncodeToString([]byte(content)),
		"branch":  branch,
	}
	if sha != "" {
		payload["sha"] = sha
	}
	if author.Name != "" || author.Email != "" {
		payload["author"] = author
	}
	err := c.do(ctx, http.MethodPut, "/repos/"+c.repo+"/contents/"+path, payload, nil)
	if err != nil && isConflict(err) {
		return fmt.Errorf("%w: %s changed concurrently: %v", apperr.ErrConflict, path, err)
	}
	return err
}

// apiError is a non-2xx response from the GitHub API.
type apiError struct {
	Status  int
	Message string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("github: status=%d message=%s", e.Status, e.Message)
}

func isNotFound(err error) bool {
	var ae *apiError
	return asAPIError(err, &ae) && ae.Status == http.StatusNotFound
}

func isConflict(err error) bool {
	var ae *apiError
	return asAPIError(err, &ae) && ae.Status == http.StatusConflict
}

func asAPIError(err error, target **apiError) bool {
	for err != nil {
		if ae, ok := err.(*apiError); ok {
			*target = ae
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// do performs one API call with bounded retries on network errors, 429s,
// and 5xx responses. out, when non-nil, receives the decoded JSON body.
func (c *Client) do(ctx context.Context, method, path string, payload, out any) error {
	var bodyBytes []byte
	if payload != nil {
		var err error
		bodyBytes, err = json.Marshal(payload)
		if err != nil {
			return err
		}
	}
	url := c.baseURL + path

	for attempt := 0; ; attempt++ {
		var reqBody io.Reader
		if bodyBytes != nil {
			reqBody = bytes.NewReader(bodyBytes)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+c.token)
		req.Header.Set("Accept", "application/vnd.github+json")
		req.Header.Set("X-GitHub-Api-Version", c.apiVersion)
		if bodyBytes != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.userAgent != "" {
			req.Header.Set("User-Agent", c.userAgent)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if attempt < c.maxRetries {
				if waitErr := sleepContext(ctx, c.retryDelay(attempt+1, "")); waitErr != nil {
					return waitErr
				}
				continue
			}
			return err
		}

		respBody, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return readErr
		}

		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			if out == nil || len(respBody) == 0 {
				return nil
			}
			return json.Unmarshal(respBody, out)
		}

		if (resp.StatusCode == http.StatusTooManyRequests || (resp.StatusCode >= 500 && resp.StatusCode <= 599)) && attempt < c.maxRetries {
			if waitErr := sleepContext(ctx, c.retryDelay(attempt+1, resp.Header.Get("Retry-After"))); waitErr != nil {
				return waitErr
			}
			continue
		}

		message := strings.TrimSpace(string(respBody))
		var parsed struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(respBody, &parsed) == nil && parsed.Message != "" {
			message = parsed.Message
		}
		return &apiError{Status: resp.StatusCode, Message: message}
	}
}

func (c *Client) retryDelay(attempt int, retryAfterHeader string) time.Duration {
	if retryAfter := parseRetryAfterSeconds(retryAfterHeader); retryAfter > 0 {
		if retryAfter > c.maxDelay {
			return c.maxDelay
		}
		return retryAfter
	}
	delay := c.baseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= c.maxDelay {
			return c.maxDelay
		}
	}
	return delay
}

func parseRetryAfterSeconds(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	seconds, err := strconv.Atoi(header)
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
