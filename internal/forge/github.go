// Package forge wraps the GitHub REST API calls the assistant can make:
// repository-scoped code search and file fetches. Both are read-only.
package forge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	gogithub "github.com/google/go-github/v69/github"
)

// GitHub is a read-only client for one GitHub host.
type GitHub struct {
	client *gogithub.Client
	logger *slog.Logger
}

// NewGitHub creates a GitHub client. An empty token makes unauthenticated
// requests. A non-empty baseURL targets a GitHub Enterprise host.
func NewGitHub(httpClient *http.Client, token, baseURL string, logger *slog.Logger) (*GitHub, error) {
	if logger == nil {
		logger = slog.Default()
	}

	client := gogithub.NewClient(httpClient)
	if token != "" {
		client = client.WithAuthToken(token)
	}
	if baseURL != "" && baseURL != "https://api.github.com" {
		var err error
		client, err = client.WithEnterpriseURLs(baseURL, baseURL)
		if err != nil {
			return nil, fmt.Errorf("forge: base url %q: %w", baseURL, err)
		}
	}

	return &GitHub{client: client, logger: logger}, nil
}

// SplitRepo splits a "owner/repo" string into its two parts.
func SplitRepo(repo string) (string, string, error) {
	parts := strings.SplitN(repo, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" || strings.Contains(parts[1], "/") {
		return "", "", fmt.Errorf("invalid repo %q: expected owner/repo", repo)
	}
	return parts[0], parts[1], nil
}

// checkRateLimit logs a warning when remaining API calls drop below threshold.
func (g *GitHub) checkRateLimit(resp *gogithub.Response) {
	if resp == nil {
		return
	}
	// Search has its own, much smaller bucket.
	if resp.Rate.Limit > 0 && resp.Rate.Remaining < min(100, resp.Rate.Limit/5) {
		g.logger.Warn("forge: github rate limit low",
			"remaining", resp.Rate.Remaining,
			"limit", resp.Rate.Limit,
			"reset", resp.Rate.Reset.Time,
		)
	}
}

// apiError converts a go-github error carrying an HTTP response into an
// [*APIError]. Transport errors are wrapped unchanged.
func apiError(op string, resp *gogithub.Response, err error) error {
	if resp == nil || resp.Response == nil {
		return fmt.Errorf("forge: %s: %w", op, err)
	}

	details := err.Error()
	var errResp *gogithub.ErrorResponse
	var rateErr *gogithub.RateLimitError
	var abuseErr *gogithub.AbuseRateLimitError
	switch {
	case errors.As(err, &errResp):
		details = errResp.Message
	case errors.As(err, &rateErr):
		details = rateErr.Message
	case errors.As(err, &abuseErr):
		details = abuseErr.Message
	}

	return &APIError{StatusCode: resp.StatusCode, Details: details, Err: err}
}

// SearchCode searches for code in a single repository. At most limit
// hits are returned.
func (g *GitHub) SearchCode(ctx context.Context, repo, query string, limit int) (*CodeSearch, error) {
	if _, _, err := SplitRepo(repo); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 5
	}

	q := fmt.Sprintf("%s repo:%s", query, repo)
	opts := &gogithub.SearchOptions{ListOptions: gogithub.ListOptions{PerPage: limit}}

	r, resp, err := g.client.Search.Code(ctx, q, opts)
	if err != nil {
		return nil, apiError("search code", resp, err)
	}
	g.checkRateLimit(resp)

	out := &CodeSearch{Total: r.GetTotal()}
	for _, item := range r.CodeResults {
		if len(out.Hits) == limit {
			break
		}
		out.Hits = append(out.Hits, CodeHit{
			Path:       item.GetPath(),
			Name:       item.GetName(),
			URL:        item.GetHTMLURL(),
			Repository: item.GetRepository().GetFullName(),
		})
	}

	g.logger.Debug("github code search",
		"repo", repo,
		"query", query,
		"total", out.Total,
		"returned", len(out.Hits),
	)
	return out, nil
}

// GetFile fetches a content entry at ref. Directories come back as a
// [File] with Type "dir" and no body.
func (g *GitHub) GetFile(ctx context.Context, repo, path, ref string) (*File, error) {
	owner, name, err := SplitRepo(repo)
	if err != nil {
		return nil, err
	}

	var opts *gogithub.RepositoryContentGetOptions
	if ref != "" {
		opts = &gogithub.RepositoryContentGetOptions{Ref: ref}
	}

	fc, dir, resp, err := g.client.Repositories.GetContents(ctx, owner, name, strings.TrimPrefix(path, "/"), opts)
	if err != nil {
		return nil, apiError("get contents", resp, err)
	}
	g.checkRateLimit(resp)

	if fc == nil {
		g.logger.Debug("github path is a directory", "repo", repo, "path", path, "entries", len(dir))
		return &File{Type: "dir", Path: path}, nil
	}

	f := &File{
		Type:        fc.GetType(),
		Path:        fc.GetPath(),
		Name:        fc.GetName(),
		SHA:         fc.GetSHA(),
		Size:        fc.GetSize(),
		Encoding:    fc.GetEncoding(),
		DownloadURL: fc.GetDownloadURL(),
		HTMLURL:     fc.GetHTMLURL(),
	}
	if fc.Content != nil {
		f.Content = *fc.Content
	}
	return f, nil
}
