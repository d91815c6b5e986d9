package tools

import (
	"context"
	"errors"
	"log/slog"
	"unicode/utf8"

	"github.com/opbridge/opbridge/internal/forge"
)

// Defaults for the GitHub tools when the assistant omits them.
const (
	defaultSearchLimit = 5
	defaultRef         = "main"
	defaultMaxChars    = 12000
)

const contentUnavailableNote = "File content not directly available (maybe too large or not a normal file)."

type forgeTools struct {
	gh     *forge.GitHub
	logger *slog.Logger
}

// ForgeTools returns the read-only GitHub tools.
func ForgeTools(gh *forge.GitHub, logger *slog.Logger) []*Tool {
	if logger == nil {
		logger = slog.Default()
	}
	f := &forgeTools{gh: gh, logger: logger}

	repoProp := prop("string", "GitHub repo in the form owner/repo (e.g., octocat/Hello-World).")

	return []*Tool{
		{
			Name:        "github_search_code",
			Description: "Search for code files in a GitHub repository matching a query. Returns matching file paths and URLs.",
			Parameters: object([]string{"repo", "query"}, map[string]any{
				"repo":  repoProp,
				"query": prop("string", "Search query, e.g., 'auth middleware' or 'routes openproject'."),
				"limit": prop("integer", "Max number of results to return (default 5)."),
			}),
			Handler: f.searchCode,
		},
		{
			Name:        "github_get_file",
			Description: "Fetch a file's content from a GitHub repository (truncated).",
			Parameters: object([]string{"repo", "path"}, map[string]any{
				"repo":      repoProp,
				"path":      prop("string", "File path within the repo (e.g., src/app.py)."),
				"ref":       prop("string", "Branch, tag, or commit SHA. Default 'main'."),
				"max_chars": prop("integer", "Maximum characters to return (default 12000)."),
			}),
			Handler: f.getFile,
		},
	}
}

func requireRepo(args map[string]any) (string, error) {
	repo, err := requireString(args, "repo")
	if err != nil {
		return "", err
	}
	if _, _, err := forge.SplitRepo(repo); err != nil {
		return "", invalidArgument("%v", err)
	}
	return repo, nil
}

// forgeFailure turns a non-2xx GitHub response into a payload. Other
// errors are returned as upstream failures.
func forgeFailure(msg string, err error, echo map[string]any) (any, error) {
	var apiErr *forge.APIError
	if errors.As(err, &apiErr) {
		echo["error"] = msg
		echo["status_code"] = apiErr.StatusCode
		echo["details"] = apiErr.Details
		return echo, nil
	}
	return nil, upstream(err, "%s", msg)
}

func (f *forgeTools) searchCode(ctx context.Context, args map[string]any) (any, error) {
	repo, err := requireRepo(args)
	if err != nil {
		return nil, err
	}
	query, err := requireString(args, "query")
	if err != nil {
		return nil, err
	}
	limit, err := intArg(args, "limit", defaultSearchLimit)
	if err != nil {
		return nil, err
	}

	res, err := f.gh.SearchCode(ctx, repo, query, limit)
	if err != nil {
		return forgeFailure("GitHub search failed", err, map[string]any{"repo": repo, "query": query})
	}

	hits := res.Hits
	if hits == nil {
		hits = []forge.CodeHit{}
	}
	return map[string]any{
		"repo":    repo,
		"query":   query,
		"count":   len(hits),
		"results": hits,
	}, nil
}

func (f *forgeTools) getFile(ctx context.Context, args map[string]any) (any, error) {
	repo, err := requireRepo(args)
	if err != nil {
		return nil, err
	}
	path, err := requireString(args, "path")
	if err != nil {
		return nil, err
	}
	ref, err := stringArg(args, "ref", defaultRef)
	if err != nil {
		return nil, err
	}
	if ref == "" {
		ref = defaultRef
	}
	maxChars, err := intArg(args, "max_chars", defaultMaxChars)
	if err != nil {
		return nil, err
	}

	out := map[string]any{"repo": repo, "path": path, "ref": ref}

	file, err := f.gh.GetFile(ctx, repo, path, ref)
	if err != nil {
		return forgeFailure("GitHub get file failed", err, out)
	}

	text, err := file.Text()
	if errors.Is(err, forge.ErrNoContent) {
		out["note"] = contentUnavailableNote
		out["download_url"] = file.DownloadURL
		out["html_url"] = file.HTMLURL
		return out, nil
	}
	if err != nil {
		return nil, upstream(err, "GitHub get file failed")
	}

	text = truncateChars(text, maxChars)
	out["returned_chars"] = utf8.RuneCountInString(text)
	out["content"] = text
	out["html_url"] = file.HTMLURL
	return out, nil
}

// truncateChars cuts s to at most n characters.
func truncateChars(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
