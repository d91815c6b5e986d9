package forge

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// CodeHit is a single code search match.
type CodeHit struct {
	Path       string `json:"path"`
	Name       string `json:"name"`
	URL        string `json:"url"`
	Repository string `json:"repository"`
}

// CodeSearch is the result of a repository-scoped code search.
type CodeSearch struct {
	// Total is the number of matches GitHub reports, which may exceed
	// len(Hits).
	Total int
	Hits  []CodeHit
}

// File is a repository content entry as returned by the contents API.
// Content holds the raw, still-encoded body.
type File struct {
	Type        string // "file", "dir", "symlink" or "submodule"
	Path        string
	Name        string
	SHA         string
	Size        int
	Encoding    string
	Content     string
	DownloadURL string
	HTMLURL     string
}

// ErrNoContent reports a content entry without an inline base64 body.
// GitHub omits the body for directories and for files over 1 MB.
var ErrNoContent = errors.New("forge: content not available inline")

// Text decodes the file body. Invalid UTF-8 sequences are replaced with
// U+FFFD. Returns [ErrNoContent] when there is no base64 body to decode.
func (f *File) Text() (string, error) {
	if f.Type != "" && f.Type != "file" {
		return "", ErrNoContent
	}
	if f.Encoding != "base64" || f.Content == "" {
		return "", ErrNoContent
	}
	// The API wraps base64 at 60 columns.
	raw, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(f.Content, "\n", ""))
	if err != nil {
		return "", fmt.Errorf("forge: decode %s: %w", f.Path, err)
	}
	return strings.ToValidUTF8(string(raw), string(utf8.RuneError)), nil
}

// APIError is a non-2xx response from the forge API.
type APIError struct {
	StatusCode int
	Details    string
	Err        error
}

func (e *APIError) Error() string {
	return fmt.Sprintf("forge: github API %d: %s", e.StatusCode, e.Details)
}

func (e *APIError) Unwrap() error { return e.Err }
