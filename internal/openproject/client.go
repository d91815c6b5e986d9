// Package openproject is a small client for the OpenProject API v3,
// covering the project and work package calls the assistant tools need.
//
// Every completed HTTP exchange yields a [Response], including non-2xx
// ones. Callers decide how to surface upstream failures; only transport
// and encoding problems are returned as errors.
package openproject

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/opbridge/opbridge/internal/httpkit"
)

// levelTrace matches config.LevelTrace.
const levelTrace = slog.Level(-8)

// maxBodyBytes bounds how much of a response body is buffered.
const maxBodyBytes = 1 << 20

// ErrNotFound is returned when a name or subject lookup has no match.
var ErrNotFound = errors.New("openproject: not found")

// Client talks to one OpenProject instance.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a client for the instance at baseURL. API keys are
// sent as basic auth with the username "apikey".
func NewClient(baseURL, apiKey string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(30*time.Second),
			httpkit.WithBasicAuth("apikey", apiKey),
			httpkit.WithRetry(2, time.Second),
			httpkit.WithLogger(logger),
		),
		logger: logger,
	}
}

// Response is a completed HTTP exchange.
type Response struct {
	StatusCode int
	Body       []byte
}

// OK reports whether the status code is 2xx.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Details returns up to n bytes of the body as text for error payloads.
func (r *Response) Details(n int) string {
	if len(r.Body) <= n {
		return string(r.Body)
	}
	return string(r.Body[:n])
}

// Decode unmarshals the body into v.
func (r *Response) Decode(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("openproject: decode response: %w", err)
	}
	return nil
}

// FilterParam encodes a single OpenProject filter as the value of the
// "filters" query parameter.
func FilterParam(field, operator string, values ...string) string {
	filters := []map[string]any{
		{field: map[string]any{"operator": operator, "values": values}},
	}
	data, _ := json.Marshal(filters)
	return string(data)
}

// do sends a request with an optional JSON body and buffers the response.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any) (*Response, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("openproject: marshal body: %w", err)
		}
		c.logger.Log(ctx, levelTrace, "openproject request", "method", method, "path", path, "json", string(data))
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, fmt.Errorf("openproject: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/hal+json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("openproject: %s %s: %w", method, path, err)
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("openproject: read response: %w", err)
	}

	c.logger.Debug("openproject call",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
	)
	c.logger.Log(ctx, levelTrace, "openproject response", "path", path, "json", string(data))

	return &Response{StatusCode: resp.StatusCode, Body: data}, nil
}

// collection is the HAL envelope around list results.
type collection[T any] struct {
	Total    int `json:"total"`
	Embedded struct {
		Elements []T `json:"elements"`
	} `json:"_embedded"`
}

// first decodes a collection response and returns its first element.
func first[T any](resp *Response) (*T, error) {
	var col collection[T]
	if err := resp.Decode(&col); err != nil {
		return nil, err
	}
	if len(col.Embedded.Elements) == 0 {
		return nil, ErrNotFound
	}
	return &col.Embedded.Elements[0], nil
}

func itoa(id int) string { return strconv.Itoa(id) }
