package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/opbridge/opbridge/internal/httpkit"
	"github.com/opbridge/opbridge/internal/tools"
)

// DefaultBackboardURL is the Backboard API root.
const DefaultBackboardURL = "https://app.backboard.io/api"

// levelTrace matches config.LevelTrace.
const levelTrace = slog.Level(-8)

// A non-streamed message blocks until the run settles, which can take
// well over a minute when the model is slow.
const backboardTimeout = 5 * time.Minute

// APIError is a non-2xx response from the assistant service.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("assistant: API error %d: %s", e.StatusCode, e.Body)
}

// Backboard is a [Service] backed by the Backboard REST API.
type Backboard struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

var _ Service = (*Backboard)(nil)

// NewBackboard creates a Backboard client. An empty baseURL uses
// [DefaultBackboardURL].
func NewBackboard(apiKey, baseURL string, logger *slog.Logger) *Backboard {
	if baseURL == "" {
		baseURL = DefaultBackboardURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Backboard{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(backboardTimeout),
			httpkit.WithHeader("X-API-Key", apiKey),
			httpkit.WithRetry(2, time.Second),
			httpkit.WithLogger(logger),
		),
		logger: logger,
	}
}

// functionTool is the OpenAI-style tool envelope Backboard expects.
type functionTool struct {
	Type     string           `json:"type"`
	Function tools.Descriptor `json:"function"`
}

// CreateAssistant implements [Service].
func (b *Backboard) CreateAssistant(ctx context.Context, name, description string, descriptors []tools.Descriptor) (string, error) {
	defs := make([]functionTool, 0, len(descriptors))
	for _, d := range descriptors {
		defs = append(defs, functionTool{Type: "function", Function: d})
	}

	body := map[string]any{
		"name":        name,
		"description": description,
		"tools":       defs,
	}

	var resp struct {
		AssistantID string `json:"assistant_id"`
	}
	if err := b.postJSON(ctx, "/assistants", body, &resp); err != nil {
		return "", fmt.Errorf("assistant: create assistant: %w", err)
	}
	if resp.AssistantID == "" {
		return "", fmt.Errorf("assistant: create assistant: response has no assistant_id")
	}
	return resp.AssistantID, nil
}

// CreateThread implements [Service].
func (b *Backboard) CreateThread(ctx context.Context, assistantID string) (string, error) {
	var resp struct {
		ThreadID string `json:"thread_id"`
	}
	path := "/assistants/" + url.PathEscape(assistantID) + "/threads"
	if err := b.postJSON(ctx, path, map[string]any{}, &resp); err != nil {
		return "", fmt.Errorf("assistant: create thread: %w", err)
	}
	if resp.ThreadID == "" {
		return "", fmt.Errorf("assistant: create thread: response has no thread_id")
	}
	return resp.ThreadID, nil
}

// AddMessage implements [Service].
func (b *Backboard) AddMessage(ctx context.Context, threadID, content string) (*Reply, error) {
	form := url.Values{}
	form.Set("content", content)
	form.Set("stream", "false")

	var resp messageResponse
	path := "/threads/" + url.PathEscape(threadID) + "/messages"
	if err := b.do(ctx, path, "application/x-www-form-urlencoded", []byte(form.Encode()), &resp); err != nil {
		return nil, fmt.Errorf("assistant: add message: %w", err)
	}
	return resp.reply(b.logger), nil
}

// SubmitToolOutputs implements [Service].
func (b *Backboard) SubmitToolOutputs(ctx context.Context, threadID, runID string, outputs []ToolOutput) (*Reply, error) {
	body := map[string]any{"tool_outputs": outputs}

	var resp messageResponse
	path := "/threads/" + url.PathEscape(threadID) + "/runs/" + url.PathEscape(runID) + "/submit-tool-outputs"
	if err := b.postJSON(ctx, path, body, &resp); err != nil {
		return nil, fmt.Errorf("assistant: submit tool outputs: %w", err)
	}
	return resp.reply(b.logger), nil
}

// messageResponse is the reply envelope for messages and tool outputs.
type messageResponse struct {
	Status    string `json:"status"`
	Content   string `json:"content"`
	RunID     string `json:"run_id"`
	ToolCalls []struct {
		ID       string `json:"id"`
		Function struct {
			Name            string          `json:"name"`
			Arguments       string          `json:"arguments"`
			ParsedArguments json.RawMessage `json:"parsed_arguments"`
		} `json:"function"`
	} `json:"tool_calls"`
}

func (m *messageResponse) reply(logger *slog.Logger) *Reply {
	r := &Reply{
		Status:  strings.ToUpper(m.Status),
		Content: m.Content,
		RunID:   m.RunID,
	}
	for _, tc := range m.ToolCalls {
		args, err := parseArguments(tc.Function.ParsedArguments, tc.Function.Arguments)
		if err != nil {
			logger.Warn("malformed tool call arguments",
				"tool", tc.Function.Name,
				"call_id", tc.ID,
				"error", err,
			)
		}
		r.ToolCalls = append(r.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: args,
		})
	}
	return r
}

// parseArguments prefers the pre-parsed object and falls back to the raw
// JSON string. Malformed arguments yield an empty map and an error.
func parseArguments(parsed json.RawMessage, raw string) (map[string]any, error) {
	args := map[string]any{}
	if len(parsed) > 0 && parsed[0] == '{' {
		if err := json.Unmarshal(parsed, &args); err == nil {
			return args, nil
		}
	}
	if strings.TrimSpace(raw) == "" {
		return args, nil
	}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return map[string]any{}, fmt.Errorf("decode arguments: %w", err)
	}
	return args, nil
}

func (b *Backboard) postJSON(ctx context.Context, path string, body, result any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal body: %w", err)
	}
	return b.do(ctx, path, "application/json", data, result)
}

func (b *Backboard) do(ctx context.Context, path, contentType string, body []byte, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	b.logger.Log(ctx, levelTrace, "assistant request", "path", path, "body", string(body))

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Body: httpkit.ReadErrorBody(resp.Body, 512)}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	b.logger.Log(ctx, levelTrace, "assistant response", "path", path, "body", string(data))

	if err := json.Unmarshal(data, result); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
