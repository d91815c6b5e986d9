package assistant

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/opbridge/opbridge/internal/httpkit"
	"github.com/opbridge/opbridge/internal/tools"
)

// OpenAI is a [Service] backed by the OpenAI Assistants API. Runs are
// polled to a settled state before a [Reply] is returned.
type OpenAI struct {
	client         oai.Client
	model          string
	pollInterval   time.Duration
	logger         *slog.Logger

	mu sync.Mutex
	// Runs need the assistant ID; the Service interface only carries
	// the thread.
	assistants map[string]string // thread ID → assistant ID
}

var _ Service = (*OpenAI)(nil)

// NewOpenAI creates an OpenAI Assistants client. baseURL may be empty.
func NewOpenAI(apiKey, model, baseURL string, pollInterval time.Duration, logger *slog.Logger) (*OpenAI, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("assistant: openai api key must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("assistant: openai model must not be empty")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(httpkit.NewClient(
			httpkit.WithTimeout(backboardTimeout),
			httpkit.WithLogger(logger),
		)),
	}
	if baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(baseURL))
	}

	return &OpenAI{
		client:         oai.NewClient(reqOpts...),
		model:          model,
		pollInterval:   pollInterval,
		logger:         logger,
		assistants:     make(map[string]string),
	}, nil
}

// CreateAssistant implements [Service].
func (o *OpenAI) CreateAssistant(ctx context.Context, name, description string, descriptors []tools.Descriptor) (string, error) {
	toolParams := make([]oai.AssistantToolUnionParam, 0, len(descriptors))
	for _, d := range descriptors {
		toolParams = append(toolParams, oai.AssistantToolUnionParam{
			OfFunction: &oai.FunctionToolParam{
				Function: shared.FunctionDefinitionParam{
					Name:        d.Name,
					Description: param.NewOpt(d.Description),
					Parameters:  shared.FunctionParameters(d.Parameters),
				},
			},
		})
	}

	a, err := o.client.Beta.Assistants.New(ctx, oai.BetaAssistantNewParams{
		Model:       shared.ChatModel(o.model),
		Name:        param.NewOpt(name),
		Description: param.NewOpt(description),
		Tools:       toolParams,
	})
	if err != nil {
		return "", fmt.Errorf("assistant: create assistant: %w", err)
	}
	return a.ID, nil
}

// CreateThread implements [Service].
func (o *OpenAI) CreateThread(ctx context.Context, assistantID string) (string, error) {
	th, err := o.client.Beta.Threads.New(ctx, oai.BetaThreadNewParams{})
	if err != nil {
		return "", fmt.Errorf("assistant: create thread: %w", err)
	}

	o.mu.Lock()
	o.assistants[th.ID] = assistantID
	o.mu.Unlock()
	return th.ID, nil
}

// AddMessage implements [Service].
func (o *OpenAI) AddMessage(ctx context.Context, threadID, content string) (*Reply, error) {
	o.mu.Lock()
	assistantID, ok := o.assistants[threadID]
	o.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("assistant: thread %q was not created by this client", threadID)
	}

	_, err := o.client.Beta.Threads.Messages.New(ctx, threadID, oai.BetaThreadMessageNewParams{
		Role: oai.BetaThreadMessageNewParamsRoleUser,
		Content: oai.BetaThreadMessageNewParamsContentUnion{
			OfString: param.NewOpt(content),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("assistant: add message: %w", err)
	}

	run, err := o.client.Beta.Threads.Runs.New(ctx, threadID, oai.BetaThreadRunNewParams{
		AssistantID: assistantID,
	})
	if err != nil {
		return nil, fmt.Errorf("assistant: run: %w", err)
	}
	if run, err = o.poll(ctx, threadID, run); err != nil {
		return nil, fmt.Errorf("assistant: run: %w", err)
	}
	return o.reply(ctx, threadID, run)
}

// SubmitToolOutputs implements [Service].
func (o *OpenAI) SubmitToolOutputs(ctx context.Context, threadID, runID string, outputs []ToolOutput) (*Reply, error) {
	params := oai.BetaThreadRunSubmitToolOutputsParams{
		ToolOutputs: make([]oai.BetaThreadRunSubmitToolOutputsParamsToolOutput, 0, len(outputs)),
	}
	for _, out := range outputs {
		params.ToolOutputs = append(params.ToolOutputs, oai.BetaThreadRunSubmitToolOutputsParamsToolOutput{
			ToolCallID: param.NewOpt(out.ToolCallID),
			Output:     param.NewOpt(out.Output),
		})
	}

	run, err := o.client.Beta.Threads.Runs.SubmitToolOutputs(ctx, threadID, runID, params)
	if err != nil {
		return nil, fmt.Errorf("assistant: submit tool outputs: %w", err)
	}
	if run, err = o.poll(ctx, threadID, run); err != nil {
		return nil, fmt.Errorf("assistant: submit tool outputs: %w", err)
	}
	return o.reply(ctx, threadID, run)
}

// poll re-reads run every poll interval until it leaves the queued,
// in_progress and cancelling states.
func (o *OpenAI) poll(ctx context.Context, threadID string, run *oai.Run) (*oai.Run, error) {
	interval := o.pollInterval
	t := time.NewTicker(interval)
	defer t.Stop()

	for pending(run.Status) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-t.C:
		}

		next, err := o.client.Beta.Threads.Runs.Get(ctx, threadID, run.ID)
		if err != nil {
			return nil, fmt.Errorf("get run %s: %w", run.ID, err)
		}
		o.logger.Log(ctx, levelTrace, "run polled", "run_id", next.ID, "status", next.Status)
		run = next
	}
	return run, nil
}

func pending(status oai.RunStatus) bool {
	switch status {
	case oai.RunStatusQueued, oai.RunStatusInProgress, oai.RunStatusCancelling:
		return true
	}
	return false
}

// reply converts a settled run into a Reply. Completed runs fetch the
// newest assistant message for their content.
func (o *OpenAI) reply(ctx context.Context, threadID string, run *oai.Run) (*Reply, error) {
	switch run.Status {
	case oai.RunStatusRequiresAction:
		r := &Reply{Status: StatusRequiresAction, RunID: run.ID}
		for _, tc := range run.RequiredAction.SubmitToolOutputs.ToolCalls {
			args, err := parseArguments(nil, tc.Function.Arguments)
			if err != nil {
				o.logger.Warn("malformed tool call arguments",
					"tool", tc.Function.Name,
					"call_id", tc.ID,
					"error", err,
				)
			}
			r.ToolCalls = append(r.ToolCalls, ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: args})
		}
		return r, nil

	case oai.RunStatusCompleted:
		page, err := o.client.Beta.Threads.Messages.List(ctx, threadID, oai.BetaThreadMessageListParams{
			Order: oai.BetaThreadMessageListParamsOrderDesc,
			Limit: param.NewOpt(int64(1)),
			RunID: param.NewOpt(run.ID),
		})
		if err != nil {
			return nil, fmt.Errorf("assistant: list messages: %w", err)
		}

		var text strings.Builder
		if len(page.Data) > 0 {
			for _, c := range page.Data[0].Content {
				if c.Type == "text" {
					text.WriteString(c.Text.Value)
				}
			}
		}
		return &Reply{Status: StatusCompleted, RunID: run.ID, Content: text.String()}, nil

	default:
		msg := run.LastError.Message
		if msg == "" {
			msg = "no error reported"
		}
		return nil, fmt.Errorf("assistant: run %s ended with status %s: %s", run.ID, run.Status, msg)
	}
}
