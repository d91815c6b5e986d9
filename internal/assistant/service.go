// Package assistant talks to the hosted assistant service that owns the
// conversation: assistant definitions, threads, messages and runs that
// pause for tool output.
package assistant

import (
	"context"

	"github.com/opbridge/opbridge/internal/tools"
)

// Run statuses shared by every backend.
const (
	StatusRequiresAction = "REQUIRES_ACTION"
	StatusCompleted      = "COMPLETED"
	StatusFailed         = "FAILED"
)

// Service is the hosted assistant API.
type Service interface {
	// CreateAssistant registers an assistant with the given tools and
	// returns its ID.
	CreateAssistant(ctx context.Context, name, description string, descriptors []tools.Descriptor) (string, error)

	// CreateThread opens a conversation thread for the assistant.
	CreateThread(ctx context.Context, assistantID string) (string, error)

	// AddMessage posts a user message and waits for the assistant's reply.
	AddMessage(ctx context.Context, threadID, content string) (*Reply, error)

	// SubmitToolOutputs answers every tool call of a paused run in one
	// request and waits for the next reply.
	SubmitToolOutputs(ctx context.Context, threadID, runID string, outputs []ToolOutput) (*Reply, error)
}

// ToolCall is a tool invocation requested by the assistant.
type ToolCall struct {
	ID        string
	Name      string
	Arguments map[string]any
}

// ToolOutput answers one ToolCall. ToolCallID must equal the ID of the
// call it answers.
type ToolOutput struct {
	ToolCallID string `json:"tool_call_id"`
	Output     string `json:"output"`
}

// Reply is the assistant's response to a message or to tool outputs.
type Reply struct {
	Status    string
	Content   string
	RunID     string
	ToolCalls []ToolCall
}

// RequiresAction reports whether the run is paused waiting for tool
// outputs.
func (r *Reply) RequiresAction() bool {
	return r != nil && r.Status == StatusRequiresAction && len(r.ToolCalls) > 0
}
