package agent

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/opbridge/opbridge/internal/assistant"
	"github.com/opbridge/opbridge/internal/tools"
	"github.com/opbridge/opbridge/internal/usage"
)

// fakeService is a scripted assistant. AddMessage and SubmitToolOutputs
// return the queued replies in order; once the script runs out they
// return a completed reply with content "done".
type fakeService struct {
	mu sync.Mutex

	replies []*assistant.Reply
	errs    []error // parallel to replies; nil entries mean success

	assistantErr error
	threadErrs   int // number of CreateThread calls that fail first

	// openRun is the run last left waiting for tool outputs. With
	// rejectOpenRun set, AddMessage fails while it is non-empty, as the
	// Assistants API does.
	openRun       string
	rejectOpenRun bool

	assistantsCreated int
	threadsCreated    int
	messages          []string
	submissions       [][]assistant.ToolOutput
	descriptors       []tools.Descriptor
}

func (f *fakeService) CreateAssistant(_ context.Context, _, _ string, descriptors []tools.Descriptor) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.assistantErr != nil {
		return "", f.assistantErr
	}
	f.assistantsCreated++
	f.descriptors = descriptors
	return "asst_1", nil
}

func (f *fakeService) CreateThread(_ context.Context, assistantID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.threadErrs > 0 {
		f.threadErrs--
		return "", errors.New("thread service unavailable")
	}
	f.threadsCreated++
	return "th_" + assistantID, nil
}

func (f *fakeService) AddMessage(_ context.Context, _ string, content string) (*assistant.Reply, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rejectOpenRun && f.openRun != "" {
		return nil, &assistant.APIError{StatusCode: 400, Body: "thread has an active run " + f.openRun}
	}
	f.messages = append(f.messages, content)
	return f.next()
}

func (f *fakeService) SubmitToolOutputs(_ context.Context, _, _ string, outputs []assistant.ToolOutput) (*assistant.Reply, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submissions = append(f.submissions, outputs)
	return f.next()
}

func (f *fakeService) next() (*assistant.Reply, error) {
	f.openRun = ""
	if len(f.replies) == 0 {
		return &assistant.Reply{Status: assistant.StatusCompleted, Content: "done"}, nil
	}
	r := f.replies[0]
	f.replies = f.replies[1:]
	var err error
	if len(f.errs) > 0 {
		err = f.errs[0]
		f.errs = f.errs[1:]
	}
	if err == nil && r.RequiresAction() {
		f.openRun = r.RunID
	}
	return r, err
}

func toolCalls(runID string, calls ...assistant.ToolCall) *assistant.Reply {
	return &assistant.Reply{Status: assistant.StatusRequiresAction, RunID: runID, ToolCalls: calls}
}

func call(id, name string, args map[string]any) assistant.ToolCall {
	return assistant.ToolCall{ID: id, Name: name, Arguments: args}
}

func completed(content string) *assistant.Reply {
	return &assistant.Reply{Status: assistant.StatusCompleted, Content: content}
}

// handlerTool builds a registry tool backed by fn.
func handlerTool(name string, fn tools.Executor) *tools.Tool {
	return &tools.Tool{
		Name:        name,
		Description: name,
		Parameters:  map[string]any{"type": "object"},
		Handler:     fn,
	}
}

// counting returns an executor that counts its calls and echoes args.
func counting(n *int) tools.Executor {
	return func(_ context.Context, args map[string]any) (any, error) {
		*n++
		return map[string]any{"ok": true, "args": args}, nil
	}
}

type fakeUsage struct {
	mu      sync.Mutex
	records []usage.Record
}

func (u *fakeUsage) Record(_ context.Context, rec usage.Record) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.records = append(u.records, rec)
	return nil
}

type testEnv struct {
	svc        *fakeService
	dispatcher *Dispatcher
	usage      *fakeUsage
	sleeps     []time.Duration
}

func newTestEnv(t *testing.T, svc *fakeService, ts ...*tools.Tool) *testEnv {
	t.Helper()
	reg, err := tools.NewRegistry(ts...)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	env := &testEnv{svc: svc, usage: &fakeUsage{}}
	env.dispatcher = NewDispatcher(Config{
		Service:        svc,
		Sessions:       NewSessionManager(svc, "Project Assistant", "test", reg.Descriptors(), logger),
		Registry:       reg,
		SearchCooldown: DefaultSearchCooldown,
		Usage:          env.usage,
		Logger:         logger,
	})
	env.dispatcher.now = func() time.Time { return time.Date(2026, 3, 9, 12, 0, 0, 0, time.UTC) }
	env.dispatcher.sleep = func(_ context.Context, d time.Duration) error {
		env.sleeps = append(env.sleeps, d)
		return nil
	}
	return env
}

// decodeOutput parses one tool output payload.
func decodeOutput(t *testing.T, out assistant.ToolOutput) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal([]byte(out.Output), &m); err != nil {
		t.Fatalf("output %q is not a JSON object: %v", out.Output, err)
	}
	return m
}
