// Package agent runs the tool-call dispatch loop between the hosted
// assistant and the tool executors, and the single worker that serializes
// turns on the shared session.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"

	"github.com/opbridge/opbridge/internal/assistant"
	"github.com/opbridge/opbridge/internal/observe"
	"github.com/opbridge/opbridge/internal/prompts"
	"github.com/opbridge/opbridge/internal/tools"
	"github.com/opbridge/opbridge/internal/usage"
)

// ErrIterationLimit is returned when the assistant keeps requesting tools
// past the configured number of rounds.
var ErrIterationLimit = errors.New("agent: tool iteration limit reached")

// Defaults for [Config] zero values.
const (
	DefaultMaxIterations  = 16
	DefaultSearchCooldown = time.Second
)

// UsageRecorder persists tool call records. [*usage.Store] implements it.
type UsageRecorder interface {
	Record(ctx context.Context, rec usage.Record) error
}

// Config wires a [Dispatcher].
type Config struct {
	Service  assistant.Service
	Sessions *SessionManager
	Registry *tools.Registry

	// Restrictions maps tool names to per-message call limits. Nil uses
	// DefaultRestrictions.
	Restrictions map[string]int

	// SearchCooldown is slept after each successful restricted call.
	SearchCooldown time.Duration
	MaxIterations  int

	Metrics *observe.Metrics
	Usage   UsageRecorder // optional
	Logger  *slog.Logger
}

// Dispatcher runs one conversation turn: it posts the message, executes
// the tool calls the assistant asks for and returns the final text.
type Dispatcher struct {
	svc           assistant.Service
	sessions      *SessionManager
	registry      *tools.Registry
	restrictions  map[string]int
	cooldown      time.Duration
	maxIterations int
	metrics       *observe.Metrics
	usage         UsageRecorder
	logger        *slog.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewDispatcher returns a dispatcher for cfg.
func NewDispatcher(cfg Config) *Dispatcher {
	d := &Dispatcher{
		svc:           cfg.Service,
		sessions:      cfg.Sessions,
		registry:      cfg.Registry,
		restrictions:  cfg.Restrictions,
		cooldown:      cfg.SearchCooldown,
		maxIterations: cfg.MaxIterations,
		metrics:       cfg.Metrics,
		usage:         cfg.Usage,
		logger:        cfg.Logger,
		now:           time.Now,
		sleep:         sleepContext,
	}
	if d.cooldown < 0 {
		d.cooldown = 0
	}
	if d.maxIterations <= 0 {
		d.maxIterations = DefaultMaxIterations
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	if d.metrics == nil {
		d.metrics, _ = observe.NewMetrics(noop.NewMeterProvider())
	}
	return d
}

// Warmup creates the session ahead of the first message.
func (d *Dispatcher) Warmup(ctx context.Context) error {
	_, err := d.sessions.Ensure(ctx)
	return err
}

// Process runs one turn for message and returns the assistant's final
// reply. A blank message returns "" without contacting the assistant.
func (d *Dispatcher) Process(ctx context.Context, message string) (string, error) {
	if strings.TrimSpace(message) == "" {
		return "", nil
	}

	turnID := newTurnID()
	ctx = tools.WithTurnID(ctx, turnID)
	ctx, span := observe.StartSpan(ctx, "dispatch.turn", trace.WithAttributes(attribute.String("turn_id", turnID)))
	defer span.End()

	log := d.logger.With("turn", turnID)
	start := time.Now()

	reply, err := d.run(ctx, log, message)
	status := observe.StatusOK
	if err != nil {
		status = observe.StatusError
		span.RecordError(err)
	}
	d.metrics.RecordTurn(ctx, status, time.Since(start).Seconds())

	if err != nil {
		log.Error("turn failed", "error", err, "elapsed", time.Since(start).Round(time.Millisecond))
		return "", err
	}
	log.Info("turn completed", "elapsed", time.Since(start).Round(time.Millisecond), "reply_len", len(reply))
	return reply, nil
}

func (d *Dispatcher) run(ctx context.Context, log *slog.Logger, message string) (string, error) {
	sess, err := d.sessions.Ensure(ctx)
	if err != nil {
		return "", err
	}

	prompt := prompts.Dispatch(message, d.now())
	reply, err := d.addMessage(ctx, sess.ThreadID, prompt)
	if err != nil {
		return "", err
	}

	counter := NewTurnCounter(d.restrictions)
	for iter := 0; reply.RequiresAction(); iter++ {
		if iter >= d.maxIterations {
			log.Warn("tool iteration limit reached", "iterations", iter, "run_id", reply.RunID)
			d.abandonRun(ctx, log, sess.ThreadID, reply)
			return "", ErrIterationLimit
		}

		log.Debug("assistant requested tools", "iter", iter, "run_id", reply.RunID, "calls", len(reply.ToolCalls))

		outputs := make([]assistant.ToolOutput, 0, len(reply.ToolCalls))
		for _, call := range reply.ToolCalls {
			outputs = append(outputs, d.dispatch(ctx, log, sess, counter, call))
		}

		reply, err = d.submit(ctx, sess.ThreadID, reply.RunID, outputs)
		if err != nil {
			return "", err
		}
	}

	return reply.Content, nil
}

func (d *Dispatcher) addMessage(ctx context.Context, threadID, content string) (*assistant.Reply, error) {
	start := time.Now()
	reply, err := d.svc.AddMessage(ctx, threadID, content)
	d.metrics.RecordAssistantCall(ctx, "add_message", time.Since(start).Seconds(), err)
	if err != nil {
		return nil, fmt.Errorf("add message: %w", err)
	}
	return reply, nil
}

func (d *Dispatcher) submit(ctx context.Context, threadID, runID string, outputs []assistant.ToolOutput) (*assistant.Reply, error) {
	start := time.Now()
	reply, err := d.svc.SubmitToolOutputs(ctx, threadID, runID, outputs)
	d.metrics.RecordAssistantCall(ctx, "submit_tool_outputs", time.Since(start).Seconds(), err)
	if err != nil {
		return nil, fmt.Errorf("submit tool outputs: %w", err)
	}
	return reply, nil
}

// abandonRun answers every pending call in reply with an error so the
// run ends and the shared thread accepts new messages again.
func (d *Dispatcher) abandonRun(ctx context.Context, log *slog.Logger, threadID string, reply *assistant.Reply) {
	payload, _ := json.Marshal(map[string]any{"error": "tool iteration limit reached"})
	outputs := make([]assistant.ToolOutput, 0, len(reply.ToolCalls))
	for _, call := range reply.ToolCalls {
		outputs = append(outputs, assistant.ToolOutput{ToolCallID: call.ID, Output: string(payload)})
	}

	final, err := d.submit(ctx, threadID, reply.RunID, outputs)
	switch {
	case err != nil:
		log.Error("failed to close run after iteration limit", "run_id", reply.RunID, "error", err)
	case final.RequiresAction():
		log.Warn("run still waiting for tools after iteration limit", "run_id", final.RunID)
	}
}

// dispatch produces the output for one tool call. It never fails: every
// outcome, including unknown tools, rejections and executor errors,
// becomes a payload correlated with call.ID.
func (d *Dispatcher) dispatch(ctx context.Context, log *slog.Logger, sess *Session, counter *TurnCounter, call assistant.ToolCall) assistant.ToolOutput {
	start := time.Now()
	rec := usage.Record{
		TurnID:   tools.TurnIDFromContext(ctx),
		ThreadID: sess.ThreadID,
		CallID:   call.ID,
		Tool:     call.Name,
	}

	var payload any
	tool, err := d.registry.Lookup(call.Name)
	switch {
	case err != nil:
		rec.Status = observe.StatusUnknown
		payload = tools.ErrorPayload(err)
		log.Warn("unknown tool requested", "tool", call.Name, "call_id", call.ID)

	case !counter.Admit(call.Name):
		rec.Status = observe.StatusRateLimited
		payload = counter.rateLimitPayload(call.Name)
		log.Warn("tool call rejected by rate limit", "tool", call.Name, "call_id", call.ID)

	default:
		payload, err = d.execute(ctx, tool, call)
		rec.Status = observe.StatusOK
		if err != nil {
			rec.Status = observe.StatusError
			var execErr *tools.ExecError
			if errors.As(err, &execErr) {
				rec.ErrorKind = string(execErr.Kind)
			}
			payload = tools.ErrorPayload(err)
			log.Warn("tool failed", "tool", call.Name, "call_id", call.ID, "error", err)
		} else if failed(payload) {
			rec.Status = observe.StatusError
			rec.ErrorKind = string(tools.Upstream)
		}
	}

	elapsed := time.Since(start)
	rec.DurationMs = elapsed.Milliseconds()
	d.metrics.RecordToolCall(ctx, call.Name, rec.Status)
	if rec.Status != observe.StatusUnknown && rec.Status != observe.StatusRateLimited {
		d.metrics.RecordToolDuration(ctx, call.Name, elapsed.Seconds())
	}
	d.record(ctx, log, rec)

	out, err := json.Marshal(payload)
	if err != nil {
		out, _ = json.Marshal(tools.ErrorPayload(fmt.Errorf("encode tool output: %w", err)))
	}

	log.Debug("tool executed", "tool", call.Name, "call_id", call.ID, "status", rec.Status, "elapsed", elapsed.Round(time.Millisecond))

	if rec.Status == observe.StatusOK && counter.Restricted(call.Name) && d.cooldown > 0 {
		if err := d.sleep(ctx, d.cooldown); err != nil {
			log.Debug("cooldown interrupted", "tool", call.Name, "error", err)
		}
	}

	return assistant.ToolOutput{ToolCallID: call.ID, Output: string(out)}
}

// execute runs the tool handler, converting a panic into an error.
func (d *Dispatcher) execute(ctx context.Context, tool *tools.Tool, call assistant.ToolCall) (payload any, err error) {
	ctx, span := observe.StartSpan(ctx, "tool."+tool.Name, trace.WithAttributes(attribute.String("call_id", call.ID)))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("tool panicked",
				"tool", tool.Name,
				"call_id", call.ID,
				"panic", r,
				"stack", string(debug.Stack()),
			)
			payload = nil
			err = fmt.Errorf("tool %s panicked: %v", tool.Name, r)
		}
	}()

	args := call.Arguments
	if args == nil {
		args = map[string]any{}
	}
	return tool.Handler(ctx, args)
}

func (d *Dispatcher) record(ctx context.Context, log *slog.Logger, rec usage.Record) {
	if d.usage == nil {
		return
	}
	if err := d.usage.Record(ctx, rec); err != nil {
		log.Warn("failed to record tool call", "tool", rec.Tool, "error", err)
	}
}

// failed reports whether an executor payload describes an upstream
// failure (non-2xx) rather than a success.
func failed(payload any) bool {
	m, ok := payload.(map[string]any)
	if !ok {
		return false
	}
	_, has := m["error"]
	return has
}

func newTurnID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
