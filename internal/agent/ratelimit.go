package agent

import "fmt"

// DefaultRestrictions limits code search to one call per inbound message.
var DefaultRestrictions = map[string]int{
	"github_search_code": 1,
}

// suggestions are appended to rejection payloads.
var suggestions = map[string]string{
	"github_search_code": "Use github_get_file to fetch specific files instead.",
}

// TurnCounter counts restricted tool calls across every loop iteration of
// one inbound message. A new counter is created per message.
type TurnCounter struct {
	limits map[string]int
	counts map[string]int
}

// NewTurnCounter returns a counter enforcing limits (tool name to max
// calls). A nil map uses [DefaultRestrictions].
func NewTurnCounter(limits map[string]int) *TurnCounter {
	if limits == nil {
		limits = DefaultRestrictions
	}
	return &TurnCounter{limits: limits, counts: make(map[string]int)}
}

// Admit records an attempt to call name and reports whether it may run.
// Unrestricted tools are always admitted; rejected attempts are not
// counted against the limit.
func (c *TurnCounter) Admit(name string) bool {
	limit, ok := c.limits[name]
	if !ok {
		return true
	}
	if c.counts[name] >= limit {
		return false
	}
	c.counts[name]++
	return true
}

// Restricted reports whether name has a per-turn limit.
func (c *TurnCounter) Restricted(name string) bool {
	_, ok := c.limits[name]
	return ok
}

// Count returns how many calls to name have been admitted.
func (c *TurnCounter) Count(name string) int {
	return c.counts[name]
}

// rateLimitPayload is the tool output for a rejected call.
func (c *TurnCounter) rateLimitPayload(name string) map[string]any {
	times := "once"
	if n := c.limits[name]; n != 1 {
		times = fmt.Sprintf("%d times", n)
	}
	out := map[string]any{
		"error": fmt.Sprintf("Rate limit reached: %s may only be called %s per request.", name, times),
		"tool":  name,
	}
	if s, ok := suggestions[name]; ok {
		out["suggestion"] = s
	}
	return out
}
