// Package prompts contains the instruction text opbridge sends to the
// hosted assistant.
//
// Prompt text is Go code rather than config because it is program logic:
// it is assembled with fmt/strings interpolation and validated by tests.
// Each prompt gets an exported function that accepts the dynamic parts and
// returns the fully interpolated string.
package prompts
