// Package command parses the agent's closed command vocabulary and executes
// the matching side effects.
//
// Parsing and execution are deliberately separate: Parse maps a message
// body to a tagged Command variant with no side effects, and Interpreter
// runs the variant against narrow host capabilities (Processes, Artifact,
// Power). A terminating command requests a stop only when every one of its
// stages succeeded; any partial failure is reported in the reply and leaves
// the agent running for a retry.
package command
