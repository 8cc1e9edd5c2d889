// Package liveness maintains the agent's liveness token, a timestamp file
// rewritten on a fixed interval for external monitors to watch.
package liveness
