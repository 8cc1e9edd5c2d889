// Package sentry runs the agent's dispatch loop: authenticate, join,
// establish the connection epoch, then poll the channel and execute live
// commands until one of them says stop.
//
// The loop owns all mutable state. The single stop latch is atomic so the
// process supervisor can observe it from outside.
package sentry
