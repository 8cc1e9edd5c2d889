// Package matrix adapts a Matrix homeserver room to the channel transport
// interface. Login is by username and password, and polling uses explicit
// bounded sync requests so the dispatch loop owns its own cadence.
package matrix
