// Package epoch establishes the connection epoch and classifies inbound
// messages against it.
//
// The epoch is the single instant separating historical backlog from live
// commands. It is fixed once at startup, preferably by round-tripping a
// tagged marker message through the channel and adopting the server's own
// timestamp for it (SourceServer). When the round trip fails the local wall
// clock is used instead (SourceLocal); the source tag is surfaced so
// operators and tests can tell a high-fidelity epoch from a skew-prone one.
//
// Classification is strict: a message is live only if its server timestamp
// is strictly greater than the epoch. Ties and earlier timestamps are
// backlog. The agent's own marker messages are discarded unconditionally.
package epoch
