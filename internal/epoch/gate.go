// ABOUTME: Connection epoch establishment and inbound message classification
// ABOUTME: Separates live commands from historical backlog using the server clock

package epoch

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/2389/coven-sentry/internal/channel"
)

// MarkerPrefix tags the synthetic message used to sample the server clock.
// A message from our own sender carrying this prefix is never a command.
const MarkerPrefix = "__TIMESTAMP_SYNC__"

// Source records which clock produced the epoch.
type Source string

const (
	// SourceServer means the epoch was adopted from the marker round trip
	// and carries the transport's own clock and ordering.
	SourceServer Source = "server"
	// SourceLocal means the marker round trip failed and the epoch is the
	// local wall clock. Skew against the transport clock can wrongly admit
	// or drop messages sent near startup.
	SourceLocal Source = "local"
	// SourceUnset means Establish has not completed; every message is
	// discarded until it does.
	SourceUnset Source = "unset"
)

// Verdict is the classification of one inbound message against the epoch.
type Verdict string

const (
	VerdictAccepted   Verdict = "accepted"
	VerdictNotReady   Verdict = "not_ready"
	VerdictSelfMarker Verdict = "self_marker"
	VerdictBacklog    Verdict = "backlog"
)

// Gate owns the connection epoch for one agent process. Establish sets the
// epoch exactly once; it is immutable afterwards. Messages stamped at or
// before the epoch are backlog and never reach the interpreter.
type Gate struct {
	syncTimeout time.Duration
	settle      time.Duration
	logger      *slog.Logger

	self   string
	epoch  int64
	source Source
}

// NewGate creates an unestablished gate. syncTimeout bounds each epoch sync
// call; settle is the pause between sending the marker and re-syncing.
func NewGate(syncTimeout, settle time.Duration, logger *slog.Logger) *Gate {
	return &Gate{
		syncTimeout: syncTimeout,
		settle:      settle,
		logger:      logger,
		source:      SourceUnset,
	}
}

// Epoch returns the established epoch in transport milliseconds and its
// source. The epoch is zero while the source is SourceUnset.
func (g *Gate) Epoch() (int64, Source) {
	return g.epoch, g.source
}

// Ready reports whether an epoch has been established.
func (g *Gate) Ready() bool {
	return g.source != SourceUnset
}

// Establish fixes the epoch. It primes the transport with one bounded sync,
// then sends a uniquely tagged marker and adopts the marker's server
// timestamp from a follow-up sync. If any step fails it falls back to the
// local wall clock rather than blocking startup. The only returned error is
// context cancellation.
func (g *Gate) Establish(ctx context.Context, t channel.Transport) error {
	if g.Ready() {
		g.logger.Debug("epoch already established", "epoch", g.epoch, "source", g.source)
		return nil
	}
	g.self = t.Identity()

	if _, err := t.Sync(ctx, g.syncTimeout); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		g.logger.Warn("initial sync failed", "error", err)
		g.fallback()
		return nil
	}

	marker := MarkerPrefix + uuid.New().String()
	ts, ok := g.markerRoundTrip(ctx, t, marker)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if !ok {
		g.fallback()
		return nil
	}

	g.epoch = ts
	g.source = SourceServer
	g.logger.Info("epoch established", "epoch", g.epoch, "source", g.source)
	return nil
}

// markerRoundTrip sends the marker and scans the next sync window for it,
// newest first, returning its server timestamp.
func (g *Gate) markerRoundTrip(ctx context.Context, t channel.Transport, marker string) (int64, bool) {
	if err := t.Send(ctx, marker); err != nil {
		g.logger.Warn("sending epoch marker failed", "error", err)
		return 0, false
	}

	// Give the transport a moment to commit the marker to the timeline.
	select {
	case <-ctx.Done():
		return 0, false
	case <-time.After(g.settle):
	}

	msgs, err := t.Sync(ctx, g.syncTimeout)
	if err != nil {
		g.logger.Warn("marker re-sync failed", "error", err)
		return 0, false
	}
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Sender == g.self && msgs[i].Body == marker {
			return msgs[i].Timestamp, true
		}
	}
	g.logger.Warn("epoch marker not observed in sync window")
	return 0, false
}

// fallback adopts the local wall clock as the epoch.
func (g *Gate) fallback() {
	g.epoch = time.Now().UnixMilli()
	g.source = SourceLocal
	g.logger.Warn("epoch established from local clock, skew may misclassify messages near startup",
		"epoch", g.epoch, "source", g.source)
}

// Classify decides whether one inbound message is live. Own markers are
// discarded regardless of timestamp; everything else is accepted iff its
// timestamp is strictly greater than the epoch. Ties are backlog.
func (g *Gate) Classify(msg channel.Message) Verdict {
	if !g.Ready() {
		return VerdictNotReady
	}
	if msg.Sender == g.self && strings.HasPrefix(msg.Body, MarkerPrefix) {
		return VerdictSelfMarker
	}
	if msg.Timestamp <= g.epoch {
		return VerdictBacklog
	}
	return VerdictAccepted
}
