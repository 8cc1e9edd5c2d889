// ABOUTME: The agent's dispatch loop tying transport, epoch gate, and interpreter together
// ABOUTME: Polls the channel, executes live commands, and latches the stop decision

package sentry

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/2389/coven-sentry/internal/channel"
	"github.com/2389/coven-sentry/internal/command"
	"github.com/2389/coven-sentry/internal/dedupe"
	"github.com/2389/coven-sentry/internal/epoch"
	"github.com/2389/coven-sentry/internal/journal"
)

// Timing groups the dispatch loop cadence knobs.
type Timing struct {
	// PollTimeout bounds each sync request.
	PollTimeout time.Duration
	// PollInterval is the pause between successful polls.
	PollInterval time.Duration
	// ErrorBackoff is the pause after a failed poll.
	ErrorBackoff time.Duration
}

// Config wires an Agent.
type Config struct {
	// Identity is the agent name commands are scoped to, distinct from the
	// transport's own user ID.
	Identity  string
	Transport channel.Transport
	Gate      *epoch.Gate
	Interp    *command.Interpreter
	// Journal is optional; nil disables command journaling.
	Journal *journal.Journal
	// Window is optional; nil disables duplicate event suppression.
	Window *dedupe.Window
	Timing Timing
	Logger *slog.Logger
}

// Agent is one sentry process: a persistent channel connection, an epoch
// gate fencing off history, and an interpreter for the command vocabulary.
type Agent struct {
	identity  string
	transport channel.Transport
	gate      *epoch.Gate
	interp    *command.Interpreter
	journal   *journal.Journal
	window    *dedupe.Window
	timing    Timing
	logger    *slog.Logger

	// stopping latches true when a terminating command fully succeeds. It
	// is the only state shared outside the dispatch goroutine.
	stopping atomic.Bool
}

// New creates an Agent from cfg, applying the default cadence where a
// knob is zero.
func New(cfg Config) *Agent {
	if cfg.Timing.PollTimeout == 0 {
		cfg.Timing.PollTimeout = 30 * time.Second
	}
	if cfg.Timing.PollInterval == 0 {
		cfg.Timing.PollInterval = time.Second
	}
	if cfg.Timing.ErrorBackoff == 0 {
		cfg.Timing.ErrorBackoff = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default().With("component", "sentry")
	}

	return &Agent{
		identity:  cfg.Identity,
		transport: cfg.Transport,
		gate:      cfg.Gate,
		interp:    cfg.Interp,
		journal:   cfg.Journal,
		window:    cfg.Window,
		timing:    cfg.Timing,
		logger:    cfg.Logger,
	}
}

// Stopping reports whether a terminating command has latched the stop
// decision.
func (a *Agent) Stopping() bool {
	return a.stopping.Load()
}

// Run connects, establishes the epoch, and dispatches commands until a
// terminating command succeeds or ctx is cancelled. Authentication
// failure is the only fatal error; a failed join is logged and polling
// proceeds, since the agent may already be in the room.
func (a *Agent) Run(ctx context.Context) error {
	if err := a.transport.Authenticate(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("authenticating: %w", err)
	}

	if err := a.transport.Join(ctx); err != nil {
		a.logger.Warn("joining channel failed, continuing", "error", err)
	}

	if err := a.gate.Establish(ctx, a.transport); err != nil {
		// Establish fails only on context cancellation.
		return nil
	}

	epochMS, source := a.gate.Epoch()
	a.logger.Info("agent online",
		"identity", a.identity,
		"epoch", epochMS,
		"epoch_source", source,
	)

	for {
		if ctx.Err() != nil {
			return nil
		}

		msgs, err := a.transport.Sync(ctx, a.timing.PollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			a.logger.Error("channel sync failed", "error", err)
			if !a.sleep(ctx, a.timing.ErrorBackoff) {
				return nil
			}
			continue
		}

		for _, msg := range msgs {
			a.handle(ctx, msg)
			if a.stopping.Load() {
				a.logger.Info("stop latched, leaving dispatch loop")
				return nil
			}
		}

		if !a.sleep(ctx, a.timing.PollInterval) {
			return nil
		}
	}
}

// handle runs one inbound message through the suppression window, the
// epoch gate, the parser, and the interpreter.
func (a *Agent) handle(ctx context.Context, msg channel.Message) {
	if a.window != nil && a.window.Seen(msg.ID) {
		a.logger.Debug("dropping duplicate event", "event_id", msg.ID)
		return
	}

	if v := a.gate.Classify(msg); v != epoch.VerdictAccepted {
		a.logger.Debug("dropping message", "verdict", v, "event_id", msg.ID, "timestamp", msg.Timestamp)
		return
	}

	cmd := command.Parse(a.identity, msg.Body)
	if cmd.Kind == command.KindUnknown {
		a.logger.Debug("ignoring unrecognized message", "sender", msg.Sender)
		return
	}

	a.logger.Info("executing command", "kind", cmd.Kind, "level", cmd.Level, "sender", msg.Sender)
	outcome := a.interp.Execute(ctx, cmd)

	// Journal before replying so the record survives a failed send.
	a.record(ctx, msg, cmd, outcome)

	if outcome.Reply != "" {
		if err := a.transport.Send(ctx, outcome.Reply); err != nil {
			a.logger.Error("sending reply failed", "error", err)
		}
	}

	if outcome.Stop {
		a.logger.Info("terminating command succeeded, latching stop", "kind", cmd.Kind, "level", cmd.Level)
		a.stopping.Store(true)
	}
}

// record writes one executed command to the journal. Journal failures are
// logged and never block dispatch.
func (a *Agent) record(ctx context.Context, msg channel.Message, cmd command.Command, outcome command.Outcome) {
	if a.journal == nil {
		return
	}

	entry := &journal.Entry{
		Identity:   a.identity,
		Sender:     msg.Sender,
		Body:       msg.Body,
		Kind:       string(cmd.Kind),
		Level:      cmd.Level,
		Reply:      outcome.Reply,
		Stop:       outcome.Stop,
		ReceivedAt: msg.Timestamp,
	}
	if err := a.journal.Record(ctx, entry); err != nil {
		a.logger.Error("recording command failed", "error", err)
	}
}

// sleep waits d or until ctx is cancelled, reporting whether the full
// wait elapsed.
func (a *Agent) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
