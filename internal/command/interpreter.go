// ABOUTME: Command execution with capability-backed side effects
// ABOUTME: Produces the reply text and stop decision for each parsed command

package command

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"
)

// ProcessInfo describes one running process.
type ProcessInfo struct {
	PID     int32
	Name    string
	Cmdline []string
}

// Processes enumerates and stops processes on the host.
type Processes interface {
	List(ctx context.Context) ([]ProcessInfo, error)
	Terminate(pid int32) error
	Kill(pid int32) error
}

// Artifact manipulates the startup artifact that re-launches the agent.
type Artifact interface {
	Exists(path string) bool
	Hide(path string) error
	Delete(path string) error
}

// Power shuts down or restarts the host after a delay.
type Power interface {
	Shutdown(delay time.Duration) error
	Restart(delay time.Duration) error
}

// Outcome is the result of executing one command. An empty Reply means
// nothing is sent back. Stop is true only when every side effect of a
// terminating command succeeded; partial failure reports the error and
// leaves the agent running so the operator can retry.
type Outcome struct {
	Reply string
	Stop  bool
}

// Config wires an Interpreter.
type Config struct {
	// Identity is the agent name commands are scoped to.
	Identity string
	// ProcessNames are the command-line substrings identifying sibling
	// agent processes.
	ProcessNames []string
	// ArtifactPath locates the startup artifact. Empty means none is
	// configured and hide/delete stages fail.
	ArtifactPath string
	// PowerDelay is passed to the host power capability so the reply can
	// be sent before the host goes down.
	PowerDelay time.Duration
	// TerminateGrace is the wait between terminating siblings and force
	// killing the survivors.
	TerminateGrace time.Duration
	// SelfPID is excluded from sibling matching. Defaults to the current
	// process; stopping self is the run flag's job, not a signal.
	SelfPID int32

	Processes Processes
	Artifact  Artifact
	Power     Power
	Logger    *slog.Logger
}

// Interpreter executes parsed commands against the host capabilities.
type Interpreter struct {
	identity     string
	processNames []string
	artifactPath string
	powerDelay   time.Duration
	grace        time.Duration
	selfPID      int32

	procs    Processes
	artifact Artifact
	power    Power
	logger   *slog.Logger
}

// New creates an Interpreter from cfg, applying defaults for the grace
// period (2s), power delay (5s), and self PID.
func New(cfg Config) *Interpreter {
	if cfg.TerminateGrace == 0 {
		cfg.TerminateGrace = 2 * time.Second
	}
	if cfg.PowerDelay == 0 {
		cfg.PowerDelay = 5 * time.Second
	}
	if cfg.SelfPID == 0 {
		cfg.SelfPID = int32(os.Getpid())
	}
	return &Interpreter{
		identity:     cfg.Identity,
		processNames: cfg.ProcessNames,
		artifactPath: cfg.ArtifactPath,
		powerDelay:   cfg.PowerDelay,
		grace:        cfg.TerminateGrace,
		selfPID:      cfg.SelfPID,
		procs:        cfg.Processes,
		artifact:     cfg.Artifact,
		power:        cfg.Power,
		logger:       cfg.Logger,
	}
}

// Execute runs the side effects for cmd and builds the channel reply.
// Unknown commands produce a zero Outcome.
func (i *Interpreter) Execute(ctx context.Context, cmd Command) Outcome {
	switch cmd.Kind {
	case KindPing:
		return Outcome{Reply: fmt.Sprintf("Yes %s is online", i.identity)}

	case KindPowerOff:
		if err := i.power.Shutdown(i.powerDelay); err != nil {
			i.logger.Error("host shutdown failed", "error", err)
			return Outcome{Reply: fmt.Sprintf("Error from %s: Failed to initiate shutdown", i.identity)}
		}
		i.logger.Info("host shutdown initiated", "delay", i.powerDelay)
		return Outcome{Reply: fmt.Sprintf("shutdown confirmed for %s", i.identity)}

	case KindReboot:
		if err := i.power.Restart(i.powerDelay); err != nil {
			i.logger.Error("host restart failed", "error", err)
			return Outcome{Reply: fmt.Sprintf("Error from %s: Failed to initiate restart", i.identity)}
		}
		i.logger.Info("host restart initiated", "delay", i.powerDelay)
		return Outcome{Reply: fmt.Sprintf("restart confirmed for %s", i.identity)}

	case KindTerminate:
		return i.terminate(ctx, cmd.Level)
	}

	return Outcome{}
}

// terminate runs the staged stop for the given level: stop sibling
// processes, then hide (level 4) or delete (levels 3 and 2) the startup
// artifact. The artifact stage is skipped when the process stage reported
// errors so the command can be retried whole.
func (i *Interpreter) terminate(ctx context.Context, level int) Outcome {
	stopped, errs := i.stopSiblings(ctx)
	if len(errs) > 0 {
		i.logger.Error("sibling stop reported errors", "level", level, "errors", strings.Join(errs, "; "))
		return Outcome{Reply: fmt.Sprintf("Error from %s on DEFCON %d: %s", i.identity, level, strings.Join(errs, "; "))}
	}
	i.logger.Info("sibling processes stopped", "level", level, "stopped", len(stopped))

	switch level {
	case 4:
		if err := i.artifact.Hide(i.artifactPath); err != nil {
			i.logger.Error("hiding startup artifact failed", "path", i.artifactPath, "error", err)
			return Outcome{Reply: fmt.Sprintf("Error from %s on DEFCON 4: Failed to hide startup artifact", i.identity)}
		}
	case 3, 2:
		if err := i.artifact.Delete(i.artifactPath); err != nil {
			i.logger.Error("deleting startup artifact failed", "path", i.artifactPath, "error", err)
			return Outcome{Reply: fmt.Sprintf("Error from %s on DEFCON %d: Failed to delete startup artifact", i.identity, level)}
		}
	}

	return Outcome{Reply: fmt.Sprintf("Success from %s on DEFCON %d", i.identity, level), Stop: true}
}

// stopSiblings terminates every process whose command line matches one of
// the configured names, waits out the grace period, then force kills the
// survivors. Every capability error lands in errs; the caller treats a
// non-empty errs as a failed stage.
func (i *Interpreter) stopSiblings(ctx context.Context) (stopped, errs []string) {
	procs, err := i.procs.List(ctx)
	if err != nil {
		return nil, []string{fmt.Sprintf("listing processes: %v", err)}
	}

	matched := false
	for _, p := range procs {
		if !i.isSibling(p) {
			continue
		}
		matched = true
		if err := i.procs.Terminate(p.PID); err != nil {
			errs = append(errs, fmt.Sprintf("terminating %s (PID: %d): %v", p.Name, p.PID, err))
			continue
		}
		stopped = append(stopped, fmt.Sprintf("%s (PID: %d)", p.Name, p.PID))
	}
	if !matched {
		return stopped, errs
	}

	select {
	case <-ctx.Done():
		errs = append(errs, ctx.Err().Error())
		return stopped, errs
	case <-time.After(i.grace):
	}

	survivors, err := i.procs.List(ctx)
	if err != nil {
		errs = append(errs, fmt.Sprintf("re-listing processes: %v", err))
		return stopped, errs
	}
	for _, p := range survivors {
		if !i.isSibling(p) {
			continue
		}
		if err := i.procs.Kill(p.PID); err != nil {
			errs = append(errs, fmt.Sprintf("killing %s (PID: %d): %v", p.Name, p.PID, err))
			continue
		}
		stopped = append(stopped, fmt.Sprintf("%s (PID: %d) - force killed", p.Name, p.PID))
	}
	return stopped, errs
}

// isSibling reports whether p is another instance of this agent family.
func (i *Interpreter) isSibling(p ProcessInfo) bool {
	if p.PID == i.selfPID {
		return false
	}
	for _, arg := range p.Cmdline {
		for _, name := range i.processNames {
			if name != "" && strings.Contains(arg, name) {
				return true
			}
		}
	}
	return false
}
