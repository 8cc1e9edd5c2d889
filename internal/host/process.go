// ABOUTME: Host process capability backed by gopsutil
// ABOUTME: Enumerates processes with command lines and delivers terminate/kill signals

package host

import (
	"context"
	"fmt"

	"github.com/shirou/gopsutil/v4/process"

	"github.com/2389/coven-sentry/internal/command"
)

// Processes implements command.Processes against the live host.
type Processes struct{}

// List returns every process the agent can see. Processes that exit or
// deny access mid-enumeration are skipped, the same as any process that
// was never there.
func (Processes) List(ctx context.Context) ([]command.ProcessInfo, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("enumerating processes: %w", err)
	}

	infos := make([]command.ProcessInfo, 0, len(procs))
	for _, p := range procs {
		name, err := p.NameWithContext(ctx)
		if err != nil {
			continue
		}
		cmdline, err := p.CmdlineSliceWithContext(ctx)
		if err != nil {
			continue
		}
		infos = append(infos, command.ProcessInfo{PID: p.Pid, Name: name, Cmdline: cmdline})
	}
	return infos, nil
}

// Terminate delivers the polite stop signal (SIGTERM, or TerminateProcess
// on Windows).
func (Processes) Terminate(pid int32) error {
	p, err := process.NewProcess(pid)
	if err != nil {
		return fmt.Errorf("finding process %d: %w", pid, err)
	}
	if err := p.Terminate(); err != nil {
		return fmt.Errorf("terminating process %d: %w", pid, err)
	}
	return nil
}

// Kill delivers the forced stop signal.
func (Processes) Kill(pid int32) error {
	p, err := process.NewProcess(pid)
	if err != nil {
		return fmt.Errorf("finding process %d: %w", pid, err)
	}
	if err := p.Kill(); err != nil {
		return fmt.Errorf("killing process %d: %w", pid, err)
	}
	return nil
}
