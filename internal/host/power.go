// ABOUTME: Host power capability: delayed shutdown and restart
// ABOUTME: Builds the platform shutdown invocation and runs it

package host

import (
	"fmt"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// Power implements command.Power with the platform shutdown command.
type Power struct{}

// Shutdown powers the host off after the given delay.
func (Power) Shutdown(delay time.Duration) error {
	name, args := powerCommand(runtime.GOOS, false, delay)
	return runPower(name, args)
}

// Restart reboots the host after the given delay.
func (Power) Restart(delay time.Duration) error {
	name, args := powerCommand(runtime.GOOS, true, delay)
	return runPower(name, args)
}

func runPower(name string, args []string) error {
	if out, err := exec.Command(name, args...).CombinedOutput(); err != nil {
		return fmt.Errorf("running %s: %v: %s", name, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// powerCommand builds the shutdown invocation for the given platform. The
// delay keeps the host up long enough for the confirmation reply to leave
// the channel: seconds on Windows, whole minutes elsewhere (sub-minute
// delays round down to "+0", which schedules the action immediately).
func powerCommand(goos string, restart bool, delay time.Duration) (string, []string) {
	if goos == "windows" {
		flag := "/s"
		if restart {
			flag = "/r"
		}
		return "shutdown", []string{flag, "/t", strconv.Itoa(int(delay / time.Second))}
	}

	flag := "-h"
	if restart {
		flag = "-r"
	}
	return "shutdown", []string{flag, "+" + strconv.Itoa(int(delay/time.Minute))}
}
