// ABOUTME: Closed command vocabulary parsing for the sentry agent
// ABOUTME: Maps message bodies to tagged command variants scoped by identity

package command

// Kind discriminates the parsed command variants.
type Kind string

const (
	KindUnknown   Kind = "unknown"
	KindTerminate Kind = "terminate"
	KindPing      Kind = "ping"
	KindPowerOff  Kind = "poweroff"
	KindReboot    Kind = "reboot"
)

// Scope says whether a command addresses one identity or every agent
// sharing the channel.
type Scope string

const (
	ScopeIdentity  Scope = "identity"
	ScopeBroadcast Scope = "broadcast"
)

// Command is one parsed message. Level carries the wire-format terminate
// level: 5 stops sibling processes, 4 also hides the startup artifact, 3
// deletes it, and 2 is the broadcast form of 3.
type Command struct {
	Kind  Kind
	Level int
	Scope Scope
}

// Parse maps a message body to a command for the given agent identity.
// Matching is exact and case sensitive. A command addressed to a different
// identity parses as Unknown rather than an error, which lets several
// agents share one channel without cross-talk; the sole unscoped form is
// the broadcast terminate.
func Parse(identity, body string) Command {
	switch body {
	case "DEFCON 5 " + identity:
		return Command{Kind: KindTerminate, Level: 5, Scope: ScopeIdentity}
	case "DEFCON 4 " + identity:
		return Command{Kind: KindTerminate, Level: 4, Scope: ScopeIdentity}
	case "DEFCON 3 " + identity:
		return Command{Kind: KindTerminate, Level: 3, Scope: ScopeIdentity}
	case "DEFCON 2":
		return Command{Kind: KindTerminate, Level: 2, Scope: ScopeBroadcast}
	case "PING " + identity:
		return Command{Kind: KindPing, Scope: ScopeIdentity}
	case "POWEROFF " + identity:
		return Command{Kind: KindPowerOff, Scope: ScopeIdentity}
	case "REBOOT " + identity:
		return Command{Kind: KindReboot, Scope: ScopeIdentity}
	default:
		return Command{Kind: KindUnknown}
	}
}
