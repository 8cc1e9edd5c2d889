// ABOUTME: Shared contract between the agent core and the chat transport
// ABOUTME: Defines the inbound message shape and the narrow transport capability

package channel

import (
	"context"
	"time"
)

// Message is a single inbound text message as delivered by the transport.
// Timestamp is the transport's authoritative clock in milliseconds; the
// classify rule assumes it is monotonically non-decreasing per channel.
type Message struct {
	ID        string
	Sender    string
	Body      string
	Timestamp int64
	Channel   string
}

// Transport is the capability the agent needs from a chat channel. The
// concrete client owns credentials and the channel address; the core never
// sees wire details.
type Transport interface {
	// Authenticate logs in with the configured credentials. Called once;
	// failure is fatal to the agent.
	Authenticate(ctx context.Context) error

	// Join enters the configured channel. Failure is non-fatal: the
	// account may already be a member.
	Join(ctx context.Context) error

	// Sync performs one bounded long-poll and returns the text messages
	// that arrived, oldest first. An empty slice and nil error means the
	// poll timed out with no traffic.
	Sync(ctx context.Context, timeout time.Duration) ([]Message, error)

	// Send posts a text message to the configured channel.
	Send(ctx context.Context, text string) error

	// Identity returns the authenticated sender ID, empty before
	// Authenticate succeeds.
	Identity() string

	// Close releases the underlying connection.
	Close()
}
