// ABOUTME: Matrix implementation of the channel transport using mautrix
// ABOUTME: Handles password login, room join, bounded sync polling, and text sends

package matrix

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/2389/coven-sentry/internal/channel"
)

// sendTimeout caps outbound message calls so a stalled send cannot wedge
// the dispatch loop.
const sendTimeout = 30 * time.Second

// Config holds what the client needs to reach one room on one homeserver.
type Config struct {
	Homeserver string
	Username   string
	Password   string
	RoomID     string
}

// Client is a Matrix-backed channel transport. It polls with explicit
// bounded sync requests rather than the long-running sync loop so the
// caller controls when each slice of the timeline is read.
type Client struct {
	cli    *mautrix.Client
	roomID id.RoomID
	logger *slog.Logger

	username string
	password string

	// since is the sync token of the last completed poll. Empty means the
	// next sync returns the server's initial snapshot.
	since string
}

// NewClient creates a Matrix client for the given homeserver and room.
// No network traffic happens until Authenticate.
func NewClient(cfg Config) (*Client, error) {
	cli, err := mautrix.NewClient(cfg.Homeserver, "", "")
	if err != nil {
		return nil, fmt.Errorf("creating matrix client: %w", err)
	}

	return &Client{
		cli:      cli,
		roomID:   id.RoomID(cfg.RoomID),
		logger:   slog.Default().With("component", "matrix"),
		username: cfg.Username,
		password: cfg.Password,
	}, nil
}

// Authenticate performs a password login and stores the resulting access
// token on the client for all later calls.
func (c *Client) Authenticate(ctx context.Context) error {
	_, err := c.cli.Login(ctx, &mautrix.ReqLogin{
		Type: mautrix.AuthTypePassword,
		Identifier: mautrix.UserIdentifier{
			Type: mautrix.IdentifierTypeUser,
			User: c.username,
		},
		Password:                 c.password,
		InitialDeviceDisplayName: "coven-sentry",
		StoreCredentials:         true,
	})
	if err != nil {
		return fmt.Errorf("matrix login: %w", err)
	}

	c.logger.Info("logged in", "user_id", c.cli.UserID.String())
	return nil
}

// Join joins the configured room. Joining an already-joined room is a
// no-op on the server side.
func (c *Client) Join(ctx context.Context) error {
	if _, err := c.cli.JoinRoomByID(ctx, c.roomID); err != nil {
		return fmt.Errorf("joining room %s: %w", c.roomID, err)
	}

	c.logger.Info("joined room", "room_id", c.roomID.String())
	return nil
}

// Sync performs one bounded sync request and returns the text messages
// that arrived in the configured room. The since token only advances when
// the request succeeds, so a failed poll is retried from the same point.
func (c *Client) Sync(ctx context.Context, timeout time.Duration) ([]channel.Message, error) {
	resp, err := c.cli.FullSyncRequest(ctx, mautrix.ReqSync{
		Timeout: syncMillis(timeout),
		Since:   c.since,
	})
	if err != nil {
		return nil, fmt.Errorf("matrix sync: %w", err)
	}

	c.since = resp.NextBatch
	return c.timeline(resp), nil
}

// syncMillis converts the poll bound to the sync request's wire unit. The
// timeout field travels as whole milliseconds, not a Duration.
func syncMillis(d time.Duration) int {
	return int(d.Milliseconds())
}

// timeline converts the sync response's timeline for our room into
// channel messages, skipping anything that is not plain text.
func (c *Client) timeline(resp *mautrix.RespSync) []channel.Message {
	joined := resp.Rooms.Join[c.roomID]
	if joined == nil {
		return nil
	}

	var msgs []channel.Message
	for _, evt := range joined.Timeline.Events {
		if evt.Type != event.EventMessage {
			continue
		}
		if err := evt.Content.ParseRaw(evt.Type); err != nil && !errors.Is(err, event.ErrContentAlreadyParsed) {
			c.logger.Debug("skipping unparseable event", "event_id", evt.ID.String(), "error", err)
			continue
		}
		content, ok := evt.Content.Parsed.(*event.MessageEventContent)
		if !ok || content.MsgType != event.MsgText {
			continue
		}

		msgs = append(msgs, channel.Message{
			ID:        evt.ID.String(),
			Sender:    evt.Sender.String(),
			Body:      content.Body,
			Timestamp: evt.Timestamp,
			Channel:   c.roomID.String(),
		})
	}
	return msgs
}

// Send posts a plain text message to the configured room.
func (c *Client) Send(ctx context.Context, text string) error {
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	if _, err := c.cli.SendText(ctx, c.roomID, text); err != nil {
		return fmt.Errorf("sending message: %w", err)
	}
	return nil
}

// Identity returns the full user ID assigned at login, or the empty
// string before Authenticate has succeeded.
func (c *Client) Identity() string {
	return c.cli.UserID.String()
}

// Close releases idle connections. The client has no long-running state
// beyond the HTTP transport.
func (c *Client) Close() {
	c.cli.Client.CloseIdleConnections()
}

var _ channel.Transport = (*Client)(nil)
