// ABOUTME: Tests for the agent dispatch loop
// ABOUTME: Covers startup failure modes, epoch fencing, dispatch, dedupe, and the stop latch

package sentry

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"log/slog"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-sentry/internal/channel"
	"github.com/2389/coven-sentry/internal/command"
	"github.com/2389/coven-sentry/internal/dedupe"
	"github.com/2389/coven-sentry/internal/epoch"
	"github.com/2389/coven-sentry/internal/journal"
)

const (
	testSelf     = "@sentry:example.org"
	testOperator = "@operator:example.org"
	testMarkerTS = 1000
)

// syncStep scripts one Sync call. echoMarker returns the last sent
// message back as our own, stamped with the fake's marker timestamp.
type syncStep struct {
	msgs       []channel.Message
	err        error
	echoMarker bool
}

type fakeTransport struct {
	mu       sync.Mutex
	identity string
	authErr  error
	joinErr  error
	replyErr error
	markerTS int64

	steps     []syncStep
	stepIdx   int
	sent      []string
	syncCalls int

	// exhausted fires when the script runs out, letting tests cancel the
	// loop deterministically.
	exhausted func()
}

func (f *fakeTransport) Authenticate(ctx context.Context) error { return f.authErr }
func (f *fakeTransport) Join(ctx context.Context) error         { return f.joinErr }

func (f *fakeTransport) Sync(ctx context.Context, timeout time.Duration) ([]channel.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.syncCalls++
	if f.stepIdx >= len(f.steps) {
		if f.exhausted != nil {
			f.exhausted()
		}
		return nil, nil
	}

	step := f.steps[f.stepIdx]
	f.stepIdx++

	if step.err != nil {
		return nil, step.err
	}
	if step.echoMarker {
		if len(f.sent) == 0 {
			return nil, nil
		}
		return []channel.Message{{
			ID:        "$marker",
			Sender:    f.identity,
			Body:      f.sent[len(f.sent)-1],
			Timestamp: f.markerTS,
		}}, nil
	}
	return step.msgs, nil
}

func (f *fakeTransport) Send(ctx context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.sent = append(f.sent, text)
	if f.replyErr != nil && !strings.HasPrefix(text, epoch.MarkerPrefix) {
		return f.replyErr
	}
	return nil
}

func (f *fakeTransport) Identity() string { return f.identity }
func (f *fakeTransport) Close()           {}

func (f *fakeTransport) sentMessages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func (f *fakeTransport) syncCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.syncCalls
}

// establishSteps scripts the two syncs the epoch gate performs: the
// priming sync (optionally carrying backlog) and the marker echo.
func establishSteps(backlog ...channel.Message) []syncStep {
	return []syncStep{
		{msgs: backlog},
		{echoMarker: true},
	}
}

func opMsg(id string, ts int64, body string) channel.Message {
	return channel.Message{ID: id, Sender: testOperator, Body: body, Timestamp: ts}
}

// quietProcs has no sibling processes, so terminate stages succeed
// without side effects. With listErr set, every stop attempt fails.
type quietProcs struct{ listErr error }

func (p *quietProcs) List(ctx context.Context) ([]command.ProcessInfo, error) {
	return nil, p.listErr
}
func (p *quietProcs) Terminate(pid int32) error { return nil }
func (p *quietProcs) Kill(pid int32) error      { return nil }

type nopArtifact struct{}

func (nopArtifact) Exists(path string) bool  { return true }
func (nopArtifact) Hide(path string) error   { return nil }
func (nopArtifact) Delete(path string) error { return nil }

type nopPower struct{}

func (nopPower) Shutdown(delay time.Duration) error { return nil }
func (nopPower) Restart(delay time.Duration) error  { return nil }

func testAgent(t *testing.T, tr *fakeTransport, j *journal.Journal, procs command.Processes) *Agent {
	t.Helper()

	logger := slog.Default()
	w := dedupe.NewWindow(time.Minute, 100)
	t.Cleanup(w.Close)

	return New(Config{
		Identity:  "PC1",
		Transport: tr,
		Gate:      epoch.NewGate(50*time.Millisecond, time.Millisecond, logger),
		Interp: command.New(command.Config{
			Identity:     "PC1",
			ProcessNames: []string{"sentry-worker"},
			ArtifactPath: "/tmp/artifact",
			SelfPID:      1,
			Processes:    procs,
			Artifact:     nopArtifact{},
			Power:        nopPower{},
			Logger:       logger,
		}),
		Journal: j,
		Window:  w,
		Timing: Timing{
			PollTimeout:  50 * time.Millisecond,
			PollInterval: time.Millisecond,
			ErrorBackoff: time.Millisecond,
		},
		Logger: logger,
	})
}

func runAgent(t *testing.T, a *Agent, ctx context.Context) error {
	t.Helper()

	errCh := make(chan error, 1)
	go func() { errCh <- a.Run(ctx) }()

	select {
	case err := <-errCh:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("agent did not exit in time")
		return nil
	}
}

func TestAgent_Run_AuthFailureIsFatal(t *testing.T) {
	tr := &fakeTransport{identity: testSelf, authErr: errors.New("bad credentials")}
	a := testAgent(t, tr, nil, &quietProcs{})

	err := runAgent(t, a, context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "authenticating")
	assert.Empty(t, tr.sentMessages())
}

func TestAgent_Run_JoinFailureIsNotFatal(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tr := &fakeTransport{
		identity: testSelf,
		joinErr:  errors.New("forbidden"),
		markerTS: testMarkerTS,
		steps: append(establishSteps(),
			syncStep{msgs: []channel.Message{opMsg("$e1", 2000, "PING PC1")}},
		),
		exhausted: cancel,
	}
	a := testAgent(t, tr, nil, &quietProcs{})

	require.NoError(t, runAgent(t, a, ctx))

	sent := tr.sentMessages()
	require.Len(t, sent, 2)
	assert.True(t, strings.HasPrefix(sent[0], epoch.MarkerPrefix))
	assert.Equal(t, "Yes PC1 is online", sent[1])
}

func TestAgent_Run_BacklogAndTiesAreDropped(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tr := &fakeTransport{
		identity: testSelf,
		markerTS: testMarkerTS,
		steps: append(establishSteps(opMsg("$old", 500, "DEFCON 5 PC1")),
			syncStep{msgs: []channel.Message{
				opMsg("$tie", testMarkerTS, "PING PC1"),
				opMsg("$stale", 999, "DEFCON 5 PC1"),
				opMsg("$live", 1001, "PING PC1"),
			}},
		),
		exhausted: cancel,
	}
	a := testAgent(t, tr, nil, &quietProcs{})

	require.NoError(t, runAgent(t, a, ctx))

	sent := tr.sentMessages()
	require.Len(t, sent, 2)
	assert.Equal(t, "Yes PC1 is online", sent[1])
	assert.False(t, a.Stopping(), "a stale terminate must not stop the agent")
}

func TestAgent_Run_StopCommandEndsLoop(t *testing.T) {
	tr := &fakeTransport{
		identity: testSelf,
		markerTS: testMarkerTS,
		steps: append(establishSteps(),
			syncStep{msgs: []channel.Message{
				opMsg("$stop", 2000, "DEFCON 5 PC1"),
				opMsg("$after", 2001, "PING PC1"),
			}},
		),
	}
	a := testAgent(t, tr, nil, &quietProcs{})

	require.NoError(t, runAgent(t, a, context.Background()))

	sent := tr.sentMessages()
	require.Len(t, sent, 2, "nothing after the stop command should be dispatched")
	assert.Equal(t, "Success from PC1 on DEFCON 5", sent[1])
	assert.True(t, a.Stopping())
	assert.Equal(t, 3, tr.syncCount())
}

func TestAgent_Run_FailedStopKeepsPolling(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tr := &fakeTransport{
		identity: testSelf,
		markerTS: testMarkerTS,
		steps: append(establishSteps(),
			syncStep{msgs: []channel.Message{opMsg("$stop", 2000, "DEFCON 5 PC1")}},
		),
		exhausted: cancel,
	}
	a := testAgent(t, tr, nil, &quietProcs{listErr: errors.New("proc table unavailable")})

	require.NoError(t, runAgent(t, a, ctx))

	sent := tr.sentMessages()
	require.Len(t, sent, 2)
	assert.True(t, strings.HasPrefix(sent[1], "Error from PC1 on DEFCON 5:"))
	assert.False(t, a.Stopping(), "a failed stop must leave the agent running")
}

func TestAgent_Run_StopLatchedEvenIfReplyFails(t *testing.T) {
	tr := &fakeTransport{
		identity: testSelf,
		markerTS: testMarkerTS,
		replyErr: errors.New("send timeout"),
		steps: append(establishSteps(),
			syncStep{msgs: []channel.Message{opMsg("$stop", 2000, "DEFCON 5 PC1")}},
		),
	}
	a := testAgent(t, tr, nil, &quietProcs{})

	require.NoError(t, runAgent(t, a, context.Background()))
	assert.True(t, a.Stopping(), "the stop decision depends on side effects, not the reply")
}

func TestAgent_Run_SyncErrorBacksOffAndRecovers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tr := &fakeTransport{
		identity: testSelf,
		markerTS: testMarkerTS,
		steps: append(establishSteps(),
			syncStep{err: errors.New("gateway timeout")},
			syncStep{msgs: []channel.Message{opMsg("$e1", 2000, "PING PC1")}},
		),
		exhausted: cancel,
	}
	a := testAgent(t, tr, nil, &quietProcs{})

	require.NoError(t, runAgent(t, a, ctx))

	sent := tr.sentMessages()
	require.Len(t, sent, 2)
	assert.Equal(t, "Yes PC1 is online", sent[1])
}

func TestAgent_Run_DuplicateEventHandledOnce(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ping := opMsg("$e1", 2000, "PING PC1")
	tr := &fakeTransport{
		identity: testSelf,
		markerTS: testMarkerTS,
		steps: append(establishSteps(),
			syncStep{msgs: []channel.Message{ping}},
			syncStep{msgs: []channel.Message{ping}},
		),
		exhausted: cancel,
	}
	a := testAgent(t, tr, nil, &quietProcs{})

	require.NoError(t, runAgent(t, a, ctx))

	sent := tr.sentMessages()
	require.Len(t, sent, 2, "a redelivered event must be answered once")
}

func TestAgent_Run_RedeliveredMarkerIgnored(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tr := &fakeTransport{
		identity: testSelf,
		markerTS: testMarkerTS,
		steps: append(establishSteps(),
			syncStep{msgs: []channel.Message{{
				ID:        "$m2",
				Sender:    testSelf,
				Body:      epoch.MarkerPrefix + "later-instance",
				Timestamp: 2000,
			}}},
		),
		exhausted: cancel,
	}
	a := testAgent(t, tr, nil, &quietProcs{})

	require.NoError(t, runAgent(t, a, ctx))
	require.Len(t, tr.sentMessages(), 1, "a marker is never a command")
}

func TestAgent_Run_JournalRecordsOutcome(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	j, err := journal.Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	defer j.Close()

	tr := &fakeTransport{
		identity: testSelf,
		markerTS: testMarkerTS,
		steps: append(establishSteps(),
			syncStep{msgs: []channel.Message{
				opMsg("$e1", 2000, "PING PC1"),
				opMsg("$e2", 2001, "good morning PC1"),
			}},
		),
		exhausted: cancel,
	}
	a := testAgent(t, tr, j, &quietProcs{})

	require.NoError(t, runAgent(t, a, ctx))

	entries, err := j.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, entries, 1, "chatter is not journaled")

	e := entries[0]
	assert.Equal(t, "ping", e.Kind)
	assert.Equal(t, "PC1", e.Identity)
	assert.Equal(t, testOperator, e.Sender)
	assert.Equal(t, "PING PC1", e.Body)
	assert.Equal(t, "Yes PC1 is online", e.Reply)
	assert.Equal(t, int64(2000), e.ReceivedAt)
	assert.False(t, e.Stop)
}
