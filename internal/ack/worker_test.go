package ack

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		CheckInterval:  10 * time.Millisecond,
		MessageTimeout: 30 * time.Millisecond,
		MaxAttempts:    2,
	}
}

func TestReceivedBeforeTimeoutNeverResends(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w := NewWorker(ctx, testConfig())

	w.TrackPending("m1", "conn-1", "body", []string{"c1"})
	w.MarkReceived("m1")

	assert.Equal(t, StatusReceived, w.Check("m1"))

	select {
	case a := <-w.Actions():
		t.Fatalf("unexpected action after receive: %+v", a)
	case <-time.After(80 * time.Millisecond):
	}
}

func TestTimeoutEmitsResendThenLost(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w := NewWorker(ctx, testConfig())

	w.TrackPending("m1", "conn-1", "body", []string{"c1"})

	a1 := waitForAction(t, w, 200*time.Millisecond)
	require.Equal(t, ActionResend, a1.Kind)
	require.Equal(t, "m1", a1.MessageID)
	require.Equal(t, "conn-1", a1.ConnectionID)

	a2 := waitForAction(t, w, 200*time.Millisecond)
	require.Equal(t, ActionLost, a2.Kind)
	require.Equal(t, "m1", a2.MessageID)
	require.Equal(t, "conn-1", a2.ConnectionID)

	assert.Equal(t, StatusUnknown, w.Check("m1"))
}

func TestWaitResolvesOnReceived(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w := NewWorker(ctx, testConfig())

	w.TrackPending("m1", "conn-1", "body", nil)

	done := make(chan Status, 1)
	go func() {
		done <- w.Wait(context.Background(), "m1")
	}()

	time.Sleep(5 * time.Millisecond)
	w.MarkReceived("m1")

	select {
	case s := <-done:
		assert.Equal(t, StatusReceived, s)
	case <-time.After(200 * time.Millisecond):
		t.Fatal("Wait did not resolve")
	}
}

func TestWaitResolvesOnLost(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w := NewWorker(ctx, testConfig())

	w.TrackPending("m1", "conn-1", "body", nil)

	done := make(chan Status, 1)
	go func() {
		done <- w.Wait(context.Background(), "m1")
	}()

	select {
	case s := <-done:
		assert.Equal(t, StatusLost, s)
	case <-time.After(300 * time.Millisecond):
		t.Fatal("Wait did not resolve to Lost")
	}
}

func waitForAction(t *testing.T, w *Worker, timeout time.Duration) Action {
	t.Helper()
	select {
	case a := <-w.Actions():
		return a
	case <-time.After(timeout):
		t.Fatal("timed out waiting for action")
		return Action{}
	}
}
