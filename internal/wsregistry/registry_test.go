package wsregistry

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/celerity/runtime-go/internal/ack"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

func dialPair(t *testing.T) (*websocket.Conn, *websocket.Conn) {
	t.Helper()
	serverConnCh := make(chan *websocket.Conn, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		serverConnCh <- c
	}))
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	clientConn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { clientConn.Close() })

	serverConn := <-serverConnCh
	t.Cleanup(func() { serverConn.Close() })

	return serverConn, clientConn
}

func TestSendMessageLocalWritesTextFrame(t *testing.T) {
	serverConn, clientConn := dialPair(t)

	reg := NewRegistry("node-1", nil, nil)
	reg.AddConnection("conn-1", serverConn, nil)

	err := reg.SendMessage(context.Background(), "conn-1", "msg-1", map[string]string{"hello": "world"}, SendContext{})
	require.NoError(t, err)

	clientConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := clientConn.ReadMessage()
	require.NoError(t, err)

	var got map[string]string
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "world", got["hello"])
}

func TestSendMessageUndeliverableWithoutBusDeliversMessageLost(t *testing.T) {
	serverConn, clientConn := dialPair(t)

	// serverConn is registered under a different id so connection-id
	// "remote-conn" is not local.
	reg := NewRegistry("node-1", nil, nil)
	reg.AddConnection("local-listener", serverConn, nil)

	err := reg.SendMessage(context.Background(), "remote-conn", "msg-1", "payload", SendContext{})
	require.ErrorIs(t, err, ErrMessageLost)

	// Since "remote-conn" has no inform-clients registered against it in
	// this registry, nothing should have been written.
	clientConn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	_, _, err = clientConn.ReadMessage()
	require.Error(t, err)
}

type fakeBus struct {
	published []WireMessage
}

func (f *fakeBus) Publish(ctx context.Context, msg WireMessage) error {
	f.published = append(f.published, msg)
	return nil
}

func TestSendMessageOverBusTracksPendingAndWaitsForAck(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ackWorker := ack.NewWorker(ctx, ack.Config{
		CheckInterval:  10 * time.Millisecond,
		MessageTimeout: 50 * time.Millisecond,
		MaxAttempts:    2,
	})
	bus := &fakeBus{}
	reg := NewRegistry("node-1", bus, ackWorker)

	done := make(chan error, 1)
	go func() {
		done <- reg.SendMessage(ctx, "remote-conn", "msg-1", "payload", SendContext{WaitForAck: true})
	}()

	time.Sleep(5 * time.Millisecond)
	require.Len(t, bus.published, 1)
	assert.Equal(t, "msg-1", bus.published[0].MessageID)

	ackWorker.MarkReceived("msg-1")

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("SendMessage did not return after ack")
	}
}

func TestSendMessageOverBusReturnsMessageLostOnTimeout(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ackWorker := ack.NewWorker(ctx, ack.Config{
		CheckInterval:  5 * time.Millisecond,
		MessageTimeout: 20 * time.Millisecond,
		MaxAttempts:    1,
	})
	bus := &fakeBus{}
	reg := NewRegistry("node-1", bus, ackWorker)

	err := reg.SendMessage(ctx, "remote-conn", "msg-1", "payload", SendContext{WaitForAck: true})
	require.ErrorIs(t, err, ErrMessageLost)
}

func TestHandleInboundMessageDeliversLocallyAndAcks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ackWorker := ack.NewWorker(ctx, ack.DefaultConfig())
	bus := &fakeBus{}
	reg := NewRegistry("node-2", bus, ackWorker)

	serverConn, clientConn := dialPair(t)
	reg.AddConnection("conn-1", serverConn, nil)

	payload, _ := json.Marshal(map[string]string{"hello": "world"})
	reg.HandleInbound(ctx, WireMessage{
		Kind:         WireKindMessage,
		ConnectionID: "conn-1",
		MessageID:    "msg-1",
		SourceNode:   "node-1",
		Payload:      payload,
	})

	clientConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := clientConn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"hello":"world"}`, string(data))

	require.Len(t, bus.published, 1)
	assert.Equal(t, WireKindAck, bus.published[0].Kind)
	assert.Equal(t, "msg-1", bus.published[0].MessageID)
}

func TestHandleInboundMessageDropsDuplicateWhenAlreadyReceived(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ackWorker := ack.NewWorker(ctx, ack.DefaultConfig())
	bus := &fakeBus{}
	reg := NewRegistry("node-2", bus, ackWorker)
	ackWorker.TrackPending("msg-1", "conn-1", nil, nil)
	ackWorker.MarkReceived("msg-1")

	serverConn, clientConn := dialPair(t)
	reg.AddConnection("conn-1", serverConn, nil)

	reg.HandleInbound(ctx, WireMessage{
		Kind:         WireKindMessage,
		ConnectionID: "conn-1",
		MessageID:    "msg-1",
		SourceNode:   "node-1",
		Payload:      []byte(`{"hello":"world"}`),
	})

	clientConn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	_, _, err := clientConn.ReadMessage()
	require.Error(t, err, "duplicate delivery should have been dropped")
	assert.Empty(t, bus.published, "no ack should be re-published for a duplicate")
}

func TestRunAckLoopRepublishesResendToBus(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ackWorker := ack.NewWorker(ctx, ack.Config{
		CheckInterval:  5 * time.Millisecond,
		MessageTimeout: 15 * time.Millisecond,
		MaxAttempts:    2,
	})
	bus := &fakeBus{}
	reg := NewRegistry("node-1", bus, ackWorker)
	go reg.RunAckLoop(ctx)

	ackWorker.TrackPending("msg-1", "remote-conn", []byte(`"payload"`), nil)

	require.Eventually(t, func() bool {
		for _, m := range bus.published {
			if m.ConnectionID == "remote-conn" && m.MessageID == "msg-1" {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond, "expected RunAckLoop to republish the resend to the bus")
}

func TestRunAckLoopDeliversMessageLostOnExhaustion(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ackWorker := ack.NewWorker(ctx, ack.Config{
		CheckInterval:  5 * time.Millisecond,
		MessageTimeout: 10 * time.Millisecond,
		MaxAttempts:    1,
	})
	bus := &fakeBus{}
	reg := NewRegistry("node-2", bus, ackWorker)
	go reg.RunAckLoop(ctx)

	serverConn, clientConn := dialPair(t)
	reg.AddConnection("local-listener", serverConn, nil)

	ackWorker.TrackPending("msg-1", "remote-conn", []byte(`"payload"`), []string{"local-listener"})

	clientConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := clientConn.ReadMessage()
	require.NoError(t, err)

	id, err := decodeMessageLostFrame(data)
	require.NoError(t, err)
	assert.Equal(t, "msg-1", id)
}

func TestMessageLostFrameRoundTrips(t *testing.T) {
	frame := encodeMessageLostFrame("msg-42")
	id, err := decodeMessageLostFrame(frame)
	require.NoError(t, err)
	assert.Equal(t, "msg-42", id)
}
