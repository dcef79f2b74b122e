package socketmode

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rytswd-lab/socketmode/internal/platform/retry"
)

const testTimeout = 2 * time.Second

// fakeSlack serves apps.connections.open and the websocket endpoint it
// points at, handing accepted server-side connections to the test.
type fakeSlack struct {
	server    *httptest.Server
	openCalls atomic.Int32
	openOK    bool
	openError string
	conns     chan *websocket.Conn
}

func newFakeSlack(t *testing.T) *fakeSlack {
	t.Helper()

	f := &fakeSlack{
		openOK: true,
		conns:  make(chan *websocket.Conn, 4),
	}
	upgrader := websocket.Upgrader{}

	mux := http.NewServeMux()
	mux.HandleFunc("/apps.connections.open", func(w http.ResponseWriter, r *http.Request) {
		f.openCalls.Add(1)
		if !f.openOK {
			_ = json.NewEncoder(w).Encode(map[string]any{"ok": false, "error": f.openError})
			return
		}
		wsURL := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws"
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "url": wsURL})
	})
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		_ = conn.WriteJSON(map[string]string{"type": "hello"})
		f.conns <- conn
	})

	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeSlack) openURL() string {
	return f.server.URL + "/apps.connections.open"
}

func (f *fakeSlack) acceptConn(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case conn := <-f.conns:
		return conn
	case <-time.After(testTimeout):
		t.Fatal("timed out waiting for websocket connection")
		return nil
	}
}

func newTestClient(f *fakeSlack) *Client {
	return New(Config{
		AppToken: "xapp-test",
		OpenURL:  f.openURL(),
		RetryPolicy: retry.Policy{
			MaxAttempts:    3,
			InitialBackoff: 5 * time.Millisecond,
			MaxBackoff:     20 * time.Millisecond,
		},
	})
}

func TestStart_ConnectsOnce(t *testing.T) {
	f := newFakeSlack(t)
	client := newTestClient(f)

	require.NoError(t, client.Start(context.Background()))
	defer func() { _ = client.Disconnect(context.Background()) }()

	f.acceptConn(t)
	assert.Equal(t, int32(1), f.openCalls.Load())
}

func TestStart_Twice(t *testing.T) {
	f := newFakeSlack(t)
	client := newTestClient(f)

	require.NoError(t, client.Start(context.Background()))
	defer func() { _ = client.Disconnect(context.Background()) }()

	assert.ErrorIs(t, client.Start(context.Background()), ErrAlreadyStarted)
}

func TestStart_OpenRejected(t *testing.T) {
	f := newFakeSlack(t)
	f.openOK = false
	f.openError = "invalid_auth"
	client := newTestClient(f)

	err := client.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid_auth")
	// Permanent rejection must not burn retry attempts.
	assert.Equal(t, int32(1), f.openCalls.Load())
}

func TestEnvelopeDeliveryAndAck(t *testing.T) {
	f := newFakeSlack(t)
	client := newTestClient(f)

	require.NoError(t, client.Start(context.Background()))
	defer func() { _ = client.Disconnect(context.Background()) }()

	serverConn := f.acceptConn(t)
	require.NoError(t, serverConn.WriteJSON(map[string]any{
		"type":        "events_api",
		"envelope_id": "env-1",
		"payload":     map[string]string{"event": "message"},
	}))

	select {
	case envelope := <-client.Events():
		assert.Equal(t, "events_api", envelope.Type)
		assert.Equal(t, "env-1", envelope.EnvelopeID)
	case <-time.After(testTimeout):
		t.Fatal("timed out waiting for envelope")
	}

	var ack acknowledgement
	require.NoError(t, serverConn.SetReadDeadline(time.Now().Add(testTimeout)))
	require.NoError(t, serverConn.ReadJSON(&ack))
	assert.Equal(t, "env-1", ack.EnvelopeID)
}

func TestReconnectOnServerDisconnect(t *testing.T) {
	f := newFakeSlack(t)
	client := newTestClient(f)

	require.NoError(t, client.Start(context.Background()))
	defer func() { _ = client.Disconnect(context.Background()) }()

	first := f.acceptConn(t)
	require.NoError(t, first.WriteJSON(map[string]any{
		"type":   "disconnect",
		"reason": "refresh_requested",
	}))

	// The client must dial a fresh connection on its own.
	f.acceptConn(t)
	assert.Equal(t, int32(2), f.openCalls.Load())
}

func TestDisconnect_Idempotent(t *testing.T) {
	f := newFakeSlack(t)
	client := newTestClient(f)

	require.NoError(t, client.Start(context.Background()))
	f.acceptConn(t)

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	require.NoError(t, client.Disconnect(ctx))
	require.NoError(t, client.Disconnect(ctx))
}
