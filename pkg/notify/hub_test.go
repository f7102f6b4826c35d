package notify

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caiodcamargo999/rarityleads-engine/pkg/logx"
)

func dialTestHub(t *testing.T, h *Hub) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(h.ServeWS))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)
	var ev Event
	require.NoError(t, json.Unmarshal(payload, &ev))
	return ev
}

func TestBroadcastRoundTrip(t *testing.T) {
	h := NewHub(nil, logx.Nop())
	defer h.Close()
	conn := dialTestHub(t, h)

	assert.Equal(t, "connected", readEvent(t, conn).Event)

	// ServeWS registers the client before returning, but give the dial a
	// moment to settle on slow runners.
	require.Eventually(t, func() bool { return h.SubscriberCount() == 1 },
		time.Second, 10*time.Millisecond)

	h.Broadcast("message_queued", map[string]any{"jobId": "job-1"})

	ev := readEvent(t, conn)
	assert.Equal(t, "message_queued", ev.Event)
	data, ok := ev.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "job-1", data["jobId"])
}

func TestSlowSubscriberDropped(t *testing.T) {
	h := NewHub(nil, logx.Nop())
	defer h.Close()

	// A subscriber with no buffer and no write pump: the first broadcast
	// cannot be delivered and must drop the client instead of blocking.
	stuck := &client{send: make(chan []byte)}
	h.mu.Lock()
	h.clients[stuck] = struct{}{}
	h.mu.Unlock()

	done := make(chan struct{})
	go func() {
		h.Broadcast("message_sent", nil)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("broadcast blocked on a slow subscriber")
	}
	assert.Equal(t, 0, h.SubscriberCount())

	// The send channel was closed as part of the drop.
	_, open := <-stuck.send
	assert.False(t, open)
}

func TestNoReplayForLateSubscribers(t *testing.T) {
	h := NewHub(nil, logx.Nop())
	defer h.Close()

	h.Broadcast("message_sent", map[string]any{"jobId": "early"})

	conn := dialTestHub(t, h)
	assert.Equal(t, "connected", readEvent(t, conn).Event)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err, "late subscriber must not see events fired before it connected")
}
