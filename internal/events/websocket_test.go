package events

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func startHub(t *testing.T) (*Hub, *Bus, string) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	hub := NewHub(16)
	go hub.Run(ctx)
	bus := NewBus()
	t.Cleanup(hub.Attach(bus))

	srv := httptest.NewServer(hub.Handler())
	t.Cleanup(srv.Close)
	return hub, bus, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn, v interface{}) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, v))
}

func TestHubBroadcastsBusEvents(t *testing.T) {
	hub, bus, url := startHub(t)
	conn := dial(t, url)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	bus.Publish(ItemSynced, map[string]interface{}{"id": "x1"})

	var ev Event
	readJSON(t, conn, &ev)
	require.Equal(t, ItemSynced, ev.Type)
	require.Equal(t, "x1", ev.Data["id"])
}

func TestHubSubscriptionFilter(t *testing.T) {
	hub, bus, url := startHub(t)
	conn := dial(t, url)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, conn.WriteJSON(map[string]interface{}{"action": "subscribe", "events": []string{ItemDropped}}))
	var ack map[string]interface{}
	readJSON(t, conn, &ack)
	require.Equal(t, "subscribe_ack", ack["action"])

	bus.Publish(ItemSynced, nil)
	bus.Publish(ItemDropped, map[string]interface{}{"id": "d1"})

	var ev Event
	readJSON(t, conn, &ev)
	require.Equal(t, ItemDropped, ev.Type)
}

func TestHubPing(t *testing.T) {
	_, _, url := startHub(t)
	conn := dial(t, url)

	require.NoError(t, conn.WriteJSON(map[string]string{"action": "ping"}))
	var pong map[string]interface{}
	readJSON(t, conn, &pong)
	require.Equal(t, "pong", pong["action"])
}

func TestLocalOrigin(t *testing.T) {
	tests := map[string]bool{
		"":                         true,
		"http://localhost:3000":    true,
		"http://127.0.0.1":         true,
		"https://evil.example.com": false,
	}
	for origin, want := range tests {
		r := httptest.NewRequest(http.MethodGet, "/ws", nil)
		if origin != "" {
			r.Header.Set("Origin", origin)
		}
		if got := localOrigin(r); got != want {
			t.Errorf("localOrigin(%q) = %v, want %v", origin, got, want)
		}
	}
}
