package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	ws "github.com/examhall/examhall-backend/internal/websocket"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// dialPump upgrades a test connection and runs the monitor pump over a
// synthetic event channel, returning the client side of the socket.
func dialPump(t *testing.T, events <-chan *redis.Message) *websocket.Conn {
	t.Helper()

	h := NewWSHandler(nil, zerolog.Nop(), nil)
	ctx, cancel := context.WithCancel(context.Background())

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		h.pump(ctx, conn, events)
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(cancel)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

func TestMonitorPumpForwardsPublishedEvents(t *testing.T) {
	events := make(chan *redis.Message, 1)
	client := dialPump(t, events)

	events <- &redis.Message{Payload: `{"type":"violation","violation_count":2}`}

	var push struct {
		Event   ws.Event        `json:"event"`
		Payload json.RawMessage `json:"payload"`
	}
	client.SetReadDeadline(time.Now().Add(5 * time.Second))
	require.NoError(t, client.ReadJSON(&push))
	assert.Equal(t, ws.EventMonitor, push.Event)
	assert.JSONEq(t, `{"type":"violation","violation_count":2}`, string(push.Payload))
}

// Pings racing published events must all come back as well-formed frames
// from a single writer.
func TestMonitorPumpServesPingsDuringPushes(t *testing.T) {
	const pushes = 50

	events := make(chan *redis.Message)
	client := dialPump(t, events)

	go func() {
		for i := 0; i < pushes; i++ {
			events <- &redis.Message{Payload: `{"type":"violation"}`}
		}
	}()
	go func() {
		for i := 0; i < pushes; i++ {
			_ = client.WriteJSON(ws.RequestEnvelope{Action: ws.ActionPing})
		}
	}()

	// Coalescing may fold bursts of pings into fewer pongs; every push
	// and at least one pong must still arrive intact.
	var pongs, forwarded int
	client.SetReadDeadline(time.Now().Add(10 * time.Second))
	for pongs == 0 || forwarded < pushes {
		var frame struct {
			Event ws.Event `json:"event"`
		}
		require.NoError(t, client.ReadJSON(&frame))
		switch frame.Event {
		case ws.EventPong:
			pongs++
		case ws.EventMonitor:
			forwarded++
		default:
			t.Fatalf("unexpected event %q", frame.Event)
		}
	}
	assert.Equal(t, pushes, forwarded)
}

func TestMonitorPumpClosesWhenEventChannelCloses(t *testing.T) {
	events := make(chan *redis.Message)
	client := dialPump(t, events)

	close(events)

	client.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err := client.ReadMessage()
	assert.Error(t, err)
}
