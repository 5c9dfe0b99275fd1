package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/shproduct/internal/cache/memory"
)

const product = "0x5FbDB2315678afecb367f032d93F642f64180aa3"

func eventJSON(kind string) []byte {
	return []byte(`{"contract":"` + product + `","kind":"` + kind + `","block":7}`)
}

func readFrame(t *testing.T, conn *websocket.Conn) envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var env envelope
	require.NoError(t, json.Unmarshal(data, &env))
	return env
}

func TestTopicsOf(t *testing.T) {
	assert.Equal(t,
		[]string{"events", "product:" + strings.ToLower(product), "kind:Deposit"},
		topicsOf(eventJSON("Deposit")),
	)
	assert.Equal(t, []string{"events"}, topicsOf([]byte("not json")))
}

func TestParseTopics(t *testing.T) {
	assert.Equal(t, []string{"events"}, parseTopics(""))
	assert.Equal(t, []string{"kind:Coupon", "product:0xAB"}, parseTopics(" kind:Coupon, ,product:0xAB"))
	assert.Equal(t, "product:0xab", normaliseTopic("product:0xAB"))
	assert.Equal(t, "kind:Coupon", normaliseTopic("kind:Coupon"))
}

func TestHub_GreetingCatchUpAndFilter(t *testing.T) {
	bus := memory.NewBus(0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Two events already on the stream before the client connects.
	require.NoError(t, bus.StreamAppend(ctx, "events", eventJSON("Deposit")))
	require.NoError(t, bus.StreamAppend(ctx, "events", eventJSON("Coupon")))

	hub := NewHub(bus, "events", func() uint64 { return 7 }, slog.New(slog.NewTextHandler(io.Discard, nil)))
	go func() { _ = hub.Run(ctx) }()

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?topics=kind:Coupon&since=0"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	greeting := readFrame(t, conn)
	assert.Equal(t, "status", greeting.Type)
	var status map[string]any
	require.NoError(t, json.Unmarshal(greeting.Payload, &status))
	assert.EqualValues(t, 7, status["block"])

	missed := readFrame(t, conn)
	assert.Equal(t, "event", missed.Type)
	assert.Equal(t, "2-0", missed.StreamID)
	assert.Contains(t, string(missed.Payload), `"Coupon"`)

	// Wait until the hub's subscription is live, then publish one event
	// the client filters out and one it wants.
	require.Eventually(t, func() bool { return hub.clientCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, bus.Publish(ctx, "events", eventJSON("Deposit")))
	require.NoError(t, bus.Publish(ctx, "events", eventJSON("Coupon")))

	live := readFrame(t, conn)
	assert.Equal(t, "event", live.Type)
	assert.Empty(t, live.StreamID)
	assert.Contains(t, string(live.Payload), `"Coupon"`)
}
