package live

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/devicehub/sdk-go/internal/sink"
	"github.com/devicehub/sdk-go/pkg/events"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopic(t *testing.T) {
	topic, ok := Topic("heartbeatevent")
	assert.True(t, ok)
	assert.Equal(t, "HeartbeatEvent", topic)

	topic, ok = Topic(" * ")
	assert.True(t, ok)
	assert.Equal(t, TopicAll, topic)

	_, ok = Topic("SubscriptionConfirmation")
	assert.False(t, ok)
	_, ok = Topic("bogus")
	assert.False(t, ok)
}

func dial(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http")
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

func readJSON(t *testing.T, ws *websocket.Conn, v any) {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, v))
}

func TestHubDeliversSubscribedTopics(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub()
	go hub.Run(ctx)

	server := httptest.NewServer(hub)
	defer server.Close()

	ws := dial(t, server)
	require.NoError(t, ws.WriteJSON(map[string]any{
		"type":   SUBSCRIBE,
		"topics": []string{"heartbeatevent", "bogus"},
	}))

	var reply subscription
	readJSON(t, ws, &reply)
	assert.Equal(t, SUBSCRIBED, reply.Type)
	assert.Equal(t, []string{"HeartbeatEvent"}, reply.Topics)

	ctxBg := context.Background()
	require.NoError(t, hub.Handle(ctxBg, &events.ObjectEvent{Header: events.Header{EventID: "object-1"}}))
	require.NoError(t, hub.Handle(ctxBg, &events.HeartbeatEvent{Header: events.Header{EventID: "heartbeat-1"}, DeviceID: "dev-1"}))

	var envelope sink.EventEnvelope
	readJSON(t, ws, &envelope)
	assert.Equal(t, "HeartbeatEvent", envelope.Tag)
	assert.Equal(t, "heartbeat-1", envelope.ID)

	require.NoError(t, ws.WriteJSON(map[string]any{"type": UNSUBSCRIBE, "topics": []string{"HeartbeatEvent"}}))
	readJSON(t, ws, &reply)
	assert.Equal(t, UNSUBSCRIBED, reply.Type)
}

func TestHubWildcard(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub()
	go hub.Run(ctx)

	server := httptest.NewServer(hub)
	defer server.Close()

	ws := dial(t, server)
	require.NoError(t, ws.WriteJSON(map[string]any{"type": SUBSCRIBE, "topics": []string{"*", "ObjectEvent"}}))

	var reply subscription
	readJSON(t, ws, &reply)
	assert.Equal(t, []string{TopicAll, "ObjectEvent"}, reply.Topics)

	require.NoError(t, hub.Handle(context.Background(), &events.ObjectEvent{Header: events.Header{EventID: "object-1"}}))
	require.NoError(t, hub.Handle(context.Background(), &events.HeartbeatEvent{Header: events.Header{EventID: "heartbeat-1"}}))

	// Subscribed twice to ObjectEvent, delivered once
	var first, second sink.EventEnvelope
	readJSON(t, ws, &first)
	readJSON(t, ws, &second)
	assert.Equal(t, "object-1", first.ID)
	assert.Equal(t, "heartbeat-1", second.ID)
}

func TestHubRejectsPost(t *testing.T) {
	hub := NewHub()
	rec := httptest.NewRecorder()
	hub.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/ws", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHandleDoesNotBlockWithoutRun(t *testing.T) {
	hub := NewHub()
	for i := 0; i < 300; i++ {
		require.NoError(t, hub.Handle(context.Background(), &events.HeartbeatEvent{}))
	}
}
