package supabase

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

	"github.com/pinnlo/service_layer/internal/logging"
)

func TestRealtimeJoinsAndDispatchesInserts(t *testing.T) {
	joined := make(chan map[string]interface{}, 1)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/realtime/v1/websocket", r.URL.Path)
		assert.Equal(t, "anon", r.URL.Query().Get("apikey"))
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var join map[string]interface{}
		if err := conn.ReadJSON(&join); err != nil {
			return
		}
		joined <- join

		topic := join["topic"].(string)
		_ = conn.WriteJSON(map[string]interface{}{
			"topic": topic, "event": "phx_reply", "ref": join["ref"],
			"payload": map[string]interface{}{"status": "ok", "response": map[string]interface{}{}},
		})
		_ = conn.WriteJSON(map[string]interface{}{
			"topic": topic, "event": "postgres_changes", "ref": nil,
			"payload": map[string]interface{}{
				"data": map[string]interface{}{
					"type": "INSERT", "schema": "public", "table": "cards",
					"record": map[string]interface{}{"id": "c1", "card_type": "vision"},
				},
			},
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	rt, err := NewRealtimeClient(RealtimeConfig{URL: srv.URL, APIKey: "anon", Logger: logging.Discard()})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(rt.url, "ws://"))

	changes := make(chan Change, 1)
	rt.Subscribe(Subscription{Event: "INSERT", Table: "cards"}, func(c Change) { changes <- c })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rt.Run(ctx) }()

	select {
	case join := <-joined:
		assert.Equal(t, "phx_join", join["event"])
		assert.Equal(t, "realtime:public:cards", join["topic"])
		raw, _ := json.Marshal(join["payload"])
		assert.Contains(t, string(raw), `"table":"cards"`)
	case <-time.After(5 * time.Second):
		t.Fatal("no join received")
	}

	select {
	case c := <-changes:
		assert.Equal(t, "INSERT", c.Type)
		assert.Equal(t, "c1", c.Record["id"])
	case <-time.After(5 * time.Second):
		t.Fatal("no change dispatched")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestRealtimeIgnoresOtherEvents(t *testing.T) {
	rt, err := NewRealtimeClient(RealtimeConfig{URL: "https://project.supabase.co", APIKey: "k", Logger: logging.Discard()})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(rt.url, "wss://project.supabase.co/realtime/v1/websocket?"))

	var got []Change
	rt.Subscribe(Subscription{Event: "INSERT", Table: "cards"}, func(c Change) { got = append(got, c) })

	rt.dispatch(phoenixMessage{
		Topic:   "realtime:public:cards",
		Event:   "postgres_changes",
		Payload: json.RawMessage(`{"data":{"type":"UPDATE","table":"cards","record":{"id":"c1"}}}`),
	})
	rt.dispatch(phoenixMessage{
		Topic:   "realtime:public:cards",
		Event:   "INSERT",
		Payload: json.RawMessage(`{"record":{"id":"c2"}}`),
	})
	require.Len(t, got, 1)
	assert.Equal(t, "c2", got[0].Record["id"])
}
