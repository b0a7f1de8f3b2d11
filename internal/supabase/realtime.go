package supabase

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pinnlo/service_layer/internal/logging"
)

// Change is one row change delivered by Realtime.
type Change struct {
	Type            string                 `json:"type"`
	Schema          string                 `json:"schema"`
	Table           string                 `json:"table"`
	CommitTimestamp string                 `json:"commit_timestamp"`
	Record          map[string]interface{} `json:"record"`
	OldRecord       map[string]interface{} `json:"old_record"`
}

// ChangeHandler receives row changes. Handlers run on the read loop and
// should hand off slow work.
type ChangeHandler func(Change)

// Subscription selects the changes to receive.
type Subscription struct {
	Event  string // INSERT, UPDATE, DELETE or *
	Schema string
	Table  string
	Filter string // e.g. "strategy_id=eq.42"
}

func (s Subscription) normalized() Subscription {
	if s.Schema == "" {
		s.Schema = "public"
	}
	if s.Event == "" {
		s.Event = "*"
	}
	return s
}

func (s Subscription) topic() string {
	t := fmt.Sprintf("realtime:%s:%s", s.Schema, s.Table)
	if s.Filter != "" {
		t += ":" + s.Filter
	}
	return t
}

// RealtimeConfig configures a RealtimeClient.
type RealtimeConfig struct {
	URL               string
	APIKey            string
	HeartbeatInterval time.Duration
	// ReconnectDelay is the initial backoff; it doubles up to MaxReconnectDelay.
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
	Logger            *logging.Logger
}

type channel struct {
	sub      Subscription
	handlers []ChangeHandler
}

// RealtimeClient keeps a Phoenix channel connection to Supabase Realtime
// open and re-joins its channels after every reconnect.
type RealtimeClient struct {
	cfg    RealtimeConfig
	url    string
	dialer websocket.Dialer
	log    *logging.Logger

	mu       sync.Mutex
	channels map[string]*channel
	conn     *websocket.Conn
	ref      int
}

// NewRealtimeClient creates a realtime client. Call Subscribe before Run.
func NewRealtimeClient(cfg RealtimeConfig) (*RealtimeClient, error) {
	if cfg.URL == "" || cfg.APIKey == "" {
		return nil, fmt.Errorf("realtime URL and APIKey are required")
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = time.Second
	}
	if cfg.MaxReconnectDelay <= 0 {
		cfg.MaxReconnectDelay = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewDefault("supabase-realtime")
	}

	u, err := url.Parse(strings.TrimSuffix(cfg.URL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse realtime url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	u.Path += "/realtime/v1/websocket"
	u.RawQuery = url.Values{"apikey": {cfg.APIKey}, "vsn": {"1.0.0"}}.Encode()

	return &RealtimeClient{
		cfg:      cfg,
		url:      u.String(),
		dialer:   websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		log:      cfg.Logger,
		channels: make(map[string]*channel),
	}, nil
}

// Subscribe registers handler for changes matching sub.
func (r *RealtimeClient) Subscribe(sub Subscription, handler ChangeHandler) {
	sub = sub.normalized()
	r.mu.Lock()
	defer r.mu.Unlock()

	ch, ok := r.channels[sub.topic()]
	if !ok {
		ch = &channel{sub: sub}
		r.channels[sub.topic()] = ch
	}
	ch.handlers = append(ch.handlers, handler)

	if r.conn != nil {
		if err := r.joinLocked(ch); err != nil {
			r.log.WithError(err).WithField("topic", sub.topic()).Warn("realtime join failed")
		}
	}
}

// Run connects and dispatches changes until ctx is cancelled, reconnecting
// with exponential backoff.
func (r *RealtimeClient) Run(ctx context.Context) error {
	delay := r.cfg.ReconnectDelay
	for {
		started := time.Now()
		err := r.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if time.Since(started) > r.cfg.MaxReconnectDelay {
			delay = r.cfg.ReconnectDelay
		}
		r.log.WithError(err).WithField("retry_in", delay.String()).Warn("realtime connection lost")

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
		delay *= 2
		if delay > r.cfg.MaxReconnectDelay {
			delay = r.cfg.MaxReconnectDelay
		}
	}
}

func (r *RealtimeClient) session(ctx context.Context) error {
	conn, _, err := r.dialer.DialContext(ctx, r.url, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}

	r.mu.Lock()
	r.conn = conn
	for _, ch := range r.channels {
		if err := r.joinLocked(ch); err != nil {
			r.conn = nil
			r.mu.Unlock()
			conn.Close()
			return err
		}
	}
	joined := len(r.channels)
	r.mu.Unlock()
	r.log.WithField("channels", joined).Info("realtime connected")

	done := make(chan struct{})
	defer func() {
		close(done)
		r.mu.Lock()
		r.conn = nil
		r.mu.Unlock()
		conn.Close()
	}()

	go func() {
		select {
		case <-ctx.Done():
			r.mu.Lock()
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			r.mu.Unlock()
			conn.Close()
		case <-done:
		}
	}()
	go r.heartbeat(conn, done)

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("websocket read: %w", err)
		}
		var msg phoenixMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}
		r.dispatch(msg)
	}
}

type phoenixMessage struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     *string         `json:"ref"`
}

func (r *RealtimeClient) dispatch(msg phoenixMessage) {
	var change Change
	switch msg.Event {
	case "postgres_changes":
		var payload struct {
			Data Change `json:"data"`
		}
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			return
		}
		change = payload.Data
	case "INSERT", "UPDATE", "DELETE":
		if err := json.Unmarshal(msg.Payload, &change); err != nil {
			return
		}
		if change.Type == "" {
			change.Type = msg.Event
		}
	case "phx_reply":
		var reply struct {
			Status   string          `json:"status"`
			Response json.RawMessage `json:"response"`
		}
		if json.Unmarshal(msg.Payload, &reply) == nil && reply.Status == "error" {
			r.log.WithField("topic", msg.Topic).WithField("response", string(reply.Response)).Warn("realtime join rejected")
		}
		return
	default:
		return
	}

	r.mu.Lock()
	ch := r.channels[msg.Topic]
	var handlers []ChangeHandler
	if ch != nil && (ch.sub.Event == "*" || strings.EqualFold(ch.sub.Event, change.Type)) {
		handlers = append(handlers, ch.handlers...)
	}
	r.mu.Unlock()

	for _, h := range handlers {
		h(change)
	}
}

func (r *RealtimeClient) heartbeat(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(r.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			r.mu.Lock()
			err := r.sendLocked(conn, "phoenix", "heartbeat", map[string]interface{}{}, false)
			r.mu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (r *RealtimeClient) joinLocked(ch *channel) error {
	payload := map[string]interface{}{
		"config": map[string]interface{}{
			"postgres_changes": []map[string]string{changeFilter(ch.sub)},
		},
	}
	if err := r.sendLocked(r.conn, ch.sub.topic(), "phx_join", payload, true); err != nil {
		return fmt.Errorf("send join %s: %w", ch.sub.topic(), err)
	}
	return nil
}

func changeFilter(sub Subscription) map[string]string {
	f := map[string]string{"event": sub.Event, "schema": sub.Schema, "table": sub.Table}
	if sub.Filter != "" {
		f["filter"] = sub.Filter
	}
	return f
}

// sendLocked writes one frame; r.mu must be held since gorilla connections
// allow a single concurrent writer.
func (r *RealtimeClient) sendLocked(conn *websocket.Conn, topic, event string, payload interface{}, join bool) error {
	r.ref++
	ref := strconv.Itoa(r.ref)
	msg := map[string]interface{}{
		"topic":   topic,
		"event":   event,
		"payload": payload,
		"ref":     ref,
	}
	if join {
		msg["join_ref"] = ref
	}
	return conn.WriteJSON(msg)
}
