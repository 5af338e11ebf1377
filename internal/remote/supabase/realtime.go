package supabase

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"

	"github.com/wagerline/sync_core/internal/metrics"
	"github.com/wagerline/sync_core/internal/remote"
	"github.com/wagerline/sync_core/internal/system"
	"github.com/wagerline/sync_core/pkg/logger"
)

// StreamConfig configures the realtime stream.
type StreamConfig struct {
	// URL is the project URL; it is rewritten to the websocket endpoint.
	URL string
	// APIKey authenticates the socket.
	APIKey string
	// HeartbeatInterval keeps the phoenix socket alive. Defaults to 30s.
	HeartbeatInterval time.Duration
	// ReconnectMin/Max bound the redial backoff. Default 1s/30s.
	ReconnectMin time.Duration
	ReconnectMax time.Duration
}

type subscription struct {
	id      int
	table   string
	handler func(remote.Event)
}

// RealtimeStream implements remote.Stream over the Supabase Realtime
// websocket (phoenix protocol). It redials with backoff on disconnect and
// fires reconnect callbacks after every re-established session, since events
// may have been missed while the socket was down.
type RealtimeStream struct {
	cfg  StreamConfig
	url  string
	log  *logger.Logger
	join func(*websocket.Conn) error

	mu           sync.RWMutex
	conn         *websocket.Conn
	subs         []subscription
	nextSubID    int
	reconnectFns []func()
	ref          int
	running      bool
	cancel       context.CancelFunc
	wg           sync.WaitGroup
}

var _ remote.Stream = (*RealtimeStream)(nil)
var _ system.Service = (*RealtimeStream)(nil)

// NewStream creates a realtime stream client.
func NewStream(cfg StreamConfig, log *logger.Logger) *RealtimeStream {
	if log == nil {
		log = logger.NewDefault("realtime")
	}
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	if cfg.ReconnectMin == 0 {
		cfg.ReconnectMin = time.Second
	}
	if cfg.ReconnectMax == 0 {
		cfg.ReconnectMax = 30 * time.Second
	}

	wsURL := cfg.URL
	if strings.HasPrefix(wsURL, "https") {
		wsURL = "wss" + wsURL[len("https"):]
	} else if strings.HasPrefix(wsURL, "http") {
		wsURL = "ws" + wsURL[len("http"):]
	}
	wsURL = strings.TrimSuffix(wsURL, "/") + "/realtime/v1/websocket?apikey=" + cfg.APIKey + "&vsn=1.0.0"

	r := &RealtimeStream{cfg: cfg, url: wsURL, log: log}
	r.join = r.joinAll
	return r
}

func (r *RealtimeStream) Name() string { return "realtime-stream" }

// Start begins the connect/read/redial loop.
func (r *RealtimeStream) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.running = true

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.run(runCtx)
	}()

	return nil
}

// Stop tears the socket down and waits for the loop to exit.
func (r *RealtimeStream) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	cancel := r.cancel
	r.running = false
	r.cancel = nil
	conn := r.conn
	r.conn = nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		conn.Close()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.wg.Wait()
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe registers a per-table handler. When the socket is live the topic
// is joined immediately; otherwise the join happens on the next connect.
func (r *RealtimeStream) Subscribe(table string, handler func(remote.Event)) (func(), error) {
	r.mu.Lock()
	r.nextSubID++
	sub := subscription{id: r.nextSubID, table: table, handler: handler}
	r.subs = append(r.subs, sub)
	conn := r.conn
	needJoin := conn != nil && r.countSubs(table) == 1
	var joinErr error
	if needJoin {
		joinErr = r.joinLocked(conn, table)
	}
	r.mu.Unlock()

	if joinErr != nil {
		return nil, fmt.Errorf("join %s: %w", table, joinErr)
	}

	unsubscribe := func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		for i, s := range r.subs {
			if s.id == sub.id {
				r.subs = append(r.subs[:i], r.subs[i+1:]...)
				break
			}
		}
	}
	return unsubscribe, nil
}

// OnReconnect registers a callback invoked after every re-established
// session.
func (r *RealtimeStream) OnReconnect(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reconnectFns = append(r.reconnectFns, fn)
}

func (r *RealtimeStream) countSubs(table string) int {
	n := 0
	for _, s := range r.subs {
		if s.table == table {
			n++
		}
	}
	return n
}

func (r *RealtimeStream) run(ctx context.Context) {
	backoff := r.cfg.ReconnectMin
	sessions := 0

	for {
		if ctx.Err() != nil {
			return
		}

		conn, err := r.dial(ctx)
		if err != nil {
			r.log.WithError(err).Warnf("realtime dial failed; retrying in %s", backoff)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff = minDuration(backoff*2, r.cfg.ReconnectMax)
			continue
		}
		if err := r.join(conn); err != nil {
			conn.Close()
			r.log.WithError(err).Warnf("realtime join failed; retrying in %s", backoff)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff = minDuration(backoff*2, r.cfg.ReconnectMax)
			continue
		}
		backoff = r.cfg.ReconnectMin
		sessions++

		// The first session is the initial connect, not a reconnect.
		if sessions > 1 {
			r.fireReconnect()
		}

		hbCtx, stopHeartbeat := context.WithCancel(ctx)
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			r.heartbeat(hbCtx, conn)
		}()

		r.readLoop(ctx, conn)
		stopHeartbeat()

		r.mu.Lock()
		if r.conn == conn {
			r.conn = nil
		}
		running := r.running
		r.mu.Unlock()
		conn.Close()

		if !running || ctx.Err() != nil {
			return
		}
		r.log.Warn("realtime connection lost; reconnecting")
	}
}

func (r *RealtimeStream) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, r.url, nil)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.conn = conn
	r.mu.Unlock()
	return conn, nil
}

func (r *RealtimeStream) joinAll(conn *websocket.Conn) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	joined := make(map[string]struct{})
	for _, sub := range r.subs {
		if _, ok := joined[sub.table]; ok {
			continue
		}
		joined[sub.table] = struct{}{}
		if err := r.joinLocked(conn, sub.table); err != nil {
			return err
		}
	}
	return nil
}

// joinLocked sends a phx_join for a table topic. Caller holds r.mu.
func (r *RealtimeStream) joinLocked(conn *websocket.Conn, table string) error {
	r.ref++
	msg := map[string]any{
		"topic": "realtime:public:" + table,
		"event": "phx_join",
		"payload": map[string]any{
			"config": map[string]any{
				"postgres_changes": []map[string]any{
					{"event": "*", "schema": "public", "table": table},
				},
			},
		},
		"ref": fmt.Sprintf("%d", r.ref),
	}
	return conn.WriteJSON(msg)
}

func (r *RealtimeStream) fireReconnect() {
	r.mu.RLock()
	fns := make([]func(), len(r.reconnectFns))
	copy(fns, r.reconnectFns)
	r.mu.RUnlock()

	for _, fn := range fns {
		fn()
	}
}

func (r *RealtimeStream) heartbeat(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(r.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.mu.Lock()
			r.ref++
			msg := map[string]any{
				"topic":   "phoenix",
				"event":   "heartbeat",
				"payload": map[string]any{},
				"ref":     fmt.Sprintf("%d", r.ref),
			}
			err := conn.WriteJSON(msg)
			r.mu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (r *RealtimeStream) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		if ctx.Err() != nil {
			return
		}
		_, message, err := conn.ReadMessage()
		if err != nil {
			return
		}
		r.dispatch(message)
	}
}

// dispatch translates a phoenix message into a remote.Event and fans it out
// to the table's handlers.
func (r *RealtimeStream) dispatch(message []byte) {
	parsed := gjson.ParseBytes(message)
	if parsed.Get("event").String() != "postgres_changes" {
		return
	}

	data := parsed.Get("payload.data")
	table := data.Get("table").String()
	eventType, ok := mapEventType(data.Get("type").String())
	if !ok {
		return
	}

	event := remote.Event{
		Table: table,
		Type:  eventType,
		Row:   rawJSON(data.Get("record")),
	}
	if old := data.Get("old_record"); old.Exists() {
		event.OldRow = rawJSON(old)
	}

	metrics.IncRealtimeEvent(table, string(eventType))

	r.mu.RLock()
	handlers := make([]func(remote.Event), 0, len(r.subs))
	for _, sub := range r.subs {
		if sub.table == table {
			handlers = append(handlers, sub.handler)
		}
	}
	r.mu.RUnlock()

	for _, handler := range handlers {
		handler(event)
	}
}

func mapEventType(raw string) (remote.EventType, bool) {
	switch raw {
	case "INSERT":
		return remote.EventCreated, true
	case "UPDATE":
		return remote.EventUpdated, true
	case "DELETE":
		return remote.EventDeleted, true
	}
	return "", false
}

func rawJSON(result gjson.Result) json.RawMessage {
	if !result.Exists() {
		return nil
	}
	return json.RawMessage(result.Raw)
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
