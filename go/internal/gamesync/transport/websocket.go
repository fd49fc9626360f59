package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// WebSocketConfig configures the websocket client transport.
type WebSocketConfig struct {
	URL            string        `yaml:"url"`
	RoomID         string        `yaml:"-"`
	ParticipantID  string        `yaml:"-"`
	AuthToken      string        `yaml:"-"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	PingInterval   time.Duration `yaml:"ping_interval"`
	MaxMessageSize int64         `yaml:"max_message_size"`
	SendBuffer     int           `yaml:"send_buffer"`
}

// DefaultWebSocketConfig returns the client defaults. Snapshots carry the
// whole board, so the read limit is 1MB.
func DefaultWebSocketConfig() WebSocketConfig {
	return WebSocketConfig{
		WriteTimeout:   10 * time.Second,
		ReadTimeout:    60 * time.Second,
		PingInterval:   30 * time.Second,
		MaxMessageSize: 1 << 20,
		SendBuffer:     256,
	}
}

// WebSocket is a Transport over one websocket connection to a room relay.
type WebSocket struct {
	cfg    WebSocketConfig
	dialer *websocket.Dialer
	events chan Event

	mu     sync.Mutex
	conn   *wsConn
	closed bool
	wg     sync.WaitGroup
}

type wsConn struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func (c *wsConn) stop() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

func NewWebSocket(cfg WebSocketConfig) *WebSocket {
	def := DefaultWebSocketConfig()
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = def.ReadTimeout
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = def.PingInterval
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = def.MaxMessageSize
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = def.SendBuffer
	}
	return &WebSocket{
		cfg:    cfg,
		dialer: &websocket.Dialer{HandshakeTimeout: cfg.WriteTimeout},
		events: make(chan Event, eventBuffer),
	}
}

func (w *WebSocket) roomURL() (string, error) {
	u, err := url.Parse(w.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("parse websocket url: %w", err)
	}
	q := u.Query()
	q.Set("room_id", w.cfg.RoomID)
	q.Set("participant_id", w.cfg.ParticipantID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Connect dials the relay and starts the read and write pumps.
func (w *WebSocket) Connect(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrClosed
	}
	if w.conn != nil {
		return nil
	}

	target, err := w.roomURL()
	if err != nil {
		return err
	}
	header := http.Header{}
	if w.cfg.AuthToken != "" {
		header.Set("Authorization", "Bearer "+w.cfg.AuthToken)
	}

	conn, _, err := w.dialer.DialContext(ctx, target, header)
	if err != nil {
		return fmt.Errorf("dial websocket: %w", err)
	}

	c := &wsConn{
		conn: conn,
		send: make(chan []byte, w.cfg.SendBuffer),
		done: make(chan struct{}),
	}
	w.conn = c

	w.wg.Add(2)
	go w.writePump(c)
	go w.readPump(c)

	log.Info().
		Str("room_id", w.cfg.RoomID).
		Str("participant_id", w.cfg.ParticipantID).
		Msg("websocket connected")
	emit(w.events, Event{Kind: EventConnected})
	return nil
}

// Broadcast queues env on the current connection.
func (w *WebSocket) Broadcast(_ context.Context, env *Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	w.mu.Lock()
	c := w.conn
	w.mu.Unlock()
	if c == nil {
		return fmt.Errorf("broadcast %s: %w", env.Type, ErrNotConnected)
	}

	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return fmt.Errorf("broadcast %s: %w", env.Type, ErrNotConnected)
	default:
		return fmt.Errorf("broadcast %s: websocket send buffer full", env.Type)
	}
}

func (w *WebSocket) Events() <-chan Event {
	return w.events
}

// Close stops the pumps and closes the event channel.
func (w *WebSocket) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	c := w.conn
	w.conn = nil
	w.mu.Unlock()

	if c != nil {
		c.conn.SetWriteDeadline(time.Now().Add(w.cfg.WriteTimeout))
		c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.stop()
	}
	w.wg.Wait()
	close(w.events)
	return nil
}

// lost detaches c and reports the disconnect unless the transport is closing.
func (w *WebSocket) lost(c *wsConn, err error) {
	c.stop()

	w.mu.Lock()
	current := w.conn == c
	if current {
		w.conn = nil
	}
	closed := w.closed
	w.mu.Unlock()

	if current && !closed {
		log.Warn().Err(err).Str("room_id", w.cfg.RoomID).Msg("websocket disconnected")
		emit(w.events, Event{Kind: EventDisconnected, Err: err})
	}
}

func (w *WebSocket) writePump(c *wsConn) {
	ticker := time.NewTicker(w.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		w.wg.Done()
	}()

	for {
		select {
		case <-c.done:
			return
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(w.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				w.lost(c, fmt.Errorf("write message: %w", err))
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(w.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				w.lost(c, fmt.Errorf("send ping: %w", err))
				return
			}
		}
	}
}

func (w *WebSocket) readPump(c *wsConn) {
	defer w.wg.Done()

	c.conn.SetReadLimit(w.cfg.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(w.cfg.ReadTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(w.cfg.ReadTimeout))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Error().Err(err).Str("room_id", w.cfg.RoomID).Msg("unexpected websocket close error")
			}
			w.lost(c, fmt.Errorf("websocket connection lost: %w", err))
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(w.cfg.ReadTimeout))

		var env Envelope
		if err := json.Unmarshal(message, &env); err != nil {
			log.Warn().Err(err).Msg("dropping malformed envelope")
			continue
		}
		if env.PerformerID == w.cfg.ParticipantID {
			continue
		}
		emit(w.events, Event{Kind: EventMessage, Envelope: &env})
	}
}
