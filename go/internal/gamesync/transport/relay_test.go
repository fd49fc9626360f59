package transport

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
)

// relay is a minimal room fan-out server for exercising the websocket
// client. It echoes to every member, including the sender.
type relay struct {
	upgrader websocket.Upgrader

	mu    sync.Mutex
	rooms map[string]map[*websocket.Conn]bool
}

func newRelay(t *testing.T) (*relay, *httptest.Server) {
	t.Helper()
	r := &relay{
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		rooms:    make(map[string]map[*websocket.Conn]bool),
	}
	srv := httptest.NewServer(http.HandlerFunc(r.serve))
	t.Cleanup(srv.Close)
	return r, srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func (r *relay) serve(w http.ResponseWriter, req *http.Request) {
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		return
	}
	room := req.URL.Query().Get("room_id")

	r.mu.Lock()
	if r.rooms[room] == nil {
		r.rooms[room] = make(map[*websocket.Conn]bool)
	}
	r.rooms[room][conn] = true
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		delete(r.rooms[room], conn)
		r.mu.Unlock()
		conn.Close()
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return
		}
		r.mu.Lock()
		for member := range r.rooms[room] {
			member.WriteMessage(websocket.TextMessage, message)
		}
		r.mu.Unlock()
	}
}

// kick closes every server-side connection of room.
func (r *relay) kick(room string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for member := range r.rooms[room] {
		member.Close()
	}
}

func (r *relay) members(room string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms[room])
}
