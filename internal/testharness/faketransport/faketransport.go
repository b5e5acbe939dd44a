// Package faketransport implements a websocket-based loopback signaling
// relay for tests: a tiny in-process hub that forwards whatever bytes one
// named party sends to another, standing in for the embedder's real
// delivery hook that carries wire.Encode output over its own messaging
// channel.
package faketransport

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
)

// Relay hosts the hub's websocket endpoint on a local httptest server.
type Relay struct {
	server   *httptest.Server
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[string]*websocket.Conn
}

// NewRelay starts the relay.
func NewRelay() *Relay {
	r := &Relay{clients: make(map[string]*websocket.Conn)}
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", r.handleWs)
	r.server = httptest.NewServer(mux)
	return r
}

// URL is the relay's websocket endpoint.
func (r *Relay) URL() string {
	return "ws" + strings.TrimPrefix(r.server.URL, "http") + "/ws"
}

// Close shuts down the relay's HTTP server and every connected client.
func (r *Relay) Close() {
	r.mu.Lock()
	for _, c := range r.clients {
		_ = c.Close()
	}
	r.mu.Unlock()
	r.server.Close()
}

func (r *Relay) handleWs(w http.ResponseWriter, req *http.Request) {
	party := req.URL.Query().Get("party")
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		return
	}

	r.mu.Lock()
	r.clients[party] = conn
	r.mu.Unlock()

	peer := req.URL.Query().Get("peer")
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		r.mu.Lock()
		dest := r.clients[peer]
		r.mu.Unlock()
		if dest != nil {
			_ = dest.WriteMessage(websocket.BinaryMessage, data)
		}
	}

	r.mu.Lock()
	delete(r.clients, party)
	r.mu.Unlock()
}

// Dial connects to relayURL as party, forwarding everything it sends to
// peer. Every message party's connection receives is whatever peer sent.
func Dial(relayURL, party, peer string) (*websocket.Conn, error) {
	u := relayURL + "?party=" + party + "&peer=" + peer
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	return conn, err
}
