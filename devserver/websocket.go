/*
Copyright © 2025 Benny Powers <web@bennypowers.com>

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program. If not, see <http://www.gnu.org/licenses/>.
*/

package devserver

import (
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"hotmod.dev/hmr/devserver/internal/urlutil"
	"hotmod.dev/hmr/internal/logging"
)

// maxWebSocketReadSize bounds client-originated messages. Clients shouldn't
// send us data, but if they do, limit it to prevent DoS attacks.
const maxWebSocketReadSize = 64 * 1024

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 64 * 1024,
	CheckOrigin:     isLocalOrigin,
}

// isLocalOrigin allows same-origin and localhost WebSocket connections,
// including through reverse proxies where Origin's host matches the
// request's Host header.
func isLocalOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	originURL, err := url.Parse(origin)
	if err != nil {
		return false
	}

	originHost := originURL.Hostname()

	requestHost := r.Host
	if idx := strings.IndexByte(requestHost, ':'); idx != -1 {
		requestHost = requestHost[:idx]
	}
	if originHost == requestHost {
		return true
	}

	switch originHost {
	case "localhost", "127.0.0.1", "[::1]", "::1":
		return true
	}

	if strings.HasSuffix(originHost, ".localhost") {
		return true
	}

	if strings.HasPrefix(originHost, "127.") {
		parts := strings.Split(originHost, ".")
		if len(parts) == 4 && parts[0] == "127" {
			return true
		}
	}

	return false
}

// conn wraps a websocket.Conn with a write mutex (gorilla/websocket forbids
// concurrent writers) and the controller URL this client is subscribed to.
type conn struct {
	ws  *websocket.Conn
	mu  sync.Mutex
	url string
}

// hub tracks connected dev clients and broadcasts reload/log/error events.
type hub struct {
	mu      sync.RWMutex
	clients map[*websocket.Conn]*conn
	logger  logging.Logger
}

func newHub(logger logging.Logger) *hub {
	if logger == nil {
		logger = logging.Noop{}
	}
	return &hub{
		clients: make(map[*websocket.Conn]*conn),
		logger:  logger,
	}
}

// ConnectionCount returns the number of active dev clients.
func (h *hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast sends message to every connected client.
func (h *hub) Broadcast(message []byte) error {
	snapshot := h.snapshot()
	h.writeAll(snapshot, message)
	return nil
}

// BroadcastToURLs sends message only to clients subscribed to one of urls.
func (h *hub) BroadcastToURLs(message []byte, urls []string) error {
	if len(urls) == 0 {
		return nil
	}

	h.mu.RLock()
	var matched []*conn
	for _, c := range h.clients {
		for _, target := range urls {
			if c.url == target || urlutil.ContainsPath(c.url, target) {
				matched = append(matched, c)
				break
			}
		}
	}
	h.mu.RUnlock()

	h.writeAll(matched, message)

	if len(matched) > 0 {
		h.logger.Debug("broadcast to %d/%d connections (targeted)", len(matched), h.ConnectionCount())
	}
	return nil
}

// BroadcastShutdown notifies every client the server is going away, with a
// bounded write deadline so an unresponsive client cannot stall shutdown.
func (h *hub) BroadcastShutdown() error {
	msg := []byte(`{"type":"shutdown","reason":"server-shutdown"}`)

	snapshot := h.snapshot()
	var failed []*websocket.Conn
	for _, c := range snapshot {
		c.mu.Lock()
		_ = c.ws.SetWriteDeadline(time.Now().Add(time.Second))
		err := c.ws.WriteMessage(websocket.TextMessage, msg)
		c.mu.Unlock()
		if err != nil {
			failed = append(failed, c.ws)
		}
	}
	h.evict(failed)
	return nil
}

func (h *hub) snapshot() []*conn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*conn, 0, len(h.clients))
	for _, c := range h.clients {
		out = append(out, c)
	}
	return out
}

func (h *hub) writeAll(conns []*conn, message []byte) {
	var failed []*websocket.Conn
	for _, c := range conns {
		c.mu.Lock()
		err := c.ws.WriteMessage(websocket.TextMessage, message)
		c.mu.Unlock()
		if err != nil {
			failed = append(failed, c.ws)
		}
	}
	h.evict(failed)
}

func (h *hub) evict(dead []*websocket.Conn) {
	if len(dead) == 0 {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ws := range dead {
		delete(h.clients, ws)
		_ = ws.Close()
	}
}

// HandleConnection upgrades an HTTP request to a WebSocket and registers the
// client under the controller URL it reports via ?url= (falling back to the
// request path), reading until disconnect to detect dropped clients.
func (h *hub) HandleConnection(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("failed to upgrade websocket: %v", err)
		return
	}

	ws.SetReadLimit(maxWebSocketReadSize)

	subscribedURL := r.URL.Query().Get("url")
	if subscribedURL == "" {
		subscribedURL = r.URL.Path
	}

	c := &conn{ws: ws, url: subscribedURL}

	h.mu.Lock()
	h.clients[ws] = c
	count := len(h.clients)
	h.mu.Unlock()

	h.logger.Debug("dev client connected for %s (total: %d)", subscribedURL, count)

	defer func() {
		h.mu.Lock()
		delete(h.clients, ws)
		h.mu.Unlock()
		_ = ws.Close()
		h.logger.Debug("dev client disconnected (total: %d)", h.ConnectionCount())
	}()

	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			break
		}
	}
}
