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

// Package devserver is the HTTP and WebSocket front end: it serves
// transformed module sources over HTTP, exposes /healthz, and broadcasts
// update results to connected dev clients over WebSocket. It never reaches
// into graph internals directly; the runtime pushes UpdateEvent values in
// through PublishUpdate, keeping the engine free of transport concerns per
// spec.md §1.
package devserver

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"hotmod.dev/hmr/hostio"
	"hotmod.dev/hmr/internal/logging"
)

// UpdateEvent is what the coordinator publishes after running dry-run,
// link-test, and dispatch for a changed URL (spec.md §4.6). Its JSON shape
// is the dev client's sole contract with the server.
type UpdateEvent struct {
	Type            string   `json:"type"`
	ModuleURL       string   `json:"moduleUrl"`
	Message         string   `json:"message,omitempty"`
	InvalidatedURLs []string `json:"invalidatedUrls,omitempty"`
}

const (
	EventReload = "reload"
	EventAccept = "accept"
	EventError  = "error"
	EventPruned = "pruned"
)

// Server serves transformed module sources and brokers reload events
// between the update coordinator and connected browsers.
type Server struct {
	fetcher   hostio.SourceFetcher
	hub       *hub
	logger    logging.Logger
	startedAt time.Time
	updates   atomic.Uint64
}

// NewServer constructs a Server backed by fetcher for module source
// retrieval. A nil logger disables logging.
func NewServer(fetcher hostio.SourceFetcher, logger logging.Logger) *Server {
	if logger == nil {
		logger = logging.Noop{}
	}
	return &Server{
		fetcher:   fetcher,
		hub:       newHub(logger),
		logger:    logger,
		startedAt: time.Now(),
	}
}

// Handler returns the http.Handler for the dev server's routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/__hmr/ws", s.hub.HandleConnection)
	mux.HandleFunc("/", s.handleModule)
	return mux
}

// PublishUpdate broadcasts an UpdateEvent to connected dev clients,
// targeting only clients watching an invalidated URL when any are given.
func (s *Server) PublishUpdate(ev UpdateEvent) error {
	s.updates.Add(1)

	payload, err := json.Marshal(ev)
	if err != nil {
		s.logger.Error("failed to marshal update event: %v", err)
		return err
	}

	if len(ev.InvalidatedURLs) > 0 {
		return s.hub.BroadcastToURLs(payload, ev.InvalidatedURLs)
	}
	return s.hub.Broadcast(payload)
}

// ConnectionCount reports how many dev clients are currently connected.
func (s *Server) ConnectionCount() int {
	return s.hub.ConnectionCount()
}

// Shutdown notifies connected clients the server is stopping and closes
// their connections, bounded by ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	_ = s.hub.BroadcastShutdown()
	done := make(chan struct{})
	go func() {
		s.hub.mu.Lock()
		for ws := range s.hub.clients {
			_ = ws.Close()
		}
		s.hub.mu.Unlock()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":      "ok",
		"uptime":      time.Since(s.startedAt).String(),
		"connections": s.ConnectionCount(),
		"updates":     s.updates.Load(),
	})
}

func (s *Server) handleModule(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	url := strings.TrimPrefix(r.URL.Path, "/")
	result, err := s.fetcher.Fetch(r.Context(), url, false)
	if err != nil {
		s.logger.Error("failed to fetch %s: %v", url, err)
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
	w.Header().Set("ETag", strconv.FormatUint(result.Version, 10))
	_, _ = w.Write(result.Source)
}
