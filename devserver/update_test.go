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

package devserver_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"net/http/httptest"

	"hotmod.dev/hmr/devserver"
	"hotmod.dev/hmr/graph"
)

func dialHMR(t *testing.T, srv *devserver.Server, subscribedURL string) (*websocket.Conn, func()) {
	t.Helper()
	ts := httptest.NewServer(srv.Handler())
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/__hmr/ws?url=" + subscribedURL
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return srv.ConnectionCount() == 1 }, time.Second, 10*time.Millisecond)
	return conn, func() { conn.Close(); ts.Close() }
}

func readJSON(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	return string(msg)
}

func TestPublishUpdateResult_SuccessMapsToAccept(t *testing.T) {
	srv := devserver.NewServer(&fakeFetcher{}, nil)
	conn, cleanup := dialHMR(t, srv, "/entry.ts")
	defer cleanup()

	require.NoError(t, srv.PublishUpdateResult(graph.UpdateResult{
		Type:  graph.UpdateSuccess,
		Stats: graph.Stats{Loads: 1, Reevaluations: 2, DurationMS: 5},
	}))

	msg := readJSON(t, conn)
	require.Contains(t, msg, `"type":"accept"`)
	require.Contains(t, msg, "1 load")
}

func TestPublishUpdateResult_UnacceptedMapsToReload(t *testing.T) {
	srv := devserver.NewServer(&fakeFetcher{}, nil)
	conn, cleanup := dialHMR(t, srv, "/leaf.ts")
	defer cleanup()

	require.NoError(t, srv.PublishUpdateResult(graph.UpdateResult{
		Type: graph.UpdateUnaccepted,
		Chain: []graph.InvalidationChainNode{
			{Modules: []string{"/leaf.ts"}},
			{Modules: []string{"/main.ts"}},
		},
	}))

	msg := readJSON(t, conn)
	require.Contains(t, msg, `"type":"reload"`)
	require.Contains(t, msg, "/leaf.ts")
}

func TestPublishUpdateResult_EvaluationErrorMapsToError(t *testing.T) {
	srv := devserver.NewServer(&fakeFetcher{}, nil)
	conn, cleanup := dialHMR(t, srv, "/entry.ts")
	defer cleanup()

	require.NoError(t, srv.PublishUpdateResult(graph.UpdateResult{
		Type:  graph.UpdateEvaluationError,
		Error: errors.New("boom"),
	}))

	msg := readJSON(t, conn)
	require.Contains(t, msg, `"type":"error"`)
	require.Contains(t, msg, "boom")
}

func TestPublishUpdateResult_FatalErrorMapsToError(t *testing.T) {
	srv := devserver.NewServer(&fakeFetcher{}, nil)
	conn, cleanup := dialHMR(t, srv, "/entry.ts")
	defer cleanup()

	require.NoError(t, srv.PublishUpdateResult(graph.UpdateResult{
		Type:  graph.UpdateFatalError,
		Error: errors.New("graph wedged"),
	}))

	msg := readJSON(t, conn)
	require.Contains(t, msg, `"type":"error"`)
	require.Contains(t, msg, "graph wedged")
}
