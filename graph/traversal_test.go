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

package graph_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"hotmod.dev/hmr/graph"
)

func TestDispatch_AcyclicChainInstantiatesInPreOrder(t *testing.T) {
	rt := newTestRuntime(t)
	var seq []string
	mark := func(name string) graph.BodyFunc {
		return func(ctx context.Context, hot *graph.Hot) (*graph.BodyHandle, error) {
			seq = append(seq, name)
			return staticBody(nil)(ctx, hot)
		}
	}

	loadModule(rt, "leaf.js", mark("leaf"))
	mid := loadModule(rt, "mid.js", mark("mid"), dep("./leaf.js", "leaf.js"))
	entry := loadModule(rt, "entry.js", mark("entry"), dep("./mid.js", "mid.js"))
	_ = mid

	require.NoError(t, entry.Dispatch(context.Background()))
	// Begin runs pre-order (entry, mid, leaf); bodies are marked at
	// instantiate time, which is Begin, so that order is preserved.
	require.Equal(t, []string{"entry", "mid", "leaf"}, seq)
}

func TestDispatch_CycleIsDispatchedAsOneUnit(t *testing.T) {
	rt := newTestRuntime(t)

	// a.js and b.js import each other — Declaration dependency closures
	// resolve lazily through rt.Acquire, so the cycle needs no special
	// construction order.
	a := loadModule(rt, "a.js", staticBody(map[string]any{"fromA": 1}),
		dep("./b.js", "b.js", importBinding("fromB", "fromB")))
	loadModule(rt, "b.js", staticBody(map[string]any{"fromB": 2}),
		dep("./a.js", "a.js", importBinding("fromA", "fromA")))

	require.NoError(t, a.Dispatch(context.Background()))

	g, res := a.ResolveExport("fromA")
	require.Equal(t, graph.ExportFound, res)
	require.Equal(t, 1, g())

	b, ok := rt.Lookup("b.js")
	require.True(t, ok)
	g, res = b.ResolveExport("fromB")
	require.Equal(t, graph.ExportFound, res)
	require.Equal(t, 2, g())
}

func TestAcquire_ReturnsStableIdentity(t *testing.T) {
	rt := newTestRuntime(t)
	c1 := rt.Acquire("same.js")
	c2 := rt.Acquire("same.js")
	require.Same(t, c1, c2)
}

func TestDispatch_ConcurrentCallsDedupe(t *testing.T) {
	rt := newTestRuntime(t)
	started := make(chan struct{})
	release := make(chan struct{})
	var starts int

	slow := func(ctx context.Context, hot *graph.Hot) (*graph.BodyHandle, error) {
		starts++
		close(started)
		<-release
		return staticBody(nil)(ctx, hot)
	}
	ctrl := loadModule(rt, "slow.js", slow)

	errs := make(chan error, 2)
	go func() { errs <- ctrl.Dispatch(context.Background()) }()
	<-started
	go func() { errs <- ctrl.Dispatch(context.Background()) }()

	close(release)
	require.NoError(t, <-errs)
	require.NoError(t, <-errs)
	require.Equal(t, 1, starts, "a second concurrent Dispatch must await the first rather than re-run it")
}
