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
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"hotmod.dev/hmr/graph"
)

// A parent that names exactly which dependency it accepts must not be
// re-run itself, must receive the new namespace through its callback,
// and must leave an untouched sibling dependency alone.
func TestScenario_AcceptNamedDependencyWithSiblingUntouched(t *testing.T) {
	rt := newTestRuntime(t)

	var aRuns, bRuns, entryRuns int
	aValue := 1
	aBody := func() graph.BodyFunc {
		return func(ctx context.Context, h *graph.Hot) (*graph.BodyHandle, error) {
			aRuns++
			return staticBody(map[string]any{"value": aValue})(ctx, h)
		}
	}
	bBody := func(ctx context.Context, h *graph.Hot) (*graph.BodyHandle, error) {
		bRuns++
		return staticBody(map[string]any{"value": "sibling"})(ctx, h)
	}

	var received *graph.Namespace
	entryBody := func(ctx context.Context, h *graph.Hot) (*graph.BodyHandle, error) {
		entryRuns++
		h.Accept([]string{"./childA.js"}, func(namespaces []*graph.Namespace) error {
			if len(namespaces) > 0 {
				received = namespaces[0]
			}
			return nil
		})
		return staticBody(nil)(ctx, h)
	}

	loadModule(rt, "childA.js", aBody())
	loadModule(rt, "childB.js", bBody)
	loadModule(rt, "entry.js", entryBody,
		dep("./childA.js", "childA.js", importBinding("value", "aValue")),
		dep("./childB.js", "childB.js", importBinding("value", "bValue")),
	)

	require.NoError(t, rt.Main(context.Background(), "entry.js"))
	require.Equal(t, 1, aRuns)
	require.Equal(t, 1, bRuns)
	require.Equal(t, 1, entryRuns)

	aValue = 2
	loadModule(rt, "childA.js", aBody())
	result, err := rt.RequestUpdateResult(context.Background())
	require.NoError(t, err)
	require.Equal(t, graph.UpdateSuccess, result.Type)

	require.Equal(t, 3, aRuns, "the changed dependency runs once for the link test's temporary and once when dispatched")
	require.Equal(t, 1, bRuns, "the untouched sibling must not re-run")
	require.Equal(t, 1, entryRuns, "an accepting parent must not re-run its own body")
	require.NotNil(t, received)
	g, ok := received.Get("value")
	require.True(t, ok)
	require.Equal(t, 2, g())
}

// A module that self-accepts and imports a named binding from a
// dependency absorbs that dependency's change rather than bubbling to
// UpdateUnaccepted: it is relinked against the dependency's new
// instance (its own body never re-runs, since its own code did not
// change) and observes the new value through the live binding.
func TestScenario_SelfAcceptAbsorbsChangedDependency(t *testing.T) {
	rt := newTestRuntime(t)

	counter := 1
	loadModule(rt, "child.js", staticBody(map[string]any{"counter": counter}))

	main := loadModule(rt, "main.js",
		relayModule("counter", nil, func(hot *graph.Hot) { hot.Accept(nil, nil) }),
		dep("./child.js", "child.js", importBinding("counter", "counter")),
	)
	require.NoError(t, rt.Main(context.Background(), "main.js"))

	g, res := main.ResolveExport("value")
	require.Equal(t, graph.ExportFound, res)
	require.Equal(t, 1, g())

	counter = 2
	loadModule(rt, "child.js", staticBody(map[string]any{"counter": counter}))
	result, err := rt.RequestUpdateResult(context.Background())
	require.NoError(t, err)
	require.Equal(t, graph.UpdateSuccess, result.Type, "a self-accepting parent absorbs its dependency's invalidation")

	g, res = main.ResolveExport("value")
	require.Equal(t, graph.ExportFound, res)
	require.Equal(t, 2, g(), "main observes the dependency's new value through the relinked binding")
}

// Self-accept absorbs the invalidation itself, but cannot paper over a
// dependency whose new code dropped an export the self-accepting
// module still imports — that surfaces as a link error, same as any
// other broken binding.
func TestScenario_SelfAcceptOverDependencyWithRemovedExportIsLinkError(t *testing.T) {
	rt := newTestRuntime(t)

	loadModule(rt, "child.js", staticBody(map[string]any{"symbol": 1}))
	loadModule(rt, "main.js",
		func(ctx context.Context, h *graph.Hot) (*graph.BodyHandle, error) {
			h.Accept(nil, nil)
			return staticBody(nil)(ctx, h)
		},
		dep("./child.js", "child.js", importBinding("symbol", "symbol")),
	)
	require.NoError(t, rt.Main(context.Background(), "main.js"))

	loadModule(rt, "child.js", staticBody(nil)) // new code drops "symbol"
	result, err := rt.RequestUpdateResult(context.Background())
	require.NoError(t, err)
	require.Equal(t, graph.UpdateLinkError, result.Type)
}

// An update to one member of a cycle is dispatched against the whole
// SCC as a single unit: even the unchanged member is re-instantiated,
// since a cycle cannot be partially evaluated (property P6).
func TestScenario_CycleUpdateDispatchesBothMembersTogether(t *testing.T) {
	rt := newTestRuntime(t)

	var aRuns, bRuns int
	aVal := 1
	aBody := func() graph.BodyFunc {
		return func(ctx context.Context, h *graph.Hot) (*graph.BodyHandle, error) {
			aRuns++
			h.Accept(nil, nil)
			return staticBody(map[string]any{"fromA": aVal})(ctx, h)
		}
	}
	bBody := func(ctx context.Context, h *graph.Hot) (*graph.BodyHandle, error) {
		bRuns++
		return staticBody(map[string]any{"fromB": 99})(ctx, h)
	}

	a := loadModule(rt, "a.js", aBody(), dep("./b.js", "b.js", importBinding("fromB", "fromB")))
	loadModule(rt, "b.js", bBody, dep("./a.js", "a.js", importBinding("fromA", "fromA")))

	require.NoError(t, rt.Main(context.Background(), "a.js"))
	require.Equal(t, 1, aRuns)
	require.Equal(t, 1, bRuns)

	aVal = 2
	loadModule(rt, "a.js", aBody(), dep("./b.js", "b.js", importBinding("fromB", "fromB")))
	result, err := rt.RequestUpdateResult(context.Background())
	require.NoError(t, err)
	require.Equal(t, graph.UpdateSuccess, result.Type)

	require.Equal(t, 3, aRuns, "the changed member runs once for the link test's temporary and once when dispatched")
	require.Equal(t, 2, bRuns, "the unchanged cycle member still re-runs alongside its sibling")
	require.GreaterOrEqual(t, result.Stats.Loads+result.Stats.Reevaluations, 2)

	g, res := a.ResolveExport("fromA")
	require.Equal(t, graph.ExportFound, res)
	require.Equal(t, 2, g())
}

// A module that falls out of the reachable graph entirely runs both its
// dispose and its prune callbacks, dispose first, each in reverse
// registration order (spec.md §8 scenario 5): registering
// dispose(1), prune(2), dispose(3), prune(4) on removal must yield
// seq=[3,1,4,2].
func TestScenario_UnreachableDependencyIsPruned(t *testing.T) {
	rt := newTestRuntime(t)
	rec := &recorder{}

	leafBody := func(ctx context.Context, h *graph.Hot) (*graph.BodyHandle, error) {
		h.Dispose(func(data any) (any, error) {
			rec.record("1")
			return nil, nil
		})
		h.Prune(func() error {
			rec.record("2")
			return nil
		})
		h.Dispose(func(data any) (any, error) {
			rec.record("3")
			return nil, nil
		})
		h.Prune(func() error {
			rec.record("4")
			return nil
		})
		return staticBody(map[string]any{"value": 1})(ctx, h)
	}
	loadModule(rt, "leaf.js", leafBody)

	midBody := func(ctx context.Context, h *graph.Hot) (*graph.BodyHandle, error) {
		h.Accept(nil, nil)
		return staticBody(nil)(ctx, h)
	}

	loadModule(rt, "mid.js", midBody, dep("./leaf.js", "leaf.js", importBinding("value", "value")))
	require.NoError(t, rt.Main(context.Background(), "mid.js"))
	require.Empty(t, rec.snapshot())

	loadModule(rt, "mid.js", midBody) // no longer depends on leaf.js
	result, err := rt.RequestUpdateResult(context.Background())
	require.NoError(t, err)
	require.Equal(t, graph.UpdateSuccess, result.Type)
	require.Equal(t, []string{"3", "1", "4", "2"}, rec.snapshot(), "removal disposes (reversed), then prunes (reversed)")
}

// A link error found by the link test leaves the graph exactly as it
// was: a subsequent, valid update still succeeds. b.js self-accepts, so
// the invalidation stops there and the update reaches the link test
// instead of ending as UpdateUnaccepted.
func TestScenario_LinkErrorIsRecoverable(t *testing.T) {
	rt := newTestRuntime(t)

	bBody := func(ctx context.Context, h *graph.Hot) (*graph.BodyHandle, error) {
		h.Accept(nil, nil)
		return staticBody(nil)(ctx, h)
	}

	loadModule(rt, "a.js", staticBody(map[string]any{"x": 1}))
	b := loadModule(rt, "b.js", bBody, dep("./a.js", "a.js", importBinding("x", "local")))
	require.NoError(t, rt.Main(context.Background(), "b.js"))

	// A broken update: b now imports a name a.js does not export.
	loadModule(rt, "a.js", staticBody(map[string]any{"x": 1}))
	loadModule(rt, "b.js", bBody, dep("./a.js", "a.js", importBinding("nope", "local")))
	result, err := rt.RequestUpdateResult(context.Background())
	require.NoError(t, err)
	require.Equal(t, graph.UpdateLinkError, result.Type)

	_, res := b.ResolveExport("local")
	require.NotEqual(t, graph.ExportFound, res, "b.js never actually exports its imports")

	// The graph must still be usable: a good update afterwards succeeds.
	loadModule(rt, "a.js", staticBody(map[string]any{"x": 2}))
	loadModule(rt, "b.js", bBody, dep("./a.js", "a.js", importBinding("x", "local")))
	result, err = rt.RequestUpdateResult(context.Background())
	require.NoError(t, err)
	require.Equal(t, graph.UpdateSuccess, result.Type)
}

// Namespace identity is stable across repeated access to the same
// instance, but a replaced instance gets a namespace of its own
// (property P3).
func TestProperty_NamespaceIdentityStableUntilReplacement(t *testing.T) {
	rt := newTestRuntime(t)
	ctrl := loadModule(rt, "m.js", func(ctx context.Context, h *graph.Hot) (*graph.BodyHandle, error) {
		h.Accept(nil, nil)
		return staticBody(map[string]any{"x": 1})(ctx, h)
	})
	require.NoError(t, rt.Main(context.Background(), "m.js"))

	first := ctrl.Current().Namespace()
	require.Same(t, first, ctrl.Current().Namespace())

	loadModule(rt, "m.js", func(ctx context.Context, h *graph.Hot) (*graph.BodyHandle, error) {
		h.Accept(nil, nil)
		return staticBody(map[string]any{"x": 2})(ctx, h)
	})
	result, err := rt.RequestUpdateResult(context.Background())
	require.NoError(t, err)
	require.Equal(t, graph.UpdateSuccess, result.Type)

	second := ctrl.Current().Namespace()
	require.NotSame(t, first, second)
}

// Once the coordinator reports a FatalError, every subsequent update
// fails fast without touching graph state (property P11).
func TestProperty_FatalErrorIsSticky(t *testing.T) {
	rt := newTestRuntime(t)
	boom := errors.New("dispose blew up")

	loadModule(rt, "m.js", func(ctx context.Context, h *graph.Hot) (*graph.BodyHandle, error) {
		h.Dispose(func(any) (any, error) { return nil, boom })
		h.Accept(nil, nil)
		return staticBody(nil)(ctx, h)
	})
	require.NoError(t, rt.Main(context.Background(), "m.js"))

	loadModule(rt, "m.js", staticBody(nil))
	result, err := rt.RequestUpdateResult(context.Background())
	require.NoError(t, err)
	require.Equal(t, graph.UpdateFatalError, result.Type)

	loadModule(rt, "m.js", staticBody(nil))
	second, err := rt.RequestUpdateResult(context.Background())
	require.NoError(t, err)
	require.Equal(t, graph.UpdateFatalError, second.Type, "the runtime must stay fatally broken")
}

// Overlapping update requests serialize through the single coordinator
// goroutine rather than racing (property P10).
func TestProperty_ConcurrentUpdateRequestsSerialize(t *testing.T) {
	rt := newTestRuntime(t)
	var mu sync.Mutex
	var runs int

	body := func() graph.BodyFunc {
		return func(ctx context.Context, h *graph.Hot) (*graph.BodyHandle, error) {
			mu.Lock()
			runs++
			mu.Unlock()
			h.Accept(nil, nil)
			return staticBody(nil)(ctx, h)
		}
	}

	loadModule(rt, "m.js", body())
	require.NoError(t, rt.Main(context.Background(), "m.js"))

	const n = 5
	var wg sync.WaitGroup
	results := make([]graph.UpdateResult, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		loadModule(rt, "m.js", body())
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			results[i], errs[i] = rt.RequestUpdateResult(ctx)
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		require.Equal(t, graph.UpdateSuccess, results[i].Type)
	}
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, n+1, runs, "initial boot plus one run per serialized update")
}
