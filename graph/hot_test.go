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
	"testing"

	"github.com/stretchr/testify/require"

	"hotmod.dev/hmr/graph"
)

func TestHot_DeclineAndInvalidateFlags(t *testing.T) {
	rt := newTestRuntime(t)
	var hot *graph.Hot
	ctrl := loadModule(rt, "m.js", func(ctx context.Context, h *graph.Hot) (*graph.BodyHandle, error) {
		hot = h
		h.Decline()
		return staticBody(nil)(ctx, h)
	})
	require.NoError(t, ctrl.Dispatch(context.Background()))

	require.True(t, hot.IsDeclined())
	require.False(t, hot.IsInvalidated())

	hot.Invalidate()
	require.True(t, hot.IsInvalidated())
}

func TestHot_DisposeRunsInReverseRegistrationOrderAndThreadsData(t *testing.T) {
	rt := newTestRuntime(t)
	rec := &recorder{}

	body := func(ctx context.Context, h *graph.Hot) (*graph.BodyHandle, error) {
		h.Dispose(func(data any) (any, error) {
			rec.record("dispose-1")
			return "from-1", nil
		})
		h.Dispose(func(data any) (any, error) {
			rec.record("dispose-2")
			return "from-2", nil
		})
		h.Accept(nil, nil)
		return staticBody(nil)(ctx, h)
	}

	ctrl := loadModule(rt, "m.js", body)
	require.NoError(t, rt.Main(context.Background(), "m.js"))

	loadModule(rt, "m.js", body)
	_, uerr := rt.RequestUpdateResult(context.Background())
	require.NoError(t, uerr)

	require.Equal(t, []string{"dispose-2", "dispose-1"}, rec.snapshot())
	require.Equal(t, "from-1", ctrl.Current().Data())
}

func TestHot_AcceptSelf_AbsorbsOwnInvalidation(t *testing.T) {
	rt := newTestRuntime(t)
	value := 1
	body := func() graph.BodyFunc {
		return func(ctx context.Context, h *graph.Hot) (*graph.BodyHandle, error) {
			h.Accept(nil, nil)
			return staticBody(map[string]any{"value": value})(ctx, h)
		}
	}

	ctrl := loadModule(rt, "leaf.js", body())
	require.NoError(t, rt.Main(context.Background(), "leaf.js"))

	value = 2
	loadModule(rt, "leaf.js", body())
	result, err := rt.RequestUpdateResult(context.Background())
	require.NoError(t, err)
	require.Equal(t, graph.UpdateSuccess, result.Type)

	g, res := ctrl.ResolveExport("value")
	require.Equal(t, graph.ExportFound, res)
	require.Equal(t, 2, g())
}

func TestHot_NoAcceptAnywhereBubblesToUnaccepted(t *testing.T) {
	rt := newTestRuntime(t)
	ctrl := loadModule(rt, "leaf.js", staticBody(map[string]any{"value": 1}))
	require.NoError(t, rt.Main(context.Background(), "leaf.js"))

	loadModule(rt, "leaf.js", staticBody(map[string]any{"value": 2}))
	result, err := rt.RequestUpdateResult(context.Background())
	require.NoError(t, err)
	require.Equal(t, graph.UpdateUnaccepted, result.Type)
	require.NotEmpty(t, result.Chain)
}

func TestHot_DeclineWinsOverSelfAccept(t *testing.T) {
	rt := newTestRuntime(t)
	loadModule(rt, "leaf.js", func(ctx context.Context, h *graph.Hot) (*graph.BodyHandle, error) {
		h.Accept(nil, nil)
		h.Decline()
		return staticBody(nil)(ctx, h)
	})
	require.NoError(t, rt.Main(context.Background(), "leaf.js"))

	loadModule(rt, "leaf.js", staticBody(nil))
	result, err := rt.RequestUpdateResult(context.Background())
	require.NoError(t, err)
	require.Equal(t, graph.UpdateDeclined, result.Type)
	require.Len(t, result.Declined, 1)
}

func TestHot_SelfAcceptOnUpdateErrorFailsTheUpdate(t *testing.T) {
	rt := newTestRuntime(t)
	boom := errors.New("boom")
	body := func(shouldFail bool) graph.BodyFunc {
		return func(ctx context.Context, h *graph.Hot) (*graph.BodyHandle, error) {
			h.Accept(nil, func(_ []*graph.Namespace) error {
				if shouldFail {
					return boom
				}
				return nil
			})
			return staticBody(nil)(ctx, h)
		}
	}

	loadModule(rt, "leaf.js", body(false))
	require.NoError(t, rt.Main(context.Background(), "leaf.js"))

	loadModule(rt, "leaf.js", body(true))
	result, err := rt.RequestUpdateResult(context.Background())
	require.NoError(t, err)
	require.Equal(t, graph.UpdateUnacceptedEvaluation, result.Type)
}
