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

package graph

import (
	"context"
	"sort"
)

// TraversalOptions configures one pass of the shared cycle-aware DFS
// that underlies initial dispatch, update, and teardown (spec.md §4.5).
type TraversalOptions struct {
	// Neighbors returns the child nodes to visit from node, in
	// declaration order. Called after Begin(node) has run, so it may
	// depend on state Begin installed (e.g. which instance is "live").
	Neighbors func(node *Controller) []*Controller
	// Begin runs once per node when first discovered, before its
	// neighbors are visited (the traversal's pre-order hook).
	Begin func(node *Controller) error
	// Join runs once per strongly connected component, in discovery
	// order within the SCC, once every member's out-edges have
	// completed (the traversal's post-order hook).
	Join func(scc []*Controller) error
	// Unwind runs with the nodes still on the traversal stack if the
	// pass exits via error.
	Unwind func(stack []*Controller)
}

type traversalScratch struct {
	index   uint64
	lowlink uint64
	onStack bool
}

// traversal runs one Tarjan-style pass. Per-node scratch state lives
// only for the duration of one Run call; callers serialize concurrent
// passes via Runtime.visitMu (spec.md §4.5, "a visit-index acquired
// under a lightweight lock").
type traversal struct {
	opts    TraversalOptions
	visited map[*Controller]*traversalScratch
	stack   []*Controller
	next    uint64
}

func newTraversal(opts TraversalOptions) *traversal {
	return &traversal{
		opts:    opts,
		visited: make(map[*Controller]*traversalScratch),
	}
}

func (t *traversal) Run(ctx context.Context, root *Controller) error {
	_, err := t.strongconnect(ctx, root)
	if err != nil && t.opts.Unwind != nil {
		t.opts.Unwind(append([]*Controller(nil), t.stack...))
	}
	return err
}

func (t *traversal) strongconnect(ctx context.Context, v *Controller) (*traversalScratch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s := &traversalScratch{index: t.next, lowlink: t.next, onStack: true}
	t.next++
	t.visited[v] = s
	t.stack = append(t.stack, v)

	if t.opts.Begin != nil {
		if err := t.opts.Begin(v); err != nil {
			return nil, err
		}
	}

	var neighbors []*Controller
	if t.opts.Neighbors != nil {
		neighbors = t.opts.Neighbors(v)
	}

	for _, w := range neighbors {
		ws, ok := t.visited[w]
		if !ok {
			childScratch, err := t.strongconnect(ctx, w)
			if err != nil {
				return nil, err
			}
			if childScratch.lowlink < s.lowlink {
				s.lowlink = childScratch.lowlink
			}
		} else if ws.onStack {
			if ws.index < s.lowlink {
				s.lowlink = ws.index
			}
		}
	}

	if s.lowlink == s.index {
		var scc []*Controller
		for {
			n := len(t.stack) - 1
			w := t.stack[n]
			t.stack = t.stack[:n]
			t.visited[w].onStack = false
			scc = append(scc, w)
			if w == v {
				break
			}
		}
		// Popped in reverse-discovery order; present to Join in
		// discovery order (spec.md §4.5, "sorted by discovery order
		// within the SCC").
		sort.Slice(scc, func(i, j int) bool {
			return t.visited[scc[i]].index < t.visited[scc[j]].index
		})
		if t.opts.Join != nil {
			if err := t.opts.Join(scc); err != nil {
				return nil, err
			}
		}
	}

	return s, nil
}
