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
	"time"
)

// UpdateResultType tags the outcome of one update run (spec.md §6).
type UpdateResultType int

const (
	UpdateNone UpdateResultType = iota
	UpdateSuccess
	UpdateUnacceptedEvaluation
	UpdateDeclined
	UpdateUnaccepted
	UpdateEvaluationError
	UpdateLinkError
	UpdateFatalError
)

func (t UpdateResultType) String() string {
	switch t {
	case UpdateNone:
		return "none"
	case UpdateSuccess:
		return "success"
	case UpdateUnacceptedEvaluation:
		return "unacceptedEvaluation"
	case UpdateDeclined:
		return "declined"
	case UpdateUnaccepted:
		return "unaccepted"
	case UpdateEvaluationError:
		return "evaluationError"
	case UpdateLinkError:
		return "linkError"
	case UpdateFatalError:
		return "fatalError"
	default:
		return "unknown"
	}
}

// Stats summarizes one completed update run (spec.md §6).
type Stats struct {
	DurationMS    int64
	Loads         int
	Reevaluations int
}

// InvalidationChainNode is one level of the invalidation diagnostic
// tree (spec.md §6). Seen marks a subtree already visited elsewhere in
// the traversal, elided rather than repeated.
type InvalidationChainNode struct {
	Modules []string
	Seen    bool
}

// UpdateResult is the tagged result of an update run, surfaced to
// RequestUpdateResult.
type UpdateResult struct {
	Type     UpdateResultType
	Stats    Stats
	Declined []*Controller
	Chain    []InvalidationChainNode
	Error    error
}

// PendingSelector resolves through each controller's pending instance,
// falling back to current — the selector Phase 1's (dry run) join reads
// each SCC's dependencies through.
func PendingSelector(c *Controller) *Instance {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.pending != nil {
		return c.pending
	}
	return c.current
}

// TemporarySelector resolves through each controller's temporary
// instance, falling back to pending then current — the neighbor
// selector for Phase 2 (link test).
func TemporarySelector(c *Controller) *Instance {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.temporary != nil {
		return c.temporary
	}
	if c.pending != nil {
		return c.pending
	}
	return c.current
}

// unionDependencyControllers merges two instances' dependency
// controllers, deduplicated, preserving a's order then b's novel
// entries.
func unionDependencyControllers(a, b *Instance) []*Controller {
	out := instanceDependencyControllers(a)
	seen := make(map[*Controller]bool, len(out))
	for _, c := range out {
		seen[c] = true
	}
	for _, c := range instanceDependencyControllers(b) {
		if seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}

// updatePass carries the per-controller scratch state for one update
// run's Phase 1 dry-run traversal. Invalidation is tracked at SCC
// granularity throughout (every member of an SCC shares one verdict),
// matching property P6 — "members of one SCC receive a single join;
// the coordinator treats them atomically".
type updatePass struct {
	root *Controller

	touched       map[*Controller]bool
	hasNewCode    map[*Controller]bool
	invalidated   map[*Controller]bool
	declined      map[*Controller]bool
	needsDispatch map[*Controller]bool
	stillInvalid  map[*Controller]bool
	// selfAccepted marks an SCC whose own invalidation, if any, was
	// resolved by its own self-accept rather than by an ancestor's named
	// accept group — only these SCCs owe a post-dispatch
	// tryAcceptSelf re-confirmation.
	selfAccepted map[*Controller]bool

	sccOrder []([]*Controller)
}

func newUpdatePass(root *Controller) *updatePass {
	return &updatePass{
		root:          root,
		touched:       make(map[*Controller]bool),
		hasNewCode:    make(map[*Controller]bool),
		invalidated:   make(map[*Controller]bool),
		declined:      make(map[*Controller]bool),
		needsDispatch: make(map[*Controller]bool),
		stillInvalid:  make(map[*Controller]bool),
		selfAccepted:  make(map[*Controller]bool),
	}
}

func (p *updatePass) begin(c *Controller) error {
	c.mu.Lock()
	c.previous = c.current
	newCode := c.staging != nil
	if newCode {
		c.pending = c.staging
	} else {
		c.pending = c.current
	}
	c.mu.Unlock()

	p.touched[c] = true
	p.hasNewCode[c] = newCode
	return nil
}

// join computes the SCC-atomic hasNewCode/invalidated/declined/
// needsDispatch verdict (spec.md §4.6 Phase 1).
//
// Two distinct forward sets matter here, and conflating them was a bug
// this implementation had to unlearn: dispatchForward is every
// dependency that changed identity (new code, or itself re-dispatched)
// — it only obliges this SCC to refresh its live bindings, nothing
// more. invalidationForward is the subset that remains unresolved
// invalidation after absorption — only that subset has to be covered by
// an accept group, on pain of this SCC itself becoming invalidated and
// bubbling further up.
func (p *updatePass) join(scc []*Controller) error {
	members := make(map[*Controller]bool, len(scc))
	for _, c := range scc {
		members[c] = true
	}

	var dispatchForward, invalidationForward []*Controller
	seenD := make(map[*Controller]bool)
	seenI := make(map[*Controller]bool)
	for _, c := range scc {
		for _, dep := range instanceDependencyControllers(PendingSelector(c)) {
			if members[dep] {
				continue
			}
			if (p.hasNewCode[dep] || p.invalidated[dep]) && !seenD[dep] {
				seenD[dep] = true
				dispatchForward = append(dispatchForward, dep)
			}
			if p.invalidated[dep] && !seenI[dep] {
				seenI[dep] = true
				invalidationForward = append(invalidationForward, dep)
			}
		}
	}

	sccHasNewCode := false
	for _, c := range scc {
		if p.hasNewCode[c] {
			sccHasNewCode = true
		}
	}

	sccInvalidated := sccHasNewCode
	anySelfAccept := false
	anyDeclined := false
	for _, c := range scc {
		// Accept/decline/self-accept registrations were made by code that
		// has already run — the previous instance, even when this SCC has
		// new code pending and a fresh, not-yet-instantiated successor
		// waiting in c.pending.
		c.mu.RLock()
		inst := c.previous
		c.mu.RUnlock()
		if inst == nil || inst.Hot() == nil {
			continue
		}
		hot := inst.Hot()
		if hot.IsInvalidated() {
			sccInvalidated = true
		}
		if !hot.isAccepted(invalidationForward) {
			sccInvalidated = true
		}
		if hot.isAcceptedSelf() {
			anySelfAccept = true
		}
		if hot.IsDeclined() {
			anyDeclined = true
		}
	}

	// Decline overrides self-accept: a module that refuses updates
	// cannot also absorb them silently.
	if anyDeclined {
		sccInvalidated = true
	}

	// A self-accepting SCC absorbs its own invalidation rather than
	// propagating it to parents (spec.md §4.6, property P7): Phase 3
	// still relinks it against whatever its dependencies resolved to (and
	// re-runs it too, if its own code also changed), so any resulting
	// link or evaluation failure surfaces there instead of this SCC's
	// parents ever seeing UpdateUnaccepted. Never absorbed when it has
	// explicitly declined.
	absorbed := anySelfAccept && !anyDeclined
	finalInvalidated := sccInvalidated && !absorbed

	for _, c := range scc {
		p.hasNewCode[c] = sccHasNewCode
		p.invalidated[c] = finalInvalidated
		p.declined[c] = finalInvalidated && anyDeclined
		p.selfAccepted[c] = absorbed
	}

	if sccHasNewCode || finalInvalidated || len(dispatchForward) > 0 {
		for _, c := range scc {
			p.needsDispatch[c] = true
		}
	}

	p.sccOrder = append(p.sccOrder, scc)
	return nil
}

func (p *updatePass) anyNewCode() bool {
	for c := range p.touched {
		if p.hasNewCode[c] {
			return true
		}
	}
	return false
}

func (p *updatePass) declinedList() []*Controller {
	var out []*Controller
	for c := range p.touched {
		if p.declined[c] {
			out = append(out, c)
		}
	}
	return out
}

func (p *updatePass) chain() []InvalidationChainNode {
	var nodes []InvalidationChainNode
	seen := make(map[*Controller]bool)
	for _, scc := range p.sccOrder {
		allInvalidated := true
		for _, c := range scc {
			if !p.invalidated[c] {
				allInvalidated = false
				break
			}
		}
		if !allInvalidated {
			continue
		}
		elided := false
		for _, c := range scc {
			if seen[c] {
				elided = true
			}
			seen[c] = true
		}
		nodes = append(nodes, InvalidationChainNode{Modules: sccURLs(scc), Seen: elided})
	}
	return nodes
}

func (p *updatePass) rollback() {
	for c := range p.touched {
		c.mu.Lock()
		c.pending = nil
		c.previous = nil
		c.temporary = nil
		c.mu.Unlock()
	}
}

func (p *updatePass) rollbackAndClearStaging() {
	for c := range p.touched {
		c.mu.Lock()
		c.pending = nil
		c.previous = nil
		c.temporary = nil
		if p.hasNewCode[c] {
			c.staging = nil
		}
		c.mu.Unlock()
	}
}

// runUpdate executes Phases 1–4 against the runtime's entry controller.
// Only ever invoked from the single coordinator goroutine (runtime.go),
// so there is no internal locking here beyond the per-Controller slot
// mutex.
func (r *Runtime) runUpdate(ctx context.Context) UpdateResult {
	start := time.Now()

	if fatal := r.fatalError(); fatal != nil {
		return UpdateResult{Type: UpdateFatalError, Error: fatal}
	}
	if r.entry == nil {
		return UpdateResult{Type: UpdateNone}
	}

	pass := newUpdatePass(r.entry)
	err := r.runTraversal(ctx, r.entry, func(context.Context) TraversalOptions {
		return TraversalOptions{
			// Union of the outgoing edges before and after this round: a
			// dependency a changed declaration just dropped must still be
			// visited once more so Phase 4 can see it is no longer reachable
			// and prune it, even though it will not need dispatch itself.
			Neighbors: func(c *Controller) []*Controller {
				return unionDependencyControllers(CurrentSelector(c), PendingSelector(c))
			},
			Begin: pass.begin,
			Join:  pass.join,
		}
	})
	if err != nil {
		pass.rollback()
		return UpdateResult{Type: UpdateLinkError, Error: err}
	}

	if !pass.needsDispatch[r.entry] {
		pass.rollback()
		return UpdateResult{Type: UpdateNone}
	}

	if declined := pass.declinedList(); len(declined) > 0 {
		pass.rollbackAndClearStaging()
		return UpdateResult{Type: UpdateDeclined, Declined: declined}
	}

	if pass.invalidated[r.entry] {
		pass.rollbackAndClearStaging()
		return UpdateResult{Type: UpdateUnaccepted, Chain: pass.chain()}
	}

	if pass.anyNewCode() {
		if err := r.linkTest(ctx, pass); err != nil {
			pass.rollback()
			return UpdateResult{Type: UpdateLinkError, Error: err}
		}
	}

	stats := Stats{}
	if dispatchErr := r.dispatchPhase(ctx, pass, &stats); dispatchErr != nil {
		pass.rollback()
		switch e := dispatchErr.(type) {
		case *FatalError:
			r.setFatal(e)
			return UpdateResult{Type: UpdateFatalError, Error: e}
		case *LinkError:
			return UpdateResult{Type: UpdateLinkError, Error: e}
		default:
			stats.DurationMS = time.Since(start).Milliseconds()
			return UpdateResult{Type: UpdateEvaluationError, Error: dispatchErr, Stats: stats}
		}
	}

	if err := r.cleanupPhase(ctx, pass); err != nil {
		fe, ok := err.(*FatalError)
		if !ok {
			fe = &FatalError{Inner: err}
		}
		r.setFatal(fe)
		return UpdateResult{Type: UpdateFatalError, Error: fe}
	}

	stats.DurationMS = time.Since(start).Milliseconds()

	if len(pass.stillInvalid) > 0 {
		return UpdateResult{Type: UpdateUnacceptedEvaluation, Stats: stats}
	}

	return UpdateResult{Type: UpdateSuccess, Stats: stats}
}

// linkTest is Phase 2: for every node whose pending version differs
// from current, clone it into temporary, instantiate, and link using
// the temporary view. A passing link test is necessary but not
// sufficient for dispatch success (spec.md §9 open question) —
// `invalidate()` called from a real accept callback during Phase 3 is
// not something this pass can anticipate.
func (r *Runtime) linkTest(ctx context.Context, pass *updatePass) error {
	var temporaries []*Controller
	for c := range pass.touched {
		c.mu.Lock()
		pending, current := c.pending, c.current
		c.mu.Unlock()
		if pending == nil || pending == current {
			continue
		}
		tmp := pending.clone()
		c.mu.Lock()
		c.temporary = tmp
		c.mu.Unlock()
		temporaries = append(temporaries, c)
	}

	defer func() {
		for _, c := range temporaries {
			c.mu.Lock()
			tmp := c.temporary
			c.temporary = nil
			c.mu.Unlock()
			if tmp != nil {
				_ = tmp.unlink()
			}
		}
	}()

	for _, c := range temporaries {
		c.mu.Lock()
		tmp := c.temporary
		c.mu.Unlock()

		if err := tmp.instantiate(ctx); err != nil {
			return err
		}
		imports, err := resolveImports(tmp, TemporarySelector)
		if err != nil {
			return err
		}
		if err := tmp.linkEnvironment(imports); err != nil {
			return err
		}
	}
	return nil
}

// dispatchPhase is Phase 3, SCC by SCC in post-order. An SCC whose own
// code changed (uniformly, across every member — property P6) is
// disposed, swapped, instantiated, linked and evaluated fresh. Every
// other touched SCC only has its import bindings relinked against
// whatever replaced its dependencies, and any named accept group
// covering one of those replacements is notified — it never re-runs its
// own body (spec.md §9, "live bindings without source re-execution").
func (r *Runtime) dispatchPhase(ctx context.Context, pass *updatePass, stats *Stats) error {
	for _, scc := range pass.sccOrder {
		needs := false
		for _, c := range scc {
			if pass.needsDispatch[c] {
				needs = true
				break
			}
		}
		if !needs {
			for _, c := range scc {
				c.mu.Lock()
				c.pending = nil
				c.mu.Unlock()
			}
			continue
		}

		ownNewCode := false
		for _, c := range scc {
			if pass.hasNewCode[c] {
				ownNewCode = true
				break
			}
		}

		if !ownNewCode {
			if err := r.relinkSCC(scc, pass); err != nil {
				return err
			}
			for _, c := range scc {
				c.mu.Lock()
				c.pending = nil
				c.mu.Unlock()
			}
			continue
		}

		for _, c := range scc {
			c.mu.Lock()
			current, pending := c.current, c.pending
			c.mu.Unlock()

			if current != nil && current.State() != StateNew && current.Hot() != nil {
				data, err := current.Hot().runDispose()
				if err != nil {
					return &FatalError{URL: c.url, Inner: err}
				}
				if pending != nil {
					pending.mu.Lock()
					pending.data = data
					pending.mu.Unlock()
				}
			}

			var next *Instance
			switch {
			case pending == current && pending != nil:
				next = pending.clone()
				stats.Reevaluations++
			case pending != nil:
				next = pending
				stats.Loads++
			}

			c.mu.Lock()
			c.current = next
			c.pending = nil
			c.previous = nil
			c.mu.Unlock()

			if next != nil && next.State() == StateNew {
				if err := next.instantiate(ctx); err != nil {
					return err
				}
			}
		}

		if err := linkAndEvaluateSCC(ctx, scc, CurrentSelector, CurrentSelector); err != nil {
			return err
		}

		// The self-accept verdict is shared by the whole SCC: it holds
		// when at least one member still self-accepts and none rejects.
		confirmed := false
		for _, c := range scc {
			if !pass.selfAccepted[c] {
				continue
			}
			inst := c.Current()
			if inst == nil || inst.Hot() == nil || !inst.Hot().isAcceptedSelf() {
				continue
			}
			if !inst.Hot().tryAcceptSelf() {
				pass.stillInvalid[c] = true
			} else {
				confirmed = true
			}
		}
		if pass.selfAccepted[scc[0]] && !confirmed {
			pass.stillInvalid[scc[0]] = true
		}
	}
	return nil
}

// relinkSCC refreshes import bindings for an SCC that did not itself
// change, then notifies any named accept group covering one of its
// replaced dependencies.
func (r *Runtime) relinkSCC(scc []*Controller, pass *updatePass) error {
	for _, c := range scc {
		inst := c.Current()
		if inst == nil {
			continue
		}
		imports, err := resolveImports(inst, CurrentSelector)
		if err != nil {
			return err
		}
		inst.relink(imports)

		hot := inst.Hot()
		if hot == nil {
			continue
		}

		var changed []*Controller
		namespaces := make(map[*Controller]*Namespace)
		for _, dep := range instanceDependencyControllers(inst) {
			if !pass.hasNewCode[dep] || !hot.hasAcceptFor(dep) {
				continue
			}
			changed = append(changed, dep)
			if depInst := dep.Current(); depInst != nil {
				namespaces[dep] = depInst.Namespace()
			}
		}
		if len(changed) == 0 {
			continue
		}
		if !hot.tryAccept(changed, namespaces) {
			pass.stillInvalid[c] = true
		}
	}
	return nil
}

// cleanupPhase is Phase 4: controllers touched by this update but no
// longer reachable from root run their dispose callbacks, then their
// prune callbacks, and are demoted back to staging (spec.md §8 scenario
// 5, property P9). Dispose runs first — a module being removed should
// release its resources before anything reacts to its removal.
func (r *Runtime) cleanupPhase(ctx context.Context, pass *updatePass) error {
	reachable := make(map[*Controller]bool)
	var walk func(c *Controller)
	walk = func(c *Controller) {
		if reachable[c] {
			return
		}
		reachable[c] = true
		for _, dep := range instanceDependencyControllers(c.Current()) {
			walk(dep)
		}
	}
	walk(r.entry)

	for c := range pass.touched {
		if reachable[c] {
			continue
		}
		inst := c.Current()
		if inst == nil {
			continue
		}
		if inst.Hot() != nil {
			if _, err := inst.Hot().runDispose(); err != nil {
				return &FatalError{URL: c.url, Inner: err}
			}
			if err := inst.Hot().runPrune(); err != nil {
				return &FatalError{URL: c.url, Inner: err}
			}
		}
		c.mu.Lock()
		c.staging = inst
		c.current = nil
		c.mu.Unlock()
	}
	return nil
}
