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
	"fmt"
	"sync"
)

// DisposeFunc runs on every replacement of the owning instance. The
// data it returns is delivered to the next instance's Data() via
// import.meta.hot.data (spec.md §4.7).
type DisposeFunc func(data any) (any, error)

// PruneFunc runs only when the owning module is removed from the graph
// entirely (spec.md §4.7).
type PruneFunc func() error

// OnUpdateFunc is invoked once per matching accept group when
// tryAccept succeeds against it; a non-nil error aborts acceptance.
type OnUpdateFunc func(namespaces []*Namespace) error

// AcceptGroup is one registration via Hot.Accept. An empty Specifiers
// list marks self-accept.
type AcceptGroup struct {
	Specifiers []string
	OnUpdate   OnUpdateFunc
}

// Hot is the per-instance HMR surface (spec.md §4.7): frozen at
// instantiate, consumed by user code and queried by the update
// coordinator.
type Hot struct {
	mu       sync.Mutex
	instance *Instance

	accepts     []AcceptGroup
	declined    bool
	invalidated bool

	disposeCBs []DisposeFunc
	pruneCBs   []PruneFunc
}

func newHot(i *Instance) *Hot {
	return &Hot{instance: i}
}

// Accept registers an accept group. An empty specifiers slice means
// self-accept.
func (h *Hot) Accept(specifiers []string, onUpdate OnUpdateFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.accepts = append(h.accepts, AcceptGroup{Specifiers: specifiers, OnUpdate: onUpdate})
}

// Decline marks this module as refusing all updates.
func (h *Hot) Decline() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.declined = true
}

// Dispose registers a teardown callback run on every replacement.
func (h *Hot) Dispose(cb DisposeFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.disposeCBs = append(h.disposeCBs, cb)
}

// Prune registers a teardown callback run only when the module is
// removed from the graph.
func (h *Hot) Prune(cb PruneFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pruneCBs = append(h.pruneCBs, cb)
}

// Invalidate marks this instance invalidated: if an update is running
// it cancels the instance's self-accept, otherwise it schedules a new
// update (the latter is the update coordinator's responsibility; Hot
// only records the flag).
func (h *Hot) Invalidate() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.invalidated = true
}

// DynamicImport performs a host-mediated `import(specifier)` on behalf
// of the owning body (spec.md §4.2, §4.8) and records the resulting
// controller so feasibility checks and accept-group coverage can treat
// it like a static dependency (groupValid, groupCovers below).
func (h *Hot) DynamicImport(ctx context.Context, specifier string) (any, error) {
	runtime := h.instance.controller.runtime
	if runtime == nil || runtime.host == nil {
		return nil, fmt.Errorf("graph: dynamic import of %q: no host configured", specifier)
	}

	parentURL := h.instance.controller.url
	url, err := runtime.host.Resolve(ctx, specifier, parentURL)
	if err != nil {
		return nil, fmt.Errorf("graph: resolve dynamic import %q from %s: %w", specifier, parentURL, err)
	}

	namespace, err := runtime.host.Import(ctx, specifier, parentURL)
	if err != nil {
		return nil, err
	}

	h.instance.recordDynamicImport(DynamicImportRecord{
		Controller: runtime.Acquire(url),
		Specifier:  specifier,
	})
	return namespace, nil
}

func (h *Hot) IsDeclined() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.declined
}

func (h *Hot) IsInvalidated() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.invalidated
}

// runDispose runs every registered dispose callback in reverse
// registration order, threading the returned data through so the last
// callback's return value becomes import.meta.hot.data for the next
// instance (property P8, scenario 5).
func (h *Hot) runDispose() (any, error) {
	h.mu.Lock()
	cbs := append([]DisposeFunc(nil), h.disposeCBs...)
	h.mu.Unlock()

	var data any
	for i := len(cbs) - 1; i >= 0; i-- {
		var err error
		data, err = cbs[i](data)
		if err != nil {
			return nil, err
		}
	}
	return data, nil
}

// runPrune runs every registered prune callback in reverse
// registration order (property P9).
func (h *Hot) runPrune() error {
	h.mu.Lock()
	cbs := append([]PruneFunc(nil), h.pruneCBs...)
	h.mu.Unlock()

	for i := len(cbs) - 1; i >= 0; i-- {
		if err := cbs[i](); err != nil {
			return err
		}
	}
	return nil
}

// groupValid reports whether every specifier in grp resolves to a
// declared static import or an observed dynamic import. Invalid groups
// are ignored during feasibility checks (spec.md §4.7).
func (h *Hot) groupValid(grp AcceptGroup) bool {
	decl := h.instance.Declaration()
	for _, spec := range grp.Specifiers {
		if findDependency(decl, spec) != nil {
			continue
		}
		if h.instance.dynamicImportControllerFor(spec) != nil {
			continue
		}
		return false
	}
	return true
}

func (h *Hot) groupCovers(grp AcceptGroup, target *Controller) bool {
	decl := h.instance.Declaration()
	for _, spec := range grp.Specifiers {
		if dep := findDependency(decl, spec); dep != nil && dep.Controller() == target {
			return true
		}
		if h.instance.dynamicImportControllerFor(spec) == target {
			return true
		}
	}
	return false
}

// hasAcceptFor reports whether any registered, valid accept group
// covers target — used to decide whether a passthrough dependent owes
// target an OnUpdate notification at all, as opposed to a plain relink
// (spec.md §4.6 Phase 3).
func (h *Hot) hasAcceptFor(target *Controller) bool {
	h.mu.Lock()
	groups := append([]AcceptGroup(nil), h.accepts...)
	h.mu.Unlock()
	for _, grp := range groups {
		if len(grp.Specifiers) == 0 || !h.groupValid(grp) {
			continue
		}
		if h.groupCovers(grp, target) {
			return true
		}
	}
	return false
}

// isAccepted reports whether every controller in forwardUpdates is
// covered by at least one valid, non-self accept group.
func (h *Hot) isAccepted(forwardUpdates []*Controller) bool {
	h.mu.Lock()
	groups := append([]AcceptGroup(nil), h.accepts...)
	h.mu.Unlock()

	for _, updated := range forwardUpdates {
		covered := false
		for _, grp := range groups {
			if len(grp.Specifiers) == 0 || !h.groupValid(grp) {
				continue
			}
			if h.groupCovers(grp, updated) {
				covered = true
				break
			}
		}
		if !covered {
			return false
		}
	}
	return true
}

// tryAccept is the async variant of isAccepted: it also invokes the
// OnUpdate callback of every matching group, in registration order,
// awaiting each before starting the next. Returns false if any
// callback errors or the instance is invalidated partway through.
func (h *Hot) tryAccept(forwardUpdates []*Controller, namespaces map[*Controller]*Namespace) bool {
	h.mu.Lock()
	groups := append([]AcceptGroup(nil), h.accepts...)
	h.mu.Unlock()

	for _, updated := range forwardUpdates {
		covered := false
		for _, grp := range groups {
			if len(grp.Specifiers) == 0 || !h.groupValid(grp) {
				continue
			}
			if !h.groupCovers(grp, updated) {
				continue
			}
			covered = true
			if grp.OnUpdate != nil {
				if err := grp.OnUpdate([]*Namespace{namespaces[updated]}); err != nil {
					return false
				}
			}
		}
		if !covered || h.IsInvalidated() {
			return false
		}
	}
	return true
}

func (h *Hot) isAcceptedSelf() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, grp := range h.accepts {
		if len(grp.Specifiers) == 0 {
			return true
		}
	}
	return false
}

func (h *Hot) tryAcceptSelf() bool {
	h.mu.Lock()
	groups := append([]AcceptGroup(nil), h.accepts...)
	h.mu.Unlock()

	found := false
	for _, grp := range groups {
		if len(grp.Specifiers) != 0 {
			continue
		}
		found = true
		if grp.OnUpdate != nil {
			if err := grp.OnUpdate(nil); err != nil {
				return false
			}
		}
	}
	if !found {
		return false
	}
	return !h.IsInvalidated()
}

func findDependency(decl *Declaration, specifier string) *DependencyEntry {
	for i := range decl.Dependencies {
		if decl.Dependencies[i].Specifier == specifier {
			return &decl.Dependencies[i]
		}
	}
	return nil
}

func (i *Instance) dynamicImportControllerFor(specifier string) *Controller {
	i.mu.Lock()
	defer i.mu.Unlock()
	for _, rec := range i.dynamicImports {
		if rec.Specifier == specifier {
			return rec.Controller
		}
	}
	return nil
}
