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

// InstanceState is one node of the module instance state machine
// (spec.md §3).
type InstanceState int

const (
	StateNew InstanceState = iota
	StateLinking
	StateLinked
	StateEvaluatingSync
	StateEvaluatingAsync
	StateEvaluated
)

func (s InstanceState) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateLinking:
		return "linking"
	case StateLinked:
		return "linked"
	case StateEvaluatingSync:
		return "evaluating"
	case StateEvaluatingAsync:
		return "evaluating-async"
	case StateEvaluated:
		return "evaluated"
	default:
		return "unknown"
	}
}

// DynamicImportRecord is one `import(specifier)` observed during a
// body's evaluation (spec.md §4.2).
type DynamicImportRecord struct {
	Controller *Controller
	Specifier  string
}

// Instance is one evaluation of a Declaration (spec.md §3).
type Instance struct {
	mu sync.Mutex

	controller *Controller
	decl       *Declaration
	state      InstanceState

	handle         *BodyHandle
	exports        map[string]Getter
	replaceImports ReplaceImportsFunc

	namespace      *Namespace
	dynamicImports []DynamicImportRecord

	hot *Hot

	// data is what the prior instance's dispose callback returned,
	// delivered to this instance via import.meta.hot.data (spec.md §4.7).
	data any

	evalErr error
}

func newInstance(c *Controller, decl *Declaration, data any) *Instance {
	return &Instance{
		controller: c,
		decl:       decl,
		state:      StateNew,
		data:       data,
	}
}

// clone produces a fresh, unstarted instance of the same declaration,
// carrying the same hot.data forward. Used both for re-evaluating an
// unchanged declaration (dispatchPhase) and for Phase 2's link-test
// temporaries.
func (i *Instance) clone() *Instance {
	i.mu.Lock()
	defer i.mu.Unlock()
	return newInstance(i.controller, i.decl, i.data)
}

// State returns the instance's current state machine position.
func (i *Instance) State() InstanceState {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.state
}

// Declaration returns the immutable declaration this instance evaluates.
func (i *Instance) Declaration() *Declaration { return i.decl }

// Hot returns the instance's HMR surface, valid once instantiated.
func (i *Instance) Hot() *Hot {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.hot
}

// Data returns the data this instance received from its predecessor's
// dispose callback, or nil for a freshly booted instance.
func (i *Instance) Data() any { return i.data }

// recordDynamicImport appends a dynamic import observation, used by the
// feasibility pass to include dynamic-import successors (spec.md §4.6
// Phase 1).
func (i *Instance) recordDynamicImport(rec DynamicImportRecord) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.dynamicImports = append(i.dynamicImports, rec)
}

func (i *Instance) dynamicImportControllers() []*Controller {
	i.mu.Lock()
	defer i.mu.Unlock()
	out := make([]*Controller, 0, len(i.dynamicImports))
	for _, rec := range i.dynamicImports {
		out = append(out, rec.Controller)
	}
	return out
}

// instantiate starts the body, capturing its exports descriptor and
// replaceImports hook (spec.md §4.2 steps 1–2), transitioning
// new -> linking. The HMR surface is created here, frozen at
// instantiate per spec.md §4.7.
func (i *Instance) instantiate(ctx context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.state != StateNew {
		return fmt.Errorf("graph: instantiate called on instance in state %s", i.state)
	}

	i.hot = newHot(i)

	handle, err := i.decl.Body(ctx, i.hot)
	if err != nil {
		i.hot = nil
		return err
	}

	i.handle = handle
	i.exports = handle.Exports
	i.replaceImports = handle.ReplaceImports
	i.state = StateLinking
	return nil
}

// linkEnvironment delivers resolved imports to the body, installing the
// live-binding holder (spec.md §4.4), transitioning linking -> linked.
func (i *Instance) linkEnvironment(imports ImportsObject) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.state != StateLinking {
		return fmt.Errorf("graph: linkEnvironment called on instance in state %s", i.state)
	}

	if i.replaceImports != nil {
		i.replaceImports(imports)
	}
	i.state = StateLinked
	return nil
}

// relink refreshes the body's imported-binding holders in place, without
// touching instance state. Used to keep a module's live bindings current
// after one of its dependencies was replaced by an update, even when this
// instance itself does not re-run (spec.md §9, "live bindings without
// source re-execution").
func (i *Instance) relink(imports ImportsObject) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.replaceImports != nil {
		i.replaceImports(imports)
	}
}

// unlink reverts a not-yet-evaluated instance back to new, invoking the
// body's cleanup hook if present. Used when link fails and the instance
// must remain reusable for a subsequent update attempt (spec.md §4.4).
func (i *Instance) unlink() error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.state != StateLinking && i.state != StateLinked {
		return nil
	}

	var err error
	if i.handle != nil && i.handle.Close != nil {
		err = i.handle.Close()
	}
	i.handle = nil
	i.exports = nil
	i.replaceImports = nil
	i.hot = nil
	i.state = StateNew
	return err
}

// evaluate resumes the body with the delivered imports, transitioning
// linked -> evaluating(Async) -> evaluated. Sync and async completion
// are unified by selecting on the Done channel: a body that finished
// before Resume returned closes Done immediately; one suspended on
// top-level await closes it later (spec.md §4.5).
func (i *Instance) evaluate(ctx context.Context, imports ImportsObject) error {
	i.mu.Lock()
	if i.state != StateLinked {
		i.mu.Unlock()
		return fmt.Errorf("graph: evaluate called on instance in state %s", i.state)
	}
	handle := i.handle
	i.state = StateEvaluatingSync
	i.mu.Unlock()

	result := handle.Resume(imports)

	select {
	case err, ok := <-result.Done:
		return i.finishEvaluation(ok, err)
	default:
	}

	i.mu.Lock()
	i.state = StateEvaluatingAsync
	i.mu.Unlock()

	select {
	case err, ok := <-result.Done:
		return i.finishEvaluation(ok, err)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (i *Instance) finishEvaluation(ok bool, err error) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.state = StateEvaluated
	if ok {
		i.evalErr = err
	}
	return i.evalErr
}

// EvaluationError returns the error recorded during evaluate, if any.
func (i *Instance) EvaluationError() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.evalErr
}

// Namespace lazily builds and caches the module namespace object.
// Identity is stable for the instance's lifetime (property P3); a
// replaced instance gets a fresh Namespace (spec.md §4.3).
func (i *Instance) Namespace() *Namespace {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.namespace == nil {
		i.namespace = buildNamespace(i)
	}
	return i.namespace
}

// localExport returns the getter for name if it is a direct (local)
// export of this instance.
func (i *Instance) localExport(name string) (Getter, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	g, ok := i.exports[name]
	return g, ok
}

func (i *Instance) localExportNames() []string {
	i.mu.Lock()
	defer i.mu.Unlock()
	names := make([]string, 0, len(i.exports))
	for name := range i.exports {
		names = append(names, name)
	}
	return names
}
