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

import "context"

// Getter reads the current value of one binding. Every live-binding
// access funnels through a Getter rather than a captured value, so a
// relink can rewire what a dependent reads without re-running its body
// (spec.md §9, "Live bindings without source re-execution").
type Getter func() any

// ImportsObject is the resolved set of imported bindings delivered to a
// body on resumption, keyed by local name.
type ImportsObject map[string]Getter

// ReplaceImportsFunc installs imported-binding getters into a module
// body's local scope. The body calls holder functions rather than
// captured values, so calling ReplaceImports again after an update
// rewires bindings in place.
type ReplaceImportsFunc func(imports ImportsObject)

// ResumeResult reports whether a resumed body has finished. Done is
// closed (or sent to, for a failed body) when evaluation completes. A
// synchronous body closes Done before Resume returns; an asynchronous
// body (one using top-level await) returns immediately and closes Done
// later, from whatever goroutine it uses to await its suspension
// points — unifying sync and async completion on one channel shape per
// spec.md §4.5.
type ResumeResult struct {
	Done <-chan error
}

// BodyHandle is what a body returns once started: the exports
// descriptor, the hook to deliver resolved imports, and the function to
// resume execution. This is the Go realization of "the first yielded
// value is [replaceImports, exports]" (spec.md §4.2).
type BodyHandle struct {
	Exports        map[string]Getter
	ReplaceImports ReplaceImportsFunc
	Resume         func(imports ImportsObject) ResumeResult
	// Close runs cleanup for a body that will never be resumed to
	// completion — the analogue of calling a generator's .return().
	// Optional; nil if the body has no suspended resources to release.
	Close func() error
}

// BodyFunc starts a module body: it performs whatever setup is needed
// (including, per spec.md §4.2 step 5, calling back into the owning
// controller's Load to register its own declaration, for bodies that
// install themselves) and returns the handle carrying the exports
// descriptor. hot is delivered up front — matching import.meta.hot
// being available from a module's first synchronous statement — so the
// body can call Accept/Decline/Dispose/Prune during its top-level
// execution, before any suspension point. Called once per instantiation.
type BodyFunc func(ctx context.Context, hot *Hot) (*BodyHandle, error)

// closedErrChan returns a channel with a result already delivered on
// it, for bodies that complete synchronously.
func closedErrChan(err error) <-chan error {
	ch := make(chan error, 1)
	ch <- err
	close(ch)
	return ch
}
