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

import "fmt"

// LinkReason distinguishes why environment initialization failed.
type LinkReason int

const (
	// MissingExport: resolveExport returned nil for a named import.
	MissingExport LinkReason = iota
	// AmbiguousExport: resolveExport returned ambiguous for a named import.
	AmbiguousExport
	// SelfStarExport: a module's own export * chain resolves back to
	// itself (spec.md §9 open question).
	SelfStarExport
)

func (r LinkReason) String() string {
	switch r {
	case MissingExport:
		return "missing export"
	case AmbiguousExport:
		return "ambiguous export"
	case SelfStarExport:
		return "self star export"
	default:
		return "unknown link reason"
	}
}

// LinkError reports a failure to initialize an instance's environment
// (spec.md §4.4, §7). The instance remains unlinkable back to new so a
// later update can retry.
type LinkError struct {
	Reason      LinkReason
	URL         string // the requesting module's URL
	BindingName string
	Inner       error
}

func (e *LinkError) Error() string {
	switch e.Reason {
	case MissingExport:
		return fmt.Sprintf("graph: %s: requested module does not provide export %q", e.URL, e.BindingName)
	case AmbiguousExport:
		return fmt.Sprintf("graph: %s: conflicting star exports for %q", e.URL, e.BindingName)
	case SelfStarExport:
		return fmt.Sprintf("graph: %s: export * from self", e.URL)
	default:
		return fmt.Sprintf("graph: %s: link error for %q", e.URL, e.BindingName)
	}
}

func (e *LinkError) Unwrap() error { return e.Inner }

// EvaluationError wraps a panic or error surfaced while running a
// module body, plus the SCC it occurred within (spec.md §7).
type EvaluationError struct {
	URL   string
	SCC   []string // URLs of the SCC members, for diagnostics
	Inner error
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("graph: %s: evaluation error: %v", e.URL, e.Inner)
}

func (e *EvaluationError) Unwrap() error { return e.Inner }

// FatalError is sticky: once the coordinator returns one, Runtime.fatal
// is set and every subsequent update request fails fast without
// touching graph state (property P11). It originates only from
// dispose/prune callback failures (spec.md §7), which leave an instance
// in an unreasoned-about half-torn-down state.
type FatalError struct {
	URL   string
	Inner error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("graph: %s: fatal error: %v", e.URL, e.Inner)
}

func (e *FatalError) Unwrap() error { return e.Inner }
