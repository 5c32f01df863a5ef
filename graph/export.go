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

// ExportResolution classifies the outcome of resolveExport.
type ExportResolution int

const (
	ExportFound ExportResolution = iota
	ExportUnresolvable
	ExportAmbiguous
)

// InstanceSelector picks the instance a controller is currently
// contributing to a traversal, since which slot is "live" (current,
// pending, or temporary) varies by phase (spec.md §4.6).
type InstanceSelector func(*Controller) *Instance

// CurrentSelector resolves through each controller's current instance.
func CurrentSelector(c *Controller) *Instance {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

type resolveKey struct {
	controller *Controller
	name       string
}

// namespaceOriginName marks the origin of a BindReexportStar binding
// (`export * as name from`), which resolves to a whole namespace object
// rather than a single local binding — no real export name can collide
// with it.
const namespaceOriginName = "*"

// resolveExport implements the Cyclic Module Record algorithm of
// spec.md §4.3: a getter on success, ExportUnresolvable, or
// ExportAmbiguous on conflicting star sources. resolveSet is mutated in
// place and must be fresh per top-level call. The returned resolveKey
// identifies where the binding was ultimately defined (the declaring
// controller and its local name, or the namespace-producing controller
// for a `export * as name` binding) — callers diffing two resolutions
// for ambiguity compare this origin, not the star-export dependency
// they were reached through, so a diamond re-export that bottoms out at
// the same binding is not flagged ambiguous.
func resolveExport(c *Controller, name string, sel InstanceSelector, resolveSet map[resolveKey]bool) (Getter, ExportResolution, resolveKey) {
	key := resolveKey{c, name}
	if resolveSet[key] {
		return nil, ExportUnresolvable, resolveKey{}
	}
	resolveSet[key] = true

	inst := sel(c)
	if inst == nil {
		return nil, ExportUnresolvable, resolveKey{}
	}

	if g, ok := inst.localExport(name); ok {
		return g, ExportFound, resolveKey{c, name}
	}

	decl := inst.Declaration()

	if dep, binding, ok := decl.indirectExport(name); ok {
		target := dep.Controller()
		switch binding.Kind {
		case BindReexport:
			return resolveExport(target, binding.Name, sel, resolveSet)
		case BindReexportStar:
			targetInst := sel(target)
			if targetInst == nil {
				return nil, ExportUnresolvable, resolveKey{}
			}
			ns := targetInst.Namespace()
			return func() any { return ns }, ExportFound, resolveKey{target, namespaceOriginName}
		}
	}

	if name == "default" {
		// Star exports never provide "default" (spec.md §4.3).
		return nil, ExportUnresolvable, resolveKey{}
	}

	var found Getter
	var foundOrigin resolveKey
	haveFound := false
	for _, dep := range decl.starExportSources() {
		target := dep.Controller()
		g, res, origin := resolveExport(target, name, sel, resolveSet)
		switch res {
		case ExportFound:
			if haveFound && foundOrigin != origin {
				return nil, ExportAmbiguous, resolveKey{}
			}
			found, foundOrigin, haveFound = g, origin, true
		case ExportAmbiguous:
			return nil, ExportAmbiguous, resolveKey{}
		case ExportUnresolvable:
			// not provided by this source, keep looking
		}
	}

	if haveFound {
		return found, ExportFound, foundOrigin
	}
	return nil, ExportUnresolvable, resolveKey{}
}

// ResolveExport is the public entry point, resolving against each
// controller's current instance.
func (c *Controller) ResolveExport(name string) (Getter, ExportResolution) {
	g, res, _ := resolveExport(c, name, CurrentSelector, make(map[resolveKey]bool))
	return g, res
}
