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

// Package hostio defines the narrow interfaces the graph engine uses to
// reach its external collaborators: source fetching, transforming,
// dynamic import, and file-change notification. Per spec.md §1 these are
// explicitly out of the engine's core — the engine only ever depends on
// these interfaces, never on watch/transformhost/devserver directly.
package hostio

import (
	"context"
	"time"
)

// ChangeEvent is one coalesced batch of filesystem changes.
type ChangeEvent struct {
	Paths     []string
	Timestamp time.Time
}

// Watcher notifies the runtime when a watched URL's underlying source
// changes. Implementations must debounce duplicate mtime events — see
// watch.Watcher.
type Watcher interface {
	// Watch begins watching path (recursively, if it is a directory).
	Watch(path string) error
	// Events returns the channel of debounced change batches.
	Events() <-chan ChangeEvent
	// Close stops the watcher and releases its resources.
	Close() error
}

// FetchResult is what the host loader hooks deliver for one URL version.
type FetchResult struct {
	URL        string
	Version    uint64
	Source     []byte
	Attributes map[string]string
}

// SourceFetcher resolves a specifier against a parent URL and retrieves
// its source. Implementations apply the source transform (out of scope
// for the core, spec.md §1) before returning.
type SourceFetcher interface {
	// Resolve turns a specifier (relative, bare, or synthetic
	// cache-busting form) plus a parent URL into a stable module URL.
	Resolve(ctx context.Context, specifier, parentURL string) (string, error)
	// Fetch retrieves and transforms the source at url, bumping the
	// cache-busting version when forceReload is set (spec.md §6).
	Fetch(ctx context.Context, url string, forceReload bool) (FetchResult, error)
}

// DynamicImporter performs a host-mediated `import(specifier)` from
// within a running module body, per spec.md §4.2.
type DynamicImporter interface {
	Import(ctx context.Context, specifier, parentURL string) (any, error)
}

// Host bundles the fetch and dynamic-import collaborators a runtime
// needs. transformhost.Engine only implements SourceFetcher; cmd/hotmod
// composes it with a small DynamicImporter built on graph.Runtime to
// satisfy Host.
type Host interface {
	SourceFetcher
	DynamicImporter
}
