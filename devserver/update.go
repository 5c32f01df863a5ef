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

package devserver

import (
	"fmt"
	"strings"

	"hotmod.dev/hmr/graph"
)

// PublishUpdateResult translates a graph.UpdateResult into an UpdateEvent
// and broadcasts it. graph.Runtime.Subscribe is the intended caller —
// wiring it this way keeps devserver the only package that knows both
// vocabularies, rather than teaching graph about WebSocket payloads or
// teaching the coordinator about dev-client JSON.
func (s *Server) PublishUpdateResult(result graph.UpdateResult) error {
	return s.PublishUpdate(resultToEvent(result))
}

// resultToEvent maps an update's outcome to the dev client's event
// vocabulary. UpdateSuccess (every touched module either kept its old
// code or had its change absorbed by an accept group) and UpdateNone
// (nothing to apply) are the only outcomes that never need a full page
// reload; everything that reaches
// the entry module unaccepted falls back to one, since this reference
// host has no in-browser module-swap path of its own — the client's
// only way to pick up new top-level bindings is to refetch the page.
func resultToEvent(result graph.UpdateResult) UpdateEvent {
	switch result.Type {
	case graph.UpdateNone:
		return UpdateEvent{Type: EventAccept, Message: "no changes to apply"}

	case graph.UpdateSuccess:
		return UpdateEvent{
			Type:            EventAccept,
			Message:         fmt.Sprintf("update applied (%d load(s), %d reevaluation(s), %dms)", result.Stats.Loads, result.Stats.Reevaluations, result.Stats.DurationMS),
			InvalidatedURLs: chainURLs(result.Chain),
		}

	case graph.UpdateUnacceptedEvaluation:
		return UpdateEvent{
			Type:    EventReload,
			Message: "accept callback rejected the update after evaluation, reloading",
		}

	case graph.UpdateDeclined:
		return UpdateEvent{
			Type:            EventReload,
			Message:         fmt.Sprintf("declined by %s, reloading", declinedURLs(result.Declined)),
			InvalidatedURLs: declinedURLsList(result.Declined),
		}

	case graph.UpdateUnaccepted:
		return UpdateEvent{
			Type:            EventReload,
			Message:         "no ancestor accepted the change, reloading\n" + renderChain(result.Chain),
			InvalidatedURLs: chainURLs(result.Chain),
		}

	case graph.UpdateLinkError:
		return UpdateEvent{Type: EventError, Message: "link error: " + result.Error.Error()}

	case graph.UpdateEvaluationError:
		return UpdateEvent{Type: EventError, Message: "evaluation error: " + result.Error.Error()}

	case graph.UpdateFatalError:
		return UpdateEvent{Type: EventError, Message: "fatal error, graph is no longer usable: " + result.Error.Error()}

	default:
		return UpdateEvent{Type: EventError, Message: "unknown update result"}
	}
}

func declinedURLsList(declined []*graph.Controller) []string {
	urls := make([]string, len(declined))
	for i, c := range declined {
		urls[i] = c.URL()
	}
	return urls
}

func declinedURLs(declined []*graph.Controller) string {
	return strings.Join(declinedURLsList(declined), ", ")
}

func chainURLs(chain []graph.InvalidationChainNode) []string {
	var urls []string
	for _, node := range chain {
		urls = append(urls, node.Modules...)
	}
	return urls
}

// renderChain draws the invalidation chain as an indented tree for the
// terminal logger and, doubled as plain text, for the reload message a
// dev client can show its user. A node already visited earlier in the
// traversal is elided as "… (seen)" rather than repeated in full.
func renderChain(chain []graph.InvalidationChainNode) string {
	var b strings.Builder
	for i, node := range chain {
		b.WriteString(strings.Repeat("  ", i))
		b.WriteString("- ")
		if node.Seen {
			b.WriteString("… (seen)")
		} else {
			b.WriteString(strings.Join(node.Modules, ", "))
		}
		if i < len(chain)-1 {
			b.WriteString("\n")
		}
	}
	return b.String()
}
