package push

import (
	"fmt"
	"slices"
	"sort"

	"github.com/mindexlab/mindex/internal/directive"
)

// registry is the in-memory derived index of directive records. It is
// rebuildable from document content at any time and is never persisted;
// documents remain the only durable state.
//
// users and subscriptions are global (not tracked per document); the
// notification identity sets are tracked per document so that a single
// document re-parse can replace exactly that document's contribution.
type registry struct {
	users         map[string]directive.User
	subscriptions map[string][]directive.Subscription
	byDoc         map[string]map[directive.Identity]directive.Notification
}

func newRegistry() *registry {
	return &registry{
		users:         make(map[string]directive.User),
		subscriptions: make(map[string][]directive.Subscription),
		byDoc:         make(map[string]map[directive.Identity]directive.Notification),
	}
}

// replaceDoc replaces docID's contribution to the notification index and
// merges the document's user and subscription records into the global maps.
// When dedupe is true (incremental reload), subscriptions already present by
// value are not appended again, keeping re-parses idempotent. Returned
// warnings cover duplicate conflicting /user blocks.
func (r *registry) replaceDoc(docID string, records []directive.Record, dedupe bool) []directive.Warning {
	var warnings []directive.Warning

	notifs := make(map[directive.Identity]directive.Notification)
	for _, rec := range records {
		switch rec.Kind {
		case directive.KindUser:
			u := rec.User
			existing, ok := r.users[u.Name]
			if !ok {
				r.users[u.Name] = u
			} else if existing != u {
				warnings = append(warnings, directive.Warning{
					DocID:  docID,
					Line:   rec.Line,
					Reason: fmt.Sprintf("duplicate /user block for %q, ignoring", u.Name),
				})
			}
		case directive.KindSubscription:
			sub := rec.Subscription
			if dedupe && slices.Contains(r.subscriptions[sub.User], sub) {
				continue
			}
			r.subscriptions[sub.User] = append(r.subscriptions[sub.User], sub)
		case directive.KindNotify:
			notifs[rec.Notification.ID] = rec.Notification
		}
	}

	if len(notifs) == 0 {
		delete(r.byDoc, docID)
	} else {
		r.byDoc[docID] = notifs
	}
	return warnings
}

// union returns the global notification set across all documents, keyed by
// identity. When the same identity appears in several documents, the
// lexically first document wins, which keeps the choice deterministic; the
// payloads are byte-identical by construction so only DocID differs.
func (r *registry) union() map[directive.Identity]directive.Notification {
	docs := make([]string, 0, len(r.byDoc))
	for docID := range r.byDoc {
		docs = append(docs, docID)
	}
	sort.Strings(docs)

	out := make(map[directive.Identity]directive.Notification)
	for _, docID := range docs {
		for id, n := range r.byDoc[docID] {
			if _, ok := out[id]; !ok {
				out[id] = n
			}
		}
	}
	return out
}

// subscriptionsFor copies the subscription lists for the given user names.
func (r *registry) subscriptionsFor(names []string) map[string][]directive.Subscription {
	out := make(map[string][]directive.Subscription, len(names))
	for _, name := range names {
		out[name] = slices.Clone(r.subscriptions[name])
	}
	return out
}

// diff splits the old and new identity sets into the identities to cancel
// (present only in old) and to schedule (present only in new). Identities in
// both sets are untouched, preserving their original fire time.
func diff(old, new map[directive.Identity]directive.Notification) (toCancel, toSchedule []directive.Identity) {
	for id := range old {
		if _, ok := new[id]; !ok {
			toCancel = append(toCancel, id)
		}
	}
	for id := range new {
		if _, ok := old[id]; !ok {
			toSchedule = append(toSchedule, id)
		}
	}
	return toCancel, toSchedule
}
