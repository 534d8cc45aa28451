// Package push reconciles notification directives embedded in markdown
// documents with a set of pending one-shot delivery timers.
//
// Documents are parsed into users, subscriptions and notification requests.
// Notifications are identified by a content hash of their directive block, so
// the whole schedule is re-derivable from document text alone: a full rescan
// at startup and an incremental single-document reload on every save both
// converge to the same state. Delivery is best effort and at most once per
// process lifetime; there is no durable "already sent" marker, so a restart
// re-schedules (and may re-send) past notifications by design.
package push

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/mindexlab/mindex/internal/directive"
)

// Document is one unit of source text, identified by its path.
type Document struct {
	ID   string
	Text string
}

// Sender delivers one message to one subscription endpoint. Errors are
// logged by the service and never retried.
type Sender interface {
	Send(ctx context.Context, sub directive.Subscription, message string) error
}

// Service owns the directive registry and the pending delivery timers. All
// mutation of the shared maps is serialized through a single mutex; sends
// happen outside of it so a slow push endpoint cannot stall reloads.
type Service struct {
	clock  Clock
	sender Sender
	log    *slog.Logger

	mu     sync.Mutex
	reg    *registry
	tasks  map[directive.Identity]*task
	closed bool
	wg     sync.WaitGroup
}

// NewService creates a push service. clock may be nil for the system clock,
// logger may be nil for slog.Default.
func NewService(sender Sender, clock Clock, logger *slog.Logger) *Service {
	if clock == nil {
		clock = SystemClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		clock:  clock,
		sender: sender,
		log:    logger,
		reg:    newRegistry(),
		tasks:  make(map[directive.Identity]*task),
	}
}

// Load performs a full rebuild from every document: all pending timers are
// cancelled, the registry is reconstructed from scratch, and every
// notification in the resulting global set is scheduled. Used at startup.
func (s *Service) Load(docs []Document) {
	sorted := make([]Document, len(docs))
	copy(sorted, docs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	var all []directive.Warning

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	for id := range s.tasks {
		s.cancelLocked(id)
	}
	s.reg = newRegistry()
	for _, doc := range sorted {
		records, warnings := directive.ParseDocument(doc.ID, doc.Text)
		all = append(all, warnings...)
		all = append(all, s.reg.replaceDoc(doc.ID, records, false)...)
	}
	for _, n := range s.reg.union() {
		s.scheduleLocked(n)
	}
	s.mu.Unlock()

	s.logWarnings(all)
}

// ApplyDocument re-parses a single document and replaces its contribution to
// the registry. The global notification set before and after the reload is
// diffed: identities that disappeared are cancelled, new ones are scheduled,
// and unchanged ones keep their original timers. An identity removed from
// this document but still present verbatim in another stays scheduled.
// Returns the parse warnings so callers can surface them.
func (s *Service) ApplyDocument(docID, text string) []directive.Warning {
	records, warnings := directive.ParseDocument(docID, text)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return warnings
	}
	old := s.reg.union()
	warnings = append(warnings, s.reg.replaceDoc(docID, records, true)...)
	updated := s.reg.union()
	toCancel, toSchedule := diff(old, updated)
	for _, id := range toCancel {
		s.cancelLocked(id)
	}
	for _, id := range toSchedule {
		s.scheduleLocked(updated[id])
	}
	s.mu.Unlock()

	s.logWarnings(warnings)
	return warnings
}

// RemoveDocument drops a deleted document's contribution, cancelling any
// notifications that no other document still declares.
func (s *Service) RemoveDocument(docID string) {
	s.ApplyDocument(docID, "")
}

// Close cancels every pending timer and waits for in-flight task goroutines
// to finish.
func (s *Service) Close() {
	s.mu.Lock()
	s.closed = true
	for id := range s.tasks {
		s.cancelLocked(id)
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// SendNow delivers a message to every subscription of the named recipient
// immediately, bypassing the schedule. It returns the number of successful
// sends and the last send error, if any.
func (s *Service) SendNow(ctx context.Context, recipient, message string) (int, error) {
	s.mu.Lock()
	subs := s.reg.subscriptionsFor([]string{recipient})
	s.mu.Unlock()

	sent := 0
	var lastErr error
	for _, list := range subs {
		for _, sub := range list {
			if err := s.sender.Send(ctx, sub, message); err != nil {
				s.log.Error("failed to send notification", "endpoint", sub.Endpoint, "err", err)
				lastErr = err
				continue
			}
			sent++
		}
	}
	return sent, lastErr
}

// ScheduledNotification is a read-only view of one pending delivery.
type ScheduledNotification struct {
	ID          directive.Identity `json:"id"`
	DocID       string             `json:"doc_id"`
	To          []string           `json:"to"`
	Message     string             `json:"message"`
	At          time.Time          `json:"at"`
	ScheduledAt time.Time          `json:"scheduled_at"`
}

// Snapshot is a read-only copy of the registry and the pending schedule.
type Snapshot struct {
	Users         map[string]directive.User           `json:"users"`
	Subscriptions map[string][]directive.Subscription `json:"subscriptions"`
	Scheduled     []ScheduledNotification             `json:"scheduled"`
}

// Snapshot returns a copy of the current users, subscriptions and pending
// notifications for inspection. It never mutates service state.
func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		Users:         make(map[string]directive.User, len(s.reg.users)),
		Subscriptions: make(map[string][]directive.Subscription, len(s.reg.subscriptions)),
		Scheduled:     make([]ScheduledNotification, 0, len(s.tasks)),
	}
	for name, u := range s.reg.users {
		snap.Users[name] = u
	}
	for name, subs := range s.reg.subscriptions {
		snap.Subscriptions[name] = append([]directive.Subscription(nil), subs...)
	}
	for id, t := range s.tasks {
		snap.Scheduled = append(snap.Scheduled, ScheduledNotification{
			ID:          id,
			DocID:       t.n.DocID,
			To:          append([]string(nil), t.n.To...),
			Message:     t.n.Message,
			At:          t.n.At,
			ScheduledAt: t.scheduledAt,
		})
	}
	sort.Slice(snap.Scheduled, func(i, j int) bool {
		a, b := snap.Scheduled[i], snap.Scheduled[j]
		if !a.At.Equal(b.At) {
			return a.At.Before(b.At)
		}
		return a.ID.String() < b.ID.String()
	})
	return snap
}

func (s *Service) logWarnings(warnings []directive.Warning) {
	for _, w := range warnings {
		s.log.Warn("directive warning", "doc", w.DocID, "line", w.Line, "reason", w.Reason)
	}
}
