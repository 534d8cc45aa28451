package push

import (
	"context"
	"time"

	"github.com/mindexlab/mindex/internal/directive"
)

// task is one pending notification delivery. A task is in exactly one of two
// terminal states once it leaves the pending table: fired or cancelled. The
// select in run picks which event arrives first, but the winner commits under
// the service lock, so a cancel racing a fire resolves deterministically and
// only one side runs its effects.
type task struct {
	n           directive.Notification
	scheduledAt time.Time
	timer       *time.Timer
	cancel      chan struct{}
}

// scheduleLocked creates a timer task for n and records its handle. Fire
// times in the past clamp to a zero delay so overdue notifications deliver
// immediately instead of being dropped. Caller holds s.mu.
func (s *Service) scheduleLocked(n directive.Notification) {
	if _, ok := s.tasks[n.ID]; ok {
		return
	}
	now := s.clock.Now()
	delay := n.At.Sub(now)
	if delay < 0 {
		delay = 0
	}
	t := &task{
		n:           n,
		scheduledAt: now,
		timer:       time.NewTimer(delay),
		cancel:      make(chan struct{}),
	}
	s.tasks[n.ID] = t
	s.wg.Add(1)
	go s.run(t)
	s.log.Debug("notification scheduled", "id", n.ID, "doc", n.DocID, "at", n.At, "delay", delay)
}

// cancelLocked aborts the pending task for id, if any. Caller holds s.mu.
// If the task already fired, its entry is gone and this is a no-op.
func (s *Service) cancelLocked(id directive.Identity) {
	t, ok := s.tasks[id]
	if !ok {
		return
	}
	delete(s.tasks, id)
	close(t.cancel)
	s.log.Debug("notification cancelled", "id", id, "doc", t.n.DocID)
}

// run waits for the task's deadline or its cancellation, whichever comes
// first, then delivers. The delivery itself happens outside the service lock
// so a slow sender never blocks reloads or other timers.
func (s *Service) run(t *task) {
	defer s.wg.Done()

	select {
	case <-t.timer.C:
	case <-t.cancel:
		t.timer.Stop()
		return
	}

	// Commit the fire: if the entry is gone, a cancel won the race.
	s.mu.Lock()
	cur, ok := s.tasks[t.n.ID]
	if !ok || cur != t {
		s.mu.Unlock()
		return
	}
	delete(s.tasks, t.n.ID)
	subs := s.reg.subscriptionsFor(t.n.To)
	s.mu.Unlock()

	s.deliver(t.n, subs)
}

// deliver sends the notification to every subscription of every recipient.
// Delivery is best effort and at most once: a failed send is logged and does
// not affect sibling sends, and nothing is retried.
func (s *Service) deliver(n directive.Notification, subs map[string][]directive.Subscription) {
	ctx := context.Background()
	for _, recipient := range n.To {
		list := subs[recipient]
		if len(list) == 0 {
			s.log.Warn("no subscriptions for notification recipient", "user", recipient, "doc", n.DocID)
			continue
		}
		for _, sub := range list {
			if err := s.sender.Send(ctx, sub, n.Message); err != nil {
				s.log.Error("push delivery failed", "err", err, "user", recipient, "endpoint", sub.Endpoint, "doc", n.DocID)
			}
		}
	}
}
