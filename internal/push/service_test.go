package push

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/mindexlab/mindex/internal/directive"
)

// fakeSender records every send and can be told to fail.
type fakeSender struct {
	mu   sync.Mutex
	sent []sentPush
	fail map[string]error // endpoint -> error
}

type sentPush struct {
	endpoint string
	message  string
}

func (f *fakeSender) Send(_ context.Context, sub directive.Subscription, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail[sub.Endpoint]; err != nil {
		return err
	}
	f.sent = append(f.sent, sentPush{endpoint: sub.Endpoint, message: message})
	return nil
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *fakeSender) last() sentPush {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent[len(f.sent)-1]
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, d time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func notifyDoc(at time.Time, to, message string) string {
	return fmt.Sprintf("/notify\n```toml\nto = [%q]\nat = %q\nmessage = %q\n```\n", to, at.Format(time.RFC3339), message)
}

const aliceDoc = "/user\n```toml\nname = \"alice\"\n```\n\n" +
	"/subscription\n```toml\nuser = \"alice\"\nendpoint = \"https://push.example/alice\"\np256dh = \"k\"\nauth = \"a\"\n```\n"

func newTestService(t *testing.T, sender Sender) *Service {
	t.Helper()
	svc := NewService(sender, nil, slog.Default())
	t.Cleanup(svc.Close)
	return svc
}

func TestServiceEndToEnd(t *testing.T) {
	sender := &fakeSender{}
	svc := newTestService(t, sender)

	at := time.Now().UTC().Add(50 * time.Millisecond)
	svc.Load([]Document{
		{ID: "a.md", Text: aliceDoc},
		{ID: "b.md", Text: notifyDoc(at, "alice", "hi")},
	})

	snap := svc.Snapshot()
	if len(snap.Scheduled) != 1 {
		t.Fatalf("scheduled: got %d, want 1", len(snap.Scheduled))
	}
	if len(snap.Users) != 1 || snap.Users["alice"].Name != "alice" {
		t.Errorf("users: got %v", snap.Users)
	}
	if len(snap.Subscriptions["alice"]) != 1 {
		t.Errorf("subscriptions: got %v", snap.Subscriptions)
	}

	waitFor(t, 2*time.Second, func() bool { return sender.count() == 1 })
	got := sender.last()
	if got.endpoint != "https://push.example/alice" || got.message != "hi" {
		t.Errorf("sent: got %+v", got)
	}

	waitFor(t, 2*time.Second, func() bool { return len(svc.Snapshot().Scheduled) == 0 })
}

func TestServicePastNotificationFiresImmediately(t *testing.T) {
	sender := &fakeSender{}
	svc := newTestService(t, sender)

	at := time.Now().UTC().Add(-time.Hour)
	svc.Load([]Document{
		{ID: "a.md", Text: aliceDoc},
		{ID: "b.md", Text: notifyDoc(at, "alice", "late")},
	})

	waitFor(t, 2*time.Second, func() bool { return sender.count() == 1 })
	if got := sender.last().message; got != "late" {
		t.Errorf("message: got %q, want late", got)
	}
}

func TestServiceReapplyIsIdempotent(t *testing.T) {
	sender := &fakeSender{}
	svc := newTestService(t, sender)

	text := aliceDoc + "\n" + notifyDoc(time.Now().UTC().Add(time.Hour), "alice", "hi")
	svc.Load([]Document{{ID: "a.md", Text: text}})

	before := svc.Snapshot()
	if len(before.Scheduled) != 1 {
		t.Fatalf("scheduled: got %d, want 1", len(before.Scheduled))
	}
	scheduledAt := before.Scheduled[0].ScheduledAt

	if warnings := svc.ApplyDocument("a.md", text); len(warnings) != 0 {
		t.Errorf("warnings: got %v, want none", warnings)
	}

	after := svc.Snapshot()
	if len(after.Scheduled) != 1 {
		t.Fatalf("scheduled after reapply: got %d, want 1", len(after.Scheduled))
	}
	if !after.Scheduled[0].ScheduledAt.Equal(scheduledAt) {
		t.Error("no-op edit must not re-schedule the existing task")
	}
	if len(after.Subscriptions["alice"]) != 1 {
		t.Errorf("subscriptions after reapply: got %v", after.Subscriptions)
	}
}

func TestServiceRemovalCancels(t *testing.T) {
	sender := &fakeSender{}
	svc := newTestService(t, sender)

	at := time.Now().UTC().Add(60 * time.Millisecond)
	svc.Load([]Document{
		{ID: "a.md", Text: aliceDoc},
		{ID: "b.md", Text: notifyDoc(at, "alice", "hi")},
	})

	// Remove the /notify block before it fires.
	if warnings := svc.ApplyDocument("b.md", "nothing here\n"); len(warnings) != 0 {
		t.Fatalf("warnings: got %v", warnings)
	}
	if got := len(svc.Snapshot().Scheduled); got != 0 {
		t.Fatalf("scheduled after removal: got %d, want 0", got)
	}

	// Let the original fire time elapse; nothing may be sent.
	time.Sleep(150 * time.Millisecond)
	if got := sender.count(); got != 0 {
		t.Errorf("sends after cancel: got %d, want 0", got)
	}
}

func TestServiceDuplicateIdentityAcrossDocs(t *testing.T) {
	sender := &fakeSender{}
	svc := newTestService(t, sender)

	at := time.Now().UTC().Add(time.Hour)
	text := notifyDoc(at, "alice", "hi")
	svc.Load([]Document{
		{ID: "a.md", Text: aliceDoc + "\n" + text},
		{ID: "b.md", Text: text},
	})

	// Identical blocks in two documents share one identity and one task.
	if got := len(svc.Snapshot().Scheduled); got != 1 {
		t.Fatalf("scheduled: got %d, want 1", got)
	}

	// Removing the block from one document keeps the task alive.
	svc.ApplyDocument("b.md", "emptied\n")
	if got := len(svc.Snapshot().Scheduled); got != 1 {
		t.Fatalf("scheduled after partial removal: got %d, want 1", got)
	}

	// Removing it from the last document cancels the task.
	svc.ApplyDocument("a.md", aliceDoc)
	if got := len(svc.Snapshot().Scheduled); got != 0 {
		t.Fatalf("scheduled after full removal: got %d, want 0", got)
	}
}

func TestServiceEditedTimeReschedules(t *testing.T) {
	sender := &fakeSender{}
	svc := newTestService(t, sender)

	// The at timestamp round-trips through RFC3339 in the block text, so
	// second precision is all the schedule can carry.
	at := time.Now().UTC().Truncate(time.Second).Add(time.Hour)
	svc.Load([]Document{{ID: "b.md", Text: notifyDoc(at, "alice", "hi")}})

	before := svc.Snapshot()
	if len(before.Scheduled) != 1 {
		t.Fatalf("scheduled: got %d, want 1", len(before.Scheduled))
	}
	oldID := before.Scheduled[0].ID

	// Changing at changes the block text, hence the identity.
	newAt := at.Add(time.Hour)
	svc.ApplyDocument("b.md", notifyDoc(newAt, "alice", "hi"))

	after := svc.Snapshot()
	if len(after.Scheduled) != 1 {
		t.Fatalf("scheduled after edit: got %d, want 1", len(after.Scheduled))
	}
	if after.Scheduled[0].ID == oldID {
		t.Error("edited block must have a new identity")
	}
	if !after.Scheduled[0].At.Equal(newAt) {
		t.Errorf("fire time: got %v, want %v", after.Scheduled[0].At, newAt)
	}
}

func TestServiceSendFailureDoesNotBlockSiblings(t *testing.T) {
	sender := &fakeSender{fail: map[string]error{"https://push.example/bad": fmt.Errorf("endpoint gone")}}
	svc := newTestService(t, sender)

	doc := "/subscription\n```toml\nuser = \"alice\"\nendpoint = \"https://push.example/bad\"\np256dh = \"k\"\nauth = \"a\"\n```\n\n" +
		"/subscription\n```toml\nuser = \"alice\"\nendpoint = \"https://push.example/good\"\np256dh = \"k\"\nauth = \"a\"\n```\n\n" +
		"/subscription\n```toml\nuser = \"bob\"\nendpoint = \"https://push.example/bob\"\np256dh = \"k\"\nauth = \"a\"\n```\n"
	at := time.Now().UTC().Add(-time.Second)
	n := fmt.Sprintf("/notify\n```toml\nto = [\"alice\", \"bob\"]\nat = %q\nmessage = \"hi\"\n```\n", at.Format(time.RFC3339))

	svc.Load([]Document{{ID: "a.md", Text: doc}, {ID: "b.md", Text: n}})

	waitFor(t, 2*time.Second, func() bool { return sender.count() == 2 })
	seen := map[string]bool{}
	sender.mu.Lock()
	for _, s := range sender.sent {
		seen[s.endpoint] = true
	}
	sender.mu.Unlock()
	if !seen["https://push.example/good"] || !seen["https://push.example/bob"] {
		t.Errorf("sends: got %v, want good and bob endpoints", seen)
	}
}

func TestServiceSendNowFansOutPerSubscription(t *testing.T) {
	sender := &fakeSender{fail: map[string]error{"https://push.example/2": fmt.Errorf("endpoint gone")}}
	svc := newTestService(t, sender)

	doc := aliceDoc + "\n" +
		"/subscription\n```toml\nuser = \"alice\"\nendpoint = \"https://push.example/2\"\np256dh = \"k\"\nauth = \"a\"\n```\n\n" +
		"/subscription\n```toml\nuser = \"alice\"\nendpoint = \"https://push.example/3\"\np256dh = \"k\"\nauth = \"a\"\n```\n"
	svc.Load([]Document{{ID: "a.md", Text: doc}})

	sent, err := svc.SendNow(t.Context(), "alice", "ping")
	if sent != 2 {
		t.Errorf("sent: got %d, want 2", sent)
	}
	if err == nil {
		t.Error("want the failing endpoint's error reported")
	}
	if got := sender.count(); got != 2 {
		t.Errorf("deliveries: got %d, want 2", got)
	}

	sent, err = svc.SendNow(t.Context(), "nobody", "ping")
	if sent != 0 || err != nil {
		t.Errorf("unknown recipient: got sent=%d err=%v, want 0 and nil", sent, err)
	}
}

func TestServiceMalformedBlockWarnsAndContinues(t *testing.T) {
	sender := &fakeSender{}
	svc := newTestService(t, sender)

	doc := "/subscription\n```toml\nuser = \"alice\"\nendpoint = \"https://push.example/1\"\np256dh = \"k\"\n```\n\n" + aliceDoc
	warnings := svc.ApplyDocument("a.md", doc)
	if len(warnings) != 1 {
		t.Fatalf("warnings: got %v, want 1", warnings)
	}
	snap := svc.Snapshot()
	if got := len(snap.Subscriptions["alice"]); got != 1 {
		t.Errorf("subscriptions: got %d, want only the well-formed one", got)
	}
}

func TestServiceCancelDuringFireRace(t *testing.T) {
	// A cancel issued around the fire instant must resolve to exactly one
	// outcome: either the task was aborted (no send) or it fired (send),
	// never both and never a double send.
	for range 20 {
		sender := &fakeSender{}
		svc := newTestService(t, sender)

		at := time.Now().UTC().Add(5 * time.Millisecond)
		text := aliceDoc + "\n" + notifyDoc(at, "alice", "racy")
		svc.Load([]Document{{ID: "a.md", Text: text}})

		time.Sleep(time.Until(at))
		svc.ApplyDocument("a.md", aliceDoc)
		svc.Close()

		if got := sender.count(); got > 1 {
			t.Fatalf("sends: got %d, want 0 or 1", got)
		}
		if got := len(svc.Snapshot().Scheduled); got != 0 {
			t.Fatalf("scheduled after close: got %d, want 0", got)
		}
	}
}

func TestServiceFixedClockComputesDelayFromInjectedNow(t *testing.T) {
	sender := &fakeSender{}
	fixed := fixedClock{now: time.Date(2025, 1, 12, 9, 30, 0, 0, time.UTC)}
	svc := NewService(sender, fixed, slog.Default())
	defer svc.Close()

	at := fixed.now.Add(time.Hour)
	svc.Load([]Document{{ID: "b.md", Text: notifyDoc(at, "alice", "hi")}})

	snap := svc.Snapshot()
	if len(snap.Scheduled) != 1 {
		t.Fatalf("scheduled: got %d, want 1", len(snap.Scheduled))
	}
	if !snap.Scheduled[0].ScheduledAt.Equal(fixed.now) {
		t.Errorf("scheduledAt: got %v, want %v", snap.Scheduled[0].ScheduledAt, fixed.now)
	}
	if got := sender.count(); got != 0 {
		t.Errorf("sends: got %d, want 0 (one hour out)", got)
	}
}

type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time {
	return c.now
}
