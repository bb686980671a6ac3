package outbox

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/JonasLeetTheWay/campus-events/internal/models"
	"github.com/JonasLeetTheWay/campus-events/internal/observability"
	"github.com/JonasLeetTheWay/campus-events/internal/testutil"
	"github.com/cockroachdb/errors"
	"gorm.io/gorm"
)

type recordingPublisher struct {
	mu      sync.Mutex
	got     []Message
	failFor map[string]bool
}

func (p *recordingPublisher) Publish(_ context.Context, msg Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failFor[msg.Topic] {
		return errors.New("broker unavailable")
	}
	p.got = append(p.got, msg)
	return nil
}

type stubLocker struct {
	held     bool
	unlocked int
	ttl      time.Duration
}

func (l *stubLocker) Lock(_ context.Context, _, _ string, ttl time.Duration) (bool, error) {
	l.ttl = ttl
	return !l.held, nil
}

func (l *stubLocker) Unlock(context.Context, string, string) error {
	l.unlocked++
	return nil
}

func enqueue(t *testing.T, db *gorm.DB, topic string, id uint) {
	t.Helper()
	err := Enqueue(db, topic, id, BookingEvent{BookingID: id, To: models.BookingPending})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
}

func TestDrainPublishesInOrder(t *testing.T) {
	db := testutil.NewDB(t)
	pub := &recordingPublisher{}
	relay := NewRelay(db, pub, observability.NewNopLogger(), 10, 3)

	enqueue(t, db, TopicBookingSubmitted, 1)
	enqueue(t, db, TopicBookingConfirmed, 1)
	enqueue(t, db, TopicBookingSubmitted, 2)

	n, err := relay.Drain(context.Background())
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 published, got %d", n)
	}
	for i := 1; i < len(pub.got); i++ {
		if pub.got[i].ID <= pub.got[i-1].ID {
			t.Fatalf("messages out of order: %d after %d", pub.got[i].ID, pub.got[i-1].ID)
		}
	}
	if pub.got[1].Topic != TopicBookingConfirmed || pub.got[1].AggregateID != 1 {
		t.Errorf("unexpected second message %+v", pub.got[1])
	}

	var pending int64
	db.Model(&models.OutboxMessage{}).Where("status = ?", models.OutboxNew).Count(&pending)
	if pending != 0 {
		t.Errorf("expected empty outbox, %d pending", pending)
	}

	n, err = relay.Drain(context.Background())
	if err != nil || n != 0 {
		t.Errorf("second drain: n=%d err=%v", n, err)
	}
	if len(pub.got) != 3 {
		t.Errorf("messages published twice: %d", len(pub.got))
	}
}

func TestDrainRespectsBatchSize(t *testing.T) {
	db := testutil.NewDB(t)
	pub := &recordingPublisher{}
	relay := NewRelay(db, pub, observability.NewNopLogger(), 2, 3)

	for i := uint(1); i <= 5; i++ {
		enqueue(t, db, TopicBookingSubmitted, i)
	}

	n, _ := relay.Drain(context.Background())
	if n != 2 {
		t.Fatalf("expected batch of 2, got %d", n)
	}
}

func TestFailedMessagesRetryThenGiveUp(t *testing.T) {
	db := testutil.NewDB(t)
	pub := &recordingPublisher{failFor: map[string]bool{TopicBookingRejected: true}}
	relay := NewRelay(db, pub, observability.NewNopLogger(), 10, 3)

	enqueue(t, db, TopicBookingRejected, 1)
	enqueue(t, db, TopicBookingSubmitted, 2)

	for i := 0; i < 3; i++ {
		if _, err := relay.Drain(context.Background()); err != nil {
			t.Fatalf("Drain: %v", err)
		}
	}

	var msgs []models.OutboxMessage
	db.Order("id").Find(&msgs)
	if msgs[0].Status != models.OutboxFailed || msgs[0].Attempts != 3 {
		t.Errorf("expected failed after 3 attempts, got %s/%d", msgs[0].Status, msgs[0].Attempts)
	}
	if msgs[0].LastError == "" {
		t.Error("expected last error to be recorded")
	}
	if msgs[1].Status != models.OutboxPublished {
		t.Errorf("a failing message blocked the next one: %s", msgs[1].Status)
	}

	pub.failFor = nil
	n, _ := relay.Drain(context.Background())
	if n != 0 {
		t.Errorf("failed message was retried after giving up")
	}
}

func TestDrainSkipsWhileLocked(t *testing.T) {
	db := testutil.NewDB(t)
	pub := &recordingPublisher{}
	locker := &stubLocker{held: true}
	relay := NewRelay(db, pub, observability.NewNopLogger(), 10, 3).WithLocker(locker)

	enqueue(t, db, TopicBookingSubmitted, 1)

	n, err := relay.Drain(context.Background())
	if err != nil || n != 0 {
		t.Fatalf("expected skipped pass, got n=%d err=%v", n, err)
	}

	locker.held = false
	n, err = relay.Drain(context.Background())
	if err != nil || n != 1 {
		t.Fatalf("expected 1 published, got n=%d err=%v", n, err)
	}
	if locker.unlocked != 1 {
		t.Errorf("expected lock release, got %d", locker.unlocked)
	}
}

type deadlinePublisher struct {
	deadlines []time.Duration
}

func (p *deadlinePublisher) Publish(ctx context.Context, _ Message) error {
	deadline, ok := ctx.Deadline()
	if !ok {
		return errors.New("publish without deadline")
	}
	p.deadlines = append(p.deadlines, time.Until(deadline))
	return nil
}

func TestLockCoversWholeBatch(t *testing.T) {
	db := testutil.NewDB(t)
	pub := &deadlinePublisher{}
	locker := &stubLocker{}
	relay := NewRelay(db, pub, observability.NewNopLogger(), 40, 3).WithLocker(locker)

	for i := uint(1); i <= 3; i++ {
		enqueue(t, db, TopicBookingSubmitted, i)
	}
	n, err := relay.Drain(context.Background())
	if err != nil || n != 3 {
		t.Fatalf("expected 3 published, got n=%d err=%v", n, err)
	}

	if want := 40 * messageTimeout; locker.ttl < want {
		t.Errorf("lock ttl %s shorter than a full batch of %s", locker.ttl, want)
	}
	for i, d := range pub.deadlines {
		if d <= 0 || d > messageTimeout {
			t.Errorf("publish %d had %s left, want within %s", i, d, messageTimeout)
		}
	}
}

type publishFunc func(context.Context, Message) error

func (f publishFunc) Publish(ctx context.Context, msg Message) error { return f(ctx, msg) }

func TestDrainStopsBeforeLockExpires(t *testing.T) {
	db := testutil.NewDB(t)
	clock := testutil.Now
	published := 0
	pub := publishFunc(func(context.Context, Message) error {
		// A slow publish eats most of the lock left for this batch.
		clock = clock.Add(50 * time.Second)
		published++
		return nil
	})
	relay := NewRelay(db, pub, observability.NewNopLogger(), 2, 3).WithLocker(&stubLocker{})
	relay.now = func() time.Time { return clock }

	enqueue(t, db, TopicBookingSubmitted, 1)
	enqueue(t, db, TopicBookingSubmitted, 2)
	n, err := relay.Drain(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 || published != 1 {
		t.Fatalf("expected the pass to end after 1 message, published %d", n)
	}

	var left int64
	db.Model(&models.OutboxMessage{}).Where("status = ?", models.OutboxNew).Count(&left)
	if left != 1 {
		t.Errorf("expected 1 message left for the next pass, got %d", left)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	db := testutil.NewDB(t)
	pub := &recordingPublisher{}
	relay := NewRelay(db, pub, observability.NewNopLogger(), 10, 3)
	enqueue(t, db, TopicBookingSubmitted, 1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		relay.Run(ctx, 5*time.Millisecond)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for {
		pub.mu.Lock()
		n := len(pub.got)
		pub.mu.Unlock()
		if n == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("relay did not publish")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not stop")
	}
}

func TestTopicFor(t *testing.T) {
	cases := map[models.BookingStatus]string{
		models.BookingPending:         TopicBookingSubmitted,
		models.BookingFacultyApproved: TopicBookingFacultyApproved,
		models.BookingConfirmed:       TopicBookingConfirmed,
		models.BookingRejected:        TopicBookingRejected,
		models.BookingCancelled:       TopicBookingCancelled,
	}
	for status, want := range cases {
		if got := TopicFor(status); got != want {
			t.Errorf("TopicFor(%s) = %s, want %s", status, got, want)
		}
	}
}
