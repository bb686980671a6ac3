package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/JonasLeetTheWay/campus-events/internal/apperr"
	"github.com/JonasLeetTheWay/campus-events/internal/artifact"
	"github.com/JonasLeetTheWay/campus-events/internal/audit"
	"github.com/JonasLeetTheWay/campus-events/internal/config"
	"github.com/JonasLeetTheWay/campus-events/internal/models"
	"github.com/JonasLeetTheWay/campus-events/internal/observability"
	"github.com/JonasLeetTheWay/campus-events/internal/outbox"
	"github.com/JonasLeetTheWay/campus-events/internal/storage"
	"github.com/JonasLeetTheWay/campus-events/internal/testutil"
	"github.com/cockroachdb/errors"
	"gorm.io/gorm"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []Message
	err  error
}

func (f *fakeSender) Send(_ context.Context, msg Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, msg)
	return nil
}

type fakeRecorder struct {
	entries []audit.Entry
}

func (f *fakeRecorder) Record(_ context.Context, e audit.Entry) error {
	f.entries = append(f.entries, e)
	return nil
}

type fixture struct {
	db         *gorm.DB
	store      *storage.Store
	sender     *fakeSender
	recorder   *fakeRecorder
	dispatcher *Dispatcher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := testutil.NewDB(t)
	store, err := storage.New(t.TempDir(), 1<<20)
	if err != nil {
		t.Fatal(err)
	}
	f := &fixture{db: db, store: store, sender: &fakeSender{}, recorder: &fakeRecorder{}}
	f.dispatcher = NewDispatcher(db, artifact.NewIssuer(db, store), f.sender, f.recorder, observability.NewNopLogger())
	return f
}

func createBooking(t *testing.T, db *gorm.DB, status models.BookingStatus) *models.Booking {
	t.Helper()

	organizer := testutil.CreateUser(t, db, models.RoleOrganizer)
	student := testutil.CreateUser(t, db, models.RoleStudent)
	event := testutil.CreateEvent(t, db, organizer)

	b := &models.Booking{UserID: student.ID, EventID: event.ID, Status: status}
	if status == models.BookingConfirmed {
		ticket := "4b0c6f0e-7a43-4f43-9b1e-2f7f7d1c0a11"
		confirmed := testutil.Now
		b.TicketID = &ticket
		b.QRPayload = artifact.QRPayload(ticket, event.ID)
		b.ConfirmedAt = &confirmed
	}
	if err := db.Create(b).Error; err != nil {
		t.Fatalf("create booking: %v", err)
	}
	return b
}

func payload(t *testing.T, b *models.Booking, to models.BookingStatus, reason string) []byte {
	t.Helper()

	body, err := json.Marshal(outbox.BookingEvent{
		BookingID:  b.ID,
		EventID:    b.EventID,
		UserID:     b.UserID,
		ActorID:    1,
		To:         to,
		Reason:     reason,
		OccurredAt: time.Now(),
	})
	if err != nil {
		t.Fatal(err)
	}
	return body
}

func TestConfirmationMailsTicket(t *testing.T) {
	f := newFixture(t)
	b := createBooking(t, f.db, models.BookingConfirmed)

	if err := f.dispatcher.Handle(context.Background(), outbox.TopicBookingConfirmed, payload(t, b, models.BookingConfirmed, "")); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	if len(f.sender.sent) != 1 {
		t.Fatalf("expected 1 mail, got %d", len(f.sender.sent))
	}
	msg := f.sender.sent[0]

	var student models.User
	f.db.First(&student, b.UserID)
	if msg.To != student.Email {
		t.Errorf("expected mail to %s, got %s", student.Email, msg.To)
	}
	if !strings.Contains(msg.Body, *b.TicketID) {
		t.Errorf("body does not mention the ticket id:\n%s", msg.Body)
	}
	if len(msg.Attachments) != 1 || !bytes.HasPrefix(msg.Attachments[0].Data, []byte("%PDF")) {
		t.Fatalf("expected one PDF attachment, got %+v", msg.Attachments)
	}

	reloaded := testutil.ReloadBooking(t, f.db, b.ID)
	if reloaded.PDFPath != storage.TicketPath(*b.TicketID) {
		t.Errorf("expected pdf_path %q, got %q", storage.TicketPath(*b.TicketID), reloaded.PDFPath)
	}
	stored, err := f.store.Read(reloaded.PDFPath)
	if err != nil {
		t.Fatalf("read stored ticket: %v", err)
	}
	if !bytes.Equal(stored, msg.Attachments[0].Data) {
		t.Error("stored ticket differs from the mailed one")
	}
}

func TestRejectionMailCarriesReason(t *testing.T) {
	f := newFixture(t)
	b := createBooking(t, f.db, models.BookingRejected)

	if err := f.dispatcher.Handle(context.Background(), outbox.TopicBookingRejected, payload(t, b, models.BookingRejected, "hall reserved for finals")); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if len(f.sender.sent) != 1 {
		t.Fatalf("expected 1 mail, got %d", len(f.sender.sent))
	}
	if !strings.Contains(f.sender.sent[0].Body, "hall reserved for finals") {
		t.Errorf("reason missing from body:\n%s", f.sender.sent[0].Body)
	}
	if len(f.sender.sent[0].Attachments) != 0 {
		t.Error("rejection mail should not carry attachments")
	}
}

func TestDeliveryFailureDoesNotFailHandle(t *testing.T) {
	f := newFixture(t)
	f.sender.err = errors.New("smtp: connection refused")
	b := createBooking(t, f.db, models.BookingConfirmed)

	if err := f.dispatcher.Handle(context.Background(), outbox.TopicBookingConfirmed, payload(t, b, models.BookingConfirmed, "")); err != nil {
		t.Fatalf("expected delivery failure to be swallowed, got %v", err)
	}

	reloaded := testutil.ReloadBooking(t, f.db, b.ID)
	if reloaded.Status != models.BookingConfirmed {
		t.Errorf("booking status changed to %s", reloaded.Status)
	}
}

func TestOtherTopicsAreOnlyAudited(t *testing.T) {
	f := newFixture(t)
	b := createBooking(t, f.db, models.BookingPending)

	if err := f.dispatcher.Handle(context.Background(), outbox.TopicBookingSubmitted, payload(t, b, models.BookingPending, "")); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if len(f.sender.sent) != 0 {
		t.Errorf("expected no mail, got %d", len(f.sender.sent))
	}
	if len(f.recorder.entries) != 1 {
		t.Fatalf("expected 1 audit entry, got %d", len(f.recorder.entries))
	}
	if e := f.recorder.entries[0]; e.Action != outbox.TopicBookingSubmitted || e.SubjectID != b.ID {
		t.Errorf("unexpected audit entry %+v", e)
	}
}

func TestMalformedPayload(t *testing.T) {
	f := newFixture(t)
	if err := f.dispatcher.Handle(context.Background(), outbox.TopicBookingConfirmed, []byte("{")); err == nil {
		t.Fatal("expected error for malformed payload")
	}
}

func TestDirectPublisher(t *testing.T) {
	f := newFixture(t)
	b := createBooking(t, f.db, models.BookingRejected)

	msg := outbox.Message{Topic: outbox.TopicBookingRejected, AggregateID: b.ID, Payload: payload(t, b, models.BookingRejected, "")}
	if err := NewDirect(f.dispatcher).Publish(context.Background(), msg); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if len(f.sender.sent) != 1 {
		t.Fatalf("expected 1 mail, got %d", len(f.sender.sent))
	}
}

func TestSettingsOverrideEnvironment(t *testing.T) {
	db := testutil.NewDB(t)
	s := NewSettings(db, config.MailConfig{Server: "smtp.env", Port: 25, DefaultSender: "env@example.com"})
	ctx := context.Background()

	cfg, err := s.Effective(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server != "smtp.env" || cfg.Port != 25 {
		t.Fatalf("expected environment values, got %+v", cfg)
	}

	err = s.Update(ctx, map[string]string{KeyMailServer: "smtp.admin", KeyMailPort: "2525", KeyMailUseTLS: "true"})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	// Second write to the same key replaces the value.
	if err := s.Update(ctx, map[string]string{KeyMailPort: "465"}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	cfg, err = s.Effective(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server != "smtp.admin" || cfg.Port != 465 || !cfg.UseTLS {
		t.Errorf("expected overrides, got %+v", cfg)
	}
	if cfg.DefaultSender != "env@example.com" {
		t.Errorf("expected untouched sender, got %q", cfg.DefaultSender)
	}
}

func TestSettingsValidation(t *testing.T) {
	s := NewSettings(testutil.NewDB(t), config.MailConfig{})

	cases := map[string]map[string]string{
		"bad port":    {KeyMailPort: "smtp"},
		"port range":  {KeyMailPort: "70000"},
		"bad tls":     {KeyMailUseTLS: "sometimes"},
		"unknown key": {"MAIL_COLOR": "blue"},
	}
	for name, values := range cases {
		t.Run(name, func(t *testing.T) {
			err := s.Update(context.Background(), values)
			if !errors.Is(err, apperr.ErrValidation) {
				t.Errorf("expected validation error, got %v", err)
			}
		})
	}
}

func TestSMTPSenderRequiresServer(t *testing.T) {
	sender := NewSMTPSender(NewSettings(testutil.NewDB(t), config.MailConfig{}))
	err := sender.Send(context.Background(), Message{To: "someone@example.com", Subject: "hi", Body: "hi"})
	if err == nil {
		t.Fatal("expected error without a mail server")
	}
}
