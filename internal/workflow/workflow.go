// Package workflow implements the booking state machine.
//
//	Pending ──► FacultyApproved ──► Confirmed
//	   │               │
//	   ├──► Confirmed  ├──► Rejected
//	   ├──► Rejected   └──► Cancelled
//	   └──► Cancelled
//
// A seat is reserved when a booking is submitted and released when it is
// rejected or cancelled, so for every event
//
//	remaining_seats = capacity - count(bookings in Pending, FacultyApproved, Confirmed)
//
// Every transition commits together with a history row and an outbox message;
// ticket rendering and mail happen later from the outbox.
package workflow

import (
	"context"
	"time"

	"github.com/JonasLeetTheWay/campus-events/internal/apperr"
	"github.com/JonasLeetTheWay/campus-events/internal/artifact"
	"github.com/JonasLeetTheWay/campus-events/internal/auth"
	"github.com/JonasLeetTheWay/campus-events/internal/models"
	"github.com/JonasLeetTheWay/campus-events/internal/observability"
	"github.com/JonasLeetTheWay/campus-events/internal/outbox"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var tracer = otel.Tracer("workflow")

type Service struct {
	db     *gorm.DB
	logger observability.Logger
	now    func() time.Time
}

type Option func(*Service)

// WithClock replaces time.Now, used for event start checks and timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(db *gorm.DB, logger observability.Logger, opts ...Option) *Service {
	s := &Service{db: db, logger: logger.WithField("component", "workflow"), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit creates a Pending booking for actor and reserves one seat.
func (s *Service) Submit(ctx context.Context, actor auth.Identity, eventID uint) (*models.Booking, error) {
	ctx, span := tracer.Start(ctx, "booking.submit")
	defer span.End()
	span.SetAttributes(attribute.Int64("event.id", int64(eventID)))

	if err := auth.Authorize(actor, auth.OpSubmitBooking); err != nil {
		return nil, err
	}

	var booking models.Booking
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		event, err := loadEvent(tx, eventID)
		if err != nil {
			return err
		}
		if event.Status != models.EventApproved {
			return apperr.InvalidState("event %q is %s and not open for booking", event.Title, event.Status)
		}
		if !event.StartTime.After(s.now()) {
			return apperr.InvalidState("event %q has already started", event.Title)
		}

		var held int64
		if err := tx.Model(&models.Booking{}).
			Where("user_id = ? AND event_id = ? AND status IN ?", actor.UserID, eventID, models.ActiveBookingStatuses).
			Count(&held).Error; err != nil {
			return errors.Wrap(err, "check existing booking")
		}
		if held > 0 {
			return apperr.InvalidState("you already hold a booking for %q", event.Title)
		}

		// Check and decrement in one statement; the row lock taken by the
		// update serialises competing submissions for the last seat and
		// orders them against a concurrent event cancellation.
		res := tx.Model(&models.Event{}).
			Where("id = ? AND status = ? AND remaining_seats > 0", eventID, models.EventApproved).
			UpdateColumn("remaining_seats", gorm.Expr("remaining_seats - 1"))
		if res.Error != nil {
			return errors.Wrap(res.Error, "reserve seat")
		}
		if res.RowsAffected == 0 {
			current, err := loadEvent(tx, eventID)
			if err != nil {
				return err
			}
			if current.Status != models.EventApproved {
				return apperr.InvalidState("event %q is %s and not open for booking", current.Title, current.Status)
			}
			observability.CapacityRejections.Inc()
			return apperr.CapacityExceeded("no seats left for %q", event.Title)
		}

		booking = models.Booking{UserID: actor.UserID, EventID: eventID, Status: models.BookingPending}
		if err := tx.Create(&booking).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return apperr.InvalidState("you already hold a booking for %q", event.Title)
			}
			return errors.Wrap(err, "create booking")
		}
		event.RemainingSeats--
		booking.Event = *event
		return s.record(tx, &booking, "", actor, "", false)
	})
	if err != nil {
		return nil, err
	}

	observability.BookingTransitions.WithLabelValues(string(models.BookingPending)).Inc()
	s.logger.WithField("booking_id", booking.ID).WithField("event_id", eventID).WithField("user_id", actor.UserID).Info("booking submitted")
	return &booking, nil
}

// Approve advances a booking one stage: Pending to FacultyApproved when the
// event needs faculty sign-off, otherwise to Confirmed. Confirmation assigns
// the ticket id and QR payload.
func (s *Service) Approve(ctx context.Context, actor auth.Identity, bookingID uint) (*models.Booking, error) {
	return s.decide(ctx, actor, bookingID, true, "")
}

// Reject ends a non-terminal booking and releases its seat.
func (s *Service) Reject(ctx context.Context, actor auth.Identity, bookingID uint, reason string) (*models.Booking, error) {
	return s.decide(ctx, actor, bookingID, false, reason)
}

func (s *Service) decide(ctx context.Context, actor auth.Identity, bookingID uint, approve bool, reason string) (*models.Booking, error) {
	op := "booking.reject"
	if approve {
		op = "booking.approve"
	}
	ctx, span := tracer.Start(ctx, op)
	defer span.End()
	span.SetAttributes(attribute.Int64("booking.id", int64(bookingID)))

	if !auth.Can(actor.Role, auth.OpFacultyDecision) && !auth.Can(actor.Role, auth.OpOrganizerDecision) {
		return nil, apperr.Authorization("role %s may not approve or reject bookings", actor.Role)
	}

	var booking models.Booking
	var next models.BookingStatus
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		b, err := loadBooking(tx, bookingID)
		if err != nil {
			return err
		}
		if b.Status.Terminal() {
			return apperr.InvalidState("booking %d is already %s", b.ID, b.Status)
		}
		if err := authorizeStage(actor, b); err != nil {
			return err
		}
		if approve {
			// A shared lock on the event keeps a cancellation from
			// committing between this check and the booking update.
			var event models.Event
			if err := tx.Clauses(clause.Locking{Strength: "SHARE"}).First(&event, b.EventID).Error; err != nil {
				return errors.Wrap(err, "lock event")
			}
			if event.Status != models.EventApproved {
				return apperr.InvalidState("event %q is %s, its bookings can no longer be approved", event.Title, event.Status)
			}
		}

		from := b.Status
		updates := map[string]interface{}{"decided_by_id": actor.UserID}
		if approve {
			next = nextStage(b)
		} else {
			next = models.BookingRejected
			updates["reason"] = reason
		}
		updates["status"] = next

		if next == models.BookingConfirmed {
			ticketID := uuid.NewString()
			confirmedAt := s.now().UTC().Truncate(time.Second)
			updates["ticket_id"] = ticketID
			updates["qr_payload"] = artifact.QRPayload(ticketID, b.EventID)
			updates["confirmed_at"] = confirmedAt
		}

		if err := transition(tx, b.ID, from, updates); err != nil {
			return err
		}
		if next == models.BookingRejected {
			if err := s.releaseSeat(tx, b.EventID); err != nil {
				return err
			}
		}

		fresh, err := loadBooking(tx, b.ID)
		if err != nil {
			return err
		}
		booking = *fresh
		return s.record(tx, &booking, from, actor, reason, false)
	})
	if err != nil {
		return nil, err
	}

	observability.BookingTransitions.WithLabelValues(string(next)).Inc()
	s.logger.WithField("booking_id", booking.ID).WithField("status", next).WithField("actor_id", actor.UserID).Info("booking decided")
	return &booking, nil
}

// Cancel is available to the owning student and to admins while the booking
// is still non-terminal.
func (s *Service) Cancel(ctx context.Context, actor auth.Identity, bookingID uint) (*models.Booking, error) {
	ctx, span := tracer.Start(ctx, "booking.cancel")
	defer span.End()
	span.SetAttributes(attribute.Int64("booking.id", int64(bookingID)))

	if err := auth.Authorize(actor, auth.OpCancelBooking); err != nil {
		return nil, err
	}

	var booking models.Booking
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		b, err := loadBooking(tx, bookingID)
		if err != nil {
			return err
		}
		if actor.Is(models.RoleStudent) && b.UserID != actor.UserID {
			return apperr.Authorization("booking %d belongs to another student", b.ID)
		}
		if b.Status.Terminal() {
			return apperr.InvalidState("booking %d is already %s", b.ID, b.Status)
		}

		from := b.Status
		if err := transition(tx, b.ID, from, map[string]interface{}{"status": models.BookingCancelled, "decided_by_id": actor.UserID}); err != nil {
			return err
		}
		if err := s.releaseSeat(tx, b.EventID); err != nil {
			return err
		}

		b.Status = models.BookingCancelled
		booking = *b
		return s.record(tx, &booking, from, actor, "", false)
	})
	if err != nil {
		return nil, err
	}

	observability.BookingTransitions.WithLabelValues(string(models.BookingCancelled)).Inc()
	s.logger.WithField("booking_id", booking.ID).WithField("actor_id", actor.UserID).Info("booking cancelled")
	return &booking, nil
}

// CancelEvent marks an event cancelled and cancels every booking still
// waiting for a decision. Confirmed bookings are terminal and keep their seat.
func (s *Service) CancelEvent(ctx context.Context, actor auth.Identity, eventID uint) (int, error) {
	ctx, span := tracer.Start(ctx, "event.cancel")
	defer span.End()

	if err := auth.Authorize(actor, auth.OpManageEvents); err != nil {
		return 0, err
	}

	cancelled := 0
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		event, err := loadEvent(tx, eventID)
		if err != nil {
			return err
		}
		if err := authorizeOwner(actor, event); err != nil {
			return err
		}
		if event.Status == models.EventCancelled {
			return apperr.InvalidState("event %q is already cancelled", event.Title)
		}

		if err := tx.Model(&models.Event{}).Where("id = ?", event.ID).Update("status", models.EventCancelled).Error; err != nil {
			return errors.Wrap(err, "cancel event")
		}

		var open []models.Booking
		if err := tx.Where("event_id = ? AND status IN ?", event.ID,
			[]models.BookingStatus{models.BookingPending, models.BookingFacultyApproved}).
			Order("id").Find(&open).Error; err != nil {
			return errors.Wrap(err, "load open bookings")
		}
		for i := range open {
			b := &open[i]
			from := b.Status
			if err := transition(tx, b.ID, from, map[string]interface{}{
				"status":        models.BookingCancelled,
				"decided_by_id": actor.UserID,
				"reason":        "event cancelled",
			}); err != nil {
				return err
			}
			if err := s.releaseSeat(tx, event.ID); err != nil {
				return err
			}
			b.Status = models.BookingCancelled
			if err := s.record(tx, b, from, actor, "event cancelled", false); err != nil {
				return err
			}
		}
		cancelled = len(open)
		return nil
	})
	if err != nil {
		return 0, err
	}

	if cancelled > 0 {
		observability.BookingTransitions.WithLabelValues(string(models.BookingCancelled)).Add(float64(cancelled))
	}
	s.logger.WithField("event_id", eventID).WithField("bookings_cancelled", cancelled).Info("event cancelled")
	return cancelled, nil
}

// ResendTicket queues another confirmation for a confirmed booking so the
// ticket is rendered and mailed again.
func (s *Service) ResendTicket(ctx context.Context, actor auth.Identity, bookingID uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		b, err := loadBooking(tx, bookingID)
		if err != nil {
			return err
		}
		if err := authorizeView(actor, b); err != nil {
			return err
		}
		if b.Status != models.BookingConfirmed {
			return apperr.InvalidState("booking %d is %s, only confirmed bookings have tickets", b.ID, b.Status)
		}
		return s.record(tx, b, b.Status, actor, "", true)
	})
}

// VerifyTicket checks a scanned QR code at the door and returns the
// confirmed booking it belongs to. Organizers may only verify tickets for
// their own events.
func (s *Service) VerifyTicket(ctx context.Context, actor auth.Identity, code string) (*models.Booking, error) {
	ctx, span := tracer.Start(ctx, "ticket.verify")
	defer span.End()

	if err := auth.Authorize(actor, auth.OpVerifyTickets); err != nil {
		return nil, err
	}
	ticketID, eventID, err := artifact.ParsePayload(code)
	if err != nil {
		return nil, err
	}

	var booking models.Booking
	err = s.db.WithContext(ctx).Preload("Event").Preload("User").
		Where("ticket_id = ?", ticketID).First(&booking).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("ticket %s not found", ticketID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "load ticket")
	}
	if err := authorizeOwner(actor, &booking.Event); err != nil {
		return nil, err
	}
	if booking.EventID != eventID || booking.QRPayload != code {
		return nil, apperr.InvalidState("ticket %s does not belong to event %d", ticketID, eventID)
	}
	if booking.Status != models.BookingConfirmed {
		return nil, apperr.InvalidState("ticket %s is %s", ticketID, booking.Status)
	}
	if booking.Event.Status != models.EventApproved {
		return nil, apperr.InvalidState("event %q is %s", booking.Event.Title, booking.Event.Status)
	}

	span.SetAttributes(attribute.Int64("booking.id", int64(booking.ID)))
	s.logger.WithField("booking_id", booking.ID).WithField("event_id", booking.EventID).WithField("actor_id", actor.UserID).Info("ticket verified")
	return &booking, nil
}

// Resize changes an event's capacity without breaking the seat invariant:
// the new capacity may not drop below the seats already reserved.
func (s *Service) Resize(ctx context.Context, actor auth.Identity, eventID uint, capacity int) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.ResizeTx(tx, actor, eventID, capacity)
	})
}

// ResizeTx is Resize inside the caller's transaction, so an event edit can
// change capacity and the other columns atomically.
func (s *Service) ResizeTx(tx *gorm.DB, actor auth.Identity, eventID uint, capacity int) error {
	if err := auth.Authorize(actor, auth.OpManageEvents); err != nil {
		return err
	}
	if capacity <= 0 {
		return apperr.Validation("capacity must be positive")
	}

	event, err := loadEvent(tx, eventID)
	if err != nil {
		return err
	}
	if err := authorizeOwner(actor, event); err != nil {
		return err
	}

	// Both SET expressions read the pre-update row.
	res := tx.Model(&models.Event{}).
		Where("id = ? AND capacity - remaining_seats <= ?", eventID, capacity).
		Updates(map[string]interface{}{
			"remaining_seats": gorm.Expr("remaining_seats + ? - capacity", capacity),
			"capacity":        capacity,
		})
	if res.Error != nil {
		return errors.Wrap(res.Error, "resize event")
	}
	if res.RowsAffected == 0 {
		return apperr.Validation("capacity %d is below the %d seats already reserved", capacity, event.Capacity-event.RemainingSeats)
	}
	return nil
}

// transition applies updates only if the booking is still in from.
func transition(tx *gorm.DB, bookingID uint, from models.BookingStatus, updates map[string]interface{}) error {
	res := tx.Model(&models.Booking{}).
		Where("id = ? AND status = ?", bookingID, from).
		Updates(updates)
	if res.Error != nil {
		return errors.Wrapf(res.Error, "update booking %d", bookingID)
	}
	if res.RowsAffected == 0 {
		return apperr.InvalidState("booking %d is no longer %s", bookingID, from)
	}
	return nil
}

func (s *Service) releaseSeat(tx *gorm.DB, eventID uint) error {
	res := tx.Model(&models.Event{}).
		Where("id = ? AND remaining_seats < capacity", eventID).
		UpdateColumn("remaining_seats", gorm.Expr("remaining_seats + 1"))
	if res.Error != nil {
		return errors.Wrap(res.Error, "release seat")
	}
	if res.RowsAffected == 0 {
		s.logger.WithField("event_id", eventID).Warn("seat release skipped, event already at capacity")
	}
	return nil
}

func (s *Service) record(tx *gorm.DB, b *models.Booking, from models.BookingStatus, actor auth.Identity, reason string, resend bool) error {
	now := s.now().UTC()
	if !resend {
		entry := models.BookingTransition{
			BookingID: b.ID,
			From:      from,
			To:        b.Status,
			ActorID:   actor.UserID,
			Reason:    reason,
			CreatedAt: now,
		}
		if err := tx.Create(&entry).Error; err != nil {
			return errors.Wrap(err, "record transition")
		}
	}

	return outbox.Enqueue(tx, outbox.TopicFor(b.Status), b.ID, outbox.BookingEvent{
		BookingID:  b.ID,
		EventID:    b.EventID,
		UserID:     b.UserID,
		ActorID:    actor.UserID,
		From:       from,
		To:         b.Status,
		Reason:     reason,
		Resend:     resend,
		OccurredAt: now,
	})
}

func nextStage(b *models.Booking) models.BookingStatus {
	if b.Status == models.BookingPending && b.Event.RequiresFacultyApproval {
		return models.BookingFacultyApproved
	}
	return models.BookingConfirmed
}

// authorizeStage checks that actor may decide b at its current stage. The
// faculty stage belongs to faculty alone; the final stage to the event's
// organizer or an admin.
func authorizeStage(actor auth.Identity, b *models.Booking) error {
	if b.Status == models.BookingPending && b.Event.RequiresFacultyApproval {
		if err := auth.Authorize(actor, auth.OpFacultyDecision); err != nil {
			return apperr.Authorization("booking %d awaits faculty approval", b.ID)
		}
		return nil
	}
	if err := auth.Authorize(actor, auth.OpOrganizerDecision); err != nil {
		return apperr.Authorization("booking %d awaits organizer confirmation", b.ID)
	}
	return authorizeOwner(actor, &b.Event)
}

func authorizeOwner(actor auth.Identity, event *models.Event) error {
	if actor.Is(models.RoleOrganizer) && event.OrganizerID != actor.UserID {
		return apperr.Authorization("event %q belongs to another organizer", event.Title)
	}
	return nil
}

func loadEvent(tx *gorm.DB, id uint) (*models.Event, error) {
	var event models.Event
	if err := tx.First(&event, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("event %d not found", id)
		}
		return nil, errors.Wrap(err, "load event")
	}
	return &event, nil
}

func loadBooking(tx *gorm.DB, id uint) (*models.Booking, error) {
	var booking models.Booking
	if err := tx.Preload("Event").First(&booking, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("booking %d not found", id)
		}
		return nil, errors.Wrap(err, "load booking")
	}
	return &booking, nil
}
