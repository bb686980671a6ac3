package workflow

import (
	"context"

	"github.com/JonasLeetTheWay/campus-events/internal/apperr"
	"github.com/JonasLeetTheWay/campus-events/internal/auth"
	"github.com/JonasLeetTheWay/campus-events/internal/models"
	"github.com/cockroachdb/errors"
	"gorm.io/gorm"
)

// Get returns a booking the actor is allowed to see.
func (s *Service) Get(ctx context.Context, actor auth.Identity, bookingID uint) (*models.Booking, error) {
	var booking models.Booking
	err := s.db.WithContext(ctx).
		Preload("User").
		Preload("Event.Hall").
		Preload("Event.Organizer").
		First(&booking, bookingID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("booking %d not found", bookingID)
		}
		return nil, errors.Wrap(err, "load booking")
	}
	if err := authorizeView(actor, &booking); err != nil {
		return nil, err
	}
	return &booking, nil
}

// ForUser lists the actor's own bookings, newest first.
func (s *Service) ForUser(ctx context.Context, actor auth.Identity) ([]models.Booking, error) {
	var bookings []models.Booking
	err := s.db.WithContext(ctx).
		Preload("Event.Hall").
		Where("user_id = ?", actor.UserID).
		Order("created_at DESC, id DESC").
		Find(&bookings).Error
	return bookings, errors.Wrap(err, "list bookings")
}

// ForEvent lists every booking of an event for its organizer, faculty or an
// admin.
func (s *Service) ForEvent(ctx context.Context, actor auth.Identity, eventID uint) ([]models.Booking, error) {
	if err := auth.Authorize(actor, auth.OpViewEventBookings); err != nil {
		return nil, err
	}
	event, err := loadEvent(s.db.WithContext(ctx), eventID)
	if err != nil {
		return nil, err
	}
	if err := authorizeOwner(actor, event); err != nil {
		return nil, err
	}

	var bookings []models.Booking
	err = s.db.WithContext(ctx).
		Preload("User").
		Where("event_id = ?", eventID).
		Order("id").
		Find(&bookings).Error
	return bookings, errors.Wrap(err, "list event bookings")
}

// Queue lists the bookings waiting on the actor's approval stage: pending
// bookings of faculty-gated events for faculty, and bookings ready for final
// confirmation for organizers (own events) and admins.
func (s *Service) Queue(ctx context.Context, actor auth.Identity) ([]models.Booking, error) {
	if err := auth.Authorize(actor, auth.OpViewApprovalQueue); err != nil {
		return nil, err
	}

	q := s.db.WithContext(ctx).
		Model(&models.Booking{}).
		Joins("JOIN events ON events.id = bookings.event_id").
		Preload("User").
		Preload("Event.Hall")

	switch actor.Role {
	case models.RoleFaculty:
		q = q.Where("bookings.status = ? AND events.requires_faculty_approval = ?", models.BookingPending, true)
	default:
		q = q.Where("((bookings.status = ? AND events.requires_faculty_approval = ?) OR bookings.status = ?)",
			models.BookingPending, false, models.BookingFacultyApproved)
		if actor.Is(models.RoleOrganizer) {
			q = q.Where("events.organizer_id = ?", actor.UserID)
		}
	}

	var bookings []models.Booking
	err := q.Where("events.status <> ?", models.EventCancelled).
		Order("bookings.id").
		Find(&bookings).Error
	return bookings, errors.Wrap(err, "load approval queue")
}

// History returns the recorded transitions of a booking, oldest first.
func (s *Service) History(ctx context.Context, actor auth.Identity, bookingID uint) ([]models.BookingTransition, error) {
	if _, err := s.Get(ctx, actor, bookingID); err != nil {
		return nil, err
	}
	var history []models.BookingTransition
	err := s.db.WithContext(ctx).Where("booking_id = ?", bookingID).Order("id").Find(&history).Error
	return history, errors.Wrap(err, "load booking history")
}

// authorizeView lets the owner, any admin or faculty member, and the event's
// organizer read a booking.
func authorizeView(actor auth.Identity, b *models.Booking) error {
	switch actor.Role {
	case models.RoleAdmin, models.RoleFaculty:
		return nil
	case models.RoleOrganizer:
		if b.Event.OrganizerID == actor.UserID {
			return nil
		}
	case models.RoleStudent:
		if b.UserID == actor.UserID {
			return nil
		}
	}
	return apperr.Authorization("booking %d is not visible to you", b.ID)
}
