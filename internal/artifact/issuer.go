package artifact

import (
	"context"

	"github.com/JonasLeetTheWay/campus-events/internal/apperr"
	"github.com/JonasLeetTheWay/campus-events/internal/models"
	"github.com/JonasLeetTheWay/campus-events/internal/storage"
	"github.com/cockroachdb/errors"
	"gorm.io/gorm"
)

// Ticket is a rendered ticket together with the booking it was built from.
type Ticket struct {
	Booking *models.Booking
	PDF     []byte
	Path    string
}

// Issuer renders and stores artifacts for bookings and events. Tickets are
// regenerated from the booking row on every call, so a lost file or failed
// delivery can always be repaired.
type Issuer struct {
	db    *gorm.DB
	store *storage.Store
}

func NewIssuer(db *gorm.DB, store *storage.Store) *Issuer {
	return &Issuer{db: db, store: store}
}

func (i *Issuer) Issue(ctx context.Context, bookingID uint) (*Ticket, error) {
	var booking models.Booking
	err := i.db.WithContext(ctx).
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

	data, err := TicketDataFor(&booking)
	if err != nil {
		return nil, err
	}
	pdf, err := RenderTicket(data)
	if err != nil {
		return nil, err
	}

	rel := storage.TicketPath(data.TicketID)
	if err := i.store.Write(rel, pdf); err != nil {
		return nil, errors.Wrap(err, "store ticket")
	}
	if booking.PDFPath != rel {
		if err := i.db.WithContext(ctx).Model(&models.Booking{}).
			Where("id = ?", booking.ID).
			UpdateColumn("pdf_path", rel).Error; err != nil {
			return nil, errors.Wrap(err, "record ticket path")
		}
		booking.PDFPath = rel
	}

	return &Ticket{Booking: &booking, PDF: pdf, Path: rel}, nil
}

// TicketDataFor requires a confirmed booking with User and Event.Hall and
// Event.Organizer loaded.
func TicketDataFor(b *models.Booking) (TicketData, error) {
	if b.Status != models.BookingConfirmed || b.TicketID == nil || b.ConfirmedAt == nil {
		return TicketData{}, apperr.InvalidState("booking %d is %s, tickets exist only for confirmed bookings", b.ID, b.Status)
	}
	return TicketData{
		TicketID:      *b.TicketID,
		QRPayload:     b.QRPayload,
		EventTitle:    b.Event.Title,
		Start:         b.Event.StartTime,
		End:           b.Event.EndTime,
		Venue:         b.Event.Hall.Name,
		Location:      b.Event.Hall.Location,
		Organizer:     b.Event.Organizer.FullName,
		Attendee:      b.User.FullName,
		AttendeeEmail: b.User.Email,
		IssuedAt:      *b.ConfirmedAt,
	}, nil
}

// Invitation renders the generated invitation for an event.
func (i *Issuer) Invitation(ctx context.Context, eventID uint) ([]byte, error) {
	var event models.Event
	err := i.db.WithContext(ctx).
		Preload("Hall").
		Preload("Organizer").
		Preload("Category").
		First(&event, eventID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("event %d not found", eventID)
		}
		return nil, errors.Wrap(err, "load event")
	}

	data := InvitationData{
		EventID:     event.ID,
		Title:       event.Title,
		Description: event.Description,
		Start:       event.StartTime,
		End:         event.EndTime,
		Venue:       event.Hall.Name,
		Location:    event.Hall.Location,
		Organizer:   event.Organizer.FullName,
		IssuedAt:    event.CreatedAt,
	}
	if event.Category != nil {
		data.Category = event.Category.Name
	}
	return RenderInvitation(data)
}
