// Package outbox stores side-effect messages next to the state change that
// produced them and relays them to a publisher after commit.
package outbox

import (
	"context"
	"encoding/json"
	"time"

	"github.com/JonasLeetTheWay/campus-events/internal/models"
	"github.com/cockroachdb/errors"
	"gorm.io/gorm"
)

const (
	TopicBookingSubmitted       = "booking.submitted"
	TopicBookingFacultyApproved = "booking.faculty_approved"
	TopicBookingConfirmed       = "booking.confirmed"
	TopicBookingRejected        = "booking.rejected"
	TopicBookingCancelled       = "booking.cancelled"
)

// TopicFor maps the state a booking entered to the topic announcing it.
func TopicFor(status models.BookingStatus) string {
	switch status {
	case models.BookingPending:
		return TopicBookingSubmitted
	case models.BookingFacultyApproved:
		return TopicBookingFacultyApproved
	case models.BookingConfirmed:
		return TopicBookingConfirmed
	case models.BookingRejected:
		return TopicBookingRejected
	default:
		return TopicBookingCancelled
	}
}

// BookingEvent is the payload of every booking.* topic.
type BookingEvent struct {
	BookingID  uint                 `json:"booking_id"`
	EventID    uint                 `json:"event_id"`
	UserID     uint                 `json:"user_id"`
	ActorID    uint                 `json:"actor_id"`
	From       models.BookingStatus `json:"from,omitempty"`
	To         models.BookingStatus `json:"to"`
	Reason     string               `json:"reason,omitempty"`
	Resend     bool                 `json:"resend,omitempty"`
	OccurredAt time.Time            `json:"occurred_at"`
}

// Message is what a Publisher receives.
type Message struct {
	ID          uint
	Topic       string
	AggregateID uint
	Payload     []byte
	CreatedAt   time.Time
}

type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

// Enqueue must be called with the transaction that performs the change.
func Enqueue(tx *gorm.DB, topic string, aggregateID uint, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, "marshal outbox payload")
	}
	msg := models.OutboxMessage{
		Topic:       topic,
		AggregateID: aggregateID,
		Payload:     string(body),
		Status:      models.OutboxNew,
	}
	if err := tx.Create(&msg).Error; err != nil {
		return errors.Wrap(err, "insert outbox message")
	}
	return nil
}
