// Package notify turns booking outbox messages into audit entries and mail.
package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/JonasLeetTheWay/campus-events/internal/artifact"
	"github.com/JonasLeetTheWay/campus-events/internal/audit"
	"github.com/JonasLeetTheWay/campus-events/internal/models"
	"github.com/JonasLeetTheWay/campus-events/internal/observability"
	"github.com/JonasLeetTheWay/campus-events/internal/outbox"
	"github.com/cockroachdb/errors"
	"gorm.io/gorm"
)

// Dispatcher handles one booking message. Delivery problems never undo the
// booking change that caused them: they are logged, counted and dropped, and
// a ticket can be resent later.
type Dispatcher struct {
	db     *gorm.DB
	issuer *artifact.Issuer
	sender Sender
	audit  audit.Recorder
	logger observability.Logger
}

func NewDispatcher(db *gorm.DB, issuer *artifact.Issuer, sender Sender, recorder audit.Recorder, logger observability.Logger) *Dispatcher {
	return &Dispatcher{
		db:     db,
		issuer: issuer,
		sender: sender,
		audit:  recorder,
		logger: logger.WithField("component", "notify"),
	}
}

// Handle returns an error only for messages it cannot understand.
func (d *Dispatcher) Handle(ctx context.Context, topic string, payload []byte) error {
	var ev outbox.BookingEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return errors.Wrapf(err, "decode %s payload", topic)
	}

	log := d.logger.WithField("topic", topic).WithField("booking_id", ev.BookingID)

	err := d.audit.Record(ctx, audit.Entry{
		Action:    topic,
		ActorID:   ev.ActorID,
		SubjectID: ev.BookingID,
		Timestamp: ev.OccurredAt,
		Data: map[string]interface{}{
			"event_id": ev.EventID,
			"user_id":  ev.UserID,
			"from":     string(ev.From),
			"to":       string(ev.To),
			"reason":   ev.Reason,
			"resend":   ev.Resend,
		},
	})
	if err != nil {
		log.WithError(err).Warn("audit record failed")
	}

	switch topic {
	case outbox.TopicBookingConfirmed:
		err = d.sendTicket(ctx, ev.BookingID)
	case outbox.TopicBookingRejected:
		err = d.sendRejection(ctx, ev)
	default:
		return nil
	}
	if err != nil {
		observability.NotificationFailures.WithLabelValues(topic).Inc()
		log.WithError(err).Error("notification failed")
		return nil
	}
	log.Info("notification sent")
	return nil
}

func (d *Dispatcher) sendTicket(ctx context.Context, bookingID uint) error {
	ticket, err := d.issuer.Issue(ctx, bookingID)
	if err != nil {
		return err
	}
	b := ticket.Booking

	body, err := render(confirmedTmpl, mailData{
		Name:     b.User.FullName,
		Title:    b.Event.Title,
		When:     when(b.Event.StartTime),
		Venue:    b.Event.Hall.Name,
		TicketID: *b.TicketID,
	})
	if err != nil {
		return errors.Wrap(err, "render confirmation")
	}

	return d.sender.Send(ctx, Message{
		To:      b.User.Email,
		Subject: fmt.Sprintf("Your ticket for %s", b.Event.Title),
		Body:    body,
		Attachments: []Attachment{{
			Name: fmt.Sprintf("ticket-%s.pdf", *b.TicketID),
			Data: ticket.PDF,
		}},
	})
}

func (d *Dispatcher) sendRejection(ctx context.Context, ev outbox.BookingEvent) error {
	var b models.Booking
	err := d.db.WithContext(ctx).Preload("User").Preload("Event").First(&b, ev.BookingID).Error
	if err != nil {
		return errors.Wrapf(err, "load booking %d", ev.BookingID)
	}

	body, err := render(rejectedTmpl, mailData{
		Name:   b.User.FullName,
		Title:  b.Event.Title,
		When:   when(b.Event.StartTime),
		Reason: ev.Reason,
	})
	if err != nil {
		return errors.Wrap(err, "render rejection")
	}

	return d.sender.Send(ctx, Message{
		To:      b.User.Email,
		Subject: fmt.Sprintf("Booking update for %s", b.Event.Title),
		Body:    body,
	})
}

// Direct hands outbox messages straight to a Dispatcher in-process. Used
// when no broker is configured.
type Direct struct {
	dispatcher *Dispatcher
}

func NewDirect(d *Dispatcher) *Direct {
	return &Direct{dispatcher: d}
}

func (p *Direct) Publish(ctx context.Context, msg outbox.Message) error {
	return p.dispatcher.Handle(ctx, msg.Topic, msg.Payload)
}
