package models

import (
	"time"

	"gorm.io/gorm"
)

type Role string

const (
	RoleStudent   Role = "student"
	RoleOrganizer Role = "organizer"
	RoleFaculty   Role = "faculty"
	RoleAdmin     Role = "admin"
)

var Roles = []Role{RoleStudent, RoleOrganizer, RoleFaculty, RoleAdmin}

func (r Role) Valid() bool {
	switch r {
	case RoleStudent, RoleOrganizer, RoleFaculty, RoleAdmin:
		return true
	}
	return false
}

type EventStatus string

const (
	EventPending   EventStatus = "pending"
	EventApproved  EventStatus = "approved"
	EventRejected  EventStatus = "rejected"
	EventCancelled EventStatus = "cancelled"
)

type BookingStatus string

const (
	BookingPending         BookingStatus = "pending"
	BookingFacultyApproved BookingStatus = "faculty_approved"
	BookingConfirmed       BookingStatus = "confirmed"
	BookingRejected        BookingStatus = "rejected"
	BookingCancelled       BookingStatus = "cancelled"
)

// ActiveBookingStatuses are the states that hold a seat.
var ActiveBookingStatuses = []BookingStatus{BookingPending, BookingFacultyApproved, BookingConfirmed}

func (s BookingStatus) Terminal() bool {
	return s == BookingConfirmed || s == BookingRejected || s == BookingCancelled
}

type User struct {
	gorm.Model
	Email        string  `gorm:"not null;uniqueIndex" json:"email"`
	StudentID    *string `gorm:"uniqueIndex" json:"student_id,omitempty"`
	PasswordHash string  `gorm:"not null" json:"-"`
	FullName     string  `gorm:"not null" json:"full_name"`
	Role         Role    `gorm:"not null;default:'student';index" json:"role"`
	Phone        string  `json:"phone,omitempty"`
	Department   string  `json:"department,omitempty"`
	Year         string  `json:"year,omitempty"`
	Active       bool    `gorm:"not null" json:"active"`
}

type Category struct {
	gorm.Model
	Name string `gorm:"not null;uniqueIndex" json:"name"`
}

type Hall struct {
	gorm.Model
	Name     string `gorm:"not null;uniqueIndex" json:"name"`
	Capacity int    `gorm:"not null" json:"capacity"`
	Location string `json:"location,omitempty"`
	Blocked  bool   `gorm:"not null;default:false" json:"blocked"`
}

type Event struct {
	gorm.Model
	Title                   string      `gorm:"not null" json:"title"`
	Description             string      `json:"description"`
	CategoryID              *uint       `json:"category_id,omitempty"`
	HallID                  uint        `gorm:"not null;index" json:"hall_id"`
	OrganizerID             uint        `gorm:"not null;index" json:"organizer_id"`
	Capacity                int         `gorm:"not null" json:"capacity"`
	RemainingSeats          int         `gorm:"not null" json:"remaining_seats"`
	StartTime               time.Time   `gorm:"not null;index" json:"start_time"`
	EndTime                 time.Time   `gorm:"not null" json:"end_time"`
	PosterPath              string      `json:"poster_path,omitempty"`
	InvitationPath          string      `json:"invitation_path,omitempty"`
	Status                  EventStatus `gorm:"not null;default:'pending';index" json:"status"`
	RequiresFacultyApproval bool        `gorm:"not null;default:false" json:"requires_faculty_approval"`

	// Relationships
	Category  *Category    `gorm:"foreignKey:CategoryID" json:"category,omitempty"`
	Hall      Hall         `gorm:"foreignKey:HallID" json:"hall"`
	Organizer User         `gorm:"foreignKey:OrganizerID" json:"organizer"`
	Images    []EventImage `gorm:"foreignKey:EventID" json:"images,omitempty"`
}

type EventImage struct {
	gorm.Model
	EventID   uint   `gorm:"not null;index" json:"event_id"`
	ImagePath string `gorm:"not null" json:"image_path"`
}

type Booking struct {
	gorm.Model
	UserID      uint          `gorm:"not null;index" json:"user_id"`
	EventID     uint          `gorm:"not null;index" json:"event_id"`
	Status      BookingStatus `gorm:"not null;default:'pending';index" json:"status"`
	TicketID    *string       `gorm:"uniqueIndex" json:"ticket_id,omitempty"`
	QRPayload   string        `json:"qr_payload,omitempty"`
	PDFPath     string        `json:"pdf_path,omitempty"`
	ConfirmedAt *time.Time    `json:"confirmed_at,omitempty"`
	DecidedByID *uint         `json:"decided_by_id,omitempty"`
	Reason      string        `json:"reason,omitempty"`

	// Relationships
	User  User  `gorm:"foreignKey:UserID" json:"user"`
	Event Event `gorm:"foreignKey:EventID" json:"event"`
}

// BookingTransition records every state change a booking goes through.
type BookingTransition struct {
	ID        uint          `gorm:"primarykey" json:"id"`
	BookingID uint          `gorm:"not null;index" json:"booking_id"`
	From      BookingStatus `json:"from"`
	To        BookingStatus `gorm:"not null" json:"to"`
	ActorID   uint          `gorm:"not null" json:"actor_id"`
	Reason    string        `json:"reason,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
}

type OutboxStatus string

const (
	OutboxNew       OutboxStatus = "new"
	OutboxPublished OutboxStatus = "published"
	OutboxFailed    OutboxStatus = "failed"
)

// OutboxMessage is written in the same transaction as the state change it
// announces and drained later by the relay.
type OutboxMessage struct {
	ID          uint         `gorm:"primarykey"`
	Topic       string       `gorm:"not null;index"`
	AggregateID uint         `gorm:"not null"`
	Payload     string       `gorm:"type:text;not null"`
	Status      OutboxStatus `gorm:"not null;default:'new';index"`
	Attempts    int          `gorm:"not null;default:0"`
	LastError   string
	CreatedAt   time.Time
	PublishedAt *time.Time
}

type Setting struct {
	Key   string `gorm:"primaryKey" json:"key"`
	Value string `json:"value"`
}

func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&User{},
		&Category{},
		&Hall{},
		&Event{},
		&EventImage{},
		&Booking{},
		&BookingTransition{},
		&OutboxMessage{},
		&Setting{},
	); err != nil {
		return err
	}

	// One seat-holding booking per student and event.
	return db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS idx_bookings_active_per_user
		ON bookings (user_id, event_id)
		WHERE status IN ('pending', 'faculty_approved', 'confirmed') AND deleted_at IS NULL`).Error
}
