// Package testutil builds throwaway databases and fixtures for package tests.
package testutil

import (
	"fmt"
	"testing"
	"time"

	"github.com/JonasLeetTheWay/campus-events/internal/auth"
	"github.com/JonasLeetTheWay/campus-events/internal/config"
	"github.com/JonasLeetTheWay/campus-events/internal/database"
	"github.com/JonasLeetTheWay/campus-events/internal/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Now is the fixed wall clock used by tests that inject a clock.
var Now = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func Clock() time.Time { return Now }

// NewDB returns a migrated in-memory sqlite database private to the test.
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_pragma=busy_timeout(5000)", uuid.NewString())
	db, err := database.Open("sqlite", dsn, logger.Silent)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := models.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

func Config(t testing.TB) *config.Config {
	t.Helper()
	return &config.Config{
		Port:              "0",
		DBDriver:          "sqlite",
		SessionSecret:     "test-secret",
		SessionTTL:        time.Hour,
		UploadDir:         t.TempDir(),
		MaxUploadMB:       5,
		OutboxInterval:    10 * time.Millisecond,
		OutboxBatchSize:   50,
		OutboxMaxAttempts: 3,
		AdminEmail:        "admin@example.com",
		AdminPassword:     "admin123",
		CORSOrigins:       []string{"*"},
		Mail:              config.MailConfig{Port: 587, DefaultSender: "noreply@test.local"},
	}
}

// CreateUser inserts an active user with the password "password".
func CreateUser(t testing.TB, db *gorm.DB, role models.Role) *models.User {
	t.Helper()

	hash, err := auth.HashPassword("password")
	if err != nil {
		t.Fatal(err)
	}
	n := uuid.NewString()[:8]
	user := &models.User{
		Email:        fmt.Sprintf("%s-%s@example.com", role, n),
		PasswordHash: hash,
		FullName:     fmt.Sprintf("Test %s %s", role, n),
		Role:         role,
		Active:       true,
	}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}
	return user
}

func Identity(u *models.User) auth.Identity {
	return auth.IdentityOf(u)
}

func CreateHall(t testing.TB, db *gorm.DB, capacity int) *models.Hall {
	t.Helper()

	hall := &models.Hall{Name: "Hall " + uuid.NewString()[:8], Capacity: capacity, Location: "Main"}
	if err := db.Create(hall).Error; err != nil {
		t.Fatalf("create hall: %v", err)
	}
	return hall
}

type EventOption func(*models.Event)

func WithCapacity(n int) EventOption {
	return func(e *models.Event) { e.Capacity = n; e.RemainingSeats = n }
}

func RequiringFaculty() EventOption {
	return func(e *models.Event) { e.RequiresFacultyApproval = true }
}

func WithStatus(s models.EventStatus) EventOption {
	return func(e *models.Event) { e.Status = s }
}

func StartingAt(start time.Time) EventOption {
	return func(e *models.Event) { e.StartTime = start; e.EndTime = start.Add(2 * time.Hour) }
}

// CreateEvent inserts an approved event owned by organizer, one week after
// Now, with ten seats unless options say otherwise.
func CreateEvent(t testing.TB, db *gorm.DB, organizer *models.User, opts ...EventOption) *models.Event {
	t.Helper()

	hall := CreateHall(t, db, 500)
	start := Now.Add(7 * 24 * time.Hour)
	event := &models.Event{
		Title:          "Event " + uuid.NewString()[:8],
		Description:    "fixture",
		HallID:         hall.ID,
		OrganizerID:    organizer.ID,
		Capacity:       10,
		RemainingSeats: 10,
		StartTime:      start,
		EndTime:        start.Add(2 * time.Hour),
		Status:         models.EventApproved,
	}
	for _, opt := range opts {
		opt(event)
	}
	if err := db.Create(event).Error; err != nil {
		t.Fatalf("create event: %v", err)
	}
	return event
}

func ReloadEvent(t testing.TB, db *gorm.DB, id uint) *models.Event {
	t.Helper()

	var event models.Event
	if err := db.First(&event, id).Error; err != nil {
		t.Fatalf("reload event: %v", err)
	}
	return &event
}

func ReloadBooking(t testing.TB, db *gorm.DB, id uint) *models.Booking {
	t.Helper()

	var booking models.Booking
	if err := db.First(&booking, id).Error; err != nil {
		t.Fatalf("reload booking: %v", err)
	}
	return &booking
}
