package database

import (
	"fmt"
	"time"

	"github.com/JonasLeetTheWay/campus-events/internal/auth"
	"github.com/JonasLeetTheWay/campus-events/internal/config"
	"github.com/JonasLeetTheWay/campus-events/internal/models"
	"gorm.io/gorm"
)

var baselineCategories = []string{"Tech", "Cultural", "Sports", "Workshops"}

var baselineHalls = []models.Hall{
	{Name: "A Block Hall", Capacity: 200, Location: "A Block"},
	{Name: "Seminar Hall 1", Capacity: 120, Location: "Main"},
	{Name: "Seminar Hall 2", Capacity: 100, Location: "Main"},
}

// SeedData creates the admin account, baseline categories and halls. Rows
// that already exist are left alone, so it is safe to run on every start.
func SeedData(db *gorm.DB, cfg *config.Config) error {
	return db.Transaction(func(tx *gorm.DB) error {
		if _, err := ensureUser(tx, cfg.AdminEmail, cfg.AdminPassword, "Administrator", models.RoleAdmin); err != nil {
			return err
		}

		for _, name := range baselineCategories {
			category := models.Category{Name: name}
			if err := tx.Where(models.Category{Name: name}).FirstOrCreate(&category).Error; err != nil {
				return fmt.Errorf("failed to seed category %s: %w", name, err)
			}
		}

		for _, h := range baselineHalls {
			hall := h
			if err := tx.Where(models.Hall{Name: hall.Name}).FirstOrCreate(&hall).Error; err != nil {
				return fmt.Errorf("failed to seed hall %s: %w", hall.Name, err)
			}
		}
		return nil
	})
}

// SeedDemo adds one account per non-admin role and two upcoming events.
func SeedDemo(db *gorm.DB, now time.Time) error {
	return db.Transaction(func(tx *gorm.DB) error {
		organizer, err := ensureUser(tx, "organizer@example.com", "organizer123", "Olivia Organizer", models.RoleOrganizer)
		if err != nil {
			return err
		}
		if _, err := ensureUser(tx, "faculty@example.com", "faculty123", "Dr. Faye Faculty", models.RoleFaculty); err != nil {
			return err
		}
		student, err := ensureUser(tx, "student@example.com", "student123", "Sam Student", models.RoleStudent)
		if err != nil {
			return err
		}
		if student.StudentID == nil {
			sid := "STU-0001"
			if err := tx.Model(student).Updates(map[string]interface{}{"student_id": sid, "department": "CSE", "year": "3"}).Error; err != nil {
				return err
			}
		}

		var tech, cultural models.Category
		if err := tx.Where("name = ?", "Tech").First(&tech).Error; err != nil {
			return fmt.Errorf("baseline categories missing, run SeedData first: %w", err)
		}
		if err := tx.Where("name = ?", "Cultural").First(&cultural).Error; err != nil {
			return err
		}
		var seminar, aBlock models.Hall
		if err := tx.Where("name = ?", "Seminar Hall 1").First(&seminar).Error; err != nil {
			return fmt.Errorf("baseline halls missing, run SeedData first: %w", err)
		}
		if err := tx.Where("name = ?", "A Block Hall").First(&aBlock).Error; err != nil {
			return err
		}

		day := now.UTC().Truncate(24 * time.Hour)
		events := []models.Event{
			{
				Title:       "Go in Production",
				Description: "Talk on running Go services at scale.",
				CategoryID:  &tech.ID,
				HallID:      seminar.ID,
				OrganizerID: organizer.ID,
				Capacity:    seminar.Capacity,
				StartTime:   day.Add(7*24*time.Hour + 10*time.Hour),
				EndTime:     day.Add(7*24*time.Hour + 12*time.Hour),
				Status:      models.EventApproved,
			},
			{
				Title:                   "Cultural Night",
				Description:             "Annual cultural evening. Entry requires faculty sign-off.",
				CategoryID:              &cultural.ID,
				HallID:                  aBlock.ID,
				OrganizerID:             organizer.ID,
				Capacity:                150,
				StartTime:               day.Add(14*24*time.Hour + 18*time.Hour),
				EndTime:                 day.Add(14*24*time.Hour + 21*time.Hour),
				Status:                  models.EventApproved,
				RequiresFacultyApproval: true,
			},
		}

		for _, e := range events {
			event := e
			event.RemainingSeats = event.Capacity
			if err := tx.Where(models.Event{Title: event.Title}).FirstOrCreate(&event).Error; err != nil {
				return fmt.Errorf("failed to seed event %s: %w", event.Title, err)
			}
		}
		return nil
	})
}

func ensureUser(tx *gorm.DB, email, password, name string, role models.Role) (*models.User, error) {
	var user models.User
	err := tx.Where("email = ?", email).First(&user).Error
	if err == nil {
		return &user, nil
	}
	if err != gorm.ErrRecordNotFound {
		return nil, err
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, err
	}
	user = models.User{Email: email, PasswordHash: hash, FullName: name, Role: role, Active: true}
	if err := tx.Create(&user).Error; err != nil {
		return nil, fmt.Errorf("failed to seed user %s: %w", email, err)
	}
	return &user, nil
}
