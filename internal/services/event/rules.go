package event

import (
	"time"

	"github.com/JonasLeetTheWay/campus-events/internal/apperr"
	"github.com/JonasLeetTheWay/campus-events/internal/models"
	"github.com/cockroachdb/errors"
	"gorm.io/gorm"
)

// validate applies the catalog rules to e, defaulting its capacity to the
// hall's. A start time in the past is only rejected when checkStart is set,
// so running events can still have their description edited.
func (s *Service) validate(tx *gorm.DB, e *models.Event, checkStart bool) error {
	if e.Title == "" {
		return apperr.Validation("title is required")
	}
	if !e.StartTime.Before(e.EndTime) {
		return apperr.Validation("start_time must be before end_time")
	}
	if checkStart && !e.StartTime.After(s.now()) {
		return apperr.Validation("start_time must be in the future")
	}

	var hall models.Hall
	if err := tx.First(&hall, e.HallID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.Validation("hall %d does not exist", e.HallID)
		}
		return errors.Wrap(err, "load hall")
	}
	if hall.Blocked {
		return apperr.Validation("hall %q is blocked for maintenance", hall.Name)
	}

	if e.Capacity == 0 {
		e.Capacity = hall.Capacity
	}
	if e.Capacity < 0 {
		return apperr.Validation("capacity must be positive")
	}
	if e.Capacity > hall.Capacity {
		return apperr.Validation("capacity %d exceeds the %d seats of %q", e.Capacity, hall.Capacity, hall.Name)
	}

	if e.CategoryID != nil {
		var n int64
		if err := tx.Model(&models.Category{}).Where("id = ?", *e.CategoryID).Count(&n).Error; err != nil {
			return errors.Wrap(err, "check category")
		}
		if n == 0 {
			return apperr.Validation("category %d does not exist", *e.CategoryID)
		}
	}

	return checkOverlap(tx, e)
}

// checkOverlap rejects e when an approved event already holds its hall for
// any part of [start, end).
func checkOverlap(tx *gorm.DB, e *models.Event) error {
	var clash models.Event
	err := tx.
		Where("hall_id = ? AND status = ? AND id <> ?", e.HallID, models.EventApproved, e.ID).
		Where("start_time < ? AND end_time > ?", e.EndTime, e.StartTime).
		First(&clash).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "check hall schedule")
	}
	return apperr.Conflict("hall is already booked for %q from %s to %s",
		clash.Title, clash.StartTime.Format(time.RFC3339), clash.EndTime.Format(time.RFC3339))
}
