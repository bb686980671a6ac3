package event

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/JonasLeetTheWay/campus-events/internal/apperr"
	"github.com/JonasLeetTheWay/campus-events/internal/artifact"
	"github.com/JonasLeetTheWay/campus-events/internal/auth"
	"github.com/JonasLeetTheWay/campus-events/internal/config"
	"github.com/JonasLeetTheWay/campus-events/internal/httpx"
	"github.com/JonasLeetTheWay/campus-events/internal/models"
	"github.com/JonasLeetTheWay/campus-events/internal/observability"
	"github.com/JonasLeetTheWay/campus-events/internal/storage"
	"github.com/JonasLeetTheWay/campus-events/internal/workflow"

	"github.com/cockroachdb/errors"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type Service struct {
	config   *config.Config
	db       *gorm.DB
	store    *storage.Store
	workflow *workflow.Service
	issuer   *artifact.Issuer
	logger   observability.Logger
	now      func() time.Time
}

func NewService(cfg *config.Config, db *gorm.DB, store *storage.Store, wf *workflow.Service, issuer *artifact.Issuer, logger observability.Logger) *Service {
	return &Service{
		config:   cfg,
		db:       db,
		store:    store,
		workflow: wf,
		issuer:   issuer,
		logger:   logger.WithField("component", "events"),
		now:      time.Now,
	}
}

// WithClock replaces time.Now for schedule validation.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) SetupRoutes(r *gin.Engine) {
	required := auth.Middleware(s.config, s.db)
	manage := auth.Require(auth.OpManageEvents)

	events := r.Group("/events")
	{
		optional := events.Group("", auth.Optional(s.config, s.db))
		optional.GET("", s.ListEvents)
		optional.GET("/:id", s.GetEvent)
		optional.GET("/:id/invitation", s.DownloadInvitation)
		optional.GET("/:id/gallery", s.ListGallery)

		managed := events.Group("", required, manage)
		managed.POST("", s.CreateEvent)
		managed.PUT("/:id", s.UpdateEvent)
		managed.POST("/:id/cancel", s.CancelEvent)
		managed.POST("/:id/poster", s.UploadPoster)
		managed.POST("/:id/invitation", s.UploadInvitation)
		managed.POST("/:id/gallery", s.UploadGalleryImage)
		managed.DELETE("/:id/gallery/:imageId", s.DeleteGalleryImage)
	}

	r.GET("/my/events", required, manage, s.MyEvents)

	admin := r.Group("/admin/events", required, auth.Require(auth.OpCurateEvents))
	{
		admin.GET("", s.AdminListEvents)
		admin.POST("/:id/approve", s.ApproveEvent)
		admin.POST("/:id/reject", s.RejectEvent)
	}
}

// ListEvents returns approved events. Past events are hidden unless
// include_past is set.
func (s *Service) ListEvents(c *gin.Context) {
	query := s.db.WithContext(c.Request.Context()).
		Preload("Category").Preload("Hall").
		Where("events.status = ?", models.EventApproved)

	query, err := s.applyFilters(c, query)
	if err != nil {
		httpx.Error(c, err)
		return
	}

	var events []models.Event
	if err := query.Order("start_time").Find(&events).Error; err != nil {
		httpx.Error(c, errors.Wrap(err, "list events"))
		return
	}
	c.JSON(http.StatusOK, events)
}

func (s *Service) applyFilters(c *gin.Context, query *gorm.DB) (*gorm.DB, error) {
	if q := strings.TrimSpace(c.Query("q")); q != "" {
		like := "%" + strings.ToLower(q) + "%"
		query = query.Where("(LOWER(events.title) LIKE ? OR LOWER(events.description) LIKE ?)", like, like)
	}
	if raw := c.Query("category"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return nil, apperr.Validation("invalid category")
		}
		query = query.Where("events.category_id = ?", id)
	}

	from := s.now()
	if raw := c.Query("from"); raw != "" {
		t, err := parseDay(raw)
		if err != nil {
			return nil, err
		}
		from = t
	}
	if c.Query("include_past") != "true" || c.Query("from") != "" {
		query = query.Where("events.end_time > ?", from)
	}
	return query, nil
}

func parseDay(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		return t, nil
	}
	return time.Time{}, apperr.Validation("from must be a date (YYYY-MM-DD) or RFC3339 time")
}

// GetEvent shows approved events to everyone; other states only to the
// owning organizer and admins.
func (s *Service) GetEvent(c *gin.Context) {
	event, err := s.visibleEvent(c)
	if err != nil {
		httpx.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"event":           event,
		"available_seats": event.RemainingSeats,
		"bookable":        event.Status == models.EventApproved && event.StartTime.After(s.now()) && event.RemainingSeats > 0,
	})
}

func (s *Service) visibleEvent(c *gin.Context) (*models.Event, error) {
	id, err := httpx.ParamID(c, "id")
	if err != nil {
		return nil, err
	}

	var event models.Event
	err = s.db.WithContext(c.Request.Context()).
		Preload("Category").Preload("Hall").Preload("Organizer").Preload("Images").
		First(&event, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("event %d not found", id)
		}
		return nil, errors.Wrap(err, "load event")
	}

	if event.Status != models.EventApproved {
		if !auth.Authenticated(c) || !canManage(auth.Current(c), &event) {
			return nil, apperr.NotFound("event %d not found", id)
		}
	}
	return &event, nil
}

func canManage(actor auth.Identity, event *models.Event) bool {
	return actor.Is(models.RoleAdmin) || (actor.Is(models.RoleOrganizer) && event.OrganizerID == actor.UserID)
}

// MyEvents lists every event the calling organizer owns, in any state.
func (s *Service) MyEvents(c *gin.Context) {
	var events []models.Event
	err := s.db.WithContext(c.Request.Context()).
		Preload("Category").Preload("Hall").
		Where("organizer_id = ?", auth.Current(c).UserID).
		Order("start_time DESC").
		Find(&events).Error
	if err != nil {
		httpx.Error(c, errors.Wrap(err, "list events"))
		return
	}
	c.JSON(http.StatusOK, events)
}

type eventRequest struct {
	Title                   string    `json:"title" binding:"required"`
	Description             string    `json:"description"`
	CategoryID              *uint     `json:"category_id"`
	HallID                  uint      `json:"hall_id" binding:"required"`
	Capacity                int       `json:"capacity"`
	StartTime               time.Time `json:"start_time" binding:"required"`
	EndTime                 time.Time `json:"end_time" binding:"required"`
	RequiresFacultyApproval bool      `json:"requires_faculty_approval"`
}

func (s *Service) CreateEvent(c *gin.Context) {
	var req eventRequest
	if err := httpx.BindJSON(c, &req); err != nil {
		httpx.Error(c, err)
		return
	}
	actor := auth.Current(c)

	event := models.Event{
		Title:                   strings.TrimSpace(req.Title),
		Description:             req.Description,
		CategoryID:              req.CategoryID,
		HallID:                  req.HallID,
		OrganizerID:             actor.UserID,
		Capacity:                req.Capacity,
		StartTime:               req.StartTime.UTC().Truncate(time.Second),
		EndTime:                 req.EndTime.UTC().Truncate(time.Second),
		RequiresFacultyApproval: req.RequiresFacultyApproval,
		Status:                  models.EventPending,
	}
	if actor.Is(models.RoleAdmin) {
		event.Status = models.EventApproved
	}

	err := s.db.WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
		if err := s.validate(tx, &event, true); err != nil {
			return err
		}
		event.RemainingSeats = event.Capacity
		if err := tx.Create(&event).Error; err != nil {
			return errors.Wrap(err, "create event")
		}
		return nil
	})
	if err != nil {
		httpx.Error(c, err)
		return
	}

	s.logger.WithField("event_id", event.ID).WithField("organizer_id", actor.UserID).WithField("status", event.Status).Info("event created")
	s.respondWithEvent(c, http.StatusCreated, event.ID)
}

type updateRequest struct {
	Title                   *string    `json:"title"`
	Description             *string    `json:"description"`
	CategoryID              *uint      `json:"category_id"`
	HallID                  *uint      `json:"hall_id"`
	Capacity                *int       `json:"capacity"`
	StartTime               *time.Time `json:"start_time"`
	EndTime                 *time.Time `json:"end_time"`
	RequiresFacultyApproval *bool      `json:"requires_faculty_approval"`
}

// UpdateEvent edits an event. Capacity changes go through the booking
// workflow so reserved seats are never lost.
func (s *Service) UpdateEvent(c *gin.Context) {
	var req updateRequest
	if err := httpx.BindJSON(c, &req); err != nil {
		httpx.Error(c, err)
		return
	}
	ctx := c.Request.Context()
	actor := auth.Current(c)

	event, err := s.managedEvent(c)
	if err != nil {
		httpx.Error(c, err)
		return
	}
	if event.Status == models.EventCancelled || event.Status == models.EventRejected {
		httpx.Error(c, apperr.InvalidState("event %q is %s and can no longer be edited", event.Title, event.Status))
		return
	}

	candidate := *event
	if req.Title != nil {
		candidate.Title = strings.TrimSpace(*req.Title)
	}
	if req.Description != nil {
		candidate.Description = *req.Description
	}
	if req.CategoryID != nil {
		candidate.CategoryID = req.CategoryID
	}
	if req.HallID != nil {
		candidate.HallID = *req.HallID
	}
	if req.Capacity != nil {
		if *req.Capacity <= 0 {
			httpx.Error(c, apperr.Validation("capacity must be positive"))
			return
		}
		candidate.Capacity = *req.Capacity
	}
	if req.StartTime != nil {
		candidate.StartTime = req.StartTime.UTC().Truncate(time.Second)
	}
	if req.EndTime != nil {
		candidate.EndTime = req.EndTime.UTC().Truncate(time.Second)
	}
	if req.RequiresFacultyApproval != nil {
		candidate.RequiresFacultyApproval = *req.RequiresFacultyApproval
	}
	if candidate.Title == "" {
		httpx.Error(c, apperr.Validation("title is required"))
		return
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.validate(tx, &candidate, req.StartTime != nil); err != nil {
			return err
		}
		if candidate.Capacity != event.Capacity {
			if err := s.workflow.ResizeTx(tx, actor, event.ID, candidate.Capacity); err != nil {
				return err
			}
		}
		err := tx.Model(&models.Event{}).Where("id = ?", event.ID).Updates(map[string]interface{}{
			"title":                     candidate.Title,
			"description":               candidate.Description,
			"category_id":               candidate.CategoryID,
			"hall_id":                   candidate.HallID,
			"start_time":                candidate.StartTime,
			"end_time":                  candidate.EndTime,
			"requires_faculty_approval": candidate.RequiresFacultyApproval,
		}).Error
		return errors.Wrap(err, "update event")
	})
	if err != nil {
		httpx.Error(c, err)
		return
	}

	s.respondWithEvent(c, http.StatusOK, event.ID)
}

func (s *Service) CancelEvent(c *gin.Context) {
	id, err := httpx.ParamID(c, "id")
	if err != nil {
		httpx.Error(c, err)
		return
	}
	n, err := s.workflow.CancelEvent(c.Request.Context(), auth.Current(c), id)
	if err != nil {
		httpx.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "event cancelled", "bookings_cancelled": n})
}

// AdminListEvents lists events in any state, optionally filtered by status.
func (s *Service) AdminListEvents(c *gin.Context) {
	query := s.db.WithContext(c.Request.Context()).Preload("Hall").Preload("Organizer").Preload("Category")
	if status := c.Query("status"); status != "" {
		query = query.Where("status = ?", status)
	}

	var events []models.Event
	if err := query.Order("start_time").Find(&events).Error; err != nil {
		httpx.Error(c, errors.Wrap(err, "list events"))
		return
	}
	c.JSON(http.StatusOK, events)
}

// ApproveEvent opens a pending event for booking. The hall must still be
// free at that time.
func (s *Service) ApproveEvent(c *gin.Context) {
	s.curate(c, models.EventApproved)
}

func (s *Service) RejectEvent(c *gin.Context) {
	s.curate(c, models.EventRejected)
}

func (s *Service) curate(c *gin.Context, to models.EventStatus) {
	id, err := httpx.ParamID(c, "id")
	if err != nil {
		httpx.Error(c, err)
		return
	}

	err = s.db.WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
		var event models.Event
		if err := tx.First(&event, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.NotFound("event %d not found", id)
			}
			return errors.Wrap(err, "load event")
		}
		if event.Status != models.EventPending {
			return apperr.InvalidState("event %q is %s, only pending events can be reviewed", event.Title, event.Status)
		}
		if to == models.EventApproved {
			if err := checkOverlap(tx, &event); err != nil {
				return err
			}
		}
		res := tx.Model(&models.Event{}).
			Where("id = ? AND status = ?", id, models.EventPending).
			Update("status", to)
		if res.Error != nil {
			return errors.Wrap(res.Error, "update event status")
		}
		if res.RowsAffected == 0 {
			return apperr.InvalidState("event %d changed concurrently", id)
		}
		return nil
	})
	if err != nil {
		httpx.Error(c, err)
		return
	}

	s.logger.WithField("event_id", id).WithField("status", to).WithField("actor_id", auth.Current(c).UserID).Info("event reviewed")
	s.respondWithEvent(c, http.StatusOK, id)
}

// managedEvent loads the :id event and checks the caller may manage it.
func (s *Service) managedEvent(c *gin.Context) (*models.Event, error) {
	id, err := httpx.ParamID(c, "id")
	if err != nil {
		return nil, err
	}
	var event models.Event
	if err := s.db.WithContext(c.Request.Context()).First(&event, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("event %d not found", id)
		}
		return nil, errors.Wrap(err, "load event")
	}
	if !canManage(auth.Current(c), &event) {
		return nil, apperr.Authorization("event %q belongs to another organizer", event.Title)
	}
	return &event, nil
}

func (s *Service) respondWithEvent(c *gin.Context, status int, id uint) {
	var event models.Event
	err := s.db.WithContext(c.Request.Context()).
		Preload("Category").Preload("Hall").Preload("Organizer").Preload("Images").
		First(&event, id).Error
	if err != nil {
		httpx.Error(c, errors.Wrap(err, "reload event"))
		return
	}
	c.JSON(status, event)
}
