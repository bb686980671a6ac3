package admin

import (
	"net/http"
	"strings"
	"time"

	"github.com/JonasLeetTheWay/campus-events/internal/apperr"
	"github.com/JonasLeetTheWay/campus-events/internal/auth"
	"github.com/JonasLeetTheWay/campus-events/internal/config"
	"github.com/JonasLeetTheWay/campus-events/internal/httpx"
	"github.com/JonasLeetTheWay/campus-events/internal/models"
	"github.com/JonasLeetTheWay/campus-events/internal/notify"
	"github.com/JonasLeetTheWay/campus-events/internal/observability"

	"github.com/cockroachdb/errors"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type Service struct {
	config   *config.Config
	db       *gorm.DB
	settings *notify.Settings
	logger   observability.Logger
	now      func() time.Time
}

func NewService(cfg *config.Config, db *gorm.DB, settings *notify.Settings, logger observability.Logger) *Service {
	return &Service{
		config:   cfg,
		db:       db,
		settings: settings,
		logger:   logger.WithField("component", "admin"),
		now:      time.Now,
	}
}

// WithClock replaces time.Now when deciding which events are upcoming.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) SetupRoutes(r *gin.Engine) {
	required := auth.Middleware(s.config, s.db)

	r.GET("/categories", s.ListCategories)
	r.GET("/halls", required, s.ListHalls)

	admin := r.Group("/admin", required)
	{
		catalog := admin.Group("", auth.Require(auth.OpManageCatalog))
		catalog.GET("/halls", s.ListHalls)
		catalog.POST("/halls", s.CreateHall)
		catalog.PUT("/halls/:id", s.UpdateHall)
		catalog.DELETE("/halls/:id", s.DeleteHall)
		catalog.POST("/halls/:id/block", s.BlockHall)
		catalog.POST("/halls/:id/unblock", s.UnblockHall)
		catalog.GET("/categories", s.ListCategories)
		catalog.POST("/categories", s.CreateCategory)
		catalog.DELETE("/categories/:id", s.DeleteCategory)

		users := admin.Group("/users", auth.Require(auth.OpManageUsers))
		users.GET("", s.ListUsers)
		users.POST("", s.CreateUser)
		users.PUT("/:id", s.UpdateUser)

		settings := admin.Group("/settings", auth.Require(auth.OpManageSettings))
		settings.GET("/mail", s.GetMailSettings)
		settings.PUT("/mail", s.UpdateMailSettings)
	}
}

func (s *Service) ListHalls(c *gin.Context) {
	var halls []models.Hall
	if err := s.db.WithContext(c.Request.Context()).Order("name").Find(&halls).Error; err != nil {
		httpx.Error(c, errors.Wrap(err, "list halls"))
		return
	}
	c.JSON(http.StatusOK, halls)
}

type hallRequest struct {
	Name     string `json:"name" binding:"required"`
	Capacity int    `json:"capacity" binding:"required,gt=0"`
	Location string `json:"location"`
}

func (s *Service) CreateHall(c *gin.Context) {
	var req hallRequest
	if err := httpx.BindJSON(c, &req); err != nil {
		httpx.Error(c, err)
		return
	}

	hall := models.Hall{Name: strings.TrimSpace(req.Name), Capacity: req.Capacity, Location: req.Location}
	if err := s.db.WithContext(c.Request.Context()).Create(&hall).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			httpx.Error(c, apperr.Conflict("hall %q already exists", hall.Name))
			return
		}
		httpx.Error(c, errors.Wrap(err, "create hall"))
		return
	}
	c.JSON(http.StatusCreated, hall)
}

// UpdateHall refuses to shrink a hall below the capacity of any event still
// scheduled in it.
func (s *Service) UpdateHall(c *gin.Context) {
	var req hallRequest
	if err := httpx.BindJSON(c, &req); err != nil {
		httpx.Error(c, err)
		return
	}

	var hall models.Hall
	err := s.db.WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
		h, err := loadHall(c, tx)
		if err != nil {
			return err
		}

		var largest struct{ Max int }
		if err := tx.Model(&models.Event{}).
			Select("COALESCE(MAX(capacity), 0) AS max").
			Where("hall_id = ? AND status IN ?", h.ID, []models.EventStatus{models.EventPending, models.EventApproved}).
			Scan(&largest).Error; err != nil {
			return errors.Wrap(err, "check hall events")
		}
		if req.Capacity < largest.Max {
			return apperr.Conflict("hall %q hosts an event with %d seats", h.Name, largest.Max)
		}

		h.Name = strings.TrimSpace(req.Name)
		h.Capacity = req.Capacity
		h.Location = req.Location
		if err := tx.Save(h).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return apperr.Conflict("hall %q already exists", h.Name)
			}
			return errors.Wrap(err, "update hall")
		}
		hall = *h
		return nil
	})
	if err != nil {
		httpx.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, hall)
}

func (s *Service) DeleteHall(c *gin.Context) {
	err := s.db.WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
		hall, err := loadHall(c, tx)
		if err != nil {
			return err
		}
		var n int64
		if err := tx.Model(&models.Event{}).Where("hall_id = ?", hall.ID).Count(&n).Error; err != nil {
			return errors.Wrap(err, "check hall events")
		}
		if n > 0 {
			return apperr.Conflict("hall %q is used by %d events, block it instead", hall.Name, n)
		}
		return errors.Wrap(tx.Delete(hall).Error, "delete hall")
	})
	if err != nil {
		httpx.Error(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// BlockHall takes a hall out of service. New events cannot be scheduled in
// a blocked hall; a hall with approved upcoming events cannot be blocked.
func (s *Service) BlockHall(c *gin.Context) {
	s.setBlocked(c, true)
}

func (s *Service) UnblockHall(c *gin.Context) {
	s.setBlocked(c, false)
}

func (s *Service) setBlocked(c *gin.Context, blocked bool) {
	var hall models.Hall
	err := s.db.WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
		h, err := loadHall(c, tx)
		if err != nil {
			return err
		}
		if blocked {
			var n int64
			if err := tx.Model(&models.Event{}).
				Where("hall_id = ? AND status = ? AND end_time > ?", h.ID, models.EventApproved, s.now().UTC()).
				Count(&n).Error; err != nil {
				return errors.Wrap(err, "check hall events")
			}
			if n > 0 {
				return apperr.Conflict("hall %q has %d upcoming events", h.Name, n)
			}
		}
		if err := tx.Model(h).Update("blocked", blocked).Error; err != nil {
			return errors.Wrap(err, "update hall")
		}
		hall = *h
		return nil
	})
	if err != nil {
		httpx.Error(c, err)
		return
	}

	s.logger.WithField("hall_id", hall.ID).WithField("blocked", blocked).Info("hall availability changed")
	c.JSON(http.StatusOK, hall)
}

func loadHall(c *gin.Context, tx *gorm.DB) (*models.Hall, error) {
	id, err := httpx.ParamID(c, "id")
	if err != nil {
		return nil, err
	}
	var hall models.Hall
	if err := tx.First(&hall, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("hall %d not found", id)
		}
		return nil, errors.Wrap(err, "load hall")
	}
	return &hall, nil
}

func (s *Service) ListCategories(c *gin.Context) {
	var categories []models.Category
	if err := s.db.WithContext(c.Request.Context()).Order("name").Find(&categories).Error; err != nil {
		httpx.Error(c, errors.Wrap(err, "list categories"))
		return
	}
	c.JSON(http.StatusOK, categories)
}

func (s *Service) CreateCategory(c *gin.Context) {
	var req struct {
		Name string `json:"name" binding:"required"`
	}
	if err := httpx.BindJSON(c, &req); err != nil {
		httpx.Error(c, err)
		return
	}

	category := models.Category{Name: strings.TrimSpace(req.Name)}
	if err := s.db.WithContext(c.Request.Context()).Create(&category).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			httpx.Error(c, apperr.Conflict("category %q already exists", category.Name))
			return
		}
		httpx.Error(c, errors.Wrap(err, "create category"))
		return
	}
	c.JSON(http.StatusCreated, category)
}

func (s *Service) DeleteCategory(c *gin.Context) {
	id, err := httpx.ParamID(c, "id")
	if err != nil {
		httpx.Error(c, err)
		return
	}

	err = s.db.WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
		var category models.Category
		if err := tx.First(&category, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.NotFound("category %d not found", id)
			}
			return errors.Wrap(err, "load category")
		}
		var n int64
		if err := tx.Model(&models.Event{}).Where("category_id = ?", id).Count(&n).Error; err != nil {
			return errors.Wrap(err, "check category events")
		}
		if n > 0 {
			return apperr.Conflict("category %q is used by %d events", category.Name, n)
		}
		return errors.Wrap(tx.Delete(&category).Error, "delete category")
	})
	if err != nil {
		httpx.Error(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
