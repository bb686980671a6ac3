package gateway

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/JonasLeetTheWay/campus-events/internal/apperr"
	"github.com/JonasLeetTheWay/campus-events/internal/auth"
	"github.com/JonasLeetTheWay/campus-events/internal/config"
	"github.com/JonasLeetTheWay/campus-events/internal/httpx"
	"github.com/JonasLeetTheWay/campus-events/internal/models"
	"github.com/JonasLeetTheWay/campus-events/internal/redis"

	"github.com/cockroachdb/errors"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type Service struct {
	config      *config.Config
	db          *gorm.DB
	redisClient *redis.Client
}

func NewService(cfg *config.Config, db *gorm.DB, redisClient *redis.Client) *Service {
	return &Service{
		config:      cfg,
		db:          db,
		redisClient: redisClient,
	}
}

func (s *Service) SetupRoutes(r *gin.Engine) {
	// Authentication routes
	authGroup := r.Group("/auth")
	{
		authGroup.POST("/register", s.redisClient.RateLimit("register", 5, time.Minute, clientIP), s.Register)
		authGroup.POST("/login", s.redisClient.RateLimit("login", 10, time.Minute, clientIP), s.Login)
		authGroup.POST("/logout", s.Logout)

		me := authGroup.Group("/me", auth.Middleware(s.config, s.db))
		me.GET("", s.Me)
		me.PUT("", s.UpdateProfile)
	}

	// Health check
	r.GET("/health", s.HealthCheck)
}

func clientIP(c *gin.Context) string {
	return c.ClientIP()
}

type registerRequest struct {
	Email      string `json:"email" binding:"required,email"`
	Password   string `json:"password" binding:"required,min=6"`
	FullName   string `json:"full_name" binding:"required"`
	StudentID  string `json:"student_id"`
	Phone      string `json:"phone"`
	Department string `json:"department"`
	Year       string `json:"year"`
}

// Register creates a student account and starts a session. Other roles are
// provisioned by an admin.
func (s *Service) Register(c *gin.Context) {
	var req registerRequest
	if err := httpx.BindJSON(c, &req); err != nil {
		httpx.Error(c, err)
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		httpx.Error(c, errors.Wrap(err, "hash password"))
		return
	}

	user := models.User{
		Email:        strings.ToLower(strings.TrimSpace(req.Email)),
		PasswordHash: hash,
		FullName:     strings.TrimSpace(req.FullName),
		Role:         models.RoleStudent,
		Phone:        req.Phone,
		Department:   req.Department,
		Year:         req.Year,
		Active:       true,
	}
	if id := strings.TrimSpace(req.StudentID); id != "" {
		user.StudentID = &id
	}

	if err := s.db.WithContext(c.Request.Context()).Create(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			httpx.Error(c, apperr.Conflict("an account with this email or student id already exists"))
			return
		}
		httpx.Error(c, errors.Wrap(err, "create user"))
		return
	}

	s.startSession(c, http.StatusCreated, &user)
}

func (s *Service) Login(c *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required,email"`
		Password string `json:"password" binding:"required"`
	}
	if err := httpx.BindJSON(c, &req); err != nil {
		httpx.Error(c, err)
		return
	}

	var user models.User
	err := s.db.WithContext(c.Request.Context()).
		Where("email = ?", strings.ToLower(strings.TrimSpace(req.Email))).
		First(&user).Error
	if err != nil || !auth.CheckPassword(user.PasswordHash, req.Password) {
		httpx.Error(c, apperr.Unauthenticated("invalid credentials"))
		return
	}
	if !user.Active {
		httpx.Error(c, apperr.Unauthenticated("account is deactivated"))
		return
	}

	s.startSession(c, http.StatusOK, &user)
}

func (s *Service) startSession(c *gin.Context, status int, user *models.User) {
	token, err := auth.GenerateToken(s.config, user)
	if err != nil {
		httpx.Error(c, errors.Wrap(err, "generate token"))
		return
	}

	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(auth.SessionCookie, token, int(s.config.SessionTTL.Seconds()), "/", "", s.config.CookieSecure, true)
	c.JSON(status, gin.H{
		"token": token,
		"user":  user,
	})
}

func (s *Service) Logout(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(auth.SessionCookie, "", -1, "/", "", s.config.CookieSecure, true)
	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}

func (s *Service) Me(c *gin.Context) {
	var user models.User
	if err := s.db.WithContext(c.Request.Context()).First(&user, auth.Current(c).UserID).Error; err != nil {
		httpx.Error(c, errors.Wrap(err, "load user"))
		return
	}
	c.JSON(http.StatusOK, user)
}

type profileRequest struct {
	FullName        *string `json:"full_name"`
	Phone           *string `json:"phone"`
	Department      *string `json:"department"`
	Year            *string `json:"year"`
	CurrentPassword string  `json:"current_password"`
	NewPassword     string  `json:"new_password"`
}

// UpdateProfile edits the caller's own contact details. Changing the
// password requires the current one.
func (s *Service) UpdateProfile(c *gin.Context) {
	var req profileRequest
	if err := httpx.BindJSON(c, &req); err != nil {
		httpx.Error(c, err)
		return
	}

	ctx := c.Request.Context()
	var user models.User
	if err := s.db.WithContext(ctx).First(&user, auth.Current(c).UserID).Error; err != nil {
		httpx.Error(c, errors.Wrap(err, "load user"))
		return
	}

	updates, err := profileUpdates(&user, req)
	if err != nil {
		httpx.Error(c, err)
		return
	}
	if len(updates) > 0 {
		if err := s.db.WithContext(ctx).Model(&user).Updates(updates).Error; err != nil {
			httpx.Error(c, errors.Wrap(err, "update profile"))
			return
		}
	}

	if err := s.db.WithContext(ctx).First(&user, user.ID).Error; err != nil {
		httpx.Error(c, errors.Wrap(err, "reload user"))
		return
	}
	c.JSON(http.StatusOK, user)
}

func profileUpdates(user *models.User, req profileRequest) (map[string]interface{}, error) {
	updates := map[string]interface{}{}
	if req.FullName != nil {
		name := strings.TrimSpace(*req.FullName)
		if name == "" {
			return nil, apperr.Validation("full_name cannot be empty")
		}
		updates["full_name"] = name
	}
	if req.Phone != nil {
		updates["phone"] = *req.Phone
	}
	if req.Department != nil {
		updates["department"] = *req.Department
	}
	if req.Year != nil {
		updates["year"] = *req.Year
	}
	if req.NewPassword != "" {
		if !auth.CheckPassword(user.PasswordHash, req.CurrentPassword) {
			return nil, apperr.Validation("current password is incorrect")
		}
		if len(req.NewPassword) < 6 {
			return nil, apperr.Validation("new password must be at least 6 characters")
		}
		hash, err := auth.HashPassword(req.NewPassword)
		if err != nil {
			return nil, errors.Wrap(err, "hash password")
		}
		updates["password_hash"] = hash
	}
	return updates, nil
}

func (s *Service) HealthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	checks := gin.H{"database": "ok", "redis": "ok"}
	status := http.StatusOK

	if sqlDB, err := s.db.DB(); err != nil || sqlDB.PingContext(ctx) != nil {
		checks["database"] = "unavailable"
		status = http.StatusServiceUnavailable
	}
	if s.redisClient == nil {
		checks["redis"] = "disabled"
	} else if err := s.redisClient.Ping(ctx); err != nil {
		checks["redis"] = "unavailable"
		status = http.StatusServiceUnavailable
	}

	health := "healthy"
	if status != http.StatusOK {
		health = "degraded"
	}
	c.JSON(status, gin.H{
		"status":    health,
		"service":   "campus-events",
		"checks":    checks,
		"timestamp": time.Now(),
	})
}
