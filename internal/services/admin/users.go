package admin

import (
	"net/http"
	"strings"

	"github.com/JonasLeetTheWay/campus-events/internal/apperr"
	"github.com/JonasLeetTheWay/campus-events/internal/auth"
	"github.com/JonasLeetTheWay/campus-events/internal/httpx"
	"github.com/JonasLeetTheWay/campus-events/internal/models"

	"github.com/cockroachdb/errors"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

func (s *Service) ListUsers(c *gin.Context) {
	query := s.db.WithContext(c.Request.Context()).Order("id")
	if role := models.Role(c.Query("role")); role != "" {
		if !role.Valid() {
			httpx.Error(c, apperr.Validation("unknown role %q", role))
			return
		}
		query = query.Where("role = ?", role)
	}

	var users []models.User
	if err := query.Find(&users).Error; err != nil {
		httpx.Error(c, errors.Wrap(err, "list users"))
		return
	}
	c.JSON(http.StatusOK, users)
}

type createUserRequest struct {
	Email      string      `json:"email" binding:"required,email"`
	Password   string      `json:"password" binding:"required,min=6"`
	FullName   string      `json:"full_name" binding:"required"`
	Role       models.Role `json:"role" binding:"required"`
	StudentID  string      `json:"student_id"`
	Phone      string      `json:"phone"`
	Department string      `json:"department"`
	Year       string      `json:"year"`
}

// CreateUser provisions an account with any role.
func (s *Service) CreateUser(c *gin.Context) {
	var req createUserRequest
	if err := httpx.BindJSON(c, &req); err != nil {
		httpx.Error(c, err)
		return
	}
	if !req.Role.Valid() {
		httpx.Error(c, apperr.Validation("unknown role %q", req.Role))
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
		Role:         req.Role,
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

	s.logger.WithField("user_id", user.ID).WithField("role", user.Role).WithField("actor_id", auth.Current(c).UserID).Info("user provisioned")
	c.JSON(http.StatusCreated, user)
}

type updateUserRequest struct {
	Role     *models.Role `json:"role"`
	Active   *bool        `json:"active"`
	FullName *string      `json:"full_name"`
}

// UpdateUser changes a user's role or active flag. Admins cannot lock
// themselves out.
func (s *Service) UpdateUser(c *gin.Context) {
	var req updateUserRequest
	if err := httpx.BindJSON(c, &req); err != nil {
		httpx.Error(c, err)
		return
	}
	id, err := httpx.ParamID(c, "id")
	if err != nil {
		httpx.Error(c, err)
		return
	}
	actor := auth.Current(c)

	updates := map[string]interface{}{}
	if req.Role != nil {
		if !req.Role.Valid() {
			httpx.Error(c, apperr.Validation("unknown role %q", *req.Role))
			return
		}
		if id == actor.UserID && *req.Role != models.RoleAdmin {
			httpx.Error(c, apperr.Validation("you cannot remove your own admin role"))
			return
		}
		updates["role"] = *req.Role
	}
	if req.Active != nil {
		if id == actor.UserID && !*req.Active {
			httpx.Error(c, apperr.Validation("you cannot deactivate your own account"))
			return
		}
		updates["active"] = *req.Active
	}
	if req.FullName != nil {
		name := strings.TrimSpace(*req.FullName)
		if name == "" {
			httpx.Error(c, apperr.Validation("full_name cannot be empty"))
			return
		}
		updates["full_name"] = name
	}

	ctx := c.Request.Context()
	var user models.User
	if err := s.db.WithContext(ctx).First(&user, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			httpx.Error(c, apperr.NotFound("user %d not found", id))
			return
		}
		httpx.Error(c, errors.Wrap(err, "load user"))
		return
	}
	if len(updates) > 0 {
		if err := s.db.WithContext(ctx).Model(&user).Updates(updates).Error; err != nil {
			httpx.Error(c, errors.Wrap(err, "update user"))
			return
		}
	}
	if err := s.db.WithContext(ctx).First(&user, id).Error; err != nil {
		httpx.Error(c, errors.Wrap(err, "reload user"))
		return
	}

	s.logger.WithField("user_id", user.ID).WithField("role", user.Role).WithField("active", user.Active).WithField("actor_id", actor.UserID).Info("user updated")
	c.JSON(http.StatusOK, user)
}
