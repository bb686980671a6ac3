package auth

import (
	"github.com/JonasLeetTheWay/campus-events/internal/apperr"
	"github.com/JonasLeetTheWay/campus-events/internal/config"
	"github.com/JonasLeetTheWay/campus-events/internal/httpx"
	"github.com/JonasLeetTheWay/campus-events/internal/models"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

const SessionCookie = "session"

// Middleware resolves the caller from the session cookie or a bearer token.
// The user row is reloaded on every request so deactivation and role changes
// take effect without waiting for the token to expire.
func Middleware(cfg *config.Config, db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := resolve(c, cfg, db)
		if err != nil {
			abort(c, err)
			return
		}
		attach(c, id)
		c.Next()
	}
}

// Optional attaches the caller's identity when a valid session is present
// and lets anonymous requests through.
func Optional(cfg *config.Config, db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if id, err := resolve(c, cfg, db); err == nil {
			attach(c, id)
		}
		c.Next()
	}
}

func resolve(c *gin.Context, cfg *config.Config, db *gorm.DB) (Identity, error) {
	tokenString, err := c.Cookie(SessionCookie)
	if err != nil || tokenString == "" {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			return Identity{}, apperr.Unauthenticated("login required")
		}
		tokenString, err = ExtractTokenFromHeader(authHeader)
		if err != nil {
			return Identity{}, apperr.Unauthenticated("invalid authorization header")
		}
	}

	claims, err := ValidateToken(cfg, tokenString)
	if err != nil {
		return Identity{}, apperr.Unauthenticated("invalid or expired session")
	}

	var user models.User
	if err := db.WithContext(c.Request.Context()).First(&user, claims.UserID).Error; err != nil {
		return Identity{}, apperr.Unauthenticated("account not found")
	}
	if !user.Active {
		return Identity{}, apperr.Unauthenticated("account is deactivated")
	}
	return IdentityOf(&user), nil
}

func attach(c *gin.Context, id Identity) {
	c.Set("user_id", id.UserID)
	c.Request = c.Request.WithContext(WithIdentity(c.Request.Context(), id))
}

// Authenticated reports whether Optional found a session.
func Authenticated(c *gin.Context) bool {
	_, ok := FromContext(c.Request.Context())
	return ok
}

// Require rejects callers whose role may not run op.
func Require(op Operation) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := Authorize(Current(c), op); err != nil {
			abort(c, err)
			return
		}
		c.Next()
	}
}

// Current returns the identity Middleware attached to the request context.
// Handlers behind the middleware can rely on it being present.
func Current(c *gin.Context) Identity {
	id, _ := FromContext(c.Request.Context())
	return id
}

func abort(c *gin.Context, err error) {
	httpx.Abort(c, err)
}
