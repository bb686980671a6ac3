// Package httpx holds the small helpers every handler shares.
package httpx

import (
	"net/http"
	"strconv"

	"github.com/JonasLeetTheWay/campus-events/internal/apperr"
	"github.com/gin-gonic/gin"
)

// Error writes err as {"error", "code"}. Internal errors are attached to the
// context for the access log and replaced with a generic message.
func Error(c *gin.Context, err error) {
	c.JSON(status(c, err))
}

// Abort is Error for middleware.
func Abort(c *gin.Context, err error) {
	c.AbortWithStatusJSON(status(c, err))
}

func status(c *gin.Context, err error) (int, gin.H) {
	code := apperr.Status(err)
	if code == http.StatusInternalServerError {
		c.Error(err)
		return code, gin.H{"error": "internal error", "code": apperr.Code(err)}
	}
	return code, gin.H{"error": err.Error(), "code": apperr.Code(err)}
}

// ParamID parses a positive numeric path parameter.
func ParamID(c *gin.Context, name string) (uint, error) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		return 0, apperr.Validation("invalid %s", name)
	}
	return uint(id), nil
}

// BindJSON decodes the body into v and reports binding failures as
// validation errors.
func BindJSON(c *gin.Context, v interface{}) error {
	if err := c.ShouldBindJSON(v); err != nil {
		return apperr.Validation("invalid request data: %v", err)
	}
	return nil
}
