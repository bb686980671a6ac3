package admin

import (
	"net/http"

	"github.com/JonasLeetTheWay/campus-events/internal/auth"
	"github.com/JonasLeetTheWay/campus-events/internal/httpx"
	"github.com/JonasLeetTheWay/campus-events/internal/notify"

	"github.com/gin-gonic/gin"
)

const maskedPassword = "********"

// GetMailSettings shows the effective mail configuration without the
// password.
func (s *Service) GetMailSettings(c *gin.Context) {
	cfg, err := s.settings.Effective(c.Request.Context())
	if err != nil {
		httpx.Error(c, err)
		return
	}

	password := ""
	if cfg.Password != "" {
		password = maskedPassword
	}
	c.JSON(http.StatusOK, gin.H{
		notify.KeyMailServer:        cfg.Server,
		notify.KeyMailPort:          cfg.Port,
		notify.KeyMailUsername:      cfg.Username,
		notify.KeyMailPassword:      password,
		notify.KeyMailUseTLS:        cfg.UseTLS,
		notify.KeyMailDefaultSender: cfg.DefaultSender,
	})
}

// UpdateMailSettings stores overrides. Sending the masked password back
// leaves the stored one untouched.
func (s *Service) UpdateMailSettings(c *gin.Context) {
	var values map[string]string
	if err := httpx.BindJSON(c, &values); err != nil {
		httpx.Error(c, err)
		return
	}
	if values[notify.KeyMailPassword] == maskedPassword {
		delete(values, notify.KeyMailPassword)
	}

	if err := s.settings.Update(c.Request.Context(), values); err != nil {
		httpx.Error(c, err)
		return
	}
	s.logger.WithField("actor_id", auth.Current(c).UserID).Info("mail settings updated")
	s.GetMailSettings(c)
}
