package notify

import (
	"context"
	"strconv"

	"github.com/JonasLeetTheWay/campus-events/internal/apperr"
	"github.com/JonasLeetTheWay/campus-events/internal/config"
	"github.com/JonasLeetTheWay/campus-events/internal/models"
	"github.com/cockroachdb/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	KeyMailServer        = "MAIL_SERVER"
	KeyMailPort          = "MAIL_PORT"
	KeyMailUsername      = "MAIL_USERNAME"
	KeyMailPassword      = "MAIL_PASSWORD"
	KeyMailUseTLS        = "MAIL_USE_TLS"
	KeyMailDefaultSender = "MAIL_DEFAULT_SENDER"
)

var mailKeys = []string{KeyMailServer, KeyMailPort, KeyMailUsername, KeyMailPassword, KeyMailUseTLS, KeyMailDefaultSender}

// Settings merges admin overrides stored in the settings table over the
// mail configuration read from the environment.
type Settings struct {
	db   *gorm.DB
	base config.MailConfig
}

func NewSettings(db *gorm.DB, base config.MailConfig) *Settings {
	return &Settings{db: db, base: base}
}

func (s *Settings) Effective(ctx context.Context) (config.MailConfig, error) {
	var rows []models.Setting
	if err := s.db.WithContext(ctx).Where("key IN ?", mailKeys).Find(&rows).Error; err != nil {
		return config.MailConfig{}, errors.Wrap(err, "load mail settings")
	}

	cfg := s.base
	for _, row := range rows {
		switch row.Key {
		case KeyMailServer:
			cfg.Server = row.Value
		case KeyMailPort:
			if port, err := strconv.Atoi(row.Value); err == nil {
				cfg.Port = port
			}
		case KeyMailUsername:
			cfg.Username = row.Value
		case KeyMailPassword:
			cfg.Password = row.Value
		case KeyMailUseTLS:
			if tls, err := strconv.ParseBool(row.Value); err == nil {
				cfg.UseTLS = tls
			}
		case KeyMailDefaultSender:
			cfg.DefaultSender = row.Value
		}
	}
	return cfg, nil
}

// Update validates and stores overrides. Unknown keys are rejected.
func (s *Settings) Update(ctx context.Context, values map[string]string) error {
	for key, value := range values {
		switch key {
		case KeyMailPort:
			if port, err := strconv.Atoi(value); err != nil || port <= 0 || port > 65535 {
				return apperr.Validation("MAIL_PORT must be a port number")
			}
		case KeyMailUseTLS:
			if _, err := strconv.ParseBool(value); err != nil {
				return apperr.Validation("MAIL_USE_TLS must be true or false")
			}
		case KeyMailServer, KeyMailUsername, KeyMailPassword, KeyMailDefaultSender:
		default:
			return apperr.Validation("unknown mail setting %q", key)
		}
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for key, value := range values {
			err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "key"}},
				DoUpdates: clause.AssignmentColumns([]string{"value"}),
			}).Create(&models.Setting{Key: key, Value: value}).Error
			if err != nil {
				return errors.Wrapf(err, "save setting %s", key)
			}
		}
		return nil
	})
}
