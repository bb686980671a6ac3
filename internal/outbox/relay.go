package outbox

import (
	"context"
	"time"

	"github.com/JonasLeetTheWay/campus-events/internal/models"
	"github.com/JonasLeetTheWay/campus-events/internal/observability"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	relayLockKey = "outbox:relay"

	// messageTimeout bounds a single publish, including the mail round trip
	// of the in-process dispatcher. The relay lock is sized from it.
	messageTimeout = 30 * time.Second
	lockSlack      = 10 * time.Second
)

// Locker lets several server processes share one outbox without draining it
// twice. The redis client satisfies it.
type Locker interface {
	Lock(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key, owner string) error
}

type Relay struct {
	db          *gorm.DB
	publisher   Publisher
	locker      Locker
	logger      observability.Logger
	owner       string
	batchSize   int
	maxAttempts int
	msgTimeout  time.Duration
	now         func() time.Time
}

func NewRelay(db *gorm.DB, publisher Publisher, logger observability.Logger, batchSize, maxAttempts int) *Relay {
	if batchSize <= 0 {
		batchSize = 50
	}
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &Relay{
		db:          db,
		publisher:   publisher,
		logger:      logger.WithField("component", "outbox-relay"),
		owner:       uuid.NewString(),
		batchSize:   batchSize,
		maxAttempts: maxAttempts,
		msgTimeout:  messageTimeout,
		now:         time.Now,
	}
}

// WithLocker makes Drain skip passes while another relay holds the lock.
func (r *Relay) WithLocker(l Locker) *Relay {
	r.locker = l
	return r
}

// lockTTL covers a full batch of publishes that each run to their timeout.
func (r *Relay) lockTTL() time.Duration {
	return time.Duration(r.batchSize)*r.msgTimeout + lockSlack
}

// Run drains the outbox every interval until ctx is cancelled.
func (r *Relay) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.logger.Info("outbox relay started")

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("outbox relay stopped")
			return
		case <-ticker.C:
			if _, err := r.Drain(ctx); err != nil && ctx.Err() == nil {
				r.logger.WithError(err).Error("outbox drain failed")
			}
		}
	}
}

// Drain publishes one batch of pending messages in insertion order and
// returns how many were published.
func (r *Relay) Drain(ctx context.Context) (int, error) {
	var lockedUntil time.Time
	if r.locker != nil {
		ttl := r.lockTTL()
		lockedUntil = r.now().Add(ttl)
		ok, err := r.locker.Lock(ctx, relayLockKey, r.owner, ttl)
		if err != nil {
			return 0, errors.Wrap(err, "acquire relay lock")
		}
		if !ok {
			return 0, nil
		}
		defer r.locker.Unlock(context.Background(), relayLockKey, r.owner)
	}

	var pending []models.OutboxMessage
	err := r.db.WithContext(ctx).
		Where("status = ?", models.OutboxNew).
		Order("id").
		Limit(r.batchSize).
		Find(&pending).Error
	if err != nil {
		return 0, errors.Wrap(err, "fetch outbox")
	}
	if len(pending) == 0 {
		observability.OutboxLag.Set(0)
		return 0, nil
	}
	observability.OutboxLag.Set(r.now().Sub(pending[0].CreatedAt).Seconds())

	published := 0
	for _, rec := range pending {
		if ctx.Err() != nil {
			return published, ctx.Err()
		}
		// Leave the rest for the next pass rather than publish past the lock.
		if !lockedUntil.IsZero() && r.now().Add(r.msgTimeout).After(lockedUntil) {
			r.logger.WithField("published", published).Warn("relay lock nearly expired, ending pass early")
			return published, nil
		}

		msg := Message{
			ID:          rec.ID,
			Topic:       rec.Topic,
			AggregateID: rec.AggregateID,
			Payload:     []byte(rec.Payload),
			CreatedAt:   rec.CreatedAt,
		}
		pubCtx, cancel := context.WithTimeout(ctx, r.msgTimeout)
		err := r.publisher.Publish(pubCtx, msg)
		cancel()
		if err != nil {
			r.markFailed(ctx, rec, err)
			continue
		}

		now := r.now()
		if err := r.db.WithContext(ctx).Model(&models.OutboxMessage{}).
			Where("id = ?", rec.ID).
			Updates(map[string]interface{}{"status": models.OutboxPublished, "published_at": now, "attempts": rec.Attempts + 1}).Error; err != nil {
			return published, errors.Wrapf(err, "mark outbox message %d published", rec.ID)
		}
		observability.OutboxPublished.WithLabelValues(rec.Topic).Inc()
		published++
	}
	return published, nil
}

func (r *Relay) markFailed(ctx context.Context, rec models.OutboxMessage, cause error) {
	observability.OutboxFailures.WithLabelValues(rec.Topic).Inc()

	attempts := rec.Attempts + 1
	status := models.OutboxNew
	if attempts >= r.maxAttempts {
		status = models.OutboxFailed
	}

	log := r.logger.WithField("outbox_id", rec.ID).WithField("topic", rec.Topic).WithField("attempts", attempts).WithError(cause)
	if status == models.OutboxFailed {
		log.Error("outbox message gave up")
	} else {
		log.Warn("outbox publish failed")
	}

	if err := r.db.WithContext(ctx).Model(&models.OutboxMessage{}).
		Where("id = ?", rec.ID).
		Updates(map[string]interface{}{"status": status, "attempts": attempts, "last_error": cause.Error()}).Error; err != nil {
		r.logger.WithError(err).Error("failed to record outbox failure")
	}
}
