// Package audit keeps an append-only record of booking activity.
package audit

import (
	"context"
	"time"

	"github.com/JonasLeetTheWay/campus-events/internal/config"
	"github.com/JonasLeetTheWay/campus-events/internal/observability"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type Entry struct {
	Action    string
	ActorID   uint
	SubjectID uint
	Data      map[string]interface{}
	Timestamp time.Time
}

type Recorder interface {
	Record(ctx context.Context, e Entry) error
}

type MongoRecorder struct {
	coll   *mongo.Collection
	logger observability.Logger
}

func NewMongoRecorder(db *mongo.Database, logger observability.Logger) *MongoRecorder {
	return &MongoRecorder{
		coll:   db.Collection("audit_logs"),
		logger: logger,
	}
}

type document struct {
	ID        string    `bson:"_id"`
	Action    string    `bson:"action"`
	ActorID   uint      `bson:"actor_id"`
	SubjectID uint      `bson:"subject_id"`
	Timestamp time.Time `bson:"timestamp"`
	Data      bson.M    `bson:"data"`
}

func (m *MongoRecorder) Record(ctx context.Context, e Entry) error {
	doc := document{
		ID:        uuid.NewString(),
		Action:    e.Action,
		ActorID:   e.ActorID,
		SubjectID: e.SubjectID,
		Timestamp: stamp(e.Timestamp),
		Data:      bson.M(e.Data),
	}
	if _, err := m.coll.InsertOne(ctx, doc); err != nil {
		m.logger.WithError(err).WithField("action", e.Action).Error("failed to insert audit log")
		return err
	}
	return nil
}

// Connect opens a mongo client and verifies it with a ping.
func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(context.Background())
		return nil, err
	}
	return client, nil
}

// Open returns a mongo-backed recorder when MONGO_URI is set and a
// log-backed one otherwise, together with a function releasing it.
func Open(ctx context.Context, cfg *config.Config, logger observability.Logger) (Recorder, func(), error) {
	if cfg.MongoURI == "" {
		return NewLogRecorder(logger), func() {}, nil
	}
	client, err := Connect(ctx, cfg.MongoURI)
	if err != nil {
		return nil, nil, err
	}
	closer := func() {
		client.Disconnect(context.Background())
	}
	return NewMongoRecorder(client.Database(cfg.MongoDB), logger), closer, nil
}

// LogRecorder writes audit entries to the structured log. Used when no
// MONGO_URI is configured.
type LogRecorder struct {
	logger observability.Logger
}

func NewLogRecorder(logger observability.Logger) *LogRecorder {
	return &LogRecorder{logger: logger.WithField("component", "audit")}
}

func (l *LogRecorder) Record(_ context.Context, e Entry) error {
	entry := l.logger.
		WithField("action", e.Action).
		WithField("actor_id", e.ActorID).
		WithField("subject_id", e.SubjectID).
		WithField("timestamp", stamp(e.Timestamp).Format(time.RFC3339))
	for k, v := range e.Data {
		entry = entry.WithField(k, v)
	}
	entry.Info("audit")
	return nil
}

func stamp(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}
