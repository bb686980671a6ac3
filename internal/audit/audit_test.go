package audit

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/JonasLeetTheWay/campus-events/internal/config"
	"github.com/JonasLeetTheWay/campus-events/internal/observability"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.mongodb.org/mongo-driver/bson"
)

func TestOpenWithoutMongoLogsOnly(t *testing.T) {
	rec, closer, err := Open(context.Background(), &config.Config{}, observability.NewNopLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer closer()

	if _, ok := rec.(*LogRecorder); !ok {
		t.Fatalf("expected *LogRecorder, got %T", rec)
	}
	err = rec.Record(context.Background(), Entry{Action: "booking.confirmed", ActorID: 1, SubjectID: 2, Data: map[string]interface{}{"event_id": 3}})
	if err != nil {
		t.Errorf("Record: %v", err)
	}
}

func TestStampDefaultsToNow(t *testing.T) {
	before := time.Now().UTC()
	if got := stamp(time.Time{}); got.Before(before) {
		t.Errorf("zero time stamped as %v", got)
	}
	fixed := time.Date(2026, 3, 2, 9, 0, 0, 0, time.FixedZone("IST", 5*3600+1800))
	if got := stamp(fixed); !got.Equal(fixed) || got.Location() != time.UTC {
		t.Errorf("expected %v in UTC, got %v", fixed, got)
	}
}

func TestMongoRecorder(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	mongoC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "mongo:7",
			ExposedPorts: []string{"27017/tcp"},
			WaitingFor:   wait.ForLog("Waiting for connections").WithStartupTimeout(90 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer mongoC.Terminate(ctx)

	host, err := mongoC.Host(ctx)
	if err != nil {
		t.Fatal(err)
	}
	port, err := mongoC.MappedPort(ctx, "27017/tcp")
	if err != nil {
		t.Fatal(err)
	}

	cfg := &config.Config{MongoURI: fmt.Sprintf("mongodb://%s:%s", host, port.Port()), MongoDB: "campus_events_test"}
	rec, closer, err := Open(ctx, cfg, observability.NewNopLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer closer()

	mr, ok := rec.(*MongoRecorder)
	if !ok {
		t.Fatalf("expected *MongoRecorder, got %T", rec)
	}
	err = mr.Record(ctx, Entry{Action: "booking.rejected", ActorID: 7, SubjectID: 42, Data: map[string]interface{}{"reason": "full"}})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}

	var doc document
	if err := mr.coll.FindOne(ctx, bson.M{"subject_id": 42}).Decode(&doc); err != nil {
		t.Fatalf("find audit entry: %v", err)
	}
	if doc.Action != "booking.rejected" || doc.ActorID != 7 || doc.Data["reason"] != "full" {
		t.Errorf("unexpected document %+v", doc)
	}
}
