package oplog

import (
	"errors"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/miniman-dev/miniman/internal/events"
	"github.com/miniman-dev/miniman/internal/model"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	if err := db.AutoMigrate(&model.OperationLog{}); err != nil {
		t.Fatalf("migrating: %v", err)
	}
	return db
}

func TestRecorderLifecycle(t *testing.T) {
	db := testDB(t)
	bus := events.NewBus(slog.Default())

	var published []events.Event
	bus.Subscribe("*", func(e events.Event) { published = append(published, e) })

	stackID := uint(7)
	rec, err := Begin(db, bus, slog.Default(), "stack_up", Target{StackID: &stackID})
	if err != nil {
		t.Fatalf("begin: %v", err)
	}

	// record starts out running
	stored, err := Get(db, rec.ID())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != model.OpRunning {
		t.Errorf("expected running status, got %q", stored.Status)
	}

	rec.WriteLine("Container blog-web-1 Creating")
	rec.WriteLine("Container blog-web-1 Started")
	rec.Complete("started", nil)

	stored, _ = Get(db, rec.ID())
	if stored.Status != model.OpCompleted {
		t.Errorf("expected completed status, got %q", stored.Status)
	}
	if stored.Log != "Container blog-web-1 Creating\nContainer blog-web-1 Started" {
		t.Errorf("log lines not preserved in order: %q", stored.Log)
	}
	if stored.CompletedAt == nil {
		t.Error("completed record must carry a completion time")
	}
	if stored.Result != "started" {
		t.Errorf("unexpected result: %q", stored.Result)
	}

	// two line events plus one completion event
	if len(published) != 3 {
		t.Fatalf("expected 3 bus events, got %d", len(published))
	}
	last := published[2]
	if last.Name != "operation.complete" {
		t.Errorf("unexpected final event: %s", last.Name)
	}
	if last.Payload["stack_id"] != stackID {
		t.Errorf("events must carry the stack id, got %v", last.Payload["stack_id"])
	}
}

func TestWriteLinePersistsBeforeSeal(t *testing.T) {
	db := testDB(t)
	rec, err := Begin(db, nil, slog.Default(), "stack_up", Target{})
	if err != nil {
		t.Fatalf("begin: %v", err)
	}

	rec.WriteLine("Container blog-web-1 Creating")
	rec.WriteLine("Container blog-web-1 Started")

	// the durable record carries the output while the operation is running,
	// so a crash before Complete loses nothing already streamed
	stored, err := Get(db, rec.ID())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != model.OpRunning {
		t.Fatalf("expected running status, got %q", stored.Status)
	}
	if stored.Log != "Container blog-web-1 Creating\nContainer blog-web-1 Started" {
		t.Errorf("lines must be flushed as they arrive, got %q", stored.Log)
	}
}

func TestRecorderFailureSealsWithError(t *testing.T) {
	db := testDB(t)
	rec, err := Begin(db, nil, slog.Default(), "image_pull", Target{ImageName: "nginx:latest"})
	if err != nil {
		t.Fatalf("begin: %v", err)
	}

	rec.WriteLine("latest: Pulling from library/nginx")
	rec.Complete("", errors.New("manifest unknown"))

	stored, _ := Get(db, rec.ID())
	if stored.Status != model.OpFailed {
		t.Errorf("expected failed status, got %q", stored.Status)
	}
	if stored.ErrorMessage != "manifest unknown" {
		t.Errorf("error message not preserved: %q", stored.ErrorMessage)
	}
}

func TestRecorderSealedOnce(t *testing.T) {
	db := testDB(t)
	rec, err := Begin(db, nil, slog.Default(), "stack_down", Target{})
	if err != nil {
		t.Fatalf("begin: %v", err)
	}

	rec.WriteLine("before")
	rec.Complete("stopped", nil)
	rec.WriteLine("after") // dropped
	rec.Complete("", errors.New("second call ignored"))

	stored, _ := Get(db, rec.ID())
	if stored.Status != model.OpCompleted {
		t.Errorf("sealed record must not change status, got %q", stored.Status)
	}
	if stored.Log != "before" {
		t.Errorf("lines after sealing must be dropped, got %q", stored.Log)
	}
}

func TestListNewestFirst(t *testing.T) {
	db := testDB(t)
	for _, op := range []string{"stack_up", "stack_down", "image_pull"} {
		rec, err := Begin(db, nil, slog.Default(), op, Target{})
		if err != nil {
			t.Fatalf("begin: %v", err)
		}
		rec.Complete("ok", nil)
	}

	records, err := List(db, 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("limit not honored, got %d records", len(records))
	}
}
