package oplog

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/miniman-dev/miniman/internal/events"
	"github.com/miniman-dev/miniman/internal/model"
	"gorm.io/gorm"
)

// Recorder captures the output of one long-running operation. It persists a
// durable OperationLog row and forwards every line to the event bus so live
// subscribers see progress as it happens. A Recorder is sealed exactly once
// by Complete; a crash before that leaves the row in the running state,
// which is itself a signal that the operation never finished.
type Recorder struct {
	db     *gorm.DB
	bus    *events.Bus
	logger *slog.Logger

	mu     sync.Mutex
	record *model.OperationLog
	lines  []string
	sealed bool
}

// Target identifies what an operation acted on. Exactly the fields that
// apply should be set.
type Target struct {
	StackID     *uint
	ContainerID string
	ImageName   string
}

// Begin opens a new operation record in the running state.
func Begin(db *gorm.DB, bus *events.Bus, logger *slog.Logger, opType string, target Target) (*Recorder, error) {
	record := &model.OperationLog{
		OperationType: opType,
		StackID:       target.StackID,
		ContainerID:   target.ContainerID,
		ImageName:     target.ImageName,
		Status:        model.OpRunning,
		StartedAt:     time.Now(),
	}
	if err := db.Create(record).Error; err != nil {
		return nil, err
	}
	return &Recorder{db: db, bus: bus, logger: logger, record: record}, nil
}

// ID returns the persistent identifier of the operation record.
func (r *Recorder) ID() uint {
	return r.record.ID
}

// WriteLine appends one output line in arrival order, flushes the durable
// log column and publishes the line to live subscribers. Flushing per line
// means a crash loses nothing already streamed, and a record read while the
// operation is still running shows its output so far. Lines written after
// Complete are dropped.
func (r *Recorder) WriteLine(line string) {
	r.mu.Lock()
	if r.sealed {
		r.mu.Unlock()
		return
	}
	r.lines = append(r.lines, line)
	if err := r.db.Model(r.record).Update("log", strings.Join(r.lines, "\n")).Error; err != nil {
		r.logger.Error("failed to persist operation log line", "id", r.record.ID, "err", err)
	}
	r.mu.Unlock()

	r.publish("operation.log", map[string]interface{}{
		"operation_id": r.record.ID,
		"operation":    r.record.OperationType,
		"line":         line,
		"status":       model.OpRunning,
	})
}

// Complete seals the record with its final status, the accumulated log text
// and the completion time. Subsequent calls are ignored.
func (r *Recorder) Complete(result string, opErr error) {
	r.mu.Lock()
	if r.sealed {
		r.mu.Unlock()
		return
	}
	r.sealed = true

	now := time.Now()
	status := model.OpCompleted
	errMsg := ""
	if opErr != nil {
		status = model.OpFailed
		errMsg = opErr.Error()
	}

	updates := map[string]interface{}{
		"status":        status,
		"log":           strings.Join(r.lines, "\n"),
		"result":        result,
		"error_message": errMsg,
		"completed_at":  &now,
	}
	r.mu.Unlock()

	if err := r.db.Model(r.record).Updates(updates).Error; err != nil {
		r.logger.Error("failed to seal operation log", "id", r.record.ID, "err", err)
	}

	r.publish("operation.complete", map[string]interface{}{
		"operation_id": r.record.ID,
		"operation":    r.record.OperationType,
		"status":       status,
		"error":        errMsg,
	})
}

func (r *Recorder) publish(name string, payload map[string]interface{}) {
	if r.bus == nil {
		return
	}
	if r.record.StackID != nil {
		payload["stack_id"] = *r.record.StackID
	}
	if r.record.ContainerID != "" {
		payload["container_id"] = r.record.ContainerID
	}
	if r.record.ImageName != "" {
		payload["image"] = r.record.ImageName
	}
	r.bus.Publish(name, payload, "operations")
}

// List returns the most recent operation records, newest first.
func List(db *gorm.DB, limit int) ([]model.OperationLog, error) {
	if limit <= 0 {
		limit = 50
	}
	var records []model.OperationLog
	err := db.Order("started_at desc").Limit(limit).Find(&records).Error
	return records, err
}

// Get returns one operation record by ID.
func Get(db *gorm.DB, id uint) (*model.OperationLog, error) {
	var record model.OperationLog
	if err := db.First(&record, id).Error; err != nil {
		return nil, err
	}
	return &record, nil
}
