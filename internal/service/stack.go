package service

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/miniman-dev/miniman/internal/compose"
	"github.com/miniman-dev/miniman/internal/docker"
	"github.com/miniman-dev/miniman/internal/events"
	"github.com/miniman-dev/miniman/internal/model"
	"github.com/miniman-dev/miniman/internal/oplog"
	"github.com/miniman-dev/miniman/internal/reconcile"
	"github.com/miniman-dev/miniman/internal/runtime"
	"github.com/miniman-dev/miniman/internal/tasks"
	"gorm.io/gorm"
)

// ErrStackExists is returned when creating a stack whose name is taken.
var ErrStackExists = errors.New("a stack with that name already exists")

// ErrStackBusy is returned when a lifecycle verb is requested while another
// operation on the same stack is still running.
var ErrStackBusy = errors.New("an operation is already running for this stack")

// StackService owns the full lifecycle of compose stacks: descriptor
// management, the up/down/restart/pull verbs, status refresh and the
// database mirror of each stack's containers.
type StackService struct {
	db         *gorm.DB
	compose    *compose.Manager
	containers *docker.ContainerManager
	reconciler *reconcile.Reconciler
	bus        *events.Bus
	spawner    *tasks.Spawner
	logger     *slog.Logger
}

// NewStackService creates a StackService.
func NewStackService(db *gorm.DB, cm *compose.Manager, containers *docker.ContainerManager,
	reconciler *reconcile.Reconciler, bus *events.Bus, spawner *tasks.Spawner, logger *slog.Logger) *StackService {
	return &StackService{
		db:         db,
		compose:    cm,
		containers: containers,
		reconciler: reconciler,
		bus:        bus,
		spawner:    spawner,
		logger:     logger,
	}
}

// RecoverInterrupted cleans up after a process crash or restart: operation
// records left in the running state are sealed as failed, and stacks
// stranded in a transitional status get their real status recomputed from
// the runtime. Without this, a stranded stack would report busy forever and
// reject every lifecycle verb. Called once at startup, before any new
// operation can begin.
func (s *StackService) RecoverInterrupted() error {
	var orphans []model.OperationLog
	if err := s.db.Where("status = ?", model.OpRunning).Find(&orphans).Error; err != nil {
		return err
	}
	now := time.Now()
	for i := range orphans {
		updates := map[string]interface{}{
			"status":        model.OpFailed,
			"error_message": "interrupted by restart",
			"completed_at":  &now,
		}
		if err := s.db.Model(&orphans[i]).Updates(updates).Error; err != nil {
			return err
		}
		s.logger.Warn("sealed interrupted operation",
			"id", orphans[i].ID, "operation", orphans[i].OperationType)
	}

	var stranded []model.Stack
	transitional := []string{model.StackDeploying, model.StackStopping, model.StackRestarting}
	if err := s.db.Where("status IN ?", transitional).Find(&stranded).Error; err != nil {
		return err
	}
	for i := range stranded {
		stack := &stranded[i]
		status := model.StackError
		if stack.LocalPath != "" {
			status = s.compose.Status(stack.LocalPath)
		}
		s.setStatus(stack, status)
		s.logger.Warn("recomputed status of stranded stack", "stack", stack.Name, "status", status)
	}
	return nil
}

// Create registers a new stack. The descriptor is downloaded and validated
// first; only once it is safely on disk does a database row appear, so a
// failed download or a malformed descriptor never leaves a half-created
// stack behind.
func (s *StackService) Create(name, description, sourceURL string) (*model.Stack, error) {
	var count int64
	if err := s.db.Model(&model.Stack{}).Where("name = ?", name).Count(&count).Error; err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, ErrStackExists
	}

	path, err := s.compose.Download(sourceURL, name)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	stack := &model.Stack{
		Name:        name,
		Description: description,
		SourceURL:   sourceURL,
		LocalPath:   path,
		IsActive:    true,
		Status:      model.StackDown,
		LastChecked: now,
		LastUpdated: now,
	}
	if err := s.db.Create(stack).Error; err != nil {
		// roll back the descriptor so name and disk stay consistent
		if rmErr := s.compose.RemoveStackDir(path); rmErr != nil {
			s.logger.Error("failed to clean up descriptor after create failure", "path", path, "err", rmErr)
		}
		return nil, err
	}

	s.bus.Publish("stack.created", map[string]interface{}{"stack_id": stack.ID, "name": stack.Name}, "stacks")
	return stack, nil
}

// List returns all stacks with their status refreshed from the runtime.
// Stacks mid-transition keep their transitional status untouched.
func (s *StackService) List() ([]model.Stack, error) {
	var stacks []model.Stack
	if err := s.db.Order("name").Find(&stacks).Error; err != nil {
		return nil, err
	}
	for i := range stacks {
		s.refreshStatus(&stacks[i])
	}
	return stacks, nil
}

// Get returns one stack with its status refreshed from the runtime.
func (s *StackService) Get(id uint) (*model.Stack, error) {
	var stack model.Stack
	if err := s.db.First(&stack, id).Error; err != nil {
		return nil, err
	}
	s.refreshStatus(&stack)
	return &stack, nil
}

// Containers returns the database mirror of the stack's containers.
func (s *StackService) Containers(id uint) ([]model.Container, error) {
	var rows []model.Container
	err := s.db.Where("stack_id = ?", id).Order("name").Find(&rows).Error
	return rows, err
}

// Delete tears the stack down, removes its descriptor directory and erases
// the stack row together with its container mirror rows.
func (s *StackService) Delete(id uint) error {
	stack, err := s.Get(id)
	if err != nil {
		return err
	}

	// best-effort teardown; a stack whose runtime is gone can still be deleted
	if stack.LocalPath != "" {
		if _, err := s.compose.Down(stack.LocalPath, discardSink{}); err != nil {
			s.logger.Warn("teardown during delete failed", "stack", stack.Name, "err", err)
		}
	}
	if err := s.compose.RemoveStackDir(stack.LocalPath); err != nil {
		s.logger.Warn("failed to remove stack directory", "stack", stack.Name, "err", err)
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("stack_id = ?", id).Delete(&model.Container{}).Error; err != nil {
			return err
		}
		if err := tx.Delete(&model.Stack{}, id).Error; err != nil {
			return err
		}
		s.bus.Publish("stack.deleted", map[string]interface{}{"stack_id": id, "name": stack.Name}, "stacks")
		return nil
	})
}

// Up starts the stack in the background and returns the operation log ID
// tracking it.
func (s *StackService) Up(id uint) (uint, error) {
	return s.run(id, "stack_up", model.StackDeploying, s.compose.Up)
}

// Down stops the stack in the background.
func (s *StackService) Down(id uint) (uint, error) {
	return s.run(id, "stack_down", model.StackStopping, s.compose.Down)
}

// Restart restarts the stack in the background.
func (s *StackService) Restart(id uint) (uint, error) {
	return s.run(id, "stack_restart", model.StackRestarting, s.compose.Restart)
}

// Pull refreshes the stack's images in the background. The stack status is
// untouched while pulling; only the operation record tracks progress.
func (s *StackService) Pull(id uint) (uint, error) {
	stack, err := s.Get(id)
	if err != nil {
		return 0, err
	}
	if busy, err := s.operationRunning(id); err != nil {
		return 0, err
	} else if busy {
		return 0, ErrStackBusy
	}

	rec, err := oplog.Begin(s.db, s.bus, s.logger, "stack_pull", oplog.Target{StackID: &stack.ID})
	if err != nil {
		return 0, err
	}

	s.spawner.Spawn(func() {
		out, opErr := s.compose.Pull(stack.LocalPath, rec)
		rec.Complete(out, opErr)
		s.finish(stack, "stack_pull", opErr)
	})
	return rec.ID(), nil
}

// Logs returns the last tail lines of the stack's aggregated service logs.
func (s *StackService) Logs(id uint, tail int) (string, error) {
	stack, err := s.Get(id)
	if err != nil {
		return "", err
	}
	if stack.LocalPath == "" {
		return "", fmt.Errorf("stack %q has no descriptor", stack.Name)
	}
	return s.compose.Logs(stack.LocalPath, tail)
}

// CheckForUpdates compares the stored descriptor against its source and
// records the verdict on the stack.
func (s *StackService) CheckForUpdates(id uint) (bool, error) {
	stack, err := s.Get(id)
	if err != nil {
		return false, err
	}
	changed, err := s.compose.CheckForUpdates(stack.LocalPath, stack.SourceURL)
	if err != nil {
		return false, err
	}
	updates := map[string]interface{}{
		"last_checked":     time.Now(),
		"update_available": changed,
	}
	if err := s.db.Model(stack).Updates(updates).Error; err != nil {
		return changed, err
	}
	return changed, nil
}

// UpdateDescriptor replaces the stored descriptor with the source's current
// content, keeping a backup of the prior version.
func (s *StackService) UpdateDescriptor(id uint) error {
	stack, err := s.Get(id)
	if err != nil {
		return err
	}
	if err := s.compose.Update(stack.LocalPath, stack.SourceURL); err != nil {
		return err
	}
	updates := map[string]interface{}{
		"last_updated":     time.Now(),
		"update_available": false,
	}
	if err := s.db.Model(stack).Updates(updates).Error; err != nil {
		return err
	}
	s.bus.Publish("stack.updated", map[string]interface{}{"stack_id": stack.ID, "name": stack.Name}, "stacks")
	return nil
}

// run executes one lifecycle verb asynchronously: the stack enters its
// transitional status, the verb streams into an operation record, and on
// completion the real status is recomputed and the container mirror
// reconciled.
func (s *StackService) run(id uint, opType, transitional string,
	verb func(string, runtime.Sink) (string, error)) (uint, error) {

	stack, err := s.Get(id)
	if err != nil {
		return 0, err
	}
	if stack.LocalPath == "" {
		return 0, fmt.Errorf("stack %q has no descriptor", stack.Name)
	}
	if busy, err := s.operationRunning(id); err != nil {
		return 0, err
	} else if busy {
		return 0, ErrStackBusy
	}

	rec, err := oplog.Begin(s.db, s.bus, s.logger, opType, oplog.Target{StackID: &stack.ID})
	if err != nil {
		return 0, err
	}

	s.setStatus(stack, transitional)

	s.spawner.Spawn(func() {
		out, opErr := verb(stack.LocalPath, rec)
		rec.Complete(out, opErr)
		s.finish(stack, opType, opErr)
	})
	return rec.ID(), nil
}

// finish recomputes the stack's real status after an operation and brings
// the container mirror back in line with the runtime.
func (s *StackService) finish(stack *model.Stack, opType string, opErr error) {
	status := s.compose.Status(stack.LocalPath)
	s.setStatus(stack, status)

	if listing, err := s.containers.List(); err == nil {
		if _, err := s.reconciler.Containers(listing); err != nil {
			s.logger.Error("container reconciliation after operation failed", "stack", stack.Name, "err", err)
		}
	} else {
		s.logger.Warn("skipping reconciliation, container listing failed", "err", err)
	}

	payload := map[string]interface{}{
		"stack_id":  stack.ID,
		"name":      stack.Name,
		"operation": opType,
		"status":    status,
	}
	if opErr != nil {
		payload["error"] = opErr.Error()
	}
	s.bus.Publish("stack.operation.finished", payload, "stacks")
}

// refreshStatus recomputes a stack's status from the runtime unless an
// operation is mid-flight, in which case the transitional status stands.
func (s *StackService) refreshStatus(stack *model.Stack) {
	switch stack.Status {
	case model.StackDeploying, model.StackStopping, model.StackRestarting:
		return
	}
	if stack.LocalPath == "" {
		return
	}
	status := s.compose.Status(stack.LocalPath)
	if status != stack.Status {
		s.setStatus(stack, status)
	}
}

func (s *StackService) setStatus(stack *model.Stack, status string) {
	stack.Status = status
	if err := s.db.Model(&model.Stack{}).Where("id = ?", stack.ID).
		Update("status", status).Error; err != nil {
		s.logger.Error("failed to persist stack status", "stack", stack.Name, "err", err)
	}
}

func (s *StackService) operationRunning(stackID uint) (bool, error) {
	var count int64
	err := s.db.Model(&model.OperationLog{}).
		Where("stack_id = ? AND status = ?", stackID, model.OpRunning).
		Count(&count).Error
	return count > 0, err
}

// discardSink swallows output for operations nobody is watching.
type discardSink struct{}

func (discardSink) WriteLine(string) {}
