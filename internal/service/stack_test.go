package service

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/miniman-dev/miniman/internal/compose"
	"github.com/miniman-dev/miniman/internal/docker"
	"github.com/miniman-dev/miniman/internal/events"
	"github.com/miniman-dev/miniman/internal/model"
	"github.com/miniman-dev/miniman/internal/oplog"
	"github.com/miniman-dev/miniman/internal/reconcile"
	"github.com/miniman-dev/miniman/internal/runtime"
	"github.com/miniman-dev/miniman/internal/tasks"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const stackYAML = `services:
  web:
    image: nginx:latest
`

type fakeExec struct {
	responses map[string]string
	errs      map[string]error
	calls     []string
}

func (f *fakeExec) key(name string, args []string) string {
	return name + " " + strings.Join(args, " ")
}

func (f *fakeExec) Run(ctx context.Context, dir, name string, args ...string) (string, error) {
	k := f.key(name, args)
	f.calls = append(f.calls, k)
	return f.responses[k], f.errs[k]
}

func (f *fakeExec) RunStream(dir string, sink runtime.Sink, name string, args ...string) (string, error) {
	k := f.key(name, args)
	f.calls = append(f.calls, k)
	out := f.responses[k]
	for _, line := range strings.Split(out, "\n") {
		if line != "" {
			sink.WriteLine(line)
		}
	}
	return out, f.errs[k]
}

type fixture struct {
	svc     *StackService
	db      *gorm.DB
	exec    *fakeExec
	spawner *tasks.Spawner
	baseDir string
	srv     *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	if err := db.AutoMigrate(&model.Stack{}, &model.Container{}, &model.OperationLog{}); err != nil {
		t.Fatalf("migrating: %v", err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(stackYAML))
	}))
	t.Cleanup(srv.Close)

	log := slog.Default()
	exec := &fakeExec{responses: map[string]string{}, errs: map[string]error{}}
	health := runtime.NewHealth(func(ctx context.Context) error { return nil })
	baseDir := t.TempDir()
	cm := compose.NewManager("docker", baseDir, exec, health, log)

	deps := &docker.Deps{
		Bin:    "docker",
		Exec:   exec,
		Health: health,
		Retry:  runtime.RetryOptions{MaxAttempts: 2, InitialDelay: time.Millisecond, Multiplier: 2},
		Logger: log,
	}
	containers := docker.NewContainerManager(deps, nil)

	bus := events.NewBus(log)
	spawner := tasks.NewSpawner(log)
	svc := NewStackService(db, cm, containers, reconcile.New(db, log), bus, spawner, log)

	return &fixture{svc: svc, db: db, exec: exec, spawner: spawner, baseDir: baseDir, srv: srv}
}

func (f *fixture) descriptorPath(name string) string {
	return filepath.Join(f.baseDir, name, compose.DescriptorFile)
}

func TestCreatePersistsDescriptorThenRow(t *testing.T) {
	f := newFixture(t)

	stack, err := f.svc.Create("blog", "personal blog", f.srv.URL)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if stack.Status != model.StackDown {
		t.Errorf("new stack must start down, got %q", stack.Status)
	}
	if _, err := os.Stat(stack.LocalPath); err != nil {
		t.Errorf("descriptor must exist on disk: %v", err)
	}

	var count int64
	f.db.Model(&model.Stack{}).Count(&count)
	if count != 1 {
		t.Errorf("expected 1 stack row, got %d", count)
	}
}

func TestCreateDuplicateName(t *testing.T) {
	f := newFixture(t)

	if _, err := f.svc.Create("blog", "", f.srv.URL); err != nil {
		t.Fatalf("create: %v", err)
	}
	_, err := f.svc.Create("blog", "", f.srv.URL)
	if !errors.Is(err, ErrStackExists) {
		t.Fatalf("expected ErrStackExists, got %v", err)
	}
}

func TestCreateFailedDownloadLeavesNothing(t *testing.T) {
	f := newFixture(t)
	missing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(missing.Close)

	if _, err := f.svc.Create("ghost", "", missing.URL); err == nil {
		t.Fatal("expected download failure")
	}

	var count int64
	f.db.Model(&model.Stack{}).Count(&count)
	if count != 0 {
		t.Error("failed create must not leave a stack row")
	}
	if _, err := os.Stat(filepath.Dir(f.descriptorPath("ghost"))); !os.IsNotExist(err) {
		t.Error("failed create must not leave a descriptor directory")
	}
}

func TestUpTransitionsAndReconciles(t *testing.T) {
	f := newFixture(t)
	path := f.descriptorPath("blog")
	f.exec.responses["docker compose -f "+path+" up -d"] = "Container blog-web-1 Started"
	f.exec.responses["docker compose -f "+path+" ps --format json"] = `{"Service":"web","State":"running"}`
	f.exec.responses["docker ps -a --format {{json .}}"] = `{"ID":"abc","Names":"blog-web-1","Image":"nginx:latest","State":"running","Status":"Up 1 second","Ports":"","Labels":"com.docker.compose.project=blog"}`

	stack, err := f.svc.Create("blog", "", f.srv.URL)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	opID, err := f.svc.Up(stack.ID)
	if err != nil {
		t.Fatalf("up: %v", err)
	}
	f.spawner.Wait()

	got, err := f.svc.Get(stack.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != model.StackUp {
		t.Errorf("expected up after deployment, got %q", got.Status)
	}

	record, err := oplog.Get(f.db, opID)
	if err != nil {
		t.Fatalf("operation record: %v", err)
	}
	if record.Status != model.OpCompleted {
		t.Errorf("expected completed operation, got %q", record.Status)
	}
	if !strings.Contains(record.Log, "blog-web-1 Started") {
		t.Errorf("operation log must carry the streamed output, got %q", record.Log)
	}

	rows, err := f.svc.Containers(stack.ID)
	if err != nil {
		t.Fatalf("containers: %v", err)
	}
	if len(rows) != 1 || rows[0].ContainerID != "abc" {
		t.Errorf("container mirror not reconciled to the stack: %+v", rows)
	}
}

func TestUpFailureSealsOperationAsFailed(t *testing.T) {
	f := newFixture(t)
	path := f.descriptorPath("blog")
	f.exec.responses["docker compose -f "+path+" ps --format json"] = ""
	f.exec.errs["docker compose -f "+path+" up -d"] = errors.New("port is already allocated")

	stack, err := f.svc.Create("blog", "", f.srv.URL)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	opID, err := f.svc.Up(stack.ID)
	if err != nil {
		t.Fatalf("up: %v", err)
	}
	f.spawner.Wait()

	record, _ := oplog.Get(f.db, opID)
	if record.Status != model.OpFailed {
		t.Errorf("expected failed operation, got %q", record.Status)
	}
	if !strings.Contains(record.ErrorMessage, "already allocated") {
		t.Errorf("diagnostic must be preserved, got %q", record.ErrorMessage)
	}
}

func TestVerbRejectedWhileOperationRunning(t *testing.T) {
	f := newFixture(t)
	stack, err := f.svc.Create("blog", "", f.srv.URL)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	pending := model.OperationLog{
		OperationType: "stack_up",
		StackID:       &stack.ID,
		Status:        model.OpRunning,
		StartedAt:     time.Now(),
	}
	if err := f.db.Create(&pending).Error; err != nil {
		t.Fatalf("seeding operation: %v", err)
	}

	if _, err := f.svc.Down(stack.ID); !errors.Is(err, ErrStackBusy) {
		t.Fatalf("expected ErrStackBusy, got %v", err)
	}
}

func TestRecoverInterruptedUnblocksStack(t *testing.T) {
	f := newFixture(t)
	path := f.descriptorPath("blog")
	f.exec.responses["docker compose -f "+path+" ps --format json"] = `{"Service":"web","State":"running"}`
	f.exec.responses["docker compose -f "+path+" up -d"] = "Container blog-web-1 Started"
	f.exec.responses["docker ps -a --format {{json .}}"] = ""

	stack, err := f.svc.Create("blog", "", f.srv.URL)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// a previous process died mid-deploy: running operation, deploying stack
	orphan := model.OperationLog{
		OperationType: "stack_up",
		StackID:       &stack.ID,
		Status:        model.OpRunning,
		StartedAt:     time.Now(),
	}
	if err := f.db.Create(&orphan).Error; err != nil {
		t.Fatalf("seeding operation: %v", err)
	}
	if err := f.db.Model(&model.Stack{}).Where("id = ?", stack.ID).
		Update("status", model.StackDeploying).Error; err != nil {
		t.Fatalf("seeding status: %v", err)
	}

	if err := f.svc.RecoverInterrupted(); err != nil {
		t.Fatalf("recover: %v", err)
	}

	record, err := oplog.Get(f.db, orphan.ID)
	if err != nil {
		t.Fatalf("operation record: %v", err)
	}
	if record.Status != model.OpFailed {
		t.Errorf("orphaned operation must be sealed as failed, got %q", record.Status)
	}
	if !strings.Contains(record.ErrorMessage, "interrupted") {
		t.Errorf("seal must say why, got %q", record.ErrorMessage)
	}
	if record.CompletedAt == nil {
		t.Error("sealed operation must carry a completion time")
	}

	got, err := f.svc.Get(stack.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != model.StackUp {
		t.Errorf("stranded transitional status must be recomputed, got %q", got.Status)
	}

	// lifecycle verbs work again
	if _, err := f.svc.Up(stack.ID); err != nil {
		t.Fatalf("up after recovery must not report busy: %v", err)
	}
	f.spawner.Wait()
}

func TestDeleteRemovesRowsAndDescriptor(t *testing.T) {
	f := newFixture(t)
	stack, err := f.svc.Create("blog", "", f.srv.URL)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	mirror := model.Container{ContainerID: "abc", Name: "blog-web-1", Image: "nginx:latest", Status: "Up", StackID: &stack.ID}
	if err := f.db.Create(&mirror).Error; err != nil {
		t.Fatalf("seeding container: %v", err)
	}

	if err := f.svc.Delete(stack.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	var stacks, containers int64
	f.db.Model(&model.Stack{}).Count(&stacks)
	f.db.Model(&model.Container{}).Count(&containers)
	if stacks != 0 || containers != 0 {
		t.Errorf("delete must cascade: %d stacks, %d containers left", stacks, containers)
	}
	if _, err := os.Stat(filepath.Dir(stack.LocalPath)); !os.IsNotExist(err) {
		t.Error("descriptor directory must be removed")
	}
}

func TestCheckForUpdatesRecordsVerdict(t *testing.T) {
	f := newFixture(t)
	stack, err := f.svc.Create("blog", "", f.srv.URL)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	changed, err := f.svc.CheckForUpdates(stack.ID)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if changed {
		t.Error("identical descriptor must not report an update")
	}

	// source changes out from under us
	if err := os.WriteFile(stack.LocalPath, []byte("services: {}\n"), 0644); err != nil {
		t.Fatalf("mutating local descriptor: %v", err)
	}
	changed, err = f.svc.CheckForUpdates(stack.ID)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !changed {
		t.Error("differing descriptor must report an update")
	}

	got, _ := f.svc.Get(stack.ID)
	if !got.UpdateAvailable {
		t.Error("verdict must be recorded on the stack")
	}
}

func TestUpdateDescriptorClearsFlag(t *testing.T) {
	f := newFixture(t)
	stack, err := f.svc.Create("blog", "", f.srv.URL)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := os.WriteFile(stack.LocalPath, []byte("services: {}\n"), 0644); err != nil {
		t.Fatalf("mutating local descriptor: %v", err)
	}
	if _, err := f.svc.CheckForUpdates(stack.ID); err != nil {
		t.Fatalf("check: %v", err)
	}

	if err := f.svc.UpdateDescriptor(stack.ID); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, _ := f.svc.Get(stack.ID)
	if got.UpdateAvailable {
		t.Error("successful update must clear the pending flag")
	}
	data, _ := os.ReadFile(stack.LocalPath)
	if string(data) != stackYAML {
		t.Error("descriptor must match the source after update")
	}
	if _, err := os.Stat(stack.LocalPath + ".bak"); err != nil {
		t.Error("update must leave a backup of the prior version")
	}
}
