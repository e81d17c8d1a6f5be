package reconcile

import (
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/miniman-dev/miniman/internal/docker"
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
	if err := db.AutoMigrate(&model.Stack{}, &model.Container{}, &model.Image{}, &model.Volume{}, &model.Network{}); err != nil {
		t.Fatalf("migrating: %v", err)
	}
	return db
}

func TestContainersInsertUpdateDelete(t *testing.T) {
	db := testDB(t)
	r := New(db, slog.Default())

	first := []docker.ContainerInfo{
		{ID: "abc", Name: "web", Image: "nginx:latest", Status: "Up 2 hours"},
		{ID: "def", Name: "db", Image: "postgres:16", Status: "Up 2 hours"},
	}
	s, err := r.Containers(first)
	if err != nil {
		t.Fatalf("first pass: %v", err)
	}
	if s.Inserted != 2 || s.Updated != 0 || s.Deleted != 0 {
		t.Errorf("unexpected first pass summary: %+v", s)
	}

	// abc changed status, def disappeared, ghi is new
	second := []docker.ContainerInfo{
		{ID: "abc", Name: "web", Image: "nginx:latest", Status: "Exited (0) 1 minute ago"},
		{ID: "ghi", Name: "cache", Image: "redis:7", Status: "Up 1 minute"},
	}
	s, err = r.Containers(second)
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if s.Inserted != 1 || s.Updated != 1 || s.Deleted != 1 {
		t.Errorf("unexpected second pass summary: %+v", s)
	}

	var rows []model.Container
	db.Order("container_id").Find(&rows)
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0].ContainerID != "abc" || rows[0].Status != "Exited (0) 1 minute ago" {
		t.Errorf("update not applied in place: %+v", rows[0])
	}
}

func TestContainersIdempotent(t *testing.T) {
	db := testDB(t)
	r := New(db, slog.Default())

	listing := []docker.ContainerInfo{
		{ID: "abc", Name: "web", Image: "nginx:latest", Status: "Up 2 hours",
			Ports: []model.PortMapping{{HostPort: "8080", ContainerPort: "80", Protocol: "tcp"}}},
	}
	if _, err := r.Containers(listing); err != nil {
		t.Fatalf("first pass: %v", err)
	}

	s, err := r.Containers(listing)
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if s.Inserted != 0 || s.Updated != 0 || s.Deleted != 0 {
		t.Errorf("second pass over unchanged listing must be a no-op, got %+v", s)
	}
}

func TestContainersResolveStackByLabel(t *testing.T) {
	db := testDB(t)
	stack := model.Stack{Name: "blog", SourceURL: "http://example.com/compose.yml"}
	if err := db.Create(&stack).Error; err != nil {
		t.Fatalf("seeding stack: %v", err)
	}
	r := New(db, slog.Default())

	listing := []docker.ContainerInfo{
		{ID: "abc", Name: "blog-web-1", Image: "nginx:latest", Status: "Up", Project: "blog"},
		{ID: "def", Name: "blog-db-1", Image: "postgres:16", Status: "Up"}, // no label, name fallback
		{ID: "ghi", Name: "standalone", Image: "redis:7", Status: "Up"},
	}
	if _, err := r.Containers(listing); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	var rows []model.Container
	db.Order("container_id").Find(&rows)
	if rows[0].StackID == nil || *rows[0].StackID != stack.ID {
		t.Error("labeled container must be linked to its stack")
	}
	if rows[1].StackID == nil || *rows[1].StackID != stack.ID {
		t.Error("unlabeled container matching the naming convention must be linked")
	}
	if rows[2].StackID != nil {
		t.Error("standalone container must not be linked to any stack")
	}
}

func TestContainersPreferLongestPrefixMatch(t *testing.T) {
	db := testDB(t)
	short := model.Stack{Name: "blog", SourceURL: "http://example.com/blog.yml"}
	long := model.Stack{Name: "blog-api", SourceURL: "http://example.com/blog-api.yml"}
	for _, s := range []*model.Stack{&short, &long} {
		if err := db.Create(s).Error; err != nil {
			t.Fatalf("seeding stack: %v", err)
		}
	}
	r := New(db, slog.Default())

	listing := []docker.ContainerInfo{
		{ID: "abc", Name: "blog-api-web-1", Image: "nginx:latest", Status: "Up"},
		{ID: "def", Name: "blog-web-1", Image: "nginx:latest", Status: "Up"},
	}
	if _, err := r.Containers(listing); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	var rows []model.Container
	db.Order("container_id").Find(&rows)
	if rows[0].StackID == nil || *rows[0].StackID != long.ID {
		t.Errorf("blog-api-web-1 must link to blog-api, got %v", rows[0].StackID)
	}
	if rows[1].StackID == nil || *rows[1].StackID != short.ID {
		t.Errorf("blog-web-1 must link to blog, got %v", rows[1].StackID)
	}
}

func TestImagesReconcile(t *testing.T) {
	db := testDB(t)
	r := New(db, slog.Default())

	listing := []docker.ImageInfo{
		{ID: "sha1", Repository: "nginx", Tag: "latest", Size: "187MB"},
		{ID: "sha2", Repository: "redis", Tag: "7", Size: "117MB"},
	}
	if _, err := r.Images(listing); err != nil {
		t.Fatalf("first pass: %v", err)
	}

	s, err := r.Images([]docker.ImageInfo{
		{ID: "sha1", Repository: "nginx", Tag: "1.27", Size: "187MB"},
	})
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if s.Updated != 1 || s.Deleted != 1 || s.Inserted != 0 {
		t.Errorf("unexpected summary: %+v", s)
	}
}

func TestVolumesAndNetworksReconcile(t *testing.T) {
	db := testDB(t)
	r := New(db, slog.Default())

	vs, err := r.Volumes([]docker.VolumeInfo{{Name: "data", Driver: "local", Mountpoint: "/var/lib/docker/volumes/data"}})
	if err != nil {
		t.Fatalf("volumes: %v", err)
	}
	if vs.Inserted != 1 {
		t.Errorf("unexpected volume summary: %+v", vs)
	}

	ns, err := r.Networks([]docker.NetworkInfo{{ID: "n1", Name: "backend", Driver: "bridge", Scope: "local"}})
	if err != nil {
		t.Fatalf("networks: %v", err)
	}
	if ns.Inserted != 1 {
		t.Errorf("unexpected network summary: %+v", ns)
	}

	// empty listings empty the mirror
	vs, _ = r.Volumes(nil)
	ns, _ = r.Networks(nil)
	if vs.Deleted != 1 || ns.Deleted != 1 {
		t.Errorf("absent resources must be deleted: volumes %+v networks %+v", vs, ns)
	}
}
