package compose

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/miniman-dev/miniman/internal/model"
	"github.com/miniman-dev/miniman/internal/runtime"
	"gopkg.in/yaml.v3"
)

// DescriptorFile is the name of the compose file inside each stack directory.
const DescriptorFile = "docker-compose.yml"

// Manager handles stack descriptors and compose lifecycle commands. Each
// stack owns one directory under baseDir holding its descriptor and, after
// an update, a single .bak backup of the prior version.
type Manager struct {
	bin     string
	baseDir string
	exec    runtime.Executor
	health  *runtime.Health
	http    *http.Client
	logger  *slog.Logger
}

// NewManager creates a compose Manager rooted at baseDir.
func NewManager(bin, baseDir string, exec runtime.Executor, health *runtime.Health, logger *slog.Logger) *Manager {
	return &Manager{
		bin:     bin,
		baseDir: baseDir,
		exec:    exec,
		health:  health,
		http:    &http.Client{Timeout: runtime.DiagnosticTimeout},
		logger:  logger,
	}
}

// DescriptorPath returns where a stack's descriptor lives.
func (m *Manager) DescriptorPath(name string) string {
	return filepath.Join(m.baseDir, sanitizeName(name), DescriptorFile)
}

// Download fetches a descriptor from url, validates it is syntactically
// well-formed YAML and persists it under the stack's directory. Validation
// happens before anything is written, so a bad descriptor never leaves a
// half-created stack behind.
func (m *Manager) Download(url, name string) (string, error) {
	data, err := m.fetch(url)
	if err != nil {
		return "", fmt.Errorf("downloading descriptor: %w", err)
	}
	if err := ValidateDescriptor(data); err != nil {
		return "", fmt.Errorf("invalid descriptor: %w", err)
	}

	dir := filepath.Join(m.baseDir, sanitizeName(name))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("creating stack dir: %w", err)
	}
	path := filepath.Join(dir, DescriptorFile)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("writing descriptor: %w", err)
	}
	return path, nil
}

// CheckForUpdates compares the persisted descriptor byte-for-byte against
// the source location's current content.
func (m *Manager) CheckForUpdates(path, url string) (bool, error) {
	remote, err := m.fetch(url)
	if err != nil {
		return false, fmt.Errorf("checking for updates: %w", err)
	}
	local, err := os.ReadFile(path)
	if err != nil {
		return false, fmt.Errorf("reading local descriptor: %w", err)
	}
	return !bytes.Equal(local, remote), nil
}

// Update replaces the local descriptor with the source's current content,
// writing a .bak backup of the prior version first. If the fetched content
// fails validation or the write fails, the original is restored unchanged.
func (m *Manager) Update(path, url string) error {
	data, err := m.fetch(url)
	if err != nil {
		return fmt.Errorf("downloading descriptor: %w", err)
	}
	if err := ValidateDescriptor(data); err != nil {
		return fmt.Errorf("invalid descriptor: %w", err)
	}

	original, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading local descriptor: %w", err)
	}
	backup := path + ".bak"
	if err := os.WriteFile(backup, original, 0644); err != nil {
		return fmt.Errorf("writing backup: %w", err)
	}

	if err := m.writeDescriptor(path, data); err != nil {
		// Restore the prior version from backup.
		if restoreErr := os.WriteFile(path, original, 0644); restoreErr != nil {
			m.logger.Error("failed to restore descriptor backup", "path", path, "err", restoreErr)
		}
		return fmt.Errorf("updating descriptor: %w", err)
	}
	return nil
}

// writeDescriptor is split out so tests can exercise the restore path.
var writeFile = os.WriteFile

func (m *Manager) writeDescriptor(path string, data []byte) error {
	return writeFile(path, data, 0644)
}

// RemoveStackDir deletes a stack's descriptor directory, backup included.
func (m *Manager) RemoveStackDir(path string) error {
	if path == "" {
		return nil
	}
	return os.RemoveAll(filepath.Dir(path))
}

// ValidateDescriptor checks that data is well-formed YAML. Validation is
// syntactic only; service semantics are the runtime's concern.
func ValidateDescriptor(data []byte) error {
	var doc map[string]interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return err
	}
	if len(doc) == 0 {
		return fmt.Errorf("descriptor is empty")
	}
	return nil
}

// ── Lifecycle verbs ──

// Up runs `docker compose up -d`, streaming output to sink.
func (m *Manager) Up(path string, sink runtime.Sink) (string, error) {
	return m.stream(path, sink, "up", "-d")
}

// Down runs `docker compose down`, streaming output to sink.
func (m *Manager) Down(path string, sink runtime.Sink) (string, error) {
	return m.stream(path, sink, "down")
}

// Restart runs `docker compose restart`, streaming output to sink.
func (m *Manager) Restart(path string, sink runtime.Sink) (string, error) {
	return m.stream(path, sink, "restart")
}

// Pull runs `docker compose pull`, streaming output to sink.
func (m *Manager) Pull(path string, sink runtime.Sink) (string, error) {
	return m.stream(path, sink, "pull")
}

func (m *Manager) stream(path string, sink runtime.Sink, verb string, extra ...string) (string, error) {
	args := append([]string{"compose", "-f", path, verb}, extra...)
	op := runtime.Guarded(m.health, func() (string, error) {
		return m.exec.RunStream(filepath.Dir(path), sink, m.bin, args...)
	})
	return op()
}

// Logs returns the last tail lines of the stack's aggregated service logs.
func (m *Manager) Logs(path string, tail int) (string, error) {
	if tail <= 0 {
		tail = 200
	}
	op := runtime.Guarded(m.health, func() (string, error) {
		ctx, cancel := context.WithTimeout(context.Background(), runtime.DiagnosticTimeout)
		defer cancel()
		return m.exec.Run(ctx, filepath.Dir(path), m.bin,
			"compose", "-f", path, "logs", "--tail", strconv.Itoa(tail))
	})
	return op()
}

// ── Status derivation ──

// Status enumerates the stack's services and derives the aggregate status:
// up when every service is running, down when none are (or none exist),
// partial for a mix, error when the enumeration itself failed. Safe to call
// concurrently; it is read-only against the runtime.
func (m *Manager) Status(path string) string {
	ctx, cancel := context.WithTimeout(context.Background(), runtime.DiagnosticTimeout)
	defer cancel()

	output, err := m.exec.Run(ctx, filepath.Dir(path), m.bin,
		"compose", "-f", path, "ps", "--format", "json")
	if err != nil {
		return model.StackError
	}
	return DeriveStatus(output)
}

// DeriveStatus classifies the `compose ps` output. Structured JSON lines
// are authoritative; when no line parses, a best-effort substring match on
// the raw text is used as a degradation path only.
func DeriveStatus(output string) string {
	if strings.TrimSpace(output) == "" {
		return model.StackDown
	}

	services := runtime.DecodeJSONLines(output)
	if len(services) > 0 {
		running := 0
		for _, svc := range services {
			if state, ok := svc["State"].(string); ok && state == "running" {
				running++
			}
		}
		switch {
		case running == 0:
			return model.StackDown
		case running == len(services):
			return model.StackUp
		default:
			return model.StackPartial
		}
	}

	// Fallback: raw text heuristics, best effort.
	switch {
	case strings.Contains(output, "running"):
		return model.StackUp
	case strings.Contains(output, "exited"):
		return model.StackDown
	default:
		return model.StackPartial
	}
}

// ── Helpers ──

func (m *Manager) fetch(url string) ([]byte, error) {
	resp, err := m.http.Get(url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("GET %s: unexpected status %s", url, resp.Status)
	}
	return io.ReadAll(resp.Body)
}

// sanitizeName converts a stack name to a filesystem-safe string.
func sanitizeName(name string) string {
	name = strings.ToLower(name)
	name = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			return r
		}
		return '-'
	}, name)
	return strings.Trim(name, "-")
}
