package docker

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/miniman-dev/miniman/internal/runtime"
)

// VolumeInfo is one volume as reported by `docker volume ls`.
type VolumeInfo struct {
	Name       string `json:"name"`
	Driver     string `json:"driver"`
	Mountpoint string `json:"mountpoint"`
	Created    string `json:"created"`
}

// VolumeManager exposes lifecycle operations for volumes.
type VolumeManager struct {
	deps *Deps
}

// NewVolumeManager creates a VolumeManager.
func NewVolumeManager(deps *Deps) *VolumeManager {
	return &VolumeManager{deps: deps}
}

// List enumerates volumes. `volume ls` omits Mountpoint, so each record is
// enriched from inspect where possible.
func (m *VolumeManager) List() ([]VolumeInfo, error) {
	output, err := m.deps.command("volume", "ls", "--format", "{{json .}}")
	if err != nil {
		return nil, err
	}

	volumes := make([]VolumeInfo, 0)
	for _, rec := range runtime.DecodeJSONLines(output) {
		v := VolumeInfo{
			Name:       str(rec, "Name"),
			Driver:     str(rec, "Driver"),
			Mountpoint: str(rec, "Mountpoint"),
			Created:    str(rec, "CreatedAt"),
		}
		if v.Mountpoint == "" || v.Created == "" {
			if detail, ok := m.Inspect(v.Name); ok {
				if v.Mountpoint == "" {
					v.Mountpoint, _ = detail["Mountpoint"].(string)
				}
				if v.Created == "" {
					v.Created, _ = detail["CreatedAt"].(string)
				}
			}
		}
		volumes = append(volumes, v)
	}
	return volumes, nil
}

// Create creates a volume.
func (m *VolumeManager) Create(name, driver string, labels map[string]string) (string, error) {
	if driver == "" {
		driver = "local"
	}
	args := []string{"volume", "create", "--driver", driver}
	for k, v := range labels {
		args = append(args, "--label", fmt.Sprintf("%s=%s", k, v))
	}
	args = append(args, name)
	return m.deps.command(args...)
}

// Remove removes a volume.
func (m *VolumeManager) Remove(name string, force bool) (string, error) {
	args := []string{"volume", "rm"}
	if force {
		args = append(args, "-f")
	}
	args = append(args, name)
	return m.deps.command(args...)
}

// Inspect returns the full daemon-side detail for one volume.
func (m *VolumeManager) Inspect(name string) (map[string]interface{}, bool) {
	output, err := m.deps.command("volume", "inspect", name)
	if err != nil {
		return nil, false
	}
	var details []map[string]interface{}
	if err := json.Unmarshal([]byte(strings.TrimSpace(output)), &details); err != nil || len(details) == 0 {
		return nil, false
	}
	return details[0], true
}
