package docker

import (
	"encoding/json"
	"strings"

	"github.com/miniman-dev/miniman/internal/runtime"
)

// NetworkInfo is one network as reported by `docker network ls`.
type NetworkInfo struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Driver  string `json:"driver"`
	Scope   string `json:"scope"`
	Created string `json:"created"`
}

// NetworkManager exposes lifecycle operations for networks.
type NetworkManager struct {
	deps *Deps
}

// NewNetworkManager creates a NetworkManager.
func NewNetworkManager(deps *Deps) *NetworkManager {
	return &NetworkManager{deps: deps}
}

// List enumerates networks.
func (m *NetworkManager) List() ([]NetworkInfo, error) {
	output, err := m.deps.command("network", "ls", "--format", "{{json .}}")
	if err != nil {
		return nil, err
	}

	networks := make([]NetworkInfo, 0)
	for _, rec := range runtime.DecodeJSONLines(output) {
		networks = append(networks, NetworkInfo{
			ID:      str(rec, "ID"),
			Name:    str(rec, "Name"),
			Driver:  str(rec, "Driver"),
			Scope:   str(rec, "Scope"),
			Created: str(rec, "CreatedAt"),
		})
	}
	return networks, nil
}

// Create creates a network. Subnet and gateway are optional.
func (m *NetworkManager) Create(name, driver, subnet, gateway string) (string, error) {
	if driver == "" {
		driver = "bridge"
	}
	args := []string{"network", "create", "--driver", driver}
	if subnet != "" {
		args = append(args, "--subnet", subnet)
	}
	if gateway != "" {
		args = append(args, "--gateway", gateway)
	}
	args = append(args, name)
	return m.deps.command(args...)
}

// Remove removes a network.
func (m *NetworkManager) Remove(name string) (string, error) {
	return m.deps.command("network", "rm", name)
}

// Connect connects a container to a network.
func (m *NetworkManager) Connect(containerID, networkID string) (string, error) {
	return m.deps.command("network", "connect", networkID, containerID)
}

// Disconnect disconnects a container from a network.
func (m *NetworkManager) Disconnect(containerID, networkID string) (string, error) {
	return m.deps.command("network", "disconnect", networkID, containerID)
}

// Inspect returns the full daemon-side detail for one network.
func (m *NetworkManager) Inspect(name string) (map[string]interface{}, bool) {
	output, err := m.deps.command("network", "inspect", name)
	if err != nil {
		return nil, false
	}
	var details []map[string]interface{}
	if err := json.Unmarshal([]byte(strings.TrimSpace(output)), &details); err != nil || len(details) == 0 {
		return nil, false
	}
	return details[0], true
}
