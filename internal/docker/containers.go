package docker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/miniman-dev/miniman/internal/model"
	"github.com/miniman-dev/miniman/internal/runtime"
)

// ComposeProjectLabel marks a container as belonging to a compose project.
const ComposeProjectLabel = "com.docker.compose.project"

// ContainerInfo is one container as reported by `docker ps`.
type ContainerInfo struct {
	ID      string              `json:"id"`
	Name    string              `json:"name"`
	Image   string              `json:"image"`
	State   string              `json:"state"`   // running, exited, paused, etc.
	Status  string              `json:"status"`  // human-readable, e.g. "Up 2 hours"
	Created string              `json:"created"` // runtime-formatted timestamp
	Ports   []model.PortMapping `json:"ports"`
	Project string              `json:"project"` // compose project, if any
}

// ContainerManager exposes lifecycle operations for single containers.
type ContainerManager struct {
	deps   *Deps
	client *Client
}

// NewContainerManager creates a ContainerManager.
func NewContainerManager(deps *Deps, client *Client) *ContainerManager {
	return &ContainerManager{deps: deps, client: client}
}

// List enumerates all containers, running and stopped.
func (m *ContainerManager) List() ([]ContainerInfo, error) {
	output, err := m.deps.command("ps", "-a", "--format", "{{json .}}")
	if err != nil {
		return nil, err
	}

	containers := make([]ContainerInfo, 0)
	for _, rec := range runtime.DecodeJSONLines(output) {
		containers = append(containers, ContainerInfo{
			ID:      str(rec, "ID"),
			Name:    str(rec, "Names"),
			Image:   str(rec, "Image"),
			State:   str(rec, "State"),
			Status:  str(rec, "Status"),
			Created: str(rec, "CreatedAt"),
			Ports:   ParsePorts(str(rec, "Ports")),
			Project: labelValue(str(rec, "Labels"), ComposeProjectLabel),
		})
	}
	return containers, nil
}

// Inspect returns the full daemon-side detail for one container.
func (m *ContainerManager) Inspect(id string) (map[string]interface{}, bool) {
	output, err := m.deps.command("inspect", id)
	if err != nil {
		return nil, false
	}
	var details []map[string]interface{}
	if err := json.Unmarshal([]byte(strings.TrimSpace(output)), &details); err != nil || len(details) == 0 {
		return nil, false
	}
	return details[0], true
}

// Start starts a stopped container.
func (m *ContainerManager) Start(id string) (string, error) {
	return m.deps.commandRetry("start", id)
}

// Stop stops a running container.
func (m *ContainerManager) Stop(id string) (string, error) {
	return m.deps.commandRetry("stop", id)
}

// Restart restarts a container.
func (m *ContainerManager) Restart(id string) (string, error) {
	return m.deps.commandRetry("restart", id)
}

// Remove removes a container.
func (m *ContainerManager) Remove(id string, force bool) (string, error) {
	args := []string{"rm"}
	if force {
		args = append(args, "-f")
	}
	args = append(args, id)
	return m.deps.command(args...)
}

// Exec runs a command inside a container and returns its output.
func (m *ContainerManager) Exec(id string, command string) (string, error) {
	argv := strings.Fields(command)
	if len(argv) == 0 {
		return "", fmt.Errorf("empty command")
	}
	args := append([]string{"exec", id}, argv...)
	return m.deps.command(args...)
}

// Logs returns the last tail lines of a container's logs.
func (m *ContainerManager) Logs(id string, tail int) (string, error) {
	if tail <= 0 {
		tail = 100
	}
	return m.deps.command("logs", "--tail", fmt.Sprintf("%d", tail), id)
}

// StreamLogs streams a container's logs to sink. A running container is
// followed from its start time; a stopped one gets its existing logs dumped
// with no follow. Both modes are timestamped.
func (m *ContainerManager) StreamLogs(id string, sink runtime.Sink) error {
	details, found := m.Inspect(id)
	if !found {
		return fmt.Errorf("container %s not found", id)
	}

	state, _ := details["State"].(map[string]interface{})
	running, _ := state["Running"].(bool)

	if !running {
		sink.WriteLine(fmt.Sprintf("Container %s is not running, showing existing logs", id))
		_, err := m.deps.stream("", sink, "logs", "--timestamps", id)
		return err
	}

	startedAt, _ := state["StartedAt"].(string)
	sink.WriteLine(fmt.Sprintf("Streaming logs for running container %s", id))
	args := []string{"logs", "--follow", "--timestamps"}
	if startedAt != "" {
		args = append(args, "--since", startedAt)
	}
	args = append(args, id)
	_, err := m.deps.stream("", sink, args...)
	return err
}

// Stats returns a resource-usage snapshot for one container.
func (m *ContainerManager) Stats(id string) (*Stats, error) {
	ctx, cancel := context.WithTimeout(context.Background(), runtime.DiagnosticTimeout)
	defer cancel()
	return m.client.ContainerStats(ctx, id)
}

// ParsePorts converts the runtime's ports string, e.g.
// "0.0.0.0:8080->80/tcp, :::8080->80/tcp", into structured mappings.
func ParsePorts(ports string) []model.PortMapping {
	if strings.TrimSpace(ports) == "" {
		return nil
	}
	var mappings []model.PortMapping
	for _, part := range strings.Split(ports, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		proto := ""
		if i := strings.LastIndex(part, "/"); i >= 0 {
			proto = part[i+1:]
			part = part[:i]
		}
		hostPort, containerPort := "", part
		if i := strings.Index(part, "->"); i >= 0 {
			containerPort = part[i+2:]
			host := part[:i]
			if j := strings.LastIndex(host, ":"); j >= 0 {
				hostPort = host[j+1:]
			} else {
				hostPort = host
			}
		}
		mappings = append(mappings, model.PortMapping{
			HostPort:      hostPort,
			ContainerPort: containerPort,
			Protocol:      proto,
		})
	}
	return mappings
}

// labelValue extracts one label from the runtime's comma-separated k=v list.
func labelValue(labels, key string) string {
	for _, pair := range strings.Split(labels, ",") {
		if k, v, ok := strings.Cut(strings.TrimSpace(pair), "="); ok && k == key {
			return v
		}
	}
	return ""
}

func str(rec map[string]interface{}, key string) string {
	if v, ok := rec[key].(string); ok {
		return v
	}
	return ""
}
