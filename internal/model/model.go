package model

import (
	"encoding/json"
	"time"
)

// Stack statuses. A stack's status is always recomputed from the live
// per-service state; it is never trusted across an operation boundary.
const (
	StackUp         = "up"
	StackDown       = "down"
	StackPartial    = "partial"
	StackError      = "error"
	StackDeploying  = "deploying"
	StackStopping   = "stopping"
	StackRestarting = "restarting"
)

// Operation log statuses.
const (
	OpRunning   = "running"
	OpCompleted = "completed"
	OpFailed    = "failed"
)

// User represents a panel administrator
type User struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Username  string    `gorm:"uniqueIndex;not null;size:64" json:"username"`
	Password  string    `gorm:"not null" json:"-"` // bcrypt hash, never exposed in JSON
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Stack represents a Docker Compose configuration (a group of related containers).
type Stack struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	Name            string    `gorm:"uniqueIndex;not null;size:64" json:"name"`
	Description     string    `gorm:"size:512" json:"description"`
	SourceURL       string    `gorm:"not null;size:255" json:"source_url"`
	LocalPath       string    `gorm:"size:255" json:"local_path"` // path to the local docker-compose.yml
	IsActive        bool      `gorm:"default:false" json:"is_active"`
	Status          string    `gorm:"size:16;default:down" json:"status"`
	LastChecked     time.Time `json:"last_checked"`
	LastUpdated     time.Time `json:"last_updated"`
	UpdateAvailable bool      `gorm:"default:false" json:"update_available"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Container mirrors one container reported by the runtime. StackID links a
// container to the stack that owns it; deleting a stack deletes its rows.
type Container struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	ContainerID string    `gorm:"uniqueIndex;not null;size:64" json:"container_id"`
	Name        string    `gorm:"not null;size:128" json:"name"`
	Image       string    `gorm:"not null;size:255" json:"image"`
	Status      string    `gorm:"not null;size:64" json:"status"`
	StackID     *uint     `gorm:"index" json:"stack_id"`
	Ports       string    `gorm:"type:text" json:"ports"` // JSON array of port mappings
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// PortList decodes the stored port mappings. A corrupt column yields nil
// rather than an error; the raw string is still available on the struct.
func (c *Container) PortList() []PortMapping {
	if c.Ports == "" {
		return nil
	}
	var ports []PortMapping
	if err := json.Unmarshal([]byte(c.Ports), &ports); err != nil {
		return nil
	}
	return ports
}

// PortMapping is one published port of a container.
type PortMapping struct {
	HostPort      string `json:"host_port"`
	ContainerPort string `json:"container_port"`
	Protocol      string `json:"protocol"`
}

// Image mirrors one image reported by the runtime.
type Image struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	ImageID    string    `gorm:"uniqueIndex;not null;size:64" json:"image_id"`
	Repository string    `gorm:"size:255" json:"repository"`
	Tag        string    `gorm:"size:64" json:"tag"`
	Size       string    `gorm:"size:64" json:"size"`
	Created    string    `gorm:"size:64" json:"created"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Volume mirrors one volume reported by the runtime.
type Volume struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	VolumeName string    `gorm:"uniqueIndex;not null;size:128" json:"volume_name"`
	Driver     string    `gorm:"size:64" json:"driver"`
	Mountpoint string    `gorm:"size:255" json:"mountpoint"`
	Created    string    `gorm:"size:64" json:"created"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Network mirrors one network reported by the runtime.
type Network struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	NetworkID string    `gorm:"uniqueIndex;not null;size:64" json:"network_id"`
	Name      string    `gorm:"size:128" json:"name"`
	Driver    string    `gorm:"size:64" json:"driver"`
	Scope     string    `gorm:"size:64" json:"scope"`
	Created   string    `gorm:"size:64" json:"created"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// OperationLog is the durable record of one long-running operation. Log is
// append-only while the status is running; a sealed log is never mutated.
// A crash mid-stream leaves the status as running, never a false completed.
type OperationLog struct {
	ID            uint       `gorm:"primaryKey" json:"id"`
	OperationType string     `gorm:"not null;size:64" json:"operation_type"`
	StackID       *uint      `gorm:"index" json:"stack_id"`
	ContainerID   string     `gorm:"size:64" json:"container_id"`
	ImageName     string     `gorm:"size:255" json:"image_name"`
	Status        string     `gorm:"size:16;default:running" json:"status"`
	Log           string     `gorm:"type:text" json:"log"`
	Result        string     `gorm:"type:text" json:"result"`
	ErrorMessage  string     `gorm:"type:text" json:"error_message"`
	StartedAt     time.Time  `json:"started_at"`
	CompletedAt   *time.Time `json:"completed_at"`
}
