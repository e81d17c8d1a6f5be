package docker

import (
	"encoding/json"
	"strings"

	"github.com/miniman-dev/miniman/internal/runtime"
)

// ImageInfo is one image as reported by `docker images`.
type ImageInfo struct {
	ID         string `json:"id"`
	Repository string `json:"repository"`
	Tag        string `json:"tag"`
	Size       string `json:"size"`
	Created    string `json:"created"`
}

// ImageManager exposes lifecycle operations for images.
type ImageManager struct {
	deps *Deps
}

// NewImageManager creates an ImageManager.
func NewImageManager(deps *Deps) *ImageManager {
	return &ImageManager{deps: deps}
}

// List enumerates local images.
func (m *ImageManager) List() ([]ImageInfo, error) {
	output, err := m.deps.command("images", "--format", "{{json .}}")
	if err != nil {
		return nil, err
	}

	images := make([]ImageInfo, 0)
	for _, rec := range runtime.DecodeJSONLines(output) {
		images = append(images, ImageInfo{
			ID:         str(rec, "ID"),
			Repository: str(rec, "Repository"),
			Tag:        str(rec, "Tag"),
			Size:       str(rec, "Size"),
			Created:    str(rec, "CreatedAt"),
		})
	}
	return images, nil
}

// Pull pulls an image, streaming progress lines to sink.
func (m *ImageManager) Pull(ref string, sink runtime.Sink) (string, error) {
	return m.deps.stream("", sink, "pull", ref)
}

// Remove removes an image.
func (m *ImageManager) Remove(id string, force bool) (string, error) {
	args := []string{"rmi"}
	if force {
		args = append(args, "-f")
	}
	args = append(args, id)
	return m.deps.command(args...)
}

// Build builds an image from the Dockerfile in dir, streaming build output
// to sink.
func (m *ImageManager) Build(dir, tag string, sink runtime.Sink) (string, error) {
	return m.deps.stream("", sink, "build", "-t", tag, dir)
}

// Inspect returns the full daemon-side detail for one image.
func (m *ImageManager) Inspect(id string) (map[string]interface{}, bool) {
	output, err := m.deps.command("inspect", "--type", "image", id)
	if err != nil {
		return nil, false
	}
	var details []map[string]interface{}
	if err := json.Unmarshal([]byte(strings.TrimSpace(output)), &details); err != nil || len(details) == 0 {
		return nil, false
	}
	return details[0], true
}
