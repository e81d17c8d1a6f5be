package runtime

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrRuntimeUnavailable is returned by guarded operations when the daemon
// is unhealthy, instead of letting the operation fail with a confusing
// downstream error.
var ErrRuntimeUnavailable = errors.New("container runtime is unavailable")

const (
	probeTimeout = 5 * time.Second
	verdictTTL   = 30 * time.Second
)

// Prober performs a short no-op probe against the runtime daemon.
type Prober func(ctx context.Context) error

// Health tracks whether the container runtime is currently responsive.
// The verdict is cached for a short window so every operation does not pay
// for a probe.
type Health struct {
	probe Prober

	mu      sync.Mutex
	healthy bool
	checked time.Time
}

// NewHealth creates a Health monitor using the given probe.
func NewHealth(probe Prober) *Health {
	return &Health{probe: probe}
}

// Healthy reports whether the daemon answered a recent probe. force bypasses
// the cached verdict.
func (h *Health) Healthy(force bool) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !force && !h.checked.IsZero() && time.Since(h.checked) < verdictTTL {
		return h.healthy
	}

	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()

	h.healthy = h.probe(ctx) == nil
	h.checked = time.Now()
	return h.healthy
}

// Guarded wraps op so it short-circuits with ErrRuntimeUnavailable when the
// daemon is unhealthy, without invoking op at all.
func Guarded(h *Health, op func() (string, error)) func() (string, error) {
	return func() (string, error) {
		if !h.Healthy(false) {
			return "", ErrRuntimeUnavailable
		}
		return op()
	}
}
