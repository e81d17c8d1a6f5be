package runtime

import (
	"context"
	"errors"
	"testing"
)

func TestHealthyCachesVerdict(t *testing.T) {
	probes := 0
	h := NewHealth(func(ctx context.Context) error {
		probes++
		return nil
	})

	for i := 0; i < 5; i++ {
		if !h.Healthy(false) {
			t.Fatal("expected healthy")
		}
	}
	if probes != 1 {
		t.Errorf("expected a single probe within the cache window, got %d", probes)
	}
}

func TestHealthyForceBypassesCache(t *testing.T) {
	probes := 0
	h := NewHealth(func(ctx context.Context) error {
		probes++
		if probes > 1 {
			return errors.New("daemon gone")
		}
		return nil
	})

	if !h.Healthy(false) {
		t.Fatal("expected healthy on first probe")
	}
	if h.Healthy(true) {
		t.Fatal("forced probe should see the daemon gone")
	}
	if probes != 2 {
		t.Errorf("expected 2 probes, got %d", probes)
	}
}

func TestGuardedShortCircuitsWhenUnhealthy(t *testing.T) {
	h := NewHealth(func(ctx context.Context) error {
		return errors.New("connection refused")
	})

	invoked := false
	op := Guarded(h, func() (string, error) {
		invoked = true
		return "ok", nil
	})

	_, err := op()
	if invoked {
		t.Fatal("operation must not be invoked while the runtime is unhealthy")
	}
	if !errors.Is(err, ErrRuntimeUnavailable) {
		t.Fatalf("expected ErrRuntimeUnavailable, got %v", err)
	}
}

func TestGuardedPassesThroughWhenHealthy(t *testing.T) {
	h := NewHealth(func(ctx context.Context) error { return nil })

	op := Guarded(h, func() (string, error) {
		return "done", nil
	})

	out, err := op()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "done" {
		t.Errorf("expected done, got %q", out)
	}
}
