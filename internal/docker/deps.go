package docker

import (
	"context"
	"log/slog"
	"strings"

	"github.com/miniman-dev/miniman/internal/runtime"
)

// Deps bundles the executor, health monitor and retry policy every resource
// manager is built on. One Deps is constructed at process start and passed
// to each manager; there is no package-level default.
type Deps struct {
	Bin    string // docker CLI binary, usually "docker"
	Exec   runtime.Executor
	Health *runtime.Health
	Retry  runtime.RetryOptions
	Logger *slog.Logger
}

// command runs a short docker CLI command, gated on daemon health and
// bounded by the diagnostic timeout.
func (d *Deps) command(args ...string) (string, error) {
	op := runtime.Guarded(d.Health, func() (string, error) {
		ctx, cancel := context.WithTimeout(context.Background(), runtime.DiagnosticTimeout)
		defer cancel()
		return d.Exec.Run(ctx, "", d.Bin, args...)
	})
	return op()
}

// commandRetry is command wrapped in the bounded retry policy for verbs
// where a transient failure is likely to succeed on a second attempt.
func (d *Deps) commandRetry(args ...string) (string, error) {
	opts := d.Retry
	opts.RetryIf = IsRetryable
	return runtime.RetryValue(func() (string, error) {
		return d.command(args...)
	}, opts)
}

// stream runs a long-lived docker CLI command, gated on daemon health,
// forwarding output lines to sink. Lifecycle commands carry no timeout.
func (d *Deps) stream(dir string, sink runtime.Sink, args ...string) (string, error) {
	op := runtime.Guarded(d.Health, func() (string, error) {
		return d.Exec.RunStream(dir, sink, d.Bin, args...)
	})
	return op()
}

// IsRetryable classifies a CLI failure. Validation and not-found errors are
// reported, never retried; anything else is treated as transient-operation.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if err == runtime.ErrRuntimeUnavailable {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"no such", "not found", "invalid", "already exists", "conflict"} {
		if strings.Contains(msg, s) {
			return false
		}
	}
	return true
}
