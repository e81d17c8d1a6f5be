package tasks

import (
	"log/slog"
	"sync"
)

// Spawner launches background work. Each lifecycle/streaming operation runs
// on its own goroutine so a request never blocks on a multi-minute external
// process; the caller returns immediately while the worker proceeds.
type Spawner struct {
	wg     sync.WaitGroup
	logger *slog.Logger
}

// NewSpawner creates a Spawner.
func NewSpawner(logger *slog.Logger) *Spawner {
	return &Spawner{logger: logger}
}

// Spawn runs fn on its own goroutine. A panicking task is recovered and
// logged; it never takes the process down.
func (s *Spawner) Spawn(fn func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("background task panicked", "panic", r)
			}
		}()
		fn()
	}()
}

// Wait blocks until all spawned tasks have finished.
func (s *Spawner) Wait() {
	s.wg.Wait()
}
