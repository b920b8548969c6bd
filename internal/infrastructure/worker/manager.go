// Package worker runs the service's background jobs.
package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Worker is a background job with an explicit lifecycle
type Worker interface {
	Start(ctx context.Context) error
	Stop() error
	Name() string
}

type managedWorker struct {
	Worker
	started bool
}

// WorkerManager starts registered workers together and stops them in reverse order
type WorkerManager struct {
	logger *zap.Logger

	mu      sync.RWMutex
	workers []*managedWorker
	cancel  context.CancelFunc
}

// NewWorkerManager creates a new worker manager
func NewWorkerManager(logger *zap.Logger) *WorkerManager {
	return &WorkerManager{logger: logger}
}

// Register adds a worker. Workers registered after StartAll wait for the next start.
func (m *WorkerManager) Register(w Worker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.workers = append(m.workers, &managedWorker{Worker: w})
	m.logger.Info("Worker registered", zap.String("worker", w.Name()))
}

// StartAll starts every registered worker. Start failures are joined into
// the returned error; workers that did start keep running.
func (m *WorkerManager) StartAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cancel != nil {
		return fmt.Errorf("workers already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	var errs []error
	for _, w := range m.workers {
		if err := w.Start(runCtx); err != nil {
			m.logger.Error("Worker failed to start", zap.String("worker", w.Name()), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", w.Name(), err))
			continue
		}
		w.started = true
	}

	m.logger.Info("Workers started", zap.String("running", m.runningNames()))
	return errors.Join(errs...)
}

// StopAll cancels the run context and stops started workers, newest first
func (m *WorkerManager) StopAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cancel == nil {
		return nil
	}
	m.cancel()
	m.cancel = nil

	var errs []error
	for i := len(m.workers) - 1; i >= 0; i-- {
		w := m.workers[i]
		if !w.started {
			continue
		}
		w.started = false
		if err := w.Stop(); err != nil {
			m.logger.Error("Worker failed to stop", zap.String("worker", w.Name()), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", w.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// GetWorkerCount returns the number of registered workers
func (m *WorkerManager) GetWorkerCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.workers)
}

// IsRunning reports whether StartAll has run without a matching StopAll
func (m *WorkerManager) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cancel != nil
}

// Running lists the workers that are currently started
func (m *WorkerManager) Running() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.runningNames()
}

func (m *WorkerManager) runningNames() string {
	names := make([]string, 0, len(m.workers))
	for _, w := range m.workers {
		if w.started {
			names = append(names, w.Name())
		}
	}
	return strings.Join(names, ",")
}
