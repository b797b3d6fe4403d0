// internal/services/last_check.go
package services

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/javajoker/license-backend/internal/metrics"
	"github.com/javajoker/license-backend/internal/store"
)

type lastCheck struct {
	id uuid.UUID
	at time.Time
}

// LastCheckWriter records last_check timestamps off the request path.
// Updates are best effort: when the queue is full they are dropped.
type LastCheckWriter struct {
	store   store.LicenseStore
	queue   chan lastCheck
	logger  *logrus.Logger
	metrics *metrics.Metrics

	mu      sync.RWMutex
	started bool
	closed  bool
	wg      sync.WaitGroup
}

func NewLastCheckWriter(licenseStore store.LicenseStore, queueSize int, logger *logrus.Logger, m *metrics.Metrics) *LastCheckWriter {
	if queueSize < 1 {
		queueSize = 1
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &LastCheckWriter{
		store:   licenseStore,
		queue:   make(chan lastCheck, queueSize),
		logger:  logger,
		metrics: m,
	}
}

func (w *LastCheckWriter) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started || w.closed {
		return
	}
	w.started = true
	w.wg.Add(1)
	go w.run()
}

func (w *LastCheckWriter) run() {
	defer w.wg.Done()
	for item := range w.queue {
		w.write(item)
	}
}

func (w *LastCheckWriter) write(item lastCheck) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.store.TouchLastCheck(ctx, item.id, item.at); err != nil {
		w.logger.WithError(err).WithField("license_id", item.id).Warn("Failed to record last_check")
	}
}

// Record queues a last_check update. Before Start it writes synchronously.
func (w *LastCheckWriter) Record(ctx context.Context, id uuid.UUID, at time.Time) {
	if w == nil {
		return
	}
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.closed {
		return
	}
	if !w.started {
		if err := w.store.TouchLastCheck(ctx, id, at); err != nil {
			w.logger.WithError(err).WithField("license_id", id).Warn("Failed to record last_check")
		}
		return
	}

	select {
	case w.queue <- lastCheck{id: id, at: at}:
	default:
		w.metrics.RecordLastCheckDropped()
		w.logger.WithField("license_id", id).Debug("last_check queue full, dropping update")
	}
}

// Stop drains queued updates until ctx is done.
func (w *LastCheckWriter) Stop(ctx context.Context) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.queue)
	w.mu.Unlock()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
