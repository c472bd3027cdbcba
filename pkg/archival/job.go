package archival

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// Start runs RunArchivalScan every interval in a background goroutine until
// ctx is done or Stop is called. A non-positive interval uses the configured
// scan interval. Starting a running job restarts it with the new interval.
func (m *Manager) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = m.cfg.ScanInterval
	}
	m.Stop()

	m.jobMu.Lock()
	defer m.jobMu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	go m.run(ctx, interval, m.done)

	m.logger.Info("archival job started", zap.Duration("interval", interval))
}

func (m *Manager) run(ctx context.Context, interval time.Duration, done chan struct{}) {
	defer close(done)
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("archival job panicked", zap.Any("panic", r), zap.Stack("stack"))
		}
	}()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, err := m.RunArchivalScan(ctx)
			switch {
			case err == nil, errors.Is(err, context.Canceled):
			case errors.Is(err, ErrScanInProgress):
				m.logger.Debug("previous scan still running, skipping tick")
			default:
				m.logger.Warn("archival scan failed", zap.Error(err))
			}
		}
	}
}

// IsRunning reports whether the background job is active.
func (m *Manager) IsRunning() bool {
	m.jobMu.Lock()
	defer m.jobMu.Unlock()
	return m.cancel != nil
}

// Stop cancels the background job and waits for an in-flight scan to drain.
func (m *Manager) Stop() {
	m.jobMu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.jobMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	m.logger.Info("archival job stopped")
}
