package retention

import (
	"context"
	"sync"
	"time"
)

// Worker runs a cleanup once a day at a fixed local hour.
type Worker struct {
	manager *Manager
	days    int
	hour    int

	// OnRun, when set, receives the result of every scheduled run.
	OnRun func(CleanupResult)

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWorker creates a worker that keeps days days of logs and runs at hour.
func NewWorker(m *Manager, days, hour int) *Worker {
	if hour < 0 || hour > 23 {
		hour = 5
	}
	return &Worker{manager: m, days: days, hour: hour}
}

// NextRun returns the first run time strictly after now.
func (w *Worker) NextRun(now time.Time) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), w.hour, 0, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// Start launches the worker loop.
func (w *Worker) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()

		for {
			now := w.manager.now()
			next := w.NextRun(now)
			log.Debug("next cleanup scheduled", "at", next)

			timer := time.NewTimer(next.Sub(now))
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}

			res, err := w.manager.Run(w.days)
			if err != nil {
				log.Error("scheduled cleanup failed", "error", err)
			} else if w.OnRun != nil {
				w.OnRun(res)
			}
		}
	}()
}

// Stop stops the worker and waits for a running cleanup to finish.
func (w *Worker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}
