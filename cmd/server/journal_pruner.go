package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"streamgate/internal/journal"
)

type pruneTicker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct {
	ticker *time.Ticker
}

func (t timeTicker) C() <-chan time.Time {
	return t.ticker.C
}

func (t timeTicker) Stop() {
	t.ticker.Stop()
}

type tickerFactory func(time.Duration) pruneTicker

// startJournalPruneWorker periodically removes journal entries older than the
// retention window. The returned function stops the worker and waits for it
// to exit.
func startJournalPruneWorker(ctx context.Context, logger *slog.Logger, recorder journal.Recorder, retention, interval time.Duration) func() {
	return startJournalPruneWorkerWithTicker(ctx, logger, recorder, retention, interval, func(d time.Duration) pruneTicker {
		return timeTicker{ticker: time.NewTicker(d)}
	})
}

func startJournalPruneWorkerWithTicker(
	ctx context.Context,
	logger *slog.Logger,
	recorder journal.Recorder,
	retention time.Duration,
	interval time.Duration,
	newTicker tickerFactory,
) func() {
	if recorder == nil || retention <= 0 || interval <= 0 {
		return func() {}
	}
	workerCtx, cancel := context.WithCancel(ctx)
	ticker := newTicker(interval)
	done := make(chan struct{})
	go func() {
		defer func() {
			ticker.Stop()
			close(done)
		}()
		for {
			select {
			case <-workerCtx.Done():
				return
			case <-ticker.C():
				cutoff := time.Now().Add(-retention)
				removed, err := recorder.PruneOlderThan(workerCtx, cutoff)
				if err != nil {
					if logger != nil {
						logger.Error("failed to prune journal", "error", err)
					}
					continue
				}
				if removed > 0 && logger != nil {
					logger.Debug("pruned journal entries", "removed", removed)
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}
}
