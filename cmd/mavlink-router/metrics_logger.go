package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ampio/mavlink-router/internal/metrics"
)

func startMetricsLogger(ctx context.Context, interval time.Duration, l *slog.Logger, wg *sync.WaitGroup) {
	if interval <= 0 {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				snap := metrics.Snap()
				l.Info("metrics_snapshot",
					"published", snap.Published,
					"lagged", snap.Lagged,
					"decoded", snap.Decoded,
					"dropped_crc", snap.DroppedCRC,
					"callback_drops", snap.CallbackDrops,
					"reconnects", snap.Reconnects,
					"errors", snap.Errors,
					"drivers", snap.Drivers,
				)
			case <-ctx.Done():
				return
			}
		}
	}()
}
