package workers

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// StaleAgentMarker is the storage operation the sweeper needs.
type StaleAgentMarker interface {
	MarkStaleAgentsOffline(ctx context.Context, cutoff, at time.Time) (int64, error)
}

// StartLivenessSweeper periodically marks agents offline once their last
// heartbeat is older than window. Liveness is still computed on every read;
// the sweep only keeps the stored status field in step.
func StartLivenessSweeper(ctx context.Context, store StaleAgentMarker, window, every time.Duration, logger zerolog.Logger) {
	logger = logger.With().Str("component", "liveness_sweeper").Logger()

	go func() {
		ticker := time.NewTicker(every)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sweepOnce(ctx, store, window, time.Now().UTC(), logger)
			}
		}
	}()
	logger.Info().Dur("window", window).Dur("every", every).Msg("liveness sweeper started")
}

func sweepOnce(ctx context.Context, store StaleAgentMarker, window time.Duration, now time.Time, logger zerolog.Logger) int64 {
	n, err := store.MarkStaleAgentsOffline(ctx, now.Add(-window), now)
	if err != nil {
		logger.Warn().Err(err).Msg("liveness sweep failed")
		return 0
	}
	if n > 0 {
		logger.Info().Int64("agents", n).Msg("marked stale agents offline")
	}
	return n
}
