package sessions

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// StaleEnder force-ends active sessions created before a cutoff.
type StaleEnder interface {
	EndStaleActive(ctx context.Context, cutoff time.Time) (int64, error)
}

// Reaper periodically ends abandoned live sessions. Staleness is measured
// from the session's creation time, not last activity: a session in
// continuous use past MaxAge is still ended. Documented behavior, kept.
type Reaper struct {
	store    StaleEnder
	interval time.Duration
	maxAge   time.Duration
	logger   *zap.Logger

	now func() time.Time
}

// NewReaper creates a stale-session reaper.
func NewReaper(store StaleEnder, interval, maxAge time.Duration, logger *zap.Logger) *Reaper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reaper{store: store, interval: interval, maxAge: maxAge, logger: logger, now: time.Now}
}

// Run sweeps on the configured interval until ctx is done.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reaper stopping")
			return
		case <-ticker.C:
			if err := r.Sweep(ctx); err != nil {
				r.logger.Error("reaper sweep failed", zap.Error(err))
			}
		}
	}
}

// Sweep ends every active session older than MaxAge. Status write only;
// nothing is cascade-deleted.
func (r *Reaper) Sweep(ctx context.Context) error {
	cutoff := r.now().Add(-r.maxAge)
	ended, err := r.store.EndStaleActive(ctx, cutoff)
	if err != nil {
		return err
	}
	if ended > 0 {
		r.logger.Info("ended stale sessions", zap.Int64("count", ended))
	}
	return nil
}
