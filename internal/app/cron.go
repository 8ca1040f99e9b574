package app

import (
	"context"
	"time"

	"github.com/delimatsuo/dressup-core/internal/modules/blob"
	"github.com/delimatsuo/dressup-core/internal/modules/session"
	pkgcron "github.com/delimatsuo/dressup-core/internal/pkg/cron"
	"github.com/delimatsuo/dressup-core/internal/pkg/ratelimit"
)

const sweepBatchLimit = 200

// registerJobs wires the periodic sweeps. The same jobs are reachable over
// the maintenance API for deployments that fire them from an external cron.
func (a *App) registerJobs(sessions *session.Service, blobs *blob.Service, limiter ratelimit.Limiter) {
	a.sched.Register(pkgcron.Job{
		Name:        "sweep_sessions",
		Description: "delete logically expired sessions and their blobs",
		Interval:    time.Hour,
		Fn: func(ctx context.Context) error {
			_, err := sessions.SweepExpired(ctx, sweepBatchLimit)
			return err
		},
	})

	a.sched.Register(pkgcron.Job{
		Name:        "cleanup_blobs",
		Description: "delete blobs whose own expiry has passed",
		Interval:    time.Hour,
		Fn: func(ctx context.Context) error {
			_, err := blobs.CleanupExpiredBlobs(ctx, sweepBatchLimit)
			return err
		},
	})

	if mem, ok := limiter.(*ratelimit.Memory); ok {
		a.sched.Register(pkgcron.Job{
			Name:        "evict_ratelimit_entries",
			Description: "evict idle in-process rate-limit entries",
			Interval:    2 * a.cfg.RateLimit.Window,
			Fn: func(ctx context.Context) error {
				mem.Sweep()
				return nil
			},
		})
	}
}
