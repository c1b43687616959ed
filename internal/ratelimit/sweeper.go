package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/acronis/go-appkit/log"
	"github.com/acronis/go-appkit/service"
)

// DefaultSweepInterval is deliberately longer than the safety key TTL so the
// sweeper never races a live job whose safety key is still counting down.
const DefaultSweepInterval = 30 * time.Minute

const runningSetsScanPattern = "user:*:*:jobs"

// Sweeper is the backstop behind the expiry listener. Keyspace notifications
// are best-effort, so an orphaned running-set member can outlive its safety
// key if the event was lost. Each sweep scans the running-sets, probes every
// member for a matching safety key, and removes members that have none.
//
// Implements service.Worker; wrap it in service.NewPeriodicWorker to run on
// an interval.
type Sweeper struct {
	store   Store
	metrics MetricsCollector
	logger  log.FieldLogger
}

// SweeperOpts contains optional parameters for constructing Sweeper.
type SweeperOpts struct {
	Metrics MetricsCollector
}

// NewSweeper creates a new Sweeper.
func NewSweeper(store Store, logger log.FieldLogger) *Sweeper {
	return NewSweeperWithOpts(store, logger, SweeperOpts{})
}

// NewSweeperWithOpts creates a new Sweeper with an ability to specify
// optional parameters.
func NewSweeperWithOpts(store Store, logger log.FieldLogger, opts SweeperOpts) *Sweeper {
	if opts.Metrics == nil {
		opts.Metrics = disabledMetrics{}
	}
	return &Sweeper{store: store, metrics: opts.Metrics, logger: logger}
}

var _ service.Worker = (*Sweeper)(nil)

// Run performs one full sweep. Implements service.Worker.
func (sw *Sweeper) Run(ctx context.Context) error {
	setKeys, err := sw.store.ScanKeys(ctx, runningSetsScanPattern)
	if err != nil {
		return fmt.Errorf("scan running sets: %w", err)
	}

	var removed int
	for _, setKey := range setKeys {
		if ctx.Err() != nil {
			return nil
		}
		n, err := sw.sweepSet(ctx, setKey)
		if err != nil {
			sw.logger.Error("sweep of running set failed", log.String("key", setKey), log.Error(err))
			continue
		}
		removed += n
	}
	if removed > 0 {
		sw.logger.Info("sweeper removed orphaned jobs", log.Int("removed", removed))
	}
	return nil
}

func (sw *Sweeper) sweepSet(ctx context.Context, setKey string) (int, error) {
	userID, tier, err := parseRunningJobsKey(setKey)
	if err != nil {
		return 0, err
	}
	members, err := sw.store.SetMembers(ctx, setKey)
	if err != nil {
		return 0, err
	}

	var removed int
	for _, jobID := range members {
		exists, err := sw.store.Exists(ctx, JobSafetyKey(userID, tier, jobID))
		if err != nil {
			return removed, err
		}
		if exists {
			continue
		}
		if err := sw.store.SetRemove(ctx, setKey, jobID); err != nil {
			return removed, err
		}
		sw.metrics.IncOrphansCleaned()
		sw.logger.Info("sweeper removed job with no safety key",
			log.String("user_id", userID), log.String("tier", tier.String()), log.String("job_id", jobID))
		removed++
	}
	return removed, nil
}
