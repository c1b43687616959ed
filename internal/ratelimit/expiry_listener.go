package ratelimit

import (
	"context"
	"fmt"

	"github.com/acronis/go-appkit/log"
)

// ExpiryListener repairs admission state after crashes. When a job's safety
// key expires without MarkFinished having run, the job id is still a member
// of its running-set and permanently occupies a concurrency slot. The
// listener subscribes to key-expiry notifications, recognizes expired safety
// keys, and removes the orphaned member.
//
// Notifications are best-effort: events may arrive more than once, out of
// order, or not at all. Removal is idempotent, so duplicates are harmless;
// the sweeper covers missed deliveries.
//
// Implements service.Unit.
type ExpiryListener struct {
	store   Store
	metrics MetricsCollector
	logger  log.FieldLogger

	ctx       context.Context
	ctxCancel context.CancelFunc
	done      chan struct{}
}

// ExpiryListenerOpts contains optional parameters for constructing ExpiryListener.
type ExpiryListenerOpts struct {
	Metrics MetricsCollector
}

// NewExpiryListener creates a new ExpiryListener.
func NewExpiryListener(store Store, logger log.FieldLogger) *ExpiryListener {
	return NewExpiryListenerWithOpts(store, logger, ExpiryListenerOpts{})
}

// NewExpiryListenerWithOpts creates a new ExpiryListener with an ability to
// specify optional parameters.
func NewExpiryListenerWithOpts(store Store, logger log.FieldLogger, opts ExpiryListenerOpts) *ExpiryListener {
	if opts.Metrics == nil {
		opts.Metrics = disabledMetrics{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &ExpiryListener{
		store:     store,
		metrics:   opts.Metrics,
		logger:    logger,
		ctx:       ctx,
		ctxCancel: cancel,
		done:      make(chan struct{}),
	}
}

// Start subscribes to expiry notifications and blocks until Stop is called.
// Implements service.Unit.
func (l *ExpiryListener) Start(fatalError chan<- error) {
	defer close(l.done)
	l.logger.Info("expiry listener started")
	err := l.store.SubscribeKeyExpiry(l.ctx, jobSafetyKeyPrefix, l.HandleExpiredKey)
	if err != nil && l.ctx.Err() == nil {
		fatalError <- fmt.Errorf("expiry subscription: %w", err)
		return
	}
	l.logger.Info("expiry listener stopped")
}

// Stop cancels the subscription. Implements service.Unit.
func (l *ExpiryListener) Stop(gracefully bool) error {
	l.ctxCancel()
	if gracefully {
		<-l.done
	}
	return nil
}

// HandleExpiredKey processes one expired key name. Anything that does not
// parse as a safety key is logged and ignored: Redis publishes expiry events
// for every key in the database and the listener must never trip over
// somebody else's keys.
func (l *ExpiryListener) HandleExpiredKey(key string) {
	parsed, err := ParseJobSafetyKey(key)
	if err != nil {
		l.logger.Warn("ignoring malformed expired job key", log.String("key", key), log.Error(err))
		return
	}

	setKey := RunningJobsKey(parsed.UserID, parsed.Tier)
	if err := l.store.SetRemove(l.ctx, setKey, parsed.JobID); err != nil {
		// The safety key is already gone, so no further expiry event comes
		// for this member; it stays until the sweeper removes it.
		l.logger.Error("failed to remove orphaned job from running set",
			log.String("user_id", parsed.UserID), log.String("tier", parsed.Tier.String()),
			log.String("job_id", parsed.JobID), log.Error(err))
		return
	}

	l.metrics.IncOrphansCleaned()
	l.logger.Info("cleaned stale job after safety key expiry",
		log.String("user_id", parsed.UserID), log.String("tier", parsed.Tier.String()),
		log.String("job_id", parsed.JobID))
}
