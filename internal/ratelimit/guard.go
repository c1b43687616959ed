package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/acronis/go-appkit/log"
)

// DefaultSafetyKeyTTL bounds how long a crashed reservation can occupy a
// concurrency slot before the expiry listener reclaims it.
const DefaultSafetyKeyTTL = 15 * time.Minute

// GuardOpts contains optional parameters for constructing Guard.
type GuardOpts struct {
	SafetyKeyTTL time.Duration
	Metrics      MetricsCollector
}

// Guard decides whether a user may start another import job. State lives in
// the shared store, so every replica sees the same running-sets and cooldowns.
type Guard struct {
	store        Store
	tiers        *TierTable
	safetyKeyTTL time.Duration
	metrics      MetricsCollector
	logger       log.FieldLogger
}

// NewGuard creates a new Guard with default options.
func NewGuard(store Store, tiers *TierTable, logger log.FieldLogger) *Guard {
	return NewGuardWithOpts(store, tiers, logger, GuardOpts{})
}

// NewGuardWithOpts creates a new Guard with an ability to specify optional parameters.
func NewGuardWithOpts(store Store, tiers *TierTable, logger log.FieldLogger, opts GuardOpts) *Guard {
	if opts.SafetyKeyTTL <= 0 {
		opts.SafetyKeyTTL = DefaultSafetyKeyTTL
	}
	if opts.Metrics == nil {
		opts.Metrics = disabledMetrics{}
	}
	return &Guard{
		store:        store,
		tiers:        tiers,
		safetyKeyTTL: opts.SafetyKeyTTL,
		metrics:      opts.Metrics,
		logger:       logger,
	}
}

// Tiers returns the tier table the guard classifies with.
func (g *Guard) Tiers() *TierTable {
	return g.tiers
}

// CheckAndReserve admits the job or returns why it cannot run.
//
// The order of the steps matters:
//   - cooldown is checked before the reservation so an admitted job can never
//     be retroactively blocked;
//   - the atomic script runs before the safety key is written, so a crash
//     between the two leaves an orphaned set member with no safety key — the
//     state the sweeper cleans (no key expires for it, so the expiry
//     listener never sees it).
//
// Returns the classified tier on success. The error is
// *CooldownActiveError or *ConcurrencyLimitError for normal rejections and
// an ordinary error when the store is unreachable.
func (g *Guard) CheckAndReserve(ctx context.Context, userID string, requestedCount int, jobID string) (Tier, error) {
	tier := g.tiers.Classify(requestedCount)

	if err := g.checkCooldown(ctx, userID); err != nil {
		return tier, err
	}

	limit := g.tiers.MaxConcurrent(tier)
	setKey := RunningJobsKey(userID, tier)
	allowed, err := g.store.RunReservationScript(ctx, setKey, limit, jobID)
	if err != nil {
		return tier, fmt.Errorf("reserve slot for user %q: %w", userID, err)
	}
	if !allowed {
		g.metrics.IncRejectedConcurrency(tier)
		g.startCooldown(ctx, userID, tier)
		return tier, &ConcurrencyLimitError{Tier: tier, Limit: limit}
	}

	// The safety key bounds the reservation's lifetime. If the write fails,
	// the slot just reserved must be handed back, otherwise the set member
	// would have no expiring counterpart and the user would leak a slot until
	// the sweeper runs.
	safetyKey := JobSafetyKey(userID, tier, jobID)
	if err := g.store.SetWithTTL(ctx, safetyKey, tier.String(), g.safetyKeyTTL); err != nil {
		if remErr := g.store.SetRemove(ctx, setKey, jobID); remErr != nil {
			g.logger.Error("compensating set-remove failed, orphan left for sweeper",
				log.String("user_id", userID), log.String("job_id", jobID), log.Error(remErr))
		}
		return tier, fmt.Errorf("write safety key for job %q: %w", jobID, err)
	}

	g.metrics.IncAllowed(tier)
	g.logger.Info("import job admitted",
		log.String("user_id", userID), log.String("job_id", jobID),
		log.String("tier", tier.String()), log.Int("requested_count", requestedCount))
	return tier, nil
}

// MarkFinished releases the reservation. Safe to call more than once and
// safe to call for a reservation that never succeeded: both deletions are
// idempotent. Errors on either step are returned but the second step runs
// regardless of the first one's outcome — the expiry listener backstops
// whatever is left behind.
func (g *Guard) MarkFinished(ctx context.Context, userID string, tier Tier, jobID string) error {
	var firstErr error
	if err := g.store.Delete(ctx, JobSafetyKey(userID, tier, jobID)); err != nil {
		firstErr = err
		g.logger.Warn("delete safety key failed, TTL will reclaim it",
			log.String("job_id", jobID), log.Error(err))
	}
	if err := g.store.SetRemove(ctx, RunningJobsKey(userID, tier), jobID); err != nil {
		if firstErr == nil {
			firstErr = err
		}
		g.logger.Warn("remove job from running set failed, listener will reclaim it",
			log.String("job_id", jobID), log.Error(err))
	}
	return firstErr
}

func (g *Guard) checkCooldown(ctx context.Context, userID string) error {
	key := CooldownKey(userID)
	val, ok, err := g.store.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("check cooldown for user %q: %w", userID, err)
	}
	if !ok {
		return nil
	}
	remaining, err := g.store.TTLSeconds(ctx, key)
	if err != nil {
		return fmt.Errorf("cooldown ttl for user %q: %w", userID, err)
	}
	total := int64(0)
	cooldownTier := TierXL
	if t, parseErr := ParseTier(val); parseErr == nil {
		cooldownTier = t
		total = int64(g.tiers.Cooldown(t) / time.Second)
	}
	g.metrics.IncRejectedCooldown()
	return &CooldownActiveError{Tier: cooldownTier, TotalSeconds: total, RemainingSeconds: remaining}
}

// startCooldown writes the cooldown key after a concurrency rejection. The
// window tells the user to back off instead of hammering a full tier. Write
// failures are logged and dropped: the rejection itself already stands.
func (g *Guard) startCooldown(ctx context.Context, userID string, tier Tier) {
	cooldown := g.tiers.Cooldown(tier)
	if cooldown <= 0 {
		return
	}
	if err := g.store.SetWithTTL(ctx, CooldownKey(userID), tier.String(), cooldown); err != nil {
		g.logger.Warn("write cooldown key failed",
			log.String("user_id", userID), log.String("tier", tier.String()), log.Error(err))
	}
}
