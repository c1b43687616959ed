package ratelimit

import (
	"fmt"
	"strings"
)

// Redis key layout:
//
//	user:{userId}:{tier}:jobs    set of running job ids for (user, tier)
//	job:{userId}:{tier}:{jobId}  per-job safety key, TTL-bounded
//	user:{userId}:cooldown       per-user cooldown, TTL-bounded
//
// User and job ids are opaque text and must not contain colons; the HTTP
// boundary rejects them before they reach this package.

const jobSafetyKeyPrefix = "job:"

// RunningJobsKey returns the key of the set holding the running job ids
// for the given user and tier. Set cardinality is the authoritative
// concurrency count.
func RunningJobsKey(userID string, tier Tier) string {
	return "user:" + userID + ":" + tier.String() + ":jobs"
}

// JobSafetyKey returns the key whose presence marks a live reservation.
// Its expiry signals a crashed job to the expiry listener.
func JobSafetyKey(userID string, tier Tier, jobID string) string {
	return jobSafetyKeyPrefix + userID + ":" + tier.String() + ":" + jobID
}

// CooldownKey returns the key whose presence blocks all admissions for the user.
func CooldownKey(userID string) string {
	return "user:" + userID + ":cooldown"
}

// parseRunningJobsKey splits a running-set key produced by RunningJobsKey.
func parseRunningJobsKey(key string) (userID string, tier Tier, err error) {
	parts := strings.Split(key, ":")
	if len(parts) != 4 || parts[0] != "user" || parts[3] != "jobs" {
		return "", 0, fmt.Errorf("key %q is not a running-jobs set key", key)
	}
	tier, err = ParseTier(parts[2])
	if err != nil {
		return "", 0, fmt.Errorf("key %q: %w", key, err)
	}
	return parts[1], tier, nil
}

// ParsedJobSafetyKey is the result of splitting an expired safety key.
type ParsedJobSafetyKey struct {
	UserID string
	Tier   Tier
	JobID  string
}

// ParseJobSafetyKey splits a safety key back into its parts.
// Redis publishes expiry events for every key in the database, so the
// caller must treat a parse error as "not ours" and move on.
func ParseJobSafetyKey(key string) (ParsedJobSafetyKey, error) {
	if !strings.HasPrefix(key, jobSafetyKeyPrefix) {
		return ParsedJobSafetyKey{}, fmt.Errorf("key %q has no %q prefix", key, jobSafetyKeyPrefix)
	}
	parts := strings.Split(key, ":")
	if len(parts) != 4 {
		return ParsedJobSafetyKey{}, fmt.Errorf("key %q has %d segments, want 4", key, len(parts))
	}
	tier, err := ParseTier(parts[2])
	if err != nil {
		return ParsedJobSafetyKey{}, fmt.Errorf("key %q: %w", key, err)
	}
	return ParsedJobSafetyKey{UserID: parts[1], Tier: tier, JobID: parts[3]}, nil
}
