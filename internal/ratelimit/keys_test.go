package ratelimit

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKeyFormats(t *testing.T) {
	require.Equal(t, "user:u1:SMALL:jobs", RunningJobsKey("u1", TierSmall))
	require.Equal(t, "job:u1:LARGE:J1", JobSafetyKey("u1", TierLarge, "J1"))
	require.Equal(t, "user:u1:cooldown", CooldownKey("u1"))
}

func TestParseJobSafetyKey(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		parsed, err := ParseJobSafetyKey(JobSafetyKey("vasu", TierXL, "8f14e45f"))
		require.NoError(t, err)
		require.Equal(t, "vasu", parsed.UserID)
		require.Equal(t, TierXL, parsed.Tier)
		require.Equal(t, "8f14e45f", parsed.JobID)
	})

	t.Run("wrong prefix", func(t *testing.T) {
		_, err := ParseJobSafetyKey("user:u1:cooldown")
		require.Error(t, err)
	})

	t.Run("wrong segment count", func(t *testing.T) {
		_, err := ParseJobSafetyKey("job:weirdkey")
		require.Error(t, err)
		_, err = ParseJobSafetyKey("job:u:SMALL:J:extra")
		require.Error(t, err)
	})

	t.Run("unknown tier", func(t *testing.T) {
		_, err := ParseJobSafetyKey("job:u:BOGUS:J")
		require.Error(t, err)
	})
}

func TestParseRunningJobsKey(t *testing.T) {
	userID, tier, err := parseRunningJobsKey("user:u2:MEDIUM:jobs")
	require.NoError(t, err)
	require.Equal(t, "u2", userID)
	require.Equal(t, TierMedium, tier)

	_, _, err = parseRunningJobsKey("user:u2:cooldown")
	require.Error(t, err)
	_, _, err = parseRunningJobsKey("user:u2:BOGUS:jobs")
	require.Error(t, err)
}
