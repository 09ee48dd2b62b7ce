package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viboost/comment-engine-go/internal/model"
)

func accountsNamed(ids ...string) []model.Account {
	out := make([]model.Account, len(ids))
	for i, id := range ids {
		out[i] = model.Account{ID: id, Status: model.AccountStatusActive}
	}
	return out
}

func TestSelectorSingleCandidate(t *testing.T) {
	selector := NewSelector(nil, NewUsageTracker())
	last := "a1"
	schedule := &model.Schedule{ID: "s1", LastUsedAccountID: &last}

	// With exactly one candidate the previous-account rule relaxes.
	picked, err := selector.Pick(context.Background(), schedule, accountsNamed("a1"), "v1")
	require.NoError(t, err)
	assert.Equal(t, "a1", picked.ID)
}

func TestSelectorNeverRepeatsPreviousAccount(t *testing.T) {
	selector := NewSelector(nil, NewUsageTracker())
	last := "a1"
	schedule := &model.Schedule{ID: "s1", LastUsedAccountID: &last}

	for i := 0; i < 50; i++ {
		picked, err := selector.Pick(context.Background(), schedule, accountsNamed("a1", "a2", "a3"), "v1")
		require.NoError(t, err)
		assert.NotEqual(t, "a1", picked.ID)
	}
}

func TestSelectorEmptyPool(t *testing.T) {
	selector := NewSelector(nil, NewUsageTracker())
	schedule := &model.Schedule{ID: "s1"}

	_, err := selector.Pick(context.Background(), schedule, nil, "v1")
	assert.Error(t, err)
}

func TestSelectorWeightsAgainstRecentUse(t *testing.T) {
	tracker := NewUsageTracker()
	selector := NewSelector(nil, tracker)
	schedule := &model.Schedule{ID: "s1"}

	// a1 has burned its weight down to the floor; a2 is untouched.
	tracker.Seed("s1", "a1", 19)

	counts := map[string]int{}
	for i := 0; i < 1000; i++ {
		picked, err := selector.Pick(context.Background(), schedule, accountsNamed("a1", "a2"), "v1")
		require.NoError(t, err)
		counts[picked.ID]++
	}

	// Weights 1 vs 20: a2 should dominate heavily.
	assert.Greater(t, counts["a2"], counts["a1"]*5)
}

func TestUsageTrackerCompact(t *testing.T) {
	tracker := NewUsageTracker()
	for i := 0; i < 10; i++ {
		tracker.RecordUse("s1", "hot")
	}
	tracker.RecordUse("s1", "cold")

	tracker.Compact(50)

	assert.Equal(t, 5, tracker.RecentUse("s1", "hot"))
	assert.Equal(t, 0, tracker.RecentUse("s1", "cold"))
}

func TestUsageTrackerCompactTrimsToTop(t *testing.T) {
	tracker := NewUsageTracker()
	tracker.Seed("s1", "a", 10)
	tracker.Seed("s1", "b", 8)
	tracker.Seed("s1", "c", 1)

	tracker.Compact(2)

	assert.Equal(t, 5, tracker.RecentUse("s1", "a"))
	assert.Equal(t, 4, tracker.RecentUse("s1", "b"))
	assert.Equal(t, 0, tracker.RecentUse("s1", "c"))
}

func TestUsageTrackerDropSchedule(t *testing.T) {
	tracker := NewUsageTracker()
	tracker.RecordUse("s1", "a")
	tracker.DropSchedule("s1")
	assert.Equal(t, 0, tracker.RecentUse("s1", "a"))
}
