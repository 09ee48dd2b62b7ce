package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/viboost/comment-engine-go/internal/model"
)

func intervalSchedule() *model.Schedule {
	return &model.Schedule{
		ID:           "s1",
		Status:       model.ScheduleStatusActive,
		ScheduleType: model.ScheduleTypeInterval,
		Interval:     model.Interval{Every: 2, Unit: model.IntervalUnitMinutes},
	}
}

func TestSleeperTriggersAtLimit(t *testing.T) {
	repo := new(mockScheduleRepo)
	sleeper := NewSleeper(repo)

	schedule := intervalSchedule()
	schedule.PostedComments = 5
	schedule.LimitComments = model.LimitComments{Threshold: 5}
	schedule.MinDelay = 3
	schedule.MaxDelay = 7

	repo.On("SetSleepWindow", mock.Anything, "s1", mock.AnythingOfType("int"), mock.AnythingOfType("time.Time"), 5).Return(nil)

	ms, sleeping, err := sleeper.Evaluate(context.Background(), schedule)
	require.NoError(t, err)
	assert.True(t, sleeping)

	minutes := ms / (60 * 1000)
	assert.GreaterOrEqual(t, minutes, int64(3))
	assert.LessOrEqual(t, minutes, int64(7))
	assert.Equal(t, 5, schedule.LastSleepTriggerCount)
	repo.AssertExpectations(t)
}

func TestSleeperGuardPreventsRetrigger(t *testing.T) {
	repo := new(mockScheduleRepo)
	sleeper := NewSleeper(repo)

	schedule := intervalSchedule()
	schedule.PostedComments = 5
	schedule.LimitComments = model.LimitComments{Threshold: 5}
	schedule.LastSleepTriggerCount = 5

	ms, sleeping, err := sleeper.Evaluate(context.Background(), schedule)
	require.NoError(t, err)
	assert.False(t, sleeping, "same posted count must not re-enter sleep")
	assert.Equal(t, int64(2*60*1000), ms)
	repo.AssertNotCalled(t, "SetSleepWindow", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestSleeperNoTriggerOffModulo(t *testing.T) {
	repo := new(mockScheduleRepo)
	sleeper := NewSleeper(repo)

	schedule := intervalSchedule()
	schedule.PostedComments = 4
	schedule.LimitComments = model.LimitComments{Threshold: 5}

	_, sleeping, err := sleeper.Evaluate(context.Background(), schedule)
	require.NoError(t, err)
	assert.False(t, sleeping)
}

func TestSleeperStillInsideWindow(t *testing.T) {
	repo := new(mockScheduleRepo)
	sleeper := NewSleeper(repo)

	start := time.Now().Add(-2 * time.Minute)
	schedule := intervalSchedule()
	schedule.SleepDelayMinutes = 10
	schedule.SleepDelayStartTime = &start

	ms, sleeping, err := sleeper.Evaluate(context.Background(), schedule)
	require.NoError(t, err)
	assert.True(t, sleeping)
	// Roughly eight minutes remain.
	assert.InDelta(t, 8*60*1000, ms, 5000)
}

func TestSleeperWakeRedrawsRandomLimit(t *testing.T) {
	repo := new(mockScheduleRepo)
	sleeper := NewSleeper(repo)

	start := time.Now().Add(-20 * time.Minute)
	schedule := intervalSchedule()
	schedule.SleepDelayMinutes = 5
	schedule.SleepDelayStartTime = &start
	schedule.LimitComments = model.LimitComments{Threshold: 5, Min: 4, Max: 9, IsRandom: true}
	schedule.LastSleepTriggerCount = 5
	schedule.PostedComments = 5

	repo.On("ClearSleepWindow", mock.Anything, "s1").Return(nil)
	repo.On("UpdateLimitComments", mock.Anything, "s1", mock.MatchedBy(func(l model.LimitComments) bool {
		return l.Threshold >= 4 && l.Threshold <= 9
	})).Return(nil)

	_, sleeping, err := sleeper.Evaluate(context.Background(), schedule)
	require.NoError(t, err)
	assert.False(t, sleeping)
	assert.Equal(t, 0, schedule.SleepDelayMinutes)
	repo.AssertExpectations(t)
}

func TestSleeperRandomIntervalFixedBounds(t *testing.T) {
	repo := new(mockScheduleRepo)
	sleeper := NewSleeper(repo)

	schedule := intervalSchedule()
	schedule.Interval = model.Interval{Unit: model.IntervalUnitMinutes, IsRandom: true, Min: 4, Max: 4}

	repo.On("UpdateInterval", mock.Anything, "s1", mock.Anything).Return(nil)

	ms, sleeping, err := sleeper.Evaluate(context.Background(), schedule)
	require.NoError(t, err)
	assert.False(t, sleeping)
	// min = max always yields exactly that value.
	assert.Equal(t, int64(4*60*1000), ms)
}

func TestRotationToSecondary(t *testing.T) {
	repo := new(mockScheduleRepo)
	sleeper := NewSleeper(repo)

	schedule := intervalSchedule()
	schedule.RotationEnabled = true
	schedule.CurrentlyActive = model.ActivePoolPrincipal
	schedule.PrincipalAccounts = []string{"p1", "p2", "p3", "p4", "p5", "p6"}
	schedule.SecondaryAccounts = []string{"x1", "x2", "x3"}
	schedule.PostedComments = 5
	schedule.LimitComments = model.LimitComments{Threshold: 5}
	schedule.MinDelay = 1
	schedule.MaxDelay = 1

	repo.On("SetSleepWindow", mock.Anything, "s1", mock.Anything, mock.Anything, 5).Return(nil)
	repo.On("ReplacePool", mock.Anything, "s1", mock.Anything, mock.Anything).Return(nil)
	repo.On("SetActivePool", mock.Anything, "s1", model.ActivePoolSecondary, mock.Anything).Return(nil)

	_, sleeping, err := sleeper.Evaluate(context.Background(), schedule)
	require.NoError(t, err)
	assert.True(t, sleeping)

	// k = min(ceil(0.3*6), 3) = 2: two principals out, two secondaries in.
	assert.Equal(t, model.ActivePoolSecondary, schedule.CurrentlyActive)
	assert.Len(t, schedule.SelectedAccounts, 6)
	assert.Len(t, schedule.RotatedPrincipal, 2)
	assert.Len(t, schedule.RotatedSecondary, 2)

	secondaries := 0
	for _, id := range schedule.SelectedAccounts {
		for _, sec := range []string{"x1", "x2", "x3"} {
			if id == sec {
				secondaries++
			}
		}
	}
	assert.Equal(t, 2, secondaries)
	repo.AssertExpectations(t)
}

func TestRotationBackToPrincipalOnWake(t *testing.T) {
	repo := new(mockScheduleRepo)
	sleeper := NewSleeper(repo)

	start := time.Now().Add(-30 * time.Minute)
	schedule := intervalSchedule()
	schedule.RotationEnabled = true
	schedule.CurrentlyActive = model.ActivePoolSecondary
	schedule.PrincipalAccounts = []string{"p1", "p2", "p3", "p4", "p5", "p6"}
	schedule.SecondaryAccounts = []string{"x1", "x2", "x3"}
	schedule.RotatedPrincipal = []string{"p1", "p2"}
	schedule.RotatedSecondary = []string{"x1", "x2"}
	schedule.SelectedAccounts = []string{"p3", "p4", "p5", "p6", "x1", "x2"}
	schedule.SleepDelayMinutes = 5
	schedule.SleepDelayStartTime = &start
	schedule.PostedComments = 5
	schedule.LastSleepTriggerCount = 5
	schedule.LimitComments = model.LimitComments{Threshold: 5}

	repo.On("ClearSleepWindow", mock.Anything, "s1").Return(nil)
	repo.On("ReplacePool", mock.Anything, "s1", mock.Anything, mock.Anything).Return(nil)
	repo.On("SetActivePool", mock.Anything, "s1", model.ActivePoolPrincipal, mock.Anything).Return(nil)

	_, sleeping, err := sleeper.Evaluate(context.Background(), schedule)
	require.NoError(t, err)
	assert.False(t, sleeping)

	// Wake restores the full principal roster.
	assert.Equal(t, model.ActivePoolPrincipal, schedule.CurrentlyActive)
	assert.ElementsMatch(t, schedule.PrincipalAccounts, schedule.SelectedAccounts)
	// The benched principals stay recorded so the next swap-out prefers
	// different ones.
	assert.Equal(t, []string{"p1", "p2"}, schedule.RotatedPrincipal)
	repo.AssertExpectations(t)
}

func TestRotationPrefersUntouchedPrincipals(t *testing.T) {
	repo := new(mockScheduleRepo)
	sleeper := NewSleeper(repo)

	schedule := intervalSchedule()
	schedule.RotationEnabled = true
	schedule.CurrentlyActive = model.ActivePoolPrincipal
	schedule.PrincipalAccounts = []string{"p1", "p2", "p3", "p4", "p5", "p6"}
	schedule.SecondaryAccounts = []string{"x1", "x2", "x3"}
	schedule.RotatedPrincipal = []string{"p1", "p2"}
	schedule.PostedComments = 10
	schedule.LimitComments = model.LimitComments{Threshold: 5}
	schedule.LastSleepTriggerCount = 5
	schedule.MinDelay = 1
	schedule.MaxDelay = 1

	repo.On("SetSleepWindow", mock.Anything, "s1", mock.Anything, mock.Anything, 10).Return(nil)
	repo.On("ReplacePool", mock.Anything, "s1", mock.Anything, mock.Anything).Return(nil)
	repo.On("SetActivePool", mock.Anything, "s1", model.ActivePoolSecondary, mock.Anything).Return(nil)

	_, _, err := sleeper.Evaluate(context.Background(), schedule)
	require.NoError(t, err)

	// Four untouched principals exist, so the two benched this cycle must
	// come from them.
	for _, id := range schedule.RotatedPrincipal {
		assert.NotContains(t, []string{"p1", "p2"}, id)
	}
}
