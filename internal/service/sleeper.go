package service

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/viboost/comment-engine-go/internal/model"
	"github.com/viboost/comment-engine-go/internal/repository"
)

// Sleeper owns the sleep-and-rotation state machine. It runs at the start
// of every interval batch and decides the effective interval the driver
// waits before the next one.
type Sleeper struct {
	schedules repository.ScheduleRepository
	rng       *rand.Rand
}

func NewSleeper(schedules repository.ScheduleRepository) *Sleeper {
	return &Sleeper{
		schedules: schedules,
		rng:       rand.New(rand.NewSource(rand.Int63())),
	}
}

// Evaluate returns the effective interval in milliseconds for the follow-up
// job and whether the schedule is (now or still) inside a sleep window. A
// sleeping schedule dispatches nothing this batch.
func (s *Sleeper) Evaluate(ctx context.Context, schedule *model.Schedule) (int64, bool, error) {
	now := time.Now()

	if schedule.SleepExpired(now) {
		if err := s.wake(ctx, schedule); err != nil {
			return 0, false, err
		}
	} else if schedule.Sleeping(now) {
		// A batch fired inside the window (restart, early delivery).
		// Wait out the remainder.
		end := schedule.SleepDelayStartTime.Add(time.Duration(schedule.SleepDelayMinutes) * time.Minute)
		remaining := end.Sub(now).Milliseconds()
		if remaining < 1000 {
			remaining = 1000
		}
		return remaining, true, nil
	}

	posted := schedule.PostedComments
	limit := schedule.LimitComments.Threshold
	if limit > 0 && posted > 0 && posted%limit == 0 && schedule.LastSleepTriggerCount != posted {
		return s.enterSleep(ctx, schedule, posted)
	}

	return s.nextInterval(ctx, schedule)
}

// enterSleep sets the trigger guard and window atomically, rotates the
// active pool if configured, and hands the sleep duration back as the
// effective interval.
func (s *Sleeper) enterSleep(ctx context.Context, schedule *model.Schedule, posted int) (int64, bool, error) {
	minDelay, maxDelay := schedule.MinDelay, schedule.MaxDelay
	if minDelay <= 0 {
		minDelay = 1
	}
	if maxDelay < minDelay {
		maxDelay = minDelay
	}
	sleepMinutes := minDelay + s.rng.Intn(maxDelay-minDelay+1)

	start := time.Now()
	if err := s.schedules.SetSleepWindow(ctx, schedule.ID, sleepMinutes, start, posted); err != nil {
		return 0, false, err
	}
	schedule.SleepDelayMinutes = sleepMinutes
	schedule.SleepDelayStartTime = &start
	schedule.LastSleepTriggerCount = posted

	if schedule.RotationEnabled {
		if err := s.rotate(ctx, schedule); err != nil {
			return 0, false, err
		}
	}

	log.Info().
		Str("scheduleId", schedule.ID).
		Int("posted", posted).
		Int("sleepMinutes", sleepMinutes).
		Msg("schedule entering sleep window")

	return int64(sleepMinutes) * 60 * 1000, true, nil
}

// wake clears an expired window, redraws a random comment limit when
// configured, and rotates the principal pool back in.
func (s *Sleeper) wake(ctx context.Context, schedule *model.Schedule) error {
	if err := s.schedules.ClearSleepWindow(ctx, schedule.ID); err != nil {
		return err
	}
	schedule.SleepDelayMinutes = 0
	schedule.SleepDelayStartTime = nil

	if schedule.LimitComments.IsRandom && schedule.LimitComments.Max >= schedule.LimitComments.Min && schedule.LimitComments.Min > 0 {
		limit := schedule.LimitComments
		limit.Threshold = limit.Min + s.rng.Intn(limit.Max-limit.Min+1)
		if err := s.schedules.UpdateLimitComments(ctx, schedule.ID, limit); err != nil {
			return err
		}
		schedule.LimitComments = limit
	}

	if schedule.RotationEnabled && schedule.CurrentlyActive == model.ActivePoolSecondary {
		if err := s.rotate(ctx, schedule); err != nil {
			return err
		}
	}

	log.Info().Str("scheduleId", schedule.ID).Msg("sleep window over, schedule awake")
	return nil
}

// rotate swaps the active subset between the principal and secondary pools.
// Going to secondary, k principals sit out and k secondaries stand in;
// coming back, the full principal pool returns and the principals benched
// this cycle are remembered so the next swap-out prefers untouched ones.
func (s *Sleeper) rotate(ctx context.Context, schedule *model.Schedule) error {
	principal := schedule.PrincipalAccounts
	secondary := schedule.SecondaryAccounts
	if len(principal) == 0 || len(secondary) == 0 {
		log.Warn().Str("scheduleId", schedule.ID).Msg("rotation enabled but a pool is empty, skipping")
		return nil
	}

	k := int(math.Ceil(0.3 * float64(len(principal))))
	if k > len(secondary) {
		k = len(secondary)
	}

	now := time.Now()
	if schedule.CurrentlyActive == model.ActivePoolPrincipal {
		benched := s.pickPreferring(principal, schedule.RotatedPrincipal, k)
		subs := s.pickPreferring(secondary, schedule.RotatedSecondary, k)

		selected := make([]string, 0, len(principal))
		benchedSet := toSet(benched)
		for _, id := range principal {
			if !benchedSet[id] {
				selected = append(selected, id)
			}
		}
		selected = append(selected, subs...)

		if err := s.persistRotation(ctx, schedule.ID, selected, benched, subs, model.ActivePoolSecondary, now); err != nil {
			return err
		}
		schedule.SelectedAccounts = selected
		schedule.RotatedPrincipal = benched
		schedule.RotatedSecondary = subs
		schedule.CurrentlyActive = model.ActivePoolSecondary
	} else {
		// Back to the full principal roster. The benched set is kept so
		// the next swap-out prefers different principals.
		selected := append([]string(nil), principal...)
		if err := s.persistRotation(ctx, schedule.ID, selected, schedule.RotatedPrincipal, nil, model.ActivePoolPrincipal, now); err != nil {
			return err
		}
		schedule.SelectedAccounts = selected
		schedule.RotatedSecondary = nil
		schedule.CurrentlyActive = model.ActivePoolPrincipal
	}

	schedule.LastRotatedAt = &now
	log.Info().
		Str("scheduleId", schedule.ID).
		Str("activePool", string(schedule.CurrentlyActive)).
		Int("swapped", k).
		Msg("account pools rotated")
	return nil
}

func (s *Sleeper) persistRotation(
	ctx context.Context,
	scheduleID string,
	selected, rotatedPrincipal, rotatedSecondary []string,
	pool model.ActivePool,
	at time.Time,
) error {
	if err := s.schedules.ReplacePool(ctx, scheduleID, model.AccountRoleSelected, selected); err != nil {
		return err
	}
	if err := s.schedules.ReplacePool(ctx, scheduleID, model.AccountRoleRotatedPrincipal, rotatedPrincipal); err != nil {
		return err
	}
	if err := s.schedules.ReplacePool(ctx, scheduleID, model.AccountRoleRotatedSecondary, rotatedSecondary); err != nil {
		return err
	}
	return s.schedules.SetActivePool(ctx, scheduleID, pool, at)
}

// pickPreferring draws k random members, avoiding the previously-rotated
// set while enough untouched members exist.
func (s *Sleeper) pickPreferring(pool, avoid []string, k int) []string {
	avoidSet := toSet(avoid)
	preferred := make([]string, 0, len(pool))
	rest := make([]string, 0, len(pool))
	for _, id := range pool {
		if avoidSet[id] {
			rest = append(rest, id)
		} else {
			preferred = append(preferred, id)
		}
	}

	s.rng.Shuffle(len(preferred), func(i, j int) { preferred[i], preferred[j] = preferred[j], preferred[i] })
	s.rng.Shuffle(len(rest), func(i, j int) { rest[i], rest[j] = rest[j], rest[i] })

	picked := append(preferred, rest...)
	if k > len(picked) {
		k = len(picked)
	}
	return picked[:k]
}

// nextInterval is the non-trigger path: redraw a random interval when
// configured, then convert by unit.
func (s *Sleeper) nextInterval(ctx context.Context, schedule *model.Schedule) (int64, bool, error) {
	interval := schedule.Interval
	if interval.IsRandom && interval.Min > 0 && interval.Max >= interval.Min {
		interval.Every = interval.Min + s.rng.Intn(interval.Max-interval.Min+1)
		if err := s.schedules.UpdateInterval(ctx, schedule.ID, interval); err != nil {
			return 0, false, err
		}
		schedule.Interval = interval
	}
	return interval.Millis(), false, nil
}

func toSet(ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}
