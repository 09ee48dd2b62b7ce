package service

import (
	"context"
	"math/rand"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/viboost/comment-engine-go/internal/cache"
	"github.com/viboost/comment-engine-go/internal/config"
	apperrors "github.com/viboost/comment-engine-go/internal/errors"
	"github.com/viboost/comment-engine-go/internal/model"
	redisclient "github.com/viboost/comment-engine-go/internal/redis"
)

// UsageTracker counts recent dispatches per account within a schedule. It is
// process-local and size-capped: Compact keeps the hottest entries and
// halves their counts so old usage decays.
type UsageTracker struct {
	mu    sync.Mutex
	usage map[string]map[string]int
}

func NewUsageTracker() *UsageTracker {
	return &UsageTracker{usage: make(map[string]map[string]int)}
}

func (t *UsageTracker) RecentUse(scheduleID, accountID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.usage[scheduleID][accountID]
}

func (t *UsageTracker) RecordUse(scheduleID, accountID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	perSchedule, ok := t.usage[scheduleID]
	if !ok {
		perSchedule = make(map[string]int)
		t.usage[scheduleID] = perSchedule
	}
	perSchedule[accountID]++
}

// Seed sets an exact count, for tests and reconciliation.
func (t *UsageTracker) Seed(scheduleID, accountID string, count int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	perSchedule, ok := t.usage[scheduleID]
	if !ok {
		perSchedule = make(map[string]int)
		t.usage[scheduleID] = perSchedule
	}
	perSchedule[accountID] = count
}

func (t *UsageTracker) DropSchedule(scheduleID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.usage, scheduleID)
}

// Compact bounds memory: per schedule, keep the keepTop most-used accounts
// and halve every surviving count.
func (t *UsageTracker) Compact(keepTop int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for scheduleID, perSchedule := range t.usage {
		if len(perSchedule) > keepTop {
			type entry struct {
				id    string
				count int
			}
			entries := make([]entry, 0, len(perSchedule))
			for id, count := range perSchedule {
				entries = append(entries, entry{id, count})
			}
			sort.Slice(entries, func(i, j int) bool { return entries[i].count > entries[j].count })
			trimmed := make(map[string]int, keepTop)
			for _, e := range entries[:keepTop] {
				trimmed[e.id] = e.count
			}
			perSchedule = trimmed
			t.usage[scheduleID] = perSchedule
		}
		for id, count := range perSchedule {
			perSchedule[id] = count / 2
		}
	}
}

// Selector picks the account for the next dispatch: never the schedule's
// previous account when avoidable, not the last account seen on the same
// video, weighted toward the least recently used.
type Selector struct {
	cache   *cache.Cache
	tracker *UsageTracker
	rng     *rand.Rand
}

func NewSelector(c *cache.Cache, tracker *UsageTracker) *Selector {
	return &Selector{
		cache:   c,
		tracker: tracker,
		rng:     rand.New(rand.NewSource(rand.Int63())),
	}
}

func (s *Selector) Tracker() *UsageTracker {
	return s.tracker
}

// Pick chooses the next account. Constraints relax in reverse order when
// they would eliminate every candidate: first the same-video exclusion,
// then the previous-account exclusion.
func (s *Selector) Pick(ctx context.Context, schedule *model.Schedule, candidates []model.Account, videoID string) (*model.Account, error) {
	if len(candidates) == 0 {
		return nil, apperrors.NotFound("eligible account")
	}
	if len(candidates) == 1 {
		return &candidates[0], nil
	}

	pool := candidates
	if schedule.LastUsedAccountID != nil {
		filtered := exclude(pool, *schedule.LastUsedAccountID)
		if len(filtered) > 0 {
			pool = filtered
		}
	}

	videoLast := ""
	if s.cache != nil {
		var err error
		videoLast, err = s.cache.GetMarker(ctx, redisclient.VideoLastAccountKey(schedule.ID, videoID))
		if err != nil {
			log.Warn().Err(err).Str("scheduleId", schedule.ID).Msg("last-account marker lookup failed")
		}
	}
	if videoLast != "" {
		filtered := exclude(pool, videoLast)
		if len(filtered) > 0 {
			pool = filtered
		} else {
			log.Warn().
				Str("scheduleId", schedule.ID).
				Str("videoId", videoID).
				Msg("relaxing same-video account exclusion, pool exhausted")
		}
	}

	return s.weightedPick(schedule.ID, pool), nil
}

func (s *Selector) weightedPick(scheduleID string, pool []model.Account) *model.Account {
	weights := make([]int, len(pool))
	total := 0
	for i, account := range pool {
		w := config.SelectorBaseWeight - s.tracker.RecentUse(scheduleID, account.ID)
		if w < 1 {
			w = 1
		}
		weights[i] = w
		total += w
	}

	n := s.rng.Intn(total)
	for i, w := range weights {
		n -= w
		if n < 0 {
			return &pool[i]
		}
	}
	return &pool[len(pool)-1]
}

func exclude(pool []model.Account, id string) []model.Account {
	out := make([]model.Account, 0, len(pool))
	for _, account := range pool {
		if account.ID != id {
			out = append(out, account)
		}
	}
	return out
}
