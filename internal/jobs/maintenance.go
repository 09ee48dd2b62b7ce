package jobs

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/viboost/comment-engine-go/internal/cache"
	"github.com/viboost/comment-engine-go/internal/config"
	"github.com/viboost/comment-engine-go/internal/model"
	"github.com/viboost/comment-engine-go/internal/queue"
	redisclient "github.com/viboost/comment-engine-go/internal/redis"
	"github.com/viboost/comment-engine-go/internal/repository"
	"github.com/viboost/comment-engine-go/internal/service"
)

// Runner owns the three background loops: queue maintenance every ten
// minutes, counter reconciliation every thirty, and the daily reset at
// midnight in the configured timezone.
type Runner struct {
	cron *cron.Cron

	queue     *queue.Queue
	cache     *cache.Cache
	scheduler *service.Scheduler
	tracker   *service.UsageTracker

	schedules repository.ScheduleRepository
	comments  repository.CommentRepository
	accounts  repository.AccountRepository
	profiles  repository.APIProfileRepository
}

func NewRunner(
	loc *time.Location,
	q *queue.Queue,
	c *cache.Cache,
	scheduler *service.Scheduler,
	tracker *service.UsageTracker,
	schedules repository.ScheduleRepository,
	comments repository.CommentRepository,
	accounts repository.AccountRepository,
	profiles repository.APIProfileRepository,
) *Runner {
	return &Runner{
		cron:      cron.New(cron.WithLocation(loc)),
		queue:     q,
		cache:     c,
		scheduler: scheduler,
		tracker:   tracker,
		schedules: schedules,
		comments:  comments,
		accounts:  accounts,
		profiles:  profiles,
	}
}

func (r *Runner) Start() error {
	if _, err := r.cron.AddFunc("@every "+config.MaintenanceInterval.String(), r.runMaintenance); err != nil {
		return err
	}
	if _, err := r.cron.AddFunc("@every "+config.ReconciliationInterval.String(), r.runReconciliation); err != nil {
		return err
	}
	if _, err := r.cron.AddFunc("0 0 * * *", r.runDailyReset); err != nil {
		return err
	}

	r.cron.Start()
	log.Info().Msg("maintenance loops started")
	return nil
}

func (r *Runner) Stop() {
	<-r.cron.Stop().Done()
	log.Info().Msg("maintenance loops stopped")
}

// runMaintenance clears exhausted job residue, prunes cron entries whose
// schedule is gone or no longer active, and compacts the in-process usage
// counters.
func (r *Runner) runMaintenance() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	for _, name := range []string{config.QueueScheduleProcessing, config.QueuePostComment, config.QueueSimulateView} {
		drained, err := r.queue.DrainDead(ctx, name)
		if err != nil {
			log.Error().Err(err).Str("queue", name).Msg("dead-letter drain failed")
		} else if drained > 0 {
			log.Info().Int64("count", drained).Str("queue", name).Msg("drained dead jobs")
		}
	}

	for _, scheduleID := range r.scheduler.RegisteredCronSchedules() {
		schedule, err := r.schedules.FindByID(ctx, scheduleID)
		if err != nil {
			log.Error().Err(err).Str("scheduleId", scheduleID).Msg("orphan check failed")
			continue
		}
		if schedule == nil || schedule.Status != model.ScheduleStatusActive {
			r.scheduler.DropCronEntry(scheduleID)
		}
	}

	r.tracker.Compact(config.UsageTrackerKeepTop)
}

// runReconciliation rewrites schedule counters from the comment rows
// whenever they have drifted.
func (r *Runner) runReconciliation() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	ids, err := r.schedules.FindAllIDs(ctx)
	if err != nil {
		log.Error().Err(err).Msg("reconciliation could not list schedules")
		return
	}

	fixed := 0
	for _, id := range ids {
		schedule, err := r.schedules.FindByID(ctx, id)
		if err != nil || schedule == nil {
			continue
		}
		counts, err := r.comments.CountsBySchedule(ctx, id)
		if err != nil {
			log.Error().Err(err).Str("scheduleId", id).Msg("could not count comments")
			continue
		}
		if counts.Total == schedule.TotalComments &&
			counts.Posted == schedule.PostedComments &&
			counts.Failed == schedule.FailedComments {
			continue
		}

		if err := r.schedules.SetCounters(ctx, id, counts.Total, counts.Posted, counts.Failed); err != nil {
			log.Error().Err(err).Str("scheduleId", id).Msg("could not write reconciled counters")
			continue
		}
		if err := r.cache.Invalidate(ctx, redisclient.ScheduleCacheKey(id)); err != nil {
			log.Warn().Err(err).Str("scheduleId", id).Msg("cache invalidation failed")
		}
		fixed++
		log.Warn().
			Str("scheduleId", id).
			Int("total", counts.Total).
			Int("posted", counts.Posted).
			Int("failed", counts.Failed).
			Msg("schedule counters reconciled")
	}

	if fixed > 0 {
		log.Info().Int("schedules", fixed).Msg("reconciliation pass corrected drifted counters")
	}
}

// runDailyReset restores quota and account health at local midnight, then
// re-materialises jobs for every schedule the reset reactivated.
func (r *Runner) runDailyReset() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	profiles, err := r.profiles.ResetAll(ctx)
	if err != nil {
		log.Error().Err(err).Msg("daily quota reset failed")
	}

	accounts, err := r.accounts.ReactivateAll(ctx)
	if err != nil {
		log.Error().Err(err).Msg("daily account reactivation failed")
	}

	reactivated, err := r.schedules.ReactivateErrored(ctx)
	if err != nil {
		log.Error().Err(err).Msg("daily schedule reactivation failed")
	}
	for _, scheduleID := range reactivated {
		if err := r.scheduler.SetupScheduleJob(ctx, scheduleID); err != nil {
			log.Error().Err(err).Str("scheduleId", scheduleID).Msg("could not re-materialise reactivated schedule")
		}
	}

	log.Info().
		Int64("profiles", profiles).
		Int64("accounts", accounts).
		Int("schedules", len(reactivated)).
		Msg("daily reset complete")
}
