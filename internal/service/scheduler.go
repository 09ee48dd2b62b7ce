package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/viboost/comment-engine-go/internal/config"
	apperrors "github.com/viboost/comment-engine-go/internal/errors"
	"github.com/viboost/comment-engine-go/internal/model"
	"github.com/viboost/comment-engine-go/internal/queue"
	"github.com/viboost/comment-engine-go/internal/repository"
)

// Scheduler is the schedule driver: it turns each active schedule into its
// concrete future jobs. Cron entries for recurring schedules live in an
// explicit registry owned by the driver, created on Start and torn down on
// Stop; there is no process-global job table.
type Scheduler struct {
	schedules repository.ScheduleRepository
	queue     *queue.Queue
	cron      *cron.Cron

	mu          sync.Mutex
	cronEntries map[string]cron.EntryID
}

func NewScheduler(schedules repository.ScheduleRepository, q *queue.Queue) *Scheduler {
	return &Scheduler{
		schedules:   schedules,
		queue:       q,
		cron:        cron.New(),
		cronEntries: make(map[string]cron.EntryID),
	}
}

// Start re-materialises jobs for every active schedule and starts the cron
// runner. A restart resumes interval chains from their persisted nextRunAt.
func (s *Scheduler) Start(ctx context.Context) error {
	schedules, err := s.schedules.FindAllActive(ctx)
	if err != nil {
		return fmt.Errorf("load active schedules: %w", err)
	}

	for _, schedule := range schedules {
		if err := s.SetupScheduleJob(ctx, schedule.ID); err != nil {
			log.Error().Err(err).Str("scheduleId", schedule.ID).Msg("could not set up schedule job")
		}
	}

	s.cron.Start()
	log.Info().Int("schedules", len(schedules)).Msg("schedule driver started")
	return nil
}

// Stop halts the cron runner and waits for entries in flight.
func (s *Scheduler) Stop(ctx context.Context) {
	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
	}
	log.Info().Msg("schedule driver stopped")
}

// SetupScheduleJob materialises the next job for one schedule according to
// its type. Safe to call repeatedly: job ids are deterministic, so an
// already-configured chain is not duplicated.
func (s *Scheduler) SetupScheduleJob(ctx context.Context, scheduleID string) error {
	schedule, err := s.schedules.FindByID(ctx, scheduleID)
	if err != nil {
		return apperrors.Database(err)
	}
	if schedule == nil || schedule.Status != model.ScheduleStatusActive {
		return nil
	}

	now := time.Now()
	if schedule.Sleeping(now) {
		// The sleep window's follow-up job is already outstanding.
		return nil
	}

	switch schedule.ScheduleType {
	case model.ScheduleTypeImmediate:
		return s.enqueueProcessing(ctx, schedule.ID, "immediate-"+schedule.ID, 0)

	case model.ScheduleTypeOnce:
		var delay time.Duration
		if schedule.StartDate != nil && schedule.StartDate.After(now) {
			delay = schedule.StartDate.Sub(now)
		}
		return s.enqueueProcessing(ctx, schedule.ID, "once-"+schedule.ID, delay)

	case model.ScheduleTypeRecurring:
		return s.registerCron(schedule)

	case model.ScheduleTypeInterval:
		return s.setupIntervalJob(ctx, schedule, now)

	default:
		return apperrors.InvalidInput("scheduleType", string(schedule.ScheduleType))
	}
}

// setupIntervalJob resolves the first delay of an interval chain: a stored
// future nextRunAt wins, then a future startDate, then one full interval
// for a schedule that has never posted, otherwise fire now.
func (s *Scheduler) setupIntervalJob(ctx context.Context, schedule *model.Schedule, now time.Time) error {
	var delay time.Duration

	switch {
	case schedule.NextRunAt != nil && schedule.NextRunAt.After(now):
		delay = schedule.NextRunAt.Sub(now)
	case schedule.StartDate != nil && schedule.StartDate.After(now):
		delay = schedule.StartDate.Sub(now)
	case schedule.PostedComments == 0:
		delay = time.Duration(schedule.Interval.Millis()) * time.Millisecond
	default:
		delay = 0
	}

	fireAt := now.Add(delay)
	jobID := fmt.Sprintf("interval-%s-%d", schedule.ID, fireAt.UnixMilli())
	if err := s.enqueueProcessing(ctx, schedule.ID, jobID, delay); err != nil {
		return err
	}
	if err := s.schedules.SetNextRunAt(ctx, schedule.ID, &fireAt); err != nil {
		return apperrors.Database(err)
	}
	return nil
}

func (s *Scheduler) registerCron(schedule *model.Schedule) error {
	if schedule.CronExpression == nil || *schedule.CronExpression == "" {
		return apperrors.MissingRequired("cronExpression")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.cronEntries[schedule.ID]; exists {
		return nil
	}

	scheduleID := schedule.ID
	entryID, err := s.cron.AddFunc(*schedule.CronExpression, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		jobID := fmt.Sprintf("recurring-%s-%d", scheduleID, time.Now().UnixMilli())
		if err := s.enqueueProcessing(ctx, scheduleID, jobID, 0); err != nil {
			log.Error().Err(err).Str("scheduleId", scheduleID).Msg("cron trigger could not enqueue batch")
		}
	})
	if err != nil {
		return apperrors.InvalidInput("cronExpression", err.Error())
	}

	s.cronEntries[schedule.ID] = entryID
	log.Info().
		Str("scheduleId", schedule.ID).
		Str("cron", *schedule.CronExpression).
		Msg("recurring schedule registered")
	return nil
}

func (s *Scheduler) enqueueProcessing(ctx context.Context, scheduleID, jobID string, delay time.Duration) error {
	_, err := s.queue.Enqueue(ctx, config.QueueScheduleProcessing, ProcessSchedulePayload{ScheduleID: scheduleID}, queue.EnqueueOptions{
		JobID:            jobID,
		Delay:            delay,
		MaxAttempts:      config.TransientAttempts,
		RemoveOnComplete: true,
	})
	if err != nil {
		if apperrors.HasCode(err, apperrors.ErrCodeDuplicateJob) {
			log.Debug().Str("jobId", jobID).Msg("schedule job already queued")
			return nil
		}
		return err
	}

	log.Info().
		Str("scheduleId", scheduleID).
		Str("jobId", jobID).
		Dur("delay", delay).
		Msg("schedule job queued")
	return nil
}

// RemoveScheduleJobs tears down everything outstanding for a schedule:
// its cron entry and any queued or delayed processing jobs.
func (s *Scheduler) RemoveScheduleJobs(ctx context.Context, scheduleID string) error {
	s.mu.Lock()
	if entryID, ok := s.cronEntries[scheduleID]; ok {
		s.cron.Remove(entryID)
		delete(s.cronEntries, scheduleID)
	}
	s.mu.Unlock()

	ids, err := s.queue.DelayedJobIDs(ctx, config.QueueScheduleProcessing)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if jobBelongsToSchedule(id, scheduleID) {
			if err := s.queue.Remove(ctx, config.QueueScheduleProcessing, id); err != nil {
				return err
			}
		}
	}

	for _, id := range []string{"immediate-" + scheduleID, "once-" + scheduleID} {
		if err := s.queue.Remove(ctx, config.QueueScheduleProcessing, id); err != nil {
			return err
		}
	}
	return nil
}

// RegisteredCronSchedules lists schedule ids with live cron entries; the
// maintenance loop prunes orphans against it.
func (s *Scheduler) RegisteredCronSchedules() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.cronEntries))
	for id := range s.cronEntries {
		ids = append(ids, id)
	}
	return ids
}

// DropCronEntry removes one registered cron trigger.
func (s *Scheduler) DropCronEntry(scheduleID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entryID, ok := s.cronEntries[scheduleID]; ok {
		s.cron.Remove(entryID)
		delete(s.cronEntries, scheduleID)
		log.Info().Str("scheduleId", scheduleID).Msg("orphan cron entry dropped")
	}
}

func jobBelongsToSchedule(jobID, scheduleID string) bool {
	return strings.HasPrefix(jobID, "interval-"+scheduleID+"-") ||
		strings.HasPrefix(jobID, "recurring-"+scheduleID+"-") ||
		jobID == "immediate-"+scheduleID ||
		jobID == "once-"+scheduleID
}
