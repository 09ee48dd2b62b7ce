package service

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/viboost/comment-engine-go/internal/cache"
	"github.com/viboost/comment-engine-go/internal/config"
	apperrors "github.com/viboost/comment-engine-go/internal/errors"
	"github.com/viboost/comment-engine-go/internal/model"
	"github.com/viboost/comment-engine-go/internal/queue"
	redisclient "github.com/viboost/comment-engine-go/internal/redis"
	"github.com/viboost/comment-engine-go/internal/repository"
)

// ProcessSchedulePayload is the body of one schedule-processing job.
type ProcessSchedulePayload struct {
	ScheduleID string `json:"scheduleId"`
}

// Processor runs one batch for one schedule: sleep evaluation, account
// selection, comment-row creation, staggered post-comment dispatch, and the
// recursive follow-up job that keeps an interval schedule alive.
type Processor struct {
	schedules repository.ScheduleRepository
	comments  repository.CommentRepository
	accounts  repository.AccountRepository
	profiles  repository.APIProfileRepository
	cache     *cache.Cache
	queue     *queue.Queue
	selector  *Selector
	sleeper   *Sleeper
	generator *Generator
	rng       *rand.Rand
}

func NewProcessor(
	schedules repository.ScheduleRepository,
	comments repository.CommentRepository,
	accounts repository.AccountRepository,
	profiles repository.APIProfileRepository,
	c *cache.Cache,
	q *queue.Queue,
	selector *Selector,
	sleeper *Sleeper,
	generator *Generator,
) *Processor {
	return &Processor{
		schedules: schedules,
		comments:  comments,
		accounts:  accounts,
		profiles:  profiles,
		cache:     c,
		queue:     q,
		selector:  selector,
		sleeper:   sleeper,
		generator: generator,
		rng:       rand.New(rand.NewSource(rand.Int63())),
	}
}

// HandleProcessSchedule is the schedule-processing queue handler.
func (p *Processor) HandleProcessSchedule(ctx context.Context, job *queue.Job) error {
	var payload ProcessSchedulePayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		log.Error().Err(err).Str("jobId", job.ID).Msg("undecodable schedule-processing payload")
		return nil
	}

	schedule, err := p.schedules.FindByIDWithPools(ctx, payload.ScheduleID)
	if err != nil {
		return apperrors.Database(err)
	}
	if schedule == nil || schedule.Status != model.ScheduleStatusActive {
		// Paused, completed or deleted since the job was queued. No
		// follow-up: the chain ends here.
		return nil
	}

	now := time.Now()
	if schedule.EndDate != nil && schedule.EndDate.Before(now) {
		if err := p.schedules.UpdateStatus(ctx, schedule.ID, model.ScheduleStatusCompleted, nil); err != nil {
			return apperrors.Database(err)
		}
		p.invalidateCache(ctx, schedule)
		log.Info().Str("scheduleId", schedule.ID).Msg("schedule end date passed, completed")
		return nil
	}

	// One handler per schedule at a time. The TTL expires before the next
	// recursive job fires, so a crashed holder cannot deadlock the chain.
	lockTTL := scheduleLockTTL(schedule.Interval.Millis())
	held, err := p.cache.AcquireLock(ctx, redisclient.ScheduleLockKey(schedule.ID), lockTTL)
	if err != nil {
		return apperrors.Database(err)
	}
	if !held {
		log.Warn().Str("scheduleId", schedule.ID).Msg("schedule already being processed, skipping")
		return nil
	}

	batchStart := time.Now()
	intervalMs, err := p.runBatch(ctx, schedule, batchStart)
	if err != nil {
		return p.recordBatchError(ctx, schedule, err)
	}

	if err := p.schedules.MarkProcessed(ctx, schedule.ID, batchStart); err != nil {
		log.Error().Err(err).Str("scheduleId", schedule.ID).Msg("could not mark schedule processed")
	}
	p.invalidateCache(ctx, schedule)

	if schedule.ScheduleType == model.ScheduleTypeInterval && schedule.Status == model.ScheduleStatusActive {
		return p.enqueueFollowUp(ctx, schedule.ID, intervalMs, batchStart)
	}
	return nil
}

// runBatch performs sleep evaluation and dispatch, returning the effective
// interval for the follow-up job.
func (p *Processor) runBatch(ctx context.Context, schedule *model.Schedule, batchStart time.Time) (int64, error) {
	if len(schedule.TargetVideos) == 0 {
		msg := "schedule has no target videos"
		if err := p.schedules.UpdateStatus(ctx, schedule.ID, model.ScheduleStatusRequiresReview, &msg); err != nil {
			return 0, err
		}
		schedule.Status = model.ScheduleStatusRequiresReview
		return 0, nil
	}
	if len(schedule.CommentTemplates) == 0 && !schedule.UseAI {
		msg := "schedule has no comment templates and AI is disabled"
		if err := p.schedules.UpdateStatus(ctx, schedule.ID, model.ScheduleStatusRequiresReview, &msg); err != nil {
			return 0, err
		}
		schedule.Status = model.ScheduleStatusRequiresReview
		return 0, nil
	}

	intervalMs, sleeping, err := p.sleeper.Evaluate(ctx, schedule)
	if err != nil {
		return 0, err
	}
	if sleeping {
		return intervalMs, nil
	}

	candidates, err := p.eligibleAccounts(ctx, schedule)
	if err != nil {
		return 0, err
	}
	if len(candidates) == 0 {
		log.Warn().Str("scheduleId", schedule.ID).Msg("no eligible accounts this batch")
		return intervalMs, nil
	}

	p.dispatch(ctx, schedule, candidates, batchStart)
	return intervalMs, nil
}

// eligibleAccounts resolves the candidate pool for this batch and drops
// accounts whose API profile has no quota headroom left.
func (p *Processor) eligibleAccounts(ctx context.Context, schedule *model.Schedule) ([]model.Account, error) {
	var (
		accounts []model.Account
		err      error
	)
	switch {
	case schedule.RotationEnabled:
		accounts, err = p.accounts.FindActiveByIDs(ctx, schedule.SelectedAccounts)
	case schedule.AccountSelection == model.AccountSelectionSpecific:
		accounts, err = p.accounts.FindActiveByIDs(ctx, schedule.SelectedAccounts)
	default:
		accounts, err = p.accounts.FindActiveByUser(ctx, schedule.UserID)
	}
	if err != nil {
		return nil, err
	}

	profileOK := make(map[string]bool)
	eligible := make([]model.Account, 0, len(accounts))
	for _, account := range accounts {
		if account.APIProfileID == nil {
			eligible = append(eligible, account)
			continue
		}
		id := *account.APIProfileID
		ok, seen := profileOK[id]
		if !seen {
			profile, perr := p.profiles.FindByID(ctx, id)
			if perr != nil {
				return nil, perr
			}
			ok = profile != nil && profile.Status == model.APIProfileStatusNotExceeded
			// Stop locally before burning an upstream call on a profile
			// that is already over its own limit.
			if ok && profile.LimitQuota > 0 && profile.UsedQuota >= profile.LimitQuota {
				ok = false
				if merr := p.profiles.MarkExceeded(ctx, id, time.Now()); merr != nil {
					log.Error().Err(merr).Str("profileId", id).Msg("could not mark profile exceeded")
				}
			}
			profileOK[id] = ok
		}
		if ok {
			eligible = append(eligible, account)
		}
	}
	return eligible, nil
}

// dispatch creates up to one pending comment per eligible account on a
// strict stagger anchored to the batch start, bounded by the dispatch-time
// ceiling.
func (p *Processor) dispatch(ctx context.Context, schedule *model.Schedule, candidates []model.Account, batchStart time.Time) {
	stagger := time.Duration(schedule.BetweenAccounts) * time.Millisecond
	if stagger <= 0 {
		stagger = config.DefaultStaggerMs * time.Millisecond
	}

	remaining := candidates
	lastAccountID := schedule.LastUsedAccountID
	dispatched := 0

	for len(remaining) > 0 {
		if time.Since(batchStart) > config.DispatchCeiling {
			log.Warn().
				Str("scheduleId", schedule.ID).
				Int("dispatched", dispatched).
				Int("skipped", len(remaining)).
				Msg("dispatch ceiling reached, batch continues with what it has")
			break
		}

		video := schedule.TargetVideos[p.rng.Intn(len(schedule.TargetVideos))]

		schedule.LastUsedAccountID = lastAccountID
		account, err := p.selector.Pick(ctx, schedule, remaining, video.VideoID)
		if err != nil {
			break
		}

		cooldownKey := redisclient.AccountVideoCooldownKey(account.ID, video.VideoID)
		onCooldown, err := p.cache.OnCooldown(ctx, cooldownKey)
		if err != nil {
			log.Warn().Err(err).Str("scheduleId", schedule.ID).Msg("cooldown lookup failed")
		}
		if onCooldown {
			remaining = exclude(remaining, account.ID)
			continue
		}

		content := p.generator.Generate(ctx, schedule, video.VideoID)
		scheduledFor := batchStart.Add(time.Duration(dispatched) * stagger)

		comment, err := p.comments.Create(ctx, model.CreateCommentParams{
			UserID:                schedule.UserID,
			ScheduleID:            schedule.ID,
			AccountID:             account.ID,
			VideoID:               video.VideoID,
			Content:               content,
			ScheduledFor:          &scheduledFor,
			LastPreviousAccountID: lastAccountID,
		})
		if err != nil {
			log.Error().Err(err).Str("scheduleId", schedule.ID).Msg("could not create comment row")
			remaining = exclude(remaining, account.ID)
			continue
		}

		delay := time.Until(scheduledFor)
		if delay < 0 {
			delay = 0
		}
		_, err = p.queue.Enqueue(ctx, config.QueuePostComment, PostCommentPayload{
			CommentID:  comment.ID,
			ScheduleID: schedule.ID,
		}, queue.EnqueueOptions{
			JobID:            "post-comment-" + comment.ID,
			Delay:            delay,
			MaxAttempts:      config.TransientAttempts,
			RemoveOnComplete: true,
		})
		if err != nil && !apperrors.HasCode(err, apperrors.ErrCodeDuplicateJob) {
			log.Error().Err(err).Str("commentId", comment.ID).Msg("could not enqueue post-comment job")
		}

		if err := p.cache.SetCooldown(ctx, cooldownKey, stagger); err != nil {
			log.Warn().Err(err).Msg("could not set account-video cooldown")
		}
		if err := p.cache.SetMarker(ctx, redisclient.VideoLastAccountKey(schedule.ID, video.VideoID), account.ID, config.LastAccountMarkerTTL); err != nil {
			log.Warn().Err(err).Msg("could not set last-account marker")
		}
		p.selector.Tracker().RecordUse(schedule.ID, account.ID)
		if err := p.schedules.SetLastUsedAccount(ctx, schedule.ID, account.ID); err != nil {
			log.Error().Err(err).Str("scheduleId", schedule.ID).Msg("could not persist last used account")
		}
		if err := p.schedules.AddTotal(ctx, schedule.ID, 1); err != nil {
			log.Error().Err(err).Str("scheduleId", schedule.ID).Msg("could not grow total counter")
		}

		lastAccountID = &account.ID
		remaining = exclude(remaining, account.ID)
		dispatched++
	}

	log.Info().
		Str("scheduleId", schedule.ID).
		Int("dispatched", dispatched).
		Dur("stagger", stagger).
		Msg("batch dispatched")
}

// enqueueFollowUp closes the recursive-delay loop: exactly one future job,
// its delay shortened by the batch's own wall time.
func (p *Processor) enqueueFollowUp(ctx context.Context, scheduleID string, intervalMs int64, batchStart time.Time) error {
	elapsed := time.Since(batchStart)
	delay := time.Duration(intervalMs)*time.Millisecond - elapsed
	if delay < config.MinFollowUpDelay {
		delay = config.MinFollowUpDelay
	}

	nextRunAt := time.Now().Add(delay)
	jobID := fmt.Sprintf("interval-%s-%d", scheduleID, nextRunAt.UnixMilli())

	_, err := p.queue.Enqueue(ctx, config.QueueScheduleProcessing, ProcessSchedulePayload{ScheduleID: scheduleID}, queue.EnqueueOptions{
		JobID:            jobID,
		Delay:            delay,
		MaxAttempts:      config.TransientAttempts,
		RemoveOnComplete: true,
	})
	if err != nil && !apperrors.HasCode(err, apperrors.ErrCodeDuplicateJob) {
		return err
	}

	if err := p.schedules.SetNextRunAt(ctx, scheduleID, &nextRunAt); err != nil {
		return apperrors.Database(err)
	}

	log.Debug().
		Str("scheduleId", scheduleID).
		Dur("delay", delay).
		Time("nextRunAt", nextRunAt).
		Msg("follow-up batch scheduled")
	return nil
}

// recordBatchError counts the failure and only parks the schedule for
// review once the streak is long enough that it cannot be an infra blip.
// Below the ceiling the next interval still fires.
func (p *Processor) recordBatchError(ctx context.Context, schedule *model.Schedule, cause error) error {
	count, err := p.schedules.IncrementErrorCount(ctx, schedule.ID)
	if err != nil {
		log.Error().Err(err).Str("scheduleId", schedule.ID).Msg("could not count batch error")
	}

	log.Error().
		Err(cause).
		Str("scheduleId", schedule.ID).
		Int("errorCount", count).
		Msg("schedule batch failed")

	if count >= config.ScheduleErrorCeiling {
		msg := cause.Error()
		if uerr := p.schedules.UpdateStatus(ctx, schedule.ID, model.ScheduleStatusRequiresReview, &msg); uerr != nil {
			return apperrors.Database(uerr)
		}
		p.invalidateCache(ctx, schedule)
		return nil
	}

	if schedule.ScheduleType == model.ScheduleTypeInterval {
		return p.enqueueFollowUp(ctx, schedule.ID, schedule.Interval.Millis(), time.Now())
	}
	return nil
}

func (p *Processor) invalidateCache(ctx context.Context, schedule *model.Schedule) {
	if err := p.cache.Invalidate(ctx, redisclient.ScheduleCacheKey(schedule.ID)); err != nil {
		log.Warn().Err(err).Str("scheduleId", schedule.ID).Msg("schedule cache invalidation failed")
	}
	if _, err := p.cache.InvalidatePattern(ctx, redisclient.UserSchedulesPattern(schedule.UserID)); err != nil {
		log.Warn().Err(err).Str("userId", schedule.UserID).Msg("schedule list cache invalidation failed")
	}
}

// scheduleLockTTL bounds the pre-execution lock so it always expires before
// the next recursive job can fire.
func scheduleLockTTL(intervalMs int64) time.Duration {
	ttl := time.Duration(float64(intervalMs)*config.ScheduleLockFactor) * time.Millisecond
	if ttl < config.ScheduleLockMin {
		return config.ScheduleLockMin
	}
	if ttl > config.ScheduleLockMax {
		return config.ScheduleLockMax
	}
	return ttl
}
