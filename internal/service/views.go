package service

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/viboost/comment-engine-go/internal/broker"
	"github.com/viboost/comment-engine-go/internal/config"
	apperrors "github.com/viboost/comment-engine-go/internal/errors"
	"github.com/viboost/comment-engine-go/internal/model"
	"github.com/viboost/comment-engine-go/internal/queue"
	"github.com/viboost/comment-engine-go/internal/repository"
)

// SimulateViewPayload drives both job kinds on the simulate-view queue: a
// tick (VideoID empty) fans one batch of per-video jobs out, a view runs
// one watch session.
type SimulateViewPayload struct {
	ViewScheduleID string `json:"viewScheduleId"`
	VideoID        string `json:"videoId,omitempty"`
}

// videoRater is the upstream call auto-like makes.
type videoRater interface {
	RateVideo(ctx context.Context, hc *http.Client, accessToken, videoID string) error
}

// ViewService mirrors the schedule driver for simulated watch sessions.
type ViewService struct {
	views    repository.ViewScheduleRepository
	accounts repository.AccountRepository
	broker   tokenBroker
	api      videoRater
	queue    *queue.Queue
	viewer   Viewer
	rng      *rand.Rand
}

func NewViewService(
	views repository.ViewScheduleRepository,
	accounts repository.AccountRepository,
	b tokenBroker,
	api videoRater,
	q *queue.Queue,
	viewer Viewer,
) *ViewService {
	return &ViewService{
		views:    views,
		accounts: accounts,
		broker:   b,
		api:      api,
		queue:    q,
		viewer:   viewer,
		rng:      rand.New(rand.NewSource(rand.Int63())),
	}
}

// Start re-materialises the tick chain for every active view schedule.
func (v *ViewService) Start(ctx context.Context) error {
	schedules, err := v.views.FindAllActive(ctx)
	if err != nil {
		return fmt.Errorf("load active view schedules: %w", err)
	}
	for _, schedule := range schedules {
		if err := v.SetupViewJob(ctx, schedule.ID); err != nil {
			log.Error().Err(err).Str("viewScheduleId", schedule.ID).Msg("could not set up view job")
		}
	}
	log.Info().Int("viewSchedules", len(schedules)).Msg("view driver started")
	return nil
}

// SetupViewJob queues the next tick, resuming from nextRunAt when stored.
func (v *ViewService) SetupViewJob(ctx context.Context, viewScheduleID string) error {
	schedule, err := v.views.FindByID(ctx, viewScheduleID)
	if err != nil {
		return apperrors.Database(err)
	}
	if schedule == nil || schedule.Status != model.ScheduleStatusActive {
		return nil
	}

	now := time.Now()
	var delay time.Duration
	if schedule.NextRunAt != nil && schedule.NextRunAt.After(now) {
		delay = schedule.NextRunAt.Sub(now)
	}

	fireAt := now.Add(delay)
	jobID := fmt.Sprintf("view-%s-%d", schedule.ID, fireAt.UnixMilli())
	_, err = v.queue.Enqueue(ctx, config.QueueSimulateView, SimulateViewPayload{ViewScheduleID: schedule.ID}, queue.EnqueueOptions{
		JobID:            jobID,
		Delay:            delay,
		MaxAttempts:      config.TransientAttempts,
		RemoveOnComplete: true,
	})
	if err != nil {
		if apperrors.HasCode(err, apperrors.ErrCodeDuplicateJob) {
			return nil
		}
		return err
	}
	if err := v.views.SetNextRunAt(ctx, schedule.ID, &fireAt); err != nil {
		return apperrors.Database(err)
	}
	return nil
}

// HandleSimulateView is the simulate-view queue handler.
func (v *ViewService) HandleSimulateView(ctx context.Context, job *queue.Job) error {
	var payload SimulateViewPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		log.Error().Err(err).Str("jobId", job.ID).Msg("undecodable simulate-view payload")
		return nil
	}
	if payload.VideoID == "" {
		return v.handleTick(ctx, payload.ViewScheduleID)
	}
	return v.handleView(ctx, payload)
}

// handleTick staggers the schedule's videos across the interval and queues
// exactly one follow-up tick, mirroring the comment driver's recursive
// delay loop.
func (v *ViewService) handleTick(ctx context.Context, viewScheduleID string) error {
	schedule, err := v.views.FindByID(ctx, viewScheduleID)
	if err != nil {
		return apperrors.Database(err)
	}
	if schedule == nil || schedule.Status != model.ScheduleStatusActive {
		return nil
	}

	tickStart := time.Now()
	intervalMs := schedule.Interval.Millis()

	if n := len(schedule.TargetVideos); n > 0 {
		step := time.Duration(intervalMs/int64(n)) * time.Millisecond
		for i, video := range schedule.TargetVideos {
			delay := time.Duration(i) * step
			jobID := fmt.Sprintf("view-%s-%s-%d", schedule.ID, video.VideoID, tickStart.Add(delay).UnixMilli())
			_, err := v.queue.Enqueue(ctx, config.QueueSimulateView, SimulateViewPayload{
				ViewScheduleID: schedule.ID,
				VideoID:        video.VideoID,
			}, queue.EnqueueOptions{
				JobID:            jobID,
				Delay:            delay,
				MaxAttempts:      config.TransientAttempts,
				RemoveOnComplete: true,
			})
			if err != nil && !apperrors.HasCode(err, apperrors.ErrCodeDuplicateJob) {
				log.Error().Err(err).Str("viewScheduleId", schedule.ID).Msg("could not enqueue view job")
			}
		}
	}

	if err := v.views.MarkProcessed(ctx, schedule.ID, tickStart); err != nil {
		log.Error().Err(err).Str("viewScheduleId", schedule.ID).Msg("could not mark view schedule processed")
	}

	delay := time.Duration(intervalMs)*time.Millisecond - time.Since(tickStart)
	if delay < config.MinFollowUpDelay {
		delay = config.MinFollowUpDelay
	}
	nextRunAt := time.Now().Add(delay)
	jobID := fmt.Sprintf("view-%s-%d", schedule.ID, nextRunAt.UnixMilli())
	_, err = v.queue.Enqueue(ctx, config.QueueSimulateView, SimulateViewPayload{ViewScheduleID: schedule.ID}, queue.EnqueueOptions{
		JobID:            jobID,
		Delay:            delay,
		MaxAttempts:      config.TransientAttempts,
		RemoveOnComplete: true,
	})
	if err != nil && !apperrors.HasCode(err, apperrors.ErrCodeDuplicateJob) {
		return err
	}
	if err := v.views.SetNextRunAt(ctx, schedule.ID, &nextRunAt); err != nil {
		return apperrors.Database(err)
	}
	return nil
}

// handleView rolls the probability, invokes the viewer, and issues the
// server-side like when configured.
func (v *ViewService) handleView(ctx context.Context, payload SimulateViewPayload) error {
	schedule, err := v.views.FindByID(ctx, payload.ViewScheduleID)
	if err != nil {
		return apperrors.Database(err)
	}
	if schedule == nil || schedule.Status != model.ScheduleStatusActive {
		return nil
	}

	if v.rng.Intn(100) >= schedule.Probability {
		log.Debug().
			Str("viewScheduleId", schedule.ID).
			Str("videoId", payload.VideoID).
			Msg("probability roll skipped this view")
		return nil
	}

	req := ViewRequest{
		VideoID:      payload.VideoID,
		MinWatchTime: schedule.MinWatchTime,
		MaxWatchTime: schedule.MaxWatchTime,
		UserAgent:    broker.RandomUserAgent(),
	}

	var likeAccount *model.Account
	if schedule.AutoLike {
		likeAccount, err = v.pickLikeAccount(ctx, schedule.UserID)
		if err != nil {
			log.Warn().Err(err).Str("viewScheduleId", schedule.ID).Msg("no account available for auto-like")
		}
		// The watch session and the like share the same egress so both
		// appear to originate from one place.
		if likeAccount != nil && likeAccount.Proxy != nil {
			req.ProxyURL = likeAccount.Proxy.URL().String()
		}
	}

	if err := v.viewer.Watch(ctx, req); err != nil {
		return apperrors.External("viewer", err)
	}

	if err := v.views.IncrementViews(ctx, schedule.ID); err != nil {
		log.Error().Err(err).Str("viewScheduleId", schedule.ID).Msg("could not count view")
	}

	if schedule.AutoLike && likeAccount != nil {
		if err := v.issueLike(ctx, likeAccount, payload.VideoID); err != nil {
			log.Warn().
				Err(err).
				Str("accountId", likeAccount.ID).
				Str("videoId", payload.VideoID).
				Msg("auto-like failed")
		}
	}

	log.Info().
		Str("viewScheduleId", schedule.ID).
		Str("videoId", payload.VideoID).
		Bool("autoLike", schedule.AutoLike).
		Msg("view simulated")
	return nil
}

func (v *ViewService) pickLikeAccount(ctx context.Context, userID string) (*model.Account, error) {
	accounts, err := v.accounts.FindActiveByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(accounts) == 0 {
		return nil, apperrors.NotFound("active account")
	}
	account := accounts[v.rng.Intn(len(accounts))]
	return v.accounts.FindWithProxy(ctx, account.ID)
}

// issueLike is the authoritative like: the API call, over the account's
// proxy transport.
func (v *ViewService) issueLike(ctx context.Context, account *model.Account, videoID string) error {
	if account.TokenExpired(time.Now()) {
		outcome, err := v.broker.Refresh(ctx, account)
		if err != nil {
			return err
		}
		if err := v.accounts.UpdateTokens(ctx, account.ID, outcome.AccessToken, outcome.Expiry); err != nil {
			return err
		}
		account.AccessToken = &outcome.AccessToken
		account.TokenExpiry = &outcome.Expiry
	}

	transport, err := v.broker.BuildTransport(ctx, account)
	if err != nil {
		return err
	}
	if err := v.api.RateVideo(ctx, transport, *account.AccessToken, videoID); err != nil {
		return err
	}
	return v.accounts.BumpLikeUsage(ctx, account.ID, time.Now())
}

// RemoveViewJobs drops queued work for a paused or deleted view schedule.
func (v *ViewService) RemoveViewJobs(ctx context.Context, viewScheduleID string) error {
	ids, err := v.queue.DelayedJobIDs(ctx, config.QueueSimulateView)
	if err != nil {
		return err
	}
	prefix := "view-" + viewScheduleID + "-"
	for _, id := range ids {
		if len(id) > len(prefix) && id[:len(prefix)] == prefix {
			if err := v.queue.Remove(ctx, config.QueueSimulateView, id); err != nil {
				return err
			}
		}
	}
	return nil
}
