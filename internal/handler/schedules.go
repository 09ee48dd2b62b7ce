package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/viboost/comment-engine-go/internal/cache"
	"github.com/viboost/comment-engine-go/internal/config"
	apperrors "github.com/viboost/comment-engine-go/internal/errors"
	"github.com/viboost/comment-engine-go/internal/middleware"
	"github.com/viboost/comment-engine-go/internal/model"
	"github.com/viboost/comment-engine-go/internal/queue"
	redisclient "github.com/viboost/comment-engine-go/internal/redis"
	"github.com/viboost/comment-engine-go/internal/repository"
	"github.com/viboost/comment-engine-go/internal/service"
)

type ScheduleHandler struct {
	schedules repository.ScheduleRepository
	comments  repository.CommentRepository
	cache     *cache.Cache
	scheduler *service.Scheduler
	queue     *queue.Queue
}

func NewScheduleHandler(
	schedules repository.ScheduleRepository,
	comments repository.CommentRepository,
	c *cache.Cache,
	scheduler *service.Scheduler,
	q *queue.Queue,
) *ScheduleHandler {
	return &ScheduleHandler{
		schedules: schedules,
		comments:  comments,
		cache:     c,
		scheduler: scheduler,
		queue:     q,
	}
}

func (h *ScheduleHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.List)
	r.Post("/", h.Create)
	r.Get("/{id}", h.Get)
	r.Delete("/{id}", h.Delete)
	r.Post("/{id}/pause", h.Pause)
	r.Post("/{id}/resume", h.Resume)
	r.Post("/{id}/complete", h.Complete)
	r.Post("/{id}/retry-failed", h.RetryFailed)
	return r
}

type createScheduleRequest struct {
	Name             string                 `json:"name"`
	ScheduleType     model.ScheduleType     `json:"scheduleType"`
	StartDate        *time.Time             `json:"startDate"`
	EndDate          *time.Time             `json:"endDate"`
	CronExpression   *string                `json:"cronExpression"`
	Interval         model.Interval         `json:"interval"`
	CommentTemplates []string               `json:"commentTemplates"`
	TargetVideos     model.TargetVideos     `json:"targetVideos"`
	TargetChannels   []string               `json:"targetChannels"`
	AccountSelection model.AccountSelection `json:"accountSelection"`
	RotationEnabled  bool                   `json:"rotationEnabled"`
	UseAI            bool                   `json:"useAI"`
	IncludeEmojis    bool                   `json:"includeEmojis"`
	MinDelay         int                    `json:"minDelay"`
	MaxDelay         int                    `json:"maxDelay"`
	BetweenAccounts  int                    `json:"betweenAccountsMs"`
	LimitComments    model.LimitComments    `json:"limitComments"`

	SelectedAccounts  []string `json:"selectedAccounts"`
	PrincipalAccounts []string `json:"principalAccounts"`
	SecondaryAccounts []string `json:"secondaryAccounts"`
}

func (req *createScheduleRequest) validate() error {
	if len(req.TargetVideos) == 0 {
		return apperrors.MissingRequired("targetVideos")
	}
	if len(req.CommentTemplates) == 0 && !req.UseAI {
		return apperrors.ValidationError("commentTemplates required unless useAI is set")
	}
	switch req.ScheduleType {
	case model.ScheduleTypeImmediate:
	case model.ScheduleTypeOnce:
		if req.StartDate == nil {
			return apperrors.MissingRequired("startDate")
		}
	case model.ScheduleTypeRecurring:
		if req.CronExpression == nil || *req.CronExpression == "" {
			return apperrors.MissingRequired("cronExpression")
		}
	case model.ScheduleTypeInterval:
		if req.Interval.Every <= 0 && !req.Interval.IsRandom {
			return apperrors.InvalidInput("interval", "value must be positive")
		}
	default:
		return apperrors.InvalidInput("scheduleType", string(req.ScheduleType))
	}
	if req.RotationEnabled {
		if len(req.PrincipalAccounts) == 0 {
			return apperrors.MissingRequired("principalAccounts")
		}
		need := (len(req.PrincipalAccounts)*3 + 9) / 10
		if len(req.SecondaryAccounts) < need {
			return apperrors.ValidationError("secondaryAccounts must hold at least 30% of principalAccounts")
		}
	}
	return nil
}

func (h *ScheduleHandler) Create(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())

	var req createScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.InvalidInput("body", err.Error()))
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, err)
		return
	}

	if req.BetweenAccounts <= 0 {
		req.BetweenAccounts = config.DefaultStaggerMs
	}

	schedule, err := h.schedules.Create(r.Context(), model.CreateScheduleParams{
		UserID:            user.ID,
		Name:              req.Name,
		ScheduleType:      req.ScheduleType,
		StartDate:         req.StartDate,
		EndDate:           req.EndDate,
		CronExpression:    req.CronExpression,
		Interval:          req.Interval,
		CommentTemplates:  req.CommentTemplates,
		TargetVideos:      req.TargetVideos,
		TargetChannels:    req.TargetChannels,
		AccountSelection:  req.AccountSelection,
		RotationEnabled:   req.RotationEnabled,
		UseAI:             req.UseAI,
		IncludeEmojis:     req.IncludeEmojis,
		MinDelay:          req.MinDelay,
		MaxDelay:          req.MaxDelay,
		BetweenAccounts:   req.BetweenAccounts,
		LimitComments:     req.LimitComments,
		SelectedAccounts:  req.SelectedAccounts,
		PrincipalAccounts: req.PrincipalAccounts,
		SecondaryAccounts: req.SecondaryAccounts,
	})
	if err != nil {
		writeError(w, apperrors.Database(err))
		return
	}

	if err := h.scheduler.SetupScheduleJob(r.Context(), schedule.ID); err != nil {
		log.Error().Err(err).Str("scheduleId", schedule.ID).Msg("could not materialise jobs for new schedule")
	}
	h.invalidateLists(r, user.ID)

	writeJSON(w, http.StatusCreated, schedule)
}

func (h *ScheduleHandler) List(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())
	page := ParsePagination(r)

	schedules, err := h.schedules.FindByUser(r.Context(), user.ID, page.Limit, page.Offset)
	if err != nil {
		writeError(w, apperrors.Database(err))
		return
	}
	writeJSON(w, http.StatusOK, listResponse{Items: schedules, Count: len(schedules)})
}

func (h *ScheduleHandler) Get(w http.ResponseWriter, r *http.Request) {
	schedule, ok := h.loadOwned(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, schedule)
}

func (h *ScheduleHandler) Delete(w http.ResponseWriter, r *http.Request) {
	schedule, ok := h.loadOwned(w, r)
	if !ok {
		return
	}

	if err := h.scheduler.RemoveScheduleJobs(r.Context(), schedule.ID); err != nil {
		log.Error().Err(err).Str("scheduleId", schedule.ID).Msg("could not remove schedule jobs")
	}
	if err := h.schedules.Delete(r.Context(), schedule.ID); err != nil {
		writeError(w, apperrors.Database(err))
		return
	}
	h.invalidateDetail(r, schedule)

	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

func (h *ScheduleHandler) Pause(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, model.ScheduleStatusPaused, true)
}

func (h *ScheduleHandler) Complete(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, model.ScheduleStatusCompleted, true)
}

func (h *ScheduleHandler) Resume(w http.ResponseWriter, r *http.Request) {
	schedule, ok := h.loadOwned(w, r)
	if !ok {
		return
	}

	if err := h.schedules.UpdateStatus(r.Context(), schedule.ID, model.ScheduleStatusActive, nil); err != nil {
		writeError(w, apperrors.Database(err))
		return
	}
	if err := h.scheduler.SetupScheduleJob(r.Context(), schedule.ID); err != nil {
		log.Error().Err(err).Str("scheduleId", schedule.ID).Msg("could not re-materialise resumed schedule")
	}
	h.invalidateDetail(r, schedule)

	writeJSON(w, http.StatusOK, map[string]string{"status": string(model.ScheduleStatusActive)})
}

// RetryFailed flips failed comments back to pending and queues a fresh
// post-comment job per row.
func (h *ScheduleHandler) RetryFailed(w http.ResponseWriter, r *http.Request) {
	schedule, ok := h.loadOwned(w, r)
	if !ok {
		return
	}

	comments, err := h.comments.ResetFailed(r.Context(), schedule.ID)
	if err != nil {
		writeError(w, apperrors.Database(err))
		return
	}

	for _, comment := range comments {
		_, err := h.queue.Enqueue(r.Context(), config.QueuePostComment, service.PostCommentPayload{
			CommentID:  comment.ID,
			ScheduleID: schedule.ID,
		}, queue.EnqueueOptions{
			JobID:            "post-comment-" + comment.ID,
			MaxAttempts:      config.TransientAttempts,
			RemoveOnComplete: true,
		})
		if err != nil && !apperrors.HasCode(err, apperrors.ErrCodeDuplicateJob) {
			log.Error().Err(err).Str("commentId", comment.ID).Msg("could not requeue failed comment")
		}
	}
	h.invalidateDetail(r, schedule)

	writeJSON(w, http.StatusOK, map[string]int{"requeued": len(comments)})
}

func (h *ScheduleHandler) transition(w http.ResponseWriter, r *http.Request, status model.ScheduleStatus, dropJobs bool) {
	schedule, ok := h.loadOwned(w, r)
	if !ok {
		return
	}

	if err := h.schedules.UpdateStatus(r.Context(), schedule.ID, status, nil); err != nil {
		writeError(w, apperrors.Database(err))
		return
	}
	if dropJobs {
		if err := h.scheduler.RemoveScheduleJobs(r.Context(), schedule.ID); err != nil {
			log.Error().Err(err).Str("scheduleId", schedule.ID).Msg("could not remove schedule jobs")
		}
	}
	h.invalidateDetail(r, schedule)

	writeJSON(w, http.StatusOK, map[string]string{"status": string(status)})
}

// loadOwned fetches the schedule through the short-TTL read cache and
// enforces ownership.
func (h *ScheduleHandler) loadOwned(w http.ResponseWriter, r *http.Request) (*model.Schedule, bool) {
	user := middleware.GetUser(r.Context())
	id := chi.URLParam(r, "id")

	var schedule model.Schedule
	hit, err := h.cache.GetJSON(r.Context(), redisclient.ScheduleCacheKey(id), &schedule)
	if err != nil {
		log.Warn().Err(err).Str("scheduleId", id).Msg("schedule cache read failed")
	}
	if !hit {
		loaded, err := h.schedules.FindByIDWithPools(r.Context(), id)
		if err != nil {
			writeError(w, apperrors.Database(err))
			return nil, false
		}
		if loaded == nil {
			writeError(w, apperrors.NotFound("Schedule"))
			return nil, false
		}
		schedule = *loaded
		if err := h.cache.SetJSON(r.Context(), redisclient.ScheduleCacheKey(id), schedule, config.ScheduleCacheTTL); err != nil {
			log.Warn().Err(err).Str("scheduleId", id).Msg("schedule cache write failed")
		}
	}

	if schedule.UserID != user.ID {
		writeError(w, apperrors.Forbidden("schedule belongs to another user"))
		return nil, false
	}
	return &schedule, true
}

func (h *ScheduleHandler) invalidateDetail(r *http.Request, schedule *model.Schedule) {
	if err := h.cache.Invalidate(r.Context(), redisclient.ScheduleCacheKey(schedule.ID)); err != nil {
		log.Warn().Err(err).Str("scheduleId", schedule.ID).Msg("cache invalidation failed")
	}
	h.invalidateLists(r, schedule.UserID)
}

func (h *ScheduleHandler) invalidateLists(r *http.Request, userID string) {
	if _, err := h.cache.InvalidatePattern(r.Context(), redisclient.UserSchedulesPattern(userID)); err != nil {
		log.Warn().Err(err).Str("userId", userID).Msg("list cache invalidation failed")
	}
}
