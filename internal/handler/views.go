package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	apperrors "github.com/viboost/comment-engine-go/internal/errors"
	"github.com/viboost/comment-engine-go/internal/middleware"
	"github.com/viboost/comment-engine-go/internal/model"
	"github.com/viboost/comment-engine-go/internal/repository"
	"github.com/viboost/comment-engine-go/internal/service"
)

type ViewHandler struct {
	views       repository.ViewScheduleRepository
	viewService *service.ViewService
}

func NewViewHandler(views repository.ViewScheduleRepository, viewService *service.ViewService) *ViewHandler {
	return &ViewHandler{views: views, viewService: viewService}
}

func (h *ViewHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.List)
	r.Post("/", h.Create)
	r.Get("/{id}", h.Get)
	r.Delete("/{id}", h.Delete)
	r.Post("/{id}/pause", h.Pause)
	r.Post("/{id}/resume", h.Resume)
	return r
}

type createViewScheduleRequest struct {
	Name         string             `json:"name"`
	TargetVideos model.TargetVideos `json:"targetVideos"`
	Interval     model.Interval     `json:"interval"`
	Probability  int                `json:"probability"`
	MinWatchTime int                `json:"minWatchTime"`
	MaxWatchTime int                `json:"maxWatchTime"`
	AutoLike     bool               `json:"autoLike"`
}

func (h *ViewHandler) Create(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())

	var req createViewScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.InvalidInput("body", err.Error()))
		return
	}
	if len(req.TargetVideos) == 0 {
		writeError(w, apperrors.MissingRequired("targetVideos"))
		return
	}
	if req.Probability < 0 || req.Probability > 100 {
		writeError(w, apperrors.InvalidInput("probability", "must be between 0 and 100"))
		return
	}

	schedule, err := h.views.Create(r.Context(), model.CreateViewScheduleParams{
		UserID:       user.ID,
		Name:         req.Name,
		TargetVideos: req.TargetVideos,
		Interval:     req.Interval,
		Probability:  req.Probability,
		MinWatchTime: req.MinWatchTime,
		MaxWatchTime: req.MaxWatchTime,
		AutoLike:     req.AutoLike,
	})
	if err != nil {
		writeError(w, apperrors.Database(err))
		return
	}

	if err := h.viewService.SetupViewJob(r.Context(), schedule.ID); err != nil {
		log.Error().Err(err).Str("viewScheduleId", schedule.ID).Msg("could not materialise view jobs")
	}
	writeJSON(w, http.StatusCreated, schedule)
}

func (h *ViewHandler) List(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())
	page := ParsePagination(r)

	schedules, err := h.views.FindByUser(r.Context(), user.ID, page.Limit, page.Offset)
	if err != nil {
		writeError(w, apperrors.Database(err))
		return
	}
	writeJSON(w, http.StatusOK, listResponse{Items: schedules, Count: len(schedules)})
}

func (h *ViewHandler) Get(w http.ResponseWriter, r *http.Request) {
	schedule, ok := h.loadOwned(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, schedule)
}

func (h *ViewHandler) Delete(w http.ResponseWriter, r *http.Request) {
	schedule, ok := h.loadOwned(w, r)
	if !ok {
		return
	}
	if err := h.viewService.RemoveViewJobs(r.Context(), schedule.ID); err != nil {
		log.Error().Err(err).Str("viewScheduleId", schedule.ID).Msg("could not remove view jobs")
	}
	if err := h.views.Delete(r.Context(), schedule.ID); err != nil {
		writeError(w, apperrors.Database(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

func (h *ViewHandler) Pause(w http.ResponseWriter, r *http.Request) {
	schedule, ok := h.loadOwned(w, r)
	if !ok {
		return
	}
	if err := h.views.UpdateStatus(r.Context(), schedule.ID, model.ScheduleStatusPaused); err != nil {
		writeError(w, apperrors.Database(err))
		return
	}
	if err := h.viewService.RemoveViewJobs(r.Context(), schedule.ID); err != nil {
		log.Error().Err(err).Str("viewScheduleId", schedule.ID).Msg("could not remove view jobs")
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(model.ScheduleStatusPaused)})
}

func (h *ViewHandler) Resume(w http.ResponseWriter, r *http.Request) {
	schedule, ok := h.loadOwned(w, r)
	if !ok {
		return
	}
	if err := h.views.UpdateStatus(r.Context(), schedule.ID, model.ScheduleStatusActive); err != nil {
		writeError(w, apperrors.Database(err))
		return
	}
	if err := h.viewService.SetupViewJob(r.Context(), schedule.ID); err != nil {
		log.Error().Err(err).Str("viewScheduleId", schedule.ID).Msg("could not re-materialise view jobs")
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(model.ScheduleStatusActive)})
}

func (h *ViewHandler) loadOwned(w http.ResponseWriter, r *http.Request) (*model.ViewSchedule, bool) {
	user := middleware.GetUser(r.Context())
	id := chi.URLParam(r, "id")

	schedule, err := h.views.FindByID(r.Context(), id)
	if err != nil {
		writeError(w, apperrors.Database(err))
		return nil, false
	}
	if schedule == nil {
		writeError(w, apperrors.NotFound("View schedule"))
		return nil, false
	}
	if schedule.UserID != user.ID {
		writeError(w, apperrors.Forbidden("view schedule belongs to another user"))
		return nil, false
	}
	return schedule, true
}
