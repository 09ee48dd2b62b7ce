package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/viboost/comment-engine-go/internal/errors"
	"github.com/viboost/comment-engine-go/internal/middleware"
	"github.com/viboost/comment-engine-go/internal/repository"
)

type CommentHandler struct {
	comments repository.CommentRepository
}

func NewCommentHandler(comments repository.CommentRepository) *CommentHandler {
	return &CommentHandler{comments: comments}
}

func (h *CommentHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.List)
	r.Get("/{id}", h.Get)
	r.Delete("/{id}", h.Delete)
	return r
}

func (h *CommentHandler) List(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())
	page := ParsePagination(r)

	if scheduleID := r.URL.Query().Get("scheduleId"); scheduleID != "" {
		comments, err := h.comments.FindBySchedule(r.Context(), scheduleID, page.Limit, page.Offset)
		if err != nil {
			writeError(w, apperrors.Database(err))
			return
		}
		writeJSON(w, http.StatusOK, listResponse{Items: comments, Count: len(comments)})
		return
	}

	comments, err := h.comments.FindByUser(r.Context(), user.ID, page.Limit, page.Offset)
	if err != nil {
		writeError(w, apperrors.Database(err))
		return
	}
	writeJSON(w, http.StatusOK, listResponse{Items: comments, Count: len(comments)})
}

func (h *CommentHandler) Get(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())
	id := chi.URLParam(r, "id")

	comment, err := h.comments.FindByID(r.Context(), id)
	if err != nil {
		writeError(w, apperrors.Database(err))
		return
	}
	if comment == nil || comment.UserID != user.ID {
		writeError(w, apperrors.NotFound("Comment"))
		return
	}
	writeJSON(w, http.StatusOK, comment)
}

func (h *CommentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())
	id := chi.URLParam(r, "id")

	comment, err := h.comments.FindByID(r.Context(), id)
	if err != nil {
		writeError(w, apperrors.Database(err))
		return
	}
	if comment == nil || comment.UserID != user.ID {
		writeError(w, apperrors.NotFound("Comment"))
		return
	}
	if err := h.comments.Delete(r.Context(), id); err != nil {
		writeError(w, apperrors.Database(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}
