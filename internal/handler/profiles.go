package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/viboost/comment-engine-go/internal/errors"
	"github.com/viboost/comment-engine-go/internal/model"
	"github.com/viboost/comment-engine-go/internal/repository"
)

type ProfileHandler struct {
	profiles repository.APIProfileRepository
}

func NewProfileHandler(profiles repository.APIProfileRepository) *ProfileHandler {
	return &ProfileHandler{profiles: profiles}
}

func (h *ProfileHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.List)
	r.Post("/", h.Create)
	r.Get("/{id}", h.Get)
	r.Delete("/{id}", h.Delete)
	r.Post("/{id}/activate", h.Activate)
	return r
}

type createProfileRequest struct {
	Name         string `json:"name"`
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"clientSecret"`
	RedirectURI  string `json:"redirectUri"`
	APIKey       string `json:"apiKey"`
	LimitQuota   int    `json:"limitQuota"`
}

func (h *ProfileHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.InvalidInput("body", err.Error()))
		return
	}
	if req.ClientID == "" {
		writeError(w, apperrors.MissingRequired("clientId"))
		return
	}
	if req.ClientSecret == "" {
		writeError(w, apperrors.MissingRequired("clientSecret"))
		return
	}

	profile, err := h.profiles.Create(r.Context(), model.CreateAPIProfileParams{
		Name:         req.Name,
		ClientID:     req.ClientID,
		ClientSecret: req.ClientSecret,
		RedirectURI:  req.RedirectURI,
		APIKey:       req.APIKey,
		LimitQuota:   req.LimitQuota,
	})
	if err != nil {
		writeError(w, apperrors.Database(err))
		return
	}
	writeJSON(w, http.StatusCreated, profile)
}

func (h *ProfileHandler) List(w http.ResponseWriter, r *http.Request) {
	profiles, err := h.profiles.FindAll(r.Context())
	if err != nil {
		writeError(w, apperrors.Database(err))
		return
	}
	writeJSON(w, http.StatusOK, listResponse{Items: profiles, Count: len(profiles)})
}

func (h *ProfileHandler) Get(w http.ResponseWriter, r *http.Request) {
	profile, ok := h.load(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (h *ProfileHandler) Delete(w http.ResponseWriter, r *http.Request) {
	profile, ok := h.load(w, r)
	if !ok {
		return
	}
	if err := h.profiles.Delete(r.Context(), profile.ID); err != nil {
		writeError(w, apperrors.Database(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

// Activate makes this profile the single active one; all others are
// deactivated in the same statement.
func (h *ProfileHandler) Activate(w http.ResponseWriter, r *http.Request) {
	profile, ok := h.load(w, r)
	if !ok {
		return
	}
	if err := h.profiles.Activate(r.Context(), profile.ID); err != nil {
		writeError(w, apperrors.Database(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"active": true})
}

func (h *ProfileHandler) load(w http.ResponseWriter, r *http.Request) (*model.APIProfile, bool) {
	id := chi.URLParam(r, "id")

	profile, err := h.profiles.FindByID(r.Context(), id)
	if err != nil {
		writeError(w, apperrors.Database(err))
		return nil, false
	}
	if profile == nil {
		writeError(w, apperrors.NotFound("API profile"))
		return nil, false
	}
	return profile, true
}
