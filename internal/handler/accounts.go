package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/viboost/comment-engine-go/internal/broker"
	apperrors "github.com/viboost/comment-engine-go/internal/errors"
	"github.com/viboost/comment-engine-go/internal/middleware"
	"github.com/viboost/comment-engine-go/internal/model"
	"github.com/viboost/comment-engine-go/internal/repository"
	"github.com/viboost/comment-engine-go/internal/upstream"
)

type AccountHandler struct {
	accounts repository.AccountRepository
	broker   *broker.Broker
	api      *upstream.Client
}

func NewAccountHandler(accounts repository.AccountRepository, b *broker.Broker, api *upstream.Client) *AccountHandler {
	return &AccountHandler{accounts: accounts, broker: b, api: api}
}

func (h *AccountHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.List)
	r.Post("/", h.Create)
	r.Get("/{id}", h.Get)
	r.Put("/{id}", h.Update)
	r.Delete("/{id}", h.Delete)
	r.Post("/{id}/verify", h.Verify)
	return r
}

type createAccountRequest struct {
	Email        string  `json:"email"`
	RefreshToken string  `json:"refreshToken"`
	ProxyID      *string `json:"proxyId"`
	APIProfileID *string `json:"apiProfileId"`
}

func (h *AccountHandler) Create(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())

	var req createAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.InvalidInput("body", err.Error()))
		return
	}
	if req.RefreshToken == "" {
		writeError(w, apperrors.MissingRequired("refreshToken"))
		return
	}

	account, err := h.accounts.Create(r.Context(), model.CreateAccountParams{
		UserID:       user.ID,
		ProxyID:      req.ProxyID,
		APIProfileID: req.APIProfileID,
		Email:        req.Email,
		RefreshToken: req.RefreshToken,
	})
	if err != nil {
		writeError(w, apperrors.Database(err))
		return
	}
	writeJSON(w, http.StatusCreated, account)
}

func (h *AccountHandler) List(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())
	page := ParsePagination(r)

	accounts, err := h.accounts.FindByUser(r.Context(), user.ID, page.Limit, page.Offset)
	if err != nil {
		writeError(w, apperrors.Database(err))
		return
	}
	writeJSON(w, http.StatusOK, listResponse{Items: accounts, Count: len(accounts)})
}

func (h *AccountHandler) Get(w http.ResponseWriter, r *http.Request) {
	account, ok := h.loadOwned(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, account)
}

type updateAccountRequest struct {
	ProxyID      *string              `json:"proxyId"`
	APIProfileID *string              `json:"apiProfileId"`
	Status       *model.AccountStatus `json:"status"`
	RefreshToken *string              `json:"refreshToken"`
}

func (h *AccountHandler) Update(w http.ResponseWriter, r *http.Request) {
	account, ok := h.loadOwned(w, r)
	if !ok {
		return
	}

	var req updateAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.InvalidInput("body", err.Error()))
		return
	}

	updated, err := h.accounts.Update(r.Context(), account.ID, model.UpdateAccountParams{
		ProxyID:      req.ProxyID,
		APIProfileID: req.APIProfileID,
		Status:       req.Status,
		RefreshToken: req.RefreshToken,
	})
	if err != nil {
		writeError(w, apperrors.Database(err))
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *AccountHandler) Delete(w http.ResponseWriter, r *http.Request) {
	account, ok := h.loadOwned(w, r)
	if !ok {
		return
	}
	if err := h.accounts.Delete(r.Context(), account.ID); err != nil {
		writeError(w, apperrors.Database(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

// Verify refreshes the token, resolves the account's own channel and stores
// it, proving the credentials actually work.
func (h *AccountHandler) Verify(w http.ResponseWriter, r *http.Request) {
	account, ok := h.loadOwned(w, r)
	if !ok {
		return
	}

	outcome, err := h.broker.Refresh(r.Context(), account)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.accounts.UpdateTokens(r.Context(), account.ID, outcome.AccessToken, outcome.Expiry); err != nil {
		writeError(w, apperrors.Database(err))
		return
	}
	account.AccessToken = &outcome.AccessToken

	transport, err := h.broker.BuildTransport(r.Context(), account)
	if err != nil {
		writeError(w, err)
		return
	}

	channelID, channelTitle, err := h.api.MyChannel(r.Context(), transport, outcome.AccessToken)
	if err != nil {
		writeError(w, apperrors.External("YouTube API", err))
		return
	}
	if err := h.accounts.SetChannel(r.Context(), account.ID, channelID, channelTitle); err != nil {
		writeError(w, apperrors.Database(err))
		return
	}

	log.Info().
		Str("accountId", account.ID).
		Str("channelId", channelID).
		Msg("account verified")

	writeJSON(w, http.StatusOK, map[string]any{
		"channelId":    channelID,
		"channelTitle": channelTitle,
		"verifiedAt":   time.Now().Format(time.RFC3339),
	})
}

func (h *AccountHandler) loadOwned(w http.ResponseWriter, r *http.Request) (*model.Account, bool) {
	user := middleware.GetUser(r.Context())
	id := chi.URLParam(r, "id")

	account, err := h.accounts.FindWithProxy(r.Context(), id)
	if err != nil {
		writeError(w, apperrors.Database(err))
		return nil, false
	}
	if account == nil {
		writeError(w, apperrors.NotFound("Account"))
		return nil, false
	}
	if account.UserID != user.ID {
		writeError(w, apperrors.Forbidden("account belongs to another user"))
		return nil, false
	}
	return account, true
}
