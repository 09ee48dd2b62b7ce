package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/viboost/comment-engine-go/internal/broker"
	apperrors "github.com/viboost/comment-engine-go/internal/errors"
	"github.com/viboost/comment-engine-go/internal/middleware"
	"github.com/viboost/comment-engine-go/internal/model"
	"github.com/viboost/comment-engine-go/internal/repository"
)

type ProxyHandler struct {
	proxies repository.ProxyRepository
	broker  *broker.Broker
}

func NewProxyHandler(proxies repository.ProxyRepository, b *broker.Broker) *ProxyHandler {
	return &ProxyHandler{proxies: proxies, broker: b}
}

func (h *ProxyHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.List)
	r.Post("/", h.Create)
	r.Get("/{id}", h.Get)
	r.Put("/{id}", h.Update)
	r.Delete("/{id}", h.Delete)
	r.Post("/{id}/check", h.Check)
	return r
}

type createProxyRequest struct {
	Host     string              `json:"host"`
	Port     int                 `json:"port"`
	Username *string             `json:"username"`
	Password *string             `json:"password"`
	Protocol model.ProxyProtocol `json:"protocol"`
}

func (h *ProxyHandler) Create(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())

	var req createProxyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.InvalidInput("body", err.Error()))
		return
	}
	if req.Host == "" {
		writeError(w, apperrors.MissingRequired("host"))
		return
	}
	if req.Port <= 0 || req.Port > 65535 {
		writeError(w, apperrors.InvalidInput("port", "out of range"))
		return
	}
	switch req.Protocol {
	case model.ProxyProtocolHTTP, model.ProxyProtocolHTTPS, model.ProxyProtocolSOCKS5:
	default:
		writeError(w, apperrors.InvalidInput("protocol", string(req.Protocol)))
		return
	}

	proxy, err := h.proxies.Create(r.Context(), model.CreateProxyParams{
		UserID:   user.ID,
		Host:     req.Host,
		Port:     req.Port,
		Username: req.Username,
		Password: req.Password,
		Protocol: req.Protocol,
	})
	if err != nil {
		writeError(w, apperrors.Database(err))
		return
	}
	writeJSON(w, http.StatusCreated, proxy)
}

func (h *ProxyHandler) List(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())
	page := ParsePagination(r)

	proxies, err := h.proxies.FindByUser(r.Context(), user.ID, page.Limit, page.Offset)
	if err != nil {
		writeError(w, apperrors.Database(err))
		return
	}
	writeJSON(w, http.StatusOK, listResponse{Items: proxies, Count: len(proxies)})
}

func (h *ProxyHandler) Get(w http.ResponseWriter, r *http.Request) {
	proxy, ok := h.loadOwned(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, proxy)
}

type updateProxyRequest struct {
	Host     *string              `json:"host"`
	Port     *int                 `json:"port"`
	Username *string              `json:"username"`
	Password *string              `json:"password"`
	Protocol *model.ProxyProtocol `json:"protocol"`
	Status   *model.ProxyStatus   `json:"status"`
}

func (h *ProxyHandler) Update(w http.ResponseWriter, r *http.Request) {
	proxy, ok := h.loadOwned(w, r)
	if !ok {
		return
	}

	var req updateProxyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.InvalidInput("body", err.Error()))
		return
	}

	updated, err := h.proxies.Update(r.Context(), proxy.ID, model.UpdateProxyParams{
		Host:     req.Host,
		Port:     req.Port,
		Username: req.Username,
		Password: req.Password,
		Protocol: req.Protocol,
		Status:   req.Status,
	})
	if err != nil {
		writeError(w, apperrors.Database(err))
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *ProxyHandler) Delete(w http.ResponseWriter, r *http.Request) {
	proxy, ok := h.loadOwned(w, r)
	if !ok {
		return
	}
	if err := h.proxies.Delete(r.Context(), proxy.ID); err != nil {
		writeError(w, apperrors.Database(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

// Check runs the same liveness probe the broker uses for self-healing and
// persists the outcome.
func (h *ProxyHandler) Check(w http.ResponseWriter, r *http.Request) {
	proxy, ok := h.loadOwned(w, r)
	if !ok {
		return
	}

	alive, speedMs, err := h.broker.CheckProxy(r.Context(), proxy)
	if err != nil {
		writeError(w, apperrors.Database(err))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"alive":   alive,
		"speedMs": speedMs,
	})
}

func (h *ProxyHandler) loadOwned(w http.ResponseWriter, r *http.Request) (*model.Proxy, bool) {
	user := middleware.GetUser(r.Context())
	id := chi.URLParam(r, "id")

	proxy, err := h.proxies.FindByID(r.Context(), id)
	if err != nil {
		writeError(w, apperrors.Database(err))
		return nil, false
	}
	if proxy == nil {
		writeError(w, apperrors.NotFound("Proxy"))
		return nil, false
	}
	if proxy.UserID != user.ID {
		writeError(w, apperrors.Forbidden("proxy belongs to another user"))
		return nil, false
	}
	return proxy, true
}
