package handler

import (
	"net/http"

	"github.com/viboost/comment-engine-go/internal/httputil"
)

func writeJSON(w http.ResponseWriter, status int, data any) {
	httputil.WriteJSON(w, status, data)
}

func writeError(w http.ResponseWriter, err error) {
	httputil.WriteError(w, err)
}

type listResponse struct {
	Items any `json:"items"`
	Count int `json:"count"`
}
