package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/viboost/comment-engine-go/internal/config"
)

// ViewRequest is the invocation boundary of the external viewer service.
type ViewRequest struct {
	VideoID      string `json:"videoId"`
	MinWatchTime int    `json:"minWatchTime"`
	MaxWatchTime int    `json:"maxWatchTime"`
	ProxyURL     string `json:"proxyUrl,omitempty"`
	UserAgent    string `json:"userAgent,omitempty"`
}

// Viewer simulates one watch session. The implementation lives outside the
// engine; this is only its calling shape.
type Viewer interface {
	Watch(ctx context.Context, req ViewRequest) error
}

// HTTPViewer calls the viewer service over HTTP. Watch sessions drive a
// real browser on the far side, so the timeout matches navigation, not an
// API round trip.
type HTTPViewer struct {
	url  string
	http *http.Client
}

func NewHTTPViewer(url string) *HTTPViewer {
	return &HTTPViewer{
		url:  url,
		http: &http.Client{Timeout: config.BrowserNavTimeout},
	}
}

func (v *HTTPViewer) Watch(ctx context.Context, req ViewRequest) error {
	if v.url == "" {
		return fmt.Errorf("viewer service url not configured")
	}

	data, err := json.Marshal(req)
	if err != nil {
		return err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, v.url+"/watch", bytes.NewReader(data))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := v.http.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("viewer returned %d: %s", resp.StatusCode, string(body))
	}
	return nil
}
