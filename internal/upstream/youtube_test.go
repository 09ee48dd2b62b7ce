package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInsertComment(t *testing.T) {
	t.Run("top-level comment returns id", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/commentThreads", r.URL.Path)
			assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))

			var body map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			snippet := body["snippet"].(map[string]any)
			assert.Equal(t, "vid-1", snippet["videoId"])

			json.NewEncoder(w).Encode(map[string]string{"id": "ext-123"})
		}))
		defer server.Close()

		client := NewClient(server.URL, "key")
		id, err := client.InsertComment(context.Background(), nil, "tok-1", "vid-1", "great video", nil)
		require.NoError(t, err)
		assert.Equal(t, "ext-123", id)
	})

	t.Run("reply goes through comments endpoint", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/comments", r.URL.Path)
			json.NewEncoder(w).Encode(map[string]string{"id": "ext-456"})
		}))
		defer server.Close()

		parent := "parent-1"
		client := NewClient(server.URL, "key")
		id, err := client.InsertComment(context.Background(), nil, "tok-1", "vid-1", "nice", &parent)
		require.NoError(t, err)
		assert.Equal(t, "ext-456", id)
	})

	t.Run("quota error carries reason", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusForbidden)
			json.NewEncoder(w).Encode(map[string]any{
				"error": map[string]any{
					"code":    403,
					"message": "The request cannot be completed because you have exceeded your quota.",
					"errors":  []map[string]string{{"reason": "quotaExceeded"}},
				},
			})
		}))
		defer server.Close()

		client := NewClient(server.URL, "key")
		_, err := client.InsertComment(context.Background(), nil, "tok-1", "vid-1", "text", nil)
		require.Error(t, err)

		var apiErr *APIError
		require.True(t, errors.As(err, &apiErr))
		assert.Equal(t, "quotaExceeded", apiErr.Reason)
		assert.True(t, IsQuotaExceeded(err))
	})

	t.Run("missing id is an error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]string{})
		}))
		defer server.Close()

		client := NewClient(server.URL, "key")
		_, err := client.InsertComment(context.Background(), nil, "tok-1", "vid-1", "text", nil)
		assert.Error(t, err)
	})
}

func TestVideoTitle(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/videos", r.URL.Path)
		assert.Equal(t, "vid-9", r.URL.Query().Get("id"))
		assert.Equal(t, "key", r.URL.Query().Get("key"))
		json.NewEncoder(w).Encode(map[string]any{
			"items": []map[string]any{{"snippet": map[string]string{"title": "My Cool Video"}}},
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, "key")
	title, err := client.VideoTitle(context.Background(), "vid-9")
	require.NoError(t, err)
	assert.Equal(t, "My Cool Video", title)
}

func TestMyChannel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/channels", r.URL.Path)
		assert.Equal(t, "true", r.URL.Query().Get("mine"))
		json.NewEncoder(w).Encode(map[string]any{
			"items": []map[string]any{{
				"id":      "chan-1",
				"snippet": map[string]string{"title": "My Channel"},
			}},
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, "key")
	id, title, err := client.MyChannel(context.Background(), nil, "tok")
	require.NoError(t, err)
	assert.Equal(t, "chan-1", id)
	assert.Equal(t, "My Channel", title)
}

func TestClassify(t *testing.T) {
	t.Run("duplicate by processingFailure", func(t *testing.T) {
		err := &APIError{StatusCode: 400, Reason: "processingFailure", Message: "Duplicate comment detected"}
		assert.True(t, IsDuplicate(err))
		assert.False(t, IsQuotaExceeded(err))
	})

	t.Run("proxy error by transport text", func(t *testing.T) {
		err := errors.New(`Post "https://example.com": proxyconnect tcp: dial tcp: connection refused`)
		assert.True(t, IsProxyError(err))
	})

	t.Run("dailyLimitExceeded is quota", func(t *testing.T) {
		err := &APIError{StatusCode: 403, Reason: "dailyLimitExceeded", Message: "daily limit"}
		assert.True(t, IsQuotaExceeded(err))
	})

	t.Run("5xx is transient", func(t *testing.T) {
		err := &APIError{StatusCode: 503, Message: "backend error"}
		assert.True(t, IsTransient(err))
		assert.False(t, IsTransient(&APIError{StatusCode: 400}))
	})
}

func TestOAuthRefresh(t *testing.T) {
	t.Run("success parses token and expiry", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, r.ParseForm())
			assert.Equal(t, "refresh_token", r.Form.Get("grant_type"))
			assert.Equal(t, "rt-1", r.Form.Get("refresh_token"))
			assert.Equal(t, "cid", r.Form.Get("client_id"))
			json.NewEncoder(w).Encode(map[string]any{"access_token": "at-1", "expires_in": 3600})
		}))
		defer server.Close()

		client := NewOAuthClient(server.URL)
		token, expiry, err := client.Refresh(context.Background(), "cid", "secret", "http://cb", "rt-1")
		require.NoError(t, err)
		assert.Equal(t, "at-1", token)
		assert.False(t, expiry.IsZero())
	})

	t.Run("failure surfaces status", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]string{"error": "invalid_grant"})
		}))
		defer server.Close()

		client := NewOAuthClient(server.URL)
		_, _, err := client.Refresh(context.Background(), "cid", "secret", "", "rt-1")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid_grant")
	})
}

func TestLLMComplete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, 50, req.MaxTokens)
		assert.InDelta(t, 0.9, req.Temperature, 0.001)
		require.Len(t, req.Messages, 1)
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{
				"message": map[string]string{"role": "assistant", "content": "  Love this video!  "},
			}},
		})
	}))
	defer server.Close()

	client := NewLLMClient(server.URL, "sk-test", "test-model")
	out, err := client.Complete(context.Background(), "Write one short comment")
	require.NoError(t, err)
	assert.Equal(t, "Love this video!", out)
}
