package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client talks to the YouTube Data API. Calls that must originate from a
// specific account's egress take the proxy-bound *http.Client built by the
// broker; metadata lookups run over the default client with the API key.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// APIError is the upstream error envelope. Reason carries the first
// machine-readable reason string (quotaExceeded, processingFailure, ...).
type APIError struct {
	StatusCode int
	Reason     string
	Message    string
}

func (e *APIError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("upstream %d %s: %s", e.StatusCode, e.Reason, e.Message)
	}
	return fmt.Sprintf("upstream %d: %s", e.StatusCode, e.Message)
}

type errorEnvelope struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Errors  []struct {
			Reason  string `json:"reason"`
			Message string `json:"message"`
		} `json:"errors"`
	} `json:"error"`
}

func decodeError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	apiErr := &APIError{StatusCode: resp.StatusCode, Message: string(body)}
	var envelope errorEnvelope
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		apiErr.Message = envelope.Error.Message
		if len(envelope.Error.Errors) > 0 {
			apiErr.Reason = envelope.Error.Errors[0].Reason
		}
	}
	return apiErr
}

type commentTextSnippet struct {
	TextOriginal string `json:"textOriginal"`
}

type topLevelComment struct {
	Snippet commentTextSnippet `json:"snippet"`
}

type insertCommentRequest struct {
	Snippet struct {
		VideoID         string           `json:"videoId,omitempty"`
		ParentID        string           `json:"parentId,omitempty"`
		TopLevelComment *topLevelComment `json:"topLevelComment,omitempty"`
		TextOriginal    string           `json:"textOriginal,omitempty"`
	} `json:"snippet"`
}

type insertCommentResponse struct {
	ID string `json:"id"`
}

// InsertComment posts one comment. With parentID set it is a reply through
// the comments endpoint; otherwise a new top-level thread.
func (c *Client) InsertComment(ctx context.Context, hc *http.Client, accessToken, videoID, text string, parentID *string) (string, error) {
	var endpoint string
	var req insertCommentRequest

	if parentID != nil && *parentID != "" {
		endpoint = c.baseURL + "/comments?part=snippet"
		req.Snippet.ParentID = *parentID
		req.Snippet.TextOriginal = text
	} else {
		endpoint = c.baseURL + "/commentThreads?part=snippet"
		req.Snippet.VideoID = videoID
		req.Snippet.TopLevelComment = &topLevelComment{
			Snippet: commentTextSnippet{TextOriginal: text},
		}
	}

	var resp insertCommentResponse
	if err := c.doJSON(ctx, hc, http.MethodPost, endpoint, accessToken, req, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", &APIError{StatusCode: http.StatusOK, Message: "response missing comment id"}
	}
	return resp.ID, nil
}

// RateVideo issues a like on behalf of the account.
func (c *Client) RateVideo(ctx context.Context, hc *http.Client, accessToken, videoID string) error {
	endpoint := fmt.Sprintf("%s/videos/rate?id=%s&rating=like", c.baseURL, url.QueryEscape(videoID))
	return c.doJSON(ctx, hc, http.MethodPost, endpoint, accessToken, nil, nil)
}

type videoListResponse struct {
	Items []struct {
		Snippet struct {
			Title string `json:"title"`
		} `json:"snippet"`
	} `json:"items"`
}

// VideoTitle looks a video's title up with the API key.
func (c *Client) VideoTitle(ctx context.Context, videoID string) (string, error) {
	endpoint := fmt.Sprintf("%s/videos?part=snippet&id=%s&key=%s",
		c.baseURL, url.QueryEscape(videoID), url.QueryEscape(c.apiKey))

	var resp videoListResponse
	if err := c.doJSON(ctx, c.http, http.MethodGet, endpoint, "", nil, &resp); err != nil {
		return "", err
	}
	if len(resp.Items) == 0 {
		return "", &APIError{StatusCode: http.StatusNotFound, Message: "video not found"}
	}
	return resp.Items[0].Snippet.Title, nil
}

type channelListResponse struct {
	Items []struct {
		ID      string `json:"id"`
		Snippet struct {
			Title string `json:"title"`
		} `json:"snippet"`
	} `json:"items"`
}

// MyChannel resolves the authenticated account's own channel, used by
// account verification.
func (c *Client) MyChannel(ctx context.Context, hc *http.Client, accessToken string) (string, string, error) {
	endpoint := c.baseURL + "/channels?part=snippet&mine=true"

	var resp channelListResponse
	if err := c.doJSON(ctx, hc, http.MethodGet, endpoint, accessToken, nil, &resp); err != nil {
		return "", "", err
	}
	if len(resp.Items) == 0 {
		return "", "", &APIError{StatusCode: http.StatusNotFound, Message: "channel not found"}
	}
	return resp.Items[0].ID, resp.Items[0].Snippet.Title, nil
}

func (c *Client) doJSON(ctx context.Context, hc *http.Client, method, endpoint, accessToken string, body, dest any) error {
	if hc == nil {
		hc = c.http
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}

	resp, err := hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if dest != nil {
		return json.NewDecoder(resp.Body).Decode(dest)
	}
	return nil
}
