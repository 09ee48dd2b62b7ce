package model

import "time"

// DefaultProxyErrorThreshold is the consecutive proxy-failure count after
// which an account is taken out of dispatch.
const DefaultProxyErrorThreshold = 20

type Account struct {
	ID                  string        `db:"id" json:"id"`
	UserID              string        `db:"user_id" json:"userId"`
	ProxyID             *string       `db:"proxy_id" json:"proxyId,omitempty"`
	APIProfileID        *string       `db:"api_profile_id" json:"apiProfileId,omitempty"`
	Email               string        `db:"email" json:"email"`
	ChannelID           *string       `db:"channel_id" json:"channelId,omitempty"`
	ChannelTitle        *string       `db:"channel_title" json:"channelTitle,omitempty"`
	AccessToken         *string       `db:"access_token" json:"-"`
	RefreshToken        string        `db:"refresh_token" json:"-"`
	TokenExpiry         *time.Time    `db:"token_expiry" json:"tokenExpiry,omitempty"`
	Status              AccountStatus `db:"status" json:"status"`
	LastUsed            *time.Time    `db:"last_used" json:"lastUsed,omitempty"`
	LastMessage         *string       `db:"last_message" json:"lastMessage,omitempty"`
	ProxyErrorCount     int           `db:"proxy_error_count" json:"proxyErrorCount"`
	DuplicationCount    int           `db:"duplication_count" json:"duplicationCount"`
	ProxyErrorThreshold int           `db:"proxy_error_threshold" json:"proxyErrorThreshold"`
	CommentCount        int           `db:"comment_count" json:"commentCount"`
	LikeCount           int           `db:"like_count" json:"likeCount"`
	DailyUsageDate      *time.Time    `db:"daily_usage_date" json:"dailyUsageDate,omitempty"`
	CreatedAt           time.Time     `db:"created_at" json:"createdAt"`
	UpdatedAt           time.Time     `db:"updated_at" json:"updatedAt"`

	// Joined in by FindWithProxy; not a column.
	Proxy *Proxy `db:"-" json:"proxy,omitempty"`
}

// TokenExpired reports whether the access token must be refreshed before use.
func (a *Account) TokenExpired(now time.Time) bool {
	return a.AccessToken == nil || *a.AccessToken == "" ||
		a.TokenExpiry == nil || !a.TokenExpiry.After(now)
}

// UsageStale reports whether the per-day counters belong to an earlier day
// and must roll over before being incremented.
func (a *Account) UsageStale(now time.Time) bool {
	if a.DailyUsageDate == nil {
		return true
	}
	y1, m1, d1 := a.DailyUsageDate.Date()
	y2, m2, d2 := now.Date()
	return y1 != y2 || m1 != m2 || d1 != d2
}

type CreateAccountParams struct {
	UserID       string
	ProxyID      *string
	APIProfileID *string
	Email        string
	RefreshToken string
}

type UpdateAccountParams struct {
	ProxyID      *string
	APIProfileID *string
	Status       *AccountStatus
	RefreshToken *string
}
