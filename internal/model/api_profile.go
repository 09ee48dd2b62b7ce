package model

import "time"

// APIProfile is one set of upstream platform credentials. At most one
// profile is active at a time; activation is an atomic swap.
type APIProfile struct {
	ID           string           `db:"id" json:"id"`
	Name         string           `db:"name" json:"name"`
	ClientID     string           `db:"client_id" json:"clientId"`
	ClientSecret string           `db:"client_secret" json:"-"`
	RedirectURI  string           `db:"redirect_uri" json:"redirectUri"`
	APIKey       string           `db:"api_key" json:"-"`
	UsedQuota    int              `db:"used_quota" json:"usedQuota"`
	LimitQuota   int              `db:"limit_quota" json:"limitQuota"`
	Status       APIProfileStatus `db:"status" json:"status"`
	ExceededAt   *time.Time       `db:"exceeded_at" json:"exceededAt,omitempty"`
	IsActive     bool             `db:"is_active" json:"isActive"`
	CreatedAt    time.Time        `db:"created_at" json:"createdAt"`
	UpdatedAt    time.Time        `db:"updated_at" json:"updatedAt"`
}

type CreateAPIProfileParams struct {
	Name         string
	ClientID     string
	ClientSecret string
	RedirectURI  string
	APIKey       string
	LimitQuota   int
}
