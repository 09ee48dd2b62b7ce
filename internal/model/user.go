package model

import "time"

// User is owned by the external auth service; the engine only reads it to
// scope accounts, proxies and schedules and to authenticate API calls.
type User struct {
	ID           string     `db:"id" json:"id"`
	Email        string     `db:"email" json:"email"`
	APITokenHash *string    `db:"api_token_hash" json:"-"`
	Timezone     string     `db:"timezone" json:"timezone"`
	CreatedAt    time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updatedAt"`
	DisabledAt   *time.Time `db:"disabled_at" json:"disabledAt,omitempty"`
}
