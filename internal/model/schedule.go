package model

import (
	"time"

	"github.com/lib/pq"
)

type Schedule struct {
	ID               string           `db:"id" json:"id"`
	UserID           string           `db:"user_id" json:"userId"`
	Name             string           `db:"name" json:"name"`
	Status           ScheduleStatus   `db:"status" json:"status"`
	ScheduleType     ScheduleType     `db:"schedule_type" json:"scheduleType"`
	StartDate        *time.Time       `db:"start_date" json:"startDate,omitempty"`
	EndDate          *time.Time       `db:"end_date" json:"endDate,omitempty"`
	CronExpression   *string          `db:"cron_expression" json:"cronExpression,omitempty"`
	Interval         Interval         `db:"run_interval" json:"interval"`
	CommentTemplates pq.StringArray   `db:"comment_templates" json:"commentTemplates"`
	TargetVideos     TargetVideos     `db:"target_videos" json:"targetVideos"`
	TargetChannels   pq.StringArray   `db:"target_channels" json:"targetChannels"`
	AccountSelection AccountSelection `db:"account_selection" json:"accountSelection"`
	RotationEnabled  bool             `db:"rotation_enabled" json:"rotationEnabled"`
	CurrentlyActive  ActivePool       `db:"currently_active" json:"currentlyActive"`
	LastRotatedAt    *time.Time       `db:"last_rotated_at" json:"lastRotatedAt,omitempty"`
	UseAI            bool             `db:"use_ai" json:"useAI"`
	IncludeEmojis    bool             `db:"include_emojis" json:"includeEmojis"`
	MinDelay         int              `db:"min_delay" json:"minDelay"`
	MaxDelay         int              `db:"max_delay" json:"maxDelay"`
	BetweenAccounts  int              `db:"between_accounts_ms" json:"betweenAccountsMs"`
	LimitComments    LimitComments    `db:"limit_comments" json:"limitComments"`

	SleepDelayMinutes     int        `db:"sleep_delay_minutes" json:"sleepDelayMinutes"`
	SleepDelayStartTime   *time.Time `db:"sleep_delay_start_time" json:"sleepDelayStartTime,omitempty"`
	LastSleepTriggerCount int        `db:"last_sleep_trigger_count" json:"lastSleepTriggerCount"`

	LastUsedAccountID *string    `db:"last_used_account_id" json:"lastUsedAccountId,omitempty"`
	NextRunAt         *time.Time `db:"next_run_at" json:"nextRunAt,omitempty"`
	LastProcessedAt   *time.Time `db:"last_processed_at" json:"lastProcessedAt,omitempty"`

	TotalComments  int     `db:"total_comments" json:"totalComments"`
	PostedComments int     `db:"posted_comments" json:"postedComments"`
	FailedComments int     `db:"failed_comments" json:"failedComments"`
	ErrorCount     int     `db:"error_count" json:"errorCount"`
	ErrorMessage   *string `db:"error_message" json:"errorMessage,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`

	// Account pools, loaded from the link tables; not columns.
	SelectedAccounts  []string `db:"-" json:"selectedAccounts,omitempty"`
	PrincipalAccounts []string `db:"-" json:"principalAccounts,omitempty"`
	SecondaryAccounts []string `db:"-" json:"secondaryAccounts,omitempty"`
	RotatedPrincipal  []string `db:"-" json:"rotatedPrincipal,omitempty"`
	RotatedSecondary  []string `db:"-" json:"rotatedSecondary,omitempty"`
}

// Sleeping reports whether the schedule sits inside an unexpired sleep
// window at the given instant.
func (s *Schedule) Sleeping(now time.Time) bool {
	if s.SleepDelayMinutes <= 0 || s.SleepDelayStartTime == nil {
		return false
	}
	end := s.SleepDelayStartTime.Add(time.Duration(s.SleepDelayMinutes) * time.Minute)
	return now.Before(end)
}

// SleepExpired reports whether a previously-entered sleep window has run out
// and must be cleared at the start of the next batch.
func (s *Schedule) SleepExpired(now time.Time) bool {
	if s.SleepDelayMinutes <= 0 || s.SleepDelayStartTime == nil {
		return false
	}
	end := s.SleepDelayStartTime.Add(time.Duration(s.SleepDelayMinutes) * time.Minute)
	return !now.Before(end)
}

type CreateScheduleParams struct {
	UserID           string
	Name             string
	ScheduleType     ScheduleType
	StartDate        *time.Time
	EndDate          *time.Time
	CronExpression   *string
	Interval         Interval
	CommentTemplates []string
	TargetVideos     TargetVideos
	TargetChannels   []string
	AccountSelection AccountSelection
	RotationEnabled  bool
	UseAI            bool
	IncludeEmojis    bool
	MinDelay         int
	MaxDelay         int
	BetweenAccounts  int
	LimitComments    LimitComments

	SelectedAccounts  []string
	PrincipalAccounts []string
	SecondaryAccounts []string
}
