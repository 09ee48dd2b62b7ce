package model

import "time"

// Comment is one post attempt. posted implies ExternalID and PostedAt set.
type Comment struct {
	ID                    string        `db:"id" json:"id"`
	UserID                string        `db:"user_id" json:"userId"`
	ScheduleID            string        `db:"schedule_id" json:"scheduleId"`
	AccountID             string        `db:"account_id" json:"accountId"`
	VideoID               string        `db:"video_id" json:"videoId"`
	ParentID              *string       `db:"parent_id" json:"parentId,omitempty"`
	Content               string        `db:"content" json:"content"`
	Status                CommentStatus `db:"status" json:"status"`
	ScheduledFor          *time.Time    `db:"scheduled_for" json:"scheduledFor,omitempty"`
	PostedAt              *time.Time    `db:"posted_at" json:"postedAt,omitempty"`
	ErrorMessage          *string       `db:"error_message" json:"errorMessage,omitempty"`
	RetryCount            int           `db:"retry_count" json:"retryCount"`
	ExternalID            *string       `db:"external_id" json:"externalId,omitempty"`
	LastPreviousAccountID *string       `db:"last_previous_account_id" json:"lastPreviousAccountId,omitempty"`
	CreatedAt             time.Time     `db:"created_at" json:"createdAt"`
	UpdatedAt             time.Time     `db:"updated_at" json:"updatedAt"`
}

type CreateCommentParams struct {
	UserID                string
	ScheduleID            string
	AccountID             string
	VideoID               string
	ParentID              *string
	Content               string
	ScheduledFor          *time.Time
	LastPreviousAccountID *string
}

// StatusCounts carries a per-status aggregate for one schedule, produced by
// the reconciliation loop.
type StatusCounts struct {
	Total   int
	Posted  int
	Failed  int
	Pending int
}
