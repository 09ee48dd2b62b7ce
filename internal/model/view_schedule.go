package model

import "time"

// ViewSchedule is the thin sibling of Schedule driving simulated watch
// sessions through the external viewer service.
type ViewSchedule struct {
	ID              string         `db:"id" json:"id"`
	UserID          string         `db:"user_id" json:"userId"`
	Name            string         `db:"name" json:"name"`
	Status          ScheduleStatus `db:"status" json:"status"`
	TargetVideos    TargetVideos   `db:"target_videos" json:"targetVideos"`
	Interval        Interval       `db:"run_interval" json:"interval"`
	Probability     int            `db:"probability" json:"probability"`
	MinWatchTime    int            `db:"min_watch_time" json:"minWatchTime"`
	MaxWatchTime    int            `db:"max_watch_time" json:"maxWatchTime"`
	AutoLike        bool           `db:"auto_like" json:"autoLike"`
	NextRunAt       *time.Time     `db:"next_run_at" json:"nextRunAt,omitempty"`
	LastProcessedAt *time.Time     `db:"last_processed_at" json:"lastProcessedAt,omitempty"`
	TotalViews      int            `db:"total_views" json:"totalViews"`
	CreatedAt       time.Time      `db:"created_at" json:"createdAt"`
	UpdatedAt       time.Time      `db:"updated_at" json:"updatedAt"`
}

type CreateViewScheduleParams struct {
	UserID       string
	Name         string
	TargetVideos TargetVideos
	Interval     Interval
	Probability  int
	MinWatchTime int
	MaxWatchTime int
	AutoLike     bool
}
