package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/viboost/comment-engine-go/internal/model"
)

type ViewScheduleRepository interface {
	FindByID(ctx context.Context, id string) (*model.ViewSchedule, error)
	FindByUser(ctx context.Context, userID string, limit, offset int) ([]model.ViewSchedule, error)
	FindAllActive(ctx context.Context) ([]model.ViewSchedule, error)
	Create(ctx context.Context, params model.CreateViewScheduleParams) (*model.ViewSchedule, error)
	Delete(ctx context.Context, id string) error
	UpdateStatus(ctx context.Context, id string, status model.ScheduleStatus) error
	SetNextRunAt(ctx context.Context, id string, at *time.Time) error
	MarkProcessed(ctx context.Context, id string, at time.Time) error
	IncrementViews(ctx context.Context, id string) error
}

type viewScheduleRepo struct {
	db sqlxDB
}

func NewViewScheduleRepository(db *sqlx.DB) ViewScheduleRepository {
	return &viewScheduleRepo{db: db}
}

func (r *viewScheduleRepo) FindByID(ctx context.Context, id string) (*model.ViewSchedule, error) {
	var schedule model.ViewSchedule
	err := r.db.GetContext(ctx, &schedule, `
		SELECT * FROM view_schedules WHERE id = $1
	`, id)
	return HandleNotFound(&schedule, err)
}

func (r *viewScheduleRepo) FindByUser(ctx context.Context, userID string, limit, offset int) ([]model.ViewSchedule, error) {
	var schedules []model.ViewSchedule
	err := r.db.SelectContext(ctx, &schedules, `
		SELECT * FROM view_schedules
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	return schedules, nil
}

func (r *viewScheduleRepo) FindAllActive(ctx context.Context) ([]model.ViewSchedule, error) {
	var schedules []model.ViewSchedule
	err := r.db.SelectContext(ctx, &schedules, `
		SELECT * FROM view_schedules
		WHERE status = $1
		ORDER BY created_at ASC
	`, model.ScheduleStatusActive)
	if err != nil {
		return nil, err
	}
	return schedules, nil
}

func (r *viewScheduleRepo) Create(ctx context.Context, params model.CreateViewScheduleParams) (*model.ViewSchedule, error) {
	var schedule model.ViewSchedule
	err := r.db.GetContext(ctx, &schedule, `
		INSERT INTO view_schedules (
			user_id, name, status, target_videos, run_interval, probability,
			min_watch_time, max_watch_time, auto_like
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING *
	`, params.UserID, params.Name, model.ScheduleStatusActive, params.TargetVideos,
		params.Interval, params.Probability, params.MinWatchTime, params.MaxWatchTime,
		params.AutoLike)
	if err != nil {
		return nil, err
	}
	return &schedule, nil
}

func (r *viewScheduleRepo) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM view_schedules WHERE id = $1`, id)
	return err
}

func (r *viewScheduleRepo) UpdateStatus(ctx context.Context, id string, status model.ScheduleStatus) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE view_schedules SET status = $2, updated_at = $3 WHERE id = $1
	`, id, status, time.Now())
	return err
}

func (r *viewScheduleRepo) SetNextRunAt(ctx context.Context, id string, at *time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE view_schedules SET next_run_at = $2, updated_at = $3 WHERE id = $1
	`, id, at, time.Now())
	return err
}

func (r *viewScheduleRepo) MarkProcessed(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE view_schedules SET last_processed_at = $2, updated_at = $2 WHERE id = $1
	`, id, at)
	return err
}

func (r *viewScheduleRepo) IncrementViews(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE view_schedules SET total_views = total_views + 1, updated_at = $2 WHERE id = $1
	`, id, time.Now())
	return err
}
