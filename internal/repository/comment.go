package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/viboost/comment-engine-go/internal/model"
)

type CommentRepository interface {
	FindByID(ctx context.Context, id string) (*model.Comment, error)
	FindBySchedule(ctx context.Context, scheduleID string, limit, offset int) ([]model.Comment, error)
	FindByUser(ctx context.Context, userID string, limit, offset int) ([]model.Comment, error)
	Create(ctx context.Context, params model.CreateCommentParams) (*model.Comment, error)
	Delete(ctx context.Context, id string) error

	MarkScheduled(ctx context.Context, id string, at time.Time) error
	MarkPosted(ctx context.Context, id, externalID string, at time.Time) error
	MarkFailed(ctx context.Context, id, errorMessage string) error
	ClaimPending(ctx context.Context, id string) (bool, error)
	ResetFailed(ctx context.Context, scheduleID string) ([]model.Comment, error)
	CountsBySchedule(ctx context.Context, scheduleID string) (model.StatusCounts, error)
	WithTx(tx *sqlx.Tx) CommentRepository
}

type commentRepo struct {
	db sqlxDB
}

func NewCommentRepository(db *sqlx.DB) CommentRepository {
	return &commentRepo{db: db}
}

func (r *commentRepo) WithTx(tx *sqlx.Tx) CommentRepository {
	return &commentRepo{db: tx}
}

func (r *commentRepo) FindByID(ctx context.Context, id string) (*model.Comment, error) {
	var comment model.Comment
	err := r.db.GetContext(ctx, &comment, `
		SELECT * FROM comments WHERE id = $1
	`, id)
	return HandleNotFound(&comment, err)
}

func (r *commentRepo) FindBySchedule(ctx context.Context, scheduleID string, limit, offset int) ([]model.Comment, error) {
	var comments []model.Comment
	err := r.db.SelectContext(ctx, &comments, `
		SELECT * FROM comments
		WHERE schedule_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, scheduleID, limit, offset)
	if err != nil {
		return nil, err
	}
	return comments, nil
}

func (r *commentRepo) FindByUser(ctx context.Context, userID string, limit, offset int) ([]model.Comment, error) {
	var comments []model.Comment
	err := r.db.SelectContext(ctx, &comments, `
		SELECT * FROM comments
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	return comments, nil
}

func (r *commentRepo) Create(ctx context.Context, params model.CreateCommentParams) (*model.Comment, error) {
	var comment model.Comment
	err := r.db.GetContext(ctx, &comment, `
		INSERT INTO comments (
			user_id, schedule_id, account_id, video_id, parent_id, content,
			status, scheduled_for, last_previous_account_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING *
	`, params.UserID, params.ScheduleID, params.AccountID, params.VideoID,
		params.ParentID, params.Content, model.CommentStatusPending,
		params.ScheduledFor, params.LastPreviousAccountID)
	if err != nil {
		return nil, err
	}
	return &comment, nil
}

func (r *commentRepo) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM comments WHERE id = $1`, id)
	return err
}

func (r *commentRepo) MarkScheduled(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE comments SET
			status = $2,
			scheduled_for = $3,
			updated_at = $4
		WHERE id = $1
	`, id, model.CommentStatusScheduled, at, time.Now())
	return err
}

func (r *commentRepo) MarkPosted(ctx context.Context, id, externalID string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE comments SET
			status = $2,
			external_id = $3,
			posted_at = $4,
			error_message = NULL,
			updated_at = $4
		WHERE id = $1
	`, id, model.CommentStatusPosted, externalID, at)
	return err
}

func (r *commentRepo) MarkFailed(ctx context.Context, id, errorMessage string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE comments SET
			status = $2,
			error_message = $3,
			retry_count = retry_count + 1,
			updated_at = $4
		WHERE id = $1
	`, id, model.CommentStatusFailed, errorMessage, time.Now())
	return err
}

// ClaimPending serialises duplicate deliveries of the same post-comment job:
// only the delivery that flips pending/scheduled to scheduled proceeds to
// the upstream call.
func (r *commentRepo) ClaimPending(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE comments SET
			status = $2,
			updated_at = $3
		WHERE id = $1 AND status IN ($4, $5)
	`, id, model.CommentStatusScheduled, time.Now(),
		model.CommentStatusPending, model.CommentStatusScheduled)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// ResetFailed flips a schedule's failed comments back to pending and
// returns them so the caller can re-enqueue post jobs.
func (r *commentRepo) ResetFailed(ctx context.Context, scheduleID string) ([]model.Comment, error) {
	var comments []model.Comment
	err := r.db.SelectContext(ctx, &comments, `
		UPDATE comments SET
			status = $2,
			error_message = NULL,
			updated_at = $3
		WHERE schedule_id = $1 AND status = $4
		RETURNING *
	`, scheduleID, model.CommentStatusPending, time.Now(), model.CommentStatusFailed)
	if err != nil {
		return nil, err
	}
	return comments, nil
}

func (r *commentRepo) CountsBySchedule(ctx context.Context, scheduleID string) (model.StatusCounts, error) {
	var rows []struct {
		Status model.CommentStatus `db:"status"`
		Count  int                 `db:"count"`
	}
	err := r.db.SelectContext(ctx, &rows, `
		SELECT status, COUNT(*) AS count FROM comments
		WHERE schedule_id = $1
		GROUP BY status
	`, scheduleID)
	if err != nil {
		return model.StatusCounts{}, err
	}

	var counts model.StatusCounts
	for _, row := range rows {
		counts.Total += row.Count
		switch row.Status {
		case model.CommentStatusPosted:
			counts.Posted = row.Count
		case model.CommentStatusFailed:
			counts.Failed = row.Count
		case model.CommentStatusPending, model.CommentStatusScheduled:
			counts.Pending += row.Count
		}
	}
	return counts, nil
}
