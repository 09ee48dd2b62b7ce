package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/viboost/comment-engine-go/internal/model"
)

type ScheduleRepository interface {
	FindByID(ctx context.Context, id string) (*model.Schedule, error)
	FindByIDWithPools(ctx context.Context, id string) (*model.Schedule, error)
	FindByUser(ctx context.Context, userID string, limit, offset int) ([]model.Schedule, error)
	FindAllActive(ctx context.Context) ([]model.Schedule, error)
	FindAllIDs(ctx context.Context) ([]string, error)
	Create(ctx context.Context, params model.CreateScheduleParams) (*model.Schedule, error)
	Delete(ctx context.Context, id string) error

	UpdateStatus(ctx context.Context, id string, status model.ScheduleStatus, errorMessage *string) error
	ReactivateErrored(ctx context.Context) ([]string, error)
	SetNextRunAt(ctx context.Context, id string, at *time.Time) error
	MarkProcessed(ctx context.Context, id string, at time.Time) error
	IncrementPosted(ctx context.Context, id string) error
	IncrementFailed(ctx context.Context, id string) error
	AddTotal(ctx context.Context, id string, n int) error
	IncrementErrorCount(ctx context.Context, id string) (int, error)
	SetCounters(ctx context.Context, id string, total, posted, failed int) error

	SetSleepWindow(ctx context.Context, id string, minutes int, start time.Time, triggerCount int) error
	ClearSleepWindow(ctx context.Context, id string) error
	UpdateLimitComments(ctx context.Context, id string, limit model.LimitComments) error
	UpdateInterval(ctx context.Context, id string, interval model.Interval) error
	SetLastUsedAccount(ctx context.Context, id, accountID string) error
	AppendCommentTemplate(ctx context.Context, id, template string) error
	SetActivePool(ctx context.Context, id string, pool model.ActivePool, rotatedAt time.Time) error

	GetPool(ctx context.Context, id string, role model.AccountRole) ([]string, error)
	ReplacePool(ctx context.Context, id string, role model.AccountRole, accountIDs []string) error

	WithTx(tx *sqlx.Tx) ScheduleRepository
}

type scheduleRepo struct {
	db sqlxDB
}

func NewScheduleRepository(db *sqlx.DB) ScheduleRepository {
	return &scheduleRepo{db: db}
}

func (r *scheduleRepo) WithTx(tx *sqlx.Tx) ScheduleRepository {
	return &scheduleRepo{db: tx}
}

func (r *scheduleRepo) FindByID(ctx context.Context, id string) (*model.Schedule, error) {
	var schedule model.Schedule
	err := r.db.GetContext(ctx, &schedule, `
		SELECT * FROM schedules WHERE id = $1
	`, id)
	return HandleNotFound(&schedule, err)
}

func (r *scheduleRepo) FindByIDWithPools(ctx context.Context, id string) (*model.Schedule, error) {
	schedule, err := r.FindByID(ctx, id)
	if err != nil || schedule == nil {
		return schedule, err
	}
	if err := r.loadPools(ctx, schedule); err != nil {
		return nil, err
	}
	return schedule, nil
}

type scheduleAccountRow struct {
	AccountID string            `db:"account_id"`
	Role      model.AccountRole `db:"role"`
}

func (r *scheduleRepo) loadPools(ctx context.Context, schedule *model.Schedule) error {
	var rows []scheduleAccountRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT account_id, role FROM schedule_accounts
		WHERE schedule_id = $1
		ORDER BY position ASC
	`, schedule.ID)
	if err != nil {
		return err
	}
	for _, row := range rows {
		switch row.Role {
		case model.AccountRoleSelected:
			schedule.SelectedAccounts = append(schedule.SelectedAccounts, row.AccountID)
		case model.AccountRolePrincipal:
			schedule.PrincipalAccounts = append(schedule.PrincipalAccounts, row.AccountID)
		case model.AccountRoleSecondary:
			schedule.SecondaryAccounts = append(schedule.SecondaryAccounts, row.AccountID)
		case model.AccountRoleRotatedPrincipal:
			schedule.RotatedPrincipal = append(schedule.RotatedPrincipal, row.AccountID)
		case model.AccountRoleRotatedSecondary:
			schedule.RotatedSecondary = append(schedule.RotatedSecondary, row.AccountID)
		}
	}
	return nil
}

func (r *scheduleRepo) FindByUser(ctx context.Context, userID string, limit, offset int) ([]model.Schedule, error) {
	var schedules []model.Schedule
	err := r.db.SelectContext(ctx, &schedules, `
		SELECT * FROM schedules
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	return schedules, nil
}

// FindAllActive feeds job re-materialisation on startup.
func (r *scheduleRepo) FindAllActive(ctx context.Context) ([]model.Schedule, error) {
	var schedules []model.Schedule
	err := r.db.SelectContext(ctx, &schedules, `
		SELECT * FROM schedules
		WHERE status = $1
		ORDER BY created_at ASC
	`, model.ScheduleStatusActive)
	if err != nil {
		return nil, err
	}
	return schedules, nil
}

func (r *scheduleRepo) FindAllIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := r.db.SelectContext(ctx, &ids, `SELECT id FROM schedules ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *scheduleRepo) Create(ctx context.Context, params model.CreateScheduleParams) (*model.Schedule, error) {
	var schedule model.Schedule
	err := r.db.GetContext(ctx, &schedule, `
		INSERT INTO schedules (
			user_id, name, status, schedule_type, start_date, end_date, cron_expression,
			run_interval, comment_templates, target_videos, target_channels,
			account_selection, rotation_enabled, currently_active, use_ai, include_emojis,
			min_delay, max_delay, between_accounts_ms, limit_comments
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20
		)
		RETURNING *
	`, params.UserID, params.Name, model.ScheduleStatusActive, params.ScheduleType,
		params.StartDate, params.EndDate, params.CronExpression,
		params.Interval, pq.StringArray(params.CommentTemplates), params.TargetVideos,
		pq.StringArray(params.TargetChannels), params.AccountSelection,
		params.RotationEnabled, model.ActivePoolPrincipal, params.UseAI, params.IncludeEmojis,
		params.MinDelay, params.MaxDelay, params.BetweenAccounts, params.LimitComments)
	if err != nil {
		return nil, err
	}

	if err := r.ReplacePool(ctx, schedule.ID, model.AccountRoleSelected, params.SelectedAccounts); err != nil {
		return nil, err
	}
	if err := r.ReplacePool(ctx, schedule.ID, model.AccountRolePrincipal, params.PrincipalAccounts); err != nil {
		return nil, err
	}
	if err := r.ReplacePool(ctx, schedule.ID, model.AccountRoleSecondary, params.SecondaryAccounts); err != nil {
		return nil, err
	}
	return r.FindByIDWithPools(ctx, schedule.ID)
}

func (r *scheduleRepo) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM schedules WHERE id = $1`, id)
	return err
}

func (r *scheduleRepo) UpdateStatus(ctx context.Context, id string, status model.ScheduleStatus, errorMessage *string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE schedules SET
			status = $2,
			error_message = COALESCE($3, error_message),
			updated_at = $4
		WHERE id = $1
	`, id, status, errorMessage, time.Now())
	return err
}

// ReactivateErrored returns error and requires_review schedules to active
// during the daily reset; paused and completed schedules are never touched.
func (r *scheduleRepo) ReactivateErrored(ctx context.Context) ([]string, error) {
	var ids []string
	err := r.db.SelectContext(ctx, &ids, `
		UPDATE schedules SET
			status = $1,
			error_count = 0,
			error_message = NULL,
			updated_at = $2
		WHERE status IN ($3, $4)
		RETURNING id
	`, model.ScheduleStatusActive, time.Now(),
		model.ScheduleStatusError, model.ScheduleStatusRequiresReview)
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *scheduleRepo) SetNextRunAt(ctx context.Context, id string, at *time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE schedules SET next_run_at = $2, updated_at = $3 WHERE id = $1
	`, id, at, time.Now())
	return err
}

func (r *scheduleRepo) MarkProcessed(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE schedules SET last_processed_at = $2, updated_at = $2 WHERE id = $1
	`, id, at)
	return err
}

func (r *scheduleRepo) IncrementPosted(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE schedules SET posted_comments = posted_comments + 1, updated_at = $2 WHERE id = $1
	`, id, time.Now())
	return err
}

func (r *scheduleRepo) IncrementFailed(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE schedules SET failed_comments = failed_comments + 1, updated_at = $2 WHERE id = $1
	`, id, time.Now())
	return err
}

func (r *scheduleRepo) AddTotal(ctx context.Context, id string, n int) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE schedules SET total_comments = total_comments + $2, updated_at = $3 WHERE id = $1
	`, id, n, time.Now())
	return err
}

func (r *scheduleRepo) IncrementErrorCount(ctx context.Context, id string) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `
		UPDATE schedules SET error_count = error_count + 1, updated_at = $2
		WHERE id = $1
		RETURNING error_count
	`, id, time.Now())
	return count, err
}

// SetCounters writes reconciled actuals.
func (r *scheduleRepo) SetCounters(ctx context.Context, id string, total, posted, failed int) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE schedules SET
			total_comments = $2,
			posted_comments = $3,
			failed_comments = $4,
			updated_at = $5
		WHERE id = $1
	`, id, total, posted, failed, time.Now())
	return err
}

// SetSleepWindow persists the sleep window and the trigger guard in one
// statement; the guard is what makes re-triggering at the same posted count
// a no-op.
func (r *scheduleRepo) SetSleepWindow(ctx context.Context, id string, minutes int, start time.Time, triggerCount int) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE schedules SET
			sleep_delay_minutes = $2,
			sleep_delay_start_time = $3,
			last_sleep_trigger_count = $4,
			updated_at = $5
		WHERE id = $1
	`, id, minutes, start, triggerCount, time.Now())
	return err
}

func (r *scheduleRepo) ClearSleepWindow(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE schedules SET
			sleep_delay_minutes = 0,
			sleep_delay_start_time = NULL,
			updated_at = $2
		WHERE id = $1
	`, id, time.Now())
	return err
}

func (r *scheduleRepo) UpdateLimitComments(ctx context.Context, id string, limit model.LimitComments) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE schedules SET limit_comments = $2, updated_at = $3 WHERE id = $1
	`, id, limit, time.Now())
	return err
}

func (r *scheduleRepo) UpdateInterval(ctx context.Context, id string, interval model.Interval) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE schedules SET run_interval = $2, updated_at = $3 WHERE id = $1
	`, id, interval, time.Now())
	return err
}

func (r *scheduleRepo) SetLastUsedAccount(ctx context.Context, id, accountID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE schedules SET last_used_account_id = $2, updated_at = $3 WHERE id = $1
	`, id, accountID, time.Now())
	return err
}

// AppendCommentTemplate grows the template pool with an AI-generated
// comment, skipping exact duplicates.
func (r *scheduleRepo) AppendCommentTemplate(ctx context.Context, id, template string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE schedules SET
			comment_templates = array_append(comment_templates, $2),
			updated_at = $3
		WHERE id = $1 AND NOT ($2 = ANY(comment_templates))
	`, id, template, time.Now())
	return err
}

func (r *scheduleRepo) SetActivePool(ctx context.Context, id string, pool model.ActivePool, rotatedAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE schedules SET
			currently_active = $2,
			last_rotated_at = $3,
			updated_at = $3
		WHERE id = $1
	`, id, pool, rotatedAt)
	return err
}

func (r *scheduleRepo) GetPool(ctx context.Context, id string, role model.AccountRole) ([]string, error) {
	var ids []string
	err := r.db.SelectContext(ctx, &ids, `
		SELECT account_id FROM schedule_accounts
		WHERE schedule_id = $1 AND role = $2
		ORDER BY position ASC
	`, id, role)
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// ReplacePool rewrites one role's link rows.
func (r *scheduleRepo) ReplacePool(ctx context.Context, id string, role model.AccountRole, accountIDs []string) error {
	_, err := r.db.ExecContext(ctx, `
		DELETE FROM schedule_accounts WHERE schedule_id = $1 AND role = $2
	`, id, role)
	if err != nil {
		return err
	}
	for i, accountID := range accountIDs {
		_, err := r.db.ExecContext(ctx, `
			INSERT INTO schedule_accounts (schedule_id, account_id, role, position)
			VALUES ($1, $2, $3, $4)
		`, id, accountID, role, i)
		if err != nil {
			return err
		}
	}
	return nil
}
