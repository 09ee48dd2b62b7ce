package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/viboost/comment-engine-go/internal/model"
)

type AccountRepository interface {
	FindByID(ctx context.Context, id string) (*model.Account, error)
	FindWithProxy(ctx context.Context, id string) (*model.Account, error)
	FindByUser(ctx context.Context, userID string, limit, offset int) ([]model.Account, error)
	FindActiveByIDs(ctx context.Context, ids []string) ([]model.Account, error)
	FindActiveByUser(ctx context.Context, userID string) ([]model.Account, error)
	Create(ctx context.Context, params model.CreateAccountParams) (*model.Account, error)
	Update(ctx context.Context, id string, params model.UpdateAccountParams) (*model.Account, error)
	Delete(ctx context.Context, id string) error
	UpdateTokens(ctx context.Context, id, accessToken string, expiry time.Time) error
	SetStatus(ctx context.Context, id string, status model.AccountStatus, lastMessage *string) error
	SetProxy(ctx context.Context, id string, proxyID *string) error
	SetChannel(ctx context.Context, id, channelID, channelTitle string) error
	MarkUsed(ctx context.Context, id string, at time.Time) error
	ResetProxyFailures(ctx context.Context, id string) error
	IncrementProxyError(ctx context.Context, id string) (int, error)
	IncrementDuplication(ctx context.Context, id string) error
	BumpCommentUsage(ctx context.Context, id string, day time.Time) error
	BumpLikeUsage(ctx context.Context, id string, day time.Time) error
	ReactivateAll(ctx context.Context) (int64, error)
	WithTx(tx *sqlx.Tx) AccountRepository
}

type accountRepo struct {
	db sqlxDB
}

func NewAccountRepository(db *sqlx.DB) AccountRepository {
	return &accountRepo{db: db}
}

func (r *accountRepo) WithTx(tx *sqlx.Tx) AccountRepository {
	return &accountRepo{db: tx}
}

func (r *accountRepo) FindByID(ctx context.Context, id string) (*model.Account, error) {
	var account model.Account
	err := r.db.GetContext(ctx, &account, `
		SELECT * FROM accounts WHERE id = $1
	`, id)
	return HandleNotFound(&account, err)
}

// FindWithProxy loads the account plus its assigned proxy in one round trip.
func (r *accountRepo) FindWithProxy(ctx context.Context, id string) (*model.Account, error) {
	account, err := r.FindByID(ctx, id)
	if err != nil || account == nil {
		return account, err
	}
	if account.ProxyID != nil {
		var proxy model.Proxy
		err := r.db.GetContext(ctx, &proxy, `
			SELECT * FROM proxies WHERE id = $1
		`, *account.ProxyID)
		loaded, err := HandleNotFound(&proxy, err)
		if err != nil {
			return nil, err
		}
		account.Proxy = loaded
	}
	return account, nil
}

func (r *accountRepo) FindByUser(ctx context.Context, userID string, limit, offset int) ([]model.Account, error) {
	var accounts []model.Account
	err := r.db.SelectContext(ctx, &accounts, `
		SELECT * FROM accounts
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	return accounts, nil
}

func (r *accountRepo) FindActiveByIDs(ctx context.Context, ids []string) ([]model.Account, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var accounts []model.Account
	err := r.db.SelectContext(ctx, &accounts, `
		SELECT * FROM accounts
		WHERE id = ANY($1) AND status = $2
		ORDER BY last_used ASC NULLS FIRST
	`, pq.Array(ids), model.AccountStatusActive)
	if err != nil {
		return nil, err
	}
	return accounts, nil
}

func (r *accountRepo) FindActiveByUser(ctx context.Context, userID string) ([]model.Account, error) {
	var accounts []model.Account
	err := r.db.SelectContext(ctx, &accounts, `
		SELECT * FROM accounts
		WHERE user_id = $1 AND status = $2
		ORDER BY last_used ASC NULLS FIRST
	`, userID, model.AccountStatusActive)
	if err != nil {
		return nil, err
	}
	return accounts, nil
}

func (r *accountRepo) Create(ctx context.Context, params model.CreateAccountParams) (*model.Account, error) {
	var account model.Account
	err := r.db.GetContext(ctx, &account, `
		INSERT INTO accounts (user_id, proxy_id, api_profile_id, email, refresh_token, status, proxy_error_threshold)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING *
	`, params.UserID, params.ProxyID, params.APIProfileID, params.Email,
		params.RefreshToken, model.AccountStatusActive, model.DefaultProxyErrorThreshold)
	if err != nil {
		return nil, err
	}
	return &account, nil
}

func (r *accountRepo) Update(ctx context.Context, id string, params model.UpdateAccountParams) (*model.Account, error) {
	var account model.Account
	err := r.db.GetContext(ctx, &account, `
		UPDATE accounts SET
			proxy_id = COALESCE($2, proxy_id),
			api_profile_id = COALESCE($3, api_profile_id),
			status = COALESCE($4, status),
			refresh_token = COALESCE($5, refresh_token),
			updated_at = $6
		WHERE id = $1
		RETURNING *
	`, id, params.ProxyID, params.APIProfileID, params.Status, params.RefreshToken, time.Now())
	return HandleNotFound(&account, err)
}

func (r *accountRepo) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM accounts WHERE id = $1`, id)
	return err
}

func (r *accountRepo) UpdateTokens(ctx context.Context, id, accessToken string, expiry time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE accounts SET
			access_token = $2,
			token_expiry = $3,
			updated_at = $4
		WHERE id = $1
	`, id, accessToken, expiry, time.Now())
	return err
}

func (r *accountRepo) SetStatus(ctx context.Context, id string, status model.AccountStatus, lastMessage *string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE accounts SET
			status = $2,
			last_message = COALESCE($3, last_message),
			updated_at = $4
		WHERE id = $1
	`, id, status, lastMessage, time.Now())
	return err
}

func (r *accountRepo) SetProxy(ctx context.Context, id string, proxyID *string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE accounts SET
			proxy_id = $2,
			updated_at = $3
		WHERE id = $1
	`, id, proxyID, time.Now())
	return err
}

func (r *accountRepo) SetChannel(ctx context.Context, id, channelID, channelTitle string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE accounts SET
			channel_id = $2,
			channel_title = $3,
			updated_at = $4
		WHERE id = $1
	`, id, channelID, channelTitle, time.Now())
	return err
}

func (r *accountRepo) MarkUsed(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE accounts SET last_used = $2, updated_at = $2 WHERE id = $1
	`, id, at)
	return err
}

// ResetProxyFailures clears the failure streak after a successful post.
func (r *accountRepo) ResetProxyFailures(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE accounts SET
			proxy_error_count = 0,
			status = $2,
			updated_at = $3
		WHERE id = $1
	`, id, model.AccountStatusActive, time.Now())
	return err
}

func (r *accountRepo) IncrementProxyError(ctx context.Context, id string) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `
		UPDATE accounts SET
			proxy_error_count = proxy_error_count + 1,
			updated_at = $2
		WHERE id = $1
		RETURNING proxy_error_count
	`, id, time.Now())
	return count, err
}

func (r *accountRepo) IncrementDuplication(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE accounts SET
			duplication_count = duplication_count + 1,
			updated_at = $2
		WHERE id = $1
	`, id, time.Now())
	return err
}

// BumpCommentUsage rolls the per-day counters over when the stored usage day
// is not today, then counts one comment.
func (r *accountRepo) BumpCommentUsage(ctx context.Context, id string, day time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE accounts SET
			comment_count = CASE WHEN daily_usage_date IS NULL OR daily_usage_date::date != $2::date THEN 1 ELSE comment_count + 1 END,
			like_count = CASE WHEN daily_usage_date IS NULL OR daily_usage_date::date != $2::date THEN 0 ELSE like_count END,
			daily_usage_date = $2,
			updated_at = $3
		WHERE id = $1
	`, id, day, time.Now())
	return err
}

func (r *accountRepo) BumpLikeUsage(ctx context.Context, id string, day time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE accounts SET
			like_count = CASE WHEN daily_usage_date IS NULL OR daily_usage_date::date != $2::date THEN 1 ELSE like_count + 1 END,
			comment_count = CASE WHEN daily_usage_date IS NULL OR daily_usage_date::date != $2::date THEN 0 ELSE comment_count END,
			daily_usage_date = $2,
			updated_at = $3
		WHERE id = $1
	`, id, day, time.Now())
	return err
}

// ReactivateAll is the midnight reset: inactive and limited accounts return
// to dispatch with a clean failure streak.
func (r *accountRepo) ReactivateAll(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE accounts SET
			status = $1,
			proxy_error_count = 0,
			updated_at = $2
		WHERE status IN ($3, $4)
	`, model.AccountStatusActive, time.Now(), model.AccountStatusInactive, model.AccountStatusLimited)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
