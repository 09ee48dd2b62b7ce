package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/viboost/comment-engine-go/internal/model"
)

type APIProfileRepository interface {
	FindByID(ctx context.Context, id string) (*model.APIProfile, error)
	FindActive(ctx context.Context) (*model.APIProfile, error)
	FindAll(ctx context.Context) ([]model.APIProfile, error)
	FindByRecency(ctx context.Context) ([]model.APIProfile, error)
	Create(ctx context.Context, params model.CreateAPIProfileParams) (*model.APIProfile, error)
	Delete(ctx context.Context, id string) error
	Activate(ctx context.Context, id string) error
	AddUsedQuota(ctx context.Context, id string, units int) error
	MarkExceeded(ctx context.Context, id string, at time.Time) error
	ResetAll(ctx context.Context) (int64, error)
	WithTx(tx *sqlx.Tx) APIProfileRepository
}

type apiProfileRepo struct {
	db sqlxDB
}

func NewAPIProfileRepository(db *sqlx.DB) APIProfileRepository {
	return &apiProfileRepo{db: db}
}

func (r *apiProfileRepo) WithTx(tx *sqlx.Tx) APIProfileRepository {
	return &apiProfileRepo{db: tx}
}

func (r *apiProfileRepo) FindByID(ctx context.Context, id string) (*model.APIProfile, error) {
	var profile model.APIProfile
	err := r.db.GetContext(ctx, &profile, `
		SELECT * FROM api_profiles WHERE id = $1
	`, id)
	return HandleNotFound(&profile, err)
}

func (r *apiProfileRepo) FindActive(ctx context.Context) (*model.APIProfile, error) {
	var profile model.APIProfile
	err := r.db.GetContext(ctx, &profile, `
		SELECT * FROM api_profiles WHERE is_active = true LIMIT 1
	`)
	return HandleNotFound(&profile, err)
}

func (r *apiProfileRepo) FindAll(ctx context.Context) ([]model.APIProfile, error) {
	var profiles []model.APIProfile
	err := r.db.SelectContext(ctx, &profiles, `
		SELECT * FROM api_profiles ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, err
	}
	return profiles, nil
}

// FindByRecency orders profiles most-recently-updated first; the token
// broker walks this order when the account's own profile fails a refresh.
func (r *apiProfileRepo) FindByRecency(ctx context.Context) ([]model.APIProfile, error) {
	var profiles []model.APIProfile
	err := r.db.SelectContext(ctx, &profiles, `
		SELECT * FROM api_profiles
		WHERE status = $1
		ORDER BY updated_at DESC
	`, model.APIProfileStatusNotExceeded)
	if err != nil {
		return nil, err
	}
	return profiles, nil
}

func (r *apiProfileRepo) Create(ctx context.Context, params model.CreateAPIProfileParams) (*model.APIProfile, error) {
	var profile model.APIProfile
	err := r.db.GetContext(ctx, &profile, `
		INSERT INTO api_profiles (name, client_id, client_secret, redirect_uri, api_key, limit_quota, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING *
	`, params.Name, params.ClientID, params.ClientSecret, params.RedirectURI,
		params.APIKey, params.LimitQuota, model.APIProfileStatusNotExceeded)
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

func (r *apiProfileRepo) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM api_profiles WHERE id = $1`, id)
	return err
}

// Activate flips the single is_active flag: all profiles are deactivated and
// the chosen one activated in one statement, so the at-most-one invariant
// cannot be observed violated.
func (r *apiProfileRepo) Activate(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE api_profiles SET
			is_active = (id = $1),
			updated_at = $2
	`, id, time.Now())
	return err
}

func (r *apiProfileRepo) AddUsedQuota(ctx context.Context, id string, units int) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE api_profiles SET
			used_quota = used_quota + $2,
			updated_at = $3
		WHERE id = $1
	`, id, units, time.Now())
	return err
}

func (r *apiProfileRepo) MarkExceeded(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE api_profiles SET
			status = $2,
			exceeded_at = $3,
			updated_at = $3
		WHERE id = $1
	`, id, model.APIProfileStatusExceeded, at)
	return err
}

// ResetAll is the midnight quota reset.
func (r *apiProfileRepo) ResetAll(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE api_profiles SET
			used_quota = 0,
			status = $1,
			exceeded_at = NULL,
			updated_at = $2
	`, model.APIProfileStatusNotExceeded, time.Now())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
