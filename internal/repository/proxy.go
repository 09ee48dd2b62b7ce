package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/viboost/comment-engine-go/internal/model"
)

type ProxyRepository interface {
	FindByID(ctx context.Context, id string) (*model.Proxy, error)
	FindByUser(ctx context.Context, userID string, limit, offset int) ([]model.Proxy, error)
	FindRandomActiveByUser(ctx context.Context, userID, excludeID string) (*model.Proxy, error)
	Create(ctx context.Context, params model.CreateProxyParams) (*model.Proxy, error)
	Update(ctx context.Context, id string, params model.UpdateProxyParams) (*model.Proxy, error)
	Delete(ctx context.Context, id string) error
	SetStatus(ctx context.Context, id string, status model.ProxyStatus, checkedAt time.Time, speedMs *int) error
	CountByUser(ctx context.Context, userID string) (int, error)
	WithTx(tx *sqlx.Tx) ProxyRepository
}

type proxyRepo struct {
	db sqlxDB
}

func NewProxyRepository(db *sqlx.DB) ProxyRepository {
	return &proxyRepo{db: db}
}

func (r *proxyRepo) WithTx(tx *sqlx.Tx) ProxyRepository {
	return &proxyRepo{db: tx}
}

func (r *proxyRepo) FindByID(ctx context.Context, id string) (*model.Proxy, error) {
	var proxy model.Proxy
	err := r.db.GetContext(ctx, &proxy, `
		SELECT * FROM proxies WHERE id = $1
	`, id)
	return HandleNotFound(&proxy, err)
}

func (r *proxyRepo) FindByUser(ctx context.Context, userID string, limit, offset int) ([]model.Proxy, error) {
	var proxies []model.Proxy
	err := r.db.SelectContext(ctx, &proxies, `
		SELECT * FROM proxies
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	return proxies, nil
}

// FindRandomActiveByUser picks a replacement proxy for rotation after
// proxy-class failures. The failing proxy is excluded.
func (r *proxyRepo) FindRandomActiveByUser(ctx context.Context, userID, excludeID string) (*model.Proxy, error) {
	var proxy model.Proxy
	err := r.db.GetContext(ctx, &proxy, `
		SELECT * FROM proxies
		WHERE user_id = $1 AND status = $2 AND id != $3
		ORDER BY random()
		LIMIT 1
	`, userID, model.ProxyStatusActive, excludeID)
	return HandleNotFound(&proxy, err)
}

func (r *proxyRepo) Create(ctx context.Context, params model.CreateProxyParams) (*model.Proxy, error) {
	var proxy model.Proxy
	err := r.db.GetContext(ctx, &proxy, `
		INSERT INTO proxies (user_id, host, port, username, password, protocol, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING *
	`, params.UserID, params.Host, params.Port, params.Username, params.Password,
		params.Protocol, model.ProxyStatusActive)
	if err != nil {
		return nil, err
	}
	return &proxy, nil
}

func (r *proxyRepo) Update(ctx context.Context, id string, params model.UpdateProxyParams) (*model.Proxy, error) {
	var proxy model.Proxy
	err := r.db.GetContext(ctx, &proxy, `
		UPDATE proxies SET
			host = COALESCE($2, host),
			port = COALESCE($3, port),
			username = COALESCE($4, username),
			password = COALESCE($5, password),
			protocol = COALESCE($6, protocol),
			status = COALESCE($7, status),
			updated_at = $8
		WHERE id = $1
		RETURNING *
	`, id, params.Host, params.Port, params.Username, params.Password,
		params.Protocol, params.Status, time.Now())
	return HandleNotFound(&proxy, err)
}

func (r *proxyRepo) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM proxies WHERE id = $1`, id)
	return err
}

func (r *proxyRepo) SetStatus(ctx context.Context, id string, status model.ProxyStatus, checkedAt time.Time, speedMs *int) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE proxies SET
			status = $2,
			last_checked = $3,
			connection_speed = COALESCE($4, connection_speed),
			updated_at = $3
		WHERE id = $1
	`, id, status, checkedAt, speedMs)
	return err
}

func (r *proxyRepo) CountByUser(ctx context.Context, userID string) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM proxies WHERE user_id = $1`, userID)
	return count, err
}
