package service

import (
	"context"
	"net/http"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/mock"

	"github.com/viboost/comment-engine-go/internal/broker"
	"github.com/viboost/comment-engine-go/internal/model"
	"github.com/viboost/comment-engine-go/internal/repository"
)

// Mock schedule repository
type mockScheduleRepo struct {
	mock.Mock
}

func (m *mockScheduleRepo) FindByID(ctx context.Context, id string) (*model.Schedule, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Schedule), args.Error(1)
}

func (m *mockScheduleRepo) FindByIDWithPools(ctx context.Context, id string) (*model.Schedule, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Schedule), args.Error(1)
}

func (m *mockScheduleRepo) FindByUser(ctx context.Context, userID string, limit, offset int) ([]model.Schedule, error) {
	args := m.Called(ctx, userID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Schedule), args.Error(1)
}

func (m *mockScheduleRepo) FindAllActive(ctx context.Context) ([]model.Schedule, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Schedule), args.Error(1)
}

func (m *mockScheduleRepo) FindAllIDs(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *mockScheduleRepo) Create(ctx context.Context, params model.CreateScheduleParams) (*model.Schedule, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Schedule), args.Error(1)
}

func (m *mockScheduleRepo) Delete(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockScheduleRepo) UpdateStatus(ctx context.Context, id string, status model.ScheduleStatus, errorMessage *string) error {
	return m.Called(ctx, id, status, errorMessage).Error(0)
}

func (m *mockScheduleRepo) ReactivateErrored(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *mockScheduleRepo) SetNextRunAt(ctx context.Context, id string, at *time.Time) error {
	return m.Called(ctx, id, at).Error(0)
}

func (m *mockScheduleRepo) MarkProcessed(ctx context.Context, id string, at time.Time) error {
	return m.Called(ctx, id, at).Error(0)
}

func (m *mockScheduleRepo) IncrementPosted(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockScheduleRepo) IncrementFailed(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockScheduleRepo) AddTotal(ctx context.Context, id string, n int) error {
	return m.Called(ctx, id, n).Error(0)
}

func (m *mockScheduleRepo) IncrementErrorCount(ctx context.Context, id string) (int, error) {
	args := m.Called(ctx, id)
	return args.Int(0), args.Error(1)
}

func (m *mockScheduleRepo) SetCounters(ctx context.Context, id string, total, posted, failed int) error {
	return m.Called(ctx, id, total, posted, failed).Error(0)
}

func (m *mockScheduleRepo) SetSleepWindow(ctx context.Context, id string, minutes int, start time.Time, triggerCount int) error {
	return m.Called(ctx, id, minutes, start, triggerCount).Error(0)
}

func (m *mockScheduleRepo) ClearSleepWindow(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockScheduleRepo) UpdateLimitComments(ctx context.Context, id string, limit model.LimitComments) error {
	return m.Called(ctx, id, limit).Error(0)
}

func (m *mockScheduleRepo) UpdateInterval(ctx context.Context, id string, interval model.Interval) error {
	return m.Called(ctx, id, interval).Error(0)
}

func (m *mockScheduleRepo) SetLastUsedAccount(ctx context.Context, id, accountID string) error {
	return m.Called(ctx, id, accountID).Error(0)
}

func (m *mockScheduleRepo) AppendCommentTemplate(ctx context.Context, id, template string) error {
	return m.Called(ctx, id, template).Error(0)
}

func (m *mockScheduleRepo) SetActivePool(ctx context.Context, id string, pool model.ActivePool, rotatedAt time.Time) error {
	return m.Called(ctx, id, pool, rotatedAt).Error(0)
}

func (m *mockScheduleRepo) GetPool(ctx context.Context, id string, role model.AccountRole) ([]string, error) {
	args := m.Called(ctx, id, role)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *mockScheduleRepo) ReplacePool(ctx context.Context, id string, role model.AccountRole, accountIDs []string) error {
	return m.Called(ctx, id, role, accountIDs).Error(0)
}

func (m *mockScheduleRepo) WithTx(tx *sqlx.Tx) repository.ScheduleRepository {
	return m
}

// Mock comment repository
type mockCommentRepo struct {
	mock.Mock
}

func (m *mockCommentRepo) FindByID(ctx context.Context, id string) (*model.Comment, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Comment), args.Error(1)
}

func (m *mockCommentRepo) FindBySchedule(ctx context.Context, scheduleID string, limit, offset int) ([]model.Comment, error) {
	args := m.Called(ctx, scheduleID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Comment), args.Error(1)
}

func (m *mockCommentRepo) FindByUser(ctx context.Context, userID string, limit, offset int) ([]model.Comment, error) {
	args := m.Called(ctx, userID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Comment), args.Error(1)
}

func (m *mockCommentRepo) Create(ctx context.Context, params model.CreateCommentParams) (*model.Comment, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Comment), args.Error(1)
}

func (m *mockCommentRepo) Delete(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockCommentRepo) MarkScheduled(ctx context.Context, id string, at time.Time) error {
	return m.Called(ctx, id, at).Error(0)
}

func (m *mockCommentRepo) MarkPosted(ctx context.Context, id, externalID string, at time.Time) error {
	return m.Called(ctx, id, externalID, at).Error(0)
}

func (m *mockCommentRepo) MarkFailed(ctx context.Context, id, errorMessage string) error {
	return m.Called(ctx, id, errorMessage).Error(0)
}

func (m *mockCommentRepo) ClaimPending(ctx context.Context, id string) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *mockCommentRepo) ResetFailed(ctx context.Context, scheduleID string) ([]model.Comment, error) {
	args := m.Called(ctx, scheduleID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Comment), args.Error(1)
}

func (m *mockCommentRepo) CountsBySchedule(ctx context.Context, scheduleID string) (model.StatusCounts, error) {
	args := m.Called(ctx, scheduleID)
	return args.Get(0).(model.StatusCounts), args.Error(1)
}

func (m *mockCommentRepo) WithTx(tx *sqlx.Tx) repository.CommentRepository {
	return m
}

// Mock account repository
type mockAccountRepo struct {
	mock.Mock
}

func (m *mockAccountRepo) FindByID(ctx context.Context, id string) (*model.Account, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Account), args.Error(1)
}

func (m *mockAccountRepo) FindWithProxy(ctx context.Context, id string) (*model.Account, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Account), args.Error(1)
}

func (m *mockAccountRepo) FindByUser(ctx context.Context, userID string, limit, offset int) ([]model.Account, error) {
	args := m.Called(ctx, userID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Account), args.Error(1)
}

func (m *mockAccountRepo) FindActiveByIDs(ctx context.Context, ids []string) ([]model.Account, error) {
	args := m.Called(ctx, ids)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Account), args.Error(1)
}

func (m *mockAccountRepo) FindActiveByUser(ctx context.Context, userID string) ([]model.Account, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Account), args.Error(1)
}

func (m *mockAccountRepo) Create(ctx context.Context, params model.CreateAccountParams) (*model.Account, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Account), args.Error(1)
}

func (m *mockAccountRepo) Update(ctx context.Context, id string, params model.UpdateAccountParams) (*model.Account, error) {
	args := m.Called(ctx, id, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Account), args.Error(1)
}

func (m *mockAccountRepo) Delete(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockAccountRepo) UpdateTokens(ctx context.Context, id, accessToken string, expiry time.Time) error {
	return m.Called(ctx, id, accessToken, expiry).Error(0)
}

func (m *mockAccountRepo) SetStatus(ctx context.Context, id string, status model.AccountStatus, lastMessage *string) error {
	return m.Called(ctx, id, status, lastMessage).Error(0)
}

func (m *mockAccountRepo) SetProxy(ctx context.Context, id string, proxyID *string) error {
	return m.Called(ctx, id, proxyID).Error(0)
}

func (m *mockAccountRepo) SetChannel(ctx context.Context, id, channelID, channelTitle string) error {
	return m.Called(ctx, id, channelID, channelTitle).Error(0)
}

func (m *mockAccountRepo) MarkUsed(ctx context.Context, id string, at time.Time) error {
	return m.Called(ctx, id, at).Error(0)
}

func (m *mockAccountRepo) ResetProxyFailures(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockAccountRepo) IncrementProxyError(ctx context.Context, id string) (int, error) {
	args := m.Called(ctx, id)
	return args.Int(0), args.Error(1)
}

func (m *mockAccountRepo) IncrementDuplication(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockAccountRepo) BumpCommentUsage(ctx context.Context, id string, day time.Time) error {
	return m.Called(ctx, id, day).Error(0)
}

func (m *mockAccountRepo) BumpLikeUsage(ctx context.Context, id string, day time.Time) error {
	return m.Called(ctx, id, day).Error(0)
}

func (m *mockAccountRepo) ReactivateAll(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockAccountRepo) WithTx(tx *sqlx.Tx) repository.AccountRepository {
	return m
}

// Mock proxy repository
type mockProxyRepo struct {
	mock.Mock
}

func (m *mockProxyRepo) FindByID(ctx context.Context, id string) (*model.Proxy, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Proxy), args.Error(1)
}

func (m *mockProxyRepo) FindByUser(ctx context.Context, userID string, limit, offset int) ([]model.Proxy, error) {
	args := m.Called(ctx, userID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Proxy), args.Error(1)
}

func (m *mockProxyRepo) FindRandomActiveByUser(ctx context.Context, userID, excludeID string) (*model.Proxy, error) {
	args := m.Called(ctx, userID, excludeID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Proxy), args.Error(1)
}

func (m *mockProxyRepo) Create(ctx context.Context, params model.CreateProxyParams) (*model.Proxy, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Proxy), args.Error(1)
}

func (m *mockProxyRepo) Update(ctx context.Context, id string, params model.UpdateProxyParams) (*model.Proxy, error) {
	args := m.Called(ctx, id, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Proxy), args.Error(1)
}

func (m *mockProxyRepo) Delete(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockProxyRepo) SetStatus(ctx context.Context, id string, status model.ProxyStatus, checkedAt time.Time, speedMs *int) error {
	return m.Called(ctx, id, status, checkedAt, speedMs).Error(0)
}

func (m *mockProxyRepo) CountByUser(ctx context.Context, userID string) (int, error) {
	args := m.Called(ctx, userID)
	return args.Int(0), args.Error(1)
}

func (m *mockProxyRepo) WithTx(tx *sqlx.Tx) repository.ProxyRepository {
	return m
}

// Mock API profile repository
type mockProfileRepo struct {
	mock.Mock
}

func (m *mockProfileRepo) FindByID(ctx context.Context, id string) (*model.APIProfile, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.APIProfile), args.Error(1)
}

func (m *mockProfileRepo) FindActive(ctx context.Context) (*model.APIProfile, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.APIProfile), args.Error(1)
}

func (m *mockProfileRepo) FindAll(ctx context.Context) ([]model.APIProfile, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.APIProfile), args.Error(1)
}

func (m *mockProfileRepo) FindByRecency(ctx context.Context) ([]model.APIProfile, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.APIProfile), args.Error(1)
}

func (m *mockProfileRepo) Create(ctx context.Context, params model.CreateAPIProfileParams) (*model.APIProfile, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.APIProfile), args.Error(1)
}

func (m *mockProfileRepo) Delete(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockProfileRepo) Activate(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockProfileRepo) AddUsedQuota(ctx context.Context, id string, units int) error {
	return m.Called(ctx, id, units).Error(0)
}

func (m *mockProfileRepo) MarkExceeded(ctx context.Context, id string, at time.Time) error {
	return m.Called(ctx, id, at).Error(0)
}

func (m *mockProfileRepo) ResetAll(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockProfileRepo) WithTx(tx *sqlx.Tx) repository.APIProfileRepository {
	return m
}

// Fake token broker
type fakeBroker struct {
	refreshOutcome *broker.RefreshOutcome
	refreshErr     error
	transportErr   error
}

func (f *fakeBroker) Refresh(ctx context.Context, account *model.Account) (*broker.RefreshOutcome, error) {
	if f.refreshErr != nil {
		return nil, f.refreshErr
	}
	if f.refreshOutcome != nil {
		return f.refreshOutcome, nil
	}
	return &broker.RefreshOutcome{AccessToken: "fresh-token", Expiry: time.Now().Add(time.Hour)}, nil
}

func (f *fakeBroker) BuildTransport(ctx context.Context, account *model.Account) (*http.Client, error) {
	if f.transportErr != nil {
		return nil, f.transportErr
	}
	return http.DefaultClient, nil
}

// Fake comment inserter
type fakeInserter struct {
	externalID string
	err        error
	calls      int
	lastText   string
}

func (f *fakeInserter) InsertComment(ctx context.Context, hc *http.Client, accessToken, videoID, text string, parentID *string) (string, error) {
	f.calls++
	f.lastText = text
	if f.err != nil {
		return "", f.err
	}
	return f.externalID, nil
}
