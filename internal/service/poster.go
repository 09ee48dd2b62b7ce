package service

import (
	"context"
	"encoding/json"
	"math/rand"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/viboost/comment-engine-go/internal/broker"
	"github.com/viboost/comment-engine-go/internal/cache"
	"github.com/viboost/comment-engine-go/internal/config"
	apperrors "github.com/viboost/comment-engine-go/internal/errors"
	"github.com/viboost/comment-engine-go/internal/model"
	"github.com/viboost/comment-engine-go/internal/queue"
	redisclient "github.com/viboost/comment-engine-go/internal/redis"
	"github.com/viboost/comment-engine-go/internal/repository"
	"github.com/viboost/comment-engine-go/internal/upstream"
)

// PostCommentPayload is the body of one post-comment job.
type PostCommentPayload struct {
	CommentID  string `json:"commentId"`
	ScheduleID string `json:"scheduleId"`
}

// tokenBroker is the slice of the broker the poster consumes.
type tokenBroker interface {
	Refresh(ctx context.Context, account *model.Account) (*broker.RefreshOutcome, error)
	BuildTransport(ctx context.Context, account *model.Account) (*http.Client, error)
}

// commentInserter is the upstream call the poster makes.
type commentInserter interface {
	InsertComment(ctx context.Context, hc *http.Client, accessToken, videoID, text string, parentID *string) (string, error)
}

// Poster executes one comment-post attempt end to end: claim, refresh,
// transport, sanitize, post, classify, account.
type Poster struct {
	comments  repository.CommentRepository
	accounts  repository.AccountRepository
	proxies   repository.ProxyRepository
	profiles  repository.APIProfileRepository
	schedules repository.ScheduleRepository
	broker    tokenBroker
	api       commentInserter
	cache     *cache.Cache
	rng       *rand.Rand
}

func NewPoster(
	comments repository.CommentRepository,
	accounts repository.AccountRepository,
	proxies repository.ProxyRepository,
	profiles repository.APIProfileRepository,
	schedules repository.ScheduleRepository,
	broker tokenBroker,
	api commentInserter,
	c *cache.Cache,
) *Poster {
	return &Poster{
		comments:  comments,
		accounts:  accounts,
		proxies:   proxies,
		profiles:  profiles,
		schedules: schedules,
		broker:    broker,
		api:       api,
		cache:     c,
		rng:       rand.New(rand.NewSource(rand.Int63())),
	}
}

// HandlePostComment is the post-comment queue handler. Terminal outcomes
// return nil so the queue does not retry; only transient upstream failures
// propagate an error for backoff.
func (p *Poster) HandlePostComment(ctx context.Context, job *queue.Job) error {
	var payload PostCommentPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		log.Error().Err(err).Str("jobId", job.ID).Msg("undecodable post-comment payload")
		return nil
	}

	comment, err := p.comments.FindByID(ctx, payload.CommentID)
	if err != nil {
		return apperrors.Database(err)
	}
	if comment == nil {
		log.Warn().Str("commentId", payload.CommentID).Msg("post-comment job for missing comment")
		return nil
	}
	if comment.Status == model.CommentStatusPosted {
		return nil
	}

	// Duplicate deliveries of the same job serialise here: only the
	// delivery that claims the row proceeds to the upstream call.
	claimed, err := p.comments.ClaimPending(ctx, comment.ID)
	if err != nil {
		return apperrors.Database(err)
	}
	if !claimed {
		return nil
	}

	account, err := p.accounts.FindWithProxy(ctx, comment.AccountID)
	if err != nil {
		return apperrors.Database(err)
	}
	if account == nil || account.Status != model.AccountStatusActive {
		p.failComment(ctx, comment, "account is not active")
		return nil
	}

	if account.TokenExpired(time.Now()) {
		outcome, err := p.broker.Refresh(ctx, account)
		if err != nil {
			msg := err.Error()
			if serr := p.accounts.SetStatus(ctx, account.ID, model.AccountStatusInactive, &msg); serr != nil {
				log.Error().Err(serr).Str("accountId", account.ID).Msg("could not deactivate account after refresh failure")
			}
			p.failComment(ctx, comment, "token refresh failed: "+msg)
			return nil
		}
		if err := p.accounts.UpdateTokens(ctx, account.ID, outcome.AccessToken, outcome.Expiry); err != nil {
			return apperrors.Database(err)
		}
		account.AccessToken = &outcome.AccessToken
		account.TokenExpiry = &outcome.Expiry
	}

	transport, err := p.broker.BuildTransport(ctx, account)
	if err != nil {
		p.handleProxyFailure(ctx, account)
		p.failComment(ctx, comment, "no transport: "+err.Error())
		return nil
	}

	schedule, err := p.schedules.FindByID(ctx, comment.ScheduleID)
	if err != nil {
		return apperrors.Database(err)
	}
	includeEmojis := schedule != nil && schedule.IncludeEmojis

	content := sanitizeContent(comment.Content, includeEmojis, p.rng)

	externalID, postErr := p.api.InsertComment(ctx, transport, *account.AccessToken, comment.VideoID, content, comment.ParentID)
	if postErr == nil {
		return p.handleSuccess(ctx, comment, account, externalID)
	}
	return p.handleFailure(ctx, comment, account, postErr)
}

func (p *Poster) handleSuccess(ctx context.Context, comment *model.Comment, account *model.Account, externalID string) error {
	now := time.Now()
	if err := p.comments.MarkPosted(ctx, comment.ID, externalID, now); err != nil {
		return apperrors.Database(err)
	}

	if err := p.accounts.ResetProxyFailures(ctx, account.ID); err != nil {
		log.Error().Err(err).Str("accountId", account.ID).Msg("could not reset proxy failures")
	}
	if err := p.accounts.BumpCommentUsage(ctx, account.ID, now); err != nil {
		log.Error().Err(err).Str("accountId", account.ID).Msg("could not bump daily usage")
	}
	if err := p.accounts.MarkUsed(ctx, account.ID, now); err != nil {
		log.Error().Err(err).Str("accountId", account.ID).Msg("could not mark account used")
	}

	if account.APIProfileID != nil {
		if err := p.profiles.AddUsedQuota(ctx, *account.APIProfileID, config.CommentInsertQuota); err != nil {
			log.Error().Err(err).Str("profileId", *account.APIProfileID).Msg("could not account quota")
		}
	}

	if err := p.schedules.IncrementPosted(ctx, comment.ScheduleID); err != nil {
		log.Error().Err(err).Str("scheduleId", comment.ScheduleID).Msg("could not increment posted counter")
	}
	p.invalidateScheduleCache(ctx, comment.ScheduleID)

	log.Info().
		Str("commentId", comment.ID).
		Str("accountId", account.ID).
		Str("videoId", comment.VideoID).
		Str("externalId", externalID).
		Msg("comment posted")
	return nil
}

func (p *Poster) handleFailure(ctx context.Context, comment *model.Comment, account *model.Account, postErr error) error {
	switch {
	case upstream.IsQuotaExceeded(postErr):
		if account.APIProfileID != nil {
			if err := p.profiles.MarkExceeded(ctx, *account.APIProfileID, time.Now()); err != nil {
				log.Error().Err(err).Str("profileId", *account.APIProfileID).Msg("could not mark profile exceeded")
			}
		}
		msg := postErr.Error()
		if err := p.accounts.SetStatus(ctx, account.ID, model.AccountStatusLimited, &msg); err != nil {
			log.Error().Err(err).Str("accountId", account.ID).Msg("could not limit account")
		}
		p.failComment(ctx, comment, msg)
		log.Warn().Str("accountId", account.ID).Msg("quota exceeded, account limited until daily reset")
		return nil

	case upstream.IsProxyError(postErr):
		p.handleProxyFailure(ctx, account)
		p.failComment(ctx, comment, postErr.Error())
		return nil

	case upstream.IsDuplicate(postErr):
		if err := p.accounts.IncrementDuplication(ctx, account.ID); err != nil {
			log.Error().Err(err).Str("accountId", account.ID).Msg("could not count duplication")
		}
		p.failComment(ctx, comment, postErr.Error())
		log.Warn().
			Str("accountId", account.ID).
			Str("videoId", comment.VideoID).
			Msg("platform refused comment as duplicate")
		return nil

	case upstream.IsTransient(postErr):
		// Leave the comment claimed; the queue retries with backoff and
		// the claim accepts the scheduled state again.
		log.Warn().Err(postErr).Str("commentId", comment.ID).Msg("transient upstream failure, job will retry")
		return postErr

	default:
		msg := postErr.Error()
		if err := p.accounts.SetStatus(ctx, account.ID, model.AccountStatusInactive, &msg); err != nil {
			log.Error().Err(err).Str("accountId", account.ID).Msg("could not deactivate account")
		}
		p.failComment(ctx, comment, msg)
		return nil
	}
}

// handleProxyFailure counts the strike, deactivates the account past the
// threshold, and rotates in another active proxy of the same user.
func (p *Poster) handleProxyFailure(ctx context.Context, account *model.Account) {
	count, err := p.accounts.IncrementProxyError(ctx, account.ID)
	if err != nil {
		log.Error().Err(err).Str("accountId", account.ID).Msg("could not count proxy error")
		return
	}

	threshold := account.ProxyErrorThreshold
	if threshold <= 0 {
		threshold = model.DefaultProxyErrorThreshold
	}
	if count >= threshold {
		msg := "proxy error threshold reached"
		if err := p.accounts.SetStatus(ctx, account.ID, model.AccountStatusInactive, &msg); err != nil {
			log.Error().Err(err).Str("accountId", account.ID).Msg("could not deactivate account")
		}
		log.Warn().
			Str("accountId", account.ID).
			Int("proxyErrors", count).
			Msg("account deactivated after repeated proxy failures")
	}

	excludeID := ""
	if account.ProxyID != nil {
		excludeID = *account.ProxyID
	}
	replacement, err := p.proxies.FindRandomActiveByUser(ctx, account.UserID, excludeID)
	if err != nil {
		log.Error().Err(err).Str("accountId", account.ID).Msg("proxy rotation lookup failed")
		return
	}
	if replacement != nil {
		if err := p.accounts.SetProxy(ctx, account.ID, &replacement.ID); err != nil {
			log.Error().Err(err).Str("accountId", account.ID).Msg("could not rotate proxy")
			return
		}
		log.Info().
			Str("accountId", account.ID).
			Str("proxyId", replacement.ID).
			Msg("rotated account to a new proxy")
	}
}

func (p *Poster) failComment(ctx context.Context, comment *model.Comment, message string) {
	if err := p.comments.MarkFailed(ctx, comment.ID, message); err != nil {
		log.Error().Err(err).Str("commentId", comment.ID).Msg("could not mark comment failed")
	}
	if err := p.schedules.IncrementFailed(ctx, comment.ScheduleID); err != nil {
		log.Error().Err(err).Str("scheduleId", comment.ScheduleID).Msg("could not increment failed counter")
	}
	p.invalidateScheduleCache(ctx, comment.ScheduleID)
}

func (p *Poster) invalidateScheduleCache(ctx context.Context, scheduleID string) {
	if p.cache == nil {
		return
	}
	if err := p.cache.Invalidate(ctx, redisclient.ScheduleCacheKey(scheduleID)); err != nil {
		log.Warn().Err(err).Str("scheduleId", scheduleID).Msg("schedule cache invalidation failed")
	}
}
