package broker

import (
	"context"
	"math/rand"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/viboost/comment-engine-go/internal/config"
	apperrors "github.com/viboost/comment-engine-go/internal/errors"
	"github.com/viboost/comment-engine-go/internal/model"
	"github.com/viboost/comment-engine-go/internal/repository"
	"github.com/viboost/comment-engine-go/internal/upstream"
)

// probeURL is a neutral endpoint for proxy liveness checks.
const probeURL = "https://www.gstatic.com/generate_204"

var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:125.0) Gecko/20100101 Firefox/125.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.3 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
}

// RefreshOutcome is the token material a successful refresh yields. The
// broker never writes it anywhere; the caller persists it.
type RefreshOutcome struct {
	AccessToken string
	Expiry      time.Time
}

// Broker refreshes OAuth tokens and builds proxy-bound HTTP transports.
type Broker struct {
	proxyRepo      repository.ProxyRepository
	apiProfileRepo repository.APIProfileRepository
	oauth          *upstream.OAuthClient
}

func New(
	proxyRepo repository.ProxyRepository,
	apiProfileRepo repository.APIProfileRepository,
	oauth *upstream.OAuthClient,
) *Broker {
	return &Broker{
		proxyRepo:      proxyRepo,
		apiProfileRepo: apiProfileRepo,
		oauth:          oauth,
	}
}

// Refresh obtains fresh token material for the account. The account's own
// API profile is tried first; on failure the remaining profiles are walked
// in recency order before giving up.
func (b *Broker) Refresh(ctx context.Context, account *model.Account) (*RefreshOutcome, error) {
	if account.RefreshToken == "" {
		return nil, apperrors.MissingRequired("refreshToken")
	}

	var profiles []model.APIProfile
	if account.APIProfileID != nil {
		own, err := b.apiProfileRepo.FindByID(ctx, *account.APIProfileID)
		if err != nil {
			return nil, apperrors.Database(err)
		}
		if own != nil {
			profiles = append(profiles, *own)
		}
	}
	others, err := b.apiProfileRepo.FindByRecency(ctx)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	for _, p := range others {
		if account.APIProfileID != nil && p.ID == *account.APIProfileID {
			continue
		}
		profiles = append(profiles, p)
	}
	if len(profiles) == 0 {
		return nil, apperrors.TokenRefreshFailed(nil).WithDetails("no api profiles configured")
	}

	var lastErr error
	for _, profile := range profiles {
		token, expiry, err := b.oauth.Refresh(ctx, profile.ClientID, profile.ClientSecret, profile.RedirectURI, account.RefreshToken)
		if err == nil {
			return &RefreshOutcome{AccessToken: token, Expiry: expiry}, nil
		}
		lastErr = err
		log.Warn().
			Err(err).
			Str("accountId", account.ID).
			Str("profileId", profile.ID).
			Msg("token refresh failed, trying next profile")
	}
	return nil, apperrors.TokenRefreshFailed(lastErr)
}

// BuildTransport composes an HTTP client bound to the account's proxy. An
// inactive proxy gets one liveness probe; success silently reactivates it.
// No proxy or a failed probe yields a NO_TRANSPORT error the caller treats
// as a proxy-class failure.
func (b *Broker) BuildTransport(ctx context.Context, account *model.Account) (*http.Client, error) {
	proxy := account.Proxy
	if proxy == nil && account.ProxyID != nil {
		loaded, err := b.proxyRepo.FindByID(ctx, *account.ProxyID)
		if err != nil {
			return nil, apperrors.Database(err)
		}
		proxy = loaded
	}
	if proxy == nil {
		return nil, apperrors.NoTransport("account has no proxy assigned")
	}

	if proxy.Status == model.ProxyStatusInactive {
		speedMs, err := b.probe(ctx, proxy)
		now := time.Now()
		if err != nil {
			if uerr := b.proxyRepo.SetStatus(ctx, proxy.ID, model.ProxyStatusInactive, now, nil); uerr != nil {
				log.Error().Err(uerr).Str("proxyId", proxy.ID).Msg("failed to record proxy probe result")
			}
			return nil, apperrors.NoTransport("proxy probe failed").WithCause(err)
		}
		if uerr := b.proxyRepo.SetStatus(ctx, proxy.ID, model.ProxyStatusActive, now, &speedMs); uerr != nil {
			log.Error().Err(uerr).Str("proxyId", proxy.ID).Msg("failed to reactivate proxy")
		}
		log.Info().
			Str("proxyId", proxy.ID).
			Int("speedMs", speedMs).
			Msg("inactive proxy passed probe, reactivated")
	}

	return newProxyClient(proxy), nil
}

// CheckProxy runs the liveness probe and persists the result. Used by the
// proxy health endpoint and by the broker's own self-healing path.
func (b *Broker) CheckProxy(ctx context.Context, proxy *model.Proxy) (bool, int, error) {
	speedMs, err := b.probe(ctx, proxy)
	now := time.Now()
	if err != nil {
		if uerr := b.proxyRepo.SetStatus(ctx, proxy.ID, model.ProxyStatusInactive, now, nil); uerr != nil {
			return false, 0, uerr
		}
		return false, 0, nil
	}
	if uerr := b.proxyRepo.SetStatus(ctx, proxy.ID, model.ProxyStatusActive, now, &speedMs); uerr != nil {
		return true, speedMs, uerr
	}
	return true, speedMs, nil
}

func (b *Broker) probe(ctx context.Context, proxy *model.Proxy) (int, error) {
	client := newProxyClient(proxy)
	client.Timeout = config.ProxyProbeTimeout

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, probeURL, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("User-Agent", RandomUserAgent())

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	resp.Body.Close()
	return int(time.Since(start).Milliseconds()), nil
}

func newProxyClient(proxy *model.Proxy) *http.Client {
	transport := &http.Transport{
		Proxy:             http.ProxyURL(proxy.URL()),
		ForceAttemptHTTP2: true,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   30 * time.Second,
	}
}

// RandomUserAgent returns one of a fixed set so outbound calls blend in
// with browser traffic.
func RandomUserAgent() string {
	return userAgents[rand.Intn(len(userAgents))]
}
