package upstream

import (
	"context"
	"sync"
	"time"

	"cashout-mirror/src/helpers"
	"cashout-mirror/src/interfaces"
	"cashout-mirror/src/logger"
	"cashout-mirror/src/models"
)

// -----------------------------------------------------------------------------
// TokenProvider
// -----------------------------------------------------------------------------

// TokenProvider obtains and renews the upstream auth token. It performs a
// single attempt per renewal tick; connection-level backoff belongs to the
// mirror client, not here. On renewal failure the old token is left in
// place so callers keep operating on it until it actually fails.
type TokenProvider struct {
	Config  *models.MConfig
	Network interfaces.INetworkClient
	Logger  *logger.Logger

	mu      sync.RWMutex
	token   models.MToken
	renewed chan struct{}

	now func() time.Time
}

// -----------------------------------------------------------------------------

func NewTokenProvider(cfg *models.MConfig, net interfaces.INetworkClient, log *logger.Logger) *TokenProvider {
	return &TokenProvider{
		Config:  cfg,
		Network: net,
		Logger:  log,
		renewed: make(chan struct{}, 1),
		now:     time.Now,
	}
}

// -----------------------------------------------------------------------------

type tokenResponse struct {
	Token string `json:"token"`
	TTL   int    `json:"ttl"`
}

// Acquire fetches a fresh token from the upstream token endpoint and makes
// it current. On failure the existing token (if any) is untouched.
func (p *TokenProvider) Acquire(ctx context.Context) (models.MToken, error) {
	var resp tokenResponse
	err := p.Network.GetJSON(ctx, p.Config.Upstream.BaseURL+"/api/token", nil, &resp)
	if err != nil {
		return models.MToken{}, helpers.NewTokenError("token endpoint unreachable", err)
	}
	if resp.Token == "" {
		return models.MToken{}, helpers.NewTokenError("token endpoint returned empty token", nil)
	}

	ttl := resp.TTL
	if ttl <= 0 {
		ttl = p.Config.Upstream.TokenTTLSeconds
	}

	tok := models.MToken{
		Value:      resp.Token,
		ObtainedAt: p.now(),
		TTLSeconds: ttl,
	}

	p.mu.Lock()
	p.token = tok
	p.mu.Unlock()

	p.Logger.Info("Token obtained (TTL: %ds): %s...", ttl, truncate(resp.Token, 8))
	return tok, nil
}

// -----------------------------------------------------------------------------

// Current returns the token as last acquired; Value is empty when none is held.
func (p *TokenProvider) Current() models.MToken {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.token
}

// -----------------------------------------------------------------------------

// Active reports whether a token is currently held and within its TTL.
func (p *TokenProvider) Active() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return !p.token.Expired(p.now())
}

// -----------------------------------------------------------------------------

// Invalidate clears the token to force re-acquisition. Called when the
// stream fails, since the error is assumed potentially auth-related.
func (p *TokenProvider) Invalidate() {
	p.mu.Lock()
	p.token = models.MToken{}
	p.mu.Unlock()
}

// -----------------------------------------------------------------------------

// Renewed yields a signal whenever a renewal produced a different token,
// meaning the stream should reconnect with the new one.
func (p *TokenProvider) Renewed() <-chan struct{} {
	return p.renewed
}

// -----------------------------------------------------------------------------

// RenewLoop renews the token on a fixed period (80% of the TTL), one
// attempt per tick, until the context is cancelled.
func (p *TokenProvider) RenewLoop(ctx context.Context) {
	period := time.Duration(p.Config.Upstream.TokenTTLSeconds) * time.Second * 4 / 5

	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			old := p.Current().Value
			tok, err := p.Acquire(ctx)
			if err != nil {
				p.Logger.Warning("Token renewal failed: %v", err)
				continue
			}
			if tok.Value != old {
				p.Logger.Info("Token renewed, stream reconnect required")
				select {
				case p.renewed <- struct{}{}:
				default:
				}
			}
		}
	}
}

// -----------------------------------------------------------------------------

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
