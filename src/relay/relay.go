package relay

import (
	"context"
	"sync"
	"time"

	"cashout-mirror/src/helpers"
	"cashout-mirror/src/interfaces"
	"cashout-mirror/src/logger"
	"cashout-mirror/src/models"
	"cashout-mirror/src/state"
	"cashout-mirror/src/upstream"
)

// -----------------------------------------------------------------------------
// RelayService
// -----------------------------------------------------------------------------

// RelayService orchestrates the upstream side: token lifecycle, the
// one-shot startup sync, the mirror client, and the periodic
// reconciliation that keeps the cache honest against the upstream REST
// snapshots.
type RelayService struct {
	Config  *models.MConfig
	Network interfaces.INetworkClient
	Tokens  *upstream.TokenProvider
	Mirror  *upstream.MirrorClient
	Cache   *state.StateCache
	Logger  *logger.Logger
}

// -----------------------------------------------------------------------------

func NewRelayService(cfg *models.MConfig, net interfaces.INetworkClient, tokens *upstream.TokenProvider, mirror *upstream.MirrorClient, cache *state.StateCache, log *logger.Logger) *RelayService {
	r := &RelayService{
		Config:  cfg,
		Network: net,
		Tokens:  tokens,
		Mirror:  mirror,
		Cache:   cache,
		Logger:  log,
	}

	// Delayed resync after every result: the stream increment is
	// optimistic, the upstream counters are authoritative.
	mirror.OnResult = func() {
		r.ScheduleStatsResync(time.Duration(cfg.Upstream.ResultResyncDelayMs) * time.Millisecond)
	}

	return r
}

// -----------------------------------------------------------------------------

// Start brings the upstream side up: token, initial sync, mirror stream,
// renewal loop and reconciliation ticker.
func (r *RelayService) Start(ctx context.Context, wg *sync.WaitGroup) error {
	// Token first; a failure here is not fatal, the mirror loop retries
	// acquisition with backoff.
	if _, err := r.Tokens.Acquire(ctx); err != nil {
		r.Logger.Warning("Initial token acquisition failed: %v", err)
	}

	r.initialSync(ctx)

	if err := r.Mirror.Start(ctx, wg); err != nil {
		return err
	}

	wg.Add(2)
	go func() {
		defer wg.Done()
		r.Tokens.RenewLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		r.reconcileLoop(ctx)
	}()

	return nil
}

// -----------------------------------------------------------------------------

// initialSync populates the cache from the upstream REST snapshots before
// the first client connects. Each collection fails independently.
func (r *RelayService) initialSync(ctx context.Context) {
	err := helpers.RetryWithBackoff(r.Logger, "initial stats sync", 3, time.Second, func() error {
		return r.RefreshStats(ctx)
	})
	if err != nil {
		r.Logger.Warning("Initial stats sync failed: %v", err)
	}
	if err := r.refreshVelas(ctx); err != nil {
		r.Logger.Warning("Initial velas sync failed: %v", err)
	}
	if err := r.refreshOnline(ctx); err != nil {
		r.Logger.Warning("Initial online sync failed: %v", err)
	}
}

// -----------------------------------------------------------------------------

// reconcileLoop periodically re-pulls the authoritative snapshots. Stats
// are refreshed unconditionally; velas only while the cache is empty,
// since the stream is the fresher source once it flows.
func (r *RelayService) reconcileLoop(ctx context.Context) {
	period := time.Duration(r.Config.Upstream.ReconcileSeconds) * time.Second
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.RefreshStats(ctx); err != nil {
				r.Logger.Warning("Stats reconcile failed: %v", err)
			}
			if r.Cache.VelasCount() == 0 {
				if err := r.refreshVelas(ctx); err != nil {
					r.Logger.Warning("Velas reconcile failed: %v", err)
				}
			}
		}
	}
}

// -----------------------------------------------------------------------------
// Snapshot Pulls
// -----------------------------------------------------------------------------

// RefreshStats pulls the authoritative win/loss counters and replaces the
// cached stats wholesale.
func (r *RelayService) RefreshStats(ctx context.Context) error {
	reqCtx, cancel := context.WithTimeout(ctx, 8*time.Second)
	defer cancel()

	var stats models.MStats
	if err := r.Network.GetJSON(reqCtx, r.Config.Upstream.BaseURL+"/api/stats", r.tokenParams(), &stats); err != nil {
		return err
	}

	r.Cache.SetStats(stats)
	r.Logger.Debug("Stats synced: %d wins / %d loss", stats.Wins, stats.Loss)
	return nil
}

// -----------------------------------------------------------------------------

func (r *RelayService) refreshVelas(ctx context.Context) error {
	reqCtx, cancel := context.WithTimeout(ctx, 8*time.Second)
	defer cancel()

	body, err := r.Network.Get(reqCtx, r.Config.Upstream.BaseURL+"/api/velas", r.tokenParams())
	if err != nil {
		return err
	}

	if vals := models.ExtractVelaValues(body); len(vals) > 0 {
		r.Cache.SetVelas(vals)
		r.Logger.Debug("Velas synced: %d values", len(vals))
	}
	return nil
}

// -----------------------------------------------------------------------------

func (r *RelayService) refreshOnline(ctx context.Context) error {
	reqCtx, cancel := context.WithTimeout(ctx, 8*time.Second)
	defer cancel()

	body, err := r.Network.Get(reqCtx, r.Config.Upstream.BaseURL+"/api/online", r.tokenParams())
	if err != nil {
		return err
	}

	if n := models.ExtractOnlineCount(body); n > 0 {
		r.Cache.SetOnline(n)
	}
	return nil
}

// -----------------------------------------------------------------------------

func (r *RelayService) tokenParams() map[string]string {
	tok := r.Tokens.Current()
	if tok.Value == "" {
		return nil
	}
	return map[string]string{"_token": tok.Value}
}

// -----------------------------------------------------------------------------

// ScheduleStatsResync fires one authoritative stats pull after the given
// delay. Used with 1.5s after stream results and 2s after injected ones.
func (r *RelayService) ScheduleStatsResync(delay time.Duration) {
	time.AfterFunc(delay, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 8*time.Second)
		defer cancel()
		if err := r.RefreshStats(ctx); err != nil {
			r.Logger.Warning("Post-result stats resync failed: %v", err)
		}
	})
}

// -----------------------------------------------------------------------------

// InjectResyncHook returns the closure the API server calls after a
// locally injected result.
func (r *RelayService) InjectResyncHook() func() {
	delay := time.Duration(r.Config.Upstream.InjectResyncDelayMs) * time.Millisecond
	return func() {
		r.ScheduleStatsResync(delay)
	}
}
