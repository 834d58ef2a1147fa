package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"cashout-mirror/src/helpers"
	"cashout-mirror/src/logger"
	"cashout-mirror/src/models"
	"cashout-mirror/src/state"
)

// -----------------------------------------------------------------------------

// Publisher receives every parsed upstream event for downstream fan-out.
type Publisher interface {
	Publish(event string, data interface{})
}

// Notifier triggers push notifications. Implementations must be
// fire-and-forget: they swallow their own errors and never block.
type Notifier interface {
	NotifySignal(sig models.MSignal)
	NotifyResult(res models.MResult)
}

// -----------------------------------------------------------------------------
// MirrorClient
// -----------------------------------------------------------------------------

// MirrorClient maintains the single outbound stream connection to the
// upstream feed: Disconnected -> Connecting -> Connected, back to
// Disconnected on any error, with exponential backoff between attempts.
// It runs until Stop() and never treats a failure as fatal.
type MirrorClient struct {
	Config *models.MConfig
	Tokens *TokenProvider
	Cache  *state.StateCache
	Hub    Publisher
	Push   Notifier
	Logger *logger.Logger

	// OnResult schedules the delayed authoritative stats resync after a
	// result event. Wired by the relay service.
	OnResult func()

	// The stream client has no global timeout; liveness is the watchdog.
	client *http.Client

	mu         sync.Mutex
	cancelFunc context.CancelFunc
	isRunning  atomic.Bool
	connected  atomic.Bool
	renewKick  atomic.Bool

	attempts int
	sleep    func(ctx context.Context, d time.Duration) bool
}

// -----------------------------------------------------------------------------

func NewMirrorClient(cfg *models.MConfig, tokens *TokenProvider, cache *state.StateCache, hub Publisher, push Notifier, log *logger.Logger) *MirrorClient {
	return &MirrorClient{
		Config: cfg,
		Tokens: tokens,
		Cache:  cache,
		Hub:    hub,
		Push:   push,
		Logger: log,
		client: &http.Client{},
		sleep:  sleepCtx,
	}
}

// -----------------------------------------------------------------------------

func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}

// -----------------------------------------------------------------------------

// backoffDelay returns the reconnect delay for the given attempt:
// base * 2^attempt, capped.
func backoffDelay(base, max time.Duration, attempt int) time.Duration {
	if attempt > 30 {
		attempt = 30
	}
	d := base * (1 << attempt)
	if d > max || d <= 0 {
		return max
	}
	return d
}

// -----------------------------------------------------------------------------

// Start begins the mirror loop
func (m *MirrorClient) Start(parentCtx context.Context, wg *sync.WaitGroup) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.isRunning.Load() {
		return fmt.Errorf("mirror client is already running")
	}

	ctx, cancel := context.WithCancel(parentCtx)
	m.cancelFunc = cancel
	m.isRunning.Store(true)

	wg.Add(1)
	go m.runLoop(ctx, wg)
	m.Logger.Info("Started mirror client: %s", m.Config.Upstream.BaseURL)
	return nil
}

// -----------------------------------------------------------------------------

// Stop signals the run loop to exit; no further reconnects happen.
func (m *MirrorClient) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.isRunning.Load() {
		return fmt.Errorf("mirror client is not running")
	}

	if m.cancelFunc != nil {
		m.cancelFunc()
	}
	m.isRunning.Store(false)
	m.Logger.Info("Stopped mirror client")
	return nil
}

// -----------------------------------------------------------------------------

// Connected reports whether the upstream stream is currently open.
func (m *MirrorClient) Connected() bool {
	return m.connected.Load()
}

// -----------------------------------------------------------------------------

func (m *MirrorClient) runLoop(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	base := time.Duration(m.Config.Upstream.BackoffBaseMs) * time.Millisecond
	max := time.Duration(m.Config.Upstream.BackoffMaxMs) * time.Millisecond

	for ctx.Err() == nil {
		// Token first; acquisition failure is retried with the same
		// backoff schedule as connection failures.
		if !m.Tokens.Active() {
			if _, err := m.Tokens.Acquire(ctx); err != nil {
				delay := backoffDelay(base, max, m.attempts)
				m.attempts++
				m.Logger.Warning("No token: %v. Retrying in %v", err, delay)
				if !m.sleep(ctx, delay) {
					return
				}
				continue
			}
		}

		if err := m.runConnection(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			if m.renewKick.Swap(false) {
				// Reconnect requested because the token was renewed:
				// the new token is already current, no penalty.
				m.Logger.Info("Reconnecting with renewed token")
				continue
			}
			// The error may be auth-related; force re-acquisition.
			m.Tokens.Invalidate()
			delay := backoffDelay(base, max, m.attempts)
			m.attempts++
			m.Logger.Warning("Stream error: %v. Reconnecting in %v (attempt %d)", err, delay, m.attempts)
			if !m.sleep(ctx, delay) {
				return
			}
		}
	}
}

// -----------------------------------------------------------------------------

// runConnection opens one stream and consumes it until it dies. Returns
// nil only on context cancellation.
func (m *MirrorClient) runConnection(ctx context.Context) error {
	token := m.Tokens.Current().Value
	cid := fmt.Sprintf("mirror-%d", time.Now().UnixMilli())
	streamURL := fmt.Sprintf("%s/api/stream?_token=%s&cid=%s&v=%d",
		m.Config.Upstream.BaseURL, url.QueryEscape(token), cid, time.Now().UnixMilli())

	m.Logger.Info("Connecting to upstream stream (token: %s...)", truncate(token, 8))

	conn, err := DialStream(ctx, m.client, streamURL, m.Config.Network.UserAgent)
	if err != nil {
		return err
	}
	defer conn.Close()

	// Connected: reset the backoff schedule.
	m.attempts = 0
	m.connected.Store(true)
	defer m.connected.Store(false)
	m.Logger.Info("Connected to upstream stream")

	// Close the connection when the context dies or the token renews,
	// which unblocks the read loop.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-m.Tokens.Renewed():
			m.renewKick.Store(true)
			conn.Close()
		case <-done:
		}
	}()

	// Liveness watchdog: upstream keepalives arrive every ~15s; a long
	// silence means the connection is dead even if reads still block.
	watchdog := time.Duration(m.Config.Upstream.WatchdogSeconds) * time.Second
	timer := time.AfterFunc(watchdog, func() {
		m.Logger.Warning("Upstream silent for %v, forcing reconnect", watchdog)
		conn.Close()
	})
	defer timer.Stop()

	for {
		payload, err := conn.Next()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		timer.Reset(watchdog)
		if payload == "" {
			continue // keepalive
		}
		m.handleMessage(payload)
	}
}

// -----------------------------------------------------------------------------
// Event Dispatch
// -----------------------------------------------------------------------------

type eventFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type signalFrame struct {
	models.MSignal
	Confirmado bool `json:"confirmado"`
}

func (f signalFrame) confirmed() bool {
	return f.Tipo == models.SignalConfirmed || f.Confirmado
}

func floatOrZero(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

// -----------------------------------------------------------------------------

// handleMessage parses one upstream frame, applies its cache side effect
// and forwards it verbatim to the hub. A malformed payload is logged and
// dropped; the connection stays open.
func (m *MirrorClient) handleMessage(payload string) {
	var frame eventFrame
	if err := json.Unmarshal([]byte(payload), &frame); err != nil {
		m.Logger.Warning("%v", helpers.NewMalformedEventError("stream event dropped", err))
		return
	}

	switch frame.Event {
	case "vela":
		if vals := models.ExtractVelaValues(frame.Data); len(vals) > 0 {
			m.Cache.SetVelas(vals)
			m.Logger.Debug("Vela update: %d values", len(vals))
		}

	case "sinal":
		var sig signalFrame
		if err := json.Unmarshal(frame.Data, &sig); err != nil {
			m.Logger.Warning("Unparseable sinal payload: %v", err)
		} else {
			m.Logger.Info("Sinal: %s | after %.2fx -> cashout %.2fx", sig.Tipo, sig.AposDe, sig.Cashout)
			if sig.confirmed() && m.Push != nil {
				m.Push.NotifySignal(sig.MSignal)
			}
		}

	case "resultado":
		var res models.MResult
		if err := json.Unmarshal(frame.Data, &res); err != nil {
			m.Logger.Warning("Unparseable resultado payload: %v", err)
		} else {
			m.Cache.SetLastResult(res)
			m.Cache.RecordResult(res.Status)
			m.Logger.Info("Resultado: %s | vela %.2f", res.Status, floatOrZero(res.VelaFinal))
			if m.OnResult != nil {
				// The implied stats delta is optimistic; the upstream
				// resync shortly after is authoritative.
				m.OnResult()
			}
			if m.Push != nil {
				m.Push.NotifyResult(res)
			}
		}

	case "online":
		if n := models.ExtractOnlineCount(frame.Data); n > 0 {
			m.Cache.SetOnline(n)
		}

	case "connected":
		m.Logger.Info("Upstream connection acknowledged")

	default:
		m.Logger.Debug("Passthrough event: %s", frame.Event)
	}

	// Forward verbatim, recognized or not: the mirror is a pass-through
	// plus cache side effects, never a filter.
	m.Hub.Publish(frame.Event, frame.Data)
}
