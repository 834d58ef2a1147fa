package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"cashout-mirror/src/logger"
	"cashout-mirror/src/models"
	"cashout-mirror/src/state"
)

// -----------------------------------------------------------------------------
// Fakes
// -----------------------------------------------------------------------------

type fakePublisher struct {
	events []string
	datas  []json.RawMessage
}

func (f *fakePublisher) Publish(event string, data interface{}) {
	f.events = append(f.events, event)
	if raw, ok := data.(json.RawMessage); ok {
		f.datas = append(f.datas, raw)
	} else {
		f.datas = append(f.datas, nil)
	}
}

type fakeNotifier struct {
	signals []models.MSignal
	results []models.MResult
}

func (f *fakeNotifier) NotifySignal(sig models.MSignal) { f.signals = append(f.signals, sig) }
func (f *fakeNotifier) NotifyResult(res models.MResult) { f.results = append(f.results, res) }

type fakeNetwork struct {
	body []byte
	err  error
}

func (f *fakeNetwork) Get(ctx context.Context, url string, params map[string]string) ([]byte, error) {
	return f.body, f.err
}

func (f *fakeNetwork) GetJSON(ctx context.Context, url string, params map[string]string, out interface{}) error {
	if f.err != nil {
		return f.err
	}
	return json.Unmarshal(f.body, out)
}

// -----------------------------------------------------------------------------

func testMirror(t *testing.T) (*MirrorClient, *fakePublisher, *fakeNotifier, *state.StateCache) {
	t.Helper()
	cfg := &models.MConfig{
		Upstream: models.MUpstreamConfig{
			BaseURL:       "http://upstream.test",
			BackoffBaseMs: 3000,
			BackoffMaxMs:  30000,
		},
		Cache: models.MCacheConfig{VelasLimit: 50, ClickLogLimit: 200, CampaignLimit: 50},
	}
	cache := state.NewStateCache(cfg)
	pub := &fakePublisher{}
	notif := &fakeNotifier{}
	m := &MirrorClient{
		Config: cfg,
		Cache:  cache,
		Hub:    pub,
		Push:   notif,
		Logger: logger.NewLogger("INFO", "MirrorTest"),
	}
	return m, pub, notif, cache
}

// -----------------------------------------------------------------------------
// Backoff
// -----------------------------------------------------------------------------

// TestBackoffDelay verifies the base*2^attempt schedule with its cap.
func TestBackoffDelay(t *testing.T) {
	base := 3 * time.Second
	max := 30 * time.Second

	want := []time.Duration{
		3 * time.Second,
		6 * time.Second,
		12 * time.Second,
		24 * time.Second,
		30 * time.Second,
		30 * time.Second,
	}
	for attempt, w := range want {
		if got := backoffDelay(base, max, attempt); got != w {
			t.Errorf("attempt %d: got %v, want %v", attempt, got, w)
		}
	}

	t.Run("monotonic until cap", func(t *testing.T) {
		prev := time.Duration(0)
		for attempt := 0; attempt < 40; attempt++ {
			d := backoffDelay(base, max, attempt)
			if d < prev {
				t.Fatalf("attempt %d: delay %v decreased below %v", attempt, d, prev)
			}
			if d > max {
				t.Fatalf("attempt %d: delay %v above cap", attempt, d)
			}
			prev = d
		}
	})
}

// -----------------------------------------------------------------------------
// Event Dispatch
// -----------------------------------------------------------------------------

// TestHandleMessageResultado covers the green-result scenario: cache
// update, optimistic wins increment, push attempt, resync hook and verbatim
// forwarding.
func TestHandleMessageResultado(t *testing.T) {
	m, pub, notif, cache := testMirror(t)

	resyncs := 0
	m.OnResult = func() { resyncs++ }

	m.handleMessage(`{"event":"resultado","data":{"id":"r9","status":"green","vela_final":3.25,"cashout":2.0}}`)

	last := cache.LastResult()
	if last == nil || last.ID != "r9" || last.Status != models.ResultGreen {
		t.Fatalf("last result: got %+v", last)
	}
	if stats := cache.Stats(); stats.Wins != 1 || stats.Total != 1 || stats.Percentage != 100 {
		t.Errorf("stats: got %+v", stats)
	}
	if len(notif.results) != 1 || notif.results[0].ID != "r9" {
		t.Errorf("push results: got %+v", notif.results)
	}
	if resyncs != 1 {
		t.Errorf("resync hook calls: got %d, want 1", resyncs)
	}
	if len(pub.events) != 1 || pub.events[0] != "resultado" {
		t.Fatalf("forwarded events: got %v", pub.events)
	}

	var data map[string]interface{}
	if err := json.Unmarshal(pub.datas[0], &data); err != nil {
		t.Fatalf("forwarded data is not the raw payload: %v", err)
	}
	if data["id"] != "r9" {
		t.Errorf("forwarded data: got %v", data)
	}
}

// TestHandleMessageSinal verifies only confirmed signals reach push while
// every signal is forwarded.
func TestHandleMessageSinal(t *testing.T) {
	m, pub, notif, _ := testMirror(t)

	m.handleMessage(`{"event":"sinal","data":{"tipo":"formando","apos_de":1.5,"cashout":2.0}}`)
	if len(notif.signals) != 0 {
		t.Fatalf("forming signal must not push: %+v", notif.signals)
	}

	m.handleMessage(`{"event":"sinal","data":{"tipo":"entrada_confirmada","apos_de":1.5,"cashout":2.0}}`)
	if len(notif.signals) != 1 || notif.signals[0].AposDe != 1.5 {
		t.Fatalf("confirmed signal: got %+v", notif.signals)
	}

	t.Run("legacy confirmado flag", func(t *testing.T) {
		m.handleMessage(`{"event":"sinal","data":{"tipo":"outro","confirmado":true,"apos_de":1.2,"cashout":3.0}}`)
		if len(notif.signals) != 2 {
			t.Fatalf("confirmado flag ignored: %+v", notif.signals)
		}
	})

	if len(pub.events) != 3 {
		t.Errorf("forwarded events: got %v", pub.events)
	}
}

// TestHandleMessageVelaAndOnline verifies the cache side effects.
func TestHandleMessageVelaAndOnline(t *testing.T) {
	m, _, _, cache := testMirror(t)

	m.handleMessage(`{"event":"vela","data":{"valores":[2.1,1.5,3.0]}}`)
	if got := cache.Velas(); len(got) != 3 || got[0] != 2.1 {
		t.Errorf("velas: got %v", got)
	}

	m.handleMessage(`{"event":"online","data":{"count":42}}`)
	if got := cache.Online(); got != 42 {
		t.Errorf("online: got %d, want 42", got)
	}
}

// TestHandleMessageMalformed verifies a broken payload is dropped without
// reaching the hub.
func TestHandleMessageMalformed(t *testing.T) {
	m, pub, _, _ := testMirror(t)

	m.handleMessage(`{"event":"vela","data":`)
	if len(pub.events) != 0 {
		t.Errorf("malformed frame was forwarded: %v", pub.events)
	}
}

// TestHandleMessageUnknownForwarded verifies unrecognized events pass
// through verbatim.
func TestHandleMessageUnknownForwarded(t *testing.T) {
	m, pub, _, _ := testMirror(t)

	m.handleMessage(`{"event":"promo","data":{"x":1}}`)
	if len(pub.events) != 1 || pub.events[0] != "promo" {
		t.Errorf("forwarded events: got %v", pub.events)
	}
}

// TestFloatOrZero covers the nil guard used when logging optional candle
// values; vela_final may legitimately be absent on a resultado.
func TestFloatOrZero(t *testing.T) {
	if got := floatOrZero(nil); got != 0 {
		t.Errorf("nil: got %v, want 0", got)
	}
	v := 3.25
	if got := floatOrZero(&v); got != 3.25 {
		t.Errorf("value: got %v, want 3.25", got)
	}
}

// -----------------------------------------------------------------------------
// TokenProvider
// -----------------------------------------------------------------------------

// TestTokenProviderAcquire covers success, failure leaving the old token in
// place, and invalidation.
func TestTokenProviderAcquire(t *testing.T) {
	cfg := &models.MConfig{
		Upstream: models.MUpstreamConfig{BaseURL: "http://upstream.test", TokenTTLSeconds: 300},
	}
	net := &fakeNetwork{body: []byte(`{"token":"abc123","ttl":300}`)}
	p := NewTokenProvider(cfg, net, logger.NewLogger("INFO", "TokenTest"))

	tok, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if tok.Value != "abc123" || tok.TTLSeconds != 300 {
		t.Fatalf("token: got %+v", tok)
	}
	if !p.Active() {
		t.Error("expected active token")
	}

	t.Run("failure keeps old token", func(t *testing.T) {
		net.err = errors.New("boom")
		if _, err := p.Acquire(context.Background()); err == nil {
			t.Fatal("expected error")
		}
		if p.Current().Value != "abc123" {
			t.Errorf("old token lost: %+v", p.Current())
		}
	})

	t.Run("invalidate clears", func(t *testing.T) {
		p.Invalidate()
		if p.Active() {
			t.Error("expected inactive after invalidate")
		}
	})
}

// TestTokenExpiry verifies TTL-based expiry through an injected clock.
func TestTokenExpiry(t *testing.T) {
	cfg := &models.MConfig{
		Upstream: models.MUpstreamConfig{BaseURL: "http://upstream.test", TokenTTLSeconds: 300},
	}
	net := &fakeNetwork{body: []byte(`{"token":"abc123"}`)}
	p := NewTokenProvider(cfg, net, logger.NewLogger("INFO", "TokenTest"))

	now := time.Now()
	p.now = func() time.Time { return now }

	if _, err := p.Acquire(context.Background()); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	now = now.Add(299 * time.Second)
	if !p.Active() {
		t.Error("token expired early")
	}

	now = now.Add(2 * time.Second)
	if p.Active() {
		t.Error("token outlived its TTL")
	}
}
