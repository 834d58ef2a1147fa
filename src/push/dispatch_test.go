package push

import (
	"errors"
	"sync"
	"testing"
	"time"

	"cashout-mirror/src/helpers"
	"cashout-mirror/src/logger"
	"cashout-mirror/src/models"
)

// -----------------------------------------------------------------------------
// Fakes
// -----------------------------------------------------------------------------

type fakeSender struct {
	mu       sync.Mutex
	statuses map[string]int
	errs     map[string]error
	sent     []string
}

func (f *fakeSender) Send(sub models.MPushSubscription, payload []byte, urgency string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sub.Endpoint)
	if err, ok := f.errs[sub.Endpoint]; ok {
		return 0, err
	}
	if status, ok := f.statuses[sub.Endpoint]; ok {
		return status, nil
	}
	return 201, nil
}

type fakeStore struct {
	mu           sync.Mutex
	replaceCalls int
	lastSet      []models.MPushSubscription
}

func (f *fakeStore) Initialize() error { return nil }
func (f *fakeStore) LoadSubscriptions() ([]models.MPushSubscription, error) {
	return nil, nil
}
func (f *fakeStore) ReplaceSubscriptions(subs []models.MPushSubscription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replaceCalls++
	f.lastSet = subs
	return nil
}
func (f *fakeStore) SaveClick(click models.MNotificationClick) error { return nil }
func (f *fakeStore) Close() error                                    { return nil }

func (f *fakeStore) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.replaceCalls
}

// -----------------------------------------------------------------------------

func sub(endpoint string) models.MPushSubscription {
	return models.MPushSubscription{
		Endpoint: endpoint,
		Keys:     models.MSubscriptionKeys{P256dh: "p", Auth: "a"},
	}
}

func testService(sender *fakeSender, store *fakeStore) *Service {
	cfg := &models.MConfig{
		Push:  models.MPushConfig{Enabled: true, QueueSize: 8, TTLSeconds: 60},
		Cache: models.MCacheConfig{CampaignLimit: 50},
	}
	s := NewService(cfg, sender, store, logger.NewLogger("INFO", "PushTest"))
	s.sleep = func(time.Duration) {}
	return s
}

// -----------------------------------------------------------------------------
// Dispatch
// -----------------------------------------------------------------------------

// TestDispatchSyncOutcomes verifies the success / soft-failure / gone
// classification and that gone endpoints are pruned in exactly one
// persisted write.
func TestDispatchSyncOutcomes(t *testing.T) {
	sender := &fakeSender{
		statuses: map[string]int{
			"https://push.test/ok":   201,
			"https://push.test/gone": 410,
		},
		errs: map[string]error{
			"https://push.test/flaky": errors.New("timeout"),
		},
	}
	store := &fakeStore{}
	s := testService(sender, store)

	s.Add(sub("https://push.test/ok"))
	s.Add(sub("https://push.test/gone"))
	s.Add(sub("https://push.test/flaky"))
	baseline := store.calls()

	result, err := s.Dispatch(models.MPushPayload{Title: "t", Body: "b"}, models.MDispatchOptions{
		Target: models.TargetAll,
		Mode:   models.ModeSync,
	})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	if result.Targets != 3 || result.Sent != 1 || result.Failed != 2 || result.Removed != 1 {
		t.Fatalf("result: got %+v", result)
	}
	if store.calls()-baseline != 1 {
		t.Errorf("prune writes: got %d, want 1", store.calls()-baseline)
	}
	if s.Count() != 2 {
		t.Errorf("remaining subs: got %d, want 2", s.Count())
	}
	for _, kept := range s.SelectTargets(models.MDispatchOptions{Target: models.TargetAll}) {
		if kept.Endpoint == "https://push.test/gone" {
			t.Error("gone endpoint still registered")
		}
	}

	campaigns := s.Campaigns()
	if len(campaigns) != 1 || campaigns[0].Sent != 1 || campaigns[0].Failed != 2 {
		t.Errorf("campaign stat: got %+v", campaigns)
	}
}

// TestDispatchSoftFailureKeepsEndpoint verifies a transient provider error
// never prunes.
func TestDispatchSoftFailureKeepsEndpoint(t *testing.T) {
	sender := &fakeSender{errs: map[string]error{"https://push.test/flaky": errors.New("503")}}
	store := &fakeStore{}
	s := testService(sender, store)

	s.Add(sub("https://push.test/flaky"))
	baseline := store.calls()

	result, _ := s.Dispatch(models.MPushPayload{Title: "t"}, models.MDispatchOptions{Mode: models.ModeSync})
	if result.Removed != 0 || s.Count() != 1 {
		t.Errorf("soft failure pruned: %+v, count %d", result, s.Count())
	}
	if store.calls() != baseline {
		t.Errorf("unexpected persist on soft failure")
	}
}

// TestDispatchDryRun verifies dry-run counts targets without sending.
func TestDispatchDryRun(t *testing.T) {
	sender := &fakeSender{}
	s := testService(sender, &fakeStore{})
	s.Add(sub("https://push.test/a"))
	s.Add(sub("https://push.test/b"))

	result, err := s.Dispatch(models.MPushPayload{Title: "t"}, models.MDispatchOptions{DryRun: true})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if !result.DryRun || result.Targets != 2 {
		t.Errorf("result: got %+v", result)
	}
	if len(sender.sent) != 0 {
		t.Errorf("dry run sent %d notifications", len(sender.sent))
	}
}

// TestDispatchQueueMode verifies queue mode returns immediately and the
// worker drains the job.
func TestDispatchQueueMode(t *testing.T) {
	sender := &fakeSender{}
	s := testService(sender, &fakeStore{})
	s.Add(sub("https://push.test/a"))

	result, err := s.Dispatch(models.MPushPayload{Title: "t"}, models.MDispatchOptions{Mode: models.ModeQueue})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if !result.Queued || result.JobID == "" {
		t.Fatalf("result: got %+v", result)
	}

	select {
	case job := <-s.jobs:
		if job.ID != result.JobID {
			t.Errorf("queued job id mismatch")
		}
	default:
		t.Fatal("no job queued")
	}
}

// TestDispatchUnknownMode verifies an unrecognized mode is rejected as a
// validation error.
func TestDispatchUnknownMode(t *testing.T) {
	s := testService(&fakeSender{}, &fakeStore{})

	_, err := s.Dispatch(models.MPushPayload{Title: "t"}, models.MDispatchOptions{Mode: "batch"})
	if err == nil {
		t.Fatal("expected error")
	}
	var verr *helpers.ValidationError
	if !errors.As(err, &verr) {
		t.Errorf("error type: got %T", err)
	}
}

// TestUrgencyFor checks the priority-to-urgency mapping.
func TestUrgencyFor(t *testing.T) {
	cases := []struct {
		priority int
		want     string
	}{
		{10, "high"},
		{8, "high"},
		{5, "normal"},
		{4, "normal"},
		{1, "low"},
		{0, "low"},
	}
	for _, c := range cases {
		if got := urgencyFor(c.priority); got != c.want {
			t.Errorf("priority %d: got %q, want %q", c.priority, got, c.want)
		}
	}
}
