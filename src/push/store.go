package push

import (
	"math/rand"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"cashout-mirror/src/helpers"
	"cashout-mirror/src/interfaces"
	"cashout-mirror/src/logger"
	"cashout-mirror/src/models"
)

// -----------------------------------------------------------------------------
// Service
// -----------------------------------------------------------------------------

// Service owns the push subscription registry and all delivery. The
// in-memory set is authoritative; every mutation is written through to the
// store, and a store failure degrades durability but never availability.
type Service struct {
	Config *models.MConfig
	Logger *logger.Logger
	Sender interfaces.IPushSender
	Store  interfaces.ISubscriptionStore

	mu        sync.RWMutex
	subs      []models.MPushSubscription
	campaigns []models.MCampaignStat

	clicks int64

	jobs       chan dispatchJob
	dispatchMu sync.Mutex

	now   func() time.Time
	sleep func(d time.Duration)
}

// -----------------------------------------------------------------------------

func NewService(cfg *models.MConfig, sender interfaces.IPushSender, store interfaces.ISubscriptionStore, log *logger.Logger) *Service {
	s := &Service{
		Config: cfg,
		Logger: log,
		Sender: sender,
		Store:  store,
		jobs:   make(chan dispatchJob, cfg.Push.QueueSize),
		now:    time.Now,
		sleep:  time.Sleep,
	}

	if store != nil {
		subs, err := store.LoadSubscriptions()
		if err != nil {
			log.Warning("Failed to load subscriptions: %v", err)
		} else {
			s.subs = subs
			log.Info("Loaded %d push subscriptions", len(subs))
		}
	}

	return s
}

// -----------------------------------------------------------------------------
// Registry
// -----------------------------------------------------------------------------

// Add registers a subscription. The endpoint is the natural key: a
// duplicate is a no-op and existing keys are left unchanged.
func (s *Service) Add(sub models.MPushSubscription) bool {
	s.mu.Lock()
	for _, existing := range s.subs {
		if existing.Endpoint == sub.Endpoint {
			s.mu.Unlock()
			return false
		}
	}
	s.subs = append(s.subs, sub)
	count := len(s.subs)
	snapshot := s.copySubsLocked()
	s.mu.Unlock()

	s.persist(snapshot)
	s.Logger.Info("New subscription added. Total: %d", count)
	return true
}

// -----------------------------------------------------------------------------

// ResetAll clears every subscription and returns how many were removed.
func (s *Service) ResetAll() int {
	s.mu.Lock()
	removed := len(s.subs)
	s.subs = nil
	s.mu.Unlock()

	s.persist(nil)
	s.Logger.Info("Subscriptions reset. %d removed", removed)
	return removed
}

// -----------------------------------------------------------------------------

func (s *Service) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}

// -----------------------------------------------------------------------------

func (s *Service) copySubsLocked() []models.MPushSubscription {
	out := make([]models.MPushSubscription, len(s.subs))
	copy(out, s.subs)
	return out
}

// -----------------------------------------------------------------------------

// persist writes the full set through to the store. Failure is logged;
// the in-memory registry still serves.
func (s *Service) persist(subs []models.MPushSubscription) {
	if s.Store == nil {
		return
	}
	if err := s.Store.ReplaceSubscriptions(subs); err != nil {
		s.Logger.Error("%v", helpers.NewPersistenceError("failed to persist subscriptions", err))
	}
}

// -----------------------------------------------------------------------------
// Target Selection
// -----------------------------------------------------------------------------

// SelectTargets resolves the dispatch criteria to a concrete subscription
// list. Unknown criteria fall back to all.
func (s *Service) SelectTargets(opts models.MDispatchOptions) []models.MPushSubscription {
	s.mu.RLock()
	all := s.copySubsLocked()
	s.mu.RUnlock()

	switch opts.Target {
	case models.TargetSample:
		n := opts.Limit
		if n <= 0 || n > len(all) {
			n = len(all)
		}
		out := make([]models.MPushSubscription, 0, n)
		for _, idx := range rand.Perm(len(all))[:n] {
			out = append(out, all[idx])
		}
		return out

	case models.TargetContains:
		var out []models.MPushSubscription
		for _, sub := range all {
			if strings.Contains(sub.Endpoint, opts.Query) {
				out = append(out, sub)
			}
		}
		return out

	case models.TargetHost:
		var out []models.MPushSubscription
		for _, sub := range all {
			if u, err := url.Parse(sub.Endpoint); err == nil && (u.Host == opts.Query || u.Hostname() == opts.Query) {
				out = append(out, sub)
			}
		}
		return out

	default: // all, or anything unrecognized
		if opts.Limit > 0 && opts.Limit < len(all) {
			return all[:opts.Limit]
		}
		return all
	}
}

// -----------------------------------------------------------------------------
// Observability
// -----------------------------------------------------------------------------

func (s *Service) RecordClick() {
	atomic.AddInt64(&s.clicks, 1)
}

func (s *Service) Clicks() int64 {
	return atomic.LoadInt64(&s.clicks)
}

// -----------------------------------------------------------------------------

// Campaigns returns the bounded dispatch history (newest last).
func (s *Service) Campaigns() []models.MCampaignStat {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.MCampaignStat, len(s.campaigns))
	copy(out, s.campaigns)
	return out
}

// -----------------------------------------------------------------------------

func (s *Service) appendCampaign(stat models.MCampaignStat) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.campaigns = append(s.campaigns, stat)
	limit := s.Config.Cache.CampaignLimit
	if limit > 0 && len(s.campaigns) > limit {
		s.campaigns = s.campaigns[len(s.campaigns)-limit:]
	}
}
