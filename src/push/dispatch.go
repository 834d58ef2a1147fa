package push

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"cashout-mirror/src/helpers"
	"cashout-mirror/src/models"

	"github.com/google/uuid"
)

// -----------------------------------------------------------------------------
// Dispatch
// -----------------------------------------------------------------------------

type dispatchJob struct {
	ID      string
	Payload models.MPushPayload
	Opts    models.MDispatchOptions
}

// -----------------------------------------------------------------------------

// StartWorker runs the single dispatch worker: one fan-out job at a time,
// FIFO, so concurrent broadcast requests never interleave their removal
// bookkeeping.
func (s *Service) StartWorker(ctx context.Context, wg *sync.WaitGroup) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case job := <-s.jobs:
				s.runJob(job)
			}
		}
	}()
}

// -----------------------------------------------------------------------------

// Dispatch sends a payload to the selected targets. Queue mode appends to
// the worker's FIFO and returns immediately; sync mode awaits the full
// fan-out and returns its totals.
func (s *Service) Dispatch(payload models.MPushPayload, opts models.MDispatchOptions) (models.MDispatchResult, error) {
	switch opts.Mode {
	case "", models.ModeSync, models.ModeQueue:
	default:
		return models.MDispatchResult{}, helpers.NewValidationError("unknown dispatch mode: " + opts.Mode)
	}

	targets := len(s.SelectTargets(opts))

	if opts.DryRun {
		return models.MDispatchResult{DryRun: true, Targets: targets}, nil
	}

	job := dispatchJob{
		ID:      uuid.New().String(),
		Payload: payload,
		Opts:    opts,
	}

	if opts.Mode == models.ModeSync {
		return s.runJob(job), nil
	}

	select {
	case s.jobs <- job:
		return models.MDispatchResult{Queued: true, JobID: job.ID, Targets: targets}, nil
	default:
		// Queue saturated; run inline rather than dropping the campaign.
		s.Logger.Warning("Dispatch queue full, running job %s inline", job.ID)
		return s.runJob(job), nil
	}
}

// -----------------------------------------------------------------------------

// runJob executes one fan-out batch. Deliveries go out concurrently and
// independently; outcomes are classified success / soft-failure (endpoint
// retained) / gone (endpoint scheduled for removal). All gone endpoints
// are removed in a single persisted write after the batch.
func (s *Service) runJob(job dispatchJob) models.MDispatchResult {
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	if job.Opts.DelaySeconds > 0 {
		s.sleep(time.Duration(job.Opts.DelaySeconds) * time.Second)
	}

	targets := s.SelectTargets(job.Opts)
	result := models.MDispatchResult{Targets: len(targets)}

	if len(targets) == 0 {
		return result
	}

	body, err := json.Marshal(job.Payload)
	if err != nil {
		s.Logger.Error("Unserializable push payload: %v", err)
		result.Failed = len(targets)
		return result
	}

	urgency := urgencyFor(job.Opts.Priority)
	s.Logger.Info("Dispatching push to %d subscribers (job %s)", len(targets), job.ID)

	type outcome struct {
		endpoint string
		sent     bool
		gone     bool
	}

	outcomes := make([]outcome, len(targets))
	var wg sync.WaitGroup

	for i, sub := range targets {
		wg.Add(1)
		go func(i int, sub models.MPushSubscription) {
			defer wg.Done()
			status, err := s.Sender.Send(sub, body, urgency)
			switch {
			case err == nil && status >= 200 && status < 300:
				outcomes[i] = outcome{endpoint: sub.Endpoint, sent: true}
			case status == 404 || status == 410:
				// The provider says this endpoint no longer exists.
				outcomes[i] = outcome{endpoint: sub.Endpoint, gone: true}
			default:
				s.Logger.Warning("%v", helpers.NewPushDeliveryError(fmt.Sprintf("delivery failed (status %d)", status), err))
				outcomes[i] = outcome{endpoint: sub.Endpoint}
			}
		}(i, sub)
	}
	wg.Wait()

	gone := make(map[string]bool)
	for _, o := range outcomes {
		switch {
		case o.sent:
			result.Sent++
		case o.gone:
			result.Failed++
			gone[o.endpoint] = true
		default:
			result.Failed++
		}
	}

	if len(gone) > 0 {
		result.Removed = s.removeEndpoints(gone)
	}

	s.appendCampaign(models.MCampaignStat{
		Ts:      s.now().UTC().Format(time.RFC3339),
		Title:   job.Payload.Title,
		Targets: result.Targets,
		Sent:    result.Sent,
		Failed:  result.Failed,
	})

	return result
}

// -----------------------------------------------------------------------------

// removeEndpoints prunes all gone subscriptions in one persisted write.
func (s *Service) removeEndpoints(gone map[string]bool) int {
	s.mu.Lock()
	kept := s.subs[:0]
	for _, sub := range s.subs {
		if !gone[sub.Endpoint] {
			kept = append(kept, sub)
		}
	}
	removed := len(s.subs) - len(kept)
	s.subs = kept
	snapshot := s.copySubsLocked()
	s.mu.Unlock()

	if removed > 0 {
		s.persist(snapshot)
		s.Logger.Info("Pruned %d expired subscriptions", removed)
	}
	return removed
}

// -----------------------------------------------------------------------------

// urgencyFor maps the numeric priority hint to a Web Push urgency header.
func urgencyFor(priority int) string {
	switch {
	case priority >= 8:
		return "high"
	case priority >= 4:
		return "normal"
	default:
		return "low"
	}
}
