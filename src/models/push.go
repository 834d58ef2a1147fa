package models

// -----------------------------------------------------------------------------
// Push Subscriptions
// -----------------------------------------------------------------------------

// MPushSubscription is the browser subscription object as posted by the
// service worker flow. The endpoint URL is the natural key.
type MPushSubscription struct {
	Endpoint string            `json:"endpoint"`
	Keys     MSubscriptionKeys `json:"keys"`
}

type MSubscriptionKeys struct {
	P256dh string `json:"p256dh"`
	Auth   string `json:"auth"`
}

// -----------------------------------------------------------------------------

// MPushPayload is the notification body delivered to the push provider.
type MPushPayload struct {
	Title              string                 `json:"title"`
	Body               string                 `json:"body"`
	Icon               string                 `json:"icon,omitempty"`
	Badge              string                 `json:"badge,omitempty"`
	Tag                string                 `json:"tag,omitempty"`
	Renotify           bool                   `json:"renotify,omitempty"`
	RequireInteraction bool                   `json:"requireInteraction,omitempty"`
	Silent             bool                   `json:"silent,omitempty"`
	Data               map[string]interface{} `json:"data,omitempty"`
}

// -----------------------------------------------------------------------------

// Target selection criteria for a dispatch.
const (
	TargetAll      = "all"
	TargetSample   = "sample"
	TargetContains = "contains"
	TargetHost     = "host"
)

// Dispatch execution modes.
const (
	ModeSync  = "sync"
	ModeQueue = "queue"
)

// MDispatchOptions controls one push fan-out.
type MDispatchOptions struct {
	Target       string
	Limit        int
	Query        string
	Priority     int
	DelaySeconds int
	DryRun       bool
	Mode         string
}

// MDispatchResult summarizes one fan-out batch.
type MDispatchResult struct {
	Queued  bool   `json:"queued,omitempty"`
	JobID   string `json:"job_id,omitempty"`
	DryRun  bool   `json:"dry_run,omitempty"`
	Targets int    `json:"targets"`
	Sent    int    `json:"sent"`
	Failed  int    `json:"failed"`
	Removed int    `json:"removed"`
}

// -----------------------------------------------------------------------------

// MCampaignStat is one observability entry per dispatch batch,
// kept in a bounded ring (newest last).
type MCampaignStat struct {
	Ts      string `json:"ts"`
	Title   string `json:"title"`
	Targets int    `json:"targets"`
	Sent    int    `json:"sent"`
	Failed  int    `json:"failed"`
}

// -----------------------------------------------------------------------------

// MNotificationClick is one recorded notification click.
type MNotificationClick struct {
	Ts   string                 `json:"ts"`
	Data map[string]interface{} `json:"data"`
}

// -----------------------------------------------------------------------------

// MBroadcastRequest is the POST /api/push-broadcast body.
type MBroadcastRequest struct {
	Title              string `json:"title"`
	Body               string `json:"body"`
	Kind               string `json:"kind"`
	Tag                string `json:"tag"`
	URL                string `json:"url"`
	Priority           int    `json:"priority"`
	Mode               string `json:"mode"`
	Target             string `json:"target"`
	Limit              int    `json:"limit"`
	Query              string `json:"query"`
	DelaySeconds       int    `json:"delay_seconds"`
	DryRun             bool   `json:"dry_run"`
	Renotify           *bool  `json:"renotify"`
	RequireInteraction bool   `json:"require_interaction"`
	Silent             bool   `json:"silent"`
}
