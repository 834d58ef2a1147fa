package models

import "time"

// -----------------------------------------------------------------------------
// Wire Events
// -----------------------------------------------------------------------------

// MEvent is the envelope every frame carries, upstream and downstream:
// data: {"event": "...", "data": {...}}
type MEvent struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// -----------------------------------------------------------------------------

// MStats mirrors the upstream win/loss counters.
// Invariant: Total == Wins + Loss, Percentage == round(100*Wins/Total).
type MStats struct {
	Wins       int `json:"wins"`
	Loss       int `json:"loss"`
	Total      int `json:"total"`
	Percentage int `json:"percentage"`
}

// -----------------------------------------------------------------------------

// MResult is the outcome of one round ("green" or "loss").
type MResult struct {
	ID        string   `json:"id"`
	Status    string   `json:"status"`
	VelaFinal *float64 `json:"vela_final"`
	AposDe    *float64 `json:"apos_de,omitempty"`
	Cashout   *float64 `json:"cashout,omitempty"`
	Ts        string   `json:"ts"`
}

// -----------------------------------------------------------------------------

// MSignal is an advisory entry suggestion. Only tipo == SignalConfirmed is
// actionable; "formando" signals are informational and never trigger push.
type MSignal struct {
	Tipo      string   `json:"tipo"`
	AposDe    float64  `json:"apos_de"`
	Cashout   float64  `json:"cashout"`
	MaxGales  int      `json:"max_gales"`
	VelaAtual *float64 `json:"vela_atual"`
	Meta      *string  `json:"meta"`
	ID        string   `json:"id"`
	Ts        string   `json:"ts"`
}

const (
	SignalConfirmed = "entrada_confirmada"
	SignalForming   = "formando"

	ResultGreen = "green"
	ResultLoss  = "loss"
)

// -----------------------------------------------------------------------------

// MToken is the upstream bearer token. Never persisted.
type MToken struct {
	Value      string
	ObtainedAt time.Time
	TTLSeconds int
}

// Expired reports whether the token outlived its TTL.
func (t MToken) Expired(now time.Time) bool {
	if t.Value == "" {
		return true
	}
	return now.Sub(t.ObtainedAt) >= time.Duration(t.TTLSeconds)*time.Second
}
