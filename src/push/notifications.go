package push

import (
	"fmt"

	"cashout-mirror/src/models"
)

// -----------------------------------------------------------------------------
// Canned Notifications
// -----------------------------------------------------------------------------

// The notify helpers are the fire-and-forget boundary used by the mirror
// client and the injection handlers: they enqueue a broadcast to all
// subscribers and swallow every error after logging. A push failure can
// never propagate into the caller's control flow.

const (
	notificationIcon  = "/images/icon-192.png"
	notificationBadge = "/favicon.ico"
)

// -----------------------------------------------------------------------------

// NotifySignal announces a confirmed entry. Forming signals must never
// reach this; the caller filters on the typed signal kind.
func (s *Service) NotifySignal(sig models.MSignal) {
	s.fireAndForget(models.MPushPayload{
		Title: "📊 ENTRADA CONFIRMADA",
		Body:  fmt.Sprintf("Aposta sugerida após %.2fx. Alvo: %.2fx. BOA SORTE! 🚀", sig.AposDe, sig.Cashout),
		Icon:  notificationIcon,
		Badge: notificationBadge,
		Tag:   "signal-alert",
		Data:  map[string]interface{}{"url": "/"},
	})
}

// -----------------------------------------------------------------------------

// NotifyResult announces a round outcome, green or loss.
func (s *Service) NotifyResult(res models.MResult) {
	vela := floatOrZero(res.VelaFinal)
	cashout := floatOrZero(res.Cashout)

	payload := models.MPushPayload{
		Icon:  notificationIcon,
		Badge: notificationBadge,
		Tag:   "result-alert",
		Data:  map[string]interface{}{"url": "/"},
	}

	if res.Status == models.ResultGreen {
		payload.Title = "✅ GREEN CONQUISTADO!"
		payload.Body = fmt.Sprintf("A vela parou em %.2fx. Meta de %.2fx batida com sucesso! 💰", vela, cashout)
	} else {
		payload.Title = "❌ LOSS NO ROUND"
		payload.Body = fmt.Sprintf("A vela parou em %.2fx. Meta de %.2fx não atingida desta vez.", vela, cashout)
	}

	s.fireAndForget(payload)
}

// -----------------------------------------------------------------------------

func (s *Service) fireAndForget(payload models.MPushPayload) {
	_, err := s.Dispatch(payload, models.MDispatchOptions{
		Target:   models.TargetAll,
		Priority: 8,
		Mode:     models.ModeQueue,
	})
	if err != nil {
		s.Logger.Warning("Push dispatch dropped: %v", err)
	}
}

// -----------------------------------------------------------------------------

func floatOrZero(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}
