package push

import (
	"io"

	"cashout-mirror/src/models"

	webpush "github.com/SherClockHolmes/webpush-go"
)

// -----------------------------------------------------------------------------
// Web Push Transport
// -----------------------------------------------------------------------------

// WebPushSender delivers payloads through the Web Push protocol with VAPID
// authentication. It reports the provider's status code so the dispatcher
// can classify gone endpoints (404/410).
type WebPushSender struct {
	cfg models.MPushConfig
}

// -----------------------------------------------------------------------------

func NewWebPushSender(cfg models.MPushConfig) *WebPushSender {
	return &WebPushSender{cfg: cfg}
}

// -----------------------------------------------------------------------------

func (w *WebPushSender) Send(sub models.MPushSubscription, payload []byte, urgency string) (int, error) {
	resp, err := webpush.SendNotification(payload, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.Keys.P256dh,
			Auth:   sub.Keys.Auth,
		},
	}, &webpush.Options{
		Subscriber:      w.cfg.Subscriber,
		VAPIDPublicKey:  w.cfg.VapidPublicKey,
		VAPIDPrivateKey: w.cfg.VapidPrivateKey,
		TTL:             w.cfg.TTLSeconds,
		Urgency:         webpush.Urgency(urgency),
	})
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	return resp.StatusCode, nil
}
