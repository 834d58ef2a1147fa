package interfaces

import "cashout-mirror/src/models"

// -----------------------------------------------------------------------------
// IPushSender is the transport boundary to the Web Push provider. The
// store classifies outcomes from the returned status code; tests inject
// a fake sender.
// -----------------------------------------------------------------------------

type IPushSender interface {

	// Send delivers one payload to one subscription and returns the
	// provider's HTTP status code (0 when the request never completed).
	Send(sub models.MPushSubscription, payload []byte, urgency string) (int, error)
}
