package interfaces

import "cashout-mirror/src/models"

// -----------------------------------------------------------------------------
// ISubscriptionStore defines the contract for durable push-subscription
// persistence. The in-memory registry is authoritative at runtime; the
// store is written after every mutation and read once at startup.
// -----------------------------------------------------------------------------

type ISubscriptionStore interface {

	// Initialize sets up the database schema and tables.
	Initialize() error

	// -----------------------------------------------------------------------------

	// LoadSubscriptions reads the full subscription set.
	LoadSubscriptions() ([]models.MPushSubscription, error)

	// -----------------------------------------------------------------------------

	// ReplaceSubscriptions rewrites the full subscription set in one
	// transaction. Called after every registry mutation.
	ReplaceSubscriptions(subs []models.MPushSubscription) error

	// -----------------------------------------------------------------------------

	// SaveClick appends one notification click record.
	SaveClick(click models.MNotificationClick) error

	// -----------------------------------------------------------------------------

	// Close the database connection
	Close() error
}
