package interfaces

import "context"

// -----------------------------------------------------------------------------
// INetworkClient defines the contract for short-lived upstream REST calls
// (token fetch, snapshot sync). The long-lived stream connection does not
// go through here; it manages its own transport.
// -----------------------------------------------------------------------------

type INetworkClient interface {

	// Get performs a GET with query params and returns the response body.
	Get(ctx context.Context, urlStr string, params map[string]string) ([]byte, error)

	// -----------------------------------------------------------------------------

	// GetJSON performs a GET and decodes the JSON response into out.
	GetJSON(ctx context.Context, urlStr string, params map[string]string, out interface{}) error
}
