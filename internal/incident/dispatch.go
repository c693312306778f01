package incident

import "context"

// Dispatcher sends pages to the external paging provider.
//
// SendPage returns the provider's reference for the page. Failures are
// classified with TransientDispatchError (retryable) or
// PermanentDispatchError (not retryable); any other error is treated as
// transient by the engine. Tier 0 is the initial page, higher tiers address
// later responder groups as an incident ages unacknowledged.
type Dispatcher interface {
	SendPage(ctx context.Context, in *Incident, channels []Channel, tier int) (providerRef string, err error)
}

// NopDispatcher discards pages. Used when no paging provider is configured.
type NopDispatcher struct{}

// SendPage implements Dispatcher.
func (NopDispatcher) SendPage(_ context.Context, _ *Incident, _ []Channel, _ int) (string, error) {
	return "", nil
}
