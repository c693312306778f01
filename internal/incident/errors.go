package incident

import "fmt"

// ValidationError reports caller mistakes (bad arguments). The operation has
// no side effects when one is returned.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NotFoundError reports an unknown incident id.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("incident %s not found", e.ID)
}

// TransientDispatchError marks a dispatch failure worth retrying: timeouts,
// 5xx responses, open circuit breaker.
type TransientDispatchError struct {
	Err error
}

func (e *TransientDispatchError) Error() string {
	return fmt.Sprintf("transient dispatch failure: %v", e.Err)
}

func (e *TransientDispatchError) Unwrap() error { return e.Err }

// PermanentDispatchError marks a dispatch failure that retrying cannot fix,
// such as broken routing configuration. The alerting system itself is
// misconfigured when one of these shows up.
type PermanentDispatchError struct {
	Err error
}

func (e *PermanentDispatchError) Error() string {
	return fmt.Sprintf("permanent dispatch failure: %v", e.Err)
}

func (e *PermanentDispatchError) Unwrap() error { return e.Err }
