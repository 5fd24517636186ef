package broker

import (
	"errors"
	"fmt"
)

// ErrTimeout is returned by Client.Call when no matching response arrives
// before the caller's deadline. The server-side job is not cancelled; its
// eventual reply is dropped as unmatched.
var ErrTimeout = errors.New("broker: request timed out")

// TransportError wraps a broker connection or publish failure. Consumers
// treat it as fatal to their loop and reconnect; the gateway surfaces it as
// service-unavailable.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("broker: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsTransport reports whether err is (or wraps) a TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
