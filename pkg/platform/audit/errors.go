package audit

import "errors"

// Error kinds of the audit pipeline. Callers match them with errors.Is; the
// wrapped cause stays available through errors.Unwrap.
var (
	// ErrValidation marks an event rejected before any network call.
	ErrValidation = errors.New("invalid audit event")
	// ErrConnection marks an unreachable broker. It is fatal to the operation
	// that hit it and is expected to surface to a supervisor.
	ErrConnection = errors.New("broker connection failed")
	// ErrDelivery marks a send the broker did not accept.
	ErrDelivery = errors.New("audit event delivery failed")
	// ErrDeserialization marks a consumed message that could not be decoded.
	ErrDeserialization = errors.New("audit message deserialization failed")
	// ErrStorage marks a history insert that failed.
	ErrStorage = errors.New("history storage failed")
)
