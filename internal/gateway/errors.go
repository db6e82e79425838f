package gateway

import "errors"

// ErrBusy is returned when a bulk job is requested while another one is
// still running. Two campaigns never interleave on the single session.
var ErrBusy = errors.New("a bulk send is already running")

// ValidationError reports a malformed send request. It is returned
// synchronously to the caller and never broadcast.
type ValidationError struct {
	Field string
}

func (e *ValidationError) Error() string {
	return "missing or empty field: " + e.Field
}

// SendFailure is the per-recipient failure payload, both in bulk tallies
// and in message.send_failed events.
type SendFailure struct {
	Recipient string `json:"recipient"`
	Error     string `json:"error"`
}
