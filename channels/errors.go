package channels

import "fmt"

// ErrSendFailed is returned when a message could not be delivered.
type ErrSendFailed struct {
	Platform string
	Cause    error
}

func (e *ErrSendFailed) Error() string {
	return fmt.Sprintf("channels: send failed (%s): %v", e.Platform, e.Cause)
}

func (e *ErrSendFailed) Unwrap() error { return e.Cause }
