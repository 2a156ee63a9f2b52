// Package delivery sends an assembled payload to the external consumer.
package delivery

import (
	"context"
	"errors"
	"fmt"

	"crconsync/pkg/model"
)

var (
	// ErrRetriesExhausted is wrapped by every Failure.
	ErrRetriesExhausted = errors.New("delivery retries exhausted")
	// ErrRejected means the endpoint answered 200 with an explicit failure body.
	ErrRejected = errors.New("rejected by endpoint")
)

// Sender delivers one payload. A nil error means the payload was acknowledged, or that it was
// empty and nothing was sent.
type Sender interface {
	Deliver(ctx context.Context, payload model.Payload) error
	// Target describes where payloads go, for logs and status output.
	Target() string
	Close() error
}

// Failure is returned when every attempt failed. Reason is the error of the last attempt.
type Failure struct {
	Attempts int
	Reason   error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("export failed after %d attempts: %v", f.Attempts, f.Reason)
}

func (f *Failure) Unwrap() []error {
	return []error{ErrRetriesExhausted, f.Reason}
}

// Reason returns the message worth recording as the last error of a run.
func Reason(err error) string {
	var f *Failure
	if errors.As(err, &f) && f.Reason != nil {
		return f.Reason.Error()
	}
	return err.Error()
}
