package collector

import "errors"

// ErrQueueClosed is returned by Queue.Dequeue once the hand-off queue is
// closed and empty; workers treat it as the drain-complete signal.
var ErrQueueClosed = errors.New("queue closed")

// transientError marks an adapter failure as retryable.
type transientError struct {
	err error
}

func (e *transientError) Error() string {
	return "transient: " + e.err.Error()
}

func (e *transientError) Unwrap() error {
	return e.err
}

// Transient wraps err so IsTransient reports true. Adapters wrap HTTP 5xx,
// timeouts, and connection resets; everything else is permanent.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient reports whether err (or anything it wraps) was marked with
// Transient.
func IsTransient(err error) bool {
	var te *transientError
	return errors.As(err, &te)
}
