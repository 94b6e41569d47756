package picking

import (
	"errors"
	"fmt"
)

var (
	// ErrRemoteUnavailable is wrapped by every RemoteError
	ErrRemoteUnavailable = errors.New("remote fulfillment backend unavailable")
	// ErrWriteRejected means the backend answered but refused a quantity write
	ErrWriteRejected = errors.New("quantity write rejected by backend")
	// ErrOperationNotLoaded means the UI referenced an operation that is not in
	// the open location. This is a programming error, not a user error.
	ErrOperationNotLoaded = errors.New("operation not loaded")
	// ErrNoMatch is returned by scans that resolve to nothing
	ErrNoMatch = errors.New("scanned code matches nothing")
	// ErrStaleContext marks background results for a context that is gone
	ErrStaleContext = errors.New("picking context changed")
	// ErrInvalidTransition is returned for navigation not allowed in the current mode
	ErrInvalidTransition = errors.New("transition not allowed in current mode")
	ErrInvalidQuantity   = errors.New("quantity must be a non-negative number")
	ErrUnknownZone       = errors.New("unknown zone")
	ErrUnknownLocation   = errors.New("location is not part of the current list")
	ErrSessionClosed     = errors.New("picking session closed")
)

// RemoteError is the single shape in which gateway failures leave this package
type RemoteError struct {
	Op  string
	Err error
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *RemoteError) Unwrap() []error {
	return []error{ErrRemoteUnavailable, e.Err}
}

// remote converts a raw gateway error at its call site
func remote(op string, err error) error {
	if err == nil {
		return nil
	}
	var re *RemoteError
	if errors.As(err, &re) {
		return err
	}
	return &RemoteError{Op: op, Err: err}
}

// TransitionError explains which navigation was refused
type TransitionError struct {
	Action string
	Mode   Mode
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s in mode %s", e.Action, e.Mode)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

func invalidTransition(action string, mode Mode) error {
	return &TransitionError{Action: action, Mode: mode}
}
