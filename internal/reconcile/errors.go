package reconcile

import (
	"errors"
	"fmt"
)

// ErrMissingArgument marks an event payload lacking a required argument.
var ErrMissingArgument = errors.New("missing required argument")

func missing(eventName, arg string) error {
	return fmt.Errorf("%s.%s: %w", eventName, arg, ErrMissingArgument)
}

// MismatchError reports that the local aggregate an event refers to does not
// exist. Retrying the task cannot create it, so the event is absorbed.
// Deferred marks events that only need the batch to be synced first; they are
// replayed once its BatchCreated event is applied.
type MismatchError struct {
	EventName string
	Aggregate string
	Key       string
	Deferred  bool
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("%s: no local %s matches %s", e.EventName, e.Aggregate, e.Key)
}
