// Package lifecycle holds the service-request status machine: the set of
// statuses and the forward edges between them. It knows nothing about who is
// asking; role checks live in the auth package.
package lifecycle

import (
	"errors"
	"fmt"
)

// Status is the persisted status of a service request.
type Status string

const (
	Pending    Status = "Pending"
	Accepted   Status = "Accepted"
	InProgress Status = "In Progress"
	Completed  Status = "Completed"
	Cancelled  Status = "Cancelled"
)

var (
	// ErrUnknownStatus is returned when a value is not one of the five statuses.
	ErrUnknownStatus = errors.New("unknown status")

	// ErrTerminal is returned when a transition is attempted out of Completed or Cancelled.
	ErrTerminal = errors.New("request is in a terminal status")
)

// All lists the statuses in lifecycle order.
var All = []Status{Pending, Accepted, InProgress, Completed, Cancelled}

// Parse converts a wire value into a Status.
func Parse(s string) (Status, error) {
	for _, st := range All {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownStatus, s)
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	_, err := Parse(string(s))
	return err == nil
}

// Terminal reports whether no further transition is permitted.
func (s Status) Terminal() bool {
	return s == Completed || s == Cancelled
}

// Active reports whether the request is still being worked on. Cancellation
// requests may only be raised while a request is active.
func (s Status) Active() bool {
	return s == Pending || s == Accepted || s == InProgress
}

// CapturesWorkLog reports whether moving into s records mechanic notes and
// resources used alongside the transition.
func (s Status) CapturesWorkLog() bool {
	return s == InProgress || s == Completed
}
