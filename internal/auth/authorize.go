package auth

import (
	"errors"
	"fmt"

	"fadedreams/roadassist/internal/lifecycle"
)

// ErrPermissionDenied is returned for any action outside the role table.
var ErrPermissionDenied = errors.New("permission denied")

// Action is something a caller attempts.
type Action int

const (
	ActionViewRequest Action = iota + 1
	ActionListAllRequests
	ActionCreateRequest
	ActionChangeStatus
	ActionAssignStaff
	ActionRequestCancellation
	ActionRespondCancellation
	ActionManageProviders
	ActionManageStaff
	ActionManageRoles
	ActionManageDraft
	// ActionUpdateWorkLog rewrites notes and resources used without moving
	// the status.
	ActionUpdateWorkLog
)

var actionNames = map[Action]string{
	ActionViewRequest:         "view request",
	ActionListAllRequests:     "list all requests",
	ActionCreateRequest:       "create request",
	ActionChangeStatus:        "change status",
	ActionAssignStaff:         "assign staff",
	ActionRequestCancellation: "request cancellation",
	ActionRespondCancellation: "respond to cancellation",
	ActionManageProviders:     "manage providers",
	ActionManageStaff:         "manage staff",
	ActionManageRoles:         "manage roles",
	ActionManageDraft:         "manage draft",
	ActionUpdateWorkLog:       "update work log",
}

func (a Action) String() string {
	if name, ok := actionNames[a]; ok {
		return name
	}
	return "unknown action"
}

// Target is the slice of a service request the decision depends on. Actions
// that do not concern a request use the zero Target.
type Target struct {
	RequesterID           string
	AssignedStaffID       string
	Status                lifecycle.Status
	CancellationRequested bool
	// NextStatus is the requested status for ActionChangeStatus.
	NextStatus lifecycle.Status
}

// Authorize returns nil when s may perform a on t, and an error wrapping
// ErrPermissionDenied otherwise.
func Authorize(s Session, a Action, t Target) error {
	var err error
	switch s.Role {
	case RoleAdmin:
		err = authorizeAdmin(a, t)
	case RoleMechanic:
		err = authorizeMechanic(s, a, t)
	case RoleCustomerRelations:
		err = authorizeCustomerRelations(a)
	case RoleUser:
		err = authorizeUser(s, a, t)
	default:
		err = errors.New("no role")
	}
	if err != nil {
		return fmt.Errorf("%w: %s may not %s: %w", ErrPermissionDenied, s.Role, a, err)
	}
	return nil
}

func authorizeAdmin(a Action, t Target) error {
	switch a {
	case ActionCreateRequest, ActionRequestCancellation, ActionManageDraft:
		return errors.New("reserved for requesters")
	case ActionChangeStatus:
		return lifecycle.CheckOverride(t.Status, t.NextStatus)
	case ActionAssignStaff, ActionUpdateWorkLog:
		if t.Status.Terminal() {
			return fmt.Errorf("%w: %s", lifecycle.ErrTerminal, t.Status)
		}
	}
	return nil
}

func authorizeMechanic(s Session, a Action, t Target) error {
	switch a {
	case ActionViewRequest, ActionRespondCancellation:
		return requireAssigned(s, t)
	case ActionChangeStatus:
		if err := requireAssigned(s, t); err != nil {
			return err
		}
		return lifecycle.CheckForward(t.Status, t.NextStatus, lifecycle.ActorAssignedMechanic)
	case ActionUpdateWorkLog:
		if err := requireAssigned(s, t); err != nil {
			return err
		}
		if t.Status.Terminal() || !t.Status.CapturesWorkLog() {
			return fmt.Errorf("no work log while %s", t.Status)
		}
		return nil
	}
	return errors.New("not permitted for mechanics")
}

func authorizeCustomerRelations(a Action) error {
	switch a {
	case ActionViewRequest, ActionListAllRequests:
		return nil
	}
	return errors.New("customer relations is read-only")
}

func authorizeUser(s Session, a Action, t Target) error {
	switch a {
	case ActionCreateRequest, ActionManageDraft:
		return nil
	case ActionViewRequest:
		return requireOwner(s, t)
	case ActionRequestCancellation:
		if err := requireOwner(s, t); err != nil {
			return err
		}
		if !t.Status.Active() {
			return fmt.Errorf("request is %s", t.Status)
		}
		if t.CancellationRequested {
			return errors.New("a cancellation is already pending")
		}
		return nil
	}
	return errors.New("not permitted for requesters")
}

func requireAssigned(s Session, t Target) error {
	if s.StaffID == "" || t.AssignedStaffID != s.StaffID {
		return errors.New("request is not assigned to caller")
	}
	return nil
}

func requireOwner(s Session, t Target) error {
	if s.UserID == "" || t.RequesterID != s.UserID {
		return errors.New("request belongs to another user")
	}
	return nil
}

// Scope narrows which requests a session may list. Zero fields do not
// narrow; Empty means nothing is visible.
type Scope struct {
	RequesterID     string
	AssignedStaffID string
	Empty           bool
}

// ListScope returns which requests s may list.
func ListScope(s Session) (Scope, error) {
	switch s.Role {
	case RoleAdmin, RoleCustomerRelations:
		if err := Authorize(s, ActionListAllRequests, Target{}); err != nil {
			return Scope{}, err
		}
		return Scope{}, nil
	case RoleMechanic:
		if s.StaffID == "" {
			return Scope{Empty: true}, nil
		}
		return Scope{AssignedStaffID: s.StaffID}, nil
	case RoleUser:
		if s.UserID == "" {
			return Scope{Empty: true}, nil
		}
		return Scope{RequesterID: s.UserID}, nil
	}
	return Scope{}, fmt.Errorf("%w: %s may not list requests: no role", ErrPermissionDenied, s.Role)
}
