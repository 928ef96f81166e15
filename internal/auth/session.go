// Package auth decides who may do what to a service request. A Session is
// built once per call from the identity provider's token plus the stored
// profile, and is passed explicitly into Authorize.
package auth

import (
	"context"
	"errors"
	"fmt"
)

// Role is the closed set of roles a session can carry.
type Role int

const (
	RoleUnknown Role = iota
	RoleUser
	RoleAdmin
	RoleMechanic
	RoleCustomerRelations
)

var roleNames = map[Role]string{
	RoleUser:              "user",
	RoleAdmin:             "admin",
	RoleMechanic:          "mechanic",
	RoleCustomerRelations: "customer_relations",
}

var ErrUnknownRole = errors.New("unknown role")

// ParseRole converts a stored profile role into a Role.
func ParseRole(s string) (Role, error) {
	for r, name := range roleNames {
		if name == s {
			return r, nil
		}
	}
	return RoleUnknown, fmt.Errorf("%w: %q", ErrUnknownRole, s)
}

func (r Role) String() string {
	if name, ok := roleNames[r]; ok {
		return name
	}
	return "unknown"
}

// Staff reports whether the role belongs to a garage employee.
func (r Role) Staff() bool {
	return r == RoleAdmin || r == RoleMechanic || r == RoleCustomerRelations
}

// Session is the authenticated caller.
type Session struct {
	UserID      string
	Email       string
	DisplayName string
	PhoneNumber string
	Role        Role
	// StaffID is the staff record matched by email; empty when none matched.
	StaffID string
}

type sessionKey struct{}

// WithSession stores s on ctx for transports that resolve the session in
// middleware. Business code receives the Session as a parameter.
func WithSession(ctx context.Context, s Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

// SessionFromContext returns the session stored by WithSession.
func SessionFromContext(ctx context.Context) (Session, bool) {
	s, ok := ctx.Value(sessionKey{}).(Session)
	return s, ok
}
