package domain

import (
	"time"

	"fadedreams/roadassist/internal/events"
	"fadedreams/roadassist/internal/lifecycle"
)

// DisplayCancellationPending is shown instead of the status while a
// cancellation request awaits a response.
const DisplayCancellationPending = "Cancellation Pending"

// Location represents geographic coordinates in degrees.
type Location struct {
	Lat float64 `json:"lat" bson:"lat"`
	Lng float64 `json:"lng" bson:"lng"`
}

// Vehicle describes the requester's vehicle.
type Vehicle struct {
	Make  string `json:"make" bson:"make"`
	Model string `json:"model" bson:"model"`
	Year  string `json:"year" bson:"year"`
	Plate string `json:"plate" bson:"plate"`
}

// ServiceProvider is a garage branch.
type ServiceProvider struct {
	ID              string    `json:"id" bson:"_id"`
	Name            string    `json:"name" bson:"name"`
	Phone           string    `json:"phone" bson:"phone"`
	Location        Location  `json:"location" bson:"location"`
	GeneralLocation string    `json:"generalLocation" bson:"generalLocation"`
	Services        []string  `json:"services" bson:"services"`
	ETAMinutes      int       `json:"etaMinutes" bson:"etaMinutes"`
	CreatedAt       time.Time `json:"createdAt" bson:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt" bson:"updatedAt"`
}

// ServiceRequest is one assistance case. Requests are never deleted.
type ServiceRequest struct {
	ID               string          `json:"id" bson:"_id"`
	RequestID        string          `json:"requestId" bson:"requestId"`
	RequesterID      string          `json:"requesterId" bson:"requesterId"`
	Location         Location        `json:"location" bson:"location"`
	IssueDescription string          `json:"issueDescription" bson:"issueDescription"`
	IssueSummary     string          `json:"issueSummary" bson:"issueSummary"`
	Vehicle          Vehicle         `json:"vehicle" bson:"vehicle"`
	ProviderID       string          `json:"providerId" bson:"providerId"`
	Provider         ServiceProvider `json:"provider" bson:"provider"`
	CreatedAt        time.Time       `json:"createdAt" bson:"createdAt"`
	UpdatedAt        time.Time       `json:"updatedAt" bson:"updatedAt"`
	// Version counts writes; UpdateRequest only succeeds against the version
	// that was read.
	Version int64 `json:"version" bson:"version"`

	Status          lifecycle.Status `json:"status" bson:"status"`
	DisplayStatus   string           `json:"displayStatus" bson:"-"`
	AssignedStaffID *string          `json:"assignedStaffId" bson:"assignedStaffId"`
	MechanicNotes   string           `json:"mechanicNotes,omitempty" bson:"mechanicNotes,omitempty"`
	ResourcesUsed   string           `json:"resourcesUsed,omitempty" bson:"resourcesUsed,omitempty"`

	CancellationRequested   bool       `json:"cancellationRequested" bson:"cancellationRequested"`
	CancellationReason      string     `json:"cancellationReason,omitempty" bson:"cancellationReason,omitempty"`
	CancellationRequestedAt *time.Time `json:"cancellationRequestedAt,omitempty" bson:"cancellationRequestedAt,omitempty"`
	CancellationResponse    string     `json:"cancellationResponse,omitempty" bson:"cancellationResponse,omitempty"`
	CancellationResolvedAt  *time.Time `json:"cancellationResolvedAt,omitempty" bson:"cancellationResolvedAt,omitempty"`
}

// Present fills the derived DisplayStatus.
func (r *ServiceRequest) Present() *ServiceRequest {
	if r.CancellationRequested {
		r.DisplayStatus = DisplayCancellationPending
	} else {
		r.DisplayStatus = string(r.Status)
	}
	return r
}

// AssignedTo returns the assigned staff id or "".
func (r *ServiceRequest) AssignedTo() string {
	if r.AssignedStaffID == nil {
		return ""
	}
	return *r.AssignedStaffID
}

// Staff roles.
const (
	StaffRoleMechanic          = "mechanic"
	StaffRoleCustomerRelations = "customer_relations"
)

// StaffMember is a garage employee account, matched to logins by email.
type StaffMember struct {
	ID        string    `json:"id" bson:"_id"`
	Name      string    `json:"name" bson:"name"`
	Email     string    `json:"email" bson:"email"`
	Role      string    `json:"role" bson:"role"`
	CreatedAt time.Time `json:"createdAt" bson:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt" bson:"updatedAt"`
}

// UserProfile is keyed by the identity provider's user id.
type UserProfile struct {
	UserID                string    `json:"userId" bson:"_id"`
	DisplayName           string    `json:"displayName" bson:"displayName"`
	PhoneNumber           string    `json:"phoneNumber" bson:"phoneNumber"`
	ContactPhone          string    `json:"contactPhone" bson:"contactPhone"`
	ContactPhoneConfirmed bool      `json:"contactPhoneConfirmed" bson:"contactPhoneConfirmed"`
	Role                  string    `json:"role" bson:"role"`
	DefaultVehicle        *Vehicle  `json:"defaultVehicle,omitempty" bson:"defaultVehicle,omitempty"`
	CreatedAt             time.Time `json:"createdAt" bson:"createdAt"`
	UpdatedAt             time.Time `json:"updatedAt" bson:"updatedAt"`
}

// Draft is a user's in-progress request, one per user.
type Draft struct {
	UserID           string    `json:"userId" bson:"_id"`
	Location         *Location `json:"location,omitempty" bson:"location,omitempty"`
	IssueDescription string    `json:"issueDescription" bson:"issueDescription"`
	IssueSummary     string    `json:"issueSummary" bson:"issueSummary"`
	Vehicle          *Vehicle  `json:"vehicle,omitempty" bson:"vehicle,omitempty"`
	ProviderID       string    `json:"providerId,omitempty" bson:"providerId,omitempty"`
	UpdatedAt        time.Time `json:"updatedAt" bson:"updatedAt"`
}

// OutboxEvent represents an event in the outbox collection
type OutboxEvent struct {
	ID          string              `bson:"_id" json:"id"`
	EventType   string              `bson:"event_type" json:"event_type"`
	Event       events.RequestEvent `bson:"event" json:"event"`
	CreatedAt   time.Time           `bson:"created_at" json:"created_at"`
	Processed   bool                `bson:"processed" json:"processed"`
	ProcessedAt *time.Time          `bson:"processed_at" json:"processed_at,omitempty"`
}

// TimelineEntry is one lifecycle event as projected by timeline-service.
type TimelineEntry struct {
	EventID         string    `json:"eventId" bson:"_id"`
	RequestDocID    string    `json:"requestDocId" bson:"requestDocId"`
	RequestID       string    `json:"requestId" bson:"requestId"`
	EventType       string    `json:"eventType" bson:"eventType"`
	Status          string    `json:"status" bson:"status"`
	PreviousStatus  string    `json:"previousStatus,omitempty" bson:"previousStatus,omitempty"`
	AssignedStaffID *string   `json:"assignedStaffId,omitempty" bson:"assignedStaffId,omitempty"`
	Note            string    `json:"note,omitempty" bson:"note,omitempty"`
	ActorID         string    `json:"actorId" bson:"actorId"`
	ActorRole       string    `json:"actorRole" bson:"actorRole"`
	OccurredAt      time.Time `json:"occurredAt" bson:"occurredAt"`
}
