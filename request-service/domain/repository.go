package domain

import (
	"context"
	"errors"

	"fadedreams/roadassist/internal/lifecycle"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("already exists")
	// ErrConflict marks a write whose expected state no longer matches.
	ErrConflict = errors.New("conflict")
)

// RequestFilter narrows ListRequests. Zero fields do not filter.
type RequestFilter struct {
	RequesterID     string
	AssignedStaffID string
	Statuses        []lifecycle.Status
}

// ChangeStream is satisfied by *mongo.ChangeStream.
type ChangeStream interface {
	Next(ctx context.Context) bool
	Decode(val any) error
	Err() error
	Close(ctx context.Context) error
}

// RequestChange is one delivered change to a service request.
type RequestChange struct {
	OperationType string          `bson:"operationType"`
	FullDocument  *ServiceRequest `bson:"fullDocument"`
}

type RequestRepository interface {
	CreateRequest(ctx context.Context, req *ServiceRequest) error
	// GetRequest accepts either the document id or the RR- request code.
	GetRequest(ctx context.Context, id string) (*ServiceRequest, error)
	// ListRequests returns matches newest first.
	ListRequests(ctx context.Context, filter RequestFilter) ([]*ServiceRequest, error)
	// UpdateRequest replaces the stored document with req if the stored
	// Version still equals req.Version, and increments req.Version. A stale
	// req yields ErrConflict.
	UpdateRequest(ctx context.Context, req *ServiceRequest) error
	// WatchRequests streams changes to one request, or to all requests when
	// docID is empty. Each event decodes into a RequestChange.
	WatchRequests(ctx context.Context, docID string) (ChangeStream, error)
}

type ProviderRepository interface {
	CreateProvider(ctx context.Context, p *ServiceProvider) error
	GetProvider(ctx context.Context, id string) (*ServiceProvider, error)
	ListProviders(ctx context.Context) ([]*ServiceProvider, error)
	UpdateProvider(ctx context.Context, p *ServiceProvider) error
	DeleteProvider(ctx context.Context, id string) error
}

type StaffRepository interface {
	CreateStaff(ctx context.Context, m *StaffMember) error
	GetStaff(ctx context.Context, id string) (*StaffMember, error)
	GetStaffByEmail(ctx context.Context, email string) (*StaffMember, error)
	ListStaff(ctx context.Context) ([]*StaffMember, error)
	UpdateStaff(ctx context.Context, m *StaffMember) error
	DeleteStaff(ctx context.Context, id string) error
}

type ProfileRepository interface {
	GetProfile(ctx context.Context, userID string) (*UserProfile, error)
	// SaveProfile inserts or replaces the profile.
	SaveProfile(ctx context.Context, p *UserProfile) error
}

type DraftRepository interface {
	GetDraft(ctx context.Context, userID string) (*Draft, error)
	// SaveDraft inserts or replaces the user's draft.
	SaveDraft(ctx context.Context, d *Draft) error
	// DeleteDraft is a no-op when no draft exists.
	DeleteDraft(ctx context.Context, userID string) error
}

type OutboxRepository interface {
	SaveOutboxEvent(ctx context.Context, event *OutboxEvent) error
	GetUnprocessedOutboxEvents(ctx context.Context, limit int) ([]*OutboxEvent, error)
	MarkOutboxEventProcessed(ctx context.Context, eventID string) error
}

type TimelineRepository interface {
	// ListTimeline returns the entries of one request, oldest first.
	ListTimeline(ctx context.Context, requestDocID string) ([]*TimelineEntry, error)
}

// Repository is everything request-service persists.
type Repository interface {
	RequestRepository
	ProviderRepository
	StaffRepository
	ProfileRepository
	DraftRepository
	OutboxRepository
	TimelineRepository
}
