package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.opentelemetry.io/otel/attribute"

	"fadedreams/roadassist/internal/auth"
	"fadedreams/roadassist/request-service/domain"
)

// StaffInput is the editable part of a staff member.
type StaffInput struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

func (in StaffInput) normalize() (StaffInput, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.Role = strings.TrimSpace(in.Role)

	if in.Name == "" {
		return in, validationError("staff name required")
	}
	if in.Email == "" || !strings.Contains(in.Email, "@") {
		return in, validationError("valid staff email required")
	}
	if in.Role != domain.StaffRoleMechanic && in.Role != domain.StaffRoleCustomerRelations {
		return in, validationError("staff role must be %s or %s", domain.StaffRoleMechanic, domain.StaffRoleCustomerRelations)
	}
	return in, nil
}

func duplicateEmail(err error, email string) error {
	if errors.Is(err, domain.ErrDuplicate) {
		return fmt.Errorf("%w: email %s is already used by another staff member", ErrConflict, email)
	}
	return err
}

// requireUnassigned fails with ErrConflict while any request, open or closed,
// still names staffID as its mechanic.
func (s *Service) requireUnassigned(ctx context.Context, staffID string) error {
	assigned, err := s.repo.ListRequests(ctx, domain.RequestFilter{AssignedStaffID: staffID})
	if err != nil {
		return err
	}
	if len(assigned) > 0 {
		return fmt.Errorf("%w: staff member %s is assigned to %d request(s), starting with %s", ErrConflict, staffID, len(assigned), assigned[0].RequestID)
	}
	return nil
}

func (s *Service) CreateStaff(ctx context.Context, sess auth.Session, in StaffInput) (*domain.StaffMember, error) {
	ctx, span := s.tracer.Start(ctx, "ServiceCreateStaff")
	defer span.End()

	if err := auth.Authorize(sess, auth.ActionManageStaff, auth.Target{}); err != nil {
		return nil, s.fail(ctx, span, "Permission denied", err, "userID", sess.UserID)
	}
	in, err := in.normalize()
	if err != nil {
		return nil, s.fail(ctx, span, "Invalid staff member", err)
	}

	now := s.now()
	m := &domain.StaffMember{
		ID:        primitive.NewObjectID().Hex(),
		Name:      in.Name,
		Email:     in.Email,
		Role:      in.Role,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.CreateStaff(ctx, m); err != nil {
		return nil, s.fail(ctx, span, "Failed to create staff member", duplicateEmail(err, in.Email))
	}
	span.SetAttributes(attribute.String("staffID", m.ID))
	s.logger.Info("Created staff member", "staffID", m.ID, "role", m.Role)
	return m, nil
}

func (s *Service) UpdateStaff(ctx context.Context, sess auth.Session, id string, in StaffInput) (*domain.StaffMember, error) {
	ctx, span := s.tracer.Start(ctx, "ServiceUpdateStaff")
	defer span.End()
	span.SetAttributes(attribute.String("staffID", id))

	if err := auth.Authorize(sess, auth.ActionManageStaff, auth.Target{}); err != nil {
		return nil, s.fail(ctx, span, "Permission denied", err, "userID", sess.UserID)
	}
	in, err := in.normalize()
	if err != nil {
		return nil, s.fail(ctx, span, "Invalid staff member", err)
	}

	m, err := s.repo.GetStaff(ctx, id)
	if err != nil {
		return nil, s.fail(ctx, span, "Failed to get staff member", err, "staffID", id)
	}
	if m.Role == domain.StaffRoleMechanic && in.Role != domain.StaffRoleMechanic {
		if err := s.requireUnassigned(ctx, id); err != nil {
			return nil, s.fail(ctx, span, "Cannot change role of assigned mechanic", err, "staffID", id)
		}
	}
	m.Name = in.Name
	m.Email = in.Email
	m.Role = in.Role
	m.UpdatedAt = s.now()

	if err := s.repo.UpdateStaff(ctx, m); err != nil {
		return nil, s.fail(ctx, span, "Failed to update staff member", duplicateEmail(err, in.Email), "staffID", id)
	}
	s.logger.Info("Updated staff member", "staffID", id)
	return m, nil
}

func (s *Service) DeleteStaff(ctx context.Context, sess auth.Session, id string) error {
	ctx, span := s.tracer.Start(ctx, "ServiceDeleteStaff")
	defer span.End()

	if err := auth.Authorize(sess, auth.ActionManageStaff, auth.Target{}); err != nil {
		return s.fail(ctx, span, "Permission denied", err, "userID", sess.UserID)
	}
	if err := s.requireUnassigned(ctx, id); err != nil {
		return s.fail(ctx, span, "Cannot delete assigned staff member", err, "staffID", id)
	}
	if err := s.repo.DeleteStaff(ctx, id); err != nil {
		return s.fail(ctx, span, "Failed to delete staff member", err, "staffID", id)
	}
	s.logger.Info("Deleted staff member", "staffID", id)
	return nil
}

func (s *Service) ListStaff(ctx context.Context, sess auth.Session) ([]*domain.StaffMember, error) {
	ctx, span := s.tracer.Start(ctx, "ServiceListStaff")
	defer span.End()

	if err := auth.Authorize(sess, auth.ActionManageStaff, auth.Target{}); err != nil {
		return nil, s.fail(ctx, span, "Permission denied", err, "userID", sess.UserID)
	}
	staff, err := s.repo.ListStaff(ctx)
	if err != nil {
		return nil, s.fail(ctx, span, "Failed to list staff", err)
	}
	return staff, nil
}
