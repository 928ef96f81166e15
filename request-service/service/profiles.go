package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"fadedreams/roadassist/internal/auth"
	"fadedreams/roadassist/request-service/domain"
)

// ResolveSession builds the Session for an authenticated identity. A first
// time caller gets a profile with the user role. The staff id is matched by
// lower-cased email.
func (s *Service) ResolveSession(ctx context.Context, id auth.Identity) (auth.Session, error) {
	ctx, span := s.tracer.Start(ctx, "ServiceResolveSession")
	defer span.End()
	span.SetAttributes(attribute.String("userID", id.UserID))

	profile, err := s.repo.GetProfile(ctx, id.UserID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		now := s.now()
		profile = &domain.UserProfile{
			UserID:      id.UserID,
			DisplayName: id.DisplayName,
			PhoneNumber: id.PhoneNumber,
			Role:        auth.RoleUser.String(),
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := s.repo.SaveProfile(ctx, profile); err != nil {
			return auth.Session{}, s.fail(ctx, span, "Failed to create profile", fmt.Errorf("failed to create profile: %w", err), "userID", id.UserID)
		}
		s.logger.Info("Created profile", "userID", id.UserID)
	case err != nil:
		return auth.Session{}, s.fail(ctx, span, "Failed to load profile", fmt.Errorf("failed to load profile: %w", err), "userID", id.UserID)
	case id.PhoneNumber != "" && profile.PhoneNumber != id.PhoneNumber:
		profile.PhoneNumber = id.PhoneNumber
		profile.UpdatedAt = s.now()
		if err := s.repo.SaveProfile(ctx, profile); err != nil {
			s.logger.Warn("Failed to refresh profile phone number", "userID", id.UserID, "error", err)
		}
	}

	role, err := auth.ParseRole(profile.Role)
	if err != nil {
		// Session stays usable but Authorize denies everything.
		s.logger.Warn("Profile carries unknown role", "userID", id.UserID, "role", profile.Role)
	}

	sess := auth.Session{
		UserID:      id.UserID,
		Email:       strings.ToLower(id.Email),
		DisplayName: id.DisplayName,
		PhoneNumber: id.PhoneNumber,
		Role:        role,
	}
	if sess.DisplayName == "" {
		sess.DisplayName = profile.DisplayName
	}

	if sess.Email != "" {
		staff, err := s.repo.GetStaffByEmail(ctx, sess.Email)
		switch {
		case err == nil:
			sess.StaffID = staff.ID
		case !errors.Is(err, domain.ErrNotFound):
			return auth.Session{}, s.fail(ctx, span, "Failed to match staff record", fmt.Errorf("failed to match staff record: %w", err), "userID", id.UserID)
		}
	}

	span.SetAttributes(attribute.String("role", sess.Role.String()), attribute.String("staffID", sess.StaffID))
	return sess, nil
}

// GetProfile returns the caller's own profile.
func (s *Service) GetProfile(ctx context.Context, sess auth.Session) (*domain.UserProfile, error) {
	ctx, span := s.tracer.Start(ctx, "ServiceGetProfile")
	defer span.End()

	profile, err := s.repo.GetProfile(ctx, sess.UserID)
	if err != nil {
		return nil, s.fail(ctx, span, "Failed to get profile", err, "userID", sess.UserID)
	}
	return profile, nil
}

// ProfileUpdate carries the fields a user may change on their profile. Nil
// fields are left untouched.
type ProfileUpdate struct {
	DisplayName    *string         `json:"displayName"`
	ContactPhone   *string         `json:"contactPhone"`
	DefaultVehicle *domain.Vehicle `json:"defaultVehicle"`
}

// UpdateProfile changes the caller's profile. A new contact phone must be
// confirmed again.
func (s *Service) UpdateProfile(ctx context.Context, sess auth.Session, u ProfileUpdate) (*domain.UserProfile, error) {
	ctx, span := s.tracer.Start(ctx, "ServiceUpdateProfile")
	defer span.End()

	if u.DisplayName != nil && strings.TrimSpace(*u.DisplayName) == "" {
		return nil, s.fail(ctx, span, "Invalid profile", validationError("display name must not be empty"))
	}
	if u.DefaultVehicle != nil {
		if err := validateVehicle(*u.DefaultVehicle); err != nil {
			return nil, s.fail(ctx, span, "Invalid profile", err)
		}
	}

	profile, err := s.repo.GetProfile(ctx, sess.UserID)
	if err != nil {
		return nil, s.fail(ctx, span, "Failed to get profile", err, "userID", sess.UserID)
	}

	if u.DisplayName != nil {
		profile.DisplayName = strings.TrimSpace(*u.DisplayName)
	}
	if u.ContactPhone != nil {
		phone := strings.TrimSpace(*u.ContactPhone)
		if phone != profile.ContactPhone {
			profile.ContactPhone = phone
			profile.ContactPhoneConfirmed = false
		}
	}
	if u.DefaultVehicle != nil {
		v := *u.DefaultVehicle
		profile.DefaultVehicle = &v
	}
	profile.UpdatedAt = s.now()

	if err := s.repo.SaveProfile(ctx, profile); err != nil {
		return nil, s.fail(ctx, span, "Failed to save profile", err, "userID", sess.UserID)
	}
	s.logger.Info("Updated profile", "userID", sess.UserID)
	return profile, nil
}

// ConfirmContactPhone marks the contact phone confirmed. It must equal the
// phone number the identity provider authenticated.
func (s *Service) ConfirmContactPhone(ctx context.Context, sess auth.Session) (*domain.UserProfile, error) {
	ctx, span := s.tracer.Start(ctx, "ServiceConfirmContactPhone")
	defer span.End()

	profile, err := s.repo.GetProfile(ctx, sess.UserID)
	if err != nil {
		return nil, s.fail(ctx, span, "Failed to get profile", err, "userID", sess.UserID)
	}
	if profile.ContactPhone == "" {
		return nil, s.fail(ctx, span, "Invalid confirmation", validationError("no contact phone to confirm"))
	}
	if sess.PhoneNumber == "" || profile.ContactPhone != sess.PhoneNumber {
		return nil, s.fail(ctx, span, "Invalid confirmation", validationError("contact phone does not match the verified phone number"))
	}

	profile.ContactPhoneConfirmed = true
	profile.UpdatedAt = s.now()
	if err := s.repo.SaveProfile(ctx, profile); err != nil {
		return nil, s.fail(ctx, span, "Failed to save profile", err, "userID", sess.UserID)
	}
	return profile, nil
}

// SetRole assigns a role to a user's profile.
func (s *Service) SetRole(ctx context.Context, sess auth.Session, userID, roleName string) (*domain.UserProfile, error) {
	ctx, span := s.tracer.Start(ctx, "ServiceSetRole")
	defer span.End()
	span.SetAttributes(attribute.String("targetUserID", userID), attribute.String("role", roleName))

	if err := auth.Authorize(sess, auth.ActionManageRoles, auth.Target{}); err != nil {
		return nil, s.fail(ctx, span, "Permission denied", err, "userID", sess.UserID)
	}
	if strings.TrimSpace(userID) == "" {
		return nil, s.fail(ctx, span, "Invalid role change", validationError("user id required"))
	}
	role, err := auth.ParseRole(roleName)
	if err != nil {
		return nil, s.fail(ctx, span, "Invalid role change", validationError("%v", err))
	}

	profile, err := s.repo.GetProfile(ctx, userID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		profile = &domain.UserProfile{UserID: userID, CreatedAt: s.now()}
	case err != nil:
		return nil, s.fail(ctx, span, "Failed to get profile", err, "userID", userID)
	}

	profile.Role = role.String()
	profile.UpdatedAt = s.now()
	if err := s.repo.SaveProfile(ctx, profile); err != nil {
		return nil, s.fail(ctx, span, "Failed to save profile", err, "userID", userID)
	}
	s.logger.Info("Changed role", "userID", userID, "role", profile.Role, "by", sess.UserID)
	return profile, nil
}
