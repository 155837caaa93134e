// Package accounts owns organizations, users, pending signups, and the
// credential checks behind the session surface.
package accounts

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	apperr "github.com/flowforge/platform/infrastructure/errors"
	"github.com/flowforge/platform/internal/app/domain/account"
	"github.com/flowforge/platform/internal/app/mailer"
	"github.com/flowforge/platform/internal/app/storage"
	"github.com/flowforge/platform/pkg/logger"
)

// Service manages the account lifecycle.
type Service struct {
	orgs  storage.OrgStore
	users storage.UserStore
	mail  mailer.Sender
	log   *logger.Logger
}

// New creates an accounts service. mail may be nil; signup then logs the code
// instead of delivering it, which only makes sense in development.
func New(orgs storage.OrgStore, users storage.UserStore, mail mailer.Sender, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("accounts")
	}
	return &Service{orgs: orgs, users: users, mail: mail, log: log}
}

// Signup records a pending user and mails a 6-digit verification code.
// Calling it again for the same email refreshes the code.
func (s *Service) Signup(ctx context.Context, email, password string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return apperr.Validation("a valid email is required")
	}
	if len(password) < 8 {
		return apperr.Validation("password must be at least 8 characters")
	}
	if _, err := s.users.GetUserByEmail(ctx, email); err == nil {
		// Existing account; reveal nothing to the caller.
		return nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return apperr.Internal(err)
	}
	code, err := verificationCode()
	if err != nil {
		return apperr.Internal(err)
	}

	pending := account.PendingUser{
		Email:            email,
		PasswordHash:     string(hash),
		VerificationCode: code,
		LastSentAt:       time.Now().UTC(),
	}
	if err := s.users.UpsertPendingUser(ctx, pending); err != nil {
		return apperr.Internal(err)
	}

	if s.mail != nil {
		subject := "Verify your email"
		body := fmt.Sprintf("Your verification code is %s. It expires in 24 hours.", code)
		if err := s.mail.Send(ctx, email, subject, body); err != nil {
			s.log.WithError(err).WithField("email", email).Warn("send verification mail failed")
		}
	} else {
		s.log.WithField("email", email).Infof("verification code (mailer disabled): %s", code)
	}
	return nil
}

// Verify validates the code and promotes the pending signup into a user with
// a fresh single-member organization. The organization insert, the user
// insert and the pending-row delete are separate store calls, not one
// transaction: a failed user insert leaves the new organization in place.
func (s *Service) Verify(ctx context.Context, email, code string) (account.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	pending, err := s.users.GetPendingUser(ctx, email)
	if err != nil {
		return account.User{}, apperr.Validation("invalid verification code")
	}
	now := time.Now().UTC()
	if pending.Expired(now) {
		_ = s.users.DeletePendingUser(ctx, email)
		return account.User{}, apperr.Validation("verification code expired")
	}
	if pending.VerificationCode != strings.TrimSpace(code) {
		return account.User{}, apperr.Validation("invalid verification code")
	}

	org, err := s.createOrg(ctx, email)
	if err != nil {
		return account.User{}, err
	}
	usr, err := s.users.CreateUser(ctx, account.User{
		OrgID:           org.ID,
		Email:           email,
		PasswordHash:    pending.PasswordHash,
		SendErrorAlerts: true,
	})
	if err != nil {
		return account.User{}, apperr.Internal(err)
	}
	if err := s.users.DeletePendingUser(ctx, email); err != nil {
		s.log.WithError(err).WithField("email", email).Warn("clear pending user failed")
	}
	return usr, nil
}

// Login checks credentials. Responses are indistinguishable between unknown
// email and wrong password.
func (s *Service) Login(ctx context.Context, email, password string) (account.User, error) {
	invalid := apperr.Unauthenticated("invalid email or password")

	usr, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		// Burn a comparison so timing does not differ from the wrong-password path.
		_ = bcrypt.CompareHashAndPassword([]byte("$2a$10$0000000000000000000000000000000000000000000000000000"), []byte(password))
		return account.User{}, invalid
	}
	if usr.PasswordHash == "" {
		return account.User{}, invalid
	}
	if err := bcrypt.CompareHashAndPassword([]byte(usr.PasswordHash), []byte(password)); err != nil {
		return account.User{}, invalid
	}
	if !usr.Active() {
		return account.User{}, apperr.Forbidden("account is deactivated")
	}
	return usr, nil
}

// UpsertOAuthUser finds or creates a user for a verified external identity.
func (s *Service) UpsertOAuthUser(ctx context.Context, email, firstName, lastName, picture string) (account.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return account.User{}, apperr.Validation("identity has no email")
	}
	if usr, err := s.users.GetUserByEmail(ctx, email); err == nil {
		if !usr.Active() {
			return account.User{}, apperr.Forbidden("account is deactivated")
		}
		changed := false
		if picture != "" && usr.ProfilePicture != picture {
			usr.ProfilePicture = picture
			changed = true
		}
		if changed {
			if updated, err := s.users.UpdateUser(ctx, usr); err == nil {
				usr = updated
			}
		}
		return usr, nil
	}

	org, err := s.createOrg(ctx, email)
	if err != nil {
		return account.User{}, err
	}
	usr, err := s.users.CreateUser(ctx, account.User{
		OrgID:           org.ID,
		Email:           email,
		FirstName:       firstName,
		LastName:        lastName,
		ProfilePicture:  picture,
		SendErrorAlerts: true,
	})
	if err != nil {
		return account.User{}, apperr.Internal(err)
	}
	return usr, nil
}

// Get returns a user by id.
func (s *Service) Get(ctx context.Context, id string) (account.User, error) {
	usr, err := s.users.GetUser(ctx, id)
	if err != nil {
		return account.User{}, apperr.NotFound("user")
	}
	return usr, nil
}

// Deactivate marks a user read-only.
func (s *Service) Deactivate(ctx context.Context, id string) (account.User, error) {
	usr, err := s.users.GetUser(ctx, id)
	if err != nil {
		return account.User{}, apperr.NotFound("user")
	}
	if usr.DeactivatedAt != nil {
		return usr, nil
	}
	now := time.Now().UTC()
	usr.DeactivatedAt = &now
	updated, err := s.users.UpdateUser(ctx, usr)
	if err != nil {
		return account.User{}, apperr.Internal(err)
	}
	return updated, nil
}

// Reactivate restores a deactivated user. Refused past the 30-day window.
func (s *Service) Reactivate(ctx context.Context, id string) (account.User, error) {
	usr, err := s.users.GetUser(ctx, id)
	if err != nil {
		return account.User{}, apperr.NotFound("user")
	}
	if usr.DeactivatedAt == nil {
		return usr, nil
	}
	if !usr.ReactivationEligible(time.Now().UTC()) {
		return account.User{}, apperr.Forbidden("account was deactivated more than 30 days ago")
	}
	usr.DeactivatedAt = nil
	updated, err := s.users.UpdateUser(ctx, usr)
	if err != nil {
		return account.User{}, apperr.Internal(err)
	}
	return updated, nil
}

// ForgotPassword always succeeds from the caller's perspective.
func (s *Service) ForgotPassword(ctx context.Context, email string) {
	usr, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		return
	}
	if s.mail == nil {
		return
	}
	code, err := verificationCode()
	if err != nil {
		return
	}
	pending := account.PendingUser{
		Email:            usr.Email,
		PasswordHash:     usr.PasswordHash,
		VerificationCode: code,
		LastSentAt:       time.Now().UTC(),
	}
	if err := s.users.UpsertPendingUser(ctx, pending); err != nil {
		s.log.WithError(err).Warn("record reset code failed")
		return
	}
	body := fmt.Sprintf("Your password reset code is %s. It expires in 24 hours.", code)
	if err := s.mail.Send(ctx, usr.Email, "Password reset", body); err != nil {
		s.log.WithError(err).Warn("send reset mail failed")
	}
}

// SweepPendingUsers removes signups older than the code TTL.
func (s *Service) SweepPendingUsers(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().Add(-account.CodeTTL)
	return s.users.DeleteExpiredPendingUsers(ctx, cutoff)
}

// createOrg provisions a workspace org for a first-time signup, suffixing the
// name on collision.
func (s *Service) createOrg(ctx context.Context, email string) (account.Organization, error) {
	base := orgNameFor(email)
	name := base
	for attempt := 2; attempt <= 6; attempt++ {
		org, err := s.orgs.CreateOrganization(ctx, account.Organization{Name: name})
		if err == nil {
			return org, nil
		}
		if !errors.Is(err, storage.ErrConflict) {
			return account.Organization{}, apperr.Internal(err)
		}
		name = fmt.Sprintf("%s-%d", base, attempt)
	}
	return account.Organization{}, apperr.Conflict("could not allocate a workspace name")
}

func verificationCode() (string, error) {
	max := big.NewInt(1000000)
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

func orgNameFor(email string) string {
	local := email
	if at := strings.Index(email, "@"); at > 0 {
		local = email[:at]
	}
	return fmt.Sprintf("%s-workspace", local)
}
