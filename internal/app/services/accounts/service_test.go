package accounts

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperr "github.com/flowforge/platform/infrastructure/errors"
	"github.com/flowforge/platform/internal/app/domain/account"
	"github.com/flowforge/platform/internal/app/storage"
)

func newService() (*Service, *storage.Memory) {
	mem := storage.NewMemory()
	return New(mem, mem, nil, nil), mem
}

func signupAndVerify(t *testing.T, svc *Service, mem *storage.Memory, email string) account.User {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, svc.Signup(ctx, email, "hunter2hunter2"))
	pending, err := mem.GetPendingUser(ctx, email)
	require.NoError(t, err)
	usr, err := svc.Verify(ctx, email, pending.VerificationCode)
	require.NoError(t, err)
	return usr
}

func TestSignupVerifyCreatesUserAndOrg(t *testing.T) {
	svc, mem := newService()
	ctx := context.Background()

	usr := signupAndVerify(t, svc, mem, "ada@example.com")
	assert.Equal(t, "ada@example.com", usr.Email)
	assert.NotEmpty(t, usr.OrgID)

	// Pending row is cleared on successful verification.
	_, err := mem.GetPendingUser(ctx, "ada@example.com")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	org, err := mem.GetOrganization(ctx, usr.OrgID)
	require.NoError(t, err)
	assert.Contains(t, org.Name, "ada")
}

func TestVerifyRejectsWrongAndExpiredCodes(t *testing.T) {
	svc, mem := newService()
	ctx := context.Background()

	require.NoError(t, svc.Signup(ctx, "bob@example.com", "hunter2hunter2"))
	_, err := svc.Verify(ctx, "bob@example.com", "000000")
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))

	// Age the pending row past the TTL.
	pending, err := mem.GetPendingUser(ctx, "bob@example.com")
	require.NoError(t, err)
	pending.LastSentAt = time.Now().UTC().Add(-account.CodeTTL - time.Hour)
	require.NoError(t, mem.UpsertPendingUser(ctx, pending))

	_, err = svc.Verify(ctx, "bob@example.com", pending.VerificationCode)
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))
}

func TestLoginFailuresAreIndistinguishable(t *testing.T) {
	svc, mem := newService()
	ctx := context.Background()
	signupAndVerify(t, svc, mem, "carol@example.com")

	_, unknownErr := svc.Login(ctx, "nobody@example.com", "whatever1")
	_, wrongErr := svc.Login(ctx, "carol@example.com", "not-the-password")

	require.Error(t, unknownErr)
	require.Error(t, wrongErr)
	assert.Equal(t, unknownErr.Error(), wrongErr.Error())
}

func TestLoginSucceedsWithCorrectPassword(t *testing.T) {
	svc, mem := newService()
	usr := signupAndVerify(t, svc, mem, "dave@example.com")

	got, err := svc.Login(context.Background(), "Dave@Example.com", "hunter2hunter2")
	require.NoError(t, err)
	assert.Equal(t, usr.ID, got.ID)
}

func TestReactivationWindow(t *testing.T) {
	svc, mem := newService()
	ctx := context.Background()
	usr := signupAndVerify(t, svc, mem, "erin@example.com")

	deactivated, err := svc.Deactivate(ctx, usr.ID)
	require.NoError(t, err)
	require.NotNil(t, deactivated.DeactivatedAt)

	// Within the window reactivation succeeds.
	restored, err := svc.Reactivate(ctx, usr.ID)
	require.NoError(t, err)
	assert.Nil(t, restored.DeactivatedAt)

	// Past 30 days it is refused.
	_, err = svc.Deactivate(ctx, usr.ID)
	require.NoError(t, err)
	stale := time.Now().UTC().Add(-account.ReactivationWindow - 24*time.Hour)
	current, err := mem.GetUser(ctx, usr.ID)
	require.NoError(t, err)
	current.DeactivatedAt = &stale
	_, err = mem.UpdateUser(ctx, current)
	require.NoError(t, err)

	_, err = svc.Reactivate(ctx, usr.ID)
	assert.True(t, apperr.IsKind(err, apperr.KindForbidden))
}

func TestUpsertOAuthUserIsIdempotent(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()

	first, err := svc.UpsertOAuthUser(ctx, "frank@example.com", "Frank", "Ocean", "pic1")
	require.NoError(t, err)
	second, err := svc.UpsertOAuthUser(ctx, "frank@example.com", "Frank", "Ocean", "pic2")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "pic2", second.ProfilePicture)
}

func TestSweepPendingUsers(t *testing.T) {
	svc, mem := newService()
	ctx := context.Background()

	require.NoError(t, svc.Signup(ctx, "old@example.com", "hunter2hunter2"))
	pending, err := mem.GetPendingUser(ctx, "old@example.com")
	require.NoError(t, err)
	pending.LastSentAt = time.Now().UTC().Add(-account.CodeTTL - time.Hour)
	require.NoError(t, mem.UpsertPendingUser(ctx, pending))
	require.NoError(t, svc.Signup(ctx, "fresh@example.com", "hunter2hunter2"))

	removed, err := svc.SweepPendingUsers(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = mem.GetPendingUser(ctx, "fresh@example.com")
	assert.NoError(t, err)
}
