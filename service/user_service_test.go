package service

import (
	"context"
	"errors"
	"secure-ledger/audit"
	"secure-ledger/common"
	"secure-ledger/model"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type userFixture struct {
	*gateFixture
	repo  *mockUserRepo
	users *UserService
}

func newUserFixture(t *testing.T, existing int) *userFixture {
	t.Helper()
	f := &userFixture{gateFixture: newGateFixture(t, defaultPolicy()), repo: new(mockUserRepo)}
	f.users = NewUserService(NewDirectoryProvider(f.repo), f.gate.trail, f.gate)
	f.repo.On("CountUsers", mock.Anything).Return(existing, nil).Maybe()
	return f
}

func adminRequest(username string) NewUserRequest {
	return NewUserRequest{
		Username: username,
		Password: "longenough",
		Groups:   []string{"Bank Teller", "Bank Teller Administrator"},
	}
}

func TestUserService_Provision(t *testing.T) {
	ctx := context.Background()

	t.Run("first user is created without a session", func(t *testing.T) {
		f := newUserFixture(t, 0)
		f.repo.On("CreateUser", ctx, mock.AnythingOfType("*model.User")).Return(nil).Once()

		user, err := f.users.Provision(ctx, nil, adminRequest("root"), nil)

		require.NoError(t, err)
		assert.Equal(t, "root", user.Username)
		records := f.sink.OfKind(audit.KindUserProvisioning)
		require.Len(t, records, 1)
		assert.Equal(t, "system", records[0].Actor)
		assert.Contains(t, records[0].Detail, "created root in Bank Teller, Bank Teller Administrator")
		assert.Contains(t, records[0].Detail, "initial directory user")
	})

	t.Run("no session once the directory has users", func(t *testing.T) {
		f := newUserFixture(t, 1)

		_, err := f.users.Provision(ctx, nil, adminRequest("eve"), nil)

		assert.ErrorIs(t, err, ErrAuthenticationFailed)
		f.repo.AssertNotCalled(t, "CreateUser", mock.Anything, mock.Anything)
		assert.Empty(t, f.sink.OfKind(audit.KindUserProvisioning))
	})

	t.Run("teller cannot create an administrator alone", func(t *testing.T) {
		f := newUserFixture(t, 1)
		f.provider.On("Verify", ctx, "eve", "longenough").Return(nil, ErrInvalidCredentials).Once()
		prompt := func(context.Context, *PendingApproval) (string, string, error) {
			return "eve", "longenough", nil
		}

		_, err := f.users.Provision(ctx, tellerSession, adminRequest("eve"), prompt)
		assert.ErrorIs(t, err, ErrApprovalDenied)

		_, err = f.users.Provision(ctx, tellerSession, adminRequest("eve"), nil)
		assert.ErrorIs(t, err, ErrApprovalDenied)

		f.repo.AssertNotCalled(t, "CreateUser", mock.Anything, mock.Anything)
		assert.Empty(t, f.sink.OfKind(audit.KindUserProvisioning))
		denied := f.sink.OfKind(audit.KindApprovalDecision)
		require.Len(t, denied, 2)
		assert.Equal(t, string(OpAddUser), denied[0].Operation)
		assert.False(t, *denied[0].Approved)
	})

	t.Run("teller cannot approve their own addition", func(t *testing.T) {
		f := newUserFixture(t, 1)
		f.provider.On("Verify", ctx, "alice", "pw").Return(teller, nil).Once()
		prompt := func(context.Context, *PendingApproval) (string, string, error) {
			return "alice", "pw", nil
		}

		_, err := f.users.Provision(ctx, tellerSession, adminRequest("eve"), prompt)

		assert.ErrorIs(t, err, ErrApprovalDenied)
		f.repo.AssertNotCalled(t, "CreateUser", mock.Anything, mock.Anything)
	})

	t.Run("teller with administrator approval", func(t *testing.T) {
		f := newUserFixture(t, 1)
		f.provider.On("Verify", ctx, "bob", "pw").Return(admin, nil).Once()
		f.repo.On("CreateUser", ctx, mock.MatchedBy(func(u *model.User) bool { return u.Username == "carol" })).Return(nil).Once()
		prompt := func(_ context.Context, p *PendingApproval) (string, string, error) {
			assert.Equal(t, OpAddUser, p.Operation)
			return "bob", "pw", nil
		}

		_, err := f.users.Provision(ctx, tellerSession, NewUserRequest{
			Username: "carol", Password: "longenough", Groups: []string{"Bank Teller"},
		}, prompt)

		require.NoError(t, err)
		records := f.sink.OfKind(audit.KindUserProvisioning)
		require.Len(t, records, 1)
		assert.Equal(t, "alice", records[0].Actor)
		assert.Contains(t, records[0].Detail, "approved by bob")
	})

	t.Run("administrator needs no second identity", func(t *testing.T) {
		f := newUserFixture(t, 1)
		f.repo.On("CreateUser", ctx, mock.Anything).Return(nil).Once()

		_, err := f.users.Provision(ctx, adminSession, adminRequest("dave"), nil)

		require.NoError(t, err)
		records := f.sink.OfKind(audit.KindUserProvisioning)
		require.Len(t, records, 1)
		assert.Equal(t, "bob", records[0].Actor)
	})

	t.Run("invalid input is rejected before approval", func(t *testing.T) {
		f := newUserFixture(t, 1)

		_, err := f.users.Provision(ctx, adminSession, NewUserRequest{Username: "x", Password: "short"}, nil)

		assert.ErrorIs(t, err, common.ErrValidation)
		assert.Empty(t, f.sink.Records())
	})

	t.Run("directory unreadable", func(t *testing.T) {
		f := &userFixture{gateFixture: newGateFixture(t, defaultPolicy()), repo: new(mockUserRepo)}
		f.users = NewUserService(NewDirectoryProvider(f.repo), f.gate.trail, f.gate)
		f.repo.On("CountUsers", ctx).Return(0, errors.New("disk I/O error")).Once()

		_, err := f.users.Provision(ctx, nil, adminRequest("root"), nil)

		assert.ErrorIs(t, err, common.ErrPersistence)
		f.repo.AssertNotCalled(t, "CreateUser", mock.Anything, mock.Anything)
	})
}

func TestNewUserRequest_CleanKeepsCallerSlice(t *testing.T) {
	groups := []string{" Bank Teller "}
	req := NewUserRequest{Username: " carol ", Groups: groups}.clean()

	assert.Equal(t, "carol", req.Username)
	assert.Equal(t, []string{"Bank Teller"}, req.Groups)
	assert.Equal(t, " Bank Teller ", groups[0])
}
