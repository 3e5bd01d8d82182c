package handler

import (
	"context"
	"errors"
	"secure-ledger/audit"
	"secure-ledger/common"
	"secure-ledger/service"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const accountNo = "3f2b8e0a-7c1d-4e59-a6b2-0d9c8f7e6a51"

func TestConsoleHandler_Login(t *testing.T) {
	ctx := context.Background()

	t.Run("succeeds on a later attempt", func(t *testing.T) {
		f := newConsole(t, "alice", "wrong", "alice", "pw")
		f.provider.On("Verify", ctx, "alice", "wrong").Return(nil, service.ErrInvalidCredentials).Once()
		f.provider.On("Verify", ctx, "alice", "pw").Return(teller, nil).Once()

		session, err := f.handler.Login(ctx)

		require.NoError(t, err)
		assert.Equal(t, "alice", session.Username())
		assert.Contains(t, f.out.String(), "Login failed (1 of 3 attempts)")
		assert.Contains(t, f.out.String(), "Welcome, alice.")
	})

	t.Run("locks out after the maximum attempts", func(t *testing.T) {
		f := newConsole(t, "alice", "a", "alice", "b", "alice", "c")
		f.provider.On("Verify", ctx, "alice", mock.Anything).Return(nil, service.ErrInvalidCredentials).Times(3)

		session, err := f.handler.Login(ctx)

		assert.Nil(t, session)
		assert.ErrorIs(t, err, ErrTooManyAttempts)
		failures := f.sink.OfKind(audit.KindAuthFailure)
		require.Len(t, failures, 4)
		assert.Equal(t, service.ReasonMaxAttempts, failures[3].Detail)
	})
}

func TestConsoleHandler_AddUser(t *testing.T) {
	ctx := context.Background()
	adminGroups := []string{"Bank Teller", "Bank Teller Administrator"}

	t.Run("empty directory takes the first user without a login", func(t *testing.T) {
		f := newConsole(t, "longenough", "longenough")
		f.users.On("CountUsers", ctx).Return(0, nil)
		f.users.On("CreateUser", ctx, mock.AnythingOfType("*model.User")).Return(nil).Once()

		require.NoError(t, f.handler.AddUser(ctx, "root", adminGroups))

		assert.Contains(t, f.out.String(), "The directory is empty.")
		assert.Contains(t, f.out.String(), "User root created (Bank Teller, Bank Teller Administrator).")
		f.provider.AssertNotCalled(t, "Verify", mock.Anything, mock.Anything, mock.Anything)
		require.Len(t, f.sink.OfKind(audit.KindUserProvisioning), 1)
	})

	t.Run("teller session cannot add an administrator", func(t *testing.T) {
		f := newConsole(t, "alice", "pw", "longenough", "longenough", "eve", "longenough")
		f.users.On("CountUsers", ctx).Return(1, nil)
		f.provider.On("Verify", ctx, "alice", "pw").Return(teller, nil).Once()
		f.provider.On("Verify", ctx, "eve", "longenough").Return(nil, service.ErrInvalidCredentials).Once()

		err := f.handler.AddUser(ctx, "eve", adminGroups)

		assert.ErrorIs(t, err, service.ErrApprovalDenied)
		assert.Contains(t, f.out.String(), "Administrator approval required for add_user")
		f.users.AssertNotCalled(t, "CreateUser", mock.Anything, mock.Anything)
		assert.Empty(t, f.sink.OfKind(audit.KindUserProvisioning))
	})

	t.Run("administrator adds a teller", func(t *testing.T) {
		f := newConsole(t, "bob", "pw", "longenough", "longenough")
		f.users.On("CountUsers", ctx).Return(1, nil)
		f.provider.On("Verify", ctx, "bob", "pw").Return(admin, nil).Once()
		f.users.On("CreateUser", ctx, mock.AnythingOfType("*model.User")).Return(nil).Once()

		require.NoError(t, f.handler.AddUser(ctx, "carol", []string{"Bank Teller"}))

		records := f.sink.OfKind(audit.KindUserProvisioning)
		require.Len(t, records, 1)
		assert.Equal(t, "bob", records[0].Actor)
	})

	t.Run("passwords must match", func(t *testing.T) {
		f := newConsole(t, "longenough", "different")
		f.users.On("CountUsers", ctx).Return(0, nil)

		err := f.handler.AddUser(ctx, "root", adminGroups)

		assert.ErrorIs(t, err, common.ErrValidation)
		f.users.AssertNotCalled(t, "CreateUser", mock.Anything, mock.Anything)
	})
}

func TestConsoleHandler_OpenAccount(t *testing.T) {
	ctx := context.Background()
	f := newConsole(t, "1", "Jane Doe", "1 Main St", "", "", "Cork", "100", "50")
	session := f.login(t, teller)
	f.repo.On("CreateAccount", ctx, mock.AnythingOfType("*model.AccountRow")).Return(nil).Once()

	require.NoError(t, f.handler.OpenAccount(ctx, session))

	out := f.out.String()
	assert.Contains(t, out, "Account opened.")
	assert.Contains(t, out, "Available Funds: €150.00")
	assert.Len(t, f.sink.OfKind(audit.KindAccountCreation), 1)
}

func TestConsoleHandler_OpenAccountRejectsBadInput(t *testing.T) {
	ctx := context.Background()

	f := newConsole(t, "3")
	session := f.login(t, teller)
	assert.ErrorIs(t, f.handler.OpenAccount(ctx, session), common.ErrValidation)

	f = newConsole(t, "2", "Jane Doe", "", "", "", "Cork", "lots")
	session = f.login(t, teller)
	assert.ErrorIs(t, f.handler.OpenAccount(ctx, session), common.ErrValidation)
	f.repo.AssertNotCalled(t, "CreateAccount", mock.Anything, mock.Anything)
}

func TestConsoleHandler_ViewAccount(t *testing.T) {
	ctx := context.Background()
	f := newConsole(t)
	f.seed(t, accountNo, 100, 50)
	session := f.login(t, teller)

	require.NoError(t, f.handler.ViewAccount(ctx, session, strings.ToUpper(accountNo)))
	assert.Contains(t, f.out.String(), "Name: Jane Doe")

	f.out.Reset()
	require.NoError(t, f.handler.ViewAccount(ctx, session, "00000000-0000-4000-8000-000000000000"))
	assert.Contains(t, f.out.String(), "Account not found.")
}

func TestConsoleHandler_LodgeAsksForReasonAboveThreshold(t *testing.T) {
	ctx := context.Background()
	f := newConsole(t, "payroll")
	f.seed(t, accountNo, 0, 0)
	session := f.login(t, teller)
	f.repo.On("UpdateAccountBalance", ctx, accountNo, 12000.0).Return(nil).Once()

	require.NoError(t, f.handler.Lodge(ctx, session, accountNo, "12000", ""))

	assert.Contains(t, f.out.String(), "Reason for transaction: ")
	assert.Contains(t, f.out.String(), "New balance: €12000.00")
	lodgements := f.sink.OfKind(audit.KindLodgement)
	require.Len(t, lodgements, 1)
	assert.Equal(t, "payroll", lodgements[0].Reason)
}

func TestConsoleHandler_WithdrawInsufficientFunds(t *testing.T) {
	ctx := context.Background()
	f := newConsole(t)
	f.seed(t, accountNo, -20, 50)
	session := f.login(t, teller)

	err := f.handler.Withdraw(ctx, session, accountNo, "40", "")

	assert.ErrorIs(t, err, service.ErrInsufficientFunds)
	assert.Empty(t, f.sink.Records())
}

func TestConsoleHandler_CloseAccount(t *testing.T) {
	ctx := context.Background()

	t.Run("cancelled at confirmation", func(t *testing.T) {
		f := newConsole(t, "n")
		f.seed(t, accountNo, 0, 0)
		session := f.login(t, admin)

		require.NoError(t, f.handler.CloseAccount(ctx, session, accountNo))

		assert.Contains(t, f.out.String(), "Deletion cancelled.")
		assert.Empty(t, f.sink.OfKind(audit.KindAccountClosure))
	})

	t.Run("teller closes with administrator approval", func(t *testing.T) {
		f := newConsole(t, "Y", "bob", "secret")
		f.seed(t, accountNo, 0, 0)
		session := f.login(t, teller)
		f.provider.On("Verify", ctx, "bob", "secret").Return(admin, nil).Once()
		f.repo.On("DeleteAccount", ctx, accountNo).Return(nil).Once()

		require.NoError(t, f.handler.CloseAccount(ctx, session, accountNo))

		out := f.out.String()
		assert.Contains(t, out, "Confirm deletion (Y/N): ")
		assert.Contains(t, out, "Administrator approval required for close_account")
		assert.Contains(t, out, "Account closed.")
		assert.Len(t, f.sink.OfKind(audit.KindAccountClosure), 1)
		assert.Empty(t, f.sink.OfKind(audit.KindBalanceQuery))
		assert.Len(t, f.sink.OfKind(audit.KindApprovalDecision), 1)
	})

	t.Run("unknown account", func(t *testing.T) {
		f := newConsole(t)
		session := f.login(t, admin)

		err := f.handler.CloseAccount(ctx, session, accountNo)

		assert.ErrorIs(t, err, service.ErrAccountNotFound)
	})
}

func TestConsoleHandler_HandleError(t *testing.T) {
	ctx := context.Background()
	f := newConsole(t)
	session := f.login(t, teller)

	t.Run("business errors are reported only", func(t *testing.T) {
		err := f.handler.HandleError(ctx, session, service.ErrInsufficientFunds)

		assert.ErrorIs(t, err, service.ErrInsufficientFunds)
		assert.Contains(t, f.out.String(), "Denied: insufficient funds.")
		assert.Empty(t, f.sink.Records())
	})

	t.Run("unexpected errors are audited", func(t *testing.T) {
		f.out.Reset()
		_ = f.handler.HandleError(ctx, session, errors.New("boom"))

		assert.Contains(t, f.out.String(), "An unexpected error occurred.")
		records := f.sink.OfKind(audit.KindApplicationError)
		require.Len(t, records, 1)
		assert.Equal(t, "alice", records[0].Actor)
		assert.Equal(t, "boom", records[0].Detail)
	})

	t.Run("persistence errors are audited", func(t *testing.T) {
		f.sink.Reset()
		_ = f.handler.HandleError(ctx, session, common.NewPersistenceError("balance could not be updated", errors.New("locked")))

		assert.Len(t, f.sink.OfKind(audit.KindApplicationError), 1)
	})

	assert.NoError(t, f.handler.HandleError(ctx, session, nil))
}

func TestConsoleHandler_RunMenu(t *testing.T) {
	ctx := context.Background()
	f := newConsole(t,
		"2", accountNo,
		"3", accountNo, "25",
		"9",
		"2", "bad",
		"6",
	)
	f.seed(t, accountNo, 100, 0)
	session := f.login(t, teller)
	f.repo.On("UpdateAccountBalance", ctx, accountNo, 125.0).Return(nil).Once()

	require.NoError(t, f.handler.RunMenu(ctx, session))

	out := f.out.String()
	assert.Contains(t, out, "Balance: €100.00")
	assert.Contains(t, out, "New balance: €125.00")
	assert.Contains(t, out, "Unknown option.")
	assert.Contains(t, out, "Invalid account number.")
	assert.Contains(t, out, "Goodbye.")
}

func TestConsoleHandler_RunMenuEndsOnEOF(t *testing.T) {
	f := newConsole(t)
	session := f.login(t, teller)

	assert.NoError(t, f.handler.RunMenu(context.Background(), session))
}

func TestParseAmount(t *testing.T) {
	v, err := parseAmount(" 12.50 ")
	require.NoError(t, err)
	assert.Equal(t, 12.5, v)

	v, err = parseAmount("")
	require.NoError(t, err)
	assert.Zero(t, v)

	_, err = parseAmount("ten")
	assert.ErrorIs(t, err, common.ErrValidation)
}
