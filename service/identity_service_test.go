package service

import (
	"context"
	"database/sql"
	"errors"
	"secure-ledger/common"
	"secure-ledger/model"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestHashAndCheckPassword(t *testing.T) {
	hashed, err := HashPassword("mySecretPassword123")
	require.NoError(t, err)

	assert.NotEqual(t, "mySecretPassword123", hashed)
	assert.True(t, CheckPasswordHash("mySecretPassword123", hashed))
	assert.False(t, CheckPasswordHash("notMyPassword", hashed))
}

func TestDirectoryProvider_Verify(t *testing.T) {
	ctx := context.Background()
	hashed, err := HashPassword("correct horse")
	require.NoError(t, err)

	t.Run("valid credentials", func(t *testing.T) {
		repo := new(mockUserRepo)
		repo.On("GetUserByUsername", ctx, "alice").
			Return(&model.User{Username: "alice", PasswordHash: hashed, Groups: []string{"Bank Teller"}}, nil).Once()

		identity, err := NewDirectoryProvider(repo).Verify(ctx, "alice", "correct horse")

		require.NoError(t, err)
		assert.Equal(t, "alice", identity.Username)
		assert.True(t, identity.MemberOf("Bank Teller"))
		repo.AssertExpectations(t)
	})

	t.Run("wrong password", func(t *testing.T) {
		repo := new(mockUserRepo)
		repo.On("GetUserByUsername", ctx, "alice").
			Return(&model.User{Username: "alice", PasswordHash: hashed}, nil).Once()

		_, err := NewDirectoryProvider(repo).Verify(ctx, "alice", "battery staple")

		assert.ErrorIs(t, err, ErrInvalidCredentials)
	})

	t.Run("unknown user looks the same as a wrong password", func(t *testing.T) {
		repo := new(mockUserRepo)
		repo.On("GetUserByUsername", ctx, "mallory").Return(nil, sql.ErrNoRows).Once()

		_, err := NewDirectoryProvider(repo).Verify(ctx, "mallory", "anything")

		assert.ErrorIs(t, err, ErrInvalidCredentials)
	})

	t.Run("directory failure", func(t *testing.T) {
		repo := new(mockUserRepo)
		repo.On("GetUserByUsername", ctx, "alice").Return(nil, errors.New("connection refused")).Once()

		_, err := NewDirectoryProvider(repo).Verify(ctx, "alice", "correct horse")

		assert.Error(t, err)
		assert.NotErrorIs(t, err, ErrInvalidCredentials)
	})
}

func TestDirectoryProvider_VerifyCostsTheSameForUnknownUsers(t *testing.T) {
	if testing.Short() {
		t.Skip("hashes at the production cost")
	}
	restore := bcryptCost
	bcryptCost = 12
	defer func() { bcryptCost = restore }()

	ctx := context.Background()
	hashed, err := HashPassword("correct horse")
	require.NoError(t, err)
	repo := new(mockUserRepo)
	repo.On("GetUserByUsername", ctx, "alice").Return(&model.User{Username: "alice", PasswordHash: hashed}, nil)
	repo.On("GetUserByUsername", ctx, "mallory").Return(nil, sql.ErrNoRows)
	provider := NewDirectoryProvider(repo)

	// builds the placeholder hash at the current cost
	_, _ = provider.Verify(ctx, "mallory", "warm up")

	timed := func(username string) time.Duration {
		start := time.Now()
		_, err := provider.Verify(ctx, username, "wrong password")
		require.ErrorIs(t, err, ErrInvalidCredentials)
		return time.Since(start)
	}
	wrongPassword := timed("alice")
	unknownUser := timed("mallory")

	cost, err := bcrypt.Cost(missingUserHash())
	require.NoError(t, err)
	assert.Equal(t, 12, cost)
	assert.Greater(t, unknownUser, wrongPassword/4, "wrong password %v, unknown user %v", wrongPassword, unknownUser)
}

func TestDirectoryProvider_addUser(t *testing.T) {
	ctx := context.Background()

	t.Run("stores a hashed password", func(t *testing.T) {
		repo := new(mockUserRepo)
		repo.On("CreateUser", ctx, mock.MatchedBy(func(u *model.User) bool {
			return u.Username == "carol" && CheckPasswordHash("longenough", u.PasswordHash) &&
				len(u.Groups) == 1 && u.Groups[0] == "Bank Teller"
		})).Return(nil).Once()

		user, err := NewDirectoryProvider(repo).addUser(ctx, NewUserRequest{
			Username: "  carol ", Password: "longenough", Groups: []string{" Bank Teller "},
		})

		require.NoError(t, err)
		assert.Equal(t, "carol", user.Username)
		repo.AssertExpectations(t)
	})

	t.Run("rejects invalid input", func(t *testing.T) {
		repo := new(mockUserRepo)
		cases := []NewUserRequest{
			{Username: "carol", Password: "short", Groups: []string{"Bank Teller"}},
			{Username: "carol", Password: "longenough"},
			{Username: "carol", Password: "longenough", Groups: []string{"a,b"}},
			{Username: "c", Password: "longenough", Groups: []string{"Bank Teller"}},
		}
		for _, req := range cases {
			_, err := NewDirectoryProvider(repo).addUser(ctx, req)
			assert.ErrorIs(t, err, common.ErrValidation)
		}
		repo.AssertNotCalled(t, "CreateUser", mock.Anything, mock.Anything)
	})

	t.Run("storage failure", func(t *testing.T) {
		repo := new(mockUserRepo)
		repo.On("CreateUser", ctx, mock.Anything).Return(errors.New("duplicate key")).Once()

		_, err := NewDirectoryProvider(repo).addUser(ctx, NewUserRequest{
			Username: "carol", Password: "longenough", Groups: []string{"Bank Teller"},
		})

		assert.ErrorIs(t, err, common.ErrPersistence)
	})
}
