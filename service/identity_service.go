package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"secure-ledger/common"
	"secure-ledger/logger"
	"secure-ledger/model"
	"secure-ledger/repository"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidCredentials is returned by an IdentityProvider when the pair does
// not verify. It never says which factor was wrong.
var ErrInvalidCredentials = errors.New("invalid credentials")

// IdentityProvider verifies a credential pair and reports group memberships.
type IdentityProvider interface {
	Verify(ctx context.Context, username, secret string) (*model.Identity, error)
}

// bcryptCost is lowered by tests.
var bcryptCost = 12

var (
	dummyMu   sync.Mutex
	dummyHash []byte
)

// missingUserHash is compared against when the user does not exist so that a
// missing account costs the same as a wrong password. It is rebuilt whenever
// bcryptCost changes.
func missingUserHash() []byte {
	dummyMu.Lock()
	defer dummyMu.Unlock()
	if cost, err := bcrypt.Cost(dummyHash); err != nil || cost != bcryptCost {
		hash, err := bcrypt.GenerateFromPassword([]byte("secure-ledger"), bcryptCost)
		if err != nil {
			logger.Log.WithError(err).Error("Failed to build placeholder hash")
			return dummyHash
		}
		dummyHash = hash
	}
	return dummyHash
}

func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		logger.Log.WithError(err).Error("Failed to hash password")
		return "", err
	}
	return string(bytes), nil
}

func CheckPasswordHash(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}

// DirectoryProvider is the IdentityProvider backed by the users table.
type DirectoryProvider struct {
	userRepo repository.IUserRepository
}

func NewDirectoryProvider(userRepo repository.IUserRepository) *DirectoryProvider {
	return &DirectoryProvider{userRepo: userRepo}
}

func (p *DirectoryProvider) Verify(ctx context.Context, username, secret string) (*model.Identity, error) {
	user, err := p.userRepo.GetUserByUsername(ctx, username)
	if errors.Is(err, sql.ErrNoRows) {
		_ = bcrypt.CompareHashAndPassword(missingUserHash(), []byte(secret))
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("identity directory lookup failed: %w", err)
	}
	if !CheckPasswordHash(secret, user.PasswordHash) {
		return nil, ErrInvalidCredentials
	}
	return &model.Identity{Username: user.Username, Groups: user.Groups}, nil
}

// NewUserRequest is operator input for provisioning a directory entry.
type NewUserRequest struct {
	Username string   `validate:"required,min=2,max=100,excludesall=0x2C"`
	Password string   `validate:"required,min=8,max=72"`
	Groups   []string `validate:"required,min=1,dive,required,max=100,excludesall=0x2C"`
}

// clean trims the operator input without touching the caller's slice.
func (r NewUserRequest) clean() NewUserRequest {
	groups := make([]string, 0, len(r.Groups))
	for _, g := range r.Groups {
		groups = append(groups, strings.TrimSpace(g))
	}
	r.Username = common.Sanitise(r.Username)
	r.Groups = groups
	return r
}

// addUser validates and stores a new directory entry. Callers go through
// UserService.Provision, which decides whether the caller may provision.
func (p *DirectoryProvider) addUser(ctx context.Context, req NewUserRequest) (*model.User, error) {
	req = req.clean()
	if err := common.ValidateStruct(req); err != nil {
		return nil, err
	}

	hash, err := HashPassword(req.Password)
	if err != nil {
		return nil, common.NewAppError(common.KindValidation, "password could not be hashed", err)
	}
	user := &model.User{Username: req.Username, PasswordHash: hash, Groups: req.Groups}
	if err := p.userRepo.CreateUser(ctx, user); err != nil {
		return nil, common.NewPersistenceError("user could not be stored", err)
	}

	logger.Log.WithField("username", user.Username).Info("Directory user created")
	return user, nil
}
