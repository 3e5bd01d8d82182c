package repository

import (
	"context"
	"database/sql"
	"secure-ledger/logger"
	"secure-ledger/model"
	"strings"
	"time"
)

// IUserRepository defines the contract for the identity directory table.
type IUserRepository interface {
	CreateUser(ctx context.Context, user *model.User) error
	GetUserByUsername(ctx context.Context, username string) (*model.User, error)
	CountUsers(ctx context.Context) (int, error)
}

type UserRepository struct {
	DB *sql.DB
}

func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{DB: db}
}

// CreateUser inserts a directory entry. Groups are stored as a
// comma-separated list.
func (r *UserRepository) CreateUser(ctx context.Context, user *model.User) error {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	query := `INSERT INTO users (username, password_hash, group_names, created_at) VALUES ($1, $2, $3, $4)`
	_, err := r.DB.ExecContext(ctx, query, user.Username, user.PasswordHash, strings.Join(user.Groups, ","), user.CreatedAt)
	if err != nil {
		logger.Log.WithError(err).WithField("username", user.Username).Error("Failed to execute create user query")
		return err
	}
	return nil
}

// GetUserByUsername returns sql.ErrNoRows when the user does not exist.
func (r *UserRepository) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	user := &model.User{}
	var groups string
	query := `SELECT username, password_hash, group_names, created_at FROM users WHERE username = $1`
	err := r.DB.QueryRowContext(ctx, query, username).Scan(&user.Username, &user.PasswordHash, &groups, &user.CreatedAt)
	if err != nil {
		return nil, err
	}
	if groups != "" {
		user.Groups = strings.Split(groups, ",")
	}
	return user, nil
}

// CountUsers reports how many directory entries exist.
func (r *UserRepository) CountUsers(ctx context.Context) (int, error) {
	var n int
	if err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		logger.Log.WithError(err).Error("Failed to count directory users")
		return 0, err
	}
	return n, nil
}
