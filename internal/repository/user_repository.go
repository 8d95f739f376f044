package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/adavenue/ticketing/internal/booking"
	"github.com/adavenue/ticketing/internal/model"
	"github.com/adavenue/ticketing/internal/utils"
)

// UserRepo persists user accounts.  It doubles as the admission
// controller's Directory collaborator via Lookup.
type UserRepo struct{ DB *sql.DB }

func NewUserRepo(db *sql.DB) *UserRepo { return &UserRepo{DB: db} }

const userColumns = `id, email, password_hash, name, role, is_active, created_at, updated_at`

// Create inserts a user and returns its ID.  The password is hashed with
// bcrypt at the given cost before storage.
func (r *UserRepo) Create(ctx context.Context, email, password, name, role string, cost int) (uint64, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	hash, err := utils.HashPassword(password, cost)
	if err != nil {
		return 0, err
	}
	res, err := r.DB.ExecContext(ctx,
		"INSERT INTO users (email, password_hash, name, role) VALUES (?,?,?,?)",
		email, hash, name, role)
	if err != nil {
		if isDuplicate(err) {
			return 0, ErrEmailExists
		}
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return uint64(id), nil
}

// GetByEmail fetches a user by normalized email.
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (model.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	var u model.User
	err := r.DB.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE email=? LIMIT 1",
		email).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Name, &u.Role, &u.IsActive, &u.CreatedAt, &u.UpdatedAt)
	return u, err
}

// GetByID fetches a user by id.
func (r *UserRepo) GetByID(ctx context.Context, id uint64) (model.User, error) {
	var u model.User
	err := r.DB.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE id=? LIMIT 1",
		id).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Name, &u.Role, &u.IsActive, &u.CreatedAt, &u.UpdatedAt)
	return u, err
}

// Lookup resolves an authenticated user ID for the admission controller.
// Inactive or missing accounts report booking.ErrUserNotFound.
func (r *UserRepo) Lookup(ctx context.Context, id uint64) (model.User, error) {
	u, err := r.GetByID(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return model.User{}, booking.ErrUserNotFound
	}
	if err != nil {
		return model.User{}, err
	}
	if !u.IsActive {
		return model.User{}, booking.ErrUserNotFound
	}
	return u, nil
}
