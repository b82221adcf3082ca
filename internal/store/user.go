package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ipulse/apiserver/types"
)

const userColumns = `id, name, email, password`

// UserRepository handles persistence for users.
//
// Lookups by email order by id so that, when several rows share an email,
// the earliest registration always wins.
type UserRepository struct {
	db      *sql.DB
	dialect Dialect
}

func NewUserRepository(db *sql.DB, dialect Dialect) *UserRepository {
	return &UserRepository{db: db, dialect: dialect}
}

// Create inserts a row without any uniqueness check. Empty fields are bound
// as NULL so the table's NOT NULL constraints reject them.
func (r *UserRepository) Create(ctx context.Context, user types.NewUser) (types.User, error) {
	query := r.dialect.Rebind(`
		INSERT INTO users (name, email, password)
		VALUES (?, ?, ?)
		RETURNING id`)

	var id int
	err := r.db.QueryRowContext(ctx, query,
		nullIfEmpty(user.Name),
		nullIfEmpty(user.Email),
		nullIfEmpty(user.Password),
	).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return types.User{}, fmt.Errorf("insert user: %w", ErrConflict)
		}
		return types.User{}, fmt.Errorf("insert user: %w", err)
	}

	return types.User{
		ID:       id,
		Name:     user.Name,
		Email:    user.Email,
		Password: user.Password,
	}, nil
}

// FindByCredentials returns the first user whose stored email and password
// both equal the arguments.
func (r *UserRepository) FindByCredentials(ctx context.Context, email, password string) (types.User, error) {
	query := r.dialect.Rebind(`
		SELECT ` + userColumns + `
		FROM users
		WHERE email = ? AND password = ?
		ORDER BY id
		LIMIT 1`)
	return r.scanOne(r.db.QueryRowContext(ctx, query, email, password), "find user by credentials")
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (types.User, error) {
	query := r.dialect.Rebind(`
		SELECT ` + userColumns + `
		FROM users
		WHERE email = ?
		ORDER BY id
		LIMIT 1`)
	return r.scanOne(r.db.QueryRowContext(ctx, query, email), "get user by email")
}

func (r *UserRepository) GetByID(ctx context.Context, id int) (types.User, error) {
	query := r.dialect.Rebind(`
		SELECT ` + userColumns + `
		FROM users
		WHERE id = ?`)
	return r.scanOne(r.db.QueryRowContext(ctx, query, id), "get user by id")
}

// GetPasswordByEmail returns the stored password column for email.
func (r *UserRepository) GetPasswordByEmail(ctx context.Context, email string) (string, error) {
	query := r.dialect.Rebind(`
		SELECT password
		FROM users
		WHERE email = ?
		ORDER BY id
		LIMIT 1`)

	var password string
	if err := r.db.QueryRowContext(ctx, query, email).Scan(&password); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("get password by email: %w", err)
	}
	return password, nil
}

func (r *UserRepository) UpdatePassword(ctx context.Context, id int, password string) error {
	query := r.dialect.Rebind(`UPDATE users SET password = ? WHERE id = ?`)

	result, err := r.db.ExecContext(ctx, query, password, id)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Ping reports whether the database is reachable.
func (r *UserRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *UserRepository) scanOne(row *sql.Row, op string) (types.User, error) {
	var user types.User
	err := row.Scan(
		&user.ID,
		&user.Name,
		&user.Email,
		&user.Password,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.User{}, ErrNotFound
		}
		return types.User{}, fmt.Errorf("%s: %w", op, err)
	}
	return user, nil
}

func nullIfEmpty(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
