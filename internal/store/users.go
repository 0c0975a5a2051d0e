package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Users handles authentication principals. These reads run with system
// privilege: they happen before a security context exists (login, token
// refresh) and users carry no ACL columns.
type Users struct {
	db *sql.DB
}

func NewUsers(db *sql.DB) *Users {
	return &Users{db: db}
}

const userCols = `id, email, full_name, hashed_password, is_active, is_superuser, is_member`

func scanUser(row *sql.Row) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.FullName, &u.HashedPassword, &u.IsActive, &u.IsSuperuser, &u.IsMember)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, fmt.Errorf("user: %w", ErrNotFound)
	}
	if err != nil {
		return User{}, fmt.Errorf("scan user: %w", err)
	}
	return u, nil
}

func (u *Users) GetByEmail(ctx context.Context, email string) (User, error) {
	row := u.db.QueryRowContext(ctx, `SELECT `+userCols+` FROM users WHERE email = $1`, email)
	return scanUser(row)
}

func (u *Users) GetByID(ctx context.Context, id uuid.UUID) (User, error) {
	row := u.db.QueryRowContext(ctx, `SELECT `+userCols+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}

func (u *Users) Create(ctx context.Context, user User) error {
	_, err := u.db.ExecContext(ctx, `
		INSERT INTO users (id, email, full_name, hashed_password, is_active, is_superuser, is_member)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, user.ID, user.Email, user.FullName, user.HashedPassword, user.IsActive, user.IsSuperuser, user.IsMember)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("user %s: %w", user.Email, ErrDuplicate)
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// GroupIDs lists the orgs the user belongs to through their person record.
// This also runs privileged: it is the query that builds the security
// context, so it cannot itself be filtered by one.
func (u *Users) GroupIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := u.db.QueryContext(ctx, `
		SELECT m.org_id
		FROM org_members m
		JOIN persons p ON p.id = m.member_id AND m.member_kind = 'person'
		WHERE p.user_id = $1
		ORDER BY m.org_id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list user groups: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan group id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
