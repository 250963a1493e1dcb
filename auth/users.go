package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gvirila/portal/idgen"
	"github.com/gvirila/portal/safe"
	"golang.org/x/crypto/bcrypt"
)

// Schema is the users table.
const Schema = `
CREATE TABLE IF NOT EXISTS users (
    id            TEXT PRIMARY KEY,
    email         TEXT NOT NULL UNIQUE,
    name          TEXT NOT NULL DEFAULT '',
    password_hash TEXT NOT NULL,
    role          TEXT NOT NULL DEFAULT 'user',
    status        TEXT NOT NULL DEFAULT 'active',
    created_at    INTEGER NOT NULL
);
`

// MinPasswordLen is the shortest accepted password.
const MinPasswordLen = 8

var (
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrUserExists         = errors.New("auth: user already exists")
	ErrWeakPassword       = fmt.Errorf("auth: password shorter than %d characters", MinPasswordLen)
)

// User is a stored account. The password hash never leaves the package.
type User struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	Name      string `json:"name"`
	Role      string `json:"role"`
	Status    string `json:"status"`
	CreatedAt int64  `json:"created_at"`
}

// Users is the account store.
type Users struct {
	DB *sql.DB
}

// NewUsers wraps db, which must have Schema applied.
func NewUsers(db *sql.DB) *Users {
	return &Users{DB: db}
}

// HashPassword returns the bcrypt hash of password.
func HashPassword(password string) (string, error) {
	if len([]rune(password)) < MinPasswordLen {
		return "", ErrWeakPassword
	}
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

// Create stores a new active account.
func (u *Users) Create(ctx context.Context, email, name, password, role string) (*User, error) {
	email, err := safe.ValidateEmail(email)
	if err != nil {
		return nil, err
	}
	if role != RoleAdmin {
		role = RoleUser
	}
	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}
	user := &User{
		ID:        idgen.New(),
		Email:     email,
		Name:      strings.TrimSpace(name),
		Role:      role,
		Status:    "active",
		CreatedAt: time.Now().UnixMilli(),
	}
	_, err = u.DB.ExecContext(ctx,
		`INSERT INTO users (id, email, name, password_hash, role, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		user.ID, user.Email, user.Name, hash, user.Role, user.Status, user.CreatedAt)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return nil, ErrUserExists
		}
		return nil, fmt.Errorf("auth: create user: %w", err)
	}
	return user, nil
}

// Authenticate checks email and password of an active account and returns
// the session claims for it.
func (u *Users) Authenticate(ctx context.Context, email, password string) (*Claims, error) {
	var id, name, role, hash string
	err := u.DB.QueryRowContext(ctx,
		`SELECT id, name, role, password_hash FROM users WHERE email = ? AND status = 'active'`,
		strings.ToLower(strings.TrimSpace(email))).Scan(&id, &name, &role, &hash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return &Claims{UserID: id, Email: strings.ToLower(strings.TrimSpace(email)), Name: name, Role: role}, nil
}

// List returns every account that is not deleted, oldest first.
func (u *Users) List(ctx context.Context) ([]*User, error) {
	rows, err := u.DB.QueryContext(ctx,
		`SELECT id, email, name, role, status, created_at FROM users
		WHERE status != 'deleted' ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := []*User{}
	for rows.Next() {
		var usr User
		if err := rows.Scan(&usr.ID, &usr.Email, &usr.Name, &usr.Role, &usr.Status, &usr.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, &usr)
	}
	return users, rows.Err()
}

// Delete marks an account deleted; its sessions fail at next login.
func (u *Users) Delete(ctx context.Context, id string) error {
	_, err := u.DB.ExecContext(ctx, `UPDATE users SET status = 'deleted' WHERE id = ?`, id)
	return err
}

// SeedAdmin creates an admin account when none is active. It does nothing
// when email or password is empty.
func (u *Users) SeedAdmin(ctx context.Context, email, password string) error {
	if email == "" || password == "" {
		return nil
	}
	var count int
	if err := u.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM users WHERE role = 'admin' AND status = 'active'`).Scan(&count); err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	user, err := u.Create(ctx, email, "admin", password, RoleAdmin)
	if err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}
	slog.Info("admin user seeded", "email", user.Email, "id", user.ID)
	return nil
}
