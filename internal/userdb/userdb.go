// Package userdb stores gateway accounts in SQLite and performs the
// credential check the auth layer relies on when issuing tokens.
package userdb

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pressly/goose/v3"
	"golang.org/x/crypto/bcrypt"
	_ "modernc.org/sqlite" // SQLite driver (pure Go)
)

//go:embed migrations/*.sql
var migrations embed.FS

// Account statuses. Deactivated accounts are kept for auditing and can
// no longer authenticate.
const (
	StatusActive   = "active"
	StatusInactive = "inactive"
)

var (
	// ErrUserNotFound is returned when an operation targets a username
	// that does not exist.
	ErrUserNotFound = errors.New("user not found")

	// ErrUserExists is returned when a new account collides with an
	// existing username or email.
	ErrUserExists = errors.New("user already exists")
)

// User is one gateway account. The password hash never leaves the store.
type User struct {
	ID         string
	Email      string
	FirstName  string
	LastName   string
	Username   string
	Status     string
	CreatedAt  time.Time
	ModifiedAt time.Time
}

// Store manages accounts in a SQLite database.
type Store struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
}

// New creates an account store. Call Open before using it.
func New(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Store{logger: logger}
}

// Open opens the database at path and runs any pending migrations.
// Use ":memory:" for an in-memory store.
func (s *Store) Open(path string) error {
	if path == "" {
		path = ":memory:"
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("failed to open user database: %w", err)
	}
	if path == ":memory:" {
		// A pooled in-memory database would give every connection its
		// own empty store.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping user database: %w", err)
	}
	if err := migrate(db); err != nil {
		_ = db.Close()
		return err
	}

	s.db = db
	s.path = path
	s.logger.Debug("user database ready", slog.String("path", path))
	return nil
}

func migrate(db *sql.DB) error {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("sqlite"); err != nil {
		return fmt.Errorf("failed to set dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Path returns the database path the store was opened with.
func (s *Store) Path() string {
	return s.path
}

// Add creates an active account with a bcrypt-hashed password.
func (s *Store) Add(ctx context.Context, email, firstName, lastName, username, password string) (*User, error) {
	if s.db == nil {
		return nil, fmt.Errorf("user database not opened")
	}
	if username == "" {
		return nil, fmt.Errorf("username must not be empty")
	}
	if password == "" {
		return nil, fmt.Errorf("password must not be empty")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := time.Now().UTC()
	u := &User{
		ID:         uuid.New().String(),
		Email:      email,
		FirstName:  firstName,
		LastName:   lastName,
		Username:   username,
		Status:     StatusActive,
		CreatedAt:  now,
		ModifiedAt: now,
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO users (id, email, first_name, last_name, username, password_hash, status, created_at, modified_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Email, u.FirstName, u.LastName, u.Username, string(hash), u.Status, u.CreatedAt, u.ModifiedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %s", ErrUserExists, username)
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	s.logger.Info("user created", slog.String("username", username))
	return u, nil
}

// List returns all accounts, active and inactive, ordered by username.
func (s *Store) List(ctx context.Context) ([]User, error) {
	if s.db == nil {
		return nil, fmt.Errorf("user database not opened")
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, email, first_name, last_name, username, status, created_at, modified_at
		FROM users
		ORDER BY username`)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var users []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Email, &u.FirstName, &u.LastName, &u.Username, &u.Status, &u.CreatedAt, &u.ModifiedAt); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating users: %w", err)
	}
	return users, nil
}

// ChangePassword replaces the password for an existing account.
func (s *Store) ChangePassword(ctx context.Context, username, password string) error {
	if s.db == nil {
		return fmt.Errorf("user database not opened")
	}
	if password == "" {
		return fmt.Errorf("password must not be empty")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET password_hash = ?, modified_at = ? WHERE username = ?`,
		string(hash), time.Now().UTC(), username)
	if err != nil {
		return fmt.Errorf("failed to change password: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrUserNotFound, username)
	}

	s.logger.Info("password changed", slog.String("username", username))
	return nil
}

// Deactivate marks an account inactive. The row is kept so the username
// stays reserved and the history stays auditable.
func (s *Store) Deactivate(ctx context.Context, username string) error {
	if s.db == nil {
		return fmt.Errorf("user database not opened")
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET status = ?, modified_at = ? WHERE username = ?`,
		StatusInactive, time.Now().UTC(), username)
	if err != nil {
		return fmt.Errorf("failed to deactivate user: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrUserNotFound, username)
	}

	s.logger.Info("user deactivated", slog.String("username", username))
	return nil
}

// Check verifies the password of an active account. Unknown users,
// inactive accounts and wrong passwords all produce the same error so
// callers cannot probe for valid usernames.
func (s *Store) Check(ctx context.Context, username, password string) error {
	if s.db == nil {
		return fmt.Errorf("user database not opened")
	}

	var hash, status string
	err := s.db.QueryRowContext(ctx, `
		SELECT password_hash, status FROM users WHERE username = ?`, username).
		Scan(&hash, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("unknown user or invalid password")
	}
	if err != nil {
		return fmt.Errorf("failed to look up user: %w", err)
	}
	if status != StatusActive {
		return fmt.Errorf("unknown user or invalid password")
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return fmt.Errorf("unknown user or invalid password")
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
