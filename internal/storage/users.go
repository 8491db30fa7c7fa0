package storage

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// CreateUser inserts u. It returns ErrExists if the username is taken.
func (s *Store) CreateUser(u User) error {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	if u.Role == "" {
		u.Role = "user"
	}
	_, err := s.db.Exec(`
		INSERT INTO users (username, password_hash, role, created_at)
		VALUES (?, ?, ?, ?)`,
		u.Username, u.PasswordHash, u.Role, u.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return fmt.Errorf("user %q: %w", u.Username, ErrExists)
	}
	return err
}

func (s *Store) GetUser(username string) (User, error) {
	var u User
	var createdAt string
	err := s.db.QueryRow(`
		SELECT username, password_hash, role, created_at FROM users WHERE username = ?`, username,
	).Scan(&u.Username, &u.PasswordHash, &u.Role, &createdAt)
	if err == sql.ErrNoRows {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, err
	}
	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return User{}, fmt.Errorf("parsing created_at: %w", err)
	}
	u.CreatedAt = t
	return u, nil
}

// ListUsers returns all users ordered by username. Password hashes are
// included; callers must not expose them.
func (s *Store) ListUsers() ([]User, error) {
	rows, err := s.db.Query(`SELECT username, password_hash, role, created_at FROM users ORDER BY username`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var u User
		var createdAt string
		if err := rows.Scan(&u.Username, &u.PasswordHash, &u.Role, &createdAt); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		u.CreatedAt = t
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *Store) CountUsers() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM users`).Scan(&n)
	return n, err
}
