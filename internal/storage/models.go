package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrExists is returned when creating a record whose key is taken.
var ErrExists = errors.New("already exists")

type User struct {
	Username     string
	PasswordHash string
	Role         string
	CreatedAt    time.Time
}

// Prediction is a persisted prediction log entry.
type Prediction struct {
	ID         string         `json:"id"`
	CreatedAt  time.Time      `json:"created_at"`
	Source     string         `json:"source"`
	Prediction string         `json:"prediction"`
	Proba      []float64      `json:"proba"`
	Classes    []string       `json:"classes"`
	Input      map[string]any `json:"input"`
}
