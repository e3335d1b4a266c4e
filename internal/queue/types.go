package queue

import (
	"context"
	"errors"
	"time"
)

var (
	ErrInvalidUser    = errors.New("user id is required")
	ErrAlreadyInMatch = errors.New("user already has an active match")
)

// Entry is one waiting user. Seq orders entries: lower Seq was enqueued earlier.
type Entry struct {
	UserID     string    `json:"userId"`
	Seq        int64     `json:"seq"`
	EnqueuedAt time.Time `json:"enqueuedAt"`
}

// ActiveMatches answers whether a user is already playing.
// It returns the active match id, or "" when there is none.
type ActiveMatches interface {
	ActiveMatchFor(ctx context.Context, userID string) (string, error)
}
