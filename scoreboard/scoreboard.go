// Package scoreboard mirrors the running score pair of logging sessions to a
// shared store so operators can follow a match before its result file exists.
package scoreboard

import (
	"context"
	"time"
)

// Scores is the score pair of one session at a point in time.
type Scores struct {
	Score0    float64   `json:"score0"`
	Score1    float64   `json:"score1"`
	Final     bool      `json:"final"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Scoreboard stores the latest Scores per session key. Implementations are
// safe for concurrent use.
type Scoreboard interface {
	// Publish replaces the scores stored under key.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout control
	//   - key: Session key, usually the session token
	//   - s: The scores to store
	//
	// Returns:
	//   - An error if the store rejects the write
	Publish(ctx context.Context, key string, s Scores) error

	// Latest returns the scores stored under key.
	//
	// Returns:
	//   - The scores and true if present, false if the key is unknown or expired
	//   - An error if the store cannot be read
	Latest(ctx context.Context, key string) (Scores, bool, error)

	// Delete removes the scores stored under key. Deleting an unknown key is not an error.
	Delete(ctx context.Context, key string) error
}
