package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound = errors.New("session not found")
	// ErrCorrupt marks a stored record that no longer decodes into Data.
	ErrCorrupt = errors.New("session record corrupt")
)

// Store persists session data by identifier. Load returns ErrNotFound for
// unknown or expired ids.
type Store interface {
	Load(ctx context.Context, id string) (*Data, error)
	Save(ctx context.Context, id string, d *Data, ttl time.Duration) error
	Delete(ctx context.Context, id string) error
}

// Sweeper is implemented by stores that need explicit expiry cleanup.
type Sweeper interface {
	DeleteExpired(ctx context.Context) (int, error)
}

func encode(d *Data) ([]byte, error) { return json.Marshal(d) }

func decode(raw []byte) (*Data, error) {
	var d Data
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return &d, nil
}
