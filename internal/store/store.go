package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNotFound is returned when a key has never been saved.
var ErrNotFound = errors.New("state not found")

// Keys of the durable records kept for a session.
const (
	KeyToken    = "token"
	KeyDevices  = "devices"
	KeyThrottle = "throttle"
)

// Store is durable get/set-by-key state that outlives the process.
type Store interface {
	Load(ctx context.Context, key string) ([]byte, error)
	Save(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
}

// LoadJSON decodes the record under key into out.
func LoadJSON(ctx context.Context, s Store, key string, out any) error {
	data, err := s.Load(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

// SaveJSON encodes v and stores it under key.
func SaveJSON(ctx context.Context, s Store, key string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.Save(ctx, key, data)
}
