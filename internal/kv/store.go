// Package kv provides the key-value record store used for users, history
// entries and per-user history indexes.
package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("kv: key not found")

// Store is a durable mapping of string keys to opaque values. Single-key
// operations are atomic; concurrent writers to one key resolve last-write-wins.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	// PutIfAbsent stores value only when key is unused and reports whether it did.
	PutIfAbsent(ctx context.Context, key string, value []byte) (bool, error)
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// GetJSON loads key and decodes it into out.
func GetJSON(ctx context.Context, s Store, key string, out any) error {
	raw, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("kv: decode %s: %w", key, err)
	}
	return nil
}

// PutJSON encodes v and stores it under key.
func PutJSON(ctx context.Context, s Store, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("kv: encode %s: %w", key, err)
	}
	return s.Put(ctx, key, raw)
}

// PutJSONIfAbsent encodes v and stores it only when key is unused.
func PutJSONIfAbsent(ctx context.Context, s Store, key string, v any) (bool, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return false, fmt.Errorf("kv: encode %s: %w", key, err)
	}
	return s.PutIfAbsent(ctx, key, raw)
}
