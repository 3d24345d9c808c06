// Package credentials keeps AI gateway keys in the record store so a process
// can start without them in its environment.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gabrielee5/grafo-sub000/internal/kv"
)

const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

type record struct {
	Token     string    `json:"token"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type Store struct {
	kv  kv.Store
	now func() time.Time
}

func NewStore(store kv.Store) *Store {
	return &Store{kv: store, now: func() time.Time { return time.Now().UTC() }}
}

func key(provider string) string { return "credential:" + provider }

// Token returns the stored key for provider, or "" when none is stored.
func (s *Store) Token(ctx context.Context, provider string) (string, error) {
	var rec record
	err := kv.GetJSON(ctx, s.kv, key(provider), &rec)
	if errors.Is(err, kv.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("credentials: load %s: %w", provider, err)
	}
	return strings.TrimSpace(rec.Token), nil
}

func (s *Store) SetToken(ctx context.Context, provider, token string) error {
	provider = strings.ToLower(strings.TrimSpace(provider))
	switch provider {
	case ProviderGemini, ProviderOpenAI:
	default:
		return fmt.Errorf("credentials: unsupported provider %q", provider)
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return fmt.Errorf("%s api key is required", provider)
	}
	return kv.PutJSON(ctx, s.kv, key(provider), record{Token: token, UpdatedAt: s.now()})
}

// Resolve prefers the environment value and falls back to the stored key.
func (s *Store) Resolve(ctx context.Context, provider, fromEnv string) (string, error) {
	if v := strings.TrimSpace(fromEnv); v != "" {
		return v, nil
	}
	return s.Token(ctx, provider)
}
