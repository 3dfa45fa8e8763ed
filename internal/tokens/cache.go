package tokens

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charlesng35/oaipmh/internal/cache"
)

const (
	cacheTokenPrefix = "oai:token:"
	cacheCounterKey  = "oai:next_token_id"
	minimumCacheTTL  = time.Second
)

// CacheStore keeps tokens as JSON values in a cache.Store. The entry lives
// exactly as long as the token, so expired tokens simply disappear.
type CacheStore struct {
	store cache.Store
	now   func() time.Time
}

// NewCacheStore wraps a cache backend.
func NewCacheStore(store cache.Store) (*CacheStore, error) {
	if store == nil {
		return nil, errors.New("tokens: cache store is required")
	}
	return &CacheStore{store: store, now: time.Now}, nil
}

// NextID uses the backend's atomic increment.
func (s *CacheStore) NextID(ctx context.Context) (string, error) {
	next, err := s.store.Increment(ctx, cacheCounterKey)
	if err != nil {
		return "", fmt.Errorf("tokens: next id: %w", err)
	}
	return strconv.FormatInt(next, 10), nil
}

// Put stores token under id with a ttl matching its expiry.
func (s *CacheStore) Put(ctx context.Context, id string, token Token) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return errors.New("tokens: id is required")
	}
	token.ID = id
	token.From = utcPtr(token.From)
	token.Until = utcPtr(token.Until)
	token.ExpiresAt = token.ExpiresAt.UTC()

	payload, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("tokens: encode %q: %w", id, err)
	}

	ttl := token.ExpiresAt.Sub(s.now())
	if ttl < minimumCacheTTL {
		ttl = minimumCacheTTL
	}
	if err := s.store.Set(ctx, cacheTokenPrefix+id, payload, ttl); err != nil {
		return fmt.Errorf("tokens: put %q: %w", id, err)
	}
	return nil
}

// Get loads a token.
func (s *CacheStore) Get(ctx context.Context, id string) (Token, error) {
	payload, ok, err := s.store.Get(ctx, cacheTokenPrefix+id)
	if err != nil {
		return Token{}, fmt.Errorf("tokens: get %q: %w", id, err)
	}
	if !ok {
		return Token{}, ErrNotFound
	}

	var token Token
	if err := json.Unmarshal(payload, &token); err != nil {
		return Token{}, fmt.Errorf("tokens: decode %q: %w", id, err)
	}
	return token, nil
}

// Delete removes a token.
func (s *CacheStore) Delete(ctx context.Context, id string) error {
	if err := s.store.Delete(ctx, cacheTokenPrefix+id); err != nil {
		return fmt.Errorf("tokens: delete %q: %w", id, err)
	}
	return nil
}
