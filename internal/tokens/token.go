// Package tokens persists OAI-PMH resumption tokens.
package tokens

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a token id is unknown to the store.
var ErrNotFound = errors.New("tokens: resumption token not found")

// Token is the paging state handed out with a partial list response. A token
// is written once and never updated.
type Token struct {
	ID               string     `json:"id"`
	Verb             string     `json:"verb"`
	MetadataPrefix   string     `json:"metadata_prefix"`
	Set              string     `json:"set,omitempty"`
	Cursor           int        `json:"cursor"`
	From             *time.Time `json:"from,omitempty"`
	Until            *time.Time `json:"until,omitempty"`
	CompleteListSize int64      `json:"complete_list_size"`
	ExpiresAt        time.Time  `json:"expires_at"`
}

// Expired reports whether the token can no longer be presented at now.
func (t Token) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// Store keeps resumption tokens and allocates their ids.
type Store interface {
	// NextID atomically allocates a fresh token id.
	NextID(ctx context.Context) (string, error)
	Put(ctx context.Context, id string, token Token) error
	Get(ctx context.Context, id string) (Token, error)
	Delete(ctx context.Context, id string) error
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
