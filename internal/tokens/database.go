package tokens

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/charlesng35/oaipmh/internal/database"
	"github.com/charlesng35/oaipmh/internal/models"
)

// DatabaseStore keeps tokens in the oai_resumption_tokens table and allocates
// ids from the oai.next_token_id system setting.
type DatabaseStore struct {
	db *gorm.DB
}

// NewDatabaseStore constructs a gorm-backed token store.
func NewDatabaseStore(db *gorm.DB) (*DatabaseStore, error) {
	if db == nil {
		return nil, errors.New("tokens: db is required")
	}
	return &DatabaseStore{db: db}, nil
}

// NextID increments the token counter inside a locking transaction.
func (s *DatabaseStore) NextID(ctx context.Context) (string, error) {
	next, err := database.IncrementSystemCounter(ctx, s.db, database.NextTokenIDSetting)
	if err != nil {
		return "", fmt.Errorf("tokens: next id: %w", err)
	}
	return strconv.FormatInt(next, 10), nil
}

// Put stores token under id.
func (s *DatabaseStore) Put(ctx context.Context, id string, token Token) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return errors.New("tokens: id is required")
	}

	row := models.ResumptionToken{
		ID:               id,
		Verb:             token.Verb,
		MetadataPrefix:   token.MetadataPrefix,
		SetSpec:          token.Set,
		Cursor:           token.Cursor,
		From:             utcPtr(token.From),
		Until:            utcPtr(token.Until),
		CompleteListSize: token.CompleteListSize,
		ExpiresAt:        token.ExpiresAt.UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("tokens: put %q: %w", id, err)
	}
	return nil
}

// Get loads a token. Expiry is left to the caller so that expired tokens can
// be reported and removed.
func (s *DatabaseStore) Get(ctx context.Context, id string) (Token, error) {
	var row models.ResumptionToken
	err := s.db.WithContext(ctx).Where(&models.ResumptionToken{ID: id}).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Token{}, ErrNotFound
	}
	if err != nil {
		return Token{}, fmt.Errorf("tokens: get %q: %w", id, err)
	}

	return Token{
		ID:               row.ID,
		Verb:             row.Verb,
		MetadataPrefix:   row.MetadataPrefix,
		Set:              row.SetSpec,
		Cursor:           row.Cursor,
		From:             utcPtr(row.From),
		Until:            utcPtr(row.Until),
		CompleteListSize: row.CompleteListSize,
		ExpiresAt:        row.ExpiresAt.UTC(),
	}, nil
}

// Delete removes a token; unknown ids are ignored.
func (s *DatabaseStore) Delete(ctx context.Context, id string) error {
	if err := s.db.WithContext(ctx).
		Where(&models.ResumptionToken{ID: id}).
		Delete(&models.ResumptionToken{}).Error; err != nil {
		return fmt.Errorf("tokens: delete %q: %w", id, err)
	}
	return nil
}

// PurgeExpired deletes every token that expired before now.
func (s *DatabaseStore) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("expires_at <= ?", now.UTC()).
		Delete(&models.ResumptionToken{})
	if result.Error != nil {
		return 0, fmt.Errorf("tokens: purge expired: %w", result.Error)
	}
	return result.RowsAffected, nil
}
