// Package idempotency makes mutating requests safe to retry blindly.
// A client-supplied key identifies the logical request; the first execution
// to complete stores its response, and replays with the same key and
// principal get that stored response back byte-for-byte without the handler
// running again.
package idempotency

import (
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/storely/storefront-api/pkg/apperrors"
	"gorm.io/gorm"
)

// RetentionWindow is how long a completed request's response stays
// replayable before the key becomes reusable.
const RetentionWindow = 24 * time.Hour

// Result is a captured handler response.
type Result struct {
	Status       int
	Body         []byte
	ResourceType string
	ResourceID   string
}

// Handler executes the guarded operation and returns the response to cache.
type Handler func() (*Result, error)

// Guard deduplicates mutating requests keyed by a client-supplied token.
type Guard struct {
	db  *Database
	ttl time.Duration
}

// NewGuard creates a guard with the standard retention window.
func NewGuard(gormDB *gorm.DB) *Guard {
	return &Guard{
		db:  NewDatabase(gormDB),
		ttl: RetentionWindow,
	}
}

// Process runs handler at most once for a given (key, principal) pair.
//
// An empty key bypasses deduplication entirely, for clients not yet sending
// idempotency keys. When a live record exists the stored response is
// returned verbatim and the handler is not invoked; the second return value
// reports such a replay. Otherwise the handler runs, and its result is
// persisted best-effort: if the insert loses a race on the unique index the
// winner's record is re-read and returned, and any other persist failure is
// logged and swallowed because the handler's side effects already happened.
func (g *Guard) Process(key, principalID string, requestBody []byte, handler Handler) (*Result, bool, error) {
	if key == "" {
		result, err := handler()
		return result, false, err
	}

	logger := log.With().
		Str("idempotency_key", key).
		Str("principal_id", principalID).
		Logger()

	record, err := g.db.GetRecord(key, principalID)
	if err != nil {
		// Fail closed: without the dedup check we cannot honor the
		// at-most-once contract, so the client has to retry.
		return nil, false, apperrors.Infrastructure("failed to check idempotency record", err)
	}

	now := time.Now()
	if record != nil {
		if !record.IsExpired(now) {
			logger.Info().
				Str("resource_type", record.ResourceType).
				Str("resource_id", record.ResourceID).
				Msg("replaying cached response for idempotency key")
			return resultFromRecord(record), true, nil
		}
		// Expired record: reclaim the key so the insert below can succeed.
		if err := g.db.DeleteRecord(key, principalID); err != nil {
			return nil, false, apperrors.Infrastructure("failed to reclaim expired idempotency record", err)
		}
	}

	result, err := handler()
	if err != nil {
		// Records are only written for completed operations; a failed
		// handler leaves the key unused so the client can retry.
		return nil, false, err
	}

	newRecord := &Record{
		Key:            key,
		PrincipalID:    principalID,
		ResourceType:   result.ResourceType,
		ResourceID:     result.ResourceID,
		RequestBody:    string(requestBody),
		ResponseStatus: result.Status,
		ResponseBody:   string(result.Body),
		ExpiresAt:      now.Add(g.ttl),
	}

	if err := g.db.CreateRecord(newRecord); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			// A concurrent request with the same key completed first.
			// Its stored response is the canonical one.
			winner, readErr := g.db.GetRecord(key, principalID)
			if readErr == nil && winner != nil {
				logger.Info().Msg("lost idempotency insert race, returning winner's response")
				return resultFromRecord(winner), true, nil
			}
			logger.Warn().AnErr("read_err", readErr).
				Msg("idempotency insert conflicted but winner record unreadable")
			return result, false, nil
		}

		// The operation already completed; losing the replay cache is
		// preferable to failing the request now.
		logger.Warn().Err(err).Msg("failed to persist idempotency record, continuing")
	}

	return result, false, nil
}

func resultFromRecord(record *Record) *Result {
	return &Result{
		Status:       record.ResponseStatus,
		Body:         []byte(record.ResponseBody),
		ResourceType: record.ResourceType,
		ResourceID:   record.ResourceID,
	}
}
