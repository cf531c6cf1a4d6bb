package board

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
)

// StoreError wraps a store failure with a structured operation code.
type StoreError struct {
	code string
	err  error
}

func (e *StoreError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *StoreError) Unwrap() error {
	return e.err
}

// Code returns the structured operation code.
func (e *StoreError) Code() string {
	return e.code
}

const (
	opStoreNew = "board.store.new"
	opAppend   = "board.append"
	opList     = "board.list"
	opDelete   = "board.delete"
	opClear    = "board.clear"
	opSweep    = "board.sweep"
)

func newStoreError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &StoreError{code: code, err: cause}
}

// IDProvider issues identifiers for new notes.
type IDProvider interface {
	NewID() (string, error)
}

// StoreConfig describes the dependencies of the board store.
type StoreConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Policy     Policy
	Logger     *zap.Logger
}

// Store owns persisted per-board note history. Appending enforces the count
// cap in the same transaction, so no List ever observes more than Policy.Cap
// notes on a board.
type Store struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	policy     Policy
	logger     *zap.Logger
}

// NewStore constructs a Store.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Database == nil {
		return nil, newStoreError(opStoreNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newStoreError(opStoreNew, "missing_id_provider", errMissingIDProvider)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Store{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		policy:     cfg.Policy.normalized(),
		logger:     logger,
	}, nil
}

// Policy returns the retention numbers the store enforces.
func (s *Store) Policy() Policy {
	return s.policy
}

// Append validates the text, assigns identity fields supplied by the caller,
// persists the note and trims the board back to the cap.
func (s *Store) Append(ctx context.Context, key Key, text, alias, accent string) (Note, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return Note{}, newStoreError(opAppend, "empty_text", ErrEmptyText)
	}
	if len(trimmed) > s.policy.MaxTextLength {
		return Note{}, newStoreError(opAppend, "text_too_long",
			fmt.Errorf("%w: %d exceeds %d characters", ErrTextTooLong, len(trimmed), s.policy.MaxTextLength))
	}

	noteID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opAppend, "id_generation_failed", err, zap.String("board_key", key.String()))
		return Note{}, newStoreError(opAppend, "id_generation_failed", err)
	}

	note := Note{
		NoteID:         noteID,
		BoardKey:       key.String(),
		Text:           trimmed,
		Identity:       alias,
		Accent:         accent,
		CreatedAtNanos: s.clock().UTC().UnixNano(),
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&note).Error; err != nil {
			return newStoreError(opAppend, "note_insert_failed", err)
		}
		// Keep only the newest Cap notes; mirrors the product's
		// delete-beyond-the-newest-200 rule.
		excess := tx.Exec(
			`DELETE FROM board_notes WHERE board_key = ? AND note_id NOT IN (
				SELECT note_id FROM board_notes
				WHERE board_key = ?
				ORDER BY created_at_ns DESC, note_id DESC
				LIMIT ?
			)`,
			key.String(), key.String(), s.policy.Cap,
		)
		if excess.Error != nil {
			return newStoreError(opAppend, "cap_enforcement_failed", excess.Error)
		}
		return nil
	})
	if txErr != nil {
		s.logError(opAppend, "transaction_failed", txErr, zap.String("board_key", key.String()))
		return Note{}, txErr
	}

	return note, nil
}

// List returns the retained notes for the board, newest first. Unknown boards
// yield an empty slice, never an error.
func (s *Store) List(ctx context.Context, key Key) ([]Note, error) {
	var notes []Note
	err := s.db.WithContext(ctx).
		Where("board_key = ?", key.String()).
		Order("created_at_ns DESC, note_id DESC").
		Limit(s.policy.Cap).
		Find(&notes).Error
	if err != nil {
		s.logError(opList, "query_failed", err, zap.String("board_key", key.String()))
		return nil, newStoreError(opList, "query_failed", err)
	}
	if notes == nil {
		notes = []Note{}
	}
	return notes, nil
}

// DeleteByID removes a single note and reports whether anything was removed.
// Deleting an absent note is a successful no-op.
func (s *Store) DeleteByID(ctx context.Context, key Key, noteID string) (bool, error) {
	result := s.db.WithContext(ctx).
		Where("board_key = ? AND note_id = ?", key.String(), noteID).
		Delete(&Note{})
	if result.Error != nil {
		s.logError(opDelete, "delete_failed", result.Error,
			zap.String("board_key", key.String()),
			zap.String("note_id", noteID))
		return false, newStoreError(opDelete, "delete_failed", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// Clear removes every note on the board. Idempotent.
func (s *Store) Clear(ctx context.Context, key Key) error {
	err := s.db.WithContext(ctx).
		Where("board_key = ?", key.String()).
		Delete(&Note{}).Error
	if err != nil {
		s.logError(opClear, "clear_failed", err, zap.String("board_key", key.String()))
		return newStoreError(opClear, "clear_failed", err)
	}
	return nil
}

// SweepExpired deletes every note of every board whose newest note is older
// than the retention window relative to now, and returns the affected keys.
// Inactive boards are forgotten wholesale rather than trimmed note by note.
func (s *Store) SweepExpired(ctx context.Context, now time.Time) ([]Key, error) {
	cutoff := now.UTC().Add(-s.policy.Expiry).UnixNano()

	var staleKeys []string
	err := s.db.WithContext(ctx).
		Model(&Note{}).
		Group("board_key").
		Having("MAX(created_at_ns) < ?", cutoff).
		Pluck("board_key", &staleKeys).Error
	if err != nil {
		s.logError(opSweep, "stale_query_failed", err)
		return nil, newStoreError(opSweep, "stale_query_failed", err)
	}
	if len(staleKeys) == 0 {
		return nil, nil
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Re-check the cutoff inside the delete so a board revived by a
		// concurrent append between the two statements survives intact.
		return tx.Exec(
			`DELETE FROM board_notes WHERE board_key IN (
				SELECT board_key FROM board_notes
				GROUP BY board_key
				HAVING MAX(created_at_ns) < ?
			)`,
			cutoff,
		).Error
	})
	if txErr != nil {
		s.logError(opSweep, "delete_failed", txErr)
		return nil, newStoreError(opSweep, "delete_failed", txErr)
	}

	evicted := make([]Key, 0, len(staleKeys))
	for _, raw := range staleKeys {
		evicted = append(evicted, Key(raw))
	}
	return evicted, nil
}

func (s *Store) loggerOrDefault() *zap.Logger {
	if s == nil || s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Store) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("board store error", attrs...)
}
