package board

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const maxBoardKeyLength = 64

var (
	// ErrInvalidBoardKey indicates that a board key is empty or exceeds storage bounds.
	ErrInvalidBoardKey = errors.New("board: invalid board key")
	// ErrEmptyText indicates that a note body is empty after trimming.
	ErrEmptyText = errors.New("board: empty note text")
	// ErrTextTooLong indicates that a note body exceeds the configured maximum.
	ErrTextTooLong = errors.New("board: note text too long")
)

// Key represents a validated opaque board key. Boards have no creation step;
// a key addresses whatever notes currently share it.
type Key string

// NewKey validates raw input and returns a Key.
func NewKey(rawInput string) (Key, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidBoardKey)
	}
	if len(trimmed) > maxBoardKeyLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidBoardKey, maxBoardKeyLength)
	}
	return Key(trimmed), nil
}

// String returns the underlying key value.
func (k Key) String() string {
	return string(k)
}

// Note models a single persisted confession. Notes are immutable after
// creation; the only lifecycle transition is deletion.
type Note struct {
	NoteID         string `gorm:"column:note_id;primaryKey;size:190;not null"`
	BoardKey       string `gorm:"column:board_key;size:64;not null;index:idx_notes_board_created,priority:1"`
	Text           string `gorm:"column:text;type:text;not null"`
	Identity       string `gorm:"column:identity;size:64;not null"`
	Accent         string `gorm:"column:accent;size:128;not null;default:''"`
	CreatedAtNanos int64  `gorm:"column:created_at_ns;not null;index:idx_notes_board_created,priority:2"`
}

// TableName provides the explicit table binding for GORM.
func (Note) TableName() string {
	return "board_notes"
}

// CreatedAt exposes the creation instant as a time value.
func (n Note) CreatedAt() time.Time {
	return time.Unix(0, n.CreatedAtNanos).UTC()
}
