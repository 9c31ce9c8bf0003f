// Package pagination encodes opaque keyset cursors for list endpoints.
package pagination

import (
	"encoding/base64"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultLimit = 25
	MaxLimit     = 100
)

const (
	kindTime     = "t"
	kindSequence = "seq"
	sep          = "|"
)

// ErrInvalidCursor is returned for any cursor this package did not produce.
var ErrInvalidCursor = errors.New("invalid cursor")

// Params holds cursor pagination inputs from controllers or services.
type Params struct {
	Limit  int
	Cursor string
}

// Cursor points just past the last row of a (created_at, id) ordered page.
type Cursor struct {
	CreatedAt time.Time
	ID        uuid.UUID
}

// NormalizeLimit clamps limit into [1, MaxLimit], using DefaultLimit for unset values.
func NormalizeLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	}
	return limit
}

// LimitWithBuffer asks for one extra row so callers can tell whether a next page exists.
func LimitWithBuffer(limit int) int {
	return NormalizeLimit(limit) + 1
}

func encode(kind string, fields ...string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(kind + sep + strings.Join(fields, sep)))
}

// decode returns the cursor fields, or nil for a blank cursor.
func decode(value, kind string, n int) ([]string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(value)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	parts := strings.Split(string(raw), sep)
	if len(parts) != n+1 || parts[0] != kind {
		return nil, ErrInvalidCursor
	}
	return parts[1:], nil
}

func EncodeCursor(cursor Cursor) string {
	return encode(kindTime, cursor.CreatedAt.UTC().Format(time.RFC3339Nano), cursor.ID.String())
}

// ParseCursor decodes a cursor from EncodeCursor. A blank value yields nil.
func ParseCursor(value string) (*Cursor, error) {
	fields, err := decode(value, kindTime, 2)
	if err != nil || fields == nil {
		return nil, err
	}
	at, err := time.Parse(time.RFC3339Nano, fields[0])
	if err != nil {
		return nil, ErrInvalidCursor
	}
	id, err := uuid.Parse(fields[1])
	if err != nil {
		return nil, ErrInvalidCursor
	}
	return &Cursor{CreatedAt: at, ID: id}, nil
}

// EncodeSequenceCursor builds a cursor for sequence-ordered feeds such as a SKU ledger.
func EncodeSequenceCursor(sequence int64) string {
	return encode(kindSequence, strconv.FormatInt(sequence, 10))
}

// ParseSequenceCursor decodes a sequence cursor; an empty value yields 0.
func ParseSequenceCursor(value string) (int64, error) {
	fields, err := decode(value, kindSequence, 1)
	if err != nil || fields == nil {
		return 0, err
	}
	seq, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil || seq < 0 {
		return 0, ErrInvalidCursor
	}
	return seq, nil
}
