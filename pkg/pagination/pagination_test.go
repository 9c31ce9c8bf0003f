package pagination

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestNormalizeLimit(t *testing.T) {
	cases := map[int]int{0: DefaultLimit, -5: DefaultLimit, 10: 10, MaxLimit + 1: MaxLimit}
	for in, want := range cases {
		if got := NormalizeLimit(in); got != want {
			t.Fatalf("NormalizeLimit(%d) = %d, want %d", in, got, want)
		}
	}
	if got := LimitWithBuffer(10); got != 11 {
		t.Fatalf("expected buffer limit 11, got %d", got)
	}
}

func TestCursorRoundTrip(t *testing.T) {
	want := Cursor{CreatedAt: time.Date(2026, 3, 1, 10, 0, 0, 500, time.UTC), ID: uuid.New()}
	got, err := ParseCursor(EncodeCursor(want))
	if err != nil {
		t.Fatalf("parse cursor: %v", err)
	}
	if !got.CreatedAt.Equal(want.CreatedAt) || got.ID != want.ID {
		t.Fatalf("cursor mismatch: %+v vs %+v", got, want)
	}

	empty, err := ParseCursor("  ")
	if err != nil || empty != nil {
		t.Fatalf("expected nil cursor for blank input, got %+v %v", empty, err)
	}
	if _, err := ParseCursor("not-base64!"); !errors.Is(err, ErrInvalidCursor) {
		t.Fatalf("expected ErrInvalidCursor, got %v", err)
	}
	if _, err := ParseCursor(EncodeSequenceCursor(3)); !errors.Is(err, ErrInvalidCursor) {
		t.Fatalf("sequence cursor must not parse as a time cursor, got %v", err)
	}
}

func TestSequenceCursor(t *testing.T) {
	seq, err := ParseSequenceCursor(EncodeSequenceCursor(42))
	if err != nil || seq != 42 {
		t.Fatalf("expected 42, got %d (%v)", seq, err)
	}
	if seq, err := ParseSequenceCursor(""); err != nil || seq != 0 {
		t.Fatalf("expected 0 for empty cursor, got %d (%v)", seq, err)
	}
	if _, err := ParseSequenceCursor(EncodeCursor(Cursor{ID: uuid.New()})); err == nil {
		t.Fatal("expected error when a timestamp cursor is passed")
	}
}
