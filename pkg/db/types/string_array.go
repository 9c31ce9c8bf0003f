package dbtypes

import (
	"database/sql/driver"
	"fmt"
	"strings"

	"github.com/lib/pq"
)

// StringArray maps a Postgres text[] column. SQLite stores the same array literal as text.
type StringArray []string

func (StringArray) GormDataType() string {
	return "text[]"
}

func (a *StringArray) Scan(src any) error {
	if src == nil {
		*a = StringArray{}
		return nil
	}

	var raw pq.StringArray
	switch v := src.(type) {
	case string:
		if err := raw.Scan([]byte(v)); err != nil {
			return fmt.Errorf("StringArray: %w", err)
		}
	case []byte:
		if err := raw.Scan(v); err != nil {
			return fmt.Errorf("StringArray: %w", err)
		}
	default:
		return fmt.Errorf("StringArray: unsupported Scan type %T", src)
	}
	*a = StringArray(raw)
	return nil
}

func (a StringArray) Value() (driver.Value, error) {
	if len(a) == 0 {
		return "{}", nil
	}
	return pq.StringArray(a).Value()
}

// Normalized trims entries and drops blanks while keeping order.
func (a StringArray) Normalized() StringArray {
	out := make(StringArray, 0, len(a))
	for _, s := range a {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
