package migrate

import (
	"bufio"
	"bytes"
	"fmt"
	"io/fs"
	"regexp"
	"strings"
)

var sqlFileRe = regexp.MustCompile(`^(\d{14})_[a-z0-9_]+\.sql$`)

const (
	annotationUp    = "-- +goose Up"
	annotationDown  = "-- +goose Down"
	annotationBegin = "-- +goose StatementBegin"
	annotationEnd   = "-- +goose StatementEnd"
)

// ValidateFS checks every .sql file in the root of fsys: the filename carries a
// unique 14 digit version, both directions are present, and StatementBegin/End
// blocks are balanced and never span a direction marker.
func ValidateFS(fsys fs.FS) error {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}

	seen := map[string]string{}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}
		m := sqlFileRe.FindStringSubmatch(name)
		if m == nil {
			return fmt.Errorf("invalid migration filename %q (expected YYYYMMDDHHMMSS_name.sql)", name)
		}
		if prev, ok := seen[m[1]]; ok {
			return fmt.Errorf("duplicate migration version %s in %q and %q", m[1], prev, name)
		}
		seen[m[1]] = name

		body, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("read %q: %w", name, err)
		}
		if err := checkAnnotations(body); err != nil {
			return fmt.Errorf("migration %q: %w", name, err)
		}
	}
	return nil
}

func checkAnnotations(body []byte) error {
	var up, down, open bool
	scanner := bufio.NewScanner(bytes.NewReader(body))
	line := 0
	for scanner.Scan() {
		line++
		switch strings.TrimSpace(scanner.Text()) {
		case annotationUp:
			if open {
				return fmt.Errorf("line %d: Up marker inside a statement block", line)
			}
			up = true
		case annotationDown:
			if open {
				return fmt.Errorf("line %d: Down marker inside a statement block", line)
			}
			if !up {
				return fmt.Errorf("line %d: Down before Up", line)
			}
			down = true
		case annotationBegin:
			if open {
				return fmt.Errorf("line %d: nested StatementBegin", line)
			}
			open = true
		case annotationEnd:
			if !open {
				return fmt.Errorf("line %d: StatementEnd without StatementBegin", line)
			}
			open = false
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	switch {
	case !up:
		return fmt.Errorf("missing %q", annotationUp)
	case !down:
		return fmt.Errorf("missing %q", annotationDown)
	case open:
		return fmt.Errorf("unterminated StatementBegin")
	}
	return nil
}
