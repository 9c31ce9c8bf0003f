package errors

import (
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestDumpCapturesTypedAndPostgresDetails(t *testing.T) {
	pgErr := &pgconn.PgError{Code: "40001", Message: "could not serialize access", TableName: "material_batches"}
	err := Wrap(CodeConcurrencyConflict, fmt.Errorf("update: %w", pgErr), "consume batch").
		WithDetails(map[string]any{"batch_id": "b-1"})

	dump := Dump(err)
	if dump.Code != CodeConcurrencyConflict {
		t.Fatalf("expected conflict code, got %s", dump.Code)
	}
	if !dump.Retryable {
		t.Fatalf("expected retryable dump")
	}
	if dump.SQLState != "40001" || dump.PGTable != "material_batches" {
		t.Fatalf("unexpected pg details %+v", dump)
	}
	if len(dump.Chain) != 3 {
		t.Fatalf("expected 3 chain links, got %d", len(dump.Chain))
	}

	fields := dump.Fields()
	if fields["sql_state"] != "40001" {
		t.Fatalf("expected sql_state field, got %v", fields["sql_state"])
	}
}

func TestDumpNil(t *testing.T) {
	if dump := Dump(nil); dump.TopMessage != "" || dump.Chain != nil {
		t.Fatalf("expected empty dump, got %+v", dump)
	}
}
