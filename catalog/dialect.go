package catalog

import (
	"errors"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"
	_ "modernc.org/sqlite"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type dialect struct {
	driver      string
	placeholder sq.PlaceholderFormat
	realType    string
	textType    string
	blobType    string
	intType     string
}

var dialects = map[string]dialect{
	DriverSQLite: {
		driver:      "sqlite",
		placeholder: sq.Question,
		realType:    "REAL",
		textType:    "TEXT",
		blobType:    "BLOB",
		intType:     "INTEGER",
	},
	DriverPostgres: {
		driver:      "postgres",
		placeholder: sq.Dollar,
		realType:    "DOUBLE PRECISION",
		textType:    "TEXT",
		blobType:    "BYTEA",
		intType:     "INTEGER",
	},
}

func lookupDialect(name string) (dialect, error) {
	d, ok := dialects[name]
	if !ok {
		return dialect{}, fmt.Errorf("unsupported catalog driver %q", name)
	}
	return d, nil
}

func quote(ident string) string {
	return `"` + ident + `"`
}

func quoteAll(idents []string) []string {
	quoted := make([]string, len(idents))
	for i, id := range idents {
		quoted[i] = quote(id)
	}
	return quoted
}

// isMissingSchema reports whether err says a catalog table or column does
// not exist. Locking, connection and context errors are not schema errors.
func isMissingSchema(err error) bool {
	if err == nil {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		// undefined_table, undefined_column
		return pqErr.Code == "42P01" || pqErr.Code == "42703"
	}
	msg := err.Error()
	return strings.Contains(msg, "no such table") || strings.Contains(msg, "no such column")
}

// schemaError wraps err in ErrSchema when it means the schema is missing.
func schemaError(op string, err error) error {
	if isMissingSchema(err) {
		return fmt.Errorf("%w: %s: %v", ErrSchema, op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
