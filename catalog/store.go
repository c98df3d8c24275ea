// Package catalog persists raster datasets and their metadata records.
//
// The schema holds four tables: catalog_version, keys (the key fields the
// catalog was created with), datasets (one row per key with the source file
// path) and metadata (one row per key with the statistics and footprint).
// Every mutating call runs in a single transaction so a dataset row is never
// visible without its metadata row.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	sq "github.com/Masterminds/squirrel"
	"go.uber.org/zap"
)

const SchemaVersion = "1"

type Store struct {
	db      *sql.DB
	dialect dialect
	builder sq.StatementBuilderType
	log     *zap.SugaredLogger

	mu     sync.Mutex
	schema Schema

	// beforeMetadataWrite runs inside Upsert between the dataset and the
	// metadata writes.
	beforeMetadataWrite func() error
}

// Open connects to a catalog database. driver is either "sqlite" or
// "postgres"; dsn is passed to the driver unchanged. For sqlite, ":memory:"
// or a file path.
func Open(driver, dsn string, log *zap.SugaredLogger) (*Store, error) {
	d, err := lookupDialect(driver)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	db, err := sql.Open(d.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening %s catalog: %w", driver, err)
	}

	if driver == DriverSQLite {
		// A single connection serialises writers and keeps :memory:
		// databases coherent.
		db.SetMaxOpenConns(1)
		for _, pragma := range []string{"PRAGMA journal_mode = WAL", "PRAGMA busy_timeout = 5000"} {
			if _, err := db.Exec(pragma); err != nil {
				db.Close()
				return nil, fmt.Errorf("%s: %w", pragma, err)
			}
		}
	} else if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to %s catalog: %w", driver, err)
	}

	return &Store{
		db:      db,
		dialect: d,
		builder: sq.StatementBuilder.PlaceholderFormat(d.placeholder),
		log:     log,
	}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// CreateSchema creates the catalog tables and records the key fields. It is a
// no-op when the catalog already holds the same key fields and fails with
// ErrSchemaMismatch when it holds different ones.
func (s *Store) CreateSchema(ctx context.Context, keys Schema) error {
	if err := keys.validate(); err != nil {
		return err
	}

	existing, err := s.ListKeys(ctx)
	if err == nil {
		if existing.sameNames(keys) {
			return nil
		}
		return fmt.Errorf("%w: have %v, requested %v", ErrSchemaMismatch, existing.Names(), keys.Names())
	}
	if !errors.Is(err, ErrSchema) {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range s.createStatements(keys) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("creating catalog schema: %w", err)
		}
	}

	query, args, err := s.builder.Insert("catalog_version").Columns("version").Values(SchemaVersion).ToSql()
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("writing catalog version: %w", err)
	}

	insertKeys := s.builder.Insert("keys").Columns("idx", quote("key"), "description")
	for i, k := range keys {
		insertKeys = insertKeys.Values(i, k.Name, k.Description)
	}
	query, args, err = insertKeys.ToSql()
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("writing key definitions: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	s.mu.Lock()
	s.schema = append(Schema(nil), keys...)
	s.mu.Unlock()

	s.log.Infow("catalog schema created", "keys", keys.Names(), "version", SchemaVersion)
	return nil
}

func (s *Store) createStatements(keys Schema) []string {
	d := s.dialect
	keyCols := ""
	for _, k := range keys {
		keyCols += fmt.Sprintf("%s %s NOT NULL, ", quote(k.Name), d.textType)
	}
	pk := ""
	for i, name := range quoteAll(keys.Names()) {
		if i > 0 {
			pk += ", "
		}
		pk += name
	}

	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS catalog_version (version %s NOT NULL)`, d.textType),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS keys (idx %s NOT NULL, "key" %s NOT NULL, description %s NOT NULL DEFAULT '', PRIMARY KEY (idx))`,
			d.intType, d.textType, d.textType),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS datasets (%sfilepath %s NOT NULL, PRIMARY KEY (%s))`,
			keyCols, d.textType, pk),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS metadata (%s`+
			`bounds_north %[2]s, bounds_east %[2]s, bounds_south %[2]s, bounds_west %[2]s, `+
			`convex_hull %[3]s, valid_percentage %[2]s, "min" %[2]s, "max" %[2]s, mean %[2]s, stdev %[2]s, `+
			`percentiles %[4]s, metadata %[3]s, footprint_wkt %[3]s, PRIMARY KEY (%[5]s))`,
			keyCols, d.realType, d.textType, d.blobType, pk),
	}
}

// ListKeys returns the key fields in schema order. A missing keys table,
// unreadable rows or an empty table are reported as ErrSchema; other
// failures such as a locked database are returned as they are.
func (s *Store) ListKeys(ctx context.Context) (Schema, error) {
	query, args, err := s.builder.Select(quote("key"), "description").From("keys").OrderBy("idx").ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, schemaError("listing keys", err)
	}
	defer rows.Close()

	var keys Schema
	for rows.Next() {
		var k KeyDef
		if err := rows.Scan(&k.Name, &k.Description); err != nil {
			return nil, fmt.Errorf("%w: unreadable key definition: %v", ErrSchema, err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, schemaError("listing keys", err)
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("%w: no key definitions", ErrSchema)
	}

	s.mu.Lock()
	s.schema = keys
	s.mu.Unlock()

	return keys, nil
}

// Schema returns the key fields, reading them from the catalog on first use.
func (s *Store) Schema(ctx context.Context) (Schema, error) {
	s.mu.Lock()
	cached := s.schema
	s.mu.Unlock()
	if cached != nil {
		return cached, nil
	}
	return s.ListKeys(ctx)
}

// Drop removes every catalog table.
func (s *Store) Drop(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, table := range []string{"metadata", "datasets", "keys", "catalog_version"} {
		if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+table); err != nil {
			return fmt.Errorf("dropping %s: %w", table, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	s.mu.Lock()
	s.schema = nil
	s.mu.Unlock()

	s.log.Warnw("catalog dropped")
	return nil
}

// EnsureSchema leaves a healthy catalog with the requested keys alone and
// otherwise resets it: the tables are dropped and created again. nuke forces
// the reset.
func (s *Store) EnsureSchema(ctx context.Context, keys Schema, nuke bool) (reset bool, err error) {
	if !nuke {
		existing, err := s.ListKeys(ctx)
		switch {
		case err == nil && existing.sameNames(keys):
			return false, nil
		case err == nil:
			s.log.Warnw("catalog keys differ, resetting", "have", existing.Names(), "want", keys.Names())
		case errors.Is(err, ErrSchema):
			s.log.Warnw("catalog schema unhealthy, resetting", zap.Error(err))
		default:
			return false, err
		}
	}

	if err := s.Drop(ctx); err != nil {
		return false, err
	}
	if err := s.CreateSchema(ctx, keys); err != nil {
		return false, err
	}
	return true, nil
}
