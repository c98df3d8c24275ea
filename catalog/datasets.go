package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	extr "github.com/nci/rastercat/crawl/extractor"
)

type Dataset struct {
	Key      Key    `json:"key"`
	Filepath string `json:"filepath"`
}

// checkKey validates the key arity against the schema before any write.
func (s *Store) checkKey(ctx context.Context, key Key) (Schema, error) {
	schema, err := s.Schema(ctx)
	if err != nil {
		return nil, err
	}
	if len(key) != len(schema) {
		return nil, &KeyArityError{Got: len(key), Want: len(schema)}
	}
	return schema, nil
}

func keyFilter(schema Schema, key Key) sq.Eq {
	eq := sq.Eq{}
	for i, k := range schema {
		eq[quote(k.Name)] = key[i]
	}
	return eq
}

func (s *Store) exec(ctx context.Context, tx *sql.Tx, b sq.Sqlizer) error {
	query, args, err := b.ToSql()
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, query, args...)
	return err
}

// Upsert replaces the dataset and metadata rows of key in one transaction.
func (s *Store) Upsert(ctx context.Context, key Key, filepath string, md *extr.Metadata) error {
	schema, err := s.checkKey(ctx, key)
	if err != nil {
		return err
	}
	if err := md.Validate(); err != nil {
		return fmt.Errorf("dataset %s: %w", key, err)
	}

	values, err := encodeMetadata(md)
	if err != nil {
		return fmt.Errorf("dataset %s: %w", key, err)
	}

	keyCols := quoteAll(schema.Names())
	keyVals := make([]interface{}, len(key))
	for i, v := range key {
		keyVals[i] = v
	}
	filter := keyFilter(schema, key)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := s.exec(ctx, tx, s.builder.Delete("datasets").Where(filter)); err != nil {
		return fmt.Errorf("replacing dataset %s: %w", key, err)
	}
	err = s.exec(ctx, tx, s.builder.Insert("datasets").
		Columns(append(keyCols, "filepath")...).
		Values(append(keyVals, filepath)...))
	if err != nil {
		return fmt.Errorf("inserting dataset %s: %w", key, err)
	}

	if s.beforeMetadataWrite != nil {
		if err := s.beforeMetadataWrite(); err != nil {
			return fmt.Errorf("inserting metadata %s: %w", key, err)
		}
	}

	if err := s.exec(ctx, tx, s.builder.Delete("metadata").Where(filter)); err != nil {
		return fmt.Errorf("replacing metadata %s: %w", key, err)
	}
	err = s.exec(ctx, tx, s.builder.Insert("metadata").
		Columns(append(keyCols, quoteAll(metadataColumns)...)...).
		Values(append(keyVals, values...)...))
	if err != nil {
		return fmt.Errorf("inserting metadata %s: %w", key, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing dataset %s: %w", key, err)
	}

	s.log.Debugw("dataset upserted", "key", key.String(), "filepath", filepath)
	return nil
}

// Delete removes the dataset and metadata rows of key. Missing keys are not
// an error.
func (s *Store) Delete(ctx context.Context, key Key) error {
	schema, err := s.checkKey(ctx, key)
	if err != nil {
		return err
	}
	filter := keyFilter(schema, key)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := s.exec(ctx, tx, s.builder.Delete("datasets").Where(filter)); err != nil {
		return fmt.Errorf("deleting dataset %s: %w", key, err)
	}
	if err := s.exec(ctx, tx, s.builder.Delete("metadata").Where(filter)); err != nil {
		return fmt.Errorf("deleting metadata %s: %w", key, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing delete of %s: %w", key, err)
	}

	s.log.Debugw("dataset deleted", "key", key.String())
	return nil
}

// ListDatasets returns every dataset ordered by key.
func (s *Store) ListDatasets(ctx context.Context) ([]Dataset, error) {
	schema, err := s.Schema(ctx)
	if err != nil {
		return nil, err
	}
	keyCols := quoteAll(schema.Names())

	query, args, err := s.builder.Select(append(keyCols, "filepath")...).
		From("datasets").
		OrderBy(keyCols...).
		ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, schemaError("listing datasets", err)
	}
	defer rows.Close()

	var datasets []Dataset
	for rows.Next() {
		ds := Dataset{Key: make(Key, len(schema))}
		dest := make([]interface{}, 0, len(schema)+1)
		for i := range ds.Key {
			dest = append(dest, &ds.Key[i])
		}
		dest = append(dest, &ds.Filepath)
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("listing datasets: %w", err)
		}
		datasets = append(datasets, ds)
	}
	return datasets, rows.Err()
}

// GetMetadata decodes the metadata record of key.
func (s *Store) GetMetadata(ctx context.Context, key Key) (*extr.Metadata, error) {
	schema, err := s.checkKey(ctx, key)
	if err != nil {
		return nil, err
	}

	query, args, err := s.builder.Select(quoteAll(metadataColumns)...).
		From("metadata").
		Where(keyFilter(schema, key)).
		ToSql()
	if err != nil {
		return nil, err
	}

	var row metadataRow
	err = s.db.QueryRowContext(ctx, query, args...).Scan(row.scanTargets()...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("reading metadata %s: %w", key, err)
	}

	md, err := row.decode()
	if err != nil {
		return nil, fmt.Errorf("metadata %s: %w", key, err)
	}
	return md, nil
}

// GetFootprintWKT returns the footprint polygon of key as WKT.
func (s *Store) GetFootprintWKT(ctx context.Context, key Key) (string, error) {
	schema, err := s.checkKey(ctx, key)
	if err != nil {
		return "", err
	}

	query, args, err := s.builder.Select("footprint_wkt").
		From("metadata").
		Where(keyFilter(schema, key)).
		ToSql()
	if err != nil {
		return "", err
	}

	var wkt string
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&wkt)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return "", fmt.Errorf("reading footprint %s: %w", key, err)
	}
	return wkt, nil
}
