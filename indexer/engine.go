// Package indexer keeps a catalog in step with a directory of rasters.
//
// A sync pass scans the source directory, diffs it against the catalog,
// extracts metadata for new files on a bounded worker pool and applies the
// results from a single goroutine.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/panjf2000/ants"
	"github.com/spf13/afero"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/nci/rastercat/catalog"
	extr "github.com/nci/rastercat/crawl/extractor"
	"github.com/nci/rastercat/metrics"
)

const DefaultWorkers = 3

// Catalog is the part of the catalog store a sync pass writes to.
type Catalog interface {
	ListDatasets(ctx context.Context) ([]catalog.Dataset, error)
	Upsert(ctx context.Context, key catalog.Key, filepath string, md *extr.Metadata) error
	Delete(ctx context.Context, key catalog.Key) error
}

type Config struct {
	SourceDir     string
	Extension     string
	Filter        string
	Workers       int
	DensifyPoints int
	// ForceAll recomputes every source file, cataloged or not.
	ForceAll bool
}

type Engine struct {
	Catalog Catalog
	Fs      afero.Fs
	// NewReader is called once per extraction task.
	NewReader func() extr.Reader
	Logger    *zap.SugaredLogger
	Metrics   metrics.Logger
}

// Report lists the keys touched by a pass.
type Report struct {
	Added    []string
	Removed  []string
	Skipped  []string
	Failed   map[string]error
	Writes   int
	Duration time.Duration
}

type task struct {
	key  string
	path string
}

type outcome struct {
	task
	res extr.Result
}

func (e *Engine) log() *zap.SugaredLogger {
	if e.Logger == nil {
		return zap.NewNop().Sugar()
	}
	return e.Logger
}

// Sync runs one pass and blocks until every result has been applied. Per-file
// extraction failures are reported in Report.Failed; the returned error is
// set when the pass could not start or a catalog write failed.
func (e *Engine) Sync(ctx context.Context, cfg Config) (*Report, error) {
	log := e.log()
	collector := metrics.NewMetricsCollector(e.Metrics)
	collector.Info.SourceDir = cfg.SourceDir
	collector.Info.ForceAll = cfg.ForceAll
	start := time.Now()

	scanner, err := NewScanner(e.Fs, cfg.Extension, cfg.Filter)
	if err != nil {
		return nil, fmt.Errorf("filter expression: %w", err)
	}
	listing, err := scanner.Scan(cfg.SourceDir)
	if err != nil {
		return nil, err
	}
	sources := listing.Sources
	datasets, err := e.Catalog.ListDatasets(ctx)
	if err != nil {
		return nil, err
	}

	cataloged := make(map[string]catalog.Key, len(datasets))
	for _, ds := range datasets {
		cataloged[ds.Key.String()] = ds.Key
	}
	collector.Info.NumSources = len(sources)
	collector.Info.NumCataloged = len(cataloged)

	toAdd, toRemove := diff(sources, cataloged, cfg.ForceAll)
	report := &Report{Failed: map[string]error{}}

	// A key claimed by several files is left as it is in the catalog.
	for key, paths := range listing.Conflicts {
		log.Errorw("several source files map to one key", "key", key, "paths", paths)
		report.Failed[key] = fmt.Errorf("files %v map to the same key %q", paths, key)
	}
	toRemove = without(toRemove, listing.Conflicts)

	if len(toAdd) == 0 && len(toRemove) == 0 {
		log.Infow("catalog up to date", "source_dir", cfg.SourceDir, "datasets", len(cataloged))
		report.Duration = time.Since(start)
		collector.Info.Failed = len(report.Failed)
		collector.Log()
		return report, nil
	}
	log.Infow("sync pass started",
		"source_dir", cfg.SourceDir,
		"to_add", len(toAdd),
		"to_remove", len(toRemove),
		"force", cfg.ForceAll,
	)

	tasks := make([]task, len(toAdd))
	for i, key := range toAdd {
		tasks[i] = task{key: key, path: sources[key]}
	}
	outcomes, err := e.extractAll(ctx, tasks, cfg)
	if err != nil {
		return nil, err
	}

	var writeErr error
	for _, o := range outcomes {
		switch o.res.Status {
		case extr.Success:
			if err := e.Catalog.Upsert(ctx, catalog.Key{o.key}, o.path, o.res.Metadata); err != nil {
				log.Errorw("catalog upsert failed", "key", o.key, zap.Error(err))
				report.Failed[o.key] = err
				writeErr = multierr.Append(writeErr, err)
				continue
			}
			report.Writes++
			report.Added = append(report.Added, o.key)

		case extr.Skip:
			log.Warnw("removing source without valid data", "key", o.key, "path", o.path, "reason", o.res.Reason)
			if err := e.Fs.Remove(o.path); err != nil {
				log.Errorw("removing source failed", "path", o.path, zap.Error(err))
			}
			if key, ok := cataloged[o.key]; ok {
				if err := e.Catalog.Delete(ctx, key); err != nil {
					log.Errorw("catalog delete failed", "key", o.key, zap.Error(err))
					writeErr = multierr.Append(writeErr, err)
				} else {
					report.Writes++
				}
			}
			report.Skipped = append(report.Skipped, o.key)

		default:
			log.Errorw("extraction failed", "key", o.key, "path", o.path, zap.Error(o.res.Err))
			report.Failed[o.key] = o.res.Err
		}
	}

	for _, name := range toRemove {
		if err := e.Catalog.Delete(ctx, cataloged[name]); err != nil {
			log.Errorw("catalog delete failed", "key", name, zap.Error(err))
			writeErr = multierr.Append(writeErr, err)
			continue
		}
		report.Writes++
		report.Removed = append(report.Removed, name)
	}

	sort.Strings(report.Added)
	sort.Strings(report.Skipped)
	report.Duration = time.Since(start)

	collector.Info.Added = len(report.Added)
	collector.Info.Removed = len(report.Removed)
	collector.Info.Skipped = len(report.Skipped)
	collector.Info.Failed = len(report.Failed)
	collector.Info.Writes = report.Writes
	collector.Log()

	return report, writeErr
}

// SchemaManager prepares the catalog tables.
type SchemaManager interface {
	EnsureSchema(ctx context.Context, keys catalog.Schema, nuke bool) (bool, error)
}

// SyncCatalog makes sure the catalog is keyed by file name and runs one pass.
// When the pass finds catalog tables missing, the catalog is reset and the
// pass runs once more. Any other error is returned without touching the
// catalog.
func (e *Engine) SyncCatalog(ctx context.Context, schema SchemaManager, cfg Config, nuke bool) (*Report, error) {
	if _, err := schema.EnsureSchema(ctx, catalog.FileSchema, nuke); err != nil {
		return nil, err
	}

	report, err := e.Sync(ctx, cfg)
	if !errors.Is(err, catalog.ErrSchema) {
		return report, err
	}

	e.log().Warnw("catalog schema missing during sync, resetting", zap.Error(err))
	if _, err := schema.EnsureSchema(ctx, catalog.FileSchema, true); err != nil {
		return nil, err
	}
	return e.Sync(ctx, cfg)
}

// diff returns the sorted keys to extract and to drop. In force mode every
// source is extracted again.
func diff(sources map[string]string, cataloged map[string]catalog.Key, force bool) (toAdd, toRemove []string) {
	for key := range sources {
		if _, ok := cataloged[key]; force || !ok {
			toAdd = append(toAdd, key)
		}
	}
	for key := range cataloged {
		if _, ok := sources[key]; !ok {
			toRemove = append(toRemove, key)
		}
	}
	sort.Strings(toAdd)
	sort.Strings(toRemove)
	return toAdd, toRemove
}

func without(keys []string, excluded map[string][]string) []string {
	kept := keys[:0]
	for _, key := range keys {
		if _, ok := excluded[key]; !ok {
			kept = append(kept, key)
		}
	}
	return kept
}

// extractAll fans tasks out to a pool of cfg.Workers goroutines and waits for
// all of them.
func (e *Engine) extractAll(ctx context.Context, tasks []task, cfg Config) ([]outcome, error) {
	if len(tasks) == 0 {
		return nil, nil
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}

	pool, err := ants.NewPool(workers)
	if err != nil {
		return nil, fmt.Errorf("creating worker pool: %w", err)
	}
	defer pool.Release()

	results := make(chan outcome, len(tasks))
	var wg sync.WaitGroup
	var ctxErr error
	for _, t := range tasks {
		if ctxErr = ctx.Err(); ctxErr != nil {
			break
		}
		t := t
		wg.Add(1)
		err := pool.Submit(func() {
			defer wg.Done()
			results <- e.runTask(t, cfg.DensifyPoints)
		})
		if err != nil {
			wg.Done()
			results <- outcome{task: t, res: extr.Result{
				Path:   t.path,
				Status: extr.Failure,
				Err:    fmt.Errorf("submitting extraction: %w", err),
			}}
		}
	}
	wg.Wait()
	close(results)

	if ctxErr != nil {
		return nil, ctxErr
	}

	outcomes := make([]outcome, 0, len(tasks))
	for o := range results {
		outcomes = append(outcomes, o)
	}
	sort.Slice(outcomes, func(i, j int) bool { return outcomes[i].key < outcomes[j].key })
	return outcomes, nil
}

// runTask extracts one file with its own reader. A panic is turned into a
// failure for that file.
func (e *Engine) runTask(t task, densify int) (out outcome) {
	out.task = t
	defer func() {
		if r := recover(); r != nil {
			out.res = extr.Result{
				Path:   t.path,
				Status: extr.Failure,
				Err:    fmt.Errorf("extraction panicked: %v", r),
			}
		}
	}()

	out.res = extr.NewExtractor(e.NewReader(), densify).Extract(t.path)
	return out
}
