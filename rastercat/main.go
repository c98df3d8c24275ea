package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nci/rastercat/catalog"
	extr "github.com/nci/rastercat/crawl/extractor"
	"github.com/nci/rastercat/crawl/gdalreader"
	"github.com/nci/rastercat/indexer"
	"github.com/nci/rastercat/metrics"
	"github.com/nci/rastercat/utils"
)

var (
	cfg *utils.Config
	log *zap.SugaredLogger

	configFile string
	dsn        string
	driver     string
	logLevel   string

	sourceDir string
	extension string
	filter    string
	workers   int
	densify   int
	nuke      bool
	force     bool
	showWKT   bool
)

var rootCmd = &cobra.Command{
	Use:           "rastercat",
	Short:         "Catalog raster files and their metadata in a SQL database",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initializeConfig(cmd)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if log != nil {
			_ = log.Sync()
		}
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Bring the catalog in step with the source directory",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSync(cmd.Context())
	},
}

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "List the key fields of the catalog",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd.Context(), func(ctx context.Context, store *catalog.Store) error {
			keys, err := store.ListKeys(ctx)
			if err != nil {
				return err
			}
			for _, k := range keys {
				fmt.Printf("%s\t%s\n", k.Name, k.Description)
			}
			return nil
		})
	},
}

var datasetsCmd = &cobra.Command{
	Use:   "datasets",
	Short: "List cataloged datasets",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd.Context(), func(ctx context.Context, store *catalog.Store) error {
			datasets, err := store.ListDatasets(ctx)
			if err != nil {
				return err
			}
			for _, ds := range datasets {
				fmt.Printf("%s\t%s\n", ds.Key, ds.Filepath)
			}
			return nil
		})
	},
}

var showCmd = &cobra.Command{
	Use:   "show <key>...",
	Short: "Print the metadata record of a dataset as JSON",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd.Context(), func(ctx context.Context, store *catalog.Store) error {
			schema, err := store.Schema(ctx)
			if err != nil {
				return err
			}
			key, err := schema.Key(args...)
			if err != nil {
				return err
			}
			if showWKT {
				wkt, err := store.GetFootprintWKT(ctx, key)
				if err != nil {
					return err
				}
				fmt.Println(wkt)
				return nil
			}
			md, err := store.GetMetadata(ctx, key)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(md)
		})
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to a YAML configuration file. (Env: RASTERCAT_CONFIG)")
	rootCmd.PersistentFlags().StringVar(&dsn, "db", "", "Catalog data source name. (Env: RASTERCAT_DSN)")
	rootCmd.PersistentFlags().StringVar(&driver, "driver", "", "Catalog driver, sqlite or postgres. (Env: RASTERCAT_DRIVER)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Logging level (debug, info, warn, error). (Env: RASTERCAT_LOG_LEVEL)")

	syncCmd.Flags().StringVar(&sourceDir, "source", "", "Directory holding the source rasters. (Env: RASTERCAT_SOURCE_DIR)")
	syncCmd.Flags().StringVar(&extension, "extension", "", "Extension of the source rasters. (Env: RASTERCAT_EXTENSION)")
	syncCmd.Flags().StringVar(&filter, "filter", "", `Filter expression over path and type, e.g. 'path =~ "LC08_.*"'. (Env: RASTERCAT_FILTER)`)
	syncCmd.Flags().IntVar(&workers, "workers", 0, "Number of concurrent extractions. (Env: RASTERCAT_WORKERS)")
	syncCmd.Flags().IntVar(&densify, "densify", 0, "Points inserted along each footprint edge. (Env: RASTERCAT_DENSIFY_POINTS)")
	syncCmd.Flags().BoolVar(&nuke, "nuke", false, "Drop and recreate the catalog before syncing.")
	syncCmd.Flags().BoolVar(&force, "force", false, "Recompute metadata for every source file.")

	showCmd.Flags().BoolVar(&showWKT, "wkt", false, "Print the footprint polygon as WKT instead of the metadata record.")

	rootCmd.AddCommand(syncCmd, keysCmd, datasetsCmd, showCmd)
}

func initializeConfig(cmd *cobra.Command) error {
	if configFile == "" {
		configFile = os.Getenv("RASTERCAT_CONFIG")
	}

	var err error
	cfg, err = utils.LoadConfig(configFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	flags := cmd.Flags()
	if flags.Changed("db") {
		cfg.DSN = dsn
	}
	if flags.Changed("driver") {
		cfg.Driver = driver
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = logLevel
	}
	if flags.Changed("source") {
		cfg.SourceDir = sourceDir
	}
	if flags.Changed("extension") {
		cfg.Extension = extension
	}
	if flags.Changed("filter") {
		cfg.Filter = filter
	}
	if flags.Changed("workers") {
		cfg.Workers = workers
	}
	if flags.Changed("densify") {
		cfg.DensifyPoints = densify
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	log, err = utils.NewLogger(cfg.Log)
	return err
}

func withStore(ctx context.Context, fn func(context.Context, *catalog.Store) error) error {
	store, err := catalog.Open(cfg.Driver, cfg.DSN, log)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(ctx, store)
}

func metricsLogger() (metrics.Logger, func()) {
	stdout := metrics.NewStdoutLogger(log)
	if cfg.MetricsDir == "" {
		return stdout, func() {}
	}
	file := metrics.NewFileLogger(cfg.MetricsDir, cfg.MetricsMaxFileSize, cfg.MetricsMaxFiles, log)
	return metrics.MultiLogger{stdout, file}, func() { file.Close() }
}

func runSync(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	return withStore(ctx, func(ctx context.Context, store *catalog.Store) error {
		passMetrics, closeMetrics := metricsLogger()
		defer closeMetrics()

		engine := &indexer.Engine{
			Catalog:   store,
			Fs:        afero.NewOsFs(),
			NewReader: func() extr.Reader { return gdalreader.New() },
			Logger:    log,
			Metrics:   passMetrics,
		}
		config := indexer.Config{
			SourceDir:     cfg.SourceDir,
			Extension:     cfg.Extension,
			Filter:        cfg.Filter,
			Workers:       cfg.Workers,
			DensifyPoints: cfg.DensifyPoints,
			ForceAll:      force,
		}

		report, err := engine.SyncCatalog(ctx, store, config, nuke)
		if report != nil {
			fmt.Printf("added %d, removed %d, skipped %d, failed %d, writes %d in %s\n",
				len(report.Added), len(report.Removed), len(report.Skipped), len(report.Failed),
				report.Writes, report.Duration)
		}
		return err
	})
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
