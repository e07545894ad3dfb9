package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/quarry/pkg/backup"
	"github.com/cuemby/quarry/pkg/buffer"
	"github.com/cuemby/quarry/pkg/config"
	"github.com/cuemby/quarry/pkg/lock"
	"github.com/cuemby/quarry/pkg/log"
	"github.com/cuemby/quarry/pkg/metrics"
	"github.com/cuemby/quarry/pkg/schema"
	"github.com/cuemby/quarry/pkg/syncutil"
	"github.com/cuemby/quarry/pkg/trans"
	"github.com/cuemby/quarry/pkg/vfile"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var (
	configPath string
	logLevel   string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "quarry",
	Short: "Quarry - Relational storage and transaction engine",
	Long: `Quarry is the storage and transaction core of a relational
database engine: a buffer pool over page-structured files, MVCC
transactions under two-phase locking with deadlock detection, B-tree,
array and full-text index drivers, and a serializable executor.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Quarry version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(backupCmd)
}

func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if configPath != "" {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return nil, err
		}
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	componentLevels := make(map[string]log.Level, len(cfg.LogComponents))
	for component, level := range cfg.LogComponents {
		componentLevels[component] = log.Level(level)
	}
	log.Init(log.Config{
		Level:           log.Level(cfg.LogLevel),
		JSONOutput:      cfg.LogJSON,
		Output:          os.Stdout,
		ComponentLevels: componentLevels,
	})
	return cfg, nil
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the engine",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		syncutil.Initialize(cfg.DetectDeadlock)
		defer syncutil.Terminate()

		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return err
		}
		store, err := schema.NewBoltStore(cfg.DataDir)
		if err != nil {
			return err
		}
		defer store.Close()

		pool := buffer.NewPool(cfg.BufferPoolPages)
		defer pool.Close()

		lockMgr := lock.NewManager()
		txMgr := trans.NewManager(lockMgr)

		if cfg.MetricsAddr != "" {
			go func() {
				mux := http.NewServeMux()
				mux.Handle("/metrics", metrics.Handler())
				server := &http.Server{
					Addr:              cfg.MetricsAddr,
					Handler:           mux,
					ReadHeaderTimeout: 5 * time.Second,
				}
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Errorf("Metrics server failed", err)
				}
			}()
			log.Logger.Info().Str("addr", cfg.MetricsAddr).Msg("Metrics endpoint started")
		}

		log.Logger.Info().
			Str("data_dir", cfg.DataDir).
			Int("buffer_pool_pages", cfg.BufferPoolPages).
			Int("workers", cfg.Workers()).
			Msg("Engine started")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		log.Logger.Info().Uint64("commit_version", txMgr.Version()).Msg("Engine stopped")
		return nil
	},
}

var verifyCmd = &cobra.Command{
	Use:   "verify [file...]",
	Short: "Verify page checksums of engine files",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		for _, path := range args {
			f := vfile.New(path, cfg.PageSize)
			if err := f.Open(); err != nil {
				return err
			}
			if err := f.Verify(); err != nil {
				f.Close()
				return fmt.Errorf("verification of %s failed: %w", path, err)
			}
			if err := f.Close(); err != nil {
				return err
			}
			fmt.Printf("%s: ok (%d pages)\n", path, f.PageCount())
		}
		return nil
	},
}

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Inspect the backup registry",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		reg, err := backup.NewRegistry(cfg.DataDir)
		if err != nil {
			return err
		}
		defer reg.Close()

		snaps, err := reg.Interrupted()
		if err != nil {
			return err
		}
		if len(snaps) == 0 {
			fmt.Println("No interrupted backups")
			return nil
		}
		for _, s := range snaps {
			fmt.Printf("%s  database=%s  point=%d  started=%s\n",
				s.ID, s.Database, s.Point, s.StartedAt.Format(time.RFC3339))
		}
		return nil
	},
}
