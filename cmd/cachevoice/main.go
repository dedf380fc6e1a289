// Command cachevoice runs the CacheVoice caching TTS reverse proxy.
//
// Grounded on the teacher's cmd/router entrypoint (config load -> logger
// init -> service construction -> signal-driven graceful shutdown),
// simplified to a pure cobra command tree per the spec's out-of-scope
// framing of the CLI/HTTP-framing layer as a thin collaborator.
package main

import (
    "context"
    "fmt"
    "os"
    "os/signal"
    "path/filepath"
    "syscall"

    "github.com/fatih/color"
    "github.com/spf13/cobra"

    "github.com/sametakofficial/cachevoice/internal/audiostore"
    "github.com/sametakofficial/cachevoice/internal/cache"
    "github.com/sametakofficial/cachevoice/internal/config"
    "github.com/sametakofficial/cachevoice/internal/evictor"
    "github.com/sametakofficial/cachevoice/internal/health"
    "github.com/sametakofficial/cachevoice/internal/hotindex"
    "github.com/sametakofficial/cachevoice/internal/httpapi"
    "github.com/sametakofficial/cachevoice/internal/metadatadb"
    "github.com/sametakofficial/cachevoice/internal/metrics"
    "github.com/sametakofficial/cachevoice/internal/pipeline"
    "github.com/sametakofficial/cachevoice/internal/provider"
    "github.com/sametakofficial/cachevoice/internal/reconciler"
    "github.com/sametakofficial/cachevoice/pkg/logger"
)

var (
    configFile string
    green      = color.New(color.FgGreen).SprintFunc()
    red        = color.New(color.FgRed).SprintFunc()
)

func main() {
    rootCmd := &cobra.Command{
        Use:   "cachevoice",
        Short: "Caching reverse proxy in front of TTS providers",
    }
    rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to config file")

    rootCmd.AddCommand(serveCmd(), checkConfigCmd())

    if err := rootCmd.Execute(); err != nil {
        fmt.Fprintf(os.Stderr, "%s %v\n", red("Error:"), err)
        os.Exit(1)
    }
}

func checkConfigCmd() *cobra.Command {
    return &cobra.Command{
        Use:   "check-config",
        Short: "Load and validate configuration without starting the server",
        RunE: func(cmd *cobra.Command, args []string) error {
            cfg, err := config.Load(configFile)
            if err != nil {
                return err
            }
            fmt.Printf("%s listening on %s, data_dir=%s\n", green("configuration OK:"), cfg.Server.Addr(), cfg.DataDir)
            return nil
        },
    }
}

func serveCmd() *cobra.Command {
    return &cobra.Command{
        Use:   "serve",
        Short: "Run the HTTP server",
        RunE: func(cmd *cobra.Command, args []string) error {
            return runServe(cmd.Context())
        },
    }
}

func runServe(ctx context.Context) error {
    cfg, err := config.Load(configFile)
    if err != nil {
        return fmt.Errorf("failed to load config: %w", err)
    }

    if err := logger.Init(logger.Config{
        Level:  cfg.Server.LogLevel,
        Format: cfg.Server.LogFormat,
        Output: "stdout",
    }); err != nil {
        return fmt.Errorf("failed to init logger: %w", err)
    }

    db, err := metadatadb.Open(ctx, filepath.Join(cfg.DataDir, "cache.db"))
    if err != nil {
        logger.Fatal("failed to open metadata database", err)
    }
    defer db.Close()

    store, err := audiostore.New(filepath.Join(cfg.DataDir, "audio"))
    if err != nil {
        logger.Fatal("failed to open audio store", err)
    }

    hot := hotindex.New()

    missing, err := cache.LoadHotIndex(ctx, db, store, hot, cfg.Cache.VarietyDepth)
    if err != nil {
        logger.Fatal("failed to load hot index", err)
    }
    if len(missing) > 0 {
        logger.WithField("count", len(missing)).Warn("hot index load: entries skipped for missing files")
    }

    reconcileResult, err := reconciler.Run(ctx, db, hot, store)
    if err != nil {
        logger.Fatal("startup reconciliation failed", err)
    }
    logger.WithField("orphan_db_entries", reconcileResult.OrphanDBEntries).
        WithField("orphan_files", reconcileResult.OrphanFiles).
        Info("startup reconciliation complete")

    c := cache.New(db, hot, store, cfg.Cache.Normalize, cfg.Cache.Fuzzy, cfg.Cache.VarietyDepth)

    chain := provider.NewChain(cfg.Providers, provider.NewHTTPProvider(func(name string) string {
        return fmt.Sprintf("http://%s.internal/synthesize", name)
    }))

    tracker := health.NewTracker(chain.Available())
    m := metrics.NewPrometheusMetrics()

    // No pipeline.Converter is wired: audio transcoding is an out-of-scope
    // external collaborator (spec §1). A hit whose stored format differs
    // from a request's response_format is served in its stored format.
    p := pipeline.New(c, chain, cfg.Cache, tracker, nil)

    ev := evictor.New(db, hot, store, cfg.Evictor.Interval, cfg.Cache.MaxEntries, cfg.Cache.MinAgeDays, func(count int) {
        for i := 0; i < count; i++ {
            m.IncrementCounter("evictions_total", nil)
        }
    })

    bgCtx, cancelBg := context.WithCancel(context.Background())
    defer cancelBg()
    go ev.Run(bgCtx)

    srv := httpapi.New(cfg.Server.Addr(), p, db, tracker, m)

    serveErr := make(chan error, 1)
    go func() { serveErr <- srv.Start() }()

    sigCh := make(chan os.Signal, 1)
    signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

    select {
    case err := <-serveErr:
        return err
    case <-sigCh:
        logger.Info("shutdown signal received")
    }

    cancelBg()
    return srv.Stop(cfg.Server.ShutdownTimeout)
}
