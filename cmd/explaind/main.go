package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/roamhq/roam-saas-ai/internal/answer"
	"github.com/roamhq/roam-saas-ai/internal/api"
	"github.com/roamhq/roam-saas-ai/internal/config"
	"github.com/roamhq/roam-saas-ai/internal/craft"
	"github.com/roamhq/roam-saas-ai/internal/engine"
	"github.com/roamhq/roam-saas-ai/internal/intent"
	"github.com/roamhq/roam-saas-ai/internal/kv"
	"github.com/roamhq/roam-saas-ai/internal/llm"
	"github.com/roamhq/roam-saas-ai/internal/logging"
	"github.com/roamhq/roam-saas-ai/internal/retrieval"
	"github.com/roamhq/roam-saas-ai/internal/schema"
	"github.com/roamhq/roam-saas-ai/internal/tenant"
)

// Set via -ldflags "-X main.version=...".
var version = "dev"

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "explaind",
	Short: "Explanation service for the Roam tourism platform",
	Long: `explaind answers "why does this product (not) appear here?" questions
about Roam-powered tourism sites. It inspects the CMS database to build a
deterministic filter trace, retrieves the platform code that implements
the behaviour, and has a language model turn both into prose.

Run without arguments to start the HTTP API.`,
	RunE: runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	RunE:  runServe,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the explaind version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("explaind " + version)
	},
}

// serverFlags registers the flags config.Load maps onto config keys.
// Defaults stay empty so only explicitly set flags override the file
// and environment layers.
func serverFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("addr", "", "Listen address (default :8080)")
	f.String("environment", "", "Runtime environment: production or development")
	f.String("dsn", "", "Postgres DSN for the Craft database")
	f.String("default-tenant", "", "Tenant used when a request names none")
	f.String("search-url", "", "Semantic-search service base URL")
	f.String("search-corpus", "", "Semantic-search corpus name")
	f.String("llm-provider", "", "LLM provider: anthropic, openai or gemini")
	f.String("llm-model", "", "Model override for the configured provider")
	f.String("kv-backend", "", "Cache backend: memory or sqlite")
	f.String("kv-path", "", "SQLite file path when kv-backend is sqlite")
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default explaind.yaml when present)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	serverFlags(rootCmd)
	serverFlags(serveCmd)
	rootCmd.AddCommand(serveCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	log, err := logging.New(cfg.Server.Environment, verbose)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := craft.Open(cfg.Database.DSN, craft.PoolConfig{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}, log)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	cache, closeCache, err := openCache(ctx, cfg.KV, log)
	if err != nil {
		return err
	}
	defer closeCache()

	client, err := llm.New(ctx, llm.Options{
		Provider:   llm.Provider(cfg.LLM.Provider),
		APIKey:     cfg.LLM.APIKey,
		BaseURL:    cfg.LLM.BaseURL,
		Model:      cfg.LLM.Model,
		Timeout:    cfg.LLM.Timeout,
		MaxRetries: cfg.LLM.MaxRetries,
	})
	if err != nil {
		return err
	}

	schemas := schema.NewResolver(cache, log)
	tenants := tenant.NewResolver(cache, cfg.Tenancy.Default, log)
	eng := engine.New(engine.Deps{
		Tenants:   tenants,
		Parser:    intent.NewParser(client, log),
		Collector: engine.NewCollector(store, schemas, cache, log),
		Retriever: retrieval.NewClient(retrieval.Config{
			URL:     cfg.Search.URL,
			Corpus:  cfg.Search.Corpus,
			Timeout: cfg.Search.Timeout,
		}, log),
		Generator: answer.NewGenerator(client, log),
		Log:       log,
	})

	srv := api.NewServer(api.Config{
		Addr:            cfg.Server.Addr,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, eng, tenants, schemas, log)

	log.Info("explaind starting",
		zap.String("version", version),
		zap.String("addr", cfg.Server.Addr),
		zap.String("environment", cfg.Server.Environment),
		zap.String("kvBackend", cfg.KV.Backend),
		zap.String("llmProvider", cfg.LLM.Provider))
	return srv.Serve(ctx)
}

// openCache builds the configured cache backend and starts its expiry
// sweeper. The returned func stops the sweeper and closes the store.
func openCache(ctx context.Context, cfg config.KVConfig, log *zap.Logger) (kv.Store, func(), error) {
	interval := cfg.SweepInterval
	if interval <= 0 {
		interval = time.Minute
	}

	if cfg.Backend == "sqlite" {
		store, err := kv.NewSQLite(cfg.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open kv store %s: %w", cfg.Path, err)
		}
		stop := startSweeper(ctx, interval, func() {
			if n, err := store.Sweep(ctx); err != nil {
				log.Warn("kv sweep failed", zap.Error(err))
			} else if n > 0 {
				log.Debug("kv sweep", zap.Int("expired", n))
			}
		})
		return store, func() { stop(); _ = store.Close() }, nil
	}

	store := kv.NewMemory()
	stop := startSweeper(ctx, interval, func() {
		if n := store.Sweep(); n > 0 {
			log.Debug("kv sweep", zap.Int("expired", n))
		}
	})
	return store, stop, nil
}

func startSweeper(ctx context.Context, every time.Duration, sweep func()) (stop func()) {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				sweep()
			case <-ctx.Done():
				return
			case <-done:
				return
			}
		}
	}()
	return func() { close(done) }
}
