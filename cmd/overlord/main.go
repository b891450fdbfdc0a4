// Command overlord is the Overlord process: it watches the
// configured code hosts for ready-to-work issues, spawns and supervises
// Minion containers, and runs the review pipeline against their pull
// requests. The composition root builds every collaborator once (config
// dir, config.Initialize, service construction, gin router, graceful
// shutdown on signal) around the event-driven scheduler, with cobra/viper
// subcommands.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/docker/docker/client"
	"github.com/gin-gonic/gin"
	"github.com/google/go-github/v68/github"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/oauth2"

	"github.com/nebulus-ai/overlord/pkg/audit"
	"github.com/nebulus-ai/overlord/pkg/config"
	"github.com/nebulus-ai/overlord/pkg/containers"
	"github.com/nebulus-ai/overlord/pkg/gitrepo"
	"github.com/nebulus-ai/overlord/pkg/llm"
	"github.com/nebulus-ai/overlord/pkg/masking"
	"github.com/nebulus-ai/overlord/pkg/notify"
	"github.com/nebulus-ai/overlord/pkg/queue"
	"github.com/nebulus-ai/overlord/pkg/review"
	"github.com/nebulus-ai/overlord/pkg/scheduler"
	"github.com/nebulus-ai/overlord/pkg/store"
	"github.com/nebulus-ai/overlord/pkg/storedb"
)

func main() {
	root := &cobra.Command{
		Use:   "overlord",
		Short: "Overlord schedules issues to Minion workers and reviews their pull requests",
	}
	root.PersistentFlags().String("config-dir", envOr("CONFIG_DIR", "./deploy/config"), "path to configuration directory")
	root.PersistentFlags().String("http-addr", envOr("HTTP_ADDR", ":8080"), "address the callback/operator HTTP surface listens on")
	_ = viper.BindPFlags(root.PersistentFlags())
	viper.AutomaticEnv()

	root.AddCommand(serveCmd())
	root.AddCommand(verifyAuditCmd())

	if err := root.Execute(); err != nil {
		log.Fatal(err)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the Overlord scheduler and HTTP surface",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), viper.GetString("config-dir"), viper.GetString("http-addr"))
		},
	}
}

func verifyAuditCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify-audit",
		Short: "Verify the audit trail's hash chain and print any integrity issues",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerifyAudit(cmd.Context(), viper.GetString("config-dir"))
		},
	}
}

func runServe(ctx context.Context, configDir, httpAddr string) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Printf("Starting Overlord")
	log.Printf("Config Directory: %s", configDir)

	cfg, err := config.Initialize(ctx, configDir)
	if err != nil {
		return fmt.Errorf("initializing configuration: %w", err)
	}

	db, err := storedb.Open(ctx, dbConfigFromEnv())
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	deps, cleanup, err := buildDeps(ctx, cfg, db.Conn(), httpAddr)
	if err != nil {
		return fmt.Errorf("building scheduler dependencies: %w", err)
	}
	defer cleanup()

	sched := scheduler.New(cfg, deps, callbackBaseURL(httpAddr))

	watcher, err := config.NewWatcher(configDir, func(reloaded *config.Config) {
		sched.Submit(scheduler.ConfigReloadedEvent{
			WatchedRepos: reloaded.WatchedRepos,
			Labels:       reloaded.Labels,
		})
	})
	if err != nil {
		log.Printf("config hot-reload disabled: %v", err)
	}

	var wg errgroupLike
	wg.Go(func() { sched.Run(ctx) })
	if watcher != nil {
		wg.Go(func() { watcher.Run(ctx) })
		defer watcher.Stop()
	}

	router := gin.Default()
	sched.RegisterRoutes(router)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	srv := &http.Server{Addr: httpAddr, Handler: router}
	wg.Go(func() {
		log.Printf("HTTP server listening on %s", httpAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("http server exited", "error", err)
		}
	})

	<-ctx.Done()
	log.Printf("shutdown signal received, draining")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	sched.Stop()
	wg.Wait()

	return nil
}

func runVerifyAudit(ctx context.Context, configDir string) error {
	if _, err := config.Initialize(ctx, configDir); err != nil {
		return fmt.Errorf("initializing configuration: %w", err)
	}

	db, err := storedb.Open(ctx, dbConfigFromEnv())
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	auditStore := audit.NewStore(db.Conn(), nil)
	valid, issues, err := auditStore.VerifyIntegrity(ctx)
	if err != nil {
		return fmt.Errorf("verifying audit trail: %w", err)
	}

	if valid {
		fmt.Println("audit trail OK: hash chain intact")
		return nil
	}

	fmt.Println("audit trail INTEGRITY FAILURE:")
	for _, issue := range issues {
		fmt.Println(" -", issue)
	}
	return fmt.Errorf("audit trail has %d integrity issue(s)", len(issues))
}

// buildDeps wires every Scheduler collaborator
// from the loaded configuration: the state store and audit trail always
// come up; the queue scanner, container manager, review pipeline,
// notification sink, and cross-process answer buffer degrade to nil (the
// Scheduler's documented "corresponding behavior disabled" fallback) when
// their prerequisites (a GitHub token, a Redis URL, a reachable LLM
// provider) aren't configured.
func buildDeps(ctx context.Context, cfg *config.Config, conn *sql.DB, httpAddr string) (scheduler.Deps, func(), error) {
	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	st := store.New(conn)

	var signer *audit.Signer
	if seed := os.Getenv("OVERLORD_AUDIT_SIGNING_KEY"); seed != "" {
		s, err := audit.NewSigner(seed)
		if err != nil {
			return scheduler.Deps{}, cleanup, fmt.Errorf("building audit signer: %w", err)
		}
		signer = s
	}
	auditStore := audit.NewStore(conn, signer)

	deps := scheduler.Deps{Store: st, Audit: auditStore}

	token := os.Getenv(cfg.GitHub.TokenEnv)
	var gh *github.Client
	if token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
		gh = github.NewClient(oauth2.NewClient(ctx, ts))
		deps.Queue = queue.New(gh, cfg.Labels, cfg.Scheduler, 0, 0)
	} else {
		slog.Warn("github token not set; queue scanning disabled", "env", cfg.GitHub.TokenEnv)
	}

	dockerCli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	stub := err != nil
	if stub {
		slog.Warn("docker client unavailable; container manager running in stub mode", "error", err)
	}
	deps.Containers = containers.New(containers.Config{
		ImageName:        envOr("MINION_IMAGE", "nebulus-ai/minion:latest"),
		WorkspaceBaseDir: envOr("MINION_WORKSPACE_BASE", "/var/lib/overlord/workspaces"),
		Stub:             stub,
	}, dockerCli)

	if gh != nil {
		host := gitrepo.NewHostClientFromGitHub(gh)
		reviewLLM, model, err := defaultProviderClient(ctx, cfg)
		if err != nil {
			slog.Warn("review LLM client unavailable; automated review disabled", "error", err)
		} else {
			maskSvc := masking.NewService(cfg.Masking)
			deps.Review = review.New(host, reviewLLM, model, maskSvc, cfg.Review, cfg.Checks)
		}
	}

	if cfg.Notifications != nil && cfg.Notifications.Slack != nil && cfg.Notifications.Slack.IsEnabled() {
		deps.Notify = notify.NewService(notify.ServiceConfig{
			Token:   os.Getenv(cfg.Notifications.Slack.TokenEnv),
			Channel: cfg.Notifications.Slack.Channel,
		})
	}

	if redisURL := os.Getenv("OVERLORD_REDIS_URL"); redisURL != "" {
		opts, err := redis.ParseURL(redisURL)
		if err != nil {
			return scheduler.Deps{}, cleanup, fmt.Errorf("parsing OVERLORD_REDIS_URL: %w", err)
		}
		rdb := redis.NewClient(opts)
		cleanups = append(cleanups, func() { _ = rdb.Close() })
		deps.Answers = scheduler.NewAnswerBuffer(rdb, time.Hour)
	} else {
		slog.Warn("OVERLORD_REDIS_URL not set; question/answer blocking disabled")
	}

	llm.MustRegisterMetrics(prometheus.DefaultRegisterer)

	return deps, cleanup, nil
}

// defaultProviderClient resolves the LLM provider named by
// cfg.Defaults.DefaultLLMProvider into a pkg/llm.Client, for the Review
// Pipeline's LLM reviewer call. Minions resolve their own provider
// independently from their LLM_PROVIDER env var (cmd/minion).
func defaultProviderClient(ctx context.Context, cfg *config.Config) (llm.Client, string, error) {
	name := ""
	if cfg.Defaults != nil {
		name = cfg.Defaults.DefaultLLMProvider
	}
	if name == "" {
		return nil, "", fmt.Errorf("no default_llm_provider configured")
	}
	provider, err := cfg.GetLLMProvider(name)
	if err != nil {
		return nil, "", err
	}
	c, err := buildProviderClient(ctx, provider)
	if err != nil {
		return nil, "", err
	}
	return c, llm.ResolveModel(provider.Model), nil
}

func buildProviderClient(ctx context.Context, provider *config.LLMProviderConfig) (llm.Client, error) {
	maxConcurrent := provider.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 2
	}
	acquireTimeout := provider.AcquireTimeout
	if acquireTimeout <= 0 {
		acquireTimeout = 60 * time.Second
	}
	pool := llm.NewPool(maxConcurrent, acquireTimeout)

	switch provider.Type {
	case config.LLMProviderTypeAnthropic:
		return llm.NewAnthropicClient(os.Getenv(provider.APIKeyEnv), pool), nil
	case config.LLMProviderTypeBedrock:
		region := os.Getenv(provider.RegionEnv)
		return llm.NewBedrockClient(ctx, region, pool)
	case config.LLMProviderTypeOpenAICompatible:
		return llm.NewOpenAICompatibleClient(provider.BaseURL, os.Getenv(provider.APIKeyEnv), pool, 120*time.Second), nil
	default:
		return nil, fmt.Errorf("unknown provider type: %s", provider.Type)
	}
}

func dbConfigFromEnv() storedb.Config {
	cfg := storedb.DefaultConfig()
	if v := os.Getenv("OVERLORD_DB_HOST"); v != "" {
		cfg.Host = v
	}
	if v := os.Getenv("OVERLORD_DB_USER"); v != "" {
		cfg.User = v
	}
	if v := os.Getenv("OVERLORD_DB_PASSWORD"); v != "" {
		cfg.Password = v
	}
	if v := os.Getenv("OVERLORD_DB_NAME"); v != "" {
		cfg.Database = v
	}
	if v := os.Getenv("OVERLORD_DB_SSLMODE"); v != "" {
		cfg.SSLMode = v
	}
	return cfg
}

func callbackBaseURL(httpAddr string) string {
	if v := os.Getenv("OVERLORD_CALLBACK_BASE_URL"); v != "" {
		return v
	}
	return "http://overlord" + httpAddr
}

// errgroupLike is a minimal fire-and-forget WaitGroup wrapper so main
// doesn't need to import golang.org/x/sync/errgroup just for two
// long-running goroutines with no error to collect.
type errgroupLike struct {
	funcs []func()
}

func (g *errgroupLike) Go(fn func()) { g.funcs = append(g.funcs, fn) }

func (g *errgroupLike) Wait() {
	done := make(chan struct{}, len(g.funcs))
	for _, fn := range g.funcs {
		fn := fn
		go func() {
			fn()
			done <- struct{}{}
		}()
	}
	for range g.funcs {
		<-done
	}
}
