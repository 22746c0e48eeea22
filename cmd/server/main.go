package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"teleconsult/internal/agent"
	"teleconsult/internal/cache"
	"teleconsult/internal/config"
	"teleconsult/internal/consultation"
	"teleconsult/internal/followup"
	"teleconsult/internal/generation"
	"teleconsult/internal/handoff"
	"teleconsult/internal/logging"
	"teleconsult/internal/platform/blobstore"
	"teleconsult/internal/platform/db"
	"teleconsult/internal/platform/events"
	"teleconsult/internal/platform/respond"
	"teleconsult/internal/platform/telegram"
	"teleconsult/internal/report"
	"teleconsult/internal/vitals"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "teleconsult",
		Short:        "Teleconsultation support backend",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}

	databaseURL := func() (string, error) {
		cfg, err := config.Load()
		if err != nil {
			return "", err
		}
		if cfg.DatabaseURL == "" {
			return "", errors.New("DATABASE_URL is required")
		}
		return cfg.DatabaseURL, nil
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			url, err := databaseURL()
			if err != nil {
				return err
			}
			if err := db.MigrateUp(url); err != nil {
				return err
			}
			fmt.Println("migrations applied")
			return nil
		},
	})

	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			steps, _ := cmd.Flags().GetInt("steps")
			url, err := databaseURL()
			if err != nil {
				return err
			}
			return db.MigrateDown(url, steps)
		},
	}
	down.Flags().Int("steps", 1, "number of migrations to roll back")
	cmd.AddCommand(down)

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the applied schema version",
		RunE: func(cmd *cobra.Command, args []string) error {
			url, err := databaseURL()
			if err != nil {
				return err
			}
			v, dirty, err := db.Version(url)
			if err != nil {
				return err
			}
			fmt.Printf("version %d (dirty: %t)\n", v, dirty)
			return nil
		},
	})
	return cmd
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	log, err := logging.New(cfg.Env)
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. Remote store
	var (
		repo   consultation.Repository
		pinger cache.Pinger
	)
	if cfg.DatabaseURL != "" {
		conn, err := db.Open(ctx, cfg.DatabaseURL, log)
		if err != nil {
			return err
		}
		defer conn.Close()
		if err := db.MigrateUp(cfg.DatabaseURL); err != nil {
			return err
		}
		log.Info("connected to database, migrations applied")
		repo = consultation.NewRepository(conn)
		pinger = conn
	} else {
		log.Warn("DATABASE_URL is not set, using in-memory consultation store")
		repo = consultation.NewMemoryRepository()
	}

	// 2. Local cache
	backend, closeBackend, err := newCacheBackend(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeBackend()

	cacheOpts := cache.Options{
		Version: cfg.CacheVersion,
		TTL:     cfg.CacheTTL,
		MaxAge:  cfg.CacheMaxAge,
		Logger:  log,
	}
	steps := consultation.NewStepCache(backend, repo, cacheOpts)
	records := consultation.NewRecordCache(backend, repo, cacheOpts)
	history := consultation.NewHistoryStore(repo, log)
	sessions := consultation.NewSessions(repo, steps, records, history, consultation.SessionOptions{
		Debounce: cfg.SaveDebounce,
		Logger:   log,
	})

	// 3. Report delivery
	delivery, closeSinks := newDelivery(ctx, cfg, log)
	defer closeSinks()
	sessions.OnFinalize(delivery.Hook())
	renderer := report.NewPDFRenderer(cfg.FontPath)

	// 4. Generation and workflow
	llm := agent.NewClient(agent.Config{
		APIKey:  cfg.LLMAPIKey,
		BaseURL: cfg.LLMBaseURL,
		Model:   cfg.LLMModel,
		Timeout: cfg.LLMTimeout,
	})
	if cfg.LLMAPIKey == "" {
		log.Warn("LLM_API_KEY is not set, generation endpoints will return fallbacks")
	}
	comparator := vitals.NewComparator(vitals.DefaultRules())
	generator := generation.NewService(llm, comparator)
	followups := followup.NewManager(followup.Deps{
		History:    history,
		Reports:    generator,
		Archiver:   sessions,
		Comparator: comparator,
		Logger:     log,
	}, cfg.FollowUpSessionTTL)

	// 5. Background jobs
	syncer := cache.NewAutoSyncer(cfg.AutoSyncInterval, log, steps, records)
	var monitor *cache.Monitor
	if pinger != nil {
		monitor = cache.NewMonitor(pinger, 3*time.Second, log, syncer)
	}
	scheduler := cache.NewScheduler(log)
	if err := scheduler.ScheduleAutoSync(syncer, cfg.AutoSyncInterval, monitor, cfg.ProbeInterval); err != nil {
		return err
	}
	if err := scheduler.Every(time.Minute, "followup-sweep", func() {
		if n := followups.Sweep(); n > 0 {
			log.Infow("expired follow-up sessions removed", "count", n)
		}
	}); err != nil {
		return err
	}
	scheduler.Start()

	// 6. Router
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logging.RequestLogger(log))
	r.Use(middleware.Recoverer)
	r.Use(cors)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		status := "ok"
		if !syncer.Online() {
			status = "degraded"
		}
		respond.JSON(w, http.StatusOK, map[string]interface{}{
			"status":        status,
			"remoteOnline":  syncer.Online(),
			"llmConfigured": cfg.LLMAPIKey != "",
			"model":         llm.Model(),
		})
	})

	r.Route("/api", func(r chi.Router) {
		consultation.RegisterRoutes(r, consultation.NewHandler(sessions, history))
		report.RegisterRoutes(r, report.NewHandler(history, renderer))
		generation.RegisterRoutes(r, generation.NewHandler(generator))
		followup.RegisterRoutes(r, followup.NewHandler(followups))
		vitals.RegisterRoutes(r, vitals.NewHandler(comparator))
		handoff.RegisterRoutes(r)
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infow("server starting", "port", cfg.Port, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("http shutdown failed", "error", err)
	}
	scheduler.Stop()
	if err := sessions.Shutdown(shutdownCtx); err != nil {
		log.Errorw("session shutdown failed", "error", err)
	}
	syncer.Wait()
	return nil
}

func newCacheBackend(ctx context.Context, cfg *config.Config, log *zap.SugaredLogger) (cache.Backend, func(), error) {
	if cfg.RedisURL == "" {
		log.Info("REDIS_URL is not set, using in-memory cache")
		return cache.NewMemoryBackend(), func() {}, nil
	}
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("connect to redis: %w", err)
	}
	log.Info("connected to redis")
	return cache.NewRedisBackend(client, "teleconsult:"), func() { client.Close() }, nil
}

func newDelivery(ctx context.Context, cfg *config.Config, log *zap.SugaredLogger) (*report.Service, func()) {
	opts := report.Options{Logger: log, DoctorChatID: cfg.DoctorChatID}
	closers := []func() error{}

	if cfg.TelegramBotToken != "" {
		opts.Notifier = telegram.NewClient(cfg.TelegramBotToken)
	} else {
		log.Warn("TELEGRAM_BOT_TOKEN is not set, reports will not be sent to the doctor")
	}

	if cfg.S3Bucket != "" {
		client, err := blobstore.NewS3Client(ctx, cfg.S3Endpoint)
		if err != nil {
			log.Errorw("failed to init S3 client, documents will not be archived", "error", err)
		} else {
			opts.Archive = blobstore.NewS3Store(client, cfg.S3Bucket, cfg.S3Prefix)
		}
	}

	if len(cfg.KafkaBrokers) > 0 {
		pub := events.NewPublisher(events.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaTopic))
		opts.Publisher = pub
		closers = append(closers, pub.Close)
	}

	return report.NewService(report.NewPDFRenderer(cfg.FontPath), opts), func() {
		for _, c := range closers {
			if err := c(); err != nil {
				log.Warnw("failed to close sink", "error", err)
			}
		}
	}
}

// cors allows the browser frontend to call the API from any origin.
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, X-Request-Id")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
