// Command aaad is the request-dispatch worker pool service: a scheduler
// (internal/scheduler) fed by an HTTP ingress and a NATS ingress, backed by
// the billing/provider domain (internal/dispatch), a child-process reaper
// (internal/reaper) and an admin REPL (internal/admin) exposed on stdin.
// Grounded on cmd/worker/main.go's lifecycle shape (config, logger, store
// setup, signal-based graceful shutdown), replacing its ad-hoc fixed-size
// goroutine pool with the full scheduler.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"aaad/internal/admin"
	"aaad/internal/auth"
	"aaad/internal/billing"
	"aaad/internal/config"
	"aaad/internal/db"
	"aaad/internal/dispatch"
	"aaad/internal/observability"
	"aaad/internal/persistence"
	"aaad/internal/provider/mock"
	"aaad/internal/queue/nats"
	"aaad/internal/rate"
	"aaad/internal/reaper"
	"aaad/internal/scheduler"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config:", err)
	}

	logger := observability.GetLoggerFromEnv()
	defer logger.Sync()
	slogLogger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	otelShutdown, err := observability.SetupOpenTelemetry("aaad", logger)
	if err != nil {
		logger.Warn("otel setup failed, continuing without it", zap.Error(err))
	} else {
		defer otelShutdown()
	}

	ctx := context.Background()

	postgres, err := db.NewOptimizedPostgres(ctx, cfg.PostgresURL)
	if err != nil {
		logger.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer postgres.Close()

	if err := postgres.RunMigrations("migrations"); err != nil {
		logger.Warn("failed to run migrations", zap.Error(err))
	}

	redisClient, err := persistence.NewRedis(ctx, cfg.RedisURL)
	if err != nil {
		logger.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer redisClient.Close()

	queue, err := nats.NewQueue(cfg.NATSURL, logger)
	if err != nil {
		logger.Fatal("failed to connect to NATS", zap.Error(err))
	}
	defer queue.Close()

	billingSvc := billing.NewService(postgres.PostgresDB, slogLogger)
	authSvc := auth.NewAuthService(postgres.PostgresDB, logger)
	rateLimiter := rate.NewLimiter(redisClient, logger, 50, 100)
	prov := mock.NewProvider(logger, 0.95, 0.03, 0.02, 50)

	dispatchSvc := dispatch.NewService(logger, prov, billingSvc, metrics)

	childReaper := reaper.New(logger)

	comparator, ok := scheduler.ParseComparator(cfg.Thread.QueuePriority)
	if !ok {
		logger.Fatal("invalid thread.queue_priority", zap.String("value", cfg.Thread.QueuePriority))
	}

	poolCfg := scheduler.Config{
		StartServers:         cfg.Thread.StartServers,
		MaxServers:           cfg.Thread.MaxServers,
		MinSpareServers:      cfg.Thread.MinSpareServers,
		MaxSpareServers:      cfg.Thread.MaxSpareServers,
		MaxRequestsPerServer: cfg.Thread.MaxRequestsPerServer,
		CleanupDelay:         cfg.Thread.CleanupDelay,
		MaxQueueSize:         cfg.Thread.MaxQueueSize,
		QueuePriority:        comparator,
		AutoLimitAcct:        cfg.Thread.AutoLimitAcct,
	}

	triggers := observability.NewTrigger(logger, metrics)

	pool, err := scheduler.NewPool(poolCfg, dispatchSvc.Process, logger, triggers)
	if err != nil {
		logger.Fatal("failed to start scheduler pool", zap.Error(err))
	}
	pool.SetReapHook(childReaper.Reap)

	// NATS ingress: the legacy send-job subject (cmd/worker's own queue)
	// carries only a message ID and attempt count, not the message body —
	// it was designed around internal/messages.Store owning content. This
	// service's ingress is /v1/dispatch; the subscription here exists so a
	// still-running cmd/worker-style producer doesn't silently accumulate
	// an unconsumed subject, and it accounts for attempts against the
	// scheduler's pps_in sampling via a zero-cost accounting job.
	sub, err := queue.SubscribeSendJobs(func(job *nats.SendJob) error {
		logger.Debug("legacy send-job subject received, accounting only",
			zap.String("message_id", job.MessageID.String()), zap.Int("attempt", job.Attempt))
		acct := dispatch.NewAccountingJob(uuid.Nil, job.MessageID.String(), 0, 10*time.Second)
		acct.Attempt = job.Attempt
		pool.Enqueue(acct)
		return nil
	})
	if err != nil {
		logger.Error("failed to subscribe to send jobs", zap.Error(err))
	} else {
		defer sub.Unsubscribe()
	}

	app := buildHTTPServer(logger, metrics, registry, authSvc, rateLimiter, pool, postgres)

	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			logger.Error("http server stopped", zap.Error(err))
		}
	}()

	go runAdminREPL(pool, postgres, logger)

	logger.Info("aaad started",
		zap.String("port", cfg.Port),
		zap.Int("start_servers", cfg.Thread.StartServers),
		zap.String("queue_priority", cfg.Thread.QueuePriority))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down aaad...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", zap.Error(err))
	}

	pool.Stop()
	logger.Info("aaad shutdown complete")
}

func buildHTTPServer(
	logger *zap.Logger,
	metrics *observability.Metrics,
	registry *prometheus.Registry,
	authSvc *auth.AuthService,
	rateLimiter *rate.Limiter,
	pool *scheduler.Pool,
	postgres *db.OptimizedPostgresDB,
) *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			logger.Error("fiber error", zap.Error(err))
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal server error"})
		},
	})

	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "healthy"})
	})
	app.Get("/readyz", func(c *fiber.Ctx) error {
		stats := pool.Stats()
		if stats.TotalThreads == 0 {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "not ready"})
		}
		return c.JSON(fiber.Map{"status": "ready"})
	})

	app.Get("/metrics", func(c *fiber.Ctx) error {
		mfs, err := registry.Gather()
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).SendString("error gathering metrics")
		}
		c.Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		var sb strings.Builder
		enc := expfmt.NewEncoder(&sb, expfmt.NewFormat(expfmt.TypeTextPlain))
		for _, mf := range mfs {
			if err := enc.Encode(mf); err != nil {
				logger.Warn("failed to encode metric family", zap.Error(err))
			}
		}
		return c.SendString(sb.String())
	})

	app.Get("/admin/queue-stats", func(c *fiber.Ctx) error {
		stats := pool.Stats()
		return c.JSON(fiber.Map{
			"idle_threads":   stats.IdleThreads,
			"active_threads": stats.ActiveThreads,
			"total_threads":  stats.TotalThreads,
			"num_queued":     stats.NumQueued,
			"pps_in":         stats.PPSIn,
			"pps_out":        stats.PPSOut,
		})
	})

	app.Get("/admin/db-stats", func(c *fiber.Ctx) error {
		return c.JSON(postgres.GetConnectionStats())
	})

	v1 := app.Group("/v1", authSvc.RequireAPIKey())
	v1.Post("/dispatch", func(c *fiber.Ctx) error {
		client, err := auth.GetClientFromContext(c)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthenticated"})
		}

		allowed, retryAfter, err := rateLimiter.Allow(c.Context(), client.ID)
		if err != nil {
			logger.Warn("rate limiter error, allowing request", zap.Error(err))
		} else if !allowed {
			c.Set("Retry-After", retryAfter.String())
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "rate limited"})
		}

		var body struct {
			To              string `json:"to"`
			From            string `json:"from"`
			Text            string `json:"text"`
			Priority        int    `json:"priority"`
			MaxRequestTimeS int    `json:"max_request_time_s"`
		}
		if err := c.BodyParser(&body); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request"})
		}
		if body.To == "" || body.From == "" || body.Text == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "to, from and text are required"})
		}
		maxReqTime := 30 * time.Second
		if body.MaxRequestTimeS > 0 {
			maxReqTime = time.Duration(body.MaxRequestTimeS) * time.Second
		}

		job := dispatch.NewSendJob(client.ID, body.To, body.From, body.Text, body.Priority, maxReqTime)
		pool.Enqueue(job)
		if job.MasterState() == scheduler.StateStopProcessing {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "queue full or rate shed"})
		}

		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"job_id": job.ID(), "status": "queued"})
	})

	return app
}

func runAdminREPL(pool *scheduler.Pool, postgres *db.OptimizedPostgresDB, logger *zap.Logger) {
	table := admin.NewTable()
	table.Register("show.stats", "show pool stats", func(ctx *admin.Context, args []string, out *strings.Builder) error {
		stats := pool.Stats()
		fmt.Fprintf(out, "idle=%d active=%d total=%d queued=%d pps_in=%d pps_out=%d\n",
			stats.IdleThreads, stats.ActiveThreads, stats.TotalThreads, stats.NumQueued, stats.PPSIn, stats.PPSOut)
		return nil
	})
	table.Register("show.db_stats", "show postgres connection pool stats", func(ctx *admin.Context, args []string, out *strings.Builder) error {
		s := postgres.GetConnectionStats()
		fmt.Fprintf(out, "open=%d in_use=%d idle=%d utilization=%.1f%% healthy=%v\n",
			s.OpenConnections, s.InUse, s.Idle, s.UtilizationPercent, s.IsHealthy())
		return nil
	})

	repl := admin.New(table, logger, os.Stdin, os.Stdout)
	repl.Run()
}
