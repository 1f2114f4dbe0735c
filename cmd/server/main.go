// Command server runs the accounting sync gateway: the OAuth connect flow,
// token lifecycle, webhook receiver, and sync worker in one process.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	bindinghandler "ledgerbridge/internal/binding/handler"
	bindingservice "ledgerbridge/internal/binding/service"
	bindingstore "ledgerbridge/internal/binding/store"
	connecthandler "ledgerbridge/internal/connect/handler"
	connectservice "ledgerbridge/internal/connect/service"
	"ledgerbridge/internal/connect/state"
	granthandler "ledgerbridge/internal/grant/handler"
	grantmetrics "ledgerbridge/internal/grant/metrics"
	grantservice "ledgerbridge/internal/grant/service"
	grantstore "ledgerbridge/internal/grant/store"
	"ledgerbridge/internal/platform/config"
	"ledgerbridge/internal/platform/database"
	"ledgerbridge/internal/platform/health"
	"ledgerbridge/internal/platform/logger"
	"ledgerbridge/internal/platform/tracer"
	"ledgerbridge/internal/provider/xero"
	"ledgerbridge/internal/server"
	syncmetrics "ledgerbridge/internal/sync/metrics"
	syncstore "ledgerbridge/internal/sync/store"
	"ledgerbridge/internal/sync/worker"
	webhookhandler "ledgerbridge/internal/webhook/handler"
	webhookmetrics "ledgerbridge/internal/webhook/metrics"
	webhookservice "ledgerbridge/internal/webhook/service"
	webhookstore "ledgerbridge/internal/webhook/store"
	"ledgerbridge/migrations"
	"ledgerbridge/pkg/secrets"
)

func main() {
	log := logger.New()
	slog.SetDefault(log)

	if err := run(log); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(log *slog.Logger) error {
	cfg := config.FromEnv()
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	adapter, err := xero.New(cfg.XeroClientID, cfg.XeroClientSecret, cfg.XeroRedirectURI,
		xero.WithLogger(log))
	if err != nil {
		return err
	}

	cipher, err := secrets.NewCipher(cfg.TokenEncryptionSecret)
	if err != nil {
		return err
	}

	dbCfg := database.DefaultConfig()
	dbCfg.URL = cfg.DatabaseURL
	pool, err := database.New(dbCfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	var (
		grants   grantstore.Store
		bindings bindingstore.Store
		events   webhookstore.Store
		jobs     syncstore.Store
	)
	if pool != nil {
		if err := database.Migrate(ctx, pool.DB(), migrations.FS); err != nil {
			return err
		}
		grants = grantstore.NewPostgres(pool.DB())
		bindings = bindingstore.NewPostgres(pool.DB())
		events = webhookstore.NewPostgres(pool.DB())
		jobs = syncstore.NewPostgres(pool.DB())
		log.Info("using postgres storage")
	} else {
		grants = grantstore.NewInMemory()
		bindings = bindingstore.NewInMemory()
		events = webhookstore.NewInMemory()
		jobs = syncstore.NewInMemory()
		log.Warn("DATABASE_URL not set, using in-memory storage")
	}

	var states state.Store
	if cfg.RedisURL != "" {
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return err
		}
		states = state.NewRedis(redis.NewClient(redisOpts))
		log.Info("using redis connect-state storage")
	} else {
		states = state.NewInMemory()
		log.Warn("REDIS_URL not set, oauth flows are pinned to this replica")
	}

	tr := tracer.New()
	tokens := grantservice.New(grants, adapter, cipher,
		grantservice.WithLogger(log),
		grantservice.WithMetrics(grantmetrics.New()),
		grantservice.WithTracer(tr),
		grantservice.WithRefreshSkew(cfg.RefreshSkew),
		grantservice.WithRefreshTokenMaxAge(cfg.RefreshTokenMaxAge),
	)
	bindingSvc := bindingservice.New(bindings, tokens, adapter,
		bindingservice.WithLogger(log))
	connectSvc := connectservice.New(adapter, tokens, bindingSvc, states, cfg.XeroScopes,
		connectservice.WithLogger(log))

	whMetrics := webhookmetrics.New()
	receiver := webhookservice.New(events, bindingSvc, jobs,
		webhookservice.WithLogger(log),
		webhookservice.WithMetrics(whMetrics),
		webhookservice.WithTracer(tr),
	)

	syncWorker := worker.New(jobs, worker.NewResourceFetcher(bindings, tokens),
		worker.WithInterval(cfg.WorkerPollInterval),
		worker.WithLogger(log),
		worker.WithMetrics(syncmetrics.New()),
	)

	healthHandler := health.New()
	if pool != nil {
		healthHandler.RegisterCheck("database", func() error {
			checkCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return pool.Health(checkCtx)
		})
	}

	router := server.NewRouter(server.Deps{
		Logger:   log,
		Health:   healthHandler,
		Connect:  connecthandler.New(connectSvc, log),
		Bindings: bindinghandler.New(bindingSvc, log),
		Grants:   granthandler.New(tokens, log),
		Webhook: webhookhandler.New(cfg.WebhookSigningKey, receiver,
			webhookhandler.WithLogger(log),
			webhookhandler.WithMetrics(whMetrics),
			webhookhandler.WithMaxBodyBytes(cfg.WebhookMaxBytes),
		),
	})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		syncWorker.Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		runProactiveRefresh(ctx, log, tokens, cfg.ProactiveInterval)
	}()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		stop()
		wg.Wait()
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
	}
	wg.Wait()
	return nil
}

// runProactiveRefresh sweeps expiring grants on a ticker so access tokens
// rarely need refreshing on a request path.
func runProactiveRefresh(ctx context.Context, log *slog.Logger, tokens *grantservice.TokenService, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report, err := tokens.RefreshExpiring(ctx, "")
			if err != nil {
				log.ErrorContext(ctx, "proactive refresh sweep failed", "error", err)
				continue
			}
			if report.Scanned > 0 {
				log.InfoContext(ctx, "proactive refresh sweep",
					"scanned", report.Scanned,
					"refreshed", report.Refreshed,
					"failed", report.Failed,
				)
			}
		}
	}
}
