// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/btouchard/mailrelay/internal/infrastructure/attachment"
	"github.com/btouchard/mailrelay/internal/infrastructure/database"
	"github.com/btouchard/mailrelay/internal/infrastructure/dispatch"
	"github.com/btouchard/mailrelay/internal/infrastructure/ratelimit"
	"github.com/btouchard/mailrelay/internal/infrastructure/report"
	"github.com/btouchard/mailrelay/internal/infrastructure/secrets"
	"github.com/btouchard/mailrelay/internal/infrastructure/smtp"
	"github.com/btouchard/mailrelay/internal/platform/config"
	"github.com/btouchard/mailrelay/internal/platform/logger"
	"github.com/btouchard/mailrelay/internal/presentation/api"
	"github.com/btouchard/mailrelay/internal/supervisor"
)

// suspensionRef forwards dispatch.Suspension to a *supervisor.Supervisor
// assigned after construction, breaking the cycle where Loop needs a
// Suspension before the Supervisor that owns Loop can be built.
type suspensionRef struct {
	sup *supervisor.Supervisor
}

func (r *suspensionRef) IsSuspended(tenantID, accountID string) bool {
	return r.sup.IsSuspended(tenantID, accountID)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logger.SetLevelAndFormat(logger.ParseLevel(cfg.Logger.Level), cfg.Logger.Format)

	db, err := sql.Open("postgres", cfg.Database.DSN)
	if err != nil {
		logger.Logger.Error("open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := db.PingContext(context.Background()); err != nil {
		logger.Logger.Error("ping database", "error", err)
		os.Exit(1)
	}

	secretsProvider, err := secrets.NewAESProvider(cfg.Secrets.Key)
	if err != nil {
		logger.Logger.Error("init secrets provider", "error", err)
		os.Exit(1)
	}

	store := database.NewStore(db, secretsProvider)

	rateLimiter := ratelimit.New(store.Accounts)
	retryStrategy := dispatch.NewRetryAdapter(smtp.NewRetryStrategy(cfg.Dispatch.MaxRetries))

	pool := smtp.NewPool(smtp.Config{
		MaxPerAccount:   cfg.SMTPPool.MaxPerAccount,
		IdleTTL:         cfg.SMTPPool.IdleTTL,
		ConnectTimeout:  cfg.SMTPPool.ConnectTimeout,
		CleanupInterval: cfg.SMTPPool.CleanupInterval,
	})
	sender := dispatch.NewPooledSender(pool, cfg.SMTPPool.ConnectTimeout)

	httpClient := &http.Client{Timeout: cfg.Report.HTTPTimeout}

	// s3Fetcher stays a plain nil attachment.Fetcher (not a typed *S3Fetcher)
	// when disabled, so Manager's `fetcher == nil` check actually trips
	// instead of wrapping a nil pointer in a non-nil interface.
	var s3Fetcher attachment.Fetcher
	if cfg.Attachment.S3Region != "" {
		f, err := attachment.NewS3Fetcher(context.Background(), attachment.S3Config{
			Region:    cfg.Attachment.S3Region,
			Endpoint:  cfg.Attachment.S3Endpoint,
			AccessKey: cfg.Attachment.S3AccessKey,
			SecretKey: cfg.Attachment.S3SecretKey,
		})
		if err != nil {
			logger.Logger.Error("init s3 attachment fetcher", "error", err)
			os.Exit(1)
		}
		s3Fetcher = f
	} else {
		logger.Logger.Info("s3_attachment_fetcher_disabled", "reason", "MAILRELAY_ATTACHMENT_S3_REGION not set")
	}

	attachmentFetcher := attachment.NewManager(
		attachment.Base64Fetcher{},
		attachment.NewFilesystemFetcher(cfg.Attachment.FilesystemRoot),
		attachment.NewHTTPURLFetcher(httpClient, cfg.Report.HTTPTimeout),
		attachment.NewHTTPEndpointFetcher(httpClient, cfg.Report.HTTPTimeout),
		s3Fetcher,
		attachment.NewCache(1024, ""),
	)

	// suspensionRef breaks the construction cycle between dispatch.Loop
	// (needs a Suspension at construction) and supervisor.Supervisor
	// (needs the already-built Loop): it forwards IsSuspended to the
	// Supervisor built a few lines below, once assigned.
	ref := &suspensionRef{}

	dispatchLoop := dispatch.New(store, store.Accounts, rateLimiter, retryStrategy, sender, attachmentFetcher, ref, dispatch.Config{
		TickInterval:             cfg.Dispatch.TickInterval,
		GlobalBatchSize:          cfg.Dispatch.GlobalBatchSize,
		MaxConcurrencyPerAccount: cfg.Dispatch.MaxConcurrencyPerAccount,
		MaxRetries:               cfg.Dispatch.MaxRetries,
	})

	reportClient := report.NewClient(httpClient)
	reportSync := report.New(store, store.Tenants, reportClient, report.Config{
		BatchSize:        cfg.Report.BatchSize,
		SyncInterval:     cfg.Report.SyncInterval,
		RetentionSeconds: cfg.Report.RetentionSeconds,
	})

	sup := supervisor.New(dispatchLoop, reportSync, pool)
	ref.sup = sup

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sup.Start(ctx)

	router := api.NewRouter(api.RouterConfig{
		AdminToken: cfg.Server.AdminToken,
		Tenants:    store.Tenants,
		Accounts:   store.Accounts,
		Messages:   store,
		Commands:   sup,
	})

	httpServer := &http.Server{
		Addr:         cfg.Server.ListenAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		logger.Logger.Info("admin_api_listening", "addr", cfg.Server.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Logger.Error("admin api server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Logger.Info("shutdown_signal_received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Logger.Error("admin api shutdown", "error", err)
	}

	sup.Stop()
	logger.Logger.Info("relay_stopped")
}
