// Command reconciliation runs the DGC reconciliation & freeze controller
// (component G): periodic custody-vs-claims check, auto-freeze on
// threshold breach, and governance-audited manual override.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/dgc-backbone/dgc/internal/config"
	"github.com/dgc-backbone/dgc/internal/httpx"
	"github.com/dgc-backbone/dgc/internal/middleware"
	"github.com/dgc-backbone/dgc/internal/pkg/logger"
	"github.com/dgc-backbone/dgc/internal/reconciliation"
	"github.com/dgc-backbone/dgc/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger.Init(cfg.LogLevel)

	db, err := store.Open(cfg.ReconDBPath)
	if err != nil {
		log.Fatalf("failed to open reconciliation store: %v", err)
	}
	defer db.Close()

	st, err := reconciliation.NewStore(db)
	if err != nil {
		log.Fatalf("failed to prepare reconciliation schema: %v", err)
	}

	httpClient := httpx.NewWithRateLimit(cfg.ServiceAuthToken, rate.Limit(cfg.OutboundRateLimitQPS), cfg.OutboundRateLimitBurst)
	svc := reconciliation.NewService(st, httpClient, reconciliation.Config{
		CertificateServiceURL: cfg.CertificateServiceURL,
		RiskStreamURL:         cfg.RiskStreamURL,
		CustodyTotalGram:      cfg.CustodyTotalGram,
		MismatchThresholdGram: cfg.ReconMismatchThresholdGram,
	})
	unfreezeRoles := middleware.ParseRoleSet(cfg.ReconUnfreezeAllowedRoles, "ops_admin", "admin")
	h := reconciliation.NewHandler(svc, unfreezeRoles)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.ErrorHandler())
	r.Use(middleware.RequestAudit("reconciliation"))
	r.Use(middleware.Metrics("reconciliation"))
	r.Use(middleware.ServiceAuth(cfg.ServiceAuthToken))

	if cfg.MetricsEnabled {
		r.GET(cfg.MetricsPath, gin.WrapH(promhttp.Handler()))
	}
	h.Register(r)

	stopTicker := make(chan struct{})
	if cfg.ReconIntervalSeconds > 0 {
		go runTicker(svc, time.Duration(cfg.ReconIntervalSeconds)*time.Second, stopTicker)
	}

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: r}
	go func() {
		logger.Info("reconciliation started", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server listen failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down reconciliation")
	close(stopTicker)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("server forced to shutdown: ", err)
	}
	logger.Info("reconciliation exited")
}

// runTicker calls the same run() path POST /reconcile/run uses, on a fixed
// interval, so operators can rely on scheduled reconciliation without a
// second code path.
func runTicker(svc *reconciliation.Service, interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), httpx.PrimaryDeadline)
			run, err := svc.Run(ctx, reconciliation.RunRequest{})
			cancel()
			if err != nil {
				logger.Error("scheduled reconciliation run failed", "error", err)
				continue
			}
			logger.Info("scheduled reconciliation run completed", "runId", run.RunID, "freezeTriggered", run.FreezeTriggered)
		}
	}
}
