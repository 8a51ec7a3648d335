// Command riskengine runs the DGC risk scoring pipeline (component E):
// append-only event ingestion, incremental profile recomputation, and
// threshold-based alert emission.
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
	"github.com/dgc-backbone/dgc/internal/risk"
	"github.com/dgc-backbone/dgc/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger.Init(cfg.LogLevel)

	db, err := store.Open(cfg.RiskDBPath)
	if err != nil {
		log.Fatalf("failed to open risk store: %v", err)
	}
	defer db.Close()

	st, err := risk.NewStore(db)
	if err != nil {
		log.Fatalf("failed to prepare risk schema: %v", err)
	}

	httpClient := httpx.NewWithRateLimit(cfg.ServiceAuthToken, rate.Limit(cfg.OutboundRateLimitQPS), cfg.OutboundRateLimitBurst)
	svc := risk.NewService(st, cfg.RiskAlertThreshold, cfg.RiskAlertWebhookURL, httpClient)
	h := risk.NewHandler(svc)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.ErrorHandler())
	r.Use(middleware.RequestAudit("riskengine"))
	r.Use(middleware.Metrics("riskengine"))
	r.Use(middleware.ServiceAuth(cfg.ServiceAuthToken))

	if cfg.MetricsEnabled {
		r.GET(cfg.MetricsPath, gin.WrapH(promhttp.Handler()))
	}
	h.Register(r)

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: r}
	go func() {
		logger.Info("riskengine started", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server listen failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down riskengine")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("server forced to shutdown: ", err)
	}
	logger.Info("riskengine exited")
}
