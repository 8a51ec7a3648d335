// Command ledgeradapter runs the DGC ledger adapter (component C): an
// latest-wins proof-anchor store and an append-only per-certificate event
// timeline,
// optionally pushing each event through an on-chain writer and fanning
// out to the risk engine.
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

	"github.com/dgc-backbone/dgc/internal/chain"
	"github.com/dgc-backbone/dgc/internal/config"
	"github.com/dgc-backbone/dgc/internal/httpx"
	"github.com/dgc-backbone/dgc/internal/ledger"
	"github.com/dgc-backbone/dgc/internal/middleware"
	"github.com/dgc-backbone/dgc/internal/pkg/logger"
	"github.com/dgc-backbone/dgc/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger.Init(cfg.LogLevel)

	db, err := store.Open(cfg.LedgerDBPath)
	if err != nil {
		log.Fatalf("failed to open ledger store: %v", err)
	}
	defer db.Close()

	st, err := ledger.NewStore(db)
	if err != nil {
		log.Fatalf("failed to prepare ledger schema: %v", err)
	}

	var chainSink chain.Writer = chain.NoopSink{}
	if cfg.ChainRPCURL != "" && cfg.ChainPrivateKey != "" && cfg.DGCRegistryAddress != "" {
		sink, err := chain.NewEthSink(cfg.ChainRPCURL, cfg.ChainPrivateKey, cfg.DGCRegistryAddress)
		if err != nil {
			logger.Error("failed to initialize chain sink, falling back to noop", "error", err)
		} else {
			chainSink = sink
		}
	}

	httpClient := httpx.NewWithRateLimit(cfg.ServiceAuthToken, rate.Limit(cfg.OutboundRateLimitQPS), cfg.OutboundRateLimitBurst)
	svc := ledger.NewService(st, chainSink, cfg.RiskStreamURL, httpClient)
	h := ledger.NewHandler(svc)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.ErrorHandler())
	r.Use(middleware.RequestAudit("ledgeradapter"))
	r.Use(middleware.Metrics("ledgeradapter"))
	r.Use(middleware.ServiceAuth(cfg.ServiceAuthToken))

	if cfg.MetricsEnabled {
		r.GET(cfg.MetricsPath, gin.WrapH(promhttp.Handler()))
	}
	h.Register(r)

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: r}
	go func() {
		logger.Info("ledgeradapter started", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server listen failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down ledgeradapter")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("server forced to shutdown: ", err)
	}
	logger.Info("ledgeradapter exited")
}
