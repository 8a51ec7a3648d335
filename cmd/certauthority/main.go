// Command certauthority runs the DGC certificate authority (component D):
// canonicalize, sign, and persist certificates; enforce the status
// machine; perform conservation-checked splits.
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

	"github.com/dgc-backbone/dgc/internal/certauth"
	"github.com/dgc-backbone/dgc/internal/config"
	"github.com/dgc-backbone/dgc/internal/httpx"
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

	if cfg.IssuerPrivateKeyHex == "" {
		log.Fatal("ISSUER_PRIVATE_KEY_HEX is required")
	}

	db, err := store.Open(cfg.CertDBPath)
	if err != nil {
		log.Fatalf("failed to open certificate store: %v", err)
	}
	defer db.Close()

	st, err := certauth.NewStore(db)
	if err != nil {
		log.Fatalf("failed to prepare certificate schema: %v", err)
	}

	httpClient := httpx.NewWithRateLimit(cfg.ServiceAuthToken, rate.Limit(cfg.OutboundRateLimitQPS), cfg.OutboundRateLimitBurst)
	svc, err := certauth.NewService(st, cfg.IssuerPrivateKeyHex, cfg.LedgerAdapterURL, httpClient)
	if err != nil {
		log.Fatalf("failed to initialize certificate authority: %v", err)
	}
	h := certauth.NewHandler(svc)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.ErrorHandler())
	r.Use(middleware.RequestAudit("certauthority"))
	r.Use(middleware.Metrics("certauthority"))
	r.Use(middleware.ServiceAuth(cfg.ServiceAuthToken))

	if cfg.MetricsEnabled {
		r.GET(cfg.MetricsPath, gin.WrapH(promhttp.Handler()))
	}
	h.Register(r)

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: r}
	go func() {
		logger.Info("certauthority started", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server listen failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down certauthority")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("server forced to shutdown: ", err)
	}
	logger.Info("certauthority exited")
}
