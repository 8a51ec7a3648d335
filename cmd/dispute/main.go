// Command dispute runs the DGC dispute orchestrator (component F): a
// persistent OPEN→ASSIGNED→RESOLVED state machine with governance RBAC
// on assign/resolve.
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

	"github.com/dgc-backbone/dgc/internal/config"
	"github.com/dgc-backbone/dgc/internal/dispute"
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

	db, err := store.Open(cfg.DisputeDBPath)
	if err != nil {
		log.Fatalf("failed to open dispute store: %v", err)
	}
	defer db.Close()

	st, err := dispute.NewStore(db)
	if err != nil {
		log.Fatalf("failed to prepare dispute schema: %v", err)
	}

	svc := dispute.NewService(st)
	assignRoles := middleware.ParseRoleSet(cfg.DisputeAssignAllowedRoles, "ops_admin", "ops_agent", "admin")
	resolveRoles := middleware.ParseRoleSet(cfg.DisputeResolveAllowedRoles, "ops_admin", "ops_lead", "admin")
	h := dispute.NewHandler(svc, assignRoles, resolveRoles)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.ErrorHandler())
	r.Use(middleware.RequestAudit("dispute"))
	r.Use(middleware.Metrics("dispute"))
	r.Use(middleware.ServiceAuth(cfg.ServiceAuthToken))

	if cfg.MetricsEnabled {
		r.GET(cfg.MetricsPath, gin.WrapH(promhttp.Handler()))
	}
	h.Register(r)

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: r}
	go func() {
		logger.Info("dispute started", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server listen failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down dispute")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("server forced to shutdown: ", err)
	}
	logger.Info("dispute exited")
}
