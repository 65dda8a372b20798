package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"bidflow.org/internal/auction"
	"bidflow.org/internal/auth"
	"bidflow.org/internal/httpapi"
	"bidflow.org/internal/obs"
	"bidflow.org/internal/store/pg"
	"bidflow.org/internal/stream"
)

// Set via -ldflags "-X main.version=... -X main.commit=...".
var (
	version = "dev"
	commit  = "none"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)
	log := obs.Logger()
	defer obs.Sync()

	if os.Getenv("BIDFLOW_AUTH_SECRET") == "" {
		log.Fatal("BIDFLOW_AUTH_SECRET is required")
	}

	addr := os.Getenv("BIDFLOW_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	// Postgres when a DSN is configured, in-memory otherwise. The
	// in-memory mode keeps single-node deployments and local runs free
	// of infrastructure.
	var (
		auctions auction.Store
		users    auth.UserStore
		probe    httpapi.ReadyProbe
	)
	if dsn := os.Getenv("BIDFLOW_PG_DSN"); dsn != "" {
		st, err := pg.Open(dsn)
		if err != nil {
			log.Fatal("open postgres", zap.Error(err))
		}
		defer st.Close()
		auctions = st
		users = st
		probe = httpapi.ReadyProbe{DB: st.DB()}
		log.Info("storage: postgres")
	} else {
		auctions = auction.NewInMemory()
		users = auth.NewInMemoryUsers()
		log.Info("storage: in-memory (set BIDFLOW_PG_DSN for persistence)")
	}

	hub := stream.NewHub()
	engine := auction.NewEngine(auctions, hub)
	accounts := auth.NewService(users)

	api := httpapi.New(probe, version, engine, hub, accounts)

	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		// Streaming responses stay open far longer than a normal
		// request; WriteTimeout would cut SSE connections off.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("starting bidflow-api", zap.String("version", version), zap.String("addr", addr))
		obs.SetReady(true)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("listen", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	obs.SetReady(false)
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("shutdown", zap.Error(err))
	}
	log.Info("stopped")
}
