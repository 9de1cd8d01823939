package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"order-concierge/handler"
	"order-concierge/internal/inventory"
	"order-concierge/internal/realtime"
	"order-concierge/internal/repository"
	"order-concierge/internal/usecase"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook, the real-time channel and the background sweeps",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx)
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	store, err := a.stockStore(ctx)
	if err != nil {
		return err
	}
	base, err := a.menu()
	if err != nil {
		return err
	}

	// The ledger starts empty and is seeded by the first catalog refresh.
	manager := inventory.NewManager(nil, a.logger, inventory.WithIdleWindow(a.cfg.Inventory.CartIdleWindow))
	cache, err := a.catalogCache(base, store, manager)
	if err != nil {
		return err
	}
	if err := cache.Refresh(ctx); err != nil {
		a.logger.Warn("initial catalog refresh incomplete", zap.Error(err))
	}

	hub, err := realtime.NewHub(manager, store, a.logger)
	if err != nil {
		return err
	}
	manager.SetBroadcaster(hub)

	sessions := usecase.NewMemoryStore()
	var snapshots *repository.Client
	if a.cfg.Sessions.Table != "" {
		if snapshots, err = a.repository(ctx); err != nil {
			return err
		}
		saved, err := snapshots.All(ctx)
		if err != nil {
			return err
		}
		sessions.Restore(saved)
		a.logger.Info("restored sessions", zap.Int("count", len(saved)))
	}

	messenger, err := a.gatewayClient(ctx)
	if err != nil {
		return err
	}
	engine, err := a.engine(usecase.Deps{
		Sessions:  sessions,
		Catalog:   cache,
		Stock:     manager,
		Gateway:   store,
		Messenger: messenger,
		Staff:     messenger,
	})
	if err != nil {
		return err
	}
	webhook, err := handler.NewHandler(engine, a.logger)
	if err != nil {
		return err
	}
	stockAPI, err := handler.NewStockHandler(manager, store, a.logger)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("POST "+a.cfg.HTTP.WebhookPath, webhook)
	mux.Handle("GET "+a.cfg.HTTP.RealtimePath, hub)
	stockAPI.Register(mux)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	srv := &http.Server{
		Addr:              a.cfg.HTTP.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		hub.Close()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	g.Go(func() error {
		manager.RunSweeper(gctx, a.cfg.Inventory.SweepInterval)
		return nil
	})
	g.Go(func() error {
		cache.Run(gctx, a.cfg.Catalog.RefreshInterval)
		return nil
	})
	g.Go(func() error {
		engine.RunExpiry(gctx, a.cfg.Chat.ExpiryInterval)
		return nil
	})
	if snapshots != nil {
		g.Go(func() error {
			sessions.RunSnapshots(gctx, snapshots, a.cfg.Sessions.SnapshotInterval, a.logger)
			return nil
		})
	}

	err = g.Wait()
	a.logger.Info("shut down", zap.Error(err))
	return err
}
