package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kieracarman/dripos-storefront/internal/batch"
	"github.com/kieracarman/dripos-storefront/internal/catalog"
	"github.com/kieracarman/dripos-storefront/internal/config"
	"github.com/kieracarman/dripos-storefront/internal/events"
	"github.com/kieracarman/dripos-storefront/internal/httpapi"
	"github.com/kieracarman/dripos-storefront/internal/inventory"
	"github.com/kieracarman/dripos-storefront/internal/menu"
	"github.com/kieracarman/dripos-storefront/internal/notify"
	"github.com/kieracarman/dripos-storefront/internal/order"
	"github.com/kieracarman/dripos-storefront/internal/store"
	"github.com/kieracarman/dripos-storefront/internal/store/memory"
	"github.com/kieracarman/dripos-storefront/internal/store/postgres"
)

func main() {
	cfg := config.Load()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("storefront stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx := context.Background()

	var bus *notify.Redis
	if cfg.RedisURL != "" {
		var err error
		bus, err = notify.Dial(ctx, cfg.RedisURL, notify.DefaultChannel, logger)
		if err != nil {
			return err
		}
		defer bus.Close()
		logger.Info("connected to redis")
	}

	var data store.DataService
	switch cfg.Store {
	case config.StorePostgres:
		var b notify.Bus
		if bus != nil {
			b = bus
		}
		pg, err := postgres.Open(ctx, cfg.DatabaseURL, b, logger)
		if err != nil {
			return err
		}
		defer pg.Close()
		if err := pg.Migrate(ctx); err != nil {
			return err
		}
		data = pg
	default:
		data = memory.New(logger)
	}
	logger.Info("data service ready", "store", cfg.Store)

	var opts []catalog.Option
	var menuCache *menu.Cache
	if bus != nil {
		menuCache = menu.NewCache(bus.Client(), data, logger)
		menuCache.SetTTL(cfg.MenuCacheTTL)
		opts = append(opts, catalog.WithMenuLoader(menuCache))
		if err := menuCache.Invalidate(ctx); err != nil {
			logger.Warn("failed to clear cached menu", "error", err)
		}
	}
	cache := catalog.New(data, append(opts, catalog.WithLogger(logger))...)

	inv := inventory.NewService(data, logger)
	if cfg.SeedSampleData {
		if err := seed(ctx, data, logger); err != nil {
			return err
		}
	}
	if _, err := inv.EnsureStarter(ctx); err != nil {
		return err
	}

	syncer := catalog.NewSyncer(cache, data, logger)
	syncer.SetResyncInterval(cfg.CatalogResyncInterval)
	if menuCache != nil {
		syncer.SetMenuCache(menuCache)
	}
	if err := syncer.Start(); err != nil {
		return err
	}
	defer syncer.Stop()

	committerOpts := []order.Option{order.WithLogger(logger)}
	if cfg.AMQPURL != "" {
		conn, err := events.Dial(cfg.AMQPURL)
		if err != nil {
			return err
		}
		defer conn.Close()
		committerOpts = append(committerOpts, order.WithPublisher(conn.Publisher()))
		logger.Info("publishing order events", "exchange", events.ExchangeName)
	}
	committer := order.NewCommitter(cache, data, committerOpts...)

	h := httpapi.New(cache, committer, inv, data, logger)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	h.Routes(r)

	expiryCtx, stopExpiry := context.WithCancel(ctx)
	defer stopExpiry()
	go h.ExpireSessions(expiryCtx, time.Minute, cfg.SessionIdleTimeout)

	server := newServer(cfg.Port, r)

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server starting", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serverErr:
		return err
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}

	logger.Info("server exited properly")
	return nil
}

// newServer leaves room past the handler timeout so a timed-out request
// still gets its error response written.
func newServer(port string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:         ":" + port,
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: httpapi.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// seed loads the sample menu into an empty store
func seed(ctx context.Context, data store.DataService, logger *slog.Logger) error {
	items, err := data.MenuItems(ctx)
	if err != nil {
		return err
	}
	ingredients, err := data.Ingredients(ctx)
	if err != nil {
		return err
	}
	if len(items) > 0 || len(ingredients) > 0 {
		return nil
	}

	var b batch.Builder
	menu.SampleData(&b)
	compiled, err := b.Compile(nil)
	if err != nil {
		return err
	}
	if err := data.Apply(ctx, compiled); err != nil {
		return err
	}
	logger.Info("sample data loaded", "mutations", len(compiled.Mutations))
	return nil
}
