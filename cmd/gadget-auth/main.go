package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alexjbarnes/gadget-auth/internal/auth"
	"github.com/alexjbarnes/gadget-auth/internal/cache"
	"github.com/alexjbarnes/gadget-auth/internal/config"
	"github.com/alexjbarnes/gadget-auth/internal/consumer"
	"github.com/alexjbarnes/gadget-auth/internal/crypto"
	"github.com/alexjbarnes/gadget-auth/internal/logging"
	"github.com/alexjbarnes/gadget-auth/internal/oauth"
	"github.com/alexjbarnes/gadget-auth/internal/proxy"
	"github.com/alexjbarnes/gadget-auth/internal/server"
	"golang.org/x/sync/errgroup"
)

var Version = "dev"

// sweepInterval controls how often the bolt cache drops expired entries.
const sweepInterval = 15 * time.Minute

func main() {
	// Handle generate-key subcommand before config loading.
	if len(os.Args) > 1 && os.Args[1] == "generate-key" {
		fmt.Println(auth.GenerateAPIKey())
		return
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := logging.NewLogger(cfg.Environment, cfg.LogLevel)
	logger.Info("gadget-auth starting",
		slog.String("version", Version),
		slog.String("cache", cfg.CacheBackend),
		slog.Bool("anonymous", cfg.AllowAnonymous),
		slog.Bool("block_private_targets", cfg.BlockPrivateTargets),
	)

	crypter, err := crypto.NewAEAD(cfg.TokenSecret)
	if err != nil {
		return fmt.Errorf("initializing token crypter: %w", err)
	}

	consumers, err := loadConsumers(cfg, logger)
	if err != nil {
		return err
	}

	keys, err := cfg.ParseAPIKeys()
	if err != nil {
		return fmt.Errorf("parsing API_KEYS: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	tokenCache, closeCache, err := openCache(gctx, g, cfg, crypter, logger)
	if err != nil {
		return err
	}
	defer closeCache()

	if cfg.ConsumersWatch {
		g.Go(func() error {
			if err := consumers.Watch(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("watching consumers: %w", err)
			}

			return nil
		})
	}

	client := &http.Client{Timeout: cfg.ProxyTimeout}

	opts := oauth.Options{
		Consumers:   consumers,
		Cache:       tokenCache,
		CallbackURL: cfg.CallbackURL(),
		StateTTL:    cfg.StateTTL,
		HTTPClient:  client,
		Logger:      logger.With(slog.String("component", "oauth")),
	}

	handlers, err := oauth.NewHandlers(oauth.NewOAuth1Handler(opts), oauth.NewOAuth2Handler(opts))
	if err != nil {
		return fmt.Errorf("building oauth handlers: %w", err)
	}

	mux := server.NewMux(server.MuxConfig{
		Handlers: &proxy.Handlers{
			Factory: &auth.Factory{
				Crypter:       crypter,
				Cache:         tokenCache,
				AnonymousName: cfg.AnonymousName,
				Policy:        cfg.AnonymousPolicy(),
				Logger:        logger.With(slog.String("component", "factory")),
			},
			Orchestrator: proxy.NewOrchestrator(handlers, logger.With(slog.String("component", "proxy"))),
			Forwarder: &proxy.Forwarder{
				Client:           proxy.NewTargetClient(cfg.ProxyTimeout, cfg.BlockPrivateTargets),
				MaxResponseBytes: cfg.MaxResponseBytes,
			},
			Logger: logger,
			Origin: cfg.Origin(),
		},
		APIKeys: auth.NewAPIKeys(keys),
		Logger:  logger,
	})

	g.Go(func() error {
		return serve(gctx, cfg, mux, logger, len(keys))
	})

	return g.Wait()
}

func loadConsumers(cfg *config.Config, logger *slog.Logger) (*consumer.Source, error) {
	if cfg.ConsumersFile == "" {
		logger.Warn("CONSUMERS_FILE not set, OAuth proxying is disabled")
		return consumer.NewSource(consumer.Empty(), "", logger), nil
	}

	src, err := consumer.LoadSource(cfg.ConsumersFile, logger)
	if err != nil {
		return nil, fmt.Errorf("loading consumers: %w", err)
	}

	logger.Info("consumers loaded",
		slog.String("file", cfg.ConsumersFile),
		slog.Int("count", src.Current().Len()),
		slog.Bool("watch", cfg.ConsumersWatch),
	)

	return src, nil
}

// openCache builds the configured cache backend. The returned func
// releases it.
func openCache(ctx context.Context, g *errgroup.Group, cfg *config.Config, crypter *crypto.AEAD, logger *slog.Logger) (cache.Cache, func(), error) {
	if cfg.CacheBackend != config.CacheBolt {
		mem := cache.NewMemory()
		return mem, mem.Stop, nil
	}

	b, err := cache.OpenBolt(cfg.CachePath, crypter)
	if err != nil {
		return nil, nil, fmt.Errorf("opening token cache: %w", err)
	}

	logger.Info("token cache opened", slog.String("path", cfg.CachePath))

	g.Go(func() error {
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()

		for {
			if n, err := b.Sweep(); err != nil {
				logger.Warn("cache sweep failed", slog.String("error", err.Error()))
			} else if n > 0 {
				logger.Debug("cache sweep", slog.Int("removed", n))
			}

			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
			}
		}
	})

	return b, func() { b.Close() }, nil
}

func serve(ctx context.Context, cfg *config.Config, handler http.Handler, logger *slog.Logger, keys int) error {
	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.ProxyTimeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	logger.Info("starting HTTP server",
		slog.String("listen", cfg.ListenAddr),
		slog.String("server_url", cfg.ServerURL),
		slog.Int("api_keys", keys),
	)

	// Shutdown when context is cancelled.
	go func() {
		<-ctx.Done()
		logger.Info("shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server error: %w", err)
	}

	return nil
}
