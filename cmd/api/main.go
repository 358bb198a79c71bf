package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/DilyaSoft/Time-off-company-manager/internal/auth"
	"github.com/DilyaSoft/Time-off-company-manager/internal/config"
	"github.com/DilyaSoft/Time-off-company-manager/internal/httpapi"
	"github.com/DilyaSoft/Time-off-company-manager/internal/migrate"
	"github.com/DilyaSoft/Time-off-company-manager/internal/obs"
	"github.com/DilyaSoft/Time-off-company-manager/internal/store/pg"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	var (
		configPath = flag.String("config", os.Getenv("TIMEOFF_CONFIG"), "Path to YAML config file")
		migrateUp  = flag.Bool("migrate", false, "Apply pending migrations before serving")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}
	logger := obs.NewLogger(cfg.Logging, version)
	obs.SetLogger(logger)
	obs.Init()
	build := obs.InitBuildInfo(version, commit)
	logger.Info("starting", "version", build.Version, "commit", build.Commit, "go_version", build.GoVersion)

	if err := run(cfg, *configPath, *migrateUp, logger); err != nil {
		logger.Error("api stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("stopped")
}

func run(cfg *config.Config, configPath string, migrateUp bool, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var store auth.Store
	if cfg.Database.DSN != "" {
		pgStore, err := pg.Open(cfg.Database)
		if err != nil {
			return err
		}
		defer pgStore.Close()
		if migrateUp {
			applied, err := migrate.NewManager(pgStore.DB(), migrate.Embedded()).Up(ctx)
			if err != nil {
				return err
			}
			logger.Info("migrations applied", "count", len(applied))
		}
		store = pgStore
	} else {
		logger.Warn("no database DSN configured; using in-memory store")
		store = auth.NewInMemory()
	}

	codec, err := auth.NewCodec(keyConfig(cfg.Auth))
	if err != nil {
		return err
	}
	svc, err := auth.NewService(store, codec,
		auth.WithAccessTTL(cfg.Auth.AccessTTL),
		auth.WithRefreshTTL(cfg.Auth.RefreshTTL),
		auth.WithInviteTTL(cfg.Auth.InviteTTL),
		auth.WithStoreTimeout(cfg.Auth.StoreTimeout),
		auth.WithRevokeOnAllowanceChange(cfg.Auth.RevokeOnAllowanceChange),
		auth.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	proxies, err := httpapi.ParseTrustedProxies(cfg.HTTP.TrustedProxies)
	if err != nil {
		return err
	}
	probe := httpapi.ReadyProbe{Store: store}
	api := httpapi.New(svc, probe, version,
		httpapi.WithTrustedProxies(proxies),
		httpapi.WithRateLimit(cfg.HTTP.RateBurst, cfg.HTTP.RatePerSecond),
		httpapi.WithMaxBodyBytes(cfg.HTTP.MaxBodyBytes),
		httpapi.WithAllowedOrigins(cfg.HTTP.AllowedOrigins),
	)
	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		ReadHeaderTimeout: cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		IdleTimeout:       cfg.HTTP.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http listening", "addr", srv.Addr, "version", version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	g.Go(func() error {
		watchKeyReload(gctx, hup, configPath, codec, logger)
		return nil
	})

	if cfg.GRPC.Addr != "" {
		health := httpapi.NewGRPCServer(probe)
		grpcSrv := grpc.NewServer()
		health.Register(grpcSrv)
		lis, err := net.Listen("tcp", cfg.GRPC.Addr)
		if err != nil {
			return err
		}
		g.Go(func() error {
			logger.Info("grpc listening", "addr", cfg.GRPC.Addr)
			return grpcSrv.Serve(lis)
		})
		g.Go(func() error {
			return health.Run(gctx, 10*time.Second)
		})
		g.Go(func() error {
			<-gctx.Done()
			health.Shutdown()
			grpcSrv.GracefulStop()
			return nil
		})
	}

	return g.Wait()
}

func keyConfig(cfg config.AuthConfig) auth.KeyConfig {
	keys := make(map[string][]byte)
	for id, secret := range cfg.Keys() {
		keys[id] = []byte(secret)
	}
	return auth.KeyConfig{
		Issuer:      cfg.Issuer,
		ActiveKeyID: cfg.ActiveKeyID,
		Keys:        keys,
		Leeway:      cfg.Leeway,
	}
}

// reloadKeys re-reads the config and swaps the signing keyring. Only the auth
// key settings are applied; everything else still needs a restart.
func reloadKeys(path string, codec *auth.Codec) (string, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return "", err
	}
	if err := codec.Reload(keyConfig(cfg.Auth)); err != nil {
		return "", err
	}
	return cfg.Auth.ActiveKeyID, nil
}

func watchKeyReload(ctx context.Context, hup <-chan os.Signal, path string, codec *auth.Codec, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			active, err := reloadKeys(path, codec)
			if err != nil {
				logger.Error("key reload failed, keeping current keys", "error", err)
				continue
			}
			logger.Info("signing keys reloaded", "active_key_id", active)
		}
	}
}
