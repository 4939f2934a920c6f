package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"

	"eventbook_auth/internal/auth"
	"eventbook_auth/internal/cache"
	"eventbook_auth/internal/config"
	"eventbook_auth/internal/events"
	"eventbook_auth/internal/handler"
	"eventbook_auth/internal/models"
	"eventbook_auth/internal/service"
	"eventbook_auth/internal/storage"

	gfshutdown "github.com/gelmium/graceful-shutdown"
)

func main() {
	//PARSE ARGS
	var configPath string
	flag.StringVar(&configPath, "config", "", "path to the yaml config file")

	flag.Parse()
	if configPath == "" {
		log.Fatal("failed get config path from flags")
	}

	cfg := config.MustLoadConfig(configPath)

	//INIT LOGGER
	lgr := setupLogger(cfg.Env)
	lgr.Info("started auth service", slog.String("env", cfg.Env), slog.String("db_driver", cfg.DB.Driver))

	if cfg.UsesDefaultSecret() {
		lgr.Warn("JWT_SECRET is not set, using the development default secret")
	}

	ctx := context.Background()

	//INIT DB
	st, err := setupStorage(ctx, cfg, lgr)
	if err != nil {
		lgr.Error("failed to init storage", slog.Any("error", err))
		os.Exit(1)
	}

	hasher := auth.NewPasswordHasher(cfg.Auth.BcryptCost)
	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, auth.DefaultTokenTTL)

	if cfg.Seed.Enabled {
		err := storage.Seed(ctx, st, hasher, lgr,
			storage.SeedAccount{Name: "Admin", Email: cfg.Seed.AdminEmail, Password: cfg.Seed.AdminPassword, Role: models.RoleAdmin},
			storage.SeedAccount{Name: "User", Email: cfg.Seed.UserEmail, Password: cfg.Seed.UserPassword, Role: models.RoleUser},
		)
		if err != nil {
			lgr.Error("failed to seed accounts", slog.Any("error", err))
			os.Exit(1)
		}
	}

	opts := []service.Option{}
	checks := []handler.HealthCheck{{Name: cfg.DB.Driver, Pinger: st}}
	// closers run after the http server has drained, in reverse order.
	closers := []func(context.Context) error{
		func(context.Context) error { return st.Close() },
	}

	//INIT REDIS
	if cfg.Redis.Enabled {
		client, err := cache.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			lgr.Error("failed to connect to redis", slog.Any("error", err))
			os.Exit(1)
		}

		denylist := cache.NewDenylist(client)
		opts = append(opts, service.WithDenylist(denylist))
		checks = append(checks, handler.HealthCheck{Name: "redis", Pinger: denylist})
		closers = append(closers, func(context.Context) error { return client.Close() })
	}

	//INIT NATS
	if cfg.NATS.Enabled {
		publisher, err := events.Connect(cfg.NATS.URL, lgr)
		if err != nil {
			lgr.Error("failed to connect to nats", slog.Any("error", err))
			os.Exit(1)
		}

		opts = append(opts, service.WithPublisher(publisher))
		closers = append(closers, publisher.Close)
	}

	srvc := service.NewAuthService(st, hasher, tokens, lgr, opts...)
	h := handler.NewHandler(srvc, lgr, checks...)

	//INIT SERVER
	srv := &http.Server{
		Addr:         cfg.HTTPServer.Address,
		Handler:      h.InitRoutes(),
		ReadTimeout:  cfg.HTTPServer.ReadTimeout,
		WriteTimeout: cfg.HTTPServer.WriteTimeout,
		IdleTimeout:  cfg.HTTPServer.IdleTimeout,
	}

	go func() {
		lgr.Info("starting http server", slog.String("address", cfg.HTTPServer.Address))

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			lgr.Error("failed to start server", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	wait := gfshutdown.GracefulShutdown(ctx, cfg.HTTPServer.ShutdownTimeout, map[string]gfshutdown.Operation{
		"auth-service": func(ctx context.Context) error {
			lgr.Info("graceful shutdown initiated")

			errs := []error{srv.Shutdown(ctx)}
			for i := len(closers) - 1; i >= 0; i-- {
				errs = append(errs, closers[i](ctx))
			}

			return errors.Join(errs...)
		},
	})

	exitCode := <-wait
	lgr.Info("auth service stopped", slog.Int("exit_code", exitCode))
	os.Exit(exitCode)
}

func setupStorage(ctx context.Context, cfg *config.Config, lgr *slog.Logger) (storage.Storage, error) {
	switch cfg.DB.Driver {
	case config.DriverSQLite:
		st, err := storage.NewSQLiteStorage(cfg.DB.SQLitePath, cfg.Env == config.EnvLocal)
		if err != nil {
			return nil, err
		}

		return st, nil
	default:
		st, err := storage.NewPostgresStorage(ctx, cfg.DB.DbURL)
		if err != nil {
			return nil, err
		}

		if err := st.Migrate(ctx); err != nil {
			st.Close()
			return nil, err
		}
		lgr.Debug("migrations applied")

		return st, nil
	}
}

func setupLogger(env string) *slog.Logger {
	var log *slog.Logger

	switch env {
	case config.EnvLocal:
		log = slog.New(
			slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case config.EnvDev:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	default:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	}

	return log
}
