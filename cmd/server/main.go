package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/soaringjerry/Praxis/internal/api"
	"github.com/soaringjerry/Praxis/internal/cache"
	"github.com/soaringjerry/Praxis/internal/config"
	"github.com/soaringjerry/Praxis/internal/db"
	"github.com/soaringjerry/Praxis/internal/logger"
	"github.com/soaringjerry/Praxis/internal/middleware"
	"github.com/soaringjerry/Praxis/internal/services"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if len(os.Args) > 1 && os.Args[1] == "token" {
		os.Exit(runToken(cfg, os.Args[2:]))
	}

	log, err := logger.New(cfg.LogMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
}

// runToken prints a bearer token for the authoring API.
func runToken(cfg *config.Config, args []string) int {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	uid := fs.String("uid", "admin", "author id placed in the token")
	name := fs.String("name", "", "display name")
	ttl := fs.Duration("ttl", 24*time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	tok, err := middleware.NewAuth(cfg.JWTSecret).SignToken(*uid, *name, *ttl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sign token: %v (set %sJWT_SECRET)\n", err, config.Prefix)
		return 1
	}
	fmt.Println(tok)
	return 0
}

func run(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	if cfg.DBDriver == db.DriverSQLite && cfg.DBDSN == "" {
		if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755); err != nil {
			return fmt.Errorf("create sqlite dir: %w", err)
		}
	}
	gdb, err := db.Open(cfg.DBDriver, cfg.DSN(), log)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := db.Close(gdb); cerr != nil {
			log.Warn("close database", "error", cerr)
		}
	}()
	if err := db.RunMigrations(gdb, cfg.MigrationsDir); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	store, err := db.NewGormStore(gdb, log)
	if err != nil {
		return err
	}

	var snapshots services.SnapshotCache = cache.NewMemoryCache(cfg.CacheEntries)
	if cfg.RedisAddr != "" {
		rc, err := cache.NewRedisCache(ctx, cache.RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}, log)
		if err != nil {
			return err
		}
		defer rc.Close()
		snapshots = rc
	}

	svc := services.New(store, services.Options{
		Strict:        cfg.PublishStrict,
		AssetBaseURL:  cfg.AssetBaseURL,
		AssetMaxBytes: cfg.AssetMaxBytes,
		KeepPublished: cfg.KeepPublished,
		Cache:         snapshots,
		Log:           log,
	})
	defer svc.Close()

	if _, err := SeedIfEmpty(ctx, svc, cfg.SeedPath, log); err != nil {
		return err
	}

	auth := middleware.NewAuth(cfg.JWTSecret)
	if !auth.Enabled() {
		log.Warn("authoring API is open; set " + config.Prefix + "JWT_SECRET to require tokens")
	}
	router := api.NewRouter(api.RouterConfig{
		Services:     svc,
		Log:          log,
		Auth:         auth,
		AllowOrigins: cfg.Origins(),
		MediaDir:     cfg.MediaDir,
		Commit:       cfg.Commit,
		BuildTime:    cfg.BuildTime,
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info("Praxis server listening", "addr", cfg.Addr, "db", cfg.DBDriver, "strict", cfg.PublishStrict)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	log.Info("shutting down", "timeout", cfg.ShutdownTimeout.String())
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
