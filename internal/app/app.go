package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/alphacourse/backend/internal/auth"
	"github.com/alphacourse/backend/internal/config"
	"github.com/alphacourse/backend/internal/db"
	"github.com/alphacourse/backend/internal/entitlements"
	"github.com/alphacourse/backend/internal/handlers"
	"github.com/alphacourse/backend/internal/httpserver"
	"github.com/alphacourse/backend/internal/logging"
	"github.com/alphacourse/backend/internal/metrics"
	"github.com/alphacourse/backend/internal/middleware"
	"github.com/alphacourse/backend/internal/models"
	"github.com/alphacourse/backend/internal/payments"
	"github.com/alphacourse/backend/internal/repositories"
	"github.com/alphacourse/backend/internal/storage"
)

const usage = "expected command: serve, migrate [up|status], seed <name>, publish [dir], user create <username> <password> [admin], user grant <id>"

// Run bootstraps the course backend.
func Run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New(usage)
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := logging.New(os.Stdout, cfg.LogLevel)
	slog.SetDefault(logger)
	ctx = logging.WithLogger(ctx, logger)

	switch args[0] {
	case "serve":
		return serve(ctx, cfg, logger)
	case "migrate":
		return runMigrations(ctx, cfg, args[1:], os.Stdout)
	case "seed":
		return runSeed(ctx, cfg, args[1:], os.Stdout)
	case "publish":
		return runPublish(ctx, cfg, args[1:], os.Stdout)
	case "user":
		return runUser(ctx, cfg, args[1:], os.Stdout)
	default:
		return fmt.Errorf("unknown command %q: %s", args[0], usage)
	}
}

func serve(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	m := metrics.New()
	deps, cleanup, err := buildDependencies(ctx, pool, cfg, logger, m)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	handlers.RegisterRoutes(mux, deps)

	handler := middleware.RequestLogger(logger, m)(mux)

	srv := httpserver.New(cfg.AppPort, handler)

	logger.Info("starting http server", "addr", srv.Addr(), "price", cfg.CoursePriceUSD.String())

	srvErr := make(chan error, 1)
	go func() {
		srvErr <- srv.Start()
	}()

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signalCh)

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("context canceled, shutting down server")
	case sig := <-signalCh:
		logger.Info("received signal, shutting down", "signal", sig.String())
	case err := <-srvErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			runErr = err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), httpserver.ShutdownTimeout)
	defer cancel()

	return errors.Join(runErr, srv.Shutdown(shutdownCtx), cleanup(shutdownCtx))
}

func runMigrations(ctx context.Context, cfg config.Config, args []string, out io.Writer) error {
	command := "up"
	if len(args) > 0 {
		command = args[0]
	}

	dir, err := resolveDir(cfg.MigrationDir)
	if err != nil {
		return err
	}

	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	return migrator{pool: pool, dir: dir, out: out}.run(ctx, command)
}

func runSeed(ctx context.Context, cfg config.Config, args []string, out io.Writer) error {
	if len(args) == 0 {
		return errors.New("expected seed name (e.g. dev)")
	}

	dir, err := resolveDir(cfg.SeedDir)
	if err != nil {
		return err
	}
	path := seedFile(dir, args[0])
	contents, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read seed %s: %w", path, err)
	}

	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, string(contents)); err != nil {
		return fmt.Errorf("apply seed %s: %w", path, err)
	}

	fmt.Fprintf(out, "applied seed %s\n", path)
	return nil
}

// runPublish uploads the local course directory to the configured bucket.
func runPublish(ctx context.Context, cfg config.Config, args []string, out io.Writer) error {
	if cfg.ObjectStore.Bucket == "" {
		return errors.New("publish requires an object store bucket")
	}
	dir := cfg.CourseDir
	if len(args) > 0 {
		dir = args[0]
	}

	client, err := storage.NewS3Client(ctx, cfg.ObjectStore)
	if err != nil {
		return err
	}
	publisher := storage.NewPublisher(storage.NewUploader(client), cfg.ObjectStore.Bucket, cfg.ObjectStore.Prefix)

	n, err := publisher.Publish(ctx, dir)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "published %d segments to s3://%s/%s\n", n, cfg.ObjectStore.Bucket, cfg.ObjectStore.Prefix)
	return nil
}

func runUser(ctx context.Context, cfg config.Config, args []string, out io.Writer) error {
	if len(args) == 0 {
		return errors.New("expected user subcommand: create or grant")
	}

	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	users := repositories.NewPostgresUserRepository(pool)
	return userCommand(ctx, users, args, out)
}

type userAdmin interface {
	repositories.UserRepository
	entitlements.Store
}

func userCommand(ctx context.Context, users userAdmin, args []string, out io.Writer) error {
	switch args[0] {
	case "create":
		if len(args) < 3 {
			return errors.New("usage: user create <username> <password> [admin]")
		}
		hash, err := auth.HashPassword(args[2])
		if err != nil {
			return err
		}
		role := models.RoleUser
		if len(args) > 3 && args[3] == models.RoleAdmin {
			role = models.RoleAdmin
		}
		user, err := users.Create(ctx, models.User{Username: args[1], PasswordHash: hash, Role: role})
		if errors.Is(err, repositories.ErrConflict) {
			return fmt.Errorf("user %q already exists", args[1])
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "created %s user %s with id %d\n", user.Role, user.Username, user.ID)
		return nil
	case "grant":
		if len(args) < 2 {
			return errors.New("usage: user grant <id>")
		}
		id, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil || id <= 0 {
			return fmt.Errorf("invalid user id %q", args[1])
		}
		granted, err := entitlements.NewService(users, nil).Grant(ctx, id, payments.SourceAdmin)
		if err != nil {
			return err
		}
		if granted {
			fmt.Fprintf(out, "granted course access to user %d\n", id)
		} else {
			fmt.Fprintf(out, "user %d already has course access\n", id)
		}
		return nil
	default:
		return fmt.Errorf("unknown user subcommand %q", args[0])
	}
}
