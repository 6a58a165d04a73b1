// Package main implements the bookpush server, which accepts e-book
// submissions from the browser plugin and delivers the converted books by
// mail through the background job engine.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/phrazzld/bookpush/internal/config"
	"github.com/phrazzld/bookpush/internal/platform/logger"
	"github.com/phrazzld/bookpush/internal/platform/postgres"
	"github.com/phrazzld/bookpush/internal/service/auth"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "bookpush: %v\n", err)
		os.Exit(1)
	}
}

// run parses flags, loads configuration, and either executes a one-shot
// command or serves until ctx is done.
func run(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("bookpush", flag.ContinueOnError)
	migrate := fs.String("migrate", "", "run a migration command (up, down, reset, status, version) and exit")
	issueToken := fs.String("issue-token", "", "print a client token for the given client ID and exit")
	if err := fs.Parse(args); err != nil {
		return err
	}

	// A missing .env file is normal outside development.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to load .env file: %w", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	l, err := logger.Setup(cfg.Server)
	if err != nil {
		return fmt.Errorf("failed to set up logger: %w", err)
	}

	switch {
	case *migrate != "":
		return runMigrations(ctx, cfg, *migrate, l)
	case *issueToken != "":
		return printToken(ctx, cfg, *issueToken, stdout)
	}

	l.Info("server configuration loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Server.LogLevel,
		"queue_backend", cfg.Queue.Backend,
		"database_configured", cfg.Database.URL != "",
		"auth_enabled", cfg.Auth.JWTSecret != "",
		"callback_enabled", cfg.Callback.URL != "")

	app, err := newApplication(ctx, cfg, l)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	return app.Run(ctx)
}

func runMigrations(ctx context.Context, cfg *config.Config, command string, l *slog.Logger) error {
	if cfg.Database.URL == "" {
		return errors.New("database.url is required for migrations")
	}
	db, err := postgres.Open(ctx, cfg.Database.URL)
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			l.Error("failed to close database connection", "error", err)
		}
	}()
	return postgres.Migrate(ctx, db, command, l)
}

func printToken(ctx context.Context, cfg *config.Config, clientID string, stdout io.Writer) error {
	jwtService, err := auth.NewJWTService(cfg.Auth)
	if err != nil {
		return fmt.Errorf("failed to initialize JWT service: %w", err)
	}
	token, err := jwtService.GenerateToken(ctx, clientID)
	if err != nil {
		return fmt.Errorf("failed to issue token: %w", err)
	}
	_, err = fmt.Fprintln(stdout, token)
	return err
}
