// Command sessionchat runs the session chat service.
//
//	sessionchat [serve] [-config path]
//	sessionchat token -id alice [-role operator] [-ttl 1h] [-config path]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"sessionchat/internal/app"
	"sessionchat/internal/auth"
	"sessionchat/internal/config"
	"sessionchat/internal/logging"
	"sessionchat/pkg/types"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		log.Fatal(err)
	}
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	command := "serve"
	if len(args) > 0 && (args[0] == "serve" || args[0] == "token") {
		command, args = args[0], args[1:]
	}

	switch command {
	case "token":
		return runToken(args, stdout)
	default:
		return runServe(ctx, args)
	}
}

// loadConfig resolves the config file from -config, then SESSIONCHAT_CONFIG_FILE.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		path = os.Getenv(config.EnvPrefix + "CONFIG_FILE")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

func runServe(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to a JSON config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	// STEP 1: configuration (file > env > defaults)
	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}

	// STEP 2: logging
	logger, closeLog, err := logging.New(cfg.Log)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = closeLog() }()

	// STEP 3: application
	application, err := app.NewApplication(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	if err := application.Start(ctx); err != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		return errors.Join(err, application.Stop(shutdownCtx))
	}

	// STEP 4: wait for a shutdown signal
	<-ctx.Done()
	logger.Info("shutdown requested", zap.Duration("timeout", cfg.HTTP.ShutdownTimeout))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := application.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}
	return nil
}

// runToken prints a signed token for local development and tooling.
func runToken(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to a JSON config file")
	id := fs.String("id", "", "identity the token is issued for")
	role := fs.String("role", "", "credential role, e.g. operator")
	ttl := fs.Duration("ttl", 0, "token lifetime (defaults to auth.token_ttl)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id == "" {
		return errors.New("token: -id is required")
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	lifetime := cfg.Auth.TokenTTL
	if *ttl > 0 {
		lifetime = *ttl
	}

	authenticator, err := auth.NewAuthenticator(cfg.Auth.Secret, cfg.Auth.Issuer)
	if err != nil {
		return err
	}
	token, err := authenticator.Issue(types.Identity{ID: *id, Role: *role}, lifetime)
	if err != nil {
		return fmt.Errorf("token: %w", err)
	}
	_, err = fmt.Fprintln(stdout, token)
	return err
}
