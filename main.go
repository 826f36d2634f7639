package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v3"
	"golang.org/x/time/rate"

	"github.com/CrowderSoup/taskpro/database"
	"github.com/CrowderSoup/taskpro/handlers"
	"github.com/CrowderSoup/taskpro/services"
)

func main() {
	app := &cli.Command{
		Name:  "taskpro",
		Usage: "Task board API server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to configuration file",
				Value:   "config.toml",
			},
			&cli.StringFlag{
				Name:  "env",
				Usage: "Path to a .env file",
				Value: ".env",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the HTTP API",
				Action: serve,
			},
			{
				Name:   "migrate",
				Usage:  "Create or update the database schema",
				Action: migrate,
			},
		},
		DefaultCommand: "serve",
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		log.Fatalf("application error: %v", err)
	}
}

// setup loads configuration and builds the logger shared by every command
func setup(cmd *cli.Command) (*Config, *log.Logger, error) {
	if err := LoadEnv(cmd.String("env")); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	config, err := LoadConfig(cmd.String("config"))
	if err != nil {
		return nil, nil, err
	}

	logger := log.New()
	if config.Server.Debug {
		logger.SetLevel(log.DebugLevel)
	}
	return config, logger, nil
}

func migrate(ctx context.Context, cmd *cli.Command) error {
	config, logger, err := setup(cmd)
	if err != nil {
		return err
	}

	db, err := database.InitDB(ctx, config.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()

	logger.WithField("path", config.Database.Path).Info("database schema is up to date")
	return nil
}

func serve(ctx context.Context, cmd *cli.Command) error {
	config, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	if err := config.Validate(); err != nil {
		return err
	}
	tokenTTL, _ := config.TokenTTL()
	cacheTTL, _ := config.CacheTTL()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.InitDB(ctx, config.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()
	store := database.NewStore(db)

	var rc *redis.Client
	if config.Cache.RedisURL != "" {
		opts, err := redis.ParseURL(config.Cache.RedisURL)
		if err != nil {
			return fmt.Errorf("invalid redis url: %w", err)
		}
		rc = redis.NewClient(opts)
		defer rc.Close()
	} else {
		logger.Info("redis not configured, board cache disabled")
	}

	var notifier services.Notifier = services.LogNotifier{Logger: logger}
	if config.SMTP.Configured() {
		notifier = services.NewSMTPNotifier(config.SMTP)
	}

	hub := services.NewHub(logger)
	go hub.Run(ctx)

	authService := services.NewAuthService(store, config.Auth.JWTSecret, tokenTTL, logger)
	handler := handlers.NewRouter(handlers.Services{
		Auth:   authService,
		Guard:  services.NewGuard(authService, store),
		Boards: services.NewBoardService(store, services.NewBoardCache(rc, cacheTTL), hub, logger),
		Help:   services.NewHelpService(store, notifier, logger),
		Hub:    hub,
	}, handlers.RouterOptions{
		AllowedOrigins: config.Server.CORSOrigins,
		AuthRate:       rate.Limit(config.Auth.Rate),
		AuthBurst:      config.Auth.Burst,
	}, logger)

	server := &http.Server{
		Addr:         ":" + config.Server.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("Server starting on port %s", config.Server.Port)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
