package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/Tyrowin/civic-chat/internal/config"
	"github.com/Tyrowin/civic-chat/internal/database"
	"github.com/Tyrowin/civic-chat/internal/hub"
	"github.com/Tyrowin/civic-chat/internal/identity"
	"github.com/Tyrowin/civic-chat/internal/logging"
	"github.com/Tyrowin/civic-chat/internal/server"
)

func main() {
	app := &cli.App{
		Name:  "civic-chat",
		Usage: "Real-time chat hub for the civic platform",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "directory containing config.yaml",
				EnvVars: []string{"CONFIG_DIR"},
			},
			&cli.StringFlag{
				Name:  "env-file",
				Usage: "dotenv file loaded before the configuration",
				Value: ".env",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "override log.level (trace, debug, info, warn, error)",
			},
		},
		Before: func(c *cli.Context) error {
			return loadEnvFile(c.String("env-file"))
		},
		Action: serve,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Start the websocket hub (default)",
				Action: serve,
			},
			{
				Name:   "migrate",
				Usage:  "Create or update the users table",
				Action: migrate,
			},
			{
				Name:  "token",
				Usage: "Issue a bearer token for an existing user",
				Flags: []cli.Flag{
					&cli.Int64Flag{Name: "user-id", Usage: "id of the user the token authenticates", Required: true},
					&cli.DurationFlag{Name: "ttl", Usage: "token lifetime", Value: 24 * time.Hour},
				},
				Action: issueToken,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log := logging.L()
		log.Fatal().Err(err).Msg("civic-chat exited with error")
	}
}

func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

// setup loads the configuration and installs the global logger.
func setup(c *cli.Context) (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	if lvl := c.String("log-level"); lvl != "" {
		cfg.Log.Level = lvl
	}
	logging.Init(cfg.Log)
	return cfg, logging.L(), nil
}

func openDatabase(cfg config.DatabaseConfig, migrate bool, log zerolog.Logger) (*gorm.DB, error) {
	db, err := database.Open(cfg)
	if err != nil {
		return nil, err
	}
	if migrate {
		if err := database.AutoMigrate(db, &identity.User{}); err != nil {
			_ = database.Close(db)
			return nil, err
		}
		log.Info().Str("driver", cfg.Driver).Msg("Database schema migrated")
	}
	return db, nil
}

func serve(c *cli.Context) error {
	cfg, log, err := setup(c)
	if err != nil {
		return err
	}

	db, err := openDatabase(cfg.Database, cfg.Database.AutoMigrate, log)
	if err != nil {
		return err
	}
	defer database.Close(db)
	users := identity.NewGormUserStore(db)

	var resolvers identity.Chain
	switch {
	case len(cfg.Session.Secrets) > 0 && cfg.Redis.Address != "":
		rdb, err := identity.NewRedisClient(c.Context, cfg.Redis)
		if err != nil {
			return err
		}
		defer rdb.Close()
		sessions := identity.NewRedisSessionStore(rdb, cfg.Session.KeyPrefix)
		resolvers = append(resolvers, identity.NewSessionResolver(cfg.Session.CookieName, cfg.Session.Secrets, sessions, users))
		log.Info().Str("cookie", cfg.Session.CookieName).Msg("Session cookie authentication enabled")
	case len(cfg.Session.Secrets) > 0:
		log.Warn().Msg("Session secrets configured without redis.address; session cookie authentication disabled")
	}
	if cfg.Auth.JWTSecret != "" {
		resolvers = append(resolvers, identity.NewTokenResolver(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer, users))
		log.Info().Msg("Bearer token authentication enabled")
	}
	if len(resolvers) == 0 {
		log.Warn().Msg("No identity resolver configured; every connection will be rejected")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	h := hub.New(resolvers, cfg.WebSocket, cfg.RateLimit,
		hub.WithMetrics(hub.NewMetrics(reg)),
		hub.WithLogger(log.With().Str(logging.FieldComponent, "hub").Logger()),
	)

	httpServer := server.CreateServer(cfg.Server, server.SetupRoutes(h, *cfg, reg, log))

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.StartServer(httpServer, log)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down")

		// Stop new upgrades first, then close the hijacked connections.
		if err := server.ShutdownServer(httpServer, cfg.Server.ShutdownTimeout, log); err != nil {
			log.Error().Err(err).Msg("HTTP server did not shut down cleanly")
		}
		if err := h.Shutdown(cfg.Server.ShutdownTimeout); err != nil {
			log.Error().Err(err).Msg("Hub did not shut down cleanly")
		}
		return nil
	})
	return g.Wait()
}

func migrate(c *cli.Context) error {
	cfg, log, err := setup(c)
	if err != nil {
		return err
	}
	db, err := openDatabase(cfg.Database, true, log)
	if err != nil {
		return err
	}
	return database.Close(db)
}

func issueToken(c *cli.Context) error {
	cfg, log, err := setup(c)
	if err != nil {
		return err
	}
	if cfg.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is not configured")
	}

	db, err := openDatabase(cfg.Database, false, log)
	if err != nil {
		return err
	}
	defer database.Close(db)

	ctx, cancel := context.WithTimeout(c.Context, 5*time.Second)
	defer cancel()

	userID := c.Int64("user-id")
	if _, err := identity.NewGormUserStore(db).GetUser(ctx, userID); err != nil {
		return fmt.Errorf("user %d: %w", userID, err)
	}

	token, err := identity.NewTokenResolver(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer, nil).Issue(userID, c.Duration("ttl"))
	if err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, token)
	return nil
}
