package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/confessio/backend/internal/board"
	"github.com/confessio/backend/internal/config"
	"github.com/confessio/backend/internal/database"
	"github.com/confessio/backend/internal/identity"
	"github.com/confessio/backend/internal/logging"
	"github.com/confessio/backend/internal/metrics"
	"github.com/confessio/backend/internal/moderation"
	"github.com/confessio/backend/internal/server"
	"github.com/confessio/backend/internal/wall"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "confessio-api",
		Short: "ConfessIO anonymous confession wall backend",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().Int("board-cap", defaults.GetInt("board.cap"), "Maximum retained notes per board")
	cmd.PersistentFlags().Int("expiry-hours", defaults.GetInt("board.expiry_hours"), "Hours of inactivity before a board is forgotten")
	cmd.PersistentFlags().Int("sweep-interval-minutes", defaults.GetInt("board.sweep_interval_minutes"), "Minutes between retention sweeps")
	cmd.PersistentFlags().Int("max-text-length", defaults.GetInt("board.max_text_length"), "Maximum confession length in characters")
	cmd.PersistentFlags().Int("token-ttl-minutes", defaults.GetInt("moderation.token_ttl_minutes"), "Moderator token TTL in minutes")
	cmd.PersistentFlags().String("moderation-secret", "", "Moderation secret (overrides env)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "board.cap", "board-cap")
	bindFlag(cmd, "board.expiry_hours", "expiry-hours")
	bindFlag(cmd, "board.sweep_interval_minutes", "sweep-interval-minutes")
	bindFlag(cmd, "board.max_text_length", "max-text-length")
	bindFlag(cmd, "moderation.token_ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "moderation.secret", "moderation-secret")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	// An explicitly named config file must load; the implicit lookup is
	// allowed to find nothing.
	if err := viper.ReadInConfig(); err != nil && cfgFile != "" {
		return err
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	metrics.MustRegister()

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	store, err := board.NewStore(board.StoreConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: board.NewUUIDProvider(),
		Policy: board.Policy{
			Cap:           appConfig.BoardCap,
			Expiry:        appConfig.Expiry,
			MaxTextLength: appConfig.MaxTextLength,
		},
		Logger: logger,
	})
	if err != nil {
		return err
	}

	issuer, err := moderation.NewIssuer(moderation.IssuerConfig{
		Secret:   appConfig.ModerationSecret,
		TokenTTL: appConfig.TokenTTL,
	})
	if err != nil {
		return err
	}

	engine, err := wall.NewEngine(wall.EngineConfig{
		Store:         store,
		Rooms:         wall.NewRooms(),
		Identity:      identity.NewGenerator(),
		Moderation:    issuer,
		SweepInterval: appConfig.SweepInterval,
		Logger:        logger,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Engine:      engine,
		KeyProvider: board.NewRandomKeyProvider(),
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go engine.RunSweeper(signalCtx)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
