package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/prospectflow/internal/auth"
	"github.com/MarcoPoloResearchLab/prospectflow/internal/config"
	"github.com/MarcoPoloResearchLab/prospectflow/internal/contacts"
	"github.com/MarcoPoloResearchLab/prospectflow/internal/database"
	"github.com/MarcoPoloResearchLab/prospectflow/internal/geocoding"
	"github.com/MarcoPoloResearchLab/prospectflow/internal/jobs"
	"github.com/MarcoPoloResearchLab/prospectflow/internal/logging"
	"github.com/MarcoPoloResearchLab/prospectflow/internal/server"
	"github.com/MarcoPoloResearchLab/prospectflow/internal/users"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const shutdownTimeout = 10 * time.Second

var (
	cfgFile string
	envFile string
	version = "dev"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "prospectflow-api",
		Short:        "ProspectFlow contact list backend",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(newServeCommand(), newTokenCommand(), newCleanCorruptedCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Path to a dotenv file loaded before configuration")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-driver", defaults.GetString("database.driver"), "Database driver (sqlite, postgres)")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("database-dsn", defaults.GetString("database.dsn"), "PostgreSQL DSN")
	cmd.PersistentFlags().Int("token-ttl-minutes", defaults.GetInt("auth.token_ttl_minutes"), "Session token TTL in minutes")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Session signing secret (overrides env)")
	cmd.PersistentFlags().Bool("geocoding-enabled", defaults.GetBool("geocoding.enabled"), "Enable batch geocoding")
	cmd.PersistentFlags().String("geocoding-redis-address", defaults.GetString("geocoding.redis_address"), "Redis address shared by geocoding workers")
	cmd.PersistentFlags().String("sentry-dsn", defaults.GetString("sentry.dsn"), "Sentry DSN for background job failures")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.driver", "database-driver")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "database.dsn", "database-dsn")
	bindFlag(cmd, "auth.token_ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "geocoding.enabled", "geocoding-enabled")
	bindFlag(cmd, "geocoding.redis_address", "geocoding-redis-address")
	bindFlag(cmd, "sentry.dsn", "sentry-dsn")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load env file %s: %w", envFile, err)
		}
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}
}

func newTokenCommand() *cobra.Command {
	var subject auth.SessionSubject
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a session token for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			appConfig, err := config.Load(viper.GetViper())
			if err != nil {
				return err
			}
			issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
				SigningSecret: []byte(appConfig.SigningSecret),
				Issuer:        appConfig.Issuer,
				TokenTTL:      appConfig.TokenTTL,
			})
			if err != nil {
				return err
			}
			token, expiresAt, err := issuer.IssueSessionToken(subject)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires at %s\n", expiresAt.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&subject.UserID, "user-id", "", "User identifier placed in the token")
	cmd.Flags().StringVar(&subject.Email, "email", "", "User email claim")
	cmd.Flags().StringVar(&subject.DisplayName, "name", "", "User display name claim")
	if err := cmd.MarkFlagRequired("user-id"); err != nil {
		panic(err)
	}
	return cmd
}

func newCleanCorruptedCommand() *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "clean-corrupted",
		Short: "Find and delete contacts whose data is not a JSON object",
		RunE: func(cmd *cobra.Command, args []string) error {
			appConfig, err := config.LoadDatabase(viper.GetViper())
			if err != nil {
				return err
			}
			logger, err := logging.NewLogger(appConfig.LogLevel)
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			db, closeDB, err := openDatabase(appConfig, logger)
			if err != nil {
				return err
			}
			defer closeDB()

			contactService, err := contacts.NewService(contacts.ServiceConfig{
				Database:   db,
				IDProvider: contacts.NewUUIDProvider(),
				Logger:     logger,
			})
			if err != nil {
				return err
			}
			return cleanCorrupted(cmd, contactService, dryRun)
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Report corrupted contacts without deleting them")
	return cmd
}

func cleanCorrupted(cmd *cobra.Command, contactService *contacts.Service, dryRun bool) error {
	ctx := cmd.Context()
	corrupted, err := contactService.CorruptedContacts(ctx)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(corrupted) == 0 {
		fmt.Fprintln(out, "no corrupted contacts found")
		return nil
	}
	ids := make([]string, 0, len(corrupted))
	for _, contact := range corrupted {
		ids = append(ids, contact.ID)
		fmt.Fprintf(out, "%s\tlist=%s\t%s\n", contact.ID, contact.ListID, contact.DisplayName())
	}
	if dryRun {
		fmt.Fprintf(out, "%d corrupted contacts found (dry run, nothing deleted)\n", len(corrupted))
		return nil
	}
	removed, err := contactService.PurgeContacts(ctx, ids)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "deleted %d corrupted contacts\n", removed)
	return nil
}

func openDatabase(appConfig config.AppConfig, logger *zap.Logger) (*gorm.DB, func(), error) {
	db, err := database.Open(database.Config{
		Driver: appConfig.DatabaseDriver,
		Path:   appConfig.DatabasePath,
		DSN:    appConfig.DatabaseDSN,
	}, logger)
	if err != nil {
		return nil, nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, err
	}
	return db, func() { _ = sqlDB.Close() }, nil
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

	db, closeDB, err := openDatabase(appConfig, logger)
	if err != nil {
		return err
	}
	defer closeDB()

	contactService, err := contacts.NewService(contacts.ServiceConfig{
		Database:       db,
		Clock:          time.Now,
		IDProvider:     contacts.NewUUIDProvider(),
		Logger:         logger,
		MaxUploadBytes: appConfig.UploadMaxBytes,
		StrictEmail:    appConfig.StrictEmail,
	})
	if err != nil {
		return err
	}

	userService, err := users.NewService(users.ServiceConfig{Database: db})
	if err != nil {
		return err
	}

	runnerConfig := jobs.RunnerConfig{Logger: logger}
	var reporter *jobs.SentryReporter
	if appConfig.SentryDSN != "" {
		reporter, err = jobs.NewSentryReporter(jobs.SentryConfig{
			DSN:         appConfig.SentryDSN,
			Environment: appConfig.SentryEnvironment,
			Release:     "prospectflow-api@" + version,
		})
		if err != nil {
			return err
		}
		defer reporter.Flush()
		runnerConfig.Reporter = reporter
	}
	runner := jobs.NewRunner(runnerConfig)

	gate, closeGate, err := newGeocodingGate(appConfig.Geocoding, logger)
	if err != nil {
		return err
	}
	defer closeGate()

	geocoder, err := geocoding.NewNominatimClient(geocoding.NominatimConfig{
		Endpoint:  appConfig.Geocoding.Endpoint,
		UserAgent: appConfig.Geocoding.UserAgent,
		Timeout:   appConfig.Geocoding.Timeout,
		Gate:      gate,
	})
	if err != nil {
		return err
	}

	orchestrator, err := geocoding.NewOrchestrator(geocoding.OrchestratorConfig{
		Store:    contactService,
		Jobs:     runner,
		Geocoder: geocoder,
		Enabled:  appConfig.Geocoding.Enabled,
		Country:  appConfig.Geocoding.Country,
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	if err := runner.Register(geocoding.JobName, orchestrator.JobHandler()); err != nil {
		return err
	}

	sessionValidator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        appConfig.Issuer,
		CookieName:    appConfig.CookieName,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Sessions:       sessionValidator,
		Users:          userService,
		Contacts:       contactService,
		Geocoding:      orchestrator,
		Logger:         logger,
		AllowedOrigins: appConfig.AllowedOrigins,
		MaxUploadBytes: appConfig.UploadMaxBytes,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              appConfig.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

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
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		serverErr := httpServer.Shutdown(shutdownCtx)
		if err := runner.Shutdown(shutdownCtx); err != nil {
			logger.Warn("background jobs interrupted", zap.Error(err))
		}
		return serverErr
	case err := <-errCh:
		_ = runner.Shutdown(context.Background())
		return err
	}
}

// newGeocodingGate picks the Redis gate when an address is configured and the in-process gate otherwise.
func newGeocodingGate(cfg config.GeocodingConfig, logger *zap.Logger) (geocoding.Gate, func(), error) {
	if cfg.RedisAddress != "" {
		gate, client, err := geocoding.NewRedisGate(geocoding.RedisGateConfig{
			Address:  cfg.RedisAddress,
			Interval: cfg.MinInterval,
		})
		if err != nil {
			return nil, nil, err
		}
		logger.Info("geocoding rate gate shared through redis", zap.String("address", cfg.RedisAddress))
		return gate, func() { _ = client.Close() }, nil
	}
	if cfg.MinInterval <= 0 || cfg.MinInterval == geocoding.DefaultMinInterval {
		return geocoding.SharedGate(), func() {}, nil
	}
	return geocoding.NewIntervalGate(cfg.MinInterval), func() {}, nil
}
