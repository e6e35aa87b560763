package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/careercopilot/backend/internal/analysis"
	"github.com/MarcoPoloResearchLab/careercopilot/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/careercopilot/backend/internal/compression"
	"github.com/MarcoPoloResearchLab/careercopilot/backend/internal/config"
	"github.com/MarcoPoloResearchLab/careercopilot/backend/internal/database"
	"github.com/MarcoPoloResearchLab/careercopilot/backend/internal/documents"
	"github.com/MarcoPoloResearchLab/careercopilot/backend/internal/encryption"
	"github.com/MarcoPoloResearchLab/careercopilot/backend/internal/events"
	"github.com/MarcoPoloResearchLab/careercopilot/backend/internal/jobs"
	"github.com/MarcoPoloResearchLab/careercopilot/backend/internal/logging"
	"github.com/MarcoPoloResearchLab/careercopilot/backend/internal/matching"
	"github.com/MarcoPoloResearchLab/careercopilot/backend/internal/migrations"
	"github.com/MarcoPoloResearchLab/careercopilot/backend/internal/queue"
	"github.com/MarcoPoloResearchLab/careercopilot/backend/internal/server"
	"github.com/MarcoPoloResearchLab/careercopilot/backend/internal/storage"
	"github.com/MarcoPoloResearchLab/careercopilot/backend/internal/users"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

var (
	cfgFile string
	envFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "copilot-api",
		Short: "Career Co-Pilot document backend",
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
	cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Optional dotenv file loaded before reading the environment")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-driver", defaults.GetString("database.driver"), "Database driver (sqlite, postgres)")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("database-dsn", "", "Postgres DSN")
	cmd.PersistentFlags().Int("token-ttl-minutes", defaults.GetInt("auth.token_ttl_minutes"), "Backend token TTL in minutes")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Backend signing secret (overrides env)")
	cmd.PersistentFlags().String("storage-driver", defaults.GetString("storage.driver"), "Blob storage driver (local, minio)")
	cmd.PersistentFlags().String("upload-root", defaults.GetString("storage.upload_root"), "Directory for the local blob store")
	cmd.PersistentFlags().String("migration-queue", defaults.GetString("migrations.queue"), "Migration dispatch mode (inline, redis)")
	cmd.PersistentFlags().Int("migration-workers", defaults.GetInt("migrations.workers"), "Concurrent Redis migration consumers")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.driver", "database-driver")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "database.dsn", "database-dsn")
	bindFlag(cmd, "auth.token_ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "storage.driver", "storage-driver")
	bindFlag(cmd, "storage.upload_root", "upload-root")
	bindFlag(cmd, "migrations.queue", "migration-queue")
	bindFlag(cmd, "migrations.workers", "migration-workers")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
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

	db, err := database.Open(database.Config{
		Driver: appConfig.DatabaseDriver,
		Path:   appConfig.DatabasePath,
		DSN:    appConfig.DatabaseDSN,
	}, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	store, err := openBlobStore(appConfig)
	if err != nil {
		return err
	}

	compressor, err := compression.NewService(compression.Config{
		Algorithm: appConfig.CompressionAlgorithm,
		MinSize:   appConfig.CompressionMinSize,
	})
	if err != nil {
		return err
	}
	encryptor, err := encryption.NewService([]byte(appConfig.EncryptionSecret))
	if err != nil {
		return err
	}

	tokenManager, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		TokenTTL:      appConfig.TokenTTL,
	})
	if err != nil {
		return err
	}

	userService, err := users.NewService(users.ServiceConfig{Database: db, Clock: time.Now})
	if err != nil {
		return err
	}

	documentService, err := documents.NewService(documents.ServiceConfig{
		Database:   db,
		Store:      store,
		Compressor: compressor,
		Encryptor:  encryptor,
		Analyzer:   analysis.NewAnalyzer(),
		IDProvider: documents.NewUUIDProvider(),
		Clock:      time.Now,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	hub := events.NewHub()
	publishers := events.Fanout{hub}
	if appConfig.EventsAMQPURL != "" {
		amqpPublisher, err := events.NewAMQPPublisher(appConfig.EventsAMQPURL, appConfig.EventsExchange)
		if err != nil {
			return err
		}
		defer amqpPublisher.Close() //nolint:errcheck
		publishers = append(publishers, amqpPublisher)
	}

	migrationService, err := migrations.NewService(migrations.ServiceConfig{
		Database:   db,
		Documents:  documentService,
		Store:      store,
		Compressor: compressor,
		Encryptor:  encryptor,
		Publisher:  publishers,
		IDProvider: documents.NewUUIDProvider(),
		Clock:      time.Now,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	jobService, err := jobs.NewService(jobs.ServiceConfig{Database: db, Clock: time.Now, Logger: logger})
	if err != nil {
		return err
	}
	var jobFeed server.JobFeed
	if appConfig.JobsFeedURL != "" {
		feedClient, err := jobs.NewFeedClient(jobs.FeedConfig{
			URL:     appConfig.JobsFeedURL,
			Token:   appConfig.JobsFeedToken,
			Timeout: appConfig.JobsRequestTimeout,
		})
		if err != nil {
			return err
		}
		jobFeed = feedClient
	}

	matchingService, err := matching.NewService(matching.ServiceConfig{
		Documents: documentService,
		Jobs:      jobService,
		Clock:     time.Now,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		TokenManager: tokenManager,
		Users:        userService,
		Documents:    documentService,
		Migrations:   migrationService,
		Jobs:         jobService,
		Matching:     matchingService,
		JobFeed:      jobFeed,
		Events:       hub,
		Logger:       logger,
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

	group, groupCtx := errgroup.WithContext(signalCtx)

	switch appConfig.MigrationQueue {
	case config.MigrationQueueRedis:
		migrationQueue, err := queue.NewRedisQueue(queue.RedisQueueConfig{
			Addr:     appConfig.RedisAddress,
			Password: appConfig.RedisPassword,
			Stream:   appConfig.RedisStream,
			Logger:   logger,
		})
		if err != nil {
			return err
		}
		defer migrationQueue.Close() //nolint:errcheck
		migrationService.UseDispatcher(migrationQueue)
		group.Go(func() error {
			logger.Info("migration workers starting", zap.Int("workers", appConfig.MigrationWorkers))
			return migrationQueue.Run(groupCtx, appConfig.MigrationWorkers, migrationService.HandleTask)
		})
	default:
		inline := migrations.NewInlineDispatcher(migrationService, logger)
		migrationService.UseDispatcher(inline)
		defer inline.Wait()
	}

	group.Go(func() error {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	return group.Wait()
}

func openBlobStore(appConfig config.AppConfig) (storage.BlobStore, error) {
	if appConfig.StorageDriver == config.StorageDriverMinio {
		return storage.NewMinioStore(storage.MinioStoreConfig{
			Endpoint:  appConfig.Minio.Endpoint,
			AccessKey: appConfig.Minio.AccessKey,
			SecretKey: appConfig.Minio.SecretKey,
			Bucket:    appConfig.Minio.Bucket,
			UseSSL:    appConfig.Minio.UseSSL,
		})
	}
	return storage.NewLocalStore(appConfig.UploadRoot)
}
