package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Gobusters/ectoenv"
	"github.com/Gobusters/ectoinject"
	"github.com/Gobusters/ectologger"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	_ "github.com/lib/pq"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.opentelemetry.io/otel"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Ramsey-B/fern/config"
	"github.com/Ramsey-B/fern/internal/repositories/consumertype"
	"github.com/Ramsey-B/fern/internal/repositories/distributorversion"
	"github.com/Ramsey-B/fern/internal/repositories/exportmeta"
	"github.com/Ramsey-B/fern/internal/repositories/importrecord"
	"github.com/Ramsey-B/fern/internal/repositories/owner"
	"github.com/Ramsey-B/fern/internal/repositories/product"
	"github.com/Ramsey-B/fern/internal/repositories/rules"
	"github.com/Ramsey-B/fern/internal/repositories/subscription"
	"github.com/Ramsey-B/fern/internal/repositories/upstreamconsumer"
	"github.com/Ramsey-B/fern/pkg/archive"
	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/events"
	"github.com/Ramsey-B/fern/pkg/exporting"
	"github.com/Ramsey-B/fern/pkg/importing"
	"github.com/Ramsey-B/fern/pkg/kafka"
	"github.com/Ramsey-B/fern/pkg/middleware"
	"github.com/Ramsey-B/fern/pkg/reconciling"
	"github.com/Ramsey-B/fern/pkg/routes/export"
	"github.com/Ramsey-B/fern/pkg/routes/health"
	"github.com/Ramsey-B/fern/pkg/routes/imports"
	ownerroutes "github.com/Ramsey-B/fern/pkg/routes/owner"
	"github.com/Ramsey-B/fern/pkg/signing"
	"github.com/Ramsey-B/fern/pkg/tracing"
	"github.com/Ramsey-B/fern/pkg/tracing/exporters"
)

const version = "1.0.0"

func main() {
	_ = godotenv.Load()

	var cfg config.Config
	if err := ectoenv.BindEnv(&cfg); err != nil {
		panic(fmt.Errorf("failed to load config: %w", err))
	}

	logger, flush := newLogger(cfg)
	defer flush()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.WithError(err).Error("Service exited with error")
		flush()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger ectologger.Logger) error {
	if cfg.TracingEnabled {
		shutdown, err := setupTracing(ctx, cfg)
		if err != nil {
			return fmt.Errorf("failed to start tracing: %w", err)
		}
		defer shutdown(context.Background())
	}

	sqlxDB, err := connectDatabase(cfg)
	if err != nil {
		return err
	}
	defer sqlxDB.Close()

	db := database.NewDatabaseInstance(sqlxDB, logger)

	if err := migrateDatabase(cfg, logger, sqlxDB); err != nil {
		return err
	}

	producer := kafka.NewProducer(kafka.ProducerConfig{
		Brokers:      cfg.KafkaBrokers,
		Topic:        cfg.KafkaOutputTopic,
		BatchSize:    cfg.KafkaBatchSize,
		BatchTimeout: time.Duration(cfg.KafkaBatchTimeout) * time.Millisecond,
		RequiredAcks: cfg.KafkaRequiredAcks,
		Compression:  cfg.KafkaCompression,
	}, logger)
	defer producer.Close()

	emitter := events.NewEmitter(producer, logger)

	signer, err := signing.NewSignerFromFile(cfg.SigningKeyPath)
	if err != nil {
		return fmt.Errorf("failed to load signing key: %w", err)
	}

	var verification signing.VerificationPolicy = signing.AlwaysPass{}
	if cfg.SignatureCheckEnabled {
		verifier, err := signing.NewRSAVerifierFromFile(cfg.SigningPublicKeyPath)
		if err != nil {
			return fmt.Errorf("failed to load verification key: %w", err)
		}
		verification = verifier
	}

	ownerRepo := owner.NewRepository(db, logger)
	subscriptionRepo := subscription.NewRepository(db, logger)
	productRepo := product.NewRepository(db, logger)
	consumerTypeRepo := consumertype.NewRepository(db, logger)
	distributorRepo := distributorversion.NewRepository(db, logger)
	rulesRepo := rules.NewRepository(db, logger)
	upstreamRepo := upstreamconsumer.NewRepository(db, logger)
	watermarkRepo := exportmeta.NewRepository(db, logger)
	recordRepo := importrecord.NewRepository(db, logger)

	engine := reconciling.NewEngine(subscriptionRepo, emitter, logger)

	exporter := exporting.NewExporter(
		ownerRepo,
		subscriptionRepo,
		productRepo,
		consumerTypeRepo,
		distributorRepo,
		rulesRepo,
		archive.NewWriter(signer),
		exporting.DerivedPoolPolicy{},
		exporting.ExporterConfig{
			Version:      version,
			WebAppPrefix: cfg.ExportWebAppPrefix,
			APIURL:       cfg.ExportAPIURL,
			WorkDir:      cfg.ExportWorkDir,
		},
		logger,
	)

	importer := importing.NewImporter(
		ownerRepo,
		upstreamRepo,
		watermarkRepo,
		consumerTypeRepo,
		distributorRepo,
		rulesRepo,
		productRepo,
		recordRepo,
		engine,
		database.NewRunner(db, logger),
		emitter,
		verification,
		importing.ImporterConfig{WorkDir: cfg.ExportWorkDir},
		logger,
	)

	if err := registerDependencies(logger, ownerRepo, recordRepo, exporter, importer); err != nil {
		return err
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.Error(logger)
	e.Use(otelecho.Middleware(cfg.AppName))
	e.Use(middleware.Context())
	e.Use(middleware.Logger(logger))
	e.Use(echomiddleware.CORSWithConfig(echomiddleware.CORSConfig{
		AllowOrigins: cfg.AllowOrigins,
		AllowMethods: cfg.AllowMethods,
	}))
	e.Use(echomiddleware.BodyLimit(fmt.Sprintf("%dM", cfg.MaxManifestBytes/(1<<20))))

	checker := health.NewChecker(sqlxDB, version)
	checker.RegisterRoutes(e)

	api := e.Group("/api/v1")
	ownerroutes.Register(api.Group("/owners"))
	export.Register(api.Group("/owners/:owner_key/export"))
	imports.Register(api.Group("/owners/:owner_key/imports"))

	checker.SetReady(true)

	errCh := make(chan error, 1)
	go func() {
		logger.WithField("port", cfg.Port).Infof("Starting %s on port %d", cfg.AppName, cfg.Port)
		errCh <- e.Start(fmt.Sprintf(":%d", cfg.Port))
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	checker.SetReady(false)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}

// registerDependencies exposes the handler dependencies through the default
// injection container so route handlers can resolve them from request
// contexts.
func registerDependencies(
	logger ectologger.Logger,
	ownerRepo *owner.Repository,
	recordRepo *importrecord.Repository,
	exporter *exporting.Exporter,
	importer *importing.Importer,
) error {
	container, err := ectoinject.NewDIDefaultContainer()
	if err != nil {
		return fmt.Errorf("failed to create injection container: %w", err)
	}

	if err := ectoinject.RegisterInstance[ectologger.Logger](container, logger); err != nil {
		return err
	}
	if err := ectoinject.RegisterInstance[*owner.Repository](container, ownerRepo); err != nil {
		return err
	}
	if err := ectoinject.RegisterInstance[*importrecord.Repository](container, recordRepo); err != nil {
		return err
	}
	if err := ectoinject.RegisterInstance[*exporting.Exporter](container, exporter); err != nil {
		return err
	}
	if err := ectoinject.RegisterInstance[*importing.Importer](container, importer); err != nil {
		return err
	}
	return nil
}

func connectDatabase(cfg config.Config) (*sqlx.DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.DatabaseHost,
		cfg.DatabasePort,
		cfg.DatabaseUserName,
		cfg.DatabasePassword,
		cfg.DatabaseName,
		cfg.DatabaseSSLMode,
	)

	db, err := sqlx.Connect(cfg.DatabaseDriver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(cfg.DatabaseMaxOpenConns)
	db.SetMaxIdleConns(cfg.DatabaseMaxIdleConns)
	db.SetConnMaxLifetime(cfg.DatabaseConnMaxLifetime)
	return db, nil
}

func migrateDatabase(cfg config.Config, logger ectologger.Logger, db *sqlx.DB) error {
	driver, err := migratepg.WithInstance(db.DB, &migratepg.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	ms := database.NewMigrationService(logger, &database.MigrationConfig{
		MigrationFolderPath: cfg.DatabaseMigrationFolderPath,
		Version:             uint(cfg.DatabaseMigrationVersion),
		Force:               cfg.DatabaseMigrationForce,
		AutoRollback:        cfg.DatabaseMigrationAutoRollback,
	})
	return ms.Migrate(cfg.DatabaseName, driver)
}

func setupTracing(ctx context.Context, cfg config.Config) (func(context.Context) error, error) {
	var exporter sdktrace.SpanExporter
	if cfg.TracingOTLPProtocol == "console" {
		exporter = &exporters.ConsoleExporter{}
	} else {
		otlp, err := exporters.NewOTLPExporter(ctx, exporters.OTLPConfig{
			Endpoint: cfg.TracingOTLPEndpoint,
			Protocol: cfg.TracingOTLPProtocol,
			Insecure: true,
			Timeout:  10 * time.Second,
		})
		if err != nil {
			return nil, err
		}
		exporter = otlp
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(sdkresource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.AppName),
			semconv.ServiceVersion(version),
		)),
	)
	otel.SetTracerProvider(tp)
	tracing.SetTracer(tp.Tracer(cfg.AppName))
	return tp.Shutdown, nil
}

func newLogger(cfg config.Config) (ectologger.Logger, func()) {
	var zcfg zap.Config
	if cfg.PrettyLogs {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
	}
	if level, err := zapcore.ParseLevel(cfg.LogLevel); err == nil {
		zcfg.Level = zap.NewAtomicLevelAt(level)
	}

	zlog, err := zcfg.Build(zap.WithCaller(false))
	if err != nil {
		panic(fmt.Errorf("failed to build logger: %w", err))
	}

	logger := ectologger.NewEctoLogger(func(msg ectologger.EctoLogMessage) {
		fields := make([]zap.Field, 0, len(msg.Fields)+1)
		for k, v := range msg.Fields {
			fields = append(fields, zap.Any(k, v))
		}
		if msg.Err != nil {
			fields = append(fields, zap.Error(msg.Err))
		}

		switch strings.ToLower(fmt.Sprint(msg.Level)) {
		case "debug":
			zlog.Debug(msg.Message, fields...)
		case "warn", "warning":
			zlog.Warn(msg.Message, fields...)
		case "error":
			zlog.Error(msg.Message, fields...)
		default:
			zlog.Info(msg.Message, fields...)
		}
	})

	return logger, func() { _ = zlog.Sync() }
}
