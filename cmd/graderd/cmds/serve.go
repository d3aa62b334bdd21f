package cmds

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/labstack/echo/v4"
	sloggorm "github.com/orandin/slog-gorm"
	"github.com/sethvargo/go-retry"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/codes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormtracing "gorm.io/plugin/opentelemetry/tracing"

	"github.com/classgrade/gradepipe/cmd/graderd/internal/ops"
	"github.com/classgrade/gradepipe/internal/config"
	"github.com/classgrade/gradepipe/internal/decode"
	"github.com/classgrade/gradepipe/internal/dispatch"
	"github.com/classgrade/gradepipe/internal/fetch"
	gradeerrors "github.com/classgrade/gradepipe/internal/grade_errors"
	"github.com/classgrade/gradepipe/internal/intake"
	"github.com/classgrade/gradepipe/internal/logger"
	"github.com/classgrade/gradepipe/internal/migrations"
	"github.com/classgrade/gradepipe/internal/pipeline"
	"github.com/classgrade/gradepipe/internal/record"
	"github.com/classgrade/gradepipe/internal/sandbox"
	"github.com/classgrade/gradepipe/internal/taskrunner"
	"github.com/classgrade/gradepipe/internal/types"
	"github.com/classgrade/gradepipe/internal/upload"
)

type server struct {
	router        *echo.Echo
	config        *config.Config
	taskRunner    *taskrunner.Client
	coordinator   *pipeline.Coordinator
	queuer        *intake.RedisQueuer
	consumeCancel func()
	consumeDone   chan struct{}
}

func initServer(ctx context.Context) (*server, error) {
	server := new(server)

	cfg, err := config.GetConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize server config: %w", err)
	}
	server.config = cfg

	ctx, span := tracer.Start(ctx, "initServer")
	defer span.End()

	logger.LogLevel.Set(slog.Level(cfg.Logging.App.Level))
	gormLogger := slog.New(logger.Handler)

	sg := sloggorm.New(
		sloggorm.WithHandler(gormLogger.Handler()),
		sloggorm.SetLogLevel(sloggorm.DefaultLogType, slog.Level(cfg.Logging.Gorm.Level)),
	)
	if cfg.Logging.Gorm.TraceQueries {
		sg = sloggorm.New(
			sloggorm.WithHandler(gormLogger.Handler()),
			sloggorm.WithTraceAll(),
			sloggorm.SetLogLevel(sloggorm.DefaultLogType, slog.Level(cfg.Logging.Gorm.Level)),
		)
	}

	span.AddEvent("initialized gorm logging")

	db, err := gorm.Open(
		postgres.Open(cfg.PostgresDSN()),
		&gorm.Config{Logger: sg, TranslateError: true},
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to initialize database")
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to acquire underlying database connection")
		return nil, fmt.Errorf("failed to acquire underlying database connection: %w", err)
	}

	// Configure db connection pool
	sqlDB.SetMaxIdleConns(cfg.Postgres.MaxIdleConnections)
	sqlDB.SetMaxOpenConns(cfg.Postgres.MaxOpenConnections)
	sqlDB.SetConnMaxLifetime(cfg.Postgres.ConnectionTTL)

	span.AddEvent("initialized database connection")

	err = db.Use(gormtracing.NewPlugin())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to add otel plugin to gorm")
		return nil, fmt.Errorf("failed to add otel plugin to gorm: %w", err)
	}

	span.AddEvent("added the otel plugin to gorm")

	err = migrations.Up(ctx, db)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to perform database migrations")
		return nil, fmt.Errorf("failed to perform database migrations: %w", err)
	}

	span.AddEvent("migrated database to latest version")

	archiver, err := upload.NewMinioUploader(
		cfg.S3Archive.Endpoint,
		cfg.S3Archive.AccessKeyID,
		cfg.S3Archive.SecretAccessKey,
		cfg.S3Archive.SSLEnabled,
		cfg.S3Archive.BucketName,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to construct archiver")
		return nil, err
	}

	span.AddEvent("initialized archive store")

	runner, err := jailRunnerFromConfig(cfg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to construct sandbox runner")
		return nil, fmt.Errorf("failed to construct sandbox runner: %w", err)
	}

	span.AddEvent("initialized sandbox runner")

	var dispatcher dispatch.Dispatcher
	if cfg.Dispatch.Enabled != nil && *cfg.Dispatch.Enabled {
		tokens, err := dispatch.TokenSourceFromConfig(cfg.Dispatch.Github)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to construct dispatch token source")
			return nil, fmt.Errorf("failed to construct dispatch token source: %w", err)
		}
		dispatcher = dispatch.NewGitDispatcher(cfg.Dispatch, tokens)

		span.AddEvent("initialized dispatcher")
	} else {
		logger.Logger.Warn("dispatch is disabled, verdicts stop at the database")
	}

	httpClient := retryablehttp.NewClient()
	httpClient.RetryMax = 3
	fetcher := fetch.NewHTTPFetcher(httpClient.StandardClient())

	store := record.NewStore(db)
	queuer := intake.NewRedisQueuer(cfg.Intake.RedisHost, cfg.Intake.Queue)
	taskRunnerClient := taskrunner.Create()

	coordinator := pipeline.NewCoordinator(
		cfg,
		decoderFromConfig(cfg),
		record.NewRetryStore(store),
		runner,
		dispatcher,
		upload.NewRetryUploader(archiver),
		fetcher,
	)

	backoff := func() retry.Backoff {
		b := retry.NewFibonacci(time.Millisecond * 25)
		b = retry.WithMaxRetries(3, b)
		return b
	}
	opsHandler := ops.NewHandler(
		db,
		record.NewRetryStoreBackoff(store, backoff),
		queuer,
		upload.NewRetryUploaderBackoff(archiver, backoff),
		taskRunnerClient,
		cfg,
	)

	e, err := ops.BuildEcho(logger.Logger)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "error building router")
		return nil, fmt.Errorf("error building router: %w", err)
	}

	span.AddEvent("created echo router")

	opsHandler.AddRoutes(e)

	server.router = e
	server.taskRunner = taskRunnerClient
	server.coordinator = coordinator
	server.queuer = queuer
	server.consumeDone = make(chan struct{})

	return server, nil
}

func (s *server) Start(ctx context.Context) error {
	consumeCtx, consumeCancel := context.WithCancel(ctx)
	s.consumeCancel = consumeCancel

	go func() {
		defer close(s.consumeDone)
		if err := s.coordinator.Consume(consumeCtx, s.queuer, s.config.Intake.Workers); err != nil {
			logger.Logger.Error("intake consumer stopped", "error", err)
		}
	}()

	logger.Logger.Info("Starting services...")

	err := s.router.Start(s.config.ListenAddress)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

func (s *server) Shutdown() error {
	var errs error

	ctx, cancelTimeout := context.WithTimeout(
		context.Background(),
		time.Second*time.Duration(s.config.GracefulShutdownSecs),
	)
	defer cancelTimeout()

	// Workers finish the submission they hold before exiting, so the drain
	// wait is bounded by the slowest in-flight sandbox run.
	s.consumeCancel()
	select {
	case <-s.consumeDone:
	case <-ctx.Done():
		errs = errors.Join(errs, errors.New("intake workers did not drain before the deadline"))
	}

	if err := s.router.Shutdown(ctx); err != nil {
		errs = errors.Join(errs, err)
	}

	if err := s.taskRunner.Shutdown(ctx); err != nil {
		errs = errors.Join(errs, fmt.Errorf("failed to shutdown taskRunner gracefully: %w", err))
	}

	return errs
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the grading pipeline and operator API",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cancelSignal := signal.NotifyContext(
			cmd.Context(),
			syscall.SIGTERM,
			syscall.SIGINT,
		)
		defer cancelSignal()

		server, err := initServer(ctx)
		if err != nil {
			logger.Logger.Error(err.Error())
			return gradeerrors.ExitErrorWrap(types.ExitErrored, err)
		}

		errch := make(chan error, 1)
		go func() {
			<-ctx.Done()
			logger.Logger.Info("Got shutdown signal!")
			errch <- server.Shutdown()
			close(errch)
		}()

		if err := server.Start(ctx); err != nil {
			logger.Logger.Error(err.Error())
			return gradeerrors.ExitErrorWrap(types.ExitErrored, err)
		}

		if err := <-errch; err != nil {
			logger.Logger.Error("Error shutting down server", "error", err)
		}

		return nil
	},
}

// decoderFromConfig builds the roster driven decoder shared by the daemon and
// the one-shot grade command.
func decoderFromConfig(cfg *config.Config) *decode.Decoder {
	students := make([]decode.Student, 0, len(cfg.Course.Students))
	for _, s := range cfg.Course.Students {
		students = append(students, decode.Student{ID: s.ID, Name: s.Name, Email: s.Email})
	}

	assignments := make([]decode.Assignment, 0, len(cfg.Course.Assignments))
	for _, a := range cfg.Course.Assignments {
		assignments = append(assignments, decode.Assignment{ID: a.ID, Aliases: a.Aliases})
	}

	return decode.NewDecoder(students, assignments, decode.ExtractLimits{
		MaxFiles:      cfg.Intake.MaxFiles,
		MaxFileBytes:  cfg.Intake.MaxFileBytes,
		MaxTotalBytes: cfg.Intake.MaxArchiveBytes,
	})
}

func jailRunnerFromConfig(cfg *config.Config) (*sandbox.JailRunner, error) {
	isolate := true
	if cfg.Sandbox.IsolateNetwork != nil {
		isolate = *cfg.Sandbox.IsolateNetwork
	}

	return sandbox.NewJailRunner(sandbox.Config{
		BaseDir:        cfg.Sandbox.BaseDir,
		InitPath:       cfg.Sandbox.InitPath,
		CgroupRoot:     cfg.Sandbox.CgroupRoot,
		UID:            cfg.Sandbox.UID,
		GID:            cfg.Sandbox.GID,
		IsolateNetwork: isolate,
	})
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
