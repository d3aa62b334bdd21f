package cmds

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	sloggorm "github.com/orandin/slog-gorm"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/classgrade/gradepipe/internal/config"
	gradeerrors "github.com/classgrade/gradepipe/internal/grade_errors"
	"github.com/classgrade/gradepipe/internal/logger"
	"github.com/classgrade/gradepipe/internal/migrations"
	"github.com/classgrade/gradepipe/internal/models"
	"github.com/classgrade/gradepipe/internal/types"
)

var (
	tokenNote    string
	tokenRead    bool
	tokenOperate bool
)

// Mints an operator key for the ops API. The plaintext secret is printed once
// and only its argon2id hash is stored.
var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint an operator key for the ops API",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, span := tracer.Start(cmd.Context(), "tokenCmd")
		defer span.End()

		span.SetAttributes(
			attribute.String("note", tokenNote),
			attribute.Bool("read", tokenRead),
			attribute.Bool("operate", tokenOperate),
		)

		if !tokenRead && !tokenOperate {
			err := gradeerrors.ExitErrorWrap(
				types.ExitErrored,
				errors.New("a key without permissions is useless, grant --read or --operate"),
			)
			span.RecordError(err)
			span.SetStatus(codes.Error, "no permissions requested")
			return err
		}

		cfg, err := config.GetConfig()
		if err != nil {
			err = gradeerrors.ExitErrorWrap(types.ExitErrored, err)
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to load config")
			return err
		}

		logger.LogLevel.Set(slog.Level(cfg.Logging.App.Level))
		gormLogger := slog.New(logger.Handler)

		db, err := gorm.Open(
			postgres.Open(cfg.PostgresDSN()),
			&gorm.Config{
				Logger: sloggorm.New(
					sloggorm.WithHandler(gormLogger.Handler()),
					sloggorm.SetLogLevel(sloggorm.DefaultLogType, slog.Level(cfg.Logging.Gorm.Level)),
				),
				TranslateError: true,
			},
		)
		if err != nil {
			err = gradeerrors.ExitErrorWrap(types.ExitErrored, err)
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to initialize database")
			return err
		}

		if err := migrations.Up(ctx, db); err != nil {
			err = gradeerrors.ExitErrorWrap(types.ExitErrored, err)
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to perform database migrations")
			return err
		}

		id, secret, err := models.MintOperatorKey(ctx, db, tokenNote, models.OperatorPermissions{
			Read:    tokenRead,
			Operate: tokenOperate,
		})
		if err != nil {
			err = gradeerrors.ExitErrorWrap(types.ExitErrored, err)
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to mint operator key")
			return err
		}

		logger.Logger.InfoContext(ctx, "minted operator key", "id", id, "note", tokenNote)

		// The secret is not recoverable, this is the only time it is shown.
		fmt.Printf("id: %s\nsecret: %s\n", id, secret)

		span.RecordError(nil)
		span.SetStatus(codes.Ok, "minted operator key")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(tokenCmd)

	tokenCmd.PersistentFlags().
		StringVarP(&tokenNote, "note", "n", "", "Nonsensitive note describing the key holder")
	tokenCmd.PersistentFlags().
		BoolVar(&tokenRead, "read", false, "Grant read access to pipeline state")
	tokenCmd.PersistentFlags().
		BoolVar(&tokenOperate, "operate", false, "Grant resolve and replay access")

	for _, flag := range []string{"note"} {
		err := tokenCmd.MarkPersistentFlagRequired(flag)
		if err != nil {
			logger.Logger.Error("error setting flag required", "flag", flag, "error", err)
			os.Exit(1)
		}
	}
}
