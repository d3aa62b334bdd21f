package cmds

import (
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/classgrade/gradepipe/internal/config"
	gradeerrors "github.com/classgrade/gradepipe/internal/grade_errors"
	"github.com/classgrade/gradepipe/internal/intake"
	"github.com/classgrade/gradepipe/internal/logger"
	"github.com/classgrade/gradepipe/internal/types"
)

var (
	enqueueArchive    string
	enqueueArchiveURL string
	enqueueFrom       string
	enqueueSubject    string
	enqueueMessageID  string
)

// Pushes one envelope onto the intake queue, bypassing the mail collaborator.
// Useful for feeding a submission back in by hand or smoke testing a
// deployment end to end.
var enqueueCmd = &cobra.Command{
	Use:   "enqueue",
	Short: "Enqueue one submission envelope onto the intake queue",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, span := tracer.Start(cmd.Context(), "enqueueCmd")
		defer span.End()

		if (enqueueArchive == "") == (enqueueArchiveURL == "") {
			err := gradeerrors.ExitErrorWrap(
				types.ExitErrored,
				errors.New("exactly one of --archive and --archive-url is required"),
			)
			span.RecordError(err)
			span.SetStatus(codes.Error, "invalid archive flags")
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

		messageID := enqueueMessageID
		if messageID == "" {
			messageID = "cli-" + uuid.New().String()
		}

		span.SetAttributes(
			attribute.String("message.id", messageID),
			attribute.String("message.from", enqueueFrom),
			attribute.String("message.subject", enqueueSubject),
		)

		env := intake.Envelope{
			MessageID:  messageID,
			From:       enqueueFrom,
			Subject:    enqueueSubject,
			ReceivedAt: time.Now().UTC(),
			ArchiveURL: enqueueArchiveURL,
		}
		if enqueueArchive != "" {
			archive, err := os.ReadFile(enqueueArchive)
			if err != nil {
				err = gradeerrors.ExitErrorWrap(types.ExitErrored, err)
				span.RecordError(err)
				span.SetStatus(codes.Error, "failed to read archive")
				return err
			}
			env.ArchiveB64 = base64.StdEncoding.EncodeToString(archive)
		}

		queuer := intake.NewRedisQueuer(cfg.Intake.RedisHost, cfg.Intake.Queue)
		if err := queuer.Enqueue(ctx, env); err != nil {
			err = gradeerrors.ExitErrorWrap(types.ExitErrored, err)
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to enqueue envelope")
			return err
		}

		logger.Logger.InfoContext(ctx, "enqueued envelope", "messageID", messageID)
		fmt.Println(messageID)

		span.RecordError(nil)
		span.SetStatus(codes.Ok, "enqueued envelope")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(enqueueCmd)

	enqueueCmd.PersistentFlags().
		StringVarP(&enqueueArchive, "archive", "a", "", "Path to an archive to inline into the envelope")
	enqueueCmd.PersistentFlags().
		StringVarP(&enqueueArchiveURL, "archive-url", "u", "", "URL the pipeline should fetch the archive from")
	enqueueCmd.PersistentFlags().
		StringVarP(&enqueueFrom, "from", "f", "", "Sender address to resolve against the roster")
	enqueueCmd.PersistentFlags().
		StringVarP(&enqueueSubject, "subject", "s", "", "Subject line naming the assignment")
	enqueueCmd.PersistentFlags().
		StringVarP(&enqueueMessageID, "message-id", "m", "", "Message id, generated when empty")

	for _, flag := range []string{"from", "subject"} {
		err := enqueueCmd.MarkPersistentFlagRequired(flag)
		if err != nil {
			logger.Logger.Error("error setting flag required", "flag", flag, "error", err)
			os.Exit(1)
		}
	}
}
