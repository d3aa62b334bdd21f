package cmds

import (
	"encoding/json"
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
	"github.com/classgrade/gradepipe/internal/logger"
	"github.com/classgrade/gradepipe/internal/pipeline"
	"github.com/classgrade/gradepipe/internal/types"
)

var (
	gradeArchive string
	gradeFrom    string
	gradeSubject string
)

// Grades one archive exactly like the pipeline would, but records nothing.
// The verdict decides the exit code so harness changes can be smoke tested
// from a shell.
var gradeCmd = &cobra.Command{
	Use:   "grade",
	Short: "Grade one archive from disk without recording anything",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, span := tracer.Start(cmd.Context(), "gradeCmd")
		defer span.End()

		span.SetAttributes(
			attribute.String("archive", gradeArchive),
			attribute.String("from", gradeFrom),
			attribute.String("subject", gradeSubject),
		)

		cfg, err := config.GetConfig()
		if err != nil {
			err = gradeerrors.ExitErrorWrap(types.ExitErrored, err)
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to load config")
			return err
		}

		logger.LogLevel.Set(slog.Level(cfg.Logging.App.Level))

		archive, err := os.ReadFile(gradeArchive)
		if err != nil {
			err = gradeerrors.ExitErrorWrap(types.ExitErrored, err)
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to read archive")
			return err
		}

		logger.Logger.InfoContext(ctx, "grading archive",
			"archive", gradeArchive,
			"bytes", len(archive),
		)

		decoder := decoderFromConfig(cfg)
		sub, err := decoder.Decode(ctx, &types.RawMessage{
			MessageID:  "grade-" + uuid.New().String(),
			From:       gradeFrom,
			Subject:    gradeSubject,
			ReceivedAt: time.Now(),
			Archive:    archive,
		})
		if err != nil {
			err = gradeerrors.ExitErrorWrap(types.ExitErrored, err)
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to decode submission")
			return err
		}

		span.SetAttributes(
			attribute.String("submission.fingerprint", sub.Fingerprint),
			attribute.String("assignment.id", sub.AssignmentID),
		)

		assignment, ok := cfg.Course.AssignmentByID(sub.AssignmentID)
		if !ok {
			err = gradeerrors.ExitErrorWrap(
				types.ExitErrored,
				fmt.Errorf("assignment %q is not configured", sub.AssignmentID),
			)
			span.RecordError(err)
			span.SetStatus(codes.Error, "assignment is not configured")
			return err
		}

		runner, err := jailRunnerFromConfig(cfg)
		if err != nil {
			err = gradeerrors.ExitErrorWrap(types.ExitErrored, err)
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to construct sandbox runner")
			return err
		}

		verdict, err := runner.Run(ctx, pipeline.ExecutionRequestFor(cfg, sub, assignment))
		if err != nil {
			err = gradeerrors.ExitErrorWrap(types.ExitVerdictError, err)
			span.RecordError(err)
			span.SetStatus(codes.Error, "sandbox run broke before a verdict")
			return err
		}

		out, err := json.MarshalIndent(verdict, "", "  ")
		if err != nil {
			err = gradeerrors.ExitErrorWrap(types.ExitErrored, err)
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to render verdict")
			return err
		}
		fmt.Println(string(out))

		span.SetAttributes(attribute.String("verdict.status", verdict.Status.String()))

		switch verdict.Status {
		case types.VerdictStatusFailed:
			err = gradeerrors.ExitErrorWrap(
				types.ExitVerdictFailed,
				fmt.Errorf("verdict failed at step %q", verdict.FailedStep),
			)
			span.RecordError(err)
			span.SetStatus(codes.Ok, "graded with a failed verdict")
			return err
		case types.VerdictStatusError:
			err = gradeerrors.ExitErrorWrap(
				types.ExitVerdictError,
				fmt.Errorf("sandbox error: %s", verdict.Reason),
			)
			span.RecordError(err)
			span.SetStatus(codes.Ok, "graded with an error verdict")
			return err
		default:
			span.RecordError(nil)
			span.SetStatus(codes.Ok, "graded with a passing verdict")
			return nil
		}
	},
}

func init() {
	rootCmd.AddCommand(gradeCmd)

	gradeCmd.PersistentFlags().
		StringVarP(&gradeArchive, "archive", "a", "", "Path to the submission archive")
	gradeCmd.PersistentFlags().
		StringVarP(&gradeFrom, "from", "f", "", "Sender address to resolve against the roster")
	gradeCmd.PersistentFlags().
		StringVarP(&gradeSubject, "subject", "s", "", "Subject line naming the assignment")

	for _, flag := range []string{"archive", "from", "subject"} {
		err := gradeCmd.MarkPersistentFlagRequired(flag)
		if err != nil {
			logger.Logger.Error("error setting flag required", "flag", flag, "error", err)
			os.Exit(1)
		}
	}
}
