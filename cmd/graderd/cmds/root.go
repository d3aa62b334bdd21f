package cmds

import (
	"context"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("github.com/classgrade/gradepipe/cmd/graderd/cmds")

var rootCmd = &cobra.Command{
	Use:   "graderd",
	Short: "Grading pipeline daemon and operator tooling",
}

func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}
