package sandbox

import (
	"context"

	"go.opentelemetry.io/otel"

	"github.com/classgrade/gradepipe/internal/types"
)

var tracer = otel.Tracer(
	"github.com/classgrade/gradepipe/internal/sandbox",
)

//go:generate mockgen -destination ./mock/mock.go -package mock . Runner

// Runner executes one submission against its assignment harness and produces
// exactly one verdict. A returned error means the sandbox itself broke before
// a verdict could be decided.
type Runner interface {
	Run(ctx context.Context, req *ExecutionRequest) (*types.Verdict, error)
}

// Step is one fixed harness stage. Steps run in order and share the run's
// wall clock budget; the first non-passing step decides the verdict.
type Step struct {
	Name    string
	Command []string
}

// Limits bound one run. The coordinator resolves the effective values from
// config before building the request, so every field is expected to be set.
type Limits struct {
	CPUSeconds      int64
	WallSeconds     int64
	MemoryBytes     int64
	MaxPids         int64
	MaxFileBytes    int64
	MaxOutputBytes  int64
	MaxProcessBytes int64
}

// ExecutionRequest is everything one run needs: the decoded submission, the
// assignment's harness skeleton and fixed steps, and the resolved limits.
type ExecutionRequest struct {
	Submission *types.Submission
	HarnessDir string
	Steps      []Step
	Limits     Limits
}

// Config controls the jail runner.
type Config struct {
	// BaseDir hosts one scratch workspace per run.
	BaseDir string
	// InitPath locates the jailinit helper binary.
	InitPath string
	// CgroupRoot is the delegated cgroup v2 directory runs live under.
	CgroupRoot string
	// UID and GID are the unprivileged identity jailinit drops to. Zero
	// skips the drop for unprivileged development runs.
	UID uint32
	GID uint32
	// IsolateNetwork runs every step in an empty network namespace.
	IsolateNetwork bool
}
