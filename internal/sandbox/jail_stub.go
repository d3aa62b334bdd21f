//go:build !linux

package sandbox

import (
	"context"
	"fmt"

	"github.com/classgrade/gradepipe/internal/types"
)

// JailRunner needs Linux namespaces and cgroup v2; other platforms get a
// constructor that refuses to build one.
type JailRunner struct{}

var _ Runner = (*JailRunner)(nil)

func NewJailRunner(_ Config) (*JailRunner, error) {
	return nil, fmt.Errorf("sandbox jail is only supported on linux")
}

func (r *JailRunner) Run(_ context.Context, _ *ExecutionRequest) (*types.Verdict, error) {
	return nil, fmt.Errorf("sandbox jail is only supported on linux")
}
