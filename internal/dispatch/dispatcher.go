package dispatch

import (
	"context"

	"go.opentelemetry.io/otel"

	"github.com/classgrade/gradepipe/internal/types"
)

var tracer = otel.Tracer(
	"github.com/classgrade/gradepipe/internal/dispatch",
)

//go:generate mockgen -destination ./mock/mock.go -package mock . Dispatcher,TokenSource

// Receipt describes where one graded submission ended up. CommitSHA is the
// head of the delivery branch after the push, which on a repeat dispatch of
// an already delivered tree is the existing commit, not a new one.
type Receipt struct {
	Target         string
	Branch         string
	CommitSHA      string
	PullRequestURL string
}

// Dispatcher delivers a passed submission to the student's target repository.
// Errors are wrapped so the caller can tell retryable transport trouble from
// a rejected delivery that no retry will fix.
type Dispatcher interface {
	Dispatch(
		ctx context.Context,
		sub *types.Submission,
		verdict *types.Verdict,
		repoURL string,
	) (*Receipt, error)
}

// TokenSource yields the credential used as the basic auth password against
// the delivery remote. A nil source means unauthenticated transport, which
// only works for local paths and open remotes.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a TokenSource for operator supplied personal access tokens.
type StaticToken string

func (t StaticToken) Token(_ context.Context) (string, error) {
	return string(t), nil
}
