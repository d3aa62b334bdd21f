package taskrunner

import (
	"context"
	"errors"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

const name = "github.com/classgrade/gradepipe/internal/taskrunner"

var tracer = otel.Tracer(name)

// Client tracks background tasks spawned off request and message handlers so
// shutdown can wait for them. The wait is only as safe as the forceful
// shutdown timeout.
type Client struct {
	running sync.WaitGroup
}

func Create() *Client {
	return &Client{}
}

// Run invokes a as a tracked goroutine under its own span. The task gets a
// context shielded from the caller's cancellation: once accepted, it finishes
// or hits the shutdown timeout, it is never cut off by the request that
// spawned it.
func (c *Client) Run(ctx context.Context, task string, a func(context.Context)) {
	c.running.Add(1)
	go func() {
		defer c.running.Done()

		//nolint:govet // shadow: intentionally shadow ctx to avoid using the incorrect one.
		ctx, span := tracer.Start(ctx, task)
		defer span.End()

		a(context.WithoutCancel(ctx))

		span.RecordError(nil)
		span.SetStatus(codes.Ok, "ran task")
	}()
}

// Shutdown races draining the tracked tasks against ctx becoming done.
func (c *Client) Shutdown(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "Shutdown")
	defer span.End()

	done := make(chan struct{})
	go func() {
		// is this a leak... do we care
		c.running.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		span.AddEvent("hit_timeout")
		span.RecordError(errors.New("error shutting down in time"))
		span.SetStatus(codes.Error, "error shutting down in time")
		return errors.New("error shutting down in time")
	case <-done:
		span.AddEvent("done")
		span.RecordError(nil)
		span.SetStatus(codes.Ok, "finished shutting down")
		return nil
	}
}
