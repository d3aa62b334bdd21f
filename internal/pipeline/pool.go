package pipeline

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/classgrade/gradepipe/internal/intake"
)

// Consume drains the intake queue with a bounded pool of workers until ctx is
// cancelled. Each worker carries one submission at a time end to end, so the
// pool size is also the ceiling on concurrent sandbox runs.
func (c *Coordinator) Consume(ctx context.Context, queuer intake.Queuer, workers int) error {
	ctx, span := tracer.Start(ctx, "Coordinator.Consume", trace.WithAttributes(
		attribute.Int("workers", workers),
	))
	defer span.End()

	grp, ctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		grp.Go(func() error {
			c.worker(ctx, queuer)
			return nil
		})
	}

	err := grp.Wait()

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "drained workers")
	return err
}

// worker dequeues and handles messages until ctx is cancelled. Dequeue owns
// the requeue-or-poison decision; a failed loop iteration never takes the
// worker down with it.
func (c *Coordinator) worker(ctx context.Context, queuer intake.Queuer) {
OUTER:
	for {
		func() {
			//nolint:govet // shadow: intentionally shadow ctx and span to avoid using the incorrect one.
			ctx, span := tracer.Start(ctx, "Coordinator.worker.Loop")
			defer span.End()

			if err := queuer.Dequeue(ctx, handleTimeout, c); err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, "failed to dequeue and handle message")
				return
			}
		}()

		select {
		case <-ctx.Done():
			break OUTER
		default:
			continue
		}
	}
}
