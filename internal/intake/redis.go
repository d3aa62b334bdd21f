package intake

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const pollInterval = 5 * time.Second

// Redis list backed queuer. The mail collaborator LPUSHes envelopes and
// workers BRPOP them, so the list behaves as a FIFO queue.
type RedisQueuer struct {
	rdb *redis.Client
	key string
}

var _ Queuer = (*RedisQueuer)(nil)

func NewRedisQueuer(redisAddr string, queueKey string) *RedisQueuer {
	rdb := redis.NewClient(&redis.Options{
		Addr: redisAddr,
	})

	return &RedisQueuer{rdb: rdb, key: queueKey}
}

func NewRedisQueuerFromClient(client *redis.Client, queueKey string) *RedisQueuer {
	return &RedisQueuer{rdb: client, key: queueKey}
}

func (q RedisQueuer) Enqueue(ctx context.Context, message any) error {
	ctx, span := tracer.Start(ctx, "Redis.Enqueue")
	defer span.End()

	msgJSON, err := json.Marshal(message)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to marshal message")
		return err
	}

	span.AddEvent("serialized_message", trace.WithAttributes(
		attribute.String("message", string(msgJSON)),
	))

	err = q.rdb.LPush(ctx, q.key, string(msgJSON)).Err()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to enqueue message")
		return err
	}

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "enqueued message")
	return nil
}

func (q RedisQueuer) Dequeue(
	ctx context.Context,
	timeout time.Duration,
	handler MessageHandler,
) error {
	ctx, span := tracer.Start(ctx, "Redis.Dequeue", trace.WithAttributes(
		attribute.Int64("timeoutSecs", int64(timeout.Seconds())),
	))
	defer span.End()

	var payload string
loop:
	for {
		res, err := q.rdb.BRPop(ctx, pollInterval, q.key).Result()
		switch {
		case err == nil:
			payload = res[1]
			break loop
		case errors.Is(err, redis.Nil):
			// Empty queue. BRPOP already blocked for pollInterval, just check
			// for cancellation before the next round.
			select {
			case <-ctx.Done():
				span.RecordError(ctx.Err())
				span.SetStatus(codes.Error, "context cancelled")
				return ctx.Err()
			default:
				continue
			}
		default:
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to dequeue message")
			return err
		}
	}

	span.AddEvent("got_message", trace.WithAttributes(
		attribute.String("message", payload),
	))

	handlerCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := handler.Handle(handlerCtx, []byte(payload))
	if err != nil {
		var pe *PoisonError
		if !errors.As(err, &pe) {
			// BRPOP consumed the entry, so redelivery is an explicit requeue.
			// LPUSH sends it to the back of the line instead of hot looping.
			span.AddEvent("failed_message_handler", trace.WithAttributes(
				attribute.String("error", err.Error()),
			))
			pushErr := q.rdb.LPush(context.WithoutCancel(ctx), q.key, payload).Err()
			if pushErr != nil {
				span.RecordError(pushErr)
				span.SetStatus(codes.Error, "failed to requeue message")
				return pushErr
			}
			span.RecordError(nil)
			span.SetStatus(codes.Ok, "dequeued message but failed to handle")
			return nil
		}
	}

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "dequeued message")
	return nil
}
