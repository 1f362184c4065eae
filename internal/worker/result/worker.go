package result

import (
	"context"
	"encoding/json"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/acme/followup-call-service/internal/app"
	"github.com/acme/followup-call-service/internal/domain"
	"github.com/acme/followup-call-service/pkg/logger"
)

// Worker consumes finalized call results and persists them: the scored
// record into Postgres, the per-question transcript into Scylla.
type Worker struct {
	container *app.Container
}

// New creates a result worker.
func New(container *app.Container) *Worker {
	return &Worker{container: container}
}

// Run processes result messages until the context is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	cfg := w.container.Config
	reader := w.container.Kafka.NewReader(cfg.Kafka.ResultTopic, cfg.Kafka.ConsumerGroupID)
	defer reader.Close()

	log := w.container.Logger
	tracer := otel.Tracer("followup.resultworker")

	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Error("result worker: fetch", zap.Error(err))
			continue
		}

		var result domain.CallResult
		if err := json.Unmarshal(msg.Value, &result); err != nil {
			log.Error("result worker: unmarshal", zap.Error(err))
			_ = reader.CommitMessages(ctx, msg)
			continue
		}

		sctx, span := tracer.Start(ctx, "result.persist", trace.WithAttributes(
			attribute.String("call.id", result.CallID.String()),
			attribute.String("call.status", string(result.FinalStatus)),
		))

		persistResult(sctx, w.container, result, log)

		if err := reader.CommitMessages(sctx, msg); err != nil {
			span.RecordError(err)
			log.Error("result worker: commit", zap.Error(err))
		}
		span.End()
	}
}

func persistResult(ctx context.Context, container *app.Container, result domain.CallResult, log *logger.Logger) {
	repos := container.Repositories()

	if err := repos.Results.Insert(ctx, result); err != nil {
		log.Error("result worker: insert result",
			zap.String("call_id", result.CallID.String()), zap.Error(err))
	}

	if len(result.Responses) > 0 {
		if err := repos.Transcripts.AppendAnswers(ctx, result); err != nil {
			log.Error("result worker: append transcript",
				zap.String("call_id", result.CallID.String()), zap.Error(err))
		}
	}
}
