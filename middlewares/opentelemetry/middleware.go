package opentelemetry

import (
	"context"

	"github.com/strataorm/strata"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/strataorm/strata/middlewares/opentelemetry"

type MiddlewareBuilder struct {
	Tracer trace.Tracer
}

func (m *MiddlewareBuilder) Build() strata.Middleware {
	if m.Tracer == nil {
		// 创建 tracer 实例
		m.Tracer = otel.GetTracerProvider().Tracer(instrumentationName)
	}
	return func(next strata.Handler) strata.Handler {
		return func(ctx context.Context, qc *strata.QueryContext) *strata.QueryResult {
			spanCtx, span := m.Tracer.Start(ctx, qc.Type)
			defer span.End()

			if qc.Model != nil {
				span.SetAttributes(attribute.String("db.table", qc.Model.TableName))
			}
			span.SetAttributes(attribute.String("db.statement", qc.Command.Text))
			span.SetAttributes(attribute.String("query.id", qc.QueryID))

			res := next(spanCtx, qc)

			if res.Err != nil {
				span.RecordError(res.Err)
			}
			return res
		}
	}
}
