package recovery

import (
	"context"
	"fmt"

	"github.com/strataorm/strata"
)

type MiddlewareBuilder struct {
	LogFunc func(qc *strata.QueryContext, err any)
}

func (m *MiddlewareBuilder) Build() strata.Middleware {
	return func(next strata.Handler) strata.Handler {
		return func(ctx context.Context, qc *strata.QueryContext) (res *strata.QueryResult) {
			defer func() {
				if err := recover(); err != nil {
					res = &strata.QueryResult{
						Err: fmt.Errorf("strata: 执行 %s 时 panic: %v", qc.Type, err),
					}
					// 万一 LogFunc 也panic，那我们也无能为力了
					if m.LogFunc != nil {
						m.LogFunc(qc, err)
					}
				}
			}()
			return next(ctx, qc)
		}
	}
}
