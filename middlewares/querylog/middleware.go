package querylog

import (
	"context"
	"log"

	"github.com/strataorm/strata"
)

type MiddlewareBuilder struct {
	logFunc func(query string, args []any)
}

func NewBuilder() *MiddlewareBuilder {
	return &MiddlewareBuilder{}
}

// LogFunc 这里如果需要配置的参数比较多，可以使用 函数选项模式
func (m *MiddlewareBuilder) LogFunc(fn func(query string, args []any)) *MiddlewareBuilder {
	m.logFunc = fn
	return m
}

func (m *MiddlewareBuilder) Build() strata.Middleware {
	if m.logFunc == nil {
		m.logFunc = func(query string, args []any) {
			log.Printf("sql: %s, args: %v", query, args)
		}
	}
	return func(next strata.Handler) strata.Handler {
		return func(ctx context.Context, qc *strata.QueryContext) *strata.QueryResult {
			// 语句在进 handler 之前就拼好了，先记再执行
			args := make([]any, 0, len(qc.Params))
			for _, p := range qc.Params {
				if p.Out {
					continue
				}
				args = append(args, p.Value)
			}
			m.logFunc(qc.Command.Text, args)
			return next(ctx, qc)
		}
	}
}
