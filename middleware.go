package strata

import (
	"context"

	"github.com/google/uuid"
	"github.com/strataorm/strata/model"
)

// QueryContext 中间件的上下文
// 语句还没执行时，有的中间件就需要这些信息，所以在这里冗余一份
type QueryContext struct {
	// Type 声明语句类型。即 SELECT, UPDATE, DELETE, INSERT 和 EXISTS
	Type string

	// Command 拼接完成的语句，中间件只读
	Command *Command
	// Params 将要绑定的参数
	Params []Parameter

	// Model 语句针对的链层级
	Model *model.Model

	// QueryID 单条语句的关联 id，日志和追踪用
	QueryID string
}

type QueryResult struct {
	// Result 在不同的查询里面，类型是不同的
	// Insert 里是生成键，Exists 里是 bool，其它情况下是 sql.Result 或结果集
	Result any
	Err    error
}

type Middleware func(next Handler) Handler

type Handler func(ctx context.Context, qc *QueryContext) *QueryResult

// invoke 把一次执行穿过整条中间件链
func (c core) invoke(ctx context.Context, qc *QueryContext, root Handler) *QueryResult {
	if qc.QueryID == "" {
		qc.QueryID = uuid.NewString()
	}
	handler := root
	for i := len(c.mdls) - 1; i >= 0; i-- {
		handler = c.mdls[i](handler)
	}
	return handler(ctx, qc)
}
