package strata

import (
	"context"
	"database/sql"
)

// RowReader 是执行器交回的最小结果集抽象
// *sql.Rows 天然满足，脏读路径返回的是带事务收尾的包装
type RowReader interface {
	Next() bool
	Columns() ([]string, error)
	Scan(dest ...any) error
	Close() error
	Err() error
}

// Executor 语句执行委托
// 重试、连接管理、跨语句事务都在这个边界之外
type Executor interface {
	// Exists 只读存在性探测
	// 永远在根句柄上执行，不会加入任何外层事务
	Exists(ctx context.Context, cmd *Command, params []Parameter) (bool, error)
	// Query 读语句
	Query(ctx context.Context, cmd *Command, params []Parameter) (RowReader, error)
	// Insert 写入一行，按 action 取回生成键或影响行数
	Insert(ctx context.Context, cmd *Command, action InsertAction, params []Parameter) (any, error)
	// Exec update/delete
	Exec(ctx context.Context, cmd *Command, params []Parameter) (sql.Result, error)
}

// standardExecutor 基于 database/sql 的缺省实现
type standardExecutor struct {
	sess Session
}

func newExecutor(sess Session) Executor {
	return &standardExecutor{sess: sess}
}

func (e *standardExecutor) deadline(ctx context.Context, cmd *Command) (context.Context, context.CancelFunc) {
	if cmd.Timeout > 0 {
		return context.WithTimeout(ctx, cmd.Timeout)
	}
	return ctx, func() {}
}

func (e *standardExecutor) Exists(ctx context.Context, cmd *Command, params []Parameter) (bool, error) {
	ctx, cancel := e.deadline(ctx, cmd)
	defer cancel()

	// 决策用的探测读不应该阻塞在外层写事务上，所以绕开 Session 直接走根句柄
	var exists bool
	row := e.sess.rootDB().QueryRowContext(ctx, cmd.Text, args(params)...)
	if err := row.Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

func (e *standardExecutor) Query(ctx context.Context, cmd *Command, params []Parameter) (RowReader, error) {
	// 截止时间要一直罩住结果集的读取，所以 cancel 挂在 Close 上
	ctx, cancel := e.deadline(ctx, cmd)

	var (
		rows RowReader
		err  error
	)
	if cmd.DirtyReads {
		rows, err = e.dirtyQuery(ctx, cmd, params)
	} else {
		rows, err = e.sess.queryContext(ctx, cmd.Text, args(params)...)
	}
	if err != nil {
		cancel()
		return nil, err
	}
	return &cancelRows{RowReader: rows, cancel: cancel}, nil
}

type cancelRows struct {
	RowReader
	cancel context.CancelFunc
}

func (c *cancelRows) Close() error {
	defer c.cancel()
	return c.RowReader.Close()
}

// dirtyQuery 读语句走一个只读的 READ UNCOMMITTED 事务
// 事务在 RowReader.Close 时收尾
func (e *standardExecutor) dirtyQuery(ctx context.Context, cmd *Command, params []Parameter) (RowReader, error) {
	tx, err := e.sess.rootDB().BeginTx(ctx, &sql.TxOptions{
		Isolation: sql.LevelReadUncommitted,
		ReadOnly:  true,
	})
	if err != nil {
		return nil, err
	}
	rows, err := tx.QueryContext(ctx, cmd.Text, args(params)...)
	if err != nil {
		_ = tx.Rollback()
		return nil, err
	}
	return &txRows{Rows: rows, tx: tx}, nil
}

type txRows struct {
	*sql.Rows
	tx *sql.Tx
}

func (t *txRows) Close() error {
	err := t.Rows.Close()
	if cErr := t.tx.Commit(); err == nil {
		err = cErr
	}
	return err
}

func (e *standardExecutor) Insert(ctx context.Context, cmd *Command, action InsertAction, params []Parameter) (any, error) {
	ctx, cancel := e.deadline(ctx, cmd)
	defer cancel()

	res, err := e.sess.execContext(ctx, cmd.Text, args(params)...)
	if err != nil {
		return nil, err
	}

	switch action {
	case ActionVoid:
		return nil, nil
	case ActionAffectedRows:
		return res.RowsAffected()
	case ActionIdentityInt32:
		id, err := res.LastInsertId()
		if err != nil {
			return nil, err
		}
		return int32(id), nil
	case ActionIdentityInt64:
		return res.LastInsertId()
	case ActionIdentityDecimal:
		// MySQL 和 SQLite 的生成键都是整型，decimal 声明在这里退化为浮点
		id, err := res.LastInsertId()
		if err != nil {
			return nil, err
		}
		return float64(id), nil
	}
	return nil, nil
}

func (e *standardExecutor) Exec(ctx context.Context, cmd *Command, params []Parameter) (sql.Result, error) {
	ctx, cancel := e.deadline(ctx, cmd)
	defer cancel()
	return e.sess.execContext(ctx, cmd.Text, args(params)...)
}
