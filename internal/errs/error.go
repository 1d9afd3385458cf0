package errs

import (
	"errors"
	"fmt"
)

// 内部的 sentinel error 都定义在这里
// 对外暴露的部分在根包的 error.go 中重新导出
var (
	// ErrPointerOnly 只支持一级指针作为输入
	// 看到这个 error 说明输入的不是指针
	ErrPointerOnly = errors.New("strata: 只支持指向结构体的一级指针")

	// ErrDialectUnset 还没有设置 Dialect 就开始构建语句
	ErrDialectUnset = errors.New("strata: dialect 尚未设置")

	// ErrReadOnlyEntity 尝试修改只读实体
	ErrReadOnlyEntity = errors.New("strata: 实体为只读，禁止写入")

	// ErrEntityDeleted 实体已经删除，进入终态，禁止任何后续操作
	ErrEntityDeleted = errors.New("strata: 实体已删除，不能再 Load/Save")

	// ErrRankChangeOnNew Promote/Demote 只能作用在已持久化的实体上
	ErrRankChangeOnNew = errors.New("strata: 新建实体不能变更层级")

	// ErrNotEntity 参与编排的类型必须在根层级嵌入 Entity
	ErrNotEntity = errors.New("strata: 类型未嵌入 strata.Entity")

	ErrTooManyReturnedColumns = errors.New("strata: 过多列")
)

// NewErrMissingTableMeta 缺少 table 标记，对应缺失 Table 声明
func NewErrMissingTableMeta(typ string) error {
	return fmt.Errorf("strata: 类型 %s 缺少 table 声明", typ)
}

// NewErrMissingDataSourceMeta 缺少 ds 标记，对应缺失 DataSource 声明
func NewErrMissingDataSourceMeta(typ string) error {
	return fmt.Errorf("strata: 类型 %s 缺少 ds 声明", typ)
}

// NewErrNoColumns 一个映射层级至少要声明一个列
func NewErrNoColumns(typ string) error {
	return fmt.Errorf("strata: 类型 %s 没有声明任何列", typ)
}

func NewErrInvalidTagContent(pair string) error {
	return fmt.Errorf("strata: 非法标签值 %s", pair)
}

func NewErrUnknownField(name string) error {
	return fmt.Errorf("strata: 未知字段 %s", name)
}

// NewErrUnknownColumn 结果集中的列无法匹配任何声明的列名或别名
func NewErrUnknownColumn(name string) error {
	return fmt.Errorf("strata: 未知列 %s", name)
}

func NewErrUnsupportedExpressionType(exp any) error {
	return fmt.Errorf("strata: 不支持的表达式 %v", exp)
}

// NewErrArgumentCount 复合主键参数个数不匹配
func NewErrArgumentCount(typ string, want, got int) error {
	return fmt.Errorf("strata: 类型 %s 主键参数个数不匹配，预期 %d，实际 %d", typ, want, got)
}

// NewErrArgumentType 主键参数的运行时类型和列声明的 DB 类型不匹配
func NewErrArgumentType(col string, want, got string) error {
	return fmt.Errorf("strata: 列 %s 参数类型不匹配，预期 %s，实际 %s", col, want, got)
}

// NewErrUnknownDBType 列声明了不认识的 type
func NewErrUnknownDBType(typ string) error {
	return fmt.Errorf("strata: 未知 DB 类型 %s", typ)
}

// NewErrInvalidAssoc assoc 标签必须是 Type.Field 形式
func NewErrInvalidAssoc(content string) error {
	return fmt.Errorf("strata: 非法 assoc 声明 %s，应为 Type.Field", content)
}

// NewErrNotInChain 目标类型不在当前实体的继承链上
func NewErrNotInChain(chain, typ string) error {
	return fmt.Errorf("strata: 类型 %s 不在链 %s 上", typ, chain)
}

// NewErrRankGap Promote 一次只能加深一级
func NewErrRankGap(from, to string) error {
	return fmt.Errorf("strata: %s 到 %s 不止一级，Promote 一次只能扩展一级", from, to)
}

// NewErrNoRows 查不到数据，携带 SQL 文和参数快照用于诊断
func NewErrNoRows(sql string, args []any) error {
	return fmt.Errorf("strata: 未找到数据，sql: %s，args: %v", sql, args)
}

// NewErrConcurrencyMismatch 关联列的值和被引用层级的值不一致
func NewErrConcurrencyMismatch(refTable, refColumn string, owner, referenced any) error {
	return fmt.Errorf("strata: 并发校验失败，%s.%s 持有 %v，被引用层级为 %v",
		refTable, refColumn, owner, referenced)
}

// NewErrUnsupportedInsertAction 当前 Dialect 不支持该类生成键
func NewErrUnsupportedInsertAction(action string) error {
	return fmt.Errorf("strata: 不支持的 insert action %s", action)
}
