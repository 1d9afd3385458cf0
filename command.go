package strata

import (
	"time"

	"github.com/strataorm/strata/model"
)

// Kind 语句类别
type Kind uint8

const (
	KindSelect Kind = iota
	KindSelectMany
	KindInsert
	KindUpdate
	KindDelete
	KindExists
	KindUnique
)

func (k Kind) String() string {
	switch k {
	case KindSelect:
		return "SELECT"
	case KindSelectMany:
		return "SELECT_MANY"
	case KindInsert:
		return "INSERT"
	case KindUpdate:
		return "UPDATE"
	case KindDelete:
		return "DELETE"
	case KindExists:
		return "EXISTS"
	case KindUnique:
		return "UNIQUE"
	}
	return "UNKNOWN"
}

// Command 一条可执行的语句
// 对执行器之外的代码来说是不透明的：拼好之后原样传递
type Command struct {
	Text string
	Kind Kind
	// Timeout 超过 0 时在执行器里转成 context 截止时间
	Timeout time.Duration
	// DirtyReads 读语句走 READ UNCOMMITTED 只读事务
	DirtyReads bool
}

// Parameter 一个语句参数
type Parameter struct {
	Name  string
	Value any
	// Out 输出参数，不参与占位符取值
	Out bool
}

// InsertAction 插入语句执行后的取值方式
// 由主键声明的 DB 类型决定
type InsertAction uint8

const (
	ActionVoid InsertAction = iota
	ActionAffectedRows
	ActionIdentityInt32
	ActionIdentityInt64
	ActionIdentityDecimal
)

func (a InsertAction) String() string {
	switch a {
	case ActionVoid:
		return "Void"
	case ActionAffectedRows:
		return "AffectedRows"
	case ActionIdentityInt32:
		return "IdentityInt32"
	case ActionIdentityInt64:
		return "IdentityInt64"
	case ActionIdentityDecimal:
		return "IdentityDecimal"
	}
	return "Unknown"
}

// identityAction 根据生成键声明的 DB 类型选择取值方式
func identityAction(t model.DBType) InsertAction {
	switch t {
	case model.TypeInt32:
		return ActionIdentityInt32
	case model.TypeInt64:
		return ActionIdentityInt64
	case model.TypeDecimal, model.TypeFloat64:
		return ActionIdentityDecimal
	}
	return ActionIdentityInt64
}

// args 按声明顺序取输入参数的值
func args(params []Parameter) []any {
	res := make([]any, 0, len(params))
	for _, p := range params {
		if p.Out {
			continue
		}
		res = append(res, p.Value)
	}
	return res
}
