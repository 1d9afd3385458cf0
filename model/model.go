package model

import (
	"reflect"

	"github.com/strataorm/strata/internal/errs"
)

// Option is a function type that modifies a Model.
type Option func(model *Model) error

// Model 一个继承链层级映射到 db 后的结构
// 每个映射类型恰好对应一个 Model，Parse 结果按类型缓存
type Model struct {
	// Type 该层级对应的 Go 结构体类型
	Type reflect.Type

	// TableName 该层级对应的表名
	TableName string
	// TableAlias 表别名，use_alias 打开时拼接进语句
	TableAlias string
	// Abstract 该层级只作为中间层，多态解析时跳过
	Abstract bool

	// DataSource 声明上的行为开关
	// RowVerification 插入前先做存在性探测，已存在的层级跳过
	RowVerification bool
	// DirtyReads 读语句走 READ UNCOMMITTED
	DirtyReads bool
	// Encapsulate 表名列名是否加引用符
	Encapsulate bool
	// UseAlias 查询时是否使用表别名
	UseAlias bool

	// Fields 按声明顺序排列的全部列
	Fields    []*Field
	FieldMap  map[string]*Field // 结构体 属性名为 key
	ColumnMap map[string]*Field // DB column name 为 key，别名也会注册进来

	// PrimaryKeys 按 compositeOrder 排序的主键列
	// order 全为 0 时保持声明顺序
	PrimaryKeys []*Field

	// Parent 匿名嵌入的父层级类型，根层级为 nil
	Parent reflect.Type
}

// Field 一个持久化列的全部属性
type Field struct {
	ColName string // 数据库中的字段名
	Alias   string // 列别名，绑定结果集时同样参与匹配
	GoName  string // go struct 中的名字

	// Type go 中的数据类型，转换成 reflect.Value 的时候要用
	Type reflect.Type
	// Index 该字段在所属层级结构体中的下标
	Index int
	// Offset 相对于所属层级结构体起始地址的偏移量
	Offset uintptr

	// DBType 声明的 DB 类型，用于参数类型校验和生成键回写
	DBType DBType
	// ParamName 参数名，缺省取列名
	ParamName string
	// Out 输出参数，构建输入参数时跳过
	Out      bool
	Nullable bool

	// IsPrimaryKey + Order 组成复合主键声明
	IsPrimaryKey bool
	Order        int
	// Generated 主键由 DB 生成，插入后需要回写
	Generated bool

	// Assoc 指向另一个层级的 FK-like 关联，插入传播和并发校验都依赖它
	Assoc *Assoc
}

// Assoc 关联声明，Type 是链上某个层级的类型名，Field 是该层级的属性名
type Assoc struct {
	TypeName  string
	FieldName string
}

// DBType 列声明的数据库类型
type DBType string

const (
	TypeBool    DBType = "bool"
	TypeInt32   DBType = "int32"
	TypeInt64   DBType = "int64"
	TypeFloat64 DBType = "float64"
	TypeDecimal DBType = "decimal"
	TypeString  DBType = "string"
	TypeBytes   DBType = "bytes"
	TypeTime    DBType = "time"
)

// 我们支持的全部标签上的 key 都放在这里
// 方便用户查找，和我们后期维护
const (
	tagStrata = "strata"
	tagDS     = "ds"

	tagKeyTable  = "table"
	tagKeyAlias  = "alias"
	tagAbstract  = "abstract"
	tagKeyColumn = "column"
	tagKeyType   = "type"
	tagKeyParam  = "param"
	tagKeyOrder  = "order"
	tagOut       = "out"
	tagNullable  = "nullable"
	tagPK        = "pk"
	tagGenerated = "generated"
	tagKeyAssoc  = "assoc"

	dsVerify      = "verify"
	dsDirtyReads  = "dirty_reads"
	dsEncapsulate = "encapsulate"
	dsUseAlias    = "use_alias"
)

// TableName 用户实现这个接口来覆盖标签里的表名
type TableName interface {
	TableName() string
}

// WithTableName is an Option function that sets the table name for a Model.
func WithTableName(tableName string) Option {
	return func(model *Model) error {
		model.TableName = tableName
		return nil
	}
}

// WithColumnName returns an Option that overrides the column name of one field.
func WithColumnName(field, columnName string) Option {
	return func(model *Model) error {
		fd, ok := model.FieldMap[field]
		if !ok {
			return errs.NewErrUnknownField(field)
		}
		fd.ColName = columnName
		return nil
	}
}
