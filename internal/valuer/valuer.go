package valuer

import (
	"reflect"

	"github.com/strataorm/strata/model"
)

// Rows 是绑定所需的最小结果集抽象
// *sql.Rows 天然满足，脏读场景下的包装结果集也满足
type Rows interface {
	Columns() ([]string, error)
	Scan(dest ...any) error
}

// Value 是对一个层级存储字段的读写封装
// 同一个实体实例的每个链层级各持有一个 Value
type Value interface {
	// SetColumns 将结果集中的一行绑定到该层级的存储字段上
	// 列按列名或别名匹配，匹配不到返回绑定错误
	SetColumns(rows Rows) error
	// Field 按 Go 属性名读取字段值
	Field(name string) (any, error)
	// SetField 按 Go 属性名写入字段值，类型可转换时自动转换
	// 生成键回写 int64 -> int32 之类走这里
	SetField(name string, val any) error
}

// Creator 创建 Value 的工厂方法
// val 必须是可寻址的结构体 reflect.Value，即某个层级在叶子实例中的存储
type Creator func(val reflect.Value, meta *model.Model) Value
