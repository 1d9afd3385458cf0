package valuer

import (
	"reflect"

	"github.com/strataorm/strata/internal/errs"
	"github.com/strataorm/strata/model"
)

// reflectValue 基于反射的 Value
type reflectValue struct {
	val  reflect.Value
	meta *model.Model
}

var _ Creator = NewReflectValue

// NewReflectValue 返回一个封装好的，基于反射实现的 Value
func NewReflectValue(val reflect.Value, meta *model.Model) Value {
	return reflectValue{
		val:  val,
		meta: meta,
	}
}

// SetColumns 将结果集的当前行绑定到该层级的存储字段上
func (r reflectValue) SetColumns(rows Rows) error {
	columnNames, err := rows.Columns()
	if err != nil {
		return err
	}

	if len(columnNames) > len(r.meta.Fields) {
		return errs.ErrTooManyReturnedColumns
	}

	// colValues 和 colEleValues 实质上指向同一批对象
	colValues := make([]any, len(columnNames))
	colEleValues := make([]reflect.Value, len(columnNames))

	for i, name := range columnNames {
		// 列名和别名都注册在 ColumnMap 里
		field, ok := r.meta.ColumnMap[name]
		if !ok {
			return errs.NewErrUnknownColumn(name)
		}

		value := reflect.New(field.Type)
		colValues[i] = value.Interface()
		colEleValues[i] = value.Elem()
	}

	if err = rows.Scan(colValues...); err != nil {
		return err
	}

	for i, c := range columnNames {
		cm := r.meta.ColumnMap[c]
		fd := r.val.Field(cm.Index)
		fd.Set(colEleValues[i])
	}
	return nil
}

func (r reflectValue) Field(name string) (any, error) {
	fd, ok := r.meta.FieldMap[name]
	if !ok {
		return nil, errs.NewErrUnknownField(name)
	}
	return r.val.Field(fd.Index).Interface(), nil
}

func (r reflectValue) SetField(name string, val any) error {
	fd, ok := r.meta.FieldMap[name]
	if !ok {
		return errs.NewErrUnknownField(name)
	}
	target := r.val.Field(fd.Index)
	if val == nil {
		target.Set(reflect.Zero(fd.Type))
		return nil
	}
	rv := reflect.ValueOf(val)
	if rv.Type() != fd.Type {
		if !rv.Type().ConvertibleTo(fd.Type) {
			return errs.NewErrArgumentType(fd.ColName, fd.Type.String(), rv.Type().String())
		}
		rv = rv.Convert(fd.Type)
	}
	target.Set(rv)
	return nil
}
