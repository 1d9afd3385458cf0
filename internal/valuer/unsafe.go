package valuer

import (
	"reflect"
	"unsafe"

	"github.com/strataorm/strata/internal/errs"
	"github.com/strataorm/strata/model"
)

type unsafeValue struct {
	// 使用 unsafe.Pointer 而不是 uintptr 是因为 gc 后 uintptr 会发生变化
	addr unsafe.Pointer
	meta *model.Model
}

var _ Creator = NewUnsafeValue

func NewUnsafeValue(val reflect.Value, meta *model.Model) Value {
	return unsafeValue{
		addr: unsafe.Pointer(val.UnsafeAddr()),
		meta: meta,
	}
}

func (u unsafeValue) SetColumns(rows Rows) error {
	columns, err := rows.Columns()
	if err != nil {
		return err
	}
	if len(columns) > len(u.meta.Fields) {
		return errs.ErrTooManyReturnedColumns
	}

	colValues := make([]any, len(columns))
	for i, column := range columns {
		cm, ok := u.meta.ColumnMap[column]
		if !ok {
			return errs.NewErrUnknownColumn(column)
		}
		ptr := unsafe.Pointer(uintptr(u.addr) + cm.Offset)
		val := reflect.NewAt(cm.Type, ptr)
		colValues[i] = val.Interface()
	}

	return rows.Scan(colValues...)
}

func (u unsafeValue) Field(name string) (any, error) {
	fd, ok := u.meta.FieldMap[name]
	if !ok {
		return nil, errs.NewErrUnknownField(name)
	}
	ptr := unsafe.Pointer(uintptr(u.addr) + fd.Offset)
	return reflect.NewAt(fd.Type, ptr).Elem().Interface(), nil
}

func (u unsafeValue) SetField(name string, val any) error {
	fd, ok := u.meta.FieldMap[name]
	if !ok {
		return errs.NewErrUnknownField(name)
	}
	ptr := unsafe.Pointer(uintptr(u.addr) + fd.Offset)
	target := reflect.NewAt(fd.Type, ptr).Elem()
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
