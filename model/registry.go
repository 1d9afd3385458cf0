package model

import (
	"database/sql"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/strataorm/strata/internal/errs"
)

// Registry 元数据注册中心
// Get/Chain 按需解析并缓存；多态解析的候选集合只来自显式 Register 过的类型，
// 运行期不做反射扫描（启动时注册一次，之后查表）
type Registry interface {
	Get(val any) (*Model, error)
	Register(val any, opts ...Option) (*Model, error)
	// Chain 返回 val 的继承链，根层级在前，不包含未映射的哨兵根
	Chain(val any) ([]*Model, error)
	// Lineage 返回与 ancestor 处于同一条链上的全部已注册非抽象类型
	// 顺序固定：链深度优先，同深度按类型名
	Lineage(ancestor any) ([]*Model, error)
}

type registry struct {
	// models reflect.Type 为 key，解决命名冲突，同时并发安全
	models sync.Map

	// mutex 保护 registered
	mutex sync.RWMutex
	// registered 显式注册过的类型，多态候选只从这里出
	registered []reflect.Type
}

func NewRegistry() Registry {
	return &registry{}
}

// Get fetches the model associated with a given value.
// If the model is not found in the registry, it is parsed and stored for future use.
func (r *registry) Get(val any) (*Model, error) {
	typ := reflect.TypeOf(val)
	m, ok := r.models.Load(typ)
	if ok {
		return m.(*Model), nil
	}
	return r.Register(val)
}

// getType 和 Get 一致，但以类型为入口，Chain 沿父层级上溯时使用
func (r *registry) getType(typ reflect.Type) (*Model, error) {
	if m, ok := r.models.Load(typ); ok {
		return m.(*Model), nil
	}
	m, err := r.parseModel(typ, nil)
	if err != nil {
		return nil, err
	}
	r.models.Store(typ, m)
	return m, nil
}

// Register parses a model, applies the options and stores it.
// 注册过的类型才会成为派生查找的候选
func (r *registry) Register(val any, opts ...Option) (*Model, error) {
	typ := reflect.TypeOf(val)
	if typ == nil || typ.Kind() != reflect.Ptr || typ.Elem().Kind() != reflect.Struct {
		// 只支持一级指针作为输入，例如 *Employee，不支持 **Employee 和 Employee
		return nil, errs.ErrPointerOnly
	}

	m, err := r.parseModel(typ, val)
	if err != nil {
		return nil, err
	}

	for _, opt := range opts {
		if err = opt(m); err != nil {
			return nil, err
		}
	}

	r.models.Store(typ, m)

	r.mutex.Lock()
	found := false
	for _, t := range r.registered {
		if t == typ {
			found = true
			break
		}
	}
	if !found {
		r.registered = append(r.registered, typ)
	}
	r.mutex.Unlock()

	return m, nil
}

// parseModel 解析一个层级的全部声明
// typ 可以是 *T 或 T 的 reflect.Type，val 只用于 TableName 接口探测，可以为 nil
func (r *registry) parseModel(typ reflect.Type, val any) (*Model, error) {
	if typ.Kind() == reflect.Ptr {
		typ = typ.Elem()
	}
	if typ.Kind() != reflect.Struct {
		return nil, errs.ErrPointerOnly
	}

	numField := typ.NumField()

	m := &Model{
		Type:      typ,
		FieldMap:  make(map[string]*Field, numField),
		ColumnMap: make(map[string]*Field, numField),
	}

	tableSeen := false
	dsSeen := false

	for i := 0; i < numField; i++ {
		fdStruct := typ.Field(i)

		// 匿名嵌入的映射结构体是父层级，嵌入的未映射结构体（哨兵根）直接跳过
		if fdStruct.Anonymous {
			ft := fdStruct.Type
			if ft.Kind() == reflect.Ptr {
				ft = ft.Elem()
			}
			if ft.Kind() == reflect.Struct && hasTableMarker(ft) && m.Parent == nil {
				m.Parent = ft
			}
			continue
		}

		// 表标记字段：struct{} 类型，携带 table 与 ds 两个声明
		if fdStruct.Type.Kind() == reflect.Struct && fdStruct.Type.NumField() == 0 {
			tags, err := r.parseTag(fdStruct.Tag.Get(tagStrata))
			if err != nil {
				return nil, err
			}
			if _, ok := tags[tagKeyTable]; !ok {
				continue
			}
			tableSeen = true
			m.TableName = tags[tagKeyTable]
			m.TableAlias = tags[tagKeyAlias]
			_, m.Abstract = tags[tagAbstract]

			ds, ok := fdStruct.Tag.Lookup(tagDS)
			if !ok {
				return nil, errs.NewErrMissingDataSourceMeta(typ.Name())
			}
			dsSeen = true
			flags, err := r.parseTag(ds)
			if err != nil {
				return nil, err
			}
			_, m.RowVerification = flags[dsVerify]
			_, m.DirtyReads = flags[dsDirtyReads]
			_, m.Encapsulate = flags[dsEncapsulate]
			_, m.UseAlias = flags[dsUseAlias]
			continue
		}

		if !fdStruct.IsExported() {
			continue
		}

		tags, err := r.parseTag(fdStruct.Tag.Get(tagStrata))
		if err != nil {
			return nil, err
		}
		if _, skip := tags["-"]; skip {
			continue
		}

		colName := tags[tagKeyColumn]
		if colName == "" {
			// 没有声明列名就用默认规则 ItemId -> item_id
			colName = underscoreName(fdStruct.Name)
		}

		f := &Field{
			ColName:   colName,
			Alias:     tags[tagKeyAlias],
			GoName:    fdStruct.Name,
			Type:      fdStruct.Type,
			Index:     i,
			Offset:    fdStruct.Offset,
			ParamName: tags[tagKeyParam],
		}
		if f.ParamName == "" {
			f.ParamName = colName
		}

		if dt, ok := tags[tagKeyType]; ok && dt != "" {
			f.DBType = DBType(dt)
			if !knownDBType(f.DBType) {
				return nil, errs.NewErrUnknownDBType(dt)
			}
		} else {
			f.DBType = dbTypeOf(fdStruct.Type)
		}

		_, f.Out = tags[tagOut]
		_, f.Nullable = tags[tagNullable]
		_, f.IsPrimaryKey = tags[tagPK]
		_, f.Generated = tags[tagGenerated]

		if ord, ok := tags[tagKeyOrder]; ok && ord != "" {
			n, err := strconv.Atoi(ord)
			if err != nil {
				return nil, errs.NewErrInvalidTagContent(tagKeyOrder + "=" + ord)
			}
			f.Order = n
		}

		if assoc, ok := tags[tagKeyAssoc]; ok {
			parts := strings.Split(assoc, ".")
			if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
				return nil, errs.NewErrInvalidAssoc(assoc)
			}
			f.Assoc = &Assoc{TypeName: parts[0], FieldName: parts[1]}
		}

		m.Fields = append(m.Fields, f)
		m.FieldMap[f.GoName] = f
		m.ColumnMap[f.ColName] = f
		if f.Alias != "" {
			m.ColumnMap[f.Alias] = f
		}
	}

	if !tableSeen {
		return nil, errs.NewErrMissingTableMeta(typ.Name())
	}
	if !dsSeen {
		return nil, errs.NewErrMissingDataSourceMeta(typ.Name())
	}
	if len(m.Fields) == 0 {
		return nil, errs.NewErrNoColumns(typ.Name())
	}

	// TableName 接口优先级最高，其次是标签，最后是默认规则
	if val != nil {
		if tn, ok := val.(TableName); ok && tn.TableName() != "" {
			m.TableName = tn.TableName()
		}
	}
	if m.TableName == "" {
		m.TableName = underscoreName(typ.Name())
	}

	m.PrimaryKeys = sortPrimaryKeys(m.Fields)

	return m, nil
}

// sortPrimaryKeys 主键列按 compositeOrder 排序
// order 全为 0 时保持声明顺序
func sortPrimaryKeys(fields []*Field) []*Field {
	pks := make([]*Field, 0, 2)
	for _, f := range fields {
		if f.IsPrimaryKey {
			pks = append(pks, f)
		}
	}
	ordered := false
	for _, f := range pks {
		if f.Order != 0 {
			ordered = true
			break
		}
	}
	if !ordered {
		return pks
	}
	// 插入排序，主键列很少，稳定即可
	for i := 1; i < len(pks); i++ {
		for j := i; j > 0 && pks[j-1].Order > pks[j].Order; j-- {
			pks[j-1], pks[j] = pks[j], pks[j-1]
		}
	}
	return pks
}

// hasTableMarker 只做廉价探测：类型是否携带 table 标记字段
func hasTableMarker(typ reflect.Type) bool {
	for i := 0; i < typ.NumField(); i++ {
		fd := typ.Field(i)
		if fd.Anonymous || fd.Type.Kind() != reflect.Struct || fd.Type.NumField() != 0 {
			continue
		}
		if strings.Contains(fd.Tag.Get(tagStrata), tagKeyTable+"=") {
			return true
		}
	}
	return false
}

// parseTag parses the given tag content and returns a map of key-value pairs.
// 纯 flag 形式的项（例如 pk）value 为空字符串
func (r *registry) parseTag(tag string) (map[string]string, error) {
	if tag == "" {
		return map[string]string{}, nil
	}

	pairs := strings.Split(tag, ",")
	res := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		kv := strings.SplitN(pair, "=", 2)
		key := strings.TrimSpace(kv[0])
		if key == "" {
			return nil, errs.NewErrInvalidTagContent(pair)
		}
		if len(kv) == 2 {
			res[key] = kv[1]
		} else {
			res[key] = ""
		}
	}

	return res, nil
}

var timeType = reflect.TypeOf(time.Time{})

// knownDBType 校验标签里声明的 type
func knownDBType(t DBType) bool {
	switch t {
	case TypeBool, TypeInt32, TypeInt64, TypeFloat64, TypeDecimal,
		TypeString, TypeBytes, TypeTime:
		return true
	}
	return false
}

// dbTypeOf 没有显式声明 type 时按 Go 类型推导
func dbTypeOf(t reflect.Type) DBType {
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t == timeType {
		return TypeTime
	}
	switch t {
	case reflect.TypeOf(sql.NullString{}):
		return TypeString
	case reflect.TypeOf(sql.NullInt64{}):
		return TypeInt64
	case reflect.TypeOf(sql.NullBool{}):
		return TypeBool
	case reflect.TypeOf(sql.NullFloat64{}):
		return TypeFloat64
	case reflect.TypeOf(sql.NullTime{}):
		return TypeTime
	}
	switch t.Kind() {
	case reflect.Bool:
		return TypeBool
	case reflect.Int8, reflect.Int16, reflect.Int32, reflect.Uint8, reflect.Uint16, reflect.Uint32:
		return TypeInt32
	case reflect.Int, reflect.Int64, reflect.Uint, reflect.Uint64:
		return TypeInt64
	case reflect.Float32, reflect.Float64:
		return TypeFloat64
	case reflect.String:
		return TypeString
	case reflect.Slice:
		if t.Elem().Kind() == reflect.Uint8 {
			return TypeBytes
		}
	}
	return TypeString
}

// underscoreName converts a given name to underscore case.
// UserName -> user_name
func underscoreName(tableName string) string {
	var buf []byte
	for i, v := range tableName {
		if unicode.IsUpper(v) {
			if i != 0 {
				buf = append(buf, '_')
			}
			buf = append(buf, byte(unicode.ToLower(v)))
		} else {
			buf = append(buf, byte(v))
		}
	}
	return string(buf)
}
