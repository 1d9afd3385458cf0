package strata

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/strataorm/strata/internal/errs"
	"github.com/strataorm/strata/internal/valuer"
	"github.com/strataorm/strata/model"
	"github.com/strataorm/strata/rowcache"
)

// Mapper 对一个叶子类型的多表编排入口
// Insert 沿链根到叶，Delete 反过来，这个顺序是外键依赖决定的，别动
type Mapper[T any] struct {
	core
	sess Session
	exec Executor

	chainOnce sync.Once
	chain     []*model.Model
	chainErr  error
}

func NewMapper[T any](sess Session) *Mapper[T] {
	c := sess.getCore()
	return &Mapper[T]{
		core: c,
		sess: sess,
		exec: newExecutor(sess),
	}
}

// MapperWithExecutor 替换执行委托，测试和自定义重试层从这里进
func MapperWithExecutor[T any](sess Session, exec Executor) *Mapper[T] {
	m := NewMapper[T](sess)
	m.exec = exec
	return m
}

// resolveChain 继承链只解析一次
func (m *Mapper[T]) resolveChain() ([]*model.Model, error) {
	m.chainOnce.Do(func() {
		m.chain, m.chainErr = m.r.Chain(new(T))
	})
	return m.chain, m.chainErr
}

// values 为实体的每个链层级各建一个存储绑定
func (m *Mapper[T]) values(e *T) ([]*model.Model, []valuer.Value, *Entity, error) {
	st, ok := any(e).(Stateful)
	if !ok {
		return nil, nil, nil, errs.ErrNotEntity
	}
	chain, err := m.resolveChain()
	if err != nil {
		return nil, nil, nil, err
	}
	vals, err := levelValues(m.valCreator, reflect.ValueOf(e).Elem(), chain)
	if err != nil {
		return nil, nil, nil, err
	}
	return chain, vals, st.entityState(), nil
}

// Insert 新实体写入整条链
func (m *Mapper[T]) Insert(ctx context.Context, e *T) error {
	chain, vals, st, err := m.values(e)
	if err != nil {
		return err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return m.insert(ctx, chain, vals, st)
}

func (m *Mapper[T]) insert(ctx context.Context, chain []*model.Model, vals []valuer.Value, st *Entity) error {
	if st.deleted {
		return errs.ErrEntityDeleted
	}
	if st.readOnly {
		return errs.ErrReadOnlyEntity
	}

	persisted := make([]bool, len(chain))
	for i, lv := range chain {
		// 行校验：该层级已经有后备行就跳过，支持在既有行之上扩链
		if lv.RowVerification && keysSet(lv, vals[i]) {
			ok, err := m.probe(ctx, lv, vals[i])
			if err != nil {
				return err
			}
			if ok {
				persisted[i] = true
				continue
			}
		}
		if err := m.insertLevel(ctx, chain, vals, i, persisted); err != nil {
			return err
		}
		persisted[i] = true
	}

	st.persisted = true
	st.dirty = false
	return nil
}

// insertLevel 写入链上第 i 个层级的行
// persisted 标记哪些层级已有后备行，关联传播只从这些层级取值
func (m *Mapper[T]) insertLevel(ctx context.Context, chain []*model.Model, vals []valuer.Value, i int, persisted []bool) error {
	lv := chain[i]
	v := vals[i]

	// 先把已持久化层级上的关联值传播进来，再拼参数
	// Person 生成的主键就是从这里流进 Employee 的
	for _, f := range lv.Fields {
		if f.Assoc == nil {
			continue
		}
		j := levelIndex(chain, f.Assoc.TypeName)
		if j < 0 || j == i {
			continue
		}
		if j < i || persisted[j] {
			val, err := vals[j].Field(f.Assoc.FieldName)
			if err != nil {
				return err
			}
			if err = v.SetField(f.GoName, val); err != nil {
				return err
			}
		}
	}

	cmd, fields := m.adapter.insert(lv)
	params, err := buildParams(v, fields)
	if err != nil {
		return err
	}

	action := ActionVoid
	var genPK *model.Field
	for _, pk := range lv.PrimaryKeys {
		if pk.Generated {
			genPK = pk
			action = identityAction(pk.DBType)
			break
		}
	}

	res := m.invoke(ctx, &QueryContext{
		Type:    "INSERT",
		Command: cmd,
		Params:  params,
		Model:   lv,
	}, func(ctx context.Context, qc *QueryContext) *QueryResult {
		got, err := m.exec.Insert(ctx, qc.Command, action, qc.Params)
		return &QueryResult{Result: got, Err: err}
	})
	if res.Err != nil {
		return res.Err
	}

	// 生成键回写到存储字段，后续层级靠它做关联传播
	if genPK != nil && res.Result != nil {
		if err = v.SetField(genPK.GoName, res.Result); err != nil {
			return err
		}
	}
	m.invalidate(ctx, lv, v)
	return nil
}

// Update 刷出整条链的非主键列
func (m *Mapper[T]) Update(ctx context.Context, e *T) error {
	chain, vals, st, err := m.values(e)
	if err != nil {
		return err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return m.update(ctx, chain, vals, st)
}

func (m *Mapper[T]) update(ctx context.Context, chain []*model.Model, vals []valuer.Value, st *Entity) error {
	if st.deleted {
		return errs.ErrEntityDeleted
	}
	if st.readOnly {
		return errs.ErrReadOnlyEntity
	}

	for i, lv := range chain {
		cmd, fields := m.adapter.update(lv)
		if cmd == nil {
			// 整个层级只有主键列，没有可更新的内容
			continue
		}
		params, err := buildParams(vals[i], fields)
		if err != nil {
			return err
		}
		res := m.invoke(ctx, &QueryContext{
			Type:    "UPDATE",
			Command: cmd,
			Params:  params,
			Model:   lv,
		}, m.execHandler())
		if res.Err != nil {
			return res.Err
		}
		m.invalidate(ctx, lv, vals[i])
	}

	st.dirty = false
	return nil
}

// Delete 叶到根删除整条链，之后实体进入终态
func (m *Mapper[T]) Delete(ctx context.Context, e *T) error {
	chain, vals, st, err := m.values(e)
	if err != nil {
		return err
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.deleted {
		return errs.ErrEntityDeleted
	}
	if st.readOnly {
		return errs.ErrReadOnlyEntity
	}

	if err = m.deleteLevels(ctx, chain, vals, len(chain)-1, 0); err != nil {
		return err
	}

	st.deleted = true
	st.persisted = false
	return nil
}

// deleteLevels 从 from 删到 to（含两端），参照整条链的反序
func (m *Mapper[T]) deleteLevels(ctx context.Context, chain []*model.Model, vals []valuer.Value, from, to int) error {
	for i := from; i >= to; i-- {
		lv := chain[i]
		cmd, fields := m.adapter.delete(lv)
		params, err := buildParams(vals[i], fields)
		if err != nil {
			return err
		}
		res := m.invoke(ctx, &QueryContext{
			Type:    "DELETE",
			Command: cmd,
			Params:  params,
			Model:   lv,
		}, m.execHandler())
		if res.Err != nil {
			return res.Err
		}
		m.invalidate(ctx, lv, vals[i])
	}
	return nil
}

// Load 无条件跑一遍链查询
func (m *Mapper[T]) Load(ctx context.Context, e *T) error {
	chain, vals, st, err := m.values(e)
	if err != nil {
		return err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return m.load(ctx, chain, vals, st)
}

// LoadOnce 惰性加载入口：已经加载过就直接返回
// 双重检查：先看标志，拿锁之后再看一次
func (m *Mapper[T]) LoadOnce(ctx context.Context, e *T) error {
	chain, vals, st, err := m.values(e)
	if err != nil {
		return err
	}
	if st.loaded {
		return nil
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.loaded {
		return nil
	}
	return m.load(ctx, chain, vals, st)
}

func (m *Mapper[T]) load(ctx context.Context, chain []*model.Model, vals []valuer.Value, st *Entity) error {
	if st.deleted {
		return errs.ErrEntityDeleted
	}

	anyRow := false
	for i, lv := range chain {
		v := vals[i]

		if m.settings.EnableRowCache && m.cache != nil {
			row, ok, err := m.cache.Get(ctx, cacheKey(lv, v))
			if err != nil {
				return err
			}
			if ok {
				if err = hydrateFromCache(lv, v, row); err != nil {
					return err
				}
				anyRow = true
				continue
			}
		}

		cmd, fields := m.adapter.selectOne(lv)
		params, err := buildParams(v, fields)
		if err != nil {
			return err
		}

		res := m.invoke(ctx, &QueryContext{
			Type:    "SELECT",
			Command: cmd,
			Params:  params,
			Model:   lv,
		}, func(ctx context.Context, qc *QueryContext) *QueryResult {
			rows, err := m.exec.Query(ctx, qc.Command, qc.Params)
			return &QueryResult{Result: rows, Err: err}
		})
		if res.Err != nil {
			return res.Err
		}

		rows := res.Result.(RowReader)
		found, err := bindRow(rows, v, cmd, params, m.settings.EnableThrowOnNoRowsReturned)
		if err != nil {
			return err
		}
		if found {
			anyRow = true
			if m.settings.EnableRowCache && m.cache != nil {
				_ = m.cache.Set(ctx, cacheKey(lv, v), snapshotRow(lv, v))
			}
		}
	}

	st.loaded = true
	st.hasValue = anyRow
	st.dirty = false

	if m.settings.EnableConcurrencyCheck {
		return concurrencyCheck(chain, vals)
	}
	return nil
}

// bindRow 消费结果集的第一行并绑定到层级存储上
func bindRow(rows RowReader, v valuer.Value, cmd *Command, params []Parameter, throwOnNoRows bool) (bool, error) {
	defer func() { _ = rows.Close() }()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return false, err
		}
		if throwOnNoRows {
			return false, errs.NewErrNoRows(cmd.Text, paramDump(params))
		}
		return false, nil
	}
	if err := v.SetColumns(rows); err != nil {
		return false, err
	}
	return true, nil
}

// Save 新实体走 Insert，脏实体走 Update，干净实体什么都不做
func (m *Mapper[T]) Save(ctx context.Context, e *T) error {
	chain, vals, st, err := m.values(e)
	if err != nil {
		return err
	}
	if !st.IsNew() && !st.IsDirty() && !st.IsDeleted() {
		return nil
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	switch {
	case st.deleted:
		return errs.ErrEntityDeleted
	case !st.persisted:
		return m.insert(ctx, chain, vals, st)
	case st.dirty:
		return m.update(ctx, chain, vals, st)
	}
	return nil
}

// Exists 针对叶层级主键的存在性探测
func (m *Mapper[T]) Exists(ctx context.Context, e *T) (bool, error) {
	chain, vals, _, err := m.values(e)
	if err != nil {
		return false, err
	}
	leaf := len(chain) - 1
	return m.probe(ctx, chain[leaf], vals[leaf])
}

func (m *Mapper[T]) probe(ctx context.Context, lv *model.Model, v valuer.Value) (bool, error) {
	cmd, fields := m.adapter.exists(lv)
	params, err := buildParams(v, fields)
	if err != nil {
		return false, err
	}
	res := m.invoke(ctx, &QueryContext{
		Type:    "EXISTS",
		Command: cmd,
		Params:  params,
		Model:   lv,
	}, func(ctx context.Context, qc *QueryContext) *QueryResult {
		ok, err := m.exec.Exists(ctx, qc.Command, qc.Params)
		return &QueryResult{Result: ok, Err: err}
	})
	if res.Err != nil {
		return false, res.Err
	}
	return res.Result.(bool), nil
}

// ValidateUnique 声明式唯一性校验：是否没有其它行持有同样的列值
// 新实体没有自己的主键可排除，此时探测覆盖全部行
func (m *Mapper[T]) ValidateUnique(ctx context.Context, e *T, field string) (bool, error) {
	chain, vals, st, err := m.values(e)
	if err != nil {
		return false, err
	}

	for i := len(chain) - 1; i >= 0; i-- {
		lv := chain[i]
		fd, ok := lv.FieldMap[field]
		if !ok {
			continue
		}
		cmd, fields := m.adapter.unique(lv, fd, !st.IsNew())
		params, err := buildParams(vals[i], fields)
		if err != nil {
			return false, err
		}
		res := m.invoke(ctx, &QueryContext{
			Type:    "UNIQUE",
			Command: cmd,
			Params:  params,
			Model:   lv,
		}, func(ctx context.Context, qc *QueryContext) *QueryResult {
			ok, err := m.exec.Exists(ctx, qc.Command, qc.Params)
			return &QueryResult{Result: ok, Err: err}
		})
		if res.Err != nil {
			return false, res.Err
		}
		return !res.Result.(bool), nil
	}
	return false, errs.NewErrUnknownField(field)
}

// Find 按主键构造一个该类型的惰性实例，不发探测
// 跨类型的多态解析走 DB.Resolve
func (m *Mapper[T]) Find(ctx context.Context, keys ...any) (*T, error) {
	chain, err := m.resolveChain()
	if err != nil {
		return nil, err
	}
	leaf := chain[len(chain)-1]
	if err = validateKeys(leaf, keys); err != nil {
		return nil, err
	}

	e := new(T)
	st, ok := any(e).(Stateful)
	if !ok {
		return nil, errs.ErrNotEntity
	}
	vals, err := levelValues(m.valCreator, reflect.ValueOf(e).Elem(), chain)
	if err != nil {
		return nil, err
	}
	if err = bindKeys(chain, vals, keys); err != nil {
		return nil, err
	}
	st.entityState().hydrate(false, false)
	return e, nil
}

func (m *Mapper[T]) execHandler() Handler {
	return func(ctx context.Context, qc *QueryContext) *QueryResult {
		res, err := m.exec.Exec(ctx, qc.Command, qc.Params)
		return &QueryResult{Result: res, Err: err}
	}
}

func (m *Mapper[T]) invalidate(ctx context.Context, lv *model.Model, v valuer.Value) {
	if !m.settings.EnableRowCache || m.cache == nil {
		return
	}
	_ = m.cache.Del(ctx, cacheKey(lv, v))
}

// --- 链上的公共工具，Promote/Demote 和集合加载也在用 ---

// levelValues 沿嵌入关系把叶子实例拆成每个层级的存储绑定
func levelValues(creator valuer.Creator, leaf reflect.Value, chain []*model.Model) ([]valuer.Value, error) {
	vals := make([]valuer.Value, len(chain))
	cur := leaf
	for i := len(chain) - 1; i >= 0; i-- {
		vals[i] = creator(cur, chain[i])
		if i == 0 {
			break
		}
		next, err := embeddedField(cur, chain[i-1].Type)
		if err != nil {
			return nil, err
		}
		cur = next
	}
	return vals, nil
}

func embeddedField(v reflect.Value, t reflect.Type) (reflect.Value, error) {
	vt := v.Type()
	for i := 0; i < vt.NumField(); i++ {
		fd := vt.Field(i)
		if fd.Anonymous && fd.Type == t {
			return v.Field(i), nil
		}
	}
	return reflect.Value{}, errs.NewErrNotInChain(vt.Name(), t.Name())
}

func levelIndex(chain []*model.Model, typeName string) int {
	for i, lv := range chain {
		if lv.Type.Name() == typeName {
			return i
		}
	}
	return -1
}

func buildParams(v valuer.Value, fields []*model.Field) ([]Parameter, error) {
	params := make([]Parameter, 0, len(fields))
	for _, f := range fields {
		if f.Out {
			params = append(params, Parameter{Name: f.ParamName, Out: true})
			continue
		}
		val, err := v.Field(f.GoName)
		if err != nil {
			return nil, err
		}
		params = append(params, Parameter{Name: f.ParamName, Value: val})
	}
	return params, nil
}

// keysSet 层级的全部主键列都有值
func keysSet(lv *model.Model, v valuer.Value) bool {
	if len(lv.PrimaryKeys) == 0 {
		return false
	}
	for _, pk := range lv.PrimaryKeys {
		val, err := v.Field(pk.GoName)
		if err != nil {
			return false
		}
		if val == nil || reflect.ValueOf(val).IsZero() {
			return false
		}
	}
	return true
}

// validateKeys 主键参数的个数和运行时类型都要和声明吻合
func validateKeys(leaf *model.Model, keys []any) error {
	if len(keys) != len(leaf.PrimaryKeys) {
		return errs.NewErrArgumentCount(leaf.Type.Name(), len(leaf.PrimaryKeys), len(keys))
	}
	for i, pk := range leaf.PrimaryKeys {
		if !keyTypeMatches(keys[i], pk.DBType) {
			return errs.NewErrArgumentType(pk.ColName, string(pk.DBType), fmt.Sprintf("%T", keys[i]))
		}
	}
	return nil
}

func keyTypeMatches(val any, t model.DBType) bool {
	switch t {
	case model.TypeBool:
		_, ok := val.(bool)
		return ok
	case model.TypeInt32:
		_, ok := val.(int32)
		return ok
	case model.TypeInt64:
		switch val.(type) {
		case int64, int:
			return true
		}
		return false
	case model.TypeFloat64, model.TypeDecimal:
		_, ok := val.(float64)
		return ok
	case model.TypeString:
		_, ok := val.(string)
		return ok
	case model.TypeBytes:
		_, ok := val.([]byte)
		return ok
	case model.TypeTime:
		_, ok := val.(time.Time)
		return ok
	}
	return false
}

// bindKeys 把主键元组写进每个元数吻合的链层级
// 类表继承共享主键，各层级的主键列持有同一组值
func bindKeys(chain []*model.Model, vals []valuer.Value, keys []any) error {
	for i, lv := range chain {
		if len(lv.PrimaryKeys) != len(keys) {
			continue
		}
		for k, pk := range lv.PrimaryKeys {
			if err := vals[i].SetField(pk.GoName, keys[k]); err != nil {
				return err
			}
		}
	}
	return nil
}

// concurrencyCheck 校验每个层级上每条关联声明
// 引用方的存储值必须等于被引用层级自己的存储值
func concurrencyCheck(chain []*model.Model, vals []valuer.Value) error {
	for i, lv := range chain {
		for _, f := range lv.Fields {
			if f.Assoc == nil {
				continue
			}
			j := levelIndex(chain, f.Assoc.TypeName)
			if j < 0 || j == i {
				continue
			}
			own, err := vals[i].Field(f.GoName)
			if err != nil {
				return err
			}
			ref, err := vals[j].Field(f.Assoc.FieldName)
			if err != nil {
				return err
			}
			if !reflect.DeepEqual(own, ref) {
				return errs.NewErrConcurrencyMismatch(lv.TableName, f.ColName, own, ref)
			}
		}
	}
	return nil
}

func paramDump(params []Parameter) []any {
	dump := make([]any, 0, len(params))
	for _, p := range params {
		dump = append(dump, fmt.Sprintf("%s=%v", p.Name, p.Value))
	}
	return dump
}

func cacheKey(lv *model.Model, v valuer.Value) string {
	keys := make([]any, 0, len(lv.PrimaryKeys))
	for _, pk := range lv.PrimaryKeys {
		val, _ := v.Field(pk.GoName)
		keys = append(keys, val)
	}
	return fmt.Sprintf("%s%v", lv.TableName, keys)
}

func snapshotRow(lv *model.Model, v valuer.Value) rowcache.Row {
	row := make(rowcache.Row, len(lv.Fields))
	for _, f := range lv.Fields {
		val, err := v.Field(f.GoName)
		if err != nil {
			continue
		}
		row[f.ColName] = val
	}
	return row
}

// hydrateFromCache 缓存命中的行直接写回存储
// redis 存储经过 JSON，数值会退化成 float64，时间退化成字符串，这里统一转回来
func hydrateFromCache(lv *model.Model, v valuer.Value, row rowcache.Row) error {
	for col, val := range row {
		fd, ok := lv.ColumnMap[col]
		if !ok {
			return errs.NewErrUnknownColumn(col)
		}
		if s, isStr := val.(string); isStr && fd.DBType == model.TypeTime {
			t, err := time.Parse(time.RFC3339Nano, s)
			if err != nil {
				return err
			}
			val = t
		}
		if err := v.SetField(fd.GoName, val); err != nil {
			return err
		}
	}
	return nil
}
