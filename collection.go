package strata

import (
	"context"
	"reflect"
	"sync"

	"github.com/strataorm/strata/internal/errs"
	"github.com/strataorm/strata/model"
)

// Collection 谓词限定的实体集合
// 每一行都解析成血缘里最深的有后备行的已注册类型，与 DB.Resolve 同一套
// 候选逻辑；派生查找关掉时元素就是声明的 T
// 加载策略由 Settings.EnableBulkLoad 决定：
//
//   - 增量：只取声明层级的主键，每个元组独立做一遍多态解析，
//     构造出的实例是惰性的，内容首次 Load 才下库
//   - 批量：声明链内连接、派生层级左连接一次取回，每行按最深的
//     主键列非 NULL 的层级判定具体类型，不发第二次探测
//
// Go 的泛型没有协变，元素以 any 暴露，调用方按具体类型断言
type Collection[T any] struct {
	sess  Session
	where []Predicate

	mu     sync.Mutex
	loaded bool
	items  []any
}

func NewCollection[T any](sess Session, ps ...Predicate) *Collection[T] {
	return &Collection[T]{
		sess:  sess,
		where: ps,
	}
}

// Items 惰性入口，首次访问触发加载
// 双重检查：先看标志，拿锁之后再看一次
func (c *Collection[T]) Items(ctx context.Context) ([]any, error) {
	if c.loaded {
		return c.items, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loaded {
		return c.items, nil
	}
	if err := c.load(ctx); err != nil {
		return nil, err
	}
	return c.items, nil
}

// Load 无条件重新加载
func (c *Collection[T]) Load(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.load(ctx)
}

// Reset 丢弃已加载的内容，下次 Items 重新下库
func (c *Collection[T]) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loaded = false
	c.items = nil
}

func (c *Collection[T]) load(ctx context.Context) error {
	m := NewMapper[T](c.sess)
	chain, err := m.resolveChain()
	if err != nil {
		return err
	}
	leaf := chain[len(chain)-1]
	cands, err := m.candidates(new(T), leaf)
	if err != nil {
		return err
	}
	cands, err = elementCandidates(m.r, leaf, cands)
	if err != nil {
		return err
	}

	var items []any
	if m.settings.EnableBulkLoad {
		items, err = c.bulkLoad(ctx, m, chain, cands)
	} else {
		items, err = c.incrementalLoad(ctx, m, chain, cands)
	}
	if err != nil {
		return err
	}

	c.items = items
	c.loaded = true
	return nil
}

// incrementalLoad 先取声明层级的主键元组，再逐条做多态解析
// 实例的内容列在它们各自首次 Load 时才会下库
func (c *Collection[T]) incrementalLoad(ctx context.Context, m *Mapper[T], chain []*model.Model, cands []*model.Model) ([]any, error) {
	leaf := chain[len(chain)-1]
	cmd, args, err := m.adapter.selectKeys(leaf, c.where)
	if err != nil {
		return nil, err
	}

	rows, err := c.query(ctx, m, leaf, cmd, args)
	if err != nil {
		return nil, err
	}

	// 结果集先读完再逐条探测，免得在同一连接上交错两类语句
	var tuples [][]any
	for rows.Next() {
		holders := make([]any, len(leaf.PrimaryKeys))
		for i, pk := range leaf.PrimaryKeys {
			holders[i] = reflect.New(pk.Type).Interface()
		}
		if err = rows.Scan(holders...); err != nil {
			_ = rows.Close()
			return nil, err
		}
		keys := make([]any, len(holders))
		for i, h := range holders {
			keys[i] = reflect.ValueOf(h).Elem().Interface()
		}
		tuples = append(tuples, keys)
	}
	if err = rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	var items []any
	for _, keys := range tuples {
		e, err := m.resolveByKeys(ctx, m.exec, cands, keys)
		if err != nil {
			return nil, err
		}
		if e == nil {
			continue
		}
		items = append(items, e)
	}
	return items, nil
}

// bulkLoad 血缘连接一次取回全部列，按位置绑定
// 列顺序与 levels 各层级的字段声明顺序一致，见 selectChain
func (c *Collection[T]) bulkLoad(ctx context.Context, m *Mapper[T], chain []*model.Model, cands []*model.Model) ([]any, error) {
	levels, parents, chains, err := lineageLevels(m.r, chain, cands)
	if err != nil {
		return nil, err
	}
	cmd, args, err := m.adapter.selectChain(levels, len(chain), parents, c.where)
	if err != nil {
		return nil, err
	}

	rows, err := c.query(ctx, m, chain[len(chain)-1], cmd, args)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	offsets := make([]int, len(levels))
	total := 0
	for j, lv := range levels {
		offsets[j] = total
		total += len(lv.Fields)
	}

	var items []any
	for rows.Next() {
		// 左连接的层级可能整行 NULL，全部列都用指针承接
		holders := make([]reflect.Value, 0, total)
		dest := make([]any, 0, total)
		for _, lv := range levels {
			for _, f := range lv.Fields {
				h := reflect.New(reflect.PointerTo(f.Type))
				holders = append(holders, h)
				dest = append(dest, h.Interface())
			}
		}
		if err = rows.Scan(dest...); err != nil {
			return nil, err
		}

		// 从最深的候选往回找第一个主键列全非 NULL 的
		win := -1
		for k := len(cands) - 1; k >= 0; k-- {
			leafIdx := chains[k][len(chains[k])-1]
			if keysPresent(levels[leafIdx], holders[offsets[leafIdx]:]) {
				win = k
				break
			}
		}
		if win < 0 {
			continue
		}

		candChain := make([]*model.Model, len(chains[win]))
		for i, j := range chains[win] {
			candChain[i] = levels[j]
		}
		ptr := reflect.New(cands[win].Type)
		st, ok := ptr.Interface().(Stateful)
		if !ok {
			return nil, errs.ErrNotEntity
		}
		vals, err := levelValues(m.valCreator, ptr.Elem(), candChain)
		if err != nil {
			return nil, err
		}
		for i, j := range chains[win] {
			lv := levels[j]
			for fi, f := range lv.Fields {
				hv := holders[offsets[j]+fi].Elem()
				if hv.IsNil() {
					continue
				}
				if err = vals[i].SetField(f.GoName, hv.Elem().Interface()); err != nil {
					return nil, err
				}
			}
		}
		st.entityState().hydrate(true, true)
		items = append(items, ptr.Interface())
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func (c *Collection[T]) query(ctx context.Context, m *Mapper[T], leaf *model.Model, cmd *Command, args []any) (RowReader, error) {
	params := make([]Parameter, 0, len(args))
	for _, a := range args {
		params = append(params, Parameter{Value: a})
	}
	res := m.invoke(ctx, &QueryContext{
		Type:    "SELECT",
		Command: cmd,
		Params:  params,
		Model:   leaf,
	}, func(ctx context.Context, qc *QueryContext) *QueryResult {
		rows, err := m.exec.Query(ctx, qc.Command, qc.Params)
		return &QueryResult{Result: rows, Err: err}
	})
	if res.Err != nil {
		return nil, res.Err
	}
	return res.Result.(RowReader), nil
}

// elementCandidates 集合元素至少是声明的类型，更浅的血缘成员剔除
func elementCandidates(r model.Registry, leaf *model.Model, cands []*model.Model) ([]*model.Model, error) {
	res := make([]*model.Model, 0, len(cands))
	for _, cand := range cands {
		cchain, err := r.Chain(reflect.New(cand.Type).Interface())
		if err != nil {
			return nil, err
		}
		for _, lv := range cchain {
			if lv.Type == leaf.Type {
				res = append(res, cand)
				break
			}
		}
	}
	return res, nil
}

// lineageLevels 候选链的层级并集，声明链在前，其余按候选顺序补齐
// 返回每个层级的父层级下标和每个候选的链（用层级下标表示）
func lineageLevels(r model.Registry, chain []*model.Model, cands []*model.Model) ([]*model.Model, []int, [][]int, error) {
	levels := make([]*model.Model, len(chain))
	copy(levels, chain)
	idx := make(map[reflect.Type]int, len(chain))
	for j, lv := range chain {
		idx[lv.Type] = j
	}

	chains := make([][]int, len(cands))
	for k, cand := range cands {
		cchain, err := r.Chain(reflect.New(cand.Type).Interface())
		if err != nil {
			return nil, nil, nil, err
		}
		ids := make([]int, len(cchain))
		for i, lv := range cchain {
			j, ok := idx[lv.Type]
			if !ok {
				j = len(levels)
				levels = append(levels, lv)
				idx[lv.Type] = j
			}
			ids[i] = j
		}
		chains[k] = ids
	}

	parents := make([]int, len(levels))
	for j, lv := range levels {
		if lv.Parent == nil {
			parents[j] = -1
			continue
		}
		p, ok := idx[lv.Parent]
		if !ok {
			return nil, nil, nil, errs.NewErrNotInChain(lv.Type.Name(), lv.Parent.Name())
		}
		parents[j] = p
	}
	return levels, parents, chains, nil
}

// keysPresent 该层级的全部主键列在本行都非 NULL
// holders 是该层级字段的指针承接，与 Fields 声明顺序一致
func keysPresent(lv *model.Model, holders []reflect.Value) bool {
	for i, f := range lv.Fields {
		if f.IsPrimaryKey && holders[i].Elem().IsNil() {
			return false
		}
	}
	return true
}
