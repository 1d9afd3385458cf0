package strata

import (
	"context"
	"reflect"

	"github.com/strataorm/strata/internal/errs"
	"github.com/strataorm/strata/model"
)

// Resolve 按主键做多态解析：在 ancestor 的血缘里找出最深的
// 有后备行的已注册类型，构造并返回它的惰性实例
//
// 派生查找关掉时退化成对 ancestor 自身的构造
// 没有任何候选命中时返回 nil, nil
func (db *DB) Resolve(ctx context.Context, ancestor any, keys ...any) (any, error) {
	anc, err := db.r.Get(ancestor)
	if err != nil {
		return nil, err
	}
	if err = validateKeys(anc, keys); err != nil {
		return nil, err
	}
	cands, err := db.candidates(ancestor, anc)
	if err != nil {
		return nil, err
	}
	return db.resolveByKeys(ctx, newExecutor(db), cands, keys)
}

// candidates 多态解析的候选集合
// 派生查找打开时是血缘里的全部已注册非抽象类型，否则只有 ancestor 自身
func (c core) candidates(ancestor any, anc *model.Model) ([]*model.Model, error) {
	if c.settings.EnableDerivedEntityLookup {
		return c.r.Lineage(ancestor)
	}
	if anc.Abstract {
		return nil, nil
	}
	return []*model.Model{anc}, nil
}

// resolveByKeys 深的候选先试，返回第一个有后备行的
// 每个候选都要过主键元数和类型校验，不一致直接报错
func (c core) resolveByKeys(ctx context.Context, exec Executor, cands []*model.Model, keys []any) (any, error) {
	for i := len(cands) - 1; i >= 0; i-- {
		cand := cands[i]
		if err := validateKeys(cand, keys); err != nil {
			return nil, err
		}

		// 唯一候选不发探测，实例保持惰性，首次 Load 再碰数据库
		if len(cands) > 1 {
			ok, err := c.probeKeys(ctx, exec, cand, keys)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
		}
		return c.construct(cand, keys)
	}
	return nil, nil
}

func (c core) probeKeys(ctx context.Context, exec Executor, cand *model.Model, keys []any) (bool, error) {
	cmd, fields := c.adapter.exists(cand)
	params := make([]Parameter, 0, len(fields))
	for k, f := range fields {
		params = append(params, Parameter{Name: f.ParamName, Value: keys[k]})
	}
	res := c.invoke(ctx, &QueryContext{
		Type:    "EXISTS",
		Command: cmd,
		Params:  params,
		Model:   cand,
	}, func(ctx context.Context, qc *QueryContext) *QueryResult {
		ok, err := exec.Exists(ctx, qc.Command, qc.Params)
		return &QueryResult{Result: ok, Err: err}
	})
	if res.Err != nil {
		return false, res.Err
	}
	return res.Result.(bool), nil
}

// construct 构造 cand 的新实例，把主键元组绑进每个元数吻合的层级
func (c core) construct(cand *model.Model, keys []any) (any, error) {
	ptr := reflect.New(cand.Type)
	st, ok := ptr.Interface().(Stateful)
	if !ok {
		return nil, errs.ErrNotEntity
	}
	chain, err := c.r.Chain(ptr.Interface())
	if err != nil {
		return nil, err
	}
	vals, err := levelValues(c.valCreator, ptr.Elem(), chain)
	if err != nil {
		return nil, err
	}
	if err = bindKeys(chain, vals, keys); err != nil {
		return nil, err
	}
	st.entityState().hydrate(false, false)
	return ptr.Interface(), nil
}
