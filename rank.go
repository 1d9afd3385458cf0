package strata

import (
	"context"
	"reflect"

	"github.com/strataorm/strata/internal/errs"
	"github.com/strataorm/strata/internal/valuer"
	"github.com/strataorm/strata/model"
)

// Promote 在既有实体之上扩展一个更深的层级
// From 的各层级行保持原样，只为 To 的叶层级写入新行
// 一次只能加深一级，跨级提升要分步进行
func Promote[From any, To any](ctx context.Context, sess Session, from *From, to *To) error {
	c := sess.getCore()
	chainFrom, err := c.r.Chain(new(From))
	if err != nil {
		return err
	}
	chainTo, err := c.r.Chain(new(To))
	if err != nil {
		return err
	}
	if err = requirePrefix(chainFrom, chainTo); err != nil {
		return err
	}
	diff := len(chainTo) - len(chainFrom)
	if diff == 0 {
		// 同一类型，没有层级可扩展
		return nil
	}
	if diff != 1 {
		return errs.NewErrRankGap(typeName(chainFrom), typeName(chainTo))
	}

	stFrom, ok := any(from).(Stateful)
	if !ok {
		return errs.ErrNotEntity
	}
	stTo, ok := any(to).(Stateful)
	if !ok {
		return errs.ErrNotEntity
	}

	ef := stFrom.entityState()
	ef.mu.Lock()
	defer ef.mu.Unlock()

	switch {
	case ef.IsNew():
		return errs.ErrRankChangeOnNew
	case ef.deleted:
		return errs.ErrEntityDeleted
	case ef.readOnly:
		return errs.ErrReadOnlyEntity
	}

	fromVals, err := levelValues(c.valCreator, reflect.ValueOf(from).Elem(), chainFrom)
	if err != nil {
		return err
	}
	toVals, err := levelValues(c.valCreator, reflect.ValueOf(to).Elem(), chainTo)
	if err != nil {
		return err
	}
	if err = copyLevels(chainFrom, fromVals, toVals); err != nil {
		return err
	}

	// 共享层级的行已经存在，插入时视为已持久化，只供关联传播取值
	persisted := make([]bool, len(chainTo))
	for i := range chainFrom {
		persisted[i] = true
	}
	m := NewMapper[To](sess)
	if err = m.insertLevel(ctx, chainTo, toVals, len(chainTo)-1, persisted); err != nil {
		return err
	}

	stTo.entityState().hydrate(ef.loaded, ef.hasValue)
	return nil
}

// Demote 收缩继承链：删掉 To 之下的全部层级行，返回保留层级构成的新实体
// 原实体进入删除终态，调用方此后只能使用返回值
func Demote[From any, To any](ctx context.Context, sess Session, from *From) (*To, error) {
	c := sess.getCore()
	chainFrom, err := c.r.Chain(new(From))
	if err != nil {
		return nil, err
	}
	chainTo, err := c.r.Chain(new(To))
	if err != nil {
		return nil, err
	}
	if err = requirePrefix(chainTo, chainFrom); err != nil {
		return nil, err
	}
	if len(chainTo) == len(chainFrom) {
		// 同一类型，没有层级可收缩，原实体原样返回
		to, _ := any(from).(*To)
		return to, nil
	}

	stFrom, ok := any(from).(Stateful)
	if !ok {
		return nil, errs.ErrNotEntity
	}
	ef := stFrom.entityState()
	ef.mu.Lock()
	defer ef.mu.Unlock()

	switch {
	case ef.IsNew():
		return nil, errs.ErrRankChangeOnNew
	case ef.deleted:
		return nil, errs.ErrEntityDeleted
	case ef.readOnly:
		return nil, errs.ErrReadOnlyEntity
	}

	fromVals, err := levelValues(c.valCreator, reflect.ValueOf(from).Elem(), chainFrom)
	if err != nil {
		return nil, err
	}

	// 叶层级先删，保证外键依赖不被破坏
	m := NewMapper[From](sess)
	if err = m.deleteLevels(ctx, chainFrom, fromVals, len(chainFrom)-1, len(chainTo)); err != nil {
		return nil, err
	}

	to := new(To)
	stTo, ok := any(to).(Stateful)
	if !ok {
		return nil, errs.ErrNotEntity
	}
	toVals, err := levelValues(c.valCreator, reflect.ValueOf(to).Elem(), chainTo)
	if err != nil {
		return nil, err
	}
	if err = copyLevels(chainTo, fromVals, toVals); err != nil {
		return nil, err
	}
	stTo.entityState().hydrate(ef.loaded, ef.hasValue)

	ef.deleted = true
	ef.persisted = false
	return to, nil
}

// requirePrefix 校验 short 是 long 的链前缀
func requirePrefix(short, long []*model.Model) error {
	if len(short) > len(long) {
		return errs.NewErrNotInChain(typeName(long), typeName(short))
	}
	for i, lv := range short {
		if lv.Type != long[i].Type {
			return errs.NewErrNotInChain(typeName(long), lv.Type.Name())
		}
	}
	return nil
}

// copyLevels 把 src 的前 len(chain) 个层级的列值逐字段拷进 dst
// 不整体拷结构体，绕开基类里的互斥锁
func copyLevels(chain []*model.Model, src, dst []valuer.Value) error {
	for i, lv := range chain {
		for _, f := range lv.Fields {
			val, err := src[i].Field(f.GoName)
			if err != nil {
				return err
			}
			if err = dst[i].SetField(f.GoName, val); err != nil {
				return err
			}
		}
	}
	return nil
}

func typeName(chain []*model.Model) string {
	if len(chain) == 0 {
		return "<empty>"
	}
	return chain[len(chain)-1].Type.Name()
}
