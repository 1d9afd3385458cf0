package model

import (
	"reflect"
	"sort"

	"github.com/gotomicro/ekit/slice"
)

// Chain 返回 val 的继承链，根层级在前
// Insert 按这个顺序执行，Delete 在调用侧反转
func (r *registry) Chain(val any) ([]*Model, error) {
	typ := reflect.TypeOf(val)
	if typ == nil {
		return nil, nil
	}
	if typ.Kind() == reflect.Ptr {
		typ = typ.Elem()
	}
	return r.chainOf(typ)
}

func (r *registry) chainOf(typ reflect.Type) ([]*Model, error) {
	// 叶子向上收集，最后反转成根在前
	var reversed []*Model
	for cur := typ; cur != nil; {
		m, err := r.getType(cur)
		if err != nil {
			return nil, err
		}
		reversed = append(reversed, m)
		cur = m.Parent
	}

	chain := make([]*Model, 0, len(reversed))
	for i := len(reversed) - 1; i >= 0; i-- {
		chain = append(chain, reversed[i])
	}
	return chain, nil
}

// Lineage 返回多态解析的候选集合：与 ancestor 在同一条链上的
// 全部已注册非抽象类型，ancestor 自身（非抽象时）也在其中
// 顺序是确定的：链深度优先，同深度按类型名
func (r *registry) Lineage(ancestor any) ([]*Model, error) {
	typ := reflect.TypeOf(ancestor)
	if typ.Kind() == reflect.Ptr {
		typ = typ.Elem()
	}
	anc, err := r.getType(typ)
	if err != nil {
		return nil, err
	}

	r.mutex.RLock()
	snapshot := make([]reflect.Type, len(r.registered))
	copy(snapshot, r.registered)
	r.mutex.RUnlock()

	type candidate struct {
		m     *Model
		depth int
	}
	var cands []candidate
	seen := map[reflect.Type]struct{}{}

	add := func(t reflect.Type) error {
		if _, ok := seen[t]; ok {
			return nil
		}
		chain, err := r.chainOf(t)
		if err != nil {
			return err
		}
		related := slice.Contains(chainTypes(chain), anc.Type)
		if !related {
			// ancestor 在 t 的链上找不到，再看 t 是不是 ancestor 的祖先
			ancChain, err := r.chainOf(anc.Type)
			if err != nil {
				return err
			}
			related = slice.Contains(chainTypes(ancChain), t)
		}
		if !related {
			return nil
		}
		seen[t] = struct{}{}
		leaf := chain[len(chain)-1]
		if leaf.Abstract {
			return nil
		}
		cands = append(cands, candidate{m: leaf, depth: len(chain)})
		return nil
	}

	if err = add(anc.Type); err != nil {
		return nil, err
	}
	for _, t := range snapshot {
		et := t
		if et.Kind() == reflect.Ptr {
			et = et.Elem()
		}
		if err = add(et); err != nil {
			return nil, err
		}
	}

	sort.Slice(cands, func(i, j int) bool {
		if cands[i].depth != cands[j].depth {
			return cands[i].depth < cands[j].depth
		}
		return cands[i].m.Type.Name() < cands[j].m.Type.Name()
	})

	res := make([]*Model, 0, len(cands))
	for _, c := range cands {
		res = append(res, c.m)
	}
	return res, nil
}

func chainTypes(chain []*Model) []reflect.Type {
	ts := make([]reflect.Type, 0, len(chain))
	for _, lv := range chain {
		ts = append(ts, lv.Type)
	}
	return ts
}
