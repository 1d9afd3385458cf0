package strata

import "sync"

// Entity 是继承链根层级要匿名嵌入的基类
// 它就是链解析时那个未映射的哨兵根：自身没有 table 声明，永远不会出现在链里
//
// 零值即为"新建"状态。状态迁移都在持有 mu 的前提下进行，
// Load/Save 走双重检查：先看标志，拿锁后再看一次
type Entity struct {
	mu sync.Mutex

	// persisted 为 false 时实体是新建的，还没有任何后备行
	persisted bool
	// dirty 内存里有未刷出的修改
	dirty bool
	// loaded Select 至少成功跑过一遍
	loaded bool
	// hasValue 最近一次 Select 至少有一个层级返回了行
	hasValue bool
	readOnly bool
	// deleted 终态，Delete 之后任何 Load/Save 都会被拒绝
	deleted bool
}

// Stateful 嵌入了 Entity 的类型自动满足它
// 引擎靠这个接口拿到状态闸门，不满足的类型无法参与编排
type Stateful interface {
	entityState() *Entity
}

func (e *Entity) entityState() *Entity { return e }

// IsNew 还没有后备行
func (e *Entity) IsNew() bool { return !e.persisted && !e.deleted }

// IsDirty 有未刷出的内存修改
func (e *Entity) IsDirty() bool { return e.dirty }

// HasLoaded Select 已经至少执行过一次
func (e *Entity) HasLoaded() bool { return e.loaded }

// HasValue 最近一次加载命中了后备行
func (e *Entity) HasValue() bool { return e.hasValue }

func (e *Entity) IsReadOnly() bool { return e.readOnly }

// IsDeleted Delete 之后为 true，实体进入终态
func (e *Entity) IsDeleted() bool { return e.deleted }

// MarkDirty 声明一处内存修改，Save 时触发 Update
func (e *Entity) MarkDirty() { e.dirty = true }

// SetReadOnly 打开后任何写操作都会失败
func (e *Entity) SetReadOnly(ro bool) { e.readOnly = ro }

// hydrate 批量加载和多态构造用的显式状态注入
// 取代"先构造再翻标志"的做法，一次成型
func (e *Entity) hydrate(loaded, hasValue bool) {
	e.persisted = true
	e.dirty = false
	e.loaded = loaded
	e.hasValue = hasValue
}
