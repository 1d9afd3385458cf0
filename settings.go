package strata

import "time"

// Settings 引擎级行为开关
// 全部默认关闭，通过 DBWithSettings 一次性注入
type Settings struct {
	// EnableBulkLoad 集合加载走单次链连接查询
	// 关闭时走 key-only 增量加载（N+1，元素各自懒加载）
	EnableBulkLoad bool

	// EnableReadLimit + ReadLimit 限制集合查询返回的行数
	EnableReadLimit bool
	ReadLimit       int

	// EnableThrowOnNoRowsReturned Load 查不到行时报错
	// 错误里带上语句文本和参数快照
	EnableThrowOnNoRowsReturned bool

	// EnableConcurrencyCheck Load 完整条链之后做关联值校验
	EnableConcurrencyCheck bool

	// EnableDerivedEntityLookup 多态解析时枚举同链全部已注册类型
	// 关闭时只考虑声明的祖先类型本身
	EnableDerivedEntityLookup bool

	// EnableRowCache 打开二级行缓存，需要配合 DBWithRowCache
	EnableRowCache bool

	// CommandTimeout 每条语句的超时，0 表示不限制
	CommandTimeout time.Duration
}
