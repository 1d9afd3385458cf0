package rowcache

import "context"

// Row 一个层级行的列快照，键是列名
type Row map[string]any

// Store is the second-level row cache abstraction.
// 键由调用方构造，对这里来说只是一段不透明的字符串
type Store interface {
	// Get returns the cached row for the key.
	// 未命中不是错误，用第二个返回值区分
	Get(ctx context.Context, key string) (Row, bool, error)

	// Set caches the row under the key.
	Set(ctx context.Context, key string, row Row) error

	// Del drops the cached row.
	// 写路径靠它保证缓存不落后于数据库
	Del(ctx context.Context, key string) error
}
