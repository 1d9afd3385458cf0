package strata

var (
	MySQL   Dialect = &mysqlDialect{}
	SQLite3 Dialect = &sqlite3Dialect{}
)

// Dialect 方言差异都收敛在这里
// 两个方言的占位符都是 ?，差异目前只剩引用符
type Dialect interface {
	quoter() byte
}

type standardSQL struct {
}

func (s *standardSQL) quoter() byte {
	return '"'
}

type mysqlDialect struct {
	standardSQL
}

func (m *mysqlDialect) quoter() byte {
	return '`'
}

type sqlite3Dialect struct {
	standardSQL
}

func (s *sqlite3Dialect) quoter() byte {
	return '`'
}
