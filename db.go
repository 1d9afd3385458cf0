package strata

import (
	"context"
	"database/sql"

	"github.com/strataorm/strata/internal/valuer"
	"github.com/strataorm/strata/model"
	"github.com/strataorm/strata/rowcache"
)

// core 各个入口共享的内核，DB 和 Tx 都会往下传
type core struct {
	dialect    Dialect
	r          model.Registry // 存储表和 struct 映射关系的实例
	valCreator valuer.Creator // 与 DB 交互映射的实现
	mdls       []Middleware
	settings   Settings
	adapter    *adapter
	cache      rowcache.Store
}

type DBOption func(*DB)

type DB struct {
	core
	db *sql.DB
}

// Open creates a DB instance over a driver name and a DSN.
// 方言按驱动名推断，也可以用 DBWithDialect 覆盖
func Open(driver, dsn string, opts ...DBOption) (*DB, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	if driver == "sqlite3" {
		opts = append([]DBOption{DBWithDialect(SQLite3)}, opts...)
	}
	return OpenDB(db, opts...)
}

// OpenDB wraps an existing *sql.DB.
// sqlmock 之类的测试场景从这里进
func OpenDB(db *sql.DB, opts ...DBOption) (*DB, error) {
	res := &DB{
		core: core{
			dialect:    MySQL,
			r:          model.NewRegistry(),
			valCreator: valuer.NewReflectValue,
		},
		db: db,
	}

	for _, opt := range opts {
		opt(res)
	}

	a, err := newAdapter(res.dialect, res.settings)
	if err != nil {
		return nil, err
	}
	res.adapter = a

	return res, nil
}

// MustOpenDB creates a new DB and panics on failure.
func MustOpenDB(db *sql.DB, opts ...DBOption) *DB {
	res, err := OpenDB(db, opts...)
	if err != nil {
		panic(err)
	}
	return res
}

func DBWithDialect(d Dialect) DBOption {
	return func(db *DB) {
		db.dialect = d
	}
}

func DBWithRegistry(r model.Registry) DBOption {
	return func(db *DB) {
		db.r = r
	}
}

func DBWithMiddlewares(mdls ...Middleware) DBOption {
	return func(db *DB) {
		db.mdls = mdls
	}
}

func DBWithSettings(s Settings) DBOption {
	return func(db *DB) {
		db.settings = s
	}
}

// DBUseUnsafeValuer 存储绑定走 unsafe 路径，省一次反射查找
func DBUseUnsafeValuer() DBOption {
	return func(db *DB) {
		db.valCreator = valuer.NewUnsafeValue
	}
}

// DBWithRowCache 注入二级行缓存，配合 Settings.EnableRowCache 使用
func DBWithRowCache(store rowcache.Store) DBOption {
	return func(db *DB) {
		db.cache = store
	}
}

// Register 在启动时注册一个具体类型，使其成为派生查找的候选
func (db *DB) Register(vals ...any) error {
	for _, val := range vals {
		if _, err := db.r.Register(val); err != nil {
			return err
		}
	}
	return nil
}

// Registry 暴露注册中心，集合和多态解析都要用
func (db *DB) Registry() model.Registry {
	return db.r
}

func (db *DB) Close() error {
	return db.db.Close()
}

// Session 代表一个抽象的会话概念，DB 和 Tx 都实现它
type Session interface {
	getCore() core
	queryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	execContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	// rootDB 永远返回根句柄
	// 存在性探测在根句柄上执行，从而不会加入任何外层事务
	rootDB() *sql.DB
}

var _ Session = &Tx{}
var _ Session = &DB{}

func (db *DB) getCore() core {
	return db.core
}

func (db *DB) queryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return db.db.QueryContext(ctx, query, args...)
}

func (db *DB) execContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return db.db.ExecContext(ctx, query, args...)
}

func (db *DB) rootDB() *sql.DB {
	return db.db
}

func (db *DB) BeginTx(ctx context.Context, opts *sql.TxOptions) (*Tx, error) {
	tx, err := db.db.BeginTx(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &Tx{tx: tx, db: db}, nil
}

type Tx struct {
	tx *sql.Tx
	db *DB
}

func (t *Tx) getCore() core {
	return t.db.core
}

func (t *Tx) queryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return t.tx.QueryContext(ctx, query, args...)
}

func (t *Tx) execContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return t.tx.ExecContext(ctx, query, args...)
}

func (t *Tx) rootDB() *sql.DB {
	return t.db.db
}

func (t *Tx) Commit() error {
	return t.tx.Commit()
}

func (t *Tx) Rollback() error {
	return t.tx.Rollback()
}

func (t *Tx) RollbackIfNotCommit() error {
	err := t.tx.Rollback()
	if err != sql.ErrTxDone {
		return err
	}
	return nil
}
