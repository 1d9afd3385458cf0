//go:build e2e

package strata

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sqliteDB(t *testing.T, opts ...DBOption) *DB {
	t.Helper()
	raw, err := sql.Open("sqlite3", "file:e2e.db?cache=shared&mode=memory")
	require.NoError(t, err)
	t.Cleanup(func() { _ = raw.Close() })

	ddl := []string{
		`DROP TABLE IF EXISTS persons`,
		`DROP TABLE IF EXISTS employees`,
		`DROP TABLE IF EXISTS managers`,
		`CREATE TABLE persons (id INTEGER PRIMARY KEY AUTOINCREMENT, name TEXT, age INTEGER)`,
		`CREATE TABLE employees (employee_id INTEGER PRIMARY KEY, salary REAL)`,
		`CREATE TABLE managers (manager_id INTEGER PRIMARY KEY, bonus REAL)`,
	}
	for _, stmt := range ddl {
		_, err = raw.Exec(stmt)
		require.NoError(t, err)
	}

	opts = append([]DBOption{DBWithDialect(SQLite3)}, opts...)
	db, err := OpenDB(raw, opts...)
	require.NoError(t, err)
	return db
}

func TestRoundTrip(t *testing.T) {
	db := sqliteDB(t)
	ctx := context.Background()
	m := NewMapper[Employee](db)

	// 整条链插入，sqlite 生成主键
	e := &Employee{}
	e.Name = "Tom"
	e.Age = 30
	e.Salary = 1000
	require.NoError(t, m.Insert(ctx, e))
	require.NotZero(t, e.ID)
	assert.Equal(t, e.ID, e.EmployeeID)

	// 按主键取回来
	got, err := m.Find(ctx, e.ID)
	require.NoError(t, err)
	require.NoError(t, m.Load(ctx, got))
	assert.Equal(t, "Tom", got.Name)
	assert.Equal(t, 1000.0, got.Salary)

	// 更新之后重新加载
	got.Salary = 1100
	got.MarkDirty()
	require.NoError(t, m.Save(ctx, got))

	again, err := m.Find(ctx, e.ID)
	require.NoError(t, err)
	require.NoError(t, m.Load(ctx, again))
	assert.Equal(t, 1100.0, again.Salary)

	// 提升为 manager，只会新增 managers 一行
	mgr := &Manager{}
	mgr.Bonus = 50
	require.NoError(t, Promote[Employee, Manager](ctx, db, again, mgr))
	assert.Equal(t, e.ID, mgr.ManagerID)

	// 再降回 employee
	emp, err := Demote[Manager, Employee](ctx, db, mgr)
	require.NoError(t, err)
	assert.Equal(t, 1100.0, emp.Salary)
	assert.True(t, mgr.IsDeleted())

	// 收尾：删除整条链
	require.NoError(t, m.Delete(ctx, emp))
	ok, err := m.Exists(ctx, emp)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCollectionAndResolve(t *testing.T) {
	db := sqliteDB(t, DBWithSettings(Settings{
		EnableBulkLoad:            true,
		EnableDerivedEntityLookup: true,
	}))
	require.NoError(t, db.Register(&Person{}, &Employee{}, &Manager{}))

	ctx := context.Background()
	m := NewMapper[Employee](db)

	for _, salary := range []float64{100, 200, 300} {
		e := &Employee{}
		e.Name = "worker"
		e.Salary = salary
		require.NoError(t, m.Insert(ctx, e))
	}

	col := NewCollection[Employee](db, C("Salary").GT(150.0))
	items, err := col.Items(ctx)
	require.NoError(t, err)
	assert.Len(t, items, 2)
	for _, it := range items {
		e, ok := it.(*Employee)
		require.True(t, ok)
		assert.True(t, e.HasLoaded())
		assert.Greater(t, e.Salary, 150.0)
	}

	// 多态解析返回最深的命中层级
	got, err := db.Resolve(ctx, &Person{}, items[0].(*Employee).ID)
	require.NoError(t, err)
	_, isEmployee := got.(*Employee)
	assert.True(t, isEmployee)
}

func TestMySQLRoundTrip(t *testing.T) {
	// 本地没有 MySQL 时跳过
	raw, err := sql.Open("mysql", "root:root@tcp(localhost:13306)/integration")
	require.NoError(t, err)
	defer func() { _ = raw.Close() }()
	if err = raw.Ping(); err != nil {
		t.Skipf("mysql 不可用: %v", err)
	}

	ddl := []string{
		`DROP TABLE IF EXISTS persons`,
		`CREATE TABLE persons (id BIGINT PRIMARY KEY AUTO_INCREMENT, name VARCHAR(128), age TINYINT)`,
	}
	for _, stmt := range ddl {
		_, err = raw.Exec(stmt)
		require.NoError(t, err)
	}

	db, err := OpenDB(raw)
	require.NoError(t, err)

	ctx := context.Background()
	m := NewMapper[Person](db)

	p := &Person{}
	p.Name = "Tom"
	p.Age = 30
	require.NoError(t, m.Insert(ctx, p))
	require.NotZero(t, p.ID)

	got, err := m.Find(ctx, p.ID)
	require.NoError(t, err)
	require.NoError(t, m.Load(ctx, got))
	assert.Equal(t, "Tom", got.Name)
}
