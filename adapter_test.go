package strata

import (
	"testing"
	"time"

	"github.com/strataorm/strata/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Quoted 打开 encapsulate 和 use_alias 的层级
type Quoted struct {
	Entity
	table struct{} `strata:"table=quoted,alias=q" ds:"encapsulate,use_alias"`

	ID   int64  `strata:"column=id,pk"`
	Name string `strata:"column=name,alias=the_name"`
}

func fieldCols(fields []*model.Field) []string {
	res := make([]string, 0, len(fields))
	for _, f := range fields {
		res = append(res, f.ColName)
	}
	return res
}

func TestAdapter_statements(t *testing.T) {
	r := model.NewRegistry()
	persons, err := r.Get(&Person{})
	require.NoError(t, err)
	employees, err := r.Get(&Employee{})
	require.NoError(t, err)
	badges, err := r.Get(&Badge{})
	require.NoError(t, err)
	quoted, err := r.Get(&Quoted{})
	require.NoError(t, err)

	a, err := newAdapter(MySQL, Settings{})
	require.NoError(t, err)

	testCases := []struct {
		name       string
		build      func() (*Command, []*model.Field)
		wantText   string
		wantFields []string
	}{
		{
			// 生成列不出现在列清单里
			name:       "insert with generated key",
			build:      func() (*Command, []*model.Field) { return a.insert(persons) },
			wantText:   "INSERT INTO persons (name,age) VALUES (?,?);",
			wantFields: []string{"name", "age"},
		},
		{
			name:       "insert",
			build:      func() (*Command, []*model.Field) { return a.insert(employees) },
			wantText:   "INSERT INTO employees (employee_id,salary) VALUES (?,?);",
			wantFields: []string{"employee_id", "salary"},
		},
		{
			name:       "update",
			build:      func() (*Command, []*model.Field) { return a.update(persons) },
			wantText:   "UPDATE persons SET name=?,age=? WHERE id = ?;",
			wantFields: []string{"name", "age", "id"},
		},
		{
			name:       "delete",
			build:      func() (*Command, []*model.Field) { return a.delete(employees) },
			wantText:   "DELETE FROM employees WHERE employee_id = ?;",
			wantFields: []string{"employee_id"},
		},
		{
			name:       "select one",
			build:      func() (*Command, []*model.Field) { return a.selectOne(persons) },
			wantText:   "SELECT id,name,age FROM persons WHERE id = ?;",
			wantFields: []string{"id"},
		},
		{
			name:       "exists",
			build:      func() (*Command, []*model.Field) { return a.exists(persons) },
			wantText:   "SELECT EXISTS(SELECT 1 FROM persons WHERE id = ?);",
			wantFields: []string{"id"},
		},
		{
			name: "unique without key",
			build: func() (*Command, []*model.Field) {
				return a.unique(persons, persons.FieldMap["Name"], false)
			},
			wantText:   "SELECT EXISTS(SELECT 1 FROM persons WHERE name = ?);",
			wantFields: []string{"name"},
		},
		{
			name: "unique excluding key",
			build: func() (*Command, []*model.Field) {
				return a.unique(persons, persons.FieldMap["Name"], true)
			},
			wantText:   "SELECT EXISTS(SELECT 1 FROM persons WHERE name = ? AND NOT (id = ?));",
			wantFields: []string{"name", "id"},
		},
		{
			// encapsulate 加引用符，use_alias 带 AS 别名，列别名进 AS
			name:       "encapsulate and alias",
			build:      func() (*Command, []*model.Field) { return a.selectOne(quoted) },
			wantText:   "SELECT `id`,`name` AS `the_name` FROM `quoted` AS `q` WHERE `id` = ?;",
			wantFields: []string{"id"},
		},
		{
			name:       "encapsulated insert",
			build:      func() (*Command, []*model.Field) { return a.insert(quoted) },
			wantText:   "INSERT INTO `quoted` (`id`,`name`) VALUES (?,?);",
			wantFields: []string{"id", "name"},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cmd, fields := tc.build()
			assert.Equal(t, tc.wantText, cmd.Text)
			assert.Equal(t, tc.wantFields, fieldCols(fields))
		})
	}

	t.Run("update skips key-only level", func(t *testing.T) {
		cmd, fields := a.update(badges)
		assert.Nil(t, cmd)
		assert.Nil(t, fields)
	})
}

func TestAdapter_selectChain(t *testing.T) {
	r := model.NewRegistry()
	chain, err := r.Chain(&Manager{})
	require.NoError(t, err)

	a, err := newAdapter(MySQL, Settings{})
	require.NoError(t, err)

	cmd, args, err := a.selectChain(chain, len(chain), []int{-1, 0, 1}, nil)
	require.NoError(t, err)
	assert.Empty(t, args)
	assert.Equal(t,
		"SELECT persons.id,persons.name,persons.age,"+
			"employees.employee_id,employees.salary,"+
			"managers.manager_id,managers.bonus "+
			"FROM persons "+
			"JOIN employees ON persons.id = employees.employee_id "+
			"JOIN managers ON employees.employee_id = managers.manager_id;",
		cmd.Text)
	assert.Equal(t, KindSelectMany, cmd.Kind)
}

func TestAdapter_selectChain_lineage(t *testing.T) {
	r := model.NewRegistry()
	chain, err := r.Chain(&Person{})
	require.NoError(t, err)
	employees, err := r.Get(&Employee{})
	require.NoError(t, err)
	managers, err := r.Get(&Manager{})
	require.NoError(t, err)

	a, err := newAdapter(MySQL, Settings{})
	require.NoError(t, err)

	// 声明链之外的派生层级左连接
	levels := append(chain, employees, managers)
	cmd, args, err := a.selectChain(levels, len(chain), []int{-1, 0, 1}, nil)
	require.NoError(t, err)
	assert.Empty(t, args)
	assert.Equal(t,
		"SELECT persons.id,persons.name,persons.age,"+
			"employees.employee_id,employees.salary,"+
			"managers.manager_id,managers.bonus "+
			"FROM persons "+
			"LEFT JOIN employees ON persons.id = employees.employee_id "+
			"LEFT JOIN managers ON employees.employee_id = managers.manager_id;",
		cmd.Text)
}

func TestAdapter_selectKeys_predicates(t *testing.T) {
	r := model.NewRegistry()
	employees, err := r.Get(&Employee{})
	require.NoError(t, err)

	a, err := newAdapter(MySQL, Settings{})
	require.NoError(t, err)

	testCases := []struct {
		name     string
		where    []Predicate
		wantText string
		wantArgs []any
		wantErr  bool
	}{
		{
			name:     "no predicate",
			wantText: "SELECT employee_id FROM employees;",
		},
		{
			name:     "single",
			where:    []Predicate{C("Salary").GT(100.0)},
			wantText: "SELECT employee_id FROM employees WHERE salary > ?;",
			wantArgs: []any{100.0},
		},
		{
			name:     "and",
			where:    []Predicate{C("Salary").GT(100.0), C("EmployeeID").LT(int64(50))},
			wantText: "SELECT employee_id FROM employees WHERE (salary > ?) AND (employee_id < ?);",
			wantArgs: []any{100.0, int64(50)},
		},
		{
			name:     "not",
			where:    []Predicate{Not(C("Salary").EQ(0.0))},
			wantText: "SELECT employee_id FROM employees WHERE  NOT (salary = ?);",
			wantArgs: []any{0.0},
		},
		{
			name:     "raw expression",
			where:    []Predicate{Raw("salary > avg_salary + ?", 10).AsPredicate()},
			wantText: "SELECT employee_id FROM employees WHERE salary > avg_salary + ?;",
			wantArgs: []any{10},
		},
		{
			name:    "unknown field",
			where:   []Predicate{C("Nope").EQ(1)},
			wantErr: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cmd, args, err := a.selectKeys(employees, tc.where)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.wantText, cmd.Text)
			assert.Equal(t, tc.wantArgs, args)
		})
	}
}

func TestAdapter_commandFlags(t *testing.T) {
	r := model.NewRegistry()
	audits, err := r.Get(&AuditEntry{})
	require.NoError(t, err)

	a, err := newAdapter(MySQL, Settings{CommandTimeout: time.Second})
	require.NoError(t, err)

	// 读语句继承 dirty_reads，写语句不继承
	sel, _ := a.selectOne(audits)
	assert.True(t, sel.DirtyReads)
	assert.Equal(t, time.Second, sel.Timeout)

	del, _ := a.delete(audits)
	assert.False(t, del.DirtyReads)
	assert.Equal(t, time.Second, del.Timeout)
}

func TestAdapter_dialectUnset(t *testing.T) {
	_, err := newAdapter(nil, Settings{})
	assert.Error(t, err)
}
