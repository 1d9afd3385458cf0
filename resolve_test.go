package strata

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/strataorm/strata/internal/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resolveDB(t *testing.T, opts ...DBOption) (*DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock := mockDB(t, opts...)
	require.NoError(t, db.Register(&Person{}, &Employee{}, &Manager{}))
	return db, mock
}

func TestDB_Resolve(t *testing.T) {
	db, mock := resolveDB(t, DBWithSettings(Settings{
		EnableDerivedEntityLookup: true,
	}))

	// 候选从最深的开始探测，manager 没命中，employee 命中
	mock.ExpectQuery("SELECT EXISTS(SELECT 1 FROM managers WHERE manager_id = ?);").
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectQuery("SELECT EXISTS(SELECT 1 FROM employees WHERE employee_id = ?);").
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	got, err := db.Resolve(context.Background(), &Person{}, int64(5))
	require.NoError(t, err)

	e, ok := got.(*Employee)
	require.True(t, ok)
	// 主键绑进了每个层级，实例是惰性的
	assert.Equal(t, int64(5), e.ID)
	assert.Equal(t, int64(5), e.EmployeeID)
	assert.False(t, e.IsNew())
	assert.False(t, e.HasLoaded())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDB_Resolve_noMatch(t *testing.T) {
	db, mock := resolveDB(t, DBWithSettings(Settings{
		EnableDerivedEntityLookup: true,
	}))

	mock.ExpectQuery("SELECT EXISTS(SELECT 1 FROM managers WHERE manager_id = ?);").
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectQuery("SELECT EXISTS(SELECT 1 FROM employees WHERE employee_id = ?);").
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectQuery("SELECT EXISTS(SELECT 1 FROM persons WHERE id = ?);").
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	got, err := db.Resolve(context.Background(), &Person{}, int64(5))
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDB_Resolve_lookupDisabled(t *testing.T) {
	db, mock := resolveDB(t)

	// 派生查找关闭：唯一候选就是声明的祖先，不发探测
	got, err := db.Resolve(context.Background(), &Person{}, int64(5))
	require.NoError(t, err)

	p, ok := got.(*Person)
	require.True(t, ok)
	assert.Equal(t, int64(5), p.ID)
	assert.False(t, p.HasLoaded())
	assert.NoError(t, mock.ExpectationsWereMet())
}

// Liaison 在自己的层级上声明了复合主键，元数和祖先不一致
type Liaison struct {
	Person
	table struct{} `strata:"table=liaisons" ds:""`

	BranchID  int64 `strata:"column=branch_id,pk"`
	ContactID int64 `strata:"column=contact_id,pk"`
}

func TestDB_Resolve_candidateArityMismatch(t *testing.T) {
	db, mock := mockDB(t, DBWithSettings(Settings{
		EnableDerivedEntityLookup: true,
	}))
	require.NoError(t, db.Register(&Person{}, &Liaison{}))

	// 每个候选都要过主键校验，元数不一致直接报错而不是被跳过
	_, err := db.Resolve(context.Background(), &Person{}, int64(5))
	assert.Equal(t, errs.NewErrArgumentCount("Liaison", 2, 1), err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDB_Resolve_keyValidation(t *testing.T) {
	db, _ := resolveDB(t, DBWithSettings(Settings{
		EnableDerivedEntityLookup: true,
	}))

	testCases := []struct {
		name    string
		keys    []any
		wantErr error
	}{
		{
			name:    "wrong arity",
			keys:    []any{int64(1), int64(2)},
			wantErr: errs.NewErrArgumentCount("Person", 1, 2),
		},
		{
			name:    "wrong type",
			keys:    []any{"five"},
			wantErr: errs.NewErrArgumentType("id", "int64", "string"),
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := db.Resolve(context.Background(), &Person{}, tc.keys...)
			assert.Equal(t, tc.wantErr, err)
		})
	}
}
