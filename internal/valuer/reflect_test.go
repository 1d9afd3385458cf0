package valuer

import (
	"database/sql/driver"
	"reflect"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/strataorm/strata/internal/errs"
	"github.com/strataorm/strata/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testLevel struct {
	table struct{} `strata:"table=test_levels" ds:""`

	ID   int64   `strata:"column=id,pk"`
	Name string  `strata:"column=name,alias=the_name"`
	Rate float64 `strata:"column=rate"`
}

// 两种实现必须有完全一致的行为
var creators = map[string]Creator{
	"reflect": NewReflectValue,
	"unsafe":  NewUnsafeValue,
}

func testMeta(t *testing.T) *model.Model {
	t.Helper()
	meta, err := model.NewRegistry().Get(&testLevel{})
	require.NoError(t, err)
	return meta
}

func TestValue_SetColumns(t *testing.T) {
	testCases := []struct {
		name    string
		cols    []string
		colVals []driver.Value
		wantVal *testLevel
		wantErr error
	}{
		{
			name:    "normal value",
			cols:    []string{"id", "name", "rate"},
			colVals: []driver.Value{int64(1), "Tom", 6.4},
			wantVal: &testLevel{ID: 1, Name: "Tom", Rate: 6.4},
		},
		{
			// 列别名同样能命中
			name:    "alias column",
			cols:    []string{"id", "the_name"},
			colVals: []driver.Value{int64(2), "Jerry"},
			wantVal: &testLevel{ID: 2, Name: "Jerry"},
		},
		{
			name:    "invalid column",
			cols:    []string{"invalid_column"},
			colVals: []driver.Value{int64(1)},
			wantErr: errs.NewErrUnknownColumn("invalid_column"),
		},
		{
			name:    "too many columns",
			cols:    []string{"id", "name", "rate", "extra"},
			colVals: []driver.Value{int64(1), "Tom", 6.4, "x"},
			wantErr: errs.ErrTooManyReturnedColumns,
		},
	}

	meta := testMeta(t)
	for creatorName, creator := range creators {
		for _, tc := range testCases {
			t.Run(creatorName+" "+tc.name, func(t *testing.T) {
				// 使用 sqlmock 模拟数据库
				db, mock, err := sqlmock.New()
				require.NoError(t, err)
				defer func() { _ = db.Close() }()

				mock.ExpectQuery("SELECT *").
					WillReturnRows(sqlmock.NewRows(tc.cols).AddRow(tc.colVals...))

				rows, err := db.Query("SELECT *")
				require.NoError(t, err)
				rows.Next()

				entity := &testLevel{}
				val := creator(reflect.ValueOf(entity).Elem(), meta)
				err = val.SetColumns(rows)
				assert.Equal(t, tc.wantErr, err)
				if err != nil {
					return
				}
				assert.Equal(t, tc.wantVal, entity)
			})
		}
	}
}

func TestValue_Field(t *testing.T) {
	meta := testMeta(t)
	for creatorName, creator := range creators {
		t.Run(creatorName, func(t *testing.T) {
			entity := &testLevel{ID: 3, Name: "Tom"}
			val := creator(reflect.ValueOf(entity).Elem(), meta)

			got, err := val.Field("ID")
			require.NoError(t, err)
			assert.Equal(t, int64(3), got)

			got, err = val.Field("Name")
			require.NoError(t, err)
			assert.Equal(t, "Tom", got)

			_, err = val.Field("Nope")
			assert.Equal(t, errs.NewErrUnknownField("Nope"), err)
		})
	}
}

func TestValue_SetField(t *testing.T) {
	meta := testMeta(t)
	for creatorName, creator := range creators {
		t.Run(creatorName, func(t *testing.T) {
			entity := &testLevel{}
			val := creator(reflect.ValueOf(entity).Elem(), meta)

			require.NoError(t, val.SetField("Name", "Jerry"))
			assert.Equal(t, "Jerry", entity.Name)

			// 可转换的类型自动转换，生成键回写走的就是这条路
			require.NoError(t, val.SetField("ID", int32(7)))
			assert.Equal(t, int64(7), entity.ID)

			// nil 写零值
			require.NoError(t, val.SetField("Name", nil))
			assert.Equal(t, "", entity.Name)

			err := val.SetField("Rate", "not a number")
			assert.Equal(t, errs.NewErrArgumentType("rate", "float64", "string"), err)

			err = val.SetField("Nope", 1)
			assert.Equal(t, errs.NewErrUnknownField("Nope"), err)
		})
	}
}
