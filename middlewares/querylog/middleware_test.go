package querylog

import (
	"context"
	"log"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/strataorm/strata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testUser struct {
	strata.Entity
	table struct{} `strata:"table=test_users" ds:""`

	ID   int64  `strata:"column=id,pk"`
	Name string `strata:"column=name"`
}

func TestMiddlewareBuilder(t *testing.T) {
	var query string
	var args []any

	customLogFunc := func(q string, as []any) {
		query = q
		args = as
		log.Printf("sql: %s, args: %v", query, args)
	}

	m := NewBuilder().LogFunc(customLogFunc)

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	orm, err := strata.OpenDB(db, strata.DBWithMiddlewares(m.Build()))
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO test_users (id,name) VALUES (?,?);").
		WithArgs(int64(18), "Tom").
		WillReturnResult(sqlmock.NewResult(0, 1))

	u := &testUser{}
	u.ID = 18
	u.Name = "Tom"
	err = strata.NewMapper[testUser](orm).Insert(context.Background(), u)
	require.NoError(t, err)

	assert.Equal(t, "INSERT INTO test_users (id,name) VALUES (?,?);", query)
	assert.Equal(t, []any{int64(18), "Tom"}, args)
}
