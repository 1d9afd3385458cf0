//go:build e2e

package prometheus

import (
	"context"
	"net/http"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/strataorm/strata"
	"github.com/stretchr/testify/require"
)

type testUser struct {
	strata.Entity
	table struct{} `strata:"table=test_users" ds:""`

	ID   int64  `strata:"column=id,pk"`
	Name string `strata:"column=name"`
}

func TestMiddlewareBuilder_Build(t *testing.T) {
	builder := MiddlewareBuilder{
		Namespace: "strataorm",
		Subsystem: "strata",
		Name:      "statement_duration",
		Help:      "单条语句的执行耗时",
	}

	db, err := strata.Open("sqlite3",
		"file:prom.db?cache=shared&mode=memory",
		strata.DBWithMiddlewares(builder.Build()))
	require.NoError(t, err)

	go func() {
		http.Handle("/metrics", promhttp.Handler())
		_ = http.ListenAndServe(":8082", nil)
	}()

	m := strata.NewMapper[testUser](db)
	for i := int64(1); i <= 100; i++ {
		u := &testUser{}
		u.ID = i
		u.Name = "Tom"
		// 没建表，语句会失败，但耗时照样被观测到
		_ = m.Insert(context.Background(), u)
	}
}
