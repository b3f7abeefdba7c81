//go:build integration && postgres

package app

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"testing"

	"github.com/joho/godotenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/cloudless/internal/app/domain/item"
	"github.com/R3E-Network/cloudless/internal/config"
	"github.com/R3E-Network/cloudless/internal/errors"
)

// Runs the catalog against Postgres to check indexes and core flows with
// persistence.
func TestIntegrationPostgres(t *testing.T) {
	_ = godotenv.Load() // allow .env for local runs
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set; skipping Postgres integration")
	}

	cfg := testConfig(t)
	cfg.Storage = config.StorageConfig{Driver: config.StoragePostgres, DatabaseURL: dsn, MaxOpenConns: 4}
	a := newApp(t, cfg)
	_, err := a.db.Exec(`TRUNCATE TABLE items`)
	require.NoError(t, err)

	h := a.Handler()
	token := sessionToken(t)

	rr := call(t, h, http.MethodPost, "/api/catalog/insert", token, `{"name":"pg-widget","code":"PG-1"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var created item.Item
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &created))

	rr = call(t, h, http.MethodPost, "/api/catalog/find", token, `{"keyword":"PG-","pageNo":1,"pageSize":5}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Contains(t, rr.Body.String(), `"total":1`)

	// Duplicate names are refused.
	dup := &item.Item{Name: "pg-widget"}
	err = a.Catalog.Insert(context.Background(), dup)
	assert.True(t, errors.HasCode(err, errors.CodeDuplicate), "got %v", err)

	rr = call(t, h, http.MethodPost, "/api/catalog/delete", token, `{"id":"`+created.ID+`"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.JSONEq(t, `{"deleted":1}`, rr.Body.String())
}
