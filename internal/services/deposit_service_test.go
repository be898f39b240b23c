package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
)

var depositTestColumns = []string{
	"id", "organ_id", "bank_id", "account_no", "currency", "has_banking_api_access",
	"balance", "balance_last_synced_at", "rahkaran_balance", "rahkaran_balance_last_synced_at",
}

func newDepositTest(t *testing.T) (*DepositService, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return NewDepositService(db, NewSnapshotStore(db), nil), mock
}

func TestDepositService_ListOrgans(t *testing.T) {
	ds, mock := newDepositTest(t)
	now := time.Now().UTC()

	t.Run("returns organs ordered by name", func(t *testing.T) {
		mock.ExpectQuery("SELECT id, name, code, created_at, updated_at FROM organs").
			WillReturnRows(sqlmock.NewRows([]string{"id", "name", "code", "created_at", "updated_at"}).
				AddRow(2, "Culture Office", "CUL", now, now).
				AddRow(1, "Health Office", "HLT", now, now))

		req := httptest.NewRequest("GET", "/organs", nil)
		w := httptest.NewRecorder()
		ds.ListOrgans(w, req)

		assert.Equal(t, http.StatusOK, w.Code)

		var organs []map[string]interface{}
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &organs))
		assert.Len(t, organs, 2)
		assert.Equal(t, "Culture Office", organs[0]["name"])
	})

	t.Run("no organs yields an empty array", func(t *testing.T) {
		mock.ExpectQuery("SELECT id, name, code, created_at, updated_at FROM organs").
			WillReturnRows(sqlmock.NewRows([]string{"id", "name", "code", "created_at", "updated_at"}))

		req := httptest.NewRequest("GET", "/organs", nil)
		w := httptest.NewRecorder()
		ds.ListOrgans(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, "[]", w.Body.String())
	})
}

func TestDepositService_ListOrganDeposits(t *testing.T) {
	newRouter := func(ds *DepositService) *chi.Mux {
		r := chi.NewRouter()
		r.Get("/organs/{organId}/deposits", ds.ListOrganDeposits)
		return r
	}

	t.Run("returns the organ's deposits", func(t *testing.T) {
		ds, mock := newDepositTest(t)

		mock.ExpectQuery(`SELECT id FROM organs WHERE id = \$1`).
			WithArgs(3).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(3))
		mock.ExpectQuery("FROM deposits").
			WithArgs(3).
			WillReturnRows(sqlmock.NewRows(depositTestColumns).
				AddRow(1, 3, 1, "IR-001", "IRR", true, 1000, time.Now(), 1000, time.Now()).
				AddRow(2, 3, 2, "IR-002", "IRR", false, nil, nil, 2500, time.Now()))

		req := httptest.NewRequest("GET", "/organs/3/deposits", nil)
		w := httptest.NewRecorder()
		newRouter(ds).ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)

		var deposits []map[string]interface{}
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &deposits))
		assert.Len(t, deposits, 2)
		assert.Equal(t, "IR-002", deposits[1]["account_no"])
	})

	t.Run("unknown organ is a 404", func(t *testing.T) {
		ds, mock := newDepositTest(t)

		mock.ExpectQuery(`SELECT id FROM organs WHERE id = \$1`).
			WithArgs(99).
			WillReturnError(sql.ErrNoRows)

		req := httptest.NewRequest("GET", "/organs/99/deposits", nil)
		w := httptest.NewRecorder()
		newRouter(ds).ServeHTTP(w, req)

		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestDepositService_GetDepositBalance(t *testing.T) {
	newRouter := func(ds *DepositService) *chi.Mux {
		r := chi.NewRouter()
		r.Get("/deposits/{depositId}/balance", ds.GetDepositBalance)
		return r
	}
	syncedAt := time.Date(2025, 9, 23, 10, 0, 0, 0, time.UTC)

	t.Run("returns both caches and the divergence flag", func(t *testing.T) {
		ds, mock := newDepositTest(t)

		mock.ExpectQuery("FROM deposits").
			WithArgs(1).
			WillReturnRows(sqlmock.NewRows(depositTestColumns).
				AddRow(1, 3, 1, "IR-001", "IRR", true, 1800, syncedAt, 2000, syncedAt))

		req := httptest.NewRequest("GET", "/deposits/1/balance", nil)
		w := httptest.NewRecorder()
		newRouter(ds).ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)

		var balance DepositBalance
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &balance))
		assert.Equal(t, int64(1800), *balance.Balance)
		assert.Equal(t, int64(2000), *balance.RahkaranBalance)
		assert.True(t, balance.Diverged)
	})

	t.Run("empty caches fall back to the latest ledger snapshot", func(t *testing.T) {
		ds, mock := newDepositTest(t)

		mock.ExpectQuery("FROM deposits").
			WithArgs(1).
			WillReturnRows(sqlmock.NewRows(depositTestColumns).
				AddRow(1, 3, 1, "IR-001", "IRR", false, nil, nil, nil, nil))
		mock.ExpectQuery("FROM balances").
			WillReturnRows(sqlmock.NewRows(snapshotTestColumns).
				AddRow(10, 1, "fail", nil, nil, "success", 4200, syncedAt, syncedAt))

		req := httptest.NewRequest("GET", "/deposits/1/balance", nil)
		w := httptest.NewRecorder()
		newRouter(ds).ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)

		var balance DepositBalance
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &balance))
		assert.Nil(t, balance.Balance)
		assert.Equal(t, int64(4200), *balance.RahkaranBalance)
		assert.False(t, balance.Diverged)
	})

	t.Run("internal-only ledger fallback is attributed to the internal side", func(t *testing.T) {
		ds, mock := newDepositTest(t)

		mock.ExpectQuery("FROM deposits").
			WithArgs(1).
			WillReturnRows(sqlmock.NewRows(depositTestColumns).
				AddRow(1, 3, 1, "IR-001", "IRR", true, nil, nil, nil, nil))
		mock.ExpectQuery("FROM balances").
			WillReturnRows(sqlmock.NewRows(snapshotTestColumns).
				AddRow(11, 1, "success", 3100, syncedAt, "fail", nil, nil, syncedAt))

		req := httptest.NewRequest("GET", "/deposits/1/balance", nil)
		w := httptest.NewRecorder()
		newRouter(ds).ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)

		var balance DepositBalance
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &balance))
		assert.Equal(t, int64(3100), *balance.Balance)
		assert.Equal(t, syncedAt, *balance.BalanceLastSyncedAt)
		assert.Nil(t, balance.RahkaranBalance)
	})

	t.Run("unknown deposit is a 404", func(t *testing.T) {
		ds, mock := newDepositTest(t)

		mock.ExpectQuery("FROM deposits").
			WithArgs(99).
			WillReturnError(sql.ErrNoRows)

		req := httptest.NewRequest("GET", "/deposits/99/balance", nil)
		w := httptest.NewRecorder()
		newRouter(ds).ServeHTTP(w, req)

		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("serves the cached payload when present", func(t *testing.T) {
		db, _, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		redisClient, redisMock := redismock.NewClientMock()
		ds := NewDepositService(db, NewSnapshotStore(db), redisClient)

		cached := `{"deposit_id":1,"account_no":"IR-001"}`
		redisMock.ExpectGet("deposit:balance:1").SetVal(cached)

		req := httptest.NewRequest("GET", "/deposits/1/balance", nil)
		w := httptest.NewRecorder()
		newRouter(ds).ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, cached, w.Body.String())
	})
}

func TestDepositService_ListFetchable(t *testing.T) {
	ds, mock := newDepositTest(t)

	mock.ExpectQuery("FROM deposits").
		WillReturnRows(sqlmock.NewRows(depositTestColumns).
			AddRow(1, 3, 1, "IR-001", "IRR", true, 1000, time.Now(), 1000, time.Now()).
			AddRow(2, 4, 2, "IR-002", "IRR", false, nil, nil, nil, nil))

	deposits, err := ds.ListFetchable(context.Background())
	assert.NoError(t, err)
	assert.Len(t, deposits, 2)
	assert.True(t, deposits[0].HasBankingAPIAccess)
	assert.Nil(t, deposits[1].RahkaranBalance)
}
