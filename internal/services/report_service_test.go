package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"

	"github.com/finadmin/backend/internal/jalali"
)

func newReportTest(t *testing.T) (*ReportService, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return NewReportService(db, NewSnapshotStore(db), nil), mock
}

// rahkaranRows builds visible ledger rows, one per balance, a day apart.
func rahkaranRows(depositID int, start time.Time, balances ...int64) *sqlmock.Rows {
	rows := sqlmock.NewRows(snapshotTestColumns)
	for i, balance := range balances {
		at := start.AddDate(0, 0, i).Add(9 * time.Hour)
		rows.AddRow(i+1, depositID, "fail", nil, nil, "success", balance, at, at)
	}
	return rows
}

func expectDepositExists(mock sqlmock.Sqlmock, depositID int) {
	mock.ExpectQuery(`SELECT id FROM deposits WHERE id = \$1`).
		WithArgs(depositID).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(depositID))
}

func expectOrganExists(mock sqlmock.Sqlmock, organID int) {
	mock.ExpectQuery(`SELECT id FROM organs WHERE id = \$1`).
		WithArgs(organID).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(organID))
}

func TestReportService_DeriveForPeriod(t *testing.T) {
	monthStart := time.Date(2025, 9, 23, 0, 0, 0, 0, time.UTC)

	t.Run("pairwise deltas split into income and expense", func(t *testing.T) {
		rp, mock := newReportTest(t)

		expectDepositExists(mock, 1)
		mock.ExpectQuery("FROM balances").
			WithArgs(1, monthStart, time.Date(2025, 10, 23, 0, 0, 0, 0, time.UTC)).
			WillReturnRows(rahkaranRows(1, monthStart, 1000, 1500, 1200))

		result, err := rp.DeriveForPeriod(context.Background(), 1, 1404, 7)
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())

		assert.Equal(t, "1404/07", result.PeriodLabel)
		assert.Equal(t, int64(1000), *result.StartBalance)
		assert.Equal(t, int64(1200), *result.EndBalance)
		assert.Equal(t, int64(500), result.Income)
		assert.Equal(t, int64(300), result.Expense)
		assert.Equal(t, int64(200), result.NetChange)
		assert.Equal(t, 3, result.SnapshotCount)

		assert.Equal(t, *result.EndBalance-*result.StartBalance, result.NetChange)
		assert.Equal(t, result.Income-result.Expense, result.NetChange)
	})

	t.Run("single snapshot yields zero flow", func(t *testing.T) {
		rp, mock := newReportTest(t)

		expectDepositExists(mock, 1)
		mock.ExpectQuery("FROM balances").
			WillReturnRows(rahkaranRows(1, monthStart, 5000))

		result, err := rp.DeriveForPeriod(context.Background(), 1, 1404, 7)
		assert.NoError(t, err)

		assert.Equal(t, int64(5000), *result.StartBalance)
		assert.Equal(t, int64(5000), *result.EndBalance)
		assert.Zero(t, result.Income)
		assert.Zero(t, result.Expense)
		assert.Zero(t, result.NetChange)
		assert.Equal(t, 1, result.SnapshotCount)
	})

	t.Run("period without snapshots is a valid empty result", func(t *testing.T) {
		rp, mock := newReportTest(t)

		expectDepositExists(mock, 1)
		mock.ExpectQuery("FROM balances").
			WillReturnRows(sqlmock.NewRows(snapshotTestColumns))

		result, err := rp.DeriveForPeriod(context.Background(), 1, 1404, 7)
		assert.NoError(t, err)

		assert.Nil(t, result.StartBalance)
		assert.Nil(t, result.EndBalance)
		assert.Zero(t, result.Income)
		assert.Zero(t, result.Expense)
		assert.Zero(t, result.SnapshotCount)
	})

	t.Run("monotonic decrease accrues only expense", func(t *testing.T) {
		rp, mock := newReportTest(t)

		expectDepositExists(mock, 1)
		mock.ExpectQuery("FROM balances").
			WillReturnRows(rahkaranRows(1, monthStart, 900, 700, 400))

		result, err := rp.DeriveForPeriod(context.Background(), 1, 1404, 7)
		assert.NoError(t, err)

		assert.Zero(t, result.Income)
		assert.Equal(t, int64(500), result.Expense)
		assert.Equal(t, int64(-500), result.NetChange)
	})

	t.Run("unknown deposit", func(t *testing.T) {
		rp, mock := newReportTest(t)

		mock.ExpectQuery(`SELECT id FROM deposits WHERE id = \$1`).
			WithArgs(99).
			WillReturnError(sql.ErrNoRows)

		_, err := rp.DeriveForPeriod(context.Background(), 99, 1404, 7)
		assert.ErrorIs(t, err, ErrDepositNotFound)
	})

	t.Run("invalid month", func(t *testing.T) {
		rp, mock := newReportTest(t)

		expectDepositExists(mock, 1)

		_, err := rp.DeriveForPeriod(context.Background(), 1, 1404, 13)
		assert.ErrorIs(t, err, jalali.ErrCalendarConversion)
	})
}

func TestReportService_ForOrgan(t *testing.T) {
	monthStart := time.Date(2025, 9, 23, 0, 0, 0, 0, time.UTC)

	t.Run("sums deposit derivations", func(t *testing.T) {
		rp, mock := newReportTest(t)

		expectOrganExists(mock, 3)
		mock.ExpectQuery(`SELECT id, account_no FROM deposits WHERE organ_id = \$1`).
			WithArgs(3).
			WillReturnRows(sqlmock.NewRows([]string{"id", "account_no"}).
				AddRow(1, "IR-001").
				AddRow(2, "IR-002"))

		mock.ExpectQuery("FROM balances").
			WillReturnRows(rahkaranRows(1, monthStart, 1000, 1500, 1200))
		mock.ExpectQuery("FROM balances").
			WillReturnRows(rahkaranRows(2, monthStart, 400, 300))

		report, err := rp.ForOrgan(context.Background(), 3, 1404, 7)
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())

		assert.Equal(t, int64(500), report.Income)
		assert.Equal(t, int64(400), report.Expense)
		assert.Equal(t, int64(100), report.NetChange)
		assert.Equal(t, 2, report.DepositsCount)
		assert.Len(t, report.Deposits, 2)
		assert.Equal(t, "IR-001", report.Deposits[0].AccountNo)
	})

	t.Run("one failing deposit is excluded, not fatal", func(t *testing.T) {
		rp, mock := newReportTest(t)

		expectOrganExists(mock, 3)
		mock.ExpectQuery(`SELECT id, account_no FROM deposits WHERE organ_id = \$1`).
			WithArgs(3).
			WillReturnRows(sqlmock.NewRows([]string{"id", "account_no"}).
				AddRow(1, "IR-001").
				AddRow(2, "IR-002"))

		mock.ExpectQuery("FROM balances").
			WillReturnRows(rahkaranRows(1, monthStart, 1000, 1500))
		mock.ExpectQuery("FROM balances").
			WillReturnError(errors.New("connection reset"))

		report, err := rp.ForOrgan(context.Background(), 3, 1404, 7)
		assert.NoError(t, err)

		assert.Equal(t, int64(500), report.Income)
		assert.Equal(t, 1, report.DepositsCount)
		assert.Len(t, report.Deposits, 1)
	})

	t.Run("unknown organ", func(t *testing.T) {
		rp, mock := newReportTest(t)

		mock.ExpectQuery(`SELECT id FROM organs WHERE id = \$1`).
			WithArgs(99).
			WillReturnError(sql.ErrNoRows)

		_, err := rp.ForOrgan(context.Background(), 99, 1404, 7)
		assert.ErrorIs(t, err, ErrOrganNotFound)
	})
}

func TestReportService_YearlyForDeposit(t *testing.T) {
	t.Run("twelve month derivations sum into the year", func(t *testing.T) {
		rp, mock := newReportTest(t)

		expectDepositExists(mock, 1)

		yearStart := time.Date(2025, 3, 21, 0, 0, 0, 0, time.UTC)
		for month := 0; month < 12; month++ {
			// Each month: +100 income, -40 expense, net +60.
			mock.ExpectQuery("FROM balances").
				WillReturnRows(rahkaranRows(1, yearStart.AddDate(0, month, 0), 1000, 1100, 1060))
		}

		report, err := rp.YearlyForDeposit(context.Background(), 1, 1404)
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())

		assert.Equal(t, 1404, report.Year)
		assert.Len(t, report.Months, 12)
		assert.Equal(t, int64(1200), report.Income)
		assert.Equal(t, int64(480), report.Expense)
		assert.Equal(t, int64(720), report.NetChange)
		assert.Equal(t, "1404/01", report.Months[0].PeriodLabel)
		assert.Equal(t, "1404/12", report.Months[11].PeriodLabel)
	})
}

func TestReportService_GetDepositMonthlyReport(t *testing.T) {
	monthStart := time.Date(2025, 9, 23, 0, 0, 0, 0, time.UTC)

	newRouter := func(rp *ReportService) *chi.Mux {
		r := chi.NewRouter()
		r.Get("/deposits/{depositId}/reports/monthly", rp.GetDepositMonthlyReport)
		return r
	}

	t.Run("returns the derivation", func(t *testing.T) {
		rp, mock := newReportTest(t)

		expectDepositExists(mock, 1)
		mock.ExpectQuery("FROM balances").
			WillReturnRows(rahkaranRows(1, monthStart, 1000, 1500, 1200))

		req := httptest.NewRequest("GET", "/deposits/1/reports/monthly?year=1404&month=7", nil)
		w := httptest.NewRecorder()
		newRouter(rp).ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)

		var result PeriodResult
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
		assert.Equal(t, "1404/07", result.PeriodLabel)
		assert.Equal(t, int64(500), result.Income)
	})

	t.Run("missing month is rejected", func(t *testing.T) {
		rp, _ := newReportTest(t)

		req := httptest.NewRequest("GET", "/deposits/1/reports/monthly?year=1404", nil)
		w := httptest.NewRecorder()
		newRouter(rp).ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unknown deposit is a 404", func(t *testing.T) {
		rp, mock := newReportTest(t)

		mock.ExpectQuery(`SELECT id FROM deposits WHERE id = \$1`).
			WithArgs(99).
			WillReturnError(sql.ErrNoRows)

		req := httptest.NewRequest("GET", "/deposits/99/reports/monthly?year=1404&month=7", nil)
		w := httptest.NewRecorder()
		newRouter(rp).ServeHTTP(w, req)

		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestReportService_GetOrganMonthlyReport_Cache(t *testing.T) {
	t.Run("serves the cached rollup without hitting the database", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		redisClient, redisMock := redismock.NewClientMock()
		rp := NewReportService(db, NewSnapshotStore(db), redisClient)

		cached := `{"organ_id":3,"period":"1404/07"}`
		redisMock.ExpectGet("report:organ:3:1404/07").SetVal(cached)

		r := chi.NewRouter()
		r.Get("/organs/{organId}/reports/monthly", rp.GetOrganMonthlyReport)

		req := httptest.NewRequest("GET", "/organs/3/reports/monthly?year=1404&month=7", nil)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, cached, w.Body.String())
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
