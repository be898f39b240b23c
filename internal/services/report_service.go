package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"

	"github.com/finadmin/backend/internal/jalali"
)

const reportCacheTTL = 10 * time.Minute

// ReportService derives income and expense figures from the snapshot
// ledger. There is no transaction ledger behind the figures: a single large
// deposit and withdrawal between two observations is indistinguishable from
// many small ones, so observation frequency bounds the resolution. Periods
// with sparse coverage are reported as-is; snapshot_count is the caller's
// coverage diagnostic.
type ReportService struct {
	db        *sql.DB
	store     *SnapshotStore
	redis     *redis.Client
	validator *ValidationHelper
}

func NewReportService(db *sql.DB, store *SnapshotStore, redisClient *redis.Client) *ReportService {
	return &ReportService{
		db:        db,
		store:     store,
		redis:     redisClient,
		validator: NewValidationHelper(),
	}
}

// PeriodResult is one deposit's derived figures for one Jalali month.
// StartBalance and EndBalance are null when the period holds no snapshots;
// that is a valid empty result, not an error.
type PeriodResult struct {
	PeriodLabel   string `json:"period"`
	StartBalance  *int64 `json:"start_balance"`
	EndBalance    *int64 `json:"end_balance"`
	Income        int64  `json:"income"`
	Expense       int64  `json:"expense"`
	NetChange     int64  `json:"net_change"`
	SnapshotCount int    `json:"snapshot_count"`
}

// DepositReport pairs a period result with the deposit it belongs to.
type DepositReport struct {
	DepositID int    `json:"deposit_id"`
	AccountNo string `json:"account_no"`
	PeriodResult
}

// OrganReport is the rollup across one organ's deposits. DepositsCount is
// the number of deposits that derived successfully; a smaller count than
// the organ's deposit total signals a partial result.
type OrganReport struct {
	OrganID       int             `json:"organ_id"`
	PeriodLabel   string          `json:"period"`
	Income        int64           `json:"income"`
	Expense       int64           `json:"expense"`
	NetChange     int64           `json:"net_change"`
	DepositsCount int             `json:"deposits_count"`
	Deposits      []DepositReport `json:"deposits"`
}

// AllOrgansReport is the rollup across every organ.
type AllOrgansReport struct {
	PeriodLabel string        `json:"period"`
	Income      int64         `json:"income"`
	Expense     int64         `json:"expense"`
	NetChange   int64         `json:"net_change"`
	Organs      []OrganReport `json:"organs"`
}

// YearlyReport is twelve sequential month derivations plus their totals.
type YearlyReport struct {
	Year      int            `json:"year"`
	Income    int64          `json:"income"`
	Expense   int64          `json:"expense"`
	NetChange int64          `json:"net_change"`
	Months    []PeriodResult `json:"months"`
}

// OrganYearlyReport is the organ-level yearly rollup.
type OrganYearlyReport struct {
	OrganID   int           `json:"organ_id"`
	Year      int           `json:"year"`
	Income    int64         `json:"income"`
	Expense   int64         `json:"expense"`
	NetChange int64         `json:"net_change"`
	Months    []OrganReport `json:"months"`
}

// DeriveForPeriod computes one deposit's figures for one Jalali month.
func (rp *ReportService) DeriveForPeriod(ctx context.Context, depositID, year, month int) (*PeriodResult, error) {
	if err := rp.depositExists(ctx, depositID); err != nil {
		return nil, err
	}
	return rp.deriveForDeposit(ctx, depositID, year, month)
}

// deriveForDeposit walks the period's successful snapshots pairwise: each
// positive delta accrues to income, each negative delta's magnitude to
// expense. By construction net change equals end minus start and income
// minus expense.
func (rp *ReportService) deriveForDeposit(ctx context.Context, depositID, year, month int) (*PeriodResult, error) {
	period, err := jalali.Resolve(year, month)
	if err != nil {
		return nil, err
	}

	snaps, err := rp.store.ListSuccessfulInRange(ctx, depositID, period.Start, period.End.AddDate(0, 0, 1))
	if err != nil {
		return nil, err
	}

	result := &PeriodResult{PeriodLabel: jalali.Label(year, month)}
	if len(snaps) == 0 {
		return result, nil
	}

	var prev int64
	for i := range snaps {
		balance, _, ok := snaps[i].Observation()
		if !ok {
			continue
		}

		if result.SnapshotCount == 0 {
			start := balance
			result.StartBalance = &start
		} else {
			delta := balance - prev
			if delta > 0 {
				result.Income += delta
			} else if delta < 0 {
				result.Expense += -delta
			}
		}
		prev = balance
		result.SnapshotCount++
	}

	if result.SnapshotCount > 0 {
		end := prev
		result.EndBalance = &end
		result.NetChange = end - *result.StartBalance
	}
	return result, nil
}

// ForOrgan derives every deposit of the organ and sums the results. One
// deposit's failure is logged and excluded rather than aborting the batch;
// partial results beat total failure for multi-account reports.
func (rp *ReportService) ForOrgan(ctx context.Context, organID, year, month int) (*OrganReport, error) {
	if err := rp.organExists(ctx, organID); err != nil {
		return nil, err
	}

	deposits, err := rp.listOrganDeposits(ctx, organID)
	if err != nil {
		return nil, err
	}

	report := &OrganReport{
		OrganID:     organID,
		PeriodLabel: jalali.Label(year, month),
		Deposits:    []DepositReport{},
	}

	for _, dep := range deposits {
		result, err := rp.deriveForDeposit(ctx, dep.id, year, month)
		if err != nil {
			log.Printf("[REPORT] Skipping deposit %d in organ %d rollup: %v", dep.id, organID, err)
			continue
		}

		report.Income += result.Income
		report.Expense += result.Expense
		report.NetChange += result.NetChange
		report.DepositsCount++
		report.Deposits = append(report.Deposits, DepositReport{
			DepositID:    dep.id,
			AccountNo:    dep.accountNo,
			PeriodResult: *result,
		})
	}
	return report, nil
}

// ForAllOrgans rolls ForOrgan up across every organ.
func (rp *ReportService) ForAllOrgans(ctx context.Context, year, month int) (*AllOrgansReport, error) {
	organIDs, err := rp.listOrganIDs(ctx)
	if err != nil {
		return nil, err
	}

	report := &AllOrgansReport{
		PeriodLabel: jalali.Label(year, month),
		Organs:      []OrganReport{},
	}
	for _, organID := range organIDs {
		organReport, err := rp.ForOrgan(ctx, organID, year, month)
		if err != nil {
			return nil, err
		}
		report.Income += organReport.Income
		report.Expense += organReport.Expense
		report.NetChange += organReport.NetChange
		report.Organs = append(report.Organs, *organReport)
	}
	return report, nil
}

// YearlyForDeposit derives months 1-12 of a Jalali year for one deposit.
func (rp *ReportService) YearlyForDeposit(ctx context.Context, depositID, year int) (*YearlyReport, error) {
	if err := rp.depositExists(ctx, depositID); err != nil {
		return nil, err
	}

	report := &YearlyReport{Year: year, Months: make([]PeriodResult, 0, 12)}
	for month := 1; month <= 12; month++ {
		result, err := rp.deriveForDeposit(ctx, depositID, year, month)
		if err != nil {
			return nil, err
		}
		report.Income += result.Income
		report.Expense += result.Expense
		report.NetChange += result.NetChange
		report.Months = append(report.Months, *result)
	}
	return report, nil
}

// YearlyForOrgan derives months 1-12 of a Jalali year across one organ.
func (rp *ReportService) YearlyForOrgan(ctx context.Context, organID, year int) (*OrganYearlyReport, error) {
	if err := rp.organExists(ctx, organID); err != nil {
		return nil, err
	}

	report := &OrganYearlyReport{OrganID: organID, Year: year, Months: make([]OrganReport, 0, 12)}
	for month := 1; month <= 12; month++ {
		monthReport, err := rp.ForOrgan(ctx, organID, year, month)
		if err != nil {
			return nil, err
		}
		report.Income += monthReport.Income
		report.Expense += monthReport.Expense
		report.NetChange += monthReport.NetChange
		report.Months = append(report.Months, *monthReport)
	}
	return report, nil
}

type periodQuery struct {
	Year  int `validate:"required,gte=1300,lte=2050"`
	Month int `validate:"required,gte=1,lte=12"`
}

type yearQuery struct {
	Year int `validate:"required,gte=1300,lte=2050"`
}

// GetDepositMonthlyReport returns one deposit's monthly derivation
// @Summary Monthly deposit report
// @Description Derive income/expense figures for one deposit and Jalali month
// @Tags reports
// @Produce json
// @Param depositId path int true "Deposit ID"
// @Param year query int true "Jalali year"
// @Param month query int true "Jalali month (1-12)"
// @Success 200 {object} PeriodResult
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /deposits/{depositId}/reports/monthly [get]
func (rp *ReportService) GetDepositMonthlyReport(w http.ResponseWriter, r *http.Request) {
	depositID, err := strconv.Atoi(chi.URLParam(r, "depositId"))
	if err != nil {
		SendErrorResponse(w, "Invalid deposit id", http.StatusBadRequest, nil)
		return
	}

	query, err := rp.parsePeriodQuery(r)
	if err != nil {
		SendErrorResponse(w, "Invalid period", http.StatusBadRequest, err)
		return
	}

	result, err := rp.DeriveForPeriod(r.Context(), depositID, query.Year, query.Month)
	if err != nil {
		rp.sendReportError(w, err)
		return
	}
	SendJSON(w, result)
}

// GetDepositYearlyReport returns one deposit's yearly derivation
// @Summary Yearly deposit report
// @Tags reports
// @Produce json
// @Param depositId path int true "Deposit ID"
// @Param year query int true "Jalali year"
// @Success 200 {object} YearlyReport
// @Failure 404 {object} ErrorResponse
// @Router /deposits/{depositId}/reports/yearly [get]
func (rp *ReportService) GetDepositYearlyReport(w http.ResponseWriter, r *http.Request) {
	depositID, err := strconv.Atoi(chi.URLParam(r, "depositId"))
	if err != nil {
		SendErrorResponse(w, "Invalid deposit id", http.StatusBadRequest, nil)
		return
	}

	year, err := rp.parseYearQuery(r)
	if err != nil {
		SendErrorResponse(w, "Invalid year", http.StatusBadRequest, err)
		return
	}

	report, err := rp.YearlyForDeposit(r.Context(), depositID, year)
	if err != nil {
		rp.sendReportError(w, err)
		return
	}
	SendJSON(w, report)
}

// GetOrganMonthlyReport returns one organ's monthly rollup
// @Summary Monthly organ report
// @Tags reports
// @Produce json
// @Param organId path int true "Organ ID"
// @Param year query int true "Jalali year"
// @Param month query int true "Jalali month (1-12)"
// @Success 200 {object} OrganReport
// @Failure 404 {object} ErrorResponse
// @Router /organs/{organId}/reports/monthly [get]
func (rp *ReportService) GetOrganMonthlyReport(w http.ResponseWriter, r *http.Request) {
	organID, err := strconv.Atoi(chi.URLParam(r, "organId"))
	if err != nil {
		SendErrorResponse(w, "Invalid organ id", http.StatusBadRequest, nil)
		return
	}

	query, err := rp.parsePeriodQuery(r)
	if err != nil {
		SendErrorResponse(w, "Invalid period", http.StatusBadRequest, err)
		return
	}

	cacheKey := fmt.Sprintf("report:organ:%d:%s", organID, jalali.Label(query.Year, query.Month))
	if cached := rp.cachedReport(r.Context(), cacheKey); cached != nil {
		w.Header().Set("Content-Type", "application/json")
		w.Write(cached)
		return
	}

	report, err := rp.ForOrgan(r.Context(), organID, query.Year, query.Month)
	if err != nil {
		rp.sendReportError(w, err)
		return
	}

	rp.cacheReport(r.Context(), cacheKey, report)
	SendJSON(w, report)
}

// GetOrganYearlyReport returns one organ's yearly rollup
// @Summary Yearly organ report
// @Tags reports
// @Produce json
// @Param organId path int true "Organ ID"
// @Param year query int true "Jalali year"
// @Success 200 {object} OrganYearlyReport
// @Failure 404 {object} ErrorResponse
// @Router /organs/{organId}/reports/yearly [get]
func (rp *ReportService) GetOrganYearlyReport(w http.ResponseWriter, r *http.Request) {
	organID, err := strconv.Atoi(chi.URLParam(r, "organId"))
	if err != nil {
		SendErrorResponse(w, "Invalid organ id", http.StatusBadRequest, nil)
		return
	}

	year, err := rp.parseYearQuery(r)
	if err != nil {
		SendErrorResponse(w, "Invalid year", http.StatusBadRequest, err)
		return
	}

	report, err := rp.YearlyForOrgan(r.Context(), organID, year)
	if err != nil {
		rp.sendReportError(w, err)
		return
	}
	SendJSON(w, report)
}

// GetAllOrgansMonthlyReport returns the monthly rollup across all organs
// @Summary Monthly report across all organs
// @Tags reports
// @Produce json
// @Param year query int true "Jalali year"
// @Param month query int true "Jalali month (1-12)"
// @Success 200 {object} AllOrgansReport
// @Router /reports/monthly [get]
func (rp *ReportService) GetAllOrgansMonthlyReport(w http.ResponseWriter, r *http.Request) {
	query, err := rp.parsePeriodQuery(r)
	if err != nil {
		SendErrorResponse(w, "Invalid period", http.StatusBadRequest, err)
		return
	}

	report, err := rp.ForAllOrgans(r.Context(), query.Year, query.Month)
	if err != nil {
		rp.sendReportError(w, err)
		return
	}
	SendJSON(w, report)
}

func (rp *ReportService) parsePeriodQuery(r *http.Request) (*periodQuery, error) {
	year, _ := strconv.Atoi(r.URL.Query().Get("year"))
	month, _ := strconv.Atoi(r.URL.Query().Get("month"))

	query := &periodQuery{Year: year, Month: month}
	if err := rp.validator.ValidateStruct(query); err != nil {
		return nil, err
	}
	return query, nil
}

func (rp *ReportService) parseYearQuery(r *http.Request) (int, error) {
	year, _ := strconv.Atoi(r.URL.Query().Get("year"))

	query := &yearQuery{Year: year}
	if err := rp.validator.ValidateStruct(query); err != nil {
		return 0, err
	}
	return query.Year, nil
}

func (rp *ReportService) sendReportError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrDepositNotFound), errors.Is(err, ErrOrganNotFound):
		SendErrorResponse(w, err.Error(), http.StatusNotFound, nil)
	case errors.Is(err, jalali.ErrCalendarConversion):
		SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
	default:
		log.Printf("[REPORT] Derivation failed: %v", err)
		SendErrorResponse(w, "Failed to build report", http.StatusInternalServerError, nil)
	}
}

func (rp *ReportService) cachedReport(ctx context.Context, key string) []byte {
	if rp.redis == nil {
		return nil
	}
	data, err := rp.redis.Get(ctx, key).Bytes()
	if err != nil {
		return nil
	}
	return data
}

func (rp *ReportService) cacheReport(ctx context.Context, key string, report any) {
	if rp.redis == nil {
		return
	}
	data, err := json.Marshal(report)
	if err != nil {
		return
	}
	if err := rp.redis.Set(ctx, key, data, reportCacheTTL).Err(); err != nil {
		log.Printf("[REPORT] Failed to cache %s: %v", key, err)
	}
}

type organDeposit struct {
	id        int
	accountNo string
}

func (rp *ReportService) depositExists(ctx context.Context, depositID int) error {
	var id int
	err := rp.db.QueryRowContext(ctx, `SELECT id FROM deposits WHERE id = $1`, depositID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrDepositNotFound
	}
	return err
}

func (rp *ReportService) organExists(ctx context.Context, organID int) error {
	var id int
	err := rp.db.QueryRowContext(ctx, `SELECT id FROM organs WHERE id = $1`, organID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrOrganNotFound
	}
	return err
}

func (rp *ReportService) listOrganDeposits(ctx context.Context, organID int) ([]organDeposit, error) {
	rows, err := rp.db.QueryContext(ctx, `SELECT id, account_no FROM deposits WHERE organ_id = $1 ORDER BY id`, organID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var deposits []organDeposit
	for rows.Next() {
		var dep organDeposit
		if err := rows.Scan(&dep.id, &dep.accountNo); err != nil {
			return nil, err
		}
		deposits = append(deposits, dep)
	}
	return deposits, rows.Err()
}

func (rp *ReportService) listOrganIDs(ctx context.Context) ([]int, error) {
	rows, err := rp.db.QueryContext(ctx, `SELECT id FROM organs ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
