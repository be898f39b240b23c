package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/finadmin/backend/internal/jalali"
	"github.com/finadmin/backend/internal/models"
)

// AllocationService manages per-organ yearly budget/expense plans and
// compares them against figures derived from the snapshot ledger.
type AllocationService struct {
	db        *sql.DB
	reports   *ReportService
	validator *ValidationHelper
}

func NewAllocationService(db *sql.DB, reports *ReportService) *AllocationService {
	return &AllocationService{
		db:        db,
		reports:   reports,
		validator: NewValidationHelper(),
	}
}

// UpsertAllocationRequest carries the twelve budget and twelve manually
// tracked expense figures of one plan year.
type UpsertAllocationRequest struct {
	Budgets  []int64 `json:"budgets" validate:"required,len=12"`
	Expenses []int64 `json:"expenses" validate:"required,len=12"`
}

// MonthComparison joins one allocation month with the derived actuals.
type MonthComparison struct {
	Month           int    `json:"month"`
	PeriodLabel     string `json:"period"`
	Budget          int64  `json:"budget"`
	PlannedExpense  int64  `json:"planned_expense"`
	ActualIncome    int64  `json:"actual_income"`
	ActualExpense   int64  `json:"actual_expense"`
	BudgetRemainder int64  `json:"budget_remainder"`
}

// ComparisonReport is the yearly budget-vs-actual view of one organ.
type ComparisonReport struct {
	OrganID       int               `json:"organ_id"`
	Year          int               `json:"year"`
	TotalBudget   int64             `json:"total_budget"`
	TotalIncome   int64             `json:"total_income"`
	TotalExpense  int64             `json:"total_expense"`
	Months        []MonthComparison `json:"months"`
	DepositsCount int               `json:"deposits_count"`
}

// GetAllocation returns one organ's plan for one year
// @Summary Get allocation
// @Tags allocations
// @Produce json
// @Param organId path int true "Organ ID"
// @Param year path int true "Jalali year"
// @Success 200 {object} models.Allocation
// @Failure 404 {object} ErrorResponse
// @Router /organs/{organId}/allocations/{year} [get]
func (as *AllocationService) GetAllocation(w http.ResponseWriter, r *http.Request) {
	organID, year, ok := as.pathParams(w, r)
	if !ok {
		return
	}

	allocation, err := as.getAllocation(r.Context(), organID, year)
	if errors.Is(err, ErrAllocationNotFound) {
		SendErrorResponse(w, err.Error(), http.StatusNotFound, nil)
		return
	}
	if err != nil {
		log.Printf("[ALLOCATION] Failed to load allocation for organ %d year %d: %v", organID, year, err)
		SendErrorResponse(w, "Failed to load allocation", http.StatusInternalServerError, nil)
		return
	}
	SendJSON(w, allocation)
}

// UpsertAllocation creates or replaces one organ's plan for one year
// @Summary Upsert allocation
// @Tags allocations
// @Accept json
// @Produce json
// @Param organId path int true "Organ ID"
// @Param year path int true "Jalali year"
// @Param allocation body UpsertAllocationRequest true "Plan figures"
// @Success 200 {object} models.Allocation
// @Failure 400 {object} ErrorResponse
// @Router /organs/{organId}/allocations/{year} [put]
func (as *AllocationService) UpsertAllocation(w http.ResponseWriter, r *http.Request) {
	organID, year, ok := as.pathParams(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req UpsertAllocationRequest
	if err := dec.Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	if err := as.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	var budgets, expenses models.MonthlyAmounts
	copy(budgets[:], req.Budgets)
	copy(expenses[:], req.Expenses)

	now := time.Now().UTC()
	_, err := as.db.ExecContext(r.Context(), `
		INSERT INTO allocations (organ_id, year, budgets, expenses, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (organ_id, year)
		DO UPDATE SET budgets = EXCLUDED.budgets, expenses = EXCLUDED.expenses, updated_at = EXCLUDED.updated_at`,
		organID, year, budgets, expenses, now)
	if err != nil {
		log.Printf("[ALLOCATION] Failed to upsert allocation for organ %d year %d: %v", organID, year, err)
		SendErrorResponse(w, "Failed to save allocation", http.StatusInternalServerError, nil)
		return
	}

	allocation, err := as.getAllocation(r.Context(), organID, year)
	if err != nil {
		SendErrorResponse(w, "Failed to load allocation", http.StatusInternalServerError, nil)
		return
	}
	SendJSON(w, allocation)
}

// GetComparison returns budget-vs-actual for one organ and year
// @Summary Budget vs actual comparison
// @Description Joins the allocation plan with the figures derived from the snapshot ledger
// @Tags allocations
// @Produce json
// @Param organId path int true "Organ ID"
// @Param year path int true "Jalali year"
// @Success 200 {object} ComparisonReport
// @Failure 404 {object} ErrorResponse
// @Router /organs/{organId}/allocations/{year}/comparison [get]
func (as *AllocationService) GetComparison(w http.ResponseWriter, r *http.Request) {
	organID, year, ok := as.pathParams(w, r)
	if !ok {
		return
	}

	allocation, err := as.getAllocation(r.Context(), organID, year)
	if errors.Is(err, ErrAllocationNotFound) {
		SendErrorResponse(w, err.Error(), http.StatusNotFound, nil)
		return
	}
	if err != nil {
		SendErrorResponse(w, "Failed to load allocation", http.StatusInternalServerError, nil)
		return
	}

	yearly, err := as.reports.YearlyForOrgan(r.Context(), organID, year)
	if errors.Is(err, ErrOrganNotFound) {
		SendErrorResponse(w, err.Error(), http.StatusNotFound, nil)
		return
	}
	if err != nil {
		log.Printf("[ALLOCATION] Failed to derive yearly report for organ %d: %v", organID, err)
		SendErrorResponse(w, "Failed to build comparison", http.StatusInternalServerError, nil)
		return
	}

	report := &ComparisonReport{
		OrganID:     organID,
		Year:        year,
		TotalBudget: allocation.Budgets.Total(),
		Months:      make([]MonthComparison, 0, 12),
	}
	for i, monthReport := range yearly.Months {
		report.TotalIncome += monthReport.Income
		report.TotalExpense += monthReport.Expense
		if monthReport.DepositsCount > report.DepositsCount {
			report.DepositsCount = monthReport.DepositsCount
		}
		report.Months = append(report.Months, MonthComparison{
			Month:           i + 1,
			PeriodLabel:     jalali.Label(year, i+1),
			Budget:          allocation.Budgets[i],
			PlannedExpense:  allocation.Expenses[i],
			ActualIncome:    monthReport.Income,
			ActualExpense:   monthReport.Expense,
			BudgetRemainder: allocation.Budgets[i] - monthReport.Expense,
		})
	}
	SendJSON(w, report)
}

func (as *AllocationService) getAllocation(ctx context.Context, organID, year int) (*models.Allocation, error) {
	var allocation models.Allocation
	err := as.db.QueryRowContext(ctx, `
		SELECT id, organ_id, year, budgets, expenses, created_at, updated_at
		FROM allocations
		WHERE organ_id = $1 AND year = $2`, organID, year).
		Scan(&allocation.ID, &allocation.OrganID, &allocation.Year,
			&allocation.Budgets, &allocation.Expenses,
			&allocation.CreatedAt, &allocation.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAllocationNotFound
	}
	if err != nil {
		return nil, err
	}
	return &allocation, nil
}

func (as *AllocationService) pathParams(w http.ResponseWriter, r *http.Request) (organID, year int, ok bool) {
	organID, err := strconv.Atoi(chi.URLParam(r, "organId"))
	if err != nil {
		SendErrorResponse(w, "Invalid organ id", http.StatusBadRequest, nil)
		return 0, 0, false
	}

	year, err = strconv.Atoi(chi.URLParam(r, "year"))
	if err != nil || year < 1300 || year > 2050 {
		SendErrorResponse(w, "Invalid year", http.StatusBadRequest, nil)
		return 0, 0, false
	}
	return organID, year, true
}
