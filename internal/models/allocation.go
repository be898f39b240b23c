package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// MonthlyAmounts holds one figure per Jalali month, index 0 = Farvardin.
type MonthlyAmounts [12]int64

// Total returns the sum of the twelve monthly figures.
func (m MonthlyAmounts) Total() int64 {
	var total int64
	for _, v := range m {
		total += v
	}
	return total
}

// Value implements driver.Valuer so the figures persist as JSONB.
func (m MonthlyAmounts) Value() (driver.Value, error) {
	return json.Marshal(m)
}

// Scan implements sql.Scanner for JSONB columns.
func (m *MonthlyAmounts) Scan(value any) error {
	if value == nil {
		*m = MonthlyAmounts{}
		return nil
	}

	b, ok := value.([]byte)
	if !ok {
		return errors.New("type assertion to []byte failed")
	}

	return json.Unmarshal(b, m)
}

// Allocation is a per-organ, per-Jalali-year plan: twelve month-indexed
// budget figures plus twelve separately tracked, manually entered expense
// figures. Allocations are independent of the snapshot ledger and are only
// joined against derived figures for budget-vs-actual comparison.
type Allocation struct {
	ID        int            `json:"id" db:"id"`
	OrganID   int            `json:"organ_id" db:"organ_id"`
	Year      int            `json:"year" db:"year"`
	Budgets   MonthlyAmounts `json:"budgets" db:"budgets"`
	Expenses  MonthlyAmounts `json:"expenses" db:"expenses"`
	CreatedAt time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt time.Time      `json:"updated_at" db:"updated_at"`
}
