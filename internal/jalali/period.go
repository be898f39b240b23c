// Package jalali resolves Jalali (Persian solar) year/month designators
// into concrete Gregorian date windows. Period boundaries in this domain
// are always Jalali; everything stored and compared is Gregorian.
package jalali

import (
	"errors"
	"fmt"
	"time"

	jalaali "github.com/jalaali/go-jalaali"
)

// ErrCalendarConversion is returned when a Jalali date cannot be converted
// to a Gregorian one, including out-of-range month input.
var ErrCalendarConversion = errors.New("calendar conversion failed")

// Period is an inclusive Gregorian date window covering one Jalali month.
type Period struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Contains reports whether t falls inside [Start, End].
func (p Period) Contains(t time.Time) bool {
	return !t.Before(p.Start) && !t.After(p.End)
}

// Days returns the number of calendar days in the period.
func (p Period) Days() int {
	return int(p.End.Sub(p.Start).Hours()/24) + 1
}

// Resolve converts a Jalali year/month pair into its Gregorian window.
// Months 1-6 span 31 days, 7-11 span 30, and month 12 spans 29 or 30
// depending on whether the year is a Jalali leap year; the variable length
// falls out of converting the first day of the following month.
func Resolve(year, month int) (Period, error) {
	if month < 1 || month > 12 {
		return Period{}, fmt.Errorf("%w: month %d out of range", ErrCalendarConversion, month)
	}

	start, err := toGregorian(year, month, 1)
	if err != nil {
		return Period{}, err
	}

	nextYear, nextMonth := year, month+1
	if month == 12 {
		nextYear, nextMonth = year+1, 1
	}
	nextStart, err := toGregorian(nextYear, nextMonth, 1)
	if err != nil {
		return Period{}, err
	}

	return Period{Start: start, End: nextStart.AddDate(0, 0, -1)}, nil
}

// MonthLength returns the number of days in the given Jalali month.
func MonthLength(year, month int) (int, error) {
	p, err := Resolve(year, month)
	if err != nil {
		return 0, err
	}
	return p.Days(), nil
}

// Label formats a Jalali year/month pair the way reports present periods.
func Label(year, month int) string {
	return fmt.Sprintf("%04d/%02d", year, month)
}

func toGregorian(year, month, day int) (time.Time, error) {
	gy, gm, gd, err := jalaali.ToGregorian(year, jalaali.Month(month), day)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %04d/%02d/%02d: %v", ErrCalendarConversion, year, month, day, err)
	}
	return time.Date(gy, gm, gd, 0, 0, 0, 0, time.UTC), nil
}
