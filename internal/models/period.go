package models

import "time"

// DayKey returns the daily counter period for t, "YYYY-MM-DD" in UTC.
func DayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// MonthKey returns the monthly counter period for t, "YYYY-MM" in UTC.
func MonthKey(t time.Time) string {
	return t.UTC().Format("2006-01")
}
