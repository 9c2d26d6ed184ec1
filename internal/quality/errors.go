package quality

import (
	"fmt"
	"time"
)

// StaleDataError reports a monitored table whose newest row is too old.
type StaleDataError struct {
	Table  string
	Latest time.Time
	Age    time.Duration
}

func (e *StaleDataError) Error() string {
	return fmt.Sprintf("%s data is stale: latest row at %s (%.1f hours old)",
		e.Table, e.Latest.Format(time.RFC3339), e.Age.Hours())
}

// Retryable reports false: stale input does not fix itself between attempts.
func (e *StaleDataError) Retryable() bool {
	return false
}

// NullConstraintViolation reports NULL values in a column that must always be set.
type NullConstraintViolation struct {
	Table  string
	Column string
	Count  int64
}

func (e *NullConstraintViolation) Error() string {
	return fmt.Sprintf("%s.%s should not be null: %d null values found", e.Table, e.Column, e.Count)
}

// Retryable reports false.
func (e *NullConstraintViolation) Retryable() bool {
	return false
}
