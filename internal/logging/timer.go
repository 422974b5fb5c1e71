package logging

import (
	"time"
)

// slowThreshold is the elapsed time above which a timer logs at warn level
// to the performance category.
const slowThreshold = 2 * time.Second

// Timer measures the duration of an operation for performance logging.
type Timer struct {
	category  Category
	operation string
	start     time.Time
}

// StartTimer begins timing an operation. Call Stop to record it.
func StartTimer(category Category, operation string) *Timer {
	return &Timer{
		category:  category,
		operation: operation,
		start:     time.Now(),
	}
}

// Stop records the elapsed time. Slow operations are additionally reported
// to the performance category.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Debug("%s completed in %v", t.operation, elapsed)
	if elapsed > slowThreshold {
		Get(CategoryPerformance).Warn("[%s] slow operation %s: %v", t.category, t.operation, elapsed)
	}
	return elapsed
}
