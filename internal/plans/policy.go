package plans

import "time"

// Policy decides period resets and quota admission. It performs no I/O.
type Policy struct {
	Location *time.Location
}

// Decision is the outcome of evaluating a record at a point in time.
type Decision struct {
	Record  Record
	Reset   bool
	Allowed bool
	Limit   int64
}

// Allowed reports whether usage is below the plan limit.
func Allowed(plan Plan, usage int64) bool {
	limit := plan.MonthlyLimit()
	if limit == Unlimited {
		return true
	}
	return usage < limit
}

// Evaluate applies the calendar-month reset and then checks the quota.
// Only the stored reset month matters, not how many months elapsed since.
func (p Policy) Evaluate(record Record, now time.Time) Decision {
	decision := Decision{Record: record}
	if p.periodChanged(record.LastReset, now) {
		resetAt := now.UTC()
		decision.Record.MonthlyUsage = 0
		decision.Record.LastReset = &resetAt
		decision.Reset = true
	}
	decision.Limit = decision.Record.Plan.MonthlyLimit()
	decision.Allowed = Allowed(decision.Record.Plan, decision.Record.MonthlyUsage)
	return decision
}

func (p Policy) periodChanged(lastReset *time.Time, now time.Time) bool {
	if lastReset == nil || lastReset.IsZero() {
		return false
	}
	location := p.Location
	if location == nil {
		location = time.UTC
	}
	storedYear, storedMonth, _ := lastReset.In(location).Date()
	currentYear, currentMonth, _ := now.In(location).Date()
	return storedYear != currentYear || storedMonth != currentMonth
}
