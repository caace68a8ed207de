package plans

import (
	"errors"
	"fmt"
	"strings"
)

// Plan is a subscription tier controlling the monthly contract quota.
type Plan string

const (
	PlanFree     Plan = "free"
	PlanBasic    Plan = "basic"
	PlanStandard Plan = "standard"
)

// Unlimited marks a plan without a monthly cap.
const Unlimited int64 = -1

// ErrUnknownPlan indicates a plan name outside the supported tiers.
var ErrUnknownPlan = errors.New("plans: unknown plan")

var monthlyLimits = map[Plan]int64{
	PlanFree:     1,
	PlanBasic:    10,
	PlanStandard: Unlimited,
}

// ParsePlan validates a raw plan name.
func ParsePlan(rawInput string) (Plan, error) {
	plan := Plan(strings.ToLower(strings.TrimSpace(rawInput)))
	if _, ok := monthlyLimits[plan]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownPlan, rawInput)
	}
	return plan, nil
}

// Effective returns the plan used for quota decisions; unknown or missing plans count as free.
func (p Plan) Effective() Plan {
	if _, ok := monthlyLimits[p]; ok {
		return p
	}
	return PlanFree
}

// Purchasable reports whether the plan can be bought through checkout.
func (p Plan) Purchasable() bool {
	return p == PlanBasic || p == PlanStandard
}

// MonthlyLimit returns the number of contracts allowed per period, or Unlimited.
func (p Plan) MonthlyLimit() int64 {
	return monthlyLimits[p.Effective()]
}

func (p Plan) String() string {
	return string(p)
}
