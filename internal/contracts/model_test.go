package contracts

import (
	"testing"

	"github.com/contrax-app/contrax/backend/internal/plans"
)

func TestNextStatusTable(t *testing.T) {
	statuses := []Status{StatusDraft, StatusSigned, StatusFinalized, StatusCancelled}
	actions := []Action{ActionSign, ActionFinalize, ActionCancel}
	expected := map[Status]map[Action]Status{
		StatusDraft:  {ActionSign: StatusSigned, ActionCancel: StatusCancelled},
		StatusSigned: {ActionFinalize: StatusFinalized, ActionCancel: StatusCancelled},
	}

	for _, from := range statuses {
		for _, action := range actions {
			next, ok := NextStatus(from, action)
			want, allowed := expected[from][action]
			if ok != allowed {
				t.Fatalf("NextStatus(%s, %s) allowed=%v, want %v", from, action, ok, allowed)
			}
			if ok && next != want {
				t.Fatalf("NextStatus(%s, %s) = %s, want %s", from, action, next, want)
			}
			if from.Terminal() && ok {
				t.Fatalf("terminal status %s accepted %s", from, action)
			}
		}
	}
	if _, ok := NextStatus(StatusDraft, ActionCreate); ok {
		t.Fatalf("create must not be a transition")
	}
}

func TestSummarize(t *testing.T) {
	summary := Summarize([]Status{StatusSigned, StatusFinalized, StatusDraft})
	if summary != (Summary{Total: 3, Signed: 1, Finalized: 1}) {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if Summarize(nil) != (Summary{}) {
		t.Fatalf("empty input must yield zero summary")
	}
}

func TestWatermarkedFollowsPlanAtCreation(t *testing.T) {
	cases := map[plans.Plan]bool{
		plans.PlanFree:     true,
		plans.Plan(""):     true,
		plans.PlanBasic:    false,
		plans.PlanStandard: false,
	}
	for plan, want := range cases {
		if got := (Contract{PlanAtCreation: plan}).Watermarked(); got != want {
			t.Fatalf("plan %q watermarked=%v, want %v", plan, got, want)
		}
	}
}
