package contracts

import (
	"time"

	"github.com/contrax-app/contrax/backend/internal/plans"
)

// Status is the lifecycle state of a contract.
type Status string

const (
	StatusDraft     Status = "rascunho"
	StatusSigned    Status = "assinado"
	StatusFinalized Status = "finalizado"
	StatusCancelled Status = "cancelado"
)

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusFinalized || s == StatusCancelled
}

// Action names a lifecycle operation as recorded in the activity log.
type Action string

const (
	ActionCreate   Action = "criar_contrato"
	ActionSign     Action = "assinar_contrato"
	ActionFinalize Action = "finalizar_contrato"
	ActionCancel   Action = "cancelar_contrato"
)

type transitionKey struct {
	from   Status
	action Action
}

var transitions = map[transitionKey]Status{
	{StatusDraft, ActionSign}:      StatusSigned,
	{StatusDraft, ActionCancel}:    StatusCancelled,
	{StatusSigned, ActionFinalize}: StatusFinalized,
	{StatusSigned, ActionCancel}:   StatusCancelled,
}

// NextStatus returns the target state of action from the given state.
func NextStatus(from Status, action Action) (Status, bool) {
	next, ok := transitions[transitionKey{from: from, action: action}]
	return next, ok
}

// Contract is a persisted contract. Title and body never change after creation.
type Contract struct {
	ID             string     `gorm:"column:id;primaryKey;size:64;not null"`
	OwnerID        string     `gorm:"column:owner_id;size:190;not null;index:idx_contracts_owner_created,priority:1"`
	Title          string     `gorm:"column:title;size:200;not null"`
	Body           string     `gorm:"column:body;type:text;not null"`
	Status         Status     `gorm:"column:status;size:32;not null;index"`
	PlanAtCreation plans.Plan `gorm:"column:plan_at_creation;size:32;not null"`
	CreatedAt      time.Time  `gorm:"column:created_at;not null;index:idx_contracts_owner_created,priority:2"`
	UpdatedAt      time.Time  `gorm:"column:updated_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Contract) TableName() string {
	return "contracts"
}

// Watermarked reports whether rendered output carries the free-tier watermark.
func (c Contract) Watermarked() bool {
	return c.PlanAtCreation.Effective() == plans.PlanFree
}

// Activity is an append-only audit entry for a contract change.
type Activity struct {
	ActivityID string    `gorm:"column:activity_id;primaryKey;size:64;not null"`
	UserID     string    `gorm:"column:user_id;size:190;not null;index"`
	Action     Action    `gorm:"column:action;size:32;not null"`
	ContractID string    `gorm:"column:contract_id;size:64;not null;index:idx_activities_contract_time,priority:1"`
	OccurredAt time.Time `gorm:"column:occurred_at;not null;index:idx_activities_contract_time,priority:2"`
}

// TableName provides the explicit table binding for GORM.
func (Activity) TableName() string {
	return "contract_activities"
}

// Summary aggregates contract counts for a dashboard scope.
type Summary struct {
	Total     int
	Signed    int
	Finalized int
}

// Summarize counts statuses in a single pass.
func Summarize(statuses []Status) Summary {
	summary := Summary{}
	for _, status := range statuses {
		summary.Total++
		switch status {
		case StatusSigned:
			summary.Signed++
		case StatusFinalized:
			summary.Finalized++
		}
	}
	return summary
}
