package plans

import (
	"time"

	"gorm.io/datatypes"
)

// Profile keys owned by the ledger. Client profile merges never write them.
const (
	ProfileKeyUserID             = "userId"
	ProfileKeyPlan               = "plano"
	ProfileKeyMonthlyUsage       = "contratosMes"
	ProfileKeyLastReset          = "ultimoReset"
	ProfileKeySubscriptionActive = "assinaturaAtiva"
)

var reservedProfileKeys = map[string]struct{}{
	ProfileKeyUserID:             {},
	ProfileKeyPlan:               {},
	ProfileKeyMonthlyUsage:       {},
	ProfileKeyLastReset:          {},
	ProfileKeySubscriptionActive: {},
}

// Record is the per-user plan entry. Free-form profile data lives beside the plan fields.
type Record struct {
	UserID             string            `gorm:"column:user_id;primaryKey;size:190;not null"`
	Plan               Plan              `gorm:"column:plan;size:32;not null;default:''"`
	MonthlyUsage       int64             `gorm:"column:monthly_usage;not null;default:0"`
	LastReset          *time.Time        `gorm:"column:last_reset"`
	SubscriptionActive bool              `gorm:"column:subscription_active;not null;default:false"`
	Profile            datatypes.JSONMap `gorm:"column:profile"`
	CreatedAt          time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName binds the record to its table.
func (Record) TableName() string {
	return "user_plans"
}

// ProfileView flattens the record into the shape served to clients.
func (r Record) ProfileView() map[string]any {
	view := make(map[string]any, len(r.Profile)+5)
	for key, value := range r.Profile {
		view[key] = value
	}
	view[ProfileKeyUserID] = r.UserID
	view[ProfileKeyPlan] = r.Plan.Effective().String()
	view[ProfileKeyMonthlyUsage] = r.MonthlyUsage
	view[ProfileKeySubscriptionActive] = r.SubscriptionActive
	if r.LastReset != nil {
		view[ProfileKeyLastReset] = r.LastReset.UTC()
	} else {
		view[ProfileKeyLastReset] = nil
	}
	return view
}
