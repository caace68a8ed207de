package plans

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/contrax-app/contrax/backend/internal/apperr"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	opLedgerNew      = "plans.ledger.new"
	opGet            = "plans.get"
	opUpsertPlan     = "plans.upsert_plan"
	opMergeProfile   = "plans.merge_profile"
	opRefreshPeriod  = "plans.refresh_period"
	opIncrementUsage = "plans.increment_usage"

	columnUserID       = "user_id"
	queryUserID        = columnUserID + " = ?"
	maxUserIDLength    = 190
	reasonUserNotFound = "user_not_found"
	reasonQueryFailed  = "query_failed"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	noOpLogger         = zap.NewNop()
)

// LedgerConfig describes the dependencies of the plan ledger.
type LedgerConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Location *time.Location
	Logger   *zap.Logger
}

// Ledger owns the per-user plan records.
type Ledger struct {
	db     *gorm.DB
	clock  func() time.Time
	policy Policy
	logger *zap.Logger
}

// NewLedger constructs the ledger.
func NewLedger(cfg LedgerConfig) (*Ledger, error) {
	if cfg.Database == nil {
		return nil, apperr.Internal(opLedgerNew, "missing_database", errMissingDatabase)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	location := cfg.Location
	if location == nil {
		location = time.UTC
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Ledger{
		db:     cfg.Database,
		clock:  clock,
		policy: Policy{Location: location},
		logger: logger,
	}, nil
}

// Get returns the record for userID.
func (l *Ledger) Get(ctx context.Context, userID string) (Record, error) {
	id, err := normalizeUserID(opGet, userID)
	if err != nil {
		return Record{}, err
	}
	var record Record
	err = l.db.WithContext(ctx).Where(queryUserID, id).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Record{}, userNotFound(opGet)
	}
	if err != nil {
		l.logError(opGet, reasonQueryFailed, err, zap.String("user_id", id))
		return Record{}, apperr.Internal(opGet, reasonQueryFailed, err)
	}
	return record, nil
}

// UpsertOptions tunes UpsertPlan. The zero value resets usage and activates the subscription.
type UpsertOptions struct {
	KeepUsage        bool
	KeepSubscription bool
}

// UpsertPlan activates plan for userID: usage restarts at zero and the subscription is marked active.
// Profile fields are left untouched, and repeated calls converge on the same state.
func (l *Ledger) UpsertPlan(ctx context.Context, userID string, plan Plan) (Record, error) {
	return l.UpsertPlanWithOptions(ctx, userID, plan, UpsertOptions{})
}

// UpsertPlanWithOptions sets plan for userID. KeepUsage leaves the counter and period untouched on an
// existing record; KeepSubscription leaves the subscription flag as stored.
func (l *Ledger) UpsertPlanWithOptions(ctx context.Context, userID string, plan Plan, options UpsertOptions) (Record, error) {
	id, err := normalizeUserID(opUpsertPlan, userID)
	if err != nil {
		return Record{}, err
	}
	parsed, err := ParsePlan(plan.String())
	if err != nil {
		return Record{}, apperr.New(apperr.KindValidation, opUpsertPlan, "invalid_plan", "Plano inválido", err)
	}

	now := l.clock().UTC()
	record := Record{
		UserID:             id,
		Plan:               parsed,
		MonthlyUsage:       0,
		LastReset:          &now,
		SubscriptionActive: !options.KeepSubscription,
	}
	assignments := map[string]any{
		"plan":       parsed,
		"updated_at": now,
	}
	if !options.KeepUsage {
		assignments["monthly_usage"] = 0
		assignments["last_reset"] = now
	}
	if !options.KeepSubscription {
		assignments["subscription_active"] = true
	}
	err = l.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: columnUserID}},
		DoUpdates: clause.Assignments(assignments),
	}).Create(&record).Error
	if err != nil {
		l.logError(opUpsertPlan, "upsert_failed", err, zap.String("user_id", id), zap.String("plan", parsed.String()))
		return Record{}, apperr.Internal(opUpsertPlan, "upsert_failed", err)
	}
	return l.Get(ctx, id)
}

// MergeProfile overlays fields onto the stored profile, creating the record when absent.
// Ledger-owned keys are dropped.
func (l *Ledger) MergeProfile(ctx context.Context, userID string, fields map[string]any) (Record, error) {
	id, err := normalizeUserID(opMergeProfile, userID)
	if err != nil {
		return Record{}, err
	}

	accepted := make(map[string]any, len(fields))
	for key, value := range fields {
		if _, reserved := reservedProfileKeys[key]; reserved {
			l.logger.Debug("ignoring reserved profile key", zap.String("user_id", id), zap.String("key", key))
			continue
		}
		accepted[key] = value
	}

	var merged Record
	txErr := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing Record
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where(queryUserID, id).Take(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			merged = Record{UserID: id, Profile: datatypes.JSONMap(accepted)}
			return tx.Create(&merged).Error
		}
		if err != nil {
			return err
		}
		profile := make(datatypes.JSONMap, len(existing.Profile)+len(accepted))
		for key, value := range existing.Profile {
			profile[key] = value
		}
		for key, value := range accepted {
			profile[key] = value
		}
		if err := tx.Model(&Record{}).Where(queryUserID, id).Update("profile", profile).Error; err != nil {
			return err
		}
		existing.Profile = profile
		merged = existing
		return nil
	})
	if txErr != nil {
		l.logError(opMergeProfile, "merge_failed", txErr, zap.String("user_id", id))
		return Record{}, apperr.Internal(opMergeProfile, "merge_failed", txErr)
	}
	return merged, nil
}

// RefreshPeriod persists the calendar-month reset, when due, as its own write.
// The reset sticks even if the caller later rejects the request.
func (l *Ledger) RefreshPeriod(ctx context.Context, userID string) (Record, error) {
	id, err := normalizeUserID(opRefreshPeriod, userID)
	if err != nil {
		return Record{}, err
	}

	var refreshed Record
	txErr := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var record Record
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where(queryUserID, id).Take(&record).Error; err != nil {
			return err
		}
		decision := l.policy.Evaluate(record, l.clock())
		refreshed = decision.Record
		if !decision.Reset {
			return nil
		}
		l.logger.Info("monthly usage reset",
			zap.String("user_id", id),
			zap.Int64("previous_usage", record.MonthlyUsage))
		return tx.Model(&Record{}).Where(queryUserID, id).Updates(map[string]any{
			"monthly_usage": 0,
			"last_reset":    *decision.Record.LastReset,
		}).Error
	})
	if errors.Is(txErr, gorm.ErrRecordNotFound) {
		return Record{}, userNotFound(opRefreshPeriod)
	}
	if txErr != nil {
		l.logError(opRefreshPeriod, "reset_failed", txErr, zap.String("user_id", id))
		return Record{}, apperr.Internal(opRefreshPeriod, "reset_failed", txErr)
	}
	return refreshed, nil
}

// IncrementUsage consumes one unit of quota as a single check-and-increment.
// A record without a period start gets one stamped in the same write.
// Pass the caller's transaction as tx to commit the increment with related writes; nil uses the ledger handle.
func (l *Ledger) IncrementUsage(ctx context.Context, tx *gorm.DB, userID string) (Record, error) {
	id, err := normalizeUserID(opIncrementUsage, userID)
	if err != nil {
		return Record{}, err
	}
	db := tx
	if db == nil {
		db = l.db
	}
	db = db.WithContext(ctx)

	var record Record
	err = db.Clauses(clause.Locking{Strength: "UPDATE"}).Where(queryUserID, id).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Record{}, userNotFound(opIncrementUsage)
	}
	if err != nil {
		l.logError(opIncrementUsage, reasonQueryFailed, err, zap.String("user_id", id))
		return Record{}, apperr.Internal(opIncrementUsage, reasonQueryFailed, err)
	}

	plan := record.Plan.Effective()
	if !Allowed(plan, record.MonthlyUsage) {
		return Record{}, quotaExceeded(plan)
	}

	query := db.Model(&Record{}).Where(queryUserID, id)
	if limit := plan.MonthlyLimit(); limit != Unlimited {
		query = query.Where("monthly_usage < ?", limit)
	}
	updates := map[string]any{"monthly_usage": gorm.Expr("monthly_usage + ?", 1)}
	if record.LastReset == nil {
		// First counted use opens the period so later month changes can reset it.
		now := l.clock().UTC()
		updates["last_reset"] = now
		record.LastReset = &now
	}
	result := query.Updates(updates)
	if result.Error != nil {
		l.logError(opIncrementUsage, "increment_failed", result.Error, zap.String("user_id", id))
		return Record{}, apperr.Internal(opIncrementUsage, "increment_failed", result.Error)
	}
	if result.RowsAffected == 0 {
		return Record{}, quotaExceeded(plan)
	}
	record.MonthlyUsage++
	return record, nil
}

func quotaExceeded(plan Plan) error {
	return apperr.QuotaExceeded(opIncrementUsage, fmt.Sprintf("limite mensal do plano %s atingido", plan))
}

func userNotFound(operation string) error {
	return apperr.NotFound(operation, reasonUserNotFound, "usuário não encontrado")
}

func normalizeUserID(operation, rawInput string) (string, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", apperr.Validation(operation, "missing_user_id", "userId é obrigatório")
	}
	if len(trimmed) > maxUserIDLength {
		return "", apperr.Validation(operation, "invalid_user_id", "userId inválido")
	}
	return trimmed, nil
}

func (l *Ledger) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	l.logger.Error("plan ledger error", attrs...)
}
