package database

import (
	"errors"
	"time"

	"github.com/contrax-app/contrax/backend/internal/contracts"
	"github.com/contrax-app/contrax/backend/internal/plans"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationNormalizePlanNames       = "2026-03-01_normalize_plan_names"
	migrationBackfillPlanAtCreation   = "2026-03-15_backfill_contract_plan_at_creation"
	migrationClampNegativeUsageCounts = "2026-04-02_clamp_negative_usage_counts"
)

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationNormalizePlanNames, apply: normalizePlanNames},
		{name: migrationBackfillPlanAtCreation, apply: backfillPlanAtCreation},
		{name: migrationClampNegativeUsageCounts, apply: clampNegativeUsageCounts},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		err = db.Transaction(func(tx *gorm.DB) error {
			if err := migration.apply(tx); err != nil {
				return err
			}
			appliedAt := time.Now().UTC().Unix()
			return tx.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error
		})
		if err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// Imported records may carry plan names in mixed case or padded with spaces.
func normalizePlanNames(db *gorm.DB) error {
	return db.Model(&plans.Record{}).
		Where("plan <> lower(trim(plan))").
		Update("plan", gorm.Expr("lower(trim(plan))")).Error
}

func backfillPlanAtCreation(db *gorm.DB) error {
	return db.Model(&contracts.Contract{}).
		Where("plan_at_creation = '' OR plan_at_creation IS NULL").
		Update("plan_at_creation", plans.PlanFree).Error
}

func clampNegativeUsageCounts(db *gorm.DB) error {
	return db.Model(&plans.Record{}).
		Where("monthly_usage < 0").
		Update("monthly_usage", 0).Error
}
