package database

import (
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/careercopilot/backend/internal/documents"
	"github.com/MarcoPoloResearchLab/careercopilot/backend/internal/users"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationBackfillVersionGroups = "2024-06-01_backfill_version_groups"
	migrationNormalizeUserEmails   = "2024-06-08_normalize_user_emails"
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
		{name: migrationBackfillVersionGroups, apply: backfillVersionGroups},
		{name: migrationNormalizeUserEmails, apply: normalizeUserEmails},
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
		if err := db.Transaction(migration.apply); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// backfillVersionGroups gives every legacy document its own version group and marks it current.
func backfillVersionGroups(tx *gorm.DB) error {
	var legacy []documents.Document
	if err := tx.Where("version_group_id IS NULL OR version_group_id = ''").Find(&legacy).Error; err != nil {
		return err
	}
	for _, document := range legacy {
		groupID, err := uuid.NewV7()
		if err != nil {
			return err
		}
		if err := tx.Model(&documents.Document{}).
			Where("id = ?", document.ID).
			Updates(map[string]any{
				"version_group_id":   groupID.String(),
				"is_current_version": document.DeletedAt == nil,
			}).Error; err != nil {
			return err
		}
	}
	return nil
}

func normalizeUserEmails(tx *gorm.DB) error {
	return tx.Model(&users.User{}).
		Where("email <> LOWER(TRIM(email))").
		Update("email", gorm.Expr("LOWER(TRIM(email))")).Error
}
