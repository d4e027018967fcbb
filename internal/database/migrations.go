package database

import (
	"time"

	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// The migration models are frozen copies of the schema at the time each
// migration was written. They must not reference internal/models, which
// keeps evolving.

type migrationBase struct {
	ID        uuid.UUID `gorm:"type:uuid;primary_key"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// New builds the migration runner. The bookkeeping table is named
// schema_migrations so the introspector's system-table filter hides it.
func New(db *gorm.DB) *gormigrate.Gormigrate {
	options := gormigrate.Options{
		TableName:      "schema_migrations",
		IDColumnName:   "id",
		IDColumnSize:   255,
		UseTransaction: false,
	}
	return gormigrate.New(db, &options, []*gormigrate.Migration{
		{
			ID: "20250114-0000",
			Migrate: func(tx *gorm.DB) error {
				type Company struct {
					migrationBase
					Name    string `gorm:"index"`
					OwnerID uuid.UUID
				}
				type Profile struct {
					UserID           string `gorm:"primary_key"`
					IsAdmin          bool
					CurrentCompanyID *uuid.UUID
				}
				type Device struct {
					migrationBase
					CompanyID uuid.UUID `gorm:"index"`
					Name      string    `gorm:"index"`
					Type      string
					RawValue  *float64
				}
				if err := tx.AutoMigrate(&Company{}); err != nil {
					return err
				}
				if err := tx.AutoMigrate(&Profile{}); err != nil {
					return err
				}
				return tx.Table("iot_devices").AutoMigrate(&Device{})
			},
		},
		{
			ID: "20250302-0000",
			Migrate: func(tx *gorm.DB) error {
				// boolean sensors (door, motion, water_leak) report an
				// on/off state alongside the raw value
				type Device struct {
					Status *bool
				}
				return tx.Table("iot_devices").AutoMigrate(&Device{})
			},
		},
	})
}

// Migrate applies all pending migrations.
func Migrate(db *gorm.DB) error {
	return New(db).Migrate()
}
