package database

import (
	"fmt"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DSN builds the postgres connection string used both by gorm and by the
// lib/pq change-feed listener.
func DSN(host, user, password, dbname, port, sslmode string) string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s",
		host, user, password, dbname, port, sslmode)
}

// NewDatabase connects to postgres with exponential backoff and runs the
// schema migrations.
func NewDatabase(log *zap.SugaredLogger, dsn string) (*gorm.DB, error) {
	var db *gorm.DB
	connectDb := func() error {
		var err error
		db, err = gorm.Open(postgres.Open(dsn), &gorm.Config{})
		if err != nil {
			log.Warnf("database connection failed, retrying: %s", err)
			return err
		}
		return nil
	}
	if err := backoff.Retry(connectDb, backoff.NewExponentialBackOff()); err != nil {
		return nil, err
	}
	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// NewTestDatabase opens a private in-memory sqlite database with the schema
// migrations applied. Each call gets an isolated database.
func NewTestDatabase() (*gorm.DB, error) {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.New().String())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// Silent returns a session that suppresses gorm statement logging.
func Silent(db *gorm.DB) *gorm.DB {
	return db.Session(&gorm.Session{
		Logger: db.Logger.LogMode(logger.Silent),
	})
}
