package database

import (
	"afl-sancov/config"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewDBConnection opens the report database. It returns nil when no
// DATABASE_URL is configured.
func NewDBConnection(appConfig *config.AppConfig, log *zap.Logger) (*gorm.DB, error) {
	connectionString := appConfig.Sinks.DatabaseURL
	if connectionString == "" {
		return nil, nil
	}
	db, err := gorm.Open(postgres.Open(connectionString), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		log.Error("failed to connect database", zap.Error(err))
		return nil, err
	}
	if err := db.AutoMigrate(&Run{}, &Report{}); err != nil {
		return nil, err
	}
	log.Debug("connected to database")
	return db, nil
}
