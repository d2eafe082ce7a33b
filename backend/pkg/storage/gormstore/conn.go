package gormstore

import (
	"fmt"

	"github.com/ocelotpki/ocelot/pkg/config"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func CreatePostgresDBConnection(logger *logrus.Entry, cfg config.PostgresPSEConfig, database string) (*gorm.DB, error) {
	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=disable", cfg.Hostname, cfg.Username, cfg.Password, database, cfg.Port)
	return gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: NewGormLogger(logger),
	})
}

func CreateSQLiteDBConnection(logger *logrus.Entry, cfg config.SQLitePSEConfig) (*gorm.DB, error) {
	dsn := cfg.DatabasePath
	if cfg.InMemory {
		dsn = "file::memory:?cache=shared"
	}

	return gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: NewGormLogger(logger),
	})
}
