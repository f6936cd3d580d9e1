package utils

import (
	"fmt"
	"os"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// GetDBConnection connects to the postgres instance configured via env.
// DB_CONNECTION_STRING takes priority, otherwise the connection is assembled
// from the individual DB_* variables.
func GetDBConnection() (*gorm.DB, error) {
	dsn := os.Getenv("DB_CONNECTION_STRING")
	if len(dsn) == 0 {
		dsn = fmt.Sprintf(
			"host=%s user=%s password=%s dbname=%s port=%s sslmode=disable",
			os.Getenv("DB_HOST"),
			os.Getenv("DB_USER"),
			os.Getenv("DB_PASS"),
			os.Getenv("DB_NAME"),
			os.Getenv("DB_PORT"),
		)
	}
	return gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
}
