package db

import (
	"strings"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Connect opens a gorm connection. DSNs containing "@tcp(" are treated
// as MySQL; anything else is opened as a SQLite file.
func Connect(dsn string) (*gorm.DB, error) {
	cfg := &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)}
	if strings.Contains(dsn, "@tcp(") {
		return gorm.Open(mysql.Open(dsn), cfg)
	}
	return gorm.Open(sqlite.Open(dsn), cfg)
}
