package db

import (
	"strings"

	gormsqlite "github.com/glebarez/sqlite"
	"github.com/pkg/errors"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const sqlitePrefix = "sqlite:"

// Dialector picks the gorm driver for a DSN. "sqlite:" DSNs open the pure-Go
// sqlite driver; everything else, with or without a "mysql://" scheme, is
// handed to the MySQL driver.
func Dialector(dsn string) gorm.Dialector {
	switch {
	case strings.HasPrefix(dsn, sqlitePrefix):
		return gormsqlite.Open(strings.TrimPrefix(dsn, sqlitePrefix))
	case strings.HasPrefix(dsn, "mysql://"):
		return mysql.Open(strings.TrimPrefix(dsn, "mysql://"))
	default:
		return mysql.Open(dsn)
	}
}

// Connect opens the database and runs the given auto-migrations.
func Connect(dsn string, models ...any) (*gorm.DB, error) {
	gdb, err := gorm.Open(Dialector(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}
	if len(models) > 0 {
		if err := gdb.AutoMigrate(models...); err != nil {
			return nil, errors.Wrap(err, "auto-migrate")
		}
	}
	return gdb, nil
}
