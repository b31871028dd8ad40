package db

import (
	"strings"
	"sync"

	"github.com/benchroom/benchroom/internal/models"
	"github.com/benchroom/benchroom/pkg/env"
	"github.com/benchroom/benchroom/pkg/log"
	"github.com/pkg/errors"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	conn     *gorm.DB
	connOnce sync.Once
)

// Connection returns the process-wide database handle, opening it
// on first use from the environment configuration.
func Connection() *gorm.DB {
	connOnce.Do(func() {
		vars := env.Variables()

		var err error
		if conn, err = Open(vars.DatabaseType, vars.DatabaseDSN); err != nil {
			log.Fatal("failed to connect to database", "type", vars.DatabaseType, "error", err)
		}
	})

	return conn
}

// Open a gorm connection for the given database type. Supported
// types are "postgres" and "sqlite".
func Open(dbType, dsn string) (*gorm.DB, error) {
	cfg := &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	}

	var dialector gorm.Dialector
	switch dbType {
	case "postgres":
		dialector = postgres.Open(dsn)
	case "sqlite", "":
		dialector = sqlite.Open(SQLiteDSN(dsn))
	default:
		return nil, errors.Errorf("unsupported database type %q", dbType)
	}

	gdb, err := gorm.Open(dialector, cfg)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s database", dbType)
	}

	return gdb, nil
}

// SQLiteDSN adds the connection options a shared sqlite file needs
// under concurrent writers: a busy timeout, immediate write locks for
// transactions and WAL journaling. Options already present in dsn are
// kept. In-memory databases do not get WAL.
func SQLiteDSN(dsn string) string {
	opts := []string{"_busy_timeout=5000", "_txlock=immediate"}
	if !strings.Contains(dsn, ":memory:") && !strings.Contains(dsn, "mode=memory") {
		opts = append(opts, "_journal_mode=WAL")
	}

	for _, opt := range opts {
		key := opt[:strings.IndexByte(opt, '=')+1]
		if strings.Contains(dsn, key) {
			continue
		}
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + opt
	}

	return dsn
}

// Migrate brings the schema up to date with the models.
func Migrate(gdb *gorm.DB) error {
	if err := gdb.AutoMigrate(models.All...); err != nil {
		return errors.Wrap(err, "auto migrate")
	}
	return nil
}
