package migration

import (
	"github.com/studyowl/creditgate/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func run(cfg config.Config, gdb *gorm.DB, log *zap.Logger) error {
	if cfg.DBType == "postgres" {
		sqlDB, err := gdb.DB()
		if err != nil {
			return err
		}
		if err := RunPostgres(sqlDB); err != nil {
			return err
		}
	} else {
		if err := AutoMigrate(gdb); err != nil {
			return err
		}
	}
	log.Info("database schema up to date")
	return nil
}

// Module applies the schema on startup.
var Module = fx.Module("migrations",
	fx.Invoke(run),
)
