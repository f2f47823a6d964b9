package app

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/taoyao-code/fieldsync/db"
	cfgpkg "github.com/taoyao-code/fieldsync/internal/config"
	"github.com/taoyao-code/fieldsync/internal/migrate"
	pgstorage "github.com/taoyao-code/fieldsync/internal/storage/pg"
)

// ConnectDBAndMigrate 建立数据库连接并执行迁移。
// 未配置迁移目录时使用内嵌的迁移文件。
func ConnectDBAndMigrate(ctx context.Context, cfg cfgpkg.DatabaseConfig, log *zap.Logger) (*pgxpool.Pool, error) {
	dbpool, err := pgstorage.NewPool(ctx, cfg, log)
	if err != nil {
		log.Error("db connect error", zap.Error(err))
		return nil, err
	}
	runner := migrate.Runner{FS: db.Migrations, Dir: "migrations"}
	if cfg.Migrations != "" {
		runner = migrate.Runner{Dir: cfg.Migrations}
	}
	applied, err := runner.Up(ctx, dbpool)
	if err != nil {
		log.Error("db migrate error", zap.Error(err), zap.Int64s("applied", applied))
		dbpool.Close()
		return nil, err
	}
	log.Info("db migrations applied", zap.Int64s("versions", applied))
	return dbpool, nil
}
