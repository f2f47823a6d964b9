package main

import (
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/taoyao-code/fieldsync/internal/app/bootstrap"
	cfgpkg "github.com/taoyao-code/fieldsync/internal/config"
	"github.com/taoyao-code/fieldsync/internal/logging"
)

func main() {
	configPath := pflag.StringP("config", "c", "", "config file (default configs/coordinator.yaml)")
	pflag.Parse()

	// 1) 加载配置
	cfg, err := cfgpkg.Load(*configPath)
	if err != nil {
		panic(err)
	}

	// 2) 初始化日志
	logger, err := logging.InitLogger(cfg.Logging)
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	// 3) 统一启动流程
	if err := bootstrap.RunCoordinator(cfg, zap.L(), bootstrap.FieldOptions{}); err != nil {
		zap.L().Fatal("coordinator exited", zap.Error(err))
	}
}
