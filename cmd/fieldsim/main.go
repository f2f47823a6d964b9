// fieldsim 在一个进程内运行协调器与整个仿真现场，可注入故障
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
	offline := pflag.IntSlice("offline", nil, "node indexes that are powered off")
	noStore := pflag.IntSlice("no-store", nil, "node indexes without usable storage")
	replyLoss := pflag.Int("reply-loss", 0, "drop the first n replies sent to the coordinator")
	dataDir := pflag.String("data", "", "record directory, overrides persistence.dir")
	pflag.Parse()

	cfg, err := cfgpkg.Load(*configPath)
	if err != nil {
		panic(err)
	}
	cfg.Radio.Driver = "medium"
	if *dataDir != "" {
		cfg.Persistence.Dir = *dataDir
	}

	logger, err := logging.InitLogger(cfg.Logging)
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	err = bootstrap.RunCoordinator(cfg, zap.L(), bootstrap.FieldOptions{
		Offline:   *offline,
		NoStore:   *noStore,
		ReplyLoss: *replyLoss,
	})
	if err != nil {
		zap.L().Fatal("fieldsim exited", zap.Error(err))
	}
}
