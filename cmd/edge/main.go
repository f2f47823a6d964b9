package main

import (
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/taoyao-code/fieldsync/internal/app/bootstrap"
	cfgpkg "github.com/taoyao-code/fieldsync/internal/config"
	"github.com/taoyao-code/fieldsync/internal/logging"
	"github.com/taoyao-code/fieldsync/internal/roster"
)

func main() {
	configPath := pflag.StringP("config", "c", "configs/edge.yaml", "config file")
	port := pflag.StringP("port", "p", "", "serial port, overrides radio.port")
	address := pflag.StringP("address", "a", "", "16-bit node address (e.g. 0x00E3), overrides radio.address")
	pflag.Parse()

	cfg, err := cfgpkg.Load(*configPath)
	if err != nil {
		panic(err)
	}
	if *port != "" {
		cfg.Radio.Driver = "xbee"
		cfg.Radio.Port = *port
	}
	if *address != "" {
		addr, err := roster.ParseAddress(*address)
		if err != nil {
			panic(err)
		}
		cfg.Radio.Address = uint16(addr)
	}

	logger, err := logging.InitLogger(cfg.Logging)
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	if err := bootstrap.RunEdge(cfg, zap.L()); err != nil {
		zap.L().Fatal("edge exited", zap.Error(err))
	}
}
