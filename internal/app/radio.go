package app

import (
	"go.uber.org/zap"

	cfgpkg "github.com/taoyao-code/fieldsync/internal/config"
	"github.com/taoyao-code/fieldsync/internal/radio"
	"github.com/taoyao-code/fieldsync/internal/radio/xbee"
)

// OpenXBee 打开串口无线链路
func OpenXBee(cfg cfgpkg.RadioConfig, log *zap.Logger) (*xbee.Transport, error) {
	tr, err := xbee.Open(xbee.Config{
		Port:        cfg.Port,
		Baud:        cfg.Baud,
		ReadTimeout: cfg.ReadTimeout,
	}, log.Named("xbee"))
	if err != nil {
		log.Error("xbee open error", zap.String("port", cfg.Port), zap.Error(err))
		return nil, err
	}
	log.Info("xbee link opened", zap.String("port", cfg.Port), zap.Int("baud", cfg.Baud))
	return tr, nil
}

// NewMedium 进程内仿真信道
func NewMedium(cfg cfgpkg.RadioConfig) *radio.Medium {
	return radio.NewMedium(radio.WithTxStatusDelay(cfg.TxStatusDelay))
}
