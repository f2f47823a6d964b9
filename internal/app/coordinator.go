package app

import (
	"context"

	"go.uber.org/zap"

	cfgpkg "github.com/taoyao-code/fieldsync/internal/config"
	"github.com/taoyao-code/fieldsync/internal/coordinator"
	"github.com/taoyao-code/fieldsync/internal/roster"
	redisstorage "github.com/taoyao-code/fieldsync/internal/storage/redis"
)

// CoordinatorConfig 协议配置转换为协调器参数
func CoordinatorConfig(p cfgpkg.ProtocolConfig) coordinator.Config {
	return coordinator.Config{
		MaxAttempts: p.MaxAttempts,
		Timeouts: coordinator.Timeouts{
			TxStatus:      p.TxStatusTimeout,
			Reply:         p.ReplyTimeout,
			StopFlag:      p.StopFlagTimeout,
			MaxAckLatency: p.MaxAckLatency,
		},
		RetryDelay: p.RetryDelay,
		QueueSize:  p.QueueSize,
	}
}

// NewNodeTable 按名册构造节点表；有镜像时恢复上次的状态
func NewNodeTable(ctx context.Context, rosterFile string, mirror *redisstorage.NodeMirror, log *zap.Logger) (*coordinator.Table, error) {
	specs, err := roster.Load(rosterFile)
	if err != nil {
		return nil, err
	}
	table, err := coordinator.NewTable(specs)
	if err != nil {
		return nil, err
	}
	log.Info("roster loaded", zap.String("file", rosterFile), zap.Int("nodes", table.Len()))

	if mirror != nil {
		n, err := mirror.RestoreInto(ctx, table)
		if err != nil {
			// 镜像只是缓存，恢复失败不阻止启动
			log.Warn("restore node table from redis failed", zap.Error(err))
		} else {
			log.Info("node table restored from redis", zap.Int("restored", n))
		}
	}
	return table, nil
}
