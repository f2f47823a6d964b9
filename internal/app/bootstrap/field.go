package bootstrap

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/taoyao-code/fieldsync/internal/app"
	cfgpkg "github.com/taoyao-code/fieldsync/internal/config"
	"github.com/taoyao-code/fieldsync/internal/coordinator"
	"github.com/taoyao-code/fieldsync/internal/edge"
	"github.com/taoyao-code/fieldsync/internal/persist"
	"github.com/taoyao-code/fieldsync/internal/radio"
)

// FieldOptions 仿真现场的故障注入（按节点索引）
type FieldOptions struct {
	// Offline 掉电的节点，协调器发往它们的帧得到 NoAck
	Offline []int
	// NoStore 存储不可用的节点，会拒绝同步
	NoStore []int
	// ReplyLoss 丢弃发往协调器的前 n 个回复帧
	ReplyLoss int
}

// Field 同进程运行的仿真边缘节点
type Field struct {
	medium  *radio.Medium
	devices []*edge.Device
	stores  []persist.Store
	log     *zap.Logger
}

// NewField 为名册中的每个节点在信道上挂一台边缘设备
func NewField(cfg *cfgpkg.Config, medium *radio.Medium, specs []coordinator.NodeSpec, observer edge.Observer, opts FieldOptions, log *zap.Logger) *Field {
	offline := indexSet(opts.Offline)
	noStore := indexSet(opts.NoStore)

	f := &Field{medium: medium, log: log}
	for _, s := range specs {
		nodeLog := log.With(zap.Int("index", s.Index), zap.String("name", s.Name))

		var store persist.Store
		if noStore[s.Index] {
			store = persist.NewMemoryStore(false)
		} else {
			store = app.NewEdgeStore(cfg.Persistence, fmt.Sprintf("node-%04X", uint16(s.Address)), nodeLog)
		}
		ep := medium.Attach(s.Address)
		if offline[s.Index] {
			medium.SetOnline(s.Address, false)
			nodeLog.Info("simulated node offline")
		}
		f.devices = append(f.devices, app.NewEdgeDevice(cfg, s.Address, ep, store, observer, nodeLog))
		f.stores = append(f.stores, store)
	}
	if opts.ReplyLoss > 0 {
		medium.DropNext(radio.Address(cfg.Radio.Coordinator), opts.ReplyLoss)
	}
	log.Info("simulated field ready",
		zap.Int("nodes", len(f.devices)),
		zap.Ints("offline", opts.Offline),
		zap.Ints("no_store", opts.NoStore),
		zap.Int("reply_loss", opts.ReplyLoss))
	return f
}

// Run 运行全部设备直到 ctx 取消；任一设备出错即整体返回
func (f *Field) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, d := range f.devices {
		g.Go(func() error { return d.Run(gctx) })
	}
	err := g.Wait()
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}

// Close 关闭记录文件
func (f *Field) Close() {
	for _, s := range f.stores {
		if err := s.Close(); err != nil {
			f.log.Warn("close edge store failed", zap.Error(err))
		}
	}
}

func indexSet(indexes []int) map[int]bool {
	m := make(map[int]bool, len(indexes))
	for _, i := range indexes {
		m[i] = true
	}
	return m
}
