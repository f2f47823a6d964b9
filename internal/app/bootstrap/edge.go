package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/taoyao-code/fieldsync/internal/app"
	cfgpkg "github.com/taoyao-code/fieldsync/internal/config"
	"github.com/taoyao-code/fieldsync/internal/health"
	"github.com/taoyao-code/fieldsync/internal/metrics"
	"github.com/taoyao-code/fieldsync/internal/persist"
	"github.com/taoyao-code/fieldsync/internal/radio"
)

// RunEdge 单台边缘设备启动流程（串口 XBee）
func RunEdge(cfg *cfgpkg.Config, log *zap.Logger) error {
	if cfg.Radio.Driver != "xbee" {
		return fmt.Errorf("edge requires radio.driver=xbee, got %q (use fieldsim for the simulated medium)", cfg.Radio.Driver)
	}
	addr := radio.Address(cfg.Radio.Address)
	log = log.With(zap.Stringer("node", addr))
	log.Info("starting fieldsync edge", zap.Stringer("coordinator", radio.Address(cfg.Radio.Coordinator)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ========== 阶段1: 指标与就绪状态 ==========
	reg := metrics.NewRegistry()
	edgeMetrics := metrics.NewEdgeMetrics(reg)
	ready := health.New()

	// ========== 阶段2: 打开串口链路 ==========
	tr, err := app.OpenXBee(cfg.Radio, log)
	if err != nil {
		return err
	}
	defer tr.Close()
	ready.SetRadioReady(true)

	// ========== 阶段3: 记录文件存储 ==========
	store := app.NewEdgeStore(cfg.Persistence, "", log)
	defer func() {
		if err := store.Close(); err != nil {
			log.Warn("close edge store failed", zap.Error(err))
		}
	}()

	// ========== 阶段4: 控制循环 ==========
	device := app.NewEdgeDevice(cfg, addr, tr, store, edgeMetrics, log.Named("edge"))
	loopDone := make(chan error, 1)
	go func() { loopDone <- device.Run(ctx) }()
	ready.SetLoopReady(true)

	// ========== 阶段5: HTTP（健康检查与指标）==========
	healthAgg := health.NewAggregator(
		health.NewRadioChecker(tr),
		persistenceChecker(store),
	)
	httpSrv := app.NewHTTPServer(cfg, metrics.Handler(reg), ready.Ready, log)
	health.RegisterHTTPRoutes(httpSrv.Engine(), healthAgg)
	go func() {
		if err := httpSrv.Start(); err != nil {
			log.Error("http server error", zap.Error(err))
		}
	}()
	log.Info("edge ready", zap.String("http", cfg.HTTP.Addr), zap.Bool("persistence", store.Ready()))

	// ========== 阶段6: 等待关闭信号 ==========
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	var loopErr error
	select {
	case <-sigCh:
		log.Info("received shutdown signal, gracefully shutting down...")
	case loopErr = <-loopDone:
		log.Error("edge control loop exited", zap.Error(loopErr))
	}
	ready.SetLoopReady(false)
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	_ = httpSrv.Shutdown(shutdownCtx)

	sess := device.Session()
	log.Info("shutdown complete",
		zap.Uint32("epoch", sess.Epoch),
		zap.Int("records", sess.Records),
		zap.Int("failures", sess.Failures))
	if loopErr != nil && !errors.Is(loopErr, context.Canceled) {
		return loopErr
	}
	return nil
}

// sessionFile 可报告当前会话文件的存储
type sessionFile interface {
	Name() string
	Written() int64
}

// persistenceChecker 存储不可用时节点会拒绝同步，报告为降级
func persistenceChecker(store persist.Store) health.Checker {
	return health.CheckerFunc{
		CheckName: "persistence",
		Fn: func(context.Context) health.CheckResult {
			var details map[string]any
			if f, ok := store.(sessionFile); ok {
				details = map[string]any{"file": f.Name(), "bytes_written": f.Written()}
			}
			if store.Ready() {
				return health.CheckResult{Status: health.StatusHealthy, Message: "persistence ready", Details: details}
			}
			return health.CheckResult{Status: health.StatusDegraded, Message: "persistence unavailable", Details: details}
		},
	}
}
