package telemetry

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	cfgpkg "github.com/taoyao-code/fieldsync/internal/config"
	"github.com/taoyao-code/fieldsync/internal/coordinator"
)

// Publisher mqtt.Client 的发布子集
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload any) mqtt.Token
}

// MQTTReporter 实现 coordinator.Reporter：
// 节点状态以保留消息发布到 <prefix>/nodes/<index>/status，
// 尝试诊断发布到 <prefix>/nodes/<index>/attempts
type MQTTReporter struct {
	pub     Publisher
	prefix  string
	qos     byte
	timeout time.Duration
	logger  *zap.Logger
}

var _ coordinator.Reporter = (*MQTTReporter)(nil)

// ConnectMQTT 建立连接，失败时按指数退避重试
func ConnectMQTT(cfg cfgpkg.MQTTConfig, logger *zap.Logger) (mqtt.Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(cfg.Timeout)

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 10 * time.Second

	var client mqtt.Client
	err := backoff.Retry(func() error {
		client = mqtt.NewClient(opts)
		token := client.Connect()
		if !token.WaitTimeout(cfg.Timeout) {
			return fmt.Errorf("connect to %s timed out", cfg.Broker)
		}
		if err := token.Error(); err != nil {
			logger.Warn("mqtt connect failed", zap.String("broker", cfg.Broker), zap.Error(err))
			return err
		}
		return nil
	}, backoff.WithMaxRetries(bo, 4))
	if err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}
	logger.Info("mqtt connected", zap.String("broker", cfg.Broker))
	return client, nil
}

func NewMQTTReporter(pub Publisher, cfg cfgpkg.MQTTConfig, logger *zap.Logger) *MQTTReporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	prefix := cfg.TopicPrefix
	if prefix == "" {
		prefix = "fieldsync"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &MQTTReporter{pub: pub, prefix: prefix, qos: cfg.QoS, timeout: timeout, logger: logger}
}

// StatusTopic 节点状态主题
func (r *MQTTReporter) StatusTopic(index int) string {
	return fmt.Sprintf("%s/nodes/%d/status", r.prefix, index)
}

// AttemptTopic 尝试诊断主题
func (r *MQTTReporter) AttemptTopic(index int) string {
	return fmt.Sprintf("%s/nodes/%d/attempts", r.prefix, index)
}

func (r *MQTTReporter) NodeChanged(n coordinator.Node) {
	r.publish(r.StatusTopic(n.Index), true, n)
}

func (r *MQTTReporter) AttemptFinished(a coordinator.AttemptReport) {
	r.publish(r.AttemptTopic(a.Index), false, a)
}

// publish 不在控制循环里等待确认，结果在后台检查
func (r *MQTTReporter) publish(topic string, retained bool, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		r.logger.Warn("mqtt marshal failed", zap.String("topic", topic), zap.Error(err))
		return
	}
	token := r.pub.Publish(topic, r.qos, retained, raw)
	go func() {
		if !token.WaitTimeout(r.timeout) {
			r.logger.Warn("mqtt publish timed out", zap.String("topic", topic))
			return
		}
		if err := token.Error(); err != nil {
			r.logger.Warn("mqtt publish failed", zap.String("topic", topic), zap.Error(err))
		}
	}()
}
