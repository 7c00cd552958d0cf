package mqtt

import (
	"encoding/json"
	"fmt"
	"time"

	"wisefido-ota/internal/config"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// EventPublisher 设备生命周期事件发布接口
// 事件只是通知旁路，发布失败不影响请求路径
type EventPublisher interface {
	PublishDeviceEvent(event string, payload map[string]any)
	Close()
}

// NoopPublisher MQTT 禁用时的空实现
type NoopPublisher struct{}

func (NoopPublisher) PublishDeviceEvent(string, map[string]any) {}
func (NoopPublisher) Close()                                    {}

// Publisher MQTT 事件发布器
// 主题：<topic_prefix>/<event>，如 wisefido/ota/device.activated
type Publisher struct {
	client      mqtt.Client
	topicPrefix string
	logger      *zap.Logger
}

// NewPublisher 创建并连接 MQTT 发布器
func NewPublisher(cfg *config.MQTTConfig, logger *zap.Logger) (*Publisher, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	return &Publisher{
		client:      client,
		topicPrefix: cfg.TopicPrefix,
		logger:      logger,
	}, nil
}

func (p *Publisher) PublishDeviceEvent(event string, payload map[string]any) {
	body := map[string]any{
		"event":     event,
		"timestamp": time.Now().UnixMilli(),
	}
	for k, v := range payload {
		body[k] = v
	}

	data, err := json.Marshal(body)
	if err != nil {
		p.logger.Warn("Failed to marshal device event", zap.String("event", event), zap.Error(err))
		return
	}

	topic := p.topicPrefix + "/" + event
	token := p.client.Publish(topic, 0, false, data)
	token.Wait()
	if token.Error() != nil {
		p.logger.Warn("Failed to publish device event",
			zap.String("topic", topic),
			zap.Error(token.Error()),
		)
	}
}

func (p *Publisher) Close() {
	p.client.Disconnect(250)
}
