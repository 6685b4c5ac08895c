/*
 * Copyright 2024 The RuleGo Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package external

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rulego/flowmesh/api/types"
	"github.com/rulego/flowmesh/components/base"
	"github.com/rulego/flowmesh/components/mqtt"
	"github.com/rulego/flowmesh/utils/el"
	"github.com/rulego/flowmesh/utils/maps"
	"github.com/rulego/flowmesh/utils/str"
)

// 配置示例：
//
//	{
//	  "type": "mqttPublish",
//	  "configuration": {
//	    "server": "tcp://127.0.0.1:1883",
//	    "topic": "/device/${inbound.deviceId}/msg"
//	  }
//	}

// ErrClientNotInit mqtt 客户端未初始化
var ErrClientNotInit = errors.New("mqtt client not initialized")

func init() {
	Registry.Add(&MqttPublish{})
}

// Publisher sends bytes to a topic. *mqtt.Client implements it.
type Publisher interface {
	Publish(ctx context.Context, topic string, qos byte, data []byte) error
	Close() error
}

// MqttPublishConfiguration 节点配置
type MqttPublishConfiguration struct {
	// Topic 发布主题，可以使用 ${} 占位符
	Topic    string
	Server   string
	Username string
	Password string
	// MaxReconnectInterval 重连间隔
	MaxReconnectInterval time.Duration
	// ConnectTimeout 连接超时
	ConnectTimeout time.Duration
	QOS            uint8
	CleanSession   bool
	ClientID       string
	CAFile         string
	CertFile       string
	CertKeyFile    string
}

func (x MqttPublishConfiguration) mqttConfig() mqtt.Config {
	return mqtt.Config{
		Server:               x.Server,
		Username:             x.Username,
		Password:             x.Password,
		QOS:                  x.QOS,
		MaxReconnectInterval: x.MaxReconnectInterval,
		CleanSession:         x.CleanSession,
		ClientID:             x.ClientID,
		CAFile:               x.CAFile,
		CertFile:             x.CertFile,
		CertKeyFile:          x.CertKeyFile,
	}
}

// MqttPublish publishes the payload of each event and passes the event on unchanged.
// The connection is made lazily on first use and retried on later events while it fails.
type MqttPublish struct {
	base.GracefulShutdown
	Config MqttPublishConfiguration
	// Dial connects the publisher. Defaults to mqtt.NewClient.
	Dial func(ctx context.Context, conf mqtt.Config, logger types.Logger) (Publisher, error)

	config    types.Config
	topic     el.Template
	mu        sync.Mutex
	publisher Publisher
}

func (x *MqttPublish) Type() string {
	return "mqttPublish"
}

func (x *MqttPublish) New() types.Component {
	return &MqttPublish{Config: MqttPublishConfiguration{
		Topic:                "/device/msg",
		Server:               "tcp://127.0.0.1:1883",
		MaxReconnectInterval: time.Minute,
		ConnectTimeout:       4 * time.Second,
	}}
}

func (x *MqttPublish) Init(ruleConfig types.Config, configuration types.Configuration) error {
	if err := maps.Map2Struct(configuration, &x.Config); err != nil {
		return err
	}
	if x.Config.Server == "" {
		return mqtt.ErrNoServer
	}
	if x.Config.Topic == "" {
		return errors.New("topic is empty")
	}
	tmpl, err := el.NewTemplate(x.Config.Topic)
	if err != nil {
		return err
	}
	x.topic = tmpl
	x.config = ruleConfig
	if x.Dial == nil {
		x.Dial = func(ctx context.Context, conf mqtt.Config, logger types.Logger) (Publisher, error) {
			return mqtt.NewClient(ctx, conf, logger)
		}
	}
	x.InitGracefulShutdown(ruleConfig.Logger, 0)
	return nil
}

// TopicOf renders the topic of event.
func (x *MqttPublish) TopicOf(event *types.Event) (string, error) {
	var env map[string]interface{}
	if x.topic.HasVar() {
		env = base.NodeUtils.GetEnv(x.config, event)
	}
	out, err := x.topic.Execute(env)
	if err != nil {
		return "", err
	}
	return str.ToString(out), nil
}

func (x *MqttPublish) client(ctx context.Context) (Publisher, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.publisher != nil {
		return x.publisher, nil
	}
	timeout := x.Config.ConnectTimeout
	if timeout <= 0 {
		timeout = 4 * time.Second
	}
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	p, err := x.Dial(dialCtx, x.Config.mqttConfig(), x.config.Logger)
	if err != nil {
		return nil, errors.Join(ErrClientNotInit, err)
	}
	x.publisher = p
	return p, nil
}

func (x *MqttPublish) Process(ctx context.Context, event *types.Event) (*types.Event, error) {
	if err := x.BeginOp(); err != nil {
		return event, err
	}
	defer x.EndOp()
	topic, err := x.TopicOf(event)
	if err != nil {
		return event, err
	}
	data, err := str.ToBytes(event.Payload())
	if err != nil {
		return event, err
	}
	p, err := x.client(ctx)
	if err != nil {
		return event, err
	}
	if err := p.Publish(ctx, topic, x.Config.QOS, data); err != nil {
		return event, err
	}
	return event, nil
}

func (x *MqttPublish) Destroy() {
	x.GracefulStop(func() {
		x.mu.Lock()
		defer x.mu.Unlock()
		if x.publisher != nil {
			_ = x.publisher.Close()
			x.publisher = nil
		}
	})
}
