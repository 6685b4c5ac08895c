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

// Package mqtt is a source subscribing to MQTT topics. Every message becomes a
// one-way event with the topic in the inbound `topic` property.
package mqtt

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rulego/flowmesh/api/types"
	"github.com/rulego/flowmesh/components/mqtt"
	"github.com/rulego/flowmesh/endpoint"
)

// PropertyTopic holds the topic a message was received on.
const PropertyTopic = "topic"

// DefaultConnectTimeout bounds the broker connection in Start.
const DefaultConnectTimeout = 10 * time.Second

var (
	ErrNoTopics       = errors.New("mqtt source has no topics")
	ErrAlreadyStarted = errors.New("mqtt source already started")
)

// Subscriber is the part of mqtt.Client used by the source.
type Subscriber interface {
	Subscribe(ctx context.Context, topic string, qos byte, handler mqtt.Handler) error
	Close() error
}

// Config 订阅配置
type Config struct {
	mqtt.Config `yaml:",inline"`
	// Topics 订阅主题，支持通配符 + 和 #
	Topics []string `json:"topics" yaml:"topics"`
	// MediaType of the message payloads, application/json by default.
	MediaType      string        `json:"mediaType" yaml:"mediaType"`
	ConnectTimeout time.Duration `json:"connectTimeout" yaml:"connectTimeout"`
}

// Mqtt MQTT 订阅事件源
type Mqtt struct {
	Config Config
	// Dial connects to the broker. Defaults to mqtt.NewClient.
	Dial   func(ctx context.Context, conf mqtt.Config, logger types.Logger) (Subscriber, error)
	config types.Config
	client Subscriber
	sink   types.EventSink
	mu     sync.Mutex
}

// New validates conf and creates a stopped source.
func New(config types.Config, conf Config) (*Mqtt, error) {
	if conf.Server == "" {
		return nil, mqtt.ErrNoServer
	}
	if len(conf.Topics) == 0 {
		return nil, ErrNoTopics
	}
	if conf.MediaType == "" {
		conf.MediaType = types.MediaTypeJSON
	}
	if conf.ConnectTimeout <= 0 {
		conf.ConnectTimeout = DefaultConnectTimeout
	}
	return &Mqtt{
		Config: conf,
		config: config,
		Dial: func(ctx context.Context, conf mqtt.Config, logger types.Logger) (Subscriber, error) {
			return mqtt.NewClient(ctx, conf, logger)
		},
	}, nil
}

func (x *Mqtt) Start(sink types.EventSink) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.client != nil {
		return ErrAlreadyStarted
	}
	ctx, cancel := context.WithTimeout(context.Background(), x.Config.ConnectTimeout)
	defer cancel()
	client, err := x.Dial(ctx, x.Config.Config, x.config.Logger)
	if err != nil {
		return err
	}
	x.sink = sink
	for _, topic := range x.Config.Topics {
		if err := client.Subscribe(ctx, topic, x.Config.QOS, x.handle); err != nil {
			_ = client.Close()
			x.sink = nil
			return err
		}
	}
	x.client = client
	return nil
}

func (x *Mqtt) Stop() error {
	x.mu.Lock()
	client := x.client
	x.client = nil
	x.mu.Unlock()
	if client == nil {
		return nil
	}
	return client.Close()
}

func (x *Mqtt) handle(topic string, payload []byte) {
	defer func() {
		//捕捉异常
		if e := recover(); e != nil {
			x.config.Printf("mqtt handler err :%v", e)
		}
	}()
	x.mu.Lock()
	sink := x.sink
	x.mu.Unlock()
	if sink == nil {
		return
	}
	event := endpoint.NewEvent(payload, x.Config.MediaType, map[string]any{PropertyTopic: topic})
	if err := sink.Dispatch(context.Background(), event, endpoint.LogFailure(x.config, "mqtt")); err != nil {
		x.config.Printf("mqtt: flow %s rejected message on %s: %v", sink.Name(), topic, err)
	}
}
