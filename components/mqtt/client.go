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

// Package mqtt wraps the paho client used by the MQTT publish processor and the MQTT source.
package mqtt

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/gofrs/uuid/v5"
	"github.com/rulego/flowmesh/api/types"
)

// DefaultRetryInterval 连接失败重试间隔
const DefaultRetryInterval = 2 * time.Second

// ErrNoServer is returned when Config.Server is empty.
var ErrNoServer = errors.New("mqtt server address is empty")

// Config 客户端配置
type Config struct {
	// Server broker 地址，例如 tcp://127.0.0.1:1883
	Server   string `json:"server" yaml:"server"`
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
	// MaxReconnectInterval 重连重试间隔
	MaxReconnectInterval time.Duration `json:"maxReconnectInterval" yaml:"maxReconnectInterval"`
	// RetryInterval 首次连接失败重试间隔
	RetryInterval time.Duration `json:"retryInterval" yaml:"retryInterval"`
	QOS           uint8         `json:"qos" yaml:"qos"`
	CleanSession  bool          `json:"cleanSession" yaml:"cleanSession"`
	// ClientID 为空时随机生成
	ClientID    string `json:"clientId" yaml:"clientId"`
	CAFile      string `json:"caFile" yaml:"caFile"`
	CertFile    string `json:"certFile" yaml:"certFile"`
	CertKeyFile string `json:"certKeyFile" yaml:"certKeyFile"`
}

// Handler receives the messages of a subscription.
type Handler func(topic string, payload []byte)

type subscription struct {
	qos     byte
	handler Handler
}

// Client is a connected client. Subscriptions are restored after a reconnect.
type Client struct {
	client paho.Client
	logger types.Logger
	mu     sync.Mutex
	subs   map[string]subscription
}

// Options converts conf into paho client options.
func Options(conf Config, logger types.Logger) (*paho.ClientOptions, error) {
	if conf.Server == "" {
		return nil, ErrNoServer
	}
	opts := paho.NewClientOptions()
	opts.AddBroker(conf.Server)
	opts.SetUsername(conf.Username)
	opts.SetPassword(conf.Password)
	opts.SetCleanSession(conf.CleanSession)
	if conf.ClientID == "" {
		opts.SetClientID("flowmesh/" + uuid.Must(uuid.NewV4()).String()[:8])
	} else {
		opts.SetClientID(conf.ClientID)
	}
	if conf.MaxReconnectInterval <= 0 {
		conf.MaxReconnectInterval = time.Second * 60
	}
	opts.SetMaxReconnectInterval(conf.MaxReconnectInterval)
	opts.SetConnectionLostHandler(func(c paho.Client, reason error) {
		logger.Printf("mqtt connection lost: %s", reason)
	})
	tlsConfig, err := newTLSConfig(conf.CAFile, conf.CertFile, conf.CertKeyFile)
	if err != nil {
		return nil, err
	}
	if tlsConfig != nil {
		opts.SetTLSConfig(tlsConfig)
	}
	return opts, nil
}

// NewClient connects to the broker, retrying until it succeeds or ctx is done.
func NewClient(ctx context.Context, conf Config, logger types.Logger) (*Client, error) {
	if logger == nil {
		logger = types.DefaultLogger()
	}
	opts, err := Options(conf, logger)
	if err != nil {
		return nil, err
	}
	retry := conf.RetryInterval
	if retry <= 0 {
		retry = DefaultRetryInterval
	}
	logger.Printf("connecting to mqtt broker,server=%s", conf.Server)
	c := &Client{logger: logger, subs: make(map[string]subscription)}
	opts.SetOnConnectHandler(func(paho.Client) {
		c.resubscribe()
	})
	c.client = paho.NewClient(opts)
	for {
		token := c.client.Connect()
		select {
		case <-token.Done():
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if token.Error() == nil {
			return c, nil
		}
		logger.Printf("connecting to mqtt broker failed, will retry in %s: %s", retry, token.Error())
		select {
		case <-time.After(retry):
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", ctx.Err(), token.Error())
		}
	}
}

// Publish 发布数据
func (c *Client) Publish(ctx context.Context, topic string, qos byte, data []byte) error {
	token := c.client.Publish(topic, qos, false, data)
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe subscribes to topic and waits for the broker acknowledgement.
func (c *Client) Subscribe(ctx context.Context, topic string, qos byte, handler Handler) error {
	c.mu.Lock()
	c.subs[topic] = subscription{qos: qos, handler: handler}
	c.mu.Unlock()
	token := c.client.Subscribe(topic, qos, func(_ paho.Client, m paho.Message) {
		handler(m.Topic(), m.Payload())
	})
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Unsubscribe 取消订阅
func (c *Client) Unsubscribe(topics ...string) error {
	c.mu.Lock()
	for _, t := range topics {
		delete(c.subs, t)
	}
	c.mu.Unlock()
	token := c.client.Unsubscribe(topics...)
	token.Wait()
	return token.Error()
}

func (c *Client) resubscribe() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for topic, sub := range c.subs {
		handler := sub.handler
		c.client.Subscribe(topic, sub.qos, func(_ paho.Client, m paho.Message) {
			handler(m.Topic(), m.Payload())
		})
	}
}

func (c *Client) Close() error {
	c.client.Disconnect(250)
	return nil
}

func newTLSConfig(caFile, certFile, certKeyFile string) (*tls.Config, error) {
	if caFile == "" && certFile == "" && certKeyFile == "" {
		return nil, nil
	}
	tlsConfig := &tls.Config{}
	if caFile != "" {
		caCert, err := os.ReadFile(caFile)
		if err != nil {
			return nil, fmt.Errorf("could not load ca certificate: %w", err)
		}
		certPool := x509.NewCertPool()
		certPool.AppendCertsFromPEM(caCert)
		tlsConfig.RootCAs = certPool
	}
	if certFile != "" && certKeyFile != "" {
		kp, err := tls.LoadX509KeyPair(certFile, certKeyFile)
		if err != nil {
			return nil, fmt.Errorf("could not load mqtt tls key-pair: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{kp}
	}
	return tlsConfig, nil
}
