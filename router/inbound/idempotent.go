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

package inbound

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"strings"
	"time"

	"github.com/rulego/flowmesh/api/types"
	"github.com/rulego/flowmesh/utils/cache"
	"github.com/rulego/flowmesh/utils/maps"
	"github.com/rulego/flowmesh/utils/str"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/sha3"
)

// Secure hash algorithms.
const (
	SHA256     = "SHA-256"
	SHA3256    = "SHA3-256"
	BLAKE2b256 = "BLAKE2b-256"
)

// DefaultIdempotentTTL is the window in which a repeated key is a duplicate.
const DefaultIdempotentTTL = time.Hour

func init() {
	Registry.Add(&IdempotentReceiver{}, &IdempotentSecureHashReceiver{})
}

// IdempotentReceiverConfiguration 幂等接收器配置
type IdempotentReceiverConfiguration struct {
	// IdProperty names the property holding the message id as `scope.key`,
	// e.g. `inbound.messageId`. Empty uses the inbound messageId property,
	// then the event id.
	IdProperty string
	// TTL of the recorded keys.
	TTL time.Duration
}

// IdempotentReceiver drops events whose message id was already seen within the TTL.
// A duplicate short-circuits the chain with a Duplicate exception and raises a
// NotificationDuplicate notification.
type IdempotentReceiver struct {
	Config IdempotentReceiverConfiguration
	config types.Config
	store  types.IdempotentStore
	owned  *cache.IdempotentStore
	scope  types.Scope
	key    string
	keyFn  func(event *types.Event) (string, error)
}

func (x *IdempotentReceiver) Type() string {
	return "idempotentReceiver"
}

func (x *IdempotentReceiver) New() types.Component {
	return &IdempotentReceiver{Config: IdempotentReceiverConfiguration{TTL: DefaultIdempotentTTL}}
}

func (x *IdempotentReceiver) Init(ruleConfig types.Config, configuration types.Configuration) error {
	if err := maps.Map2Struct(configuration, &x.Config); err != nil {
		return err
	}
	x.config = ruleConfig
	x.store = ruleConfig.IdempotentStore
	if x.store == nil {
		x.owned = cache.NewIdempotentStore(nil, "idempotent:")
		x.store = x.owned
	}
	x.scope, x.key = types.InboundScope, types.PropertyMessageId
	if x.Config.IdProperty != "" {
		scope, key, ok := strings.Cut(x.Config.IdProperty, ".")
		if !ok {
			return fmt.Errorf("idProperty %q must be scope.key", x.Config.IdProperty)
		}
		s, err := types.ParseScope(scope)
		if err != nil {
			return err
		}
		x.scope, x.key = s, key
	}
	x.keyFn = x.messageId
	return nil
}

func (x *IdempotentReceiver) messageId(event *types.Event) (string, error) {
	if v, ok := event.Message().Property(x.scope, x.key); ok {
		if id := str.ToString(v); id != "" {
			return id, nil
		}
	}
	return event.Id(), nil
}

func (x *IdempotentReceiver) IsMatch(ctx context.Context, event *types.Event) (bool, error) {
	return true, nil
}

func (x *IdempotentReceiver) Route(ctx context.Context, event *types.Event) (*types.Event, error) {
	return route(ctx, x.config, x.Type(), x.store, x.Config.TTL, x.keyFn, event)
}

// Destroy stops the private store created when no store is configured.
func (x *IdempotentReceiver) Destroy() {
	_ = x.owned.Close()
}

func route(ctx context.Context, config types.Config, name string, store types.IdempotentStore, ttl time.Duration,
	keyFn func(*types.Event) (string, error), event *types.Event) (*types.Event, error) {
	key, err := keyFn(event)
	if err != nil {
		return event, err
	}
	// keys are scoped to the flow so that flows sharing a store do not collide
	first, err := store.StoreIfAbsent(ctx, event.FlowName()+":"+key, ttl)
	if err != nil {
		return event, err
	}
	if first {
		return event, nil
	}
	config.Notify(types.NotificationDuplicate, flowOf(event, name), name, event, types.ErrDuplicateEvent)
	return event.WithException(types.NewExceptionPayload(types.KindDuplicate, types.ErrDuplicateEvent).
		WithProperty("key", key)), nil
}

// IdempotentSecureHashReceiverConfiguration 安全哈希幂等接收器配置
type IdempotentSecureHashReceiverConfiguration struct {
	// Algorithm is SHA-256 (default), SHA3-256 or BLAKE2b-256.
	Algorithm string
	TTL       time.Duration
}

// IdempotentSecureHashReceiver drops events whose payload digest was already seen within the TTL.
type IdempotentSecureHashReceiver struct {
	Config  IdempotentSecureHashReceiverConfiguration
	config  types.Config
	store   types.IdempotentStore
	owned   *cache.IdempotentStore
	newHash func() (hash.Hash, error)
}

func (x *IdempotentSecureHashReceiver) Type() string {
	return "idempotentSecureHashReceiver"
}

func (x *IdempotentSecureHashReceiver) New() types.Component {
	return &IdempotentSecureHashReceiver{Config: IdempotentSecureHashReceiverConfiguration{
		Algorithm: SHA256,
		TTL:       DefaultIdempotentTTL,
	}}
}

func (x *IdempotentSecureHashReceiver) Init(ruleConfig types.Config, configuration types.Configuration) error {
	if err := maps.Map2Struct(configuration, &x.Config); err != nil {
		return err
	}
	switch strings.ToUpper(x.Config.Algorithm) {
	case SHA256:
		x.newHash = func() (hash.Hash, error) { return sha256.New(), nil }
	case SHA3256:
		x.newHash = func() (hash.Hash, error) { return sha3.New256(), nil }
	case strings.ToUpper(BLAKE2b256):
		x.newHash = func() (hash.Hash, error) { return blake2b.New256(nil) }
	default:
		return fmt.Errorf("unsupported hash algorithm %q", x.Config.Algorithm)
	}
	x.config = ruleConfig
	x.store = ruleConfig.IdempotentStore
	if x.store == nil {
		x.owned = cache.NewIdempotentStore(nil, "idempotent:")
		x.store = x.owned
	}
	return nil
}

// Digest returns the hex digest of the payload bytes.
func (x *IdempotentSecureHashReceiver) Digest(event *types.Event) (string, error) {
	data, err := str.ToBytes(event.Payload())
	if err != nil {
		return "", err
	}
	h, err := x.newHash()
	if err != nil {
		return "", err
	}
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil)), nil
}

func (x *IdempotentSecureHashReceiver) IsMatch(ctx context.Context, event *types.Event) (bool, error) {
	return true, nil
}

func (x *IdempotentSecureHashReceiver) Route(ctx context.Context, event *types.Event) (*types.Event, error) {
	return route(ctx, x.config, x.Type(), x.store, x.Config.TTL, x.Digest, event)
}

func (x *IdempotentSecureHashReceiver) Destroy() {
	_ = x.owned.Close()
}
