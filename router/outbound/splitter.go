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

package outbound

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/expr-lang/expr/vm"
	"github.com/rulego/flowmesh/api/types"
	"github.com/rulego/flowmesh/components/base"
	"github.com/rulego/flowmesh/utils/cast"
	"github.com/rulego/flowmesh/utils/maps"
)

// Chunking modes.
const (
	ChunkBytes = "bytes"
	ChunkLines = "lines"
)

// ItemKey is the variable holding the current element in element filters.
const ItemKey = "item"

func init() {
	Registry.Add(&ListSplitter{}, &FilteringListSplitter{}, &MessageChunkingRouter{})
}

// ListSplitter splits a list payload into one child event per element. The
// children share one correlation group of the list size, numbered from 1, and
// are each sent to the targets.
type ListSplitter struct {
	routerBase
	Config Configuration
}

func (x *ListSplitter) Type() string {
	return "listSplitter"
}

func (x *ListSplitter) New() types.Component {
	return &ListSplitter{}
}

func (x *ListSplitter) Init(ruleConfig types.Config, configuration types.Configuration) error {
	if err := maps.Map2Struct(configuration, &x.Config); err != nil {
		return err
	}
	if len(x.Config.Targets) == 0 {
		return types.ErrNoTargets
	}
	return x.init(ruleConfig, x.Type(), x.Config)
}

func (x *ListSplitter) Route(ctx context.Context, event *types.Event) (*types.Event, error) {
	return x.split(ctx, event, nil)
}

// split builds the children of the elements keep accepts and sends them.
// The group size counts only the kept elements.
func (x *routerBase) split(ctx context.Context, event *types.Event, keep func(item interface{}) (bool, error)) (*types.Event, error) {
	items, ok := cast.ToSlice(base.NodeUtils.PrepareData(event.Message().Payload()))
	if !ok {
		return event, fmt.Errorf("%w: %T", types.ErrPayloadNotList, event.Payload())
	}
	if keep != nil {
		kept := items[:0:0]
		for _, item := range items {
			accepted, err := keep(item)
			if err != nil {
				return event, err
			}
			if accepted {
				kept = append(kept, item)
			}
		}
		items = kept
	}
	if len(items) == 0 {
		return event, nil
	}
	targets, err := x.resolveAll(x.targets.Targets)
	if err != nil {
		return event, err
	}
	mediaType := elementMediaType(event.Message().Payload().MediaType)
	children := make([]*types.Event, len(items))
	for i, item := range items {
		children[i] = event.NewChild(types.Payload{Value: item, MediaType: mediaType}, len(items), i+1)
	}
	return x.fanOut(ctx, event, targets, children)
}

// elementMediaType is the media type of a decoded list element.
func elementMediaType(mediaType string) string {
	if mediaType == types.MediaTypeJSON {
		return ""
	}
	return mediaType
}

// FilteringListSplitterConfiguration 过滤列表拆分器配置
type FilteringListSplitterConfiguration struct {
	Configuration `mapstructure:",squash"`
	// ElementFilter is evaluated per element, which is visible as `item`.
	ElementFilter string
}

// FilteringListSplitter is a ListSplitter that skips the elements rejected by ElementFilter.
type FilteringListSplitter struct {
	routerBase
	Config        FilteringListSplitterConfiguration
	elementFilter *vm.Program
}

func (x *FilteringListSplitter) Type() string {
	return "filteringListSplitter"
}

func (x *FilteringListSplitter) New() types.Component {
	return &FilteringListSplitter{}
}

func (x *FilteringListSplitter) Init(ruleConfig types.Config, configuration types.Configuration) error {
	if err := maps.Map2Struct(configuration, &x.Config); err != nil {
		return err
	}
	if len(x.Config.Targets) == 0 {
		return types.ErrNoTargets
	}
	program, err := base.CompilePredicate(x.Config.ElementFilter)
	if err != nil {
		return err
	}
	x.elementFilter = program
	return x.init(ruleConfig, x.Type(), x.Config.Configuration)
}

func (x *FilteringListSplitter) Route(ctx context.Context, event *types.Event) (*types.Event, error) {
	env := base.NodeUtils.GetEnv(x.config, event)
	return x.split(ctx, event, func(item interface{}) (bool, error) {
		env[ItemKey] = item
		return base.EvalBool(x.elementFilter, env)
	})
}

// MessageChunkingConfiguration 消息分块路由器配置
type MessageChunkingConfiguration struct {
	Configuration `mapstructure:",squash"`
	// ChunkSize is the number of bytes, lines or elements per chunk.
	ChunkSize int
	// Mode is bytes (default) or lines for text payloads. List payloads are
	// always chunked by element.
	Mode string
}

// MessageChunkingRouter splits a string, []byte or list payload into ordered
// chunks sharing one correlation id, for reassembly by the chunking aggregator.
type MessageChunkingRouter struct {
	routerBase
	Config MessageChunkingConfiguration
}

func (x *MessageChunkingRouter) Type() string {
	return "messageChunking"
}

func (x *MessageChunkingRouter) New() types.Component {
	return &MessageChunkingRouter{Config: MessageChunkingConfiguration{Mode: ChunkBytes}}
}

func (x *MessageChunkingRouter) Init(ruleConfig types.Config, configuration types.Configuration) error {
	if err := maps.Map2Struct(configuration, &x.Config); err != nil {
		return err
	}
	if x.Config.ChunkSize <= 0 {
		return errors.New("chunkSize must be positive")
	}
	switch x.Config.Mode {
	case "", ChunkBytes, ChunkLines:
	default:
		return fmt.Errorf("unknown chunking mode %q", x.Config.Mode)
	}
	if len(x.Config.Targets) == 0 {
		return types.ErrNoTargets
	}
	return x.init(ruleConfig, x.Type(), x.Config.Configuration)
}

func (x *MessageChunkingRouter) Route(ctx context.Context, event *types.Event) (*types.Event, error) {
	chunks, err := Chunk(event.Payload(), x.Config.ChunkSize, x.Config.Mode)
	if err != nil {
		return event, err
	}
	if len(chunks) == 0 {
		return event, nil
	}
	targets, err := x.resolveAll(x.Config.Targets)
	if err != nil {
		return event, err
	}
	mediaType := event.Message().Payload().MediaType
	children := make([]*types.Event, len(chunks))
	for i, c := range chunks {
		children[i] = event.NewChild(types.Payload{Value: c, MediaType: mediaType}, len(chunks), i+1)
	}
	return x.fanOut(ctx, event, targets, children)
}

// Chunk splits payload into chunks of size. Strings and byte slices are cut
// by bytes, or by lines in lines mode. Slices are cut by element and keep their type.
func Chunk(payload interface{}, size int, mode string) ([]interface{}, error) {
	if size <= 0 {
		return nil, errors.New("chunk size must be positive")
	}
	switch v := payload.(type) {
	case string:
		if mode == ChunkLines {
			return chunkLines(v, size), nil
		}
		var chunks []interface{}
		for start := 0; start < len(v); start += size {
			chunks = append(chunks, v[start:min(start+size, len(v))])
		}
		return chunks, nil
	case []byte:
		if mode == ChunkLines {
			var chunks []interface{}
			for _, c := range chunkLines(string(v), size) {
				chunks = append(chunks, []byte(c.(string)))
			}
			return chunks, nil
		}
		var chunks []interface{}
		for start := 0; start < len(v); start += size {
			c := make([]byte, min(start+size, len(v))-start)
			copy(c, v[start:])
			chunks = append(chunks, c)
		}
		return chunks, nil
	}
	rv := reflect.ValueOf(payload)
	if !rv.IsValid() || rv.Kind() != reflect.Slice {
		return nil, fmt.Errorf("cannot chunk payload of type %T", payload)
	}
	var chunks []interface{}
	for start := 0; start < rv.Len(); start += size {
		end := min(start+size, rv.Len())
		c := reflect.MakeSlice(rv.Type(), end-start, end-start)
		reflect.Copy(c, rv.Slice(start, end))
		chunks = append(chunks, c.Interface())
	}
	return chunks, nil
}

func chunkLines(text string, size int) []interface{} {
	lines := strings.SplitAfter(text, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	var chunks []interface{}
	for start := 0; start < len(lines); start += size {
		chunks = append(chunks, strings.Join(lines[start:min(start+size, len(lines))], ""))
	}
	return chunks
}
