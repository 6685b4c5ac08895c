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

// Package rest is an HTTP source. POST requests on Config.Path become events of
// the flow, and the flow result is written back. When Config.WsPath is set,
// every text or binary WebSocket message on that path becomes an event too.
//
// Path parameters, query parameters and the request headers listed in
// Config.Headers are set as inbound properties.
//
// Status codes:
//
//   - 200 with the result payload
//   - 202 when Config.OneWay is set and the event was accepted
//   - 204 when a filter did not accept the event
//   - 401 when the security filter rejected the event
//   - 409 for a duplicate event
//   - 503 when the flow applied back-pressure, with the reason in the X-Backpressure-Reason header
//   - 500 for any other failure
package rest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/rulego/flowmesh/api/types"
	"github.com/rulego/flowmesh/endpoint"
	"github.com/rulego/flowmesh/utils/str"
	"golang.org/x/net/netutil"
)

const (
	// HeaderBackpressureReason carries the back-pressure reason of a 503 response.
	HeaderBackpressureReason = "X-Backpressure-Reason"
	// HeaderEventId carries the id of the event created for the request.
	HeaderEventId = "X-Event-Id"
	// PropertyMessageType holds the WebSocket message type of ws events.
	PropertyMessageType = "messageType"
	ContentTypeKey      = "Content-Type"
)

const (
	DefaultPath            = "/api/v1/events"
	DefaultShutdownTimeout = 5 * time.Second
	DefaultMaxBodySize     = 4 << 20
)

var ErrAlreadyStarted = errors.New("rest source already started")

// Config 服务配置
type Config struct {
	// Server listen address, e.g. ":9090". Port 0 picks a free port.
	Server      string `json:"server" yaml:"server"`
	CertFile    string `json:"certFile" yaml:"certFile"`
	CertKeyFile string `json:"certKeyFile" yaml:"certKeyFile"`
	// Path of the POST route, /api/v1/events by default. It may contain
	// httprouter parameters such as /devices/:id/telemetry.
	Path string `json:"path" yaml:"path"`
	// WsPath enables the WebSocket route when not empty.
	WsPath string `json:"wsPath" yaml:"wsPath"`
	// OneWay answers 202 as soon as the event is accepted.
	OneWay bool `json:"oneWay" yaml:"oneWay"`
	// Headers 需要复制到入站属性的请求头
	Headers []string `json:"headers" yaml:"headers"`
	// MaxConnections caps concurrent connections. 0 means unlimited.
	MaxConnections int `json:"maxConnections" yaml:"maxConnections"`
	// MaxBodySize limits request bodies, 4MB by default.
	MaxBodySize int64 `json:"maxBodySize" yaml:"maxBodySize"`
	// ReadTimeout of the HTTP server.
	ReadTimeout time.Duration `json:"readTimeout" yaml:"readTimeout"`
	// ShutdownTimeout bounds Stop.
	ShutdownTimeout time.Duration `json:"shutdownTimeout" yaml:"shutdownTimeout"`
}

// Rest 接收端端点
type Rest struct {
	Config   Config
	Upgrader websocket.Upgrader
	config   types.Config
	router   *httprouter.Router
	server   *http.Server
	listener net.Listener
	sink     types.EventSink
	mu       sync.RWMutex
	wg       sync.WaitGroup
}

// New creates a stopped source.
func New(config types.Config, conf Config) *Rest {
	if conf.Path == "" {
		conf.Path = DefaultPath
	}
	if conf.MaxBodySize <= 0 {
		conf.MaxBodySize = DefaultMaxBodySize
	}
	if conf.ShutdownTimeout <= 0 {
		conf.ShutdownTimeout = DefaultShutdownTimeout
	}
	r := &Rest{Config: conf, config: config}
	r.router = httprouter.New()
	r.router.POST(conf.Path, r.handler)
	if conf.WsPath != "" {
		r.router.GET(conf.WsPath, r.wsHandler)
	}
	return r
}

// Handler returns the HTTP handler, for mounting the source in another server.
func (r *Rest) Handler() http.Handler {
	return r.router
}

// Bind sets the sink without listening. Used with Handler.
func (r *Rest) Bind(sink types.EventSink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sink = sink
}

// Addr returns the listen address once started.
func (r *Rest) Addr() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.listener == nil {
		return ""
	}
	return r.listener.Addr().String()
}

func (r *Rest) Start(sink types.EventSink) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.server != nil {
		return ErrAlreadyStarted
	}
	addr := r.Config.Server
	isTls := r.Config.CertKeyFile != "" && r.Config.CertFile != ""
	if addr == "" {
		if isTls {
			addr = ":https"
		} else {
			addr = ":http"
		}
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	if r.Config.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, r.Config.MaxConnections)
	}
	r.sink = sink
	r.listener = ln
	r.server = &http.Server{Handler: r.router, ReadTimeout: r.Config.ReadTimeout}
	server := r.server
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		var err error
		if isTls {
			r.config.Printf("started rest server with TLS on %s", ln.Addr())
			err = server.ServeTLS(ln, r.Config.CertFile, r.Config.CertKeyFile)
		} else {
			r.config.Printf("started rest server on %s", ln.Addr())
			err = server.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.config.Printf("rest server on %s stopped: %v", ln.Addr(), err)
		}
	}()
	return nil
}

// Stop shuts the server down, waiting up to ShutdownTimeout for requests in progress.
func (r *Rest) Stop() error {
	r.mu.Lock()
	server := r.server
	r.server = nil
	r.listener = nil
	r.mu.Unlock()
	if server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.Config.ShutdownTimeout)
	defer cancel()
	err := server.Shutdown(ctx)
	r.wg.Wait()
	return err
}

func (r *Rest) currentSink() types.EventSink {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sink
}

func (r *Rest) inbound(req *http.Request, params httprouter.Params) map[string]any {
	props := make(map[string]any)
	//把url?参数放到入站属性中
	for key, value := range req.URL.Query() {
		if len(value) > 1 {
			props[key] = str.ToString(value)
		} else {
			props[key] = value[0]
		}
	}
	for _, h := range r.Config.Headers {
		if v := req.Header.Get(h); v != "" {
			props[h] = v
		}
	}
	//路径参数优先
	for _, param := range params {
		props[param.Key] = param.Value
	}
	return props
}

func (r *Rest) handler(w http.ResponseWriter, req *http.Request, params httprouter.Params) {
	defer func() {
		//捕捉异常
		if e := recover(); e != nil {
			r.config.Printf("rest handler err :%v", e)
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
	}()
	sink := r.currentSink()
	if sink == nil {
		http.Error(w, "source not started", http.StatusServiceUnavailable)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, req.Body, r.Config.MaxBodySize))
	if err != nil {
		http.Error(w, err.Error(), http.StatusRequestEntityTooLarge)
		return
	}
	pattern := types.RequestResponse
	if r.Config.OneWay {
		pattern = types.OneWay
	}
	event := endpoint.NewEvent(body, req.Header.Get(ContentTypeKey), r.inbound(req, params),
		types.WithExchangePattern(pattern), types.WithSynchronous(!r.Config.OneWay))
	w.Header().Set(HeaderEventId, event.Id())

	if r.Config.OneWay {
		err = sink.Dispatch(context.Background(), event, endpoint.LogFailure(r.config, "rest"))
		if err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusAccepted)
		return
	}
	result, err := sink.Process(req.Context(), event)
	if err != nil {
		writeError(w, err)
		return
	}
	if result == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if ex := result.Exception(); ex != nil {
		writeError(w, ex)
		return
	}
	payload := result.Message().Payload()
	data, err := str.ToBytes(payload.Value)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if payload.MediaType != "" {
		w.Header().Set(ContentTypeKey, payload.MediaType)
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// StatusOf maps a flow failure to an HTTP status code.
func StatusOf(err error) int {
	if _, ok := types.AsBackPressure(err); ok {
		return http.StatusServiceUnavailable
	}
	var ex *types.ExceptionPayload
	if errors.As(err, &ex) {
		switch ex.Kind {
		case types.KindFilterUnaccepted:
			return http.StatusNoContent
		case types.KindUnauthorised:
			return http.StatusUnauthorized
		case types.KindDuplicate:
			return http.StatusConflict
		case types.KindTimeout:
			return http.StatusGatewayTimeout
		}
	}
	switch {
	case errors.Is(err, types.ErrFlowNotStarted):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	status := StatusOf(err)
	if bp, ok := types.AsBackPressure(err); ok {
		w.Header().Set(HeaderBackpressureReason, bp.Reason.String())
	}
	if status == http.StatusNoContent {
		w.WriteHeader(status)
		return
	}
	http.Error(w, err.Error(), status)
}

// wsReply is written back for a failed WebSocket event.
type wsReply struct {
	Error  string `json:"error"`
	Status int    `json:"status"`
	Reason string `json:"reason,omitempty"`
}

func (r *Rest) wsHandler(w http.ResponseWriter, req *http.Request, params httprouter.Params) {
	sink := r.currentSink()
	if sink == nil {
		http.Error(w, "source not started", http.StatusServiceUnavailable)
		return
	}
	c, err := r.Upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.config.Printf("upgrade: %v", err)
		return
	}
	defer func() {
		_ = c.Close()
		//捕捉异常
		if e := recover(); e != nil {
			r.config.Printf("ws handler err :%v", e)
		}
	}()
	c.SetReadLimit(r.Config.MaxBodySize)
	props := r.inbound(req, params)
	for {
		mt, message, err := c.ReadMessage()
		if err != nil {
			break
		}
		if mt != websocket.BinaryMessage && mt != websocket.TextMessage {
			continue
		}
		mediaType := types.MediaTypeText
		if mt == websocket.BinaryMessage {
			mediaType = types.MediaTypeBinary
		}
		inbound := make(map[string]any, len(props)+1)
		for k, v := range props {
			inbound[k] = v
		}
		inbound[PropertyMessageType] = strconv.Itoa(mt)
		event := endpoint.NewEvent(message, mediaType, inbound,
			types.WithExchangePattern(types.RequestResponse), types.WithSynchronous(true))
		result, err := sink.Process(req.Context(), event)
		if err == nil && result != nil && result.Exception() != nil {
			err = result.Exception()
		}
		if err != nil {
			reply := wsReply{Error: err.Error(), Status: StatusOf(err)}
			if bp, ok := types.AsBackPressure(err); ok {
				reply.Reason = bp.Reason.String()
			}
			data, _ := json.Marshal(reply)
			if err := c.WriteMessage(websocket.TextMessage, data); err != nil {
				break
			}
			continue
		}
		if result == nil {
			continue
		}
		data, err := str.ToBytes(result.Payload())
		if err != nil {
			r.config.Printf("ws reply: %v", err)
			continue
		}
		if err := c.WriteMessage(mt, data); err != nil {
			break
		}
	}
}

