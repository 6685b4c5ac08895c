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

// Package server is the admin HTTP API of a runtime.
//
//	GET    /api/v1/version
//	GET    /api/v1/flows
//	GET    /api/v1/flows/:name
//	POST   /api/v1/flows/:name/start
//	POST   /api/v1/flows/:name/stop
//	DELETE /api/v1/flows/:name
//	POST   /api/v1/flows/:name/events   runs the request body through the flow
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/rulego/flowmesh/api/types"
	"github.com/rulego/flowmesh/endpoint"
	"github.com/rulego/flowmesh/endpoint/rest"
	"github.com/rulego/flowmesh/engine"
	"github.com/rulego/flowmesh/utils/str"
)

const (
	// base HTTP paths.
	apiVersion  = "v1"
	apiBasePath = "/api/" + apiVersion

	flowsPath = apiBasePath + "/flows"
	flowPath  = flowsPath + "/:name"

	// Version server version.
	Version = "1.0.0"
)

// FlowInfo is the admin view of a flow.
type FlowInfo struct {
	Name           string `json:"name"`
	State          string `json:"state"`
	InFlight       int64  `json:"inFlight"`
	Received       int64  `json:"received"`
	Processed      int64  `json:"processed"`
	Failed         int64  `json:"failed"`
	ShortCircuited int64  `json:"shortCircuited"`
	Rejected       int64  `json:"rejected"`
	// RejectedBy counts rejections per back-pressure reason.
	RejectedBy map[string]int64 `json:"rejectedBy,omitempty"`
}

// InfoOf returns the admin view of flow.
func InfoOf(flow *engine.Flow) FlowInfo {
	stats := flow.Statistics()
	s := stats.Get()
	info := FlowInfo{
		Name:           flow.Name(),
		State:          flow.State().String(),
		InFlight:       s.InFlight,
		Received:       s.Received,
		Processed:      s.Processed,
		Failed:         s.Failed,
		ShortCircuited: s.ShortCircuited,
		Rejected:       s.Rejected,
	}
	for _, reason := range types.BackPressureReasons {
		if n := stats.RejectedBy(reason); n > 0 {
			if info.RejectedBy == nil {
				info.RejectedBy = make(map[string]int64)
			}
			info.RejectedBy[reason.String()] = n
		}
	}
	return info
}

// Server serves the admin API of a runtime.
type Server struct {
	runtime *engine.Runtime
	router  *httprouter.Router
	// StopTimeout bounds the drain of the stop and delete requests.
	StopTimeout time.Duration
}

// New creates the admin API of rt.
func New(rt *engine.Runtime) *Server {
	s := &Server{runtime: rt, router: httprouter.New(), StopTimeout: engine.DefaultDrainTimeout}
	s.router.GET(apiBasePath+"/version", s.version)
	s.router.GET(flowsPath, s.listFlows)
	s.router.GET(flowPath, s.getFlow)
	s.router.DELETE(flowPath, s.deleteFlow)
	s.router.POST(flowPath+"/start", s.startFlow)
	s.router.POST(flowPath+"/stop", s.stopFlow)
	s.router.POST(flowPath+"/events", s.postEvent)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set(rest.ContentTypeKey, types.MediaTypeJSON)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, err error) {
	if status == http.StatusNoContent {
		w.WriteHeader(status)
		return
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) version(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, map[string]string{"version": Version})
}

func (s *Server) listFlows(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	flows := s.runtime.Flows()
	infos := make([]FlowInfo, 0, len(flows))
	for _, f := range flows {
		infos = append(infos, InfoOf(f))
	}
	writeJSON(w, http.StatusOK, infos)
}

func (s *Server) flow(w http.ResponseWriter, params httprouter.Params) (*engine.Flow, bool) {
	name := params.ByName("name")
	flow, ok := s.runtime.Get(name)
	if !ok {
		writeErr(w, http.StatusNotFound, types.ErrFlowNotFound)
	}
	return flow, ok
}

func (s *Server) getFlow(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	if flow, ok := s.flow(w, params); ok {
		writeJSON(w, http.StatusOK, InfoOf(flow))
	}
}

func (s *Server) startFlow(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	flow, ok := s.flow(w, params)
	if !ok {
		return
	}
	if err := flow.Start(); err != nil {
		writeErr(w, statusOfLifecycle(err), err)
		return
	}
	writeJSON(w, http.StatusOK, InfoOf(flow))
}

func (s *Server) stopFlow(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	flow, ok := s.flow(w, params)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.StopTimeout)
	defer cancel()
	if err := flow.Stop(ctx); err != nil && !errors.Is(err, types.ErrDrainTimeout) {
		writeErr(w, statusOfLifecycle(err), err)
		return
	}
	writeJSON(w, http.StatusOK, InfoOf(flow))
}

func (s *Server) deleteFlow(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	ctx, cancel := context.WithTimeout(r.Context(), s.StopTimeout)
	defer cancel()
	err := s.runtime.Remove(ctx, params.ByName("name"))
	switch {
	case errors.Is(err, types.ErrFlowNotFound):
		writeErr(w, http.StatusNotFound, err)
	case err != nil && !errors.Is(err, types.ErrDrainTimeout):
		writeErr(w, http.StatusInternalServerError, err)
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) postEvent(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	flow, ok := s.flow(w, params)
	if !ok {
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, rest.DefaultMaxBodySize))
	if err != nil {
		writeErr(w, http.StatusRequestEntityTooLarge, err)
		return
	}
	props := make(map[string]any)
	for key, value := range r.URL.Query() {
		props[key] = value[0]
	}
	event := endpoint.NewEvent(body, r.Header.Get(rest.ContentTypeKey), props,
		types.WithExchangePattern(types.RequestResponse), types.WithSynchronous(true))
	result, err := flow.Process(r.Context(), event)
	if err == nil && result != nil && result.Exception() != nil {
		err = result.Exception()
	}
	if err != nil {
		if bp, ok := types.AsBackPressure(err); ok {
			w.Header().Set(rest.HeaderBackpressureReason, bp.Reason.String())
		}
		writeErr(w, rest.StatusOf(err), err)
		return
	}
	if result == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	data, err := str.ToBytes(result.Payload())
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set(rest.ContentTypeKey, result.Message().Payload().MediaType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func statusOfLifecycle(err error) int {
	if errors.Is(err, types.ErrInvalidTransition) {
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}
