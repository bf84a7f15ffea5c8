/*
 * Copyright 2019 The CovenantSQL Authors.
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

// Package api exposes a ledger over JSON-RPC on a websocket endpoint, next to
// the prometheus metrics of the node.
package api

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/CovenantSQL/cql-oracle/ledger"
	"github.com/CovenantSQL/cql-oracle/metric"
	"github.com/CovenantSQL/cql-oracle/rpc/jsonrpc"
	"github.com/CovenantSQL/cql-oracle/utils/log"
	"github.com/CovenantSQL/cql-oracle/utils/log/debug"
)

const (
	// WebsocketPath serves JSON-RPC over websocket.
	WebsocketPath = "/ws"
	// MetricsPath serves the prometheus metrics.
	MetricsPath = metric.Path
	// LogLevelPath reads and changes the log level.
	LogLevelPath = debug.LevelPath
)

// Service configs the API service.
type Service struct {
	ListenAddr   string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	chain    *ledger.Chain
	registry *prometheus.Registry
	rpc      *jsonrpc.Handler
	ws       *jsonrpc.WebsocketHandler
	subs     *subscriptions

	lock     sync.Mutex
	server   *http.Server
	listener net.Listener
}

// NewService creates the API of chain. The metrics endpoint is served when
// registry is not nil, the api collectors are registered to it.
func NewService(chain *ledger.Chain, registry *prometheus.Registry) (s *Service, err error) {
	s = &Service{
		chain:    chain,
		registry: registry,
		rpc:      jsonrpc.NewHandler(),
		subs:     newSubscriptions(chain),
	}
	s.rpc.MapError = mapError
	s.ws = jsonrpc.NewWebsocketHandler(s.rpc)
	s.ws.Connections = s.subs.connections
	s.registerOracleMethods()
	s.registerChainMethods()
	if registry != nil {
		if err = registry.Register(s.subs.connections); err != nil {
			return nil, errors.Wrap(err, "register api metrics failed")
		}
		if err = registry.Register(s.subs.active); err != nil {
			return nil, errors.Wrap(err, "register api metrics failed")
		}
	}
	return
}

// Handler returns the http handler of the service.
func (s *Service) Handler() http.Handler {
	router := mux.NewRouter()
	router.Handle(WebsocketPath, s.ws)
	router.Handle(LogLevelPath, debug.LevelHandler())
	if s.registry != nil {
		router.Handle(MetricsPath, metric.Handler(s.registry)).Methods(http.MethodGet)
	}

	return handlers.RecoveryHandler(
		handlers.RecoveryLogger(recoveryLogger{}),
	)(handlers.LoggingHandler(accessLog{}, handlers.CORS(
		handlers.AllowedHeaders([]string{"Content-Type"}),
	)(router)))
}

// Start binds ListenAddr and serves in a non-blocking way.
func (s *Service) Start() (err error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.server != nil {
		return errors.New("api: service already started")
	}
	if s.listener, err = net.Listen("tcp", s.ListenAddr); err != nil {
		return errors.Wrapf(err, "couldn't bind to address %q", s.ListenAddr)
	}
	s.server = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  s.ReadTimeout,
		WriteTimeout: s.WriteTimeout,
	}
	log.WithField("addr", s.listener.Addr().String()).Info("api: start websocket server")

	go func(server *http.Server, l net.Listener) {
		if err := server.Serve(l); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("api: websocket server serve error")
		}
	}(s.server, s.listener)
	return
}

// Addr returns the bound address once started.
func (s *Service) Addr() string {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop shuts the server down and drops every subscription.
func (s *Service) Stop() (err error) {
	s.lock.Lock()
	server := s.server
	s.server = nil
	s.lock.Unlock()

	s.subs.closeAll()
	if server == nil {
		return
	}
	log.Warn("api: shutdown websocket server")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err = server.Shutdown(ctx); err != nil {
		log.WithError(err).Error("api: shutdown server")
	}
	// hijacked websocket connections are not tracked by Shutdown
	s.ws.CloseAll()
	return
}

type accessLog struct{}

func (accessLog) Write(p []byte) (int, error) {
	log.Debug(strings.TrimSpace(string(p)))
	return len(p), nil
}

type recoveryLogger struct{}

func (recoveryLogger) Println(v ...interface{}) {
	log.Error(v...)
}
