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

// Package metric builds the prometheus registries and the metrics listener of
// the oracle commands.
package metric

import (
	"net"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/common/version"

	"github.com/CovenantSQL/cql-oracle/utils/log"
	"github.com/CovenantSQL/cql-oracle/utils/log/debug"
)

// Path is the url path metrics are served on.
const Path = "/metrics"

// ProgramName labels the build info metric.
const ProgramName = "cql_oracle"

// NewRegistry returns a registry carrying the build, go runtime and process
// collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		version.NewCollector(ProgramName),
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	return reg
}

type errorLogger struct{}

func (errorLogger) Println(v ...interface{}) {
	log.Error(v...)
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{ErrorLog: errorLogger{}})
}

// Server is a standalone metrics listener.
type Server struct {
	server   *http.Server
	listener net.Listener
}

// Serve starts serving the metrics of g on addr, next to the log level
// handler.
func Serve(addr string, g prometheus.Gatherer) (s *Server, err error) {
	router := mux.NewRouter()
	router.Handle(Path, Handler(g)).Methods(http.MethodGet)
	router.Handle(debug.LevelPath, debug.LevelHandler())

	s = &Server{
		server: &http.Server{
			Handler:      handlers.RecoveryHandler()(router),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
	}
	if s.listener, err = net.Listen("tcp", addr); err != nil {
		return nil, errors.Wrapf(err, "listen metrics on %s failed", addr)
	}
	go func() {
		if err := s.server.Serve(s.listener); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("metrics server stopped")
		}
	}()
	log.WithField("addr", s.listener.Addr().String()).Info("metrics server started")
	return
}

// Addr returns the listening address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Close stops the listener.
func (s *Server) Close() error {
	return s.server.Close()
}
