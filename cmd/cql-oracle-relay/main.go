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

package main

import (
	"context"
	"flag"
	"time"

	"github.com/pkg/errors"

	"github.com/CovenantSQL/cql-oracle/client"
	"github.com/CovenantSQL/cql-oracle/conf"
	"github.com/CovenantSQL/cql-oracle/metric"
	"github.com/CovenantSQL/cql-oracle/relay"
	"github.com/CovenantSQL/cql-oracle/utils"
	"github.com/CovenantSQL/cql-oracle/utils/log"
)

const dialTimeout = 10 * time.Second

var (
	configFile string
	logLevel   string

	cpuProfile string
	memProfile string
)

func init() {
	flag.StringVar(&configFile, "config", "~/.cql-oracle/config.yaml", "Config file path")
	flag.StringVar(&logLevel, "log-level", "", "Log level")
	flag.StringVar(&cpuProfile, "cpu-profile", "", "Path to file for CPU profiling information")
	flag.StringVar(&memProfile, "mem-profile", "", "Path to file for memory profiling information")
}

type relayer struct {
	client  *client.Client
	engine  *relay.Engine
	metrics *metric.Server
}

func main() {
	flag.Parse()
	log.SetStringLevel(logLevel, log.InfoLevel)

	if err := utils.StartProfile(cpuProfile, memProfile); err != nil {
		log.WithError(err).Fatal("start profile failed")
	}

	cfg, err := conf.LoadConfig(configFile)
	if err != nil {
		log.WithError(err).Fatal("load config failed")
	}
	if cfg.Relay == nil {
		log.Fatal("config has no Relay section")
	}

	r, err := startRelay(context.Background(), cfg.Relay)
	if err != nil {
		log.WithError(err).Fatal("start relay failed")
	}

	select {
	case <-utils.WaitForExit():
	case err = <-r.engine.Err():
		log.WithError(err).Error("relay engine failed")
	}

	r.stop()
	utils.StopProfile()
	if err != nil {
		log.Fatal("relay exited on error")
	}
}

func startRelay(ctx context.Context, cfg *conf.RelayConfig) (r *relayer, err error) {
	key, err := conf.LoadPrivateKey(cfg.PrivateKeyFile)
	if err != nil {
		return
	}
	rc := cfg.RelayEngineConfig()

	r = &relayer{}
	dctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	if r.client, err = client.Dial(dctx, rc.Endpoint, key); err != nil {
		return nil, errors.Wrapf(err, "connect %s failed", rc.Endpoint)
	}
	defer func() {
		if err != nil {
			r.stop()
			r = nil
		}
	}()

	owner, err := r.client.Owner(dctx)
	if err != nil {
		return
	}
	if owner != r.client.Address() {
		err = errors.Errorf("relay key %s is not the oracle owner %s", r.client.Address().Hex(), owner.Hex())
		return
	}

	if cfg.MetricsAddr != "" {
		reg := metric.NewRegistry()
		rc.Registerer = reg
		if r.metrics, err = metric.Serve(cfg.MetricsAddr, reg); err != nil {
			return
		}
	}

	if r.engine, err = relay.NewEngine(rc, r.client); err != nil {
		return
	}
	if err = r.engine.Start(ctx); err != nil {
		return
	}
	log.WithFields(log.Fields{
		"endpoint": rc.Endpoint,
		"compute":  rc.ComputeURL,
		"owner":    owner.Hex(),
	}).Info("relay started")
	return
}

func (r *relayer) stop() {
	if r.engine != nil {
		r.engine.Stop()
	}
	if r.metrics != nil {
		_ = r.metrics.Close()
	}
	if err := r.client.Close(); err != nil {
		log.WithError(err).Debug("close client failed")
	}
	log.Info("relay stopped")
}
