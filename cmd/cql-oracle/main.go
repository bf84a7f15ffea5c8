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
	"flag"

	"github.com/CovenantSQL/cql-oracle/conf"
	"github.com/CovenantSQL/cql-oracle/utils"
	"github.com/CovenantSQL/cql-oracle/utils/log"
)

var (
	configFile string
	logLevel   string
	listenAddr string

	cpuProfile string
	memProfile string
)

func init() {
	flag.StringVar(&configFile, "config", "~/.cql-oracle/config.yaml", "Config file path")
	flag.StringVar(&logLevel, "log-level", "", "Log level")
	flag.StringVar(&cpuProfile, "cpu-profile", "", "Path to file for CPU profiling information")
	flag.StringVar(&memProfile, "mem-profile", "", "Path to file for memory profiling information")
	flag.StringVar(&listenAddr, "listen", "", "Overrides the API listen address of the config")
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
	if cfg.Node == nil {
		log.Fatal("config has no Node section")
	}
	if listenAddr != "" {
		cfg.Node.ListenAddr = listenAddr
	}

	n, err := startNode(cfg.Node)
	if err != nil {
		log.WithError(err).Fatal("start node failed")
	}

	<-utils.WaitForExit()

	n.stop()
	utils.StopProfile()
}
