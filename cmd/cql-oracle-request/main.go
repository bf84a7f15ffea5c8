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
	"fmt"
	"os"

	"github.com/CovenantSQL/cql-oracle/utils/log"
)

var (
	configFile string
	logLevel   string
	commands   []*Command
)

func init() {
	flag.StringVar(&configFile, "config", "~/.cql-oracle/config.yaml", "Config file path")
	flag.StringVar(&logLevel, "log-level", "", "Log level")
	commands = []*Command{
		CmdCompute,
		CmdCancel,
		CmdStatus,
		CmdPrice,
		CmdSetPrice,
	}
}

func main() {
	flag.Usage = mainUsage
	flag.Parse()
	log.SetStringLevel(logLevel, log.WarnLevel)

	args := flag.Args()
	if len(args) < 1 {
		mainUsage()
	}

	for _, cmd := range commands {
		if cmd.Name() != args[0] {
			continue
		}
		cmd.Flag.Usage = func() { cmd.Usage() }
		_ = cmd.Flag.Parse(args[1:])
		cmd.Run(cmd, cmd.Flag.Args())
		Exit()
		return
	}
	fmt.Fprintf(os.Stderr, "cql-oracle-request %s: unknown command\n", args[0])
	SetExitStatus(2)
	mainUsage()
}
