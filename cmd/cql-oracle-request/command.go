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
	"strings"
	"sync"
)

// Command is an implementation of a request subcommand.
type Command struct {
	// Run runs the command.
	// The args are the arguments after the command name.
	Run func(cmd *Command, args []string)

	// UsageLine is the one-line usage message.
	// The first word in the line is taken to be the command name.
	UsageLine string

	// Short is the short description shown in the 'help' output.
	Short string

	// Long is the long message shown in the 'help <this-command>' output.
	Long string

	// Flag is a set of flags specific to this command.
	Flag flag.FlagSet
}

// Name returns the command's short name.
func (c *Command) Name() string {
	name := c.UsageLine
	if i := strings.Index(name, " "); i >= 0 {
		name = name[:i]
	}
	return name
}

// Usage prints the command usage and exits.
func (c *Command) Usage() {
	fmt.Fprintf(os.Stderr, "usage: cql-oracle-request %s\n", c.UsageLine)
	fmt.Fprintf(os.Stderr, "%s\n", strings.TrimSpace(c.Long))
	c.Flag.PrintDefaults()
	SetExitStatus(2)
	Exit()
}

var (
	exitStatus = 0
	exitMu     sync.Mutex
)

// SetExitStatus sets the status returned by Exit, the highest status wins.
func SetExitStatus(n int) {
	exitMu.Lock()
	if exitStatus < n {
		exitStatus = n
	}
	exitMu.Unlock()
}

// Exit exits with the recorded status.
func Exit() {
	os.Exit(exitStatus)
}

func mainUsage() {
	fmt.Fprintf(os.Stderr, "usage: cql-oracle-request [-config file] [-log-level level] command [arguments]\n\ncommands:\n")
	for _, cmd := range commands {
		fmt.Fprintf(os.Stderr, "    %-10s %s\n", cmd.Name(), cmd.Short)
	}
	fmt.Fprintf(os.Stderr, "\nglobal flags:\n")
	flag.PrintDefaults()
	SetExitStatus(2)
	Exit()
}
