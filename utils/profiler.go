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

package utils

import (
	"os"
	"runtime"
	"runtime/pprof"

	"github.com/pkg/errors"

	"github.com/CovenantSQL/cql-oracle/utils/log"
)

var prof struct {
	cpu *os.File
	mem *os.File
}

// StartProfile starts a CPU profile written to cpuProfile and opens
// memProfile for the heap profile written by StopProfile. Empty paths disable
// the matching profile.
func StartProfile(cpuProfile, memProfile string) (err error) {
	if cpuProfile != "" {
		var f *os.File
		if f, err = os.Create(cpuProfile); err != nil {
			return errors.Wrap(err, "create CPU profile file failed")
		}
		if err = pprof.StartCPUProfile(f); err != nil {
			_ = f.Close()
			return errors.Wrap(err, "start CPU profile failed")
		}
		prof.cpu = f
		log.WithField("file", cpuProfile).Info("writing CPU profile")
	}

	if memProfile != "" {
		var f *os.File
		if f, err = os.Create(memProfile); err != nil {
			return errors.Wrap(err, "create memory profile file failed")
		}
		prof.mem = f
		runtime.MemProfileRate = 4096
		log.WithField("file", memProfile).Info("memory profile enabled")
	}
	return
}

// StopProfile stops the running profiles and flushes them to their files.
func StopProfile() {
	if prof.cpu != nil {
		pprof.StopCPUProfile()
		_ = prof.cpu.Close()
		prof.cpu = nil
		log.Info("CPU profile stopped")
	}
	if prof.mem != nil {
		if err := pprof.WriteHeapProfile(prof.mem); err != nil {
			log.WithError(err).Warn("write memory profile failed")
		}
		_ = prof.mem.Close()
		prof.mem = nil
		log.Info("memory profile written")
	}
}
