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

// Package timer provides a stop watch that splits a task into named phases.
package timer

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/CovenantSQL/cql-oracle/utils/log"
)

// TotalPhase names the overall duration from start to the last pivot.
const TotalPhase = "total"

// Timer defines a stop watch timer for performance analysis.
type Timer struct {
	sync.Mutex
	start  time.Time
	names  []string
	pivots []time.Time
}

// NewTimer returns a new stop watch timer instance.
func NewTimer() *Timer {
	return &Timer{
		start: time.Now(),
	}
}

// Add records a time pivot ending the phase name.
func (t *Timer) Add(name string) {
	t.Lock()
	defer t.Unlock()

	t.names = append(t.names, name)
	t.pivots = append(t.pivots, time.Now())
}

// ToLogFields returns analysis results as log fields.
func (t *Timer) ToLogFields() log.Fields {
	m := t.ToMap()
	f := make(log.Fields, len(m))
	for k, v := range m {
		f[k] = v
	}
	return f
}

// ToMap returns analysis results as time duration map. A phase added more
// than once accumulates.
func (t *Timer) ToMap() map[string]time.Duration {
	t.Lock()
	defer t.Unlock()

	lp := len(t.pivots)
	m := make(map[string]time.Duration, 1+lp)
	if lp == 0 {
		return m
	}
	prev := t.start
	for i := 0; i != lp; i++ {
		m[t.names[i]] += t.pivots[i].Sub(prev)
		prev = t.pivots[i]
	}
	m[TotalPhase] = t.pivots[lp-1].Sub(t.start)
	return m
}

// ObserveTo reports every phase in seconds to vec, labeled by phase name.
// vec must have exactly one label.
func (t *Timer) ObserveTo(vec prometheus.ObserverVec) {
	for k, v := range t.ToMap() {
		vec.WithLabelValues(k).Observe(v.Seconds())
	}
}
