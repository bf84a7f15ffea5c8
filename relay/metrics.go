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

package relay

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricNamespace = "oracle_relay"

type relayMetrics struct {
	detected   *prometheus.CounterVec
	states     *prometheus.CounterVec
	phases     *prometheus.HistogramVec
	checkpoint *prometheus.GaugeVec
	inflight   prometheus.Gauge
}

func newRelayMetrics() *relayMetrics {
	return &relayMetrics{
		detected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricNamespace,
			Name:      "events_total",
			Help:      "Number of ledger events received, by event",
		}, []string{"event"}),
		states: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricNamespace,
			Name:      "request_transitions_total",
			Help:      "Number of request state transitions, by target state",
		}, []string{"state"}),
		phases: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricNamespace,
			Name:      "dispatch_phase_seconds",
			Help:      "Duration of dispatch phases including retries, by phase",
			Buckets:   prometheus.DefBuckets,
		}, []string{"phase"}),
		checkpoint: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricNamespace,
			Name:      "checkpoint_block",
			Help:      "Last block handled, by watch",
		}, []string{"watch"}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricNamespace,
			Name:      "inflight_dispatches",
			Help:      "Number of queued or running dispatches",
		}),
	}
}

func (m *relayMetrics) register(reg prometheus.Registerer) error {
	if reg == nil {
		return nil
	}
	for _, c := range []prometheus.Collector{m.detected, m.states, m.phases, m.checkpoint, m.inflight} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func (m *relayMetrics) unregister(reg prometheus.Registerer) {
	if reg == nil {
		return
	}
	for _, c := range []prometheus.Collector{m.detected, m.states, m.phases, m.checkpoint, m.inflight} {
		reg.Unregister(c)
	}
}
