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

package ledger

import (
	"math/big"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/CovenantSQL/cql-oracle/types"
)

const metricNamespace = "oracle_ledger"

// chainStatsMetrics provide description, value, and value type for chain state metrics.
type chainStatsMetrics []struct {
	desc    *prometheus.Desc
	eval    func(*Chain) float64
	valType prometheus.ValueType
}

// chainCollector exports gauges read from the committed chain state.
type chainCollector struct {
	chain   *Chain
	metrics chainStatsMetrics
}

func newChainCollector(c *Chain) *chainCollector {
	return &chainCollector{
		chain: c,
		metrics: chainStatsMetrics{
			{
				desc: prometheus.NewDesc(
					prometheus.BuildFQName(metricNamespace, "", "head_block"),
					"Number of the latest block",
					nil, nil,
				),
				eval: func(c *Chain) float64 {
					return float64(c.head.Number)
				},
				valType: prometheus.GaugeValue,
			},
			{
				desc: prometheus.NewDesc(
					prometheus.BuildFQName(metricNamespace, "", "pending_requests"),
					"Number of requests awaiting fulfillment or cancellation",
					nil, nil,
				),
				eval: func(c *Chain) float64 {
					return float64(c.st.pendingCount())
				},
				valType: prometheus.GaugeValue,
			},
			{
				desc: prometheus.NewDesc(
					prometheus.BuildFQName(metricNamespace, "", "escrow_wei"),
					"Balance held by the oracle contract",
					nil, nil,
				),
				eval: func(c *Chain) float64 {
					return weiFloat(c.st.balance(c.contract))
				},
				valType: prometheus.GaugeValue,
			},
			{
				desc: prometheus.NewDesc(
					prometheus.BuildFQName(metricNamespace, "", "call_price_wei"),
					"Current call price",
					nil, nil,
				),
				eval: func(c *Chain) float64 {
					return weiFloat(c.st.callPrice())
				},
				valType: prometheus.GaugeValue,
			},
		},
	}
}

func weiFloat(v *big.Int) float64 {
	f, _ := new(big.Float).SetInt(v).Float64()
	return f
}

// Describe returns all descriptions of the collector.
func (cc *chainCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, i := range cc.metrics {
		ch <- i.desc
	}
}

// Collect returns the current state of all metrics of the collector.
func (cc *chainCollector) Collect(ch chan<- prometheus.Metric) {
	cc.chain.RLock()
	defer cc.chain.RUnlock()
	if cc.chain.closed {
		return
	}
	for _, i := range cc.metrics {
		ch <- prometheus.MustNewConstMetric(i.desc, i.valType, i.eval(cc.chain))
	}
}

type chainMetrics struct {
	applied  *prometheus.CounterVec
	rejected *prometheus.CounterVec
}

func newChainMetrics() *chainMetrics {
	return &chainMetrics{
		applied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricNamespace,
			Name:      "applied_transactions_total",
			Help:      "Transactions applied to the ledger",
		}, []string{"kind"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricNamespace,
			Name:      "rejected_transactions_total",
			Help:      "Transactions rejected by the ledger",
		}, []string{"kind", "reason"}),
	}
}

func (m *chainMetrics) register(reg prometheus.Registerer, c *Chain) (err error) {
	if reg == nil {
		return
	}
	for _, col := range []prometheus.Collector{m.applied, m.rejected, newChainCollector(c)} {
		if err = reg.Register(col); err != nil {
			return errors.Wrap(err, "register ledger metrics failed")
		}
	}
	return
}

func (m *chainMetrics) observe(kind types.TxKind, err error) {
	if err == nil {
		m.applied.WithLabelValues(kind.String()).Inc()
		return
	}
	m.rejected.WithLabelValues(kind.String(), errors.Cause(err).Error()).Inc()
}
