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

package api

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sourcegraph/jsonrpc2"

	"github.com/CovenantSQL/cql-oracle/chainbus"
	"github.com/CovenantSQL/cql-oracle/ledger"
	"github.com/CovenantSQL/cql-oracle/types"
	"github.com/CovenantSQL/cql-oracle/utils/log"
)

// SubscriptionNotice is the payload of a subscription notification.
type SubscriptionNotice struct {
	Subscription string       `json:"subscription"`
	Logs         []*types.Log `json:"logs"`
}

// subscriptions binds ledger subscriptions to the connections that own them.
type subscriptions struct {
	sync.Mutex
	chain *ledger.Chain
	conns map[*jsonrpc2.Conn]map[string]chainbus.Subscription

	connections prometheus.Gauge
	active      prometheus.Gauge
}

func newSubscriptions(chain *ledger.Chain) *subscriptions {
	return &subscriptions{
		chain: chain,
		conns: make(map[*jsonrpc2.Conn]map[string]chainbus.Subscription),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "oracle_api",
			Name:      "connections",
			Help:      "Open websocket connections",
		}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "oracle_api",
			Name:      "subscriptions",
			Help:      "Active log subscriptions",
		}),
	}
}

func (s *subscriptions) subscribe(conn *jsonrpc2.Conn, id, event string, fromBlock uint64) (err error) {
	s.Lock()
	defer s.Unlock()
	subs, ok := s.conns[conn]
	if !ok {
		subs = make(map[string]chainbus.Subscription)
		s.conns[conn] = subs
		go s.watch(conn)
	}
	if _, ok := subs[id]; ok {
		return &jsonrpc2.Error{
			Code:    jsonrpc2.CodeInvalidParams,
			Message: errors.Errorf("subscription %q exists", id).Error(),
		}
	}

	sub, err := s.chain.Subscribe(event, fromBlock, func(logs []*types.Log) {
		if err := conn.Notify(context.Background(), NotificationSubscription, &SubscriptionNotice{
			Subscription: id,
			Logs:         logs,
		}); err != nil {
			log.WithField("subscription", id).WithError(err).Debug("api: notify subscriber failed")
		}
	})
	if err != nil {
		return
	}
	subs[id] = sub
	s.active.Inc()
	log.WithFields(log.Fields{
		"subscription": id,
		"event":        event,
		"from":         fromBlock,
	}).Debug("api: subscription created")
	return
}

func (s *subscriptions) unsubscribe(conn *jsonrpc2.Conn, id string) bool {
	s.Lock()
	defer s.Unlock()
	sub, ok := s.conns[conn][id]
	if !ok {
		return false
	}
	sub.Unsubscribe()
	delete(s.conns[conn], id)
	s.active.Dec()
	return true
}

func (s *subscriptions) drop(conn *jsonrpc2.Conn) {
	s.Lock()
	defer s.Unlock()
	for _, sub := range s.conns[conn] {
		sub.Unsubscribe()
		s.active.Dec()
	}
	delete(s.conns, conn)
}

// watch drops the subscriptions of conn once it is disconnected.
func (s *subscriptions) watch(conn *jsonrpc2.Conn) {
	<-conn.DisconnectNotify()
	s.drop(conn)
}

func (s *subscriptions) closeAll() {
	s.Lock()
	conns := make([]*jsonrpc2.Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.Unlock()
	for _, c := range conns {
		s.drop(c)
	}
}
