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
	"github.com/pkg/errors"

	"github.com/CovenantSQL/cql-oracle/api"
	"github.com/CovenantSQL/cql-oracle/conf"
	"github.com/CovenantSQL/cql-oracle/ledger"
	"github.com/CovenantSQL/cql-oracle/metric"
	"github.com/CovenantSQL/cql-oracle/utils/log"
)

const defaultResultBookSize = 1024

type node struct {
	chain   *ledger.Chain
	service *api.Service
}

func startNode(cfg *conf.NodeConfig) (n *node, err error) {
	lc, err := cfg.LedgerConfig()
	if err != nil {
		return
	}
	reg := metric.NewRegistry()
	lc.Registerer = reg

	n = &node{}
	if n.chain, err = ledger.NewChain(lc); err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = n.chain.Close()
			n = nil
		}
	}()

	for _, c := range cfg.Consumers {
		size := c.Size
		if size == 0 {
			size = defaultResultBookSize
		}
		var book *ledger.ResultBook
		if book, err = ledger.NewResultBook(c.Selector, size); err != nil {
			return nil, errors.Wrapf(err, "create result book %s failed", c.Address.Hex())
		}
		n.chain.RegisterCallee(c.Address, book)
		log.WithFields(log.Fields{"address": c.Address.Hex(), "selector": c.Selector}).Info("result book registered")
	}

	if n.service, err = api.NewService(n.chain, reg); err != nil {
		return
	}
	n.service.ListenAddr = cfg.ListenAddr
	n.service.ReadTimeout = cfg.ReadTimeout
	n.service.WriteTimeout = cfg.WriteTimeout
	if err = n.service.Start(); err != nil {
		return
	}

	log.WithFields(log.Fields{
		"chain_id": n.chain.ChainID(),
		"owner":    n.chain.Owner().Hex(),
		"contract": n.chain.Contract().Hex(),
		"head":     n.chain.BlockNumber(),
		"addr":     n.service.Addr(),
	}).Info("oracle node started")
	return
}

func (n *node) stop() {
	if err := n.service.Stop(); err != nil {
		log.WithError(err).Warn("stop api service failed")
	}
	if err := n.chain.Close(); err != nil {
		log.WithError(err).Warn("close ledger failed")
	}
	log.Info("oracle node stopped")
}
