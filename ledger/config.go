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
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
)

// DefaultCallPrice is the initial call price, 0.01 ether in wei.
var DefaultCallPrice = new(big.Int).Exp(big.NewInt(10), big.NewInt(16), nil)

// GenesisAccount funds an account in the genesis block.
type GenesisAccount struct {
	Address common.Address
	Balance *big.Int
}

// Config is the ledger configuration.
type Config struct {
	// DataDir holds the leveldb state, it is created when missing.
	DataDir string
	ChainID uint64

	// Owner is the only identity allowed to fulfill requests and change the
	// call price.
	Owner     common.Address
	CallPrice *big.Int
	// TxFee is charged to the sender of every applied transaction and burned.
	TxFee *big.Int
	Alloc []GenesisAccount

	// Clock provides block timestamps, time.Now when nil.
	Clock func() time.Time
	// Registerer receives the ledger collectors, metrics are not exported
	// when nil.
	Registerer prometheus.Registerer
}

func (cfg *Config) callPrice() *big.Int {
	if cfg.CallPrice == nil {
		return new(big.Int).Set(DefaultCallPrice)
	}
	return new(big.Int).Set(cfg.CallPrice)
}

func (cfg *Config) txFee() *big.Int {
	if cfg.TxFee == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(cfg.TxFee)
}

func (cfg *Config) clock() func() time.Time {
	if cfg.Clock == nil {
		return time.Now
	}
	return cfg.Clock
}
