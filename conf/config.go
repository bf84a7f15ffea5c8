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

// Package conf loads the yaml configuration shared by the oracle commands.
package conf

import (
	"crypto/ecdsa"
	"io/ioutil"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	validator "gopkg.in/go-playground/validator.v9"
	yaml "gopkg.in/yaml.v2"

	"github.com/CovenantSQL/cql-oracle/ledger"
	"github.com/CovenantSQL/cql-oracle/relay"
	"github.com/CovenantSQL/cql-oracle/types"
	"github.com/CovenantSQL/cql-oracle/utils"
	"github.com/CovenantSQL/cql-oracle/utils/log"
)

// DefaultRequestData is the request submitted by the request command when no
// payload is given, an arithmetic expression evaluated by the compute engine.
const DefaultRequestData = `{"numbers":[1],"ast":{"type":"operation","value":"+",` +
	`"left":{"type":"variable","index":0},"right":{"type":"number","value":2}}}`

// Default values of the optional settings.
const (
	DefaultListenAddr       = "127.0.0.1:8546"
	DefaultExpirationWindow = 5 * time.Minute
)

// Config holds all the config read from yaml config file, each command reads
// its own section.
type Config struct {
	Node    *NodeConfig    `yaml:"Node,omitempty"`
	Relay   *RelayConfig   `yaml:"Relay,omitempty"`
	Request *RequestConfig `yaml:"Request,omitempty"`
}

// GenesisAccount funds an account at genesis, Balance accepts the ParseWei formats.
type GenesisAccount struct {
	Address common.Address `yaml:"address" validate:"required"`
	Balance string         `yaml:"balance" validate:"required"`
}

// ConsumerConfig declares a result book callee on the node.
type ConsumerConfig struct {
	Address  common.Address `yaml:"address" validate:"required"`
	Selector types.Selector `yaml:"selector"`
	// Size bounds the number of results kept.
	Size int `yaml:"size" validate:"gte=0"`
}

// NodeConfig is the ledger and API node section.
type NodeConfig struct {
	DataDir      string           `yaml:"data_dir" validate:"required"`
	ListenAddr   string           `yaml:"listen_addr"`
	ChainID      uint64           `yaml:"chain_id" validate:"required"`
	Owner        common.Address   `yaml:"owner" validate:"required"`
	CallPrice    string           `yaml:"call_price"`
	TxFee        string           `yaml:"tx_fee"`
	ReadTimeout  time.Duration    `yaml:"read_timeout" validate:"gte=0"`
	WriteTimeout time.Duration    `yaml:"write_timeout" validate:"gte=0"`
	Alloc        []GenesisAccount `yaml:"alloc" validate:"dive"`
	Consumers    []ConsumerConfig `yaml:"consumers" validate:"dive"`
}

// RelayConfig is the relay section.
type RelayConfig struct {
	relay.Config `yaml:",inline"`

	PrivateKeyFile string `yaml:"private_key_file" validate:"required"`
	// MetricsAddr serves /metrics when not empty.
	MetricsAddr string `yaml:"metrics_addr"`
}

// RequestConfig is the request command section.
type RequestConfig struct {
	Endpoint           string         `yaml:"endpoint" validate:"required,url"`
	PrivateKeyFile     string         `yaml:"private_key_file" validate:"required"`
	CallbackAddr       common.Address `yaml:"callback_addr"`
	CallbackFunctionID types.Selector `yaml:"callback_function_id"`
	ExpirationWindow   time.Duration  `yaml:"expiration_window" validate:"gte=0"`
	Data               string         `yaml:"data"`
}

var validate = validator.New()

// LoadConfig loads config from configPath.
func LoadConfig(configPath string) (config *Config, err error) {
	configBytes, err := ioutil.ReadFile(utils.HomeDirExpand(configPath))
	if err != nil {
		err = errors.Wrap(err, "read config file failed")
		return
	}
	config = &Config{}
	if err = yaml.Unmarshal(configBytes, config); err != nil {
		err = errors.Wrap(err, "unmarshal config file failed")
		return nil, err
	}
	if err = validate.Struct(config); err != nil {
		err = errors.Wrap(err, "validate config failed")
		return nil, err
	}
	if n := config.Node; n != nil && n.ListenAddr == "" {
		n.ListenAddr = DefaultListenAddr
	}
	if r := config.Request; r != nil {
		if r.ExpirationWindow == 0 {
			r.ExpirationWindow = DefaultExpirationWindow
		}
		if r.Data == "" {
			r.Data = DefaultRequestData
		}
	}
	log.WithField("path", configPath).Debug("config loaded")
	return
}

// LedgerConfig converts the node section into a ledger configuration.
func (n *NodeConfig) LedgerConfig() (cfg *ledger.Config, err error) {
	cfg = &ledger.Config{
		DataDir: utils.HomeDirExpand(n.DataDir),
		ChainID: n.ChainID,
		Owner:   n.Owner,
	}
	if n.CallPrice != "" {
		if cfg.CallPrice, err = ParseWei(n.CallPrice); err != nil {
			return nil, errors.WithMessage(err, "call_price")
		}
	}
	if n.TxFee != "" {
		if cfg.TxFee, err = ParseWei(n.TxFee); err != nil {
			return nil, errors.WithMessage(err, "tx_fee")
		}
	}
	for _, a := range n.Alloc {
		var balance *big.Int
		if balance, err = ParseWei(a.Balance); err != nil {
			return nil, errors.WithMessagef(err, "alloc %s", a.Address.Hex())
		}
		cfg.Alloc = append(cfg.Alloc, ledger.GenesisAccount{Address: a.Address, Balance: balance})
	}
	return
}

// RelayEngineConfig returns the relay section with paths expanded.
func (r *RelayConfig) RelayEngineConfig() *relay.Config {
	cfg := r.Config
	cfg.Database = utils.HomeDirExpand(cfg.Database)
	return &cfg
}

// LoadPrivateKey reads a hex encoded secp256k1 private key file.
func LoadPrivateKey(path string) (key *ecdsa.PrivateKey, err error) {
	if key, err = crypto.LoadECDSA(utils.HomeDirExpand(path)); err != nil {
		err = errors.Wrapf(err, "load private key %s failed", path)
	}
	return
}

var units = map[string]*big.Int{
	"wei":   big.NewInt(1),
	"gwei":  big.NewInt(1e9),
	"ether": big.NewInt(1e18),
}

// ParseWei parses an amount like "1000", "1000 wei", "2.5 gwei" or
// "0.01 ether" into wei. The amount must be a whole number of wei.
func ParseWei(s string) (*big.Int, error) {
	fields := strings.Fields(s)
	unit := units["wei"]
	switch len(fields) {
	case 1:
	case 2:
		var ok bool
		if unit, ok = units[strings.ToLower(fields[1])]; !ok {
			return nil, errors.Errorf("unknown unit %q", fields[1])
		}
	default:
		return nil, errors.Errorf("invalid amount %q", s)
	}
	amount, ok := new(big.Rat).SetString(fields[0])
	if !ok || amount.Sign() < 0 {
		return nil, errors.Errorf("invalid amount %q", s)
	}
	amount.Mul(amount, new(big.Rat).SetInt(unit))
	if !amount.IsInt() {
		return nil, errors.Errorf("amount %q is not a whole number of wei", s)
	}
	return new(big.Int).Set(amount.Num()), nil
}
