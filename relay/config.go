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

// Package relay forwards oracle requests emitted by the ledger to an
// off-chain compute engine and writes the results back with callback.
package relay

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Relay defaults.
const (
	DefaultWorkers         = 4
	DefaultQueueSize       = 64
	DefaultComputeTimeout  = 10 * time.Second
	DefaultCallbackTimeout = 10 * time.Second
	DefaultMaxRetries      = 5
	DefaultRetryInterval   = 500 * time.Millisecond
	DefaultSeenCacheSize   = 4096
)

// Config defines the relay config object for yaml config marshal/unmarshal.
type Config struct {
	// Endpoint is the websocket JSON-RPC endpoint of the oracle node.
	Endpoint string `json:"endpoint" yaml:"endpoint" validate:"required,url"`
	// ComputeURL is the base url of the compute engine, requests are posted
	// to {ComputeURL}/compute.
	ComputeURL string `json:"compute_url" yaml:"compute_url" validate:"required,url"`
	// Database is the sqlite file keeping request records and checkpoints.
	Database string `json:"database" yaml:"database" validate:"required"`
	// FromBlock is the first block watched when no checkpoint exists, the
	// head block when nil.
	FromBlock *uint64 `json:"from_block" yaml:"from_block"`

	Workers         int           `json:"workers" yaml:"workers" validate:"gte=0"`
	QueueSize       int           `json:"queue_size" yaml:"queue_size" validate:"gte=0"`
	ComputeTimeout  time.Duration `json:"compute_timeout" yaml:"compute_timeout" validate:"gte=0"`
	CallbackTimeout time.Duration `json:"callback_timeout" yaml:"callback_timeout" validate:"gte=0"`
	MaxRetries      uint64        `json:"max_retries" yaml:"max_retries"`
	RetryInterval   time.Duration `json:"retry_interval" yaml:"retry_interval" validate:"gte=0"`
	SeenCacheSize   int           `json:"seen_cache_size" yaml:"seen_cache_size" validate:"gte=0"`

	// Registerer receives the relay metrics, they are not exported when nil.
	Registerer prometheus.Registerer `json:"-" yaml:"-"`
}

// withDefaults returns a copy of cfg with unset values defaulted.
func (cfg *Config) withDefaults() *Config {
	c := *cfg
	if c.Workers == 0 {
		c.Workers = DefaultWorkers
	}
	if c.QueueSize == 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.ComputeTimeout == 0 {
		c.ComputeTimeout = DefaultComputeTimeout
	}
	if c.CallbackTimeout == 0 {
		c.CallbackTimeout = DefaultCallbackTimeout
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.RetryInterval == 0 {
		c.RetryInterval = DefaultRetryInterval
	}
	if c.SeenCacheSize == 0 {
		c.SeenCacheSize = DefaultSeenCacheSize
	}
	return &c
}
