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
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	"github.com/CovenantSQL/cql-oracle/client"
	"github.com/CovenantSQL/cql-oracle/conf"
	"github.com/CovenantSQL/cql-oracle/types"
	"github.com/CovenantSQL/cql-oracle/utils/log"
)

const dialTimeout = 10 * time.Second

// Request status names printed by the status command.
const (
	StatusPending   = "pending"
	StatusFulfilled = "fulfilled"
	StatusCancelled = "cancelled"
	StatusUnknown   = "unknown"
)

type computeOptions struct {
	Data         string
	CallbackAddr common.Address
	Selector     types.Selector
	Window       time.Duration
	// Value is the payment, call price plus one wei when nil.
	Value *big.Int
}

// RequestStatus is the status command output.
type RequestStatus struct {
	RequestID common.Hash            `json:"requestId"`
	Status    string                 `json:"status"`
	Request   *types.Request         `json:"request,omitempty"`
	Callback  *types.CallbackedEvent `json:"callback,omitempty"`
	Result    string                 `json:"result,omitempty"`
}

func loadRequestConfig() (rc *conf.RequestConfig, err error) {
	cfg, err := conf.LoadConfig(configFile)
	if err != nil {
		return
	}
	if cfg.Request == nil {
		return nil, errors.New("config has no Request section")
	}
	return cfg.Request, nil
}

func dial(ctx context.Context, rc *conf.RequestConfig) (c *client.Client, err error) {
	key, err := conf.LoadPrivateKey(rc.PrivateKeyFile)
	if err != nil {
		return
	}
	dctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	if c, err = client.Dial(dctx, rc.Endpoint, key); err != nil {
		err = errors.Wrapf(err, "connect %s failed", rc.Endpoint)
	}
	return
}

// submitCompute sends a compute request expiring opts.Window after now.
func submitCompute(ctx context.Context, c *client.Client, opts *computeOptions, now time.Time) (
	receipt *types.Receipt, err error) {
	value := opts.Value
	if value == nil {
		var price *big.Int
		if price, err = c.CallPrice(ctx); err != nil {
			return
		}
		value = new(big.Int).Add(price, big.NewInt(1))
	}
	receipt, err = c.Compute(ctx, &client.ComputeRequest{
		CallbackAddr:       opts.CallbackAddr,
		CallbackFunctionID: opts.Selector,
		CancelExpiration:   big.NewInt(now.Add(opts.Window).Unix()),
		Data:               []byte(opts.Data),
		Value:              value,
	})
	if err == nil {
		log.WithFields(log.Fields{
			"request": receipt.RequestID.Hex(),
			"block":   receipt.BlockNumber,
			"value":   value,
		}).Info("compute request sent")
	}
	return
}

// waitCallback waits for the Callbacked event of id, starting at fromBlock.
func waitCallback(ctx context.Context, c *client.Client, id common.Hash, fromBlock uint64) (
	ev *types.CallbackedEvent, err error) {
	sub, err := c.Subscribe(ctx, types.EventCallbacked, fromBlock)
	if err != nil {
		return
	}
	defer sub.Unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return nil, errors.Wrap(ctx.Err(), "wait for callback")
		case logs, ok := <-sub.Logs():
			if !ok {
				err = <-sub.Err()
				if err == nil {
					err = client.ErrClosed
				}
				return nil, err
			}
			for _, l := range logs {
				if l.Callbacked != nil && l.Callbacked.RequestID == id {
					return l.Callbacked, nil
				}
			}
		}
	}
}

// requestStatus looks a request up, finished requests are resolved from the
// ledger logs.
func requestStatus(ctx context.Context, c *client.Client, id common.Hash) (s *RequestStatus, err error) {
	s = &RequestStatus{RequestID: id}
	s.Request, err = c.GetRequest(ctx, id)
	if err == nil {
		s.Status = StatusPending
		return
	}
	if errors.Cause(err) != types.ErrUnknownRequest {
		return nil, err
	}

	head, err := c.BlockNumber(ctx)
	if err != nil {
		return nil, err
	}
	callbacks, err := c.GetLogs(ctx, types.EventCallbacked, 0, head)
	if err != nil {
		return nil, err
	}
	for _, l := range callbacks {
		if l.Callbacked.RequestID == id {
			s.Status = StatusFulfilled
			s.Callback = l.Callbacked
			s.Result = types.DecodeResult(l.Callbacked.Data)
			return
		}
	}
	requests, err := c.GetLogs(ctx, types.EventOracleRequest, 0, head)
	if err != nil {
		return nil, err
	}
	s.Status = StatusUnknown
	for _, l := range requests {
		if l.OracleRequest.RequestID == id {
			s.Status = StatusCancelled
			break
		}
	}
	return
}

func printJSON(v interface{}) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		log.WithError(err).Error("encode output failed")
		SetExitStatus(1)
		return
	}
	fmt.Println(string(out))
}

// run loads the config, connects and calls fn, failures set the exit status.
func run(fn func(ctx context.Context, rc *conf.RequestConfig, c *client.Client) error) {
	ctx := context.Background()
	rc, err := loadRequestConfig()
	if err != nil {
		log.WithError(err).Error("load config failed")
		SetExitStatus(1)
		return
	}
	c, err := dial(ctx, rc)
	if err != nil {
		log.WithError(err).Error("dial node failed")
		SetExitStatus(1)
		return
	}
	defer c.Close()
	if err = fn(ctx, rc, c); err != nil {
		log.WithError(err).Error("request command failed")
		SetExitStatus(1)
	}
}
