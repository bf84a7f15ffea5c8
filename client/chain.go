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

package client

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/CovenantSQL/cql-oracle/api"
	"github.com/CovenantSQL/cql-oracle/types"
)

// ChainID returns the id of the connected chain.
func (c *Client) ChainID() uint64 {
	return c.chainID
}

// BlockNumber returns the head block number.
func (c *Client) BlockNumber(ctx context.Context) (number uint64, err error) {
	err = c.call(ctx, api.MethodBlockNumber, &number)
	return
}

// Balance returns the balance of addr.
func (c *Client) Balance(ctx context.Context, addr common.Address) (balance *big.Int, err error) {
	err = c.call(ctx, api.MethodGetBalance, &balance, addr)
	return
}

// Nonce returns the next transaction nonce of addr.
func (c *Client) Nonce(ctx context.Context, addr common.Address) (nonce uint64, err error) {
	err = c.call(ctx, api.MethodGetNonce, &nonce, addr)
	return
}

// GetBlock returns block number.
func (c *Client) GetBlock(ctx context.Context, number uint64) (b *types.Block, err error) {
	b = new(types.Block)
	if err = c.call(ctx, api.MethodGetBlock, b, number); err != nil {
		return nil, err
	}
	return
}

// GetReceipt returns the receipt of an applied transaction.
func (c *Client) GetReceipt(ctx context.Context, h common.Hash) (r *types.Receipt, err error) {
	r = new(types.Receipt)
	if err = c.call(ctx, api.MethodGetReceipt, r, h); err != nil {
		return nil, err
	}
	return
}

// GetLogs returns the logs of event in blocks [from, to], every event when event is empty.
func (c *Client) GetLogs(ctx context.Context, event string, from, to uint64) (logs []*types.Log, err error) {
	err = c.call(ctx, api.MethodGetLogs, &logs, event, from, to)
	return
}
