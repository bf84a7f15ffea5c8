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

// ComputeRequest describes a computation to submit.
type ComputeRequest struct {
	CallbackAddr       common.Address
	CallbackFunctionID types.Selector
	// CancelExpiration is the unix time from which the request may be cancelled.
	CancelExpiration *big.Int
	Data             []byte
	// Value is the payment, the current call price when nil.
	Value *big.Int
}

// CallPrice returns the current call price.
func (c *Client) CallPrice(ctx context.Context) (price *big.Int, err error) {
	err = c.call(ctx, api.MethodCallPrice, &price)
	return
}

// Owner returns the oracle owner.
func (c *Client) Owner(ctx context.Context) (owner common.Address, err error) {
	err = c.call(ctx, api.MethodOwner, &owner)
	return
}

// Contract returns the address holding escrowed payments.
func (c *Client) Contract(ctx context.Context) (contract common.Address, err error) {
	err = c.call(ctx, api.MethodContract, &contract)
	return
}

// GetRequest returns a pending request, types.ErrUnknownRequest once it is
// fulfilled or cancelled.
func (c *Client) GetRequest(ctx context.Context, id common.Hash) (r *types.Request, err error) {
	r = new(types.Request)
	if err = c.call(ctx, api.MethodGetRequest, r, id); err != nil {
		return nil, err
	}
	return
}

// RequestNonce returns the nonce the next compute of requester will use.
func (c *Client) RequestNonce(ctx context.Context, requester common.Address) (nonce *big.Int, err error) {
	err = c.call(ctx, api.MethodRequestNonce, &nonce, requester)
	return
}

// ConsumerResult returns the result delivered to a consumer hosted by the node.
func (c *Client) ConsumerResult(ctx context.Context, consumer common.Address, id common.Hash) (
	r *api.ConsumerResult, err error,
) {
	r = new(api.ConsumerResult)
	if err = c.call(ctx, api.MethodConsumerResult, r, consumer, id); err != nil {
		return nil, err
	}
	return
}

// Compute submits a computation request, the receipt carries its id.
func (c *Client) Compute(ctx context.Context, req *ComputeRequest) (receipt *types.Receipt, err error) {
	value := req.Value
	if value == nil {
		if value, err = c.CallPrice(ctx); err != nil {
			return
		}
	}
	return c.SendTransaction(ctx, types.TxKindCompute, value, &types.ComputeArgs{
		CallbackAddr:       req.CallbackAddr,
		CallbackFunctionID: req.CallbackFunctionID,
		CancelExpiration:   req.CancelExpiration,
		Data:               req.Data,
	})
}

// Callback fulfills request id with a result slot.
func (c *Client) Callback(ctx context.Context, id common.Hash, result []byte) (*types.Receipt, error) {
	return c.SendTransaction(ctx, types.TxKindCallback, nil, &types.CallbackArgs{
		RequestID: id,
		Result:    result,
	})
}

// CancelCompute cancels request id and refunds its payment.
func (c *Client) CancelCompute(ctx context.Context, id common.Hash) (*types.Receipt, error) {
	return c.SendTransaction(ctx, types.TxKindCancelCompute, nil, &types.CancelComputeArgs{RequestID: id})
}

// SetCallPrice replaces the call price.
func (c *Client) SetCallPrice(ctx context.Context, price *big.Int) (*types.Receipt, error) {
	return c.SendTransaction(ctx, types.TxKindSetCallPrice, nil, &types.SetCallPriceArgs{Price: price})
}
