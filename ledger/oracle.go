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

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	"github.com/CovenantSQL/cql-oracle/types"
	"github.com/CovenantSQL/cql-oracle/utils/log"
)

// execContext carries the environment of the transaction being applied.
type execContext struct {
	sender      common.Address
	value       *big.Int
	owner       common.Address
	contract    common.Address
	now         int64
	blockNumber uint64

	// invoke delivers a fulfilled result to the callee at an address and
	// reports whether the call succeeded.
	invoke func(addr common.Address, call *CalleeCall) bool

	logs      []*types.Log
	requestID *common.Hash
}

func (ctx *execContext) emit(event string, l *types.Log) {
	l.Event = event
	ctx.logs = append(ctx.logs, l)
}

func (s *metaState) compute(ctx *execContext, args *types.ComputeArgs) (err error) {
	price := s.callPrice()
	if ctx.value.Cmp(price) < 0 {
		return errors.Wrapf(types.ErrInsufficientPayment, "paid %s, call price %s", ctx.value, price)
	}

	// the whole value enters the contract, the excess is refunded at once
	if err = s.transfer(ctx.sender, ctx.contract, ctx.value); err != nil {
		return
	}
	if excess := new(big.Int).Sub(ctx.value, price); excess.Sign() > 0 {
		if err = s.transfer(ctx.contract, ctx.sender, excess); err != nil {
			return
		}
	}

	expiration := new(big.Int)
	if args.CancelExpiration != nil {
		expiration.Set(args.CancelExpiration)
	}
	nonce := s.nextRequestNonce(ctx.sender)
	id := types.RequestID(ctx.sender, nonce)
	s.increaseRequestNonce(ctx.sender)

	r := &types.Request{
		ID:                 id,
		Requester:          ctx.sender,
		CallbackAddr:       args.CallbackAddr,
		CallbackFunctionID: args.CallbackFunctionID,
		CancelExpiration:   expiration,
		Data:               common.CopyBytes(args.Data),
		Paid:               price,
		Nonce:              nonce,
	}
	s.storeRequest(r)
	ctx.requestID = &id

	ctx.emit(types.EventOracleRequest, &types.Log{
		OracleRequest: &types.OracleRequestEvent{
			Requester:          r.Requester,
			RequestID:          r.ID,
			CallbackAddr:       r.CallbackAddr,
			CallbackFunctionID: r.CallbackFunctionID,
			CancelExpiration:   new(big.Int).Set(expiration),
			Data:               common.CopyBytes(r.Data),
		},
	})
	return
}

func (s *metaState) callback(ctx *execContext, args *types.CallbackArgs) (err error) {
	if ctx.sender != ctx.owner {
		return errors.Wrapf(types.ErrUnauthorized, "callback from %s", ctx.sender.Hex())
	}
	r, ok := s.loadRequest(args.RequestID)
	if !ok {
		return errors.Wrapf(types.ErrUnknownRequest, "request %s", args.RequestID.Hex())
	}
	if len(args.Result) != types.ResultSize {
		return errors.Wrapf(types.ErrMalformedResult, "result of %d bytes", len(args.Result))
	}

	s.deleteRequest(r.ID)
	if err = s.transfer(ctx.contract, ctx.owner, r.Paid); err != nil {
		return
	}

	success := true
	if ctx.invoke != nil {
		success = ctx.invoke(r.CallbackAddr, &CalleeCall{
			Selector:    r.CallbackFunctionID,
			RequestID:   r.ID,
			Result:      common.CopyBytes(args.Result),
			BlockNumber: ctx.blockNumber,
		})
	}
	if !success {
		log.WithFields(log.Fields{
			"request":  r.ID.Hex(),
			"callee":   r.CallbackAddr.Hex(),
			"selector": r.CallbackFunctionID.String(),
		}).Warn("downstream callback failed")
	}

	ctx.emit(types.EventCallbacked, &types.Log{
		Callbacked: &types.CallbackedEvent{
			Success:            success,
			RequestID:          r.ID,
			CallbackAddr:       r.CallbackAddr,
			CallbackFunctionID: r.CallbackFunctionID,
			Data:               common.CopyBytes(args.Result),
		},
	})
	return
}

func (s *metaState) cancelCompute(ctx *execContext, args *types.CancelComputeArgs) (err error) {
	r, ok := s.loadRequest(args.RequestID)
	if !ok {
		return errors.Wrapf(types.ErrUnknownRequest, "request %s", args.RequestID.Hex())
	}
	if ctx.sender != r.Requester {
		return errors.Wrapf(types.ErrUnauthorized, "cancel from %s, requester %s",
			ctx.sender.Hex(), r.Requester.Hex())
	}
	if r.CancelExpiration.Cmp(big.NewInt(ctx.now)) > 0 {
		return errors.Wrapf(types.ErrTooEarly, "now %d, expiration %s", ctx.now, r.CancelExpiration)
	}

	s.deleteRequest(r.ID)
	return s.transfer(ctx.contract, r.Requester, r.Paid)
}

func (s *metaState) updateCallPrice(ctx *execContext, args *types.SetCallPriceArgs) (err error) {
	if ctx.sender != ctx.owner {
		return errors.Wrapf(types.ErrUnauthorized, "setCallPrice from %s", ctx.sender.Hex())
	}
	price := new(big.Int)
	if args.Price != nil {
		price.Set(args.Price)
	}
	s.setCallPrice(price)
	return
}
