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

	"github.com/ethereum/go-ethereum/common"
	"github.com/sourcegraph/jsonrpc2"

	"github.com/CovenantSQL/cql-oracle/rpc/jsonrpc"
)

// Chain methods.
const (
	MethodChainID     = "chain_id"
	MethodBlockNumber = "chain_blockNumber"
	MethodGetBalance  = "chain_getBalance"
	MethodGetNonce    = "chain_getNonce"
	MethodGetBlock    = "chain_getBlock"
	MethodGetReceipt  = "chain_getReceipt"
	MethodGetLogs     = "chain_getLogs"
	MethodSubscribe   = "chain_subscribe"
	MethodUnsubscribe = "chain_unsubscribe"

	// NotificationSubscription carries the logs of a subscription.
	NotificationSubscription = "chain_subscription"
)

type blockParams struct {
	Number uint64 `json:"number"`
}

type receiptParams struct {
	Hash common.Hash `json:"hash"`
}

type getLogsParams struct {
	Event string `json:"event" validate:"omitempty,oneof=OracleRequest Callbacked"`
	From  uint64 `json:"from"`
	To    uint64 `json:"to" validate:"gtefield=From"`
}

type subscribeParams struct {
	ID        string `json:"id" validate:"required,max=64"`
	Event     string `json:"event" validate:"required,oneof=OracleRequest Callbacked"`
	FromBlock uint64 `json:"fromBlock"`
}

type unsubscribeParams struct {
	ID string `json:"id" validate:"required"`
}

func (s *Service) registerChainMethods() {
	s.rpc.RegisterMethod(MethodChainID, s.chainID, nil)
	s.rpc.RegisterMethod(MethodBlockNumber, s.blockNumber, nil)
	s.rpc.RegisterMethod(MethodGetBalance, s.getBalance, addressParams{})
	s.rpc.RegisterMethod(MethodGetNonce, s.getNonce, addressParams{})
	s.rpc.RegisterMethod(MethodGetBlock, s.getBlock, blockParams{})
	s.rpc.RegisterMethod(MethodGetReceipt, s.getReceipt, receiptParams{})
	s.rpc.RegisterMethod(MethodGetLogs, s.getLogs, getLogsParams{})
	s.rpc.RegisterMethod(MethodSubscribe, s.subscribe, subscribeParams{})
	s.rpc.RegisterMethod(MethodUnsubscribe, s.unsubscribe, unsubscribeParams{})
}

func (s *Service) chainID(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) (
	result interface{}, err error,
) {
	return s.chain.ChainID(), nil
}

func (s *Service) blockNumber(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) (
	result interface{}, err error,
) {
	return s.chain.BlockNumber(), nil
}

func (s *Service) getBalance(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) (
	result interface{}, err error,
) {
	params := jsonrpc.Params(ctx).(*addressParams)
	return s.chain.Balance(params.Address), nil
}

func (s *Service) getNonce(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) (
	result interface{}, err error,
) {
	params := jsonrpc.Params(ctx).(*addressParams)
	return s.chain.Nonce(params.Address), nil
}

func (s *Service) getBlock(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) (
	result interface{}, err error,
) {
	params := jsonrpc.Params(ctx).(*blockParams)
	return s.chain.GetBlock(params.Number)
}

func (s *Service) getReceipt(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) (
	result interface{}, err error,
) {
	params := jsonrpc.Params(ctx).(*receiptParams)
	return s.chain.GetReceipt(params.Hash)
}

func (s *Service) getLogs(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) (
	result interface{}, err error,
) {
	params := jsonrpc.Params(ctx).(*getLogsParams)
	return s.chain.GetLogs(params.Event, params.From, params.To)
}

func (s *Service) subscribe(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) (
	result interface{}, err error,
) {
	params := jsonrpc.Params(ctx).(*subscribeParams)
	if err = s.subs.subscribe(conn, params.ID, params.Event, params.FromBlock); err != nil {
		return
	}
	return params.ID, nil
}

func (s *Service) unsubscribe(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) (
	result interface{}, err error,
) {
	params := jsonrpc.Params(ctx).(*unsubscribeParams)
	return s.subs.unsubscribe(conn, params.ID), nil
}
