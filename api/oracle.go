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
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/sourcegraph/jsonrpc2"

	"github.com/CovenantSQL/cql-oracle/ledger"
	"github.com/CovenantSQL/cql-oracle/rpc/jsonrpc"
	"github.com/CovenantSQL/cql-oracle/types"
)

// Oracle methods.
const (
	MethodSendRawTransaction = "oracle_sendRawTransaction"
	MethodCallPrice          = "oracle_callPrice"
	MethodOwner              = "oracle_owner"
	MethodContract           = "oracle_contract"
	MethodGetRequest         = "oracle_getRequest"
	MethodRequestNonce       = "oracle_requestNonce"
	MethodConsumerResult     = "oracle_consumerResult"
)

var errNoResult = errors.New("no result delivered to consumer")

// ConsumerResult is a fulfilled result kept by a consumer.
type ConsumerResult struct {
	Consumer  common.Address `json:"consumer"`
	RequestID common.Hash    `json:"requestId"`
	Result    hexutil.Bytes  `json:"result"`
	// Decoded is the JSON document carried by the result slot.
	Decoded string `json:"decoded"`
}

type sendRawTransactionParams struct {
	Raw hexutil.Bytes `json:"raw" validate:"required"`
}

type requestParams struct {
	ID common.Hash `json:"id"`
}

type addressParams struct {
	Address common.Address `json:"address"`
}

type consumerResultParams struct {
	Consumer common.Address `json:"consumer"`
	ID       common.Hash    `json:"id"`
}

func (s *Service) registerOracleMethods() {
	s.rpc.RegisterMethod(MethodSendRawTransaction, s.sendRawTransaction, sendRawTransactionParams{})
	s.rpc.RegisterMethod(MethodCallPrice, s.callPrice, nil)
	s.rpc.RegisterMethod(MethodOwner, s.owner, nil)
	s.rpc.RegisterMethod(MethodContract, s.contract, nil)
	s.rpc.RegisterMethod(MethodGetRequest, s.getRequest, requestParams{})
	s.rpc.RegisterMethod(MethodRequestNonce, s.requestNonce, addressParams{})
	s.rpc.RegisterMethod(MethodConsumerResult, s.consumerResult, consumerResultParams{})
}

func (s *Service) sendRawTransaction(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) (
	result interface{}, err error,
) {
	params := jsonrpc.Params(ctx).(*sendRawTransactionParams)
	tx := new(types.Transaction)
	if err = tx.Deserialize(params.Raw); err != nil {
		return
	}
	return s.chain.Apply(tx)
}

func (s *Service) callPrice(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) (
	result interface{}, err error,
) {
	return s.chain.CallPrice(), nil
}

func (s *Service) owner(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) (
	result interface{}, err error,
) {
	return s.chain.Owner(), nil
}

func (s *Service) contract(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) (
	result interface{}, err error,
) {
	return s.chain.Contract(), nil
}

func (s *Service) getRequest(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) (
	result interface{}, err error,
) {
	params := jsonrpc.Params(ctx).(*requestParams)
	return s.chain.GetRequest(params.ID)
}

func (s *Service) requestNonce(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) (
	result interface{}, err error,
) {
	params := jsonrpc.Params(ctx).(*addressParams)
	return s.chain.RequestNonce(params.Address), nil
}

func (s *Service) consumerResult(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) (
	result interface{}, err error,
) {
	params := jsonrpc.Params(ctx).(*consumerResultParams)
	callee, ok := s.chain.Callee(params.Consumer)
	if !ok {
		return nil, errNoResult
	}
	book, ok := callee.(*ledger.ResultBook)
	if !ok {
		return nil, errNoResult
	}
	slot, ok := book.Result(params.ID)
	if !ok {
		return nil, errNoResult
	}
	return &ConsumerResult{
		Consumer:  params.Consumer,
		RequestID: params.ID,
		Result:    slot,
		Decoded:   types.DecodeResult(slot),
	}, nil
}
