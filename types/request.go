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

package types

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Request is a pending oracle computation escrowed by the ledger.
type Request struct {
	ID                 common.Hash    `json:"requestId"`
	Requester          common.Address `json:"requester"`
	CallbackAddr       common.Address `json:"callbackAddr"`
	CallbackFunctionID Selector       `json:"callbackFunctionId"`
	CancelExpiration   *big.Int       `json:"cancelExpiration"`
	Data               hexutil.Bytes  `json:"data"`
	Paid               *big.Int       `json:"paid"`
	Nonce              *big.Int       `json:"nonce"`
}

// Expired reports whether the request's cancel expiration is strictly before
// now, given in unix seconds.
func (r *Request) Expired(now int64) bool {
	return IsExpired(r.CancelExpiration, now)
}

// IsExpired reports whether expiration, in unix seconds, is strictly before now.
func IsExpired(expiration *big.Int, now int64) bool {
	if expiration == nil {
		return true
	}
	return expiration.Cmp(big.NewInt(now)) < 0
}

// ComputeArgs carries the arguments of a compute call.
type ComputeArgs struct {
	CallbackAddr       common.Address
	CallbackFunctionID Selector
	CancelExpiration   *big.Int
	Data               []byte
}

// CallbackArgs carries the arguments of a callback call. Result is kept
// variable-length so that the ledger can reject mis-sized results.
type CallbackArgs struct {
	RequestID common.Hash
	Result    []byte
}

// CancelComputeArgs carries the arguments of a cancelCompute call.
type CancelComputeArgs struct {
	RequestID common.Hash
}

// SetCallPriceArgs carries the arguments of a setCallPrice call.
type SetCallPriceArgs struct {
	Price *big.Int
}
