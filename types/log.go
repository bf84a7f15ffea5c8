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
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
)

// Ledger event names.
const (
	EventOracleRequest = "OracleRequest"
	EventCallbacked    = "Callbacked"
)

// OracleRequestEvent is emitted by compute.
type OracleRequestEvent struct {
	Requester          common.Address `json:"requester"`
	RequestID          common.Hash    `json:"requestId"`
	CallbackAddr       common.Address `json:"callbackAddr"`
	CallbackFunctionID Selector       `json:"callbackFunctionId"`
	CancelExpiration   *big.Int       `json:"cancelExpiration"`
	Data               hexutil.Bytes  `json:"data"`
}

// CallbackedEvent is emitted by callback. Success only reports the outcome of
// the downstream invocation.
type CallbackedEvent struct {
	Success            bool           `json:"success"`
	RequestID          common.Hash    `json:"requestId"`
	CallbackAddr       common.Address `json:"callbackAddr"`
	CallbackFunctionID Selector       `json:"callbackFunctionId"`
	Data               hexutil.Bytes  `json:"data"`
}

// Log is a ledger event together with its position in the chain.
type Log struct {
	Address     common.Address `json:"address"`
	Event       string         `json:"event"`
	BlockNumber uint64         `json:"blockNumber"`
	TxHash      common.Hash    `json:"transactionHash"`
	LogIndex    uint           `json:"logIndex"`

	OracleRequest *OracleRequestEvent `json:"oracleRequest,omitempty"`
	Callbacked    *CallbackedEvent    `json:"callbacked,omitempty"`
}

// Receipt describes an applied transaction.
type Receipt struct {
	TxHash      common.Hash    `json:"transactionHash"`
	Kind        TxKind         `json:"kind"`
	From        common.Address `json:"from"`
	BlockNumber uint64         `json:"blockNumber"`
	Fee         *big.Int       `json:"fee"`
	RequestID   *common.Hash   `json:"requestId,omitempty"`
	Logs        []*Log         `json:"logs"`
}

// Block is produced for every applied transaction.
type Block struct {
	Number     uint64      `json:"number"`
	Hash       common.Hash `json:"hash"`
	ParentHash common.Hash `json:"parentHash"`
	Timestamp  int64       `json:"timestamp"`
	TxHash     common.Hash `json:"transactionHash"`
}

// ComputeHash returns the hash of the block header fields.
func (b *Block) ComputeHash() common.Hash {
	enc, err := rlp.EncodeToBytes([]interface{}{b.Number, b.ParentHash, uint64(b.Timestamp), b.TxHash})
	if err != nil {
		panic(err)
	}
	return crypto.Keccak256Hash(enc)
}
