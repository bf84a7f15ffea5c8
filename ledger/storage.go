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
	"encoding/binary"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/CovenantSQL/cql-oracle/types"
	"github.com/CovenantSQL/cql-oracle/utils"
)

var (
	headKey      = []byte("h")
	genesisKey   = []byte("g")
	callPriceKey = []byte("p")

	accountPrefix = []byte("a")
	requestPrefix = []byte("r")
	blockPrefix   = []byte("b")
	txPrefix      = []byte("t")
)

func uint64ToBytes(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func bytesToUint64(b []byte) (uint64, error) {
	if len(b) != 8 {
		return 0, ErrCorruptedIndex
	}
	return binary.BigEndian.Uint64(b), nil
}

func accountKey(addr common.Address) []byte {
	return append(common.CopyBytes(accountPrefix), addr.Bytes()...)
}

func requestKey(id common.Hash) []byte {
	return append(common.CopyBytes(requestPrefix), id.Bytes()...)
}

func blockKey(number uint64) []byte {
	return append(common.CopyBytes(blockPrefix), uint64ToBytes(number)...)
}

func txKey(h common.Hash) []byte {
	return append(common.CopyBytes(txPrefix), h.Bytes()...)
}

// Big integers are stored as big-endian magnitudes, every stored amount is
// non-negative.
func bigBytes(v *big.Int) []byte {
	if v == nil {
		return nil
	}
	return v.Bytes()
}

func bytesBig(b []byte) *big.Int {
	return new(big.Int).SetBytes(b)
}

type storedGenesis struct {
	ChainID uint64
	Owner   common.Address
}

type storedAccount struct {
	Balance      []byte
	Nonce        uint64
	RequestNonce []byte
}

type storedRequest struct {
	ID                 common.Hash
	Requester          common.Address
	CallbackAddr       common.Address
	CallbackFunctionID types.Selector
	CancelExpiration   []byte
	Data               []byte
	Paid               []byte
	Nonce              []byte
}

type storedOracleRequest struct {
	Requester          common.Address
	RequestID          common.Hash
	CallbackAddr       common.Address
	CallbackFunctionID types.Selector
	CancelExpiration   []byte
	Data               []byte
}

type storedCallbacked struct {
	Success            bool
	RequestID          common.Hash
	CallbackAddr       common.Address
	CallbackFunctionID types.Selector
	Data               []byte
}

type storedLog struct {
	Address       common.Address
	Event         string
	LogIndex      uint
	OracleRequest *storedOracleRequest
	Callbacked    *storedCallbacked
}

type storedBlock struct {
	Number     uint64
	Hash       common.Hash
	ParentHash common.Hash
	Timestamp  int64
	TxHash     common.Hash

	Kind      types.TxKind
	From      common.Address
	Fee       []byte
	RequestID *common.Hash
	Logs      []*storedLog
}

func putRecord(batch *leveldb.Batch, key []byte, v interface{}) (err error) {
	enc, err := utils.EncodeMsgPack(v)
	if err != nil {
		return errors.Wrapf(err, "encode record %x failed", key)
	}
	batch.Put(key, enc.Bytes())
	return
}

func getRecord(db *leveldb.DB, key []byte, v interface{}) (err error) {
	raw, err := db.Get(key, nil)
	if err != nil {
		return
	}
	if err = utils.DecodeMsgPack(raw, v); err != nil {
		err = errors.Wrapf(ErrCorruptedIndex, "decode record %x: %v", key, err)
	}
	return
}

func putAccount(batch *leveldb.Batch, addr common.Address, o *accountObject) error {
	return putRecord(batch, accountKey(addr), &storedAccount{
		Balance:      bigBytes(o.Balance),
		Nonce:        o.Nonce,
		RequestNonce: bigBytes(o.RequestNonce),
	})
}

func putRequest(batch *leveldb.Batch, r *types.Request) error {
	return putRecord(batch, requestKey(r.ID), &storedRequest{
		ID:                 r.ID,
		Requester:          r.Requester,
		CallbackAddr:       r.CallbackAddr,
		CallbackFunctionID: r.CallbackFunctionID,
		CancelExpiration:   bigBytes(r.CancelExpiration),
		Data:               r.Data,
		Paid:               bigBytes(r.Paid),
		Nonce:              bigBytes(r.Nonce),
	})
}

func (sr *storedRequest) toRequest() *types.Request {
	return &types.Request{
		ID:                 sr.ID,
		Requester:          sr.Requester,
		CallbackAddr:       sr.CallbackAddr,
		CallbackFunctionID: sr.CallbackFunctionID,
		CancelExpiration:   bytesBig(sr.CancelExpiration),
		Data:               common.CopyBytes(sr.Data),
		Paid:               bytesBig(sr.Paid),
		Nonce:              bytesBig(sr.Nonce),
	}
}

func putBlock(batch *leveldb.Batch, b *types.Block, r *types.Receipt) (err error) {
	sb := &storedBlock{
		Number:     b.Number,
		Hash:       b.Hash,
		ParentHash: b.ParentHash,
		Timestamp:  b.Timestamp,
		TxHash:     b.TxHash,
	}
	if r != nil {
		sb.Kind = r.Kind
		sb.From = r.From
		sb.Fee = bigBytes(r.Fee)
		sb.RequestID = r.RequestID
		for _, l := range r.Logs {
			sl := &storedLog{Address: l.Address, Event: l.Event, LogIndex: l.LogIndex}
			if e := l.OracleRequest; e != nil {
				sl.OracleRequest = &storedOracleRequest{
					Requester:          e.Requester,
					RequestID:          e.RequestID,
					CallbackAddr:       e.CallbackAddr,
					CallbackFunctionID: e.CallbackFunctionID,
					CancelExpiration:   bigBytes(e.CancelExpiration),
					Data:               e.Data,
				}
			}
			if e := l.Callbacked; e != nil {
				sl.Callbacked = &storedCallbacked{
					Success:            e.Success,
					RequestID:          e.RequestID,
					CallbackAddr:       e.CallbackAddr,
					CallbackFunctionID: e.CallbackFunctionID,
					Data:               e.Data,
				}
			}
			sb.Logs = append(sb.Logs, sl)
		}
		batch.Put(txKey(b.TxHash), uint64ToBytes(b.Number))
	}
	return putRecord(batch, blockKey(b.Number), sb)
}

func (sb *storedBlock) block() *types.Block {
	return &types.Block{
		Number:     sb.Number,
		Hash:       sb.Hash,
		ParentHash: sb.ParentHash,
		Timestamp:  sb.Timestamp,
		TxHash:     sb.TxHash,
	}
}

func (sb *storedBlock) logs() (logs []*types.Log) {
	for _, sl := range sb.Logs {
		l := &types.Log{
			Address:     sl.Address,
			Event:       sl.Event,
			BlockNumber: sb.Number,
			TxHash:      sb.TxHash,
			LogIndex:    sl.LogIndex,
		}
		if e := sl.OracleRequest; e != nil {
			l.OracleRequest = &types.OracleRequestEvent{
				Requester:          e.Requester,
				RequestID:          e.RequestID,
				CallbackAddr:       e.CallbackAddr,
				CallbackFunctionID: e.CallbackFunctionID,
				CancelExpiration:   bytesBig(e.CancelExpiration),
				Data:               common.CopyBytes(e.Data),
			}
		}
		if e := sl.Callbacked; e != nil {
			l.Callbacked = &types.CallbackedEvent{
				Success:            e.Success,
				RequestID:          e.RequestID,
				CallbackAddr:       e.CallbackAddr,
				CallbackFunctionID: e.CallbackFunctionID,
				Data:               common.CopyBytes(e.Data),
			}
		}
		logs = append(logs, l)
	}
	return
}

func (sb *storedBlock) receipt() *types.Receipt {
	r := &types.Receipt{
		TxHash:      sb.TxHash,
		Kind:        sb.Kind,
		From:        sb.From,
		BlockNumber: sb.Number,
		Fee:         bytesBig(sb.Fee),
		RequestID:   sb.RequestID,
		Logs:        sb.logs(),
	}
	if r.Logs == nil {
		r.Logs = []*types.Log{}
	}
	return r
}

func loadBlock(db *leveldb.DB, number uint64) (sb *storedBlock, err error) {
	sb = &storedBlock{}
	if err = getRecord(db, blockKey(number), sb); err == leveldb.ErrNotFound {
		err = errors.Wrapf(ErrBlockNotFound, "block %d", number)
	}
	return
}

// iterateBlocks calls fn for every block in [from, to] in ascending order.
func iterateBlocks(db *leveldb.DB, from, to uint64, fn func(sb *storedBlock) error) (err error) {
	if from > to {
		return
	}
	it := db.NewIterator(&util.Range{Start: blockKey(from), Limit: blockKey(to + 1)}, nil)
	defer it.Release()
	for it.Next() {
		sb := &storedBlock{}
		if err = utils.DecodeMsgPack(it.Value(), sb); err != nil {
			return errors.Wrapf(ErrCorruptedIndex, "decode block %x: %v", it.Key(), err)
		}
		if err = fn(sb); err != nil {
			return
		}
	}
	return it.Error()
}

// loadState reads every account, pending request and the call price.
func loadState(db *leveldb.DB, st *metaState) (err error) {
	it := db.NewIterator(util.BytesPrefix(accountPrefix), nil)
	for it.Next() {
		var sa storedAccount
		if err = utils.DecodeMsgPack(it.Value(), &sa); err != nil {
			it.Release()
			return errors.Wrapf(ErrCorruptedIndex, "decode account %x: %v", it.Key(), err)
		}
		st.readonly.accounts[common.BytesToAddress(it.Key()[len(accountPrefix):])] = &accountObject{
			Balance:      bytesBig(sa.Balance),
			Nonce:        sa.Nonce,
			RequestNonce: bytesBig(sa.RequestNonce),
		}
	}
	it.Release()
	if err = it.Error(); err != nil {
		return
	}

	it = db.NewIterator(util.BytesPrefix(requestPrefix), nil)
	for it.Next() {
		var sr storedRequest
		if err = utils.DecodeMsgPack(it.Value(), &sr); err != nil {
			it.Release()
			return errors.Wrapf(ErrCorruptedIndex, "decode request %x: %v", it.Key(), err)
		}
		st.readonly.requests[sr.ID] = sr.toRequest()
	}
	it.Release()
	if err = it.Error(); err != nil {
		return
	}

	raw, err := db.Get(callPriceKey, nil)
	if err != nil {
		return errors.Wrap(err, "load call price failed")
	}
	st.readonly.callPrice = bytesBig(raw)
	return
}
