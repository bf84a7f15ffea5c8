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
	"github.com/syndtr/goleveldb/leveldb"

	"github.com/CovenantSQL/cql-oracle/types"
)

type accountObject struct {
	Balance      *big.Int
	Nonce        uint64
	RequestNonce *big.Int
}

func newAccountObject() *accountObject {
	return &accountObject{
		Balance:      new(big.Int),
		RequestNonce: new(big.Int),
	}
}

func (o *accountObject) copy() *accountObject {
	return &accountObject{
		Balance:      new(big.Int).Set(o.Balance),
		Nonce:        o.Nonce,
		RequestNonce: new(big.Int).Set(o.RequestNonce),
	}
}

type stateIndex struct {
	accounts map[common.Address]*accountObject
	// a nil request in the dirty index marks a deletion
	requests  map[common.Hash]*types.Request
	callPrice *big.Int
}

func newStateIndex() *stateIndex {
	return &stateIndex{
		accounts: make(map[common.Address]*accountObject),
		requests: make(map[common.Hash]*types.Request),
	}
}

// metaState keeps the committed state in readonly and the changes of the
// transaction being applied in dirty. Callers serialize access.
type metaState struct {
	dirty, readonly *stateIndex
}

func newMetaState() *metaState {
	return &metaState{
		dirty:    newStateIndex(),
		readonly: newStateIndex(),
	}
}

func (s *metaState) loadAccount(addr common.Address) (o *accountObject, loaded bool) {
	if o, loaded = s.dirty.accounts[addr]; loaded {
		return
	}
	o, loaded = s.readonly.accounts[addr]
	return
}

// dirtyAccount returns the writable copy of addr, creating an empty account
// when none exists.
func (s *metaState) dirtyAccount(addr common.Address) *accountObject {
	if o, ok := s.dirty.accounts[addr]; ok {
		return o
	}
	var o *accountObject
	if src, ok := s.readonly.accounts[addr]; ok {
		o = src.copy()
	} else {
		o = newAccountObject()
	}
	s.dirty.accounts[addr] = o
	return o
}

func (s *metaState) balance(addr common.Address) *big.Int {
	if o, ok := s.loadAccount(addr); ok {
		return new(big.Int).Set(o.Balance)
	}
	return new(big.Int)
}

func (s *metaState) increaseBalance(addr common.Address, amount *big.Int) {
	if amount.Sign() == 0 {
		return
	}
	o := s.dirtyAccount(addr)
	o.Balance.Add(o.Balance, amount)
}

func (s *metaState) decreaseBalance(addr common.Address, amount *big.Int) error {
	if amount.Sign() == 0 {
		return nil
	}
	if s.balance(addr).Cmp(amount) < 0 {
		return errors.Wrapf(types.ErrInsufficientBalance, "account %s", addr.Hex())
	}
	o := s.dirtyAccount(addr)
	o.Balance.Sub(o.Balance, amount)
	return nil
}

func (s *metaState) transfer(from, to common.Address, amount *big.Int) (err error) {
	if from == to || amount.Sign() == 0 {
		return
	}
	if err = s.decreaseBalance(from, amount); err != nil {
		return
	}
	s.increaseBalance(to, amount)
	return
}

func (s *metaState) nextNonce(addr common.Address) uint64 {
	if o, ok := s.loadAccount(addr); ok {
		return o.Nonce
	}
	return 0
}

func (s *metaState) increaseNonce(addr common.Address) {
	s.dirtyAccount(addr).Nonce++
}

func (s *metaState) nextRequestNonce(addr common.Address) *big.Int {
	if o, ok := s.loadAccount(addr); ok {
		return new(big.Int).Set(o.RequestNonce)
	}
	return new(big.Int)
}

func (s *metaState) increaseRequestNonce(addr common.Address) {
	o := s.dirtyAccount(addr)
	o.RequestNonce.Add(o.RequestNonce, common.Big1)
}

func (s *metaState) loadRequest(id common.Hash) (r *types.Request, loaded bool) {
	if r, loaded = s.dirty.requests[id]; loaded {
		return r, r != nil
	}
	r, loaded = s.readonly.requests[id]
	return
}

func (s *metaState) storeRequest(r *types.Request) {
	s.dirty.requests[r.ID] = r
}

func (s *metaState) deleteRequest(id common.Hash) {
	s.dirty.requests[id] = nil
}

func (s *metaState) callPrice() *big.Int {
	if s.dirty.callPrice != nil {
		return new(big.Int).Set(s.dirty.callPrice)
	}
	if s.readonly.callPrice != nil {
		return new(big.Int).Set(s.readonly.callPrice)
	}
	return new(big.Int)
}

func (s *metaState) setCallPrice(p *big.Int) {
	s.dirty.callPrice = new(big.Int).Set(p)
}

func (s *metaState) pendingCount() int {
	return len(s.readonly.requests)
}

// writeBatch puts every dirty record into batch.
func (s *metaState) writeBatch(batch *leveldb.Batch) (err error) {
	for addr, o := range s.dirty.accounts {
		if err = putAccount(batch, addr, o); err != nil {
			return
		}
	}
	for id, r := range s.dirty.requests {
		if r == nil {
			batch.Delete(requestKey(id))
			continue
		}
		if err = putRequest(batch, r); err != nil {
			return
		}
	}
	if s.dirty.callPrice != nil {
		batch.Put(callPriceKey, s.dirty.callPrice.Bytes())
	}
	return
}

// merge moves the dirty records into readonly, called once the batch is durable.
func (s *metaState) merge() {
	for addr, o := range s.dirty.accounts {
		s.readonly.accounts[addr] = o
	}
	for id, r := range s.dirty.requests {
		if r == nil {
			delete(s.readonly.requests, id)
			continue
		}
		s.readonly.requests[id] = r
	}
	if s.dirty.callPrice != nil {
		s.readonly.callPrice = s.dirty.callPrice
	}
	s.clean()
}

func (s *metaState) clean() {
	s.dirty = newStateIndex()
}
