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
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"

	"github.com/CovenantSQL/cql-oracle/types"
	"github.com/CovenantSQL/cql-oracle/utils/log"
)

// CalleeCall is the downstream invocation made when a request is fulfilled.
type CalleeCall struct {
	Selector    types.Selector
	RequestID   common.Hash
	Result      []byte
	BlockNumber uint64
}

// Callee receives results delivered to its address. It runs inside the
// ledger's apply path and must not call back into the Chain.
type Callee interface {
	Invoke(call *CalleeCall) error
}

// CalleeFunc adapts a function to the Callee interface.
type CalleeFunc func(call *CalleeCall) error

// Invoke implements Callee.
func (f CalleeFunc) Invoke(call *CalleeCall) error {
	return f(call)
}

type calleeRegistry struct {
	sync.RWMutex
	callees map[common.Address]Callee
}

func newCalleeRegistry() *calleeRegistry {
	return &calleeRegistry{callees: make(map[common.Address]Callee)}
}

func (r *calleeRegistry) register(addr common.Address, c Callee) {
	r.Lock()
	defer r.Unlock()
	if c == nil {
		delete(r.callees, addr)
		return
	}
	r.callees[addr] = c
}

func (r *calleeRegistry) lookup(addr common.Address) (c Callee, ok bool) {
	r.RLock()
	defer r.RUnlock()
	c, ok = r.callees[addr]
	return
}

// invoke runs the callee bound to addr. An address without a callee behaves
// like an account without code: the call trivially succeeds.
func (r *calleeRegistry) invoke(addr common.Address, call *CalleeCall) (success bool) {
	c, ok := r.lookup(addr)
	if !ok {
		return true
	}
	defer func() {
		if p := recover(); p != nil {
			log.WithFields(log.Fields{
				"callee": addr.Hex(),
				"panic":  fmt.Sprint(p),
			}).Error("callee panicked")
			success = false
		}
	}()
	if err := c.Invoke(call); err != nil {
		log.WithField("callee", addr.Hex()).WithError(err).Debug("callee rejected result")
		return false
	}
	return true
}

// ResultBook is a consumer callee that keeps the most recent results
// delivered with its selector.
type ResultBook struct {
	selector types.Selector
	results  *lru.Cache
}

// NewResultBook returns a consumer accepting selector and keeping up to size results.
func NewResultBook(selector types.Selector, size int) (b *ResultBook, err error) {
	if size <= 0 {
		size = 1024
	}
	b = &ResultBook{selector: selector}
	if b.results, err = lru.New(size); err != nil {
		err = errors.Wrap(err, "create result cache failed")
		b = nil
	}
	return
}

// Selector returns the selector served by the book.
func (b *ResultBook) Selector() types.Selector {
	return b.selector
}

// Invoke implements Callee.
func (b *ResultBook) Invoke(call *CalleeCall) error {
	if call.Selector != b.selector {
		return errors.Wrapf(ErrUnknownSelector, "got %s, serving %s", call.Selector, b.selector)
	}
	b.results.Add(call.RequestID, common.CopyBytes(call.Result))
	return nil
}

// Result returns the result delivered for id.
func (b *ResultBook) Result(id common.Hash) (result []byte, ok bool) {
	v, ok := b.results.Get(id)
	if !ok {
		return
	}
	return common.CopyBytes(v.([]byte)), true
}
