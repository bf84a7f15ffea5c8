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

// Package ledger implements the single-node ledger hosting the oracle
// contract. Every applied transaction produces one block, and rejected
// transactions leave no trace in the state.
package ledger

import (
	"math/big"
	"path/filepath"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"

	"github.com/CovenantSQL/cql-oracle/chainbus"
	"github.com/CovenantSQL/cql-oracle/types"
	"github.com/CovenantSQL/cql-oracle/utils"
	"github.com/CovenantSQL/cql-oracle/utils/log"
)

// Chain is the ledger instance.
type Chain struct {
	sync.RWMutex

	cfg      *Config
	db       *leveldb.DB
	st       *metaState
	head     *types.Block
	contract common.Address
	closed   bool

	callees *calleeRegistry
	bus     chainbus.Bus
	metrics *chainMetrics
}

// ContractAddress returns the address of the oracle contract deployed by owner.
func ContractAddress(owner common.Address) common.Address {
	return crypto.CreateAddress(owner, 0)
}

// NewChain opens the ledger in cfg.DataDir, writing the genesis block on first use.
func NewChain(cfg *Config) (c *Chain, err error) {
	if cfg == nil {
		return nil, errors.New("nil ledger config")
	}
	if err = utils.EnsureDir(cfg.DataDir); err != nil {
		return nil, errors.Wrap(err, "create data dir failed")
	}
	db, err := leveldb.OpenFile(filepath.Join(cfg.DataDir, "ledger"), nil)
	if err != nil {
		return nil, errors.Wrap(err, "open ledger storage failed")
	}
	defer func() {
		if err != nil {
			_ = db.Close()
		}
	}()

	c = &Chain{
		cfg:      cfg,
		db:       db,
		st:       newMetaState(),
		contract: ContractAddress(cfg.Owner),
		callees:  newCalleeRegistry(),
		bus:      chainbus.New(),
		metrics:  newChainMetrics(),
	}
	if err = c.initGenesis(); err != nil {
		return nil, err
	}
	if err = loadState(db, c.st); err != nil {
		return nil, err
	}
	raw, err := db.Get(headKey, nil)
	if err != nil {
		return nil, errors.Wrap(err, "load head failed")
	}
	number, err := bytesToUint64(raw)
	if err != nil {
		return nil, err
	}
	sb, err := loadBlock(db, number)
	if err != nil {
		return nil, err
	}
	c.head = sb.block()
	if err = c.metrics.register(cfg.Registerer, c); err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"chain":    cfg.ChainID,
		"owner":    cfg.Owner.Hex(),
		"contract": c.contract.Hex(),
		"head":     c.head.Number,
	}).Info("ledger opened")
	return c, nil
}

func (c *Chain) initGenesis() (err error) {
	var stored storedGenesis
	err = getRecord(c.db, genesisKey, &stored)
	if err == nil {
		if stored.ChainID != c.cfg.ChainID || stored.Owner != c.cfg.Owner {
			return errors.Wrapf(ErrGenesisMismatch, "stored chain %d owner %s",
				stored.ChainID, stored.Owner.Hex())
		}
		return
	}
	if err != leveldb.ErrNotFound {
		return errors.Wrap(err, "load genesis failed")
	}

	batch := new(leveldb.Batch)
	for _, acc := range c.cfg.Alloc {
		o := newAccountObject()
		if acc.Balance != nil {
			o.Balance.Set(acc.Balance)
		}
		if err = putAccount(batch, acc.Address, o); err != nil {
			return
		}
	}
	batch.Put(callPriceKey, c.cfg.callPrice().Bytes())
	genesis := &types.Block{
		Number:    0,
		Timestamp: c.cfg.clock()().Unix(),
	}
	genesis.Hash = genesis.ComputeHash()
	if err = putBlock(batch, genesis, nil); err != nil {
		return
	}
	batch.Put(headKey, uint64ToBytes(0))
	if err = putRecord(batch, genesisKey, &storedGenesis{
		ChainID: c.cfg.ChainID,
		Owner:   c.cfg.Owner,
	}); err != nil {
		return
	}
	if err = c.db.Write(batch, nil); err != nil {
		return errors.Wrap(err, "write genesis failed")
	}
	log.WithField("accounts", len(c.cfg.Alloc)).Info("genesis block written")
	return
}

// Apply validates and applies a signed transaction.
func (c *Chain) Apply(tx *types.Transaction) (receipt *types.Receipt, err error) {
	c.Lock()
	defer c.Unlock()
	if c.closed {
		return nil, ErrChainClosed
	}
	defer func() {
		c.metrics.observe(tx.Kind, err)
		if err != nil {
			c.st.clean()
			log.WithFields(log.Fields{
				"kind": tx.Kind.String(),
				"tx":   tx.Hash().Hex(),
			}).WithError(err).Debug("transaction rejected")
		}
	}()

	ctx, err := c.prepare(tx)
	if err != nil {
		return
	}
	if err = c.execute(ctx, tx); err != nil {
		return
	}
	c.st.increaseNonce(ctx.sender)

	block := &types.Block{
		Number:     c.head.Number + 1,
		ParentHash: c.head.Hash,
		Timestamp:  ctx.now,
		TxHash:     tx.Hash(),
	}
	block.Hash = block.ComputeHash()
	for i, l := range ctx.logs {
		l.Address = c.contract
		l.BlockNumber = block.Number
		l.TxHash = block.TxHash
		l.LogIndex = uint(i)
	}
	receipt = &types.Receipt{
		TxHash:      block.TxHash,
		Kind:        tx.Kind,
		From:        ctx.sender,
		BlockNumber: block.Number,
		Fee:         c.cfg.txFee(),
		RequestID:   ctx.requestID,
		Logs:        ctx.logs,
	}
	if receipt.Logs == nil {
		receipt.Logs = []*types.Log{}
	}

	batch := new(leveldb.Batch)
	if err = c.st.writeBatch(batch); err != nil {
		return nil, err
	}
	if err = putBlock(batch, block, receipt); err != nil {
		return nil, err
	}
	batch.Put(headKey, uint64ToBytes(block.Number))
	if err = c.db.Write(batch, nil); err != nil {
		return nil, errors.Wrap(err, "commit block failed")
	}
	c.st.merge()
	c.head = block

	c.publish(ctx.logs)
	log.WithFields(log.Fields{
		"block": block.Number,
		"kind":  tx.Kind.String(),
		"from":  ctx.sender.Hex(),
		"logs":  len(ctx.logs),
	}).Debug("transaction applied")
	return
}

// prepare checks the envelope of tx and charges its fee.
func (c *Chain) prepare(tx *types.Transaction) (ctx *execContext, err error) {
	if tx.ChainID != c.cfg.ChainID {
		return nil, errors.Wrapf(types.ErrInvalidChainID, "expected %d, got %d", c.cfg.ChainID, tx.ChainID)
	}
	sender, err := tx.Sender()
	if err != nil {
		return
	}
	if expected := c.st.nextNonce(sender); tx.Nonce != expected {
		return nil, errors.Wrapf(types.ErrInvalidAccountNonce, "expected %d, got %d", expected, tx.Nonce)
	}
	value := new(big.Int)
	if tx.Value != nil {
		value.Set(tx.Value)
	}
	fee := c.cfg.txFee()
	if need := new(big.Int).Add(value, fee); c.st.balance(sender).Cmp(need) < 0 {
		return nil, errors.Wrapf(types.ErrInsufficientBalance, "account %s needs %s", sender.Hex(), need)
	}
	if err = c.st.decreaseBalance(sender, fee); err != nil {
		return
	}

	now := c.cfg.clock()().Unix()
	if now < c.head.Timestamp {
		now = c.head.Timestamp
	}
	ctx = &execContext{
		sender:      sender,
		value:       value,
		owner:       c.cfg.Owner,
		contract:    c.contract,
		now:         now,
		blockNumber: c.head.Number + 1,
		invoke:      c.callees.invoke,
	}
	return
}

func (c *Chain) execute(ctx *execContext, tx *types.Transaction) (err error) {
	if tx.Kind != types.TxKindCompute && ctx.value.Sign() > 0 {
		return errors.Wrapf(types.ErrNonPayable, "%s with value %s", tx.Kind, ctx.value)
	}
	switch tx.Kind {
	case types.TxKindCompute:
		var args types.ComputeArgs
		if err = tx.DecodePayload(&args); err != nil {
			return
		}
		return c.st.compute(ctx, &args)
	case types.TxKindCallback:
		var args types.CallbackArgs
		if err = tx.DecodePayload(&args); err != nil {
			return
		}
		return c.st.callback(ctx, &args)
	case types.TxKindCancelCompute:
		var args types.CancelComputeArgs
		if err = tx.DecodePayload(&args); err != nil {
			return
		}
		return c.st.cancelCompute(ctx, &args)
	case types.TxKindSetCallPrice:
		var args types.SetCallPriceArgs
		if err = tx.DecodePayload(&args); err != nil {
			return
		}
		return c.st.updateCallPrice(ctx, &args)
	default:
		return errors.Wrapf(types.ErrUnknownTransactionKind, "kind %d", tx.Kind)
	}
}

// publish fans the logs of one block out per event, the caller holds the lock.
func (c *Chain) publish(logs []*types.Log) {
	var (
		order   []string
		byEvent = make(map[string][]*types.Log)
	)
	for _, l := range logs {
		if _, ok := byEvent[l.Event]; !ok {
			order = append(order, l.Event)
		}
		byEvent[l.Event] = append(byEvent[l.Event], l)
	}
	for _, event := range order {
		c.bus.Publish(event, byEvent[event])
	}
}

// Subscribe delivers the logs of event in block order to fn, starting with the
// blocks from fromBlock up to the head and following with every new block.
// fn runs on a dedicated goroutine and receives the logs of one block per call.
func (c *Chain) Subscribe(event string, fromBlock uint64, fn func([]*types.Log)) (
	sub chainbus.Subscription, err error,
) {
	c.RLock()
	defer c.RUnlock()
	if c.closed {
		return nil, ErrChainClosed
	}
	var backlog [][]interface{}
	if fromBlock <= c.head.Number {
		if err = iterateBlocks(c.db, fromBlock, c.head.Number, func(sb *storedBlock) error {
			var logs []*types.Log
			for _, l := range sb.logs() {
				if l.Event == event {
					logs = append(logs, l)
				}
			}
			if len(logs) > 0 {
				backlog = append(backlog, []interface{}{logs})
			}
			return nil
		}); err != nil {
			return
		}
	}
	return c.bus.SubscribeAsync(event, fn, backlog...)
}

// RegisterCallee binds a consumer to addr, a nil callee removes the binding.
func (c *Chain) RegisterCallee(addr common.Address, callee Callee) {
	c.callees.register(addr, callee)
}

// Callee returns the consumer bound to addr.
func (c *Chain) Callee(addr common.Address) (callee Callee, ok bool) {
	return c.callees.lookup(addr)
}

// ChainID returns the chain id transactions must carry.
func (c *Chain) ChainID() uint64 {
	return c.cfg.ChainID
}

// Owner returns the oracle owner.
func (c *Chain) Owner() common.Address {
	return c.cfg.Owner
}

// Contract returns the oracle contract address holding escrowed payments.
func (c *Chain) Contract() common.Address {
	return c.contract
}

// CallPrice returns the current call price.
func (c *Chain) CallPrice() *big.Int {
	c.RLock()
	defer c.RUnlock()
	return c.st.callPrice()
}

// GetRequest returns the pending request with id.
func (c *Chain) GetRequest(id common.Hash) (r *types.Request, err error) {
	c.RLock()
	defer c.RUnlock()
	var ok bool
	if r, ok = c.st.loadRequest(id); !ok {
		err = errors.Wrapf(types.ErrUnknownRequest, "request %s", id.Hex())
	}
	return
}

// RequestNonce returns the nonce the next compute of requester will use.
func (c *Chain) RequestNonce(requester common.Address) *big.Int {
	c.RLock()
	defer c.RUnlock()
	return c.st.nextRequestNonce(requester)
}

// Balance returns the balance of addr.
func (c *Chain) Balance(addr common.Address) *big.Int {
	c.RLock()
	defer c.RUnlock()
	return c.st.balance(addr)
}

// Nonce returns the next transaction nonce of addr.
func (c *Chain) Nonce(addr common.Address) uint64 {
	c.RLock()
	defer c.RUnlock()
	return c.st.nextNonce(addr)
}

// BlockNumber returns the number of the head block.
func (c *Chain) BlockNumber() uint64 {
	c.RLock()
	defer c.RUnlock()
	return c.head.Number
}

// GetBlock returns the block with number.
func (c *Chain) GetBlock(number uint64) (b *types.Block, err error) {
	c.RLock()
	defer c.RUnlock()
	if c.closed {
		return nil, ErrChainClosed
	}
	if number > c.head.Number {
		return nil, errors.Wrapf(ErrBlockNotFound, "block %d, head %d", number, c.head.Number)
	}
	sb, err := loadBlock(c.db, number)
	if err != nil {
		return
	}
	return sb.block(), nil
}

// GetReceipt returns the receipt of the applied transaction with hash h.
func (c *Chain) GetReceipt(h common.Hash) (r *types.Receipt, err error) {
	c.RLock()
	defer c.RUnlock()
	if c.closed {
		return nil, ErrChainClosed
	}
	raw, err := c.db.Get(txKey(h), nil)
	if err == leveldb.ErrNotFound {
		return nil, errors.Wrapf(ErrReceiptNotFound, "transaction %s", h.Hex())
	} else if err != nil {
		return
	}
	number, err := bytesToUint64(raw)
	if err != nil {
		return
	}
	sb, err := loadBlock(c.db, number)
	if err != nil {
		return
	}
	return sb.receipt(), nil
}

// GetLogs returns the logs of event in blocks [from, to], every event when
// event is empty. to is clamped to the head.
func (c *Chain) GetLogs(event string, from, to uint64) (logs []*types.Log, err error) {
	c.RLock()
	defer c.RUnlock()
	if c.closed {
		return nil, ErrChainClosed
	}
	if to > c.head.Number {
		to = c.head.Number
	}
	logs = []*types.Log{}
	err = iterateBlocks(c.db, from, to, func(sb *storedBlock) error {
		for _, l := range sb.logs() {
			if event == "" || l.Event == event {
				logs = append(logs, l)
			}
		}
		return nil
	})
	return
}

// Close stops every subscription and closes the storage.
func (c *Chain) Close() (err error) {
	c.Lock()
	defer c.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.bus.Close()
	return c.db.Close()
}
