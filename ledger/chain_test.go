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
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/fortytw2/leaktest"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/CovenantSQL/cql-oracle/types"
)

func TestCompute(t *testing.T) {
	Convey("Given a fresh ledger", t, func() {
		env, err := newTestEnv()
		So(err, ShouldBeNil)
		Reset(env.close)
		c := env.chain
		alice := addrOf(env.alice)
		exp := testStart.Add(time.Hour).Unix()

		So(c.CallPrice(), ShouldResemble, testPrice)
		So(c.Owner(), ShouldEqual, addrOf(env.owner))
		So(c.Contract(), ShouldEqual, ContractAddress(addrOf(env.owner)))
		So(c.BlockNumber(), ShouldEqual, 0)

		Convey("compute with the exact price escrows the payment", func() {
			r, err := env.compute(env.alice, testPrice, exp)
			So(err, ShouldBeNil)
			So(r.BlockNumber, ShouldEqual, 1)
			So(r.RequestID, ShouldNotBeNil)
			So(*r.RequestID, ShouldEqual, types.RequestID(alice, big.NewInt(0)))
			So(r.Logs, ShouldHaveLength, 1)

			l := r.Logs[0]
			So(l.Event, ShouldEqual, types.EventOracleRequest)
			So(l.Address, ShouldEqual, c.Contract())
			So(l.OracleRequest.Requester, ShouldEqual, alice)
			So(l.OracleRequest.RequestID, ShouldEqual, *r.RequestID)
			So(l.OracleRequest.CallbackAddr, ShouldEqual, testConsume)
			So(l.OracleRequest.CallbackFunctionID, ShouldEqual, testSel)
			So(l.OracleRequest.CancelExpiration.Int64(), ShouldEqual, exp)
			So(string(l.OracleRequest.Data), ShouldEqual, `{"op":"+","args":[1,2]}`)

			req, err := c.GetRequest(*r.RequestID)
			So(err, ShouldBeNil)
			So(req.Paid, ShouldResemble, testPrice)
			So(req.Requester, ShouldEqual, alice)
			So(c.Balance(alice), ShouldResemble, sub(testEther, testPrice, testFee))
			So(c.Balance(c.Contract()), ShouldResemble, testPrice)
			So(c.RequestNonce(alice).Int64(), ShouldEqual, 1)
			So(c.Nonce(alice), ShouldEqual, 1)

			Convey("the next request gets a distinct id", func() {
				r2, err := env.compute(env.alice, testPrice, exp)
				So(err, ShouldBeNil)
				So(*r2.RequestID, ShouldEqual, types.RequestID(alice, big.NewInt(1)))
				So(*r2.RequestID, ShouldNotEqual, *r.RequestID)
			})
		})

		Convey("an underpaid compute leaves no trace", func() {
			_, err := env.compute(env.alice, sub(testPrice, common.Big1), exp)
			So(errors.Cause(err), ShouldEqual, types.ErrInsufficientPayment)
			So(c.Balance(alice), ShouldResemble, testEther)
			So(c.Nonce(alice), ShouldEqual, 0)
			So(c.RequestNonce(alice).Int64(), ShouldEqual, 0)
			So(c.BlockNumber(), ShouldEqual, 0)
		})

		Convey("an overpaid compute refunds the excess at once", func() {
			paid := new(big.Int).Add(testPrice, common.Big1)
			r, err := env.compute(env.alice, paid, exp)
			So(err, ShouldBeNil)
			So(c.Balance(alice), ShouldResemble, sub(testEther, testPrice, testFee))
			req, err := c.GetRequest(*r.RequestID)
			So(err, ShouldBeNil)
			So(req.Paid, ShouldResemble, testPrice)
		})

		Convey("compute beyond the balance is rejected", func() {
			_, err := env.compute(env.alice, new(big.Int).Add(testEther, common.Big1), exp)
			So(errors.Cause(err), ShouldEqual, types.ErrInsufficientBalance)
			So(c.BlockNumber(), ShouldEqual, 0)
		})
	})
}

func TestCallback(t *testing.T) {
	Convey("Given a pending request", t, func() {
		env, err := newTestEnv()
		So(err, ShouldBeNil)
		Reset(env.close)
		c := env.chain
		owner := addrOf(env.owner)

		r, err := env.compute(env.alice, testPrice, testStart.Add(time.Hour).Unix())
		So(err, ShouldBeNil)
		id := *r.RequestID
		ownerBefore := c.Balance(owner)

		Convey("only the owner may fulfill it", func() {
			_, err := env.callback(env.bob, id, mustResult(`{"result":3}`))
			So(errors.Cause(err), ShouldEqual, types.ErrUnauthorized)
			_, err = c.GetRequest(id)
			So(err, ShouldBeNil)
		})

		Convey("an unknown request is rejected", func() {
			_, err := env.callback(env.owner, common.HexToHash("0x1234"), mustResult(`{"result":3}`))
			So(errors.Cause(err), ShouldEqual, types.ErrUnknownRequest)
		})

		Convey("a result that is not 32 bytes is rejected", func() {
			_, err := env.callback(env.owner, id, make([]byte, 31))
			So(errors.Cause(err), ShouldEqual, types.ErrMalformedResult)
			_, err = env.callback(env.owner, id, make([]byte, 33))
			So(errors.Cause(err), ShouldEqual, types.ErrMalformedResult)
			So(c.BlockNumber(), ShouldEqual, 1)
		})

		Convey("a callback carrying value is rejected", func() {
			_, err := env.send(env.owner, types.TxKindCallback, common.Big1,
				&types.CallbackArgs{RequestID: id, Result: mustResult(`{"result":3}`)})
			So(errors.Cause(err), ShouldEqual, types.ErrNonPayable)
		})

		Convey("the owner fulfills it exactly once", func() {
			book, err := NewResultBook(testSel, 16)
			So(err, ShouldBeNil)
			c.RegisterCallee(testConsume, book)

			result := mustResult(`{"result":3}`)
			rc, err := env.callback(env.owner, id, result)
			So(err, ShouldBeNil)
			So(rc.Logs, ShouldHaveLength, 1)
			ev := rc.Logs[0].Callbacked
			So(rc.Logs[0].Event, ShouldEqual, types.EventCallbacked)
			So(ev.Success, ShouldBeTrue)
			So(ev.RequestID, ShouldEqual, id)
			So(ev.CallbackAddr, ShouldEqual, testConsume)
			So(ev.CallbackFunctionID, ShouldEqual, testSel)
			So([]byte(ev.Data), ShouldResemble, result)

			got, ok := book.Result(id)
			So(ok, ShouldBeTrue)
			So(types.DecodeResult(got), ShouldEqual, `{"result":3}`)

			_, err = c.GetRequest(id)
			So(errors.Cause(err), ShouldEqual, types.ErrUnknownRequest)
			So(c.Balance(owner), ShouldResemble, sub(new(big.Int).Add(ownerBefore, testPrice), testFee))
			So(c.Balance(c.Contract()).Sign(), ShouldEqual, 0)

			_, err = env.callback(env.owner, id, result)
			So(errors.Cause(err), ShouldEqual, types.ErrUnknownRequest)
		})

		Convey("a failing callee does not revert the fulfillment", func() {
			c.RegisterCallee(testConsume, CalleeFunc(func(*CalleeCall) error {
				panic("boom")
			}))
			rc, err := env.callback(env.owner, id, mustResult(`{"result":3}`))
			So(err, ShouldBeNil)
			So(rc.Logs[0].Callbacked.Success, ShouldBeFalse)
			_, err = c.GetRequest(id)
			So(errors.Cause(err), ShouldEqual, types.ErrUnknownRequest)
		})

		Convey("a callee serving another selector reports failure", func() {
			book, err := NewResultBook(types.Selector{1, 2, 3, 4}, 16)
			So(err, ShouldBeNil)
			c.RegisterCallee(testConsume, book)
			rc, err := env.callback(env.owner, id, mustResult(`{"result":3}`))
			So(err, ShouldBeNil)
			So(rc.Logs[0].Callbacked.Success, ShouldBeFalse)
			_, ok := book.Result(id)
			So(ok, ShouldBeFalse)
		})
	})
}

func TestCancelCompute(t *testing.T) {
	Convey("Given a request paid twice the price", t, func() {
		env, err := newTestEnv()
		So(err, ShouldBeNil)
		Reset(env.close)
		c := env.chain
		alice := addrOf(env.alice)
		exp := testStart.Add(time.Minute).Unix()

		r, err := env.compute(env.alice, new(big.Int).Mul(testPrice, big.NewInt(2)), exp)
		So(err, ShouldBeNil)
		id := *r.RequestID
		afterCompute := c.Balance(alice)
		So(afterCompute, ShouldResemble, sub(testEther, testPrice, testFee))

		Convey("cancellation before the expiration is too early", func() {
			_, err := env.cancel(env.alice, id)
			So(errors.Cause(err), ShouldEqual, types.ErrTooEarly)
		})

		Convey("only the requester may cancel", func() {
			env.clock.Advance(2 * time.Minute)
			_, err := env.cancel(env.bob, id)
			So(errors.Cause(err), ShouldEqual, types.ErrUnauthorized)
		})

		Convey("an unknown request cannot be cancelled", func() {
			_, err := env.cancel(env.alice, common.HexToHash("0xabcd"))
			So(errors.Cause(err), ShouldEqual, types.ErrUnknownRequest)
		})

		Convey("cancellation at the expiration refunds the payment", func() {
			env.clock.Advance(time.Minute)
			rc, err := env.cancel(env.alice, id)
			So(err, ShouldBeNil)
			So(rc.Logs, ShouldBeEmpty)
			So(c.Balance(alice), ShouldResemble, sub(new(big.Int).Add(afterCompute, testPrice), testFee))
			So(c.Balance(c.Contract()).Sign(), ShouldEqual, 0)

			_, err = env.callback(env.owner, id, mustResult(`{"result":3}`))
			So(errors.Cause(err), ShouldEqual, types.ErrUnknownRequest)
			_, err = env.cancel(env.alice, id)
			So(errors.Cause(err), ShouldEqual, types.ErrUnknownRequest)
		})
	})
}

func TestSetCallPrice(t *testing.T) {
	Convey("Given a pending request", t, func() {
		env, err := newTestEnv()
		So(err, ShouldBeNil)
		Reset(env.close)
		c := env.chain
		r, err := env.compute(env.alice, testPrice, testStart.Unix())
		So(err, ShouldBeNil)

		newPrice := new(big.Int).Mul(testPrice, big.NewInt(3))
		Convey("only the owner may change the price", func() {
			_, err := env.send(env.bob, types.TxKindSetCallPrice, nil, &types.SetCallPriceArgs{Price: newPrice})
			So(errors.Cause(err), ShouldEqual, types.ErrUnauthorized)
			So(c.CallPrice(), ShouldResemble, testPrice)
		})

		Convey("a new price binds future requests only", func() {
			_, err := env.send(env.owner, types.TxKindSetCallPrice, nil, &types.SetCallPriceArgs{Price: newPrice})
			So(err, ShouldBeNil)
			So(c.CallPrice(), ShouldResemble, newPrice)

			req, err := c.GetRequest(*r.RequestID)
			So(err, ShouldBeNil)
			So(req.Paid, ShouldResemble, testPrice)

			_, err = env.compute(env.bob, testPrice, testStart.Unix())
			So(errors.Cause(err), ShouldEqual, types.ErrInsufficientPayment)
			_, err = env.compute(env.bob, newPrice, testStart.Unix())
			So(err, ShouldBeNil)

			Convey("cancellation refunds what was paid", func() {
				env.clock.Advance(time.Second)
				before := c.Balance(addrOf(env.alice))
				_, err := env.cancel(env.alice, *r.RequestID)
				So(err, ShouldBeNil)
				So(c.Balance(addrOf(env.alice)), ShouldResemble,
					sub(new(big.Int).Add(before, testPrice), testFee))
			})
		})
	})
}

func TestEnvelope(t *testing.T) {
	Convey("Given a fresh ledger", t, func() {
		env, err := newTestEnv()
		So(err, ShouldBeNil)
		Reset(env.close)
		c := env.chain

		Convey("a wrong chain id is rejected", func() {
			tx, err := types.NewTransaction(testChainID+1, types.TxKindCancelCompute, 0, nil,
				&types.CancelComputeArgs{})
			So(err, ShouldBeNil)
			So(tx.Sign(env.alice), ShouldBeNil)
			_, err = c.Apply(tx)
			So(errors.Cause(err), ShouldEqual, types.ErrInvalidChainID)
		})

		Convey("a wrong nonce is rejected", func() {
			tx, err := types.NewTransaction(testChainID, types.TxKindCompute, 5, testPrice, &types.ComputeArgs{})
			So(err, ShouldBeNil)
			So(tx.Sign(env.alice), ShouldBeNil)
			_, err = c.Apply(tx)
			So(errors.Cause(err), ShouldEqual, types.ErrInvalidAccountNonce)
		})

		Convey("an unsigned transaction is rejected", func() {
			tx, err := types.NewTransaction(testChainID, types.TxKindCompute, 0, testPrice, &types.ComputeArgs{})
			So(err, ShouldBeNil)
			_, err = c.Apply(tx)
			So(errors.Cause(err), ShouldEqual, types.ErrInvalidSignature)
		})

		Convey("unknown kinds and malformed payloads are rejected", func() {
			_, err := env.send(env.alice, types.TxKind(42), nil, &types.CancelComputeArgs{})
			So(errors.Cause(err), ShouldEqual, types.ErrUnknownTransactionKind)
			_, err = env.send(env.alice, types.TxKindCancelCompute, nil, []uint64{1, 2, 3})
			So(errors.Cause(err), ShouldEqual, types.ErrMalformedPayload)
			So(c.Nonce(addrOf(env.alice)), ShouldEqual, 0)
		})

		Convey("a sender unable to pay the fee is rejected", func() {
			poor := mustKey()
			_, err := env.send(poor, types.TxKindCancelCompute, nil, &types.CancelComputeArgs{})
			So(errors.Cause(err), ShouldEqual, types.ErrInsufficientBalance)
		})

		Convey("block timestamps never decrease", func() {
			_, err := env.compute(env.alice, testPrice, 0)
			So(err, ShouldBeNil)
			env.clock.Advance(-time.Hour)
			r, err := env.compute(env.alice, testPrice, 0)
			So(err, ShouldBeNil)
			b1, err := c.GetBlock(1)
			So(err, ShouldBeNil)
			b2, err := c.GetBlock(r.BlockNumber)
			So(err, ShouldBeNil)
			So(b2.Timestamp, ShouldBeGreaterThanOrEqualTo, b1.Timestamp)
			So(b2.ParentHash, ShouldEqual, b1.Hash)
			So(b2.Hash, ShouldEqual, b2.ComputeHash())
		})
	})
}

func TestQueries(t *testing.T) {
	Convey("Given a few applied transactions", t, func() {
		env, err := newTestEnv()
		So(err, ShouldBeNil)
		Reset(env.close)
		c := env.chain

		r1, err := env.compute(env.alice, testPrice, 0)
		So(err, ShouldBeNil)
		r2, err := env.compute(env.bob, testPrice, 0)
		So(err, ShouldBeNil)
		r3, err := env.callback(env.owner, *r1.RequestID, mustResult(`{"result":1}`))
		So(err, ShouldBeNil)

		Convey("receipts are found by transaction hash", func() {
			got, err := c.GetReceipt(r2.TxHash)
			So(err, ShouldBeNil)
			So(got.BlockNumber, ShouldEqual, 2)
			So(got.From, ShouldEqual, addrOf(env.bob))
			So(got.Fee, ShouldResemble, testFee)
			So(*got.RequestID, ShouldEqual, *r2.RequestID)
			So(got.Logs, ShouldHaveLength, 1)
			So(got.Logs[0].OracleRequest.RequestID, ShouldEqual, *r2.RequestID)

			_, err = c.GetReceipt(common.HexToHash("0x01"))
			So(errors.Cause(err), ShouldEqual, ErrReceiptNotFound)
		})

		Convey("logs are filtered by event and range", func() {
			logs, err := c.GetLogs("", 0, 100)
			So(err, ShouldBeNil)
			So(logs, ShouldHaveLength, 3)
			logs, err = c.GetLogs(types.EventOracleRequest, 2, 3)
			So(err, ShouldBeNil)
			So(logs, ShouldHaveLength, 1)
			So(logs[0].TxHash, ShouldEqual, r2.TxHash)
			logs, err = c.GetLogs(types.EventCallbacked, 0, 3)
			So(err, ShouldBeNil)
			So(logs, ShouldHaveLength, 1)
			So(logs[0].BlockNumber, ShouldEqual, r3.BlockNumber)
		})

		Convey("blocks beyond the head are not found", func() {
			_, err := c.GetBlock(4)
			So(errors.Cause(err), ShouldEqual, ErrBlockNotFound)
		})
	})
}

func TestPersistence(t *testing.T) {
	Convey("Given a ledger with a pending request", t, func() {
		env, err := newTestEnv()
		So(err, ShouldBeNil)
		Reset(env.close)

		r, err := env.compute(env.alice, testPrice, 0)
		So(err, ShouldBeNil)
		_, err = env.send(env.owner, types.TxKindSetCallPrice, nil, &types.SetCallPriceArgs{Price: big.NewInt(7)})
		So(err, ShouldBeNil)
		balance := env.chain.Balance(addrOf(env.alice))

		Convey("reopening restores the committed state", func() {
			So(env.reopen(), ShouldBeNil)
			c := env.chain
			So(c.BlockNumber(), ShouldEqual, 2)
			So(c.CallPrice().Int64(), ShouldEqual, 7)
			So(c.Balance(addrOf(env.alice)), ShouldResemble, balance)
			So(c.Nonce(addrOf(env.alice)), ShouldEqual, 1)
			So(c.RequestNonce(addrOf(env.alice)).Int64(), ShouldEqual, 1)
			req, err := c.GetRequest(*r.RequestID)
			So(err, ShouldBeNil)
			So(req.Paid, ShouldResemble, testPrice)
			So(req.CallbackFunctionID, ShouldEqual, testSel)

			_, err = env.callback(env.owner, *r.RequestID, mustResult(`{"result":3}`))
			So(err, ShouldBeNil)
		})

		Convey("reopening with another owner fails", func() {
			So(env.chain.Close(), ShouldBeNil)
			cfg := *env.cfg
			cfg.Owner = addrOf(env.bob)
			_, err := NewChain(&cfg)
			So(errors.Cause(err), ShouldEqual, ErrGenesisMismatch)
			env.chain, err = NewChain(env.cfg)
			So(err, ShouldBeNil)
		})

		Convey("a closed chain rejects transactions", func() {
			So(env.chain.Close(), ShouldBeNil)
			_, err := env.compute(env.alice, testPrice, 0)
			So(err, ShouldEqual, ErrChainClosed)
		})
	})
}

func TestSubscribe(t *testing.T) {
	defer leaktest.Check(t)()

	Convey("Given a ledger with history", t, func() {
		env, err := newTestEnv()
		So(err, ShouldBeNil)
		Reset(env.close)
		c := env.chain

		var ids []common.Hash
		for i := 0; i < 3; i++ {
			r, err := env.compute(env.alice, testPrice, 0)
			So(err, ShouldBeNil)
			ids = append(ids, *r.RequestID)
		}

		Convey("subscribers replay history then follow new blocks in order", func() {
			var (
				lock sync.Mutex
				got  []common.Hash
				done = make(chan struct{})
			)
			sub, err := c.Subscribe(types.EventOracleRequest, 2, func(logs []*types.Log) {
				lock.Lock()
				defer lock.Unlock()
				for _, l := range logs {
					got = append(got, l.OracleRequest.RequestID)
				}
				if len(got) == 3 {
					close(done)
				}
			})
			So(err, ShouldBeNil)
			defer sub.Unsubscribe()

			_, err = env.callback(env.owner, ids[0], mustResult(`{"result":3}`))
			So(err, ShouldBeNil)
			r, err := env.compute(env.bob, testPrice, 0)
			So(err, ShouldBeNil)

			select {
			case <-done:
			case <-time.After(5 * time.Second):
				t.Fatal("subscription did not deliver")
			}
			lock.Lock()
			defer lock.Unlock()
			So(got, ShouldResemble, []common.Hash{ids[1], ids[2], *r.RequestID})
		})

		Convey("starting beyond the head only sees new blocks", func() {
			ch := make(chan []*types.Log, 4)
			sub, err := c.Subscribe(types.EventCallbacked, 100, func(logs []*types.Log) {
				ch <- logs
			})
			So(err, ShouldBeNil)
			defer sub.Unsubscribe()
			_, err = env.callback(env.owner, ids[2], mustResult(`{"result":3}`))
			So(err, ShouldBeNil)
			select {
			case logs := <-ch:
				So(logs, ShouldHaveLength, 1)
				So(logs[0].Callbacked.RequestID, ShouldEqual, ids[2])
			case <-time.After(5 * time.Second):
				t.Fatal("subscription did not deliver")
			}
		})
	})
}

func TestMetrics(t *testing.T) {
	Convey("ledger metrics are exported to the registerer", t, func() {
		env, err := newTestEnv()
		So(err, ShouldBeNil)
		Reset(env.close)
		So(env.chain.Close(), ShouldBeNil)

		reg := prometheus.NewRegistry()
		env.cfg.Registerer = reg
		env.chain, err = NewChain(env.cfg)
		So(err, ShouldBeNil)

		_, err = env.compute(env.alice, testPrice, 0)
		So(err, ShouldBeNil)
		_, err = env.compute(env.alice, common.Big1, 0)
		So(err, ShouldNotBeNil)

		mfs, err := reg.Gather()
		So(err, ShouldBeNil)
		values := make(map[string]float64)
		for _, mf := range mfs {
			for _, m := range mf.GetMetric() {
				switch {
				case m.Counter != nil:
					values[mf.GetName()] += m.Counter.GetValue()
				case m.Gauge != nil:
					values[mf.GetName()] = m.Gauge.GetValue()
				}
			}
		}
		So(values["oracle_ledger_applied_transactions_total"], ShouldEqual, 1)
		So(values["oracle_ledger_rejected_transactions_total"], ShouldEqual, 1)
		So(values["oracle_ledger_head_block"], ShouldEqual, 1)
		So(values["oracle_ledger_pending_requests"], ShouldEqual, 1)
		So(values["oracle_ledger_escrow_wei"], ShouldEqual, float64(testPrice.Int64()))
	})
}
