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
	"crypto/ecdsa"
	"io/ioutil"
	"math/big"
	"os"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/CovenantSQL/cql-oracle/types"
)

const testChainID uint64 = 4

var (
	testEther   = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	testPrice   = big.NewInt(1000000)
	testFee     = big.NewInt(21)
	testStart   = time.Unix(1560000000, 0)
	testSel     = types.Selector{0xde, 0xad, 0xbe, 0xef}
	testConsume = common.HexToAddress("0x00000000000000000000000000000000000000c0")
)

type fakeClock struct {
	sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.Lock()
	defer f.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.Lock()
	defer f.Unlock()
	f.now = f.now.Add(d)
}

type testEnv struct {
	dir   string
	cfg   *Config
	clock *fakeClock
	chain *Chain

	owner, alice, bob *ecdsa.PrivateKey
}

func mustKey() *ecdsa.PrivateKey {
	k, err := crypto.GenerateKey()
	if err != nil {
		panic(err)
	}
	return k
}

func addrOf(k *ecdsa.PrivateKey) common.Address {
	return crypto.PubkeyToAddress(k.PublicKey)
}

func newTestEnv() (env *testEnv, err error) {
	env = &testEnv{
		clock: &fakeClock{now: testStart},
		owner: mustKey(),
		alice: mustKey(),
		bob:   mustKey(),
	}
	if env.dir, err = ioutil.TempDir("", "oracle_ledger_"); err != nil {
		return
	}
	env.cfg = &Config{
		DataDir:   env.dir,
		ChainID:   testChainID,
		Owner:     addrOf(env.owner),
		CallPrice: testPrice,
		TxFee:     testFee,
		Alloc: []GenesisAccount{
			{Address: addrOf(env.owner), Balance: testEther},
			{Address: addrOf(env.alice), Balance: testEther},
			{Address: addrOf(env.bob), Balance: testEther},
		},
		Clock: env.clock.Now,
	}
	env.chain, err = NewChain(env.cfg)
	return
}

func (env *testEnv) close() {
	if env.chain != nil {
		_ = env.chain.Close()
	}
	_ = os.RemoveAll(env.dir)
}

func (env *testEnv) reopen() (err error) {
	if err = env.chain.Close(); err != nil {
		return
	}
	env.chain, err = NewChain(env.cfg)
	return
}

func (env *testEnv) send(key *ecdsa.PrivateKey, kind types.TxKind, value *big.Int, args interface{}) (
	*types.Receipt, error,
) {
	tx, err := types.NewTransaction(testChainID, kind, env.chain.Nonce(addrOf(key)), value, args)
	if err != nil {
		return nil, err
	}
	if err = tx.Sign(key); err != nil {
		return nil, err
	}
	return env.chain.Apply(tx)
}

func (env *testEnv) compute(key *ecdsa.PrivateKey, value *big.Int, expiration int64) (*types.Receipt, error) {
	return env.send(key, types.TxKindCompute, value, &types.ComputeArgs{
		CallbackAddr:       testConsume,
		CallbackFunctionID: testSel,
		CancelExpiration:   big.NewInt(expiration),
		Data:               []byte(`{"op":"+","args":[1,2]}`),
	})
}

func (env *testEnv) callback(key *ecdsa.PrivateKey, id common.Hash, result []byte) (*types.Receipt, error) {
	return env.send(key, types.TxKindCallback, nil, &types.CallbackArgs{RequestID: id, Result: result})
}

func (env *testEnv) cancel(key *ecdsa.PrivateKey, id common.Hash) (*types.Receipt, error) {
	return env.send(key, types.TxKindCancelCompute, nil, &types.CancelComputeArgs{RequestID: id})
}

func mustResult(doc string) []byte {
	slot, err := types.EncodeResult([]byte(doc))
	if err != nil {
		panic(err)
	}
	return slot
}

func sub(a *big.Int, bs ...*big.Int) *big.Int {
	r := new(big.Int).Set(a)
	for _, b := range bs {
		r.Sub(r, b)
	}
	return r
}
