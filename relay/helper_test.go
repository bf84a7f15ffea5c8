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

package relay

import (
	"context"
	"encoding/json"
	"io/ioutil"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/CovenantSQL/cql-oracle/api"
	"github.com/CovenantSQL/cql-oracle/client"
	"github.com/CovenantSQL/cql-oracle/ledger"
	"github.com/CovenantSQL/cql-oracle/types"
)

var (
	testPrice    = big.NewInt(1000)
	testSel      = types.Selector{0x12, 0x34, 0x56, 0x78}
	testConsumer = common.HexToAddress("0x00000000000000000000000000000000000000c3")
)

// computeEngine evaluates {"op":"+","args":[a,b]} documents, any other op
// answers with a result too large for the slot.
type computeEngine struct {
	*httptest.Server
	calls int64
}

func newComputeEngine() *computeEngine {
	ce := &computeEngine{}
	ce.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&ce.calls, 1)
		if r.URL.Path != "/compute" || r.Method != http.MethodPost {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		var req struct {
			Op   string    `json:"op"`
			Args []float64 `json:"args"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if req.Op != "+" {
			_, _ = w.Write([]byte(`{"result":"this answer does not fit in the result slot"}`))
			return
		}
		var sum float64
		for _, v := range req.Args {
			sum += v
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"result": sum})
	}))
	return ce
}

func (ce *computeEngine) Calls() int64 {
	return atomic.LoadInt64(&ce.calls)
}

type testbed struct {
	dir      string
	chain    *ledger.Chain
	book     *ledger.ResultBook
	endpoint string
	owner    *client.Client
	user     *client.Client
	engine   *computeEngine
	ctx      context.Context
}

func newTestbed() *testbed {
	tb := &testbed{}
	var err error
	tb.dir, err = ioutil.TempDir("", "oracle_relay_")
	So(err, ShouldBeNil)
	Reset(func() { _ = os.RemoveAll(tb.dir) })

	ownerKey, err := crypto.GenerateKey()
	So(err, ShouldBeNil)
	userKey, err := crypto.GenerateKey()
	So(err, ShouldBeNil)

	tb.chain, err = ledger.NewChain(&ledger.Config{
		DataDir:   filepath.Join(tb.dir, "node"),
		ChainID:   11,
		Owner:     crypto.PubkeyToAddress(ownerKey.PublicKey),
		CallPrice: testPrice,
		Alloc: []ledger.GenesisAccount{
			{Address: crypto.PubkeyToAddress(userKey.PublicKey), Balance: big.NewInt(1000000)},
		},
	})
	So(err, ShouldBeNil)
	Reset(func() { _ = tb.chain.Close() })
	tb.book, err = ledger.NewResultBook(testSel, 16)
	So(err, ShouldBeNil)
	tb.chain.RegisterCallee(testConsumer, tb.book)

	svc, err := api.NewService(tb.chain, nil)
	So(err, ShouldBeNil)
	server := httptest.NewServer(svc.Handler())
	Reset(server.Close)
	Reset(func() { _ = svc.Stop() })
	tb.endpoint = "ws" + strings.TrimPrefix(server.URL, "http") + api.WebsocketPath

	var cancel context.CancelFunc
	tb.ctx, cancel = context.WithTimeout(context.Background(), 30*time.Second)
	Reset(cancel)
	tb.owner, err = client.Dial(tb.ctx, tb.endpoint, ownerKey)
	So(err, ShouldBeNil)
	Reset(func() { _ = tb.owner.Close() })
	tb.user, err = client.Dial(tb.ctx, tb.endpoint, userKey)
	So(err, ShouldBeNil)
	Reset(func() { _ = tb.user.Close() })

	tb.engine = newComputeEngine()
	Reset(tb.engine.Close)
	return tb
}

func (tb *testbed) config() *Config {
	return &Config{
		Endpoint:      tb.endpoint,
		ComputeURL:    tb.engine.URL,
		Database:      filepath.Join(tb.dir, "relay.db"),
		Workers:       2,
		MaxRetries:    2,
		RetryInterval: 10 * time.Millisecond,
	}
}

func (tb *testbed) compute(data string, expiration int64) common.Hash {
	receipt, err := tb.user.Compute(tb.ctx, &client.ComputeRequest{
		CallbackAddr:       testConsumer,
		CallbackFunctionID: testSel,
		CancelExpiration:   big.NewInt(expiration),
		Data:               []byte(data),
	})
	So(err, ShouldBeNil)
	So(receipt.RequestID, ShouldNotBeNil)
	return *receipt.RequestID
}

func inAnHour() int64 {
	return time.Now().Add(time.Hour).Unix()
}

// waitState polls the request record until it reaches one of states or the
// timeout elapses, the last seen record is returned.
func waitState(e *Engine, id common.Hash, states ...RequestState) (r *RequestRecord) {
	deadline := time.Now().Add(10 * time.Second)
	for {
		r, _ = GetRequest(e.db, id.Hex())
		if r != nil {
			for _, s := range states {
				if r.State == s {
					return
				}
			}
		}
		if time.Now().After(deadline) {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func openTestStore(t *testing.T) (string, func()) {
	dir, err := ioutil.TempDir("", "oracle_relay_store_")
	if err != nil {
		t.Fatal(err)
	}
	return filepath.Join(dir, "relay.db"), func() { _ = os.RemoveAll(dir) }
}
