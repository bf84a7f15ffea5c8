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

package main

import (
	"context"
	"io/ioutil"
	"math/big"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/CovenantSQL/cql-oracle/api"
	"github.com/CovenantSQL/cql-oracle/client"
	"github.com/CovenantSQL/cql-oracle/conf"
	"github.com/CovenantSQL/cql-oracle/ledger"
	"github.com/CovenantSQL/cql-oracle/types"
)

func TestRequestCommands(t *testing.T) {
	Convey("Given a node and the clients of the owner and a user", t, func() {
		dir, err := ioutil.TempDir("", "oracle_request_")
		So(err, ShouldBeNil)
		Reset(func() { _ = os.RemoveAll(dir) })

		ownerKey, err := crypto.GenerateKey()
		So(err, ShouldBeNil)
		userKey, err := crypto.GenerateKey()
		So(err, ShouldBeNil)
		userAddr := crypto.PubkeyToAddress(userKey.PublicKey)
		price := big.NewInt(500)

		chain, err := ledger.NewChain(&ledger.Config{
			DataDir:   dir,
			ChainID:   21,
			Owner:     crypto.PubkeyToAddress(ownerKey.PublicKey),
			CallPrice: price,
			Alloc:     []ledger.GenesisAccount{{Address: userAddr, Balance: big.NewInt(100000)}},
		})
		So(err, ShouldBeNil)
		Reset(func() { _ = chain.Close() })

		svc, err := api.NewService(chain, nil)
		So(err, ShouldBeNil)
		server := httptest.NewServer(svc.Handler())
		Reset(server.Close)
		Reset(func() { _ = svc.Stop() })
		endpoint := "ws" + strings.TrimPrefix(server.URL, "http") + api.WebsocketPath

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		Reset(cancel)
		owner, err := client.Dial(ctx, endpoint, ownerKey)
		So(err, ShouldBeNil)
		Reset(func() { _ = owner.Close() })
		user, err := client.Dial(ctx, endpoint, userKey)
		So(err, ShouldBeNil)
		Reset(func() { _ = user.Close() })

		opts := &computeOptions{
			Data:     conf.DefaultRequestData,
			Selector: types.Selector{},
			Window:   time.Hour,
		}
		now := time.Now()

		Convey("compute pays the call price plus one wei and gets the wei back", func() {
			receipt, err := submitCompute(ctx, user, opts, now)
			So(err, ShouldBeNil)
			id := *receipt.RequestID
			So(id, ShouldEqual, types.RequestID(userAddr, big.NewInt(0)))

			balance, err := user.Balance(ctx, userAddr)
			So(err, ShouldBeNil)
			So(balance.Int64(), ShouldEqual, 100000-500)

			s, err := requestStatus(ctx, user, id)
			So(err, ShouldBeNil)
			So(s.Status, ShouldEqual, StatusPending)
			So(s.Request.CancelExpiration.Int64(), ShouldEqual, now.Add(time.Hour).Unix())
			So(string(s.Request.Data), ShouldEqual, conf.DefaultRequestData)

			Convey("the callback is awaited and reported", func() {
				slot, err := types.EncodeResult([]byte(`{"result":3}`))
				So(err, ShouldBeNil)
				go func() {
					time.Sleep(50 * time.Millisecond)
					_, _ = owner.Callback(ctx, id, slot)
				}()
				ev, err := waitCallback(ctx, user, id, receipt.BlockNumber)
				So(err, ShouldBeNil)
				So(ev.RequestID, ShouldEqual, id)
				So(types.DecodeResult(ev.Data), ShouldEqual, `{"result":3}`)

				s, err := requestStatus(ctx, user, id)
				So(err, ShouldBeNil)
				So(s.Status, ShouldEqual, StatusFulfilled)
				So(s.Result, ShouldEqual, `{"result":3}`)
			})
		})

		Convey("explicit payments are sent as is", func() {
			opts.Value = big.NewInt(800)
			_, err := submitCompute(ctx, user, opts, now)
			So(err, ShouldBeNil)
			balance, err := user.Balance(ctx, userAddr)
			So(err, ShouldBeNil)
			So(balance.Int64(), ShouldEqual, 100000-500)
		})

		Convey("cancelled and unknown requests are told apart", func() {
			opts.Window = -time.Minute
			receipt, err := submitCompute(ctx, user, opts, now)
			So(err, ShouldBeNil)
			_, err = user.CancelCompute(ctx, *receipt.RequestID)
			So(err, ShouldBeNil)

			s, err := requestStatus(ctx, user, *receipt.RequestID)
			So(err, ShouldBeNil)
			So(s.Status, ShouldEqual, StatusCancelled)

			s, err = requestStatus(ctx, user, common.HexToHash("0x01"))
			So(err, ShouldBeNil)
			So(s.Status, ShouldEqual, StatusUnknown)
		})

		Convey("waiting gives up with the context", func() {
			wctx, wcancel := context.WithTimeout(ctx, 100*time.Millisecond)
			defer wcancel()
			_, err := waitCallback(wctx, user, common.HexToHash("0x02"), 0)
			So(err, ShouldNotBeNil)
		})
	})
}

func TestComputeFlags(t *testing.T) {
	Convey("flags override the config section", t, func() {
		rc := &conf.RequestConfig{
			CallbackAddr:     common.HexToAddress("0x01"),
			ExpirationWindow: time.Minute,
			Data:             conf.DefaultRequestData,
		}
		defer func() {
			computeData, computeCallback, computeSelector, computeValue = "", "", "", ""
			computeWindow = 0
		}()

		opts, err := computeOptionsFromFlags(rc)
		So(err, ShouldBeNil)
		So(opts.Data, ShouldEqual, conf.DefaultRequestData)
		So(opts.Window, ShouldEqual, time.Minute)
		So(opts.Value, ShouldBeNil)

		computeData = `{"a":1}`
		computeCallback = "0x00000000000000000000000000000000000000c4"
		computeSelector = "0xcafebabe"
		computeWindow = time.Hour
		computeValue = "0.5 gwei"
		opts, err = computeOptionsFromFlags(rc)
		So(err, ShouldBeNil)
		So(opts.Data, ShouldEqual, `{"a":1}`)
		So(opts.CallbackAddr, ShouldEqual, common.HexToAddress(computeCallback))
		So(opts.Selector, ShouldEqual, types.Selector{0xca, 0xfe, 0xba, 0xbe})
		So(opts.Window, ShouldEqual, time.Hour)
		So(opts.Value.Int64(), ShouldEqual, 500000000)

		computeSelector = "0x1234"
		_, err = computeOptionsFromFlags(rc)
		So(err, ShouldNotBeNil)
		computeSelector = ""
		computeCallback = "nope"
		_, err = computeOptionsFromFlags(rc)
		So(err, ShouldNotBeNil)
	})
}
