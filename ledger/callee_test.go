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
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	perrors "github.com/pkg/errors"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/CovenantSQL/cql-oracle/types"
)

func TestCalleeRegistry(t *testing.T) {
	Convey("Given a callee registry", t, func() {
		r := newCalleeRegistry()
		addr := common.HexToAddress("0x01")
		call := &CalleeCall{Selector: testSel, RequestID: common.HexToHash("0x02"), Result: make([]byte, 32)}

		Convey("an address without a callee succeeds", func() {
			So(r.invoke(addr, call), ShouldBeTrue)
		})

		Convey("callee errors and panics report failure", func() {
			r.register(addr, CalleeFunc(func(*CalleeCall) error { return errors.New("rejected") }))
			So(r.invoke(addr, call), ShouldBeFalse)
			r.register(addr, CalleeFunc(func(*CalleeCall) error { panic("boom") }))
			So(r.invoke(addr, call), ShouldBeFalse)
		})

		Convey("registering nil removes the binding", func() {
			r.register(addr, CalleeFunc(func(*CalleeCall) error { return nil }))
			_, ok := r.lookup(addr)
			So(ok, ShouldBeTrue)
			r.register(addr, nil)
			_, ok = r.lookup(addr)
			So(ok, ShouldBeFalse)
		})
	})
}

func TestResultBook(t *testing.T) {
	Convey("Given a result book of two entries", t, func() {
		book, err := NewResultBook(testSel, 2)
		So(err, ShouldBeNil)
		So(book.Selector(), ShouldEqual, testSel)

		ids := []common.Hash{common.HexToHash("0x01"), common.HexToHash("0x02"), common.HexToHash("0x03")}
		for i, id := range ids {
			result := make([]byte, 32)
			result[0] = byte(i)
			So(book.Invoke(&CalleeCall{Selector: testSel, RequestID: id, Result: result}), ShouldBeNil)
		}

		_, ok := book.Result(ids[0])
		So(ok, ShouldBeFalse)
		got, ok := book.Result(ids[2])
		So(ok, ShouldBeTrue)
		So(int(got[0]), ShouldEqual, 2)

		err = book.Invoke(&CalleeCall{Selector: types.Selector{9, 9, 9, 9}, RequestID: ids[0]})
		So(perrors.Cause(err), ShouldEqual, ErrUnknownSelector)
	})
}
