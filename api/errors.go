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

package api

import (
	"github.com/pkg/errors"
	"github.com/sourcegraph/jsonrpc2"

	"github.com/CovenantSQL/cql-oracle/ledger"
	"github.com/CovenantSQL/cql-oracle/types"
)

// CodeNotFound is returned for blocks, receipts and consumer results that do not exist.
const CodeNotFound int64 = -32020

func mapError(err error) error {
	if _, ok := err.(*jsonrpc2.Error); ok {
		return err
	}
	if code, ok := types.ErrorCode(err); ok {
		return &jsonrpc2.Error{Code: code, Message: err.Error()}
	}
	switch errors.Cause(err) {
	case ledger.ErrBlockNotFound, ledger.ErrReceiptNotFound, errNoResult:
		return &jsonrpc2.Error{Code: CodeNotFound, Message: err.Error()}
	}
	return &jsonrpc2.Error{Code: jsonrpc2.CodeInternalError, Message: err.Error()}
}
