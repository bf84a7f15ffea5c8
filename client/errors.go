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

package client

import (
	"github.com/pkg/errors"
	"github.com/sourcegraph/jsonrpc2"

	"github.com/CovenantSQL/cql-oracle/api"
	"github.com/CovenantSQL/cql-oracle/types"
)

// Various errors the client might returns.
var (
	// ErrNotFound indicates that a block, receipt or consumer result does not exist.
	ErrNotFound = errors.New("not found")
	// ErrClosed indicates that the connection to the node is closed.
	ErrClosed = errors.New("client closed")
	// ErrNoKey indicates a transaction sent by a client without signing key.
	ErrNoKey = errors.New("client has no signing key")
)

// mapError restores the ledger error behind a JSON-RPC error, errors.Cause
// returns the sentinel.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if err == jsonrpc2.ErrClosed {
		return ErrClosed
	}
	rpcErr, ok := err.(*jsonrpc2.Error)
	if !ok {
		return err
	}
	if sentinel, ok := types.ErrorFromCode(rpcErr.Code); ok {
		return errors.Wrap(sentinel, rpcErr.Message)
	}
	if rpcErr.Code == api.CodeNotFound {
		return errors.Wrap(ErrNotFound, rpcErr.Message)
	}
	return err
}
