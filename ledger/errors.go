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

import "errors"

var (
	// ErrChainClosed indicates an operation on a closed chain.
	ErrChainClosed = errors.New("chain closed")
	// ErrGenesisMismatch indicates that the stored genesis differs from the configuration.
	ErrGenesisMismatch = errors.New("stored genesis does not match configuration")
	// ErrCorruptedIndex defines index corrupted error.
	ErrCorruptedIndex = errors.New("corrupted index item")
	// ErrBlockNotFound indicates that a block number is beyond the head.
	ErrBlockNotFound = errors.New("block not found")
	// ErrReceiptNotFound indicates that no applied transaction has the hash.
	ErrReceiptNotFound = errors.New("receipt not found")
	// ErrUnknownSelector indicates that a consumer was called with a selector it does not serve.
	ErrUnknownSelector = errors.New("unknown selector")
)
