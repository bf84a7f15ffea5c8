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

package types

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// RequestID derives the identifier of the request submitted by requester with
// the given request nonce: keccak256(requester[20] ++ uint256(nonce)).
func RequestID(requester common.Address, nonce *big.Int) common.Hash {
	if nonce == nil {
		nonce = common.Big0
	}
	return crypto.Keccak256Hash(requester.Bytes(), common.BigToHash(nonce).Bytes())
}
