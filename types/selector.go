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
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// SelectorLength is the byte length of a callback function selector.
const SelectorLength = 4

// Selector identifies the function invoked on a callback address.
type Selector [SelectorLength]byte

// BytesToSelector returns a selector built from the first bytes of b.
func BytesToSelector(b []byte) (s Selector) {
	copy(s[:], b)
	return
}

// HexToSelector parses a 0x prefixed 4-byte hex string.
func HexToSelector(str string) (s Selector, err error) {
	err = s.UnmarshalText([]byte(str))
	return
}

// String implements fmt.Stringer.
func (s Selector) String() string {
	return hexutil.Encode(s[:])
}

// MarshalText implements encoding.TextMarshaler.
func (s Selector) MarshalText() ([]byte, error) {
	return hexutil.Bytes(s[:]).MarshalText()
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Selector) UnmarshalText(input []byte) error {
	return hexutil.UnmarshalFixedText("Selector", input, s[:])
}
