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
	"bytes"
	"encoding/json"

	"github.com/pkg/errors"
)

// ResultSize is the fixed width of the result slot written back by callback.
const ResultSize = 32

// EncodeResult compacts a JSON document and right-pads it with zero bytes to
// the result slot width.
func EncodeResult(doc []byte) (slot []byte, err error) {
	var buf bytes.Buffer
	if err = json.Compact(&buf, doc); err != nil {
		err = errors.Wrap(ErrMalformedJSON, err.Error())
		return
	}
	if buf.Len() > ResultSize {
		err = errors.Wrapf(ErrResultTooLarge, "%d bytes", buf.Len())
		return
	}
	slot = make([]byte, ResultSize)
	copy(slot, buf.Bytes())
	return
}

// DecodeResult returns the slot content with trailing zero bytes removed.
func DecodeResult(slot []byte) string {
	return string(bytes.TrimRight(slot, "\x00"))
}
