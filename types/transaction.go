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
	"crypto/ecdsa"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/pkg/errors"
)

// signatureLength is the size of a recoverable secp256k1 signature [R || S || V].
const signatureLength = 65

// TxKind selects the ledger operation carried by a transaction.
type TxKind uint8

const (
	// TxKindCompute submits a paid computation request.
	TxKindCompute TxKind = iota + 1
	// TxKindCallback fulfills a pending request.
	TxKindCallback
	// TxKindCancelCompute cancels a pending request and refunds its payment.
	TxKindCancelCompute
	// TxKindSetCallPrice replaces the call price.
	TxKindSetCallPrice
)

// String implements fmt.Stringer.
func (k TxKind) String() string {
	switch k {
	case TxKindCompute:
		return "compute"
	case TxKindCallback:
		return "callback"
	case TxKindCancelCompute:
		return "cancelCompute"
	case TxKindSetCallPrice:
		return "setCallPrice"
	default:
		return "unknown"
	}
}

// TxHeader holds the signed fields of a transaction.
type TxHeader struct {
	ChainID uint64
	Kind    TxKind
	Nonce   uint64
	Value   *big.Int
	Payload []byte
}

// Transaction is a signed ledger call.
type Transaction struct {
	TxHeader
	Signature []byte
}

// NewTransaction encodes args as the payload of a transaction of the given kind.
func NewTransaction(chainID uint64, kind TxKind, nonce uint64, value *big.Int, args interface{}) (
	tx *Transaction, err error,
) {
	var payload []byte
	if payload, err = rlp.EncodeToBytes(args); err != nil {
		err = errors.Wrap(err, "encode transaction payload failed")
		return
	}
	if value == nil {
		value = new(big.Int)
	}
	tx = &Transaction{
		TxHeader: TxHeader{
			ChainID: chainID,
			Kind:    kind,
			Nonce:   nonce,
			Value:   new(big.Int).Set(value),
			Payload: payload,
		},
	}
	return
}

// Hash returns the keccak256 hash of the signed fields.
func (tx *Transaction) Hash() (h common.Hash) {
	enc, err := rlp.EncodeToBytes(&tx.TxHeader)
	if err != nil {
		// TxHeader only holds rlp encodable fields
		panic(err)
	}
	return crypto.Keccak256Hash(enc)
}

// Sign signs the transaction with key.
func (tx *Transaction) Sign(key *ecdsa.PrivateKey) (err error) {
	h := tx.Hash()
	tx.Signature, err = crypto.Sign(h[:], key)
	return
}

// Sender recovers the signing address.
func (tx *Transaction) Sender() (addr common.Address, err error) {
	if len(tx.Signature) != signatureLength {
		err = ErrInvalidSignature
		return
	}
	h := tx.Hash()
	pub, err := crypto.SigToPub(h[:], tx.Signature)
	if err != nil {
		err = errors.Wrap(ErrInvalidSignature, err.Error())
		return
	}
	addr = crypto.PubkeyToAddress(*pub)
	return
}

// DecodePayload decodes the transaction payload into args.
func (tx *Transaction) DecodePayload(args interface{}) (err error) {
	if err = rlp.DecodeBytes(tx.Payload, args); err != nil {
		err = errors.Wrap(ErrMalformedPayload, err.Error())
	}
	return
}

// Serialize returns the RLP encoding of the signed transaction.
func (tx *Transaction) Serialize() ([]byte, error) {
	return rlp.EncodeToBytes(tx)
}

// Deserialize decodes a transaction produced by Serialize.
func (tx *Transaction) Deserialize(enc []byte) (err error) {
	if err = rlp.DecodeBytes(enc, tx); err != nil {
		err = errors.Wrap(ErrMalformedPayload, err.Error())
	}
	return
}
