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
	"errors"

	perrors "github.com/pkg/errors"
)

// Request protocol errors.
var (
	// ErrInsufficientPayment indicates that compute was paid less than the call price.
	ErrInsufficientPayment = errors.New("insufficient payment")
	// ErrUnauthorized indicates that the caller may not perform the operation.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrUnknownRequest indicates that the request id is not pending.
	ErrUnknownRequest = errors.New("unknown request")
	// ErrMalformedResult indicates that a callback result does not fill the result slot exactly.
	ErrMalformedResult = errors.New("malformed result")
	// ErrTooEarly indicates a cancellation before the request's cancel expiration.
	ErrTooEarly = errors.New("cancellation before expiration")
)

// Ledger platform errors.
var (
	// ErrInvalidAccountNonce indicates that a transaction has a invalid account nonce.
	ErrInvalidAccountNonce = errors.New("invalid account nonce")
	// ErrInsufficientBalance indicates that an account cannot afford value plus fee.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrInvalidSignature indicates that the transaction sender cannot be recovered.
	ErrInvalidSignature = errors.New("invalid signature")
	// ErrInvalidChainID indicates that a transaction was signed for another chain.
	ErrInvalidChainID = errors.New("invalid chain id")
	// ErrNonPayable indicates that value was attached to a non-payable operation.
	ErrNonPayable = errors.New("operation is not payable")
	// ErrUnknownTransactionKind indicates that a transaction has a unknown kind.
	ErrUnknownTransactionKind = errors.New("unknown transaction kind")
	// ErrMalformedPayload indicates that transaction arguments cannot be decoded.
	ErrMalformedPayload = errors.New("malformed transaction payload")
)

// Result slot encoding errors, local to the relay.
var (
	// ErrMalformedJSON indicates that a payload is not a JSON document.
	ErrMalformedJSON = errors.New("malformed json")
	// ErrResultTooLarge indicates that a compacted result exceeds ResultSize.
	ErrResultTooLarge = errors.New("result exceeds slot size")
)

var errorCodes = map[error]int64{
	ErrInsufficientPayment: -32001,
	ErrUnauthorized:        -32002,
	ErrUnknownRequest:      -32003,
	ErrMalformedResult:     -32004,
	ErrTooEarly:            -32005,

	ErrInvalidAccountNonce:    -32010,
	ErrInsufficientBalance:    -32011,
	ErrInvalidSignature:       -32012,
	ErrInvalidChainID:         -32013,
	ErrNonPayable:             -32014,
	ErrUnknownTransactionKind: -32015,
	ErrMalformedPayload:       -32016,
}

var codeErrors = func() map[int64]error {
	m := make(map[int64]error, len(errorCodes))
	for err, code := range errorCodes {
		m[code] = err
	}
	return m
}()

// ErrorCode returns the wire code of a (possibly wrapped) ledger error.
func ErrorCode(err error) (code int64, ok bool) {
	code, ok = errorCodes[perrors.Cause(err)]
	return
}

// ErrorFromCode maps a wire code back to its sentinel error.
func ErrorFromCode(code int64) (err error, ok bool) {
	err, ok = codeErrors[code]
	return
}

// IsRejection reports whether err is a ledger rejection, as opposed to a
// transport or local failure.
func IsRejection(err error) bool {
	_, ok := ErrorCode(err)
	return ok
}
