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

package relay

import (
	"database/sql"
	"encoding/json"
	"math"
	"time"

	"github.com/pkg/errors"
	gorp "gopkg.in/gorp.v2"

	"github.com/CovenantSQL/cql-oracle/types"
)

// RequestState defines the relay processing state of an oracle request.
type RequestState int16

const (
	// RequestStateDetected defines the state for a new request waiting for dispatch.
	RequestStateDetected RequestState = iota
	// RequestStateDispatching defines the state for an on-going compute and callback.
	RequestStateDispatching
	// RequestStateDispatched defines the state for a request whose callback was accepted.
	RequestStateDispatched
	// RequestStateFulfilled defines the state for a request whose Callbacked event was observed.
	RequestStateFulfilled
	// RequestStateExpired defines the state for a request detected after its cancel expiration.
	RequestStateExpired
	// RequestStateFailed defines general dispatch failed state.
	RequestStateFailed
	// RequestStateSkipped defines the state for a request no longer pending on the ledger.
	RequestStateSkipped
)

// String implements the Stringer interface for request state stringify.
func (s RequestState) String() string {
	switch s {
	case RequestStateDetected:
		return "Detected"
	case RequestStateDispatching:
		return "Dispatching"
	case RequestStateDispatched:
		return "Dispatched"
	case RequestStateFulfilled:
		return "Fulfilled"
	case RequestStateExpired:
		return "Expired"
	case RequestStateFailed:
		return "Failed"
	case RequestStateSkipped:
		return "Skipped"
	default:
		return "Unknown"
	}
}

// Terminal reports whether the relay will not touch a request in this state again.
func (s RequestState) Terminal() bool {
	return s != RequestStateDetected && s != RequestStateDispatching
}

// RequestRecord defines the request record object of the relay instance.
type RequestRecord struct {
	RequestID string                    `db:"request_id"`
	RawEvent  []byte                    `db:"event"`
	Event     *types.OracleRequestEvent `db:"-"`

	// ledger stuff
	Requester        string `db:"requester"`
	CancelExpiration int64  `db:"cancel_expiration"`
	BlockNumber      int64  `db:"block_number"`
	TxHash           string `db:"tx_hash"`

	// dispatch stuff
	State         RequestState `db:"state"`
	Attempts      int64        `db:"attempts"`
	Result        []byte       `db:"result"`
	CallbackTx    string       `db:"callback_tx"`
	CalleeSuccess int8         `db:"callee_success"`
	Error         string       `db:"error"`

	Created    int64 `db:"created"`
	LastUpdate int64 `db:"last_update"`
}

func newRequestRecord(l *types.Log) *RequestRecord {
	ev := l.OracleRequest
	r := &RequestRecord{
		RequestID:        ev.RequestID.Hex(),
		Event:            ev,
		Requester:        ev.Requester.Hex(),
		CancelExpiration: math.MaxInt64,
		BlockNumber:      int64(l.BlockNumber),
		TxHash:           l.TxHash.Hex(),
		State:            RequestStateDetected,
	}
	if ev.CancelExpiration == nil {
		r.CancelExpiration = 0
	} else if ev.CancelExpiration.IsInt64() {
		r.CancelExpiration = ev.CancelExpiration.Int64()
	}
	return r
}

// PostGet implements gorp.HasPostGet interface.
func (r *RequestRecord) PostGet(gorp.SqlExecutor) (err error) {
	return r.Deserialize()
}

// PreUpdate implements gorp.HasPreUpdate interface.
func (r *RequestRecord) PreUpdate(gorp.SqlExecutor) (err error) {
	r.LastUpdate = time.Now().Unix()
	return r.Serialize()
}

// PreInsert implements gorp.HasPreInsert interface.
func (r *RequestRecord) PreInsert(gorp.SqlExecutor) (err error) {
	r.Created = time.Now().Unix()
	r.LastUpdate = r.Created
	return r.Serialize()
}

// Serialize marshal event object to bytes.
func (r *RequestRecord) Serialize() (err error) {
	r.RawEvent, err = json.Marshal(r.Event)
	return
}

// Deserialize unmarshal event bytes to object.
func (r *RequestRecord) Deserialize() (err error) {
	return json.Unmarshal(r.RawEvent, &r.Event)
}

// UpsertRequest adds a detected request to the database. The stored record is
// returned, created is false when the request was already known.
func UpsertRequest(db *gorp.DbMap, r *RequestRecord) (d *RequestRecord, created bool, err error) {
	defer func() {
		var auditErr = err
		if err == nil && !created {
			auditErr = errors.Errorf("request already known in state %s", d.State)
		}
		_ = AddAuditRecord(db, &AuditRecord{
			RequestID: r.RequestID,
			Op:        "upsert_request",
			Data:      r,
			Error:     errorString(auditErr),
		})
	}()

	d, err = GetRequest(db, r.RequestID)
	if err == nil {
		return
	}
	if errors.Cause(err) != sql.ErrNoRows {
		return
	}
	if err = db.Insert(r); err != nil {
		err = errors.Wrap(err, "insert request record failed")
		return
	}
	d, created = r, true
	return
}

// GetRequest fetches a request record, sql.ErrNoRows when unknown.
func GetRequest(db *gorp.DbMap, id string) (r *RequestRecord, err error) {
	err = db.SelectOne(&r, `SELECT * FROM "request" WHERE "request_id" = ? LIMIT 1`, id)
	return
}

// GetUnfinishedRequests returns the requests a previous run left in progress.
func GetUnfinishedRequests(db *gorp.DbMap) (records []*RequestRecord, err error) {
	_, err = db.Select(&records,
		`SELECT * FROM "request" WHERE "state" IN (?, ?) ORDER BY "block_number", "created"`,
		RequestStateDetected, RequestStateDispatching)
	return
}

// GetRequestsByState returns the requests in state s.
func GetRequestsByState(db *gorp.DbMap, s RequestState) (records []*RequestRecord, err error) {
	_, err = db.Select(&records, `SELECT * FROM "request" WHERE "state" = ? ORDER BY "block_number"`, s)
	return
}

// SetRequestState updates the state of r, cause is recorded as the request
// error when not nil.
func SetRequestState(db *gorp.DbMap, r *RequestRecord, s RequestState, cause error) (err error) {
	from := r.State
	defer func() {
		_ = AddAuditRecord(db, &AuditRecord{
			RequestID: r.RequestID,
			Op:        "set_state",
			Data:      map[string]interface{}{"from": from.String(), "to": s.String(), "cause": errorString(cause)},
			Error:     errorString(err),
		})
	}()
	r.State = s
	r.Error = errorString(cause)
	if _, err = db.Update(r); err != nil {
		err = errors.Wrapf(err, "update request %s to %s failed", r.RequestID, s)
	}
	return
}

func errorString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
