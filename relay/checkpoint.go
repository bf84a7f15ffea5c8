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
	"time"

	"github.com/pkg/errors"
	gorp "gopkg.in/gorp.v2"
)

// Checkpoint records the last block of a watch whose logs are durably handled.
type Checkpoint struct {
	Watch       string `db:"watch"`
	BlockNumber int64  `db:"block_number"`
	LastUpdate  int64  `db:"last_update"`
}

// LoadCheckpoint returns the checkpoint of watch, ok is false when the watch
// never handled a block.
func LoadCheckpoint(db *gorp.DbMap, watch string) (number uint64, ok bool, err error) {
	var cp *Checkpoint
	err = db.SelectOne(&cp, `SELECT * FROM "checkpoint" WHERE "watch" = ? LIMIT 1`, watch)
	if err == sql.ErrNoRows {
		err = nil
		return
	}
	if err != nil {
		err = errors.Wrapf(err, "load checkpoint of %s failed", watch)
		return
	}
	return uint64(cp.BlockNumber), true, nil
}

// SaveCheckpoint moves the checkpoint of watch forward to number, it never
// moves backwards.
func SaveCheckpoint(db *gorp.DbMap, watch string, number uint64) (err error) {
	tx, err := db.Begin()
	if err != nil {
		return errors.Wrap(err, "begin checkpoint transaction failed")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
			err = errors.Wrapf(err, "save checkpoint of %s failed", watch)
			return
		}
		err = tx.Commit()
	}()

	var cp *Checkpoint
	err = tx.SelectOne(&cp, `SELECT * FROM "checkpoint" WHERE "watch" = ? LIMIT 1`, watch)
	if err == sql.ErrNoRows {
		err = tx.Insert(&Checkpoint{
			Watch:       watch,
			BlockNumber: int64(number),
			LastUpdate:  time.Now().Unix(),
		})
		return
	}
	if err != nil || int64(number) <= cp.BlockNumber {
		return
	}
	cp.BlockNumber = int64(number)
	cp.LastUpdate = time.Now().Unix()
	_, err = tx.Update(cp)
	return
}
