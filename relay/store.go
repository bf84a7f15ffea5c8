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

	// Register the sqlite3 driver.
	_ "github.com/CovenantSQL/go-sqlite3-encrypt"
	"github.com/pkg/errors"
	gorp "gopkg.in/gorp.v2"

	"github.com/CovenantSQL/cql-oracle/utils"
)

// OpenStore opens the relay sqlite database and creates the missing tables.
func OpenStore(path string) (db *gorp.DbMap, err error) {
	if err = utils.EnsureParentDir(path); err != nil {
		return nil, errors.Wrapf(err, "prepare relay database %s failed", path)
	}
	raw, err := sql.Open("sqlite3", path)
	if err != nil {
		err = errors.Wrapf(err, "open relay database %s failed", path)
		return
	}
	// sqlite allows a single writer
	raw.SetMaxOpenConns(1)

	db = &gorp.DbMap{Db: raw, Dialect: gorp.SqliteDialect{}}
	db.AddTableWithName(RequestRecord{}, "request").
		SetKeys(false, "RequestID")
	db.AddTableWithName(Checkpoint{}, "checkpoint").
		SetKeys(false, "Watch")
	db.AddTableWithName(AuditRecord{}, "audit").
		SetKeys(true, "ID")
	if err = db.CreateTablesIfNotExists(); err != nil {
		_ = raw.Close()
		db = nil
		err = errors.Wrap(err, "create relay tables failed")
	}
	return
}
