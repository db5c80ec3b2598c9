/* Apache v2 license
*  Copyright (C) <2019> Intel Corporation
*
*  SPDX-License-Identifier: Apache-2.0
 */

package mongodb

import (
	"time"

	"github.com/globalsign/mgo"
	"github.com/pkg/errors"
)

// DB wraps an mgo session bound to a single database. Handlers copy the
// master session per request and close the copy when done.
type DB struct {
	session  *mgo.Session
	database string
}

// NewSession dials mongo and returns the master DB handle.
func NewSession(url string, timeout time.Duration) (*DB, error) {
	dialInfo, err := mgo.ParseURL(url)
	if err != nil {
		return nil, errors.Wrap(err, "unable to parse mongodb url")
	}
	dialInfo.Timeout = timeout

	session, err := mgo.DialWithInfo(dialInfo)
	if err != nil {
		return nil, errors.Wrap(err, "unable to dial mongodb")
	}
	session.SetMode(mgo.Monotonic, true)

	return &DB{session: session, database: dialInfo.Database}, nil
}

// CopySession copies the underlying session for an independent unit of work.
func (db *DB) CopySession() *DB {
	return &DB{session: db.session.Copy(), database: db.database}
}

// Close closes the underlying session.
func (db *DB) Close() {
	db.session.Close()
}

// Execute runs execFunc against the named collection.
func (db *DB) Execute(collectionName string, execFunc func(*mgo.Collection) error) error {
	return execFunc(db.session.DB(db.database).C(collectionName))
}

// ExecuteCount runs a counting execFunc against the named collection.
func (db *DB) ExecuteCount(collectionName string, execFunc func(*mgo.Collection) (int, error)) (int, error) {
	return execFunc(db.session.DB(db.database).C(collectionName))
}

// Ping verifies the master session is still reachable.
func (db *DB) Ping() error {
	return db.session.Ping()
}
