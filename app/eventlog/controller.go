/* Apache v2 license
*  Copyright (C) <2019> Intel Corporation
*
*  SPDX-License-Identifier: Apache-2.0
 */

package eventlog

import (
	"time"

	"github.com/globalsign/mgo"
	"github.com/globalsign/mgo/bson"
	"github.com/intel/rsp-sw-toolkit-im-suite-baggage-tracking-service/app/ingestor"
	"github.com/intel/rsp-sw-toolkit-im-suite-baggage-tracking-service/pkg/mongodb"
	"github.com/intel/rsp-sw-toolkit-im-suite-utilities/go-metrics"
	"github.com/pkg/errors"
)

const eventCollection = "events"

// Record is one accepted scan, stored append-only for auditing. The TTL
// field drives the expiry index so the log purges itself.
type Record struct {
	ingestor.LocationEvent `bson:",inline"`
	ReceivedOn             int64     `json:"received_on" bson:"received_on"`
	TTL                    time.Time `json:"-" bson:"ttl"`
}

// Append inserts one accepted event into the log.
func Append(dbs *mongodb.DB, event ingestor.LocationEvent, receivedOn int64) error {

	metrics.GetOrRegisterGauge(`EventLog.Append.Attempt`, nil).Update(1)
	mSuccess := metrics.GetOrRegisterGauge(`EventLog.Append.Success`, nil)
	mInsertErr := metrics.GetOrRegisterGauge(`EventLog.Append.Insert-Error`, nil)

	record := Record{
		LocationEvent: event,
		ReceivedOn:    receivedOn,
		TTL:           time.Now(),
	}

	execFunc := func(collection *mgo.Collection) error {
		return collection.Insert(record)
	}

	if err := dbs.Execute(eventCollection, execFunc); err != nil {
		mInsertErr.Update(1)
		return errors.Wrap(err, "db.events.insert()")
	}

	mSuccess.Update(1)
	return nil
}

// FindByTagID returns the stored scans for one bag, oldest first, capped
// at limit.
func FindByTagID(dbs *mongodb.DB, tagID string, limit int) ([]Record, error) {

	metrics.GetOrRegisterGauge(`EventLog.FindByTagID.Attempt`, nil).Update(1)
	mSuccess := metrics.GetOrRegisterGauge(`EventLog.FindByTagID.Success`, nil)
	mFindErr := metrics.GetOrRegisterGauge(`EventLog.FindByTagID.Find-Error`, nil)

	var results []Record
	execFunc := func(collection *mgo.Collection) error {
		return collection.Find(bson.M{"tag_id": tagID}).Sort("timestamp").Limit(limit).All(&results)
	}

	if err := dbs.Execute(eventCollection, execFunc); err != nil {
		mFindErr.Update(1)
		return nil, errors.Wrap(err, "db.events.find()")
	}

	mSuccess.Update(1)
	return results, nil
}
