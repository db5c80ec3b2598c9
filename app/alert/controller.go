/* Apache v2 license
*  Copyright (C) <2019> Intel Corporation
*
*  SPDX-License-Identifier: Apache-2.0
 */

package alert

import (
	"time"

	"github.com/globalsign/mgo"
	"github.com/globalsign/mgo/bson"
	"github.com/intel/rsp-sw-toolkit-im-suite-baggage-tracking-service/pkg/mongodb"
	"github.com/intel/rsp-sw-toolkit-im-suite-utilities/go-metrics"
	"github.com/pkg/errors"
)

const alertCollection = "alerts"

// Upsert writes the alert keyed by its id.
func Upsert(dbs *mongodb.DB, raised *Alert) error {

	metrics.GetOrRegisterGauge(`Baggage.AlertUpsert.Attempt`, nil).Update(1)
	mSuccess := metrics.GetOrRegisterGauge(`Baggage.AlertUpsert.Success`, nil)
	mUpsertErr := metrics.GetOrRegisterGauge(`Baggage.AlertUpsert.Upsert-Error`, nil)
	mUpsertLatency := metrics.GetOrRegisterTimer(`Baggage.AlertUpsert.Upsert-Latency`, nil)

	execFunc := func(collection *mgo.Collection) error {
		_, err := collection.Upsert(bson.M{"id": raised.ID}, raised)
		return err
	}

	upsertTimer := time.Now()
	if err := dbs.Execute(alertCollection, execFunc); err != nil {
		mUpsertErr.Update(1)
		return errors.Wrap(err, "db.alerts.upsert()")
	}
	mUpsertLatency.Update(time.Since(upsertTimer))

	mSuccess.Update(1)
	return nil
}

// FindByTagID returns the alerts raised for one bag, newest first.
func FindByTagID(dbs *mongodb.DB, tagID string, limit int) ([]Alert, error) {

	metrics.GetOrRegisterGauge(`Baggage.AlertFindByTagID.Attempt`, nil).Update(1)
	mSuccess := metrics.GetOrRegisterGauge(`Baggage.AlertFindByTagID.Success`, nil)
	mFindErr := metrics.GetOrRegisterGauge(`Baggage.AlertFindByTagID.Find-Error`, nil)

	var results []Alert
	execFunc := func(collection *mgo.Collection) error {
		return collection.Find(bson.M{"tag_id": tagID}).Sort("-sent_on").Limit(limit).All(&results)
	}

	if err := dbs.Execute(alertCollection, execFunc); err != nil {
		mFindErr.Update(1)
		return nil, errors.Wrap(err, "db.alerts.find()")
	}

	mSuccess.Update(1)
	return results, nil
}

// FindByID returns the alert with the given id, nil when absent.
func FindByID(dbs *mongodb.DB, alertID string) (*Alert, error) {

	var found Alert
	execFunc := func(collection *mgo.Collection) error {
		return collection.Find(bson.M{"id": alertID}).One(&found)
	}

	if err := dbs.Execute(alertCollection, execFunc); err != nil {
		if err == mgo.ErrNotFound {
			return nil, nil
		}
		return nil, errors.Wrap(err, "db.alerts.find()")
	}
	return &found, nil
}

// FindUnresolved returns every alert not yet resolved, used to warm the
// dedup cache after a restart.
func FindUnresolved(dbs *mongodb.DB) ([]Alert, error) {

	var results []Alert
	execFunc := func(collection *mgo.Collection) error {
		return collection.Find(bson.M{"resolved": false}).All(&results)
	}

	if err := dbs.Execute(alertCollection, execFunc); err != nil {
		return nil, errors.Wrap(err, "db.alerts.find()")
	}
	return results, nil
}

// MarkResolved flips the alert's resolved flag. Returns mgo.ErrNotFound
// when the id is unknown.
func MarkResolved(dbs *mongodb.DB, alertID string, resolvedOn int64) error {

	metrics.GetOrRegisterGauge(`Baggage.AlertResolve.Attempt`, nil).Update(1)
	mSuccess := metrics.GetOrRegisterGauge(`Baggage.AlertResolve.Success`, nil)
	mUpdateErr := metrics.GetOrRegisterGauge(`Baggage.AlertResolve.Update-Error`, nil)

	execFunc := func(collection *mgo.Collection) error {
		return collection.Update(bson.M{"id": alertID},
			bson.M{"$set": bson.M{"resolved": true, "resolved_on": resolvedOn}})
	}

	if err := dbs.Execute(alertCollection, execFunc); err != nil {
		if err == mgo.ErrNotFound {
			return err
		}
		mUpdateErr.Update(1)
		return errors.Wrap(err, "db.alerts.update()")
	}

	mSuccess.Update(1)
	return nil
}

// SetResolutionNote attaches free text to an already-resolved alert. Returns
// mgo.ErrNotFound when the id is unknown.
func SetResolutionNote(dbs *mongodb.DB, alertID string, note string) error {

	mUpdateErr := metrics.GetOrRegisterGauge(`Baggage.AlertNote.Update-Error`, nil)

	execFunc := func(collection *mgo.Collection) error {
		return collection.Update(bson.M{"id": alertID},
			bson.M{"$set": bson.M{"resolution_note": note}})
	}

	if err := dbs.Execute(alertCollection, execFunc); err != nil {
		if err == mgo.ErrNotFound {
			return err
		}
		mUpdateErr.Update(1)
		return errors.Wrap(err, "db.alerts.update()")
	}

	return nil
}
