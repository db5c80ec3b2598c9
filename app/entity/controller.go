/* Apache v2 license
*  Copyright (C) <2019> Intel Corporation
*
*  SPDX-License-Identifier: Apache-2.0
 */

package entity

import (
	"time"

	"github.com/globalsign/mgo"
	"github.com/globalsign/mgo/bson"
	"github.com/intel/rsp-sw-toolkit-im-suite-baggage-tracking-service/app/config"
	"github.com/intel/rsp-sw-toolkit-im-suite-baggage-tracking-service/pkg/mongodb"
	"github.com/intel/rsp-sw-toolkit-im-suite-utilities/go-metrics"
	"github.com/pkg/errors"
)

const entityCollection = "entities"

// Upsert writes the entity snapshot keyed by tag id.
func Upsert(dbs *mongodb.DB, ent *TrackedEntity) error {

	// Metrics
	metrics.GetOrRegisterGauge(`Baggage.EntityUpsert.Attempt`, nil).Update(1)
	mSuccess := metrics.GetOrRegisterGauge(`Baggage.EntityUpsert.Success`, nil)
	mUpsertErr := metrics.GetOrRegisterGauge(`Baggage.EntityUpsert.Upsert-Error`, nil)
	mUpsertLatency := metrics.GetOrRegisterTimer(`Baggage.EntityUpsert.Upsert-Latency`, nil)

	execFunc := func(collection *mgo.Collection) error {
		_, err := collection.Upsert(bson.M{"tag_id": ent.TagID}, ent)
		return err
	}

	upsertTimer := time.Now()
	if err := dbs.Execute(entityCollection, execFunc); err != nil {
		mUpsertErr.Update(1)
		return errors.Wrap(err, "db.entities.upsert()")
	}
	mUpsertLatency.Update(time.Since(upsertTimer))

	mSuccess.Update(1)
	return nil
}

// FindByTagID returns the stored entity for the tag, nil when absent.
func FindByTagID(dbs *mongodb.DB, tagID string) (*TrackedEntity, error) {

	// Metrics
	metrics.GetOrRegisterGauge(`Baggage.FindByTagID.Attempt`, nil).Update(1)
	mSuccess := metrics.GetOrRegisterGauge(`Baggage.FindByTagID.Success`, nil)
	mFindErr := metrics.GetOrRegisterGauge(`Baggage.FindByTagID.Find-Error`, nil)

	var ent TrackedEntity
	execFunc := func(collection *mgo.Collection) error {
		return collection.Find(bson.M{"tag_id": tagID}).One(&ent)
	}

	if err := dbs.Execute(entityCollection, execFunc); err != nil {
		if err == mgo.ErrNotFound {
			mSuccess.Update(1)
			return nil, nil
		}
		mFindErr.Update(1)
		return nil, errors.Wrap(err, "db.entities.find()")
	}

	mSuccess.Update(1)
	return &ent, nil
}

// Search retrieves entities matching the criteria, capped at the configured
// response limit.
func Search(dbs *mongodb.DB, criteria SearchCriteria) ([]TrackedEntity, int, error) {

	// Metrics
	metrics.GetOrRegisterGauge(`Baggage.EntitySearch.Attempt`, nil).Update(1)
	mSuccess := metrics.GetOrRegisterGauge(`Baggage.EntitySearch.Success`, nil)
	mFindErr := metrics.GetOrRegisterGauge(`Baggage.EntitySearch.Find-Error`, nil)
	mFindLatency := metrics.GetOrRegisterTimer(`Baggage.EntitySearch.Find-Latency`, nil)

	selector := bson.M{}
	if criteria.Status != "" {
		selector["status"] = criteria.Status
	}
	if criteria.ZoneID != "" {
		selector["current_location.zone_id"] = criteria.ZoneID
	}
	if criteria.ExternalReference != "" {
		selector["external_reference"] = criteria.ExternalReference
	}
	if !criteria.IncludeArchived {
		selector["archived"] = false
	}

	limit := criteria.Size
	if limit <= 0 || limit > config.AppConfig.ResponseLimit {
		limit = config.AppConfig.ResponseLimit
	}

	var results []TrackedEntity
	var count int
	execFunc := func(collection *mgo.Collection) error {
		var err error
		count, err = collection.Find(selector).Count()
		if err != nil {
			return err
		}
		return collection.Find(selector).Sort("-last_updated").Limit(limit).All(&results)
	}

	findTimer := time.Now()
	if err := dbs.Execute(entityCollection, execFunc); err != nil {
		mFindErr.Update(1)
		return nil, 0, errors.Wrap(err, "db.entities.find()")
	}
	mFindLatency.Update(time.Since(findTimer))

	mSuccess.Update(1)
	return results, count, nil
}

// LoadActive fetches every non-archived entity for warming the state store
// after a restart.
func LoadActive(dbs *mongodb.DB) ([]TrackedEntity, error) {

	metrics.GetOrRegisterGauge(`Baggage.LoadActive.Attempt`, nil).Update(1)
	mSuccess := metrics.GetOrRegisterGauge(`Baggage.LoadActive.Success`, nil)
	mFindErr := metrics.GetOrRegisterGauge(`Baggage.LoadActive.Find-Error`, nil)

	var results []TrackedEntity
	execFunc := func(collection *mgo.Collection) error {
		return collection.Find(bson.M{"archived": false}).All(&results)
	}

	if err := dbs.Execute(entityCollection, execFunc); err != nil {
		mFindErr.Update(1)
		return nil, errors.Wrap(err, "db.entities.find()")
	}

	mSuccess.Update(1)
	return results, nil
}
