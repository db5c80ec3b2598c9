/* Apache v2 license
*  Copyright (C) <2019> Intel Corporation
*
*  SPDX-License-Identifier: Apache-2.0
 */

package entity

import (
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/intel/rsp-sw-toolkit-im-suite-baggage-tracking-service/pkg/deadletter"
	"github.com/intel/rsp-sw-toolkit-im-suite-baggage-tracking-service/pkg/mongodb"
	"github.com/intel/rsp-sw-toolkit-im-suite-utilities/go-metrics"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// DeadLetter receives payloads whose primary write was abandoned and hands
// them back once the database recovers.
type DeadLetter interface {
	Store(kind string, key string, payload []byte) error
	PendingByKind(kind string, limit int) ([]deadletter.Entry, error)
	MarkReplayed(id int64) error
}

// MongoPersister writes entity snapshots through the shared mongo session
// with a bounded retry. Abandoned writes go to the dead letter store and
// latch the degraded flag until a write succeeds again.
type MongoPersister struct {
	masterDB   *mongodb.DB
	deadLetter DeadLetter
	retryMax   int
	degraded   int32
}

// NewMongoPersister wires the persister; deadLetter may be nil.
func NewMongoPersister(masterDB *mongodb.DB, deadLetter DeadLetter, retryMax int) *MongoPersister {
	if retryMax < 1 {
		retryMax = 1
	}
	return &MongoPersister{masterDB: masterDB, deadLetter: deadLetter, retryMax: retryMax}
}

// UpsertEntity retries the upsert with a short linear backoff. A final
// failure is dead lettered and reported as PersistenceError; in-memory
// state is never rolled back.
func (persister *MongoPersister) UpsertEntity(ent TrackedEntity) error {

	mSuccess := metrics.GetOrRegisterGauge(`Baggage.Persist.Success`, nil)
	mAbandoned := metrics.GetOrRegisterGaugeCollection(`Baggage.Persist.Abandoned`, nil)

	var lastErr error
	for attempt := 1; attempt <= persister.retryMax; attempt++ {
		copySession := persister.masterDB.CopySession()
		lastErr = Upsert(copySession, &ent)
		copySession.Close()
		if lastErr == nil {
			atomic.StoreInt32(&persister.degraded, 0)
			mSuccess.Update(1)
			return nil
		}
		time.Sleep(time.Duration(attempt) * 50 * time.Millisecond)
	}

	atomic.StoreInt32(&persister.degraded, 1)
	mAbandoned.Add(1)
	persister.deadLetterEntity(ent, lastErr)

	return mongodb.PersistenceError{Op: "entity.Upsert", Cause: errors.Cause(lastErr)}
}

func (persister *MongoPersister) deadLetterEntity(ent TrackedEntity, cause error) {
	if persister.deadLetter == nil {
		return
	}
	payload, err := json.Marshal(ent)
	if err != nil {
		log.WithFields(log.Fields{
			"Method": "MongoPersister.deadLetterEntity",
			"TagID":  ent.TagID,
			"Error":  err.Error(),
		}).Error("unable to marshal entity for dead letter")
		return
	}
	if err := persister.deadLetter.Store("entity", ent.TagID, payload); err != nil {
		log.WithFields(log.Fields{
			"Method": "MongoPersister.deadLetterEntity",
			"TagID":  ent.TagID,
			"Error":  err.Error(),
			"Cause":  cause.Error(),
		}).Error("dead letter write failed, entity snapshot lost from durable storage")
	}
}

// Replay writes spilled snapshots back to mongo and retires them from the
// dead letter store. It returns the number replayed. While the persister is
// degraded the batch is skipped outright, replaying into a database that is
// still failing would only spill the same payloads again.
func (persister *MongoPersister) Replay(limit int) (int, error) {
	if persister.deadLetter == nil || persister.Degraded() {
		return 0, nil
	}

	entries, err := persister.deadLetter.PendingByKind("entity", limit)
	if err != nil {
		return 0, errors.Wrap(err, "unable to list dead letters for replay")
	}

	replayed := 0
	for _, entry := range entries {
		var ent TrackedEntity
		if err := json.Unmarshal(entry.Payload, &ent); err != nil {
			log.WithFields(log.Fields{
				"Method": "MongoPersister.Replay",
				"ID":     entry.ID,
				"TagID":  entry.Key,
				"Error":  err.Error(),
			}).Error("unable to unmarshal dead letter, leaving in store")
			continue
		}

		copySession := persister.masterDB.CopySession()
		err := Upsert(copySession, &ent)
		copySession.Close()
		if err != nil {
			// the database is struggling again; stop and retry next sweep
			return replayed, mongodb.PersistenceError{Op: "entity.Replay", Cause: errors.Cause(err)}
		}

		if err := persister.deadLetter.MarkReplayed(entry.ID); err != nil {
			return replayed, errors.Wrap(err, "unable to mark dead letter replayed")
		}
		replayed++
	}

	if replayed > 0 {
		metrics.GetOrRegisterGauge(`Baggage.Persist.Replayed`, nil).Update(int64(replayed))
	}
	return replayed, nil
}

// Degraded reports whether the last write attempt was abandoned. Query
// responses carry this flag so consumers can see freshness is impaired.
func (persister *MongoPersister) Degraded() bool {
	return atomic.LoadInt32(&persister.degraded) == 1
}
