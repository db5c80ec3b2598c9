/* Apache v2 license
*  Copyright (C) <2019> Intel Corporation
*
*  SPDX-License-Identifier: Apache-2.0
 */

package alert

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/intel/rsp-sw-toolkit-im-suite-baggage-tracking-service/pkg/mongodb"
	"github.com/intel/rsp-sw-toolkit-im-suite-utilities/go-metrics"
	"github.com/intel/rsp-sw-toolkit-im-suite-utilities/helper"
	log "github.com/sirupsen/logrus"
)

// Notifier delivers a raised alert to an external channel. Delivery is
// best effort; the alert is already durable when Notify is called.
type Notifier interface {
	Notify(raised Alert) error
}

// AttachFunc records a raised alert id on the owning entity.
type AttachFunc func(tagID, alertID string) error

// Sink is the single funnel for raised alerts. It suppresses duplicates
// (same tag, same type, previous one unresolved), persists the alert, and
// only then hands it to the notifier. Persistence and delivery run on a
// worker so rule evaluation never blocks on I/O.
type Sink struct {
	masterDB *mongodb.DB
	notifier Notifier
	attach   AttachFunc
	retryMax int

	queue chan Alert

	mutex    sync.Mutex
	activeBy map[string]string // tagID|type -> alert id
	keyByID  map[string]string // alert id -> tagID|type

	waitGroup sync.WaitGroup
}

// NewSink starts the sink worker. masterDB, notifier and attach may each be
// nil, the corresponding stage is skipped.
func NewSink(masterDB *mongodb.DB, notifier Notifier, attach AttachFunc, queueSize, retryMax int) *Sink {
	if queueSize < 1 {
		queueSize = 1
	}
	if retryMax < 1 {
		retryMax = 1
	}
	sink := &Sink{
		masterDB: masterDB,
		notifier: notifier,
		attach:   attach,
		retryMax: retryMax,
		queue:    make(chan Alert, queueSize),
		activeBy: make(map[string]string),
		keyByID:  make(map[string]string),
	}
	sink.waitGroup.Add(1)
	go sink.run()
	return sink
}

// Stop drains the queue and waits for the worker.
func (sink *Sink) Stop() {
	close(sink.queue)
	sink.waitGroup.Wait()
}

// Warm seeds the dedup cache from alerts loaded out of durable storage.
func (sink *Sink) Warm(unresolved []Alert) {
	sink.mutex.Lock()
	defer sink.mutex.Unlock()
	for _, raised := range unresolved {
		key := dedupKey(raised.TagID, raised.Type)
		sink.activeBy[key] = raised.ID
		sink.keyByID[raised.ID] = key
	}
}

// Record accepts one alert draft. When an unresolved alert of the same
// type already exists for the tag, the draft is suppressed and the
// existing id is returned.
func (sink *Sink) Record(draft Alert) string {
	metrics.GetOrRegisterGauge(`AlertSink.Record.Attempt`, nil).Update(1)

	key := dedupKey(draft.TagID, draft.Type)

	sink.mutex.Lock()
	if existingID, ok := sink.activeBy[key]; ok {
		sink.mutex.Unlock()
		metrics.GetOrRegisterGaugeCollection(`AlertSink.Record.Suppressed`, nil).Add(1)
		return existingID
	}
	if draft.ID == "" {
		draft.ID = uuid.New().String()
	}
	if draft.SentOn == 0 {
		draft.SentOn = helper.UnixMilliNow()
	}
	sink.activeBy[key] = draft.ID
	sink.keyByID[draft.ID] = key
	sink.mutex.Unlock()

	select {
	case sink.queue <- draft:
	default:
		// a shed alert was never durable; free its slot so the condition
		// can fire again, otherwise the suppression would be permanent
		sink.release(draft.ID)
		metrics.GetOrRegisterGaugeCollection(`AlertSink.Record.QueueFull`, nil).Add(1)
		log.WithFields(log.Fields{
			"Method":  "Sink.Record",
			"TagID":   draft.TagID,
			"Type":    draft.Type,
			"AlertID": draft.ID,
		}).Error("alert queue full, alert dropped")
	}
	return draft.ID
}

// release frees the dedup slot of an alert that never became durable.
func (sink *Sink) release(alertID string) {
	sink.mutex.Lock()
	if key, ok := sink.keyByID[alertID]; ok {
		delete(sink.keyByID, alertID)
		delete(sink.activeBy, key)
	}
	sink.mutex.Unlock()
}

// Resolve marks an alert resolved and reopens its dedup slot so the same
// condition can alert again.
func (sink *Sink) Resolve(alertID string, resolvedOn int64) error {
	if sink.masterDB != nil {
		session := sink.masterDB.CopySession()
		err := MarkResolved(session, alertID, resolvedOn)
		session.Close()
		if err != nil {
			return err
		}
	}

	sink.mutex.Lock()
	if key, ok := sink.keyByID[alertID]; ok {
		delete(sink.keyByID, alertID)
		delete(sink.activeBy, key)
	}
	sink.mutex.Unlock()

	metrics.GetOrRegisterGaugeCollection(`AlertSink.Resolve.Success`, nil).Add(1)
	return nil
}

// ActiveCount reports how many dedup slots are held, for telemetry.
func (sink *Sink) ActiveCount() int {
	sink.mutex.Lock()
	defer sink.mutex.Unlock()
	return len(sink.activeBy)
}

func (sink *Sink) run() {
	defer sink.waitGroup.Done()
	for raised := range sink.queue {
		sink.process(raised)
	}
}

// process persists first, then attaches, then notifies. A notification
// failure never rolls back the persisted alert.
func (sink *Sink) process(raised Alert) {
	if sink.masterDB != nil {
		if err := sink.persist(raised); err != nil {
			sink.release(raised.ID)
			log.WithFields(log.Fields{
				"Method":  "Sink.process",
				"AlertID": raised.ID,
				"TagID":   raised.TagID,
				"Error":   err.Error(),
			}).Error("alert persistence abandoned, slot released, skipping delivery")
			return
		}
	}

	if sink.attach != nil {
		if err := sink.attach(raised.TagID, raised.ID); err != nil {
			log.WithFields(log.Fields{
				"Method":  "Sink.process",
				"AlertID": raised.ID,
				"TagID":   raised.TagID,
				"Error":   err.Error(),
			}).Warn("unable to attach alert to entity")
		}
	}

	if sink.notifier == nil {
		return
	}
	var lastErr error
	for attempt := 1; attempt <= sink.retryMax; attempt++ {
		if lastErr = sink.notifier.Notify(raised); lastErr == nil {
			metrics.GetOrRegisterGaugeCollection(`AlertSink.Notify.Success`, nil).Add(1)
			return
		}
		time.Sleep(time.Duration(attempt) * 100 * time.Millisecond)
	}
	metrics.GetOrRegisterGaugeCollection(`AlertSink.Notify.Abandoned`, nil).Add(1)
	log.WithFields(log.Fields{
		"Method":  "Sink.process",
		"AlertID": raised.ID,
		"TagID":   raised.TagID,
		"Error":   lastErr.Error(),
	}).Error("alert delivery abandoned, alert remains persisted")
}

func (sink *Sink) persist(raised Alert) error {
	var lastErr error
	for attempt := 1; attempt <= sink.retryMax; attempt++ {
		session := sink.masterDB.CopySession()
		lastErr = Upsert(session, &raised)
		session.Close()
		if lastErr == nil {
			return nil
		}
		time.Sleep(time.Duration(attempt) * 50 * time.Millisecond)
	}
	return lastErr
}

func dedupKey(tagID, alertType string) string {
	return tagID + "|" + alertType
}
