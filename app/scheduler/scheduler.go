/* Apache v2 license
*  Copyright (C) <2019> Intel Corporation
*
*  SPDX-License-Identifier: Apache-2.0
 */

package scheduler

import (
	"sync"
	"time"

	"github.com/intel/rsp-sw-toolkit-im-suite-baggage-tracking-service/app/alert"
	"github.com/intel/rsp-sw-toolkit-im-suite-baggage-tracking-service/app/entity"
	"github.com/intel/rsp-sw-toolkit-im-suite-utilities/go-metrics"
	log "github.com/sirupsen/logrus"
)

// Store is the slice of the entity store the scheduler drives.
type Store interface {
	ActiveSnapshots() []entity.TrackedEntity
	SweepPending(now time.Time)
	ArchiveBefore(cutoff int64)
}

// Engine evaluates the time-based rules against one snapshot.
type Engine interface {
	EvaluateTick(ent entity.TrackedEntity, now int64) []alert.Alert
}

// Recorder accepts raised alerts.
type Recorder interface {
	Record(draft alert.Alert) string
}

// ReaderRegistry reports scanner gateways that have gone silent.
type ReaderRegistry interface {
	Stale(now int64, threshold time.Duration) []string
}

// Replayer drains spilled dead letters back into the primary store.
type Replayer interface {
	Replay(limit int) (int, error)
}

// Scheduler owns the periodic work: the per-entity rule tick, the
// unknown-tag buffer sweep, and the retention archival sweep. Ticks read
// snapshots only, they never hold up the event writers.
type Scheduler struct {
	store  Store
	engine Engine
	sink   Recorder

	tickInterval    time.Duration
	archiveInterval time.Duration
	softTimeout     time.Duration
	retention       time.Duration

	readers          ReaderRegistry
	readerStaleAfter time.Duration

	replayer    Replayer
	replayBatch int

	done      chan struct{}
	waitGroup sync.WaitGroup
}

// New wires the scheduler; call Start to begin ticking.
func New(store Store, engine Engine, sink Recorder, tickInterval, archiveInterval, softTimeout, retention time.Duration) *Scheduler {
	return &Scheduler{
		store:           store,
		engine:          engine,
		sink:            sink,
		tickInterval:    tickInterval,
		archiveInterval: archiveInterval,
		softTimeout:     softTimeout,
		retention:       retention,
		done:            make(chan struct{}),
	}
}

// WatchReaders adds a per-tick staleness check over the gateway registry.
// Call before Start.
func (scheduler *Scheduler) WatchReaders(readers ReaderRegistry, staleAfter time.Duration) {
	scheduler.readers = readers
	scheduler.readerStaleAfter = staleAfter
}

// WatchDeadLetters replays spilled payloads during the slow sweep so a
// recovered database catches up. Call before Start.
func (scheduler *Scheduler) WatchDeadLetters(replayer Replayer, batch int) {
	if batch < 1 {
		batch = 1
	}
	scheduler.replayer = replayer
	scheduler.replayBatch = batch
}

// Start launches the tick and archive loops.
func (scheduler *Scheduler) Start() {
	scheduler.waitGroup.Add(2)
	go scheduler.tickLoop()
	go scheduler.archiveLoop()
	log.WithFields(log.Fields{
		"Method":          "Scheduler.Start",
		"TickInterval":    scheduler.tickInterval.String(),
		"ArchiveInterval": scheduler.archiveInterval.String(),
	}).Info("maintenance scheduler started")
}

// Stop terminates both loops and waits for them.
func (scheduler *Scheduler) Stop() {
	close(scheduler.done)
	scheduler.waitGroup.Wait()
}

func (scheduler *Scheduler) tickLoop() {
	defer scheduler.waitGroup.Done()
	ticker := time.NewTicker(scheduler.tickInterval)
	defer ticker.Stop()
	for {
		select {
		case now := <-ticker.C:
			scheduler.RunTick(now)
		case <-scheduler.done:
			return
		}
	}
}

func (scheduler *Scheduler) archiveLoop() {
	defer scheduler.waitGroup.Done()
	ticker := time.NewTicker(scheduler.archiveInterval)
	defer ticker.Stop()
	for {
		select {
		case now := <-ticker.C:
			scheduler.RunArchive(now)
		case <-scheduler.done:
			return
		}
	}
}

// RunTick evaluates the time-based rules for every active entity. A single
// slow evaluation is skipped after the soft timeout so one bad snapshot
// cannot stall the whole sweep.
func (scheduler *Scheduler) RunTick(now time.Time) {
	metrics.GetOrRegisterGauge(`Scheduler.RunTick.Attempt`, nil).Update(1)
	mLatency := metrics.GetOrRegisterTimer(`Scheduler.RunTick.Latency`, nil)
	tickTimer := time.Now()

	nowMillis := now.UnixNano() / int64(time.Millisecond)
	snapshots := scheduler.store.ActiveSnapshots()
	metrics.GetOrRegisterGauge(`Scheduler.RunTick.ActiveEntities`, nil).Update(int64(len(snapshots)))

	for _, snapshot := range snapshots {
		scheduler.evaluateOne(snapshot, nowMillis)
	}

	scheduler.store.SweepPending(now)

	if scheduler.readers != nil {
		stale := scheduler.readers.Stale(nowMillis, scheduler.readerStaleAfter)
		metrics.GetOrRegisterGauge(`Scheduler.RunTick.StaleReaders`, nil).Update(int64(len(stale)))
		for _, readerID := range stale {
			log.WithFields(log.Fields{
				"Method":     "Scheduler.RunTick",
				"ReaderID":   readerID,
				"StaleAfter": scheduler.readerStaleAfter.String(),
			}).Warn("scanner gateway has gone silent")
		}
	}

	mLatency.Update(time.Since(tickTimer))
}

func (scheduler *Scheduler) evaluateOne(snapshot entity.TrackedEntity, nowMillis int64) {
	resultChannel := make(chan []alert.Alert, 1)
	go func() {
		resultChannel <- scheduler.engine.EvaluateTick(snapshot, nowMillis)
	}()

	select {
	case alerts := <-resultChannel:
		for _, raised := range alerts {
			scheduler.sink.Record(raised)
		}
	case <-time.After(scheduler.softTimeout):
		metrics.GetOrRegisterGaugeCollection(`Scheduler.RunTick.Skipped`, nil).Add(1)
		log.WithFields(log.Fields{
			"Method":      "Scheduler.evaluateOne",
			"TagID":       snapshot.TagID,
			"SoftTimeout": scheduler.softTimeout.String(),
		}).Warn("tick evaluation exceeded soft timeout, skipping entity")
	}
}

// RunArchive retires terminal entities whose last update fell out of the
// retention window.
func (scheduler *Scheduler) RunArchive(now time.Time) {
	metrics.GetOrRegisterGauge(`Scheduler.RunArchive.Attempt`, nil).Update(1)
	cutoff := now.Add(-scheduler.retention).UnixNano() / int64(time.Millisecond)
	scheduler.store.ArchiveBefore(cutoff)
	log.WithFields(log.Fields{
		"Method": "Scheduler.RunArchive",
		"Cutoff": cutoff,
	}).Debug("archival sweep dispatched")

	if scheduler.replayer != nil {
		replayed, err := scheduler.replayer.Replay(scheduler.replayBatch)
		if err != nil {
			metrics.GetOrRegisterGaugeCollection(`Scheduler.RunArchive.ReplayError`, nil).Add(1)
			log.WithFields(log.Fields{
				"Method": "Scheduler.RunArchive",
				"Error":  err.Error(),
			}).Error("dead letter replay failed")
		} else if replayed > 0 {
			log.WithFields(log.Fields{
				"Method":   "Scheduler.RunArchive",
				"Replayed": replayed,
			}).Info("replayed dead letters into entity store")
		}
	}
}
