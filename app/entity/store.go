/* Apache v2 license
*  Copyright (C) <2019> Intel Corporation
*
*  SPDX-License-Identifier: Apache-2.0
 */

package entity

import (
	"hash/fnv"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/intel/rsp-sw-toolkit-im-suite-baggage-tracking-service/app/ingestor"
	"github.com/intel/rsp-sw-toolkit-im-suite-baggage-tracking-service/app/zonemap"
	"github.com/intel/rsp-sw-toolkit-im-suite-baggage-tracking-service/pkg/statemodel"
	"github.com/intel/rsp-sw-toolkit-im-suite-utilities/go-metrics"
	log "github.com/sirupsen/logrus"
)

const (
	// BackpressureBlock makes Submit wait when a shard queue is full.
	BackpressureBlock = "block"
	// BackpressureDropOldest evicts the oldest queued event to make room.
	BackpressureDropOldest = "drop-oldest"
)

// Metadata keys recognized on inbound events.
const (
	metaFlight          = "flight"
	metaPriority        = "priority"
	metaSpecialHandling = "special_handling"
	metaRoute           = "route"
)

// DeadlineConnection is the deadline slot consulted by the missed
// connection rule.
const DeadlineConnection = "connection"

// TransitionHandler receives every state transition the store produces.
// It runs on the owning shard goroutine and must not call back into
// store mutation methods for the same tag.
type TransitionHandler func(transition StateTransition)

// Persister writes entity snapshots to durable storage. Implementations
// own their retry policy; an error return means the write was abandoned.
type Persister interface {
	UpsertEntity(entity TrackedEntity) error
}

// Options tunes the sharded store.
type Options struct {
	ShardCount         int
	QueueSize          int
	BackpressurePolicy string
	// UnknownTagGrace bounds how long events for never-seen tags are buffered
	// while waiting for their check-in scan.
	UnknownTagGrace time.Duration
}

type opKind int

const (
	opApply opKind = iota
	opMark
	opSetDeadline
	opAttachAlert
	opResolveAlert
	opSweepPending
	opArchive
)

type operation struct {
	kind     opKind
	event    ingestor.LocationEvent
	tagID    string
	status   statemodel.Status
	reason   string
	name     string
	deadline int64
	alertID  string
	now      int64
	cutoff   int64
	errc     chan error
}

type pendingEvent struct {
	event   ingestor.LocationEvent
	expires time.Time
}

// Store dispatches every mutation for a given tag to a single goroutine,
// so per-tag updates are strictly serialized while distinct tags proceed
// in parallel. Reads take copies under a shard read lock.
type Store struct {
	topology  *zonemap.Topology
	options   Options
	persister Persister
	handler   TransitionHandler
	shards    []*shard
	dropped   int64
	waitGroup sync.WaitGroup
}

type shard struct {
	store *Store
	queue chan operation
	// control carries the non-event operations. They ride a separate
	// channel because their senders block on a reply: letting drop-oldest
	// evict one would leave that caller waiting forever.
	control  chan operation
	mutex    sync.RWMutex
	entities map[string]*TrackedEntity
	pending  map[string][]pendingEvent
}

// NewStore builds the shards and starts their writer goroutines.
func NewStore(topology *zonemap.Topology, options Options, persister Persister, handler TransitionHandler) *Store {
	if options.ShardCount < 1 {
		options.ShardCount = 1
	}
	if options.QueueSize < 1 {
		options.QueueSize = 1
	}
	if options.BackpressurePolicy == "" {
		options.BackpressurePolicy = BackpressureBlock
	}
	store := &Store{
		topology:  topology,
		options:   options,
		persister: persister,
		handler:   handler,
		shards:    make([]*shard, options.ShardCount),
	}
	for i := range store.shards {
		store.shards[i] = &shard{
			store:    store,
			queue:    make(chan operation, options.QueueSize),
			control:  make(chan operation, options.QueueSize),
			entities: make(map[string]*TrackedEntity),
			pending:  make(map[string][]pendingEvent),
		}
		store.waitGroup.Add(1)
		go store.shards[i].run()
	}
	return store
}

// Stop drains the shard queues and waits for the writers to exit.
func (store *Store) Stop() {
	for _, sh := range store.shards {
		close(sh.queue)
		close(sh.control)
	}
	store.waitGroup.Wait()
}

func (store *Store) shardFor(tagID string) *shard {
	hasher := fnv.New32a()
	_, _ = hasher.Write([]byte(tagID))
	return store.shards[int(hasher.Sum32())%len(store.shards)]
}

// Submit enqueues one location event. Under the drop-oldest policy a full
// queue sheds its oldest event (counted) rather than stalling the caller.
func (store *Store) Submit(event ingestor.LocationEvent) {
	metrics.GetOrRegisterGauge("EntityStore.Submit.Attempt", nil).Update(1)
	sh := store.shardFor(event.TagID)
	op := operation{kind: opApply, event: event, tagID: event.TagID}
	if store.options.BackpressurePolicy == BackpressureDropOldest {
		for {
			select {
			case sh.queue <- op:
				return
			default:
				select {
				case evicted := <-sh.queue:
					atomic.AddInt64(&store.dropped, 1)
					metrics.GetOrRegisterGaugeCollection("EntityStore.Submit.Dropped", nil).Add(1)
					log.WithFields(log.Fields{
						"Method": "Store.Submit",
						"Action": "drop-oldest",
						"TagID":  evicted.tagID,
					}).Warn("shard queue full, evicted oldest event")
				default:
				}
			}
		}
	}
	sh.queue <- op
}

// control enqueues a non-event operation and waits for the reply. Control
// operations never share the event queue, so backpressure shedding cannot
// touch them.
func (store *Store) control(op operation) error {
	op.errc = make(chan error, 1)
	store.shardFor(op.tagID).control <- op
	return <-op.errc
}

// MarkDelayed flags a bag as delayed. Delayed is never derived from scans.
func (store *Store) MarkDelayed(tagID, reason string) error {
	return store.control(operation{kind: opMark, tagID: tagID, status: statemodel.Delayed, reason: reason})
}

// MarkLost flags a bag as lost after manual search procedures fail.
func (store *Store) MarkLost(tagID, reason string) error {
	return store.control(operation{kind: opMark, tagID: tagID, status: statemodel.Lost, reason: reason})
}

// SetDeadline records a named deadline, e.g. a connection cutoff.
func (store *Store) SetDeadline(tagID, name string, deadline int64) error {
	return store.control(operation{kind: opSetDeadline, tagID: tagID, name: name, deadline: deadline})
}

// AttachAlert records an unresolved alert id against the entity.
func (store *Store) AttachAlert(tagID, alertID string) error {
	return store.control(operation{kind: opAttachAlert, tagID: tagID, alertID: alertID})
}

// ResolveAlert removes an alert id from the entity's active set.
func (store *Store) ResolveAlert(tagID, alertID string) error {
	return store.control(operation{kind: opResolveAlert, tagID: tagID, alertID: alertID})
}

// SweepPending discards buffered unknown-tag events past their grace window.
func (store *Store) SweepPending(now time.Time) {
	for _, sh := range store.shards {
		sh.control <- operation{kind: opSweepPending, now: now.UnixNano()}
	}
}

// ArchiveBefore retires terminal entities whose last update predates cutoff.
func (store *Store) ArchiveBefore(cutoff int64) {
	for _, sh := range store.shards {
		sh.control <- operation{kind: opArchive, cutoff: cutoff}
	}
}

// Restore seeds the shards from durable storage. Meant for startup, before
// any events are submitted.
func (store *Store) Restore(entities []TrackedEntity) {
	for i := range entities {
		ent := entities[i].Copy()
		sh := store.shardFor(ent.TagID)
		sh.mutex.Lock()
		sh.entities[ent.TagID] = &ent
		sh.mutex.Unlock()
	}
}

// Snapshot returns a copy of the entity, or UnknownEntityError.
func (store *Store) Snapshot(tagID string) (TrackedEntity, error) {
	sh := store.shardFor(tagID)
	sh.mutex.RLock()
	defer sh.mutex.RUnlock()
	ent, ok := sh.entities[tagID]
	if !ok {
		return TrackedEntity{}, UnknownEntityError{TagID: tagID}
	}
	return ent.Copy(), nil
}

// ActiveSnapshots copies every non-terminal, non-archived entity. The
// maintenance scheduler evaluates time-based rules against these copies
// without touching the writer goroutines.
func (store *Store) ActiveSnapshots() []TrackedEntity {
	var snapshots []TrackedEntity
	for _, sh := range store.shards {
		sh.mutex.RLock()
		for _, ent := range sh.entities {
			if ent.Archived || ent.IsTerminal() {
				continue
			}
			snapshots = append(snapshots, ent.Copy())
		}
		sh.mutex.RUnlock()
	}
	return snapshots
}

// DroppedEvents reports how many events the drop-oldest policy has shed.
func (store *Store) DroppedEvents() int64 {
	return atomic.LoadInt64(&store.dropped)
}

func (sh *shard) run() {
	defer sh.store.waitGroup.Done()
	queue, control := sh.queue, sh.control
	for queue != nil || control != nil {
		select {
		case op, open := <-queue:
			if !open {
				queue = nil
				continue
			}
			sh.apply(op.event)
		case op, open := <-control:
			if !open {
				control = nil
				continue
			}
			sh.dispatch(op)
		}
	}
}

func (sh *shard) dispatch(op operation) {
	switch op.kind {
	case opMark:
		sh.reply(op, sh.mark(op.tagID, op.status, op.reason))
	case opSetDeadline:
		sh.reply(op, sh.setDeadline(op.tagID, op.name, op.deadline))
	case opAttachAlert:
		sh.reply(op, sh.attachAlert(op.tagID, op.alertID))
	case opResolveAlert:
		sh.reply(op, sh.resolveAlert(op.tagID, op.alertID))
	case opSweepPending:
		sh.sweepPending(time.Unix(0, op.now))
	case opArchive:
		sh.archive(op.cutoff)
	}
}

func (sh *shard) reply(op operation, err error) {
	if op.errc != nil {
		op.errc <- err
	}
}

// apply is the single entry point for event-driven mutation. It runs only
// on the shard goroutine.
func (sh *shard) apply(event ingestor.LocationEvent) {
	metrics.GetOrRegisterGauge("EntityStore.Apply.Attempt", nil).Update(1)

	sh.mutex.Lock()
	ent, exists := sh.entities[event.TagID]
	if !exists {
		zoneType, zoneErr := sh.store.topology.ZoneType(event.ZoneID)
		if zoneErr == nil && zoneType == statemodel.ZoneCheckIn {
			created := sh.create(event)
			buffered := sh.pending[event.TagID]
			delete(sh.pending, event.TagID)
			sh.mutex.Unlock()
			sh.finish(created)
			sort.Slice(buffered, func(i, j int) bool {
				return buffered[i].event.Timestamp < buffered[j].event.Timestamp
			})
			for _, held := range buffered {
				sh.apply(held.event)
			}
			return
		}
		// No check-in yet; hold the event in case the check-in scan is late.
		sh.pending[event.TagID] = append(sh.pending[event.TagID], pendingEvent{
			event:   event,
			expires: time.Now().Add(sh.store.options.UnknownTagGrace),
		})
		sh.mutex.Unlock()
		metrics.GetOrRegisterGaugeCollection("EntityStore.Apply.UnknownTag", nil).Add(1)
		log.WithFields(log.Fields{
			"Method": "shard.apply",
			"Action": "buffer",
			"TagID":  event.TagID,
			"ZoneID": event.ZoneID,
			"Error":  UnknownEntityError{TagID: event.TagID}.Error(),
		}).Info("buffered event for unknown tag")
		return
	}

	if sh.isDuplicate(ent, event) {
		sh.mutex.Unlock()
		metrics.GetOrRegisterGaugeCollection("EntityStore.Apply.Duplicate", nil).Add(1)
		return
	}

	transition := sh.mutate(ent, event)
	sh.mutex.Unlock()
	sh.finish(transition)
}

// isDuplicate reports whether an identical scan is already in the journey.
func (sh *shard) isDuplicate(ent *TrackedEntity, event ingestor.LocationEvent) bool {
	for i := len(ent.Journey) - 1; i >= 0; i-- {
		point := ent.Journey[i]
		if point.Timestamp < event.Timestamp {
			return false
		}
		if point.Timestamp == event.Timestamp && point.ZoneID == event.ZoneID && point.Method == event.Method {
			return true
		}
	}
	return false
}

func (sh *shard) create(event ingestor.LocationEvent) StateTransition {
	coordinates := sh.lookupCoordinates(event.ZoneID)
	ent := &TrackedEntity{
		TagID:       event.TagID,
		Status:      statemodel.InitialStatus(),
		CheckedInAt: event.Timestamp,
		LastUpdated: event.Timestamp,
		CurrentLocation: Location{
			ZoneID:      event.ZoneID,
			Coordinates: coordinates,
			Timestamp:   event.Timestamp,
		},
		Journey: []JourneyPoint{{
			ZoneID:      event.ZoneID,
			Coordinates: coordinates,
			Timestamp:   event.Timestamp,
			Method:      event.Method,
			Actor:       event.ActorID,
		}},
		TTL: time.Now(),
	}
	applyMetadata(ent, event)
	if event.ConnectionDeadline > 0 {
		setDeadline(ent, DeadlineConnection, event.ConnectionDeadline)
	}
	sh.entities[event.TagID] = ent
	metrics.GetOrRegisterGaugeCollection("EntityStore.Apply.Created", nil).Add(1)
	return StateTransition{
		TagID:       event.TagID,
		New:         ent.Copy(),
		EventZoneID: event.ZoneID,
		Created:     true,
	}
}

// mutate applies one event to an existing entity under the shard lock.
func (sh *shard) mutate(ent *TrackedEntity, event ingestor.LocationEvent) StateTransition {
	old := ent.Copy()
	coordinates := sh.lookupCoordinates(event.ZoneID)

	// Every accepted event lands in the journey, audit completeness wins.
	ent.Journey = append(ent.Journey, JourneyPoint{
		ZoneID:      event.ZoneID,
		Coordinates: coordinates,
		Timestamp:   event.Timestamp,
		Method:      event.Method,
		Actor:       event.ActorID,
	})
	ent.TTL = time.Now()

	stale := event.Timestamp <= ent.LastUpdated && !event.Override
	if stale {
		metrics.GetOrRegisterGaugeCollection("EntityStore.Apply.Stale", nil).Add(1)
		return StateTransition{
			TagID:       ent.TagID,
			Old:         old,
			New:         ent.Copy(),
			EventZoneID: event.ZoneID,
			Stale:       true,
		}
	}

	elapsed := time.Duration(event.Timestamp-ent.CurrentLocation.Timestamp) * time.Millisecond
	zoneType, zoneErr := sh.store.topology.ZoneType(event.ZoneID)
	if zoneErr == nil {
		// An unrecognized zone never becomes the current location.
		ent.CurrentLocation = Location{
			ZoneID:      event.ZoneID,
			Coordinates: coordinates,
			Timestamp:   event.Timestamp,
		}
		nextStatus := statemodel.NextStatus(ent.Status, zoneType, event.Method)
		if nextStatus == statemodel.Loaded && ent.LoadedAt == 0 {
			ent.LoadedAt = event.Timestamp
		}
		ent.Status = nextStatus
	}
	ent.LastUpdated = event.Timestamp

	applyMetadata(ent, event)
	if event.ConnectionDeadline > 0 {
		setDeadline(ent, DeadlineConnection, event.ConnectionDeadline)
	}

	return StateTransition{
		TagID:       ent.TagID,
		Old:         old,
		New:         ent.Copy(),
		EventZoneID: event.ZoneID,
		Elapsed:     elapsed,
	}
}

// finish runs persistence and downstream rule evaluation outside the lock.
func (sh *shard) finish(transition StateTransition) {
	if sh.store.persister != nil {
		if err := sh.store.persister.UpsertEntity(transition.New); err != nil {
			log.WithFields(log.Fields{
				"Method": "shard.finish",
				"Action": "persist",
				"TagID":  transition.TagID,
				"Error":  err.Error(),
			}).Error("entity upsert abandoned")
		}
	}
	if sh.store.handler != nil {
		sh.store.handler(transition)
	}
	metrics.GetOrRegisterGauge("EntityStore.Apply.Success", nil).Update(1)
}

func (sh *shard) mark(tagID string, status statemodel.Status, reason string) error {
	sh.mutex.Lock()
	ent, ok := sh.entities[tagID]
	if !ok {
		sh.mutex.Unlock()
		return UnknownEntityError{TagID: tagID}
	}
	old := ent.Copy()
	ent.Status = status
	ent.TTL = time.Now()
	transition := StateTransition{TagID: tagID, Old: old, New: ent.Copy()}
	sh.mutex.Unlock()

	log.WithFields(log.Fields{
		"Method": "shard.mark",
		"Action": string(status),
		"TagID":  tagID,
		"Reason": reason,
	}).Info("manual status flag applied")
	sh.finish(transition)
	return nil
}

func (sh *shard) setDeadline(tagID, name string, deadline int64) error {
	sh.mutex.Lock()
	ent, ok := sh.entities[tagID]
	if !ok {
		sh.mutex.Unlock()
		return UnknownEntityError{TagID: tagID}
	}
	setDeadline(ent, name, deadline)
	snapshot := ent.Copy()
	sh.mutex.Unlock()

	if sh.store.persister != nil {
		if err := sh.store.persister.UpsertEntity(snapshot); err != nil {
			return err
		}
	}
	return nil
}

func (sh *shard) attachAlert(tagID, alertID string) error {
	sh.mutex.Lock()
	defer sh.mutex.Unlock()
	ent, ok := sh.entities[tagID]
	if !ok {
		return UnknownEntityError{TagID: tagID}
	}
	ent.ActiveAlertIDs = append(ent.ActiveAlertIDs, alertID)
	ent.TotalAlerts++
	return nil
}

func (sh *shard) resolveAlert(tagID, alertID string) error {
	sh.mutex.Lock()
	defer sh.mutex.Unlock()
	ent, ok := sh.entities[tagID]
	if !ok {
		return UnknownEntityError{TagID: tagID}
	}
	kept := ent.ActiveAlertIDs[:0]
	for _, id := range ent.ActiveAlertIDs {
		if id != alertID {
			kept = append(kept, id)
		}
	}
	ent.ActiveAlertIDs = kept
	return nil
}

func (sh *shard) sweepPending(now time.Time) {
	sh.mutex.Lock()
	defer sh.mutex.Unlock()
	for tagID, held := range sh.pending {
		kept := held[:0]
		for _, pend := range held {
			if pend.expires.After(now) {
				kept = append(kept, pend)
			} else {
				metrics.GetOrRegisterGaugeCollection("EntityStore.Pending.Expired", nil).Add(1)
				log.WithFields(log.Fields{
					"Method": "shard.sweepPending",
					"Action": "discard",
					"TagID":  tagID,
					"ZoneID": pend.event.ZoneID,
				}).Warn("discarding expired event for unknown tag")
			}
		}
		if len(kept) == 0 {
			delete(sh.pending, tagID)
		} else {
			sh.pending[tagID] = kept
		}
	}
}

func (sh *shard) archive(cutoff int64) {
	var archived []TrackedEntity
	sh.mutex.Lock()
	for _, ent := range sh.entities {
		if ent.Archived || !ent.IsTerminal() || ent.LastUpdated >= cutoff {
			continue
		}
		ent.Archived = true
		archived = append(archived, ent.Copy())
	}
	sh.mutex.Unlock()

	for _, snapshot := range archived {
		metrics.GetOrRegisterGaugeCollection("EntityStore.Archive.Archived", nil).Add(1)
		if sh.store.persister != nil {
			if err := sh.store.persister.UpsertEntity(snapshot); err != nil {
				log.WithFields(log.Fields{
					"Method": "shard.archive",
					"TagID":  snapshot.TagID,
					"Error":  err.Error(),
				}).Error("archive upsert abandoned")
			}
		}
	}
}

func (sh *shard) lookupCoordinates(zoneID string) zonemap.Coordinates {
	if zone, err := sh.store.topology.Zone(zoneID); err == nil {
		return zone.Coordinates
	}
	return zonemap.Coordinates{}
}

func applyMetadata(ent *TrackedEntity, event ingestor.LocationEvent) {
	if event.RawMetadata == nil {
		return
	}
	if flight, ok := event.RawMetadata[metaFlight]; ok && flight != "" {
		ent.ExternalReference = flight
	}
	if priority, ok := event.RawMetadata[metaPriority]; ok && priority != "" {
		ent.Priority = priority
	}
	if handling, ok := event.RawMetadata[metaSpecialHandling]; ok && handling != "" {
		ent.SpecialHandling = splitList(handling)
	}
	if route, ok := event.RawMetadata[metaRoute]; ok && route != "" && len(ent.ExpectedRoute) == 0 {
		ent.ExpectedRoute = splitList(route)
	}
}

func setDeadline(ent *TrackedEntity, name string, deadline int64) {
	if ent.Deadlines == nil {
		ent.Deadlines = make(map[string]int64)
	}
	ent.Deadlines[name] = deadline
}

func splitList(value string) []string {
	var items []string
	start := 0
	for i := 0; i <= len(value); i++ {
		if i == len(value) || value[i] == ',' {
			item := value[start:i]
			if item != "" {
				items = append(items, item)
			}
			start = i + 1
		}
	}
	return items
}
