/* Apache v2 license
*  Copyright (C) <2019> Intel Corporation
*
*  SPDX-License-Identifier: Apache-2.0
 */

package entity

import (
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/intel/rsp-sw-toolkit-im-suite-baggage-tracking-service/app/ingestor"
	"github.com/intel/rsp-sw-toolkit-im-suite-baggage-tracking-service/app/zonemap"
	"github.com/intel/rsp-sw-toolkit-im-suite-baggage-tracking-service/pkg/statemodel"
)

const testTopologyJSON = `{
	"zones": [
		{"id": "CHECK_IN", "type": "check-in", "coordinates": {"x": 0, "y": 0}},
		{"id": "SECURITY", "type": "security", "coordinates": {"x": 10, "y": 0}},
		{"id": "SORTING", "type": "sorting", "coordinates": {"x": 20, "y": 5}},
		{"id": "LOADING", "type": "loading", "coordinates": {"x": 30, "y": 5}},
		{"id": "AIRCRAFT", "type": "aircraft", "coordinates": {"x": 40, "y": 10}},
		{"id": "CLAIM", "type": "claim", "coordinates": {"x": 50, "y": 0}},
		{"id": "PICKUP", "type": "pickup", "coordinates": {"x": 60, "y": 0}}
	],
	"edges": [
		{"from": "CHECK_IN", "to": "SECURITY", "minTransitSeconds": 30},
		{"from": "SECURITY", "to": "SORTING", "minTransitSeconds": 60},
		{"from": "SORTING", "to": "LOADING", "minTransitSeconds": 120},
		{"from": "LOADING", "to": "AIRCRAFT", "minTransitSeconds": 60},
		{"from": "AIRCRAFT", "to": "CLAIM", "minTransitSeconds": 300},
		{"from": "CLAIM", "to": "PICKUP", "minTransitSeconds": 30}
	]
}`

func testTopology(t *testing.T) *zonemap.Topology {
	topology, err := zonemap.Parse([]byte(testTopologyJSON))
	if err != nil {
		t.Fatalf("Failed to parse test topology: %s", err.Error())
	}
	return topology
}

func newTestStore(t *testing.T, handler TransitionHandler) *Store {
	return NewStore(testTopology(t), Options{
		ShardCount:      4,
		QueueSize:       64,
		UnknownTagGrace: time.Minute,
	}, nil, handler)
}

func scanEvent(tagID, zoneID, method string, timestamp int64) ingestor.LocationEvent {
	return ingestor.LocationEvent{
		TagID:     tagID,
		ZoneID:    zoneID,
		Timestamp: timestamp,
		Method:    method,
		ActorID:   "READER-1",
	}
}

// waitFor polls the condition until it holds or the deadline passes.
func waitFor(t *testing.T, condition func() bool) {
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("Failed. Timed out waiting for store to settle")
}

func TestCheckInCreatesEntity(t *testing.T) {
	store := newTestStore(t, nil)
	defer store.Stop()

	store.Submit(scanEvent("BAG-1", "CHECK_IN", statemodel.MethodEntry, 1000))

	waitFor(t, func() bool {
		_, err := store.Snapshot("BAG-1")
		return err == nil
	})

	ent, err := store.Snapshot("BAG-1")
	if err != nil {
		t.Fatalf("Failed. Expected entity, Received error %s", err.Error())
	}
	if ent.Status != statemodel.CheckedIn {
		t.Errorf("Failed. Expected %s, Received %s", statemodel.CheckedIn, ent.Status)
	}
	if ent.CurrentLocation.ZoneID != "CHECK_IN" {
		t.Errorf("Failed. Expected CHECK_IN, Received %s", ent.CurrentLocation.ZoneID)
	}
	if len(ent.Journey) != 1 {
		t.Errorf("Failed. Expected journey of 1, Received %d", len(ent.Journey))
	}
	if ent.CheckedInAt != 1000 {
		t.Errorf("Failed. Expected check-in at 1000, Received %d", ent.CheckedInAt)
	}
}

func TestCheckInThenSecurityScan(t *testing.T) {
	store := newTestStore(t, nil)
	defer store.Stop()

	store.Submit(scanEvent("BAG-2", "CHECK_IN", statemodel.MethodEntry, 1000))
	store.Submit(scanEvent("BAG-2", "SECURITY", statemodel.MethodCheckpoint, 61000))

	waitFor(t, func() bool {
		ent, err := store.Snapshot("BAG-2")
		return err == nil && len(ent.Journey) == 2
	})

	ent, _ := store.Snapshot("BAG-2")
	if ent.Status != statemodel.SecurityCheck {
		t.Errorf("Failed. Expected %s, Received %s", statemodel.SecurityCheck, ent.Status)
	}
	if ent.CurrentLocation.ZoneID != "SECURITY" {
		t.Errorf("Failed. Expected SECURITY, Received %s", ent.CurrentLocation.ZoneID)
	}
	if ent.CurrentLocation.Timestamp != 61000 {
		t.Errorf("Failed. Expected 61000, Received %d", ent.CurrentLocation.Timestamp)
	}
}

func TestDuplicateEventIsIdempotent(t *testing.T) {
	store := newTestStore(t, nil)
	defer store.Stop()

	event := scanEvent("BAG-3", "CHECK_IN", statemodel.MethodEntry, 1000)
	store.Submit(event)
	store.Submit(event)
	store.Submit(event)

	waitFor(t, func() bool {
		_, err := store.Snapshot("BAG-3")
		return err == nil
	})
	// let the duplicates drain through the shard
	store.Submit(scanEvent("BAG-3", "SECURITY", statemodel.MethodCheckpoint, 2000))
	waitFor(t, func() bool {
		ent, _ := store.Snapshot("BAG-3")
		return len(ent.Journey) >= 2
	})

	ent, _ := store.Snapshot("BAG-3")
	if len(ent.Journey) != 2 {
		t.Errorf("Failed. Expected journey of 2, Received %d", len(ent.Journey))
	}
}

func TestStaleEventKeepsLocationAndStatus(t *testing.T) {
	store := newTestStore(t, nil)
	defer store.Stop()

	store.Submit(scanEvent("BAG-4", "CHECK_IN", statemodel.MethodEntry, 1000))
	store.Submit(scanEvent("BAG-4", "SORTING", statemodel.MethodEntry, 5000))
	// delivered out of order: an older security scan arrives last
	store.Submit(scanEvent("BAG-4", "SECURITY", statemodel.MethodCheckpoint, 3000))

	waitFor(t, func() bool {
		ent, err := store.Snapshot("BAG-4")
		return err == nil && len(ent.Journey) == 3
	})

	ent, _ := store.Snapshot("BAG-4")
	if ent.CurrentLocation.ZoneID != "SORTING" {
		t.Errorf("Failed. Expected SORTING, Received %s", ent.CurrentLocation.ZoneID)
	}
	if ent.Status != statemodel.InTransit {
		t.Errorf("Failed. Expected %s, Received %s", statemodel.InTransit, ent.Status)
	}
	if ent.LastUpdated != 5000 {
		t.Errorf("Failed. Expected 5000, Received %d", ent.LastUpdated)
	}
}

func TestCurrentLocationMatchesNewestJourneyEntry(t *testing.T) {
	store := newTestStore(t, nil)
	defer store.Stop()

	zones := []string{"SECURITY", "SORTING", "LOADING", "SECURITY", "SORTING"}
	store.Submit(scanEvent("BAG-5", "CHECK_IN", statemodel.MethodEntry, 1000))
	timestamps := []int64{9000, 3000, 7000, 2000, 5000}
	for i, zoneID := range zones {
		store.Submit(scanEvent("BAG-5", zoneID, statemodel.MethodCheckpoint, timestamps[i]))
	}

	waitFor(t, func() bool {
		ent, err := store.Snapshot("BAG-5")
		return err == nil && len(ent.Journey) == 6
	})

	ent, _ := store.Snapshot("BAG-5")
	var newest JourneyPoint
	for _, point := range ent.Journey {
		if point.Timestamp > newest.Timestamp {
			newest = point
		}
	}
	if ent.CurrentLocation.ZoneID != newest.ZoneID {
		t.Errorf("Failed. Expected %s, Received %s", newest.ZoneID, ent.CurrentLocation.ZoneID)
	}
	if ent.CurrentLocation.Timestamp != newest.Timestamp {
		t.Errorf("Failed. Expected %d, Received %d", newest.Timestamp, ent.CurrentLocation.Timestamp)
	}
}

func TestUnknownTagBufferedUntilCheckIn(t *testing.T) {
	store := newTestStore(t, nil)
	defer store.Stop()

	store.Submit(scanEvent("BAG-6", "SECURITY", statemodel.MethodCheckpoint, 5000))

	// no entity yet
	time.Sleep(50 * time.Millisecond)
	if _, err := store.Snapshot("BAG-6"); err == nil {
		t.Fatal("Failed. Expected UnknownEntityError, Received entity")
	} else if _, ok := err.(UnknownEntityError); !ok {
		t.Fatalf("Failed. Expected UnknownEntityError, Received %T", err)
	}

	// the late check-in arrives and the buffered scan replays after it
	store.Submit(scanEvent("BAG-6", "CHECK_IN", statemodel.MethodEntry, 1000))

	waitFor(t, func() bool {
		ent, err := store.Snapshot("BAG-6")
		return err == nil && len(ent.Journey) == 2
	})

	ent, _ := store.Snapshot("BAG-6")
	if ent.CurrentLocation.ZoneID != "SECURITY" {
		t.Errorf("Failed. Expected SECURITY, Received %s", ent.CurrentLocation.ZoneID)
	}
	if ent.Status != statemodel.SecurityCheck {
		t.Errorf("Failed. Expected %s, Received %s", statemodel.SecurityCheck, ent.Status)
	}
}

func TestExpiredUnknownTagEventsDiscarded(t *testing.T) {
	store := NewStore(testTopology(t), Options{
		ShardCount:      2,
		QueueSize:       16,
		UnknownTagGrace: time.Millisecond,
	}, nil, nil)
	defer store.Stop()

	store.Submit(scanEvent("BAG-7", "SECURITY", statemodel.MethodCheckpoint, 5000))
	time.Sleep(20 * time.Millisecond)
	store.SweepPending(time.Now())
	time.Sleep(20 * time.Millisecond)

	// check-in after expiry only yields the check-in itself
	store.Submit(scanEvent("BAG-7", "CHECK_IN", statemodel.MethodEntry, 1000))
	waitFor(t, func() bool {
		_, err := store.Snapshot("BAG-7")
		return err == nil
	})

	ent, _ := store.Snapshot("BAG-7")
	if len(ent.Journey) != 1 {
		t.Errorf("Failed. Expected journey of 1, Received %d", len(ent.Journey))
	}
}

func TestMarkLostIsTerminal(t *testing.T) {
	store := newTestStore(t, nil)
	defer store.Stop()

	store.Submit(scanEvent("BAG-8", "CHECK_IN", statemodel.MethodEntry, 1000))
	waitFor(t, func() bool {
		_, err := store.Snapshot("BAG-8")
		return err == nil
	})

	if err := store.MarkLost("BAG-8", "manual search exhausted"); err != nil {
		t.Fatalf("Failed. Expected no error, Received %s", err.Error())
	}

	ent, _ := store.Snapshot("BAG-8")
	if ent.Status != statemodel.Lost {
		t.Errorf("Failed. Expected %s, Received %s", statemodel.Lost, ent.Status)
	}

	// a later scan must not resurrect a lost bag's status
	store.Submit(scanEvent("BAG-8", "SORTING", statemodel.MethodCheckpoint, 9000))
	waitFor(t, func() bool {
		ent, _ := store.Snapshot("BAG-8")
		return len(ent.Journey) == 2
	})
	ent, _ = store.Snapshot("BAG-8")
	if ent.Status != statemodel.Lost {
		t.Errorf("Failed. Expected %s, Received %s", statemodel.Lost, ent.Status)
	}
}

func TestMarkUnknownTagReturnsError(t *testing.T) {
	store := newTestStore(t, nil)
	defer store.Stop()

	err := store.MarkDelayed("NOPE", "weather")
	if err == nil {
		t.Fatal("Failed. Expected UnknownEntityError, Received nil")
	}
	if _, ok := err.(UnknownEntityError); !ok {
		t.Errorf("Failed. Expected UnknownEntityError, Received %T", err)
	}
}

func TestTransitionHandlerReceivesOldAndNew(t *testing.T) {
	var mutex sync.Mutex
	var transitions []StateTransition
	handler := func(transition StateTransition) {
		mutex.Lock()
		transitions = append(transitions, transition)
		mutex.Unlock()
	}

	store := newTestStore(t, handler)
	defer store.Stop()

	store.Submit(scanEvent("BAG-9", "CHECK_IN", statemodel.MethodEntry, 1000))
	store.Submit(scanEvent("BAG-9", "SECURITY", statemodel.MethodCheckpoint, 61000))

	waitFor(t, func() bool {
		mutex.Lock()
		defer mutex.Unlock()
		return len(transitions) == 2
	})

	mutex.Lock()
	defer mutex.Unlock()
	if !transitions[0].Created {
		t.Error("Failed. Expected first transition to be marked Created")
	}
	second := transitions[1]
	if second.Old.Status != statemodel.CheckedIn {
		t.Errorf("Failed. Expected old status %s, Received %s", statemodel.CheckedIn, second.Old.Status)
	}
	if second.New.Status != statemodel.SecurityCheck {
		t.Errorf("Failed. Expected new status %s, Received %s", statemodel.SecurityCheck, second.New.Status)
	}
	if second.Elapsed != 60*time.Second {
		t.Errorf("Failed. Expected 60s elapsed, Received %s", second.Elapsed)
	}
}

// Ten thousand interleaved events across one hundred tags must produce the
// same per-tag end state as a serial replay.
func TestConcurrentSubmitMatchesSerialReplay(t *testing.T) {
	const tagCount = 100
	const eventsPerTag = 100

	zones := []string{"SECURITY", "SORTING", "LOADING", "AIRCRAFT"}

	type flatEvent struct {
		event ingestor.LocationEvent
	}
	var all []flatEvent
	for tagIdx := 0; tagIdx < tagCount; tagIdx++ {
		tagID := fmt.Sprintf("BAG-%03d", tagIdx)
		all = append(all, flatEvent{scanEvent(tagID, "CHECK_IN", statemodel.MethodEntry, 1000)})
		for n := 1; n < eventsPerTag; n++ {
			zoneID := zones[n%len(zones)]
			all = append(all, flatEvent{scanEvent(tagID, zoneID, statemodel.MethodCheckpoint, int64(1000+n*1000))})
		}
	}

	// fully shuffle delivery order; the end state must still match a
	// serial, in-order replay per tag
	rand.New(rand.NewSource(42)).Shuffle(len(all), func(i, j int) {
		all[i], all[j] = all[j], all[i]
	})

	store := NewStore(testTopology(t), Options{
		ShardCount:      8,
		QueueSize:       256,
		UnknownTagGrace: time.Minute,
	}, nil, nil)
	defer store.Stop()

	var waitGroup sync.WaitGroup
	const submitters = 10
	chunk := len(all) / submitters
	for w := 0; w < submitters; w++ {
		waitGroup.Add(1)
		go func(events []flatEvent) {
			defer waitGroup.Done()
			for _, fe := range events {
				store.Submit(fe.event)
			}
		}(all[w*chunk : (w+1)*chunk])
	}
	waitGroup.Wait()

	waitFor(t, func() bool {
		for tagIdx := 0; tagIdx < tagCount; tagIdx++ {
			ent, err := store.Snapshot(fmt.Sprintf("BAG-%03d", tagIdx))
			if err != nil || len(ent.Journey) != eventsPerTag {
				return false
			}
		}
		return true
	})

	for tagIdx := 0; tagIdx < tagCount; tagIdx++ {
		tagID := fmt.Sprintf("BAG-%03d", tagIdx)
		ent, err := store.Snapshot(tagID)
		if err != nil {
			t.Fatalf("Failed. Expected entity for %s, Received error %s", tagID, err.Error())
		}
		// last event per tag is zone index (eventsPerTag-1)%len(zones) at the max timestamp
		wantZone := zones[(eventsPerTag-1)%len(zones)]
		wantTimestamp := int64(1000 + (eventsPerTag-1)*1000)
		if ent.CurrentLocation.ZoneID != wantZone {
			t.Errorf("Failed. Expected %s for %s, Received %s", wantZone, tagID, ent.CurrentLocation.ZoneID)
		}
		if ent.CurrentLocation.Timestamp != wantTimestamp {
			t.Errorf("Failed. Expected %d for %s, Received %d", wantTimestamp, tagID, ent.CurrentLocation.Timestamp)
		}
		if ent.LoadedAt == 0 {
			t.Errorf("Failed. Expected %s to record a loaded timestamp", tagID)
		}
	}
}

// gatedPersister parks the shard writer until the gate opens, letting a
// test back up a shard queue deterministically.
type gatedPersister struct {
	gate chan struct{}
}

func (persister *gatedPersister) UpsertEntity(ent TrackedEntity) error {
	<-persister.gate
	return nil
}

// Control operations (marks, deadlines, alert bookkeeping) must complete
// even while drop-oldest is shedding events from a saturated shard.
func TestControlOpsSurviveDropOldestPressure(t *testing.T) {
	persister := &gatedPersister{gate: make(chan struct{})}
	store := NewStore(testTopology(t), Options{
		ShardCount:         1,
		QueueSize:          1,
		BackpressurePolicy: BackpressureDropOldest,
		UnknownTagGrace:    time.Minute,
	}, persister, nil)
	defer store.Stop()

	// the writer parks inside the persister on the check-in
	store.Submit(scanEvent("BAG-CTL", "CHECK_IN", statemodel.MethodEntry, 1000))
	// wait until the writer has dequeued the check-in (and parked in the
	// persister) so the saturation loop below cannot evict it
	waitFor(t, func() bool {
		_, err := store.Snapshot("BAG-CTL")
		return err == nil
	})
	// saturate the queue so the drop-oldest loop is shedding
	for i := 0; i < 10; i++ {
		store.Submit(scanEvent("BAG-CTL", "SECURITY", statemodel.MethodCheckpoint, int64(2000+i)))
	}

	done := make(chan error, 1)
	go func() {
		done <- store.SetDeadline("BAG-CTL", DeadlineConnection, 99000)
	}()

	close(persister.gate)

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Failed. Received error %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Failed. SetDeadline never returned under drop-oldest pressure")
	}

	waitFor(t, func() bool {
		snapshot, err := store.Snapshot("BAG-CTL")
		return err == nil && snapshot.Deadlines[DeadlineConnection] == 99000
	})
	if store.DroppedEvents() == 0 {
		t.Error("Failed. Expected the saturated queue to shed events")
	}
}

func TestEntityCopyIsDeep(t *testing.T) {
	ent := TrackedEntity{
		TagID:           "BAG-10",
		Journey:         []JourneyPoint{{ZoneID: "CHECK_IN", Timestamp: 1}},
		Deadlines:       map[string]int64{"connection": 99},
		ActiveAlertIDs:  []string{"a1"},
		SpecialHandling: []string{"fragile"},
	}
	copied := ent.Copy()
	copied.Journey[0].ZoneID = "OTHER"
	copied.Deadlines["connection"] = 1
	copied.ActiveAlertIDs[0] = "a2"

	if ent.Journey[0].ZoneID != "CHECK_IN" {
		t.Errorf("Failed. Expected CHECK_IN, Received %s", ent.Journey[0].ZoneID)
	}
	if ent.Deadlines["connection"] != 99 {
		t.Errorf("Failed. Expected 99, Received %d", ent.Deadlines["connection"])
	}
	if ent.ActiveAlertIDs[0] != "a1" {
		t.Errorf("Failed. Expected a1, Received %s", ent.ActiveAlertIDs[0])
	}
}
