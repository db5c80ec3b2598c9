/* Apache v2 license
*  Copyright (C) <2019> Intel Corporation
*
*  SPDX-License-Identifier: Apache-2.0
 */

package scheduler

import (
	"sync"
	"testing"
	"time"

	"github.com/intel/rsp-sw-toolkit-im-suite-baggage-tracking-service/app/alert"
	"github.com/intel/rsp-sw-toolkit-im-suite-baggage-tracking-service/app/entity"
	"github.com/pkg/errors"
)

type fakeStore struct {
	mutex     sync.Mutex
	snapshots []entity.TrackedEntity
	swept     int
	cutoffs   []int64
}

func (store *fakeStore) ActiveSnapshots() []entity.TrackedEntity {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	return store.snapshots
}

func (store *fakeStore) SweepPending(now time.Time) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	store.swept++
}

func (store *fakeStore) ArchiveBefore(cutoff int64) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	store.cutoffs = append(store.cutoffs, cutoff)
}

type fakeEngine struct {
	mutex     sync.Mutex
	evaluated []string
	alerts    map[string][]alert.Alert
	delay     time.Duration
}

func (engine *fakeEngine) EvaluateTick(ent entity.TrackedEntity, now int64) []alert.Alert {
	if engine.delay > 0 {
		time.Sleep(engine.delay)
	}
	engine.mutex.Lock()
	defer engine.mutex.Unlock()
	engine.evaluated = append(engine.evaluated, ent.TagID)
	return engine.alerts[ent.TagID]
}

type fakeRecorder struct {
	mutex    sync.Mutex
	recorded []alert.Alert
}

func (recorder *fakeRecorder) Record(draft alert.Alert) string {
	recorder.mutex.Lock()
	defer recorder.mutex.Unlock()
	recorder.recorded = append(recorder.recorded, draft)
	return draft.ID
}

func TestRunTickEvaluatesEveryActiveEntity(t *testing.T) {
	store := &fakeStore{snapshots: []entity.TrackedEntity{
		{TagID: "BAG-1"}, {TagID: "BAG-2"}, {TagID: "BAG-3"},
	}}
	engine := &fakeEngine{alerts: map[string][]alert.Alert{
		"BAG-2": {{TagID: "BAG-2", Type: alert.TypeStationary}},
	}}
	recorder := &fakeRecorder{}

	sched := New(store, engine, recorder, time.Minute, time.Hour, 50*time.Millisecond, 30*24*time.Hour)
	sched.RunTick(time.Now())

	if len(engine.evaluated) != 3 {
		t.Errorf("Failed. Expected 3 evaluations, Received %d", len(engine.evaluated))
	}
	if len(recorder.recorded) != 1 {
		t.Fatalf("Failed. Expected 1 recorded alert, Received %d", len(recorder.recorded))
	}
	if recorder.recorded[0].TagID != "BAG-2" {
		t.Errorf("Failed. Expected BAG-2, Received %s", recorder.recorded[0].TagID)
	}
	if store.swept != 1 {
		t.Errorf("Failed. Expected 1 pending sweep, Received %d", store.swept)
	}
}

func TestSlowEvaluationIsSkippedNotFatal(t *testing.T) {
	store := &fakeStore{snapshots: []entity.TrackedEntity{
		{TagID: "BAG-1"}, {TagID: "BAG-2"},
	}}
	engine := &fakeEngine{delay: 200 * time.Millisecond}
	recorder := &fakeRecorder{}

	sched := New(store, engine, recorder, time.Minute, time.Hour, 10*time.Millisecond, 30*24*time.Hour)

	started := time.Now()
	sched.RunTick(time.Now())
	elapsed := time.Since(started)

	// both evaluations time out at ~10ms each rather than 200ms each
	if elapsed > 150*time.Millisecond {
		t.Errorf("Failed. Expected the sweep to skip slow entities, took %s", elapsed)
	}
	if len(recorder.recorded) != 0 {
		t.Errorf("Failed. Expected 0 recorded alerts, Received %d", len(recorder.recorded))
	}
}

func TestRunArchiveUsesRetentionCutoff(t *testing.T) {
	store := &fakeStore{}
	sched := New(store, &fakeEngine{}, &fakeRecorder{}, time.Minute, time.Hour, 50*time.Millisecond, 24*time.Hour)

	now := time.Now()
	sched.RunArchive(now)

	if len(store.cutoffs) != 1 {
		t.Fatalf("Failed. Expected 1 archival sweep, Received %d", len(store.cutoffs))
	}
	want := now.Add(-24*time.Hour).UnixNano() / int64(time.Millisecond)
	if store.cutoffs[0] != want {
		t.Errorf("Failed. Expected cutoff %d, Received %d", want, store.cutoffs[0])
	}
}

type fakeReaderRegistry struct {
	mutex      sync.Mutex
	stale      []string
	calls      int
	thresholds []time.Duration
}

func (registry *fakeReaderRegistry) Stale(now int64, threshold time.Duration) []string {
	registry.mutex.Lock()
	defer registry.mutex.Unlock()
	registry.calls++
	registry.thresholds = append(registry.thresholds, threshold)
	return registry.stale
}

type fakeReplayer struct {
	mutex  sync.Mutex
	limits []int
	count  int
	err    error
}

func (replayer *fakeReplayer) Replay(limit int) (int, error) {
	replayer.mutex.Lock()
	defer replayer.mutex.Unlock()
	replayer.limits = append(replayer.limits, limit)
	return replayer.count, replayer.err
}

func TestRunTickChecksStaleReaders(t *testing.T) {
	store := &fakeStore{}
	registry := &fakeReaderRegistry{stale: []string{"RSP-150000", "RSP-150001"}}

	sched := New(store, &fakeEngine{}, &fakeRecorder{}, time.Minute, time.Hour, 50*time.Millisecond, 24*time.Hour)
	sched.WatchReaders(registry, 5*time.Minute)
	sched.RunTick(time.Now())
	sched.RunTick(time.Now())

	if registry.calls != 2 {
		t.Errorf("Failed. Expected 2 staleness checks, Received %d", registry.calls)
	}
	if registry.thresholds[0] != 5*time.Minute {
		t.Errorf("Failed. Expected threshold %s, Received %s", 5*time.Minute, registry.thresholds[0])
	}
}

func TestRunTickWithoutRegistrySkipsStalenessCheck(t *testing.T) {
	store := &fakeStore{snapshots: []entity.TrackedEntity{{TagID: "BAG-1"}}}
	sched := New(store, &fakeEngine{}, &fakeRecorder{}, time.Minute, time.Hour, 50*time.Millisecond, 24*time.Hour)

	// must not panic with no registry wired
	sched.RunTick(time.Now())

	if store.swept != 1 {
		t.Errorf("Failed. Expected 1 pending sweep, Received %d", store.swept)
	}
}

func TestRunArchiveReplaysDeadLetters(t *testing.T) {
	store := &fakeStore{}
	replayer := &fakeReplayer{count: 7}

	sched := New(store, &fakeEngine{}, &fakeRecorder{}, time.Minute, time.Hour, 50*time.Millisecond, 24*time.Hour)
	sched.WatchDeadLetters(replayer, 25)
	sched.RunArchive(time.Now())

	if len(replayer.limits) != 1 {
		t.Fatalf("Failed. Expected 1 replay batch, Received %d", len(replayer.limits))
	}
	if replayer.limits[0] != 25 {
		t.Errorf("Failed. Expected batch limit 25, Received %d", replayer.limits[0])
	}
	if len(store.cutoffs) != 1 {
		t.Errorf("Failed. Expected 1 archival sweep, Received %d", len(store.cutoffs))
	}
}

func TestRunArchiveToleratesReplayFailure(t *testing.T) {
	store := &fakeStore{}
	replayer := &fakeReplayer{err: errors.New("database still unreachable")}

	sched := New(store, &fakeEngine{}, &fakeRecorder{}, time.Minute, time.Hour, 50*time.Millisecond, 24*time.Hour)
	sched.WatchDeadLetters(replayer, 100)
	sched.RunArchive(time.Now())
	sched.RunArchive(time.Now())

	// replay failures must not stop the archival sweeps
	if len(store.cutoffs) != 2 {
		t.Errorf("Failed. Expected 2 archival sweeps, Received %d", len(store.cutoffs))
	}
	if len(replayer.limits) != 2 {
		t.Errorf("Failed. Expected 2 replay attempts, Received %d", len(replayer.limits))
	}
}

func TestStartStopTicksPeriodically(t *testing.T) {
	store := &fakeStore{snapshots: []entity.TrackedEntity{{TagID: "BAG-1"}}}
	engine := &fakeEngine{}
	sched := New(store, engine, &fakeRecorder{}, 10*time.Millisecond, time.Hour, 50*time.Millisecond, 24*time.Hour)

	sched.Start()
	time.Sleep(60 * time.Millisecond)
	sched.Stop()

	engine.mutex.Lock()
	ticks := len(engine.evaluated)
	engine.mutex.Unlock()
	if ticks < 2 {
		t.Errorf("Failed. Expected at least 2 ticks, Received %d", ticks)
	}
}
