/* Apache v2 license
*  Copyright (C) <2019> Intel Corporation
*
*  SPDX-License-Identifier: Apache-2.0
 */

// Package heartbeat tracks liveness of the scanner gateways feeding the
// scan topic.
package heartbeat

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/intel/rsp-sw-toolkit-im-suite-utilities/go-metrics"
	"github.com/intel/rsp-sw-toolkit-im-suite-utilities/helper"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Message is the gateway heartbeat payload.
type Message struct {
	ReaderID string `json:"reader_id"`
	SentOn   int64  `json:"sent_on"`
}

// Registry keeps the last-seen time per gateway.
type Registry struct {
	mutex    sync.RWMutex
	lastSeen map[string]int64
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{lastSeen: make(map[string]int64)}
}

// Process records one heartbeat payload.
func (registry *Registry) Process(payload []byte) error {
	metrics.GetOrRegisterGauge(`Heartbeat.Process.Attempt`, nil).Update(1)

	var message Message
	if err := json.Unmarshal(payload, &message); err != nil {
		metrics.GetOrRegisterGauge(`Heartbeat.Process.Unmarshal-Error`, nil).Update(1)
		return errors.Wrap(err, "unable to unmarshal heartbeat")
	}
	if message.ReaderID == "" {
		return errors.New("heartbeat missing reader_id")
	}
	if message.SentOn == 0 {
		message.SentOn = helper.UnixMilliNow()
	}

	registry.mutex.Lock()
	_, known := registry.lastSeen[message.ReaderID]
	registry.lastSeen[message.ReaderID] = message.SentOn
	registry.mutex.Unlock()

	if !known {
		log.WithFields(log.Fields{
			"Method":   "Registry.Process",
			"ReaderID": message.ReaderID,
		}).Info("new scanner gateway seen")
	}
	metrics.GetOrRegisterGauge(`Heartbeat.Process.Success`, nil).Update(1)
	return nil
}

// Stale returns the gateways silent for longer than the threshold.
func (registry *Registry) Stale(now int64, threshold time.Duration) []string {
	thresholdMillis := int64(threshold / time.Millisecond)

	registry.mutex.RLock()
	defer registry.mutex.RUnlock()

	var stale []string
	for readerID, seen := range registry.lastSeen {
		if now-seen > thresholdMillis {
			stale = append(stale, readerID)
		}
	}
	return stale
}

// LastSeen returns the last heartbeat time for one gateway.
func (registry *Registry) LastSeen(readerID string) (int64, bool) {
	registry.mutex.RLock()
	defer registry.mutex.RUnlock()
	seen, ok := registry.lastSeen[readerID]
	return seen, ok
}

// Snapshot returns a copy of every gateway's last-seen time.
func (registry *Registry) Snapshot() map[string]int64 {
	registry.mutex.RLock()
	defer registry.mutex.RUnlock()
	snapshot := make(map[string]int64, len(registry.lastSeen))
	for readerID, seen := range registry.lastSeen {
		snapshot[readerID] = seen
	}
	return snapshot
}
