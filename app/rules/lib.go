/* Apache v2 license
*  Copyright (C) <2019> Intel Corporation
*
*  SPDX-License-Identifier: Apache-2.0
 */

package rules

import (
	"fmt"
	"time"

	"github.com/intel/rsp-sw-toolkit-im-suite-baggage-tracking-service/app/alert"
	"github.com/intel/rsp-sw-toolkit-im-suite-baggage-tracking-service/app/entity"
	"github.com/intel/rsp-sw-toolkit-im-suite-baggage-tracking-service/app/zonemap"
	"github.com/intel/rsp-sw-toolkit-im-suite-baggage-tracking-service/pkg/statemodel"
	"github.com/intel/rsp-sw-toolkit-im-suite-utilities/go-metrics"
	log "github.com/sirupsen/logrus"
)

// Engine evaluates alert rules against state transitions and, on a timer,
// against entity snapshots. Evaluation never mutates the entity; alerts go
// back through the sink.
type Engine struct {
	topology              *zonemap.Topology
	stationaryThreshold   time.Duration
	securityHoldThreshold time.Duration
}

// NewEngine wires the rule engine with its topology and time thresholds.
func NewEngine(topology *zonemap.Topology, stationaryThreshold, securityHoldThreshold time.Duration) *Engine {
	return &Engine{
		topology:              topology,
		stationaryThreshold:   stationaryThreshold,
		securityHoldThreshold: securityHoldThreshold,
	}
}

// Evaluate runs the event-driven rules for one transition.
func (engine *Engine) Evaluate(transition entity.StateTransition) []alert.Alert {
	metrics.GetOrRegisterGauge(`Rules.Evaluate.Attempt`, nil).Update(1)

	// A creation has no prior location and a stale event moved nothing.
	if transition.Created || transition.Stale {
		return nil
	}

	var alerts []alert.Alert
	if wrongZone := engine.checkWrongZone(transition); wrongZone != nil {
		alerts = append(alerts, *wrongZone)
	}
	return alerts
}

// checkWrongZone flags a movement the zone graph says is not physically
// plausible, either no edge between the zones or a transit faster than the
// edge minimum. An unknown zone is flagged too rather than waved through.
func (engine *Engine) checkWrongZone(transition entity.StateTransition) *alert.Alert {
	fromZoneID := transition.Old.CurrentLocation.ZoneID
	toZoneID := transition.EventZoneID
	if fromZoneID == "" || fromZoneID == toZoneID {
		return nil
	}

	reachable, err := engine.topology.Reachable(fromZoneID, toZoneID, transition.Elapsed)
	if err != nil {
		log.WithFields(log.Fields{
			"Method": "Engine.checkWrongZone",
			"TagID":  transition.TagID,
			"Error":  err.Error(),
		}).Warn("zone not in topology, flagging conservatively")
		metrics.GetOrRegisterGaugeCollection(`Rules.WrongZone.TopologyError`, nil).Add(1)
		return engine.wrongZoneAlert(transition, fmt.Sprintf("bag %s scanned in unknown zone %s", transition.TagID, toZoneID))
	}
	if reachable {
		return nil
	}

	metrics.GetOrRegisterGaugeCollection(`Rules.WrongZone.Flagged`, nil).Add(1)
	return engine.wrongZoneAlert(transition, fmt.Sprintf("bag %s moved %s -> %s which is not a plausible transition",
		transition.TagID, fromZoneID, toZoneID))
}

func (engine *Engine) wrongZoneAlert(transition entity.StateTransition, message string) *alert.Alert {
	return &alert.Alert{
		TagID:            transition.TagID,
		Type:             alert.TypeWrongZone,
		Severity:         alert.SeverityHigh,
		Message:          message,
		TriggeringZoneID: transition.EventZoneID,
		Optional: map[string]interface{}{
			"fromZone":       transition.Old.CurrentLocation.ZoneID,
			"toZone":         transition.EventZoneID,
			"elapsedSeconds": transition.Elapsed.Seconds(),
		},
	}
}

// EvaluateTick runs the time-based rules against one entity snapshot.
// now is milliseconds epoch, matching event timestamps.
func (engine *Engine) EvaluateTick(ent entity.TrackedEntity, now int64) []alert.Alert {
	if ent.Archived || ent.IsTerminal() {
		return nil
	}

	var alerts []alert.Alert
	if stationary := engine.checkStationary(ent, now); stationary != nil {
		alerts = append(alerts, *stationary)
	}
	if hold := engine.checkSecurityHold(ent, now); hold != nil {
		alerts = append(alerts, *hold)
	}
	if missed := engine.checkMissedConnection(ent, now); missed != nil {
		alerts = append(alerts, *missed)
	}
	return alerts
}

// checkStationary fires when a bag has not moved for the configured
// threshold. Airborne bags are exempt, no scans are expected mid-flight.
func (engine *Engine) checkStationary(ent entity.TrackedEntity, now int64) *alert.Alert {
	if ent.Status == statemodel.InFlight || ent.CurrentLocation.Timestamp == 0 {
		return nil
	}
	idle := time.Duration(now-ent.CurrentLocation.Timestamp) * time.Millisecond
	if idle < engine.stationaryThreshold {
		return nil
	}

	metrics.GetOrRegisterGaugeCollection(`Rules.Stationary.Flagged`, nil).Add(1)
	return &alert.Alert{
		TagID:            ent.TagID,
		Type:             alert.TypeStationary,
		Severity:         alert.SeverityMedium,
		Message:          fmt.Sprintf("bag %s has not moved from %s for %d minutes", ent.TagID, ent.CurrentLocation.ZoneID, int(idle.Minutes())),
		TriggeringZoneID: ent.CurrentLocation.ZoneID,
		Optional: map[string]interface{}{
			"stationaryDuration": int64(idle.Minutes()),
		},
	}
}

// checkSecurityHold fires when a bag sits in security screening past the
// configured threshold.
func (engine *Engine) checkSecurityHold(ent entity.TrackedEntity, now int64) *alert.Alert {
	if ent.Status != statemodel.SecurityCheck {
		return nil
	}
	held := time.Duration(now-ent.CurrentLocation.Timestamp) * time.Millisecond
	if held < engine.securityHoldThreshold {
		return nil
	}

	metrics.GetOrRegisterGaugeCollection(`Rules.SecurityHold.Flagged`, nil).Add(1)
	return &alert.Alert{
		TagID:            ent.TagID,
		Type:             alert.TypeSecurityHold,
		Severity:         alert.SeverityHigh,
		Message:          fmt.Sprintf("bag %s held in security screening for %d minutes", ent.TagID, int(held.Minutes())),
		TriggeringZoneID: ent.CurrentLocation.ZoneID,
		Optional: map[string]interface{}{
			"heldDuration": int64(held.Minutes()),
		},
	}
}

// checkMissedConnection fires when the connection deadline has passed and
// the bag is not yet on the aircraft.
func (engine *Engine) checkMissedConnection(ent entity.TrackedEntity, now int64) *alert.Alert {
	deadline, ok := ent.Deadlines[entity.DeadlineConnection]
	if !ok || now <= deadline {
		return nil
	}
	if loadedOrLater(ent.Status) {
		return nil
	}

	metrics.GetOrRegisterGaugeCollection(`Rules.MissedConnection.Flagged`, nil).Add(1)
	return &alert.Alert{
		TagID:            ent.TagID,
		Type:             alert.TypeMissedConnection,
		Severity:         alert.SeverityCritical,
		Message:          fmt.Sprintf("bag %s missed its connection, still %s in %s past the deadline", ent.TagID, ent.Status, ent.CurrentLocation.ZoneID),
		TriggeringZoneID: ent.CurrentLocation.ZoneID,
		Optional: map[string]interface{}{
			"deadline": deadline,
			"flight":   ent.ExternalReference,
		},
	}
}

// loadedOrLater reports whether the bag already made it onto the aircraft.
func loadedOrLater(status statemodel.Status) bool {
	switch status {
	case statemodel.Loaded, statemodel.InFlight, statemodel.Arrived,
		statemodel.AvailableForPickup, statemodel.Delivered, statemodel.Collected:
		return true
	}
	return false
}
