/* Apache v2 license
*  Copyright (C) <2019> Intel Corporation
*
*  SPDX-License-Identifier: Apache-2.0
 */

package statemodel

// Status is the lifecycle state of a tracked bag.
type Status string

const (
	// CheckedIn is the unique initial status, set when the first event for a tag arrives.
	CheckedIn Status = "checked_in"
	// InTransit is set while the bag moves through sorting/conveyor zones.
	InTransit Status = "in_transit"
	// SecurityCheck is set while the bag is under security screening.
	SecurityCheck Status = "security_check"
	// Loading is set when the bag is staged at a loading zone.
	Loading Status = "loading"
	// Loaded is set when the bag is scanned inside an aircraft or cargo zone.
	Loaded Status = "loaded"
	// InFlight is set when the bag leaves the aircraft zone airside.
	InFlight Status = "in_flight"
	// Arrived is set on the first aircraft-side scan after a flight.
	Arrived Status = "arrived"
	// AvailableForPickup is set when the bag reaches a claim or arrival zone.
	AvailableForPickup Status = "available_for_pickup"
	// Delivered is terminal; the bag exited a pickup zone.
	Delivered Status = "delivered"
	// Collected is terminal; a staff member confirmed hand-off manually.
	Collected Status = "collected"
	// Delayed is set only by explicit maintenance or manual flagging.
	Delayed Status = "delayed"
	// Lost is terminal and set only by explicit maintenance or manual flagging.
	Lost Status = "lost"
)

// Canonical scan methods produced by the ingestor.
const (
	MethodEntry      = "entry"
	MethodExit       = "exit"
	MethodCheckpoint = "checkpoint"
	MethodLoad       = "load"
	MethodManual     = "manual"
)

// Zone types consulted by the status derivation table.
const (
	ZoneCheckIn  = "check-in"
	ZoneSecurity = "security"
	ZoneSorting  = "sorting"
	ZoneConveyor = "conveyor"
	ZoneLoading  = "loading"
	ZoneAircraft = "aircraft"
	ZoneCargo    = "cargo"
	ZoneArrival  = "arrival"
	ZoneClaim    = "claim"
	ZonePickup   = "pickup"
)
