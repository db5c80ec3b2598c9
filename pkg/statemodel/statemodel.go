/* Apache v2 license
*  Copyright (C) <2019> Intel Corporation
*
*  SPDX-License-Identifier: Apache-2.0
 */

package statemodel

// transitionKey keys the status derivation table. An empty Method matches
// any method for that zone type.
type transitionKey struct {
	zoneType string
	method   string
}

// statusTable is the fixed derivation table keyed by (zone type, method).
// Entries with an empty method apply to every method in that zone type.
var statusTable = map[transitionKey]Status{
	{ZoneCheckIn, ""}:            CheckedIn,
	{ZoneSecurity, MethodCheckpoint}: SecurityCheck,
	{ZoneSorting, ""}:            InTransit,
	{ZoneConveyor, ""}:           InTransit,
	{ZoneLoading, MethodLoad}:    Loading,
	{ZoneAircraft, ""}:           Loaded,
	{ZoneCargo, ""}:              Loaded,
	{ZoneAircraft, MethodExit}:   InFlight,
	{ZoneArrival, ""}:            AvailableForPickup,
	{ZoneClaim, ""}:              AvailableForPickup,
	{ZonePickup, MethodExit}:     Delivered,
	{ZonePickup, MethodManual}:   Collected,
	{ZoneClaim, MethodManual}:    Collected,
}

// InitialStatus is the status assigned when an entity is created on the
// first event seen for its tag.
func InitialStatus() Status {
	return CheckedIn
}

// NextStatus derives the next status from the fixed (zone type, method)
// table. When no rule matches, the current status is returned unchanged so a
// bag never implicitly regresses to an earlier state. Terminal statuses are
// never left via the table; Lost/Delayed are set only by explicit flagging.
func NextStatus(current Status, zoneType string, method string) Status {
	if IsTerminal(current) {
		return current
	}

	// An arrival-side aircraft scan after the flight marks the bag arrived
	// rather than re-loading it.
	if current == InFlight && (zoneType == ZoneAircraft || zoneType == ZoneCargo) && method == MethodEntry {
		return Arrived
	}

	if next, ok := statusTable[transitionKey{zoneType, method}]; ok {
		return next
	}
	if next, ok := statusTable[transitionKey{zoneType, ""}]; ok {
		return next
	}
	return current
}

// IsTerminal reports whether status ends the bag lifecycle.
func IsTerminal(status Status) bool {
	switch status {
	case Delivered, Collected, Lost:
		return true
	}
	return false
}

// IsValidMethod reports whether method belongs to the canonical vocabulary.
func IsValidMethod(method string) bool {
	switch method {
	case MethodEntry, MethodExit, MethodCheckpoint, MethodLoad, MethodManual:
		return true
	}
	return false
}
