/* Apache v2 license
*  Copyright (C) <2019> Intel Corporation
*
*  SPDX-License-Identifier: Apache-2.0
 */

package statemodel

import "testing"

func TestNextStatusSecurityCheckpoint(t *testing.T) {
	next := NextStatus(CheckedIn, ZoneSecurity, MethodCheckpoint)
	if next != SecurityCheck {
		t.Errorf("Failed. Expected %s, Received %s", SecurityCheck, next)
	}
}

func TestNextStatusSortingAnyMethod(t *testing.T) {
	next := NextStatus(SecurityCheck, ZoneSorting, MethodEntry)
	if next != InTransit {
		t.Errorf("Failed. Expected %s, Received %s", InTransit, next)
	}
}

func TestNextStatusConveyor(t *testing.T) {
	next := NextStatus(CheckedIn, ZoneConveyor, MethodCheckpoint)
	if next != InTransit {
		t.Errorf("Failed. Expected %s, Received %s", InTransit, next)
	}
}

func TestNextStatusLoadingRequiresLoadMethod(t *testing.T) {
	next := NextStatus(InTransit, ZoneLoading, MethodLoad)
	if next != Loading {
		t.Errorf("Failed. Expected %s, Received %s", Loading, next)
	}

	// an entry scan at a loading zone is not a load
	next = NextStatus(InTransit, ZoneLoading, MethodEntry)
	if next != InTransit {
		t.Errorf("Failed. Expected %s, Received %s", InTransit, next)
	}
}

func TestNextStatusAircraftLoaded(t *testing.T) {
	next := NextStatus(Loading, ZoneAircraft, MethodEntry)
	if next != Loaded {
		t.Errorf("Failed. Expected %s, Received %s", Loaded, next)
	}
}

func TestNextStatusAircraftExitInFlight(t *testing.T) {
	next := NextStatus(Loaded, ZoneAircraft, MethodExit)
	if next != InFlight {
		t.Errorf("Failed. Expected %s, Received %s", InFlight, next)
	}
}

func TestNextStatusInFlightArrives(t *testing.T) {
	next := NextStatus(InFlight, ZoneAircraft, MethodEntry)
	if next != Arrived {
		t.Errorf("Failed. Expected %s, Received %s", Arrived, next)
	}
}

func TestNextStatusClaimAvailableForPickup(t *testing.T) {
	next := NextStatus(Arrived, ZoneClaim, MethodEntry)
	if next != AvailableForPickup {
		t.Errorf("Failed. Expected %s, Received %s", AvailableForPickup, next)
	}
}

func TestNextStatusPickupExitDelivered(t *testing.T) {
	next := NextStatus(AvailableForPickup, ZonePickup, MethodExit)
	if next != Delivered {
		t.Errorf("Failed. Expected %s, Received %s", Delivered, next)
	}
}

func TestNextStatusManualCollection(t *testing.T) {
	next := NextStatus(AvailableForPickup, ZoneClaim, MethodManual)
	if next != Collected {
		t.Errorf("Failed. Expected %s, Received %s", Collected, next)
	}
}

func TestNextStatusNoMatchUnchanged(t *testing.T) {
	next := NextStatus(Loaded, "unknown-zone-type", MethodEntry)
	if next != Loaded {
		t.Errorf("Failed. Expected %s, Received %s", Loaded, next)
	}
}

func TestNextStatusNeverLeavesTerminal(t *testing.T) {
	next := NextStatus(Delivered, ZoneCheckIn, MethodEntry)
	if next != Delivered {
		t.Errorf("Failed. Expected %s, Received %s", Delivered, next)
	}

	next = NextStatus(Lost, ZoneSorting, MethodEntry)
	if next != Lost {
		t.Errorf("Failed. Expected %s, Received %s", Lost, next)
	}
}

func TestIsTerminal(t *testing.T) {
	for _, status := range []Status{Delivered, Collected, Lost} {
		if !IsTerminal(status) {
			t.Errorf("Failed. Expected %s to be terminal", status)
		}
	}
	for _, status := range []Status{CheckedIn, InTransit, SecurityCheck, Loading, Loaded, InFlight, Arrived, AvailableForPickup, Delayed} {
		if IsTerminal(status) {
			t.Errorf("Failed. Expected %s to be non-terminal", status)
		}
	}
}

func TestIsValidMethod(t *testing.T) {
	if !IsValidMethod(MethodCheckpoint) {
		t.Error("Failed. Expected checkpoint to be a valid method")
	}
	if IsValidMethod("rfid_read") {
		t.Error("Failed. Expected provider vocabulary to be invalid before normalization")
	}
}
