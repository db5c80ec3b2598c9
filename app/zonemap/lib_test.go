/* Apache v2 license
*  Copyright (C) <2019> Intel Corporation
*
*  SPDX-License-Identifier: Apache-2.0
 */

package zonemap

import (
	"testing"
	"time"
)

const testTopology = `{
	"zones": [
		{"id": "CHECK_IN", "type": "check-in", "coordinates": {"x": 0, "y": 0}},
		{"id": "SECURITY", "type": "security", "coordinates": {"x": 50, "y": 0}},
		{"id": "SORTING", "type": "sorting", "coordinates": {"x": 100, "y": 20}},
		{"id": "LOADING", "type": "loading", "coordinates": {"x": 150, "y": 20}},
		{"id": "CLAIM", "type": "claim", "coordinates": {"x": 300, "y": 0}}
	],
	"edges": [
		{"from": "CHECK_IN", "to": "SECURITY", "minTransitSeconds": 30},
		{"from": "SECURITY", "to": "SORTING", "minTransitSeconds": 60},
		{"from": "SORTING", "to": "LOADING", "minTransitSeconds": 60},
		{"from": "SORTING", "to": "SECURITY", "minTransitSeconds": 60}
	]
}`

func loadTestTopology(t *testing.T) *Topology {
	topology, err := Parse([]byte(testTopology))
	if err != nil {
		t.Fatalf("unable to parse test topology: %s", err.Error())
	}
	return topology
}

func TestParseRejectsUnknownEdgeZone(t *testing.T) {
	_, err := Parse([]byte(`{
		"zones": [{"id": "A", "type": "sorting"}],
		"edges": [{"from": "A", "to": "B", "minTransitSeconds": 10}]
	}`))
	if err == nil {
		t.Error("Failed. Expected an error for an edge referencing an unknown zone")
	}
}

func TestParseRejectsEmptyZones(t *testing.T) {
	if _, err := Parse([]byte(`{"zones": [], "edges": []}`)); err == nil {
		t.Error("Failed. Expected an error for a zone map with no zones")
	}
}

func TestZoneType(t *testing.T) {
	topology := loadTestTopology(t)

	zoneType, err := topology.ZoneType("SECURITY")
	if err != nil {
		t.Fatalf("Failed. Unexpected error: %s", err.Error())
	}
	if zoneType != "security" {
		t.Errorf("Failed. Expected %s, Received %s", "security", zoneType)
	}

	if _, err := topology.ZoneType("NOWHERE"); err == nil {
		t.Error("Failed. Expected a TopologyError for an unknown zone")
	}
}

func TestReachableDirectEdge(t *testing.T) {
	topology := loadTestTopology(t)

	reachable, err := topology.Reachable("SORTING", "LOADING", 5*time.Minute)
	if err != nil {
		t.Fatalf("Failed. Unexpected error: %s", err.Error())
	}
	if !reachable {
		t.Error("Failed. Expected SORTING -> LOADING to be reachable")
	}
}

func TestReachableNoEdge(t *testing.T) {
	topology := loadTestTopology(t)

	reachable, err := topology.Reachable("SORTING", "CLAIM", time.Hour)
	if err != nil {
		t.Fatalf("Failed. Unexpected error: %s", err.Error())
	}
	if reachable {
		t.Error("Failed. Expected SORTING -> CLAIM to be unreachable with no edge")
	}
}

func TestReachableTooFast(t *testing.T) {
	topology := loadTestTopology(t)

	reachable, err := topology.Reachable("SORTING", "LOADING", 10*time.Second)
	if err != nil {
		t.Fatalf("Failed. Unexpected error: %s", err.Error())
	}
	if reachable {
		t.Error("Failed. Expected a 10s SORTING -> LOADING hop to be physically suspect")
	}
}

func TestReachableSameZone(t *testing.T) {
	topology := loadTestTopology(t)

	reachable, err := topology.Reachable("SECURITY", "SECURITY", 0)
	if err != nil {
		t.Fatalf("Failed. Unexpected error: %s", err.Error())
	}
	if !reachable {
		t.Error("Failed. Expected staying in the same zone to be reachable")
	}
}

func TestReachableUnknownZone(t *testing.T) {
	topology := loadTestTopology(t)

	if _, err := topology.Reachable("SORTING", "NOWHERE", time.Minute); err == nil {
		t.Error("Failed. Expected a TopologyError for an unknown destination zone")
	} else if _, ok := err.(TopologyError); !ok {
		t.Errorf("Failed. Expected TopologyError, Received %T", err)
	}
}

func TestNeighbors(t *testing.T) {
	topology := loadTestTopology(t)

	neighbors := topology.Neighbors("SORTING")
	if len(neighbors) != 2 {
		t.Errorf("Failed. Expected 2 neighbors, Received %d", len(neighbors))
	}
}
