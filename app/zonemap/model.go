/* Apache v2 license
*  Copyright (C) <2019> Intel Corporation
*
*  SPDX-License-Identifier: Apache-2.0
 */

package zonemap

import "fmt"

// Zone is one named physical area of the facility graph.
type Zone struct {
	// ID is the zone name used by readers (e.g. CHECK_IN, SECURITY)
	ID string `json:"id"`
	// Type drives the status derivation table (check-in, security, sorting, ...)
	Type string `json:"type"`
	// Coordinates of the zone centroid, facility local
	Coordinates Coordinates `json:"coordinates"`
}

// Coordinates is a facility local x/y position in meters.
type Coordinates struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Edge is a directed, physically reachable hop between two zones.
type Edge struct {
	From string `json:"from"`
	To   string `json:"to"`
	// MinTransitSeconds is the fastest plausible transit over this edge.
	// A scan arriving sooner than this is physically suspect.
	MinTransitSeconds int `json:"minTransitSeconds"`
}

// File is the on-disk JSON layout of the zone topology configuration input.
type File struct {
	Zones []Zone `json:"zones"`
	Edges []Edge `json:"edges"`
}

// TopologyError is returned when an event references a zone the topology
// does not know. The rule engine treats it conservatively as a wrong zone
// candidate rather than ignoring it.
type TopologyError struct {
	ZoneID string
}

func (err TopologyError) Error() string {
	return fmt.Sprintf("zone %s is not in the topology", err.ZoneID)
}

// RouteScorer scores a candidate route between zones. Route optimization is
// a pluggable external concern; the default implementation scores nothing.
type RouteScorer interface {
	ScoreRoute(zoneIDs []string) float64
}

// NoopScorer satisfies RouteScorer with a neutral score.
type NoopScorer struct{}

// ScoreRoute always returns zero.
func (NoopScorer) ScoreRoute([]string) float64 { return 0 }
