/* Apache v2 license
*  Copyright (C) <2019> Intel Corporation
*
*  SPDX-License-Identifier: Apache-2.0
 */

package zonemap

import (
	"encoding/json"
	"io/ioutil"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Topology is the static directed zone graph. It is immutable after Load, so
// readers never need locking.
type Topology struct {
	zones map[string]Zone
	edges map[string]map[string]Edge // from -> to -> edge
}

// Load reads and indexes a topology file.
func Load(path string) (*Topology, error) {
	raw, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to read zone map file %s", path)
	}
	return Parse(raw)
}

// Parse builds a Topology from raw JSON.
func Parse(raw []byte) (*Topology, error) {
	var file File
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, errors.Wrap(err, "unable to parse zone map")
	}
	if len(file.Zones) == 0 {
		return nil, errors.New("zone map contains no zones")
	}

	topology := &Topology{
		zones: make(map[string]Zone, len(file.Zones)),
		edges: make(map[string]map[string]Edge),
	}
	for _, zone := range file.Zones {
		if zone.ID == "" || zone.Type == "" {
			return nil, errors.Errorf("zone entry missing id or type: %+v", zone)
		}
		topology.zones[zone.ID] = zone
	}
	for _, edge := range file.Edges {
		if _, found := topology.zones[edge.From]; !found {
			return nil, errors.Errorf("edge references unknown zone %s", edge.From)
		}
		if _, found := topology.zones[edge.To]; !found {
			return nil, errors.Errorf("edge references unknown zone %s", edge.To)
		}
		if topology.edges[edge.From] == nil {
			topology.edges[edge.From] = make(map[string]Edge)
		}
		topology.edges[edge.From][edge.To] = edge
	}

	log.WithFields(log.Fields{
		"Method": "zonemap.Parse",
		"Zones":  len(topology.zones),
		"Edges":  len(file.Edges),
	}).Info("Loaded zone topology")

	return topology, nil
}

// ZoneType returns the semantic type for a zone id.
func (topology *Topology) ZoneType(zoneID string) (string, error) {
	zone, found := topology.zones[zoneID]
	if !found {
		return "", TopologyError{ZoneID: zoneID}
	}
	return zone.Type, nil
}

// Zone returns the full zone record for a zone id.
func (topology *Topology) Zone(zoneID string) (Zone, error) {
	zone, found := topology.zones[zoneID]
	if !found {
		return Zone{}, TopologyError{ZoneID: zoneID}
	}
	return zone, nil
}

// Reachable reports whether a bag can physically move from one zone to
// another within the elapsed time. Staying in the same zone is always
// reachable. Unknown zones return a TopologyError so callers can treat the
// event as a wrong zone candidate instead of ignoring it.
func (topology *Topology) Reachable(fromZoneID, toZoneID string, elapsed time.Duration) (bool, error) {
	if _, found := topology.zones[fromZoneID]; !found {
		return false, TopologyError{ZoneID: fromZoneID}
	}
	if _, found := topology.zones[toZoneID]; !found {
		return false, TopologyError{ZoneID: toZoneID}
	}
	if fromZoneID == toZoneID {
		return true, nil
	}

	edge, found := topology.edges[fromZoneID][toZoneID]
	if !found {
		return false, nil
	}
	return elapsed >= time.Duration(edge.MinTransitSeconds)*time.Second, nil
}

// Neighbors returns the zone ids directly reachable from a zone.
func (topology *Topology) Neighbors(fromZoneID string) []string {
	var neighbors []string
	for to := range topology.edges[fromZoneID] {
		neighbors = append(neighbors, to)
	}
	return neighbors
}
