/* Apache v2 license
*  Copyright (C) <2019> Intel Corporation
*
*  SPDX-License-Identifier: Apache-2.0
 */

package entity

import (
	"fmt"
	"time"

	"github.com/intel/rsp-sw-toolkit-im-suite-baggage-tracking-service/app/zonemap"
	"github.com/intel/rsp-sw-toolkit-im-suite-baggage-tracking-service/pkg/statemodel"
)

// Location is the resolved position of a bag at a point in time.
type Location struct {
	ZoneID      string              `json:"zone_id" bson:"zone_id"`
	Coordinates zonemap.Coordinates `json:"coordinates" bson:"coordinates"`
	// Timestamp of the scan that produced this location, milliseconds epoch
	Timestamp int64 `json:"timestamp" bson:"timestamp"`
}

// JourneyPoint is one append-only entry in a bag's audit trail. Insertion
// order is significant and entries are never rewritten once appended.
type JourneyPoint struct {
	ZoneID      string              `json:"zone_id" bson:"zone_id"`
	Coordinates zonemap.Coordinates `json:"coordinates" bson:"coordinates"`
	Timestamp   int64               `json:"timestamp" bson:"timestamp"`
	Method      string              `json:"method" bson:"method"`
	Actor       string              `json:"actor" bson:"actor"`
}

// TrackedEntity is the authoritative record for one bag. It is owned
// exclusively by the state store; all other components receive copies.
type TrackedEntity struct {
	TagID string `json:"tag_id" bson:"tag_id"`
	// ExternalReference ties the bag to an itinerary, e.g. a flight number
	ExternalReference string `json:"external_reference" bson:"external_reference"`
	// Priority of handling (standard, priority, rush)
	Priority string `json:"priority" bson:"priority"`
	// SpecialHandling flags (fragile, oversize, ...)
	SpecialHandling []string `json:"special_handling,omitempty" bson:"special_handling,omitempty"`

	Status          statemodel.Status `json:"status" bson:"status"`
	CurrentLocation Location          `json:"current_location" bson:"current_location"`
	Journey         []JourneyPoint    `json:"journey" bson:"journey"`
	ExpectedRoute   []string          `json:"expected_route,omitempty" bson:"expected_route,omitempty"`

	// Deadlines maps a named deadline (e.g. "connection") to a milliseconds
	// epoch timestamp.
	Deadlines map[string]int64 `json:"deadlines,omitempty" bson:"deadlines,omitempty"`

	// LastUpdated is the timestamp of the newest event that mutated
	// location or status, milliseconds epoch.
	LastUpdated int64 `json:"last_updated" bson:"last_updated"`

	// ActiveAlertIDs holds ids of alerts raised for this bag and not yet resolved.
	ActiveAlertIDs []string `json:"active_alert_ids,omitempty" bson:"active_alert_ids,omitempty"`
	// TotalAlerts counts every alert ever raised for this bag.
	TotalAlerts int `json:"total_alerts" bson:"total_alerts"`

	// CheckedInAt and LoadedAt anchor connection time measurement.
	CheckedInAt int64 `json:"checked_in_at" bson:"checked_in_at"`
	LoadedAt    int64 `json:"loaded_at,omitempty" bson:"loaded_at,omitempty"`

	// Archived marks a terminal entity past its retention window. Archived
	// entities are retired, never deleted.
	Archived bool `json:"archived" bson:"archived"`

	// TTL drives the mongo purging index, kept in sync with LastUpdated.
	TTL time.Time `json:"ttl" bson:"ttl"`
}

// Copy returns a deep copy safe to hand outside the owning shard.
func (entity *TrackedEntity) Copy() TrackedEntity {
	copied := *entity
	copied.SpecialHandling = append([]string(nil), entity.SpecialHandling...)
	copied.Journey = append([]JourneyPoint(nil), entity.Journey...)
	copied.ExpectedRoute = append([]string(nil), entity.ExpectedRoute...)
	copied.ActiveAlertIDs = append([]string(nil), entity.ActiveAlertIDs...)
	if entity.Deadlines != nil {
		copied.Deadlines = make(map[string]int64, len(entity.Deadlines))
		for name, deadline := range entity.Deadlines {
			copied.Deadlines[name] = deadline
		}
	}
	return copied
}

// IsTerminal reports whether the entity reached the end of its lifecycle.
func (entity *TrackedEntity) IsTerminal() bool {
	return statemodel.IsTerminal(entity.Status)
}

// StateTransition is the (old, new) pair produced by applying one event.
// Old and New are copies; the rule engine must not reach back into the store.
type StateTransition struct {
	TagID string
	Old   TrackedEntity
	New   TrackedEntity
	// EventZoneID is the zone named by the triggering event, kept separately
	// because an unknown zone never becomes the current location.
	EventZoneID string
	// Elapsed wall-clock time between the previous and the new location scans.
	Elapsed time.Duration
	// Created marks the transition that brought the entity into existence.
	Created bool
	// Stale marks an event that was appended for audit but did not move
	// current location or status.
	Stale bool
}

// UnknownEntityError is returned for an event whose tag has never checked
// in. The event is buffered for a grace period in case the check-in scan is
// merely late.
type UnknownEntityError struct {
	TagID string
}

func (err UnknownEntityError) Error() string {
	return fmt.Sprintf("no tracked entity for tag %s", err.TagID)
}

// SearchCriteria is the request body for entity search.
type SearchCriteria struct {
	Status            string `json:"status,omitempty"`
	ZoneID            string `json:"zone_id,omitempty"`
	ExternalReference string `json:"external_reference,omitempty"`
	IncludeArchived   bool   `json:"include_archived,omitempty"`
	Size              int    `json:"size,omitempty"`
}
