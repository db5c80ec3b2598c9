/* Apache v2 license
*  Copyright (C) <2019> Intel Corporation
*
*  SPDX-License-Identifier: Apache-2.0
 */

package alert

// Alert types raised by the rule engine and the SLA aggregator.
const (
	TypeStationary       = "StationaryAlert"
	TypeWrongZone        = "WrongZoneAlert"
	TypeMissedConnection = "MissedConnectionAlert"
	TypeSecurityHold     = "SecurityHoldAlert"
	TypeSLAViolation     = "SLAViolation"
)

// Alert severities, lowest to highest.
const (
	SeverityInfo     = "info"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// Alert is one operational notification about a bag or the facility. The
// sink assigns the ID and persists the alert before any delivery attempt.
type Alert struct {
	ID       string `json:"id" bson:"id"`
	TagID    string `json:"tag_id" bson:"tag_id"`
	Type     string `json:"alert_type" bson:"alert_type"`
	Severity string `json:"severity" bson:"severity"`
	Message  string `json:"message" bson:"message"`
	// TriggeringZoneID is where the bag was when the rule fired.
	TriggeringZoneID string `json:"triggering_zone_id" bson:"triggering_zone_id"`
	// SentOn is the raise time, milliseconds epoch.
	SentOn     int64                  `json:"sent_on" bson:"sent_on"`
	Optional   map[string]interface{} `json:"optional,omitempty" bson:"optional,omitempty"`
	Resolved   bool                   `json:"resolved" bson:"resolved"`
	ResolvedOn int64                  `json:"resolved_on,omitempty" bson:"resolved_on,omitempty"`
	// ResolutionNote is free text supplied by whoever resolved the alert.
	ResolutionNote string `json:"resolution_note,omitempty" bson:"resolution_note,omitempty"`
}
