/* Apache v2 license
*  Copyright (C) <2019> Intel Corporation
*
*  SPDX-License-Identifier: Apache-2.0
 */

package ingestor

import "fmt"

// RawScanMessage is the provider payload carried on the scan topic.
type RawScanMessage struct {
	// TagID is the bag tag identifier printed on the RFID label
	TagID string `json:"tagId"`
	// ZoneID is the facility zone the reader is mounted in
	ZoneID string `json:"zoneId"`
	// Timestamp of the read in milliseconds epoch
	Timestamp int64 `json:"timestamp"`
	// ScanType is the provider specific read vocabulary
	ScanType string `json:"scanType"`
	// ReaderID identifies the reader or the staff device that produced the read
	ReaderID string `json:"readerId"`
	// SignalStrength is the optional raw RSSI of the read
	SignalStrength *float64 `json:"signalStrength,omitempty"`
	// Metadata carries provider extras (flight number, connection deadline, ...)
	Metadata map[string]string `json:"metadata,omitempty"`
}

// LocationEvent is the canonical, immutable event produced by the ingestor.
type LocationEvent struct {
	TagID       string            `json:"tag_id" bson:"tag_id"`
	ZoneID      string            `json:"zone_id" bson:"zone_id"`
	Timestamp   int64             `json:"timestamp" bson:"timestamp"`
	Method      string            `json:"method" bson:"method"`
	ActorID     string            `json:"actor_id" bson:"actor_id"`
	RawMetadata map[string]string `json:"raw_metadata,omitempty" bson:"raw_metadata,omitempty"`

	// ConnectionDeadline is extracted from metadata when the provider knows
	// the onward flight cut-off. Zero when absent. Milliseconds epoch.
	ConnectionDeadline int64 `json:"connection_deadline,omitempty" bson:"connection_deadline,omitempty"`

	// Override marks a manual correction that may supersede newer data.
	Override bool `json:"override,omitempty" bson:"override,omitempty"`
}

// IngestError is returned for malformed provider messages. Malformed input
// is counted and dropped; it never halts the stream.
type IngestError struct {
	Reason string
}

func (err IngestError) Error() string {
	return fmt.Sprintf("ingest error: %s", err.Reason)
}
