/* Apache v2 license
*  Copyright (C) <2019> Intel Corporation
*
*  SPDX-License-Identifier: Apache-2.0
 */

package ingestor

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/intel/rsp-sw-toolkit-im-suite-baggage-tracking-service/app/config"
	"github.com/intel/rsp-sw-toolkit-im-suite-baggage-tracking-service/pkg/statemodel"
	"github.com/intel/rsp-sw-toolkit-im-suite-utilities/go-metrics"
	"github.com/intel/rsp-sw-toolkit-im-suite-utilities/helper"
	log "github.com/sirupsen/logrus"
)

// metadata keys recognized on inbound messages
const (
	metaConnectionDeadline = "connection_deadline"
	metaOverride           = "override"
)

// scanTypeVocab maps every known provider scan vocabulary to the canonical
// method. Providers disagree on naming; the table is the single place the
// disagreement lives.
var scanTypeVocab = map[string]string{
	"entry":           statemodel.MethodEntry,
	"zone_entry":      statemodel.MethodEntry,
	"gate_in":         statemodel.MethodEntry,
	"exit":            statemodel.MethodExit,
	"zone_exit":       statemodel.MethodExit,
	"gate_out":        statemodel.MethodExit,
	"checkpoint":      statemodel.MethodCheckpoint,
	"rfid_read":       statemodel.MethodCheckpoint,
	"scan":            statemodel.MethodCheckpoint,
	"load":            statemodel.MethodLoad,
	"belt_load":       statemodel.MethodLoad,
	"aircraft_load":   statemodel.MethodLoad,
	"manual":          statemodel.MethodManual,
	"manual_override": statemodel.MethodManual,
	"handheld":        statemodel.MethodManual,
}

// Normalize validates a raw provider payload and maps it to a canonical
// LocationEvent. It is stateless; pushing the event downstream is the
// caller's responsibility.
func Normalize(payload []byte) (LocationEvent, error) {

	metrics.GetOrRegisterGaugeCollection(`Baggage.Normalize.Attempt`, nil).Add(1)
	mSuccess := metrics.GetOrRegisterGaugeCollection(`Baggage.Normalize.Success`, nil)
	mMalformed := metrics.GetOrRegisterGaugeCollection(`Baggage.Normalize.Malformed`, nil)

	var raw RawScanMessage
	decoder := json.NewDecoder(strings.NewReader(string(payload)))
	decoder.UseNumber()
	if err := decoder.Decode(&raw); err != nil {
		mMalformed.Add(1)
		return LocationEvent{}, IngestError{Reason: "payload is not valid JSON: " + err.Error()}
	}

	if err := validate(&raw); err != nil {
		mMalformed.Add(1)
		return LocationEvent{}, err
	}

	method, found := scanTypeVocab[strings.ToLower(raw.ScanType)]
	if !found {
		mMalformed.Add(1)
		return LocationEvent{}, IngestError{Reason: "unknown scanType " + raw.ScanType}
	}

	event := LocationEvent{
		TagID:       raw.TagID,
		ZoneID:      raw.ZoneID,
		Timestamp:   raw.Timestamp,
		Method:      method,
		ActorID:     raw.ReaderID,
		RawMetadata: raw.Metadata,
	}

	if deadline, ok := raw.Metadata[metaConnectionDeadline]; ok {
		millis, err := strconv.ParseInt(deadline, 10, 64)
		if err != nil {
			log.WithFields(log.Fields{
				"Method": "ingestor.Normalize",
				"TagID":  raw.TagID,
				"Value":  deadline,
			}).Warning("Ignoring unparsable connection_deadline")
		} else {
			event.ConnectionDeadline = millis
		}
	}
	if override, ok := raw.Metadata[metaOverride]; ok && override == "true" {
		event.Override = true
	}

	mSuccess.Add(1)
	return event, nil
}

func validate(raw *RawScanMessage) error {
	if raw.TagID == "" {
		return IngestError{Reason: "missing required field tagId"}
	}
	if raw.ZoneID == "" {
		return IngestError{Reason: "missing required field zoneId"}
	}
	if raw.Timestamp <= 0 {
		return IngestError{Reason: "missing or non-positive timestamp"}
	}
	if raw.ScanType == "" {
		return IngestError{Reason: "missing required field scanType"}
	}

	skew := time.Duration(config.AppConfig.FutureSkewMinutes) * time.Minute
	if skew <= 0 {
		skew = 5 * time.Minute
	}
	if raw.Timestamp > helper.UnixMilliNow()+int64(skew/time.Millisecond) {
		return IngestError{Reason: "timestamp too far in the future"}
	}
	return nil
}
