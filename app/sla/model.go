/* Apache v2 license
*  Copyright (C) <2019> Intel Corporation
*
*  SPDX-License-Identifier: Apache-2.0
 */

package sla

import (
	"time"

	"github.com/intel/rsp-sw-toolkit-im-suite-baggage-tracking-service/app/entity"
)

// Sample is one completed journey folded into the rolling SLA windows.
type Sample struct {
	TagID string `json:"tag_id"`
	// OnTime means the bag made its aircraft within the connection threshold.
	OnTime bool `json:"on_time"`
	// Mishandled means at least one alert was raised during the journey.
	Mishandled bool `json:"mishandled"`
	// Loaded guards ConnectionTimeMinutes, a bag that never reached the
	// aircraft has no connection time.
	Loaded                bool    `json:"loaded"`
	ConnectionTimeMinutes float64 `json:"connection_time_minutes"`
}

// Metric is one SLA figure with its contractual target and alerting threshold.
type Metric struct {
	Current   float64 `json:"current"`
	Target    float64 `json:"target"`
	Threshold float64 `json:"threshold"`
	// Violated reflects the latch, it stays set until the metric recovers.
	Violated bool `json:"violated"`
}

// Snapshot is the queryable SLA state over the rolling window.
type Snapshot struct {
	WindowSize            int    `json:"window_size"`
	SampleCount           int    `json:"sample_count"`
	OnTimeRate            Metric `json:"on_time_rate"`
	MishandlingRate       Metric `json:"mishandling_rate"`
	AvgConnectionTimeMins Metric `json:"avg_connection_time_minutes"`
	AsOf                  int64  `json:"as_of"`
}

// SampleFromEntity folds a finished journey into a sample. The connection
// threshold defines on-time; a bag that never loaded is never on time.
func SampleFromEntity(ent entity.TrackedEntity, connectionThreshold time.Duration) Sample {
	sample := Sample{
		TagID:      ent.TagID,
		Mishandled: ent.TotalAlerts > 0,
	}
	if ent.LoadedAt > 0 && ent.CheckedInAt > 0 {
		sample.Loaded = true
		sample.ConnectionTimeMinutes = float64(ent.LoadedAt-ent.CheckedInAt) / 1000 / 60
		sample.OnTime = time.Duration(ent.LoadedAt-ent.CheckedInAt)*time.Millisecond <= connectionThreshold
	}
	return sample
}
