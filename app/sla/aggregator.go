/* Apache v2 license
*  Copyright (C) <2019> Intel Corporation
*
*  SPDX-License-Identifier: Apache-2.0
 */

package sla

import (
	"fmt"
	"sync"

	"github.com/intel/rsp-sw-toolkit-im-suite-baggage-tracking-service/app/alert"
	"github.com/intel/rsp-sw-toolkit-im-suite-utilities/go-metrics"
	"github.com/intel/rsp-sw-toolkit-im-suite-utilities/helper"
	log "github.com/sirupsen/logrus"
)

// AlertSink is the slice of the alert sink the aggregator needs.
type AlertSink interface {
	Record(draft alert.Alert) string
	Resolve(alertID string, resolvedOn int64) error
}

// Thresholds carries the SLA contract figures.
type Thresholds struct {
	// OnTimeRateThreshold in percent; strictly below raises a violation.
	OnTimeRateThreshold float64
	OnTimeRateTarget    float64
	// MishandlingRateThreshold in percent; strictly above raises a violation.
	MishandlingRateThreshold float64
	// ConnectionTimeTarget in minutes, reported for context only.
	ConnectionTimeTarget float64
}

// Aggregator folds completed journeys into fixed-size rolling windows and
// raises latched SLA violations through the alert sink. A violation fires
// once when the metric crosses its threshold and re-arms only after the
// metric recovers.
type Aggregator struct {
	mutex sync.Mutex

	onTime         *circularBuffer
	mishandled     *circularBuffer
	connectionTime *circularBuffer
	sampleCount    int

	thresholds Thresholds
	sink       AlertSink

	onTimeViolationID      string
	mishandlingViolationID string
}

// NewAggregator builds the rolling windows; sink may be nil.
func NewAggregator(windowSize int, thresholds Thresholds, sink AlertSink) *Aggregator {
	if windowSize < 1 {
		windowSize = 1
	}
	return &Aggregator{
		onTime:         newCircularBuffer(windowSize),
		mishandled:     newCircularBuffer(windowSize),
		connectionTime: newCircularBuffer(windowSize),
		thresholds:     thresholds,
		sink:           sink,
	}
}

// AddSample folds one completed journey in and re-evaluates the latches.
func (aggregator *Aggregator) AddSample(sample Sample) {
	metrics.GetOrRegisterGauge(`SLA.AddSample.Attempt`, nil).Update(1)

	aggregator.mutex.Lock()
	defer aggregator.mutex.Unlock()

	aggregator.sampleCount++
	aggregator.onTime.addValue(boolToFloat(sample.OnTime))
	aggregator.mishandled.addValue(boolToFloat(sample.Mishandled))
	if sample.Loaded {
		aggregator.connectionTime.addValue(sample.ConnectionTimeMinutes)
	}

	aggregator.evaluateOnTime()
	aggregator.evaluateMishandling()
}

// evaluateOnTime runs under the aggregator mutex.
func (aggregator *Aggregator) evaluateOnTime() {
	rate := aggregator.onTime.getRate()
	metrics.GetOrRegisterGaugeFloat64(`SLA.OnTimeRate.Current`, nil).Update(rate)

	// a part-filled window is all noise; one late bag among the first few
	// samples must not trip the latch
	if aggregator.onTime.getN() < aggregator.onTime.windowSize {
		return
	}

	if rate < aggregator.thresholds.OnTimeRateThreshold {
		if aggregator.onTimeViolationID != "" || aggregator.sink == nil {
			return
		}
		aggregator.onTimeViolationID = aggregator.sink.Record(alert.Alert{
			TagID:    "sla:onTimeRate",
			Type:     alert.TypeSLAViolation,
			Severity: alert.SeverityCritical,
			Message: fmt.Sprintf("on-time rate %.1f%% fell below the %.1f%% threshold",
				rate, aggregator.thresholds.OnTimeRateThreshold),
			Optional: map[string]interface{}{
				"metric":    "onTimeRate",
				"current":   rate,
				"threshold": aggregator.thresholds.OnTimeRateThreshold,
				"target":    aggregator.thresholds.OnTimeRateTarget,
			},
		})
		log.WithFields(log.Fields{
			"Method":    "Aggregator.evaluateOnTime",
			"Current":   rate,
			"Threshold": aggregator.thresholds.OnTimeRateThreshold,
		}).Warn("on-time rate SLA violated")
		return
	}

	if aggregator.onTimeViolationID != "" {
		aggregator.recover(aggregator.onTimeViolationID, "onTimeRate", rate)
		aggregator.onTimeViolationID = ""
	}
}

// evaluateMishandling runs under the aggregator mutex.
func (aggregator *Aggregator) evaluateMishandling() {
	rate := aggregator.mishandled.getRate()
	metrics.GetOrRegisterGaugeFloat64(`SLA.MishandlingRate.Current`, nil).Update(rate)

	if aggregator.mishandled.getN() < aggregator.mishandled.windowSize {
		return
	}

	if rate > aggregator.thresholds.MishandlingRateThreshold {
		if aggregator.mishandlingViolationID != "" || aggregator.sink == nil {
			return
		}
		aggregator.mishandlingViolationID = aggregator.sink.Record(alert.Alert{
			TagID:    "sla:mishandlingRate",
			Type:     alert.TypeSLAViolation,
			Severity: alert.SeverityHigh,
			Message: fmt.Sprintf("mishandling rate %.1f%% exceeded the %.1f%% threshold",
				rate, aggregator.thresholds.MishandlingRateThreshold),
			Optional: map[string]interface{}{
				"metric":    "mishandlingRate",
				"current":   rate,
				"threshold": aggregator.thresholds.MishandlingRateThreshold,
			},
		})
		log.WithFields(log.Fields{
			"Method":    "Aggregator.evaluateMishandling",
			"Current":   rate,
			"Threshold": aggregator.thresholds.MishandlingRateThreshold,
		}).Warn("mishandling rate SLA violated")
		return
	}

	if aggregator.mishandlingViolationID != "" {
		aggregator.recover(aggregator.mishandlingViolationID, "mishandlingRate", rate)
		aggregator.mishandlingViolationID = ""
	}
}

func (aggregator *Aggregator) recover(alertID, metric string, rate float64) {
	if err := aggregator.sink.Resolve(alertID, helper.UnixMilliNow()); err != nil {
		log.WithFields(log.Fields{
			"Method":  "Aggregator.recover",
			"AlertID": alertID,
			"Metric":  metric,
			"Error":   err.Error(),
		}).Error("unable to resolve recovered SLA violation")
		return
	}
	log.WithFields(log.Fields{
		"Method":  "Aggregator.recover",
		"Metric":  metric,
		"Current": rate,
	}).Info("SLA metric recovered")
}

// Snapshot returns the current SLA state for the query API.
func (aggregator *Aggregator) Snapshot() Snapshot {
	aggregator.mutex.Lock()
	defer aggregator.mutex.Unlock()

	return Snapshot{
		WindowSize:  aggregator.onTime.windowSize,
		SampleCount: aggregator.sampleCount,
		OnTimeRate: Metric{
			Current:   aggregator.onTime.getRate(),
			Target:    aggregator.thresholds.OnTimeRateTarget,
			Threshold: aggregator.thresholds.OnTimeRateThreshold,
			Violated:  aggregator.onTimeViolationID != "",
		},
		MishandlingRate: Metric{
			Current:   aggregator.mishandled.getRate(),
			Threshold: aggregator.thresholds.MishandlingRateThreshold,
			Violated:  aggregator.mishandlingViolationID != "",
		},
		AvgConnectionTimeMins: Metric{
			Current: aggregator.connectionTime.getMean(),
			Target:  aggregator.thresholds.ConnectionTimeTarget,
		},
		AsOf: helper.UnixMilliNow(),
	}
}

func boolToFloat(value bool) float64 {
	if value {
		return 1
	}
	return 0
}
