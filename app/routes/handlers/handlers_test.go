/* Apache v2 license
*  Copyright (C) <2019> Intel Corporation
*
*  SPDX-License-Identifier: Apache-2.0
 */

package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/intel/rsp-sw-toolkit-im-suite-baggage-tracking-service/app/alert"
	"github.com/intel/rsp-sw-toolkit-im-suite-baggage-tracking-service/app/heartbeat"
	"github.com/intel/rsp-sw-toolkit-im-suite-baggage-tracking-service/app/sla"
	"github.com/intel/rsp-sw-toolkit-im-suite-baggage-tracking-service/pkg/web"
	"github.com/intel/rsp-sw-toolkit-im-suite-utilities/go-metrics"
)

type stubSink struct{}

func (stubSink) Record(draft alert.Alert) string             { return "stub" }
func (stubSink) Resolve(alertID string, resolvedOn int64) error { return nil }

func testContext() context.Context {
	values := web.ContextValues{
		TraceID:    "test",
		Method:     "GET",
		RequestURI: "/test",
		Now:        time.Now(),
	}
	return context.WithValue(context.Background(), web.KeyValues, &values)
}

func TestIndexReturnsBanner(t *testing.T) {
	tracking := Tracking{}
	recorder := httptest.NewRecorder()
	request := httptest.NewRequest("GET", "/", nil)

	if err := tracking.Index(testContext(), recorder, request); err != nil {
		t.Errorf("Failed. Received error %v", err)
	}
	if recorder.Code != http.StatusOK {
		t.Errorf("Failed. Expected %d, Received %d", http.StatusOK, recorder.Code)
	}
}

func TestGetSLAReturnsSnapshot(t *testing.T) {
	aggregator := sla.NewAggregator(10, sla.Thresholds{
		OnTimeRateThreshold:      97.0,
		OnTimeRateTarget:         98.5,
		MishandlingRateThreshold: 2.0,
		ConnectionTimeTarget:     35.0,
	}, stubSink{})
	aggregator.AddSample(sla.Sample{TagID: "BAG-1", OnTime: true, Loaded: true, ConnectionTimeMinutes: 30})

	tracking := Tracking{Aggregator: aggregator}
	recorder := httptest.NewRecorder()
	request := httptest.NewRequest("GET", "/sla", nil)

	if err := tracking.GetSLA(testContext(), recorder, request); err != nil {
		t.Errorf("Failed. Received error %v", err)
	}

	var snapshot sla.Snapshot
	if err := json.Unmarshal(recorder.Body.Bytes(), &snapshot); err != nil {
		t.Fatalf("Failed to unmarshal response: %v", err)
	}
	if snapshot.SampleCount != 1 {
		t.Errorf("Failed. Expected %d, Received %d", 1, snapshot.SampleCount)
	}
}

func TestGetReadersReturnsLastSeen(t *testing.T) {
	readers := heartbeat.NewRegistry()
	if err := readers.Process([]byte(`{"reader_id":"gateway-1","sent_on":1000}`)); err != nil {
		t.Fatalf("Failed to process heartbeat: %v", err)
	}

	tracking := Tracking{Readers: readers}
	recorder := httptest.NewRecorder()
	request := httptest.NewRequest("GET", "/tracking/readers", nil)

	if err := tracking.GetReaders(testContext(), recorder, request); err != nil {
		t.Errorf("Failed. Received error %v", err)
	}

	var envelope struct {
		Results map[string]int64 `json:"results"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("Failed to unmarshal response: %v", err)
	}
	if envelope.Results["gateway-1"] != 1000 {
		t.Errorf("Failed. Expected %d, Received %d", 1000, envelope.Results["gateway-1"])
	}
}

func TestGetMetricsIncludesRegisteredGauges(t *testing.T) {
	metrics.GetOrRegisterGauge("Tracking.Test.Gauge", nil).Update(7)

	tracking := Tracking{}
	recorder := httptest.NewRecorder()
	request := httptest.NewRequest("GET", "/metrics", nil)

	if err := tracking.GetMetrics(testContext(), recorder, request); err != nil {
		t.Errorf("Failed. Received error %v", err)
	}

	var snapshot map[string]interface{}
	if err := json.Unmarshal(recorder.Body.Bytes(), &snapshot); err != nil {
		t.Fatalf("Failed to unmarshal response: %v", err)
	}
	if _, found := snapshot["Tracking.Test.Gauge"]; !found {
		t.Errorf("Failed. Expected gauge %s in metrics dump", "Tracking.Test.Gauge")
	}
}

// The dropped/suppressed/error counters are gauge collections; the dump
// must carry them along with the SLA snapshot.
func TestGetMetricsIncludesCollectionsAndSLA(t *testing.T) {
	metrics.GetOrRegisterGaugeCollection("Tracking.Test.Counts", nil).Add(3)

	aggregator := sla.NewAggregator(10, sla.Thresholds{
		OnTimeRateThreshold:      97.0,
		MishandlingRateThreshold: 2.0,
	}, stubSink{})

	tracking := Tracking{Aggregator: aggregator}
	recorder := httptest.NewRecorder()
	request := httptest.NewRequest("GET", "/metrics", nil)

	if err := tracking.GetMetrics(testContext(), recorder, request); err != nil {
		t.Errorf("Failed. Received error %v", err)
	}

	var snapshot map[string]interface{}
	if err := json.Unmarshal(recorder.Body.Bytes(), &snapshot); err != nil {
		t.Fatalf("Failed to unmarshal response: %v", err)
	}
	if _, found := snapshot["Tracking.Test.Counts"]; !found {
		t.Errorf("Failed. Expected collection %s in metrics dump", "Tracking.Test.Counts")
	}
	if _, found := snapshot["SLA.Snapshot"]; !found {
		t.Error("Failed. Expected the SLA snapshot in the metrics dump")
	}
}

func TestSearchEntitiesRejectsUnknownFields(t *testing.T) {
	tracking := Tracking{MaxSize: 100}
	recorder := httptest.NewRecorder()
	request := httptest.NewRequest("POST", "/tracking/search",
		bytes.NewBufferString(`{"bogus": true}`))

	if err := tracking.SearchEntities(testContext(), recorder, request); err != nil {
		t.Errorf("Failed. Received error %v", err)
	}
	if recorder.Code != http.StatusBadRequest {
		t.Errorf("Failed. Expected %d, Received %d", http.StatusBadRequest, recorder.Code)
	}
}

func TestSearchEntitiesRejectsEmptyBody(t *testing.T) {
	tracking := Tracking{MaxSize: 100}
	recorder := httptest.NewRecorder()
	request := httptest.NewRequest("POST", "/tracking/search", nil)

	if err := tracking.SearchEntities(testContext(), recorder, request); err == nil {
		t.Error("Failed. Expected error for empty body, Received nil")
	}
}

func TestFlagEntityRejectsUnknownStatus(t *testing.T) {
	tracking := Tracking{MaxSize: 100}
	recorder := httptest.NewRecorder()
	request := httptest.NewRequest("PUT", "/tracking/entities/BAG-1/flag",
		bytes.NewBufferString(`{"status": "exploded"}`))
	request = mux.SetURLVars(request, map[string]string{"tagId": "BAG-1"})

	if err := tracking.FlagEntity(testContext(), recorder, request); err != nil {
		t.Errorf("Failed. Received error %v", err)
	}
	if recorder.Code != http.StatusBadRequest {
		t.Errorf("Failed. Expected %d, Received %d", http.StatusBadRequest, recorder.Code)
	}
}

func TestResolveAlertRejectsUnknownBodyField(t *testing.T) {
	tracking := Tracking{MaxSize: 100}
	recorder := httptest.NewRecorder()
	request := httptest.NewRequest("PUT", "/tracking/alerts/alert-1/resolution",
		bytes.NewBufferString(`{"remark": "found on carousel 4"}`))
	request = mux.SetURLVars(request, map[string]string{"alertId": "alert-1"})

	if err := tracking.ResolveAlert(testContext(), recorder, request); err != nil {
		t.Errorf("Failed. Received error %v", err)
	}
	if recorder.Code != http.StatusBadRequest {
		t.Errorf("Failed. Expected %d, Received %d", http.StatusBadRequest, recorder.Code)
	}
}
