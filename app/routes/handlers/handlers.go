/* Apache v2 license
*  Copyright (C) <2019> Intel Corporation
*
*  SPDX-License-Identifier: Apache-2.0
 */

package handlers

import (
	"context"
	"encoding/json"
	"io/ioutil"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/intel/rsp-sw-toolkit-im-suite-baggage-tracking-service/app/alert"
	"github.com/intel/rsp-sw-toolkit-im-suite-baggage-tracking-service/app/entity"
	"github.com/intel/rsp-sw-toolkit-im-suite-baggage-tracking-service/app/eventlog"
	"github.com/intel/rsp-sw-toolkit-im-suite-baggage-tracking-service/app/heartbeat"
	"github.com/intel/rsp-sw-toolkit-im-suite-baggage-tracking-service/app/routes/schemas"
	"github.com/intel/rsp-sw-toolkit-im-suite-baggage-tracking-service/app/sla"
	"github.com/intel/rsp-sw-toolkit-im-suite-baggage-tracking-service/pkg/mongodb"
	"github.com/intel/rsp-sw-toolkit-im-suite-baggage-tracking-service/pkg/web"
	"github.com/intel/rsp-sw-toolkit-im-suite-utilities/go-metrics"
	"github.com/intel/rsp-sw-toolkit-im-suite-utilities/helper"
	"github.com/pkg/errors"
)

// Tracking represents the baggage tracking API method handler set.
type Tracking struct {
	MasterDB   *mongodb.DB
	Store      *entity.Store
	Sink       *alert.Sink
	Aggregator *sla.Aggregator
	Readers    *heartbeat.Registry
	// Degraded reports whether durable persistence is currently impaired;
	// responses carry the flag so consumers can judge freshness.
	Degraded func() bool
	MaxSize  int
}

func (tracking *Tracking) degraded() bool {
	return tracking.Degraded != nil && tracking.Degraded()
}

func (tracking *Tracking) envelope(results interface{}) web.Envelope {
	return web.Envelope{
		Results:  results,
		AsOf:     helper.UnixMilliNow(),
		Degraded: tracking.degraded(),
	}
}

// Index is used for Docker Healthcheck commands to indicate
// whether the http server is up and running to take requests
//nolint:unparam
func (tracking *Tracking) Index(ctx context.Context, writer http.ResponseWriter, request *http.Request) error {
	web.Respond(ctx, writer, "Baggage Tracking Service", http.StatusOK)
	return nil
}

// GetEntity returns the live snapshot for one bag.
// 200 OK, 404 Not Found, 500 Internal Error
func (tracking *Tracking) GetEntity(ctx context.Context, writer http.ResponseWriter, request *http.Request) error {

	metrics.GetOrRegisterGauge("Tracking.GetEntity.Attempt", nil).Update(1)
	startTime := time.Now()
	defer metrics.GetOrRegisterTimer("Tracking.GetEntity.Latency", nil).Update(time.Since(startTime))
	mSuccess := metrics.GetOrRegisterGauge("Tracking.GetEntity.Success", nil)

	tagID := mux.Vars(request)["tagId"]
	if tagID == "" {
		return errors.Wrap(web.ErrInvalidID, "missing tagId")
	}

	snapshot, err := tracking.lookup(tagID)
	if err != nil {
		return err
	}

	mSuccess.Update(1)
	web.Respond(ctx, writer, tracking.envelope(snapshot), http.StatusOK)
	return nil
}

// lookup reads the live store first, then falls back to durable storage
// for archived bags that are no longer held in memory.
func (tracking *Tracking) lookup(tagID string) (entity.TrackedEntity, error) {
	snapshot, err := tracking.Store.Snapshot(tagID)
	if err == nil {
		return snapshot, nil
	}
	if _, unknown := err.(entity.UnknownEntityError); !unknown {
		return entity.TrackedEntity{}, err
	}

	copySession := tracking.MasterDB.CopySession()
	defer copySession.Close()
	stored, dbErr := entity.FindByTagID(copySession, tagID)
	if dbErr != nil {
		return entity.TrackedEntity{}, errors.Wrap(dbErr, "error retrieving entity")
	}
	if stored == nil {
		return entity.TrackedEntity{}, errors.Wrap(web.ErrNotFound, err.Error())
	}
	return *stored, nil
}

// GetHistory returns the full journey for one bag.
// 200 OK, 404 Not Found, 500 Internal Error
func (tracking *Tracking) GetHistory(ctx context.Context, writer http.ResponseWriter, request *http.Request) error {

	metrics.GetOrRegisterGauge("Tracking.GetHistory.Attempt", nil).Update(1)
	mSuccess := metrics.GetOrRegisterGauge("Tracking.GetHistory.Success", nil)

	tagID := mux.Vars(request)["tagId"]
	if tagID == "" {
		return errors.Wrap(web.ErrInvalidID, "missing tagId")
	}

	snapshot, err := tracking.lookup(tagID)
	if err != nil {
		return err
	}

	mSuccess.Update(1)
	web.Respond(ctx, writer, tracking.envelope(snapshot.Journey), http.StatusOK)
	return nil
}

// GetEvents returns the raw accepted scans for one bag from the event log.
// 200 OK, 500 Internal Error
func (tracking *Tracking) GetEvents(ctx context.Context, writer http.ResponseWriter, request *http.Request) error {

	metrics.GetOrRegisterGauge("Tracking.GetEvents.Attempt", nil).Update(1)
	mSuccess := metrics.GetOrRegisterGauge("Tracking.GetEvents.Success", nil)

	tagID := mux.Vars(request)["tagId"]
	if tagID == "" {
		return errors.Wrap(web.ErrInvalidID, "missing tagId")
	}

	copySession := tracking.MasterDB.CopySession()
	defer copySession.Close()

	records, err := eventlog.FindByTagID(copySession, tagID, tracking.MaxSize)
	if err != nil {
		return errors.Wrap(err, "error retrieving events")
	}

	mSuccess.Update(1)
	web.Respond(ctx, writer, tracking.envelope(records), http.StatusOK)
	return nil
}

// GetAlerts returns the alerts raised for one bag, newest first.
// 200 OK, 500 Internal Error
func (tracking *Tracking) GetAlerts(ctx context.Context, writer http.ResponseWriter, request *http.Request) error {

	metrics.GetOrRegisterGauge("Tracking.GetAlerts.Attempt", nil).Update(1)
	mSuccess := metrics.GetOrRegisterGauge("Tracking.GetAlerts.Success", nil)

	tagID := mux.Vars(request)["tagId"]
	if tagID == "" {
		return errors.Wrap(web.ErrInvalidID, "missing tagId")
	}

	copySession := tracking.MasterDB.CopySession()
	defer copySession.Close()

	alerts, err := alert.FindByTagID(copySession, tagID, tracking.MaxSize)
	if err != nil {
		return errors.Wrap(err, "error retrieving alerts")
	}

	mSuccess.Update(1)
	web.Respond(ctx, writer, tracking.envelope(alerts), http.StatusOK)
	return nil
}

// SearchEntities retrieves entities matching the posted criteria.
// 200 OK, 400 Bad Request, 500 Internal Error
func (tracking *Tracking) SearchEntities(ctx context.Context, writer http.ResponseWriter, request *http.Request) error {

	metrics.GetOrRegisterGauge("Tracking.SearchEntities.Attempt", nil).Update(1)
	startTime := time.Now()
	defer metrics.GetOrRegisterTimer("Tracking.SearchEntities.Latency", nil).Update(time.Since(startTime))
	mSuccess := metrics.GetOrRegisterGauge("Tracking.SearchEntities.Success", nil)

	body, err := readAndValidate(request, schemas.SearchEntitiesSchema, ctx, writer)
	if err != nil || body == nil {
		return err
	}

	var criteria entity.SearchCriteria
	if err := json.Unmarshal(body, &criteria); err != nil {
		return errors.Wrap(web.ErrInvalidInput, err.Error())
	}
	if criteria.Size <= 0 || criteria.Size > tracking.MaxSize {
		criteria.Size = tracking.MaxSize
	}

	copySession := tracking.MasterDB.CopySession()
	defer copySession.Close()

	results, count, err := entity.Search(copySession, criteria)
	if err != nil {
		return errors.Wrap(err, "error searching entities")
	}

	mSuccess.Update(1)
	response := tracking.envelope(results)
	web.Respond(ctx, writer, struct {
		web.Envelope
		Count int `json:"count"`
	}{response, count}, http.StatusOK)
	return nil
}

// SetDeadline records a named deadline (e.g. a connection cutoff) on a bag.
// 200 OK, 400 Bad Request, 404 Not Found, 500 Internal Error
func (tracking *Tracking) SetDeadline(ctx context.Context, writer http.ResponseWriter, request *http.Request) error {

	metrics.GetOrRegisterGauge("Tracking.SetDeadline.Attempt", nil).Update(1)
	mSuccess := metrics.GetOrRegisterGauge("Tracking.SetDeadline.Success", nil)

	tagID := mux.Vars(request)["tagId"]
	if tagID == "" {
		return errors.Wrap(web.ErrInvalidID, "missing tagId")
	}

	body, err := readAndValidate(request, schemas.SetDeadlineSchema, ctx, writer)
	if err != nil || body == nil {
		return err
	}

	var payload struct {
		Name     string `json:"name"`
		Deadline int64  `json:"deadline"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return errors.Wrap(web.ErrInvalidInput, err.Error())
	}

	if err := tracking.Store.SetDeadline(tagID, payload.Name, payload.Deadline); err != nil {
		if _, unknown := err.(entity.UnknownEntityError); unknown {
			return errors.Wrap(web.ErrNotFound, err.Error())
		}
		return errors.Wrap(err, "error setting deadline")
	}

	mSuccess.Update(1)
	web.Respond(ctx, writer, nil, http.StatusOK)
	return nil
}

// FlagEntity applies a manual delayed or lost flag to a bag. These statuses
// are never derived from scans.
// 200 OK, 400 Bad Request, 404 Not Found, 500 Internal Error
func (tracking *Tracking) FlagEntity(ctx context.Context, writer http.ResponseWriter, request *http.Request) error {

	metrics.GetOrRegisterGauge("Tracking.FlagEntity.Attempt", nil).Update(1)
	mSuccess := metrics.GetOrRegisterGauge("Tracking.FlagEntity.Success", nil)

	tagID := mux.Vars(request)["tagId"]
	if tagID == "" {
		return errors.Wrap(web.ErrInvalidID, "missing tagId")
	}

	body, err := readAndValidate(request, schemas.FlagEntitySchema, ctx, writer)
	if err != nil || body == nil {
		return err
	}

	var payload struct {
		Status string `json:"status"`
		Reason string `json:"reason"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return errors.Wrap(web.ErrInvalidInput, err.Error())
	}

	var flagErr error
	switch payload.Status {
	case "delayed":
		flagErr = tracking.Store.MarkDelayed(tagID, payload.Reason)
	case "lost":
		flagErr = tracking.Store.MarkLost(tagID, payload.Reason)
	default:
		return errors.Wrap(web.ErrInvalidInput, "status must be delayed or lost")
	}
	if flagErr != nil {
		if _, unknown := flagErr.(entity.UnknownEntityError); unknown {
			return errors.Wrap(web.ErrNotFound, flagErr.Error())
		}
		return errors.Wrap(flagErr, "error flagging entity")
	}

	mSuccess.Update(1)
	web.Respond(ctx, writer, nil, http.StatusOK)
	return nil
}

// ResolveAlert marks one alert resolved and reopens its dedup slot.
// 200 OK, 404 Not Found, 500 Internal Error
func (tracking *Tracking) ResolveAlert(ctx context.Context, writer http.ResponseWriter, request *http.Request) error {

	metrics.GetOrRegisterGauge("Tracking.ResolveAlert.Attempt", nil).Update(1)
	mSuccess := metrics.GetOrRegisterGauge("Tracking.ResolveAlert.Success", nil)

	alertID := mux.Vars(request)["alertId"]
	if alertID == "" {
		return errors.Wrap(web.ErrInvalidID, "missing alertId")
	}

	// the resolution note body is optional, but a body that is present
	// must match the schema
	var note string
	body, err := ioutil.ReadAll(request.Body)
	if err != nil {
		return errors.Wrap(web.ErrInvalidInput, "unable to read request body")
	}
	if len(body) > 0 {
		validationResult, err := schemas.ValidateSchemaRequest(body, schemas.ResolveAlertSchema)
		if err != nil {
			return err
		}
		if !validationResult.Valid() {
			web.Respond(ctx, writer, schemas.BuildErrorsString(validationResult.Errors()), http.StatusBadRequest)
			return nil
		}
		var payload struct {
			Note string `json:"note"`
		}
		if err := json.Unmarshal(body, &payload); err != nil {
			return errors.Wrap(web.ErrInvalidInput, err.Error())
		}
		note = payload.Note
	}

	copySession := tracking.MasterDB.CopySession()
	defer copySession.Close()

	found, err := alert.FindByID(copySession, alertID)
	if err != nil {
		return errors.Wrap(err, "error retrieving alert")
	}
	if found == nil {
		return errors.Wrapf(web.ErrNotFound, "no alert %s", alertID)
	}

	if err := tracking.Sink.Resolve(alertID, helper.UnixMilliNow()); err != nil {
		return errors.Wrap(err, "error resolving alert")
	}

	if note != "" {
		if err := alert.SetResolutionNote(copySession, alertID, note); err != nil {
			return errors.Wrap(err, "error recording resolution note")
		}
	}

	// detach from the entity's active set; the entity may already be gone
	if resolveErr := tracking.Store.ResolveAlert(found.TagID, alertID); resolveErr != nil {
		if _, unknown := resolveErr.(entity.UnknownEntityError); !unknown {
			return errors.Wrap(resolveErr, "error detaching alert")
		}
	}

	mSuccess.Update(1)
	web.Respond(ctx, writer, nil, http.StatusOK)
	return nil
}

// GetSLA returns the rolling SLA snapshot.
// 200 OK
func (tracking *Tracking) GetSLA(ctx context.Context, writer http.ResponseWriter, request *http.Request) error {

	metrics.GetOrRegisterGauge("Tracking.GetSLA.Attempt", nil).Update(1)

	snapshot := tracking.Aggregator.Snapshot()
	web.Respond(ctx, writer, snapshot, http.StatusOK)
	return nil
}

// GetReaders returns the last-seen times of the scanner gateways.
// 200 OK
func (tracking *Tracking) GetReaders(ctx context.Context, writer http.ResponseWriter, request *http.Request) error {

	metrics.GetOrRegisterGauge("Tracking.GetReaders.Attempt", nil).Update(1)

	web.Respond(ctx, writer, tracking.envelope(tracking.Readers.Snapshot()), http.StatusOK)
	return nil
}

// GetMetrics dumps the metrics registry.
// 200 OK
func (tracking *Tracking) GetMetrics(ctx context.Context, writer http.ResponseWriter, request *http.Request) error {

	snapshot := make(map[string]interface{})
	metrics.DefaultRegistry.Each(func(name string, metric interface{}) {
		switch value := metric.(type) {
		case metrics.Gauge:
			snapshot[name] = value.Value()
		case metrics.GaugeFloat64:
			snapshot[name] = value.Value()
		case metrics.GaugeCollection:
			// the dropped/suppressed/error counters are all collections
			readings := value.Readings()
			var total int64
			for _, reading := range readings {
				total += reading.Reading
			}
			snapshot[name] = map[string]interface{}{
				"count": len(readings),
				"sum":   total,
			}
		case metrics.Counter:
			snapshot[name] = value.Count()
		case metrics.Timer:
			timer := value.Snapshot()
			snapshot[name] = map[string]interface{}{
				"count": timer.Count(),
				"mean":  timer.Mean(),
				"max":   timer.Max(),
			}
		}
	})

	if tracking.Store != nil {
		snapshot["EntityStore.DroppedEvents"] = tracking.Store.DroppedEvents()
	}
	if tracking.Sink != nil {
		snapshot["AlertSink.ActiveAlerts"] = tracking.Sink.ActiveCount()
	}
	if tracking.Aggregator != nil {
		snapshot["SLA.Snapshot"] = tracking.Aggregator.Snapshot()
	}

	web.Respond(ctx, writer, snapshot, http.StatusOK)
	return nil
}

// readAndValidate reads the request body and validates it against the
// schema. A nil body return with nil error means the validation response
// was already written.
func readAndValidate(request *http.Request, schema string, ctx context.Context, writer http.ResponseWriter) ([]byte, error) {
	body, err := ioutil.ReadAll(request.Body)
	if err != nil {
		return nil, errors.Wrap(web.ErrInvalidInput, "unable to read request body")
	}

	validationResult, err := schemas.ValidateSchemaRequest(body, schema)
	if err != nil {
		return nil, err
	}
	if !validationResult.Valid() {
		web.Respond(ctx, writer, schemas.BuildErrorsString(validationResult.Errors()), http.StatusBadRequest)
		return nil, nil
	}
	return body, nil
}
