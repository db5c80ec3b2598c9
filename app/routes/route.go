/* Apache v2 license
*  Copyright (C) <2019> Intel Corporation
*
*  SPDX-License-Identifier: Apache-2.0
 */

package routes

import (
	"github.com/gorilla/mux"

	"github.com/intel/rsp-sw-toolkit-im-suite-baggage-tracking-service/app/alert"
	"github.com/intel/rsp-sw-toolkit-im-suite-baggage-tracking-service/app/config"
	"github.com/intel/rsp-sw-toolkit-im-suite-baggage-tracking-service/app/entity"
	"github.com/intel/rsp-sw-toolkit-im-suite-baggage-tracking-service/app/heartbeat"
	"github.com/intel/rsp-sw-toolkit-im-suite-baggage-tracking-service/app/routes/handlers"
	"github.com/intel/rsp-sw-toolkit-im-suite-baggage-tracking-service/app/sla"
	"github.com/intel/rsp-sw-toolkit-im-suite-baggage-tracking-service/pkg/middlewares"
	"github.com/intel/rsp-sw-toolkit-im-suite-baggage-tracking-service/pkg/mongodb"
	"github.com/intel/rsp-sw-toolkit-im-suite-baggage-tracking-service/pkg/web"
)

// Route struct holds attributes to declare routes
type Route struct {
	Name        string
	Method      string
	Pattern     string
	HandlerFunc web.Handler
}

// NewRouter creates the routes for GET, POST and PUT
func NewRouter(masterDB *mongodb.DB, store *entity.Store, sink *alert.Sink,
	aggregator *sla.Aggregator, readers *heartbeat.Registry, degraded func() bool, maxSize int) *mux.Router {

	tracking := handlers.Tracking{
		MasterDB:   masterDB,
		Store:      store,
		Sink:       sink,
		Aggregator: aggregator,
		Readers:    readers,
		Degraded:   degraded,
		MaxSize:    maxSize,
	}

	var routes = []Route{
		//swagger:operation GET / default Healthcheck
		//
		// Healthcheck Endpoint
		//
		// Endpoint that is used to determine if the application is ready to take web requests
		//
		// ---
		// consumes:
		// - application/json
		//
		// produces:
		// - application/json
		//
		// schemes:
		// - http
		//
		// responses:
		//   '200':
		//     description: OK
		//
		{
			"Index",
			"GET",
			"/",
			tracking.Index,
		},
		//swagger:route GET /tracking/entities/{tagId} entities getEntity
		//
		// Retrieves Entity Snapshot
		//
		// This API call is used to retrieve the live snapshot of a single tracked bag:
		// its current location, lifecycle status, deadlines and active alert ids. Bags
		// already archived out of live memory are served from durable storage. <br><br>
		//
		// /tracking/entities/BAG-000123
		//
		{
			"GetEntity",
			"GET",
			"/tracking/entities/{tagId}",
			tracking.GetEntity,
		},
		//swagger:route GET /tracking/entities/{tagId}/history entities getHistory
		//
		// Retrieves Entity Journey
		//
		// This API call is used to retrieve the ordered journey of a single bag: every
		// accepted observation with its zone, coordinates, timestamp and scan method. <br><br>
		//
		{
			"GetHistory",
			"GET",
			"/tracking/entities/{tagId}/history",
			tracking.GetHistory,
		},
		//swagger:route GET /tracking/entities/{tagId}/events entities getEvents
		//
		// Retrieves Raw Entity Events
		//
		// This API call is used to retrieve the raw accepted scan events for a bag
		// from the event log, oldest first. <br><br>
		//
		{
			"GetEvents",
			"GET",
			"/tracking/entities/{tagId}/events",
			tracking.GetEvents,
		},
		//swagger:route GET /tracking/entities/{tagId}/alerts alerts getAlerts
		//
		// Retrieves Entity Alerts
		//
		// This API call is used to retrieve the alerts raised for a bag, newest first. <br><br>
		//
		{
			"GetAlerts",
			"GET",
			"/tracking/entities/{tagId}/alerts",
			tracking.GetAlerts,
		},
		//swagger:route POST /tracking/search entities searchEntities
		//
		// Searches Tracked Entities
		//
		// This API call is used to search tracked bags by status, current zone or
		// external reference. Archived bags are excluded unless include_archived
		// is set. <br><br>
		//
		{
			"SearchEntities",
			"POST",
			"/tracking/search",
			tracking.SearchEntities,
		},
		//swagger:route POST /tracking/entities/{tagId}/deadlines entities setDeadline
		//
		// Sets Entity Deadline
		//
		// This API call is used to record a named deadline on a bag, such as a
		// connection cutoff used by missed-connection detection. <br><br>
		//
		{
			"SetDeadline",
			"POST",
			"/tracking/entities/{tagId}/deadlines",
			tracking.SetDeadline,
		},
		//swagger:route PUT /tracking/entities/{tagId}/flag entities flagEntity
		//
		// Flags Entity Delayed or Lost
		//
		// This API call is used to manually flag a bag as delayed or lost. These
		// statuses are only reachable through this endpoint, never from scans. <br><br>
		//
		{
			"FlagEntity",
			"PUT",
			"/tracking/entities/{tagId}/flag",
			tracking.FlagEntity,
		},
		//swagger:route PUT /tracking/alerts/{alertId}/resolution alerts resolveAlert
		//
		// Resolves an Alert
		//
		// This API call is used to mark an alert resolved. Resolution reopens the
		// per-bag suppression slot so the same alert type may fire again. <br><br>
		//
		{
			"ResolveAlert",
			"PUT",
			"/tracking/alerts/{alertId}/resolution",
			tracking.ResolveAlert,
		},
		//swagger:route GET /sla sla getSLA
		//
		// Retrieves SLA Snapshot
		//
		// This API call is used to retrieve the rolling service-level snapshot:
		// on-time rate, mishandling rate and average connection time. <br><br>
		//
		{
			"GetSLA",
			"GET",
			"/sla",
			tracking.GetSLA,
		},
		//swagger:route GET /tracking/readers readers getReaders
		//
		// Retrieves Reader Gateways
		//
		// This API call is used to retrieve the last-seen heartbeat times of the
		// scanner gateways. <br><br>
		//
		{
			"GetReaders",
			"GET",
			"/tracking/readers",
			tracking.GetReaders,
		},
		//swagger:route GET /metrics metrics getMetrics
		//
		// Retrieves Service Metrics
		//
		// This API call is used to dump the internal metrics registry. <br><br>
		//
		{
			"GetMetrics",
			"GET",
			"/metrics",
			tracking.GetMetrics,
		},
	}

	router := mux.NewRouter().StrictSlash(true)
	for _, route := range routes {

		var handler = route.HandlerFunc
		handler = middlewares.Recover(handler)
		handler = middlewares.Logger(handler)
		handler = middlewares.Bodylimiter(handler)
		if config.AppConfig.EnableCORS {
			handler = middlewares.CORS(config.AppConfig.CORSOrigin, handler)
		}

		router.
			Methods(route.Method).
			Path(route.Pattern).
			Name(route.Name).
			Handler(handler)
	}

	return router
}
