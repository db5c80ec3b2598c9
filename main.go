/* Apache v2 license
*  Copyright (C) <2019> Intel Corporation
*
*  SPDX-License-Identifier: Apache-2.0
 */

package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/globalsign/mgo"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/intel/rsp-sw-toolkit-im-suite-baggage-tracking-service/app/alert"
	"github.com/intel/rsp-sw-toolkit-im-suite-baggage-tracking-service/app/config"
	"github.com/intel/rsp-sw-toolkit-im-suite-baggage-tracking-service/app/entity"
	"github.com/intel/rsp-sw-toolkit-im-suite-baggage-tracking-service/app/eventlog"
	"github.com/intel/rsp-sw-toolkit-im-suite-baggage-tracking-service/app/heartbeat"
	"github.com/intel/rsp-sw-toolkit-im-suite-baggage-tracking-service/app/ingestor"
	"github.com/intel/rsp-sw-toolkit-im-suite-baggage-tracking-service/app/listener"
	"github.com/intel/rsp-sw-toolkit-im-suite-baggage-tracking-service/app/notification"
	"github.com/intel/rsp-sw-toolkit-im-suite-baggage-tracking-service/app/routes"
	"github.com/intel/rsp-sw-toolkit-im-suite-baggage-tracking-service/app/rules"
	"github.com/intel/rsp-sw-toolkit-im-suite-baggage-tracking-service/app/scheduler"
	"github.com/intel/rsp-sw-toolkit-im-suite-baggage-tracking-service/app/sla"
	"github.com/intel/rsp-sw-toolkit-im-suite-baggage-tracking-service/app/zonemap"
	"github.com/intel/rsp-sw-toolkit-im-suite-baggage-tracking-service/pkg/deadletter"
	"github.com/intel/rsp-sw-toolkit-im-suite-baggage-tracking-service/pkg/healthcheck"
	"github.com/intel/rsp-sw-toolkit-im-suite-baggage-tracking-service/pkg/mongodb"
	"github.com/intel/rsp-sw-toolkit-im-suite-utilities/go-metrics"
	reporter "github.com/intel/rsp-sw-toolkit-im-suite-utilities/go-metrics-influxdb"
	"github.com/intel/rsp-sw-toolkit-im-suite-utilities/helper"
)

func main() {

	mConfigurationError := metrics.GetOrRegisterGauge("Baggage.Main.ConfigurationError", nil)
	mDatabaseRegisterError := metrics.GetOrRegisterGauge("Baggage.Main.DatabaseRegisterError", nil)
	mDBIndexesError := metrics.GetOrRegisterGauge("Baggage.Main.DBIndexesError", nil)
	mZoneMapError := metrics.GetOrRegisterGauge("Baggage.Main.ZoneMapError", nil)
	mDeadLetterError := metrics.GetOrRegisterGauge("Baggage.Main.DeadLetterError", nil)
	mNotificationError := metrics.GetOrRegisterGauge("Baggage.Main.NotificationError", nil)
	mListenerError := metrics.GetOrRegisterGauge("Baggage.Main.ListenerError", nil)
	mRestoreError := metrics.GetOrRegisterGauge("Baggage.Main.RestoreError", nil)

	// Ensure simple text format
	log.SetFormatter(&log.TextFormatter{
		DisableColors: true,
		FullTimestamp: true,
	})

	// Load config variables
	err := config.InitConfig()
	fatalErrorHandler("unable to load configuration variables", err, &mConfigurationError)

	// Docker healthcheck entrypoint
	if len(os.Args) > 1 && os.Args[1] == "-isHealthy" {
		os.Exit(healthcheck.Healthcheck(config.AppConfig.Port))
	}

	// Initialize metrics reporting
	initMetrics()

	setLoggingLevel(config.AppConfig.LoggingLevel)

	log.WithFields(log.Fields{
		"Method": "main",
		"Action": "Start",
	}).Info("Starting baggage tracking service...")

	dbName := config.AppConfig.DatabaseName
	dbHost := config.AppConfig.ConnectionString + "/" + dbName

	// Connect to mongodb
	log.WithFields(log.Fields{
		"Method": "main",
		"Action": "Start",
		"Host":   config.AppConfig.DatabaseName,
	}).Info("Registering a new master db...")

	masterDB, err := mongodb.NewSession(dbHost, 5*time.Second)
	fatalErrorHandler("Unable to register a new master db.", err, &mDatabaseRegisterError)
	defer masterDB.Close()

	// Prepares database indexes
	prepDBErr := prepareDB(masterDB)
	errorHandler("error creating indexes", prepDBErr, &mDBIndexesError)

	// The zone topology is static per deployment; a bad map is fatal.
	topology, err := zonemap.Load(config.AppConfig.ZoneMapFile)
	fatalErrorHandler("unable to load zone topology", err, &mZoneMapError)

	deadLetters, err := deadletter.Open(config.AppConfig.DeadLetterPath)
	fatalErrorHandler("unable to open dead-letter store", err, &mDeadLetterError)
	defer func() {
		if closeErr := deadLetters.Close(); closeErr != nil {
			log.WithFields(log.Fields{
				"Method": "main",
				"Action": "shutdown",
				"Error":  closeErr.Error(),
			}).Error("error closing dead-letter store")
		}
	}()

	persister := entity.NewMongoPersister(masterDB, deadLetters, config.AppConfig.PersistRetryMax)

	publisher, err := notification.NewPublisher(config.AppConfig.AmqpURL, config.AppConfig.AlertExchange)
	fatalErrorHandler("unable to connect to the notification broker", err, &mNotificationError)
	defer publisher.Close()

	engine := rules.NewEngine(topology,
		time.Duration(config.AppConfig.StationaryThresholdMinutes)*time.Minute,
		time.Duration(config.AppConfig.SecurityHoldThresholdMinutes)*time.Minute)

	connectionThreshold := time.Duration(config.AppConfig.ConnectionThresholdMinutes) * time.Minute

	// The store's transition handler needs the sink and the aggregator,
	// which are built after the store; the closure captures the variables
	// and both are assigned before the first event can arrive.
	var alertSink *alert.Sink
	var aggregator *sla.Aggregator

	onTransition := func(transition entity.StateTransition) {
		for _, raised := range engine.Evaluate(transition) {
			alertSink.Record(raised)
		}
		if transition.New.IsTerminal() && !transition.Old.IsTerminal() {
			aggregator.AddSample(sla.SampleFromEntity(transition.New, connectionThreshold))
		}
	}

	store := entity.NewStore(topology, entity.Options{
		ShardCount:         config.AppConfig.ShardCount,
		QueueSize:          config.AppConfig.ShardQueueSize,
		BackpressurePolicy: config.AppConfig.BackpressurePolicy,
		UnknownTagGrace:    time.Duration(config.AppConfig.UnknownTagGraceMinutes) * time.Minute,
	}, persister, onTransition)
	defer store.Stop()

	alertSink = alert.NewSink(masterDB, publisher, store.AttachAlert,
		config.AppConfig.ShardQueueSize, config.AppConfig.NotifyRetryMax)
	defer alertSink.Stop()

	aggregator = sla.NewAggregator(config.AppConfig.SlaWindowSize, sla.Thresholds{
		OnTimeRateThreshold:      config.AppConfig.OnTimeRateThreshold,
		OnTimeRateTarget:         config.AppConfig.OnTimeRateTarget,
		MishandlingRateThreshold: config.AppConfig.MishandlingRateThreshold,
		ConnectionTimeTarget:     config.AppConfig.ConnectionTimeTarget,
	}, alertSink)

	warmBoot(masterDB, store, alertSink, &mRestoreError)

	readers := heartbeat.NewRegistry()

	maintenance := scheduler.New(store, engine, alertSink,
		time.Duration(config.AppConfig.TickIntervalSeconds)*time.Second,
		time.Duration(config.AppConfig.ArchiveSweepIntervalSeconds)*time.Second,
		time.Duration(config.AppConfig.TickSoftTimeoutMillis)*time.Millisecond,
		time.Duration(config.AppConfig.RetentionDays)*24*time.Hour)
	maintenance.WatchReaders(readers,
		time.Duration(config.AppConfig.ReaderStaleThresholdMinutes)*time.Minute)
	maintenance.WatchDeadLetters(persister, config.AppConfig.DeadLetterReplayBatch)
	maintenance.Start()
	defer maintenance.Stop()

	scanListener := buildListener(masterDB, store, readers)
	listenErr := scanListener.Start()
	fatalErrorHandler("unable to connect to the scan broker", listenErr, &mListenerError)
	defer scanListener.Stop()

	// Initiate webserver and routes
	startWebServer(masterDB, store, alertSink, aggregator, readers, persister.Degraded)

	log.WithField("Method", "main").Info("Completed.")
}

// warmBoot reloads the active entities and the unresolved alerts so that
// stationary timers and alert suppression survive a restart.
func warmBoot(masterDB *mongodb.DB, store *entity.Store, alertSink *alert.Sink, errorGauge *metrics.Gauge) {

	copySession := masterDB.CopySession()
	defer copySession.Close()

	active, err := entity.LoadActive(copySession)
	errorHandler("unable to restore active entities", err, errorGauge)
	store.Restore(active)

	unresolved, err := alert.FindUnresolved(copySession)
	errorHandler("unable to warm the alert cache", err, errorGauge)
	alertSink.Warm(unresolved)

	log.WithFields(log.Fields{
		"Method":   "warmBoot",
		"Entities": len(active),
		"Alerts":   len(unresolved),
	}).Info("Restored in-memory state from the database")
}

func buildListener(masterDB *mongodb.DB, store *entity.Store, readers *heartbeat.Registry) *listener.Listener {

	logEvent := func(event ingestor.LocationEvent) {
		copySession := masterDB.CopySession()
		defer copySession.Close()
		if err := eventlog.Append(copySession, event, helper.UnixMilliNow()); err != nil {
			log.WithFields(log.Fields{
				"Method": "main.logEvent",
				"TagID":  event.TagID,
				"Error":  err.Error(),
			}).Error("unable to append to the event log")
		}
	}

	onHeartbeat := func(payload []byte) {
		if err := readers.Process(payload); err != nil {
			log.WithFields(log.Fields{
				"Method": "main.onHeartbeat",
				"Error":  err.Error(),
			}).Warn("discarding bad heartbeat")
		}
	}

	return listener.New(
		config.AppConfig.MqttBroker,
		config.AppConfig.MqttClientID,
		config.AppConfig.ScanTopic,
		config.AppConfig.HeartbeatTopic,
		store.Submit,
		logEvent,
		onHeartbeat,
	)
}

func startWebServer(masterDB *mongodb.DB, store *entity.Store, alertSink *alert.Sink,
	aggregator *sla.Aggregator, readers *heartbeat.Registry, degraded func() bool) {

	// Start Webserver and pass additional data
	router := routes.NewRouter(masterDB, store, alertSink, aggregator, readers, degraded,
		config.AppConfig.ResponseLimit)

	// Create a new server and set timeout values.
	server := http.Server{
		Addr:           ":" + config.AppConfig.Port,
		Handler:        router,
		ReadTimeout:    time.Duration(config.AppConfig.ServerReadTimeOutSeconds) * time.Second,
		WriteTimeout:   time.Duration(config.AppConfig.ServerWriteTimeOutSeconds) * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	// We want to report the listener is closed.
	var wg sync.WaitGroup
	wg.Add(1)

	// Start the listener.
	go func() {
		log.Infof("%s running!", config.AppConfig.ServiceName)
		log.Infof("Listener closed : %v", server.ListenAndServe())
		wg.Done()
	}()

	// Listen for an interrupt signal from the OS.
	osSignals := make(chan os.Signal, 1)
	signal.Notify(osSignals, os.Interrupt, syscall.SIGTERM)

	// Wait for a signal to shutdown.
	<-osSignals

	// Create a context to attempt a graceful 5 second shutdown.
	const timeout = 5 * time.Second
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	// Attempt the graceful shutdown by closing the listener and
	// completing all inflight requests.
	if err := server.Shutdown(ctx); err != nil {

		log.WithFields(log.Fields{
			"Method":  "main",
			"Action":  "shutdown",
			"Timeout": timeout,
			"Message": err.Error(),
		}).Error("Graceful shutdown did not complete")

		// Looks like we timedout on the graceful shutdown. Kill it hard.
		if err := server.Close(); err != nil {
			log.WithFields(log.Fields{
				"Method":  "main",
				"Action":  "shutdown",
				"Message": err.Error(),
			}).Error("Error killing server")
		}
	}

	// Wait for the listener to report it is closed.
	wg.Wait()
}

// prepareDB prepares the database with indexes
func prepareDB(dbs *mongodb.DB) error {

	copySession := dbs.CopySession()
	defer copySession.Close()

	purgingDays := config.AppConfig.PurgingDays
	// Convert days into seconds
	purgingSeconds := purgingDays * 24 * 60 * 60

	indexes := make(map[string][]mgo.Index)

	// entities query indices
	indexes["entities"] = []mgo.Index{
		{
			Key:        []string{"tag_id"},
			Unique:     true,
			DropDups:   false,
			Background: false,
		},
		{
			Key:        []string{"last_updated"},
			Unique:     false,
			DropDups:   false,
			Background: false,
		},
		{
			Key:        []string{"current_location.zone_id"},
			Unique:     false,
			DropDups:   false,
			Background: false,
		},
		{
			Key:        []string{"external_reference"},
			Unique:     false,
			DropDups:   false,
			Background: false,
		},
		{
			Key:        []string{"archived"},
			Unique:     false,
			DropDups:   false,
			Background: false,
		},
	}
	// alerts query indices
	indexes["alerts"] = []mgo.Index{
		{
			Key:        []string{"id"},
			Unique:     true,
			DropDups:   false,
			Background: false,
		},
		{
			Key:        []string{"tag_id"},
			Unique:     false,
			DropDups:   false,
			Background: false,
		},
		{
			Key:        []string{"sent_on"},
			Unique:     false,
			DropDups:   false,
			Background: false,
		},
	}
	// events purging indices
	indexes["events"] = []mgo.Index{
		{
			Key:        []string{"tag_id"},
			Unique:     false,
			DropDups:   false,
			Background: false,
		},
		{
			Key:         []string{"ttl"},
			Unique:      false,
			DropDups:    false,
			Background:  false,
			ExpireAfter: time.Duration(purgingSeconds) * time.Second,
		},
	}

	for collectionName, indexes := range indexes {

		for _, index := range indexes {
			execFuncAddIndex := func(collection *mgo.Collection) error {
				log.Infof("Adding Index %s to collection %s.", index.Key[0], collection.Name)
				return collection.EnsureIndex(index)
			}

			execFuncDropIndex := func(collection *mgo.Collection) error {
				log.Infof("Dropping Index %s from collection %s in order to recreate it.", index.Key[0], collection.Name)
				return collection.DropIndex(index.Key[0])
			}

			if err := copySession.Execute(collectionName, execFuncAddIndex); err != nil {
				// Couldn't add the index so drop it and try to add it again, if that doesn't work exit.
				log.Errorf("Unable to add Index %v to collection %s %s", index, collectionName, err.Error())

				// try to drop the index
				if err := copySession.Execute(collectionName, execFuncDropIndex); err != nil {
					log.Errorf("Unable to drop Index %v to collection %s %s", index, collectionName, err.Error())
				}

				// try to add the index after it's been dropped
				if err := copySession.Execute(collectionName, execFuncAddIndex); err != nil {
					return errors.Wrapf(err, "Unable to add Index %v to collection %s", index, collectionName)
				}
			}
		}
	}
	log.WithFields(log.Fields{
		"Method": "config.PrepareDB",
		"Action": "Start",
	}).Info("Prepared database indexes...")

	return nil
}

func initMetrics() {
	// setup metrics reporting
	if config.AppConfig.TelemetryEndpoint != "" {
		go reporter.InfluxDBWithTags(
			metrics.DefaultRegistry,
			time.Second*10, //cfg.ReportingInterval,
			config.AppConfig.TelemetryEndpoint,
			config.AppConfig.TelemetryDataStoreName,
			"",
			"",
			nil,
		)
	}
}
