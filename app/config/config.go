/* Apache v2 license
*  Copyright (C) <2019> Intel Corporation
*
*  SPDX-License-Identifier: Apache-2.0
 */

package config

import (
	"strconv"

	"github.com/intel/rsp-sw-toolkit-im-suite-utilities/configuration"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const (
	maxServerReadTimeoutSeconds  = 1800
	maxServerWriteTimeoutSeconds = 1800
)

// Backpressure policies for the per-tag shard queues.
const (
	BackpressureBlock      = "block"
	BackpressureDropOldest = "drop-oldest"
)

type (
	variables struct {
		ServiceName, LoggingLevel, Port string

		// Mongo connection
		ConnectionString, DatabaseName string

		// Inbound MQTT scan stream
		MqttBroker, MqttClientID, ScanTopic, HeartbeatTopic string

		// Outbound alert notifications
		AmqpURL, AlertExchange string

		// Local dead-letter store
		DeadLetterPath string

		// Zone topology file
		ZoneMapFile string

		TelemetryEndpoint, TelemetryDataStoreName string

		ServerReadTimeOutSeconds  int
		ServerWriteTimeOutSeconds int
		ResponseLimit             int
		EnableCORS                bool
		CORSOrigin                string

		// Sharded dispatcher
		ShardCount         int
		ShardQueueSize     int
		BackpressurePolicy string

		// Rule thresholds, minutes unless noted
		StationaryThresholdMinutes   int
		SecurityHoldThresholdMinutes int
		ConnectionThresholdMinutes   int
		FutureSkewMinutes            int
		UnknownTagGraceMinutes       int

		// Maintenance scheduler
		TickIntervalSeconds         int
		ArchiveSweepIntervalSeconds int
		TickSoftTimeoutMillis       int
		RetentionDays               int
		PurgingDays                 int
		ReaderStaleThresholdMinutes int
		DeadLetterReplayBatch       int

		// SLA aggregation
		SlaWindowSize           int
		OnTimeRateThreshold     float64
		OnTimeRateTarget        float64
		MishandlingRateThreshold float64
		ConnectionTimeTarget    float64

		// Persistence / notification retry
		PersistRetryMax int
		NotifyRetryMax  int
	}
)

// AppConfig exports all config variables
var AppConfig variables

// InitConfig loads application variables
// nolint :gocyclo
func InitConfig() error {
	AppConfig = variables{}

	config, err := configuration.NewConfiguration()
	if err != nil {
		return errors.Wrapf(err, "Unable to load config variables: %s", err.Error())
	}

	AppConfig.ServiceName, err = config.GetString("serviceName")
	if err != nil {
		return errors.Wrapf(err, "Unable to load config variables: %s", err.Error())
	}

	AppConfig.ConnectionString, err = config.GetString("connectionString")
	if err != nil {
		return errors.Wrapf(err, "Unable to load config variables: %s", err.Error())
	}

	AppConfig.DatabaseName, err = config.GetString("databaseName")
	if err != nil {
		return errors.Wrapf(err, "Unable to load config variables: %s", err.Error())
	}

	AppConfig.Port, err = config.GetString("port")
	if err != nil {
		return errors.Wrapf(err, "Unable to load config variables: %s", err.Error())
	}

	// Set "debug" for development purposes. Nil or "" for Production.
	AppConfig.LoggingLevel, err = config.GetString("loggingLevel")
	if err != nil {
		return errors.Wrapf(err, "Unable to load config variables: %s", err.Error())
	}

	AppConfig.MqttBroker, err = config.GetString("mqttBroker")
	if err != nil {
		return errors.Wrapf(err, "Unable to load config variables: %s", err.Error())
	}

	AppConfig.ScanTopic, err = config.GetString("scanTopic")
	if err != nil {
		return errors.Wrapf(err, "Unable to load config variables: %s", err.Error())
	}

	AppConfig.AmqpURL, err = config.GetString("amqpURL")
	if err != nil {
		return errors.Wrapf(err, "Unable to load config variables: %s", err.Error())
	}

	AppConfig.ZoneMapFile, err = config.GetString("zoneMapFile")
	if err != nil {
		return errors.Wrapf(err, "Unable to load config variables: %s", err.Error())
	}

	AppConfig.ServerReadTimeOutSeconds, err = config.GetInt("serverReadTimeOutSeconds")
	if err != nil {
		return errors.Wrapf(err, "Unable to load config variables: %s", err.Error())
	}
	if AppConfig.ServerReadTimeOutSeconds < 1 {
		return errors.New("ServerReadTimeOutSeconds cannot be lesser than 1")
	}
	if AppConfig.ServerReadTimeOutSeconds > maxServerReadTimeoutSeconds {
		// limit to max value
		log.Debugf("serverReadTimeOutSeconds value %d exceeds the max value allowed, set to max value %d",
			AppConfig.ServerReadTimeOutSeconds, maxServerReadTimeoutSeconds)
		AppConfig.ServerReadTimeOutSeconds = maxServerReadTimeoutSeconds
	}

	AppConfig.ServerWriteTimeOutSeconds, err = config.GetInt("serverWriteTimeOutSeconds")
	if err != nil {
		return errors.Wrapf(err, "Unable to load config variables: %s", err.Error())
	}
	if AppConfig.ServerWriteTimeOutSeconds < 1 {
		return errors.New("ServerWriteTimeOutSeconds cannot be lesser than 1")
	}
	if AppConfig.ServerWriteTimeOutSeconds > maxServerWriteTimeoutSeconds {
		// limit to max value
		log.Debugf("serverWriteTimeOutSeconds value %d exceeds the max value allowed, set to max value %d",
			AppConfig.ServerWriteTimeOutSeconds, maxServerWriteTimeoutSeconds)
		AppConfig.ServerWriteTimeOutSeconds = maxServerWriteTimeoutSeconds
	}

	// size limit of RESTFul endpoints
	AppConfig.ResponseLimit, err = config.GetInt("responseLimit")
	if err != nil {
		return errors.Wrapf(err, "Unable to load config variables: %s", err.Error())
	}

	AppConfig.MqttClientID = getOrDefaultString(config, "mqttClientID", "baggage-tracking-service")
	AppConfig.HeartbeatTopic = getOrDefaultString(config, "heartbeatTopic", "baggage/heartbeat")
	AppConfig.AlertExchange = getOrDefaultString(config, "alertExchange", "baggage.alerts")
	AppConfig.DeadLetterPath = getOrDefaultString(config, "deadLetterPath", "/data/deadletter.db")
	AppConfig.TelemetryEndpoint = getOrDefaultString(config, "telemetryEndpoint", "")
	AppConfig.TelemetryDataStoreName = getOrDefaultString(config, "telemetryDataStoreName", "")

	AppConfig.ShardCount = getOrDefaultInt(config, "shardCount", 32)
	if AppConfig.ShardCount < 1 {
		return errors.Errorf("shardCount must be at least 1. Value: %d", AppConfig.ShardCount)
	}

	AppConfig.ShardQueueSize = getOrDefaultInt(config, "shardQueueSize", 256)
	if AppConfig.ShardQueueSize < 1 {
		return errors.Errorf("shardQueueSize must be at least 1. Value: %d", AppConfig.ShardQueueSize)
	}

	AppConfig.BackpressurePolicy = getOrDefaultString(config, "backpressurePolicy", BackpressureBlock)
	if AppConfig.BackpressurePolicy != BackpressureBlock && AppConfig.BackpressurePolicy != BackpressureDropOldest {
		return errors.Errorf("backpressurePolicy must be %s or %s. Value: %s",
			BackpressureBlock, BackpressureDropOldest, AppConfig.BackpressurePolicy)
	}

	AppConfig.StationaryThresholdMinutes = getOrDefaultInt(config, "stationaryThresholdMinutes", 30)
	AppConfig.SecurityHoldThresholdMinutes = getOrDefaultInt(config, "securityHoldThresholdMinutes", 20)
	AppConfig.ConnectionThresholdMinutes = getOrDefaultInt(config, "connectionThresholdMinutes", 45)
	AppConfig.FutureSkewMinutes = getOrDefaultInt(config, "futureSkewMinutes", 5)
	AppConfig.UnknownTagGraceMinutes = getOrDefaultInt(config, "unknownTagGraceMinutes", 10)

	AppConfig.TickIntervalSeconds = getOrDefaultInt(config, "tickIntervalSeconds", 60)
	AppConfig.ArchiveSweepIntervalSeconds = getOrDefaultInt(config, "archiveSweepIntervalSeconds", 3600)
	AppConfig.TickSoftTimeoutMillis = getOrDefaultInt(config, "tickSoftTimeoutMillis", 50)
	AppConfig.RetentionDays = getOrDefaultInt(config, "retentionDays", 30)
	AppConfig.PurgingDays = getOrDefaultInt(config, "purgingDays", 30)
	AppConfig.ReaderStaleThresholdMinutes = getOrDefaultInt(config, "readerStaleThresholdMinutes", 5)
	AppConfig.DeadLetterReplayBatch = getOrDefaultInt(config, "deadLetterReplayBatch", 100)

	AppConfig.SlaWindowSize = getOrDefaultInt(config, "slaWindowSize", 100)
	if AppConfig.SlaWindowSize < 1 {
		return errors.Errorf("slaWindowSize must be at least 1. Value: %d", AppConfig.SlaWindowSize)
	}

	AppConfig.OnTimeRateThreshold, err = getOrDefaultFloat(config, "onTimeRateThreshold", 97.0)
	if err != nil {
		return err
	}
	AppConfig.OnTimeRateTarget, err = getOrDefaultFloat(config, "onTimeRateTarget", 98.5)
	if err != nil {
		return err
	}
	AppConfig.MishandlingRateThreshold, err = getOrDefaultFloat(config, "mishandlingRateThreshold", 2.0)
	if err != nil {
		return err
	}
	AppConfig.ConnectionTimeTarget, err = getOrDefaultFloat(config, "connectionTimeTarget", 35.0)
	if err != nil {
		return err
	}

	AppConfig.PersistRetryMax = getOrDefaultInt(config, "persistRetryMax", 3)
	AppConfig.NotifyRetryMax = getOrDefaultInt(config, "notifyRetryMax", 5)

	AppConfig.EnableCORS = getOrDefaultBool(config, "enableCORS", true)
	AppConfig.CORSOrigin = getOrDefaultString(config, "corsOrigin", "*")

	return nil
}

func getOrDefaultBool(config *configuration.Configuration, path string, defaultValue bool) bool {
	value, err := config.GetBool(path)
	if err != nil {
		log.Debugf("%s was missing from configuration, setting to default value of %v", path, defaultValue)
		return defaultValue
	}
	return value
}

func getOrDefaultString(config *configuration.Configuration, path string, defaultValue string) string {
	value, err := config.GetString(path)
	if err != nil {
		log.Debugf("%s was missing from configuration, setting to default value of %s", path, defaultValue)
		return defaultValue
	}
	return value
}

func getOrDefaultInt(config *configuration.Configuration, path string, defaultValue int) int {
	value, err := config.GetInt(path)
	if err != nil {
		log.Debugf("%s was missing from configuration, setting to default value of %d", path, defaultValue)
		return defaultValue
	}
	return value
}

// the config library only deals in strings for floating point values
func getOrDefaultFloat(config *configuration.Configuration, path string, defaultValue float64) (float64, error) {
	raw, err := config.GetString(path)
	if err != nil || raw == "" {
		log.Debugf("%s was missing from configuration, setting to default value of %f", path, defaultValue)
		return defaultValue, nil
	}
	value, parseErr := strconv.ParseFloat(raw, 64)
	if parseErr != nil {
		return 0, errors.Wrapf(parseErr, "Unable to parse %s: %s", path, parseErr.Error())
	}
	return value, nil
}
