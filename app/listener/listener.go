/* Apache v2 license
*  Copyright (C) <2019> Intel Corporation
*
*  SPDX-License-Identifier: Apache-2.0
 */

// Package listener consumes the scanner gateway MQTT stream and feeds the
// ingestion pipeline.
package listener

import (
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/intel/rsp-sw-toolkit-im-suite-baggage-tracking-service/app/ingestor"
	"github.com/intel/rsp-sw-toolkit-im-suite-utilities/go-metrics"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// SubmitFunc hands a normalized event to the state store.
type SubmitFunc func(event ingestor.LocationEvent)

// LogFunc appends an accepted event to the audit log.
type LogFunc func(event ingestor.LocationEvent)

// HeartbeatFunc processes a raw gateway heartbeat payload.
type HeartbeatFunc func(payload []byte)

// Listener subscribes to the scan and heartbeat topics. Malformed scans
// are counted and dropped, they never stop the stream.
type Listener struct {
	client         mqtt.Client
	scanTopic      string
	heartbeatTopic string

	submit    SubmitFunc
	logEvent  LogFunc
	heartbeat HeartbeatFunc
}

// New builds the listener; logEvent and heartbeat may be nil.
func New(broker, clientID, scanTopic, heartbeatTopic string, submit SubmitFunc, logEvent LogFunc, heartbeat HeartbeatFunc) *Listener {
	listener := &Listener{
		scanTopic:      scanTopic,
		heartbeatTopic: heartbeatTopic,
		submit:         submit,
		logEvent:       logEvent,
		heartbeat:      heartbeat,
	}

	options := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetOrderMatters(false).
		SetAutoReconnect(true).
		SetOnConnectHandler(listener.onConnect).
		SetConnectionLostHandler(func(client mqtt.Client, err error) {
			metrics.GetOrRegisterGaugeCollection(`Listener.ConnectionLost`, nil).Add(1)
			log.WithFields(log.Fields{
				"Method": "Listener",
				"Error":  err.Error(),
			}).Warn("lost connection to broker, reconnecting")
		})

	listener.client = mqtt.NewClient(options)
	return listener
}

// Start connects to the broker; subscriptions happen in the connect
// handler so they survive reconnects.
func (listener *Listener) Start() error {
	if token := listener.client.Connect(); token.Wait() && token.Error() != nil {
		return errors.Wrap(token.Error(), "unable to connect to mqtt broker")
	}
	return nil
}

// Stop disconnects from the broker.
func (listener *Listener) Stop() {
	listener.client.Disconnect(250)
}

func (listener *Listener) onConnect(client mqtt.Client) {
	log.WithFields(log.Fields{
		"Method":    "Listener.onConnect",
		"ScanTopic": listener.scanTopic,
	}).Info("connected to scan broker")

	if token := client.Subscribe(listener.scanTopic, 1, listener.onScan); token.Wait() && token.Error() != nil {
		log.WithFields(log.Fields{
			"Method": "Listener.onConnect",
			"Topic":  listener.scanTopic,
			"Error":  token.Error().Error(),
		}).Error("unable to subscribe to scan topic")
	}

	if listener.heartbeat == nil || listener.heartbeatTopic == "" {
		return
	}
	if token := client.Subscribe(listener.heartbeatTopic, 0, listener.onHeartbeat); token.Wait() && token.Error() != nil {
		log.WithFields(log.Fields{
			"Method": "Listener.onConnect",
			"Topic":  listener.heartbeatTopic,
			"Error":  token.Error().Error(),
		}).Error("unable to subscribe to heartbeat topic")
	}
}

func (listener *Listener) onScan(client mqtt.Client, message mqtt.Message) {
	metrics.GetOrRegisterGauge(`Listener.OnScan.Attempt`, nil).Update(1)

	event, err := ingestor.Normalize(message.Payload())
	if err != nil {
		metrics.GetOrRegisterGaugeCollection(`Listener.OnScan.Rejected`, nil).Add(1)
		log.WithFields(log.Fields{
			"Method": "Listener.onScan",
			"Topic":  message.Topic(),
			"Error":  err.Error(),
		}).Warn("rejected scan message")
		return
	}

	listener.submit(event)
	if listener.logEvent != nil {
		listener.logEvent(event)
	}
	metrics.GetOrRegisterGauge(`Listener.OnScan.Success`, nil).Update(1)
}

func (listener *Listener) onHeartbeat(client mqtt.Client, message mqtt.Message) {
	listener.heartbeat(message.Payload())
}
