/* Apache v2 license
*  Copyright (C) <2019> Intel Corporation
*
*  SPDX-License-Identifier: Apache-2.0
 */

package notification

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/intel/rsp-sw-toolkit-im-suite-baggage-tracking-service/app/alert"
	"github.com/intel/rsp-sw-toolkit-im-suite-utilities/go-metrics"
	"github.com/pkg/errors"
	amqp "github.com/rabbitmq/amqp091-go"
	log "github.com/sirupsen/logrus"
)

const (
	jsonApplication = "application/json;charset=utf-8"
	publishTimeout  = 10 * time.Second
)

// Publisher delivers alerts to a durable AMQP topic exchange. The routing
// key carries the severity (alert.<severity>) so consumers can bind only
// to the levels they care about.
type Publisher struct {
	url      string
	exchange string

	mutex sync.Mutex
	conn  *amqp.Connection
	ch    *amqp.Channel
	acks  <-chan amqp.Confirmation
}

// NewPublisher dials the broker and declares the exchange.
func NewPublisher(url, exchange string) (*Publisher, error) {
	publisher := &Publisher{url: url, exchange: exchange}
	if err := publisher.connect(); err != nil {
		return nil, err
	}
	return publisher, nil
}

func (publisher *Publisher) connect() error {
	conn, err := amqp.Dial(publisher.url)
	if err != nil {
		return errors.Wrap(err, "unable to dial amqp broker")
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return errors.Wrap(err, "unable to open amqp channel")
	}

	if err := ch.ExchangeDeclare(
		publisher.exchange,
		"topic",
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return errors.Wrapf(err, "unable to declare exchange %s", publisher.exchange)
	}

	// publisher confirms so an ack means the broker owns the message
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return errors.Wrap(err, "unable to enable publisher confirms")
	}

	publisher.conn = conn
	publisher.ch = ch
	publisher.acks = ch.NotifyPublish(make(chan amqp.Confirmation, 1))

	log.WithFields(log.Fields{
		"Method":   "Publisher.connect",
		"Exchange": publisher.exchange,
	}).Info("connected to alert broker")
	return nil
}

// Close releases the channel and connection.
func (publisher *Publisher) Close() {
	publisher.mutex.Lock()
	defer publisher.mutex.Unlock()
	if publisher.ch != nil {
		_ = publisher.ch.Close()
	}
	if publisher.conn != nil {
		_ = publisher.conn.Close()
	}
}

// Ping reports whether the broker connection is still open.
func (publisher *Publisher) Ping() error {
	publisher.mutex.Lock()
	defer publisher.mutex.Unlock()
	if publisher.conn == nil || publisher.conn.IsClosed() {
		return errors.New("amqp connection is closed")
	}
	return nil
}

// Notify publishes one alert persistently and waits for the broker ack.
// The sink retries on error, so a dropped connection heals on the next
// attempt via redial.
func (publisher *Publisher) Notify(raised alert.Alert) error {
	metrics.GetOrRegisterGauge(`Notification.Notify.Attempt`, nil).Update(1)
	mSuccess := metrics.GetOrRegisterGauge(`Notification.Notify.Success`, nil)
	mPublishErr := metrics.GetOrRegisterGauge(`Notification.Notify.Publish-Error`, nil)
	mLatency := metrics.GetOrRegisterTimer(`Notification.Notify.Publish-Latency`, nil)

	body, err := json.Marshal(raised)
	if err != nil {
		return errors.Wrap(err, "unable to marshal alert")
	}

	publisher.mutex.Lock()
	defer publisher.mutex.Unlock()

	if publisher.conn == nil || publisher.conn.IsClosed() {
		if err := publisher.connect(); err != nil {
			mPublishErr.Update(1)
			return err
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	publishTimer := time.Now()
	if err := publisher.ch.PublishWithContext(
		ctx,
		publisher.exchange,
		"alert."+raised.Severity,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  jsonApplication,
			MessageId:    raised.ID,
			Timestamp:    time.Now(),
			Body:         body,
		},
	); err != nil {
		mPublishErr.Update(1)
		return errors.Wrapf(err, "unable to publish alert %s", raised.ID)
	}

	select {
	case confirmation := <-publisher.acks:
		if !confirmation.Ack {
			mPublishErr.Update(1)
			return errors.Errorf("broker rejected alert %s", raised.ID)
		}
	case <-ctx.Done():
		mPublishErr.Update(1)
		return errors.Wrapf(ctx.Err(), "timed out waiting for broker ack on alert %s", raised.ID)
	}

	mLatency.Update(time.Since(publishTimer))
	mSuccess.Update(1)
	return nil
}
