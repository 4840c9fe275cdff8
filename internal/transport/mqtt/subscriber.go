// Package mqtt subscribes to the broker topic carrying raw position reports
// and feeds them to the pipeline. Malformed or invalid reports are rejected
// individually; the subscription itself never stops over one bad message.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	v1 "github.com/trucktrack/alert-pipeline/internal/api/v1"
)

// ReportHandler consumes decoded position reports. Implemented by the
// pipeline processor.
type ReportHandler interface {
	Process(ctx context.Context, report *v1.PositionReport) error
}

// Options configures the broker connection.
type Options struct {
	BrokerURL      string
	ClientID       string
	Username       string
	Password       string
	Topic          string
	QoS            byte
	ConnectTimeout time.Duration
	ProcessTimeout time.Duration
}

// Subscriber owns the MQTT client lifecycle. Reconnects are delegated to the
// client library; the subscription is re-established from the OnConnect hook
// so it survives broker restarts.
type Subscriber struct {
	client  paho.Client
	opts    Options
	handler ReportHandler

	baseCtx context.Context
}

func NewSubscriber(opts Options, handler ReportHandler) *Subscriber {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 10 * time.Second
	}
	if opts.ProcessTimeout <= 0 {
		opts.ProcessTimeout = 10 * time.Second
	}

	s := &Subscriber{opts: opts, handler: handler, baseCtx: context.Background()}

	clientOpts := paho.NewClientOptions().
		AddBroker(opts.BrokerURL).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetOrderMatters(false)
	if opts.Username != "" {
		clientOpts.SetUsername(opts.Username)
		clientOpts.SetPassword(opts.Password)
	}
	clientOpts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		slog.Warn("[MQTT] Connection lost, reconnecting", "error", err)
	})
	clientOpts.SetOnConnectHandler(func(c paho.Client) {
		slog.Info("[MQTT] Connected, subscribing", "topic", opts.Topic, "qos", opts.QoS)
		token := c.Subscribe(opts.Topic, opts.QoS, s.onMessage)
		token.Wait()
		if err := token.Error(); err != nil {
			slog.Error("[MQTT] Subscribe failed", "topic", opts.Topic, "error", err)
		}
	})

	s.client = paho.NewClient(clientOpts)
	return s
}

// Run connects and blocks until the context is cancelled.
func (s *Subscriber) Run(ctx context.Context) error {
	s.baseCtx = ctx

	token := s.client.Connect()
	if !token.WaitTimeout(s.opts.ConnectTimeout) {
		return fmt.Errorf("mqtt connect to %s timed out after %s", s.opts.BrokerURL, s.opts.ConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect to %s: %w", s.opts.BrokerURL, err)
	}

	<-ctx.Done()

	slog.Info("[MQTT] Stopping (context cancelled)")
	s.client.Disconnect(250)
	return nil
}

func (s *Subscriber) onMessage(_ paho.Client, msg paho.Message) {
	var report v1.PositionReport
	if err := json.Unmarshal(msg.Payload(), &report); err != nil {
		slog.Error("[MQTT] Dropping malformed position report",
			"topic", msg.Topic(), "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(s.baseCtx, s.opts.ProcessTimeout)
	defer cancel()

	if err := s.handler.Process(ctx, &report); err != nil {
		slog.Error("[MQTT] Dropping rejected position report",
			"topic", msg.Topic(), "event_id", report.EventID, "error", err)
	}
}
