package telemetry

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/trusdx/trusdxd/pkg/config"
	"github.com/trusdx/trusdxd/pkg/events"
	"github.com/trusdx/trusdxd/pkg/logging"
)

const (
	connectRetryInterval = 10 * time.Second
	keepAlive            = 60 * time.Second
	pingTimeout          = 10 * time.Second
	disconnectQuiesce    = 250 // milliseconds, paho takes a uint
)

// Publisher mirrors daemon status and events onto an MQTT broker. Status
// snapshots go out on a timer and are retained so a dashboard joining late
// still sees the last known state; events are forwarded as they happen.
type Publisher struct {
	log      *logging.Logger
	cfg      config.MQTTConfig
	client   mqtt.Client
	bus      *events.Bus
	snapshot func() map[string]interface{}
}

// generateClientID creates a random client ID so two daemons on one broker
// never evict each other.
func generateClientID() string {
	b := make([]byte, 8)
	rand.Read(b)
	return "trusdxd_" + hex.EncodeToString(b)
}

// NewPublisher builds the MQTT client without touching the network. The
// snapshot callback supplies the status payload fields on each tick.
func NewPublisher(cfg config.MQTTConfig, bus *events.Bus, snapshot func() map[string]interface{}) *Publisher {
	log := logging.ForComponent("mqtt")

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(generateClientID())
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(connectRetryInterval)
	opts.SetKeepAlive(keepAlive)
	opts.SetPingTimeout(pingTimeout)

	opts.SetOnConnectHandler(func(mqtt.Client) {
		log.Infof("connected to broker %s", cfg.Broker)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Warnf("broker connection lost: %v", err)
	})
	opts.SetReconnectingHandler(func(mqtt.Client, *mqtt.ClientOptions) {
		log.Debugf("reconnecting to broker")
	})

	return &Publisher{
		log:      log,
		cfg:      cfg,
		client:   mqtt.NewClient(opts),
		bus:      bus,
		snapshot: snapshot,
	}
}

// Run connects and publishes until the context is cancelled. Connection is
// handed to paho's retry machinery so a broker that is down at startup only
// costs log noise, never a stalled daemon.
func (p *Publisher) Run(ctx context.Context) {
	p.client.Connect()

	ch, cancel := p.bus.Subscribe(64)
	defer cancel()

	interval := time.Duration(p.cfg.IntervalSec) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	p.publishStatus()

	for {
		select {
		case <-ctx.Done():
			p.Disconnect()
			return
		case ev, ok := <-ch:
			if !ok {
				p.Disconnect()
				return
			}
			p.publishEvent(ev)
		case <-ticker.C:
			p.publishStatus()
		}
	}
}

// statusTopic and eventTopic build the publish targets under the prefix.
func (p *Publisher) statusTopic() string {
	return fmt.Sprintf("%s/status", p.cfg.TopicPrefix)
}

func (p *Publisher) eventTopic(kind string) string {
	return fmt.Sprintf("%s/events/%s", p.cfg.TopicPrefix, kind)
}

// statusPayload merges the snapshot fields with a timestamp.
func (p *Publisher) statusPayload() map[string]interface{} {
	payload := map[string]interface{}{
		"timestamp": time.Now().Unix(),
	}
	if p.snapshot != nil {
		for k, v := range p.snapshot() {
			payload[k] = v
		}
	}
	return payload
}

func (p *Publisher) publishStatus() {
	if !p.client.IsConnected() {
		return
	}

	data, err := json.Marshal(p.statusPayload())
	if err != nil {
		p.log.Errorf("marshal status failed: %v", err)
		return
	}

	token := p.client.Publish(p.statusTopic(), 0, true, data)
	if token.Wait() && token.Error() != nil {
		p.log.Warnf("publish status failed: %v", token.Error())
	}
}

func (p *Publisher) publishEvent(ev events.Event) {
	if !p.client.IsConnected() {
		return
	}

	data, err := json.Marshal(ev)
	if err != nil {
		p.log.Errorf("marshal event failed: %v", err)
		return
	}

	topic := p.eventTopic(ev.Kind)
	token := p.client.Publish(topic, 0, false, data)
	go func() {
		if token.Wait() && token.Error() != nil {
			p.log.Warnf("publish event to %s failed: %v", topic, token.Error())
		}
	}()
}

// Disconnect closes the broker connection if one is up.
func (p *Publisher) Disconnect() {
	if p.client != nil && p.client.IsConnected() {
		p.client.Disconnect(disconnectQuiesce)
		p.log.Infof("disconnected from broker")
	}
}
