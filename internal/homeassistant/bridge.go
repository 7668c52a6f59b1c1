// Package homeassistant publishes the people count and door motion to Home
// Assistant over MQTT, using MQTT discovery so the entities appear without
// any configuration on the Home Assistant side.
package homeassistant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/banshee-data/people.count/internal/counter"
	"github.com/banshee-data/people.count/internal/monitoring"
	"github.com/banshee-data/people.count/internal/tally"
	"github.com/banshee-data/people.count/internal/version"
)

const (
	DefaultDiscoveryPrefix = "homeassistant"
	DefaultNodeID          = "people_count"
	DefaultQueueSize       = 32

	publishTimeout = 2 * time.Second
)

// Config describes the broker and the entity names.
type Config struct {
	Broker          string // tcp://host:1883
	ClientID        string
	Username        string
	Password        string
	DiscoveryPrefix string
	NodeID          string
	Name            string
	QueueSize       int
}

func (c Config) withDefaults() Config {
	if c.DiscoveryPrefix == "" {
		c.DiscoveryPrefix = DefaultDiscoveryPrefix
	}
	if c.NodeID == "" {
		c.NodeID = DefaultNodeID
	}
	if c.Name == "" {
		c.Name = "People count"
	}
	if c.ClientID == "" {
		c.ClientID = c.NodeID
	}
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	return c
}

func (c Config) baseTopic() string         { return "people_count/" + c.NodeID }
func (c Config) stateTopic() string        { return c.baseTopic() + "/state" }
func (c Config) presenceTopic() string     { return c.baseTopic() + "/presence" }
func (c Config) availabilityTopic() string { return c.baseTopic() + "/availability" }

// Publisher is the part of mqtt.Client the bridge needs.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

type message struct {
	topic    string
	retained bool
	payload  []byte
}

// Bridge queues state updates from detector and tally callbacks and publishes
// them from its own goroutine, so a slow broker never stalls the poll loop.
type Bridge struct {
	cfg    Config
	client Publisher
	conn   mqtt.Client // set when the bridge owns the connection

	queue        chan message
	lastPresence atomic.Int32 // -1 unknown, 0 off, 1 on
	published    atomic.Int64
	dropped      atomic.Int64
	failed       atomic.Int64
	closeOnce    sync.Once
}

// NewBridge creates a bridge publishing through client.
func NewBridge(client Publisher, cfg Config) *Bridge {
	cfg = cfg.withDefaults()
	b := &Bridge{
		cfg:    cfg,
		client: client,
		queue:  make(chan message, cfg.QueueSize),
	}
	b.lastPresence.Store(-1)
	return b
}

// Connect opens a connection to the broker with automatic reconnects and
// returns a bridge that owns it. The broker marks the entities unavailable if
// the connection drops.
func Connect(cfg Config) (*Bridge, error) {
	cfg = cfg.withDefaults()
	if cfg.Broker == "" {
		return nil, errors.New("mqtt broker not configured")
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetWill(cfg.availabilityTopic(), "offline", 1, true)
	opts.OnConnect = func(c mqtt.Client) {
		monitoring.Logf("[mqtt] connected to %s", cfg.Broker)
		// announce again after a reconnect, the will has marked us offline
		c.Publish(cfg.availabilityTopic(), 1, true, "online")
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		monitoring.Logf("[mqtt] connection lost, reconnecting: %v", err)
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(5 * time.Second) {
		return nil, fmt.Errorf("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connection failed: %w", err)
	}

	b := NewBridge(client, cfg)
	b.conn = client
	return b, nil
}

type device struct {
	Identifiers []string `json:"identifiers"`
	Name        string   `json:"name"`
	Model       string   `json:"model"`
	SWVersion   string   `json:"sw_version"`
}

type discovery struct {
	Name                string `json:"name"`
	UniqueID            string `json:"unique_id"`
	StateTopic          string `json:"state_topic"`
	AvailabilityTopic   string `json:"availability_topic"`
	ValueTemplate       string `json:"value_template,omitempty"`
	JSONAttributesTopic string `json:"json_attributes_topic,omitempty"`
	UnitOfMeasurement   string `json:"unit_of_measurement,omitempty"`
	StateClass          string `json:"state_class,omitempty"`
	DeviceClass         string `json:"device_class,omitempty"`
	Icon                string `json:"icon,omitempty"`
	PayloadOn           string `json:"payload_on,omitempty"`
	PayloadOff          string `json:"payload_off,omitempty"`
	Device              device `json:"device"`
}

func (b *Bridge) discoveryMessages() []message {
	dev := device{
		Identifiers: []string{b.cfg.NodeID},
		Name:        b.cfg.Name,
		Model:       "VL53L1X doorway counter",
		SWVersion:   version.Version,
	}
	count := discovery{
		Name:                b.cfg.Name,
		UniqueID:            b.cfg.NodeID + "_count",
		StateTopic:          b.cfg.stateTopic(),
		AvailabilityTopic:   b.cfg.availabilityTopic(),
		ValueTemplate:       "{{ value_json.count }}",
		JSONAttributesTopic: b.cfg.stateTopic(),
		UnitOfMeasurement:   "people",
		StateClass:          "measurement",
		Icon:                "mdi:account-group",
		Device:              dev,
	}
	motion := discovery{
		Name:              "Door motion",
		UniqueID:          b.cfg.NodeID + "_door_motion",
		StateTopic:        b.cfg.presenceTopic(),
		AvailabilityTopic: b.cfg.availabilityTopic(),
		DeviceClass:       "motion",
		PayloadOn:         "ON",
		PayloadOff:        "OFF",
		Device:            dev,
	}

	var msgs []message
	for topic, d := range map[string]discovery{
		fmt.Sprintf("%s/sensor/%s/count/config", b.cfg.DiscoveryPrefix, b.cfg.NodeID):               count,
		fmt.Sprintf("%s/binary_sensor/%s/door_motion/config", b.cfg.DiscoveryPrefix, b.cfg.NodeID): motion,
	} {
		payload, err := json.Marshal(d)
		if err != nil {
			continue
		}
		msgs = append(msgs, message{topic: topic, retained: true, payload: payload})
	}
	return msgs
}

type countState struct {
	Count  int       `json:"count"`
	Change int       `json:"change"`
	Reason string    `json:"reason"`
	At     time.Time `json:"at"`
}

// PublishCount queues the new count. It is meant to be subscribed to the
// tally.
func (b *Bridge) PublishCount(u tally.Update) {
	payload, err := json.Marshal(countState{Count: u.Count, Change: u.Change, Reason: u.Reason, At: u.At})
	if err != nil {
		monitoring.Logf("[mqtt] encode count: %v", err)
		return
	}
	b.enqueue(message{topic: b.cfg.stateTopic(), retained: true, payload: payload})
}

// PublishPresence queues the door motion state when it changes. It is meant
// to be registered as a trigger callback.
func (b *Bridge) PublishPresence(state counter.TriggerState) {
	var v int32
	payload := "OFF"
	if state.Any() {
		v, payload = 1, "ON"
	}
	if b.lastPresence.Swap(v) == v {
		return
	}
	b.enqueue(message{topic: b.cfg.presenceTopic(), payload: []byte(payload)})
}

func (b *Bridge) enqueue(m message) {
	select {
	case b.queue <- m:
	default:
		b.dropped.Add(1)
		monitoring.Logf("[mqtt] queue full, dropping update for %s", m.topic)
	}
}

// Run publishes the discovery configs and then drains the queue until ctx is
// done.
func (b *Bridge) Run(ctx context.Context) error {
	b.publish(message{topic: b.cfg.availabilityTopic(), retained: true, payload: []byte("online")})
	for _, m := range b.discoveryMessages() {
		b.publish(m)
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m := <-b.queue:
			b.publish(m)
		}
	}
}

func (b *Bridge) publish(m message) {
	token := b.client.Publish(m.topic, 1, m.retained, m.payload)
	if !token.WaitTimeout(publishTimeout) {
		b.failed.Add(1)
		monitoring.Logf("[mqtt] publish to %s timed out", m.topic)
		return
	}
	if err := token.Error(); err != nil {
		b.failed.Add(1)
		monitoring.Logf("[mqtt] publish to %s failed: %v", m.topic, err)
		return
	}
	b.published.Add(1)
	monitoring.Debugf("[mqtt] published %s: %s", m.topic, m.payload)
}

// Stats reports publish outcomes.
type Stats struct {
	Published int64 `json:"published"`
	Dropped   int64 `json:"dropped"`
	Failed    int64 `json:"failed"`
}

func (b *Bridge) Stats() Stats {
	return Stats{
		Published: b.published.Load(),
		Dropped:   b.dropped.Load(),
		Failed:    b.failed.Load(),
	}
}

// Close marks the entities offline and disconnects when the bridge owns the
// connection.
func (b *Bridge) Close() {
	b.closeOnce.Do(func() {
		if b.conn == nil || !b.conn.IsConnected() {
			return
		}
		b.publish(message{topic: b.cfg.availabilityTopic(), retained: true, payload: []byte("offline")})
		b.conn.Disconnect(250)
		monitoring.Logf("[mqtt] disconnected")
	})
}
