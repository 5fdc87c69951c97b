// Package publish mirrors session notifications onto an MQTT broker so other
// processes on the device can follow the GPS state without a Bluetooth link.
package publish

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"gpsblue-ng/internal/gps"
	"gpsblue-ng/internal/session"
)

const (
	defaultQueue   = 64
	publishTimeout = 2 * time.Second
)

type Config struct {
	Broker         string
	ClientID       string
	TopicPrefix    string
	ConnectTimeout time.Duration
}

// client is the part of mqtt.Client the publisher uses.
type client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

type message struct {
	topic    string
	retained bool
	payload  []byte
}

// Publisher implements session.Observer. Notifications are queued and sent
// from a single goroutine; when the queue is full they are dropped.
type Publisher struct {
	c      client
	prefix string
	log    zerolog.Logger

	queue     chan message
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	published atomic.Uint64
	dropped   atomic.Uint64
}

// NewMQTT connects to cfg.Broker and returns a running publisher.
func NewMQTT(cfg Config) (*Publisher, error) {
	if strings.TrimSpace(cfg.Broker) == "" {
		return nil, errors.New("mqtt broker is required")
	}
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "gpsblue-ng"
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectTimeout(timeout)
	c := mqtt.NewClient(opts)
	token := c.Connect()
	if !token.WaitTimeout(timeout) {
		c.Disconnect(0)
		return nil, fmt.Errorf("mqtt connect to %s: timed out after %s", cfg.Broker, timeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect to %s: %w", cfg.Broker, err)
	}
	return newPublisher(c, cfg.TopicPrefix, defaultQueue), nil
}

func newPublisher(c client, prefix string, queue int) *Publisher {
	prefix = strings.TrimRight(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		prefix = "gpsblue"
	}
	p := &Publisher{
		c:      c,
		prefix: prefix,
		log:    log.With().Str("module", "mqtt").Logger(),
		queue:  make(chan message, queue),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go p.run()
	return p
}

func (p *Publisher) run() {
	defer close(p.done)
	for {
		select {
		case <-p.quit:
			return
		case m := <-p.queue:
			token := p.c.Publish(m.topic, 0, m.retained, m.payload)
			if !token.WaitTimeout(publishTimeout) {
				p.log.Warn().Str("topic", m.topic).Msg("publish timed out")
				continue
			}
			if err := token.Error(); err != nil {
				p.log.Warn().Err(err).Str("topic", m.topic).Msg("publish failed")
				continue
			}
			p.published.Add(1)
		}
	}
}

func (p *Publisher) enqueue(suffix string, retained bool, v interface{}) {
	select {
	case <-p.quit:
		return
	default:
	}
	b, err := json.Marshal(v)
	if err != nil {
		p.log.Error().Err(err).Str("topic", suffix).Msg("marshal failed")
		return
	}
	select {
	case p.queue <- message{topic: p.prefix + "/" + suffix, retained: retained, payload: b}:
	default:
		p.dropped.Add(1)
	}
}

// Close stops the publishing goroutine and disconnects. Queued messages that
// were not yet sent are discarded.
func (p *Publisher) Close() {
	p.closeOnce.Do(func() {
		close(p.quit)
		<-p.done
		p.c.Disconnect(250)
		p.log.Info().Uint64("published", p.published.Load()).Uint64("dropped", p.dropped.Load()).Msg("mqtt publisher closed")
	})
}

// Dropped reports how many notifications were discarded because the queue
// was full.
func (p *Publisher) Dropped() uint64 { return p.dropped.Load() }

type connectionsPayload struct {
	UUID   string `json:"uuid"`
	Count  int    `json:"count"`
	Status string `json:"status"`
}

type satellitesPayload struct {
	Cleared    bool            `json:"cleared"`
	Satellites []gps.Satellite `json:"satellites"`
}

func (p *Publisher) ConnectionCountChanged(id uuid.UUID, count int) {
	p.enqueue("connections", true, connectionsPayload{
		UUID:   id.String(),
		Count:  count,
		Status: session.StatusText(id, count),
	})
}

func (p *Publisher) FatalError(title, message string) {
	p.enqueue("fatal", true, session.Fatal{
		Title:   title,
		Message: message,
		AtUTC:   time.Now().UTC().Format(time.RFC3339Nano),
	})
}

func (p *Publisher) PositionUpdated(fix gps.Fix) {
	p.enqueue("position", false, fix)
}

func (p *Publisher) SatellitesUpdated(sats []gps.Satellite) {
	payload := satellitesPayload{Cleared: sats == nil, Satellites: sats}
	if payload.Satellites == nil {
		payload.Satellites = []gps.Satellite{}
	}
	p.enqueue("satellites", false, payload)
}

var _ session.Observer = (*Publisher)(nil)
