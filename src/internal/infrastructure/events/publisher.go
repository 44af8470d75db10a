// Package events streams simulator events to an MQTT broker.
package events

import (
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"

	"github.com/kodflow/ddi-simulator/src/internal/domain/entity"
)

const (
	defaultConnectTimeout    = 10 * time.Second
	defaultPublishTimeout    = 5 * time.Second
	defaultDisconnectQuiesce = 1000 // milliseconds
	defaultKeepAlive         = 60 * time.Second
	defaultQueueSize         = 256
	maxQoS                   = 2
)

// Errors returned by Connect.
var (
	ErrConnectionFailed = errors.New("mqtt: connection failed")
	ErrInvalidQoS       = errors.New("mqtt: invalid QoS level (must be 0, 1, or 2)")
)

// Config describes the broker connection.
type Config struct {
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
	QoS         int
	TLS         *tls.Config
	// QueueSize bounds events waiting to be sent; 0 means 256.
	QueueSize int
	Logger    *logrus.Entry
}

// broker is the part of the paho client the publisher uses.
type broker interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token
	Disconnect(quiesce uint)
}

// Publisher forwards events to the broker from a single background goroutine.
// Publish never blocks: when the queue is full the event is dropped.
type Publisher struct {
	client broker
	prefix string
	qos    byte
	log    *logrus.Entry

	queue     chan entity.Event
	done      chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	closed  bool
	dropped int
}

// Connect dials the broker and starts the publishing goroutine.
func Connect(cfg Config) (*Publisher, error) {
	if cfg.QoS < 0 || cfg.QoS > maxQoS {
		return nil, ErrInvalidQoS
	}
	opts := buildClientOptions(cfg)

	client := pahomqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	return newPublisher(client, cfg), nil
}

func buildClientOptions(cfg Config) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = fmt.Sprintf("ddi-simulator-%d", time.Now().UnixNano())
	}
	opts.SetClientID(clientID)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(defaultConnectTimeout)
	opts.SetKeepAlive(defaultKeepAlive)
	if cfg.TLS != nil {
		opts.SetTLSConfig(cfg.TLS)
	}

	log := cfg.Logger
	if log == nil {
		log = logrus.WithField("component", "events")
	}
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		log.WithError(err).Warn("MQTT connection lost")
	})
	opts.SetOnConnectHandler(func(_ pahomqtt.Client) {
		log.WithField("broker", cfg.Broker).Info("MQTT connected")
	})

	return opts
}

func newPublisher(client broker, cfg Config) *Publisher {
	size := cfg.QueueSize
	if size <= 0 {
		size = defaultQueueSize
	}
	log := cfg.Logger
	if log == nil {
		log = logrus.WithField("component", "events")
	}
	p := &Publisher{
		client: client,
		prefix: cfg.TopicPrefix,
		qos:    byte(cfg.QoS),
		log:    log,
		queue:  make(chan entity.Event, size),
		done:   make(chan struct{}),
	}
	go p.loop()
	return p
}

// Publish enqueues ev. It is safe to call after Close.
func (p *Publisher) Publish(ev entity.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	select {
	case p.queue <- ev:
	default:
		p.dropped++
		p.log.WithFields(logrus.Fields{
			"controller_id": ev.ControllerID,
			"kind":          ev.Kind,
			"dropped":       p.dropped,
		}).Warn("Event queue full, dropping event")
	}
}

// Dropped returns how many events were discarded because the queue was full.
func (p *Publisher) Dropped() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dropped
}

func (p *Publisher) loop() {
	defer close(p.done)
	for ev := range p.queue {
		if err := p.send(ev); err != nil {
			p.log.WithError(err).WithField("controller_id", ev.ControllerID).Warn("Failed to publish event")
		}
	}
}

func (p *Publisher) send(ev entity.Event) error {
	payload, err := Payload(ev)
	if err != nil {
		return err
	}
	topic := Topic(p.prefix, ev)
	token := p.client.Publish(topic, p.qos, false, payload)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("publish %s: timeout after %v", topic, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// Close flushes queued events and disconnects from the broker.
func (p *Publisher) Close() error {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		close(p.queue)
		p.mu.Unlock()

		<-p.done
		p.client.Disconnect(defaultDisconnectQuiesce)
	})
	return nil
}

// Topic returns {prefix}/{controllerId}/{kind}. MQTT wildcards and separators
// in the controller id are replaced with underscores.
func Topic(prefix string, ev entity.Event) string {
	id := strings.NewReplacer("/", "_", "+", "_", "#", "_").Replace(ev.ControllerID)
	if id == "" {
		id = "_"
	}
	parts := []string{id, string(ev.Kind)}
	if p := strings.Trim(prefix, "/"); p != "" {
		parts = append([]string{p}, parts...)
	}
	return strings.Join(parts, "/")
}

// Payload encodes ev as JSON.
func Payload(ev entity.Event) ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encode event: %w", err)
	}
	return data, nil
}
