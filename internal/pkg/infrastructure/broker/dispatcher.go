package broker

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	mqtt "github.com/eclipse/paho.mqtt.golang"
)

var ErrBrokerUnavailable = errors.New("broker unavailable")

type State int32

const (
	StateInit State = iota
	StateConnecting
	StateConnected
	StateSubscribed
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateSubscribed:
		return "subscribed"
	case StateDisconnected:
		return "disconnected"
	}
	return "init"
}

type Config struct {
	Host     string
	Port     int
	ClientID string
	Username string
	Password string

	UseTLS    bool
	TLSConfig *tls.Config

	KeepAlive            time.Duration
	ReconnectMaxInterval time.Duration
	ConnectTimeout       time.Duration
	PublishTimeout       time.Duration
	DrainTimeout         time.Duration

	QueueSize int
	Workers   int

	Schema Schema
}

func (c Config) withDefaults() Config {
	if c.ClientID == "" {
		c.ClientID = "iot-telemetry"
	}
	if c.KeepAlive <= 0 {
		c.KeepAlive = 60 * time.Second
	}
	if c.ReconnectMaxInterval <= 0 {
		c.ReconnectMaxInterval = 2 * time.Minute
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = time.Second
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = 10 * time.Second
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 1024
	}
	if c.Workers <= 0 {
		c.Workers = runtime.NumCPU()
	}
	return c
}

// A Message is one classified inbound broker message, ready for a
// handler.
type Message struct {
	Topic      Topic
	Payload    []byte
	ReceivedAt time.Time
	QoS        byte
	Retained   bool
}

type Handler func(ctx context.Context, m Message)

type outbound struct {
	topic   string
	qos     byte
	retain  bool
	payload []byte
}

// Dispatcher owns the broker connection. The paho network loop only
// parses, classifies and enqueues; handlers run on worker goroutines
// draining bounded per-kind queues.
type Dispatcher struct {
	cfg    Config
	schema Schema

	client mqtt.Client

	handlers map[Kind]Handler
	queues   map[Kind]*msgQueue

	outboundQ chan outbound

	state atomic.Int32

	malformedTopics   atomic.Uint64
	malformedPayloads atomic.Uint64
	droppedPublishes  atomic.Uint64

	stopping atomic.Bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

func New(cfg Config) *Dispatcher {
	cfg = cfg.withDefaults()

	d := &Dispatcher{
		cfg:       cfg,
		schema:    cfg.Schema,
		handlers:  map[Kind]Handler{},
		queues:    map[Kind]*msgQueue{},
		outboundQ: make(chan outbound, 256),
	}

	for _, k := range []Kind{KindTelemetry, KindStatus, KindHeartbeat, KindSystem, KindDiscovery} {
		d.queues[k] = newMsgQueue(cfg.QueueSize)
	}

	return d
}

// RegisterHandler binds a handler to a message kind. Must be called
// before Start.
func (d *Dispatcher) RegisterHandler(kind Kind, h Handler) {
	d.handlers[kind] = h
}

func (d *Dispatcher) State() State {
	return State(d.state.Load())
}

func (d *Dispatcher) Start(ctx context.Context) error {
	log := logging.GetFromContext(ctx)

	workerCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	d.cancel = cancel

	scheme := "tcp"
	if d.cfg.UseTLS {
		scheme = "ssl"
	}

	opts := mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("%s://%s:%d", scheme, d.cfg.Host, d.cfg.Port)).
		SetClientID(d.cfg.ClientID).
		SetUsername(d.cfg.Username).
		SetPassword(d.cfg.Password).
		SetKeepAlive(d.cfg.KeepAlive).
		SetCleanSession(false).
		SetAutoReconnect(true).
		SetMaxReconnectInterval(d.cfg.ReconnectMaxInterval).
		SetOrderMatters(false)

	if d.cfg.TLSConfig != nil {
		opts.SetTLSConfig(d.cfg.TLSConfig)
	}

	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		d.state.Store(int32(StateDisconnected))
		log.Warn("broker connection lost", "err", err.Error())
	})

	opts.SetReconnectingHandler(func(mqtt.Client, *mqtt.ClientOptions) {
		d.state.Store(int32(StateConnecting))
	})

	// resubscription happens before the dispatcher reports Subscribed,
	// so retained command deliveries are never missed by publishing on
	// a connection that has not restored its filters yet
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		d.state.Store(int32(StateConnected))

		token := c.SubscribeMultiple(d.schema.SubscriptionFilters(), d.onMessage(workerCtx))
		token.Wait()
		if token.Error() != nil {
			log.Error("resubscribe failed", "err", token.Error().Error())
			return
		}

		d.state.Store(int32(StateSubscribed))
		log.Info("subscribed to broker", "filters", len(d.schema.SubscriptionFilters()))
	})

	d.state.Store(int32(StateConnecting))
	d.client = mqtt.NewClient(opts)

	token := d.client.Connect()
	if !token.WaitTimeout(d.cfg.ConnectTimeout) {
		return fmt.Errorf("%w: connect timeout", ErrBrokerUnavailable)
	}
	if token.Error() != nil {
		return fmt.Errorf("%w: %s", ErrBrokerUnavailable, token.Error().Error())
	}

	for kind, q := range d.queues {
		workers := 1
		if kind == KindTelemetry {
			workers = d.cfg.Workers
		}
		for i := 0; i < workers; i++ {
			d.wg.Add(1)
			go d.drain(workerCtx, kind, q)
		}
	}

	d.wg.Add(1)
	go d.publishLoop(workerCtx)

	return nil
}

// Stop stops accepting new messages, drains the queues for up to the
// configured drain timeout and disconnects.
func (d *Dispatcher) Stop(ctx context.Context) {
	d.stopping.Store(true)

	deadline := time.Now().Add(d.cfg.DrainTimeout)
	for time.Now().Before(deadline) && !d.drained() {
		time.Sleep(50 * time.Millisecond)
	}

	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()

	if d.client != nil {
		d.client.Disconnect(250)
	}
	d.state.Store(int32(StateDisconnected))
}

func (d *Dispatcher) drained() bool {
	for _, q := range d.queues {
		if len(q.ch) > 0 {
			return false
		}
	}
	return true
}

// Publish enqueues an outbound message. It fails fast when the
// dispatcher is not subscribed or the outbound queue is full.
func (d *Dispatcher) Publish(ctx context.Context, topic string, qos byte, retain bool, payload []byte) error {
	if d.State() != StateSubscribed || d.stopping.Load() {
		return ErrBrokerUnavailable
	}

	select {
	case d.outboundQ <- outbound{topic: topic, qos: qos, retain: retain, payload: payload}:
		return nil
	default:
		d.droppedPublishes.Add(1)
		return fmt.Errorf("%w: outbound queue full", ErrBrokerUnavailable)
	}
}

type Stats struct {
	State             string
	MalformedTopics   uint64
	MalformedPayloads uint64
	DroppedPublishes  uint64
	Overflow          map[Kind]uint64
	QueueDepth        map[Kind]int
}

func (d *Dispatcher) Stats() Stats {
	s := Stats{
		State:             d.State().String(),
		MalformedTopics:   d.malformedTopics.Load(),
		MalformedPayloads: d.malformedPayloads.Load(),
		DroppedPublishes:  d.droppedPublishes.Load(),
		Overflow:          map[Kind]uint64{},
		QueueDepth:        map[Kind]int{},
	}
	for kind, q := range d.queues {
		s.Overflow[kind] = q.overflow.Load()
		s.QueueDepth[kind] = len(q.ch)
	}
	return s
}

// onMessage is the paho callback. It must never block the network
// loop: parse, classify, enqueue, return.
func (d *Dispatcher) onMessage(ctx context.Context) mqtt.MessageHandler {
	log := logging.GetFromContext(ctx)

	return func(_ mqtt.Client, m mqtt.Message) {
		if d.stopping.Load() {
			return
		}

		topic, err := d.schema.Parse(m.Topic())
		if err != nil {
			d.malformedTopics.Add(1)
			log.Debug("dropping message on unparseable topic", "topic", m.Topic())
			return
		}

		// telemetry and status require JSON payloads
		if topic.Kind == KindTelemetry || topic.Kind == KindStatus {
			if !json.Valid(m.Payload()) {
				d.malformedPayloads.Add(1)
				log.Debug("dropping non-json payload", "topic", m.Topic())
				return
			}
		}

		q, ok := d.queues[topic.Kind]
		if !ok {
			return
		}

		q.push(Message{
			Topic:      topic,
			Payload:    m.Payload(),
			ReceivedAt: time.Now().UTC(),
			QoS:        m.Qos(),
			Retained:   m.Retained(),
		})
	}
}

func (d *Dispatcher) drain(ctx context.Context, kind Kind, q *msgQueue) {
	defer d.wg.Done()

	handler, ok := d.handlers[kind]
	if !ok {
		handler = func(context.Context, Message) {}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case m := <-q.ch:
			handler(ctx, m)
		}
	}
}

func (d *Dispatcher) publishLoop(ctx context.Context) {
	defer d.wg.Done()

	log := logging.GetFromContext(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case o := <-d.outboundQ:
			token := d.client.Publish(o.topic, o.qos, o.retain, o.payload)
			if !token.WaitTimeout(d.cfg.PublishTimeout) || token.Error() != nil {
				d.droppedPublishes.Add(1)
				log.Warn("outbound publish failed", "topic", o.topic)
			}
		}
	}
}

// msgQueue is a bounded queue that drops the oldest message when
// full, so sustained overload sheds the stalest work and the
// network loop never blocks.
type msgQueue struct {
	ch       chan Message
	overflow atomic.Uint64
}

func newMsgQueue(size int) *msgQueue {
	return &msgQueue{ch: make(chan Message, size)}
}

func (q *msgQueue) push(m Message) {
	for {
		select {
		case q.ch <- m:
			return
		default:
			// head-drop: evict the oldest message and retry
			select {
			case <-q.ch:
				q.overflow.Add(1)
			default:
			}
		}
	}
}
