package mqtt

import (
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"
)

const inboundCapacity = 32

// PahoConfig holds broker client settings.
type PahoConfig struct {
	Broker         string
	ClientID       string
	Username       string
	Password       string
	WillTopic      string
	ConnectTimeout time.Duration // bound on Connect and Subscribe
	PublishTimeout time.Duration // bound on Publish
}

// PahoClient is a Client backed by the Eclipse Paho client. Automatic
// reconnection is disabled: the Session decides when to reconnect.
type PahoClient struct {
	client paho.Client
	cfg    PahoConfig
	log    logrus.FieldLogger

	mu    sync.Mutex
	inbox *ringBuffer
}

// NewPahoClient creates a client for cfg. No network IO is performed.
func NewPahoClient(cfg PahoConfig, log logrus.FieldLogger) *PahoClient {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 5 * time.Second
	}
	log = log.WithField("component", "paho")
	c := &PahoClient{
		cfg:   cfg,
		log:   log,
		inbox: newRingBuffer(inboundCapacity, log),
	}

	opts := paho.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(false).
		SetConnectRetry(false).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetWriteTimeout(cfg.PublishTimeout).
		SetKeepAlive(15*time.Second).
		SetOrderMatters(false).
		SetWill(cfg.WillTopic, PayloadOffline, 1, true).
		SetDefaultPublishHandler(c.onMessage).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			log.WithError(err).Warn("connection lost")
		})
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}

	c.client = paho.NewClient(opts)
	return c
}

func (c *PahoClient) onMessage(_ paho.Client, msg paho.Message) {
	c.mu.Lock()
	c.inbox.push(Message{Topic: msg.Topic(), Payload: msg.Payload()})
	c.mu.Unlock()
}

// Connect opens the session, waiting at most ConnectTimeout.
func (c *PahoClient) Connect() error {
	return c.wait(c.client.Connect(), c.cfg.ConnectTimeout, "connect")
}

// IsConnected reports whether the session is up.
func (c *PahoClient) IsConnected() bool {
	return c.client.IsConnectionOpen()
}

// Subscribe subscribes at QoS 1, waiting at most ConnectTimeout.
func (c *PahoClient) Subscribe(topic string) error {
	return c.wait(c.client.Subscribe(topic, 1, c.onMessage), c.cfg.ConnectTimeout, "subscribe "+topic)
}

// Publish sends payload at QoS 1, waiting at most PublishTimeout.
func (c *PahoClient) Publish(topic string, payload []byte, retained bool) error {
	return c.wait(c.client.Publish(topic, 1, retained, payload), c.cfg.PublishTimeout, "publish "+topic)
}

// Receive drains the inbound buffer.
func (c *PahoClient) Receive() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inbox.drainAll()
}

// Disconnect closes the session, waiting up to 250ms for in-flight work.
func (c *PahoClient) Disconnect() {
	if c.client.IsConnected() {
		c.client.Disconnect(250)
	}
}

func (c *PahoClient) wait(token paho.Token, timeout time.Duration, op string) error {
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("%s: timeout after %v", op, timeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// RouteLogs sends paho's internal warnings and errors to log.
func RouteLogs(log logrus.FieldLogger) {
	entry := log.WithField("component", "paho")
	paho.CRITICAL = entry
	paho.ERROR = entry
	paho.WARN = entry
}
