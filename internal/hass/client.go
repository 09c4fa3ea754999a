package hass

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/supergoudvis116/joule-connector/internal/config"
)

// Handler receives messages for a subscription.
type Handler func(topic string, payload []byte)

// Credentials is the MQTT credentials file.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func LoadCredentials(path string) (Credentials, error) {
	if path == "" {
		return Credentials{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Credentials{}, fmt.Errorf("read mqtt credentials: %w", err)
	}
	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return Credentials{}, fmt.Errorf("decode mqtt credentials: %w", err)
	}
	return creds, nil
}

// Timeouts for broker round trips. With connect retry enabled paho keeps
// dialing in the background after ConnectWait expires.
var (
	ConnectWait   = 10 * time.Second
	OperationWait = 5 * time.Second
	ErrTimeout    = errors.New("mqtt operation timed out")
)

// Client is a paho connection that keeps the bridge availability topic
// current and restores subscriptions after reconnects.
type Client struct {
	client       mqtt.Client
	qos          byte
	availability string
	logger       *zap.Logger

	mu   sync.Mutex
	subs map[string]Handler
}

// Connect dials the broker. It waits at most ConnectWait; an unreachable
// broker is retried in the background and subscriptions are made once it
// answers. The availability topic is set to offline by the broker if the
// connection drops.
func Connect(cfg *config.MQTTConfig, logger *zap.Logger) (*Client, error) {
	if cfg == nil || cfg.Broker == "" {
		return nil, fmt.Errorf("mqtt broker is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	creds, err := LoadCredentials(cfg.CredentialsFile)
	if err != nil {
		return nil, err
	}

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "joule-connector-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	}

	c := &Client{
		qos:          byte(cfg.QoS),
		availability: AvailabilityTopic(cfg.BaseTopic),
		logger:       logger,
		subs:         map[string]Handler{},
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(clientID)
	opts.SetUsername(creds.Username)
	opts.SetPassword(creds.Password)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetConnectTimeout(10 * time.Second)
	opts.SetOrderMatters(false)
	opts.SetWill(c.availability, PayloadOffline, c.qos, true)
	opts.OnConnect = func(client mqtt.Client) {
		logger.Info("mqtt connected", zap.String("broker", cfg.Broker))
		client.Publish(c.availability, c.qos, true, PayloadOnline)
		c.resubscribeAll(client)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		logger.Warn("mqtt connection lost", zap.Error(err))
	}

	client := mqtt.NewClient(opts)
	c.client = client
	token := client.Connect()
	if !token.WaitTimeout(ConnectWait) {
		logger.Warn("mqtt broker unreachable, retrying in background", zap.String("broker", cfg.Broker))
		return c, nil
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}
	return c, nil
}

func (c *Client) Publish(topic string, retained bool, payload []byte) error {
	return wait(c.client.Publish(topic, c.qos, retained, payload))
}

func wait(token mqtt.Token) error {
	if !token.WaitTimeout(OperationWait) {
		return ErrTimeout
	}
	return token.Error()
}

// Subscribe registers handler for a topic filter; wildcards are allowed.
// While the broker is unreachable the subscription is made on connect.
func (c *Client) Subscribe(topic string, handler Handler) error {
	c.mu.Lock()
	c.subs[topic] = handler
	c.mu.Unlock()

	if !c.client.IsConnectionOpen() {
		return nil
	}
	return wait(c.client.Subscribe(topic, c.qos, c.callback(handler)))
}

// Close marks the bridge offline and disconnects.
func (c *Client) Close() {
	if c.client == nil {
		return
	}
	_ = c.Publish(c.availability, true, []byte(PayloadOffline))
	c.client.Disconnect(250)
}

func (c *Client) callback(handler Handler) mqtt.MessageHandler {
	return func(_ mqtt.Client, msg mqtt.Message) {
		handler(msg.Topic(), msg.Payload())
	}
}

func (c *Client) resubscribeAll(client mqtt.Client) {
	c.mu.Lock()
	subs := make(map[string]Handler, len(c.subs))
	for topic, handler := range c.subs {
		subs[topic] = handler
	}
	c.mu.Unlock()

	for topic, handler := range subs {
		if err := wait(client.Subscribe(topic, c.qos, c.callback(handler))); err != nil {
			c.logger.Warn("mqtt resubscribe failed", zap.String("topic", topic), zap.Error(err))
		}
	}
}
