// Package bus bridges vehicle state and command results to an MQTT message bus.
//
// Topic strings are constructed here and nowhere else. The rest of the module hands this package
// opaque key/value payloads and never sees broker details.
package bus

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"os"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/vehiclelink/vehiclelink/internal/log"
)

// Config defines the connection parameters for the MQTT client.
type Config struct {
	Broker          string `json:"broker"`
	ClientID        string `json:"client_id"`
	Username        string `json:"username"`
	Password        string `json:"password"`
	TopicPrefix     string `json:"topic_prefix"`
	DiscoveryPrefix string `json:"discovery_prefix"`
	QoS             byte   `json:"qos"`
	UseTLS          bool   `json:"use_tls"`
	ClientCert      string `json:"client_cert"`
	ClientKey       string `json:"client_key"`
	CABundle        string `json:"ca_bundle"`
}

// SetDefaults applies fallback values for optional fields.
func (c *Config) SetDefaults() {
	if c.ClientID == "" {
		c.ClientID = "vehiclelink"
	}
	if c.TopicPrefix == "" {
		c.TopicPrefix = "vehiclelink"
	}
	if c.DiscoveryPrefix == "" {
		c.DiscoveryPrefix = "homeassistant"
	}
}

// Validate checks mandatory fields.
func (c Config) Validate() error {
	if c.Broker == "" {
		return fmt.Errorf("mqtt broker is required")
	}
	if c.QoS > 2 {
		return fmt.Errorf("invalid qos %d", c.QoS)
	}
	return nil
}

// loadTLSConfig loads the TLS configuration from the file paths in the config.
func (c Config) loadTLSConfig() (*tls.Config, error) {
	if c.ClientCert == "" || c.ClientKey == "" || c.CABundle == "" {
		return nil, fmt.Errorf("tls config requires client_cert, client_key and ca_bundle")
	}
	cert, err := tls.LoadX509KeyPair(c.ClientCert, c.ClientKey)
	if err != nil {
		return nil, fmt.Errorf("load cert: %w", err)
	}
	caBytes, err := os.ReadFile(c.CABundle)
	if err != nil {
		return nil, fmt.Errorf("read ca: %w", err)
	}
	pool := x509.NewCertPool()
	pool.AppendCertsFromPEM(caBytes)
	return &tls.Config{Certificates: []tls.Certificate{cert}, RootCAs: pool, MinVersion: tls.VersionTLS12}, nil
}

// pahoClient is the slice of the Paho API the Client uses, separated for testing.
type pahoClient interface {
	IsConnected() bool
	Connect() paho.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
}

var newMQTTClient = func(opts *paho.ClientOptions) pahoClient {
	return paho.NewClient(opts)
}

// publishTimeout bounds broker round trips so a dead broker cannot wedge the bridge.
const publishTimeout = 10 * time.Second

// Client publishes vehicle state to the bus and receives command requests from it.
type Client struct {
	cli             pahoClient
	topicPrefix     string
	discoveryPrefix string
	qos             byte
}

// Connect dials the broker and returns a connected Client.
func Connect(cfg Config) (*Client, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	opts, err := newClientOptions(cfg)
	if err != nil {
		return nil, err
	}

	opts.OnConnect = func(paho.Client) {
		log.Info("connected to message bus at %s", cfg.Broker)
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		log.Error("message bus connection lost: %s", err)
	}
	opts.OnReconnecting = func(paho.Client, *paho.ClientOptions) {
		log.Warning("reconnecting to message bus")
	}

	c := newMQTTClient(opts)
	if token := c.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	return &Client{
		cli:             c,
		topicPrefix:     cfg.TopicPrefix,
		discoveryPrefix: cfg.DiscoveryPrefix,
		qos:             cfg.QoS,
	}, nil
}

func newClientOptions(cfg Config) (*paho.ClientOptions, error) {
	opts := paho.NewClientOptions().AddBroker(cfg.Broker).SetClientID(cfg.ClientID)
	opts.AutoReconnect = true
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	if cfg.UseTLS {
		tlsCfg, err := cfg.loadTLSConfig()
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsCfg)
	}
	return opts, nil
}

func (c *Client) statusTopic(vin string) string {
	return fmt.Sprintf("%s/%s/status", c.topicPrefix, vin)
}

func (c *Client) resultTopic(vin string) string {
	return fmt.Sprintf("%s/%s/result", c.topicPrefix, vin)
}

func (c *Client) commandTopic(vin string) string {
	return fmt.Sprintf("%s/%s/command", c.topicPrefix, vin)
}

// Result reports the outcome of a command request back to the bus.
type Result struct {
	Command          string `json:"command"`
	Success          bool   `json:"success"`
	Error            string `json:"error,omitempty"`
	MayHaveSucceeded bool   `json:"may_have_succeeded,omitempty"`
}

// CommandRequest is the payload clients publish to a vehicle's command topic.
type CommandRequest struct {
	Command string            `json:"command"`
	Params  map[string]string `json:"params,omitempty"`
}

func (c *Client) publishJSON(topic string, v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	log.Debug("publishing to %s", topic)
	return waitTimeout(c.cli.Publish(topic, c.qos, false, payload), publishTimeout)
}

// PublishResult reports a command outcome on the vehicle's result topic.
func (c *Client) PublishResult(vin string, result Result) error {
	return c.publishJSON(c.resultTopic(vin), result)
}

// PublishStatus publishes opaque key/value vehicle state on the vehicle's status topic.
func (c *Client) PublishStatus(vin string, values map[string]string) error {
	return c.publishJSON(c.statusTopic(vin), values)
}

// PublishDiscovery announces an entity under the home-automation discovery prefix so that the
// vehicle's controls appear without manual broker configuration.
func (c *Client) PublishDiscovery(component, name string, config map[string]interface{}) error {
	topic := fmt.Sprintf("%s/%s/%s/config", c.discoveryPrefix, component, name)
	return c.publishJSON(topic, config)
}

// AnnounceVehicle publishes discovery entries for a vehicle's controls so that home-automation
// frontends watching the discovery prefix render them without manual configuration.
func (c *Client) AnnounceVehicle(vin string) error {
	entities := []struct {
		component string
		name      string
		config    map[string]interface{}
	}{
		{"lock", vin + "_doors", map[string]interface{}{
			"name":           "Doors",
			"unique_id":      vin + "_doors",
			"command_topic":  c.commandTopic(vin),
			"state_topic":    c.statusTopic(vin),
			"payload_lock":   `{"command":"lock"}`,
			"payload_unlock": `{"command":"unlock"}`,
		}},
		{"switch", vin + "_charging", map[string]interface{}{
			"name":          "Charging",
			"unique_id":     vin + "_charging",
			"command_topic": c.commandTopic(vin),
			"state_topic":   c.statusTopic(vin),
			"payload_on":    `{"command":"charge_start"}`,
			"payload_off":   `{"command":"charge_stop"}`,
		}},
		{"switch", vin + "_climate", map[string]interface{}{
			"name":          "Climate",
			"unique_id":     vin + "_climate",
			"command_topic": c.commandTopic(vin),
			"state_topic":   c.statusTopic(vin),
			"payload_on":    `{"command":"climate_on"}`,
			"payload_off":   `{"command":"climate_off"}`,
		}},
	}
	for _, entity := range entities {
		if err := c.PublishDiscovery(entity.component, entity.name, entity.config); err != nil {
			return err
		}
	}
	return nil
}

// SubscribeCommands registers handler for command requests addressed to vin. Malformed payloads
// are logged and dropped.
func (c *Client) SubscribeCommands(vin string, handler func(CommandRequest)) error {
	topic := c.commandTopic(vin)
	log.Info("subscribing to commands on %s", topic)
	token := c.cli.Subscribe(topic, c.qos, func(_ paho.Client, msg paho.Message) {
		var request CommandRequest
		if err := json.Unmarshal(msg.Payload(), &request); err != nil {
			log.Error("dropping malformed command request on %s: %s", msg.Topic(), err)
			return
		}
		if request.Command == "" {
			log.Error("dropping command request without a command name on %s", msg.Topic())
			return
		}
		handler(request)
	})
	return waitTimeout(token, publishTimeout)
}

// Close gracefully disconnects from the broker.
func (c *Client) Close() {
	if c.cli != nil && c.cli.IsConnected() {
		c.cli.Disconnect(250)
	}
}

func waitTimeout(token paho.Token, d time.Duration) error {
	if !token.WaitTimeout(d) {
		return fmt.Errorf("message bus operation timed out")
	}
	return token.Error()
}
