package field

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// ReadingHandler is called when a device status message is received.
// Parameters: device config, decoded reading, error. On decode failure the
// reading is zero-valued and err describes the problem.
type ReadingHandler func(device DeviceConfig, reading Reading, err error)

// MQTTClient manages the MQTT connection and per-device subscriptions for
// live telemetry.
type MQTTClient struct {
	client         mqtt.Client
	config         *Config
	readingHandler ReadingHandler
	isConnected    bool
	mu             sync.RWMutex
}

var (
	globalClient *MQTTClient
	clientMu     sync.Mutex
)

// InitMQTT initializes the global MQTT client with the provided configuration.
// If neither the MQTT_BROKER env var nor config.mqtt.broker is set, MQTT is
// disabled and this returns nil.
func InitMQTT(config *Config, handler ReadingHandler) (*MQTTClient, error) {
	clientMu.Lock()
	defer clientMu.Unlock()

	broker := os.Getenv("MQTT_BROKER")
	if broker == "" && config != nil && config.MQTT.Broker != "" {
		broker = config.MQTT.Broker
	}

	if broker == "" {
		log.Println("MQTT disabled: MQTT_BROKER not set")
		return nil, nil
	}

	if config == nil || len(config.Devices) == 0 {
		return nil, fmt.Errorf("MQTT enabled but no device configuration provided")
	}

	client := &MQTTClient{
		config:         config,
		readingHandler: handler,
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)

	clientID := os.Getenv("MQTT_CLIENT_ID")
	if clientID == "" && config.MQTT.ClientID != "" {
		clientID = config.MQTT.ClientID
	}
	if clientID == "" {
		clientID = "fieldmesh"
	}
	opts.SetClientID(clientID)

	username := os.Getenv("MQTT_USERNAME")
	if username == "" && config.MQTT.Username != "" {
		username = config.MQTT.Username
	}
	if username != "" {
		opts.SetUsername(username)
		password := os.Getenv("MQTT_PASSWORD")
		if password == "" && config.MQTT.Password != "" {
			password = config.MQTT.Password
		}
		opts.SetPassword(password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)
	opts.SetKeepAlive(60 * time.Second)   // Longer than default 30s to reduce spurious disconnects
	opts.SetPingTimeout(10 * time.Second) // Timeout for ping response
	opts.SetCleanSession(false)           // Preserve subscriptions on reconnect
	opts.SetOrderMatters(false)           // Allow concurrent processing

	opts.SetOnConnectHandler(client.onConnect)
	opts.SetConnectionLostHandler(client.onConnectionLost)
	opts.SetReconnectingHandler(client.onReconnecting)

	client.client = mqtt.NewClient(opts)

	// Connect asynchronously with retry
	go client.connectWithRetry()

	globalClient = client
	return client, nil
}

// GetMQTTClient returns the global MQTT client instance.
func GetMQTTClient() *MQTTClient {
	clientMu.Lock()
	defer clientMu.Unlock()
	return globalClient
}

// connectWithRetry attempts to connect to the MQTT broker with exponential backoff.
func (c *MQTTClient) connectWithRetry() {
	retryDelay := 1 * time.Second
	maxRetryDelay := 60 * time.Second

	for {
		log.Println("Connecting to MQTT broker...")

		token := c.client.Connect()
		if token.WaitTimeout(10 * time.Second) {
			if token.Error() == nil {
				log.Println("Successfully connected to MQTT broker")
				c.setConnected(true)
				return
			}
			log.Printf("MQTT connection failed: %v", token.Error())
		} else {
			log.Println("MQTT connection timeout")
		}

		log.Printf("Retrying MQTT connection in %v...", retryDelay)
		time.Sleep(retryDelay)
		retryDelay *= 2
		if retryDelay > maxRetryDelay {
			retryDelay = maxRetryDelay
		}
	}
}

// onConnect is called when the MQTT connection is established.
func (c *MQTTClient) onConnect(client mqtt.Client) {
	log.Println("MQTT connected, subscribing to device topics...")
	c.setConnected(true)

	for _, device := range c.config.Devices {
		if device.Topic == "" {
			log.Printf("Warning: device %s has no topic configured", device.Name)
			continue
		}

		log.Printf("Subscribing to %s for device %s (%s)", device.Topic, device.Name, device.Field)
		token := client.Subscribe(device.Topic, 0, c.createReadingHandler(device))

		if token.WaitTimeout(5*time.Second) && token.Error() != nil {
			log.Printf("Error subscribing to %s: %v", device.Topic, token.Error())
		} else {
			log.Printf("Successfully subscribed to %s", device.Topic)
		}
	}
}

// onConnectionLost is called when the MQTT connection is lost.
// Auto-reconnect is enabled, so this is typically a transient event.
func (c *MQTTClient) onConnectionLost(client mqtt.Client, err error) {
	log.Printf("MQTT connection interrupted (%v), auto-reconnect will retry", err)
	c.setConnected(false)
}

// onReconnecting is called when the client attempts to reconnect.
func (c *MQTTClient) onReconnecting(client mqtt.Client, opts *mqtt.ClientOptions) {
	log.Println("MQTT reconnecting...")
}

// statusPayload is the wire shape of a device status message. Reel devices
// publish state and runSpeed; pressure devices publish state and pressure
// in kilopascals.
type statusPayload struct {
	State    string   `json:"state"`
	RunSpeed string   `json:"runSpeed,omitempty"`
	Pressure *float64 `json:"pressure,omitempty"`
}

// DecodeReading parses a device status payload into a Reading for the given
// device kind.
func DecodeReading(kind ReadingKind, payload []byte) (Reading, error) {
	var status statusPayload
	if err := json.Unmarshal(payload, &status); err != nil {
		return Reading{}, fmt.Errorf("parsing device status JSON: %w", err)
	}
	if status.State == "" {
		return Reading{}, fmt.Errorf("device status has no state")
	}

	reading := Reading{Kind: kind, State: status.State}
	switch kind {
	case KindReel:
		reading.RunSpeed = status.RunSpeed
	case KindPressure:
		if status.Pressure == nil {
			return Reading{}, fmt.Errorf("pressure status has no pressure value")
		}
		reading.Pressure = *status.Pressure
	default:
		return Reading{}, fmt.Errorf("unknown reading kind %q", kind)
	}
	return reading, nil
}

// createReadingHandler creates a handler function for a specific device's topic.
func (c *MQTTClient) createReadingHandler(device DeviceConfig) mqtt.MessageHandler {
	return func(client mqtt.Client, msg mqtt.Message) {
		payload := msg.Payload()
		log.Printf("Received status for %s (topic: %s, size: %d bytes)",
			device.Name, msg.Topic(), len(payload))

		reading, err := DecodeReading(device.Kind, payload)
		if err != nil {
			log.Printf("Error decoding status for %s: %v", device.Name, err)
			mqttMessages.WithLabelValues("decode_error").Inc()
			if c.readingHandler != nil {
				c.readingHandler(device, Reading{}, err)
			}
			return
		}

		mqttMessages.WithLabelValues("ok").Inc()
		if c.readingHandler != nil {
			c.readingHandler(device, reading, nil)
		}
	}
}

// IsConnected returns true if the MQTT client is connected.
func (c *MQTTClient) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isConnected
}

// setConnected updates the connection status.
func (c *MQTTClient) setConnected(connected bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.isConnected = connected
}

// Disconnect gracefully closes the MQTT connection.
func (c *MQTTClient) Disconnect() {
	if c.client != nil && c.client.IsConnected() {
		log.Println("Disconnecting from MQTT broker...")
		c.client.Disconnect(250) // 250ms quiesce time
		c.setConnected(false)
	}
}

// DeviceByTopic returns the device config for a given topic.
func (c *MQTTClient) DeviceByTopic(topic string) (DeviceConfig, bool) {
	for _, device := range c.config.Devices {
		if device.Topic == topic {
			return device, true
		}
	}
	return DeviceConfig{}, false
}

// GetClient returns the underlying MQTT client for publishing.
func (c *MQTTClient) GetClient() mqtt.Client {
	return c.client
}

// newMQTTClientWithMock creates an MQTTClient with a provided mqtt.Client.
// This is used for testing with mock clients.
func newMQTTClientWithMock(client mqtt.Client, config *Config, handler ReadingHandler) *MQTTClient {
	return &MQTTClient{
		client:         client,
		config:         config,
		readingHandler: handler,
	}
}
