package field

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Publisher republishes per-field latest readings to MQTT so other dashboard
// consumers can subscribe to the aggregated view instead of raw device
// topics.
type Publisher struct {
	client        mqtt.Client
	publishPrefix string
	qos           byte
	retain        bool
	latest        map[string]DeviceEvent
	mu            sync.RWMutex
}

// NewPublisher creates a new summary publisher.
// If client is nil, publishing is disabled (for testing).
func NewPublisher(client mqtt.Client, configPrefix string) *Publisher {
	prefix := os.Getenv("MQTT_PUBLISH_PREFIX")
	if prefix == "" {
		prefix = configPrefix
	}
	if prefix == "" {
		prefix = "fieldmesh"
	}

	return &Publisher{
		client:        client,
		publishPrefix: prefix,
		qos:           0,    // QoS 0 for summary updates (fire and forget)
		retain:        true, // Retain for latest summary
		latest:        make(map[string]DeviceEvent),
	}
}

// PublishFieldSummary publishes one field's latest readings to MQTT.
// Publishes to both the per-field topic and the combined fields topic.
func (p *Publisher) PublishFieldSummary(event DeviceEvent) error {
	if p.client == nil || !p.client.IsConnected() {
		return fmt.Errorf("MQTT client not connected")
	}

	p.mu.Lock()
	p.latest[event.FieldName] = event
	p.mu.Unlock()

	// Publish to per-field topic: fieldmesh/{fieldName}
	if err := p.publishField(event); err != nil {
		log.Printf("Error publishing summary for %s: %v", event.FieldName, err)
		return err
	}

	// Publish to combined topic: fieldmesh/fields
	if err := p.publishCombined(); err != nil {
		log.Printf("Error publishing combined field summaries: %v", err)
		return err
	}

	return nil
}

// publishField publishes a single field summary to its individual topic.
func (p *Publisher) publishField(event DeviceEvent) error {
	topic := fmt.Sprintf("%s/%s", p.publishPrefix, topicSegment(event.FieldName))

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling field summary: %w", err)
	}

	token := p.client.Publish(topic, p.qos, p.retain, payload)
	token.Wait()
	return token.Error()
}

// publishCombined publishes all known field summaries to the combined topic.
func (p *Publisher) publishCombined() error {
	p.mu.RLock()
	combined := make([]DeviceEvent, 0, len(p.latest))
	for _, ev := range p.latest {
		combined = append(combined, ev)
	}
	p.mu.RUnlock()

	payload, err := json.Marshal(combined)
	if err != nil {
		return fmt.Errorf("marshaling combined summaries: %w", err)
	}

	topic := fmt.Sprintf("%s/fields", p.publishPrefix)
	token := p.client.Publish(topic, p.qos, p.retain, payload)
	token.Wait()
	return token.Error()
}

// topicSegment makes a field name safe for use as an MQTT topic level.
func topicSegment(name string) string {
	name = strings.ReplaceAll(name, "/", "-")
	name = strings.ReplaceAll(name, "+", "-")
	name = strings.ReplaceAll(name, "#", "-")
	return strings.ReplaceAll(name, " ", "-")
}
