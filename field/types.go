package field

import (
	"time"

	"github.com/paulmach/orb"
)

// Geometry is a GeoJSON-shaped polygon as it appears in field exports and
// API responses: an ordered list of rings, each ring an ordered list of
// [longitude, latitude] pairs. The first ring is the outer boundary.
type Geometry struct {
	Type        string        `json:"type"`
	Coordinates [][][]float64 `json:"coordinates"`
}

// Field represents one farm parcel. The validated polygon is built once when
// the field enters the store; queries never re-check coordinate pairs.
type Field struct {
	ID       int      `json:"id"`
	Name     string   `json:"name"`
	Geometry Geometry `json:"polygon"`

	// Polygon is the sanitized orb form of Geometry, populated at the
	// store-write boundary. Not serialized.
	Polygon orb.Polygon `json:"-"`
}

// LatLng is a map-display coordinate pair. This is the only coordinate shape
// the HTTP layer and renderer consume.
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// ReadingKind distinguishes the two device reading variants.
type ReadingKind string

const (
	KindReel     ReadingKind = "reel"
	KindPressure ReadingKind = "pressure"
)

// Reading is the most recent status reported by one device. Reel readings
// carry a run speed, pressure readings carry a value in kilopascals.
type Reading struct {
	Kind     ReadingKind `json:"kind"`
	State    string      `json:"state"`
	RunSpeed string      `json:"runSpeed,omitempty"` // reel only, e.g. "18 m/h"
	Pressure float64     `json:"pressure,omitempty"` // pressure only, kPa
}

// DeviceEvent is the latest-readings snapshot for one field: a mapping from
// device name to its most recent reading.
type DeviceEvent struct {
	FieldName  string             `json:"fieldName"`
	Devices    map[string]Reading `json:"devices"`
	ReceivedAt time.Time          `json:"receivedAt"`
}

// FetchStatus tracks a collection's fetch lifecycle. Transitions are
// unstarted -> pending -> fulfilled|rejected and terminal once settled.
type FetchStatus int

const (
	FetchUnstarted FetchStatus = iota
	FetchPending
	FetchFulfilled
	FetchRejected
)

// String returns the lowercase status name.
func (s FetchStatus) String() string {
	switch s {
	case FetchPending:
		return "pending"
	case FetchFulfilled:
		return "fulfilled"
	case FetchRejected:
		return "rejected"
	default:
		return "unstarted"
	}
}

// Settled reports whether the status is terminal.
func (s FetchStatus) Settled() bool {
	return s == FetchFulfilled || s == FetchRejected
}

// DeviceConfig binds a physical device to its MQTT topic and field.
type DeviceConfig struct {
	Name  string      `yaml:"name" json:"name"`
	Topic string      `yaml:"topic" json:"topic"`
	Field string      `yaml:"field" json:"field"`
	Kind  ReadingKind `yaml:"kind" json:"kind"`
}

// MQTTConfig holds MQTT connection settings.
type MQTTConfig struct {
	Broker        string `yaml:"broker" json:"broker"`
	PublishPrefix string `yaml:"publishPrefix" json:"publishPrefix"`
	ClientID      string `yaml:"clientId" json:"clientId"`
	Username      string `yaml:"username,omitempty" json:"username,omitempty"`
	Password      string `yaml:"password,omitempty" json:"password,omitempty"`
}

// FieldStyle overrides the rendered colors for one field.
type FieldStyle struct {
	Field string `yaml:"field" json:"field"`
	Color string `yaml:"color" json:"color"` // hex fill color, e.g. "#6B8E23"
}

// RenderConfig holds map rendering options.
type RenderConfig struct {
	PaddingMeters float64      `yaml:"paddingMeters,omitempty" json:"paddingMeters,omitempty"` // margin around field bounds (default 50)
	Styles        []FieldStyle `yaml:"styles,omitempty" json:"styles,omitempty"`
}

// Config represents the full configuration file.
type Config struct {
	MQTT         MQTTConfig     `yaml:"mqtt" json:"mqtt"`
	Devices      []DeviceConfig `yaml:"devices" json:"devices"`
	SnapshotPath string         `yaml:"snapshotPath,omitempty" json:"snapshotPath,omitempty"` // field snapshot cache file; empty disables
	Render       RenderConfig   `yaml:"render,omitempty" json:"render,omitempty"`
}

// DeviceByName returns the device config for the given name.
func (c *Config) DeviceByName(name string) *DeviceConfig {
	for i := range c.Devices {
		if c.Devices[i].Name == name {
			return &c.Devices[i]
		}
	}
	return nil
}

// DevicesForField returns all devices associated with a field name.
func (c *Config) DevicesForField(fieldName string) []DeviceConfig {
	var out []DeviceConfig
	for _, d := range c.Devices {
		if d.Field == fieldName {
			out = append(out, d)
		}
	}
	return out
}
