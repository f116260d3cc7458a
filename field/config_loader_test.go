package field

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const validConfigYAML = `
mqtt:
  broker: "tcp://localhost:1883"
  publishPrefix: "fieldmesh"
  clientId: "fieldmesh-test"
devices:
  - name: "Reel-1"
    topic: "farm/north/reel1/status"
    field: "North"
    kind: "reel"
  - name: "Pump-1"
    topic: "farm/north/pump1/status"
    field: "North"
    kind: "pressure"
snapshotPath: "cache/fields.json"
render:
  paddingMeters: 75
  styles:
    - field: "North"
      color: "#6B8E23"
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("writing config fixture: %v", err)
	}
	return path
}

// ---------------------------------------------------------------------------
// LoadConfig
// ---------------------------------------------------------------------------

func TestLoadConfig_Valid(t *testing.T) {
	config, err := LoadConfig(writeConfig(t, validConfigYAML))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if config.MQTT.Broker != "tcp://localhost:1883" {
		t.Errorf("Broker = %q", config.MQTT.Broker)
	}
	if len(config.Devices) != 2 {
		t.Fatalf("len(Devices) = %d, want 2", len(config.Devices))
	}
	if config.Devices[0].Kind != KindReel || config.Devices[1].Kind != KindPressure {
		t.Errorf("device kinds = %q, %q", config.Devices[0].Kind, config.Devices[1].Kind)
	}
	if config.SnapshotPath != "cache/fields.json" {
		t.Errorf("SnapshotPath = %q", config.SnapshotPath)
	}
	if config.Render.PaddingMeters != 75 {
		t.Errorf("PaddingMeters = %f, want 75", config.Render.PaddingMeters)
	}
}

func TestLoadConfig_Missing(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("err = %v, want not-found error", err)
	}
}

func TestLoadConfig_BadYAML(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, "devices: [not: closed"))
	if err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoadConfig_Validation(t *testing.T) {
	cases := []struct {
		name    string
		body    string
		wantErr string
	}{
		{
			"missing device name",
			"devices:\n  - topic: t\n    field: f\n    kind: reel\n",
			"name is required",
		},
		{
			"missing field",
			"devices:\n  - name: d\n    topic: t\n    kind: reel\n",
			"field is required",
		},
		{
			"missing kind",
			"devices:\n  - name: d\n    topic: t\n    field: f\n",
			"kind is required",
		},
		{
			"unknown kind",
			"devices:\n  - name: d\n    topic: t\n    field: f\n    kind: sprinkler\n",
			"not one of",
		},
		{
			"topic required with broker",
			"mqtt:\n  broker: tcp://x:1883\ndevices:\n  - name: d\n    field: f\n    kind: reel\n",
			"topic is required",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tc.body))
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("err = %v, want containing %q", err, tc.wantErr)
			}
		})
	}
}

func TestLoadConfig_TopicOptionalWithoutBroker(t *testing.T) {
	body := "devices:\n  - name: d\n    field: f\n    kind: reel\n"
	config, err := LoadConfig(writeConfig(t, body))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if len(config.Devices) != 1 {
		t.Errorf("len(Devices) = %d, want 1", len(config.Devices))
	}
}

// ---------------------------------------------------------------------------
// SaveConfig
// ---------------------------------------------------------------------------

func TestSaveConfig_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.yaml")
	original := &Config{
		MQTT: MQTTConfig{Broker: "tcp://broker:1883", ClientID: "c1"},
		Devices: []DeviceConfig{
			{Name: "Reel-2", Topic: "farm/south/reel2/status", Field: "South", Kind: KindReel},
		},
	}
	if err := SaveConfig(path, original); err != nil {
		t.Fatalf("SaveConfig: %v", err)
	}

	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if loaded.MQTT.Broker != original.MQTT.Broker {
		t.Errorf("Broker = %q", loaded.MQTT.Broker)
	}
	if len(loaded.Devices) != 1 || loaded.Devices[0].Name != "Reel-2" {
		t.Errorf("Devices = %+v", loaded.Devices)
	}
}

// ---------------------------------------------------------------------------
// Config helpers
// ---------------------------------------------------------------------------

func TestConfig_DeviceHelpers(t *testing.T) {
	config := &Config{Devices: []DeviceConfig{
		{Name: "Reel-1", Field: "North", Kind: KindReel},
		{Name: "Pump-1", Field: "North", Kind: KindPressure},
		{Name: "Reel-2", Field: "South", Kind: KindReel},
	}}

	if d := config.DeviceByName("Pump-1"); d == nil || d.Field != "North" {
		t.Errorf("DeviceByName(Pump-1) = %+v", d)
	}
	if d := config.DeviceByName("ghost"); d != nil {
		t.Errorf("DeviceByName(ghost) = %+v, want nil", d)
	}

	north := config.DevicesForField("North")
	if len(north) != 2 {
		t.Errorf("len(DevicesForField(North)) = %d, want 2", len(north))
	}
	if len(config.DevicesForField("West")) != 0 {
		t.Error("DevicesForField(West) should be empty")
	}
}
