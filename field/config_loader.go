package field

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadConfig loads the unified configuration from a YAML file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	// Validate device configs. The MQTT broker is optional: without it the
	// service runs on mocked/export data only.
	for i, dc := range config.Devices {
		if dc.Name == "" {
			return nil, fmt.Errorf("device[%d].name is required", i)
		}
		if dc.Field == "" {
			return nil, fmt.Errorf("device[%d].field is required for %s", i, dc.Name)
		}
		if config.MQTT.Broker != "" && dc.Topic == "" {
			return nil, fmt.Errorf("device[%d].topic is required for %s when mqtt is enabled", i, dc.Name)
		}
		switch dc.Kind {
		case KindReel, KindPressure:
		case "":
			return nil, fmt.Errorf("device[%d].kind is required for %s", i, dc.Name)
		default:
			return nil, fmt.Errorf("device[%d].kind %q is not one of reel, pressure", i, dc.Kind)
		}
	}

	return &config, nil
}

// SaveConfig saves the configuration to a YAML file.
func SaveConfig(path string, config *Config) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("marshaling config YAML: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}
