package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfig(t *testing.T) {
	// Create a temporary directory for test files
	tempDir, err := os.MkdirTemp("", "config_test")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tempDir)

	t.Run("Valid Config", func(t *testing.T) {
		configYAML := `
radio:
  device: "/dev/ttyUSB0"
  baud_rate: 115200
  speaker: true

cat:
  port_path: "/tmp/test_cat"
  guard_frequency: "00007074000"
  tx_drain_ms: 150

audio:
  input_device: "USB Audio"
  output_device: "USB Audio"
  vox:
    enabled: true
    threshold_db: -25.0
    hang_ms: 600

supervisor:
  max_retries: 5
  backoff_initial_ms: 250

logging:
  level: "debug"
  file: "/tmp/trusdxd.log"
`
		configPath := filepath.Join(tempDir, "valid.yaml")
		if err := os.WriteFile(configPath, []byte(configYAML), 0644); err != nil {
			t.Fatalf("Failed to write test config: %v", err)
		}

		config, err := LoadConfig(configPath)
		if err != nil {
			t.Fatalf("LoadConfig failed: %v", err)
		}

		if config.Radio.Device != "/dev/ttyUSB0" {
			t.Errorf("Expected radio device '/dev/ttyUSB0', got '%s'", config.Radio.Device)
		}
		if config.Radio.BaudRate != 115200 {
			t.Errorf("Expected baud rate 115200, got %d", config.Radio.BaudRate)
		}
		if !config.Radio.Speaker {
			t.Error("Expected speaker to be enabled")
		}
		if config.CAT.PortPath != "/tmp/test_cat" {
			t.Errorf("Expected CAT port path '/tmp/test_cat', got '%s'", config.CAT.PortPath)
		}
		if config.CAT.TXDrainMs != 150 {
			t.Errorf("Expected TX drain 150, got %d", config.CAT.TXDrainMs)
		}
		if !config.Audio.VOX.Enabled {
			t.Error("Expected VOX to be enabled")
		}
		if config.Audio.VOX.ThresholdDB != -25.0 {
			t.Errorf("Expected VOX threshold -25.0, got %f", config.Audio.VOX.ThresholdDB)
		}
		if config.Supervisor.MaxRetries != 5 {
			t.Errorf("Expected max retries 5, got %d", config.Supervisor.MaxRetries)
		}
		if config.Logging.Level != "debug" {
			t.Errorf("Expected log level 'debug', got '%s'", config.Logging.Level)
		}
	})

	t.Run("Config With Defaults", func(t *testing.T) {
		configYAML := `
radio:
  device: "/dev/ttyUSB1"
`
		configPath := filepath.Join(tempDir, "minimal.yaml")
		if err := os.WriteFile(configPath, []byte(configYAML), 0644); err != nil {
			t.Fatalf("Failed to write test config: %v", err)
		}

		config, err := LoadConfig(configPath)
		if err != nil {
			t.Fatalf("LoadConfig failed: %v", err)
		}

		if config.Radio.BaudRate != 115200 {
			t.Errorf("Expected default baud rate 115200, got %d", config.Radio.BaudRate)
		}
		if config.Radio.WarmupMs != 2000 {
			t.Errorf("Expected default warmup 2000, got %d", config.Radio.WarmupMs)
		}
		if config.CAT.PortPath != "/tmp/trusdx_cat" {
			t.Errorf("Expected default port path '/tmp/trusdx_cat', got '%s'", config.CAT.PortPath)
		}
		if config.CAT.GuardFrequency != "00007074000" {
			t.Errorf("Expected default guard frequency '00007074000', got '%s'", config.CAT.GuardFrequency)
		}
		if config.Supervisor.RXTimeoutMs != 5000 {
			t.Errorf("Expected default RX timeout 5000, got %d", config.Supervisor.RXTimeoutMs)
		}
		if config.Supervisor.MaxRetries != 8 {
			t.Errorf("Expected default max retries 8, got %d", config.Supervisor.MaxRetries)
		}
		if config.PowerMonitor.IntervalMs != 3000 {
			t.Errorf("Expected default power poll interval 3000, got %d", config.PowerMonitor.IntervalMs)
		}
		if config.PowerMonitor.ZeroLimit != 3 {
			t.Errorf("Expected default zero limit 3, got %d", config.PowerMonitor.ZeroLimit)
		}
		if config.Web.Port != 8080 {
			t.Errorf("Expected default web port 8080, got %d", config.Web.Port)
		}
		if config.Logging.Level != "info" {
			t.Errorf("Expected default log level 'info', got '%s'", config.Logging.Level)
		}
		if config.Logging.MaxSize != 100 {
			t.Errorf("Expected default log max size 100, got %d", config.Logging.MaxSize)
		}
		if config.Audio.VOX.ThresholdDB != -30.0 {
			t.Errorf("Expected default VOX threshold -30.0, got %f", config.Audio.VOX.ThresholdDB)
		}
	})

	t.Run("File Not Found", func(t *testing.T) {
		_, err := LoadConfig(filepath.Join(tempDir, "nonexistent.yaml"))
		if err == nil {
			t.Error("Expected error for nonexistent file")
		}
	})

	t.Run("Invalid YAML", func(t *testing.T) {
		configPath := filepath.Join(tempDir, "invalid.yaml")
		if err := os.WriteFile(configPath, []byte("radio: [unclosed"), 0644); err != nil {
			t.Fatalf("Failed to write test config: %v", err)
		}

		_, err := LoadConfig(configPath)
		if err == nil {
			t.Error("Expected error for invalid YAML")
		}
	})

	t.Run("Empty File", func(t *testing.T) {
		configPath := filepath.Join(tempDir, "empty.yaml")
		if err := os.WriteFile(configPath, []byte(""), 0644); err != nil {
			t.Fatalf("Failed to write test config: %v", err)
		}

		config, err := LoadConfig(configPath)
		if err != nil {
			t.Fatalf("LoadConfig failed on empty file: %v", err)
		}

		// Defaults should still be applied
		if config.Radio.BaudRate != 115200 {
			t.Errorf("Expected default baud rate 115200, got %d", config.Radio.BaudRate)
		}
	})
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid mock config",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name: "valid device config",
			modify: func(c *Config) {
				c.Radio.UseMock = false
				c.Radio.Device = "/dev/ttyUSB0"
			},
			wantErr: false,
		},
		{
			name: "missing device without mock",
			modify: func(c *Config) {
				c.Radio.UseMock = false
				c.Radio.Device = ""
			},
			wantErr: true,
		},
		{
			name: "negative baud rate",
			modify: func(c *Config) {
				c.Radio.BaudRate = -1
			},
			wantErr: true,
		},
		{
			name: "short guard frequency",
			modify: func(c *Config) {
				c.CAT.GuardFrequency = "7074000"
			},
			wantErr: true,
		},
		{
			name: "non-numeric guard frequency",
			modify: func(c *Config) {
				c.CAT.GuardFrequency = "0000707400x"
			},
			wantErr: true,
		},
		{
			name: "zero max retries",
			modify: func(c *Config) {
				c.Supervisor.MaxRetries = 0
			},
			wantErr: true,
		},
		{
			name: "mqtt enabled without broker",
			modify: func(c *Config) {
				c.MQTT.Enabled = true
				c.MQTT.Broker = ""
			},
			wantErr: true,
		},
		{
			name: "web port out of range",
			modify: func(c *Config) {
				c.Web.Port = 70000
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.modify(config)
			err := config.Validate()
			if tt.wantErr && err == nil {
				t.Error("Expected validation error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("Expected no validation error, got: %v", err)
			}
		})
	}
}

func TestConfigIntegration(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "config_integration")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tempDir)

	configYAML := `
radio:
  device: "/dev/ttyACM0"
  baud_rate: 115200
  warmup_ms: 500

cat:
  guard_frequency: "00014074000"

power_monitor:
  disabled: true

mqtt:
  enabled: true
  broker: "tcp://localhost:1883"
  topic_prefix: "shack/trusdx"
`
	configPath := filepath.Join(tempDir, "integration.yaml")
	if err := os.WriteFile(configPath, []byte(configYAML), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	config, err := LoadConfig(configPath)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if err := config.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}

	if config.CAT.GuardFrequency != "00014074000" {
		t.Errorf("Expected guard frequency '00014074000', got '%s'", config.CAT.GuardFrequency)
	}
	if !config.PowerMonitor.Disabled {
		t.Error("Expected power monitor to be disabled")
	}
	if config.MQTT.TopicPrefix != "shack/trusdx" {
		t.Errorf("Expected topic prefix 'shack/trusdx', got '%s'", config.MQTT.TopicPrefix)
	}
	// Sections absent from the file keep their defaults
	if config.Supervisor.BackoffInitialMs != 500 {
		t.Errorf("Expected default backoff 500, got %d", config.Supervisor.BackoffInitialMs)
	}
}
