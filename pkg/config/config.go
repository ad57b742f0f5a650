package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// RadioConfig holds the physical truSDX serial connection settings.
type RadioConfig struct {
	Device   string `yaml:"device"`
	BaudRate int    `yaml:"baud_rate"`
	UseMock  bool   `yaml:"use_mock"`
	Speaker  bool   `yaml:"speaker"`
	WarmupMs int    `yaml:"warmup_ms"`
	SettleMs int    `yaml:"settle_ms"`
}

// CATConfig holds the client-facing CAT endpoint settings.
type CATConfig struct {
	PortPath         string `yaml:"port_path"`
	GuardFrequency   string `yaml:"guard_frequency"`
	DisableFreqGuard bool   `yaml:"disable_freq_guard"`
	TXDrainMs        int    `yaml:"tx_drain_ms"`
}

// VOXConfig holds the voice-operated TX switch settings.
type VOXConfig struct {
	Enabled     bool    `yaml:"enabled"`
	ThresholdDB float64 `yaml:"threshold_db"`
	HangMs      int     `yaml:"hang_ms"`
}

// AudioConfig holds the host audio device settings.
type AudioConfig struct {
	Headless     bool      `yaml:"headless"`
	InputDevice  string    `yaml:"input_device"`
	OutputDevice string    `yaml:"output_device"`
	VOX          VOXConfig `yaml:"vox"`
}

// SupervisorConfig holds the reconnection state machine settings.
type SupervisorConfig struct {
	RXTimeoutMs      int `yaml:"rx_timeout_ms"`
	TXTimeoutMs      int `yaml:"tx_timeout_ms"`
	MaxRetries       int `yaml:"max_retries"`
	BackoffInitialMs int `yaml:"backoff_initial_ms"`
	BackoffMaxMs     int `yaml:"backoff_max_ms"`
}

// PowerMonitorConfig holds the silent-disconnect power poller settings.
type PowerMonitorConfig struct {
	Disabled   bool `yaml:"disabled"`
	IntervalMs int  `yaml:"interval_ms"`
	GraceMs    int  `yaml:"grace_ms"`
	ZeroLimit  int  `yaml:"zero_limit"`
}

// WebConfig holds the embedded HTTP API settings.
type WebConfig struct {
	Disabled    bool   `yaml:"disabled"`
	Port        int    `yaml:"port"`
	BindAddress string `yaml:"bind_address"`
}

// MQTTConfig holds the optional telemetry publisher settings.
type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
	IntervalSec int    `yaml:"interval_sec"`
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
	Compress   bool   `yaml:"compress"`
	Console    bool   `yaml:"console"`
	Structured bool   `yaml:"structured"`
	Trace      bool   `yaml:"trace"`
}

// Config represents the trusdxd configuration
type Config struct {
	Radio        RadioConfig        `yaml:"radio"`
	CAT          CATConfig          `yaml:"cat"`
	Audio        AudioConfig        `yaml:"audio"`
	Supervisor   SupervisorConfig   `yaml:"supervisor"`
	PowerMonitor PowerMonitorConfig `yaml:"power_monitor"`
	Web          WebConfig          `yaml:"web"`
	MQTT         MQTTConfig         `yaml:"mqtt"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// LoadConfig loads configuration from a YAML file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyDefaults()

	return &config, nil
}

// applyDefaults fills unset fields with power-on defaults.
func (c *Config) applyDefaults() {
	if c.Radio.BaudRate == 0 {
		c.Radio.BaudRate = 115200
	}
	if c.Radio.WarmupMs == 0 {
		c.Radio.WarmupMs = 2000
	}
	if c.Radio.SettleMs == 0 {
		c.Radio.SettleMs = 10
	}
	if c.CAT.PortPath == "" {
		c.CAT.PortPath = "/tmp/trusdx_cat"
	}
	if c.CAT.GuardFrequency == "" {
		c.CAT.GuardFrequency = "00007074000"
	}
	if c.CAT.TXDrainMs == 0 {
		c.CAT.TXDrainMs = 100
	}
	if c.Audio.InputDevice == "" {
		c.Audio.InputDevice = "default"
	}
	if c.Audio.OutputDevice == "" {
		c.Audio.OutputDevice = "default"
	}
	if c.Audio.VOX.ThresholdDB == 0 {
		c.Audio.VOX.ThresholdDB = -30.0
	}
	if c.Audio.VOX.HangMs == 0 {
		c.Audio.VOX.HangMs = 500
	}
	if c.Supervisor.RXTimeoutMs == 0 {
		c.Supervisor.RXTimeoutMs = 5000
	}
	if c.Supervisor.TXTimeoutMs == 0 {
		c.Supervisor.TXTimeoutMs = 2000
	}
	if c.Supervisor.MaxRetries == 0 {
		c.Supervisor.MaxRetries = 8
	}
	if c.Supervisor.BackoffInitialMs == 0 {
		c.Supervisor.BackoffInitialMs = 500
	}
	if c.Supervisor.BackoffMaxMs == 0 {
		c.Supervisor.BackoffMaxMs = 10000
	}
	if c.PowerMonitor.IntervalMs == 0 {
		c.PowerMonitor.IntervalMs = 3000
	}
	if c.PowerMonitor.GraceMs == 0 {
		c.PowerMonitor.GraceMs = 5000
	}
	if c.PowerMonitor.ZeroLimit == 0 {
		c.PowerMonitor.ZeroLimit = 3
	}
	if c.Web.Port == 0 {
		c.Web.Port = 8080
	}
	if c.Web.BindAddress == "" {
		c.Web.BindAddress = "0.0.0.0"
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = "trusdxd"
	}
	if c.MQTT.IntervalSec == 0 {
		c.MQTT.IntervalSec = 30
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.MaxSize == 0 {
		c.Logging.MaxSize = 100
	}
	if c.Logging.MaxBackups == 0 {
		c.Logging.MaxBackups = 5
	}
	if c.Logging.MaxAge == 0 {
		c.Logging.MaxAge = 30
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Radio.Device == "" && !c.Radio.UseMock {
		return fmt.Errorf("radio device is required unless use_mock is set")
	}
	if c.Radio.BaudRate <= 0 {
		return fmt.Errorf("radio baud rate must be positive, got %d", c.Radio.BaudRate)
	}
	if len(c.CAT.GuardFrequency) != 11 {
		return fmt.Errorf("guard frequency must be 11 digits, got %q", c.CAT.GuardFrequency)
	}
	for _, ch := range c.CAT.GuardFrequency {
		if ch < '0' || ch > '9' {
			return fmt.Errorf("guard frequency must be 11 digits, got %q", c.CAT.GuardFrequency)
		}
	}
	if c.Supervisor.MaxRetries < 1 {
		return fmt.Errorf("supervisor max_retries must be at least 1, got %d", c.Supervisor.MaxRetries)
	}
	if c.PowerMonitor.ZeroLimit < 1 {
		return fmt.Errorf("power monitor zero_limit must be at least 1, got %d", c.PowerMonitor.ZeroLimit)
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt broker is required when mqtt is enabled")
	}
	if c.Web.Port < 1 || c.Web.Port > 65535 {
		return fmt.Errorf("web port out of range: %d", c.Web.Port)
	}
	return nil
}

// DefaultConfig returns a configuration with all defaults applied and the
// mock radio selected, suitable for tests and first-run trials.
func DefaultConfig() *Config {
	c := &Config{}
	c.Radio.UseMock = true
	c.applyDefaults()
	return c
}
