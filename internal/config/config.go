package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
)

// Config holds all application configuration values.
type Config struct {
	// Scanning / streaming
	ScanTimeoutMS    int // advertisement listen window
	StreamDurationMS int // streaming window after all sessions resolved
	ConnectTimeoutMS int // per-session connect bound
	StopGraceMS      int // per-session stop acknowledgement bound

	// Devices
	DeviceNamePrefix string   // advertised name filter
	DeviceAddresses  []string // explicit targets; empty means scan

	// Output
	OutputFile   string // JSON stream path; empty disables the file
	OutputPretty bool

	// MQTT
	MQTTBroker            string
	MQTTClientIDPublisher string
	MQTTClientIDWeb       string
	TopicPrefix           string

	// Web Server
	WebServerPort int
}

// Default returns the built-in configuration. Every key is optional in
// the config file; unset keys keep these values.
func Default() *Config {
	return &Config{
		ScanTimeoutMS:         5000,
		StreamDurationMS:      10000,
		ConnectTimeoutMS:      10000,
		StopGraceMS:           5000,
		DeviceNamePrefix:      "Movella",
		MQTTBroker:            "tcp://localhost:1883",
		MQTTClientIDPublisher: "motion-streamer-publisher",
		MQTTClientIDWeb:       "motion-streamer-web",
		TopicPrefix:           "motion",
		WebServerPort:         8080,
	}
}

// Package-level unexported variables for singleton pattern:
//   - globalConfig: unexported so other packages cannot access it directly.
//   - configOnce: ensures InitGlobal() only runs once, even if called multiple times.
//   - configMu: RWMutex protects concurrent access.
//
// External code must use InitGlobal() to set and Get() to read.
var (
	globalConfig *Config
	configOnce   sync.Once
	configMu     sync.RWMutex
)

// Load reads the configuration file and returns a Config struct with
// defaults applied for every unset key.
func Load(configPath string) (*Config, error) {
	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	cfg := Default()
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// Parse KEY=VALUE
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid config line %d: %q", lineNum, line)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		if err := cfg.setValue(key, value); err != nil {
			return nil, fmt.Errorf("config line %d: %w", lineNum, err)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// setValue sets a config value based on the key.
func (c *Config) setValue(key, value string) error {
	switch key {
	// Scanning / streaming
	case "SCAN_TIMEOUT_MS":
		ms, err := parsePositiveInt(key, value)
		if err != nil {
			return err
		}
		c.ScanTimeoutMS = ms
	case "STREAM_DURATION_MS":
		ms, err := parsePositiveInt(key, value)
		if err != nil {
			return err
		}
		c.StreamDurationMS = ms
	case "CONNECT_TIMEOUT_MS":
		ms, err := parsePositiveInt(key, value)
		if err != nil {
			return err
		}
		c.ConnectTimeoutMS = ms
	case "STOP_GRACE_MS":
		ms, err := parsePositiveInt(key, value)
		if err != nil {
			return err
		}
		c.StopGraceMS = ms

	// Devices
	case "DEVICE_NAME_PREFIX":
		c.DeviceNamePrefix = value
	case "DEVICE_ADDRESSES":
		c.DeviceAddresses = splitList(value)

	// Output
	case "OUTPUT_FILE":
		c.OutputFile = value
	case "OUTPUT_PRETTY":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid OUTPUT_PRETTY %q: %w", value, err)
		}
		c.OutputPretty = b

	// MQTT
	case "MQTT_BROKER":
		c.MQTTBroker = value
	case "MQTT_CLIENT_ID_PUBLISHER":
		c.MQTTClientIDPublisher = value
	case "MQTT_CLIENT_ID_WEB":
		c.MQTTClientIDWeb = value
	case "TOPIC_PREFIX":
		c.TopicPrefix = value

	// Web Server
	case "WEB_SERVER_PORT":
		port, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid WEB_SERVER_PORT %q: %w", value, err)
		}
		if port < 1 || port > 65535 {
			return fmt.Errorf("WEB_SERVER_PORT must be 1-65535, got %d", port)
		}
		c.WebServerPort = port

	default:
		return fmt.Errorf("unknown config key: %q", key)
	}

	return nil
}

func parsePositiveInt(key, value string) (int, error) {
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %d", key, n)
	}
	return n, nil
}

func splitList(value string) []string {
	var out []string
	for _, v := range strings.Split(value, ",") {
		v = strings.TrimSpace(v)
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

// validate checks that all required fields are set.
func (c *Config) validate() error {
	if c.DeviceNamePrefix == "" {
		return fmt.Errorf("DEVICE_NAME_PREFIX is required")
	}
	if c.MQTTBroker == "" {
		return fmt.Errorf("MQTT_BROKER is required")
	}
	if c.TopicPrefix == "" {
		return fmt.Errorf("TOPIC_PREFIX is required")
	}
	return nil
}

// InitGlobal initializes the global configuration. An empty path keeps
// the built-in defaults. Uses sync.Once so this only runs once, even if
// called multiple times.
func InitGlobal(configPath string) error {
	var err error
	configOnce.Do(func() {
		configMu.Lock()
		defer configMu.Unlock()
		if configPath == "" {
			globalConfig = Default()
			return
		}
		globalConfig, err = Load(configPath)
	})
	return err
}

// Get returns the global configuration instance. InitGlobal must be
// called first, or this will return nil.
func Get() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}
