// Package config assembles runtime settings from, in increasing priority:
// built-in defaults, a .env file, an optional YAML file named by
// GATE_CONFIG_FILE, and GATE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	HTTPAddr  string `yaml:"http_addr"`
	Env       string `yaml:"env"` // "dev" | "prod"
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"` // "text" | "json"

	Store         StoreConfig    `yaml:"store"`
	KnownVehicles []KnownVehicle `yaml:"known_vehicles"`
	Reader        ReaderConfig   `yaml:"reader"`
	Actuator      ActuatorConfig `yaml:"actuator"`
	NATS          NATSConfig     `yaml:"nats"`
	Archive       ArchiveConfig  `yaml:"archive"`
	HTTP          HTTPConfig     `yaml:"http"`
}

type StoreConfig struct {
	Driver   string `yaml:"driver"` // "json" | "sqlite" | "memory"
	JSONPath string `yaml:"json_path"`
	DBPath   string `yaml:"db_path"`
}

// KnownVehicle is seeded into the registry at startup in dev.
type KnownVehicle struct {
	TagID     string `yaml:"tag_id"`
	VehicleNo string `yaml:"vehicle_no"`
}

type ReaderConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Device        string `yaml:"device"`
	Baud          int    `yaml:"baud"`
	ReadTimeoutMs int    `yaml:"read_timeout_ms"`
	BackoffMs     int    `yaml:"backoff_ms"`
	Encoding      string `yaml:"encoding"` // "utf-16" | "text"
	TagPrefix     string `yaml:"tag_prefix"`
	DebounceMs    int    `yaml:"debounce_ms"` // 0 = off
	Direction     string `yaml:"direction"`
}

func (r ReaderConfig) ReadTimeout() time.Duration {
	return time.Duration(r.ReadTimeoutMs) * time.Millisecond
}

func (r ReaderConfig) Backoff() time.Duration {
	return time.Duration(r.BackoffMs) * time.Millisecond
}

func (r ReaderConfig) Debounce() time.Duration {
	return time.Duration(r.DebounceMs) * time.Millisecond
}

type ActuatorConfig struct {
	Driver   string `yaml:"driver"` // "simulated" | "gpio"
	RelayPin string `yaml:"relay_pin"`
	PulseMs  int    `yaml:"pulse_ms"`
}

func (a ActuatorConfig) Pulse() time.Duration {
	return time.Duration(a.PulseMs) * time.Millisecond
}

type NATSConfig struct {
	URL     string `yaml:"url"` // empty disables NATS publishing
	Token   string `yaml:"token"`
	Subject string `yaml:"subject"`
}

type ArchiveConfig struct {
	IntervalMinutes int    `yaml:"interval_minutes"` // 0 = off
	Dir             string `yaml:"dir"`
	S3Bucket        string `yaml:"s3_bucket"` // set to archive to S3 instead of Dir
	S3Region        string `yaml:"s3_region"`
	S3Endpoint      string `yaml:"s3_endpoint"`
	S3PathStyle     bool   `yaml:"s3_path_style"`
	S3Prefix        string `yaml:"s3_prefix"`
}

func (a ArchiveConfig) Interval() time.Duration {
	return time.Duration(a.IntervalMinutes) * time.Minute
}

type HTTPConfig struct {
	CORSOrigins       []string `yaml:"cors_origins"`
	ScanRatePerMinute int      `yaml:"scan_rate_per_minute"` // 0 = unlimited
}

// Default returns the settings used when nothing else is configured. They
// match a single-board gate controller with a USB reader.
func Default() Config {
	return Config{
		HTTPAddr:  ":8000",
		Env:       "dev",
		LogLevel:  "info",
		LogFormat: "text",
		Store: StoreConfig{
			Driver:   "json",
			JSONPath: "./gate_data.json",
			DBPath:   "./data/gate.db",
		},
		Reader: ReaderConfig{
			Enabled:       false,
			Device:        "/dev/ttyUSB0",
			Baud:          115200,
			ReadTimeoutMs: 1000,
			BackoffMs:     5000,
			Encoding:      "utf-16",
			TagPrefix:     "TAG:",
			Direction:     "IN",
		},
		Actuator: ActuatorConfig{
			Driver:   "simulated",
			RelayPin: "GPIO17",
			PulseMs:  1000,
		},
		NATS: NATSConfig{Subject: "gate.scans"},
		Archive: ArchiveConfig{
			Dir:      "./data/archive",
			S3Region: "us-east-1",
		},
		HTTP: HTTPConfig{
			CORSOrigins:       []string{"*"},
			ScanRatePerMinute: 60,
		},
	}
}

// Load reads .env from the working directory if present, then the YAML file
// named by GATE_CONFIG_FILE, then GATE_* variables.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()
	if path := strings.TrimSpace(os.Getenv("GATE_CONFIG_FILE")); path != "" {
		if err := cfg.mergeYAML(path); err != nil {
			return Config{}, err
		}
	}
	cfg.applyEnv()

	if err := cfg.normalize(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) mergeYAML(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.HTTPAddr = getenvDefault("GATE_HTTP_ADDR", c.HTTPAddr)
	c.Env = getenvDefault("GATE_ENV", c.Env)
	c.LogLevel = getenvDefault("GATE_LOG_LEVEL", c.LogLevel)
	c.LogFormat = getenvDefault("GATE_LOG_FORMAT", c.LogFormat)

	c.Store.Driver = getenvDefault("GATE_STORE", c.Store.Driver)
	c.Store.JSONPath = getenvDefault("GATE_DATA_PATH", c.Store.JSONPath)
	c.Store.DBPath = getenvDefault("GATE_DB_PATH", c.Store.DBPath)

	if v := os.Getenv("GATE_KNOWN_VEHICLES"); strings.TrimSpace(v) != "" {
		c.KnownVehicles = parseVehicles(splitCSV(v))
	}

	c.Reader.Enabled = getenvBool("GATE_READER_ENABLED", c.Reader.Enabled)
	c.Reader.Device = getenvDefault("GATE_SERIAL_PORT", c.Reader.Device)
	c.Reader.Baud = getenvInt("GATE_BAUD_RATE", c.Reader.Baud)
	c.Reader.ReadTimeoutMs = getenvInt("GATE_READER_TIMEOUT_MS", c.Reader.ReadTimeoutMs)
	c.Reader.BackoffMs = getenvInt("GATE_READER_BACKOFF_MS", c.Reader.BackoffMs)
	c.Reader.Encoding = getenvDefault("GATE_READER_ENCODING", c.Reader.Encoding)
	c.Reader.TagPrefix = getenvDefault("GATE_READER_TAG_PREFIX", c.Reader.TagPrefix)
	c.Reader.DebounceMs = getenvInt("GATE_READER_DEBOUNCE_MS", c.Reader.DebounceMs)
	c.Reader.Direction = getenvDefault("GATE_READER_DIRECTION", c.Reader.Direction)

	c.Actuator.Driver = getenvDefault("GATE_ACTUATOR", c.Actuator.Driver)
	c.Actuator.RelayPin = getenvDefault("GATE_RELAY_PIN", c.Actuator.RelayPin)
	c.Actuator.PulseMs = getenvInt("GATE_RELAY_PULSE_MS", c.Actuator.PulseMs)

	c.NATS.URL = getenvDefault("GATE_NATS_URL", c.NATS.URL)
	c.NATS.Token = getenvDefault("GATE_NATS_TOKEN", c.NATS.Token)
	c.NATS.Subject = getenvDefault("GATE_NATS_SUBJECT", c.NATS.Subject)

	c.Archive.IntervalMinutes = getenvInt("GATE_ARCHIVE_INTERVAL_MINUTES", c.Archive.IntervalMinutes)
	c.Archive.Dir = getenvDefault("GATE_ARCHIVE_DIR", c.Archive.Dir)
	c.Archive.S3Bucket = getenvDefault("GATE_ARCHIVE_S3_BUCKET", c.Archive.S3Bucket)
	c.Archive.S3Region = getenvDefault("GATE_ARCHIVE_S3_REGION", c.Archive.S3Region)
	c.Archive.S3Endpoint = getenvDefault("GATE_ARCHIVE_S3_ENDPOINT", c.Archive.S3Endpoint)
	c.Archive.S3PathStyle = getenvBool("GATE_ARCHIVE_S3_PATH_STYLE", c.Archive.S3PathStyle)
	c.Archive.S3Prefix = getenvDefault("GATE_ARCHIVE_S3_PREFIX", c.Archive.S3Prefix)

	if v := os.Getenv("GATE_CORS_ORIGINS"); strings.TrimSpace(v) != "" {
		c.HTTP.CORSOrigins = splitCSV(v)
	}
	c.HTTP.ScanRatePerMinute = getenvInt("GATE_SCAN_RATE_PER_MINUTE", c.HTTP.ScanRatePerMinute)
}

func (c *Config) normalize() error {
	c.Env = strings.ToLower(strings.TrimSpace(c.Env))
	if c.Env != "dev" && c.Env != "prod" {
		c.Env = "dev"
	}

	c.Store.Driver = strings.ToLower(strings.TrimSpace(c.Store.Driver))
	switch c.Store.Driver {
	case "json", "sqlite", "memory":
	default:
		return fmt.Errorf("unknown store driver %q (want json, sqlite or memory)", c.Store.Driver)
	}

	c.Actuator.Driver = strings.ToLower(strings.TrimSpace(c.Actuator.Driver))
	switch c.Actuator.Driver {
	case "simulated", "gpio":
	default:
		return fmt.Errorf("unknown actuator driver %q (want simulated or gpio)", c.Actuator.Driver)
	}

	if c.Reader.Baud <= 0 {
		return fmt.Errorf("reader baud must be positive, got %d", c.Reader.Baud)
	}
	return nil
}

// parseVehicles reads "TAG=PLATE" pairs. Entries without a plate are dropped.
func parseVehicles(pairs []string) []KnownVehicle {
	out := make([]KnownVehicle, 0, len(pairs))
	for _, p := range pairs {
		tag, plate, ok := strings.Cut(p, "=")
		tag, plate = strings.TrimSpace(tag), strings.TrimSpace(plate)
		if !ok || tag == "" || plate == "" {
			continue
		}
		out = append(out, KnownVehicle{TagID: tag, VehicleNo: plate})
	}
	return out
}

func getenvDefault(key, def string) string {
	v := os.Getenv(key)
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func getenvInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func getenvBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func splitCSV(v string) []string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
