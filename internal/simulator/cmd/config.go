package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Host     string
	Port     int
	UseTLS   bool
	FarmID   string
	DeviceID string
	User     string
	Password string
	CAFile   string
	ClientID string

	Latency   time.Duration
	RandomLag time.Duration
	DropRate  float64
	MotorFail bool

	Segments     int
	MaxSpeed     int
	DefaultSpeed int
	Heartbeat    time.Duration

	MetricsAddr string

	InfluxURL    string
	InfluxToken  string
	InfluxOrg    string
	InfluxBucket string
}

// Profile optionally overrides the device shape from a YAML file, so a
// fleet of simulators can share one description.
type Profile struct {
	Segments         int `yaml:"segments"`
	MaxSpeed         int `yaml:"max_speed"`
	DefaultSpeed     int `yaml:"default_speed"`
	HeartbeatSeconds int `yaml:"heartbeat_seconds"`
}

func getenv(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func getenvInt(k string, d int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return d
}

func loadConfig() (Config, error) {
	host := flag.String("host", getenv("PIVOT_BROKER_HOST", "localhost"), "broker host")
	port := flag.Int("port", getenvInt("PIVOT_BROKER_PORT", 8883), "broker port")
	useTLS := flag.Bool("tls", true, "connect over TLS")
	farmID := flag.String("farm-id", getenv("PIVOT_FARM_ID", ""), "farm identifier, e.g. FARM-XXXX")
	deviceID := flag.String("device-id", getenv("PIVOT_DEVICE_ID", "pivot-1"), "device identifier")
	user := flag.String("user", getenv("PIVOT_BROKER_USER", ""), "broker username")
	password := flag.String("password", getenv("PIVOT_BROKER_PASSWORD", ""), "broker password")
	caFile := flag.String("cafile", getenv("PIVOT_CA_FILE", ""), "CA bundle file; system trust when empty")
	clientID := flag.String("client-id", "", "MQTT client id (random suffix when empty)")

	latency := flag.Duration("latency", time.Second, "simulated actuation latency")
	randomLag := flag.Duration("random-lag", 0, "extra random delay added per actuation, up to this value")
	dropRate := flag.Float64("drop-rate", 0, "probability in [0,1] of dropping an outbound ack")
	motorFail := flag.Bool("motor-fail", false, "start commands trip the motor into fault")

	segments := flag.Int("segments", 4, "number of motor segments")
	maxSpeed := flag.Int("max-speed", 10, "upper speed bound")
	defaultSpeed := flag.Int("default-speed", 5, "speed used by start/reverse when none given")
	heartbeat := flag.Duration("heartbeat", 10*time.Second, "heartbeat publish period")

	metricsAddr := flag.String("metrics-addr", getenv("METRICS_ADDR", ""), "listen address for /metrics and /healthz (disabled when empty)")
	profilePath := flag.String("profile", "", "optional YAML device profile")
	flag.Parse()

	cfg := Config{
		Host:         *host,
		Port:         *port,
		UseTLS:       *useTLS,
		FarmID:       strings.TrimSpace(*farmID),
		DeviceID:     strings.TrimSpace(*deviceID),
		User:         *user,
		Password:     *password,
		CAFile:       *caFile,
		ClientID:     *clientID,
		Latency:      *latency,
		RandomLag:    *randomLag,
		DropRate:     *dropRate,
		MotorFail:    *motorFail,
		Segments:     *segments,
		MaxSpeed:     *maxSpeed,
		DefaultSpeed: *defaultSpeed,
		Heartbeat:    *heartbeat,
		MetricsAddr:  *metricsAddr,
		InfluxURL:    getenv("INFLUX_URL", ""),
		InfluxToken:  getenv("INFLUX_TOKEN", ""),
		InfluxOrg:    getenv("INFLUX_ORG", "farm"),
		InfluxBucket: getenv("INFLUX_BUCKET", "pivot"),
	}

	if *profilePath != "" {
		if err := cfg.applyProfile(*profilePath); err != nil {
			return cfg, err
		}
	}
	if cfg.FarmID == "" || cfg.User == "" || cfg.Password == "" {
		return cfg, fmt.Errorf("farm-id, user and password are required")
	}
	if cfg.Segments < 1 {
		return cfg, fmt.Errorf("segments must be >= 1")
	}
	if cfg.DropRate < 0 || cfg.DropRate > 1 {
		return cfg, fmt.Errorf("drop-rate must be in [0,1]")
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "device_sim_" + uuid.NewString()[:8]
	}
	return cfg, nil
}

func (c *Config) applyProfile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read profile: %w", err)
	}
	var p Profile
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return fmt.Errorf("parse profile: %w", err)
	}
	if p.Segments > 0 {
		c.Segments = p.Segments
	}
	if p.MaxSpeed > 0 {
		c.MaxSpeed = p.MaxSpeed
	}
	if p.DefaultSpeed > 0 {
		c.DefaultSpeed = p.DefaultSpeed
	}
	if p.HeartbeatSeconds > 0 {
		c.Heartbeat = time.Duration(p.HeartbeatSeconds) * time.Second
	}
	return nil
}
