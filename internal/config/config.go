package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"gpsblue-ng/internal/bluetooth"
	"gpsblue-ng/internal/gps"
	"gpsblue-ng/internal/publish"
)

type Config struct {
	Bluetooth BluetoothConfig `yaml:"bluetooth"`
	GPS       GPSConfig       `yaml:"gps"`
	Web       WebConfig       `yaml:"web"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Log       LogConfig       `yaml:"log"`
}

type BluetoothConfig struct {
	// ServiceUUID is the service identifier to listen under. Empty selects
	// the Serial Port Profile.
	ServiceUUID string `yaml:"service_uuid"`
	Channel     int    `yaml:"channel"`
	// AutoStart begins listening as soon as the process starts.
	AutoStart *bool `yaml:"auto_start"`

	ServiceID uuid.UUID `yaml:"-"`
}

type GPSConfig struct {
	Enable    *bool        `yaml:"enable"`
	Source    string       `yaml:"source"`
	Device    string       `yaml:"device"`
	Baud      int          `yaml:"baud"`
	GPSDAddr  string       `yaml:"gpsd_addr"`
	PowerGPIO int          `yaml:"power_gpio"`
	Sim       GPSSimConfig `yaml:"sim"`
}

type GPSSimConfig struct {
	CenterLatDeg float64       `yaml:"center_lat_deg"`
	CenterLonDeg float64       `yaml:"center_lon_deg"`
	AltM         float64       `yaml:"alt_m"`
	RadiusNm     float64       `yaml:"radius_nm"`
	Period       time.Duration `yaml:"period"`
	Interval     time.Duration `yaml:"interval"`
	Satellites   int           `yaml:"satellites"`
}

type WebConfig struct {
	Enable *bool  `yaml:"enable"`
	Listen string `yaml:"listen"`
}

type MQTTConfig struct {
	Enable         bool          `yaml:"enable"`
	Broker         string        `yaml:"broker"`
	ClientID       string        `yaml:"client_id"`
	TopicPrefix    string        `yaml:"topic_prefix"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	// TailLines bounds the in-memory log served by /api/logs.
	TailLines int `yaml:"tail_lines"`
}

var topicPrefixRE = regexp.MustCompile(`^[A-Za-z0-9_\-]+(/[A-Za-z0-9_\-]+)*$`)

func boolPtr(v bool) *bool { return &v }

// Load reads and validates the YAML file at path, filling in defaults.
func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return Parse(b)
}

// Parse decodes and validates a YAML document. An empty document yields the
// defaults.
func Parse(b []byte) (Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		var te *yaml.TypeError
		if errors.As(err, &te) {
			return Config{}, fmt.Errorf("config contains unknown fields: %s", stripLinePrefixes(te.Errors))
		}
		return Config{}, err
	}
	if err := cfg.applyDefaults(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func stripLinePrefixes(errs []string) string {
	out := make([]string, 0, len(errs))
	for _, e := range errs {
		if i := strings.Index(e, ": "); i >= 0 && strings.HasPrefix(e, "line ") {
			e = e[i+2:]
		}
		out = append(out, e)
	}
	return strings.Join(out, "; ")
}

func (cfg *Config) applyDefaults() error {
	// Bluetooth.
	if strings.TrimSpace(cfg.Bluetooth.ServiceUUID) == "" {
		cfg.Bluetooth.ServiceID = bluetooth.SerialPortProfile
	} else {
		id, err := bluetooth.ParseServiceID(cfg.Bluetooth.ServiceUUID)
		if err != nil {
			return fmt.Errorf("bluetooth.service_uuid: %w", err)
		}
		cfg.Bluetooth.ServiceID = id
	}
	if cfg.Bluetooth.Channel == 0 {
		cfg.Bluetooth.Channel = 1
	}
	if cfg.Bluetooth.Channel < 1 || cfg.Bluetooth.Channel > 30 {
		return fmt.Errorf("bluetooth.channel must be in [1,30]")
	}
	if cfg.Bluetooth.AutoStart == nil {
		cfg.Bluetooth.AutoStart = boolPtr(true)
	}

	// GPS.
	if cfg.GPS.Enable == nil {
		cfg.GPS.Enable = boolPtr(true)
	}
	cfg.GPS.Source = strings.ToLower(strings.TrimSpace(cfg.GPS.Source))
	if cfg.GPS.Source == "" {
		cfg.GPS.Source = "nmea"
	}
	switch cfg.GPS.Source {
	case "nmea", "gpsd", "sim":
	default:
		return fmt.Errorf("gps.source must be one of nmea, gpsd, sim")
	}
	if cfg.GPS.Baud == 0 {
		cfg.GPS.Baud = 9600
	}
	if cfg.GPS.Baud < 0 {
		return fmt.Errorf("gps.baud must be > 0")
	}
	if strings.TrimSpace(cfg.GPS.GPSDAddr) == "" {
		cfg.GPS.GPSDAddr = "127.0.0.1:2947"
	}
	if cfg.GPS.PowerGPIO < 0 {
		return fmt.Errorf("gps.power_gpio must be >= 0")
	}

	// Simulator defaults (safe even if another source is selected).
	sim := &cfg.GPS.Sim
	if sim.CenterLatDeg == 0 && sim.CenterLonDeg == 0 {
		sim.CenterLatDeg = 42.1234
		sim.CenterLonDeg = -71.2345
	}
	if sim.CenterLatDeg < -90 || sim.CenterLatDeg > 90 {
		return fmt.Errorf("gps.sim.center_lat_deg must be in [-90,90]")
	}
	if sim.CenterLonDeg < -180 || sim.CenterLonDeg > 180 {
		return fmt.Errorf("gps.sim.center_lon_deg must be in [-180,180]")
	}
	if sim.AltM == 0 {
		sim.AltM = 300
	}
	if sim.RadiusNm <= 0 {
		sim.RadiusNm = 0.5
	}
	if sim.Period <= 0 {
		sim.Period = 120 * time.Second
	}
	if sim.Interval <= 0 {
		sim.Interval = time.Second
	}
	if sim.Satellites <= 0 {
		sim.Satellites = 9
	}
	if sim.Satellites > 32 {
		return fmt.Errorf("gps.sim.satellites must be <= 32")
	}

	// Web.
	if cfg.Web.Enable == nil {
		cfg.Web.Enable = boolPtr(true)
	}
	if strings.TrimSpace(cfg.Web.Listen) == "" {
		cfg.Web.Listen = ":8080"
	}

	// MQTT.
	if cfg.MQTT.Enable && strings.TrimSpace(cfg.MQTT.Broker) == "" {
		return fmt.Errorf("mqtt.broker is required when mqtt.enable is true")
	}
	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = "gpsblue-ng"
	}
	if cfg.MQTT.TopicPrefix == "" {
		cfg.MQTT.TopicPrefix = "gpsblue"
	}
	if !topicPrefixRE.MatchString(cfg.MQTT.TopicPrefix) {
		return fmt.Errorf("mqtt.topic_prefix must be slash-separated words without wildcards")
	}
	if cfg.MQTT.ConnectTimeout <= 0 {
		cfg.MQTT.ConnectTimeout = 5 * time.Second
	}

	// Logging.
	cfg.Log.Level = strings.ToLower(strings.TrimSpace(cfg.Log.Level))
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	switch cfg.Log.Level {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of trace, debug, info, warn, error")
	}
	if cfg.Log.TailLines <= 0 {
		cfg.Log.TailLines = 1000
	}
	return nil
}

// GPSOptions converts the gps section for gps.New.
func (c GPSConfig) GPSOptions() gps.Config {
	return gps.Config{
		Enable:    c.Enable == nil || *c.Enable,
		Source:    c.Source,
		GPSDAddr:  c.GPSDAddr,
		Device:    c.Device,
		Baud:      c.Baud,
		PowerGPIO: c.PowerGPIO,
		Sim: gps.SimConfig{
			CenterLatDeg: c.Sim.CenterLatDeg,
			CenterLonDeg: c.Sim.CenterLonDeg,
			AltM:         c.Sim.AltM,
			RadiusNm:     c.Sim.RadiusNm,
			Period:       c.Sim.Period,
			Interval:     c.Sim.Interval,
			Satellites:   c.Sim.Satellites,
		},
	}
}

// CheckPowerLine reports whether the configured power GPIO exists on this
// host. A zero pin means no power control and always passes.
func (c GPSConfig) CheckPowerLine() error {
	if c.PowerGPIO == 0 {
		return nil
	}
	_, _, err := gps.LocatePowerLine(c.PowerGPIO)
	return err
}

// PublishOptions converts the mqtt section for publish.NewMQTT.
func (c MQTTConfig) PublishOptions() publish.Config {
	return publish.Config{
		Broker:         c.Broker,
		ClientID:       c.ClientID,
		TopicPrefix:    c.TopicPrefix,
		ConnectTimeout: c.ConnectTimeout,
	}
}
