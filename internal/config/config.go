package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/people.count/internal/counter"
	"github.com/banshee-data/people.count/internal/homeassistant"
	"github.com/banshee-data/people.count/internal/lighting"
	"github.com/banshee-data/people.count/internal/rangefinder"
	"github.com/banshee-data/people.count/internal/serialmux"
	"github.com/banshee-data/people.count/internal/timeutil"
)

// Defaults for fields omitted from the config file.
const (
	DefaultMaxTriggerDistance = 120.0 // cm
	DefaultSerialPort         = "/dev/ttyUSB0"
	DefaultDBPath             = "people_count.db"
	DefaultListen             = ":8080"
	DefaultHueTransition      = time.Second
	DefaultReplayPace         = 20 * time.Millisecond
)

// Config is the root configuration. Every field is optional: the Get*
// methods fall back to the defaults above, so partial files are safe.
type Config struct {
	MaxTriggerDistance *float64      `json:"max_trigger_distance_cm,omitempty"`
	StartZone          *string       `json:"start_zone,omitempty"`
	DBPath             *string       `json:"db_path,omitempty"`
	Listen             *string       `json:"listen,omitempty"`
	Verbose            *bool         `json:"verbose,omitempty"`
	Sensor             *SensorConfig `json:"sensor,omitempty"`
	Replay             *ReplayConfig `json:"replay,omitempty"`
	MQTT               *MQTTConfig   `json:"mqtt,omitempty"`
	Hue                *HueConfig    `json:"hue,omitempty"`
	Timezone           *string       `json:"timezone,omitempty"` // IANA name, for the lighting schedule
}

// SensorConfig describes the serial bridge to the VL53L1X.
type SensorConfig struct {
	Port          *string          `json:"port,omitempty"`
	BaudRate      *int             `json:"baud_rate,omitempty"`
	DataBits      *int             `json:"data_bits,omitempty"`
	StopBits      *int             `json:"stop_bits,omitempty"`
	Parity        *string          `json:"parity,omitempty"`
	RangingMode   *string          `json:"ranging_mode,omitempty"`
	SampleTimeout *string          `json:"sample_timeout,omitempty"` // duration string like "1s"
	InsideROI     *rangefinder.ROI `json:"inside_roi,omitempty"`
	OutsideROI    *rangefinder.ROI `json:"outside_roi,omitempty"`
}

// ReplayConfig selects a recorded distance file for the -dev mode.
type ReplayConfig struct {
	File *string `json:"file,omitempty"`
	Loop *bool   `json:"loop,omitempty"`
	Pace *string `json:"pace,omitempty"`
}

// MQTTConfig enables the Home Assistant bridge when Broker is set.
type MQTTConfig struct {
	Broker          string `json:"broker"`
	ClientID        string `json:"client_id,omitempty"`
	Username        string `json:"username,omitempty"`
	Password        string `json:"password,omitempty"`
	DiscoveryPrefix string `json:"discovery_prefix,omitempty"`
	NodeID          string `json:"node_id,omitempty"`
	Name            string `json:"name,omitempty"`
	QueueSize       int    `json:"queue_size,omitempty"`
}

// HueConfig enables the lighting controller when BridgeURL is set.
type HueConfig struct {
	BridgeURL      string            `json:"bridge_url"`
	Username       string            `json:"username"`
	Group          string            `json:"group"`
	Transition     *string           `json:"transition,omitempty"`
	RequestTimeout *string           `json:"request_timeout,omitempty"`
	MotionLights   *bool             `json:"motion_lights,omitempty"`
	Schedule       lighting.Schedule `json:"schedule,omitempty"`
}

// DefaultConfig returns a config with every optional field populated.
func DefaultConfig() *Config {
	rois := rangefinder.DefaultROIs()
	inside, outside := rois[counter.Inside], rois[counter.Outside]
	return &Config{
		MaxTriggerDistance: ptrFloat64(DefaultMaxTriggerDistance),
		StartZone:          ptrString(counter.Inside.String()),
		DBPath:             ptrString(DefaultDBPath),
		Listen:             ptrString(DefaultListen),
		Verbose:            ptrBool(false),
		Sensor: &SensorConfig{
			Port:          ptrString(DefaultSerialPort),
			BaudRate:      ptrInt(serialmux.DefaultBaudRate),
			DataBits:      ptrInt(8),
			StopBits:      ptrInt(1),
			Parity:        ptrString("N"),
			RangingMode:   ptrString(rangefinder.ShortRange.String()),
			SampleTimeout: ptrString(rangefinder.DefaultSampleTimeout.String()),
			InsideROI:     &inside,
			OutsideROI:    &outside,
		},
		Replay: &ReplayConfig{
			Loop: ptrBool(false),
			Pace: ptrString(DefaultReplayPace.String()),
		},
	}
}

func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// LoadConfig loads a Config from a JSON file of at most 1MB.
func LoadConfig(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func validDuration(name string, v *string) error {
	if v == nil || *v == "" {
		return nil
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
	}
	if d < 0 {
		return fmt.Errorf("%s must be non-negative, got %s", name, *v)
	}
	return nil
}

// Validate checks the values that are set.
func (c *Config) Validate() error {
	if c.MaxTriggerDistance != nil && *c.MaxTriggerDistance <= 0 {
		return fmt.Errorf("max_trigger_distance_cm must be positive, got %g", *c.MaxTriggerDistance)
	}
	if c.StartZone != nil {
		if _, err := counter.ParseZone(*c.StartZone); err != nil {
			return fmt.Errorf("start_zone: %w", err)
		}
	}

	if c.Timezone != nil && *c.Timezone != "" && !timeutil.IsTimezoneValid(*c.Timezone) {
		return fmt.Errorf("timezone: unknown timezone %q", *c.Timezone)
	}

	if s := c.Sensor; s != nil {
		if _, err := c.GetPortOptions().Normalize(); err != nil {
			return fmt.Errorf("sensor: %w", err)
		}
		if s.RangingMode != nil {
			if _, err := rangefinder.ParseRangingMode(*s.RangingMode); err != nil {
				return fmt.Errorf("sensor: %w", err)
			}
		}
		if err := validDuration("sample_timeout", s.SampleTimeout); err != nil {
			return err
		}
		for _, roi := range []*rangefinder.ROI{s.InsideROI, s.OutsideROI} {
			if roi == nil {
				continue
			}
			if err := roi.Validate(); err != nil {
				return fmt.Errorf("sensor: %w", err)
			}
		}
	}

	if r := c.Replay; r != nil {
		if err := validDuration("replay pace", r.Pace); err != nil {
			return err
		}
	}

	if h := c.Hue; h != nil && h.BridgeURL != "" {
		if h.Username == "" || h.Group == "" {
			return fmt.Errorf("hue: username and group are required with bridge_url")
		}
		if err := validDuration("hue transition", h.Transition); err != nil {
			return err
		}
		if err := validDuration("hue request_timeout", h.RequestTimeout); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) GetMaxTriggerDistance() float64 {
	if c.MaxTriggerDistance == nil {
		return DefaultMaxTriggerDistance
	}
	return *c.MaxTriggerDistance
}

func (c *Config) GetStartZone() counter.Zone {
	if c.StartZone == nil {
		return counter.Inside
	}
	z, err := counter.ParseZone(*c.StartZone)
	if err != nil {
		return counter.Inside
	}
	return z
}

func (c *Config) GetDBPath() string {
	if c.DBPath == nil || *c.DBPath == "" {
		return DefaultDBPath
	}
	return *c.DBPath
}

func (c *Config) GetListen() string {
	if c.Listen == nil || *c.Listen == "" {
		return DefaultListen
	}
	return *c.Listen
}

func (c *Config) GetVerbose() bool {
	return c.Verbose != nil && *c.Verbose
}

func (c *Config) GetSerialPort() string {
	if c.Sensor == nil || c.Sensor.Port == nil || *c.Sensor.Port == "" {
		return DefaultSerialPort
	}
	return *c.Sensor.Port
}

// GetPortOptions returns the serial settings; unset fields are filled in by
// PortOptions.Normalize.
func (c *Config) GetPortOptions() serialmux.PortOptions {
	var o serialmux.PortOptions
	if s := c.Sensor; s != nil {
		if s.BaudRate != nil {
			o.BaudRate = *s.BaudRate
		}
		if s.DataBits != nil {
			o.DataBits = *s.DataBits
		}
		if s.StopBits != nil {
			o.StopBits = *s.StopBits
		}
		if s.Parity != nil {
			o.Parity = *s.Parity
		}
	}
	return o
}

func (c *Config) GetRangingMode() rangefinder.RangingMode {
	if c.Sensor == nil || c.Sensor.RangingMode == nil {
		return rangefinder.ShortRange
	}
	m, err := rangefinder.ParseRangingMode(*c.Sensor.RangingMode)
	if err != nil {
		return rangefinder.ShortRange
	}
	return m
}

func parseDuration(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return def
	}
	return d
}

func (c *Config) GetSampleTimeout() time.Duration {
	if c.Sensor == nil {
		return rangefinder.DefaultSampleTimeout
	}
	return parseDuration(c.Sensor.SampleTimeout, rangefinder.DefaultSampleTimeout)
}

func (c *Config) GetROIs() map[counter.Zone]rangefinder.ROI {
	rois := rangefinder.DefaultROIs()
	if c.Sensor != nil {
		if c.Sensor.InsideROI != nil {
			rois[counter.Inside] = *c.Sensor.InsideROI
		}
		if c.Sensor.OutsideROI != nil {
			rois[counter.Outside] = *c.Sensor.OutsideROI
		}
	}
	return rois
}

// GetReplayFile returns the replay file, or "" for the embedded fixture.
func (c *Config) GetReplayFile() string {
	if c.Replay == nil || c.Replay.File == nil {
		return ""
	}
	return *c.Replay.File
}

func (c *Config) GetReplayLoop() bool {
	return c.Replay != nil && c.Replay.Loop != nil && *c.Replay.Loop
}

func (c *Config) GetReplayPace() time.Duration {
	if c.Replay == nil {
		return DefaultReplayPace
	}
	return parseDuration(c.Replay.Pace, DefaultReplayPace)
}

// MQTTEnabled reports whether a broker is configured.
func (c *Config) MQTTEnabled() bool {
	return c.MQTT != nil && c.MQTT.Broker != ""
}

func (c *Config) GetMQTT() homeassistant.Config {
	if c.MQTT == nil {
		return homeassistant.Config{}
	}
	m := c.MQTT
	return homeassistant.Config{
		Broker:          m.Broker,
		ClientID:        m.ClientID,
		Username:        m.Username,
		Password:        m.Password,
		DiscoveryPrefix: m.DiscoveryPrefix,
		NodeID:          m.NodeID,
		Name:            m.Name,
		QueueSize:       m.QueueSize,
	}
}

// HueEnabled reports whether a Hue bridge is configured.
func (c *Config) HueEnabled() bool {
	return c.Hue != nil && c.Hue.BridgeURL != ""
}

func (c *Config) GetHue() lighting.HueConfig {
	if c.Hue == nil {
		return lighting.HueConfig{Transition: DefaultHueTransition}
	}
	return lighting.HueConfig{
		BridgeURL:  c.Hue.BridgeURL,
		Username:   c.Hue.Username,
		Group:      c.Hue.Group,
		Transition: parseDuration(c.Hue.Transition, DefaultHueTransition),
	}
}

func (c *Config) GetHueRequestTimeout() time.Duration {
	if c.Hue == nil {
		return lighting.DefaultRequestTimeout
	}
	return parseDuration(c.Hue.RequestTimeout, lighting.DefaultRequestTimeout)
}

func (c *Config) GetMotionLights() bool {
	if c.Hue == nil || c.Hue.MotionLights == nil {
		return true
	}
	return *c.Hue.MotionLights
}

func (c *Config) GetSchedule() lighting.Schedule {
	if c.Hue == nil {
		return nil
	}
	return c.Hue.Schedule
}

// GetLocation returns the timezone the schedule is evaluated in, the host's
// by default.
func (c *Config) GetLocation() *time.Location {
	if c.Timezone == nil {
		return time.Local
	}
	loc, err := timeutil.LoadTimezone(*c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}
