package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/people.count/internal/counter"
	"github.com/banshee-data/people.count/internal/lighting"
	"github.com/banshee-data/people.count/internal/rangefinder"
	"github.com/banshee-data/people.count/internal/serialmux"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	if cfg.GetMaxTriggerDistance() != 120 {
		t.Errorf("GetMaxTriggerDistance() = %g, want 120", cfg.GetMaxTriggerDistance())
	}
	assert.Equal(t, counter.Inside, cfg.GetStartZone())
	assert.Equal(t, rangefinder.ShortRange, cfg.GetRangingMode())
	assert.Equal(t, time.Second, cfg.GetSampleTimeout())
	assert.Equal(t, rangefinder.DefaultROIs(), cfg.GetROIs())
	assert.Equal(t, "115200 8N1", cfg.GetPortOptions().String())
	assert.False(t, cfg.MQTTEnabled())
	assert.False(t, cfg.HueEnabled())
}

func TestEmptyConfigFallsBackToDefaults(t *testing.T) {
	cfg := &Config{}
	require.NoError(t, cfg.Validate())

	assert.Equal(t, DefaultMaxTriggerDistance, cfg.GetMaxTriggerDistance())
	assert.Equal(t, counter.Inside, cfg.GetStartZone())
	assert.Equal(t, DefaultDBPath, cfg.GetDBPath())
	assert.Equal(t, DefaultListen, cfg.GetListen())
	assert.Equal(t, DefaultSerialPort, cfg.GetSerialPort())
	assert.Equal(t, serialmux.PortOptions{}, cfg.GetPortOptions())
	assert.Equal(t, rangefinder.DefaultSampleTimeout, cfg.GetSampleTimeout())
	assert.Equal(t, DefaultReplayPace, cfg.GetReplayPace())
	assert.Empty(t, cfg.GetReplayFile())
	assert.False(t, cfg.GetReplayLoop())
	assert.False(t, cfg.GetVerbose())
	assert.True(t, cfg.GetMotionLights())
	assert.Equal(t, DefaultHueTransition, cfg.GetHue().Transition)
	assert.Equal(t, lighting.DefaultRequestTimeout, cfg.GetHueRequestTimeout())
	assert.Nil(t, cfg.GetSchedule())
	assert.Equal(t, time.Local, cfg.GetLocation())
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, "people.json", `{
  "max_trigger_distance_cm": 95.5,
  "start_zone": "outside",
  "listen": "127.0.0.1:9000",
  "timezone": "America/New_York",
  "sensor": {
    "port": "/dev/ttyACM0",
    "baud_rate": 57600,
    "ranging_mode": "long",
    "sample_timeout": "250ms",
    "outside_roi": {"top_left_x": 0, "top_left_y": 15, "bottom_right_x": 5, "bottom_right_y": 10}
  },
  "replay": {"file": "walk.csv", "loop": true, "pace": "5ms"},
  "mqtt": {"broker": "tcp://broker:1883", "node_id": "door"},
  "hue": {
    "bridge_url": "http://bridge",
    "username": "key",
    "group": "2",
    "transition": "400ms",
    "request_timeout": "1s",
    "motion_lights": false,
    "schedule": [{"start": "18:00", "scene": "Relax"}, {"start": "07:30", "scene": "Energize"}]
  }
}`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 95.5, cfg.GetMaxTriggerDistance())
	assert.Equal(t, counter.Outside, cfg.GetStartZone())
	assert.Equal(t, "127.0.0.1:9000", cfg.GetListen())
	assert.Equal(t, "America/New_York", cfg.GetLocation().String())
	assert.Equal(t, DefaultDBPath, cfg.GetDBPath())
	assert.Equal(t, "/dev/ttyACM0", cfg.GetSerialPort())
	assert.Equal(t, 57600, cfg.GetPortOptions().BaudRate)
	assert.Equal(t, rangefinder.LongRange, cfg.GetRangingMode())
	assert.Equal(t, 250*time.Millisecond, cfg.GetSampleTimeout())

	rois := cfg.GetROIs()
	assert.Equal(t, rangefinder.InsideROI, rois[counter.Inside])
	assert.Equal(t, rangefinder.ROI{TopLeftX: 0, TopLeftY: 15, BottomRightX: 5, BottomRightY: 10}, rois[counter.Outside])

	assert.Equal(t, "walk.csv", cfg.GetReplayFile())
	assert.True(t, cfg.GetReplayLoop())
	assert.Equal(t, 5*time.Millisecond, cfg.GetReplayPace())

	require.True(t, cfg.MQTTEnabled())
	assert.Equal(t, "door", cfg.GetMQTT().NodeID)

	require.True(t, cfg.HueEnabled())
	hue := cfg.GetHue()
	assert.Equal(t, "http://bridge", hue.BridgeURL)
	assert.Equal(t, 400*time.Millisecond, hue.Transition)
	assert.Equal(t, time.Second, cfg.GetHueRequestTimeout())
	assert.False(t, cfg.GetMotionLights())
	require.Len(t, cfg.GetSchedule(), 2)
	assert.Equal(t, "Energize", cfg.GetSchedule()[0].Scene)
}

func TestLoadConfig_Example(t *testing.T) {
	cfg, err := LoadConfig("../../config/people-count.example.json")
	require.NoError(t, err)
	assert.True(t, cfg.HueEnabled())
	assert.Len(t, cfg.GetSchedule(), 3)
}

func TestLoadConfig_Errors(t *testing.T) {
	cases := []struct {
		name    string
		file    string
		content string
		wantErr string
	}{
		{"wrong extension", "cfg.yaml", `{}`, ".json extension"},
		{"bad json", "cfg.json", `{`, "failed to parse"},
		{"negative distance", "cfg.json", `{"max_trigger_distance_cm": -1}`, "must be positive"},
		{"bad timezone", "cfg.json", `{"timezone": "Mars/Olympus_Mons"}`, "unknown timezone"},
		{"bad zone", "cfg.json", `{"start_zone": "attic"}`, "start_zone"},
		{"bad parity", "cfg.json", `{"sensor": {"parity": "X"}}`, "parity"},
		{"bad ranging mode", "cfg.json", `{"sensor": {"ranging_mode": "far"}}`, "ranging mode"},
		{"bad timeout", "cfg.json", `{"sensor": {"sample_timeout": "soon"}}`, "sample_timeout"},
		{"small roi", "cfg.json", `{"sensor": {"inside_roi": {"top_left_x": 0, "top_left_y": 2, "bottom_right_x": 1, "bottom_right_y": 0}}}`, "SPADs"},
		{"bad pace", "cfg.json", `{"replay": {"pace": "-1s"}}`, "non-negative"},
		{"hue without group", "cfg.json", `{"hue": {"bridge_url": "http://b", "username": "k"}}`, "group are required"},
		{"bad schedule", "cfg.json", `{"hue": {"schedule": [{"start": "25:00", "scene": "x"}]}}`, "failed to parse"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tc.file, tc.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}

	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.json"))
	assert.ErrorContains(t, err, "failed to stat")
}

func TestLoadConfig_TooLarge(t *testing.T) {
	big := `{"listen": "` + strings.Repeat("x", 1024*1024) + `"}`
	_, err := LoadConfig(writeConfig(t, "big.json", big))
	assert.ErrorContains(t, err, "too large")
}
