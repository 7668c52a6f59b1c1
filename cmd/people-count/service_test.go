package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/people.count/internal/config"
	"github.com/banshee-data/people.count/internal/counter"
	"github.com/banshee-data/people.count/internal/db"
	"github.com/banshee-data/people.count/internal/rangefinder"
	"github.com/banshee-data/people.count/internal/timeutil"
)

func setupService(t *testing.T, light *fakeLight) (*service, *db.DB) {
	t.Helper()
	store, err := db.NewDB(filepath.Join(t.TempDir(), "episodes.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	src, err := rangefinder.LoadDefaultReplay()
	require.NoError(t, err)

	clock := timeutil.NewMockClock(time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC))
	clock.SetAutoStep(30 * time.Millisecond)

	var svc *service
	if light != nil {
		svc = newService(config.DefaultConfig(), src, store, light, nil, clock)
	} else {
		svc = newService(config.DefaultConfig(), src, store, nil, nil, clock)
	}
	return svc, store
}

type logEntry struct {
	Change   counter.CountChange
	Previous int
}

// The embedded recording is one person walking in and out again.
func TestService_ReplayEndToEnd(t *testing.T) {
	svc, store := setupService(t, nil)

	require.NoError(t, svc.run(context.Background()))
	assert.Equal(t, 0, svc.tally.Count())
	assert.Equal(t, counter.StateStopped, svc.detector.State())

	records, err := store.CountingEpisodes(time.Time{})
	require.NoError(t, err)
	var got []logEntry
	for _, r := range records {
		got = append(got, logEntry{Change: r.CountChange, Previous: r.PreviousCount})
		assert.NotNil(t, r.Bounds, "a counting episode is complete")
		assert.Positive(t, r.Duration())
	}
	want := []logEntry{{counter.Entered, 0}, {counter.Left, 1}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("counting log mismatch (-want +got):\n%s", diff)
	}

	all, err := store.RecentEpisodes(0)
	require.NoError(t, err)
	assert.Greater(t, len(all), len(records), "non-counting changes are logged too")

	adjustments, err := store.RecentAdjustments(0)
	require.NoError(t, err)
	assert.Empty(t, adjustments)
}

func TestService_API(t *testing.T) {
	svc, _ := setupService(t, nil)
	require.NoError(t, svc.run(context.Background()))

	mux := svc.apiServer().ServeMux()
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/stats", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var summary struct {
		Entries int `json:"entries"`
		Faults  int `json:"faults"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &summary))
	assert.Equal(t, 2, summary.Entries)
	assert.Zero(t, summary.Faults)

	w = httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/presence", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"sensor":"stopped"`)
	assert.Contains(t, w.Body.String(), `"motion":false`)
}

type fakeLight struct {
	mu    sync.Mutex
	on    bool
	calls []bool
}

func (f *fakeLight) IsOn(context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.on, nil
}

func (f *fakeLight) SetOn(_ context.Context, on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.on = on
	f.calls = append(f.calls, on)
	return nil
}

func (f *fakeLight) SetScene(ctx context.Context, _ string) error {
	return f.SetOn(ctx, true)
}

func TestService_Lighting(t *testing.T) {
	light := &fakeLight{}
	svc, store := setupService(t, light)

	require.NoError(t, svc.run(context.Background()))
	assert.Equal(t, 0, svc.tally.Count())

	light.mu.Lock()
	defer light.mu.Unlock()
	assert.False(t, light.on, "the lights are off once the room is empty and the door is clear")
	require.NotEmpty(t, light.calls)
	assert.True(t, light.calls[0], "motion at the door switches the lights on first")

	records, err := store.CountingEpisodes(time.Time{})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, counter.Entered, records[0].CountChange)
	assert.Equal(t, counter.Left, records[1].CountChange)
	assert.Equal(t, 0, records[0].PreviousCount)
	assert.Equal(t, 1, records[1].PreviousCount, "logged after the entry reached the tally")
}

func TestApplyFlags(t *testing.T) {
	cfg := config.DefaultConfig()
	applyFlags(cfg, "", "", "")
	assert.Equal(t, config.DefaultListen, cfg.GetListen())

	applyFlags(cfg, ":9090", "/tmp/x.db", "/dev/ttyACM0")
	assert.Equal(t, ":9090", cfg.GetListen())
	assert.Equal(t, "/tmp/x.db", cfg.GetDBPath())
	assert.Equal(t, "/dev/ttyACM0", cfg.GetSerialPort())

	empty := &config.Config{}
	applyFlags(empty, "", "", "/dev/ttyUSB1")
	assert.Equal(t, "/dev/ttyUSB1", empty.GetSerialPort())
}

func TestOpenSource_Dev(t *testing.T) {
	src, mux, err := openSource(config.DefaultConfig(), true)
	require.NoError(t, err)
	defer mux.Close()
	assert.IsType(t, &rangefinder.ReplaySource{}, src)

	path := filepath.Join(t.TempDir(), "walk.csv")
	require.NoError(t, os.WriteFile(path, []byte("zone,distance_cm\noutside,50\ninside,210\n"), 0o644))
	cfg := config.DefaultConfig()
	cfg.Replay.File = &path
	src, _, err = openSource(cfg, true)
	require.NoError(t, err)
	assert.Equal(t, 1, src.(*rangefinder.ReplaySource).Remaining(counter.Outside))
}

func TestWriteStats(t *testing.T) {
	svc, store := setupService(t, nil)
	require.NoError(t, svc.run(context.Background()))

	plot := filepath.Join(t.TempDir(), "count.png")
	chart := filepath.Join(t.TempDir(), "count.html")
	var out bytes.Buffer
	require.NoError(t, writeStats(store, time.Time{}, plot, chart, &out))

	assert.Contains(t, out.String(), "Counting entries:     2 (1 entered, 1 left)")
	assert.Contains(t, out.String(), "Faults:               0 (0.0%)")
	assert.FileExists(t, plot)
	assert.FileExists(t, chart)
}

func TestWriteStats_Empty(t *testing.T) {
	store, err := db.NewDB(filepath.Join(t.TempDir(), "empty.db"))
	require.NoError(t, err)
	defer store.Close()

	var out bytes.Buffer
	require.NoError(t, writeStats(store, time.Time{}, filepath.Join(t.TempDir(), "count.png"), "", &out))
	assert.Contains(t, out.String(), "No crossings to plot")
}
