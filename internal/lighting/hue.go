// Package lighting switches the room lights from the people count and from
// motion at the door, and corrects count drift against the lights' state.
package lighting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/banshee-data/people.count/internal/httputil"
	"github.com/banshee-data/people.count/internal/monitoring"
)

// Light is a switchable group of lights.
type Light interface {
	IsOn(ctx context.Context) (bool, error)
	SetOn(ctx context.Context, on bool) error
	// SetScene switches the group on with the named scene.
	SetScene(ctx context.Context, name string) error
}

var ErrSceneNotFound = errors.New("scene not found")

// BridgeError is an error entry returned by the Hue bridge.
type BridgeError struct {
	Type        int    `json:"type"`
	Address     string `json:"address"`
	Description string `json:"description"`
}

func (e *BridgeError) Error() string {
	return fmt.Sprintf("hue bridge: %s (type %d, %s)", e.Description, e.Type, e.Address)
}

// HueConfig describes how to reach a group on a Hue bridge.
type HueConfig struct {
	// BridgeURL is the bridge base URL, e.g. http://192.168.1.20.
	BridgeURL string
	// Username is the application key registered on the bridge.
	Username string
	// Group is the id of the light group in the room.
	Group string
	// Transition is applied when recalling scenes.
	Transition time.Duration
}

// HueClient controls one light group through the bridge's REST API.
type HueClient struct {
	cfg    HueConfig
	client httputil.HTTPClient

	mu     sync.Mutex
	scenes map[string]string // name -> id
}

func NewHueClient(cfg HueConfig, client httputil.HTTPClient) *HueClient {
	if client == nil {
		client = httputil.NewStandardClient(nil, 5*time.Second)
	}
	cfg.BridgeURL = strings.TrimRight(cfg.BridgeURL, "/")
	return &HueClient{cfg: cfg, client: client}
}

func (h *HueClient) url(path string) string {
	return fmt.Sprintf("%s/api/%s/%s", h.cfg.BridgeURL, h.cfg.Username, path)
}

// transitionTime converts the transition to the bridge's 100ms units.
func (h *HueClient) transitionTime() int {
	return int(h.cfg.Transition / (100 * time.Millisecond))
}

type groupState struct {
	State struct {
		AnyOn bool `json:"any_on"`
		AllOn bool `json:"all_on"`
	} `json:"state"`
}

func (h *HueClient) IsOn(ctx context.Context) (bool, error) {
	var g groupState
	if err := h.call(ctx, http.MethodGet, "groups/"+h.cfg.Group, nil, &g); err != nil {
		return false, fmt.Errorf("get group %s: %w", h.cfg.Group, err)
	}
	return g.State.AnyOn, nil
}

func (h *HueClient) SetOn(ctx context.Context, on bool) error {
	if err := h.action(ctx, map[string]any{"on": on}); err != nil {
		return fmt.Errorf("set group %s on=%t: %w", h.cfg.Group, on, err)
	}
	return nil
}

func (h *HueClient) SetScene(ctx context.Context, name string) error {
	id, err := h.sceneID(ctx, name)
	if err != nil {
		return err
	}
	body := map[string]any{"scene": id, "transitiontime": h.transitionTime()}
	if err := h.action(ctx, body); err != nil {
		return fmt.Errorf("recall scene %q: %w", name, err)
	}
	return nil
}

func (h *HueClient) action(ctx context.Context, body map[string]any) error {
	var results []struct {
		Error *BridgeError `json:"error"`
	}
	if err := h.call(ctx, http.MethodPut, "groups/"+h.cfg.Group+"/action", body, &results); err != nil {
		return err
	}
	for _, r := range results {
		if r.Error != nil {
			return r.Error
		}
	}
	return nil
}

// sceneID looks the scene up by name, refreshing the cached list once on a
// miss.
func (h *HueClient) sceneID(ctx context.Context, name string) (string, error) {
	h.mu.Lock()
	id, ok := h.scenes[name]
	h.mu.Unlock()
	if ok {
		return id, nil
	}

	var scenes map[string]struct {
		Name string `json:"name"`
	}
	if err := h.call(ctx, http.MethodGet, "scenes", nil, &scenes); err != nil {
		return "", fmt.Errorf("list scenes: %w", err)
	}
	byName := make(map[string]string, len(scenes))
	for id, s := range scenes {
		byName[s.Name] = id
	}

	h.mu.Lock()
	h.scenes = byName
	h.mu.Unlock()

	if id, ok := byName[name]; ok {
		return id, nil
	}
	return "", fmt.Errorf("%w: %q", ErrSceneNotFound, name)
}

// Ping checks that the bridge accepts the username.
func (h *HueClient) Ping(ctx context.Context) error {
	var cfg map[string]any
	return h.call(ctx, http.MethodGet, "config", nil, &cfg)
}

// call performs one request. A transport failure triggers one reconnect
// attempt and, if the bridge answers again, a single retry.
func (h *HueClient) call(ctx context.Context, method, path string, body, out any) error {
	err := h.do(ctx, method, path, body, out)
	var transport *transportError
	if !errors.As(err, &transport) {
		return err
	}

	monitoring.Logf("[hue] request failed, reconnecting to bridge: %v", err)
	if perr := h.do(ctx, http.MethodGet, "config", nil, &map[string]any{}); perr != nil {
		return fmt.Errorf("reconnect failed: %w", errors.Join(err, perr))
	}
	return h.do(ctx, method, path, body, out)
}

type transportError struct{ err error }

func (e *transportError) Error() string { return e.err.Error() }
func (e *transportError) Unwrap() error { return e.err }

func (h *HueClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, h.url(path), reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return &transportError{err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &transportError{err}
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	// GET errors come back as a one element array instead of the object
	if method == http.MethodGet && bytes.HasPrefix(bytes.TrimSpace(data), []byte("[")) {
		var errs []struct {
			Error *BridgeError `json:"error"`
		}
		if json.Unmarshal(data, &errs) == nil && len(errs) > 0 && errs[0].Error != nil {
			return errs[0].Error
		}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
