// Package config defines the on-disk settings sidecar for lgmpclient,
// covering every override the CLI exposes so a deployment
// can pin geometry, thresholds, and the input endpoint without retyping
// flags every run.
package config

import (
	"encoding/json"
	"errors"
	"os"
)

type Segment struct {
	Path     string `json:"path"`
	IdxOff   uint32 `json:"idx_off"`
	FlagOff  uint32 `json:"flag_off"`
	FlagMask uint32 `json:"flag_mask"`
}

type Geometry struct {
	Width    uint32 `json:"width"`
	Height   uint32 `json:"height"`
	Pitch    uint32 `json:"pitch"`
	BPP      uint32 `json:"bpp"`
	SlotBase uint32 `json:"slot_base"`
	NBuf     uint32 `json:"nbuf"`
	Slot     int    `json:"slot"` // -1 = follow the producer index
}

type Window struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

type Preflight struct {
	Skip        bool    `json:"skip"`
	Margin      uint32  `json:"margin"`
	PumpSeconds float64 `json:"pump_seconds"`
	IntervalMS  int     `json:"interval_ms"`
	QuietMS     int     `json:"quiet_ms"`
	PulseMS     int     `json:"pulse_ms"`
}

type Health struct {
	FPSOk   float64 `json:"fps_ok"`
	FPSDead float64 `json:"fps_dead"`
	Relaxed bool    `json:"relaxed"`
	PollMS  int     `json:"poll_ms"`
}

type Input struct {
	Host    string  `json:"host"`
	Port    int     `json:"port"`
	OffsetX int     `json:"offset_x"`
	OffsetY int     `json:"offset_y"`
	ScaleX  float64 `json:"scale_x"`
	ScaleY  float64 `json:"scale_y"`
}

type Diagnostics struct {
	Verbose      bool   `json:"verbose"`
	SnapshotPath string `json:"snapshot_path"`
	AckCachePath string `json:"ack_cache_path"`
}

// Config is the full settings surface, serialized to JSON.
type Config struct {
	Segment     Segment     `json:"segment"`
	Geometry    Geometry    `json:"geometry"`
	Window      Window      `json:"window"`
	Preflight   Preflight   `json:"preflight"`
	Health      Health      `json:"health"`
	Input       Input       `json:"input"`
	Diagnostics Diagnostics `json:"diagnostics"`
}

// Default returns the client's built-in defaults.
func Default() Config {
	return Config{
		Segment: Segment{
			Path:     "/dev/shm/looking-glass",
			IdxOff:   0x10,
			FlagOff:  0x13C,
			FlagMask: 0x00000004,
		},
		Geometry: Geometry{
			Width: 1920, Height: 1080, Pitch: 1920 * 4, BPP: 4,
			SlotBase: 0x1000, NBuf: 2, Slot: -1,
		},
		Window: Window{Width: 1280, Height: 720},
		Preflight: Preflight{
			Margin: 2, PumpSeconds: 2, IntervalMS: 20, QuietMS: 45, PulseMS: 45,
		},
		Health: Health{FPSOk: 30, FPSDead: 0.5, PollMS: 10},
		Input:  Input{Port: 5901, ScaleX: 1, ScaleY: 1},
		Diagnostics: Diagnostics{
			SnapshotPath: "signal_snapshots.txt",
			AckCachePath: "lgmpclient-ack-cache.db",
		},
	}
}

// Load reads and merges path onto Default, so a sidecar only needs to
// name the fields it overrides. An empty path returns the defaults
// unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := json.Unmarshal(b, &cfg); err != nil {
		return cfg, err
	}
	if cfg.Geometry.NBuf == 0 {
		cfg.Geometry.NBuf = 1
	}
	if cfg.Input.ScaleX == 0 {
		cfg.Input.ScaleX = 1
	}
	if cfg.Input.ScaleY == 0 {
		cfg.Input.ScaleY = 1
	}
	return cfg, nil
}

// Validate checks the invariants the rest of the client assumes hold.
func (c Config) Validate() error {
	if c.Segment.Path == "" {
		return errors.New("segment.path required")
	}
	if c.Geometry.BPP != 3 && c.Geometry.BPP != 4 {
		return errors.New("geometry.bpp must be 3 or 4")
	}
	if c.Geometry.Width == 0 || c.Geometry.Height == 0 {
		return errors.New("geometry.width and geometry.height must be positive")
	}
	if c.Geometry.Pitch < c.Geometry.Width*c.Geometry.BPP {
		return errors.New("geometry.pitch must be >= width*bpp")
	}
	if c.Geometry.NBuf == 0 {
		return errors.New("geometry.nbuf must be >= 1")
	}
	if c.Preflight.Margin == 0 {
		return errors.New("preflight.margin must be >= 1")
	}
	if c.Health.FPSOk <= c.Health.FPSDead {
		return errors.New("health.fps_ok must be greater than health.fps_dead")
	}
	if c.Input.Host != "" && c.Input.Port <= 0 {
		return errors.New("input.port required when input.host is set")
	}
	return nil
}
