// Command lgmpclient mirrors a Looking-Glass-style shared-memory
// framebuffer: it finds the ack offset and write mode a producer needs,
// keeps pumping it, watches link health, and (optionally) forwards host
// input to a remote-framebuffer endpoint.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/orgixmh/lgmpclient/internal/config"
	"github.com/orgixmh/lgmpclient/internal/hostshell"
	"github.com/orgixmh/lgmpclient/internal/monitor"
	"github.com/orgixmh/lgmpclient/internal/preflight"
	"github.com/orgixmh/lgmpclient/internal/rfbinput"
	"github.com/orgixmh/lgmpclient/internal/ring"
	"github.com/orgixmh/lgmpclient/internal/segment"
	"github.com/orgixmh/lgmpclient/internal/snapshotlog"
	"github.com/orgixmh/lgmpclient/internal/store"
	"github.com/orgixmh/lgmpclient/internal/supervisor"
	"github.com/orgixmh/lgmpclient/internal/xlog"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfgPath := flag.String("config", "", "path to a JSON settings sidecar (optional)")

	def := config.Default()
	segPath := flag.String("segment", def.Segment.Path, "shared-memory segment path")
	idxOff := flag.String("idx-off", fmt.Sprintf("0x%X", def.Segment.IdxOff), "producer index offset (hex or decimal)")
	flagOff := flag.String("flag-off", fmt.Sprintf("0x%X", def.Segment.FlagOff), "connection flag offset")
	flagMask := flag.String("flag-mask", fmt.Sprintf("0x%X", def.Segment.FlagMask), "connection flag mask")

	width := flag.Uint("width", uint(def.Geometry.Width), "framebuffer width")
	height := flag.Uint("height", uint(def.Geometry.Height), "framebuffer height")
	pitch := flag.Uint("pitch", uint(def.Geometry.Pitch), "row pitch in bytes")
	bpp := flag.Uint("bpp", uint(def.Geometry.BPP), "bytes per pixel (3=BGR, 4=BGRA)")
	slotBase := flag.String("slot-base", fmt.Sprintf("0x%X", def.Geometry.SlotBase), "slot base offset")
	nbuf := flag.Uint("nbuf", uint(def.Geometry.NBuf), "number of ring slots")
	slot := flag.Int("slot", def.Geometry.Slot, "force a fixed slot index (-1 follows the producer index)")

	windowSize := flag.String("window", fmt.Sprintf("%dx%d", def.Window.Width, def.Window.Height), "window size WxH")

	skipPreflight := flag.Bool("no-preflight", def.Preflight.Skip, "skip ack discovery and use the cached/last-known ack")
	margin := flag.Uint("margin", uint(def.Preflight.Margin), "preflight margin threshold")

	fpsOk := flag.Float64("fps-ok", def.Health.FPSOk, "fps at/above which the link is healthy")
	fpsDead := flag.Float64("fps-dead", def.Health.FPSDead, "fps at/below which the link is dead")
	relaxed := flag.Bool("relaxed", def.Health.Relaxed, "suppress jitter by upgrading near-ok fps to ok")

	verbose := flag.Bool("verbose", def.Diagnostics.Verbose, "verbose logging")
	snapshotPath := flag.String("snapshot-path", def.Diagnostics.SnapshotPath, "diagnostic snapshot log path")
	ackCachePath := flag.String("ack-cache-path", def.Diagnostics.AckCachePath, "ack-offset cache database path")

	inputHost := flag.String("input-host", def.Input.Host, "remote-framebuffer input host (empty disables input forwarding)")
	inputPort := flag.Int("input-port", def.Input.Port, "remote-framebuffer input port")
	inputOffsetX := flag.Int("input-offset-x", def.Input.OffsetX, "input x calibration offset")
	inputOffsetY := flag.Int("input-offset-y", def.Input.OffsetY, "input y calibration offset")
	inputScaleX := flag.Float64("input-scale-x", def.Input.ScaleX, "input x calibration scale")
	inputScaleY := flag.Float64("input-scale-y", def.Input.ScaleY, "input y calibration scale")

	flag.Parse()

	set := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })

	cfg := def
	if *cfgPath != "" {
		if err := config.EnsureConfigFile(*cfgPath); err != nil {
			log.Printf("config bootstrap: %v", err)
			return 1
		}
		loaded, err := config.Load(*cfgPath)
		if err != nil {
			log.Printf("config load: %v", err)
			return 1
		}
		cfg = loaded
	}

	if err := applyOverrides(&cfg, set, overrideInputs{
		segPath: *segPath, idxOff: *idxOff, flagOff: *flagOff, flagMask: *flagMask,
		width: *width, height: *height, pitch: *pitch, bpp: *bpp, slotBase: *slotBase,
		nbuf: *nbuf, slot: *slot, windowSize: *windowSize,
		skipPreflight: *skipPreflight, margin: *margin,
		fpsOk: *fpsOk, fpsDead: *fpsDead, relaxed: *relaxed,
		verbose: *verbose, snapshotPath: *snapshotPath, ackCachePath: *ackCachePath,
		inputHost: *inputHost, inputPort: *inputPort,
		inputOffsetX: *inputOffsetX, inputOffsetY: *inputOffsetY,
		inputScaleX: *inputScaleX, inputScaleY: *inputScaleY,
	}); err != nil {
		log.Printf("flag parse: %v", err)
		return 1
	}

	if err := cfg.Validate(); err != nil {
		log.Printf("config validate: %v", err)
		return 1
	}

	runID := xlog.NewRunID()
	xlog.SetRunID(runID)

	mainLog := xlog.New("main")
	mainLog.Printf("starting run %s", runID)

	seg, err := segment.Open(cfg.Segment.Path)
	if err != nil {
		mainLog.Printf("open segment %s: %v", cfg.Segment.Path, err)
		return 1
	}
	defer seg.Close()
	mainLog.Printf("mapped %s (%s)", cfg.Segment.Path, humanize.Bytes(uint64(seg.Size())))

	geo := ring.Geometry{
		FBWidth: cfg.Geometry.Width, FBHeight: cfg.Geometry.Height,
		Pitch: cfg.Geometry.Pitch, BPP: cfg.Geometry.BPP,
		IdxOff: cfg.Segment.IdxOff, SlotBase: cfg.Geometry.SlotBase, NBuf: cfg.Geometry.NBuf,
	}
	if cfg.Geometry.Slot >= 0 {
		forced := cfg.Geometry.SlotBase
		geo.ForceOffset = &forced
		geo.ForceSlot = uint32(cfg.Geometry.Slot)
	}
	if err := geo.Validate(); err != nil {
		mainLog.Printf("geometry: %v", err)
		return 1
	}

	ringReader, err := ring.New(seg, geo)
	if err != nil {
		mainLog.Printf("ring reader: %v", err)
		return 1
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var st *store.Store
	if cfg.Diagnostics.AckCachePath != "" {
		st, err = store.Open(cfg.Diagnostics.AckCachePath)
		if err != nil {
			mainLog.Printf("ack cache open: %v", err)
			return 1
		}
		defer st.Close()
	}

	pflCfg := preflight.DefaultConfig()
	pflCfg.IdxOff, pflCfg.FlagOff, pflCfg.FlagMask = cfg.Segment.IdxOff, cfg.Segment.FlagOff, cfg.Segment.FlagMask
	pflCfg.Margin = cfg.Preflight.Margin
	if cfg.Preflight.PumpSeconds > 0 {
		pflCfg.PumpDuration = time.Duration(cfg.Preflight.PumpSeconds * float64(time.Second))
	}
	if cfg.Preflight.IntervalMS > 0 {
		pflCfg.Interval = time.Duration(cfg.Preflight.IntervalMS) * time.Millisecond
	}
	if cfg.Preflight.QuietMS > 0 {
		pflCfg.QuietWindow = time.Duration(cfg.Preflight.QuietMS) * time.Millisecond
	}
	if cfg.Preflight.PulseMS > 0 {
		pflCfg.PulseWindow = time.Duration(cfg.Preflight.PulseMS) * time.Millisecond
	}

	monCfg := monitor.DefaultConfig()
	monCfg.IdxOff, monCfg.FlagOff, monCfg.FlagMask = cfg.Segment.IdxOff, cfg.Segment.FlagOff, cfg.Segment.FlagMask
	monCfg.FPSOk, monCfg.FPSDead, monCfg.Relaxed = cfg.Health.FPSOk, cfg.Health.FPSDead, cfg.Health.Relaxed
	if cfg.Health.PollMS > 0 {
		monCfg.PollPeriod = time.Duration(cfg.Health.PollMS) * time.Millisecond
	}

	fingerprint := store.Fingerprint(geo, cfg.Segment.IdxOff)

	shell := hostshell.NewHeadless(xlog.New("shell"), cfg.Diagnostics.Verbose)

	var inputSink *rfbinput.Client
	if cfg.Input.Host != "" {
		inputSink, err = rfbinput.Dial(rfbinput.Config{
			Host: cfg.Input.Host, Port: cfg.Input.Port,
			OffsetX: cfg.Input.OffsetX, OffsetY: cfg.Input.OffsetY,
			ScaleX: cfg.Input.ScaleX, ScaleY: cfg.Input.ScaleY,
		})
		if err != nil {
			mainLog.Printf("input endpoint: %v", err)
		} else {
			defer inputSink.Close()
			mainLog.Printf("input forwarding to %s:%d", cfg.Input.Host, cfg.Input.Port)
		}
	}

	if cfg.Preflight.Skip {
		mainLog.Printf("skipping preflight per --no-preflight")
	}

	sv := supervisor.New(seg, pflCfg, pflCfg.Interval, monCfg, st, fingerprint, cfg.Preflight.Skip, xlog.New("supervisor"))

	var snapWriter *snapshotlog.Writer
	if cfg.Diagnostics.SnapshotPath != "" {
		snapWriter, err = snapshotlog.Open(cfg.Diagnostics.SnapshotPath)
		if err != nil {
			mainLog.Printf("snapshot log: %v", err)
		}
	}
	go runSnapshotLoop(ctx, sv, snapWriter, runID, cfg.Segment.FlagOff, cfg.Segment.FlagMask)
	go runRenderLoop(ctx, ringReader, shell, sv)

	runErr := sv.Run(ctx)
	if runErr != nil && runErr != context.Canceled {
		mainLog.Printf("shutdown: %v", runErr)
	}
	mainLog.Printf("exiting cleanly")
	return 0
}

// runRenderLoop stands in for the host's render thread (out of core
// scope) just enough to exercise RingReader and the shell interfaces end
// to end: decode the current slot at display cadence and hand it to the
// frame consumer, toggling the health overlay with classification.
func runRenderLoop(ctx context.Context, r *ring.RingReader, shell *hostshell.Headless, sv *supervisor.Supervisor) {
	ticker := time.NewTicker(16 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			slot, err := r.CurrentSlot()
			if err != nil {
				continue
			}
			if frame, ok := r.ReadFrameTight(slot); ok {
				geo := r.Geometry()
				_ = shell.UploadFrame(frame, geo.FBWidth, geo.FBHeight, geo.BPP)
			}
			if mon := sv.Monitor(); mon != nil {
				shell.SetOverlay(mon.Current().Status != monitor.StatusOK)
			}
		}
	}
}

func runSnapshotLoop(ctx context.Context, sv *supervisor.Supervisor, w *snapshotlog.Writer, runID string, flagOff, flagMask uint32) {
	if w == nil {
		return
	}
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			mon := sv.Monitor()
			if mon == nil {
				continue
			}
			now := time.Now()
			cls := mon.Current()
			entries := mon.Snapshot(now)
			_ = w.Write(now, runID, cls, mon.FPS(now), flagOff, flagMask, entries)
		}
	}
}

type overrideInputs struct {
	segPath, idxOff, flagOff, flagMask string
	width, height, pitch, bpp, nbuf    uint
	slotBase                           string
	slot                               int
	windowSize                         string
	skipPreflight                      bool
	margin                             uint
	fpsOk, fpsDead                     float64
	relaxed, verbose                   bool
	snapshotPath, ackCachePath         string
	inputHost                          string
	inputPort                          int
	inputOffsetX, inputOffsetY         int
	inputScaleX, inputScaleY           float64
}

func applyOverrides(cfg *config.Config, set map[string]bool, o overrideInputs) error {
	if set["segment"] {
		cfg.Segment.Path = o.segPath
	}
	if set["idx-off"] {
		v, err := parseU32(o.idxOff)
		if err != nil {
			return fmt.Errorf("idx-off: %w", err)
		}
		cfg.Segment.IdxOff = v
	}
	if set["flag-off"] {
		v, err := parseU32(o.flagOff)
		if err != nil {
			return fmt.Errorf("flag-off: %w", err)
		}
		cfg.Segment.FlagOff = v
	}
	if set["flag-mask"] {
		v, err := parseU32(o.flagMask)
		if err != nil {
			return fmt.Errorf("flag-mask: %w", err)
		}
		cfg.Segment.FlagMask = v
	}
	if set["width"] {
		cfg.Geometry.Width = uint32(o.width)
	}
	if set["height"] {
		cfg.Geometry.Height = uint32(o.height)
	}
	if set["pitch"] {
		cfg.Geometry.Pitch = uint32(o.pitch)
	}
	if set["bpp"] {
		cfg.Geometry.BPP = uint32(o.bpp)
	}
	if set["slot-base"] {
		v, err := parseU32(o.slotBase)
		if err != nil {
			return fmt.Errorf("slot-base: %w", err)
		}
		cfg.Geometry.SlotBase = v
	}
	if set["nbuf"] {
		cfg.Geometry.NBuf = uint32(o.nbuf)
	}
	if set["slot"] {
		cfg.Geometry.Slot = o.slot
	}
	if set["window"] {
		w, h, err := parseWxH(o.windowSize)
		if err != nil {
			return fmt.Errorf("window: %w", err)
		}
		cfg.Window.Width, cfg.Window.Height = w, h
	}
	if set["no-preflight"] {
		cfg.Preflight.Skip = o.skipPreflight
	}
	if set["margin"] {
		cfg.Preflight.Margin = uint32(o.margin)
	}
	if set["fps-ok"] {
		cfg.Health.FPSOk = o.fpsOk
	}
	if set["fps-dead"] {
		cfg.Health.FPSDead = o.fpsDead
	}
	if set["relaxed"] {
		cfg.Health.Relaxed = o.relaxed
	}
	if set["verbose"] {
		cfg.Diagnostics.Verbose = o.verbose
	}
	if set["snapshot-path"] {
		cfg.Diagnostics.SnapshotPath = o.snapshotPath
	}
	if set["ack-cache-path"] {
		cfg.Diagnostics.AckCachePath = o.ackCachePath
	}
	if set["input-host"] {
		cfg.Input.Host = o.inputHost
	}
	if set["input-port"] {
		cfg.Input.Port = o.inputPort
	}
	if set["input-offset-x"] {
		cfg.Input.OffsetX = o.inputOffsetX
	}
	if set["input-offset-y"] {
		cfg.Input.OffsetY = o.inputOffsetY
	}
	if set["input-scale-x"] {
		cfg.Input.ScaleX = o.inputScaleX
	}
	if set["input-scale-y"] {
		cfg.Input.ScaleY = o.inputScaleY
	}
	return nil
}

func parseU32(s string) (uint32, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 0, 32)
	if err != nil {
		return 0, err
	}
	return uint32(v), nil
}

func parseWxH(s string) (int, int, error) {
	parts := strings.SplitN(strings.ToLower(s), "x", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("want WxH, got %q", s)
	}
	w, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, 0, err
	}
	h, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return 0, 0, err
	}
	return w, h, nil
}
