package hostshell

import "log"

// Headless satisfies FrameConsumer and HealthOverlay by logging instead
// of drawing. It is the shell used when no windowing toolkit is present
// — exercising the supervisor and ring-reader wiring end to end without
// a GL context.
type Headless struct {
	logger  *log.Logger
	verbose bool

	overlayKnown bool
	overlayOn    bool
}

// NewHeadless builds a Headless shell that logs through logger (nil is
// fine; logging is then skipped). Per-frame logging only fires when
// verbose is set, since it runs at display cadence; overlay transitions
// always log, verbose or not.
func NewHeadless(logger *log.Logger, verbose bool) *Headless {
	return &Headless{logger: logger, verbose: verbose}
}

func (h *Headless) UploadFrame(frame []byte, fbWidth, fbHeight, bpp uint32) error {
	if h.logger != nil && h.verbose {
		h.logger.Printf("frame %dx%d bpp=%d (%d bytes)", fbWidth, fbHeight, bpp, len(frame))
	}
	return nil
}

func (h *Headless) SetOverlay(active bool) {
	if h.overlayKnown && h.overlayOn == active {
		return
	}
	h.overlayKnown, h.overlayOn = true, active
	if h.logger == nil {
		return
	}
	if active {
		h.logger.Printf("overlay: -- waiting for signal --")
	} else {
		h.logger.Printf("overlay: cleared")
	}
}
