// Package hostshell defines the collaborator contracts a windowing/GL
// front end and its remote-input channel must satisfy.
// No concrete windowing implementation lives here — that surface is out
// of scope; rfbinput provides the one concrete InputSink this repo ships.
package hostshell

// Button identifies a pointer button in the RFB button-mask sense.
type Button int

const (
	ButtonLeft Button = iota
	ButtonMiddle
	ButtonRight
)

// FrameConsumer receives a tightly packed frame ready to upload and draw.
// bpp=3 sources are BGR (sampled as RGB); bpp=4 sources are BGRA with
// alpha forced opaque.
type FrameConsumer interface {
	UploadFrame(frame []byte, fbWidth, fbHeight, bpp uint32) error
}

// HealthOverlay toggles the degraded-link overlay: a semi-transparent
// full-screen dim plus a centered "-- waiting for signal --" banner,
// shown whenever classification is not ok.
type HealthOverlay interface {
	SetOverlay(active bool)
}

// InputSink forwards user input to whatever is on the other end of the
// remote-framebuffer channel. Coordinates are in window space; the
// implementation owns any calibration/offset/scale transform.
type InputSink interface {
	CursorPos(x, y int) error
	MouseButton(btn Button, down bool) error
	Scroll(dx, dy int) error
	Key(keysym uint32, down bool) error
	Close() error
}
