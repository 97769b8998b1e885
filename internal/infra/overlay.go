package infra

import (
	"go.uber.org/zap"

	"github.com/eliteGoblin/kioskd/internal/domain"
)

// Linux input event codes (linux/input-event-codes.h).
const (
	evSyn = 0x00
	evKey = 0x01
	evAbs = 0x03

	synReport  = 0
	synDropped = 3

	btnLeft  = 0x110
	btnTouch = 0x14a

	absX          = 0x00
	absY          = 0x01
	absMTPosition = 0x35 // ABS_MT_POSITION_X; Y is +1
)

// DefaultInputGlob matches the evdev nodes scanned when no devices are
// configured.
const DefaultInputGlob = "/dev/input/event*"

// EvdevOverlayFactory opens absolute pointer devices (touchscreens,
// tablets) and reports presses inside the maintenance hit-box. Devices are
// read without grabbing them, so the desktop keeps receiving input.
type EvdevOverlayFactory struct {
	devices      []string
	screenWidth  int
	screenHeight int
	logger       *zap.Logger
}

// NewEvdevOverlayFactory creates an overlay factory. With no devices, all
// nodes matching DefaultInputGlob are scanned. A zero screen size maps the
// device's own axis range one unit per pixel.
func NewEvdevOverlayFactory(devices []string, screenWidth, screenHeight int, logger *zap.Logger) *EvdevOverlayFactory {
	return &EvdevOverlayFactory{
		devices:      append([]string(nil), devices...),
		screenWidth:  screenWidth,
		screenHeight: screenHeight,
		logger:       logger,
	}
}

// axisRange is a device axis from EVIOCGABS.
type axisRange struct {
	min, max int32
}

// toPixels maps a raw axis value onto [0, screen).
func (a axisRange) toPixels(v int32, screen int) int {
	span := int64(a.max) - int64(a.min) + 1
	if span <= 0 {
		return 0
	}
	if screen <= 0 {
		screen = int(span)
	}
	return int((int64(v) - int64(a.min)) * int64(screen) / span)
}

// touchDecoder turns one device's raw event stream into pointer events.
// A press is reported when contact starts inside the hit-box; a release
// when contact ends, wherever it ends.
type touchDecoder struct {
	box          domain.HitBox
	xAxis, yAxis axisRange
	width        int
	height       int

	x, y        int32
	touching    bool
	wasTouching bool
	pressed     bool
	dropping    bool
}

func newTouchDecoder(box domain.HitBox, xAxis, yAxis axisRange, screenWidth, screenHeight int) *touchDecoder {
	d := &touchDecoder{box: box, xAxis: xAxis, yAxis: yAxis, width: screenWidth, height: screenHeight}
	if d.width <= 0 {
		d.width = int(int64(xAxis.max) - int64(xAxis.min) + 1)
	}
	if d.height <= 0 {
		d.height = int(int64(yAxis.max) - int64(yAxis.min) + 1)
	}
	return d
}

// feed consumes one raw event. It returns true with the event kind when a
// pointer event is complete.
func (d *touchDecoder) feed(typ, code uint16, value int32) (domain.PointerKind, bool) {
	if d.dropping {
		// After SYN_DROPPED everything up to the next report is stale.
		if typ == evSyn && code == synReport {
			d.dropping = false
		}
		return 0, false
	}

	switch typ {
	case evAbs:
		switch code {
		case absX, absMTPosition:
			d.x = value
		case absY, absMTPosition + 1:
			d.y = value
		}
	case evKey:
		if code == btnTouch || code == btnLeft {
			d.touching = value != 0
		}
	case evSyn:
		switch code {
		case synReport:
			return d.report()
		case synDropped:
			d.dropping = true
			d.touching, d.wasTouching = false, false
			if d.pressed {
				d.pressed = false
				return domain.PointerCaptureLost, true
			}
		}
	}
	return 0, false
}

func (d *touchDecoder) report() (domain.PointerKind, bool) {
	started := d.touching && !d.wasTouching
	ended := !d.touching && d.wasTouching
	d.wasTouching = d.touching

	switch {
	case started && d.inBox():
		d.pressed = true
		return domain.PointerPress, true
	case ended && d.pressed:
		d.pressed = false
		return domain.PointerRelease, true
	}
	return 0, false
}

// lost reports whether a device failure interrupted a press.
func (d *touchDecoder) lost() bool {
	was := d.pressed
	d.pressed, d.touching, d.wasTouching = false, false, false
	return was
}

func (d *touchDecoder) inBox() bool {
	px := d.xAxis.toPixels(d.x, d.width)
	py := d.yAxis.toPixels(d.y, d.height)
	size := d.box.Size

	left := px < size
	right := px >= d.width-size
	top := py < size
	bottom := py >= d.height-size

	switch d.box.Corner {
	case domain.CornerTopRight:
		return right && top
	case domain.CornerBottomLeft:
		return left && bottom
	case domain.CornerBottomRight:
		return right && bottom
	default:
		return left && top
	}
}

// Ensure EvdevOverlayFactory implements domain.OverlayFactory.
var _ domain.OverlayFactory = (*EvdevOverlayFactory)(nil)
