package infra

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"path/filepath"
	"unsafe"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/eliteGoblin/kioskd/internal/domain"
)

// inputEvent mirrors struct input_event.
type inputEvent struct {
	Time  unix.Timeval
	Type  uint16
	Code  uint16
	Value int32
}

// inputAbsinfo mirrors struct input_absinfo.
type inputAbsinfo struct {
	Value      int32
	Minimum    int32
	Maximum    int32
	Fuzz       int32
	Flat       int32
	Resolution int32
}

var inputEventSize = int(unsafe.Sizeof(inputEvent{}))

// eviocgabs is EVIOCGABS(abs): _IOR('E', 0x40 + abs, struct input_absinfo).
func eviocgabs(abs uint) uint {
	return 2<<30 | uint(unsafe.Sizeof(inputAbsinfo{}))<<16 | uint('E')<<8 | (0x40 + abs)
}

// Open checks the configured (or discovered) devices and keeps those with
// absolute X and Y axes.
func (f *EvdevOverlayFactory) Open(box domain.HitBox) (domain.Overlay, error) {
	paths := f.devices
	if len(paths) == 0 {
		var err error
		paths, err = filepath.Glob(DefaultInputGlob)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrOverlayUnavailable, err)
		}
	}

	o := &evdevOverlay{}
	for _, path := range paths {
		dev, err := f.openDevice(path, box)
		if err != nil {
			f.logger.Debug("skipping input device", zap.String("device", path), zap.Error(err))
			continue
		}
		f.logger.Debug("maintenance overlay watching device", zap.String("device", path))
		o.devices = append(o.devices, dev)
	}

	if len(o.devices) == 0 {
		return nil, fmt.Errorf("%w: no absolute pointer device among %d candidates", domain.ErrOverlayUnavailable, len(paths))
	}
	return o, nil
}

func (f *EvdevOverlayFactory) openDevice(path string, box domain.HitBox) (*evdevDevice, error) {
	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, err
	}

	xAxis, err := absRange(fd, absX)
	if err == nil {
		var yAxis axisRange
		if yAxis, err = absRange(fd, absY); err == nil {
			return &evdevDevice{
				path:    path,
				fd:      fd,
				decoder: newTouchDecoder(box, xAxis, yAxis, f.screenWidth, f.screenHeight),
			}, nil
		}
	}
	unix.Close(fd)
	return nil, err
}

func absRange(fd int, axis uint) (axisRange, error) {
	var info inputAbsinfo
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uintptr(eviocgabs(axis)), uintptr(unsafe.Pointer(&info)))
	if errno != 0 {
		return axisRange{}, fmt.Errorf("EVIOCGABS(%d): %w", axis, errno)
	}
	if info.Maximum <= info.Minimum {
		return axisRange{}, fmt.Errorf("axis %d has empty range", axis)
	}
	return axisRange{min: info.Minimum, max: info.Maximum}, nil
}

type evdevDevice struct {
	path    string
	fd      int
	decoder *touchDecoder
	failed  bool
}

type evdevOverlay struct {
	devices []*evdevDevice
	buf     []byte
}

// Poll drains all devices without blocking. Events carry no timestamp; the
// gate stamps them with its own poll time.
func (o *evdevOverlay) Poll() []domain.PointerEvent {
	if o.buf == nil {
		o.buf = make([]byte, 64*inputEventSize)
	}

	var out []domain.PointerEvent
	for _, dev := range o.devices {
		if dev.failed {
			continue
		}
		for {
			n, err := unix.Read(dev.fd, o.buf)
			if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
				break
			}
			if err != nil || n <= 0 {
				// Device unplugged or unreadable.
				dev.failed = true
				if dev.decoder.lost() {
					out = append(out, domain.PointerEvent{Kind: domain.PointerCaptureLost})
				}
				break
			}
			out = append(out, decodeEvents(dev.decoder, o.buf[:n])...)
			if n < len(o.buf) {
				break
			}
		}
	}
	return out
}

func decodeEvents(d *touchDecoder, raw []byte) []domain.PointerEvent {
	var out []domain.PointerEvent
	r := bytes.NewReader(raw)
	for r.Len() >= inputEventSize {
		var ev inputEvent
		if err := binary.Read(r, binary.NativeEndian, &ev); err != nil {
			break
		}
		if kind, ok := d.feed(ev.Type, ev.Code, ev.Value); ok {
			out = append(out, domain.PointerEvent{Kind: kind})
		}
	}
	return out
}

// Close releases all device descriptors.
func (o *evdevOverlay) Close() error {
	var errs []error
	for _, dev := range o.devices {
		if err := unix.Close(dev.fd); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", dev.path, err))
		}
	}
	o.devices = nil
	return errors.Join(errs...)
}
