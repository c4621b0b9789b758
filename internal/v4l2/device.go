//go:build linux

package v4l2

import (
	"io"
	"syscall"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// A V4L2 character device.
type device struct {
	// Device path, usually "/dev/video0".
	path string

	// File descriptor of v4l2 device.
	fd int

	// Memory-mapped kernel buffers.
	mmaps [][]byte

	width, height int
	stride        int
}

func openDevice(path string) (*device, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_NONBLOCK, 0666)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	return &device{path: path, fd: fd}, nil
}

func (dev *device) Close() error {
	if err := dev.Stop(); err != nil {
		log.Warn("%s: stop: %v", dev.path, err)
	}
	return unix.Close(dev.fd)
}

func (dev *device) ioctl(request uintptr, arg unsafe.Pointer) error {
	for {
		_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(dev.fd), request, uintptr(arg))
		switch errno {
		case 0:
			return nil
		case unix.EINTR:
			continue
		}
		return errno
	}
}

// setFormat requests YUYV at width x height. The driver may pick another
// size; the chosen geometry is recorded on the device.
func (dev *device) setFormat(width, height int) error {
	var f format
	f.typ = bufTypeVideoCapture
	pix := f.pix()
	pix.width = uint32(width)
	pix.height = uint32(height)
	pix.pixelformat = pixFmtYUYV
	pix.field = fieldNone
	if err := dev.ioctl(vidiocSFmt, unsafe.Pointer(&f)); err != nil {
		return errors.Wrapf(err, "%s: set format", dev.path)
	}
	if pix.pixelformat != pixFmtYUYV {
		return errors.Errorf("%s: device does not deliver YUYV", dev.path)
	}
	dev.width, dev.height = int(pix.width), int(pix.height)
	dev.stride = int(pix.bytesperline)
	if dev.stride < 2*dev.width {
		dev.stride = 2 * dev.width
	}
	return nil
}

func (dev *device) setControl(id uint32, value int32) error {
	c := control{id: id, value: value}
	return dev.ioctl(vidiocSCtrl, unsafe.Pointer(&c))
}

func (dev *device) setFlip(h, v bool) error {
	if err := dev.setControl(cidHFlip, boolValue(h)); err != nil {
		return errors.Wrapf(err, "%s: hflip", dev.path)
	}
	if err := dev.setControl(cidVFlip, boolValue(v)); err != nil {
		return errors.Wrapf(err, "%s: vflip", dev.path)
	}
	return nil
}

func boolValue(b bool) int32 {
	if b {
		return 1
	}
	return 0
}

// Request n kernel buffers memory-mapped to user-space.
func (dev *device) requestBuffers(n int) (int, error) {
	rb := requestBuffers{
		count:  uint32(n),
		typ:    bufTypeVideoCapture,
		memory: memoryMmap,
	}
	err := dev.ioctl(vidiocReqBufs, unsafe.Pointer(&rb))
	return int(rb.count), err
}

func (dev *device) mapMemory(n int) error {
	count, err := dev.requestBuffers(n)
	if err != nil {
		return errors.Wrapf(err, "%s: request buffers", dev.path)
	}
	if count < 1 {
		return errors.Errorf("%s: driver granted no buffers", dev.path)
	}
	for i := 0; i < count; i++ {
		qb := buffer{index: uint32(i), typ: bufTypeVideoCapture, memory: memoryMmap}
		if err := dev.ioctl(vidiocQueryBuf, unsafe.Pointer(&qb)); err != nil {
			return errors.Wrapf(err, "%s: query buffer %d", dev.path, i)
		}
		m, err := unix.Mmap(dev.fd, int64(qb.offset()), int(qb.length), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
		if err != nil {
			return errors.Wrapf(err, "%s: mmap buffer %d", dev.path, i)
		}
		dev.mmaps = append(dev.mmaps, m)
	}
	return nil
}

func (dev *device) unmapMemory() error {
	for _, m := range dev.mmaps {
		if err := unix.Munmap(m); err != nil {
			return err
		}
	}
	dev.mmaps = nil
	_, err := dev.requestBuffers(0)
	return err
}

func (dev *device) enqueue(index int) error {
	qb := buffer{index: uint32(index), typ: bufTypeVideoCapture, memory: memoryMmap}
	return dev.ioctl(vidiocQBuf, unsafe.Pointer(&qb))
}

// Start video capture with n kernel buffers.
func (dev *device) Start(n int) error {
	if err := dev.mapMemory(n); err != nil {
		return err
	}
	for i := range dev.mmaps {
		if err := dev.enqueue(i); err != nil {
			return err
		}
	}
	typ := int32(bufTypeVideoCapture)
	return dev.ioctl(vidiocStreamOn, unsafe.Pointer(&typ))
}

// Stop video capture.
func (dev *device) Stop() error {
	if dev.mmaps == nil {
		return nil
	}
	// Disable stream (dequeues any outstanding buffers as well).
	typ := int32(bufTypeVideoCapture)
	if err := dev.ioctl(vidiocStreamOff, unsafe.Pointer(&typ)); err != nil {
		return err
	}
	return dev.unmapMemory()
}

// wait blocks up to timeoutMs for a frame. It reports false on timeout.
func (dev *device) wait(timeoutMs int) (bool, error) {
	fds := []unix.PollFd{{Fd: int32(dev.fd), Events: unix.POLLIN}}
	n, err := unix.Poll(fds, timeoutMs)
	if err == unix.EINTR {
		return false, nil
	}
	return n > 0, err
}

// dequeue returns a filled buffer, which must be handed back with
// enqueue, and its timestamp in nanoseconds.
func (dev *device) dequeue() (index int, data []byte, timestampNs int64, err error) {
	qb := buffer{typ: bufTypeVideoCapture, memory: memoryMmap}
	if err = dev.ioctl(vidiocDQBuf, unsafe.Pointer(&qb)); err != nil {
		if err == syscall.EINVAL {
			err = io.EOF
		}
		return
	}
	index = int(qb.index)
	data = dev.mmaps[index][:qb.bytesused]
	timestampNs = qb.timestamp.Nano()
	return
}
