// Copyright 2025 Gustavo C. Viegas. All rights reserved.

// Package drm wraps the driver-independent ioctl surface of
// the Linux DRM subsystem: driver identification, GEM object
// teardown and PRIME descriptor translation.
// Driver-specific requests (e.g. i915 GEM) live in the
// backend packages.
package drm

import (
	"fmt"
	"unsafe"

	"github.com/gviegas/gbm/internal/ioctl"
	"golang.org/x/sys/unix"
)

// DRM ioctl type byte ('d').
const ioctlBase = 'd'

// Request codes used by this package.
var (
	ioctlVersion         = ioctl.IOWR(ioctlBase, 0x00, unsafe.Sizeof(version{}))
	ioctlGEMClose        = ioctl.IOW(ioctlBase, 0x09, unsafe.Sizeof(gemClose{}))
	ioctlPrimeHandleToFD = ioctl.IOWR(ioctlBase, 0x2d, unsafe.Sizeof(primeHandle{}))
	ioctlPrimeFDToHandle = ioctl.IOWR(ioctlBase, 0x2e, unsafe.Sizeof(primeHandle{}))
)

// Flags for PrimeHandleToFD.
const (
	CloExec = unix.O_CLOEXEC
	RDWR    = unix.O_RDWR
)

// version mirrors struct drm_version.
type version struct {
	major   int32
	minor   int32
	patch   int32
	_       int32
	nameLen uint64
	name    *byte
	dateLen uint64
	date    *byte
	descLen uint64
	desc    *byte
}

// gemClose mirrors struct drm_gem_close.
type gemClose struct {
	handle uint32
	_      uint32
}

// primeHandle mirrors struct drm_prime_handle.
type primeHandle struct {
	handle uint32
	flags  uint32
	fd     int32
}

// DriverName returns the name of the kernel driver backing
// the device open on fd (e.g. "i915", "virtio_gpu", "vgem").
func DriverName(fd int) (string, error) {
	var v version
	if err := ioctl.Ioctl(fd, ioctlVersion, unsafe.Pointer(&v)); err != nil {
		return "", fmt.Errorf("drm: version query failed: %w", err)
	}
	if v.nameLen == 0 {
		return "", nil
	}
	buf := make([]byte, v.nameLen)
	v.name = &buf[0]
	v.dateLen = 0
	v.descLen = 0
	if err := ioctl.Ioctl(fd, ioctlVersion, unsafe.Pointer(&v)); err != nil {
		return "", fmt.Errorf("drm: version query failed: %w", err)
	}
	n := int(v.nameLen)
	if n > len(buf) {
		n = len(buf)
	}
	return string(buf[:n]), nil
}

// CloseGEM drops the given GEM handle.
// The kernel frees the object once no handle, mapping or
// PRIME reference remains.
func CloseGEM(fd int, handle uint32) error {
	arg := gemClose{handle: handle}
	if err := ioctl.Ioctl(fd, ioctlGEMClose, unsafe.Pointer(&arg)); err != nil {
		return fmt.Errorf("drm: GEM close failed: %w", err)
	}
	return nil
}

// PrimeHandleToFD exports a GEM handle as a DMA-BUF file
// descriptor. The descriptor keeps the object alive
// independently of the handle.
func PrimeHandleToFD(fd int, handle uint32, flags uint32) (int, error) {
	arg := primeHandle{handle: handle, flags: flags}
	if err := ioctl.Ioctl(fd, ioctlPrimeHandleToFD, unsafe.Pointer(&arg)); err != nil {
		return -1, fmt.Errorf("drm: PRIME export failed: %w", err)
	}
	return int(arg.fd), nil
}

// PrimeFDToHandle translates a DMA-BUF file descriptor into
// a GEM handle on the device open on fd.
// The kernel returns the same handle for every descriptor
// that refers to the same underlying object, which makes the
// handle usable as a stable per-device object identity.
func PrimeFDToHandle(fd, primeFD int) (uint32, error) {
	arg := primeHandle{fd: int32(primeFD)}
	if err := ioctl.Ioctl(fd, ioctlPrimeFDToHandle, unsafe.Pointer(&arg)); err != nil {
		return 0, fmt.Errorf("drm: PRIME import failed: %w", err)
	}
	return arg.handle, nil
}
