// Copyright 2025 Gustavo C. Viegas. All rights reserved.

// Package ioctl constructs ioctl request codes and issues
// requests against open file descriptors.
// It implements the kernel's _IOC encoding for the x86-64
// and arm64 Linux ABIs.
package ioctl

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// Direction of data transfer encoded in a request code.
const (
	None  uint32 = 0
	Write uint32 = 1
	Read  uint32 = 2
)

// Field widths and shifts of the _IOC encoding.
const (
	nrBits   = 8
	typeBits = 8
	sizeBits = 14

	nrShift   = 0
	typeShift = nrShift + nrBits
	sizeShift = typeShift + typeBits
	dirShift  = sizeShift + sizeBits
)

// Code encodes an ioctl request from its direction, type,
// sequence number and argument size.
func Code(dir uint32, typ, nr uint8, size uintptr) uint32 {
	return dir<<dirShift | uint32(size)<<sizeShift | uint32(typ)<<typeShift | uint32(nr)<<nrShift
}

// IOW encodes a write request.
func IOW(typ, nr uint8, size uintptr) uint32 { return Code(Write, typ, nr, size) }

// IOR encodes a read request.
func IOR(typ, nr uint8, size uintptr) uint32 { return Code(Read, typ, nr, size) }

// IOWR encodes a read-write request.
func IOWR(typ, nr uint8, size uintptr) uint32 { return Code(Read|Write, typ, nr, size) }

// Ioctl issues a request with an untyped pointer argument.
// It retries requests interrupted by signal delivery, which
// matches the behavior that DRM drivers expect from their
// user space (drmIoctl does the same).
func Ioctl(fd int, req uint32, arg unsafe.Pointer) error {
	for {
		_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uintptr(req), uintptr(arg))
		switch errno {
		case 0:
			return nil
		case unix.EINTR, unix.EAGAIN:
			continue
		default:
			return errno
		}
	}
}
