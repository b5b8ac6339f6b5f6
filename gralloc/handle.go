// Copyright 2025 Gustavo C. Viegas. All rights reserved.

package gralloc

import (
	"encoding/binary"

	"github.com/gviegas/gbm/driver"
)

// Handle is an opaque, duplicable capability referencing a
// buffer. It bundles the buffer's geometry, layout and
// per-plane DMA-BUF descriptors so a receiver can register
// it with its own Allocator via Retain.
//
// Handles are compared by pointer identity in the allocator's
// bookkeeping: two handle values with identical content are
// distinct entries, and a duplicated handle (e.g. one sent
// across a process boundary) must be separately retained and
// released.
//
// The descriptors are transported out of band (SCM_RIGHTS or
// equivalent); Encode and Decode cover the metadata only.
type Handle struct {
	// ID is unique within the originating process and
	// monotonically increasing across allocations.
	ID       uint32
	Width    uint32
	Height   uint32
	Format   driver.Format
	Tiling   driver.Tiling
	Modifier driver.Modifier
	Usage    driver.Usage

	NumPlanes int
	FDs       [driver.MaxPlanes]int
	Strides   [driver.MaxPlanes]uint32
	Offsets   [driver.MaxPlanes]uint32
	Sizes     [driver.MaxPlanes]uint32

	// PixelStride is the primary plane's stride in pixels.
	PixelStride uint32

	// ReservedFD/ReservedSize describe the optional side
	// region attached at allocation time.
	ReservedFD   int
	ReservedSize uint64

	Name string
}

// Wire layout of an encoded handle: a fixed-width header
// followed by a length-prefixed name blob. The total size is
// always headerSize + 4 + len(Name).
const (
	handleMagic   = 0x47424d48 // "GBMH"
	handleVersion = 1

	// magic, version, id, width, height, format, tiling,
	// plane count and pixel stride as 32-bit words; modifier,
	// usage and reserved size as 64-bit words; then the three
	// per-plane arrays.
	headerSize = 4*9 + 8*3 + 4*3*driver.MaxPlanes
)

// maxNameLen bounds the name blob so Decode cannot be made
// to allocate arbitrarily.
const maxNameLen = 4096

// EncodedSize returns the number of bytes Encode will
// produce for h.
func (h *Handle) EncodedSize() int {
	return headerSize + 4 + len(h.Name)
}

// Encode serializes h's metadata. Plane and reserved-region
// descriptors are not part of the encoding; the receiver
// attaches the descriptors delivered by its transport to the
// decoded handle before registering it.
func (h *Handle) Encode() []byte {
	b := make([]byte, 0, h.EncodedSize())
	b = binary.LittleEndian.AppendUint32(b, handleMagic)
	b = binary.LittleEndian.AppendUint32(b, handleVersion)
	b = binary.LittleEndian.AppendUint32(b, h.ID)
	b = binary.LittleEndian.AppendUint32(b, h.Width)
	b = binary.LittleEndian.AppendUint32(b, h.Height)
	b = binary.LittleEndian.AppendUint32(b, uint32(h.Format))
	b = binary.LittleEndian.AppendUint32(b, uint32(h.Tiling))
	b = binary.LittleEndian.AppendUint64(b, uint64(h.Modifier))
	b = binary.LittleEndian.AppendUint64(b, uint64(h.Usage))
	b = binary.LittleEndian.AppendUint32(b, uint32(h.NumPlanes))
	for i := range h.Strides {
		b = binary.LittleEndian.AppendUint32(b, h.Strides[i])
	}
	for i := range h.Offsets {
		b = binary.LittleEndian.AppendUint32(b, h.Offsets[i])
	}
	for i := range h.Sizes {
		b = binary.LittleEndian.AppendUint32(b, h.Sizes[i])
	}
	b = binary.LittleEndian.AppendUint32(b, h.PixelStride)
	b = binary.LittleEndian.AppendUint64(b, h.ReservedSize)
	b = binary.LittleEndian.AppendUint32(b, uint32(len(h.Name)))
	b = append(b, h.Name...)
	return b
}

// Decode deserializes a handle encoded by Encode. The
// descriptor fields of the result are set to -1; the caller
// attaches the descriptors received alongside the encoding
// before registering the handle.
func Decode(b []byte) (*Handle, error) {
	if len(b) < headerSize+4 {
		return nil, driver.ErrInvalidArg
	}
	u32 := func(off int) uint32 { return binary.LittleEndian.Uint32(b[off:]) }
	u64 := func(off int) uint64 { return binary.LittleEndian.Uint64(b[off:]) }

	if u32(0) != handleMagic || u32(4) != handleVersion {
		return nil, driver.ErrInvalidArg
	}
	h := Handle{
		ID:       u32(8),
		Width:    u32(12),
		Height:   u32(16),
		Format:   driver.Format(u32(20)),
		Tiling:   driver.Tiling(u32(24)),
		Modifier: driver.Modifier(u64(28)),
		Usage:    driver.Usage(u64(36)),
	}
	np := u32(44)
	if np == 0 || np > driver.MaxPlanes {
		return nil, driver.ErrInvalidArg
	}
	h.NumPlanes = int(np)
	off := 48
	for i := range h.Strides {
		h.Strides[i] = u32(off)
		off += 4
	}
	for i := range h.Offsets {
		h.Offsets[i] = u32(off)
		off += 4
	}
	for i := range h.Sizes {
		h.Sizes[i] = u32(off)
		off += 4
	}
	h.PixelStride = u32(off)
	h.ReservedSize = u64(off + 4)
	off += 12

	n := u32(off)
	if n > maxNameLen || len(b) != off+4+int(n) {
		return nil, driver.ErrInvalidArg
	}
	h.Name = string(b[off+4:])

	for i := range h.FDs {
		h.FDs[i] = -1
	}
	h.ReservedFD = -1
	return &h, nil
}
