// Copyright 2025 Gustavo C. Viegas. All rights reserved.

package gralloc

import (
	"github.com/gviegas/gbm/driver"
	"golang.org/x/sys/unix"
)

// buffer is the in-process record of one kernel memory
// object. Exactly one buffer exists per distinct underlying
// object, no matter how many handles reference it; it is
// destroyed when its reference count reaches zero.
//
// All methods are called with the allocator's lock held.
type buffer struct {
	dev device
	bo  *driver.BO

	// id is derived from the kernel handle of the first
	// plane, so every importer of the same object within a
	// driver context computes the same id.
	id   uint32
	refs int

	// The CPU mapping is created on first lock and kept
	// cached across unlocks; it is torn down on destroy.
	locks   int
	mapping *driver.Mapping

	reservedFD   int
	reservedSize uint64
	reserved     []byte
}

func newBuffer(dev device, bo *driver.BO, id uint32, reservedFD int, reservedSize uint64) *buffer {
	return &buffer{
		dev:          dev,
		bo:           bo,
		id:           id,
		refs:         1,
		reservedFD:   reservedFD,
		reservedSize: reservedSize,
	}
}

// lock maps the buffer (reusing a cached mapping) and
// returns one address per plane. rect bounds the caller's
// intended access; addresses are still returned at plane
// granularity.
func (b *buffer) lock(rect Rect, flags driver.MapFlag) ([][]byte, error) {
	if flags == 0 || flags&^driver.MapRW != 0 {
		return nil, driver.ErrInvalidArg
	}
	if rect.Width == 0 && rect.Height == 0 && rect.X == 0 && rect.Y == 0 {
		rect = Rect{Width: b.bo.Width, Height: b.bo.Height}
	}
	if uint64(rect.X)+uint64(rect.Width) > uint64(b.bo.Width) ||
		uint64(rect.Y)+uint64(rect.Height) > uint64(b.bo.Height) {
		return nil, driver.ErrInvalidArg
	}
	if b.mapping == nil {
		// The mapping is cached across locks and its memory
		// protection is fixed at creation, so it must cover
		// both access directions no matter what this first
		// lock asks for.
		m, err := b.dev.Map(b.bo, driver.MapRW)
		if err != nil {
			return nil, err
		}
		b.mapping = m
	}
	if err := b.dev.Invalidate(b.bo, b.mapping); err != nil {
		return nil, err
	}
	b.locks++

	addrs := make([][]byte, b.bo.NumPlanes)
	for i := range addrs {
		off := b.bo.Offsets[i]
		addrs[i] = b.mapping.Data[off : off+b.bo.Sizes[i]]
	}
	return addrs, nil
}

func (b *buffer) unlock() error {
	if b.locks == 0 {
		return driver.ErrInvalidArg
	}
	b.locks--
	return b.flush()
}

func (b *buffer) invalidate() error {
	if b.mapping == nil {
		return nil
	}
	return b.dev.Invalidate(b.bo, b.mapping)
}

func (b *buffer) flush() error {
	if b.mapping == nil {
		return nil
	}
	return b.dev.Flush(b.bo, b.mapping)
}

// reservedRegion maps the reserved side region on first use.
func (b *buffer) reservedRegion() ([]byte, error) {
	if b.reservedFD < 0 || b.reservedSize == 0 {
		return nil, driver.ErrInvalidArg
	}
	if b.reserved == nil {
		p, err := unix.Mmap(b.reservedFD, 0, int(b.reservedSize),
			unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
		if err != nil {
			return nil, err
		}
		b.reserved = p
	}
	return b.reserved, nil
}

// destroy releases everything the buffer owns: the cached
// mapping, the reserved region and its descriptor, and the
// kernel object.
func (b *buffer) destroy() error {
	if b.mapping != nil {
		b.dev.Unmap(b.bo, b.mapping)
		b.mapping = nil
	}
	if b.reserved != nil {
		unix.Munmap(b.reserved)
		b.reserved = nil
	}
	if b.reservedFD >= 0 {
		unix.Close(b.reservedFD)
		b.reservedFD = -1
	}
	return b.dev.DestroyBuffer(b.bo)
}
