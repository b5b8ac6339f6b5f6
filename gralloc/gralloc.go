// Copyright 2025 Gustavo C. Viegas. All rights reserved.

// Package gralloc manages the lifecycle of graphics buffers
// and the handles that reference them.
// It sits on top of a driver.Device and adds the in-process
// bookkeeping that allocation alone does not provide:
// handle registration and reference counting, deduplicated
// import of externally received buffers, lock/unlock
// bracketing of CPU access, and reserved side regions.
package gralloc

import (
	"sync"

	"github.com/gviegas/gbm/driver"
	"golang.org/x/sys/unix"
)

// device is the slice of driver.Device that the allocator
// consumes.
type device interface {
	ResolveFormat(driver.Format, driver.Usage) driver.Format
	Combination(driver.Format, driver.Usage) (driver.FormatMetadata, bool)
	NewBuffer(width, height uint32, format driver.Format, usage driver.Usage) (*driver.BO, error)
	NewBufferWithModifiers(width, height uint32, format driver.Format, modifiers []driver.Modifier) (*driver.BO, error)
	ImportBuffer(*driver.ImportData) (*driver.BO, error)
	DestroyBuffer(*driver.BO) error
	ExportPlane(*driver.BO, int) (int, error)
	ResolveID(primeFD int) (uint32, error)
	Map(*driver.BO, driver.MapFlag) (*driver.Mapping, error)
	Unmap(*driver.BO, *driver.Mapping) error
	Invalidate(*driver.BO, *driver.Mapping) error
	Flush(*driver.BO, *driver.Mapping) error
}

// Descriptor describes a buffer to be allocated.
type Descriptor struct {
	Name   string
	Width  uint32
	Height uint32
	Format driver.Format
	Usage  driver.Usage

	// Modifiers, when non-empty, conveys every layout the
	// consumer accepts and replaces the usage-based lookup.
	Modifiers []driver.Modifier

	// ReservedSize requests a side region of exactly that
	// many bytes, shared through the handle alongside the
	// pixel data.
	ReservedSize uint64
}

// Rect bounds a lock's intended access.
// The zero Rect means the whole buffer.
type Rect struct {
	X, Y          uint32
	Width, Height uint32
}

// ResourceInfo reports the layout of a registered buffer.
type ResourceInfo struct {
	Strides  [driver.MaxPlanes]uint32
	Offsets  [driver.MaxPlanes]uint32
	Modifier driver.Modifier
}

// handleEntry tracks one registered handle value and how
// many times it was retained.
type handleEntry struct {
	buf   *buffer
	count int
}

// Allocator owns the authoritative tables of live buffers
// and live handles for one driver context.
//
// Two tables, one lock: buffers are keyed by their stable
// kernel-derived id and owned by that table; handle entries
// are keyed by handle pointer identity and hold a back
// reference to their buffer. All table work happens under a
// single mutex, so callers must tolerate serialization
// across unrelated buffers; fence waits happen before the
// mutex is taken.
type Allocator struct {
	dev device

	mu      sync.Mutex
	buffers map[uint32]*buffer
	handles map[*Handle]*handleEntry
	nextID  uint32
}

// New creates an Allocator on top of dev.
func New(dev *driver.Device) *Allocator {
	return newAllocator(dev)
}

func newAllocator(dev device) *Allocator {
	return &Allocator{
		dev:     dev,
		buffers: make(map[uint32]*buffer),
		handles: make(map[*Handle]*handleEntry),
	}
}

// Allocate creates a buffer per desc and returns a fresh
// handle referencing it, registered with a count of 1.
//
// When the format/usage combination is unsupported only
// because scanout was requested, the scanout flag is dropped
// and the allocation retried once; the returned handle's
// usage reflects the drop.
func (a *Allocator) Allocate(desc *Descriptor) (*Handle, error) {
	if desc.Width == 0 || desc.Height == 0 {
		return nil, driver.ErrInvalidArg
	}
	format := a.dev.ResolveFormat(desc.Format, desc.Usage)
	usage := desc.Usage

	// A flexible format resolved to RGB cannot feed the
	// video encoder.
	if desc.Format == driver.FlexImplementationDefined && format == driver.XBGR8888 {
		usage &^= driver.UseHWVideoEncoder
	}

	// NV12 consumers on the virtualized video path cannot
	// handle tiled layouts.
	if format == driver.NV12 {
		usage |= driver.UseLinear
	}

	var bo *driver.BO
	var err error
	if len(desc.Modifiers) > 0 {
		bo, err = a.dev.NewBufferWithModifiers(desc.Width, desc.Height, format, desc.Modifiers)
	} else {
		if _, ok := a.dev.Combination(format, usage); !ok {
			if usage&driver.UseScanout == 0 {
				return nil, driver.ErrNoSupport
			}
			usage &^= driver.UseScanout
			if _, ok := a.dev.Combination(format, usage); !ok {
				return nil, driver.ErrNoSupport
			}
		}
		bo, err = a.dev.NewBuffer(desc.Width, desc.Height, format, usage)
	}
	if err != nil {
		return nil, err
	}

	// Handles assume one kernel object backing all planes.
	if bo.NumKernelObjects() != 1 {
		a.dev.DestroyBuffer(bo)
		return nil, driver.ErrInvalidArg
	}

	reservedFD := -1
	if desc.ReservedSize > 0 {
		reservedFD, err = newReservedRegion(desc.Name, desc.ReservedSize)
		if err != nil {
			a.dev.DestroyBuffer(bo)
			return nil, err
		}
	}

	h := &Handle{
		Width:        desc.Width,
		Height:       desc.Height,
		Format:       format,
		Tiling:       bo.Tiling,
		Modifier:     bo.Modifier,
		Usage:        usage,
		NumPlanes:    bo.NumPlanes,
		ReservedFD:   reservedFD,
		ReservedSize: desc.ReservedSize,
		Name:         desc.Name,
	}
	for i := range h.FDs {
		h.FDs[i] = -1
	}
	for i := 0; i < bo.NumPlanes; i++ {
		h.Strides[i] = bo.Strides[i]
		h.Offsets[i] = bo.Offsets[i]
		h.Sizes[i] = bo.Sizes[i]
		h.FDs[i], err = a.dev.ExportPlane(bo, i)
		if err != nil {
			for j := 0; j < i; j++ {
				unix.Close(h.FDs[j])
			}
			if reservedFD >= 0 {
				unix.Close(reservedFD)
			}
			a.dev.DestroyBuffer(bo)
			return nil, err
		}
	}
	if bpp := format.BytesPerPixel(0); bpp > 0 {
		h.PixelStride = h.Strides[0] / bpp
	}

	a.mu.Lock()
	a.nextID++
	h.ID = a.nextID
	buf := newBuffer(a.dev, bo, bo.Handles[0], reservedFD, desc.ReservedSize)
	a.buffers[buf.id] = buf
	a.handles[h] = &handleEntry{buf: buf, count: 1}
	a.mu.Unlock()
	return h, nil
}

// Retain registers h or increments its count if this exact
// handle value is already registered. A handle received from
// elsewhere resolves to its underlying kernel object: when a
// buffer with that identity already exists in-process the
// handle attaches to it, otherwise the buffer is imported
// fresh. The reserved-region descriptor of a newly attached
// handle is owned by the buffer from then on.
func (a *Allocator) Retain(h *Handle) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if e, ok := a.handles[h]; ok {
		e.count++
		e.buf.refs++
		return nil
	}

	if h.NumPlanes <= 0 || h.NumPlanes > driver.MaxPlanes || h.FDs[0] < 0 {
		return driver.ErrInvalidArg
	}
	id, err := a.dev.ResolveID(h.FDs[0])
	if err != nil {
		return driver.ErrInvalidArg
	}

	if buf, ok := a.buffers[id]; ok {
		buf.refs++
		a.handles[h] = &handleEntry{buf: buf, count: 1}
		return nil
	}

	data := driver.ImportData{
		Width:    h.Width,
		Height:   h.Height,
		Format:   h.Format,
		Usage:    h.Usage,
		Modifier: h.Modifier,
	}
	for i := range data.FDs {
		data.FDs[i] = -1
	}
	for i := 0; i < h.NumPlanes; i++ {
		data.FDs[i] = h.FDs[i]
		data.Strides[i] = h.Strides[i]
		data.Offsets[i] = h.Offsets[i]
		data.Sizes[i] = h.Sizes[i]
	}
	bo, err := a.dev.ImportBuffer(&data)
	if err != nil {
		return driver.ErrImport
	}
	buf := newBuffer(a.dev, bo, id, h.ReservedFD, h.ReservedSize)
	a.buffers[id] = buf
	a.handles[h] = &handleEntry{buf: buf, count: 1}
	return nil
}

// Release undoes one Retain (or the registration implied by
// Allocate). When the handle's count reaches zero its entry
// is dropped; when the buffer's reference count reaches zero
// the buffer is destroyed.
func (a *Allocator) Release(h *Handle) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	e, ok := a.handles[h]
	if !ok {
		return driver.ErrInvalidArg
	}
	e.count--
	if e.count == 0 {
		delete(a.handles, h)
	}
	e.buf.refs--
	if e.buf.refs == 0 {
		delete(a.buffers, e.buf.id)
		return e.buf.destroy()
	}
	return nil
}

// Lock waits on acquireFence (closing it when closeFence is
// set), then maps the buffer and prepares it for CPU access,
// returning one byte slice per plane. rect bounds the access
// the caller intends.
//
// The fence wait happens before the allocator's lock is
// taken, so a slow producer does not stall operations on
// unrelated buffers. There is no wait timeout; callers own
// timeout policy.
func (a *Allocator) Lock(h *Handle, acquireFence int, closeFence bool, rect Rect, flags driver.MapFlag) ([][]byte, error) {
	if err := waitFence(acquireFence, closeFence); err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	e, ok := a.handles[h]
	if !ok {
		return nil, driver.ErrInvalidArg
	}
	return e.buf.lock(rect, flags)
}

// Unlock publishes CPU writes made under a Lock. The
// returned release fence is always -1: the flush is
// synchronous, so the buffer is immediately available.
func (a *Allocator) Unlock(h *Handle) (releaseFence int, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	e, ok := a.handles[h]
	if !ok {
		return -1, driver.ErrInvalidArg
	}
	return -1, e.buf.unlock()
}

// Invalidate prepares the buffer for CPU reads outside of a
// Lock/Unlock bracket.
func (a *Allocator) Invalidate(h *Handle) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	e, ok := a.handles[h]
	if !ok {
		return driver.ErrInvalidArg
	}
	return e.buf.invalidate()
}

// Flush publishes CPU writes outside of a Lock/Unlock
// bracket.
func (a *Allocator) Flush(h *Handle) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	e, ok := a.handles[h]
	if !ok {
		return driver.ErrInvalidArg
	}
	return e.buf.flush()
}

// BackingStore returns the stable id of the buffer behind h.
// Handles that alias the same memory report the same id.
func (a *Allocator) BackingStore(h *Handle) (uint32, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	e, ok := a.handles[h]
	if !ok {
		return 0, driver.ErrInvalidArg
	}
	return e.buf.id, nil
}

// ResourceInfo reports the layout of the buffer behind h.
func (a *Allocator) ResourceInfo(h *Handle) (ResourceInfo, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	e, ok := a.handles[h]
	if !ok {
		return ResourceInfo{}, driver.ErrInvalidArg
	}
	return ResourceInfo{
		Strides:  e.buf.bo.Strides,
		Offsets:  e.buf.bo.Offsets,
		Modifier: e.buf.bo.Modifier,
	}, nil
}

// ReservedRegion returns the mapped reserved side region of
// the buffer behind h, mapping it on first use. It fails
// with ErrInvalidArg when no region was requested at
// allocation time.
func (a *Allocator) ReservedRegion(h *Handle) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	e, ok := a.handles[h]
	if !ok {
		return nil, driver.ErrInvalidArg
	}
	return e.buf.reservedRegion()
}

// newReservedRegion creates the anonymous sized file backing
// a buffer's side region.
func newReservedRegion(name string, size uint64) (int, error) {
	fd, err := unix.MemfdCreate("reserved_region_"+name,
		unix.MFD_CLOEXEC|unix.MFD_ALLOW_SEALING)
	if err != nil {
		return -1, err
	}
	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		unix.Close(fd)
		return -1, err
	}
	return fd, nil
}

// waitFence blocks until the synchronization descriptor
// signals. A negative descriptor means no fence.
func waitFence(fd int, closeAfter bool) error {
	if fd < 0 {
		return nil
	}
	pfd := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
	for {
		_, err := unix.Poll(pfd, -1)
		if err == nil {
			break
		}
		if err != unix.EINTR && err != unix.EAGAIN {
			return err
		}
	}
	if closeAfter {
		unix.Close(fd)
	}
	return nil
}
