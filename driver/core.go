// Copyright 2025 Gustavo C. Viegas. All rights reserved.

package driver

import (
	"github.com/gviegas/gbm/drm"
	"golang.org/x/sys/unix"
)

// Topology classifies the GPU population of the system that
// a device was discovered on. Backends may prune combination
// support based on it (e.g. discrete GPUs that cannot scan
// out tiled buffers).
type Topology int

// Topologies.
const (
	// A single GPU, native or passed through.
	TopoOneIntel Topology = iota
	TopoOneVirtio
	// Integrated GPU plus a virtual or discrete GPU.
	TopoIGPUWithVirtio
	TopoIGPUWithDGPU
	// Integrated, virtual and discrete GPUs.
	TopoIGPUVirtioDGPU
)

// MapFlag is a mask describing how a mapping will be
// accessed.
type MapFlag uint32

// Map flags.
const (
	MapRead MapFlag = 1 << iota
	MapWrite

	MapRW = MapRead | MapWrite
)

// BO is a buffer object: one kernel-backed memory object
// plus its computed layout. Backends fill in the layout and
// handle fields; callers treat them as read-only.
type BO struct {
	Dev *Device

	Width  uint32
	Height uint32
	Format Format
	Usage  Usage

	Tiling    Tiling
	Modifier  Modifier
	NumPlanes int
	Strides   [MaxPlanes]uint32
	Offsets   [MaxPlanes]uint32
	Sizes     [MaxPlanes]uint32
	Handles   [MaxPlanes]uint32
	TotalSize uint64
}

// NumKernelObjects returns the number of distinct kernel
// objects backing the BO's planes.
func (b *BO) NumKernelObjects() int {
	n := 0
	for i := 0; i < b.NumPlanes; i++ {
		distinct := true
		for j := 0; j < i; j++ {
			if b.Handles[j] == b.Handles[i] {
				distinct = false
				break
			}
		}
		if distinct {
			n++
		}
	}
	return n
}

// ImportData describes an externally created buffer object:
// the per-plane PRIME descriptors and the layout metadata
// that traveled with them.
type ImportData struct {
	Width    uint32
	Height   uint32
	Format   Format
	Usage    Usage
	Modifier Modifier
	FDs      [MaxPlanes]int
	Strides  [MaxPlanes]uint32
	Offsets  [MaxPlanes]uint32
	Sizes    [MaxPlanes]uint32
}

// Mapping is an active CPU mapping of a buffer object.
// Data covers the whole object; plane addresses are derived
// from the BO's plane offsets.
type Mapping struct {
	Data  []byte
	Flags MapFlag
}

// Device is a driver context bound to one open DRM render
// node. It pairs the node with the backend that handles its
// kernel driver and with the combination registry the
// backend populated.
// Devices are constructed explicitly and passed to every
// operation that needs one; there is no process-global
// device.
type Device struct {
	fd     int
	name   string
	topo   Topology
	bk     Backend
	combos Combinations
	priv   any
}

// Open binds a device to the render node open on fd.
// The node's kernel driver selects the backend; Open fails
// with ErrNoDevice when no registered backend handles it.
// On success the Device owns fd.
func Open(fd int, topo Topology) (*Device, error) {
	name, err := drm.DriverName(fd)
	if err != nil {
		return nil, ErrNoDevice
	}
	bk, ok := For(name)
	if !ok {
		return nil, ErrNoDevice
	}
	d := &Device{
		fd:   fd,
		name: name,
		topo: topo,
		bk:   bk,
	}
	if err := bk.Init(d); err != nil {
		return nil, err
	}
	return d, nil
}

// Close releases backend state and closes the render node.
// The device must not be used afterwards.
func (d *Device) Close() {
	d.bk.Close(d)
	unix.Close(d.fd)
	d.fd = -1
}

// FD returns the render node descriptor.
func (d *Device) FD() int { return d.fd }

// Name returns the kernel driver name of the node.
func (d *Device) Name() string { return d.name }

// Topology returns the GPU topology tag the device was
// opened with.
func (d *Device) Topology() Topology { return d.topo }

// Combinations returns the device's combination registry.
// Backends populate it during Init; other callers only
// query it.
func (d *Device) Combinations() *Combinations { return &d.combos }

// Priv returns backend state attached with SetPriv.
func (d *Device) Priv() any { return d.priv }

// SetPriv attaches backend state to the device.
func (d *Device) SetPriv(p any) { d.priv = p }

// ResolveFormat maps a logical format to the concrete
// format the backend will allocate for the given usage.
func (d *Device) ResolveFormat(format Format, usage Usage) Format {
	return d.bk.ResolveFormat(d, format, usage)
}

// Combination returns the metadata chosen for the given
// format and usage, if the pairing is supported.
func (d *Device) Combination(format Format, usage Usage) (FormatMetadata, bool) {
	c, ok := d.combos.Lookup(format, usage)
	if !ok {
		return FormatMetadata{}, false
	}
	return c.Metadata, true
}

// NewBuffer allocates a buffer object for the given
// dimensions, format and usage. The backend chooses the
// memory layout from the device's combination registry.
func (d *Device) NewBuffer(width, height uint32, format Format, usage Usage) (*BO, error) {
	return d.newBuffer(width, height, format, usage, nil)
}

// NewBufferWithModifiers is like NewBuffer, but the layout
// is chosen from the supplied modifier list instead of the
// combination registry. The list conveys every arrangement
// the consumer accepts; the backend picks its preferred one.
func (d *Device) NewBufferWithModifiers(width, height uint32, format Format, modifiers []Modifier) (*BO, error) {
	if len(modifiers) == 0 {
		return nil, ErrInvalidArg
	}
	return d.newBuffer(width, height, format, 0, modifiers)
}

func (d *Device) newBuffer(width, height uint32, format Format, usage Usage, modifiers []Modifier) (*BO, error) {
	bo := &BO{
		Dev:    d,
		Width:  width,
		Height: height,
		Format: format,
		Usage:  usage,
	}
	if err := d.bk.ComputeLayout(bo, modifiers); err != nil {
		return nil, err
	}
	if err := d.bk.Create(bo); err != nil {
		return nil, err
	}
	return bo, nil
}

// ImportBuffer attaches an externally created buffer object
// described by data.
func (d *Device) ImportBuffer(data *ImportData) (*BO, error) {
	bo := &BO{
		Dev:    d,
		Width:  data.Width,
		Height: data.Height,
		Format: data.Format,
		Usage:  data.Usage,
	}
	if err := d.bk.Import(bo, data); err != nil {
		return nil, err
	}
	return bo, nil
}

// DestroyBuffer releases the kernel object backing bo.
func (d *Device) DestroyBuffer(bo *BO) error {
	return d.bk.Destroy(bo)
}

// ExportPlane exports the given plane of bo as a DMA-BUF
// descriptor that keeps the underlying object alive.
func (d *Device) ExportPlane(bo *BO, plane int) (int, error) {
	if plane < 0 || plane >= bo.NumPlanes {
		return -1, ErrInvalidArg
	}
	return drm.PrimeHandleToFD(d.fd, bo.Handles[plane], drm.CloExec|drm.RDWR)
}

// ResolveID translates a buffer's primary plane descriptor
// into the stable kernel object id on this device. Every
// process that imports the same underlying object obtains
// the same id.
func (d *Device) ResolveID(primeFD int) (uint32, error) {
	return drm.PrimeFDToHandle(d.fd, primeFD)
}

// Map makes bo accessible to the CPU.
func (d *Device) Map(bo *BO, flags MapFlag) (*Mapping, error) {
	return d.bk.Map(bo, flags)
}

// Unmap releases a mapping obtained from Map.
func (d *Device) Unmap(bo *BO, m *Mapping) error {
	return d.bk.Unmap(bo, m)
}

// Invalidate prepares a mapping for CPU access.
func (d *Device) Invalidate(bo *BO, m *Mapping) error {
	return d.bk.Invalidate(bo, m)
}

// Flush publishes CPU writes made through a mapping.
func (d *Device) Flush(bo *BO, m *Mapping) error {
	return d.bk.Flush(bo, m)
}
