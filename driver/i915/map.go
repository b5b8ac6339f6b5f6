// Copyright 2025 Gustavo C. Viegas. All rights reserved.

package i915

import (
	"fmt"
	"unsafe"

	"github.com/gviegas/gbm/driver"
	"github.com/gviegas/gbm/internal/ioctl"
	"golang.org/x/sys/unix"
)

func prot(flags driver.MapFlag) int {
	var p int
	if flags&driver.MapRead != 0 {
		p |= unix.PROT_READ
	}
	if flags&driver.MapWrite != 0 {
		p |= unix.PROT_WRITE
	}
	return p
}

// wantWC reports whether a direct mapping of the buffer
// should ask for write-combined memory. Scanout buffers
// benefit from it, but Renderscript and camera paths are
// latency sensitive and must keep cached mappings.
func wantWC(usage driver.Usage) bool {
	return usage&driver.UseScanout != 0 &&
		usage&(driver.UseRenderscript|driver.UseCamera) == 0
}

// mapDirect maps the object through the driver's direct
// CPU path. The mapping is always read-write from the
// kernel's point of view; access intent only matters for
// the aperture path.
func mapDirect(bo *driver.BO) ([]byte, error) {
	arg := gemMmap{
		handle: bo.Handles[0],
		size:   bo.TotalSize,
	}
	if wantWC(bo.Usage) {
		arg.flags = mmapWC
	}
	if err := ioctl.Ioctl(bo.Dev.FD(), ioctlGemMmap, unsafe.Pointer(&arg)); err != nil {
		return nil, fmt.Errorf("i915: GEM mmap failed: %w", err)
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(uintptr(arg.addrPtr))), bo.TotalSize), nil
}

// Map makes the buffer visible to the CPU. Untiled buffers
// use the direct path; tiled buffers go through the GTT
// aperture so the CPU sees them detiled, falling back to
// the direct path on kernels without an aperture mapping.
// Compressed buffers cannot be mapped.
func (b *backend) Map(bo *driver.BO, flags driver.MapFlag) (*driver.Mapping, error) {
	if bo.Modifier == driver.ModYTiledCCS || bo.Modifier == driver.ModYfTiledCCS {
		return nil, driver.ErrUnmappable
	}

	var data []byte
	var err error
	if uint32(bo.Tiling) == tilingNone {
		data, err = mapDirect(bo)
	} else {
		arg := gemMmapGTT{handle: bo.Handles[0]}
		if e := ioctl.Ioctl(bo.Dev.FD(), ioctlMmapGTT, unsafe.Pointer(&arg)); e != nil {
			data, err = mapDirect(bo)
		} else {
			data, err = unix.Mmap(bo.Dev.FD(), int64(arg.offset), int(bo.TotalSize),
				prot(flags), unix.MAP_SHARED)
			if err != nil {
				err = fmt.Errorf("i915: GTT mmap failed: %w", err)
			}
		}
	}
	if err != nil {
		return nil, err
	}
	return &driver.Mapping{Data: data, Flags: flags}, nil
}

// Unmap releases the virtual mapping. Both mapping paths
// produce plain mappings of the process address space, so a
// single munmap covers them.
func (b *backend) Unmap(bo *driver.BO, m *driver.Mapping) error {
	if err := unix.Munmap(m.Data); err != nil {
		return fmt.Errorf("i915: munmap failed: %w", err)
	}
	m.Data = nil
	return nil
}

// Invalidate moves the object into the coherency domain the
// mapping reads through: the CPU domain for untiled buffers
// and the GTT domain for tiled ones. Writable mappings move
// the write domain along.
func (b *backend) Invalidate(bo *driver.BO, m *driver.Mapping) error {
	arg := gemSetDomain{handle: bo.Handles[0]}
	if uint32(bo.Tiling) == tilingNone {
		arg.readDomains = domainCPU
	} else {
		arg.readDomains = domainGTT
	}
	if m.Flags&driver.MapWrite != 0 {
		arg.writeDomain = arg.readDomains
	}
	if err := ioctl.Ioctl(bo.Dev.FD(), ioctlSetDomain, unsafe.Pointer(&arg)); err != nil {
		return fmt.Errorf("i915: GEM set domain failed: %w", err)
	}
	return nil
}

// Flush publishes CPU writes. With a shared last-level
// cache the GPU snoops CPU caches and nothing needs doing;
// without one, every cache line covering an untiled mapping
// is flushed explicitly. Tiled buffers are written through
// the aperture and need no flushing either way.
func (b *backend) Flush(bo *driver.BO, m *driver.Mapping) error {
	d, ok := bo.Dev.Priv().(*device)
	if !ok {
		return driver.ErrInvalidArg
	}
	if !d.hasLLC && uint32(bo.Tiling) == tilingNone {
		flushRange(m.Data)
	}
	return nil
}
