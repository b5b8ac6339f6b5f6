// Copyright 2025 Gustavo C. Viegas. All rights reserved.

package i915

import (
	"fmt"
	"unsafe"

	"github.com/gviegas/gbm/drm"
	"github.com/gviegas/gbm/driver"
	"github.com/gviegas/gbm/internal/ioctl"
)

// Create makes the kernel object sized by the computed
// layout and applies the tiling attribute to it. One object
// backs every plane.
func (b *backend) Create(bo *driver.BO) error {
	create := gemCreate{size: bo.TotalSize}
	if err := ioctl.Ioctl(bo.Dev.FD(), ioctlGemCreate, unsafe.Pointer(&create)); err != nil {
		return fmt.Errorf("%w: GEM create of %d bytes: %v", driver.ErrNoMemory, bo.TotalSize, err)
	}
	for p := 0; p < bo.NumPlanes; p++ {
		bo.Handles[p] = create.handle
	}

	tiling := gemSetTiling{
		handle:     bo.Handles[0],
		tilingMode: uint32(bo.Tiling),
		stride:     bo.Strides[0],
	}
	if err := ioctl.Ioctl(bo.Dev.FD(), ioctlSetTiling, unsafe.Pointer(&tiling)); err != nil {
		// Never leave a partially constructed object behind.
		drm.CloseGEM(bo.Dev.FD(), create.handle)
		return fmt.Errorf("i915: GEM set tiling failed: %w", err)
	}
	return nil
}

// Import attaches an externally created object through its
// PRIME descriptors, then replaces the tiling assumed from
// descriptor metadata with the value the kernel reports.
func (b *backend) Import(bo *driver.BO, data *driver.ImportData) error {
	n := data.Format.NumPlanes()
	for p := 0; p < n; p++ {
		handle, err := bo.Dev.ResolveID(data.FDs[p])
		if err != nil {
			closePartial(bo, p)
			return fmt.Errorf("%w: plane %d: %v", driver.ErrImport, p, err)
		}
		bo.Handles[p] = handle
		bo.Strides[p] = data.Strides[p]
		bo.Offsets[p] = data.Offsets[p]
		bo.Sizes[p] = data.Sizes[p]
	}
	bo.NumPlanes = n
	bo.Modifier = data.Modifier
	var total uint64
	for p := 0; p < n; p++ {
		if end := uint64(bo.Offsets[p]) + uint64(bo.Sizes[p]); end > total {
			total = end
		}
	}
	bo.TotalSize = total

	tiling := gemGetTiling{handle: bo.Handles[0]}
	if err := ioctl.Ioctl(bo.Dev.FD(), ioctlGetTiling, unsafe.Pointer(&tiling)); err != nil {
		b.Destroy(bo)
		return fmt.Errorf("%w: GEM get tiling: %v", driver.ErrImport, err)
	}
	bo.Tiling = driver.Tiling(tiling.tilingMode)
	switch tiling.tilingMode {
	case tilingX:
		bo.Modifier = driver.ModXTiled
	case tilingY:
		if bo.Modifier != driver.ModYTiledCCS && bo.Modifier != driver.ModYfTiledCCS {
			bo.Modifier = driver.ModYTiled
		}
	case tilingNone:
		bo.Modifier = driver.ModLinear
	}
	return nil
}

// closePartial drops the distinct handles held by the first
// n planes. It returns the first close error, if any.
func closePartial(bo *driver.BO, n int) error {
	var err error
	for p := 0; p < n; p++ {
		dup := false
		for q := 0; q < p; q++ {
			if bo.Handles[q] == bo.Handles[p] {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		if e := drm.CloseGEM(bo.Dev.FD(), bo.Handles[p]); e != nil && err == nil {
			err = e
		}
	}
	return err
}

// Destroy drops every distinct GEM handle of the object.
func (b *backend) Destroy(bo *driver.BO) error {
	return closePartial(bo, bo.NumPlanes)
}
