// Copyright 2025 Gustavo C. Viegas. All rights reserved.

package i915

import (
	"unsafe"

	"github.com/gviegas/gbm/internal/ioctl"
)

// Driver-specific requests share the DRM type byte and are
// numbered from 0x40.
const (
	drmBase     = 'd'
	i915NrBase  = 0x40
	nrGetParam  = i915NrBase + 0x06
	nrGemCreate = i915NrBase + 0x1b
	nrGemMmap   = i915NrBase + 0x1e
	nrSetDomain = i915NrBase + 0x1f
	nrSetTiling = i915NrBase + 0x21
	nrGetTiling = i915NrBase + 0x22
	nrMmapGTT   = i915NrBase + 0x24
)

var (
	ioctlGetParam  = ioctl.IOWR(drmBase, nrGetParam, unsafe.Sizeof(getParam{}))
	ioctlGemCreate = ioctl.IOWR(drmBase, nrGemCreate, unsafe.Sizeof(gemCreate{}))
	ioctlGemMmap   = ioctl.IOWR(drmBase, nrGemMmap, unsafe.Sizeof(gemMmap{}))
	ioctlSetDomain = ioctl.IOW(drmBase, nrSetDomain, unsafe.Sizeof(gemSetDomain{}))
	ioctlSetTiling = ioctl.IOWR(drmBase, nrSetTiling, unsafe.Sizeof(gemSetTiling{}))
	ioctlGetTiling = ioctl.IOWR(drmBase, nrGetTiling, unsafe.Sizeof(gemGetTiling{}))
	ioctlMmapGTT   = ioctl.IOWR(drmBase, nrMmapGTT, unsafe.Sizeof(gemMmapGTT{}))
)

// GETPARAM identifiers.
const (
	paramChipsetID = 4
	paramHasLLC    = 17
)

// Tiling modes as the kernel reports them.
const (
	tilingNone uint32 = 0
	tilingX    uint32 = 1
	tilingY    uint32 = 2
)

// Coherency domains.
const (
	domainCPU uint32 = 1 << 0
	domainGTT uint32 = 1 << 6
)

// Flag requesting a write-combined mapping from GEM_MMAP.
const mmapWC uint64 = 1

// getParam mirrors drm_i915_getparam_t.
type getParam struct {
	param int32
	_     int32
	value *int32
}

// gemCreate mirrors struct drm_i915_gem_create.
type gemCreate struct {
	size   uint64
	handle uint32
	_      uint32
}

// gemSetTiling mirrors struct drm_i915_gem_set_tiling.
type gemSetTiling struct {
	handle     uint32
	tilingMode uint32
	stride     uint32
	swizzle    uint32
}

// gemGetTiling mirrors struct drm_i915_gem_get_tiling.
type gemGetTiling struct {
	handle      uint32
	tilingMode  uint32
	swizzle     uint32
	physSwizzle uint32
}

// gemSetDomain mirrors struct drm_i915_gem_set_domain.
type gemSetDomain struct {
	handle      uint32
	readDomains uint32
	writeDomain uint32
}

// gemMmap mirrors struct drm_i915_gem_mmap.
type gemMmap struct {
	handle  uint32
	_       uint32
	offset  uint64
	size    uint64
	addrPtr uint64
	flags   uint64
}

// gemMmapGTT mirrors struct drm_i915_gem_mmap_gtt.
type gemMmapGTT struct {
	handle uint32
	_      uint32
	offset uint64
}
