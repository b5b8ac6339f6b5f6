// Copyright 2025 Gustavo C. Viegas. All rights reserved.

package driver

import "fmt"

// Format identifies a pixel format as a DRM fourcc code.
type Format uint32

// Formats.
// The flexible formats do not describe a memory layout;
// they resolve to a concrete format during allocation
// (see Backend.ResolveFormat).
const (
	ARGB8888      Format = 'A' | 'R'<<8 | '2'<<16 | '4'<<24
	ABGR8888      Format = 'A' | 'B'<<8 | '2'<<16 | '4'<<24
	XRGB8888      Format = 'X' | 'R'<<8 | '2'<<16 | '4'<<24
	XBGR8888      Format = 'X' | 'B'<<8 | '2'<<16 | '4'<<24
	ARGB2101010   Format = 'A' | 'R'<<8 | '3'<<16 | '0'<<24
	ABGR2101010   Format = 'A' | 'B'<<8 | '3'<<16 | '0'<<24
	XRGB2101010   Format = 'X' | 'R'<<8 | '3'<<16 | '0'<<24
	XBGR2101010   Format = 'X' | 'B'<<8 | '3'<<16 | '0'<<24
	RGB565        Format = 'R' | 'G'<<8 | '1'<<16 | '6'<<24
	BGR888        Format = 'B' | 'G'<<8 | '2'<<16 | '4'<<24
	RGB888        Format = 'R' | 'G'<<8 | '2'<<16 | '4'<<24
	ABGR16161616F Format = 'A' | 'B'<<8 | '4'<<16 | 'H'<<24
	R8            Format = 'R' | '8'<<8 | ' '<<16 | ' '<<24
	NV12          Format = 'N' | 'V'<<8 | '1'<<16 | '2'<<24
	P010          Format = 'P' | '0'<<8 | '1'<<16 | '0'<<24
	YVU420        Format = 'Y' | 'V'<<8 | '1'<<16 | '2'<<24
	YUYV          Format = 'Y' | 'U'<<8 | 'Y'<<16 | 'V'<<24

	// Android-specific codes carried over from minigbm.
	// YVU420Android is YVU420 with Android's stride
	// constraint; the flexible formats stand for
	// HAL_PIXEL_FORMAT_IMPLEMENTATION_DEFINED and
	// HAL_PIXEL_FORMAT_YCbCr_420_888.
	YVU420Android             Format = '9' | '9'<<8 | '9'<<16 | '7'<<24
	FlexImplementationDefined Format = '9' | '9'<<8 | '9'<<16 | '8'<<24
	FlexYCbCr420              Format = '9' | '9'<<8 | '9'<<16 | '9'<<24
)

// String returns the fourcc characters of f.
func (f Format) String() string {
	return string([]byte{byte(f), byte(f >> 8), byte(f >> 16), byte(f >> 24)})
}

// MaxPlanes is the maximum number of memory planes a format
// may have.
const MaxPlanes = 4

// NumPlanes returns the number of memory planes of f.
func (f Format) NumPlanes() int {
	switch f {
	case NV12, P010:
		return 2
	case YVU420, YVU420Android:
		return 3
	}
	return 1
}

// BytesPerPixel returns the bytes per pixel in the given
// plane of f. For subsampled planes this is the size of one
// sample group (e.g. an interleaved CbCr pair).
func (f Format) BytesPerPixel(plane int) uint32 {
	switch f {
	case R8:
		return 1
	case RGB565, YUYV:
		return 2
	case BGR888, RGB888:
		return 3
	case ABGR16161616F:
		return 8
	case NV12:
		if plane == 0 {
			return 1
		}
		return 2
	case P010:
		if plane == 0 {
			return 2
		}
		return 4
	case YVU420, YVU420Android:
		return 1
	}
	return 4
}

// horizontal and vertical chroma subsampling of a plane.
func (f Format) subsampling(plane int) (h, v uint32) {
	if plane == 0 {
		return 1, 1
	}
	switch f {
	case NV12, P010, YVU420, YVU420Android:
		return 2, 2
	}
	return 1, 1
}

// PlaneStride returns the unaligned stride in bytes of the
// given plane for a buffer width pixels wide.
func (f Format) PlaneStride(width uint32, plane int) uint32 {
	h, _ := f.subsampling(plane)
	return divRoundUp(width, h) * f.BytesPerPixel(plane)
}

// PlaneHeight returns the height in rows of the given plane
// for a buffer height pixels tall.
func (f Format) PlaneHeight(height uint32, plane int) uint32 {
	_, v := f.subsampling(plane)
	return divRoundUp(height, v)
}

func divRoundUp(n, d uint32) uint32 { return (n + d - 1) / d }

// Modifier encodes a vendor-specific memory arrangement:
// the tiling pattern and an optional compression scheme.
type Modifier uint64

// Modifiers understood by the Intel backends.
const (
	ModLinear Modifier = 0

	modVendorIntel Modifier = 0x01 << 56

	ModXTiled     Modifier = modVendorIntel | 1
	ModYTiled     Modifier = modVendorIntel | 2
	ModYfTiled    Modifier = modVendorIntel | 3
	ModYTiledCCS  Modifier = modVendorIntel | 4
	ModYfTiledCCS Modifier = modVendorIntel | 5
)

// String returns a short mnemonic for m.
func (m Modifier) String() string {
	switch m {
	case ModLinear:
		return "linear"
	case ModXTiled:
		return "x-tiled"
	case ModYTiled:
		return "y-tiled"
	case ModYfTiled:
		return "yf-tiled"
	case ModYTiledCCS:
		return "y-tiled-ccs"
	case ModYfTiledCCS:
		return "yf-tiled-ccs"
	}
	return fmt.Sprintf("%#016x", uint64(m))
}

// Tiling is a backend-defined tiling mode. It is carried in
// combination metadata and buffer layouts but interpreted
// only by the backend that produced it.
type Tiling uint32

// Usage is a mask indicating the intended uses of a buffer.
type Usage uint64

// Usage flags.
const (
	UseScanout Usage = 1 << iota
	UseCursor
	UseRendering
	UseLinear
	UseTexture
	UseCameraWrite
	UseCameraRead
	UseProtected
	UseSWReadOften
	UseSWReadRarely
	UseSWWriteOften
	UseSWWriteRarely
	UseHWVideoDecoder
	UseHWVideoEncoder
	UseTestAlloc
	UseRenderscript
)

// Common usage masks.
const (
	UseSWRead  = UseSWReadOften | UseSWReadRarely
	UseSWWrite = UseSWWriteOften | UseSWWriteRarely
	UseSW      = UseSWRead | UseSWWrite
	UseCamera  = UseCameraRead | UseCameraWrite

	// UseRenderMask covers every use a render target may see.
	UseRenderMask = UseLinear | UseProtected | UseRendering | UseRenderscript |
		UseSW | UseTexture

	// UseTextureMask covers every use a sampled texture may see.
	UseTextureMask = UseLinear | UseProtected | UseRenderscript | UseSW | UseTexture
)
