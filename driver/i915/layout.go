// Copyright 2025 Gustavo C. Viegas. All rights reserved.

package i915

import (
	"os"

	"github.com/gviegas/gbm/driver"
)

// Modifier preference, most compressed and most tiled
// first. A caller-supplied modifier list is intersected
// with this order; an empty intersection falls back to
// linear.
var modifierOrder = []driver.Modifier{
	driver.ModYTiledCCS,
	driver.ModYTiled,
	driver.ModXTiled,
	driver.ModLinear,
}

func pickModifier(modifiers []driver.Modifier) driver.Modifier {
	for _, pref := range modifierOrder {
		for _, m := range modifiers {
			if m == pref {
				return m
			}
		}
	}
	return driver.ModLinear
}

// Stride and height alignment per tiling mode.
// Linear surfaces need no alignment on this hardware, but
// libva wants strides aligned to 16 and heights to 4 rows;
// the horizontal alignment is rounded further up so rows
// start on a cache line.
func alignments(tiling uint32) (stride, height uint32) {
	switch tiling {
	case tilingX:
		return 512, 8
	case tilingY:
		return 128, 32
	default:
		return 64, 4
	}
}

func align(x, a uint32) uint32 { return (x + a - 1) &^ (a - 1) }

func divRoundUp(n, d uint32) uint32 { return (n + d - 1) / d }

// Y tile geometry: 128 bytes wide, 32 rows tall, 4096
// bytes. The compression control surface holds one of its
// tiles per 32x16 tiles of the main surface.
const (
	yTileWidth  = 128
	yTileHeight = 32
	yTileSize   = 4096
	ccsTileDivX = 32
	ccsTileDivY = 16
)

func (b *backend) ComputeLayout(bo *driver.BO, modifiers []driver.Modifier) error {
	var mod driver.Modifier
	if len(modifiers) > 0 {
		mod = pickModifier(modifiers)
	} else {
		md, ok := bo.Dev.Combination(bo.Format, bo.Usage)
		if !ok {
			return driver.ErrNoSupport
		}
		mod = md.Modifier
	}

	switch mod {
	case driver.ModLinear:
		bo.Tiling = driver.Tiling(tilingNone)
	case driver.ModXTiled:
		bo.Tiling = driver.Tiling(tilingX)
	case driver.ModYTiled, driver.ModYTiledCCS, driver.ModYfTiled, driver.ModYfTiledCCS:
		bo.Tiling = driver.Tiling(tilingY)
	}
	bo.Modifier = mod

	switch {
	case bo.Format == driver.YVU420Android:
		// Only ever used as a linear texture, so hardware
		// placement is unconstrained, but Android wants the
		// luma stride to be a multiple of 16 and the chroma
		// strides to be align(luma/2, 16). Aligning the luma
		// stride to 32 satisfies both.
		b.layoutPlanes(bo, align(bo.Width, 32), false)
	case mod == driver.ModYTiledCCS || mod == driver.ModYfTiledCCS:
		b.layoutCCS(bo)
	default:
		b.layoutPlanes(bo, bo.Width, true)
	}
	return nil
}

// layoutCCS lays out a compressed surface: the main surface
// in whole Y tiles followed by its compression control
// surface. Stride and height are aligned to whole tiles, so
// the control surface lands on the 4096-byte alignment it
// requires.
func (b *backend) layoutCCS(bo *driver.BO) {
	stride := bo.Format.PlaneStride(bo.Width, 0)
	tilesX := divRoundUp(stride, yTileWidth)
	tilesY := divRoundUp(bo.Height, yTileHeight)
	size := tilesX * tilesY * yTileSize

	bo.Strides[0] = tilesX * yTileWidth
	bo.Sizes[0] = size
	bo.Offsets[0] = 0

	ccsTilesX := divRoundUp(tilesX, ccsTileDivX)
	ccsTilesY := divRoundUp(tilesY, ccsTileDivY)
	ccsSize := ccsTilesX * ccsTilesY * yTileSize

	bo.Strides[1] = ccsTilesX * yTileWidth
	bo.Sizes[1] = ccsSize
	bo.Offsets[1] = size

	bo.NumPlanes = 2
	bo.TotalSize = uint64(size) + uint64(ccsSize)
}

// layoutPlanes lays out each plane of the format in turn,
// accumulating offsets. When tile is set, strides and
// heights are aligned per the buffer's tiling mode; the
// single-channel R8 format keeps its exact stride either
// way, since BLOB payloads are sized in bytes.
func (b *backend) layoutPlanes(bo *driver.BO, width uint32, tile bool) {
	strideAlign, heightAlign := alignments(uint32(bo.Tiling))
	var offset uint32
	n := bo.Format.NumPlanes()
	for p := 0; p < n; p++ {
		stride := bo.Format.PlaneStride(width, p)
		height := bo.Format.PlaneHeight(bo.Height, p)
		if tile {
			height = align(height, heightAlign)
			if bo.Format != driver.R8 {
				stride = align(stride, strideAlign)
			}
		}
		bo.Strides[p] = stride
		bo.Sizes[p] = stride * height
		bo.Offsets[p] = offset
		offset += bo.Sizes[p]
	}
	bo.NumPlanes = n
	bo.TotalSize = uint64(align(offset, uint32(os.Getpagesize())))
}
