// Copyright 2025 Gustavo C. Viegas. All rights reserved.

package i915

import (
	"os"
	"testing"

	"github.com/gviegas/gbm/driver"
)

func computeFor(t *testing.T, format driver.Format, w, h uint32, mods []driver.Modifier) *driver.BO {
	t.Helper()
	var b backend
	bo := &driver.BO{Width: w, Height: h, Format: format}
	if err := b.ComputeLayout(bo, mods); err != nil {
		t.Fatalf("ComputeLayout: %v", err)
	}
	return bo
}

func TestPickModifier(t *testing.T) {
	got := pickModifier([]driver.Modifier{driver.ModLinear, driver.ModYTiled, driver.ModXTiled})
	if got != driver.ModYTiled {
		t.Errorf("pickModifier: %#x, want Y-tiled", got)
	}
	got = pickModifier([]driver.Modifier{driver.ModLinear, driver.ModYTiledCCS})
	if got != driver.ModYTiledCCS {
		t.Errorf("pickModifier: %#x, want Y-tiled CCS", got)
	}
	// Nothing recognized falls back to linear.
	got = pickModifier([]driver.Modifier{0xdead})
	if got != driver.ModLinear {
		t.Errorf("pickModifier: %#x, want linear", got)
	}
}

func TestLayoutAlignment(t *testing.T) {
	cases := []struct {
		mod         driver.Modifier
		tiling      uint32
		strideAlign uint32
		heightAlign uint32
	}{
		{driver.ModLinear, tilingNone, 64, 4},
		{driver.ModXTiled, tilingX, 512, 8},
		{driver.ModYTiled, tilingY, 128, 32},
	}
	for _, c := range cases {
		bo := computeFor(t, driver.XRGB8888, 641, 479, []driver.Modifier{c.mod})
		if uint32(bo.Tiling) != c.tiling {
			t.Errorf("ComputeLayout: tiling %d, want %d", bo.Tiling, c.tiling)
		}
		if bo.Strides[0]%c.strideAlign != 0 {
			t.Errorf("ComputeLayout: stride %d not aligned to %d", bo.Strides[0], c.strideAlign)
		}
		rows := bo.Sizes[0] / bo.Strides[0]
		if rows%c.heightAlign != 0 {
			t.Errorf("ComputeLayout: height %d not aligned to %d", rows, c.heightAlign)
		}
		if bo.TotalSize%uint64(os.Getpagesize()) != 0 {
			t.Errorf("ComputeLayout: total size %d not page aligned", bo.TotalSize)
		}
	}
}

func TestLayoutDeterminism(t *testing.T) {
	mods := []driver.Modifier{driver.ModYTiled}
	a := computeFor(t, driver.NV12, 1280, 721, mods)
	b := computeFor(t, driver.NV12, 1280, 721, mods)
	if *a != *b {
		t.Error("ComputeLayout: identical inputs produced different layouts")
	}
}

func TestLayoutPlaneInvariant(t *testing.T) {
	for _, f := range []driver.Format{driver.XRGB8888, driver.NV12, driver.YVU420, driver.P010} {
		bo := computeFor(t, f, 640, 480, []driver.Modifier{driver.ModLinear})
		if bo.NumPlanes != f.NumPlanes() {
			t.Errorf("ComputeLayout: %s has %d planes, want %d", f, bo.NumPlanes, f.NumPlanes())
		}
		for p := 0; p < bo.NumPlanes; p++ {
			if p > 0 && bo.Offsets[p] <= bo.Offsets[p-1] {
				t.Errorf("ComputeLayout: %s plane %d offset not increasing", f, p)
			}
			if end := uint64(bo.Offsets[p]) + uint64(bo.Sizes[p]); end > bo.TotalSize {
				t.Errorf("ComputeLayout: %s plane %d ends at %d, beyond total %d",
					f, p, end, bo.TotalSize)
			}
		}
	}
}

func TestLayoutR8Exact(t *testing.T) {
	// BLOB payloads are byte exact: no stride alignment.
	bo := computeFor(t, driver.R8, 1000, 1, []driver.Modifier{driver.ModLinear})
	if bo.Strides[0] != 1000 {
		t.Errorf("ComputeLayout: R8 stride %d, want 1000", bo.Strides[0])
	}
}

func TestLayoutCCS(t *testing.T) {
	const w, h = 1920, 1080
	bo := computeFor(t, driver.XRGB8888, w, h, []driver.Modifier{driver.ModYTiledCCS})

	stride := driver.XRGB8888.PlaneStride(w, 0)
	tilesX := (stride + yTileWidth - 1) / yTileWidth
	tilesY := uint32((h + yTileHeight - 1) / yTileHeight)
	main := tilesX * tilesY * yTileSize
	ccsX := (tilesX + ccsTileDivX - 1) / ccsTileDivX
	ccsY := (tilesY + ccsTileDivY - 1) / ccsTileDivY
	ccs := ccsX * ccsY * yTileSize

	if bo.NumPlanes != 2 {
		t.Fatalf("ComputeLayout: CCS has %d planes, want 2", bo.NumPlanes)
	}
	if bo.Sizes[0] != main {
		t.Errorf("ComputeLayout: main surface %d bytes, want %d", bo.Sizes[0], main)
	}
	if bo.Offsets[1] != main {
		t.Errorf("ComputeLayout: control surface at %d, want %d", bo.Offsets[1], main)
	}
	if bo.Sizes[1] != ccs {
		t.Errorf("ComputeLayout: control surface %d bytes, want %d", bo.Sizes[1], ccs)
	}
	if bo.TotalSize != uint64(main)+uint64(ccs) {
		t.Errorf("ComputeLayout: total %d, want %d", bo.TotalSize, main+ccs)
	}
	if bo.Strides[0]%yTileWidth != 0 {
		t.Errorf("ComputeLayout: main stride %d not in whole tiles", bo.Strides[0])
	}
}

func TestLayoutAndroidYV12(t *testing.T) {
	bo := computeFor(t, driver.YVU420Android, 101, 64, []driver.Modifier{driver.ModLinear})
	if bo.Strides[0] != 128 {
		t.Errorf("ComputeLayout: luma stride %d, want 128", bo.Strides[0])
	}
	if bo.Strides[1] != 64 || bo.Strides[2] != 64 {
		t.Errorf("ComputeLayout: chroma strides %d,%d, want 64,64", bo.Strides[1], bo.Strides[2])
	}
	if bo.NumPlanes != 3 {
		t.Errorf("ComputeLayout: %d planes, want 3", bo.NumPlanes)
	}
}

