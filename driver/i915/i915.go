// Copyright 2025 Gustavo C. Viegas. All rights reserved.

// Package i915 implements the driver backend for Intel GEM
// hardware. It computes buffer layouts for the linear, X and
// Y tiling patterns (including compressed Y surfaces),
// creates and imports kernel memory objects, and manages CPU
// mappings and coherency transitions.
package i915

import (
	"fmt"
	"unsafe"

	"github.com/gviegas/gbm/driver"
	"github.com/gviegas/gbm/internal/ioctl"
)

const backendName = "i915"

func init() {
	driver.Register(&backend{})
}

// backend implements driver.Backend.
// It is stateless; per-device state lives in a device value
// attached to the driver.Device.
type backend struct{}

func (*backend) Name() string { return backendName }

// device is the per-device state of the backend.
type device struct {
	deviceID int32
	gen      int
	hasLLC   bool
	isADLP   bool
}

// Gen 9 device ids (SKL/KBL/CFL/CML/APL/GLK families).
var gen9IDs = []int32{
	0x1902, 0x1906, 0x190A, 0x190B, 0x190E, 0x1912, 0x1913, 0x1915, 0x1916, 0x1917,
	0x191A, 0x191B, 0x191D, 0x191E, 0x1921, 0x1923, 0x1926, 0x1927, 0x192A, 0x192B,
	0x192D, 0x1932, 0x193A, 0x193B, 0x193D, 0x0A84, 0x1A84, 0x1A85, 0x5A84, 0x5A85,
	0x3184, 0x3185, 0x5902, 0x5906, 0x590A, 0x5908, 0x590B, 0x590E, 0x5913, 0x5915,
	0x5917, 0x5912, 0x5916, 0x591A, 0x591B, 0x591D, 0x591E, 0x5921, 0x5923, 0x5926,
	0x5927, 0x593B, 0x591C, 0x87C0, 0x87CA, 0x3E90, 0x3E93, 0x3E99, 0x3E9C, 0x3E91,
	0x3E92, 0x3E96, 0x3E98, 0x3E9A, 0x3E9B, 0x3E94, 0x3EA9, 0x3EA5, 0x3EA6, 0x3EA7,
	0x3EA8, 0x3EA1, 0x3EA4, 0x3EA0, 0x3EA3, 0x3EA2, 0x9B21, 0x9BA0, 0x9BA2, 0x9BA4,
	0x9BA5, 0x9BA8, 0x9BAA, 0x9BAB, 0x9BAC, 0x9B41, 0x9BC0, 0x9BC2, 0x9BC4, 0x9BC5,
	0x9BC6, 0x9BC8, 0x9BCA, 0x9BCB, 0x9BCC, 0x9BE6, 0x9BF6,
}

// Gen 12 device ids (RKL/ADL-S/ADL-P/TGL/DG1 families).
var gen12IDs = []int32{
	0x4c8a, 0x4c8b, 0x4c8c, 0x4c90, 0x4c9a, 0x4680, 0x4681, 0x4682, 0x4683, 0x4688,
	0x4689, 0x4690, 0x4691, 0x4692, 0x4693, 0x4698, 0x4699, 0x4626, 0x4628, 0x462a,
	0x46a0, 0x46a1, 0x46a2, 0x46a3, 0x46a6, 0x46a8, 0x46aa, 0x46b0, 0x46b1, 0x46b2,
	0x46b3, 0x46c0, 0x46c1, 0x46c2, 0x46c3, 0x9A40, 0x9A49, 0x9A59, 0x9A60, 0x9A68,
	0x9A70, 0x9A78, 0x9AC0, 0x9AC9, 0x9AD9, 0x9AF8, 0x4905, 0x4906, 0x4907, 0x4908,
}

// ADL-P device ids, a subset of gen 12 with its own quirks.
var adlpIDs = []int32{
	0x46A0, 0x46A1, 0x46A2, 0x46A3, 0x46A6, 0x46A8,
	0x46AA, 0x462A, 0x4626, 0x4628, 0x46B0, 0x46B1,
	0x46B2, 0x46B3, 0x46C0, 0x46C1, 0x46C2, 0x46C3,
	0x46D0, 0x46D1, 0x46D2,
}

// fromDeviceID fills in the hardware generation.
// Unknown ids are assumed to be newer than the tables and
// treated as gen 12.
func (d *device) fromDeviceID() {
	d.gen = 12
	d.isADLP = false
	for _, id := range gen9IDs {
		if id == d.deviceID {
			d.gen = 9
			return
		}
	}
	for _, id := range adlpIDs {
		if id == d.deviceID {
			d.isADLP = true
			return
		}
	}
}

func (b *backend) Init(dev *driver.Device) error {
	var d device
	var value int32

	arg := getParam{param: paramChipsetID, value: &value}
	if err := ioctl.Ioctl(dev.FD(), ioctlGetParam, unsafe.Pointer(&arg)); err != nil {
		return fmt.Errorf("i915: chipset id query failed: %w", err)
	}
	d.deviceID = value
	d.fromDeviceID()

	arg = getParam{param: paramHasLLC, value: &value}
	if err := ioctl.Ioctl(dev.FD(), ioctlGetParam, unsafe.Pointer(&arg)); err != nil {
		return fmt.Errorf("i915: llc query failed: %w", err)
	}
	d.hasLLC = value != 0

	dev.SetPriv(&d)
	b.addCombinations(dev, &d)
	return nil
}

func (*backend) Close(dev *driver.Device) {
	dev.SetPriv(nil)
}

// Formats that can both render and scan out.
var scanoutRenderFormats = []driver.Format{
	driver.ABGR2101010, driver.ABGR8888,
	driver.ARGB2101010, driver.ARGB8888,
	driver.RGB565, driver.XBGR2101010,
	driver.XBGR8888, driver.XRGB2101010,
	driver.XRGB8888,
}

// Formats that render but never scan out.
var renderFormats = []driver.Format{driver.ABGR16161616F}

// Formats that can only be sampled.
var textureOnlyFormats = []driver.Format{
	driver.R8, driver.NV12, driver.P010,
	driver.YVU420, driver.YVU420Android,
}

// addCombinations populates the device's combination
// registry with one tier per tiling mode, pruning usages
// that a given tier cannot serve.
func (b *backend) addCombinations(dev *driver.Device, d *device) {
	combos := dev.Combinations()

	scanoutRender := driver.UseRenderMask | driver.UseScanout | driver.UseLinear
	render := driver.UseRenderMask | driver.UseLinear
	textureOnly := driver.UseTextureMask | driver.UseLinear
	linearOnly := driver.UseRenderscript | driver.UseLinear | driver.UseProtected |
		driver.UseSWReadOften | driver.UseSWWriteOften

	md := driver.FormatMetadata{Tiling: driver.Tiling(tilingNone), Priority: 1, Modifier: driver.ModLinear}
	combos.AddList(scanoutRenderFormats, md, scanoutRender)
	combos.AddList(renderFormats, md, render)
	combos.AddList(textureOnlyFormats, md, textureOnly)

	// The video encoder reads YV12 written through DMA-BUF
	// mappings; the camera ISP produces NV12 only.
	combos.Modify(driver.YVU420, md, driver.UseHWVideoEncoder)
	combos.Modify(driver.NV12, md,
		driver.UseHWVideoEncoder|driver.UseHWVideoDecoder|
			driver.UseCamera|driver.UseScanout)

	// Android CTS requires SW access to BGR888.
	combos.Add(driver.BGR888, md, driver.UseSW)

	// R8 carries opaque BLOB payloads such as camera JPEG.
	combos.Modify(driver.R8, md, driver.UseCamera)

	render &^= linearOnly | driver.UseCamera
	scanoutRender &^= linearOnly | driver.UseCamera

	// Scanout of tiled buffers misbehaves on ADL-P under KVM
	// with 5.10 kernels.
	if d.isADLP && inKVM() {
		scanoutRender &^= driver.UseScanout
	}

	md = driver.FormatMetadata{Tiling: driver.Tiling(tilingX), Priority: 2, Modifier: driver.ModXTiled}
	combos.AddList(renderFormats, md, render)
	combos.AddList(scanoutRenderFormats, md, scanoutRender)

	scanoutRender &^= driver.UseSWReadRarely | driver.UseSWWriteRarely

	md = driver.FormatMetadata{Tiling: driver.Tiling(tilingY), Priority: 3, Modifier: driver.ModYTiled}

	// Discrete GPUs do not scan out Y-tiled surfaces.
	switch dev.Topology() {
	case driver.TopoIGPUWithDGPU, driver.TopoIGPUVirtioDGPU:
		scanoutRender &^= driver.UseScanout
	}

	// Y-tiled NV12 and P010 for the video decoder.
	combos.Add(driver.NV12, md, driver.UseTexture|driver.UseHWVideoDecoder)
	combos.Add(driver.P010, md, driver.UseTexture|driver.UseHWVideoDecoder)

	combos.AddList(renderFormats, md, render)
	combos.AddList(scanoutRenderFormats, md, scanoutRender)
}

// ResolveFormat maps the flexible Android formats to
// concrete ones. The camera subsystem requires NV12; the
// remaining flexible uses settle on NV12 for video (overlay
// support) and XBGR8888 otherwise.
func (*backend) ResolveFormat(_ *driver.Device, format driver.Format, usage driver.Usage) driver.Format {
	switch format {
	case driver.FlexImplementationDefined:
		if usage&driver.UseCamera != 0 {
			return driver.NV12
		}
		return driver.XBGR8888
	case driver.FlexYCbCr420:
		return driver.NV12
	}
	return format
}
