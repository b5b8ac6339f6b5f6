// Copyright 2025 Gustavo C. Viegas. All rights reserved.

// Package driver defines the types and backend contract for
// allocating, importing and mapping GPU buffer objects on a
// DRM render node.
// It is designed to allow hardware-specific backends to be
// implemented in a mostly straightforward manner.
package driver

import (
	"errors"
	"log"
	"sync"
)

// Backend is the interface that a hardware-specific buffer
// backend implements. A Backend instance is shared by every
// Device bound to hardware of that family; per-device state
// belongs in the Device it receives on Init.
type Backend interface {
	// Name returns the kernel driver name that the backend
	// handles (e.g. "i915").
	Name() string

	// Init prepares dev for use: it queries device
	// properties and populates the device's combination
	// registry. It is called exactly once per Device,
	// from Open.
	Init(dev *Device) error

	// Close releases backend state attached to dev.
	// It does not close the device descriptor.
	Close(dev *Device)

	// ResolveFormat maps a logical or flexible format to a
	// concrete hardware format. Resolution is total: formats
	// the backend has no special rule for pass through
	// unchanged.
	ResolveFormat(dev *Device, format Format, usage Usage) Format

	// ComputeLayout picks a tiling for bo and fills in its
	// per-plane strides, offsets and sizes, the number of
	// planes, the modifier and the total size.
	// When modifiers is non-empty the backend must choose
	// from it; otherwise it consults the device's
	// combination registry and fails with ErrNoSupport if
	// no combination matches the buffer's format and usage.
	ComputeLayout(bo *BO, modifiers []Modifier) error

	// Create makes the kernel memory object described by
	// the layout previously computed into bo and stores the
	// per-plane kernel handles.
	// A failure leaves no kernel resource behind.
	Create(bo *BO) error

	// Import attaches an externally created object to bo
	// using the descriptors and layout in data, then
	// corrects bo's tiling with the value the kernel
	// reports for the object. Descriptor metadata alone is
	// not trusted to describe tiling.
	Import(bo *BO, data *ImportData) error

	// Destroy releases the kernel object backing bo.
	Destroy(bo *BO) error

	// Map makes the buffer accessible to the CPU.
	// The mapping strategy is backend- and tiling-specific.
	// Buffers carrying an auxiliary compression surface are
	// not mappable and fail with ErrUnmappable.
	Map(bo *BO, flags MapFlag) (*Mapping, error)

	// Unmap releases a mapping obtained from Map.
	Unmap(bo *BO, m *Mapping) error

	// Invalidate transitions the buffer to the coherency
	// domain used for CPU access, making prior device
	// writes visible through m.
	Invalidate(bo *BO, m *Mapping) error

	// Flush publishes CPU writes made through m before the
	// device accesses the buffer again.
	Flush(bo *BO, m *Mapping) error
}

// ErrNoDevice means that no usable render node could be
// found or opened.
var ErrNoDevice = errors.New("driver: no suitable device found")

// ErrNoMemory means that the kernel could not allocate the
// requested memory object. Callers must not retry with the
// same parameters.
var ErrNoMemory = errors.New("driver: out of device memory")

// ErrInvalidArg means that a request was malformed: an
// unknown handle, an unsupported format and usage pairing,
// or inconsistent layout data.
var ErrInvalidArg = errors.New("driver: invalid argument")

// ErrNoSupport means that no combination entry covers the
// requested format and usage and no explicit modifier was
// supplied.
var ErrNoSupport = errors.New("driver: unsupported format and usage combination")

// ErrImport means that an externally supplied descriptor
// could not be translated into a kernel object.
var ErrImport = errors.New("driver: buffer import failed")

// ErrUnmappable means that the buffer's layout does not
// permit CPU mappings.
var ErrUnmappable = errors.New("driver: buffer cannot be mapped")

// Backends returns the registered Backends.
// Client code imports specific backend packages, which
// register themselves on init; backends that do not will
// not be considered when opening a device.
func Backends() []Backend {
	mu.Lock()
	defer mu.Unlock()
	bks := make([]Backend, len(backends))
	copy(bks, backends)
	return bks
}

// Register registers a Backend.
// Backend implementations are expected to call Register
// exactly once, from an init function.
// If a backend with the same name has already been
// registered, it will be replaced by bk.
func Register(bk Backend) {
	mu.Lock()
	defer mu.Unlock()
	for i := range backends {
		if backends[i].Name() == bk.Name() {
			backends[i] = bk
			log.Printf("[!] driver: backend '%s' replaced", bk.Name())
			return
		}
	}
	backends = append(backends, bk)
}

// For returns the registered Backend handling the given
// kernel driver name.
func For(name string) (Backend, bool) {
	mu.Lock()
	defer mu.Unlock()
	for i := range backends {
		if backends[i].Name() == name {
			return backends[i], true
		}
	}
	return nil, false
}

// Variables used for backend registration.
var (
	mu       sync.Mutex
	backends = make([]Backend, 0, 1)
)
