// Copyright 2025 Gustavo C. Viegas. All rights reserved.

// Package devnode discovers DRM render nodes and classifies
// the GPU topology of the system.
// The first usable node becomes the device that all buffer
// allocation goes through; additional nodes only inform the
// topology tag.
package devnode

import (
	"fmt"
	"log"

	"github.com/gviegas/gbm/drm"
	"github.com/gviegas/gbm/driver"
	"golang.org/x/sys/unix"
)

// Render node minor numbers occupy [128, 191].
const (
	minNode = 128
	numNode = 63
)

// Kernel drivers that must not be picked up even when their
// nodes enumerate first.
var undesired = []string{"vgem"}

const virtioName = "virtio_gpu"

// Classify tags the GPU population given the kernel driver
// names of the usable render nodes, in enumeration order.
func Classify(names []string) driver.Topology {
	virtio := false
	for _, n := range names {
		if n == virtioName {
			virtio = true
			break
		}
	}
	switch len(names) {
	case 0, 1:
		// A lone node is bare metal, GVT-d or a passthrough
		// virtio GPU.
		if virtio {
			return driver.TopoOneVirtio
		}
		return driver.TopoOneIntel
	case 2:
		// SR-IOV or an integrated plus discrete pairing.
		if virtio {
			return driver.TopoIGPUWithVirtio
		}
		return driver.TopoIGPUWithDGPU
	default:
		return driver.TopoIGPUVirtioDGPU
	}
}

// OpenRender scans the render nodes, filters out undesired
// drivers, classifies the topology and opens a Device on
// the first usable node.
func OpenRender() (*driver.Device, error) {
	var fds []int
	var names []string
	for i := minNode; i < minNode+numNode; i++ {
		path := fmt.Sprintf("/dev/dri/renderD%d", i)
		fd, err := unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC, 0)
		if err != nil {
			continue
		}
		name, err := drm.DriverName(fd)
		if err != nil {
			unix.Close(fd)
			continue
		}
		skip := false
		for _, u := range undesired {
			if name == u {
				skip = true
				break
			}
		}
		if skip {
			unix.Close(fd)
			continue
		}
		fds = append(fds, fd)
		names = append(names, name)
	}

	if len(fds) == 0 {
		return nil, driver.ErrNoDevice
	}

	// Only the first node is kept open.
	for _, fd := range fds[1:] {
		unix.Close(fd)
	}

	topo := Classify(names)
	dev, err := driver.Open(fds[0], topo)
	if err != nil {
		unix.Close(fds[0])
		log.Printf("devnode: cannot use %s node: %v", names[0], err)
		return nil, err
	}
	return dev, nil
}
