// Copyright 2025 Gustavo C. Viegas. All rights reserved.

package devnode_test

import (
	"testing"

	"github.com/gviegas/gbm/devnode"
	"github.com/gviegas/gbm/driver"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		names []string
		want  driver.Topology
	}{
		{[]string{"i915"}, driver.TopoOneIntel},
		{[]string{"virtio_gpu"}, driver.TopoOneVirtio},
		{[]string{"i915", "virtio_gpu"}, driver.TopoIGPUWithVirtio},
		{[]string{"virtio_gpu", "i915"}, driver.TopoIGPUWithVirtio},
		{[]string{"i915", "amdgpu"}, driver.TopoIGPUWithDGPU},
		{[]string{"i915", "virtio_gpu", "amdgpu"}, driver.TopoIGPUVirtioDGPU},
		{nil, driver.TopoOneIntel},
	}
	for _, c := range cases {
		if got := devnode.Classify(c.names); got != c.want {
			t.Errorf("Classify(%v): got %v, want %v", c.names, got, c.want)
		}
	}
}
