// Copyright 2025 Gustavo C. Viegas. All rights reserved.

package i915

import (
	"os"
	"strings"
	"sync"
)

// inKVM reports whether the process runs inside a KVM
// guest. The hypervisor CPU flag identifies virtualized
// execution; the DMI product name distinguishes KVM from
// other hypervisors.
var inKVM = sync.OnceValue(func() bool {
	info, err := os.ReadFile("/proc/cpuinfo")
	if err != nil || !strings.Contains(string(info), "hypervisor") {
		return false
	}
	name, err := os.ReadFile("/sys/class/dmi/id/product_name")
	if err != nil {
		return false
	}
	s := strings.TrimSpace(string(name))
	return strings.Contains(s, "KVM") || strings.Contains(s, "kvm")
})
