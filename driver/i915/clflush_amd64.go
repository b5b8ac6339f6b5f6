// Copyright 2025 Gustavo C. Viegas. All rights reserved.

package i915

import "unsafe"

const cacheLineSize = 64

// mfence orders prior stores before the flush sequence.
//
//go:noescape
func mfence()

// clflush flushes the cache line containing the byte at p.
//
//go:noescape
func clflush(p unsafe.Pointer)

// flushRange flushes every cache line covering b.
func flushRange(b []byte) {
	if len(b) == 0 {
		return
	}
	start := uintptr(unsafe.Pointer(&b[0]))
	end := start + uintptr(len(b))
	p := start &^ (cacheLineSize - 1)
	mfence()
	for ; p < end; p += cacheLineSize {
		clflush(unsafe.Pointer(p))
	}
}
