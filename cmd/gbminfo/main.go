// Copyright 2025 Gustavo C. Viegas. All rights reserved.

// Gbminfo inspects the GPU buffer allocator on the local
// machine: it reports which render node and backend are in
// use, lists the supported format/usage combinations, and
// can run an allocation smoke test.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/gviegas/gbm/devnode"
	"github.com/gviegas/gbm/driver"
	_ "github.com/gviegas/gbm/driver/i915"
	"github.com/gviegas/gbm/gralloc"
)

func main() {
	root := &cobra.Command{
		Use:           "gbminfo",
		Short:         "Inspect the GPU buffer allocator",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(infoCmd(), allocCmd())
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "gbminfo:", err)
		os.Exit(1)
	}
}

var topoNames = map[driver.Topology]string{
	driver.TopoOneIntel:       "single GPU",
	driver.TopoOneVirtio:      "single virtio GPU",
	driver.TopoIGPUWithVirtio: "iGPU + virtio GPU",
	driver.TopoIGPUWithDGPU:   "iGPU + dGPU",
	driver.TopoIGPUVirtioDGPU: "iGPU + virtio GPU + dGPU",
}

func infoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show device, topology and supported combinations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dev, err := devnode.OpenRender()
			if err != nil {
				return err
			}
			defer dev.Close()

			fmt.Println("driver:  ", dev.Name())
			fmt.Println("topology:", topoNames[dev.Topology()])
			fmt.Println()
			fmt.Printf("%-8s %-14s %s\n", "format", "layout", "usage")
			for _, c := range dev.Combinations().All() {
				fmt.Printf("%-8s %-14s %#x\n", c.Format, c.Metadata.Modifier, uint64(c.Usage))
			}
			return nil
		},
	}
}

func allocCmd() *cobra.Command {
	var (
		width, height uint32
		format        string
		scanout       bool
	)
	cmd := &cobra.Command{
		Use:   "alloc",
		Short: "Allocate, map and release one buffer",
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := parseFormat(format)
			if err != nil {
				return err
			}
			usage := driver.UseSW | driver.UseRendering
			if scanout {
				usage |= driver.UseScanout
			}

			dev, err := devnode.OpenRender()
			if err != nil {
				return err
			}
			defer dev.Close()

			a := gralloc.New(dev)
			h, err := a.Allocate(&gralloc.Descriptor{
				Name:   "gbminfo-test",
				Width:  width,
				Height: height,
				Format: f,
				Usage:  usage,
			})
			if err != nil {
				return err
			}
			defer a.Release(h)

			fmt.Printf("allocated %dx%d %s (id %d)\n", h.Width, h.Height, h.Format, h.ID)
			fmt.Printf("layout: %s, %d plane(s)\n", h.Modifier, h.NumPlanes)
			for i := 0; i < h.NumPlanes; i++ {
				fmt.Printf("  plane %d: stride %d, offset %d, size %d\n",
					i, h.Strides[i], h.Offsets[i], h.Sizes[i])
			}
			if h.Usage != usage {
				fmt.Printf("usage adjusted: %#x -> %#x\n", uint64(usage), uint64(h.Usage))
			}

			addrs, err := a.Lock(h, -1, false, gralloc.Rect{}, driver.MapRW)
			if err != nil {
				return fmt.Errorf("lock: %w", err)
			}
			for i := range addrs[0] {
				addrs[0][i] = byte(i)
			}
			if _, err := a.Unlock(h); err != nil {
				return fmt.Errorf("unlock: %w", err)
			}
			fmt.Println("map/write/flush ok")
			return nil
		},
	}
	cmd.Flags().Uint32Var(&width, "width", 640, "buffer width in pixels")
	cmd.Flags().Uint32Var(&height, "height", 480, "buffer height in pixels")
	cmd.Flags().StringVar(&format, "format", "XR24", "fourcc format code")
	cmd.Flags().BoolVar(&scanout, "scanout", false, "request scanout usage")
	return cmd
}

func parseFormat(s string) (driver.Format, error) {
	if len(s) != 4 {
		return 0, fmt.Errorf("bad fourcc %q", s)
	}
	return driver.Format(s[0]) | driver.Format(s[1])<<8 |
		driver.Format(s[2])<<16 | driver.Format(s[3])<<24, nil
}
