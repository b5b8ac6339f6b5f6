// Copyright 2025 Gustavo C. Viegas. All rights reserved.

package driver

// FormatMetadata is the layout choice a backend associates
// with a supported combination: the tiling mode, the
// modifier that encodes it on the wire, and a priority used
// to order competing entries (higher wins).
type FormatMetadata struct {
	Tiling   Tiling
	Priority uint16
	Modifier Modifier
}

// Combination states that buffers of a format may be
// allocated with the given metadata for any subset of the
// given usages.
type Combination struct {
	Format   Format
	Metadata FormatMetadata
	Usage    Usage
}

// Combinations is the registry of supported combinations
// for one device. The backend populates it during Init;
// afterwards it is only queried.
type Combinations struct {
	entries []Combination
}

// Add registers a combination.
func (c *Combinations) Add(format Format, md FormatMetadata, usage Usage) {
	c.entries = append(c.entries, Combination{format, md, usage})
}

// AddList registers the same metadata and usage for several
// formats.
func (c *Combinations) AddList(formats []Format, md FormatMetadata, usage Usage) {
	for _, f := range formats {
		c.Add(f, md, usage)
	}
}

// Modify extends the usage of the existing entry matching
// format and metadata. If no such entry exists, Modify adds
// one.
func (c *Combinations) Modify(format Format, md FormatMetadata, usage Usage) {
	for i := range c.entries {
		e := &c.entries[i]
		if e.Format == format && e.Metadata.Tiling == md.Tiling && e.Metadata.Modifier == md.Modifier {
			e.Usage |= usage
			return
		}
	}
	c.Add(format, md, usage)
}

// Lookup returns the highest-priority combination whose
// usage set covers every flag in usage.
func (c *Combinations) Lookup(format Format, usage Usage) (*Combination, bool) {
	var best *Combination
	for i := range c.entries {
		e := &c.entries[i]
		if e.Format != format || e.Usage&usage != usage {
			continue
		}
		if best == nil || e.Metadata.Priority > best.Metadata.Priority {
			best = e
		}
	}
	return best, best != nil
}

// Len returns the number of registered combinations.
func (c *Combinations) Len() int { return len(c.entries) }

// All returns a copy of every registered combination, in
// registration order.
func (c *Combinations) All() []Combination {
	s := make([]Combination, len(c.entries))
	copy(s, c.entries)
	return s
}
