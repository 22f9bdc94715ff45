// Package config holds the small set of VM configuration values with
// explicit defaults (spec §6 "Environment"). There is no CLI in the core;
// cmd/muvmc constructs an Options value directly.
package config

// Options configures a VM instance.
type Options struct {
	// ImmixSize is the total virtual size reserved for the Immix space, in bytes.
	ImmixSize uint64
	// LOSize is the total virtual size reserved for the large-object space, in bytes.
	LOSize uint64
	// NGCThreads is the configured number of GC worker goroutines. The
	// coordinator does not read it: root scanning, tracing and sweeping run
	// on the goroutine that calls TriggerGC.
	NGCThreads int
}

const (
	defaultImmixSize  = 64 << 20 // 64 MiB
	defaultLOSize     = 64 << 20 // 64 MiB
	defaultNGCThreads = 8
)

// Default returns the Options with spec-mandated defaults.
func Default() Options {
	return Options{
		ImmixSize:  defaultImmixSize,
		LOSize:     defaultLOSize,
		NGCThreads: defaultNGCThreads,
	}
}

// Normalize fills in zero fields with defaults. Callers that build an
// Options by hand (tests, embedders) can leave fields unset.
func (o Options) Normalize() Options {
	if o.ImmixSize == 0 {
		o.ImmixSize = defaultImmixSize
	}
	if o.LOSize == 0 {
		o.LOSize = defaultLOSize
	}
	if o.NGCThreads == 0 {
		o.NGCThreads = defaultNGCThreads
	}
	return o
}
