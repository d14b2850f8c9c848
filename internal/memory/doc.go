// Package memory keeps the process inside its container memory limit.
//
// ApplyLimit derives GOMEMLIMIT from the container limit (MEMORY_LIMIT) and
// a ratio (MEMORY_RATIO, default 0.75). The remainder is headroom for
// libvips and ffmpeg, whose allocations the Go runtime does not see. An
// explicit GOMEMLIMIT environment variable always wins.
//
// Monitor samples the heap and provides backpressure: sync workers call
// Wait before starting a file, and Wait blocks while the heap is above the
// pause threshold, so a burst of large images cannot push the process into
// the OOM killer. A nil *Monitor is valid and never blocks.
package memory
