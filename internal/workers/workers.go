package workers

import (
	"os"
	"runtime"
	"strconv"
)

// EnvOverride names the environment variable that pins the worker count.
const EnvOverride = "MAX_PARALLEL_WORKERS"

// Count returns a worker count of multiplier workers per usable CPU, at
// least one and at most limit (0 means no cap). GOMAXPROCS is used rather
// than NumCPU so container CPU limits are respected.
//
// A positive MAX_PARALLEL_WORKERS replaces the computed value; the cap
// still applies.
func Count(multiplier float64, limit int) int {
	if n := envCount(); n > 0 {
		return capped(n, limit)
	}

	n := int(float64(runtime.GOMAXPROCS(0)) * multiplier)
	if n < 1 {
		n = 1
	}
	return capped(n, limit)
}

// ForCPU returns the worker count for CPU-bound work such as decoding and
// encoding previews.
func ForCPU(limit int) int {
	return Count(1.0, limit)
}

// ForIO returns the worker count for work that mostly waits on the disk.
func ForIO(limit int) int {
	return Count(2.0, limit)
}

// Resolve returns configured when it is positive and ForCPU(limit)
// otherwise. It turns a "0 = automatic" setting into a pool size.
func Resolve(configured, limit int) int {
	if configured > 0 {
		return capped(configured, limit)
	}
	return ForCPU(limit)
}

func envCount() int {
	n, err := strconv.Atoi(os.Getenv(EnvOverride))
	if err != nil || n < 1 {
		return 0
	}
	return n
}

func capped(n, limit int) int {
	if limit > 0 && n > limit {
		return limit
	}
	return n
}
