/*
Package workers sizes worker pools.

Counts are derived from runtime.GOMAXPROCS, which Go sets from the
container CPU quota, instead of runtime.NumCPU, which reports the host:

	n := workers.ForCPU(8) // one per usable CPU, at most 8
	n := workers.ForIO(16) // two per usable CPU, at most 16

Operators can pin the size with MAX_PARALLEL_WORKERS; the cap passed by the
caller still applies. Resolve handles configuration values where 0 means
automatic.
*/
package workers
