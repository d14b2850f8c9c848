// Package metrics defines the Prometheus collectors for smart-gallery.
//
// All metrics are prefixed with "smart_gallery_". They cover HTTP traffic,
// catalog store queries and batch transactions, sync sessions and their
// work items, thumbnail and parameter graph extraction, progress listeners,
// archive jobs and filesystem retries. Collector samples catalog contents
// into gauges on an interval.
package metrics
