// Package middleware provides HTTP middleware for the gallery server:
// W3C extended format request logging, gzip compression of JSON bodies and
// Prometheus request metrics. Every wrapper exposes Flush and Unwrap so
// server-sent event handlers can drive http.ResponseController through it.
package middleware
