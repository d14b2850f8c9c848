/*
Package streaming protects long HTTP responses from stalled clients.

A Writer wraps an http.ResponseWriter and splits large writes into chunks,
setting a write deadline before each one through http.ResponseController.
A client that stops reading fails the current chunk with ErrWriteTimeout
rather than pinning the connection and the file behind it.

The server runs with no global WriteTimeout because event streams and large
archive downloads stay open for a long time; this package supplies the
per-response bound instead.

# Usage

	sw := streaming.NewWriter(w, streaming.DefaultConfig())
	defer sw.Close()
	http.ServeContent(sw, r, name, modTime, f)

ServeContent keeps Range and conditional request support because the
Writer is still an http.ResponseWriter.
*/
package streaming
