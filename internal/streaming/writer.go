package streaming

import (
	"errors"
	"net"
	"net/http"
	"os"
	"time"
)

var (
	// ErrWriteTimeout is returned when a chunk could not be written before
	// its deadline, which usually means the client stopped reading.
	ErrWriteTimeout = errors.New("write timeout exceeded")

	// ErrTooLong is returned once a response has run past MaxDuration.
	ErrTooLong = errors.New("stream exceeded maximum duration")
)

// Config configures a Writer.
type Config struct {
	// WriteTimeout bounds the write of a single chunk.
	WriteTimeout time.Duration
	// MaxDuration bounds the whole response; 0 is unlimited.
	MaxDuration time.Duration
	// ChunkSize splits large writes; 0 writes as received.
	ChunkSize int
	// OnProgress is called after every chunk with the chunk size.
	OnProgress func(n int)
}

// DefaultConfig returns a 30s per-chunk deadline with 64KiB chunks.
func DefaultConfig() Config {
	return Config{
		WriteTimeout: 30 * time.Second,
		ChunkSize:    64 * 1024,
	}
}

// Writer is an http.ResponseWriter that gives each chunk its own write
// deadline through http.ResponseController. A client that stalls fails the
// write with ErrWriteTimeout instead of holding the connection. Writers
// without deadline support are written to without one.
type Writer struct {
	http.ResponseWriter
	rc      *http.ResponseController
	cfg     Config
	start   time.Time
	written int64
	noDL    bool
}

// NewWriter wraps w.
func NewWriter(w http.ResponseWriter, cfg Config) *Writer {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultConfig().WriteTimeout
	}
	return &Writer{
		ResponseWriter: w,
		rc:             http.NewResponseController(w),
		cfg:            cfg,
		start:          time.Now(),
	}
}

// Write writes p in chunks, each under a fresh deadline.
func (w *Writer) Write(p []byte) (int, error) {
	total := 0
	for len(p) > 0 {
		if w.cfg.MaxDuration > 0 && time.Since(w.start) > w.cfg.MaxDuration {
			return total, ErrTooLong
		}

		chunk := p
		if w.cfg.ChunkSize > 0 && len(chunk) > w.cfg.ChunkSize {
			chunk = p[:w.cfg.ChunkSize]
		}

		w.setDeadline(time.Now().Add(w.cfg.WriteTimeout))
		n, err := w.ResponseWriter.Write(chunk)
		total += n
		w.written += int64(n)
		if n > 0 && w.cfg.OnProgress != nil {
			w.cfg.OnProgress(n)
		}
		if err != nil {
			return total, mapError(err)
		}
		p = p[n:]
	}
	return total, nil
}

func (w *Writer) setDeadline(t time.Time) {
	if w.noDL {
		return
	}
	if err := w.rc.SetWriteDeadline(t); errors.Is(err, http.ErrNotSupported) {
		w.noDL = true
	}
}

// Flush sends buffered data to the client.
func (w *Writer) Flush() {
	_ = w.rc.Flush()
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (w *Writer) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// Written returns the number of body bytes written.
func (w *Writer) Written() int64 {
	return w.written
}

// Close clears the write deadline so a kept-alive connection is not cut
// short on its next response.
func (w *Writer) Close() {
	w.setDeadline(time.Time{})
}

func mapError(err error) error {
	var ne net.Error
	if errors.Is(err, os.ErrDeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return ErrWriteTimeout
	}
	return err
}
