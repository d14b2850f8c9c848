package media

import (
	"bufio"
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"golang.org/x/text/encoding/charmap"
)

// Limits for metadata blocks read into memory.
const (
	maxTextChunk  = 32 << 20
	maxExifBlock  = 16 << 20
	maxInflatedGZ = 64 << 20
)

var (
	pngSignature = []byte("\x89PNG\r\n\x1a\n")
	errNotPNG    = errors.New("not a PNG file")
)

// imageMeta holds the metadata blocks found in an image container.
type imageMeta struct {
	// text maps PNG text keywords to their decoded values.
	text map[string]string
	// exif is the raw EXIF block, when present.
	exif []byte
	// webp frame details, populated for RIFF/WEBP files only.
	webp *webpInfo
}

type webpInfo struct {
	width, height int
	animated      bool
	frames        int
}

// readImageMeta dispatches on the container signature.
func readImageMeta(r io.ReadSeeker) (*imageMeta, error) {
	var sig [12]byte
	n, err := io.ReadFull(r, sig[:])
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, err
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}

	switch {
	case n >= 8 && bytes.Equal(sig[:8], pngSignature):
		return readPNGMeta(r)
	case n >= 3 && sig[0] == 0xFF && sig[1] == 0xD8 && sig[2] == 0xFF:
		return readJPEGMeta(r)
	case n >= 12 && string(sig[0:4]) == "RIFF" && string(sig[8:12]) == "WEBP":
		return readWebPMeta(r)
	}
	return &imageMeta{}, nil
}

// readPNGMeta collects tEXt, zTXt and iTXt chunks plus eXIf.
func readPNGMeta(r io.Reader) (*imageMeta, error) {
	br := bufio.NewReader(r)

	sig := make([]byte, 8)
	if _, err := io.ReadFull(br, sig); err != nil || !bytes.Equal(sig, pngSignature) {
		return nil, errNotPNG
	}

	meta := &imageMeta{text: make(map[string]string)}
	var header [8]byte
	for {
		if _, err := io.ReadFull(br, header[:]); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return meta, nil
			}
			return meta, err
		}
		length := binary.BigEndian.Uint32(header[:4])
		kind := string(header[4:8])

		wanted := kind == "tEXt" || kind == "zTXt" || kind == "iTXt" || kind == "eXIf"
		if !wanted || length > maxTextChunk {
			if _, err := br.Discard(int(length) + 4); err != nil {
				return meta, nil
			}
			if kind == "IEND" {
				return meta, nil
			}
			continue
		}

		data := make([]byte, length)
		if _, err := io.ReadFull(br, data); err != nil {
			return meta, nil
		}
		if _, err := br.Discard(4); err != nil { // CRC
			return meta, nil
		}

		if kind == "eXIf" {
			meta.exif = data
			continue
		}
		if key, value, err := decodeTextChunk(kind, data); err == nil {
			if _, seen := meta.text[key]; !seen {
				meta.text[key] = value
			}
		}
	}
}

func decodeTextChunk(kind string, data []byte) (string, string, error) {
	key, rest, ok := bytes.Cut(data, []byte{0})
	if !ok {
		return "", "", fmt.Errorf("%s chunk without keyword", kind)
	}

	switch kind {
	case "tEXt":
		value, err := charmap.ISO8859_1.NewDecoder().Bytes(rest)
		return string(key), string(value), err

	case "zTXt":
		if len(rest) < 1 {
			return "", "", fmt.Errorf("short zTXt chunk")
		}
		inflated, err := inflate(rest[1:])
		if err != nil {
			return "", "", err
		}
		value, err := charmap.ISO8859_1.NewDecoder().Bytes(inflated)
		return string(key), string(value), err

	case "iTXt":
		if len(rest) < 2 {
			return "", "", fmt.Errorf("short iTXt chunk")
		}
		compressed := rest[0] == 1
		rest = rest[2:]
		// language tag, then translated keyword
		if _, after, ok := bytes.Cut(rest, []byte{0}); ok {
			rest = after
		}
		if _, after, ok := bytes.Cut(rest, []byte{0}); ok {
			rest = after
		}
		if compressed {
			inflated, err := inflate(rest)
			if err != nil {
				return "", "", err
			}
			rest = inflated
		}
		return string(key), string(rest), nil
	}
	return "", "", fmt.Errorf("unsupported chunk %s", kind)
}

func inflate(data []byte) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return io.ReadAll(io.LimitReader(zr, maxInflatedGZ))
}

// readJPEGMeta returns the APP1 EXIF segment, stopping at start of scan.
func readJPEGMeta(r io.Reader) (*imageMeta, error) {
	br := bufio.NewReader(r)
	meta := &imageMeta{}

	var soi [2]byte
	if _, err := io.ReadFull(br, soi[:]); err != nil {
		return meta, err
	}

	for {
		marker, err := br.ReadByte()
		if err != nil {
			return meta, nil
		}
		if marker != 0xFF {
			continue
		}
		kind, err := br.ReadByte()
		if err != nil {
			return meta, nil
		}
		// fill bytes and standalone markers
		if kind == 0xFF || kind == 0x00 || kind == 0x01 || (kind >= 0xD0 && kind <= 0xD8) {
			if kind == 0xFF {
				_ = br.UnreadByte()
			}
			continue
		}
		if kind == 0xDA || kind == 0xD9 {
			return meta, nil
		}

		var lenBuf [2]byte
		if _, err := io.ReadFull(br, lenBuf[:]); err != nil {
			return meta, nil
		}
		length := int(binary.BigEndian.Uint16(lenBuf[:])) - 2
		if length < 0 {
			return meta, nil
		}

		if kind == 0xE1 && meta.exif == nil && length <= maxExifBlock {
			seg := make([]byte, length)
			if _, err := io.ReadFull(br, seg); err != nil {
				return meta, nil
			}
			if bytes.HasPrefix(seg, []byte("Exif\x00\x00")) {
				meta.exif = seg
			}
			continue
		}
		if _, err := br.Discard(length); err != nil {
			return meta, nil
		}
	}
}

// readWebPMeta walks RIFF chunks for the canvas, animation frames and EXIF.
func readWebPMeta(r io.Reader) (*imageMeta, error) {
	br := bufio.NewReader(r)
	meta := &imageMeta{webp: &webpInfo{}}

	var header [12]byte
	if _, err := io.ReadFull(br, header[:]); err != nil {
		return meta, err
	}

	var chunk [8]byte
	for {
		if _, err := io.ReadFull(br, chunk[:]); err != nil {
			return meta, nil
		}
		kind := string(chunk[:4])
		size := int(binary.LittleEndian.Uint32(chunk[4:]))
		padded := size + size&1

		switch kind {
		case "VP8X":
			data := make([]byte, min(size, 10))
			if _, err := io.ReadFull(br, data); err != nil {
				return meta, nil
			}
			if len(data) == 10 {
				meta.webp.animated = data[0]&0x02 != 0
				meta.webp.width = 1 + int(uint32(data[4])|uint32(data[5])<<8|uint32(data[6])<<16)
				meta.webp.height = 1 + int(uint32(data[7])|uint32(data[8])<<8|uint32(data[9])<<16)
			}
			padded -= len(data)
		case "ANIM":
			meta.webp.animated = true
		case "ANMF":
			meta.webp.frames++
		case "EXIF":
			if size <= maxExifBlock {
				data := make([]byte, size)
				if _, err := io.ReadFull(br, data); err != nil {
					return meta, nil
				}
				meta.exif = data
				padded -= size
			}
		}

		if padded > 0 {
			if _, err := br.Discard(padded); err != nil {
				return meta, nil
			}
		}
	}
}
