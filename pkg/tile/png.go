// Package tile synthesizes transparent placeholder tiles for the WMS proxy.
//
// The encoder emits a minimal PNG by hand instead of going through
// image/png: the raster is always fully transparent, so the stream is just
// three chunks around a zlib run of zeros, and the output must stay
// byte-identical across calls so placeholder tiles are cacheable by size.
package tile

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"hash/crc32"
)

// pngSignature is the fixed 8-byte PNG file header.
var pngSignature = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

// Encode builds a transparent RGBA PNG of the given size. Degenerate
// dimensions are normalized to 1x1 so the encoder never sees a zero-byte
// raster. The stream is IHDR (8-bit RGBA, no interlace), a single IDAT of
// zlib-compressed scanlines (filter byte 0, then width transparent pixels),
// and an empty IEND.
func Encode(width, height int) []byte {
	if width <= 0 || height <= 0 {
		width, height = 1, 1
	}

	var buf bytes.Buffer
	buf.Write(pngSignature)

	ihdr := make([]byte, 13)
	binary.BigEndian.PutUint32(ihdr[0:4], uint32(width))
	binary.BigEndian.PutUint32(ihdr[4:8], uint32(height))
	ihdr[8] = 8 // bit depth
	ihdr[9] = 6 // color type: truecolor with alpha
	// compression method, filter method, interlace method stay zero
	writeChunk(&buf, "IHDR", ihdr)

	// One scanline: filter type 0 followed by width RGBA pixels of zeros.
	raw := make([]byte, height*(1+width*4))

	// Writes to a bytes.Buffer cannot fail.
	var idat bytes.Buffer
	zw, _ := zlib.NewWriterLevel(&idat, zlib.DefaultCompression)
	_, _ = zw.Write(raw)
	_ = zw.Close()
	writeChunk(&buf, "IDAT", idat.Bytes())

	writeChunk(&buf, "IEND", nil)

	return buf.Bytes()
}

// writeChunk appends one PNG chunk: big-endian length, 4-byte ASCII type,
// payload, and a CRC-32 over type+payload.
func writeChunk(buf *bytes.Buffer, chunkType string, payload []byte) {
	var length [4]byte
	binary.BigEndian.PutUint32(length[:], uint32(len(payload)))
	buf.Write(length[:])
	buf.WriteString(chunkType)
	buf.Write(payload)

	crc := crc32.NewIEEE()
	_, _ = crc.Write([]byte(chunkType))
	_, _ = crc.Write(payload)

	var sum [4]byte
	binary.BigEndian.PutUint32(sum[:], crc.Sum32())
	buf.Write(sum[:])
}
