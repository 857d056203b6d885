// Package geotiff reads single-band GeoTIFF rasters of the kind returned
// by DEM export services: strip- or tile-organized classic TIFF with
// integer or IEEE-float samples, georeferenced through the ModelPixelScale
// and ModelTiepoint tags.
//
// This is not a general TIFF codec. Multi-band imagery, palettes, BigTIFF
// and exotic compressors are rejected with an error.
package geotiff

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"golang.org/x/image/tiff/lzw"
)

const (
	tagImageWidth      = 256
	tagImageLength     = 257
	tagBitsPerSample   = 258
	tagCompression     = 259
	tagStripOffsets    = 273
	tagSamplesPerPixel = 277
	tagRowsPerStrip    = 278
	tagStripByteCounts = 279
	tagPredictor       = 317
	tagTileWidth       = 322
	tagTileLength      = 323
	tagTileOffsets     = 324
	tagTileByteCounts  = 325
	tagSampleFormat    = 339
	tagModelPixelScale = 33550
	tagModelTiepoint   = 33922
	tagGDALNoData      = 42113
)

const (
	compressionNone       = 1
	compressionLZW        = 5
	compressionDeflate    = 8
	compressionPackBits   = 32773
	compressionDeflateOld = 32946
)

const (
	sampleFormatUint  = 1
	sampleFormatInt   = 2
	sampleFormatFloat = 3
)

// ErrNotTIFF is returned when the input doesn't carry a TIFF header.
var ErrNotTIFF = errors.New("geotiff: not a TIFF file")

// Raster is a decoded single-band raster. Values are row-major with row 0
// at the top of the image (the northern edge for north-up rasters).
type Raster struct {
	Width  int
	Height int
	Values []float64

	// Georeferenced is set when the file carried ModelPixelScale and
	// ModelTiepoint tags; PixelScale and Tiepoint are only meaningful
	// then.
	Georeferenced bool
	PixelScale    [3]float64
	Tiepoint      [6]float64

	// NoData is the GDAL nodata marker, when present.
	NoData *float64
}

// Bounds returns the georeferenced extent as west, south, east, north.
func (r *Raster) Bounds() (west, south, east, north float64) {
	west = r.Tiepoint[3] - r.Tiepoint[0]*r.PixelScale[0]
	north = r.Tiepoint[4] + r.Tiepoint[1]*r.PixelScale[1]
	east = west + float64(r.Width)*r.PixelScale[0]
	south = north - float64(r.Height)*r.PixelScale[1]
	return west, south, east, north
}

// Decode reads a GeoTIFF from data.
func Decode(data []byte) (*Raster, error) {
	d, err := newDecoder(data)
	if err != nil {
		return nil, err
	}

	width, err := d.uintTag(tagImageWidth, 0)
	if err != nil {
		return nil, err
	}
	height, err := d.uintTag(tagImageLength, 0)
	if err != nil {
		return nil, err
	}
	if width == 0 || height == 0 {
		return nil, errors.New("geotiff: zero image dimension")
	}
	if width*height > 1<<28 {
		return nil, fmt.Errorf("geotiff: raster %dx%d too large", width, height)
	}

	samplesPerPixel, err := d.uintTag(tagSamplesPerPixel, 1)
	if err != nil {
		return nil, err
	}
	if samplesPerPixel != 1 {
		return nil, fmt.Errorf("geotiff: %d samples per pixel, only single-band rasters are supported", samplesPerPixel)
	}

	bits, err := d.uintTag(tagBitsPerSample, 0)
	if err != nil {
		return nil, err
	}
	switch bits {
	case 8, 16, 32, 64:
	default:
		return nil, fmt.Errorf("geotiff: unsupported bits per sample %d", bits)
	}

	format, err := d.uintTag(tagSampleFormat, sampleFormatUint)
	if err != nil {
		return nil, err
	}

	compression, err := d.uintTag(tagCompression, compressionNone)
	if err != nil {
		return nil, err
	}

	predictor, err := d.uintTag(tagPredictor, 1)
	if err != nil {
		return nil, err
	}
	switch predictor {
	case 1:
	case 2:
		if format == sampleFormatFloat {
			return nil, errors.New("geotiff: horizontal predictor is only supported for integer samples")
		}
	default:
		return nil, fmt.Errorf("geotiff: unsupported predictor %d", predictor)
	}

	bytesPerSample := int(bits) / 8

	var raw []byte
	if d.hasTag(tagTileWidth) {
		raw, err = d.assembleTiles(int(width), int(height), bytesPerSample, int(compression), predictor == 2)
	} else {
		raw, err = d.assembleStrips(int(width), int(height), bytesPerSample, int(compression), predictor == 2)
	}
	if err != nil {
		return nil, err
	}

	values, err := samplesToFloat(raw, int(width*height), bits, format, d.bo)
	if err != nil {
		return nil, err
	}

	raster := &Raster{
		Width:  int(width),
		Height: int(height),
		Values: values,
	}

	if scale, ok := d.doubleTag(tagModelPixelScale); ok && len(scale) >= 2 {
		if tie, ok := d.doubleTag(tagModelTiepoint); ok && len(tie) >= 6 {
			raster.Georeferenced = true
			copy(raster.PixelScale[:], scale)
			copy(raster.Tiepoint[:], tie)
		}
	}

	if s, ok := d.asciiTag(tagGDALNoData); ok {
		if v, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			raster.NoData = &v
		}
	}

	return raster, nil
}

type ifdEntry struct {
	typ   uint16
	count uint32
	raw   [4]byte
}

type decoder struct {
	data    []byte
	bo      binary.ByteOrder
	entries map[uint16]ifdEntry
}

func newDecoder(data []byte) (*decoder, error) {
	if len(data) < 8 {
		return nil, ErrNotTIFF
	}

	var bo binary.ByteOrder
	switch {
	case data[0] == 'I' && data[1] == 'I':
		bo = binary.LittleEndian
	case data[0] == 'M' && data[1] == 'M':
		bo = binary.BigEndian
	default:
		return nil, ErrNotTIFF
	}

	switch bo.Uint16(data[2:4]) {
	case 42:
	case 43:
		return nil, errors.New("geotiff: BigTIFF is not supported")
	default:
		return nil, ErrNotTIFF
	}

	ifdOffset := int64(bo.Uint32(data[4:8]))
	if ifdOffset < 8 || ifdOffset+2 > int64(len(data)) {
		return nil, errors.New("geotiff: IFD offset out of range")
	}

	n := int(bo.Uint16(data[ifdOffset : ifdOffset+2]))
	end := ifdOffset + 2 + int64(n)*12
	if end > int64(len(data)) {
		return nil, errors.New("geotiff: truncated IFD")
	}

	d := &decoder{data: data, bo: bo, entries: make(map[uint16]ifdEntry, n)}
	for i := 0; i < n; i++ {
		off := ifdOffset + 2 + int64(i)*12
		e := ifdEntry{
			typ:   bo.Uint16(data[off+2 : off+4]),
			count: bo.Uint32(data[off+4 : off+8]),
		}
		copy(e.raw[:], data[off+8:off+12])
		d.entries[bo.Uint16(data[off:off+2])] = e
	}
	return d, nil
}

func typeSize(typ uint16) int {
	switch typ {
	case 1, 2, 6, 7: // BYTE, ASCII, SBYTE, UNDEFINED
		return 1
	case 3, 8: // SHORT, SSHORT
		return 2
	case 4, 9, 11: // LONG, SLONG, FLOAT
		return 4
	case 5, 10, 12: // RATIONAL, SRATIONAL, DOUBLE
		return 8
	default:
		return 0
	}
}

func (d *decoder) hasTag(tag uint16) bool {
	_, ok := d.entries[tag]
	return ok
}

// valueBytes returns the raw value bytes of an entry, following the
// offset indirection for values wider than four bytes.
func (d *decoder) valueBytes(e ifdEntry) ([]byte, error) {
	size := typeSize(e.typ)
	if size == 0 {
		return nil, fmt.Errorf("geotiff: unknown field type %d", e.typ)
	}
	total := int64(size) * int64(e.count)
	if total <= 4 {
		return e.raw[:total], nil
	}
	off := int64(d.bo.Uint32(e.raw[:]))
	if off < 0 || off+total > int64(len(d.data)) {
		return nil, errors.New("geotiff: tag value out of range")
	}
	return d.data[off : off+total], nil
}

func (d *decoder) uintList(tag uint16) ([]uint, error) {
	e, ok := d.entries[tag]
	if !ok {
		return nil, fmt.Errorf("geotiff: missing required tag %d", tag)
	}
	raw, err := d.valueBytes(e)
	if err != nil {
		return nil, err
	}

	out := make([]uint, e.count)
	switch e.typ {
	case 1: // BYTE
		for i := range out {
			out[i] = uint(raw[i])
		}
	case 3: // SHORT
		for i := range out {
			out[i] = uint(d.bo.Uint16(raw[2*i:]))
		}
	case 4: // LONG
		for i := range out {
			out[i] = uint(d.bo.Uint32(raw[4*i:]))
		}
	default:
		return nil, fmt.Errorf("geotiff: tag %d has non-integer type %d", tag, e.typ)
	}
	return out, nil
}

// uintTag reads a single-valued integer tag, or def if the tag is absent.
// BitsPerSample may legally repeat its value for extra samples, so only
// the first value is used.
func (d *decoder) uintTag(tag uint16, def uint) (uint, error) {
	if !d.hasTag(tag) {
		if def == 0 {
			return 0, fmt.Errorf("geotiff: missing required tag %d", tag)
		}
		return def, nil
	}
	vals, err := d.uintList(tag)
	if err != nil {
		return 0, err
	}
	if len(vals) == 0 {
		return def, nil
	}
	return vals[0], nil
}

func (d *decoder) doubleTag(tag uint16) ([]float64, bool) {
	e, ok := d.entries[tag]
	if !ok || e.typ != 12 {
		return nil, false
	}
	raw, err := d.valueBytes(e)
	if err != nil {
		return nil, false
	}
	out := make([]float64, e.count)
	for i := range out {
		out[i] = math.Float64frombits(d.bo.Uint64(raw[8*i:]))
	}
	return out, true
}

func (d *decoder) asciiTag(tag uint16) (string, bool) {
	e, ok := d.entries[tag]
	if !ok || e.typ != 2 {
		return "", false
	}
	raw, err := d.valueBytes(e)
	if err != nil {
		return "", false
	}
	return strings.TrimRight(string(raw), "\x00"), true
}

func (d *decoder) segment(offset, count uint) ([]byte, error) {
	end := int64(offset) + int64(count)
	if end > int64(len(d.data)) {
		return nil, errors.New("geotiff: image segment out of range")
	}
	return d.data[offset:end], nil
}

func (d *decoder) assembleStrips(width, height, bytesPerSample, compression int, predict bool) ([]byte, error) {
	rowsPerStrip := height
	if d.hasTag(tagRowsPerStrip) {
		v, err := d.uintTag(tagRowsPerStrip, uint(height))
		if err != nil {
			return nil, err
		}
		if v > 0 {
			rowsPerStrip = int(v)
		}
	}

	offsets, err := d.uintList(tagStripOffsets)
	if err != nil {
		return nil, err
	}
	counts, err := d.uintList(tagStripByteCounts)
	if err != nil {
		return nil, err
	}

	numStrips := (height + rowsPerStrip - 1) / rowsPerStrip
	if len(offsets) < numStrips || len(counts) < numStrips {
		return nil, fmt.Errorf("geotiff: expected %d strips, found %d offsets and %d counts", numStrips, len(offsets), len(counts))
	}

	rowBytes := width * bytesPerSample
	raw := make([]byte, height*rowBytes)

	for s := 0; s < numStrips; s++ {
		rows := rowsPerStrip
		if (s+1)*rowsPerStrip > height {
			rows = height - s*rowsPerStrip
		}

		seg, err := d.segment(offsets[s], counts[s])
		if err != nil {
			return nil, err
		}
		dec, err := decompress(seg, compression, rows*rowBytes)
		if err != nil {
			return nil, fmt.Errorf("strip %d: %w", s, err)
		}
		if predict {
			undoHorizontalPredictor(dec, width, rows, bytesPerSample, d.bo)
		}
		copy(raw[s*rowsPerStrip*rowBytes:], dec)
	}
	return raw, nil
}

func (d *decoder) assembleTiles(width, height, bytesPerSample, compression int, predict bool) ([]byte, error) {
	tw, err := d.uintTag(tagTileWidth, 0)
	if err != nil {
		return nil, err
	}
	th, err := d.uintTag(tagTileLength, 0)
	if err != nil {
		return nil, err
	}
	if tw == 0 || th == 0 {
		return nil, errors.New("geotiff: zero tile dimension")
	}

	offsets, err := d.uintList(tagTileOffsets)
	if err != nil {
		return nil, err
	}
	counts, err := d.uintList(tagTileByteCounts)
	if err != nil {
		return nil, err
	}

	across := (width + int(tw) - 1) / int(tw)
	down := (height + int(th) - 1) / int(th)
	if len(offsets) < across*down || len(counts) < across*down {
		return nil, fmt.Errorf("geotiff: expected %d tiles, found %d offsets and %d counts", across*down, len(offsets), len(counts))
	}

	rowBytes := width * bytesPerSample
	tileRowBytes := int(tw) * bytesPerSample
	raw := make([]byte, height*rowBytes)

	for ty := 0; ty < down; ty++ {
		for tx := 0; tx < across; tx++ {
			i := ty*across + tx
			seg, err := d.segment(offsets[i], counts[i])
			if err != nil {
				return nil, err
			}
			dec, err := decompress(seg, compression, int(th)*tileRowBytes)
			if err != nil {
				return nil, fmt.Errorf("tile %d: %w", i, err)
			}
			if predict {
				undoHorizontalPredictor(dec, int(tw), int(th), bytesPerSample, d.bo)
			}

			// Copy the part of the tile inside the image; edge tiles
			// overhang the raster and get clipped.
			cols := int(tw)
			if (tx+1)*int(tw) > width {
				cols = width - tx*int(tw)
			}
			rows := int(th)
			if (ty+1)*int(th) > height {
				rows = height - ty*int(th)
			}
			for r := 0; r < rows; r++ {
				dst := (ty*int(th)+r)*rowBytes + tx*tileRowBytes
				src := r * tileRowBytes
				copy(raw[dst:dst+cols*bytesPerSample], dec[src:src+cols*bytesPerSample])
			}
		}
	}
	return raw, nil
}

func decompress(seg []byte, compression, expected int) ([]byte, error) {
	switch compression {
	case compressionNone:
		if len(seg) < expected {
			return nil, fmt.Errorf("short segment: %d bytes, want %d", len(seg), expected)
		}
		out := make([]byte, expected)
		copy(out, seg)
		return out, nil

	case compressionLZW:
		r := lzw.NewReader(bytes.NewReader(seg), lzw.MSB, 8)
		defer r.Close()
		return readExactly(r, expected)

	case compressionDeflate, compressionDeflateOld:
		zr, err := zlib.NewReader(bytes.NewReader(seg))
		if err != nil {
			return nil, fmt.Errorf("deflate: %w", err)
		}
		defer zr.Close()
		return readExactly(zr, expected)

	case compressionPackBits:
		return unpackBits(seg, expected)

	default:
		return nil, fmt.Errorf("unsupported compression %d", compression)
	}
}

func readExactly(r io.Reader, n int) ([]byte, error) {
	out := make([]byte, n)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, fmt.Errorf("short decompressed segment: %w", err)
	}
	return out, nil
}

// unpackBits expands PackBits run-length encoding (TIFF 6.0, section 9).
func unpackBits(seg []byte, expected int) ([]byte, error) {
	out := make([]byte, 0, expected)
	i := 0
	for i < len(seg) && len(out) < expected {
		n := int(int8(seg[i]))
		i++
		switch {
		case n >= 0:
			if i+n+1 > len(seg) {
				return nil, errors.New("packbits: literal run past end of segment")
			}
			out = append(out, seg[i:i+n+1]...)
			i += n + 1
		case n == -128:
			// no-op
		default:
			if i >= len(seg) {
				return nil, errors.New("packbits: repeat run past end of segment")
			}
			for j := 0; j < 1-n; j++ {
				out = append(out, seg[i])
			}
			i++
		}
	}
	if len(out) < expected {
		return nil, fmt.Errorf("packbits: short segment: %d bytes, want %d", len(out), expected)
	}
	return out[:expected], nil
}

// undoHorizontalPredictor reverses per-row horizontal differencing in
// place at the sample width.
func undoHorizontalPredictor(data []byte, width, rows, bytesPerSample int, bo binary.ByteOrder) {
	rowBytes := width * bytesPerSample
	for r := 0; r < rows; r++ {
		row := data[r*rowBytes : (r+1)*rowBytes]
		switch bytesPerSample {
		case 1:
			for i := 1; i < len(row); i++ {
				row[i] += row[i-1]
			}
		case 2:
			for i := 2; i+1 < len(row); i += 2 {
				bo.PutUint16(row[i:], bo.Uint16(row[i:])+bo.Uint16(row[i-2:]))
			}
		case 4:
			for i := 4; i+3 < len(row); i += 4 {
				bo.PutUint32(row[i:], bo.Uint32(row[i:])+bo.Uint32(row[i-4:]))
			}
		}
	}
}

func samplesToFloat(raw []byte, n int, bits, format uint, bo binary.ByteOrder) ([]float64, error) {
	out := make([]float64, n)
	switch {
	case format == sampleFormatUint && bits == 8:
		for i := 0; i < n; i++ {
			out[i] = float64(raw[i])
		}
	case format == sampleFormatUint && bits == 16:
		for i := 0; i < n; i++ {
			out[i] = float64(bo.Uint16(raw[2*i:]))
		}
	case format == sampleFormatUint && bits == 32:
		for i := 0; i < n; i++ {
			out[i] = float64(bo.Uint32(raw[4*i:]))
		}
	case format == sampleFormatInt && bits == 8:
		for i := 0; i < n; i++ {
			out[i] = float64(int8(raw[i]))
		}
	case format == sampleFormatInt && bits == 16:
		for i := 0; i < n; i++ {
			out[i] = float64(int16(bo.Uint16(raw[2*i:])))
		}
	case format == sampleFormatInt && bits == 32:
		for i := 0; i < n; i++ {
			out[i] = float64(int32(bo.Uint32(raw[4*i:])))
		}
	case format == sampleFormatFloat && bits == 32:
		for i := 0; i < n; i++ {
			out[i] = float64(math.Float32frombits(bo.Uint32(raw[4*i:])))
		}
	case format == sampleFormatFloat && bits == 64:
		for i := 0; i < n; i++ {
			out[i] = math.Float64frombits(bo.Uint64(raw[8*i:]))
		}
	default:
		return nil, fmt.Errorf("geotiff: unsupported sample format %d with %d bits", format, bits)
	}
	return out, nil
}
