// Package bgzf implements the BGZF block-compressed container: a series of
// back-to-back gzip members, each carrying at most 64 KiB of data and
// independently decompressible, terminated by an empty member. Because every
// member records its own compressed size in a `BC` extra subfield, a reader
// can seek straight to a block boundary and decompress only that block,
// which is what makes virtual-offset random access possible. The format is
// the one produced by bgzip, so containers written here are plain
// multi-member gzip files to any other tool.
package bgzf

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/klauspost/compress/flate"

	"github.com/SebastianDall/epimetheus/common"
)

const (
	// MaxBlockSize bounds a whole compressed member, header and trailer
	// included.
	MaxBlockSize = 0x10000
	// MaxPayloadSize bounds the uncompressed payload of one member. The
	// 256-byte headroom below MaxBlockSize absorbs deflate expansion of
	// incompressible payloads plus the member framing.
	MaxPayloadSize = 0xff00

	headerLen  = 18
	trailerLen = 8

	// DefaultCompressionLevel matches flate's own default.
	DefaultCompressionLevel = flate.DefaultCompression
)

// eofBlock is the canonical empty terminating member.
var eofBlock = []byte{
	0x1f, 0x8b, 0x08, 0x04, 0x00, 0x00, 0x00, 0x00, 0x00, 0xff,
	0x06, 0x00, 0x42, 0x43, 0x02, 0x00, 0x1b, 0x00, 0x03, 0x00,
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
}

// Member layout:
//
//	+----- 18 bytes -----+--- variable ---+------- 8 bytes -------+
//	| gzip header + BC   |     CDATA      |  CRC32   |   ISIZE    |
//	| subfield w/ BSIZE  |   (deflate)    | (payload)| (payload)  |
//	+--------------------+----------------+----------+------------+
//
// BSIZE stores the total member length minus one, so the next block always
// starts at coffset + BSIZE + 1.

// Codec compresses and decompresses single blocks. It holds reusable
// flate state and scratch buffers; a Codec is not safe for concurrent use.
type Codec struct {
	level int

	zw  *flate.Writer
	zr  io.ReadCloser
	buf bytes.Buffer
	src bytes.Reader
}

func NewCodec(level int) *Codec {
	return &Codec{level: level}
}

// Encode appends one complete compressed member holding payload to dst and
// returns the extended slice. The payload must not exceed MaxPayloadSize.
func (c *Codec) Encode(dst, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayloadSize {
		return dst, fmt.Errorf("%w: payload of %d bytes exceeds block capacity", common.ErrCorruptBlock, len(payload))
	}

	c.buf.Reset()
	if c.zw == nil {
		zw, err := flate.NewWriter(&c.buf, c.level)
		if err != nil {
			return dst, fmt.Errorf("%w: %v", common.ErrIO, err)
		}
		c.zw = zw
	} else {
		c.zw.Reset(&c.buf)
	}
	if _, err := c.zw.Write(payload); err != nil {
		return dst, fmt.Errorf("%w: %v", common.ErrIO, err)
	}
	if err := c.zw.Close(); err != nil {
		return dst, fmt.Errorf("%w: %v", common.ErrIO, err)
	}

	total := headerLen + c.buf.Len() + trailerLen
	if total > MaxBlockSize {
		return dst, fmt.Errorf("%w: compressed member of %d bytes exceeds block capacity", common.ErrCorruptBlock, total)
	}

	dst = appendHeader(dst, total)
	dst = append(dst, c.buf.Bytes()...)

	var trailer [trailerLen]byte
	binary.LittleEndian.PutUint32(trailer[0:4], crc32.ChecksumIEEE(payload))
	binary.LittleEndian.PutUint32(trailer[4:8], uint32(len(payload)))
	return append(dst, trailer[:]...), nil
}

// Decode validates the member and appends its decompressed payload to dst.
// The member must be exactly one block as returned by memberSize.
func (c *Codec) Decode(dst, member []byte) ([]byte, error) {
	xlen := int(binary.LittleEndian.Uint16(member[10:12]))
	cdataStart := 12 + xlen
	cdataEnd := len(member) - trailerLen
	if cdataStart > cdataEnd {
		return dst, fmt.Errorf("%w: member shorter than its framing", common.ErrCorruptBlock)
	}

	wantCRC := binary.LittleEndian.Uint32(member[cdataEnd : cdataEnd+4])
	wantLen := binary.LittleEndian.Uint32(member[cdataEnd+4:])
	if wantLen > MaxPayloadSize {
		return dst, fmt.Errorf("%w: declared payload of %d bytes exceeds block capacity", common.ErrCorruptBlock, wantLen)
	}

	c.src.Reset(member[cdataStart:cdataEnd])
	if c.zr == nil {
		c.zr = flate.NewReader(&c.src)
	} else if err := c.zr.(flate.Resetter).Reset(&c.src, nil); err != nil {
		return dst, fmt.Errorf("%w: %v", common.ErrCorruptBlock, err)
	}

	base := len(dst)
	dst = append(dst, make([]byte, wantLen)...)
	if _, err := io.ReadFull(c.zr, dst[base:]); err != nil {
		return dst[:base], fmt.Errorf("%w: %v", common.ErrCorruptBlock, err)
	}
	// The deflate stream must be exhausted exactly at ISIZE.
	var one [1]byte
	if n, err := io.ReadFull(c.zr, one[:]); n != 0 || err != io.EOF {
		return dst[:base], fmt.Errorf("%w: payload longer than declared size", common.ErrCorruptBlock)
	}
	if got := crc32.ChecksumIEEE(dst[base:]); got != wantCRC {
		return dst[:base], fmt.Errorf("%w: crc mismatch, got %#x want %#x", common.ErrCorruptBlock, got, wantCRC)
	}
	return dst, nil
}

func appendHeader(dst []byte, total int) []byte {
	var hdr [headerLen]byte
	hdr[0], hdr[1] = 0x1f, 0x8b // gzip magic
	hdr[2] = 0x08               // deflate
	hdr[3] = 0x04               // FEXTRA
	hdr[9] = 0xff               // OS unknown
	binary.LittleEndian.PutUint16(hdr[10:12], 6) // XLEN
	hdr[12], hdr[13] = 'B', 'C'
	binary.LittleEndian.PutUint16(hdr[14:16], 2) // subfield length
	binary.LittleEndian.PutUint16(hdr[16:18], uint16(total-1))
	return append(dst, hdr[:]...)
}

// memberSize extracts the total compressed size of the member whose first
// 12+XLEN header bytes are in hdr, by locating the BC subfield. Other
// subfields are skipped; a member without BC is not seekable and therefore
// rejected.
func memberSize(hdr []byte) (int, error) {
	if len(hdr) < 12 || hdr[0] != 0x1f || hdr[1] != 0x8b || hdr[2] != 0x08 {
		return 0, fmt.Errorf("%w: bad gzip magic", common.ErrCorruptBlock)
	}
	if hdr[3]&0x04 == 0 {
		return 0, fmt.Errorf("%w: member has no extra field", common.ErrCorruptBlock)
	}
	extra := hdr[12:]
	for len(extra) >= 4 {
		tag := string(extra[:2])
		slen := int(binary.LittleEndian.Uint16(extra[2:4]))
		if tag == "BC" {
			if slen != 2 || len(extra) < 6 {
				return 0, fmt.Errorf("%w: malformed BC subfield", common.ErrCorruptBlock)
			}
			return int(binary.LittleEndian.Uint16(extra[4:6])) + 1, nil
		}
		if 4+slen > len(extra) {
			break
		}
		extra = extra[4+slen:]
	}
	return 0, fmt.Errorf("%w: member has no BC subfield", common.ErrCorruptBlock)
}
