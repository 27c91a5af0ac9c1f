package bgzf

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/SebastianDall/epimetheus/common"
)

// Reader decompresses a container one block at a time. It keeps exactly one
// decompressed block in memory and supports seeking to any virtual offset;
// everything before the target block is skipped without decompression.
// A Reader is not safe for concurrent use; concurrent queries each open
// their own Reader over the same immutable file.
type Reader struct {
	f     *os.File
	path  string
	codec *Codec

	// block is the decompressed payload of the currently loaded member,
	// pos the cursor within it.
	block []byte
	pos   int
	// blockCoffset is the file offset of the loaded member, nextCoffset
	// where the following member starts.
	blockCoffset uint64
	nextCoffset  uint64
	// eos is set once the empty terminating member has been reached.
	eos bool

	member []byte
	line   []byte
}

// Open opens a container and validates its first block.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", common.ErrNotFound, path)
		}
		return nil, fmt.Errorf("%w: %v", common.ErrIO, err)
	}
	r := &Reader{
		f:     f,
		path:  path,
		codec: NewCodec(DefaultCompressionLevel),
	}
	if err := r.loadBlockAt(0); err != nil {
		_ = f.Close()
		return nil, err
	}
	return r, nil
}

// Seek positions the reader so the next read starts at vo. The intra-block
// offset may at most point one past the block's payload, anything beyond
// means the offset and the container disagree.
func (r *Reader) Seek(vo common.VirtualOffset) error {
	if vo.Coffset != r.blockCoffset || r.eos {
		if err := r.loadBlockAt(vo.Coffset); err != nil {
			return err
		}
	}
	if int(vo.Uoffset) > len(r.block) {
		return fmt.Errorf("%w: offset %s beyond block of %d bytes", common.ErrCorruptBlock, vo, len(r.block))
	}
	r.pos = int(vo.Uoffset)
	return nil
}

// Offset reports the reader's position as a virtual offset.
func (r *Reader) Offset() common.VirtualOffset {
	return common.VirtualOffset{Coffset: r.blockCoffset, Uoffset: uint16(r.pos)}
}

// ReadLine returns the next line without its trailing newline. The returned
// slice is only valid until the next call. io.EOF signals a clean end of
// stream.
func (r *Reader) ReadLine() ([]byte, error) {
	r.line = r.line[:0]
	for {
		if err := r.norm(); err != nil {
			return nil, err
		}
		if r.eos {
			if len(r.line) > 0 {
				return r.line, nil
			}
			return nil, io.EOF
		}
		if i := bytes.IndexByte(r.block[r.pos:], '\n'); i >= 0 {
			r.line = append(r.line, r.block[r.pos:r.pos+i]...)
			r.pos += i + 1
			return r.line, nil
		}
		r.line = append(r.line, r.block[r.pos:]...)
		r.pos = len(r.block)
	}
}

// ReadUntil returns an iterator over the lines between the current position
// and end, stopping strictly before end. Pass common.EndOfStream to read to
// the terminator. Iterating past the terminator yields no lines and no
// error.
func (r *Reader) ReadUntil(end common.VirtualOffset) *LineIterator {
	return &LineIterator{r: r, end: end}
}

func (r *Reader) Close() error {
	if err := r.f.Close(); err != nil {
		return fmt.Errorf("%w: %v", common.ErrIO, err)
	}
	return nil
}

// norm advances over exhausted blocks so the position always points at
// readable payload or at the terminator. Keeping the cursor normalized is
// what makes positions comparable to writer-produced offsets, which never
// address the end of a block either.
func (r *Reader) norm() error {
	for !r.eos && r.pos == len(r.block) {
		if err := r.loadBlockAt(r.nextCoffset); err != nil {
			return err
		}
	}
	return nil
}

// loadBlockAt reads and decompresses the member starting at file offset
// off, replacing the current block.
func (r *Reader) loadBlockAt(off uint64) error {
	if _, err := r.f.Seek(int64(off), io.SeekStart); err != nil {
		return fmt.Errorf("%w: %v", common.ErrIO, err)
	}

	if cap(r.member) < MaxBlockSize {
		r.member = make([]byte, MaxBlockSize)
	}
	hdr := r.member[:12]
	if err := r.readFull(hdr); err != nil {
		return err
	}
	// Validate the magic before trusting any length field.
	if hdr[0] != 0x1f || hdr[1] != 0x8b || hdr[2] != 0x08 {
		return fmt.Errorf("%w: bad gzip magic at offset %d", common.ErrCorruptBlock, off)
	}
	xlen := int(hdr[10]) | int(hdr[11])<<8
	if 12+xlen > MaxBlockSize {
		return fmt.Errorf("%w: extra field of %d bytes exceeds block capacity", common.ErrCorruptBlock, xlen)
	}
	if err := r.readFull(r.member[12 : 12+xlen]); err != nil {
		return err
	}
	total, err := memberSize(r.member[:12+xlen])
	if err != nil {
		return err
	}
	if total < 12+xlen+trailerLen {
		return fmt.Errorf("%w: declared member size %d shorter than its framing", common.ErrCorruptBlock, total)
	}
	if err := r.readFull(r.member[12+xlen : total]); err != nil {
		return err
	}

	block, err := r.codec.Decode(r.block[:0], r.member[:total])
	if err != nil {
		return err
	}
	r.block = block
	r.pos = 0
	r.blockCoffset = off
	r.nextCoffset = off + uint64(total)
	r.eos = len(block) == 0
	return nil
}

func (r *Reader) readFull(p []byte) error {
	if _, err := io.ReadFull(r.f, p); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return fmt.Errorf("%w: container ends mid-stream at offset %d", common.ErrTruncatedStream, r.nextCoffset)
		}
		return fmt.Errorf("%w: %v", common.ErrIO, err)
	}
	return nil
}

// LineIterator is a forward-only cursor over a bounded range of lines, in
// the style of bufio.Scanner: call Next until it returns false, then check
// Err.
type LineIterator struct {
	r    *Reader
	end  common.VirtualOffset
	line []byte
	err  error
	done bool
}

func (it *LineIterator) Next() bool {
	if it.done || it.err != nil {
		return false
	}
	if err := it.r.norm(); err != nil {
		it.err = err
		return false
	}
	if it.r.eos || !it.r.Offset().Less(it.end) {
		it.done = true
		return false
	}
	line, err := it.r.ReadLine()
	if err != nil {
		if err != io.EOF {
			it.err = err
		}
		it.done = true
		return false
	}
	it.line = line
	return true
}

// Line returns the current line; valid until the next call to Next.
func (it *LineIterator) Line() []byte {
	return it.line
}

func (it *LineIterator) Err() error {
	return it.err
}
