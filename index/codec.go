package index

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/cespare/xxhash/v2"

	"github.com/SebastianDall/epimetheus/common"
)

// On-disk layout, all integers little-endian, offsets uvarint:
//
//	+---------+---------+----------------+-----------------+---------------+
//	| "EPTI"  | version | container size | container mtime | contig count  |
//	| 4 bytes | uint32  |     uint64     |  uint64 (nanos) |    uvarint    |
//	+---------+---------+----------------+-----------------+---------------+
//	per contig:
//	+----------+------------+---------------+---------------+
//	| name len | name bytes |  start offset |   end offset  |
//	| uvarint  |   varlen   | 2x uvarint    | 2x uvarint    |
//	+----------+------------+---------------+---------------+
//	trailer:
//	+-------------------------------+
//	| xxhash64 of everything above  |
//	+-------------------------------+

const (
	magic         = "EPTI"
	FormatVersion = 1

	fixedHeaderLen = 4 + 4 + 8 + 8
	hashLen        = 8
)

// Write persists the index to path, stamping it with the container's
// current size and mtime. The container must be fully written and closed
// first, otherwise the stamp would immediately go stale.
func Write(path, containerPath string, ix *Index) error {
	fi, err := os.Stat(containerPath)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", common.ErrNotFound, containerPath)
		}
		return fmt.Errorf("%w: %v", common.ErrIO, err)
	}
	ix.ContainerSize = fi.Size()
	ix.ContainerMtime = fi.ModTime().UnixNano()

	buf := make([]byte, fixedHeaderLen, fixedHeaderLen+len(ix.entries)*32)
	copy(buf, magic)
	binary.LittleEndian.PutUint32(buf[4:8], FormatVersion)
	binary.LittleEndian.PutUint64(buf[8:16], uint64(ix.ContainerSize))
	binary.LittleEndian.PutUint64(buf[16:24], uint64(ix.ContainerMtime))

	buf = binary.AppendUvarint(buf, uint64(len(ix.entries)))
	for _, e := range ix.entries {
		buf = binary.AppendUvarint(buf, uint64(len(e.Name)))
		buf = append(buf, e.Name...)
		buf = appendOffset(buf, e.Start)
		buf = appendOffset(buf, e.End)
	}
	buf = binary.LittleEndian.AppendUint64(buf, xxhash.Sum64(buf))

	if err := os.WriteFile(path, buf, 0o644); err != nil {
		return fmt.Errorf("%w: %v", common.ErrIO, err)
	}
	return nil
}

// Read loads and validates an index file. Staleness against the container
// is a separate concern, see ValidateAgainst.
func Read(path string) (*Index, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", common.ErrNotFound, path)
		}
		return nil, fmt.Errorf("%w: %v", common.ErrIO, err)
	}
	if len(buf) < fixedHeaderLen+hashLen {
		return nil, fmt.Errorf("%w: %d bytes is shorter than the fixed header", common.ErrCorruptIndex, len(buf))
	}

	payload, trailer := buf[:len(buf)-hashLen], buf[len(buf)-hashLen:]
	if got, want := xxhash.Sum64(payload), binary.LittleEndian.Uint64(trailer); got != want {
		return nil, fmt.Errorf("%w: checksum mismatch, got %#x want %#x", common.ErrCorruptIndex, got, want)
	}
	if string(payload[:4]) != magic {
		return nil, fmt.Errorf("%w: bad magic %q", common.ErrCorruptIndex, payload[:4])
	}
	if v := binary.LittleEndian.Uint32(payload[4:8]); v != FormatVersion {
		return nil, fmt.Errorf("%w: unsupported format version %d", common.ErrCorruptIndex, v)
	}
	size := int64(binary.LittleEndian.Uint64(payload[8:16]))
	mtime := int64(binary.LittleEndian.Uint64(payload[16:24]))

	rest := payload[fixedHeaderLen:]
	count, n := binary.Uvarint(rest)
	if n <= 0 {
		return nil, fmt.Errorf("%w: unreadable contig count", common.ErrCorruptIndex)
	}
	rest = rest[n:]

	entries := make([]Entry, 0, count)
	for i := uint64(0); i < count; i++ {
		nameLen, n := binary.Uvarint(rest)
		if n <= 0 || uint64(len(rest[n:])) < nameLen {
			return nil, fmt.Errorf("%w: unreadable name for entry %d", common.ErrCorruptIndex, i)
		}
		rest = rest[n:]
		name := string(rest[:nameLen])
		rest = rest[nameLen:]

		var e Entry
		e.Name = name
		if e.Start, rest, err = readOffset(rest); err != nil {
			return nil, fmt.Errorf("%w for entry %q", err, name)
		}
		if e.End, rest, err = readOffset(rest); err != nil {
			return nil, fmt.Errorf("%w for entry %q", err, name)
		}
		entries = append(entries, e)
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes after %d entries", common.ErrCorruptIndex, len(rest), count)
	}

	ix := newIndex(entries)
	ix.ContainerSize = size
	ix.ContainerMtime = mtime
	return ix, nil
}

// ValidateAgainst reports ErrStaleIndex when the container on disk no
// longer matches the stamp recorded at index build time.
func (ix *Index) ValidateAgainst(containerPath string) error {
	fi, err := os.Stat(containerPath)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", common.ErrNotFound, containerPath)
		}
		return fmt.Errorf("%w: %v", common.ErrIO, err)
	}
	if fi.Size() != ix.ContainerSize || fi.ModTime().UnixNano() != ix.ContainerMtime {
		return fmt.Errorf("%w: container %s changed since indexing", common.ErrStaleIndex, containerPath)
	}
	return nil
}

func appendOffset(buf []byte, vo common.VirtualOffset) []byte {
	buf = binary.AppendUvarint(buf, vo.Coffset)
	return binary.AppendUvarint(buf, uint64(vo.Uoffset))
}

func readOffset(buf []byte) (common.VirtualOffset, []byte, error) {
	coffset, n := binary.Uvarint(buf)
	if n <= 0 {
		return common.VirtualOffset{}, buf, fmt.Errorf("%w: unreadable offset", common.ErrCorruptIndex)
	}
	buf = buf[n:]
	uoffset, n := binary.Uvarint(buf)
	if n <= 0 || uoffset > 1<<16-1 {
		return common.VirtualOffset{}, buf, fmt.Errorf("%w: unreadable offset", common.ErrCorruptIndex)
	}
	return common.VirtualOffset{Coffset: coffset, Uoffset: uint16(uoffset)}, buf[n:], nil
}
