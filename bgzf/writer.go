package bgzf

import (
	"fmt"
	"os"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/SebastianDall/epimetheus/common"
)

// Writer appends pileup lines to a block-compressed container. Lines are
// collected in a bounded uncompressed buffer; whenever the buffer fills it
// is compressed into one member and flushed, so every flush advances the
// compressed offset by exactly one block. All offset bookkeeping lives in
// the Writer itself, independent writers never interfere.
type Writer struct {
	f     *os.File
	path  string
	codec *Codec

	// buf holds the payload of the block currently being assembled. Its
	// capacity never exceeds MaxPayloadSize, so uoffsets stay representable.
	buf []byte
	// dst is the scratch buffer a member is encoded into before the write.
	dst []byte
	// coffset is the file offset at which the open block will start once
	// flushed, i.e. the sum of all previously flushed member sizes.
	coffset uint64

	closed bool
}

// Create opens path for writing a new container. Without overwrite an
// existing file is refused with ErrAlreadyExists.
func Create(path string, overwrite bool, level int) (*Writer, error) {
	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if !overwrite {
		flags = os.O_WRONLY | os.O_CREATE | os.O_EXCL
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil, fmt.Errorf("%w: %s", common.ErrAlreadyExists, path)
		}
		return nil, fmt.Errorf("%w: %v", common.ErrIO, err)
	}
	return &Writer{
		f:     f,
		path:  path,
		codec: NewCodec(level),
		buf:   make([]byte, 0, MaxPayloadSize),
	}, nil
}

// WriteRecord appends one line (without its trailing newline) to the
// container and returns the virtual offset of its first byte. Records
// longer than a block simply span members.
func (w *Writer) WriteRecord(line []byte) (common.VirtualOffset, error) {
	if w.closed {
		return common.VirtualOffset{}, fmt.Errorf("%w: writer is closed", common.ErrIO)
	}
	if len(w.buf) == MaxPayloadSize {
		if err := w.flush(); err != nil {
			return common.VirtualOffset{}, err
		}
	}

	vo := common.VirtualOffset{Coffset: w.coffset, Uoffset: uint16(len(w.buf))}

	rest := line
	for {
		free := MaxPayloadSize - len(w.buf)
		if free >= len(rest) {
			w.buf = append(w.buf, rest...)
			break
		}
		w.buf = append(w.buf, rest[:free]...)
		rest = rest[free:]
		if err := w.flush(); err != nil {
			return common.VirtualOffset{}, err
		}
	}

	if len(w.buf) == MaxPayloadSize {
		if err := w.flush(); err != nil {
			return common.VirtualOffset{}, err
		}
	}
	w.buf = append(w.buf, '\n')
	return vo, nil
}

// Offset reports the virtual offset one past the last written byte.
func (w *Writer) Offset() common.VirtualOffset {
	return common.VirtualOffset{Coffset: w.coffset, Uoffset: uint16(len(w.buf))}
}

func (w *Writer) flush() error {
	if len(w.buf) == 0 {
		return nil
	}
	member, err := w.codec.Encode(w.dst[:0], w.buf)
	if err != nil {
		return err
	}
	w.dst = member
	if _, err := w.f.Write(member); err != nil {
		return fmt.Errorf("%w: %v", common.ErrIO, err)
	}
	w.coffset += uint64(len(member))
	w.buf = w.buf[:0]
	return nil
}

// Close flushes the tail block, appends the terminating empty member and
// syncs the file. On any failure the container is unusable and must be
// discarded by the caller.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	err := w.flush()
	if err == nil {
		if _, werr := w.f.Write(eofBlock); werr != nil {
			err = fmt.Errorf("%w: %v", common.ErrIO, werr)
		}
	}
	if err == nil {
		if serr := w.f.Sync(); serr != nil {
			err = fmt.Errorf("%w: %v", common.ErrIO, serr)
		}
	}
	if cerr := w.f.Close(); cerr != nil {
		err = multierr.Append(err, fmt.Errorf("%w: %v", common.ErrIO, cerr))
	}
	return err
}

// Abort gives up on the container, closing and removing the partial file.
func (w *Writer) Abort() {
	if w.closed {
		return
	}
	w.closed = true
	if err := w.f.Close(); err != nil {
		zap.L().Error("failed to close aborted container", zap.String("path", w.path), zap.Error(err))
	}
	if err := os.Remove(w.path); err != nil {
		zap.L().Error("failed to remove aborted container", zap.String("path", w.path), zap.Error(err))
	}
}
