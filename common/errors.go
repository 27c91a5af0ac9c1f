package common

import "errors"

// Errors \\

var (
	// ErrAlreadyExists is returned when the output path is taken and the
	// caller did not ask for an overwrite.
	ErrAlreadyExists = errors.New("output file already exists")
	// ErrNotFound is returned when an input, container or index file is missing.
	ErrNotFound = errors.New("file not found")
	// ErrCorruptBlock is returned when a block's stored lengths or checksum
	// disagree with its actual content.
	ErrCorruptBlock = errors.New("corrupt block")
	// ErrTruncatedStream is returned when the container ends without the
	// empty terminating block.
	ErrTruncatedStream = errors.New("truncated stream, missing terminator block")
	// ErrUnsortedInput is returned when a contig reappears after a different
	// contig has been observed. The input must be grouped by contig.
	ErrUnsortedInput = errors.New("input is not grouped by contig")
	// ErrStaleIndex is returned when the index no longer matches the
	// container it was built for. The caller should re-compress.
	ErrStaleIndex = errors.New("index is stale")
	// ErrCorruptIndex is returned when the index file itself fails its
	// magic, version or checksum validation.
	ErrCorruptIndex = errors.New("corrupt index")
	// ErrIndexConsistency is returned when a record decoded from an indexed
	// range belongs to a different contig than the index claims.
	ErrIndexConsistency = errors.New("index is inconsistent with container")
	// ErrInvalidRecord is returned when a pileup line cannot be parsed.
	ErrInvalidRecord = errors.New("invalid pileup record")
	// ErrIO wraps an underlying read/write/seek failure.
	ErrIO = errors.New("i/o failure")
)
