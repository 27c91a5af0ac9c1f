// Package epimetheus provides random-access storage of per-contig genomic
// pileup records. Compress turns an uncompressed tab-delimited pileup file
// into a BGZF container plus a sibling contig index; Query, Extract and
// ListContigs answer contig lookups by seeking straight to the indexed
// virtual-offset range instead of scanning the whole file.
package epimetheus

import (
	"fmt"

	"github.com/SebastianDall/epimetheus/index"
)

const (
	// ContainerSuffix is appended to the input path when no output path is
	// given.
	ContainerSuffix = ".gz"
	// IndexSuffix is appended to the container path to derive its index.
	IndexSuffix = ".tbi"
)

// IndexPathFor derives the index path paired with a container.
func IndexPathFor(containerPath string) string {
	return containerPath + IndexSuffix
}

// loadIndex reads the container's index and rejects it when stale.
func loadIndex(containerPath string) (*index.Index, error) {
	ix, err := index.Read(IndexPathFor(containerPath))
	if err != nil {
		return nil, err
	}
	if err := ix.ValidateAgainst(containerPath); err != nil {
		return nil, fmt.Errorf("%w, re-run compression", err)
	}
	return ix, nil
}
