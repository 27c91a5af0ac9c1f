// Package index maps contig names to the virtual-offset ranges covering
// their records inside one specific container. The index is built in a
// single pass while the container is written, persisted as a sibling
// binary file, and read-only afterwards; recompressing the container
// rebuilds it wholesale.
package index

import (
	"fmt"

	"github.com/SebastianDall/epimetheus/common"
)

// Entry is one contig's covering virtual-offset range: Start addresses the
// first byte of its first record, End the first byte past its last record
// (the next contig's Start, or the writer's final offset).
type Entry struct {
	Name  string
	Start common.VirtualOffset
	End   common.VirtualOffset
}

// Index is the ordered set of contig entries plus the identity of the
// container it was built for. Entries keep the order contigs first appear
// in the input.
type Index struct {
	// ContainerSize and ContainerMtime stamp the container file this index
	// belongs to; a container whose size or mtime differs is stale.
	ContainerSize  int64
	ContainerMtime int64

	entries []Entry
	byName  map[string]int
}

func newIndex(entries []Entry) *Index {
	ix := &Index{entries: entries, byName: make(map[string]int, len(entries))}
	for i, e := range entries {
		ix.byName[e.Name] = i
	}
	return ix
}

// Lookup returns the entry for a contig, if the contig was ever observed.
func (ix *Index) Lookup(name string) (Entry, bool) {
	i, ok := ix.byName[name]
	if !ok {
		return Entry{}, false
	}
	return ix.entries[i], true
}

// Contigs lists the indexed contig names in first-appearance order.
func (ix *Index) Contigs() []string {
	names := make([]string, len(ix.entries))
	for i, e := range ix.entries {
		names[i] = e.Name
	}
	return names
}

func (ix *Index) NumContigs() int {
	return len(ix.entries)
}

// Builder accumulates contig ranges during the single writing pass. The
// input must be grouped by contig; a contig reappearing after another one
// has been observed would leave a gap in the index that silently drops
// records at query time, so it is rejected instead.
type Builder struct {
	entries   []Entry
	seen      map[string]struct{}
	current   string
	open      bool
	finalized bool
}

func NewBuilder() *Builder {
	return &Builder{seen: make(map[string]struct{})}
}

// Observe records that a record of contig begins at start. Repeated calls
// for the contig currently being written are no-ops; only the first call
// per contig opens its range, closing the previous contig's range at the
// same offset.
func (b *Builder) Observe(contig string, start common.VirtualOffset) error {
	if b.finalized {
		return fmt.Errorf("%w: index already finalized", common.ErrIO)
	}
	if b.open && contig == b.current {
		return nil
	}
	if _, ok := b.seen[contig]; ok {
		return fmt.Errorf("%w: contig %q reappears after %q", common.ErrUnsortedInput, contig, b.current)
	}
	if b.open {
		b.entries[len(b.entries)-1].End = start
	}
	b.seen[contig] = struct{}{}
	b.current = contig
	b.open = true
	b.entries = append(b.entries, Entry{Name: contig, Start: start})
	return nil
}

// Finalize closes the last open range at end, the writer's end-of-stream
// offset, and assembles the index. The container stamp is filled in by the
// persistence layer once the container file is on disk.
func (b *Builder) Finalize(end common.VirtualOffset) (*Index, error) {
	if b.finalized {
		return nil, fmt.Errorf("%w: index already finalized", common.ErrIO)
	}
	b.finalized = true
	if b.open {
		b.entries[len(b.entries)-1].End = end
	}
	return newIndex(b.entries), nil
}
