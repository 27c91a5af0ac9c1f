package epimetheus

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"

	"golang.org/x/sync/errgroup"

	"github.com/SebastianDall/epimetheus/bgzf"
	"github.com/SebastianDall/epimetheus/common"
	"github.com/SebastianDall/epimetheus/index"
	"github.com/SebastianDall/epimetheus/pileup"
)

// Query returns the decoded records of the requested contigs,
// concatenated in request order. Contigs absent from the index contribute
// zero records; whether that is a failure is the caller's call. With
// WithWorkers contigs are looked up concurrently, each over its own read
// handle, and stitched back into request order.
func Query(ctx context.Context, containerPath string, contigs []string, opts ...Option) ([]pileup.Record, error) {
	cfg := newConfig(opts)
	ix, err := loadIndex(containerPath)
	if err != nil {
		return nil, err
	}

	results := make([][]pileup.Record, len(contigs))
	if cfg.workers > 1 && len(contigs) > 1 {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(cfg.workers)
		for i, contig := range contigs {
			g.Go(func() error {
				recs, err := queryContig(gctx, containerPath, ix, contig)
				if err != nil {
					return err
				}
				results[i] = recs
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	} else {
		for i, contig := range contigs {
			recs, err := queryContig(ctx, containerPath, ix, contig)
			if err != nil {
				return nil, err
			}
			results[i] = recs
		}
	}

	total := 0
	for _, recs := range results {
		total += len(recs)
	}
	out := make([]pileup.Record, 0, total)
	for _, recs := range results {
		out = append(out, recs...)
	}
	return out, nil
}

// ListContigs returns the container's contig names in index order.
func ListContigs(ctx context.Context, containerPath string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ix, err := loadIndex(containerPath)
	if err != nil {
		return nil, err
	}
	return ix.Contigs(), nil
}

// Extract streams the raw record lines of the requested contigs to w, in
// request order. An empty contig list extracts every contig in index
// order, which decompresses the whole container back to its original
// text.
func Extract(ctx context.Context, containerPath string, contigs []string, w io.Writer) error {
	ix, err := loadIndex(containerPath)
	if err != nil {
		return err
	}
	if len(contigs) == 0 {
		contigs = ix.Contigs()
	}

	r, err := bgzf.Open(containerPath)
	if err != nil {
		return err
	}
	defer r.Close()

	bw := bufio.NewWriter(w)
	for _, contig := range contigs {
		entry, ok := ix.Lookup(contig)
		if !ok {
			continue
		}
		if err := r.Seek(entry.Start); err != nil {
			return err
		}
		it := r.ReadUntil(entry.End)
		n := 0
		for it.Next() {
			if n&0x3ff == 0 {
				if err := ctx.Err(); err != nil {
					return err
				}
			}
			line := it.Line()
			if err := checkContig(line, contig); err != nil {
				return err
			}
			if _, err := bw.Write(line); err != nil {
				return fmt.Errorf("%w: %v", common.ErrIO, err)
			}
			if err := bw.WriteByte('\n'); err != nil {
				return fmt.Errorf("%w: %v", common.ErrIO, err)
			}
			n++
		}
		if err := it.Err(); err != nil {
			return err
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("%w: %v", common.ErrIO, err)
	}
	return nil
}

// queryContig decodes one contig's indexed range. Each call opens its own
// reader so independent contigs stay independently readable.
func queryContig(ctx context.Context, containerPath string, ix *index.Index, contig string) ([]pileup.Record, error) {
	entry, ok := ix.Lookup(contig)
	if !ok {
		return nil, nil
	}

	r, err := bgzf.Open(containerPath)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	if err := r.Seek(entry.Start); err != nil {
		return nil, err
	}

	var recs []pileup.Record
	it := r.ReadUntil(entry.End)
	for it.Next() {
		if len(recs)&0x3ff == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		rec, err := pileup.Parse(it.Line())
		if err != nil {
			return nil, err
		}
		if rec.Contig != contig {
			return nil, fmt.Errorf("%w: record of contig %q inside the range indexed for %q",
				common.ErrIndexConsistency, rec.Contig, contig)
		}
		recs = append(recs, rec)
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	return recs, nil
}

func checkContig(line []byte, contig string) error {
	i := bytes.IndexByte(line, '\t')
	if i < 0 || !bytes.Equal(line[:i], []byte(contig)) {
		return fmt.Errorf("%w: record of another contig inside the range indexed for %q",
			common.ErrIndexConsistency, contig)
	}
	return nil
}
