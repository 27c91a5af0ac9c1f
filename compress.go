package epimetheus

import (
	"bufio"
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/SebastianDall/epimetheus/bgzf"
	"github.com/SebastianDall/epimetheus/common"
	"github.com/SebastianDall/epimetheus/index"
	"github.com/SebastianDall/epimetheus/pileup"
)

// Lines longer than this are a malformed input, not a pileup.
const maxLineSize = 8 * 1024 * 1024

// Compress reads the pileup at inputPath, writes the block-compressed
// container to outputPath (or "<inputPath>.gz" when outputPath is empty)
// and its contig index to the sibling ".tbi" path. The input must be
// grouped by contig. Unless WithKeep is given the input file is removed on
// success; unless WithForce is given an existing output fails with
// ErrAlreadyExists. On failure the partial container is removed and
// nothing else is touched.
func Compress(ctx context.Context, inputPath, outputPath string, opts ...Option) error {
	cfg := newConfig(opts)
	if outputPath == "" {
		outputPath = inputPath + ContainerSuffix
	}

	in, err := os.Open(inputPath)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", common.ErrNotFound, inputPath)
		}
		return fmt.Errorf("%w: %v", common.ErrIO, err)
	}
	defer in.Close()

	w, err := bgzf.Create(outputPath, cfg.force, cfg.level)
	if err != nil {
		return err
	}

	builder := index.NewBuilder()
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	records := 0
	for scanner.Scan() {
		if records&0x3ff == 0 {
			if err := ctx.Err(); err != nil {
				w.Abort()
				return err
			}
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		contig, err := pileup.ContigOf(line)
		if err != nil {
			w.Abort()
			return err
		}
		vo, err := w.WriteRecord(line)
		if err != nil {
			w.Abort()
			return err
		}
		if err := builder.Observe(contig, vo); err != nil {
			w.Abort()
			return err
		}
		records++
	}
	if err := scanner.Err(); err != nil {
		w.Abort()
		return fmt.Errorf("%w: %v", common.ErrIO, err)
	}

	end := w.Offset()
	if err := w.Close(); err != nil {
		// The container is in an unspecified state; remove it rather than
		// leave a file no index will ever pair with.
		if rerr := os.Remove(outputPath); rerr != nil {
			zap.L().Error("failed to remove unusable container", zap.String("path", outputPath), zap.Error(rerr))
		}
		return err
	}

	ix, err := builder.Finalize(end)
	if err != nil {
		return err
	}
	if err := index.Write(IndexPathFor(outputPath), outputPath, ix); err != nil {
		return err
	}

	zap.L().Info("compressed pileup",
		zap.String("input", inputPath),
		zap.String("output", outputPath),
		zap.Int("records", records),
		zap.Int("contigs", ix.NumContigs()),
	)

	if !cfg.keep {
		if err := os.Remove(inputPath); err != nil {
			return fmt.Errorf("%w: %v", common.ErrIO, err)
		}
	}
	return nil
}
